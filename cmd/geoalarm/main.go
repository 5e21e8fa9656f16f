// Geoalarm is a daemon that fires reminders when their time, location, and
// battery conditions are all satisfied. Sensors are read from Home Assistant
// and alarms are delivered back through an HA notify service.
//
// Usage:
//
//	geoalarm daemon [--config <path>]       # run the evaluation loop
//	geoalarm eval-once [--config ...]       # single evaluation pass then exit
//	geoalarm add --title ... [conditions]   # create a reminder
//	geoalarm list [--all]                   # show reminders
//	geoalarm trigger <reminder-id>          # fire a reminder manually
//	geoalarm snooze <session-id>            # snooze an active alarm
//	geoalarm dismiss <session-id>           # dismiss an active alarm
//	geoalarm import [--list <name>]         # import Apple Reminders due dates
//	geoalarm status                         # show config & store state
//	geoalarm version                        # print version
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/njoerd114/geoalarm/internal/alarm"
	"github.com/njoerd114/geoalarm/internal/config"
	"github.com/njoerd114/geoalarm/internal/engine"
	"github.com/njoerd114/geoalarm/internal/geofence"
	"github.com/njoerd114/geoalarm/internal/homeassistant"
	"github.com/njoerd114/geoalarm/internal/model"
	"github.com/njoerd114/geoalarm/internal/mqtt"
	"github.com/njoerd114/geoalarm/internal/reminders"
	"github.com/njoerd114/geoalarm/internal/store"
	"github.com/njoerd114/geoalarm/internal/telemetry"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

// run dispatches to the appropriate subcommand.
func run() error {
	if len(os.Args) < 2 {
		return printUsage()
	}

	switch cmd := os.Args[1]; cmd {
	case "daemon":
		return runEngine(os.Args[2:], true)
	case "eval-once":
		return runEngine(os.Args[2:], false)
	case "add":
		return runAdd(os.Args[2:])
	case "list":
		return runList(os.Args[2:])
	case "trigger":
		return runTrigger(os.Args[2:])
	case "snooze":
		return runSendAction(os.Args[2:], model.ActionSnooze)
	case "dismiss":
		return runSendAction(os.Args[2:], model.ActionDismiss)
	case "import":
		return runImport(os.Args[2:])
	case "status":
		return runStatus()
	case "version":
		fmt.Println("geoalarm", version)
		return nil
	default:
		return fmt.Errorf("unknown command %q — run 'geoalarm' for usage", cmd)
	}
}

// printUsage shows help and hints at the config location.
func printUsage() error {
	cfgPath, _ := config.DefaultPath()
	_, cfgErr := os.Stat(cfgPath)

	fmt.Fprintln(os.Stderr, "Geoalarm — time, location, and battery triggered reminders")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  geoalarm daemon [--config ...]      Run the evaluation loop")
	fmt.Fprintln(os.Stderr, "  geoalarm eval-once [--config ...]   Single evaluation pass then exit")
	fmt.Fprintln(os.Stderr, "  geoalarm add --title ...            Create a reminder from flags")
	fmt.Fprintln(os.Stderr, "  geoalarm list [--all]               Show reminders")
	fmt.Fprintln(os.Stderr, "  geoalarm trigger <reminder-id>      Fire a reminder manually")
	fmt.Fprintln(os.Stderr, "  geoalarm snooze <session-id>        Snooze an active alarm")
	fmt.Fprintln(os.Stderr, "  geoalarm dismiss <session-id>       Dismiss an active alarm")
	fmt.Fprintln(os.Stderr, "  geoalarm import [--list <name>]     Import Apple Reminders due dates")
	fmt.Fprintln(os.Stderr, "  geoalarm status                     Show config & store state")
	fmt.Fprintln(os.Stderr, "  geoalarm version                    Print version")
	fmt.Fprintln(os.Stderr, "")

	if cfgErr != nil {
		fmt.Fprintf(os.Stderr, "No config file found at %s.\n", cfgPath)
	}

	return fmt.Errorf("no command given")
}

// --- Shared setup ------------------------------------------------------------

// commonFlags registers the flags every config-reading subcommand shares.
func commonFlags(fs *flag.FlagSet) (cfgPath *string, verbose *bool) {
	defaultCfg, _ := config.DefaultPath()
	cfgPath = fs.String("config", defaultCfg, "path to config.yaml")
	verbose = fs.Bool("verbose", false, "enable debug logging")
	return cfgPath, verbose
}

// setupLogger installs the default slog logger at the requested level.
func setupLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger
}

// openStore resolves the DB path from config and opens the store.
func openStore(cfg *config.Config) (*store.Store, string, error) {
	dbPath := cfg.DBPath
	if dbPath == "" {
		var err error
		dbPath, err = store.DefaultDBPath()
		if err != nil {
			return nil, "", fmt.Errorf("resolving DB path: %w", err)
		}
	}
	st, err := store.Open(dbPath)
	if err != nil {
		return nil, "", fmt.Errorf("opening DB at %q: %w", dbPath, err)
	}
	return st, dbPath, nil
}

// --- daemon / eval-once ------------------------------------------------------

// runEngine handles both "daemon" and "eval-once" subcommands.
func runEngine(args []string, daemon bool) error {
	fs := flag.NewFlagSet("daemon", flag.ExitOnError)
	cfgPath, verbose := commonFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	logger := setupLogger(*verbose)

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return fmt.Errorf("loading config from %q: %w", *cfgPath, err)
	}
	logger.Info("config loaded",
		"ha_url", cfg.HAURL,
		"tracker", cfg.Entities.Tracker,
		"poll_interval", cfg.PollInterval,
	)

	// --- Telemetry (optional) ------------------------------------------------

	if cfg.Telemetry != nil {
		telCfg := telemetry.Config{
			OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
			Insecure:     cfg.Telemetry.Insecure,
			ServiceName:  cfg.Telemetry.ServiceName,
			Headers:      cfg.Telemetry.Headers,
		}
		shutdownTel, err := telemetry.Setup(context.Background(), telCfg)
		if err != nil {
			logger.Error("telemetry setup failed, continuing without telemetry", "error", err)
		} else {
			logger.Info("telemetry enabled", "endpoint", cfg.Telemetry.OTLPEndpoint)
			defer func() {
				flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdownTel(flushCtx); err != nil {
					logger.Error("telemetry shutdown error", "error", err)
				}
			}()
		}
	}

	// --- Store ---------------------------------------------------------------

	st, dbPath, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			logger.Error("closing DB", "error", closeErr)
		}
	}()
	logger.Info("DB opened", "path", dbPath)

	// --- Home Assistant adapter & connectivity check -------------------------

	ha, err := newHAAdapter(cfg, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	logger.Info("pinging Home Assistant…", "url", cfg.HAURL)
	if err := ha.Ping(ctx); err != nil {
		return fmt.Errorf("connecting to Home Assistant at %q: %w\n\nCheck ha_url and ha_token in your config file", cfg.HAURL, err)
	}
	logger.Info("Home Assistant reachable")

	// --- MQTT publisher (optional) -------------------------------------------

	var publisher engine.EventPublisher
	if cfg.MQTT != nil {
		pub, err := mqtt.NewRealPublisher(cfg.MQTT.Broker)
		if err != nil {
			logger.Error("MQTT connect failed, continuing without publishing", "broker", cfg.MQTT.Broker, "error", err)
		} else {
			logger.Info("MQTT publisher connected", "broker", cfg.MQTT.Broker)
			defer func() { _ = pub.Close() }()
			publisher = pub
		}
	}

	// --- Engine --------------------------------------------------------------

	machine := alarm.NewMachine(st, logger)
	tracker := geofence.NewTracker()

	opts := engine.Options{
		PollInterval:  cfg.PollInterval,
		SnoozeMinutes: cfg.SnoozeMinutes,
		Publisher:     publisher,
	}
	if daemon {
		opts.Connector = ha
	}
	coord := engine.New(st, ha, ha, ha, machine, tracker, opts, logger)

	// Bookkeeping writes queued by a storage hiccup are normally replayed on
	// the next store access; surface any still stuck at shutdown.
	defer func() {
		if n := st.PendingWrites(); n > 0 {
			logger.Warn("bookkeeping writes still queued at shutdown", "count", n)
		}
	}()

	if !daemon {
		logger.Info("running single evaluation pass")
		if err := coord.EvaluateNow(ctx); err != nil {
			return fmt.Errorf("evaluation pass: %w", err)
		}
		machine.Stop()
		logger.Info("evaluation complete")
		return nil
	}

	logger.Info("daemon starting", "poll_interval", cfg.PollInterval)
	if err := coord.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("engine: %w", err)
	}
	logger.Info("shutdown complete")
	return nil
}

// newHAAdapter builds the Home Assistant adapter from config.
func newHAAdapter(cfg *config.Config, logger *slog.Logger) (*homeassistant.Adapter, error) {
	entities := homeassistant.Entities{
		Tracker:      cfg.Entities.Tracker,
		BatteryLevel: cfg.Entities.BatteryLevel,
		BatteryState: cfg.Entities.BatteryState,
		LowPower:     cfg.Entities.LowPower,
		Action:       cfg.Entities.Action,
	}
	ha, err := homeassistant.NewAdapter(cfg.HAURL, cfg.HAToken, entities, cfg.NotifyService, logger)
	if err != nil {
		return nil, fmt.Errorf("initialising Home Assistant client: %w", err)
	}
	return ha, nil
}

// --- add ---------------------------------------------------------------------

// runAdd creates a reminder from flags. At least one condition flag is
// required; the store rejects empty rules.
func runAdd(args []string) error {
	fs := flag.NewFlagSet("add", flag.ExitOnError)
	cfgPath, verbose := commonFlags(fs)
	title := fs.String("title", "", "reminder title (required)")
	notes := fs.String("notes", "", "free-form notes")
	at := fs.String("at", "", "fire once at this RFC 3339 instant, e.g. 2026-09-01T08:00:00+02:00")
	daily := fs.String("daily", "", "fire every day at HH:MM")
	weekly := fs.String("weekly", "", "fire weekly, e.g. \"mon 08:30\"")
	every := fs.Duration("every", 0, "fire on a fixed interval, e.g. 4h")
	window := fs.String("window", "", "satisfied inside HH:MM-HH:MM (may span midnight)")
	lat := fs.Float64("lat", 0, "geofence center latitude")
	lon := fs.Float64("lon", 0, "geofence center longitude")
	radius := fs.Float64("radius", 100, "geofence radius in meters (50 to 1000)")
	transition := fs.String("transition", "enter", "geofence transition: enter, exit, or both")
	battery := fs.String("battery", "", "battery condition, e.g. below:20, above:80, equals:50, between:20:50")
	charging := fs.String("charging", "", "require charging state: charging, discharging, or full")
	disabled := fs.Bool("disabled", false, "create the reminder disabled")
	if err := fs.Parse(args); err != nil {
		return err
	}

	logger := setupLogger(*verbose)
	if *title == "" {
		return fmt.Errorf("--title is required")
	}

	rule, err := buildRule(fs, *at, *daily, *weekly, *every, *window, *lat, *lon, *radius, *transition, *battery, *charging)
	if err != nil {
		return err
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return fmt.Errorf("loading config from %q: %w", *cfgPath, err)
	}
	st, _, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	rem := &model.Reminder{
		Title:   *title,
		Notes:   *notes,
		Rule:    rule,
		Enabled: !*disabled,
	}
	if err := st.Create(context.Background(), rem); err != nil {
		return fmt.Errorf("creating reminder: %w", err)
	}
	logger.Info("reminder created", "id", rem.ID, "title", rem.Title)
	fmt.Println(rem.ID)
	return nil
}

// buildRule assembles the condition set from add flags.
func buildRule(fs *flag.FlagSet, at, daily, weekly string, every time.Duration, window string,
	lat, lon, radius float64, transition, battery, charging string) (model.Rule, error) {

	var rule model.Rule

	timeFlags := 0
	for _, set := range []bool{at != "", daily != "", weekly != "", every != 0, window != ""} {
		if set {
			timeFlags++
		}
	}
	if timeFlags > 1 {
		return rule, fmt.Errorf("--at, --daily, --weekly, --every, and --window are mutually exclusive")
	}

	switch {
	case at != "":
		t, err := time.Parse(time.RFC3339, at)
		if err != nil {
			return rule, fmt.Errorf("parsing --at: %w", err)
		}
		rule.Time = &model.TimeCondition{Kind: model.TimeInstant, At: &t}
	case daily != "":
		m, err := parseMinute(daily)
		if err != nil {
			return rule, fmt.Errorf("parsing --daily: %w", err)
		}
		rule.Time = &model.TimeCondition{
			Kind:       model.TimeRecurrence,
			Recurrence: &model.Recurrence{Unit: model.RecurDaily, TimeOfDay: m},
		}
	case weekly != "":
		day, m, err := parseWeekly(weekly)
		if err != nil {
			return rule, fmt.Errorf("parsing --weekly: %w", err)
		}
		rule.Time = &model.TimeCondition{
			Kind:       model.TimeRecurrence,
			Recurrence: &model.Recurrence{Unit: model.RecurWeekly, Weekday: day, TimeOfDay: m},
		}
	case every != 0:
		rule.Time = &model.TimeCondition{
			Kind:       model.TimeRecurrence,
			Recurrence: &model.Recurrence{Unit: model.RecurInterval, Every: every},
		}
	case window != "":
		start, end, err := parseWindow(window)
		if err != nil {
			return rule, fmt.Errorf("parsing --window: %w", err)
		}
		rule.Time = &model.TimeCondition{Kind: model.TimeWindow, Windows: model.SplitWindow(start, end)}
	}

	// The lat/lon pair opts in to a location condition; flag.Visit
	// distinguishes an explicit 0 coordinate from an unset flag.
	locationSet := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "lat" || f.Name == "lon" {
			locationSet = true
		}
	})
	if locationSet {
		rule.Location = &model.LocationCondition{
			Latitude:     lat,
			Longitude:    lon,
			RadiusMeters: radius,
			Transition:   model.TransitionType(transition),
		}
	}

	if battery != "" {
		cond, err := parseBattery(battery)
		if err != nil {
			return rule, fmt.Errorf("parsing --battery: %w", err)
		}
		rule.Battery = cond
	}
	if charging != "" {
		if rule.Battery == nil {
			return rule, fmt.Errorf("--charging requires --battery")
		}
		var state model.ChargingState
		switch charging {
		case "charging":
			state = model.Charging
		case "discharging":
			state = model.Discharging
		case "full":
			state = model.Full
		default:
			return rule, fmt.Errorf("unknown charging state %q", charging)
		}
		rule.Battery.Charging = &state
	}

	return rule, nil
}

// parseMinute parses "HH:MM" into a minute of day.
func parseMinute(s string) (model.MinuteOfDay, error) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return 0, fmt.Errorf("%q is not HH:MM", s)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("%q is not a valid clock time", s)
	}
	return model.MinuteOfDay(h*60 + m), nil
}

// parseWeekly parses "<weekday> HH:MM", e.g. "mon 08:30".
func parseWeekly(s string) (time.Weekday, model.MinuteOfDay, error) {
	dayStr, timeStr, found := strings.Cut(s, " ")
	if !found {
		return 0, 0, fmt.Errorf("%q is not \"<weekday> HH:MM\"", s)
	}
	days := map[string]time.Weekday{
		"sun": time.Sunday, "mon": time.Monday, "tue": time.Tuesday, "wed": time.Wednesday,
		"thu": time.Thursday, "fri": time.Friday, "sat": time.Saturday,
	}
	day, ok := days[strings.ToLower(dayStr)[:min(3, len(dayStr))]]
	if !ok {
		return 0, 0, fmt.Errorf("unknown weekday %q", dayStr)
	}
	m, err := parseMinute(timeStr)
	return day, m, err
}

// parseWindow parses "HH:MM-HH:MM".
func parseWindow(s string) (start, end model.MinuteOfDay, err error) {
	startStr, endStr, found := strings.Cut(s, "-")
	if !found {
		return 0, 0, fmt.Errorf("%q is not HH:MM-HH:MM", s)
	}
	if start, err = parseMinute(startStr); err != nil {
		return 0, 0, err
	}
	end, err = parseMinute(endStr)
	return start, end, err
}

// parseBattery parses "below:20", "above:80", "equals:50", "between:20:50".
func parseBattery(s string) (*model.BatteryCondition, error) {
	parts := strings.Split(s, ":")
	toInt := func(p string) (int, error) {
		n, err := strconv.Atoi(p)
		if err != nil {
			return 0, fmt.Errorf("%q is not a battery percent", p)
		}
		return n, nil
	}

	switch {
	case len(parts) == 2 && (parts[0] == "below" || parts[0] == "above" || parts[0] == "equals"):
		n, err := toInt(parts[1])
		if err != nil {
			return nil, err
		}
		return &model.BatteryCondition{Comparison: model.BatteryComparison(parts[0]), Threshold: n}, nil
	case len(parts) == 3 && parts[0] == "between":
		low, err := toInt(parts[1])
		if err != nil {
			return nil, err
		}
		high, err := toInt(parts[2])
		if err != nil {
			return nil, err
		}
		return &model.BatteryCondition{Comparison: model.BatteryBetween, Threshold: low, ThresholdHigh: high}, nil
	default:
		return nil, fmt.Errorf("%q is not a battery condition (below:N, above:N, equals:N, between:N:M)", s)
	}
}

// --- list --------------------------------------------------------------------

// runList prints the stored reminders.
func runList(args []string) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	cfgPath, verbose := commonFlags(fs)
	all := fs.Bool("all", false, "include disabled reminders")
	if err := fs.Parse(args); err != nil {
		return err
	}
	setupLogger(*verbose)

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return fmt.Errorf("loading config from %q: %w", *cfgPath, err)
	}
	st, _, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := context.Background()
	var rems []*model.Reminder
	if *all {
		rems, err = st.List(ctx)
	} else {
		rems, err = st.ListEnabled(ctx)
	}
	if err != nil {
		return fmt.Errorf("listing reminders: %w", err)
	}

	if len(rems) == 0 {
		fmt.Println("no reminders")
		return nil
	}
	for _, rem := range rems {
		status := " "
		if !rem.Enabled {
			status = "off"
		}
		last := "never"
		if rem.LastTriggeredAt != nil {
			last = rem.LastTriggeredAt.Local().Format("2006-01-02 15:04")
		}
		fmt.Printf("%s  %-3s %-30s %-40s last: %s\n", rem.ID, status, rem.Title, describeRule(rem.Rule), last)
	}
	return nil
}

// describeRule renders a compact one-line rule summary.
func describeRule(r model.Rule) string {
	var parts []string
	if tc := r.Time; tc != nil {
		switch tc.Kind {
		case model.TimeInstant:
			parts = append(parts, "at "+tc.At.Local().Format("2006-01-02 15:04"))
		case model.TimeRecurrence:
			switch tc.Recurrence.Unit {
			case model.RecurDaily:
				parts = append(parts, "daily "+tc.Recurrence.TimeOfDay.String())
			case model.RecurWeekly:
				parts = append(parts, fmt.Sprintf("%s %s", tc.Recurrence.Weekday, tc.Recurrence.TimeOfDay))
			case model.RecurInterval:
				parts = append(parts, "every "+tc.Recurrence.Every.String())
			}
		case model.TimeWindow:
			for _, w := range tc.Windows {
				parts = append(parts, fmt.Sprintf("window %s-%s", w.Start, model.MinuteOfDay(w.End%1440)))
			}
		}
	}
	if lc := r.Location; lc != nil {
		parts = append(parts, fmt.Sprintf("%s %.0fm @ %.4f,%.4f", lc.Transition, lc.RadiusMeters, lc.Latitude, lc.Longitude))
	}
	if bc := r.Battery; bc != nil {
		switch bc.Comparison {
		case model.BatteryBetween:
			parts = append(parts, fmt.Sprintf("battery %d-%d%%", bc.Threshold, bc.ThresholdHigh))
		default:
			parts = append(parts, fmt.Sprintf("battery %s %d%%", bc.Comparison, bc.Threshold))
		}
	}
	return strings.Join(parts, " + ")
}

// --- trigger -----------------------------------------------------------------

// runTrigger fires a reminder manually and delivers its notification.
func runTrigger(args []string) error {
	fs := flag.NewFlagSet("trigger", flag.ExitOnError)
	cfgPath, verbose := commonFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: geoalarm trigger <reminder-id>")
	}
	reminderID := fs.Arg(0)

	logger := setupLogger(*verbose)

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return fmt.Errorf("loading config from %q: %w", *cfgPath, err)
	}
	st, _, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	ha, err := newHAAdapter(cfg, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	machine := alarm.NewMachine(st, logger)
	defer machine.Stop()
	coord := engine.New(st, ha, ha, ha, machine, geofence.NewTracker(),
		engine.Options{SnoozeMinutes: cfg.SnoozeMinutes}, logger)

	session, err := coord.TriggerReminder(ctx, reminderID)
	if err != nil {
		return fmt.Errorf("triggering reminder %q: %w", reminderID, err)
	}
	logger.Info("reminder triggered", "reminder_id", reminderID, "session_id", session.ID)
	fmt.Println(session.ID)
	return nil
}

// --- snooze / dismiss --------------------------------------------------------

// runSendAction relays a snooze or dismiss to a running daemon by writing the
// configured HA action entity, the same channel notification taps use.
func runSendAction(args []string, action model.Action) error {
	fs := flag.NewFlagSet(string(action), flag.ExitOnError)
	cfgPath, verbose := commonFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: geoalarm %s <session-id>", action)
	}
	sessionID := fs.Arg(0)

	logger := setupLogger(*verbose)

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return fmt.Errorf("loading config from %q: %w", *cfgPath, err)
	}
	if cfg.Entities.Action == "" {
		return fmt.Errorf("entities.action must be configured to %s from the command line", action)
	}

	ha, err := newHAAdapter(cfg, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := ha.SendAction(ctx, action, sessionID); err != nil {
		return err
	}
	logger.Info("action sent", "action", action, "session_id", sessionID)
	return nil
}

// --- import ------------------------------------------------------------------

// runImport pulls Apple Reminders due dates into the store as one-shot
// alarms.
func runImport(args []string) error {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	cfgPath, verbose := commonFlags(fs)
	list := fs.String("list", "", "import a single list instead of the configured import_lists")
	if err := fs.Parse(args); err != nil {
		return err
	}

	logger := setupLogger(*verbose)

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return fmt.Errorf("loading config from %q: %w", *cfgPath, err)
	}

	lists := cfg.ImportLists
	if *list != "" {
		lists = []string{*list}
	}
	if len(lists) == 0 {
		return fmt.Errorf("no lists to import: set import_lists in the config or pass --list")
	}

	st, _, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	logger.Info("initialising Apple Reminders client (may trigger permissions prompt)…")
	importer, err := reminders.NewImporter(st, logger)
	if err != nil {
		return fmt.Errorf("initialising Reminders client: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	stats, err := importer.Import(ctx, lists)
	logger.Info("import complete",
		"fetched", stats.Fetched,
		"imported", stats.Imported,
		"skipped", stats.Skipped,
	)
	return err
}

// --- status ------------------------------------------------------------------

// runStatus prints the current configuration and store state.
func runStatus() error {
	cfgPath, _ := config.DefaultPath()

	fmt.Println("Geoalarm Status")
	fmt.Println("───────────────")

	cfg, loadErr := config.Load(cfgPath)
	if loadErr != nil {
		if _, err := os.Stat(cfgPath); err != nil {
			fmt.Printf("  Config:    not found (%s)\n", cfgPath)
		} else {
			fmt.Printf("  Config:    %s (invalid: %v)\n", cfgPath, loadErr)
		}
		return nil
	}
	fmt.Printf("  Config:    %s ✓\n", cfgPath)
	fmt.Printf("  HA URL:    %s\n", cfg.HAURL)
	fmt.Printf("  Tracker:   %s\n", cfg.Entities.Tracker)
	fmt.Printf("  Notify:    notify.%s\n", cfg.NotifyService)
	fmt.Printf("  Poll:      %s\n", cfg.PollInterval)

	st, dbPath, err := openStore(cfg)
	if err != nil {
		fmt.Printf("  DB:        %v\n", err)
		return nil
	}
	defer st.Close()

	ctx := context.Background()
	if info, err := os.Stat(dbPath); err == nil {
		fmt.Printf("  DB:        %s (%s)\n", dbPath, humanSize(info.Size()))
	}
	if rems, err := st.List(ctx); err == nil {
		enabled := 0
		for _, rem := range rems {
			if rem.Enabled {
				enabled++
			}
		}
		fmt.Printf("  Reminders: %d (%d enabled)\n", len(rems), enabled)
	}

	events, err := st.RecentAlarmEvents(ctx, 5)
	if err == nil && len(events) > 0 {
		fmt.Println("  Recent alarms:")
		for _, ev := range events {
			fmt.Printf("    %s  %-10s %s (%s)\n",
				ev.At.Local().Format("2006-01-02 15:04"), ev.Event, ev.ReminderID, ev.Reason)
		}
	}
	return nil
}

// humanSize returns a human-readable file size string.
func humanSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
