package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"courtbot/internal/browser"
	"courtbot/internal/config"
	"courtbot/internal/engine"
	"courtbot/internal/events"
	"courtbot/internal/logging"
	"courtbot/internal/monitor"
	"courtbot/internal/notifier"
	"courtbot/internal/scanner"
	"courtbot/internal/storage"
	"courtbot/internal/websocket"
)

// loadConfig reads the config file and applies the flags the user set.
func loadConfig(cmd *cobra.Command, opts *rootOptions) (*config.Config, error) {
	path := opts.configPath
	if path == "" {
		path = config.GetConfigPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if cmd.Flags().Changed("headless") {
		cfg.Browser.Headless = opts.headless
	}
	if opts.debug {
		cfg.Logging.Development = true
		cfg.Logging.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s:\n%w", path, err)
	}
	return cfg, nil
}

func engineOptions(cfg *config.Config) engine.Options {
	return engine.Options{
		BaseURL:     cfg.Portal.BaseURL,
		Credentials: cfg.Credentials,
		SessionTTL:  cfg.Portal.SessionTTL(),
		Scanner: scanner.Options{
			BaseURL:           cfg.Portal.BaseURL,
			UserAgent:         cfg.Browser.UserAgent,
			Timeout:           cfg.Browser.Timeout(),
			RequestsPerSecond: cfg.Scan.RequestsPerSecond,
			Shape:             scanner.Shape(cfg.Scan.Shape),
			Purpose:           cfg.Scan.Activity,
		},
		Concurrency: cfg.Scan.Concurrency,
		Facilities:  cfg.Facilities,
	}
}

func monitorOptions(cfg *config.Config) monitor.Options {
	return monitor.Options{
		Interval:       cfg.Monitor.IntervalDuration(),
		Days:           cfg.Scan.Days,
		Facilities:     cfg.Facilities,
		Calendar:       cfg.Monitor.Calendar,
		AutoBook:       cfg.Monitor.AutoBook,
		UserCount:      cfg.Booking.UserCount,
		EventLabel:     cfg.Booking.EventLabel,
		DismissPayment: cfg.Booking.DismissPayment,
	}
}

// app is everything a command needs to drive the portal.
type app struct {
	cfg     *config.Config
	log     *zap.Logger
	db      *storage.DB
	session *browser.Session
	engine  *engine.Engine
	recent  *events.Recent
	events  events.Emitter

	slots        *storage.SlotRepository
	reservations *storage.ReservationRepository
	activity     *storage.ActivityRepository
}

// newApp opens the database and the browser and builds the engine. A
// non-nil hub also receives every slot, result and event.
func newApp(cfg *config.Config, hub *websocket.Hub) (*app, error) {
	log, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, err
	}

	db, err := storage.Open(cfg.Storage.Path, log)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	a := &app{
		cfg:          cfg,
		log:          log,
		db:           db,
		recent:       events.NewRecent(100),
		slots:        storage.NewSlotRepository(db),
		reservations: storage.NewReservationRepository(db),
		activity:     storage.NewActivityRepository(db, log),
	}

	emitters := events.Multi{events.NewLogger(log), a.recent, a.activity}
	sinks := engine.Sinks{
		Slots:    []engine.SlotSink{a.slots},
		Bookings: []engine.BookingSink{a.reservations},
	}
	if hub != nil {
		b := websocket.NewBroadcaster(hub, log)
		emitters = append(emitters, b)
		sinks.Slots = append(sinks.Slots, b)
		sinks.Bookings = append(sinks.Bookings, b)
	}
	sinks.Events = emitters
	a.events = emitters

	a.session = browser.NewSession(browser.Options{
		Headless:  cfg.Browser.Headless,
		Timeout:   cfg.Browser.Timeout(),
		StateDir:  cfg.Browser.StateDir,
		UserAgent: cfg.Browser.UserAgent,
	}, log)
	if cfg.Browser.Headless {
		log.Info("🤖 starting headless browser")
	} else {
		log.Info("👀 starting browser with a window")
	}
	if err := a.session.Open(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}

	a.engine = engine.New(a.session, engineOptions(cfg), sinks, log)
	return a, nil
}

// notifier returns the email notifier, or nil when email is disabled.
func (a *app) notifier() monitor.Notifier {
	if !a.cfg.Email.Enabled {
		return nil
	}
	return notifier.NewEmailNotifier(a.cfg.Email)
}

func (a *app) Close() {
	if err := a.session.Close(); err != nil {
		a.log.Warn("failed to close browser", zap.Error(err))
	}
	if err := a.db.Close(); err != nil {
		a.log.Warn("failed to close database", zap.Error(err))
	}
	a.log.Sync()
}

// logElapsed logs how long a command took.
func (a *app) logElapsed(what string, started time.Time) {
	a.log.Info("⏱️ "+what+" finished", zap.Duration("elapsed", time.Since(started)))
}
