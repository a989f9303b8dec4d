package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"courtbot/internal/api"
	"courtbot/internal/booking"
	"courtbot/internal/config"
	"courtbot/internal/monitor"
	"courtbot/internal/websocket"
)

type serveOptions struct {
	addr      string
	interval  int
	autoBook  bool
	noMonitor bool
}

func NewServeCmd(root *rootOptions) *cobra.Command {
	opts := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the monitor with the HTTP API and WebSocket push",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, root)
			if err != nil {
				return err
			}
			applyMonitorFlags(cmd, cfg, opts.interval, opts.autoBook)
			if opts.addr != "" {
				cfg.API.Addr = opts.addr
			}
			return serve(cmd.Context(), cfg, !opts.noMonitor)
		},
	}
	cmd.Flags().StringVar(&opts.addr, "addr", "", "listen address (config api.addr when empty)")
	cmd.Flags().IntVar(&opts.interval, "interval", 0, "check interval in seconds (config value when 0)")
	cmd.Flags().BoolVar(&opts.autoBook, "auto-book", false, "book the best new slot of every check")
	cmd.Flags().BoolVar(&opts.noMonitor, "no-monitor", false, "serve the API without scheduled checks")
	return cmd
}

// applyMonitorFlags overrides the monitor settings the user passed.
func applyMonitorFlags(cmd *cobra.Command, cfg *config.Config, interval int, autoBook bool) {
	if interval > 0 {
		cfg.Monitor.Interval = interval
	}
	if cmd.Flags().Changed("auto-book") {
		cfg.Monitor.AutoBook = autoBook
	}
}

func serve(ctx context.Context, cfg *config.Config, withMonitor bool) error {
	hub := websocket.NewHub(nil)
	a, err := newApp(cfg, hub)
	if err != nil {
		return err
	}
	defer a.Close()
	go hub.Run(ctx)

	deps := api.Deps{
		Engine:       a.engine,
		DB:           a.db,
		Slots:        a.slots,
		Reservations: a.reservations,
		Activity:     a.activity,
		Recent:       a.recent,
		Canceller:    a.engine,
		Hub:          hub,
		Booking: booking.Request{
			UserCount:      cfg.Booking.UserCount,
			EventLabel:     cfg.Booking.EventLabel,
			DismissPayment: cfg.Booking.DismissPayment,
		},
		ScanDays: cfg.Scan.Days,
		Log:      a.log,
	}

	if withMonitor {
		mon := monitor.New(a.engine, a.engine, a.notifier(), a.events, monitorOptions(cfg), a.log)
		if err := mon.Start(ctx); err != nil {
			return err
		}
		defer mon.Stop()
		deps.Monitor = mon
	}

	srv := &http.Server{
		Addr:              cfg.API.Addr,
		Handler:           api.NewRouter(deps),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		a.log.Info("🌐 HTTP API listening", zap.String("addr", cfg.API.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
		a.log.Info("⏹️ shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
