package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"courtbot/internal/monitor"
)

type monitorFlags struct {
	interval int
	autoBook bool
	once     bool
}

func NewMonitorCmd(root *rootOptions) *cobra.Command {
	opts := &monitorFlags{}
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Check the configured parks on a schedule and report new slots",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, root)
			if err != nil {
				return err
			}
			applyMonitorFlags(cmd, cfg, opts.interval, opts.autoBook)
			ctx := cmd.Context()

			a, err := newApp(cfg, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "========================================")
			fmt.Fprintln(out, "   courtbot monitor")
			fmt.Fprintln(out, "========================================")
			fmt.Fprintf(out, "👤 user: %s\n", cfg.Credentials.UserID)
			fmt.Fprintf(out, "⏱️  interval: %ds\n", cfg.Monitor.Interval)
			fmt.Fprintf(out, "🎾 parks: %d\n", len(cfg.Facilities))
			for _, f := range a.engine.Facilities() {
				fmt.Fprintf(out, "  %d. %s\n", f.Priority, f.Name)
			}
			fmt.Fprintln(out, "========================================")

			mon := monitor.New(a.engine, a.engine, a.notifier(), a.events, monitorOptions(cfg), a.log)
			if opts.once {
				c, err := mon.RunOnce(ctx)
				if err != nil {
					return err
				}
				printCheck(out, c)
				return nil
			}
			if err := mon.Start(ctx); err != nil {
				return err
			}
			<-ctx.Done()
			fmt.Fprintln(out, "\n⏹️  stopping...")
			mon.Stop()
			return nil
		},
	}
	cmd.Flags().IntVar(&opts.interval, "interval", 0, "check interval in seconds (config value when 0)")
	cmd.Flags().BoolVar(&opts.autoBook, "auto-book", false, "book the best new slot of every check")
	cmd.Flags().BoolVar(&opts.once, "once", false, "run a single check and exit")
	return cmd
}
