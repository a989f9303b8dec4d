// Package cli implements the courtbot command line.
package cli

import (
	"github.com/spf13/cobra"
)

// Version is set at build time with -ldflags.
var Version = "dev"

type rootOptions struct {
	configPath string
	headless   bool
	debug      bool
}

func NewRoot() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "courtbot",
		Short:         "Shinagawa tennis court availability monitor and booker",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (searched when empty)")
	cmd.PersistentFlags().BoolVar(&opts.headless, "headless", true, "run the browser without a window")
	cmd.PersistentFlags().BoolVar(&opts.debug, "debug", false, "development logging at debug level")

	cmd.AddCommand(NewServeCmd(opts))
	cmd.AddCommand(NewMonitorCmd(opts))
	cmd.AddCommand(NewScanCmd(opts))
	cmd.AddCommand(NewSearchCmd(opts))
	cmd.AddCommand(NewBookCmd(opts))
	cmd.AddCommand(NewCancelCmd(opts))
	cmd.AddCommand(NewLoginCmd(opts))
	cmd.AddCommand(NewNotifyCmd(opts))
	cmd.AddCommand(NewVersionCmd())
	return cmd
}

func NewVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Println("courtbot " + Version)
		},
	}
}
