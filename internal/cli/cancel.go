package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"courtbot/internal/cancel"
	"courtbot/internal/portal"
)

type cancelFlags struct {
	all bool
	yes bool
}

func NewCancelCmd(root *rootOptions) *cobra.Command {
	opts := &cancelFlags{}
	cmd := &cobra.Command{
		Use:     "cancel [reservation number]...",
		Short:   "Cancel reservations on the portal",
		Example: "  courtbot cancel 2601111234\n" +
			"  courtbot cancel --all --yes",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkCancelArgs(args, opts); err != nil {
				return err
			}
			cfg, err := loadConfig(cmd, root)
			if err != nil {
				return err
			}
			a, err := newApp(cfg, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			if opts.all {
				done, err := a.engine.CancelAll(cmd.Context())
				printCancellations(out, done)
				return err
			}
			var (
				done   []cancel.Cancellation
				failed int
			)
			for _, number := range args {
				c, err := a.engine.Cancel(cmd.Context(), number)
				if err != nil {
					fmt.Fprintf(out, "❌ %s: %v\n", number, err)
					failed++
					continue
				}
				done = append(done, c)
			}
			printCancellations(out, done)
			if failed > 0 {
				return fmt.Errorf("%d of %d cancellations failed", failed, len(args))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&opts.all, "all", false, "cancel every reservation on the list")
	cmd.Flags().BoolVar(&opts.yes, "yes", false, "confirm --all")
	return cmd
}

// checkCancelArgs accepts either reservation numbers or --all --yes.
func checkCancelArgs(args []string, opts *cancelFlags) error {
	if opts.all {
		if len(args) > 0 {
			return errors.New("--all takes no reservation numbers")
		}
		if !opts.yes {
			return errors.New("--all cancels every reservation; add --yes to confirm")
		}
		return nil
	}
	if len(args) == 0 {
		return errors.New("give at least one reservation number or --all")
	}
	for _, n := range args {
		if len(n) != 10 || !portal.ReservationNumberPattern.MatchString(n) {
			return fmt.Errorf("%q is not a ten-digit reservation number", n)
		}
	}
	return nil
}
