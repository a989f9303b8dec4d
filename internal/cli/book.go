package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"courtbot/internal/booking"
	"courtbot/internal/config"
	"courtbot/internal/models"
)

type bookFlags struct {
	facility       string
	court          string
	date           string
	start          string
	end            string
	users          int
	label          string
	dismissPayment bool
}

func NewBookCmd(root *rootOptions) *cobra.Command {
	opts := &bookFlags{}
	cmd := &cobra.Command{
		Use:     "book",
		Short:   "Reserve one slot",
		Example: "  courtbot book -f 1020 --court 10200010 --date 2026-01-13 --start 11:00 --end 13:00",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, root)
			if err != nil {
				return err
			}
			req, err := bookingRequest(cfg, opts)
			if err != nil {
				return err
			}

			a, err := newApp(cfg, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			r := a.engine.Book(cmd.Context(), req)
			printBooking(cmd.OutOrStdout(), r)
			if !r.Succeeded() {
				return errors.New("booking failed")
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&opts.facility, "facility", "f", "", "facility id")
	cmd.Flags().StringVar(&opts.court, "court", "", "court id")
	cmd.Flags().StringVar(&opts.date, "date", "", "day, 2006-01-02 or 20060102")
	cmd.Flags().StringVar(&opts.start, "start", "", "start time, 11:00 or 1100")
	cmd.Flags().StringVar(&opts.end, "end", "", "end time")
	cmd.Flags().IntVar(&opts.users, "users", 0, "number of users (config booking.user_count when 0)")
	cmd.Flags().StringVar(&opts.label, "label", "", "event name entered on the confirmation page")
	cmd.Flags().BoolVar(&opts.dismissPayment, "dismiss-payment", false, "walk past the unpaid reservations page")
	for _, name := range []string{"facility", "court", "date", "start"} {
		cmd.MarkFlagRequired(name)
	}
	return cmd
}

// bookingRequest validates the flags and fills the gaps from the config.
func bookingRequest(cfg *config.Config, opts *bookFlags) (booking.Request, error) {
	facilities, err := pickFacilities(cfg, []string{opts.facility})
	if err != nil {
		return booking.Request{}, err
	}
	f := facilities[0]

	date, err := parseDate(opts.date)
	if err != nil {
		return booking.Request{}, err
	}
	start, err := parseClock(opts.start)
	if err != nil {
		return booking.Request{}, err
	}
	var end models.Clock
	if opts.end != "" {
		if end, err = parseClock(opts.end); err != nil {
			return booking.Request{}, err
		}
		if end <= start {
			return booking.Request{}, fmt.Errorf("end %s is not after start %s", end, start)
		}
	}

	ref := models.FacilityRef{FacilityID: f.ID, FacilityName: f.Name, CourtID: opts.court}
	if c, ok := f.Court(opts.court); ok {
		ref = f.Ref(c)
	}
	req := booking.Request{
		Slot:           models.Slot{FacilityRef: ref, Date: date, Start: start, End: end, Status: models.StatusAvailable},
		UserCount:      cfg.Booking.UserCount,
		EventLabel:     cfg.Booking.EventLabel,
		DismissPayment: cfg.Booking.DismissPayment || opts.dismissPayment,
	}
	if opts.users > 0 {
		req.UserCount = opts.users
	}
	if opts.label != "" {
		req.EventLabel = opts.label
	}
	return req, nil
}

// parseClock accepts 11:00 and 1100.
func parseClock(s string) (models.Clock, error) {
	return models.ParseClock(strings.ReplaceAll(s, ":", ""))
}
