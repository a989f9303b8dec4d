package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"courtbot/internal/calendar"
	"courtbot/internal/config"
	"courtbot/internal/models"
	"courtbot/internal/search"
)

type scanFlags struct {
	from       string
	days       int
	facilities []string
	ui         bool
	calendar   bool
	all        bool
}

func NewScanCmd(root *rootOptions) *cobra.Command {
	opts := &scanFlags{}
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Read the availability of the configured parks once",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, root)
			if err != nil {
				return err
			}
			facilities, err := pickFacilities(cfg, opts.facilities)
			if err != nil {
				return err
			}
			days := opts.days
			if days <= 0 {
				days = cfg.Scan.Days
			}
			rng, err := scanRange(opts.from, days, calendar.Today())
			if err != nil {
				return err
			}

			a, err := newApp(cfg, nil)
			if err != nil {
				return err
			}
			defer a.Close()
			defer a.logElapsed("scan", time.Now())

			var reports []models.ScanReport
			if opts.ui || opts.calendar {
				reports = a.engine.ScanUI(cmd.Context(), facilities, opts.calendar)
			} else {
				reports = a.engine.Scan(cmd.Context(), facilities, rng)
			}
			printReports(cmd.OutOrStdout(), reports, opts.all)
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.from, "from", "", "first day, 2006-01-02 or 20060102 (today when empty)")
	cmd.Flags().IntVar(&opts.days, "days", 0, "number of days (config scan.days when 0)")
	cmd.Flags().StringSliceVarP(&opts.facilities, "facility", "f", nil, "facility id to scan (repeatable; all when empty)")
	cmd.Flags().BoolVar(&opts.ui, "ui", false, "scan through the search form instead of the background endpoint")
	cmd.Flags().BoolVar(&opts.calendar, "calendar", false, "also walk every court's weekly calendar (implies --ui)")
	cmd.Flags().BoolVar(&opts.all, "all", false, "list taken slots too")
	return cmd
}

type searchFlags struct {
	facility string
	court    string
	calendar bool
	all      bool
}

func NewSearchCmd(root *rootOptions) *cobra.Command {
	opts := &searchFlags{}
	cmd := &cobra.Command{
		Use:   "search",
		Short: "Run the portal's search form for one park",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, root)
			if err != nil {
				return err
			}
			facilities, err := pickFacilities(cfg, []string{opts.facility})
			if err != nil {
				return err
			}

			a, err := newApp(cfg, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.engine.SearchUI(cmd.Context(), facilities[0], search.Options{
				CourtID:         opts.court,
				Activity:        cfg.Scan.Activity,
				ExtractCalendar: opts.calendar,
			})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if !res.HasResults {
				fmt.Fprintln(out, "no results")
				return nil
			}
			fmt.Fprintf(out, "📍 %s: %d courts, %d rows\n", res.Facility.Name, len(res.Courts), len(res.Slots))
			printSlots(out, res.AllSlots(), opts.all)
			return nil
		},
	}
	cmd.Flags().StringVarP(&opts.facility, "facility", "f", "", "facility id")
	cmd.Flags().StringVar(&opts.court, "court", "", "court id (all courts when empty)")
	cmd.Flags().BoolVar(&opts.calendar, "calendar", false, "also read the weekly calendar")
	cmd.Flags().BoolVar(&opts.all, "all", false, "list taken slots too")
	cmd.MarkFlagRequired("facility")
	return cmd
}

// pickFacilities resolves ids against the configuration. No ids selects
// every configured facility.
func pickFacilities(cfg *config.Config, ids []string) ([]models.Facility, error) {
	if len(ids) == 0 {
		return models.ByPriority(cfg.Facilities), nil
	}
	var (
		out     []models.Facility
		missing []string
	)
	for _, id := range ids {
		found := false
		for _, f := range cfg.Facilities {
			if f.ID == id {
				out = append(out, f)
				found = true
				break
			}
		}
		if !found {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("unknown facility %s", strings.Join(missing, ", "))
	}
	return out, nil
}

// scanRange returns the days-long range starting at from, or at today when
// from is empty.
func scanRange(from string, days int, today models.Date) (models.DateRange, error) {
	start := today
	if from != "" {
		d, err := parseDate(from)
		if err != nil {
			return models.DateRange{}, err
		}
		start = d
	}
	if days <= 0 {
		return models.DateRange{}, fmt.Errorf("days must be positive, got %d", days)
	}
	return models.DateRange{From: start, To: start.AddDays(days - 1)}, nil
}

// parseDate accepts 2006-01-02 and 20060102.
func parseDate(s string) (models.Date, error) {
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return models.DateOf(t), nil
	}
	return models.ParseYMD(s)
}
