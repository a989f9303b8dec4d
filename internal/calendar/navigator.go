// Package calendar drives the portal's weekly availability grid.
//
// The grid shows one week at a time. Navigator tracks the signed week offset
// from the boundary week (the first week the portal allows, containing
// today) and moves it one week at a time with the grid's own controls.
package calendar

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"courtbot/internal/browser"
	"courtbot/internal/errs"
	"courtbot/internal/forms"
	"courtbot/internal/models"
	"courtbot/internal/portal"
)

const (
	DefaultMaxSteps = 6
	Tokyo           = "Asia/Tokyo"
)

// Navigator is the week-window state machine. It is bound to one page and
// must only be used by the holder of that page's lease.
type Navigator struct {
	page browser.Page
	log  *zap.Logger

	Offset   int
	MaxSteps int
	Timeout  time.Duration
	// Today returns the portal's current date.
	Today func() models.Date
}

func NewNavigator(p browser.Page, log *zap.Logger) *Navigator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Navigator{
		page:     p,
		log:      log.Named("calendar"),
		MaxSteps: DefaultMaxSteps,
		Timeout:  15 * time.Second,
		Today:    Today,
	}
}

// Today returns the current date in the portal's time zone.
func Today() models.Date {
	loc, err := time.LoadLocation(Tokyo)
	if err != nil {
		loc = time.FixedZone("JST", 9*60*60)
	}
	return models.DateOf(time.Now().In(loc))
}

// controlEnabled reports whether the week control exists and can be pressed.
func (n *Navigator) controlEnabled(selector string) (bool, error) {
	c, err := n.page.Count(selector)
	if err != nil || c == 0 {
		return false, err
	}
	if disabled, err := n.page.IsDisabled(selector); err != nil || disabled {
		return false, err
	}
	if class, ok, _ := n.page.Attribute(selector, "class"); ok {
		for _, f := range strings.Fields(class) {
			if f == "disabled" {
				return false, nil
			}
		}
	}
	return true, nil
}

// IsAtWeekOne reports whether the grid shows the boundary week: either the
// previous-week control is unavailable or today's date has a cell.
func (n *Navigator) IsAtWeekOne() (bool, error) {
	enabled, err := n.controlEnabled(portal.PreviousWeek)
	if err != nil {
		return false, fmt.Errorf("read previous-week control: %w", err)
	}
	if !enabled {
		return true, nil
	}
	return n.ShowsDate(n.Today())
}

// ShowsDate reports whether the grid currently has cells for d.
func (n *Navigator) ShowsDate(d models.Date) (bool, error) {
	c, err := n.page.Count(CellsOf(d))
	if err != nil {
		return false, fmt.Errorf("count cells for %s: %w", d, err)
	}
	return c > 0, nil
}

// CellsOf returns the selector of every grid cell on date d.
func CellsOf(d models.Date) string {
	return fmt.Sprintf(`%s td[id^="%d_"]`, portal.WeekTable, d.YMD())
}

// Next moves one week forward. moved is false when the portal offers no
// later week.
func (n *Navigator) Next(ctx context.Context) (bool, error) {
	return n.move(ctx, portal.NextWeek, +1, "next-week")
}

// Previous moves one week back. moved is false at the boundary week.
func (n *Navigator) Previous(ctx context.Context) (bool, error) {
	return n.move(ctx, portal.PreviousWeek, -1, "previous-week")
}

func (n *Navigator) move(ctx context.Context, control string, delta int, op string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	enabled, err := n.controlEnabled(control)
	if err != nil {
		return false, fmt.Errorf("read %s control: %w", op, err)
	}
	if !enabled {
		return false, nil
	}

	before := n.firstCellID()
	if err := n.page.Click(control, n.Timeout); err != nil {
		if jsErr := n.page.JSClick(control); jsErr != nil {
			return false, errs.Navigation(op, 0, err)
		}
	}
	if err := n.waitGrid(ctx, before); err != nil {
		return false, errs.Navigation(op, 0, err)
	}
	n.Offset += delta
	n.log.Debug("week moved", zap.String("op", op), zap.Int("offset", n.Offset))
	return true, nil
}

// waitGrid waits for the loading indicator to clear, the grid to be visible
// and, when before is known, the grid to show a different week.
func (n *Navigator) waitGrid(ctx context.Context, before string) error {
	if err := n.page.WaitSettled(n.Timeout); err != nil {
		return err
	}
	if err := n.page.WaitVisible(portal.WeekTable, n.Timeout); err != nil {
		return err
	}
	if before == "" {
		return nil
	}
	changed := forms.WaitFor(ctx, n.Timeout, 100*time.Millisecond, func() bool {
		return n.firstCellID() != before
	})
	if !changed {
		return fmt.Errorf("grid still shows week of cell %s", before)
	}
	return nil
}

func (n *Navigator) firstCellID() string {
	id, _, _ := n.page.Attribute(portal.WeekCells, "id")
	return id
}

// WeekStart returns the date of the first cell in the grid.
func (n *Navigator) WeekStart() (models.Date, bool) {
	id := n.firstCellID()
	ymd, _, ok := strings.Cut(id, "_")
	if !ok {
		return models.Date{}, false
	}
	d, err := models.ParseYMD(ymd)
	return d, err == nil
}

// ToWeekOne presses previous until the boundary week is shown, at most
// MaxSteps times. On success Offset is 0.
func (n *Navigator) ToWeekOne(ctx context.Context) error {
	for steps := 0; ; steps++ {
		at, err := n.IsAtWeekOne()
		if err != nil {
			return err
		}
		if at {
			n.Offset = 0
			return nil
		}
		if steps >= n.MaxSteps {
			return errs.Navigation("to-week-one", steps, nil)
		}
		moved, err := n.Previous(ctx)
		if err != nil {
			return err
		}
		if !moved {
			n.Offset = 0
			return nil
		}
	}
}

// Seek shows the week containing d, starting from the boundary week and
// moving forward at most MaxSteps weeks.
func (n *Navigator) Seek(ctx context.Context, d models.Date) error {
	if err := n.ToWeekOne(ctx); err != nil {
		return err
	}
	for steps := 0; ; steps++ {
		shown, err := n.ShowsDate(d)
		if err != nil {
			return err
		}
		if shown {
			return nil
		}
		if steps >= n.MaxSteps {
			return errs.Navigation("seek "+d.String(), steps, nil)
		}
		moved, err := n.Next(ctx)
		if err != nil {
			return err
		}
		if !moved {
			return errs.Navigation("seek "+d.String(), steps, fmt.Errorf("no week after offset %d", n.Offset))
		}
	}
}
