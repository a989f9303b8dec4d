// Package extract turns the portal's calendar and result pages into slots.
package extract

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"courtbot/internal/browser"
	"courtbot/internal/calendar"
	"courtbot/internal/errs"
	"courtbot/internal/models"
	"courtbot/internal/portal"
)

// Extraction is the outcome of a full calendar pass.
type Extraction struct {
	Slots []models.Slot
	// Weeks is the number of weeks in the window that was walked.
	Weeks    int
	Complete bool
	// Missing lists the week offsets that could not be extracted.
	Missing []int
}

// Extractor reads slots from the page held by the caller's lease.
type Extractor struct {
	page browser.Page
	nav  *calendar.Navigator
	log  *zap.Logger

	// Lookahead is the number of weeks in the window, including week one.
	Lookahead int
	Timeout   time.Duration
}

func New(p browser.Page, nav *calendar.Navigator, log *zap.Logger) *Extractor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Extractor{
		page:      p,
		nav:       nav,
		log:       log.Named("extract"),
		Lookahead: portal.MaxLookaheadWeeks,
		Timeout:   15 * time.Second,
	}
}

// FromCurrentWeek waits for the grid and parses the week on screen.
func (e *Extractor) FromCurrentWeek(ctx context.Context, ref models.FacilityRef) ([]models.Slot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := e.page.WaitSettled(e.Timeout); err != nil {
		return nil, fmt.Errorf("wait for calendar: %w", err)
	}
	if err := e.page.WaitVisible(portal.WeekTable, e.Timeout); err != nil {
		return nil, fmt.Errorf("wait for calendar: %w", err)
	}
	html, err := e.page.Content()
	if err != nil {
		return nil, fmt.Errorf("read calendar: %w", err)
	}
	return ParseWeek(html, ref)
}

// FromWeeklyCalendar walks the week window forward from week one and then
// back again, extracting every week on both passes and merging by slot key.
// A week that fails on one pass may succeed on the other. The calendar is
// left on week one.
//
// An incomplete walk returns the partial Extraction together with an error
// wrapping errs.ErrExtractionIncomplete.
func (e *Extractor) FromWeeklyCalendar(ctx context.Context, ref models.FacilityRef) (Extraction, error) {
	if err := e.nav.ToWeekOne(ctx); err != nil {
		return Extraction{}, err
	}

	var slots []models.Slot
	var walkErr error
	done := map[int]bool{}
	last := 0
	visit := func(pass string) {
		off := e.nav.Offset
		if off > last {
			last = off
		}
		week, err := e.FromCurrentWeek(ctx, ref)
		if err != nil {
			e.log.Warn("week not extracted", zap.String("pass", pass), zap.Int("offset", off), zap.Error(err))
			return
		}
		done[off] = true
		slots = models.MergeSlots(slots, week)
	}

	visit("forward")
	for e.nav.Offset < e.Lookahead-1 {
		moved, err := e.nav.Next(ctx)
		if err != nil {
			walkErr = err
			break
		}
		if !moved {
			break
		}
		visit("forward")
	}

	for e.nav.Offset > 0 {
		moved, err := e.nav.Previous(ctx)
		if err != nil || !moved {
			if err == nil {
				err = errors.New("previous-week control unavailable")
			}
			walkErr = errors.Join(walkErr, err)
			break
		}
		visit("backward")
	}
	if e.nav.Offset != 0 {
		if err := e.nav.ToWeekOne(context.WithoutCancel(ctx)); err != nil {
			walkErr = errors.Join(walkErr, err)
		}
	}

	ext := Extraction{Slots: slots, Weeks: last + 1}
	for off := 0; off <= last; off++ {
		if !done[off] {
			ext.Missing = append(ext.Missing, off)
		}
	}
	ext.Complete = len(ext.Missing) == 0 && walkErr == nil
	e.log.Info("📅 weekly calendar extracted",
		zap.String("facility", ref.FacilityID),
		zap.String("court", ref.CourtID),
		zap.Int("weeks", ext.Weeks),
		zap.Int("slots", len(slots)),
		zap.Ints("missing", ext.Missing))

	if err := ctx.Err(); err != nil {
		return ext, err
	}
	if !ext.Complete {
		err := fmt.Errorf("%w: missing weeks %v", errs.ErrExtractionIncomplete, ext.Missing)
		return ext, errors.Join(err, walkErr)
	}
	return ext, nil
}

// FromResultPage parses the result listing currently on screen.
func (e *Extractor) FromResultPage(ctx context.Context) ([]models.Slot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	html, err := e.page.Content()
	if err != nil {
		return nil, fmt.Errorf("read results: %w", err)
	}
	return ParseResultPage(html)
}

// Courts lists the courts offered by the results page on screen.
func (e *Extractor) Courts() ([]models.Court, error) {
	html, err := e.page.Content()
	if err != nil {
		return nil, fmt.Errorf("read results: %w", err)
	}
	return Courts(html)
}
