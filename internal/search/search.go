// Package search runs the portal's availability search through its own form
// and collects what the result page offers.
package search

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"courtbot/internal/browser"
	"courtbot/internal/calendar"
	"courtbot/internal/errs"
	"courtbot/internal/extract"
	"courtbot/internal/forms"
	"courtbot/internal/models"
	"courtbot/internal/portal"
	"courtbot/internal/results"
)

// Options tunes one search.
type Options struct {
	// CourtID narrows the search to one court when set.
	CourtID string
	// Activity is the purpose filter; tennis when empty.
	Activity string
	// ExtractCalendar walks the weekly calendar after the search.
	ExtractCalendar bool
	// MaxMoreClicks bounds presses of the "show more" control.
	MaxMoreClicks int
}

// Result is what one search produced.
type Result struct {
	Facility      models.Facility
	HasResults    bool
	HasReservable bool
	MoreClicks    int
	// Slots are the rows of the result listing.
	Slots      []models.Slot
	Courts     []models.Court
	Extraction *extract.Extraction
}

// AllSlots merges the listing rows with the calendar extraction.
func (r Result) AllSlots() []models.Slot {
	if r.Extraction == nil {
		return r.Slots
	}
	return models.MergeSlots(r.Slots, r.Extraction.Slots)
}

// Orchestrator drives searches on the page held by the caller's lease.
type Orchestrator struct {
	page browser.Page
	nav  *calendar.Navigator
	ext  *extract.Extractor
	log  *zap.Logger

	BaseURL string
	Timeout time.Duration
}

func New(p browser.Page, baseURL string, log *zap.Logger) *Orchestrator {
	if log == nil {
		log = zap.NewNop()
	}
	if baseURL == "" {
		baseURL = portal.DefaultBaseURL
	}
	nav := calendar.NewNavigator(p, log)
	return &Orchestrator{
		page:    p,
		nav:     nav,
		ext:     extract.New(p, nav, log),
		log:     log.Named("search"),
		BaseURL: strings.TrimRight(baseURL, "/"),
		Timeout: 15 * time.Second,
	}
}

// Navigator exposes the calendar state machine bound to the same page.
func (o *Orchestrator) Navigator() *calendar.Navigator { return o.nav }

// Extractor exposes the slot extractor bound to the same page.
func (o *Orchestrator) Extractor() *extract.Extractor { return o.ext }

func (o *Orchestrator) withDefaults(opts Options) Options {
	if opts.Activity == "" {
		opts.Activity = portal.TennisActivityValue
	}
	if opts.MaxMoreClicks <= 0 {
		opts.MaxMoreClicks = 5
	}
	return opts
}

// SearchByForm fills the search form for facility f and submits it. An
// empty result is a valid outcome, not an error.
func (o *Orchestrator) SearchByForm(ctx context.Context, f models.Facility, opts Options) (Result, error) {
	opts = o.withDefaults(opts)
	o.log.Info("🔍 searching", zap.String("facility", f.Name), zap.String("area", f.AreaCode))

	if n, _ := o.page.Count(portal.SearchPanel); n == 0 {
		if err := o.page.Goto(o.BaseURL+portal.PathDailyResults, o.Timeout); err != nil {
			return Result{Facility: f}, fmt.Errorf("open search page: %w", err)
		}
	}
	if err := o.expandConditions(ctx); err != nil {
		return Result{Facility: f}, err
	}
	if err := o.ensureFacilityTab(); err != nil {
		return Result{Facility: f}, err
	}
	if _, err := forms.ClickFirst(o.page, portal.DateRangeOneMonth, o.Timeout); err != nil {
		o.log.Debug("date range control not found", zap.Error(err))
	}
	if err := o.fillConditions(f, opts); err != nil {
		return Result{Facility: f}, err
	}
	if err := o.submit(); err != nil {
		return Result{Facility: f}, err
	}
	return o.followUp(ctx, f, opts)
}

// ChangeFacilityAndResearch reopens the conditions of the result page on
// screen and searches facility f instead.
func (o *Orchestrator) ChangeFacilityAndResearch(ctx context.Context, f models.Facility, opts Options) (Result, error) {
	opts = o.withDefaults(opts)
	o.log.Info("🔁 changing facility", zap.String("facility", f.Name))

	if _, err := forms.ClickFirst(o.page, portal.ChangeCondition, o.Timeout); err != nil {
		if visible, _ := o.page.IsVisible(portal.SearchPanel); !visible {
			return Result{Facility: f}, fmt.Errorf("open search conditions: %w", err)
		}
	}
	if err := o.page.WaitVisible(portal.SearchPanel, o.Timeout); err != nil {
		return Result{Facility: f}, errs.Navigation("change-condition", 0, err)
	}
	if err := o.fillConditions(f, opts); err != nil {
		return Result{Facility: f}, err
	}
	if err := o.submit(); err != nil {
		return Result{Facility: f}, err
	}
	return o.followUp(ctx, f, opts)
}

// SelectCourt switches the result page to one court.
func (o *Orchestrator) SelectCourt(ctx context.Context, courtID string) error {
	changed, err := forms.SelectOption(o.page, []string{portal.ResultsCourtSelect}, courtID, o.Timeout)
	if err != nil {
		return fmt.Errorf("select court %s: %w", courtID, err)
	}
	if changed {
		if err := o.page.WaitSettled(o.Timeout); err != nil {
			return errs.Navigation("select-court", 0, err)
		}
	}
	return ctx.Err()
}

func (o *Orchestrator) expandConditions(ctx context.Context) error {
	if visible, _ := o.page.IsVisible(portal.SearchPanel); visible {
		return nil
	}
	if _, err := forms.ClickFirst(o.page, portal.ChangeCondition, o.Timeout); err != nil {
		return fmt.Errorf("expand search conditions: %w", err)
	}
	if _, err := forms.WaitAny(ctx, o.page, []string{portal.SearchPanel}, o.Timeout, 0); err != nil {
		return errs.Navigation("expand-conditions", 0, err)
	}
	return nil
}

func (o *Orchestrator) ensureFacilityTab() error {
	if n, _ := o.page.Count(portal.SearchTabs); n == 0 {
		return nil
	}
	if label, _ := o.page.Text(portal.ActiveTab); strings.Contains(label, portal.FacilityTabLabel) {
		return nil
	}
	if _, err := forms.ClickFirst(o.page, portal.FacilityTab, o.Timeout); err != nil {
		return fmt.Errorf("select facility tab: %w", err)
	}
	return nil
}

func (o *Orchestrator) fillConditions(f models.Facility, opts Options) error {
	if _, err := forms.SelectOption(o.page, portal.FacilitySelect, f.AreaCode, o.Timeout); err != nil {
		return fmt.Errorf("select facility %s: %w", f.Name, err)
	}
	if opts.CourtID != "" {
		if _, err := forms.SelectOption(o.page, portal.CourtSelect, opts.CourtID, o.Timeout); err != nil {
			o.log.Warn("court filter unavailable", zap.String("court", opts.CourtID), zap.Error(err))
		}
	}
	if _, err := forms.SelectOption(o.page, portal.ActivitySelect, opts.Activity, o.Timeout); err != nil {
		if !errors.Is(err, forms.ErrNotFound) {
			return fmt.Errorf("select activity: %w", err)
		}
	}
	return nil
}

func (o *Orchestrator) submit() error {
	if _, err := forms.ClickFirst(o.page, portal.SearchSubmit, o.Timeout); err != nil {
		return fmt.Errorf("submit search: %w", err)
	}
	if err := o.page.WaitSettled(o.Timeout); err != nil {
		return errs.Navigation("search", 0, err)
	}
	return nil
}

func (o *Orchestrator) followUp(ctx context.Context, f models.Facility, opts Options) (Result, error) {
	res := Result{Facility: f}
	out, err := results.Await(ctx, o.page, o.Timeout)
	if err != nil {
		return res, err
	}
	if !out.HasResults {
		o.log.Info("📭 no results", zap.String("facility", f.Name))
		return res, nil
	}

	for res.MoreClicks < opts.MaxMoreClicks {
		if _, ok := browser.FirstVisible(o.page, portal.ShowMore); !ok {
			break
		}
		if _, err := forms.ClickFirst(o.page, portal.ShowMore, o.Timeout); err != nil {
			o.log.Debug("show more failed", zap.Error(err))
			break
		}
		res.MoreClicks++
		if err := o.page.WaitSettled(o.Timeout); err != nil {
			return res, errs.Navigation("show-more", res.MoreClicks, err)
		}
	}

	if res.Courts, err = o.ext.Courts(); err != nil {
		return res, err
	}
	if opts.CourtID != "" {
		if n, _ := o.page.Count(portal.ResultsCourtSelect); n > 0 {
			if err := o.SelectCourt(ctx, opts.CourtID); err != nil {
				return res, err
			}
		}
	}

	if out, err = results.Check(o.page); err != nil {
		return res, err
	}
	res.HasResults, res.HasReservable = out.HasResults, out.HasReservable
	if res.Slots, err = o.ext.FromResultPage(ctx); err != nil {
		return res, err
	}

	if opts.ExtractCalendar {
		if err := o.OpenCalendar(); err != nil {
			return res, err
		}
		ref := models.FacilityRef{FacilityID: f.ID, FacilityName: f.Name, CourtID: opts.CourtID}
		if c, ok := f.Court(opts.CourtID); ok {
			ref = f.Ref(c)
		}
		ext, err := o.ext.FromWeeklyCalendar(ctx, ref)
		switch {
		case err == nil:
		case errors.Is(err, errs.ErrExtractionIncomplete):
			o.log.Warn("calendar extraction incomplete", zap.Ints("missing", ext.Missing))
		default:
			return res, err
		}
		res.Extraction = &ext
	}

	o.log.Info("✅ search finished",
		zap.String("facility", f.Name),
		zap.Bool("reservable", res.HasReservable),
		zap.Int("rows", len(res.Slots)),
		zap.Int("more_clicks", res.MoreClicks))
	return res, nil
}

// OpenCalendar expands the weekly calendar of the result page.
func (o *Orchestrator) OpenCalendar() error {
	if visible, _ := o.page.IsVisible(portal.WeekTable); visible {
		return nil
	}
	if _, err := forms.ClickFirst(o.page, []string{portal.WeeklyExpand}, o.Timeout); err != nil {
		return fmt.Errorf("open weekly calendar: %w", err)
	}
	if err := o.page.WaitVisible(portal.WeekTable, o.Timeout); err != nil {
		return errs.Navigation("open-weekly", 0, err)
	}
	return nil
}
