// Package booking drives the portal's commitment flow for one slot: select
// the cell, accept the terms, fill the confirmation form, submit and read
// the reservation number.
//
// The flow is a chain of explicit states. Every state before
// ConfirmationPresented may fail and leave the portal untouched; the final
// submit is issued only from ConfirmationPresented, which can only be reached
// with a verified selection of the requested cell. Once the submit is sent
// the attempt is committed: cancellation is ignored and nothing is retried.
package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"courtbot/internal/browser"
	"courtbot/internal/calendar"
	"courtbot/internal/errs"
	"courtbot/internal/extract"
	"courtbot/internal/forms"
	"courtbot/internal/models"
	"courtbot/internal/portal"
	"courtbot/internal/results"
	"courtbot/internal/selection"
)

// Step names reported in BookingResult.FailureStep.
const (
	StepSession      = "session"
	StepSearch       = "search"
	StepSelect       = "select"
	StepReserve      = "reserve"
	StepTerms        = "terms"
	StepConfirmation = "confirmation"
	StepCompletion   = "completion"
)

// MaxClickAttempts bounds the clicks spent on selecting one cell.
const MaxClickAttempts = 3

// Request describes one booking attempt.
type Request struct {
	Slot       models.Slot
	UserCount  int
	EventLabel string
	// DismissPayment walks past the unpaid-reservations page shown after
	// completion.
	DismissPayment bool
}

// State is one node of the commitment flow.
type State interface {
	Name() string
}

// SlotSelected holds a verified selection of the target cell.
type SlotSelected struct {
	Confirmation selection.Confirmation
}

// TermsPresented is the terms-of-use page, reached from a verified selection.
type TermsPresented struct {
	Confirmation selection.Confirmation
}

// ConfirmationPresented is the final review page. It is the only state from
// which the reservation is submitted.
type ConfirmationPresented struct {
	Confirmation selection.Confirmation
}

// CompletionPresented is reached after the submit; the attempt is committed.
type CompletionPresented struct{}

// Succeeded is terminal and carries the portal's reservation number.
type Succeeded struct {
	Number string
}

// Failed is terminal. Committed reports whether the final submit had been
// sent.
type Failed struct {
	Step      string
	Err       error
	Committed bool
}

func (SlotSelected) Name() string          { return "slot-selected" }
func (TermsPresented) Name() string        { return "terms-presented" }
func (ConfirmationPresented) Name() string { return "confirmation-presented" }
func (CompletionPresented) Name() string   { return "completion-presented" }
func (Succeeded) Name() string             { return "succeeded" }
func (Failed) Name() string                { return "failed" }

// Flow runs booking attempts on one page. It must only be used by the holder
// of that page's lease.
type Flow struct {
	page     browser.Page
	nav      *calendar.Navigator
	verifier *selection.Verifier
	log      *zap.Logger

	StepTimeout       time.Duration
	CompletionTimeout time.Duration
	ClickTimeout      time.Duration
	Poll              time.Duration
	Now               func() time.Time
}

func New(p browser.Page, nav *calendar.Navigator, log *zap.Logger) *Flow {
	if log == nil {
		log = zap.NewNop()
	}
	if nav == nil {
		nav = calendar.NewNavigator(p, log)
	}
	return &Flow{
		page:              p,
		nav:               nav,
		verifier:          selection.NewVerifier(log),
		log:               log.Named("booking"),
		StepTimeout:       15 * time.Second,
		CompletionTimeout: 60 * time.Second,
		ClickTimeout:      10 * time.Second,
		Poll:              200 * time.Millisecond,
		Now:               time.Now,
	}
}

// Verifier exposes the selection verifier so callers can tune its timing.
func (f *Flow) Verifier() *selection.Verifier { return f.verifier }

// attempt is the per-run context threaded through the states.
type attempt struct {
	req    Request
	cellID string
}

// Run performs one booking attempt. The page must show the weekly calendar
// of the slot's court. Run always returns a result; it never returns early
// once the final submit has been sent.
func (f *Flow) Run(ctx context.Context, req Request) models.BookingResult {
	res := models.BookingResult{
		AttemptID:  uuid.NewString(),
		Facility:   req.Slot.FacilityRef,
		Slot:       req.Slot,
		UserCount:  req.UserCount,
		EventLabel: req.EventLabel,
		StartedAt:  f.Now(),
	}
	log := f.log.With(zap.String("attempt", res.AttemptID), zap.Stringer("slot", req.Slot))
	log.Info("🎾 booking started", zap.Int("users", req.UserCount))

	a := &attempt{req: req}
	var st State
	if req.UserCount < 1 {
		st = Failed{Step: StepSelect, Err: fmt.Errorf("user count %d: must be at least 1", req.UserCount)}
	} else {
		st = f.selectSlot(ctx, a)
	}
	for {
		log.Debug("booking state", zap.String("state", st.Name()))
		switch s := st.(type) {
		case SlotSelected:
			st = f.reserve(ctx, s)
		case TermsPresented:
			st = f.acceptTerms(ctx, s)
		case ConfirmationPresented:
			st = f.submit(ctx, a, s)
		case CompletionPresented:
			st = f.complete(context.WithoutCancel(ctx), a)
		case Succeeded:
			res.Outcome = models.OutcomeSucceeded
			res.ConfirmationNumber = s.Number
			res.Committed = true
			res.FinishedAt = f.Now()
			log.Info("✅ booking succeeded", zap.String("number", s.Number))
			return res
		case Failed:
			res.Outcome = models.OutcomeFailed
			res.FailureStep = s.Step
			if s.Err != nil {
				res.FailureReason = s.Err.Error()
			}
			res.Committed = s.Committed
			res.FinishedAt = f.Now()
			log.Warn("❌ booking failed", zap.String("step", s.Step), zap.Bool("committed", s.Committed), zap.Error(s.Err))
			return res
		default:
			st = Failed{Step: StepSelect, Err: fmt.Errorf("unknown booking state %T", st)}
		}
	}
}

// Failure builds the result of an attempt that failed before the flow could
// start, such as a lost session or a failed search.
func Failure(req Request, step string, err error) models.BookingResult {
	now := time.Now()
	return models.BookingResult{
		AttemptID:     uuid.NewString(),
		Facility:      req.Slot.FacilityRef,
		Slot:          req.Slot,
		UserCount:     req.UserCount,
		EventLabel:    req.EventLabel,
		Outcome:       models.OutcomeFailed,
		FailureStep:   step,
		FailureReason: errs.BookingStep(step, err).Error(),
		StartedAt:     now,
		FinishedAt:    now,
	}
}

func stepFailed(step string, err error) Failed {
	return Failed{Step: step, Err: errs.BookingStep(step, err)}
}

// selectSlot shows the slot's week, clicks its cell and verifies the
// selection, trying a regular click first and page-script clicks after.
func (f *Flow) selectSlot(ctx context.Context, a *attempt) State {
	slot := a.req.Slot
	if err := f.nav.Seek(ctx, slot.Date); err != nil {
		return Failed{Step: StepSelect, Err: err}
	}
	cellID, err := f.resolveCell(slot)
	if err != nil {
		return Failed{Step: StepSelect, Err: err}
	}
	a.cellID = cellID
	sel := fmt.Sprintf(`%s td[id="%s"]`, portal.WeekTable, cellID)

	base, err := f.verifier.Baseline(f.page, cellID)
	if err != nil {
		return Failed{Step: StepSelect, Err: err}
	}
	for i := 0; i < MaxClickAttempts; i++ {
		if err := ctx.Err(); err != nil {
			return Failed{Step: StepSelect, Err: err}
		}
		if i > 0 {
			// A previous click may have landed late; clicking again would
			// toggle the cell off.
			if conf, ok := f.verifier.Check(f.page, cellID, base); ok {
				return SlotSelected{Confirmation: conf}
			}
		}
		var clickErr error
		if i == 0 {
			clickErr = f.page.Click(sel, f.ClickTimeout)
		} else {
			clickErr = f.page.JSClick(sel)
		}
		if clickErr != nil {
			f.log.Debug("cell click failed", zap.String("cell", cellID), zap.Int("attempt", i+1), zap.Error(clickErr))
			continue
		}
		conf, ok, err := f.verifier.Verify(ctx, f.page, cellID, base)
		if err != nil {
			return Failed{Step: StepSelect, Err: err}
		}
		if ok {
			return SlotSelected{Confirmation: conf}
		}
	}
	return Failed{Step: StepSelect, Err: fmt.Errorf("cell %s after %d clicks: %w", cellID, MaxClickAttempts, errs.ErrSelectionNotConfirmed)}
}

// resolveCell finds the grid cell of slot in the week on screen.
func (f *Flow) resolveCell(slot models.Slot) (string, error) {
	html, err := f.page.Content()
	if err != nil {
		return "", fmt.Errorf("read calendar: %w", err)
	}
	week, err := extract.ParseWeek(html, slot.FacilityRef)
	if err != nil {
		return "", err
	}
	for _, s := range week {
		if s.Date != slot.Date || s.Start != slot.Start {
			continue
		}
		if slot.CellID != "" && s.CellID != "" && s.CellID != slot.CellID {
			continue
		}
		if s.Status != models.StatusAvailable {
			return "", fmt.Errorf("slot %s is %s", slot.Key(), s.Status)
		}
		if s.CellID == "" {
			return "", fmt.Errorf("slot %s has no cell", slot.Key())
		}
		return s.CellID, nil
	}
	return "", fmt.Errorf("slot %s not in calendar", slot.Key())
}

// reserve presses the reserve control and waits for the terms page.
func (f *Flow) reserve(ctx context.Context, s SlotSelected) State {
	out, err := results.Check(f.page)
	if err != nil {
		return stepFailed(StepReserve, err)
	}
	if !out.HasReservable {
		return stepFailed(StepReserve, errors.New("no reservable action on page"))
	}
	if _, err := forms.ClickFirst(f.page, portal.ReserveAction, f.ClickTimeout); err != nil {
		return stepFailed(StepReserve, err)
	}
	if !f.waitMarker(ctx, f.StepTimeout, portal.MarkerTermsURL, portal.TitleTerms) {
		return stepFailed(StepReserve, f.markerErr(ctx, "terms page"))
	}
	f.log.Info("📜 terms page shown")
	return TermsPresented(s)
}

// acceptTerms ticks the agreement control and moves on to the review page.
func (f *Flow) acceptTerms(ctx context.Context, s TermsPresented) State {
	sel, ok := browser.FirstPresent(f.page, portal.TermsAgree)
	if !ok {
		return stepFailed(StepTerms, errors.New("agreement control not found"))
	}
	if err := f.page.Click(sel, f.ClickTimeout); err != nil {
		if jsErr := f.page.JSClick(sel); jsErr != nil {
			return stepFailed(StepTerms, errors.Join(err, jsErr))
		}
	}
	if _, err := forms.ClickFirst(f.page, []string{portal.FlowNext}, f.ClickTimeout); err != nil {
		return stepFailed(StepTerms, err)
	}
	if !f.waitMarker(ctx, f.StepTimeout, portal.MarkerConfirmURL, portal.TitleConfirmation) {
		return stepFailed(StepTerms, f.markerErr(ctx, "confirmation page"))
	}
	return ConfirmationPresented(s)
}

// submit fills the review form and sends the reservation. Everything after
// the final click runs committed.
func (f *Flow) submit(ctx context.Context, a *attempt, s ConfirmationPresented) State {
	if !s.Confirmation.For(a.cellID) {
		return Failed{Step: StepConfirmation, Err: fmt.Errorf("cell %s: %w", a.cellID, errs.ErrSelectionNotConfirmed)}
	}
	if err := ctx.Err(); err != nil {
		return stepFailed(StepConfirmation, err)
	}
	n, err := f.page.FillAll(portal.UserCountInputs, fmt.Sprint(a.req.UserCount), f.ClickTimeout)
	if err != nil {
		return stepFailed(StepConfirmation, fmt.Errorf("fill user count: %w", err))
	}
	if n == 0 {
		return stepFailed(StepConfirmation, errors.New("user count field not found"))
	}
	if a.req.EventLabel != "" {
		if c, _ := f.page.Count(portal.EventLabelInput); c > 0 {
			if _, err := forms.FillText(f.page, portal.EventLabelInput, a.req.EventLabel, f.ClickTimeout); err != nil {
				return stepFailed(StepConfirmation, err)
			}
		}
	}
	f.page.OnDialog(f.acceptSubmitDialog)

	if err := f.page.Click(portal.FlowNext, f.ClickTimeout); err != nil {
		return stepFailed(StepConfirmation, fmt.Errorf("final submit: %w", err))
	}
	f.log.Info("📨 reservation submitted", zap.String("cell", a.cellID))

	committed := context.WithoutCancel(ctx)
	if !f.waitMarker(committed, f.CompletionTimeout, portal.MarkerCompletionURL, portal.TitleCompletion) {
		return Failed{
			Step:      StepCompletion,
			Err:       errs.BookingStep(StepCompletion, errors.New("completion page not shown")),
			Committed: true,
		}
	}
	return CompletionPresented{}
}

// acceptSubmitDialog accepts the portal's own submit confirmation and
// dismisses anything else.
func (f *Flow) acceptSubmitDialog(msg string) bool {
	if strings.Contains(msg, portal.DialogConfirmSubmit) || strings.Contains(msg, portal.DialogConfirmAsk) {
		return true
	}
	f.log.Warn("unexpected dialog dismissed", zap.String("message", msg))
	return false
}

// complete reads the reservation number and optionally walks past the
// payment page. ctx is already detached from cancellation.
func (f *Flow) complete(ctx context.Context, a *attempt) State {
	html, err := f.page.Content()
	if err != nil {
		return Failed{Step: StepCompletion, Err: errs.BookingStep(StepCompletion, err), Committed: true}
	}
	number, ok := ReservationNumber(html)
	if !ok {
		return Failed{
			Step:      StepCompletion,
			Err:       errs.BookingStep(StepCompletion, errors.New("reservation number not found")),
			Committed: true,
		}
	}
	if a.req.DismissPayment {
		f.dismissPayment(ctx)
	}
	return Succeeded{Number: number}
}

// ReservationNumber extracts the reservation number from the completion page.
// The labelled number wins; otherwise the first ten-digit number after the
// label text is used.
func ReservationNumber(html string) (string, bool) {
	if m := portal.LabelledReservationNumber.FindStringSubmatch(html); m != nil {
		return m[1], true
	}
	i := strings.Index(html, portal.TextReservationNo)
	if i < 0 {
		return "", false
	}
	if n := portal.ReservationNumberPattern.FindString(html[i:]); n != "" {
		return n, true
	}
	return "", false
}

func (f *Flow) dismissPayment(ctx context.Context) {
	if _, err := forms.ClickFirst(f.page, portal.PaymentRedirect, f.ClickTimeout); err != nil {
		f.log.Debug("no payment redirect", zap.Error(err))
		return
	}
	if !f.waitMarker(ctx, f.StepTimeout, portal.MarkerPaymentURL, portal.TitlePayment) {
		f.log.Debug("payment page not shown")
		return
	}
	if _, err := forms.ClickFirst(f.page, portal.BackButton, f.ClickTimeout); err != nil {
		f.log.Debug("payment page back failed", zap.Error(err))
	}
}

// waitMarker waits until the page URL contains urlMarker or its title
// contains title.
func (f *Flow) waitMarker(ctx context.Context, timeout time.Duration, urlMarker, title string) bool {
	return forms.WaitFor(ctx, timeout, f.Poll, func() bool {
		if strings.Contains(f.page.URL(), urlMarker) {
			return true
		}
		t, err := f.page.Title()
		return err == nil && strings.Contains(t, title)
	})
}

func (f *Flow) markerErr(ctx context.Context, what string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	return errs.Navigation(what, 0, nil)
}
