// Package engine ties the scan path, the search path and the booking path
// to one browser session and one credential store.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"courtbot/internal/auth"
	"courtbot/internal/booking"
	"courtbot/internal/browser"
	"courtbot/internal/cancel"
	"courtbot/internal/errs"
	"courtbot/internal/events"
	"courtbot/internal/models"
	"courtbot/internal/scanner"
	"courtbot/internal/search"
)

// SlotSink receives the slots of every scan and search.
type SlotSink interface {
	StoreSlots(ctx context.Context, slots []models.Slot) error
}

// BookingSink receives exactly one result per booking attempt.
type BookingSink interface {
	StoreBooking(ctx context.Context, r models.BookingResult) error
}

// Sinks are the outbound ports of the engine. Any of them may be empty.
type Sinks struct {
	Slots    []SlotSink
	Bookings []BookingSink
	Events   events.Emitter
}

// Options configures an Engine.
type Options struct {
	BaseURL     string
	Credentials auth.Credentials
	SessionTTL  time.Duration
	Scanner     scanner.Options
	// Concurrency bounds the facilities scanned at once.
	Concurrency int
	Facilities  []models.Facility
	// UITimeout overrides the page waits of searches and bookings.
	UITimeout time.Duration
}

// Engine is safe for concurrent use. Page work is serialized by the
// session lease; at most one booking is in flight.
type Engine struct {
	session *browser.Session
	auth    *auth.Authenticator
	store   *auth.CredentialStore
	scanner *scanner.Client
	opts    Options
	sinks   Sinks
	log     *zap.Logger

	inflight chan struct{}
}

func New(session *browser.Session, opts Options, sinks Sinks, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	if sinks.Events == nil {
		sinks.Events = events.Discard
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 2
	}
	e := &Engine{
		session:  session,
		auth:     auth.New(opts.BaseURL, log),
		opts:     opts,
		sinks:    sinks,
		log:      log.Named("engine"),
		inflight: make(chan struct{}, 1),
	}
	if opts.SessionTTL > 0 {
		e.auth.SessionTTL = opts.SessionTTL
	}
	e.store = auth.NewCredentialStore(e.renew)
	if opts.Scanner.BaseURL == "" {
		opts.Scanner.BaseURL = opts.BaseURL
	}
	e.scanner = scanner.New(opts.Scanner, e.store, log)
	return e
}

// Authenticator exposes the login driver so callers can tune its waits.
func (e *Engine) Authenticator() *auth.Authenticator { return e.auth }

// Credentials exposes the shared credential store.
func (e *Engine) Credentials() *auth.CredentialStore { return e.store }

// Facilities returns the configured facilities in priority order.
func (e *Engine) Facilities() []models.Facility { return models.ByPriority(e.opts.Facilities) }

// Facility looks up a configured facility by id.
func (e *Engine) Facility(id string) (models.Facility, bool) {
	for _, f := range e.opts.Facilities {
		if f.ID == id {
			return f, true
		}
	}
	return models.Facility{}, false
}

// renew logs in on the shared page. It is the credential store's renewal
// callback and therefore must not be called by a lease holder.
func (e *Engine) renew(ctx context.Context) (*models.Credential, error) {
	lease, err := e.session.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer lease.Release()
	return e.login(ctx, lease.Page())
}

func (e *Engine) login(ctx context.Context, p browser.Page) (*models.Credential, error) {
	cred, err := e.auth.Login(ctx, p, e.opts.Credentials)
	if err != nil {
		e.emit(models.CategoryLogin, "login failed", false, map[string]any{"error": err.Error()})
		return nil, err
	}
	e.emit(models.CategoryLogin, "login succeeded", true, map[string]any{"expires_at": cred.ExpiresAt})
	return cred, nil
}

// Login forces a fresh login and installs the resulting credential.
func (e *Engine) Login(ctx context.Context) error {
	_, err := e.store.Renew(ctx, e.store.Current())
	return err
}

// ensureLoggedIn leaves a timeout page and logs in when the page on screen
// is not authenticated. The caller holds the lease.
func (e *Engine) ensureLoggedIn(ctx context.Context, p browser.Page) error {
	if recovered, err := e.auth.Recover(ctx, p); err != nil {
		return err
	} else if recovered {
		e.emit(models.CategoryNavigation, "recovered from session timeout", true, nil)
	}
	if ok, _ := e.auth.IsLoggedIn(p); ok {
		return nil
	}
	cred, err := e.login(ctx, p)
	if err != nil {
		return err
	}
	e.store.Set(cred)
	return nil
}

func (e *Engine) emit(category, message string, success bool, detail map[string]any) {
	e.sinks.Events.Emit(events.New(category, message, success, detail))
}

func (e *Engine) storeSlots(ctx context.Context, slots []models.Slot) {
	if len(slots) == 0 {
		return
	}
	for _, sink := range e.sinks.Slots {
		if err := sink.StoreSlots(ctx, slots); err != nil {
			e.log.Warn("failed to store slots", zap.Int("slots", len(slots)), zap.Error(err))
		}
	}
}

// Scan reads availability of facilities within r over the fast path. An
// empty facility list scans every configured facility. A failing facility
// shows up in its own report and never stops the others.
func (e *Engine) Scan(ctx context.Context, facilities []models.Facility, r models.DateRange) []models.ScanReport {
	if len(facilities) == 0 {
		facilities = e.opts.Facilities
	}
	ordered := models.ByPriority(facilities)
	started := time.Now()
	reports := e.scanner.ScanAll(ctx, ordered, r, e.opts.Concurrency)

	var (
		all    []models.Slot
		failed []string
	)
	for _, rep := range reports {
		all = append(all, rep.Slots...)
		if rep.Err != nil {
			failed = append(failed, rep.Facility.ID)
			e.emit(models.CategoryScan, "facility scan failed", false, map[string]any{
				"facility": rep.Facility.ID,
				"error":    rep.Error,
			})
		}
	}
	merged := models.MergeSlots(all)
	e.storeSlots(ctx, merged)

	available := len(models.Available(merged))
	e.emit(models.CategoryScan, "scan finished", len(failed) == 0, map[string]any{
		"facilities": len(ordered),
		"failed":     failed,
		"slots":      len(merged),
		"available":  available,
		"from":       r.From.String(),
		"to":         r.To.String(),
		"elapsed_ms": time.Since(started).Milliseconds(),
	})
	e.log.Info("📊 scan finished",
		zap.Int("facilities", len(ordered)),
		zap.Int("slots", len(merged)),
		zap.Int("available", available),
		zap.Strings("failed", failed))
	return reports
}

func (e *Engine) orchestrator(p browser.Page) *search.Orchestrator {
	o := search.New(p, e.opts.BaseURL, e.log)
	if e.opts.UITimeout > 0 {
		o.Timeout = e.opts.UITimeout
		o.Navigator().Timeout = e.opts.UITimeout
		o.Extractor().Timeout = e.opts.UITimeout
	}
	return o
}

// SearchUI searches facility f through the portal's own form.
func (e *Engine) SearchUI(ctx context.Context, f models.Facility, opts search.Options) (search.Result, error) {
	lease, err := e.session.Acquire(ctx)
	if err != nil {
		return search.Result{Facility: f}, err
	}
	defer lease.Release()

	p := lease.Page()
	if err := e.ensureLoggedIn(ctx, p); err != nil {
		return search.Result{Facility: f}, err
	}
	res, err := e.orchestrator(p).SearchByForm(ctx, f, opts)
	e.afterSearch(ctx, res, err)
	return res, err
}

func (e *Engine) afterSearch(ctx context.Context, res search.Result, err error) {
	detail := map[string]any{"facility": res.Facility.ID}
	if err != nil {
		detail["error"] = err.Error()
		e.emit(models.CategorySearch, "search failed", false, detail)
		return
	}
	slots := res.AllSlots()
	e.storeSlots(ctx, slots)
	detail["reservable"] = res.HasReservable
	detail["slots"] = len(slots)
	if res.Extraction != nil {
		detail["complete"] = res.Extraction.Complete
	}
	e.emit(models.CategorySearch, "search finished", true, detail)
}

// ScanUI searches every facility through the UI under one lease, the first
// through the form and the rest by changing the conditions of the result
// page. With calendar set, the weekly calendar of every configured court is
// walked as well.
func (e *Engine) ScanUI(ctx context.Context, facilities []models.Facility, calendar bool) []models.ScanReport {
	if len(facilities) == 0 {
		facilities = e.opts.Facilities
	}
	ordered := models.ByPriority(facilities)
	reports := make([]models.ScanReport, 0, len(ordered))
	fail := func(f models.Facility, err error) {
		reports = append(reports, models.ScanReport{Facility: f, Err: err, Error: err.Error(), ScannedAt: time.Now()})
	}

	lease, err := e.session.Acquire(ctx)
	if err != nil {
		for _, f := range ordered {
			fail(f, err)
		}
		return reports
	}
	defer lease.Release()

	p := lease.Page()
	if err := e.ensureLoggedIn(ctx, p); err != nil {
		for _, f := range ordered {
			fail(f, err)
		}
		return reports
	}

	o := e.orchestrator(p)
	onResults := false
	for _, f := range ordered {
		rep := models.ScanReport{Facility: f, Complete: true}
		for _, court := range courtTargets(f, calendar) {
			if err := ctx.Err(); err != nil {
				rep.Err = err
				break
			}
			opts := search.Options{CourtID: court, ExtractCalendar: calendar && court != ""}
			var (
				res search.Result
				err error
			)
			if onResults {
				res, err = o.ChangeFacilityAndResearch(ctx, f, opts)
			} else {
				res, err = o.SearchByForm(ctx, f, opts)
			}
			e.afterSearch(ctx, res, err)
			if err != nil {
				rep.Err = err
				onResults = false
				break
			}
			onResults = res.HasResults
			rep.Slots = models.MergeSlots(rep.Slots, res.AllSlots())
			if res.Extraction != nil && !res.Extraction.Complete {
				rep.Complete = false
			}
		}
		if rep.Err != nil {
			rep.Complete = false
			rep.Error = rep.Err.Error()
		}
		rep.ScannedAt = time.Now()
		reports = append(reports, rep)
	}
	return reports
}

func courtTargets(f models.Facility, calendar bool) []string {
	if !calendar || len(f.Courts) == 0 {
		return []string{""}
	}
	ids := make([]string, len(f.Courts))
	for i, c := range f.Courts {
		ids[i] = c.ID
	}
	return ids
}

// Book reserves req.Slot. Attempts are serialized; each one searches the
// slot's court, opens its calendar and runs the commitment flow. Exactly one
// result per attempt reaches the booking sinks.
func (e *Engine) Book(ctx context.Context, req booking.Request) models.BookingResult {
	select {
	case e.inflight <- struct{}{}:
	case <-ctx.Done():
		return e.record(ctx, booking.Failure(req, booking.StepSession, ctx.Err()))
	}
	defer func() { <-e.inflight }()

	f, ok := e.Facility(req.Slot.FacilityID)
	if !ok {
		return e.record(ctx, booking.Failure(req, booking.StepSearch, fmt.Errorf("facility %s is not configured", req.Slot.FacilityID)))
	}
	if req.Slot.FacilityName == "" {
		req.Slot.FacilityName = f.Name
	}
	if c, ok := f.Court(req.Slot.CourtID); ok && req.Slot.CourtName == "" {
		req.Slot.CourtName = c.Name
	}

	lease, err := e.session.Acquire(ctx)
	if err != nil {
		return e.record(ctx, booking.Failure(req, booking.StepSession, err))
	}
	defer lease.Release()

	p := lease.Page()
	if err := e.ensureLoggedIn(ctx, p); err != nil {
		return e.record(ctx, booking.Failure(req, booking.StepSession, err))
	}

	o := e.orchestrator(p)
	res, err := o.SearchByForm(ctx, f, search.Options{CourtID: req.Slot.CourtID})
	if err == nil && !res.HasResults {
		err = errs.ErrNoResults
	}
	if err == nil {
		err = o.OpenCalendar()
	}
	if err != nil {
		return e.record(ctx, booking.Failure(req, booking.StepSearch, err))
	}

	flow := booking.New(p, o.Navigator(), e.log)
	if e.opts.UITimeout > 0 {
		flow.StepTimeout = e.opts.UITimeout
	}
	return e.record(ctx, flow.Run(ctx, req))
}

// record hands r to every booking sink. It runs even when ctx is done: a
// committed attempt must never go unrecorded.
func (e *Engine) record(ctx context.Context, r models.BookingResult) models.BookingResult {
	ctx = context.WithoutCancel(ctx)
	for _, sink := range e.sinks.Bookings {
		if err := sink.StoreBooking(ctx, r); err != nil {
			e.log.Error("failed to record booking", zap.String("attempt", r.AttemptID), zap.Error(err))
		}
	}

	detail := map[string]any{
		"attempt_id": r.AttemptID,
		"slot":       r.Slot.String(),
		"committed":  r.Committed,
	}
	if r.Succeeded() {
		detail["confirmation_number"] = r.ConfirmationNumber
		e.emit(models.CategoryReservation, "reservation completed", true, detail)
		if err := e.session.SaveState(); err != nil {
			e.log.Warn("failed to save session state", zap.Error(err))
		}
		return r
	}
	detail["step"] = r.FailureStep
	detail["reason"] = r.FailureReason
	e.emit(models.CategoryReservation, "reservation failed", false, detail)
	return r
}

// Cancel cancels the reservation with the given number on the portal's
// reservation list.
func (e *Engine) Cancel(ctx context.Context, number string) (cancel.Cancellation, error) {
	var done cancel.Cancellation
	err := e.cancelling(ctx, func(c *cancel.Canceller) error {
		var err error
		done, err = c.Cancel(ctx, number)
		return err
	})
	if err != nil {
		e.emit(models.CategoryReservation, "cancellation failed", false, map[string]any{"number": number, "error": err.Error()})
		return cancel.Cancellation{}, err
	}
	e.emit(models.CategoryReservation, "reservation cancelled", true, map[string]any{"number": done.Number})
	return done, nil
}

// CancelAll cancels every reservation on the portal's reservation list. The
// cancellations made before an error are returned with it.
func (e *Engine) CancelAll(ctx context.Context) ([]cancel.Cancellation, error) {
	var done []cancel.Cancellation
	err := e.cancelling(ctx, func(c *cancel.Canceller) error {
		var err error
		done, err = c.CancelAll(ctx)
		return err
	})
	for _, d := range done {
		e.emit(models.CategoryReservation, "reservation cancelled", true, map[string]any{"number": d.Number})
	}
	if err != nil {
		e.emit(models.CategoryReservation, "cancellation failed", false, map[string]any{"cancelled": len(done), "error": err.Error()})
	}
	return done, err
}

// cancelling runs fn on the logged-in page. It shares the booking slot, so a
// cancellation never interleaves with a booking attempt.
func (e *Engine) cancelling(ctx context.Context, fn func(*cancel.Canceller) error) error {
	select {
	case e.inflight <- struct{}{}:
	case <-ctx.Done():
		return errs.CancelStep(cancel.StepList, "", ctx.Err())
	}
	defer func() { <-e.inflight }()

	lease, err := e.session.Acquire(ctx)
	if err != nil {
		return errs.CancelStep(cancel.StepList, "", err)
	}
	defer lease.Release()

	p := lease.Page()
	if err := e.ensureLoggedIn(ctx, p); err != nil {
		return errs.CancelStep(cancel.StepList, "", err)
	}
	c := cancel.New(p, e.log)
	if e.opts.UITimeout > 0 {
		c.StepTimeout = e.opts.UITimeout
	}
	return fn(c)
}

// IsAuthError reports whether err came from a rejected or impossible login.
func IsAuthError(err error) bool {
	return errors.Is(err, errs.ErrAuthentication) || errors.Is(err, errs.ErrSessionExpired)
}
