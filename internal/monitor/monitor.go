// Package monitor scans the configured facilities on a schedule, reports
// slots that became available since the previous check and optionally books
// the most wanted of them.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"courtbot/internal/booking"
	"courtbot/internal/calendar"
	"courtbot/internal/events"
	"courtbot/internal/models"
)

// ErrBusy is returned by RunOnce while another check is running.
var ErrBusy = errors.New("a check is already running")

// Scanner reads availability.
type Scanner interface {
	Scan(ctx context.Context, facilities []models.Facility, r models.DateRange) []models.ScanReport
	ScanUI(ctx context.Context, facilities []models.Facility, calendar bool) []models.ScanReport
}

// Booker books one slot.
type Booker interface {
	Book(ctx context.Context, req booking.Request) models.BookingResult
}

// Notifier tells the user about new slots and booking outcomes.
type Notifier interface {
	NotifySlots(slots []models.Slot, checkedAt time.Time) error
	NotifyBooking(r models.BookingResult) error
}

// Options configures a Monitor.
type Options struct {
	Interval   time.Duration
	Days       int
	Facilities []models.Facility
	// Calendar scans through the UI and walks every court's weekly calendar
	// instead of using the fast path.
	Calendar bool
	AutoBook bool

	UserCount      int
	EventLabel     string
	DismissPayment bool
}

// Check is the outcome of one monitoring pass.
type Check struct {
	StartedAt  time.Time              `json:"started_at"`
	FinishedAt time.Time              `json:"finished_at"`
	Reports    []models.ScanReport    `json:"reports"`
	Available  int                    `json:"available"`
	New        []models.Slot          `json:"new"`
	Bookings   []models.BookingResult `json:"bookings,omitempty"`
}

// Monitor is the scheduled check loop.
type Monitor struct {
	scanner  Scanner
	booker   Booker
	notifier Notifier
	events   events.Emitter
	opts     Options
	log      *zap.Logger
	cron     *cron.Cron

	run      sync.Mutex
	mu       sync.Mutex
	previous map[models.SlotKey]bool
	last     *Check
	entry    cron.EntryID

	// Today returns the first day of the scanned window.
	Today func() models.Date
}

func New(scanner Scanner, booker Booker, notifier Notifier, emitter events.Emitter, opts Options, log *zap.Logger) *Monitor {
	if log == nil {
		log = zap.NewNop()
	}
	if emitter == nil {
		emitter = events.Discard
	}
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Minute
	}
	if opts.Days <= 0 {
		opts.Days = 31
	}
	if opts.UserCount <= 0 {
		opts.UserCount = 2
	}
	if opts.EventLabel == "" {
		opts.EventLabel = "自動予約"
	}
	log = log.Named("monitor")
	return &Monitor{
		scanner:  scanner,
		booker:   booker,
		notifier: notifier,
		events:   emitter,
		opts:     opts,
		log:      log,
		cron:     cron.New(cron.WithChain(cron.SkipIfStillRunning(cronLogger{log.Sugar()}))),
		previous: make(map[models.SlotKey]bool),
		Today:    calendar.Today,
	}
}

// Start runs a first check right away and then one every interval until
// Stop is called or ctx is done.
func (m *Monitor) Start(ctx context.Context) error {
	spec := "@every " + m.opts.Interval.String()
	id, err := m.cron.AddFunc(spec, func() { m.check(ctx) })
	if err != nil {
		return fmt.Errorf("failed to schedule monitor: %w", err)
	}
	m.mu.Lock()
	m.entry = id
	m.mu.Unlock()

	m.cron.Start()
	m.log.Info("🚀 monitor started",
		zap.Duration("interval", m.opts.Interval),
		zap.Bool("auto_book", m.opts.AutoBook),
		zap.Bool("calendar", m.opts.Calendar))
	go m.check(ctx)
	go func() {
		<-ctx.Done()
		m.Stop()
	}()
	return nil
}

// Stop halts the schedule and waits for a running check to finish.
func (m *Monitor) Stop() {
	<-m.cron.Stop().Done()
	m.run.Lock()
	defer m.run.Unlock()
	m.log.Info("monitor stopped")
}

// NextRun returns the time of the next scheduled check.
func (m *Monitor) NextRun() (time.Time, bool) {
	m.mu.Lock()
	id := m.entry
	m.mu.Unlock()
	if id == 0 {
		return time.Time{}, false
	}
	next := m.cron.Entry(id).Next
	return next, !next.IsZero()
}

// Last returns the most recent completed check.
func (m *Monitor) Last() (Check, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.last == nil {
		return Check{}, false
	}
	return *m.last, true
}

func (m *Monitor) check(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if _, err := m.RunOnce(ctx); err != nil && !errors.Is(err, ErrBusy) {
		m.log.Warn("check failed", zap.Error(err))
	}
}

// RunOnce performs one check: scan, detect new slots, notify and optionally
// book. The first check reports every available slot as new.
func (m *Monitor) RunOnce(ctx context.Context) (Check, error) {
	if !m.run.TryLock() {
		return Check{}, ErrBusy
	}
	defer m.run.Unlock()

	c := Check{StartedAt: time.Now()}
	m.log.Info("🔍 checking availability", zap.Int("facilities", len(m.opts.Facilities)))
	if m.opts.Calendar {
		c.Reports = m.scanner.ScanUI(ctx, m.opts.Facilities, true)
	} else {
		from := m.Today()
		c.Reports = m.scanner.Scan(ctx, m.opts.Facilities, models.DateRange{From: from, To: from.AddDays(m.opts.Days - 1)})
	}
	if err := ctx.Err(); err != nil {
		return c, err
	}

	current := m.availableKeys(c.Reports)
	c.Available = len(current)
	c.New = m.newSlots(c.Reports, current)

	if len(c.New) > 0 {
		m.log.Info("🎉 new slots available", zap.Int("count", len(c.New)))
		m.events.Emit(events.New(models.CategoryScan, "new slots available", true, map[string]any{
			"count": len(c.New),
			"first": c.New[0].String(),
		}))
		if m.notifier != nil {
			if err := m.notifier.NotifySlots(c.New, c.StartedAt); err != nil {
				m.log.Warn("failed to send slot notification", zap.Error(err))
			}
		}
		if m.opts.AutoBook && m.booker != nil {
			c.Bookings = m.autoBook(ctx, c.New)
		}
	} else {
		m.log.Info("no new slots", zap.Int("available", c.Available))
	}

	c.FinishedAt = time.Now()
	m.mu.Lock()
	m.last = &c
	m.mu.Unlock()
	return c, nil
}

// availableKeys returns the keys available now. Facilities that could not
// be scanned fully keep the keys of the previous check, so slots missing from
// a failed or partial scan are not reported as new once they reappear.
func (m *Monitor) availableKeys(reports []models.ScanReport) map[models.SlotKey]bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	current := make(map[models.SlotKey]bool)
	for _, rep := range reports {
		if rep.Err != nil || !rep.Complete {
			for k := range m.previous {
				if k.FacilityID == rep.Facility.ID {
					current[k] = true
				}
			}
		}
		if rep.Err != nil {
			continue
		}
		for _, s := range models.Available(rep.Slots) {
			current[s.Key()] = true
		}
	}
	return current
}

func (m *Monitor) newSlots(reports []models.ScanReport, current map[models.SlotKey]bool) []models.Slot {
	m.mu.Lock()
	defer m.mu.Unlock()
	var fresh []models.Slot
	for _, rep := range reports {
		for _, s := range models.Available(rep.Slots) {
			if !m.previous[s.Key()] {
				fresh = append(fresh, s)
			}
		}
	}
	m.previous = current
	fresh = models.MergeSlots(fresh)
	m.byPriority(fresh)
	return fresh
}

// byPriority orders slots by the priority of their facility, keeping the
// date and time order within a facility.
func (m *Monitor) byPriority(slots []models.Slot) {
	rank := make(map[string]int, len(m.opts.Facilities))
	for _, f := range m.opts.Facilities {
		rank[f.ID] = f.Priority
	}
	priority := func(id string) int {
		if p, ok := rank[id]; ok {
			return p
		}
		return 999
	}
	sort.SliceStable(slots, func(i, j int) bool {
		return priority(slots[i].FacilityID) < priority(slots[j].FacilityID)
	})
}

// autoBook tries the new slots in priority order until one is booked. It
// stops after an attempt whose submit was sent, successful or not.
func (m *Monitor) autoBook(ctx context.Context, slots []models.Slot) []models.BookingResult {
	var results []models.BookingResult
	for _, s := range slots {
		if ctx.Err() != nil {
			break
		}
		m.log.Info("🎾 auto-booking", zap.Stringer("slot", s))
		r := m.booker.Book(ctx, booking.Request{
			Slot:           s,
			UserCount:      m.opts.UserCount,
			EventLabel:     m.opts.EventLabel,
			DismissPayment: m.opts.DismissPayment,
		})
		results = append(results, r)
		if m.notifier != nil && r.Committed {
			if err := m.notifier.NotifyBooking(r); err != nil {
				m.log.Warn("failed to send booking notification", zap.Error(err))
			}
		}
		if r.Committed {
			break
		}
	}
	return results
}

// cronLogger routes cron's own messages to zap.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
