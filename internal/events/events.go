// Package events carries activity events from the engine to its observers.
package events

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"courtbot/internal/models"
)

// Emitter receives activity events. Implementations must not block.
type Emitter interface {
	Emit(e models.ActivityEvent)
}

// Func adapts a function to Emitter.
type Func func(e models.ActivityEvent)

func (f Func) Emit(e models.ActivityEvent) { f(e) }

// Discard drops every event.
var Discard Emitter = Func(func(models.ActivityEvent) {})

// New returns an event stamped with the current time.
func New(category, message string, success bool, detail map[string]any) models.ActivityEvent {
	return models.ActivityEvent{
		Category:  category,
		Message:   message,
		Success:   success,
		Timestamp: time.Now(),
		Detail:    detail,
	}
}

// Multi fans an event out to every emitter in order. Nil entries are skipped.
type Multi []Emitter

func (m Multi) Emit(e models.ActivityEvent) {
	for _, em := range m {
		if em != nil {
			em.Emit(e)
		}
	}
}

// Logger writes events to a zap logger.
type Logger struct {
	log *zap.Logger
}

func NewLogger(log *zap.Logger) *Logger {
	if log == nil {
		log = zap.NewNop()
	}
	return &Logger{log: log.Named("activity")}
}

func (l *Logger) Emit(e models.ActivityEvent) {
	fields := []zap.Field{zap.String("category", e.Category)}
	if len(e.Detail) > 0 {
		fields = append(fields, zap.Any("detail", e.Detail))
	}
	if e.Success {
		l.log.Info(e.Message, fields...)
		return
	}
	l.log.Warn(e.Message, fields...)
}

// Recent keeps the last events in memory for status reporting.
type Recent struct {
	mu   sync.Mutex
	buf  []models.ActivityEvent
	next int
	full bool
}

// NewRecent keeps at most size events.
func NewRecent(size int) *Recent {
	if size <= 0 {
		size = 100
	}
	return &Recent{buf: make([]models.ActivityEvent, size)}
}

func (r *Recent) Emit(e models.ActivityEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf[r.next] = e
	r.next = (r.next + 1) % len(r.buf)
	if r.next == 0 {
		r.full = true
	}
}

// Events returns the kept events, oldest first.
func (r *Recent) Events() []models.ActivityEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.full {
		return append([]models.ActivityEvent(nil), r.buf[:r.next]...)
	}
	out := make([]models.ActivityEvent, 0, len(r.buf))
	out = append(out, r.buf[r.next:]...)
	return append(out, r.buf[:r.next]...)
}

// Last returns the newest event of category, if any.
func (r *Recent) Last(category string) (models.ActivityEvent, bool) {
	events := r.Events()
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Category == category {
			return events[i], true
		}
	}
	return models.ActivityEvent{}, false
}
