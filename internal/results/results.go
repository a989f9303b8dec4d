// Package results tells an empty search apart from one with bookable rows.
package results

import (
	"context"
	"fmt"
	"time"

	"courtbot/internal/browser"
	"courtbot/internal/forms"
	"courtbot/internal/portal"
)

// Snapshot is what the checker reads from the page.
type Snapshot struct {
	Loading          bool
	NoResultsVisible bool
	ResultsVisible   bool
	Reservable       int
	ReserveAction    bool
}

// Outcome classifies a results page.
type Outcome struct {
	HasResults    bool
	HasReservable bool
	Loading       bool
}

// Classify is the pure decision over a snapshot. The explicit empty-state
// panel wins over everything else; without either panel the page is judged
// by its reserve controls alone.
func Classify(s Snapshot) Outcome {
	switch {
	case s.Loading:
		return Outcome{Loading: true}
	case s.NoResultsVisible:
		return Outcome{}
	case s.ResultsVisible:
		return Outcome{HasResults: true, HasReservable: s.Reservable > 0}
	case s.Reservable > 0 || s.ReserveAction:
		return Outcome{HasResults: true, HasReservable: true}
	}
	return Outcome{}
}

// Read takes a snapshot of p.
func Read(p browser.Page) (Snapshot, error) {
	var (
		s   Snapshot
		err error
	)
	if s.Loading, err = p.IsVisible(portal.WeekLoading); err != nil {
		return s, fmt.Errorf("read loading indicator: %w", err)
	}
	if s.NoResultsVisible, err = p.IsVisible(portal.NoResultsPanel); err != nil {
		return s, fmt.Errorf("read empty state: %w", err)
	}
	if s.ResultsVisible, err = p.IsVisible(portal.ResultsPanel); err != nil {
		return s, fmt.Errorf("read results list: %w", err)
	}
	if s.Reservable, err = p.Count(portal.ReservableButtons); err != nil {
		return s, fmt.Errorf("count reserve buttons: %w", err)
	}
	_, s.ReserveAction = browser.FirstVisible(p, portal.ReserveAction)
	return s, nil
}

// Check classifies the current page.
func Check(p browser.Page) (Outcome, error) {
	s, err := Read(p)
	if err != nil {
		return Outcome{}, err
	}
	return Classify(s), nil
}

// Await checks repeatedly while the page reports loading, up to timeout. A
// page still loading at the deadline is returned as such.
func Await(ctx context.Context, p browser.Page, timeout time.Duration) (Outcome, error) {
	var (
		out Outcome
		err error
	)
	forms.WaitFor(ctx, timeout, 100*time.Millisecond, func() bool {
		out, err = Check(p)
		return err != nil || !out.Loading
	})
	return out, err
}
