package calendar

import (
	"context"
	"errors"
	"testing"
	"time"

	"courtbot/internal/browser/browsertest"
	"courtbot/internal/errs"
	"courtbot/internal/models"
)

var weekOne = models.Date{Year: 2026, Month: time.January, Day: 5}

func newFixture(t *testing.T, week int) (*browsertest.Calendar, *browsertest.Page, *Navigator) {
	t.Helper()
	cal := &browsertest.Calendar{
		Ref:   models.FacilityRef{FacilityID: "1040", FacilityName: "Park", CourtID: "10400010", CourtName: "CourtA"},
		Weeks: browsertest.BuildWeeks(weekOne, 7, func(models.Date, int) bool { return true }),
		Week:  week,
	}
	page := browsertest.NewCalendarPage(cal)
	nav := NewNavigator(page, nil)
	nav.Timeout = 200 * time.Millisecond
	nav.Today = func() models.Date { return weekOne }
	return cal, page, nav
}

func TestToWeekOne(t *testing.T) {
	cal, page, nav := newFixture(t, 3)
	nav.Offset = 3

	if err := nav.ToWeekOne(context.Background()); err != nil {
		t.Fatalf("ToWeekOne: %v", err)
	}
	if nav.Offset != 0 || cal.Week != 0 {
		t.Fatalf("offset=%d week=%d, want 0/0", nav.Offset, cal.Week)
	}
	if n := page.Performed("click", "#last-week"); n != 3 {
		t.Fatalf("previous pressed %d times, want 3", n)
	}
	at, err := nav.IsAtWeekOne()
	if err != nil || !at {
		t.Fatalf("IsAtWeekOne = %v, %v", at, err)
	}
}

func TestToWeekOneIsBounded(t *testing.T) {
	_, page, nav := newFixture(t, 5)
	nav.MaxSteps = 2

	err := nav.ToWeekOne(context.Background())
	if !errors.Is(err, errs.ErrNavigationTimeout) {
		t.Fatalf("err = %v, want navigation timeout", err)
	}
	var ne *errs.NavigationError
	if !errors.As(err, &ne) || ne.Steps != 2 {
		t.Fatalf("err = %#v, want 2 steps", err)
	}
	if n := page.Performed("click", "#last-week"); n != 2 {
		t.Fatalf("previous pressed %d times, want 2", n)
	}
}

func TestNavigationClosure(t *testing.T) {
	cal, _, nav := newFixture(t, 0)
	ctx := context.Background()

	for k := 0; k < 6; k++ {
		moved, err := nav.Next(ctx)
		if err != nil || !moved {
			t.Fatalf("Next #%d: moved=%v err=%v", k, moved, err)
		}
	}
	moved, err := nav.Next(ctx)
	if err != nil || moved {
		t.Fatalf("Next past the last week: moved=%v err=%v", moved, err)
	}
	if nav.Offset != 6 || cal.Week != 6 {
		t.Fatalf("offset=%d week=%d", nav.Offset, cal.Week)
	}
	for k := 0; k < 6; k++ {
		if _, err := nav.Previous(ctx); err != nil {
			t.Fatal(err)
		}
	}
	if nav.Offset != 0 || cal.Week != 0 {
		t.Fatalf("after return offset=%d week=%d", nav.Offset, cal.Week)
	}
	moved, err = nav.Previous(ctx)
	if err != nil || moved {
		t.Fatalf("Previous at boundary: moved=%v err=%v", moved, err)
	}
}

func TestSeekAndWeekStart(t *testing.T) {
	cal, _, nav := newFixture(t, 2)
	target := weekOne.AddDays(3*7 + 4)

	if err := nav.Seek(context.Background(), target); err != nil {
		t.Fatalf("Seek: %v", err)
	}
	if cal.Week != 3 || nav.Offset != 3 {
		t.Fatalf("week=%d offset=%d, want 3", cal.Week, nav.Offset)
	}
	start, ok := nav.WeekStart()
	if !ok || start != weekOne.AddDays(21) {
		t.Fatalf("WeekStart = %v, %v", start, ok)
	}
}

func TestSeekBeyondWindow(t *testing.T) {
	_, _, nav := newFixture(t, 0)
	err := nav.Seek(context.Background(), weekOne.AddDays(70))
	if !errors.Is(err, errs.ErrNavigationTimeout) {
		t.Fatalf("err = %v", err)
	}
}
