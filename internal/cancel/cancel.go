// Package cancel drives the portal's reservation list: open it from the
// 予約 menu, read the cancellable reservations and cancel them one at a
// time.
package cancel

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"courtbot/internal/browser"
	"courtbot/internal/errs"
	"courtbot/internal/forms"
	"courtbot/internal/portal"
)

// Step names carried by errs.CancelError.
const (
	StepList     = "list"
	StepCancel   = "cancel"
	StepComplete = "completion"
)

// Reservation is one row of the reservation list.
type Reservation struct {
	Number  string `json:"number"`
	Summary string `json:"summary"`
	// Action is the onclick handler of the row's cancel button.
	Action string `json:"-"`
}

// Selector returns a selector matching the row's cancel button.
func (r Reservation) Selector() string {
	return fmt.Sprintf(`button[onclick="%s"]`, cssString(r.Action))
}

// Cancellation is a reservation the portal confirmed as cancelled.
type Cancellation struct {
	Number      string    `json:"number"`
	Summary     string    `json:"summary"`
	CancelledAt time.Time `json:"cancelled_at"`
}

// ParseList reads the cancellable reservations from the list page.
func ParseList(html string) ([]Reservation, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	var out []Reservation
	doc.Find(portal.CancelButtons).Each(func(_ int, btn *goquery.Selection) {
		action, ok := btn.Attr("onclick")
		if !ok || action == "" {
			return
		}
		row := btn.Closest("tr")
		if row.Length() == 0 {
			row = btn.Parent()
		}
		summary := strings.Join(strings.Fields(row.Text()), " ")
		summary = strings.TrimSpace(strings.TrimSuffix(summary, portal.TextCancel))
		number := portal.ReservationNumberPattern.FindString(action)
		if number == "" {
			number = portal.ReservationNumberPattern.FindString(summary)
		}
		out = append(out, Reservation{Number: number, Summary: summary, Action: action})
	})
	return out, nil
}

// Canceller works on the page held by the caller's lease.
type Canceller struct {
	page browser.Page
	log  *zap.Logger

	StepTimeout  time.Duration
	ClickTimeout time.Duration
	Poll         time.Duration
	// Max bounds the reservations CancelAll cancels.
	Max int
	Now func() time.Time
}

func New(p browser.Page, log *zap.Logger) *Canceller {
	if log == nil {
		log = zap.NewNop()
	}
	return &Canceller{
		page:         p,
		log:          log.Named("cancel"),
		StepTimeout:  30 * time.Second,
		ClickTimeout: 10 * time.Second,
		Poll:         200 * time.Millisecond,
		Max:          100,
		Now:          time.Now,
	}
}

func (c *Canceller) onList() bool {
	return c.onPage(portal.MarkerCancelListURL, portal.TitleCancelList)
}

func (c *Canceller) onPage(urlMarker, title string) bool {
	if strings.Contains(c.page.URL(), urlMarker) {
		return true
	}
	t, err := c.page.Title()
	return err == nil && strings.Contains(t, title)
}

func (c *Canceller) waitFor(ctx context.Context, urlMarker, title string) bool {
	return forms.WaitFor(ctx, c.StepTimeout, c.Poll, func() bool {
		return c.onPage(urlMarker, title)
	})
}

// OpenList shows the reservation list, going through the 予約 menu unless
// the list is already on screen.
func (c *Canceller) OpenList(ctx context.Context) error {
	if c.onList() {
		return nil
	}
	if _, ok := browser.FirstVisible(c.page, portal.CancelListLink); !ok {
		if _, err := forms.ClickFirst(c.page, portal.ReservationMenu, c.ClickTimeout); err != nil {
			return errs.CancelStep(StepList, "", fmt.Errorf("open reservation menu: %w", err))
		}
		if _, err := forms.WaitAny(ctx, c.page, portal.CancelListLink, c.StepTimeout, c.Poll); err != nil {
			return errs.CancelStep(StepList, "", err)
		}
	}
	c.page.OnDialog(func(msg string) bool {
		c.log.Info("dialog accepted", zap.String("message", msg))
		return true
	})
	if _, err := forms.ClickFirst(c.page, portal.CancelListLink, c.ClickTimeout); err != nil {
		return errs.CancelStep(StepList, "", err)
	}
	if !c.waitFor(ctx, portal.MarkerCancelListURL, portal.TitleCancelList) {
		return errs.CancelStep(StepList, "", c.waitErr(ctx, "reservation list"))
	}
	c.log.Info("📋 reservation list shown")
	return nil
}

// List opens the reservation list and reads it.
func (c *Canceller) List(ctx context.Context) ([]Reservation, error) {
	if err := c.OpenList(ctx); err != nil {
		return nil, err
	}
	return c.read()
}

func (c *Canceller) read() ([]Reservation, error) {
	html, err := c.page.Content()
	if err != nil {
		return nil, errs.CancelStep(StepList, "", fmt.Errorf("read reservation list: %w", err))
	}
	if portal.IsSessionTimeout(html) {
		return nil, errs.CancelStep(StepList, "", errs.ErrSessionExpired)
	}
	rs, err := ParseList(html)
	if err != nil {
		return nil, errs.CancelStep(StepList, "", err)
	}
	return rs, nil
}

// Cancel cancels the reservation with the given number.
func (c *Canceller) Cancel(ctx context.Context, number string) (Cancellation, error) {
	rs, err := c.List(ctx)
	if err != nil {
		return Cancellation{}, err
	}
	for _, r := range rs {
		if r.Number == number {
			done, err := c.cancelOne(ctx, r)
			if err == nil {
				c.returnToList(ctx)
			}
			return done, err
		}
	}
	return Cancellation{}, errs.CancelStep(StepList, number, errs.ErrReservationNotListed)
}

// CancelAll cancels every listed reservation, first row first, until the
// list is empty or Max reservations were cancelled. It returns the
// cancellations made before any error.
func (c *Canceller) CancelAll(ctx context.Context) ([]Cancellation, error) {
	var done []Cancellation
	for len(done) < c.Max {
		if err := ctx.Err(); err != nil {
			return done, err
		}
		rs, err := c.List(ctx)
		if err != nil {
			return done, err
		}
		if len(rs) == 0 {
			break
		}
		cn, err := c.cancelOne(ctx, rs[0])
		if err != nil {
			return done, err
		}
		done = append(done, cn)
		c.returnToList(ctx)
	}
	c.log.Info("cancellation finished", zap.Int("cancelled", len(done)))
	return done, nil
}

// cancelOne clicks the row's cancel button and accepts the portal's
// confirmation. Once the confirmation is accepted the cancellation is
// irreversible, so the wait for the completion page ignores ctx.
func (c *Canceller) cancelOne(ctx context.Context, r Reservation) (Cancellation, error) {
	if err := ctx.Err(); err != nil {
		return Cancellation{}, errs.CancelStep(StepCancel, r.Number, err)
	}
	var confirmed atomic.Bool
	c.page.OnDialog(func(msg string) bool {
		if strings.Contains(msg, portal.DialogConfirmCancel) || strings.Contains(msg, portal.TextCancel) {
			confirmed.Store(true)
			return true
		}
		c.log.Warn("unexpected dialog dismissed", zap.String("message", msg))
		return false
	})

	log := c.log.With(zap.String("number", r.Number))
	log.Info("🗑️ cancelling reservation", zap.String("summary", r.Summary))
	if err := c.page.Click(r.Selector(), c.ClickTimeout); err != nil {
		if jsErr := c.page.JSClick(r.Selector()); jsErr != nil {
			return Cancellation{}, errs.CancelStep(StepCancel, r.Number, errors.Join(err, jsErr))
		}
	}

	if !c.waitFor(context.WithoutCancel(ctx), portal.MarkerCancelledURL, portal.TitleCancelled) {
		err := errors.New("completion page not shown")
		if !confirmed.Load() {
			err = errors.New("confirmation dialog not shown")
		}
		return Cancellation{}, errs.CancelStep(StepComplete, r.Number, err)
	}
	log.Info("✅ reservation cancelled")
	return Cancellation{Number: r.Number, Summary: r.Summary, CancelledAt: c.Now()}, nil
}

// returnToList presses the completion page's way back to the list. A
// failure only costs a trip through the menu on the next OpenList.
func (c *Canceller) returnToList(ctx context.Context) {
	c.page.OnDialog(func(string) bool { return true })
	if _, err := forms.ClickFirst(c.page, portal.BackToList, c.ClickTimeout); err != nil {
		c.log.Debug("no way back to the list", zap.Error(err))
		return
	}
	if !c.waitFor(ctx, portal.MarkerCancelListURL, portal.TitleCancelList) {
		c.log.Debug("reservation list not shown after cancellation")
	}
}

func (c *Canceller) waitErr(ctx context.Context, what string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	return errs.Navigation(what, 0, nil)
}

// cssString escapes s for a double-quoted CSS string.
func cssString(s string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\a `).Replace(s)
}
