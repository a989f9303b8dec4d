package booking_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"courtbot/internal/booking"
	"courtbot/internal/browser/browsertest"
	"courtbot/internal/calendar"
	"courtbot/internal/models"
	"courtbot/internal/portal"
)

const base = "https://portal.test/shinagawa/web"

var (
	ref = models.FacilityRef{
		FacilityID:   "1020",
		FacilityName: "東品川公園",
		CourtID:      "10200020",
		CourtName:    "庭球場Ｂ",
	}
	weekOne = models.Date{Year: 2026, Month: time.January, Day: 5}
	target  = weekOne.AddDays(8)
)

const (
	termsHTML = `<html><head><title>利用規約</title></head><body>
<label for="ruleFg_1">同意する</label><input type="radio" id="ruleFg_1" name="ruleFg" value="1">
<button id="btn-go">次へ進む</button></body></html>`
	termsNoAgreeHTML = `<html><head><title>利用規約</title></head><body>
<p>利用規約</p><button id="btn-go">次へ進む</button></body></html>`
	confirmHTML = `<html><head><title>予約内容確認</title></head><body>
<input type="text" name="applyNum" id="peoples1" value="">
<input type="text" name="applyNum" id="peoples2" value="">
<input type="text" name="eventName" value="">
<button id="btn-go">申込む</button></body></html>`
	completionHTML = `<html><head><title>予約完了</title></head><body>
<p>予約番号：<strong>2601131100</strong></p>
<button id="btn-go">未入金予約の確認・支払へ</button></body></html>`
	paymentHTML = `<html><head><title>未入金予約の確認・支払</title></head><body>
<button class="btn-back">もどる</button></body></html>`
)

// portalFlow scripts the commitment pages behind one calendar.
type portalFlow struct {
	mu        sync.Mutex
	page      *browsertest.Page
	cal       *browsertest.Calendar
	stage     string
	selected  map[string]bool
	agreed    bool
	submits   int
	dialogMsg string
	termsHTML string
	onSubmit  func()
	count     string
	label     string
}

func newPortalFlow(t *testing.T) *portalFlow {
	t.Helper()
	cal := &browsertest.Calendar{
		Ref: ref,
		Weeks: browsertest.BuildWeeks(weekOne, 3, func(d models.Date, n int) bool {
			return d == target && n == 2
		}),
		URL:   base + portal.PathFacilityResults,
		Extra: `<button id="btn-go" class="btn-go reserve">予約</button>`,
	}
	f := &portalFlow{
		cal:       cal,
		stage:     "calendar",
		selected:  map[string]bool{},
		dialogMsg: "予約申込処理を行います。よろしいですか？",
		termsHTML: termsHTML,
	}
	f.page = browsertest.NewCalendarPage(cal)
	f.page.EvalFunc = func(_ string, arg any) (any, error) {
		id, _ := arg.(string)
		f.mu.Lock()
		defer f.mu.Unlock()
		class := "available"
		if f.selected[id] {
			class += " selected"
		}
		return map[string]any{"found": true, "className": class}, nil
	}
	f.page.Handle(`label[for="ruleFg_1"]`, func(*browsertest.Page) error {
		f.mu.Lock()
		f.agreed = true
		f.mu.Unlock()
		return nil
	})
	f.page.Handle("#btn-go", f.next)
	return f
}

func (f *portalFlow) selectOnClick(cellID string) {
	f.page.Handle("#"+cellID, func(*browsertest.Page) error {
		f.mu.Lock()
		f.selected[cellID] = true
		f.mu.Unlock()
		return nil
	})
}

func (f *portalFlow) next(p *browsertest.Page) error {
	f.mu.Lock()
	stage := f.stage
	f.mu.Unlock()

	switch stage {
	case "calendar":
		f.setStage("terms")
		p.Show(browsertest.Screen{URL: base + "/rsvWOpeReservedApplyAction.do", HTML: f.termsHTML})
	case "terms":
		f.mu.Lock()
		agreed := f.agreed
		f.mu.Unlock()
		if !agreed {
			return errors.New("terms not agreed")
		}
		f.setStage("confirm")
		p.Show(browsertest.Screen{URL: base + "/rsvWInstUseruleRsvApplyAction.do", HTML: confirmHTML})
	case "confirm":
		count, _ := p.InputValue(`input[name="applyNum"]`)
		label, _ := p.InputValue(`input[name="eventName"]`)
		f.mu.Lock()
		f.submits++
		f.count, f.label = count, label
		hook := f.onSubmit
		f.mu.Unlock()
		if hook != nil {
			hook()
		}
		if !p.Dialog(f.dialogMsg) {
			return nil
		}
		f.setStage("completion")
		p.Show(browsertest.Screen{URL: base + "/rsvWInstRsvApplyAction.do", HTML: completionHTML})
	case "completion":
		f.setStage("payment")
		p.Show(browsertest.Screen{URL: base + "/rsvWRsvGetNotPaymentRsvDataListAction.do", HTML: paymentHTML})
	}
	return nil
}

func (f *portalFlow) setStage(s string) {
	f.mu.Lock()
	f.stage = s
	f.mu.Unlock()
}

func (f *portalFlow) flow() *booking.Flow {
	nav := calendar.NewNavigator(f.page, nil)
	nav.Today = func() models.Date { return weekOne }
	nav.Timeout = 100 * time.Millisecond

	fl := booking.New(f.page, nav, nil)
	fl.StepTimeout = 200 * time.Millisecond
	fl.CompletionTimeout = 50 * time.Millisecond
	fl.Poll = time.Millisecond
	fl.Verifier().Interval = time.Millisecond
	fl.Verifier().Timeout = 20 * time.Millisecond
	return fl
}

func request() booking.Request {
	return booking.Request{
		Slot: models.Slot{
			FacilityRef: ref,
			Date:        target,
			Start:       1100,
			End:         1300,
			Status:      models.StatusAvailable,
		},
		UserCount:  4,
		EventLabel: "練習会",
	}
}

func TestBookingSucceeds(t *testing.T) {
	f := newPortalFlow(t)
	f.selectOnClick("20260113_2")

	req := request()
	req.DismissPayment = true
	res := f.flow().Run(context.Background(), req)

	if !res.Succeeded() {
		t.Fatalf("outcome = %s at %q: %s", res.Outcome, res.FailureStep, res.FailureReason)
	}
	if res.ConfirmationNumber != "2601131100" {
		t.Errorf("confirmation number = %q", res.ConfirmationNumber)
	}
	if !res.Committed || res.AttemptID == "" {
		t.Errorf("result = %+v", res)
	}
	if f.submits != 1 {
		t.Errorf("submits = %d, want 1", f.submits)
	}
	if f.count != "4" || f.label != "練習会" {
		t.Errorf("form = count %q label %q", f.count, f.label)
	}
	if n := f.page.Performed("fillall", portal.UserCountInputs); n != 1 {
		t.Errorf("user count fills = %d", n)
	}
	if n := f.page.Performed("click", "button.btn-back"); n != 1 {
		t.Errorf("payment page back clicks = %d, want 1", n)
	}
}

func TestBookingTermsControlMissing(t *testing.T) {
	f := newPortalFlow(t)
	f.selectOnClick("20260113_2")
	f.termsHTML = termsNoAgreeHTML

	res := f.flow().Run(context.Background(), request())

	if res.Succeeded() || res.FailureStep != booking.StepTerms {
		t.Fatalf("result = %s at %q", res.Outcome, res.FailureStep)
	}
	if res.Committed {
		t.Error("terms failure must not be committed")
	}
	if n := f.page.Performed("fillall", ""); n != 0 {
		t.Errorf("confirmation page touched: %d fills", n)
	}
	if f.stage != "terms" {
		t.Errorf("stage = %s, want terms", f.stage)
	}
}

func TestBookingNeverSubmitsUnconfirmedSelection(t *testing.T) {
	f := newPortalFlow(t)

	res := f.flow().Run(context.Background(), request())

	if res.FailureStep != booking.StepSelect {
		t.Fatalf("failure step = %q, want select", res.FailureStep)
	}
	if !strings.Contains(res.FailureReason, "selection not confirmed") {
		t.Errorf("reason = %q", res.FailureReason)
	}
	cell := `table#week-info td[id="20260113_2"]`
	if c, js := f.page.Performed("click", cell), f.page.Performed("jsclick", cell); c != 1 || js != 2 {
		t.Errorf("cell clicks = %d, js clicks = %d; want 1 and 2", c, js)
	}
	if n := f.page.Performed("click", "#btn-go"); n != 0 {
		t.Errorf("reserve clicked %d times without a confirmed selection", n)
	}
	if f.submits != 0 {
		t.Errorf("submits = %d", f.submits)
	}
}

func TestBookingTakenSlot(t *testing.T) {
	f := newPortalFlow(t)
	req := request()
	req.Slot.Start = 900

	res := f.flow().Run(context.Background(), req)
	if res.FailureStep != booking.StepSelect || !strings.Contains(res.FailureReason, "taken") {
		t.Fatalf("result = %q: %s", res.FailureStep, res.FailureReason)
	}
}

func TestBookingCancelledBeforeSubmit(t *testing.T) {
	f := newPortalFlow(t)
	f.selectOnClick("20260113_2")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := f.flow().Run(ctx, request())
	if res.Succeeded() || res.Committed {
		t.Fatalf("result = %+v", res)
	}
	if f.submits != 0 {
		t.Errorf("submits = %d", f.submits)
	}
}

func TestBookingCommittedIgnoresCancellation(t *testing.T) {
	f := newPortalFlow(t)
	f.selectOnClick("20260113_2")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.onSubmit = cancel

	res := f.flow().Run(ctx, request())
	if !res.Succeeded() {
		t.Fatalf("outcome = %s at %q: %s", res.Outcome, res.FailureStep, res.FailureReason)
	}
	if res.ConfirmationNumber != "2601131100" {
		t.Errorf("confirmation number = %q", res.ConfirmationNumber)
	}
}

func TestBookingSubmitNotRetried(t *testing.T) {
	f := newPortalFlow(t)
	f.selectOnClick("20260113_2")
	f.dialogMsg = "入力内容に誤りがあります"

	res := f.flow().Run(context.Background(), request())
	if res.FailureStep != booking.StepCompletion || !res.Committed {
		t.Fatalf("result = %q committed=%v", res.FailureStep, res.Committed)
	}
	if f.submits != 1 {
		t.Errorf("submits = %d, want exactly 1", f.submits)
	}
}

func TestBookingRejectsZeroUsers(t *testing.T) {
	f := newPortalFlow(t)
	req := request()
	req.UserCount = 0

	res := f.flow().Run(context.Background(), req)
	if res.FailureStep != booking.StepSelect {
		t.Fatalf("failure step = %q", res.FailureStep)
	}
	if n := len(f.page.Actions()); n != 0 {
		t.Errorf("%d page actions for an invalid request", n)
	}
}

func TestReservationNumber(t *testing.T) {
	tests := []struct {
		name string
		html string
		want string
		ok   bool
	}{
		{"labelled", `<p>予約番号：<b>1234567890</b></p>`, "1234567890", true},
		{"labelled ascii colon", `予約番号: 2222222222`, "2222222222", true},
		{"after label text", `<td>0120000000</td><p>予約番号は次のとおりです</p><p>3333333333</p>`, "3333333333", true},
		{"no label", `<p>0120000000</p>`, "", false},
		{"short number", `予約番号：12345`, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := booking.ReservationNumber(tt.html)
			if got != tt.want || ok != tt.ok {
				t.Fatalf("ReservationNumber = %q, %v; want %q, %v", got, ok, tt.want, tt.ok)
			}
		})
	}
}
