package cancel

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"courtbot/internal/browser/browsertest"
	"courtbot/internal/errs"
)

const (
	base     = "https://portal.test/web"
	menuHTML = `<html><head><title>ホーム</title></head><body>
		<a id="rsv-menu" class="nav-link dropdown-toggle" data-toggle="dropdown" onclick="doMsgListAction()">予約</a>
		<div class="dropdown-menu" style="%s"><a id="cancel-list" class="dropdown-item" onclick="gRsvWGetCancelRsvDataAction()">予約の確認・取消</a></div>
		<a href="rsvWUserLogoutAction.do">ログアウト</a>
	</body></html>`
	doneHTML = `<html><head><title>予約取消完了</title></head><body>
		<p>予約を取り消しました。</p>
		<button id="back" class="btn-light" onclick="doAction('gRsvWGetCancelRsvDataAction')">予約受付一覧へ</button>
	</body></html>`
)

type row struct {
	action string
	text   string
}

// fakePortal serves the home page menu, a reservation list built from rows
// and the completion page shown after each accepted cancellation.
type fakePortal struct {
	page   *browsertest.Page
	rows   []row
	prompt string
	menu   int
}

func newFakePortal(rows ...row) *fakePortal {
	f := &fakePortal{rows: rows, prompt: "選択した施設予約申込みを取り消しますか?"}
	f.page = browsertest.New(browsertest.Screen{URL: base + "/rsvWOpeHomeAction.do", HTML: fmt.Sprintf(menuHTML, "display: none")})
	f.page.Handle("#rsv-menu", func(p *browsertest.Page) error {
		f.menu++
		p.Show(browsertest.Screen{URL: p.URL(), HTML: fmt.Sprintf(menuHTML, "display: block")})
		return nil
	})
	f.page.Handle("#cancel-list", func(p *browsertest.Page) error {
		f.showList()
		return nil
	})
	f.page.Handle("#back", func(p *browsertest.Page) error {
		f.showList()
		return nil
	})
	for _, r := range rows {
		action := r.action
		f.page.Handle(fmt.Sprintf(`button[onclick="%s"]`, action), func(p *browsertest.Page) error {
			if !p.Dialog(f.prompt) {
				return nil
			}
			f.remove(action)
			p.Show(browsertest.Screen{URL: base + "/rsvWCancelRsvAction.do", HTML: doneHTML})
			return nil
		})
	}
	return f
}

func (f *fakePortal) remove(action string) {
	for i, r := range f.rows {
		if r.action == action {
			f.rows = append(f.rows[:i], f.rows[i+1:]...)
			return
		}
	}
}

func (f *fakePortal) showList() {
	var b strings.Builder
	b.WriteString(`<html><head><title>予約受付一覧</title></head><body><a href="rsvWUserLogoutAction.do">ログアウト</a><table>`)
	for _, r := range f.rows {
		fmt.Fprintf(&b, `<tr>%s<td><button class="btn-go" onclick="%s">取消</button></td></tr>`, r.text, r.action)
	}
	b.WriteString(`</table></body></html>`)
	f.page.Show(browsertest.Screen{URL: base + "/rsvWGetCancelRsvDataAction.do", HTML: b.String()})
}

func (f *fakePortal) canceller() *Canceller {
	c := New(f.page, nil)
	c.StepTimeout = 50 * time.Millisecond
	c.ClickTimeout = 10 * time.Millisecond
	c.Poll = 2 * time.Millisecond
	return c
}

var (
	morning = row{
		action: "rsvcancel('2601111234')",
		text:   "<td>2026/01/13 09:00～11:00</td><td>しながわ区民公園 庭球場Ａ</td>",
	}
	evening = row{
		action: "gRsvWCancelRsvAction(1)",
		text:   "<td>2026/01/20 17:00～19:00</td><td>八潮北公園 庭球場Ｂ</td><td>予約番号 2601115678</td>",
	}
)

func TestParseList(t *testing.T) {
	f := newFakePortal(morning, evening)
	f.showList()
	html, err := f.page.Content()
	if err != nil {
		t.Fatal(err)
	}

	rs, err := ParseList(html)
	if err != nil {
		t.Fatal(err)
	}
	if len(rs) != 2 {
		t.Fatalf("got %d reservations: %+v", len(rs), rs)
	}
	if rs[0].Number != "2601111234" || !strings.Contains(rs[0].Summary, "しながわ区民公園") || strings.HasSuffix(rs[0].Summary, "取消") {
		t.Errorf("first = %+v", rs[0])
	}
	if rs[1].Number != "2601115678" || rs[1].Action != evening.action {
		t.Errorf("second = %+v", rs[1])
	}
	if got := rs[0].Selector(); got != `button[onclick="rsvcancel('2601111234')"]` {
		t.Errorf("selector = %s", got)
	}
}

func TestSelectorEscapesQuotes(t *testing.T) {
	r := Reservation{Action: `doAction("x\y")`}
	if got := r.Selector(); got != `button[onclick="doAction(\"x\\y\")"]` {
		t.Fatalf("selector = %s", got)
	}
}

func TestCancelByNumber(t *testing.T) {
	f := newFakePortal(morning, evening)
	c := f.canceller()

	got, err := c.Cancel(context.Background(), "2601115678")
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if got.Number != "2601115678" || !strings.Contains(got.Summary, "八潮北公園") || got.CancelledAt.IsZero() {
		t.Fatalf("cancellation = %+v", got)
	}
	if f.menu != 1 || f.page.Performed("dialog", "") != 1 {
		t.Errorf("actions = %+v", f.page.Actions())
	}
	if len(f.rows) != 1 || f.rows[0].action != morning.action {
		t.Errorf("remaining = %+v", f.rows)
	}
	if !strings.Contains(f.page.URL(), "rsvWGetCancelRsvDataAction") {
		t.Errorf("left on %s, want the reservation list", f.page.URL())
	}
}

func TestCancelUnlistedNumber(t *testing.T) {
	f := newFakePortal(morning)
	c := f.canceller()

	_, err := c.Cancel(context.Background(), "2699999999")
	if !errors.Is(err, errs.ErrReservationNotListed) || !errors.Is(err, errs.ErrCancellation) {
		t.Fatalf("err = %v", err)
	}
	if f.page.Performed("dialog", "") != 0 || len(f.rows) != 1 {
		t.Fatalf("nothing should have been cancelled: %+v", f.page.Actions())
	}
}

func TestCancelAll(t *testing.T) {
	f := newFakePortal(morning, evening)
	c := f.canceller()

	done, err := c.CancelAll(context.Background())
	if err != nil {
		t.Fatalf("CancelAll: %v", err)
	}
	if len(done) != 2 || done[0].Number != "2601111234" || done[1].Number != "2601115678" {
		t.Fatalf("cancelled = %+v", done)
	}
	if len(f.rows) != 0 {
		t.Errorf("remaining = %+v", f.rows)
	}
	if f.menu != 1 {
		t.Errorf("menu opened %d times, want 1", f.menu)
	}
}

func TestCancelAllStopsAtMax(t *testing.T) {
	f := newFakePortal(morning, evening)
	c := f.canceller()
	c.Max = 1

	done, err := c.CancelAll(context.Background())
	if err != nil || len(done) != 1 || len(f.rows) != 1 {
		t.Fatalf("CancelAll = %+v, %v; remaining %+v", done, err, f.rows)
	}
}

func TestCancelUnexpectedDialogIsDismissed(t *testing.T) {
	f := newFakePortal(morning)
	f.prompt = "システムメンテナンスのお知らせ"
	c := f.canceller()

	_, err := c.Cancel(context.Background(), "2601111234")
	var ce *errs.CancelError
	if !errors.As(err, &ce) || ce.Step != StepComplete || ce.Number != "2601111234" {
		t.Fatalf("err = %v", err)
	}
	if !strings.Contains(err.Error(), "confirmation dialog not shown") {
		t.Errorf("err = %v", err)
	}
	if len(f.rows) != 1 {
		t.Fatal("reservation removed despite the dismissed dialog")
	}
}

func TestOpenListWithoutMenu(t *testing.T) {
	f := newFakePortal()
	f.page.Show(browsertest.Screen{URL: base + "/rsvWOpeHomeAction.do", HTML: `<html><head><title>ホーム</title></head><body></body></html>`})
	c := f.canceller()

	_, err := c.List(context.Background())
	var ce *errs.CancelError
	if !errors.As(err, &ce) || ce.Step != StepList {
		t.Fatalf("err = %v", err)
	}
}
