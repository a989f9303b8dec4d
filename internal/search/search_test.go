package search

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"courtbot/internal/browser/browsertest"
	"courtbot/internal/models"
)

var (
	kuminPark = models.Facility{ID: "1020", Name: "しながわ区民公園", AreaCode: "1400_1020",
		Courts: []models.Court{{ID: "10200010", Name: "庭球場A"}, {ID: "10200020", Name: "庭球場B"}}}
	yashioPark = models.Facility{ID: "1040", Name: "八潮北公園", AreaCode: "1400_1040"}
	weekOne    = models.Date{Year: 2026, Month: time.January, Day: 5}
)

// portalFixture renders a search form and, once submitted, a result page
// whose rows grow with every "show more" press.
type portalFixture struct {
	page      *browsertest.Page
	panelOpen bool
	searched  bool
	empty     map[string]bool
	area      string
	rows      int
	moreLeft  int
	searches  []string
	calendar  *browsertest.Calendar
}

func newFixture() *portalFixture {
	f := &portalFixture{panelOpen: true, empty: map[string]bool{}}
	f.page = browsertest.New(browsertest.Screen{})
	f.render()
	f.page.Handle("#btn-search", func(p *browsertest.Page) error {
		f.area, _ = p.InputValue("select#bname")
		f.searches = append(f.searches, f.area)
		f.searched, f.panelOpen = true, false
		f.rows, f.moreLeft = 2, 2
		f.render()
		return nil
	})
	f.page.Handle("#change-condition", func(*browsertest.Page) error {
		f.panelOpen = true
		f.render()
		return nil
	})
	f.page.Handle("#unreserved-moreBtn", func(*browsertest.Page) error {
		f.rows += 2
		f.moreLeft--
		f.render()
		return nil
	})
	return f
}

func (f *portalFixture) body() string {
	var b strings.Builder
	style := ""
	if !f.panelOpen {
		style = ` style="display:none"`
	}
	fmt.Fprintf(&b, `<div id="free-search-cond"%s>
		<ul id="free-info-nav"><li><a class="nav-link" href="#date">日付ごと</a></li><li><a class="nav-link active" href="#facility">施設ごと</a></li></ul>
		<label for="thismonth">1か月</label><input type="radio" id="thismonth" name="date" value="4">
		<select id="bname"><option value="">--</option><option value="1400_1020">しながわ区民公園</option><option value="1400_1040">八潮北公園</option></select>
		<select id="iname"><option value="">--</option><option value="10200010">庭球場A</option><option value="10200020">庭球場B</option></select>
		<select id="purpose"><option value="">--</option><option value="31000000_31011700">テニス</option></select>
		<button id="btn-search">検索</button>
	</div>`, style)
	if !f.searched {
		return b.String()
	}
	b.WriteString(`<button id="change-condition">条件変更</button>`)
	if f.empty[f.area] {
		b.WriteString(`<div id="unreserved-notfound">該当する空き施設はありません</div>`)
		return b.String()
	}
	b.WriteString(`<select id="facility-select"><option value="">全て</option><option value="10200010">庭球場A</option><option value="10200020">庭球場B</option></select>`)
	b.WriteString(`<div id="unreserved-list"><table>`)
	for i := 0; i < f.rows; i++ {
		d := weekOne.AddDays(i)
		fmt.Fprintf(&b, `<tr id="%d_1020_10200010_830_0"><td class="mansion">しながわ区民公園</td><td class="facility">庭球場A</td>
			<td class="reservation"><button class="btn-go" onclick="doReserved(%d,'1020','10200010',0,830,1030,31000000,31011700,0)">予約</button></td></tr>`,
			d.YMD(), d.YMD())
	}
	b.WriteString(`</table></div>`)
	if f.moreLeft > 0 {
		b.WriteString(`<button id="unreserved-moreBtn">もっと見る</button>`)
	}
	return b.String()
}

func (f *portalFixture) render() {
	if f.calendar != nil && f.searched {
		f.calendar.Extra = f.body()
		f.calendar.Install(f.page)
		return
	}
	f.page.Show(browsertest.Screen{URL: "https://portal.test/web/rsvWOpeUnreservedDailyAction.do",
		HTML: "<html><head><title>空き状況</title></head><body>" + f.body() + "</body></html>"})
}

func newOrchestrator(f *portalFixture) *Orchestrator {
	o := New(f.page, "https://portal.test/web", nil)
	o.Timeout = 100 * time.Millisecond
	o.Navigator().Timeout = 100 * time.Millisecond
	o.Navigator().Today = func() models.Date { return weekOne }
	o.Extractor().Timeout = 100 * time.Millisecond
	return o
}

func TestSearchByForm(t *testing.T) {
	f := newFixture()
	o := newOrchestrator(f)

	res, err := o.SearchByForm(context.Background(), kuminPark, Options{})
	if err != nil {
		t.Fatalf("SearchByForm: %v", err)
	}
	if !res.HasResults || !res.HasReservable {
		t.Fatalf("result = %+v", res)
	}
	if res.MoreClicks != 2 || len(res.Slots) != 6 {
		t.Fatalf("more clicks = %d, rows = %d", res.MoreClicks, len(res.Slots))
	}
	if len(res.Courts) != 2 {
		t.Fatalf("courts = %+v", res.Courts)
	}
	if len(f.searches) != 1 || f.searches[0] != "1400_1020" {
		t.Fatalf("searches = %v", f.searches)
	}
	if n := f.page.Performed("select", "select#purpose"); n != 1 {
		t.Fatalf("activity selected %d times", n)
	}
}

func TestSearchMoreClicksAreBounded(t *testing.T) {
	f := newFixture()
	o := newOrchestrator(f)

	res, err := o.SearchByForm(context.Background(), kuminPark, Options{MaxMoreClicks: 1})
	if err != nil {
		t.Fatal(err)
	}
	if res.MoreClicks != 1 || len(res.Slots) != 4 {
		t.Fatalf("more clicks = %d, rows = %d", res.MoreClicks, len(res.Slots))
	}
}

func TestSearchNoResults(t *testing.T) {
	f := newFixture()
	f.empty["1400_1040"] = true
	o := newOrchestrator(f)

	res, err := o.SearchByForm(context.Background(), yashioPark, Options{})
	if err != nil {
		t.Fatalf("an empty result is not an error: %v", err)
	}
	if res.HasResults || res.HasReservable || len(res.Slots) != 0 {
		t.Fatalf("result = %+v", res)
	}
	if n := f.page.Performed("click", "#unreserved-moreBtn"); n != 0 {
		t.Fatalf("show more pressed %d times on an empty page", n)
	}
}

func TestChangeFacilityAndResearch(t *testing.T) {
	f := newFixture()
	f.empty["1400_1040"] = true
	o := newOrchestrator(f)
	ctx := context.Background()

	if _, err := o.SearchByForm(ctx, kuminPark, Options{}); err != nil {
		t.Fatal(err)
	}
	res, err := o.ChangeFacilityAndResearch(ctx, yashioPark, Options{})
	if err != nil {
		t.Fatalf("ChangeFacilityAndResearch: %v", err)
	}
	if res.HasResults {
		t.Fatalf("result = %+v", res)
	}
	if len(f.searches) != 2 || f.searches[1] != "1400_1040" {
		t.Fatalf("searches = %v", f.searches)
	}
	if n := f.page.Performed("click", "#change-condition"); n != 1 {
		t.Fatalf("change-condition pressed %d times", n)
	}
}

func TestSearchWithCourtAndCalendar(t *testing.T) {
	f := newFixture()
	f.calendar = &browsertest.Calendar{
		Ref:   kuminPark.Ref(kuminPark.Courts[1]),
		Weeks: browsertest.BuildWeeks(weekOne, 6, func(d models.Date, n int) bool { return n == 1 }),
	}
	o := newOrchestrator(f)

	res, err := o.SearchByForm(context.Background(), kuminPark, Options{CourtID: "10200020", ExtractCalendar: true})
	if err != nil {
		t.Fatalf("SearchByForm: %v", err)
	}
	if res.Extraction == nil || !res.Extraction.Complete {
		t.Fatalf("extraction = %+v", res.Extraction)
	}
	if n := len(models.Available(res.Extraction.Slots)); n != 6*7 {
		t.Fatalf("available calendar slots = %d", n)
	}
	if n := f.page.Performed("select", "#facility-select"); n != 1 {
		t.Fatalf("court selected %d times on the result page", n)
	}
	if got := len(res.AllSlots()); got != 6*7*2+len(res.Slots) {
		t.Fatalf("AllSlots = %d", got)
	}
	if f.calendar.Week != 0 {
		t.Fatalf("calendar left on week %d", f.calendar.Week)
	}
}
