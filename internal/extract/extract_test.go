package extract

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"courtbot/internal/browser/browsertest"
	"courtbot/internal/calendar"
	"courtbot/internal/errs"
	"courtbot/internal/models"
)

var (
	weekOne = models.Date{Year: 2026, Month: time.January, Day: 5}
	court   = models.FacilityRef{FacilityID: "1040", FacilityName: "八潮北公園", CourtID: "10400010", CourtName: "庭球場A"}
)

func fixture(t *testing.T, cal *browsertest.Calendar) (*browsertest.Page, *Extractor) {
	t.Helper()
	cal.Ref = court
	page := browsertest.NewCalendarPage(cal)
	nav := calendar.NewNavigator(page, nil)
	nav.Timeout = 200 * time.Millisecond
	nav.Today = func() models.Date { return weekOne }
	ex := New(page, nav, nil)
	ex.Timeout = 200 * time.Millisecond
	return page, ex
}

func TestParseWeek(t *testing.T) {
	cal := &browsertest.Calendar{
		Ref: court,
		Weeks: [][]browsertest.Cell{{
			{Date: weekOne, N: 1, Start: 900, End: 1100, Available: true},
			{Date: weekOne, N: 2, Start: 1100, End: 1300},
		}},
	}
	slots, err := ParseWeek(cal.HTML(0), models.FacilityRef{FacilityID: "1040", CourtID: "10400010"})
	if err != nil {
		t.Fatal(err)
	}
	want := []models.Slot{
		{FacilityRef: court, Date: weekOne, Start: 900, End: 1100, Status: models.StatusAvailable, CellID: "20260105_1"},
		{FacilityRef: court, Date: weekOne, Start: 1100, End: 1300, Status: models.StatusTaken, CellID: "20260105_2"},
	}
	if !reflect.DeepEqual(slots, want) {
		t.Fatalf("ParseWeek =\n%+v\nwant\n%+v", slots, want)
	}

	again, err := ParseWeek(cal.HTML(0), models.FacilityRef{FacilityID: "1040", CourtID: "10400010"})
	if err != nil || !reflect.DeepEqual(again, slots) {
		t.Fatalf("second parse differs: %v", err)
	}
}

func TestFromWeeklyCalendarSparse(t *testing.T) {
	weeks := make([][]browsertest.Cell, 6)
	weeks[0] = []browsertest.Cell{
		{Date: weekOne, N: 1, Start: 900, End: 1100, Available: true},
		{Date: weekOne.AddDays(2), N: 2, Start: 1100, End: 1300, Available: true},
	}
	weeks[2] = []browsertest.Cell{
		{Date: weekOne.AddDays(16), N: 1, Start: 900, End: 1100, Available: true},
	}
	cal := &browsertest.Calendar{Weeks: weeks}
	_, ex := fixture(t, cal)

	ext, err := ex.FromWeeklyCalendar(context.Background(), court)
	if err != nil {
		t.Fatalf("FromWeeklyCalendar: %v", err)
	}
	if len(ext.Slots) != 3 || !ext.Complete || ext.Weeks != 6 {
		t.Fatalf("extraction = %+v", ext)
	}
	if cal.Week != 0 {
		t.Fatalf("calendar left on week %d", cal.Week)
	}
	if got := ext.Slots[2].Date; got != weekOne.AddDays(16) {
		t.Fatalf("last slot date = %v", got)
	}
}

func TestFromWeeklyCalendarNoDuplicates(t *testing.T) {
	cal := &browsertest.Calendar{
		Weeks: browsertest.BuildWeeks(weekOne, 8, func(d models.Date, n int) bool { return (d.Day+n)%3 == 0 }),
		Week:  2,
	}
	_, ex := fixture(t, cal)

	ext, err := ex.FromWeeklyCalendar(context.Background(), court)
	if err != nil {
		t.Fatal(err)
	}
	if want := 6 * 7 * 2; len(ext.Slots) != want {
		t.Fatalf("got %d slots, want %d", len(ext.Slots), want)
	}
	seen := map[models.SlotKey]bool{}
	for _, s := range ext.Slots {
		if seen[s.Key()] {
			t.Fatalf("duplicate slot %s", s.Key())
		}
		seen[s.Key()] = true
	}
	if cal.Week != 0 {
		t.Fatalf("calendar left on week %d", cal.Week)
	}
}

func TestFromWeeklyCalendarRecoversOnBackwardPass(t *testing.T) {
	cal := &browsertest.Calendar{Weeks: browsertest.BuildWeeks(weekOne, 6, func(models.Date, int) bool { return true })}
	page, ex := fixture(t, cal)
	failed := false
	page.ContentErr = func() error {
		if cal.Week == 3 && !failed {
			failed = true
			return errors.New("grid render error")
		}
		return nil
	}

	ext, err := ex.FromWeeklyCalendar(context.Background(), court)
	if err != nil || !ext.Complete {
		t.Fatalf("extraction = %+v, err = %v", ext, err)
	}
	if !failed {
		t.Fatal("failure hook never ran")
	}
}

func TestFromWeeklyCalendarIncomplete(t *testing.T) {
	cal := &browsertest.Calendar{Weeks: browsertest.BuildWeeks(weekOne, 6, func(models.Date, int) bool { return true })}
	page, ex := fixture(t, cal)
	page.ContentErr = func() error {
		if cal.Week == 3 {
			return errors.New("grid render error")
		}
		return nil
	}

	ext, err := ex.FromWeeklyCalendar(context.Background(), court)
	if !errors.Is(err, errs.ErrExtractionIncomplete) {
		t.Fatalf("err = %v, want extraction incomplete", err)
	}
	if ext.Complete || !reflect.DeepEqual(ext.Missing, []int{3}) {
		t.Fatalf("extraction = complete:%v missing:%v", ext.Complete, ext.Missing)
	}
	if len(ext.Slots) != 5*7*2 {
		t.Fatalf("partial extraction has %d slots", len(ext.Slots))
	}
	if cal.Week != 0 {
		t.Fatalf("calendar left on week %d", cal.Week)
	}
}

func TestFromWeeklyCalendarShortWindow(t *testing.T) {
	cal := &browsertest.Calendar{Weeks: browsertest.BuildWeeks(weekOne, 3, func(models.Date, int) bool { return false })}
	_, ex := fixture(t, cal)
	ext, err := ex.FromWeeklyCalendar(context.Background(), court)
	if err != nil || ext.Weeks != 3 || !ext.Complete {
		t.Fatalf("extraction = %+v, err = %v", ext, err)
	}
	if n := len(models.Available(ext.Slots)); n != 0 {
		t.Fatalf("%d available slots in a fully taken calendar", n)
	}
}

const resultHTML = `<html><body>
<select id="facility-select">
  <option value="">全て</option>
  <option value="10200010">庭球場A</option>
  <option value="10200020">庭球場B</option>
</select>
<div id="unreserved-list"><table>
<tr id="20260105_1020_10200020_830_0">
  <td class="mansion">しながわ区民公園</td><td class="facility">庭球場B</td><td>8:30～10:30</td>
  <td class="reservation"><button class="btn-go" onclick="doReserved(20260105,'1020','10200020',0,830,1030,31000000,31011700,0)">予約</button></td>
</tr>
<tr id="20260105_1020_10200020_1030_1">
  <td class="mansion">しながわ区民公園</td><td class="facility">庭球場B</td><td>10:30～12:30</td>
  <td class="reservation"><button class="btn-go" onclick="doReserved(20260105,'1020','10200020',1,1030,1230,31000000,31011700,0)">予約</button></td>
</tr>
<tr id="20260106_1020_10200010_1230_0">
  <td class="mansion">しながわ区民公園</td><td class="facility">庭球場A</td><td>12:30～14:30</td>
  <td class="reservation"></td>
</tr>
</table></div>
</body></html>`

func TestParseResultPage(t *testing.T) {
	slots, err := ParseResultPage(resultHTML)
	if err != nil {
		t.Fatal(err)
	}
	if len(slots) != 3 {
		t.Fatalf("got %d slots", len(slots))
	}
	first := slots[0]
	if first.Status != models.StatusAvailable || first.End != 1030 || first.PurposeCode != "31000000" ||
		first.FacilityName != "しながわ区民公園" || first.CourtName != "庭球場B" {
		t.Fatalf("first = %+v", first)
	}
	if slots[1].Status != models.StatusTaken {
		t.Fatalf("fieldCnt 1 should be taken: %+v", slots[1])
	}
	if slots[2].Status != models.StatusTaken || slots[2].End != 1430 {
		t.Fatalf("row without button = %+v", slots[2])
	}
}

func TestCourts(t *testing.T) {
	courts, err := Courts(resultHTML)
	if err != nil {
		t.Fatal(err)
	}
	want := []models.Court{{ID: "10200010", Name: "庭球場A"}, {ID: "10200020", Name: "庭球場B"}}
	if !reflect.DeepEqual(courts, want) {
		t.Fatalf("Courts = %+v", courts)
	}
}
