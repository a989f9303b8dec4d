package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	gws "github.com/gorilla/websocket"

	"courtbot/internal/api/handlers"
	"courtbot/internal/booking"
	"courtbot/internal/cancel"
	"courtbot/internal/errs"
	"courtbot/internal/events"
	"courtbot/internal/models"
	"courtbot/internal/monitor"
	"courtbot/internal/storage"
	"courtbot/internal/websocket"
)

var jan13 = models.Date{Year: 2026, Month: time.January, Day: 13}

var park = models.Facility{
	ID:       "1020",
	Name:     "東品川公園",
	AreaCode: "1400_1020",
	Priority: 1,
	Courts:   []models.Court{{ID: "10200010", Name: "庭球場Ａ"}},
}

type fakeEngine struct {
	mu     sync.Mutex
	scans  []models.DateRange
	books  []booking.Request
	result models.BookingResult
}

func (e *fakeEngine) Scan(_ context.Context, facilities []models.Facility, r models.DateRange) []models.ScanReport {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.scans = append(e.scans, r)
	var reports []models.ScanReport
	for _, f := range facilities {
		reports = append(reports, models.ScanReport{Facility: f, Complete: true})
	}
	return reports
}

func (e *fakeEngine) Book(_ context.Context, req booking.Request) models.BookingResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.books = append(e.books, req)
	r := e.result
	r.Slot = req.Slot
	return r
}

func (e *fakeEngine) Facility(id string) (models.Facility, bool) {
	if id == park.ID {
		return park, true
	}
	return models.Facility{}, false
}

func (e *fakeEngine) Facilities() []models.Facility { return []models.Facility{park} }

func (e *fakeEngine) Cancel(_ context.Context, number string) (cancel.Cancellation, error) {
	if number != "2601131100" {
		return cancel.Cancellation{}, errs.CancelStep(cancel.StepList, number, errs.ErrReservationNotListed)
	}
	return cancel.Cancellation{Number: number, Summary: "2026/01/13 東品川公園", CancelledAt: time.Now()}, nil
}

type fakeMonitor struct{ check monitor.Check }

func (m fakeMonitor) Last() (monitor.Check, bool) { return m.check, true }
func (m fakeMonitor) NextRun() (time.Time, bool)  { return time.Time{}, false }

type fixture struct {
	srv    *httptest.Server
	engine *fakeEngine
	db     *storage.DB
	recent *events.Recent
	hub    *websocket.Hub
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "api.db"), nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	hub := websocket.NewHub(nil)
	go hub.Run(ctx)

	f := &fixture{
		engine: &fakeEngine{result: models.BookingResult{Outcome: models.OutcomeSucceeded, ConfirmationNumber: "2601131100", Committed: true}},
		db:     db,
		recent: events.NewRecent(10),
		hub:    hub,
	}
	router := NewRouter(Deps{
		Engine:       f.engine,
		DB:           db,
		Slots:        storage.NewSlotRepository(db),
		Reservations: storage.NewReservationRepository(db),
		Canceller:    f.engine,
		Activity:     storage.NewActivityRepository(db, nil),
		Recent:       f.recent,
		Monitor: fakeMonitor{check: monitor.Check{
			Reports: []models.ScanReport{{Facility: park, Complete: true}},
			New:     []models.Slot{{Status: models.StatusAvailable}},
		}},
		Hub:      hub,
		Booking:  booking.Request{UserCount: 2, EventLabel: "自動予約"},
		ScanDays: 31,
	})
	f.srv = httptest.NewServer(router)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, f.srv.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatal(err)
	}
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, "GET", "/api/health", "")
	var h handlers.HealthResponse
	decode(t, resp, &h)
	if resp.StatusCode != http.StatusOK || h.Status != "healthy" || !h.DBConnected {
		t.Fatalf("health = %d %+v", resp.StatusCode, h)
	}
}

func TestListSlotsFilters(t *testing.T) {
	f := newFixture(t)
	ref := park.Ref(park.Courts[0])
	slots := []models.Slot{
		{FacilityRef: ref, Date: jan13, Start: 900, End: 1100, Status: models.StatusAvailable},
		{FacilityRef: ref, Date: jan13, Start: 1100, End: 1300, Status: models.StatusTaken},
		{FacilityRef: ref, Date: jan13.AddDays(1), Start: 900, End: 1100, Status: models.StatusAvailable},
	}
	if err := storage.NewSlotRepository(f.db).StoreSlots(context.Background(), slots); err != nil {
		t.Fatal(err)
	}

	resp := f.do(t, "GET", "/api/slots?status=available&to=2026-01-13", "")
	var got []models.Slot
	decode(t, resp, &got)
	if len(got) != 1 || got[0].Start != 900 || got[0].Date != jan13 {
		t.Fatalf("slots = %+v", got)
	}

	if resp := f.do(t, "GET", "/api/slots?status=open", ""); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad status filter answered %d", resp.StatusCode)
	}
	if resp := f.do(t, "GET", "/api/slots?from=tomorrow", ""); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad date answered %d", resp.StatusCode)
	}
}

func TestEmptyListsAreArrays(t *testing.T) {
	f := newFixture(t)
	for _, path := range []string{"/api/slots", "/api/reservations", "/api/activity"} {
		resp := f.do(t, "GET", path, "")
		var buf bytes.Buffer
		buf.ReadFrom(resp.Body)
		if got := strings.TrimSpace(buf.String()); got != "[]" {
			t.Errorf("%s = %s, want []", path, got)
		}
	}
}

func TestBookAppliesDefaults(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, "POST", "/api/book", `{"facility_id":"1020","court_id":"10200010","date":"2026-01-13","start":"11:00","end":"1300"}`)

	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var r models.BookingResult
	decode(t, resp, &r)
	if r.ConfirmationNumber != "2601131100" {
		t.Errorf("result = %+v", r)
	}
	req := f.engine.books[0]
	if req.UserCount != 2 || req.EventLabel != "自動予約" {
		t.Errorf("request = %+v", req)
	}
	if req.Slot.CourtName != "庭球場Ａ" || req.Slot.Start != 1100 || req.Slot.End != 1300 || req.Slot.Date != jan13 {
		t.Errorf("slot = %+v", req.Slot)
	}
}

func TestBookFailureIsConflict(t *testing.T) {
	f := newFixture(t)
	f.engine.result = models.BookingResult{Outcome: models.OutcomeFailed, FailureStep: booking.StepTerms}

	resp := f.do(t, "POST", "/api/book", `{"facility_id":"1020","court_id":"10200010","date":"20260113","start":"1100","user_count":4}`)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if f.engine.books[0].UserCount != 4 {
		t.Errorf("user count = %d", f.engine.books[0].UserCount)
	}
}

func TestBookValidation(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, "POST", "/api/book", `{"facility_id":"9999","date":"soon","start":"25:00"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var e struct {
		Error   string   `json:"error"`
		Details []string `json:"details"`
	}
	decode(t, resp, &e)
	if e.Error != "validation_error" || len(e.Details) != 4 {
		t.Fatalf("error = %+v", e)
	}
	if len(f.engine.books) != 0 {
		t.Error("invalid request reached the engine")
	}
}

func TestTriggerScan(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, "POST", "/api/scan", `{"facility_ids":["1020"],"from":"2026-01-13","days":7}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var out handlers.ScanResponse
	decode(t, resp, &out)
	if len(out.Reports) != 1 || out.Range.To != jan13.AddDays(6) {
		t.Fatalf("scan = %+v", out)
	}

	if resp := f.do(t, "POST", "/api/scan", `{"facility_ids":["9999"]}`); resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown facility answered %d", resp.StatusCode)
	}
	if resp := f.do(t, "POST", "/api/scan", `{"days":365}`); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("oversized window answered %d", resp.StatusCode)
	}
	if resp := f.do(t, "POST", "/api/scan", ""); resp.StatusCode != http.StatusOK {
		t.Errorf("empty body answered %d", resp.StatusCode)
	}
}

func TestStatus(t *testing.T) {
	f := newFixture(t)
	f.recent.Emit(events.New(models.CategoryScan, "scan finished", true, nil))

	resp := f.do(t, "GET", "/api/status", "")
	var st handlers.StatusResponse
	decode(t, resp, &st)
	if st.Facilities != 1 || st.LastScan == nil || st.LastScan.Message != "scan finished" {
		t.Fatalf("status = %+v", st)
	}
	if st.LastCheck == nil || st.LastCheck.New != 1 || st.NextCheckAt != nil {
		t.Fatalf("last check = %+v", st.LastCheck)
	}
}

func TestWebSocketPush(t *testing.T) {
	f := newFixture(t)
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/api/ws"
	conn, _, err := gws.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	deadline := time.Now().Add(time.Second)
	for f.hub.ClientCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	websocket.NewBroadcaster(f.hub, nil).Emit(events.New(models.CategoryLogin, "login succeeded", true, nil))

	conn.SetReadDeadline(time.Now().Add(time.Second))
	var msg websocket.Message
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatal(err)
	}
	if msg.Type != websocket.TypeActivity {
		t.Fatalf("message = %+v", msg)
	}
}

func TestCancelReservation(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, "POST", "/api/reservations/2601131100/cancel", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var done cancel.Cancellation
	decode(t, resp, &done)
	if done.Number != "2601131100" {
		t.Fatalf("cancellation = %+v", done)
	}

	resp = f.do(t, "POST", "/api/reservations/2699999999/cancel", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unlisted status = %d", resp.StatusCode)
	}
	var e struct {
		Error string `json:"error"`
	}
	decode(t, resp, &e)
	if e.Error != "not_found" {
		t.Fatalf("error = %+v", e)
	}

	if resp := f.do(t, "POST", "/api/reservations/12ab/cancel", ""); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("malformed status = %d", resp.StatusCode)
	}
}
