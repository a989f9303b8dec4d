package scanner

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"courtbot/internal/auth"
	"courtbot/internal/errs"
	"courtbot/internal/models"
	"courtbot/internal/portal"
)

var (
	jan5  = models.Date{Year: 2026, Month: time.January, Day: 5}
	week  = models.DateRange{From: jan5, To: jan5.AddDays(6)}
	park  = models.Facility{ID: "1020", Name: "しながわ区民公園", AreaCode: "1400_1020", Courts: []models.Court{{ID: "10200010", Name: "庭球場A"}}}
	other = models.Facility{ID: "1040", Name: "八潮北公園", AreaCode: "1400_1040"}
)

func credential(value string) *models.Credential {
	return models.NewCredential([]*http.Cookie{{Name: "JSESSIONID", Value: value}}, time.Now(), time.Hour)
}

type renewer struct {
	calls atomic.Int32
	err   error
}

func (r *renewer) renew(context.Context) (*models.Credential, error) {
	n := r.calls.Add(1)
	if r.err != nil {
		return nil, r.err
	}
	return credential(fmt.Sprintf("renewed-%d", n)), nil
}

func newClient(t *testing.T, h http.Handler, shape Shape) (*Client, *renewer) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	r := &renewer{}
	store := auth.NewCredentialStore(r.renew)
	store.Set(credential("initial"))
	c := New(Options{BaseURL: srv.URL, RequestsPerSecond: 1000, Burst: 10, Shape: shape}, store, nil)
	return c, r
}

func TestScanByDatePaginates(t *testing.T) {
	var requests atomic.Int32
	h := http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		requests.Add(1)
		if req.URL.Path != portal.PathDateSearchAjax {
			t.Errorf("path = %s", req.URL.Path)
		}
		if req.Header.Get("X-Requested-With") != "XMLHttpRequest" {
			t.Error("missing X-Requested-With")
		}
		if ck, err := req.Cookie("JSESSIONID"); err != nil || ck.Value != "initial" {
			t.Errorf("cookie = %v, %v", ck, err)
		}
		if err := req.ParseForm(); err != nil {
			t.Fatal(err)
		}
		if req.Form.Get("date") != "4" || req.Form.Get("daystart") != "2026-01-05" || req.Form.Get("days") != "7" ||
			req.Form.Get("selectAreaBcd") != "1400_1020" || req.Form.Get("limit") != "100" {
			t.Errorf("form = %v", req.Form)
		}
		w.Header().Set("Content-Type", "application/json")
		switch req.Form.Get("offset") {
		case "0":
			fmt.Fprint(w, `{"results":[
				{"useYmd":20260105,"bcd":"1020","icd":"10200010","bcdNm":"しながわ区民公園","icdNm":"庭球場A","sTime":830,"eTime":1030,"ppsCd":31000000,"ppsClsCd":31011700,"fieldCnt":0},
				{"useYmd":"20260106","bcd":"1020","icd":"10200020","bcdNm":"しながわ区民公園","icdNm":"庭球場B","sTime":"1030","eTime":"1230","fieldCnt":1}
			],"next":1}`)
		case "100":
			fmt.Fprint(w, `{"results":[
				{"useYmd":20260107,"bcd":"1020","icd":"10200010","sTime":1230,"eTime":1430,"fieldCnt":0},
				{"useYmd":20260201,"bcd":"1020","icd":"10200010","sTime":830,"eTime":1030,"fieldCnt":0},
				{"useYmd":20260107,"bcd":"9999","icd":"99990010","sTime":830,"eTime":1030,"fieldCnt":0}
			],"next":0}`)
		default:
			t.Errorf("unexpected offset %q", req.Form.Get("offset"))
		}
	})
	c, _ := newClient(t, h, ShapeDateIndexed)

	slots, err := c.Scan(context.Background(), park, week)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if requests.Load() != 2 {
		t.Fatalf("made %d requests, want 2", requests.Load())
	}
	if len(slots) != 3 {
		t.Fatalf("got %d slots: %+v", len(slots), slots)
	}
	first := slots[0]
	if first.Status != models.StatusAvailable || first.Start != 830 || first.End != 1030 || first.CourtName != "庭球場A" || first.PurposeCode != "31000000" {
		t.Fatalf("first = %+v", first)
	}
	if slots[1].Status != models.StatusTaken {
		t.Fatalf("fieldCnt 1 = %+v", slots[1])
	}
	if slots[2].FacilityName != park.Name || slots[2].CourtName != "庭球場A" {
		t.Fatalf("names should fall back to configuration: %+v", slots[2])
	}
}

func TestScanByFacility(t *testing.T) {
	var starts []string
	h := http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.URL.Path != portal.PathVacantSearchAjax {
			t.Errorf("path = %s", req.URL.Path)
		}
		_ = req.ParseForm()
		if req.Form.Get("bcd") != "1020" || req.Form.Get("icd") != "10200010" {
			t.Errorf("form = %v", req.Form)
		}
		starts = append(starts, req.Form.Get("startDay"))
		switch req.Form.Get("startDay") {
		case "20260105":
			fmt.Fprint(w, `{"bcdNm":"しながわ区民公園","icdNm":"庭球場Ａ","results":[
				{"useYmd":20260105,"sTime":830,"eTime":1030,"status":0},
				{"useYmd":20260105,"sTime":1030,"eTime":1230,"status":1},
				{"useYmd":20260108,"sTime":830,"eTime":1030,"status":7}
			]}`)
		case "20260109":
			fmt.Fprint(w, `{"results":[
				{"useYmd":20260111,"sTime":830,"eTime":1030,"status":0},
				{"useYmd":20260112,"sTime":830,"eTime":1030,"status":0}
			]}`)
		default:
			fmt.Fprint(w, `{"results":[]}`)
		}
	})
	c, _ := newClient(t, h, ShapeFacilityIndexed)

	slots, err := c.Scan(context.Background(), park, week)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(starts) != 2 || starts[1] != "20260109" {
		t.Fatalf("start days = %v", starts)
	}
	want := []models.SlotStatus{models.StatusAvailable, models.StatusTaken, models.StatusUnknown, models.StatusAvailable}
	if len(slots) != len(want) {
		t.Fatalf("got %d slots: %+v", len(slots), slots)
	}
	for i, s := range slots {
		if s.Status != want[i] {
			t.Errorf("slot %d status = %s, want %s", i, s.Status, want[i])
		}
		if s.CourtName != "庭球場Ａ" || s.CourtID != "10200010" {
			t.Errorf("slot %d ref = %+v", i, s.FacilityRef)
		}
	}
}

func TestScanRenewsOnceOnAuthRequired(t *testing.T) {
	var calls atomic.Int32
	h := http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if ck, _ := req.Cookie("JSESSIONID"); ck == nil || ck.Value != "renewed-1" {
			t.Errorf("retry used cookie %v", ck)
		}
		fmt.Fprint(w, `{"results":[{"useYmd":20260105,"bcd":"1020","icd":"10200010","sTime":830,"eTime":1030,"fieldCnt":0}],"next":0}`)
	})
	c, r := newClient(t, h, ShapeDateIndexed)

	slots, err := c.Scan(context.Background(), park, week)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(slots) != 1 || r.calls.Load() != 1 || calls.Load() != 2 {
		t.Fatalf("slots=%d renewals=%d requests=%d", len(slots), r.calls.Load(), calls.Load())
	}
}

func TestScanSessionExpiredAfterSecondRejection(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"status", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusForbidden) }},
		{"login redirect", func(w http.ResponseWriter, req *http.Request) {
			http.Redirect(w, req, "/rsvWTransUserLoginAction.do", http.StatusFound)
		}},
		{"timeout page", func(w http.ResponseWriter, _ *http.Request) {
			fmt.Fprint(w, `<html><body>セッションタイムアウトしました。再度、認証を行って下さい</body></html>`)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			c, r := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
				calls.Add(1)
				tt.handler(w, req)
			}), ShapeDateIndexed)

			_, err := c.Scan(context.Background(), park, week)
			if !errors.Is(err, errs.ErrSessionExpired) {
				t.Fatalf("err = %v, want session expired", err)
			}
			if r.calls.Load() != 1 || calls.Load() != 2 {
				t.Fatalf("renewals=%d requests=%d, want 1 and 2", r.calls.Load(), calls.Load())
			}
		})
	}
}

func TestScanAllIsolatesFailures(t *testing.T) {
	h := http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		_ = req.ParseForm()
		if req.Form.Get("selectAreaBcd") == other.AreaCode {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, `{"results":[{"useYmd":20260105,"bcd":"1020","icd":"10200010","sTime":830,"eTime":1030,"fieldCnt":0}],"next":0}`)
	})
	c, _ := newClient(t, h, ShapeDateIndexed)

	reports := c.ScanAll(context.Background(), []models.Facility{park, other}, week, 2)
	if len(reports) != 2 {
		t.Fatalf("got %d reports", len(reports))
	}
	if reports[0].Facility.ID != park.ID || !reports[0].Complete || len(reports[0].Slots) != 1 {
		t.Fatalf("park report = %+v", reports[0])
	}
	if reports[1].Facility.ID != other.ID || reports[1].Complete || reports[1].Err == nil || reports[1].Error == "" {
		t.Fatalf("failing report = %+v", reports[1])
	}
}

func TestNormalizeDateRowFieldCount(t *testing.T) {
	for _, tc := range []struct {
		cnt  field
		want models.SlotStatus
	}{
		{"0", models.StatusAvailable},
		{"1", models.StatusTaken},
		{"2", models.StatusUnknown},
		{"-1", models.StatusUnknown},
		{"", models.StatusUnknown},
	} {
		row := dateRow{UseYmd: "20260105", Bcd: "1020", Icd: "10200010", STime: "830", ETime: "1030", FieldCnt: tc.cnt}
		s, ok := normalizeDateRow(row, park)
		if !ok {
			t.Fatalf("fieldCnt %q: row dropped", tc.cnt)
		}
		if s.Status != tc.want {
			t.Errorf("fieldCnt %q: status = %s, want %s", tc.cnt, s.Status, tc.want)
		}
	}
}
