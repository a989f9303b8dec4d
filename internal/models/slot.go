package models

import (
	"fmt"
	"sort"
	"strconv"
	"time"
)

// SlotStatus is the availability of one slot as reported by the portal.
type SlotStatus string

const (
	StatusAvailable SlotStatus = "available"
	StatusTaken     SlotStatus = "taken"
	StatusUnknown   SlotStatus = "unknown"
)

// FacilityRef identifies one court of one facility (park).
type FacilityRef struct {
	FacilityID   string `json:"facility_id" yaml:"facility_id"`
	FacilityName string `json:"facility_name" yaml:"facility_name"`
	CourtID      string `json:"court_id" yaml:"court_id"`
	CourtName    string `json:"court_name" yaml:"court_name"`
}

// Date is a civil calendar date.
type Date struct {
	Year  int        `json:"year"`
	Month time.Month `json:"month"`
	Day   int        `json:"day"`
}

// DateOf returns the civil date of t in t's location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

// ParseYMD parses the portal's YYYYMMDD form.
func ParseYMD(s string) (Date, error) {
	t, err := time.Parse("20060102", s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return DateOf(t), nil
}

// YMD formats the date as the portal's YYYYMMDD integer.
func (d Date) YMD() int {
	return d.Year*10000 + int(d.Month)*100 + d.Day
}

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

// Time returns midnight of the date in loc.
func (d Date) Time(loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, loc)
}

// AddDays returns the date n days later.
func (d Date) AddDays(n int) Date {
	return DateOf(d.Time(time.UTC).AddDate(0, 0, n))
}

func (d Date) Before(o Date) bool { return d.YMD() < o.YMD() }
func (d Date) After(o Date) bool  { return d.YMD() > o.YMD() }

// Clock is a time of day in the portal's HHMM integer form (830 = 08:30).
type Clock int

func (c Clock) Hour() int   { return int(c) / 100 }
func (c Clock) Minute() int { return int(c) % 100 }

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour(), c.Minute())
}

// ParseClock parses an HHMM integer string.
func ParseClock(s string) (Clock, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 || n%100 >= 60 || n/100 > 24 {
		return 0, fmt.Errorf("invalid clock %q", s)
	}
	return Clock(n), nil
}

// DateRange is an inclusive range of civil dates.
type DateRange struct {
	From Date `json:"from"`
	To   Date `json:"to"`
}

// Days returns the number of days covered by the range.
func (r DateRange) Days() int {
	return int(r.To.Time(time.UTC).Sub(r.From.Time(time.UTC)).Hours()/24) + 1
}

// Contains reports whether d lies inside the range.
func (r DateRange) Contains(d Date) bool {
	return !d.Before(r.From) && !d.After(r.To)
}

// SlotKey is the natural key of a slot.
type SlotKey struct {
	FacilityID string
	CourtID    string
	Date       int
	Start      Clock
}

func (k SlotKey) String() string {
	return fmt.Sprintf("%s/%s/%d/%04d", k.FacilityID, k.CourtID, k.Date, int(k.Start))
}

// Slot is one bookable (facility, court, date, time range) unit.
type Slot struct {
	FacilityRef
	Date             Date       `json:"date"`
	Start            Clock      `json:"start"`
	End              Clock      `json:"end"`
	Status           SlotStatus `json:"status"`
	CellID           string     `json:"cell_id,omitempty"`
	PurposeCode      string     `json:"purpose_code,omitempty"`
	PurposeClassCode string     `json:"purpose_class_code,omitempty"`
}

func (s Slot) Key() SlotKey {
	return SlotKey{
		FacilityID: s.FacilityID,
		CourtID:    s.CourtID,
		Date:       s.Date.YMD(),
		Start:      s.Start,
	}
}

func (s Slot) String() string {
	return fmt.Sprintf("%s %s %s %s-%s (%s)", s.FacilityName, s.CourtName, s.Date, s.Start, s.End, s.Status)
}

// MergeSlots merges slot lists by natural key. A later slot replaces an
// earlier one with the same key, except that a known status is never
// replaced by unknown. The result is sorted by date, start, facility, court.
func MergeSlots(lists ...[]Slot) []Slot {
	byKey := make(map[SlotKey]Slot)
	for _, list := range lists {
		for _, s := range list {
			if prev, ok := byKey[s.Key()]; ok && s.Status == StatusUnknown && prev.Status != StatusUnknown {
				continue
			}
			byKey[s.Key()] = s
		}
	}
	merged := make([]Slot, 0, len(byKey))
	for _, s := range byKey {
		merged = append(merged, s)
	}
	SortSlots(merged)
	return merged
}

// SortSlots orders slots by date, start time, facility and court.
func SortSlots(slots []Slot) {
	sort.Slice(slots, func(i, j int) bool {
		a, b := slots[i], slots[j]
		if a.Date.YMD() != b.Date.YMD() {
			return a.Date.YMD() < b.Date.YMD()
		}
		if a.Start != b.Start {
			return a.Start < b.Start
		}
		if a.FacilityID != b.FacilityID {
			return a.FacilityID < b.FacilityID
		}
		return a.CourtID < b.CourtID
	})
}

// Available filters slots down to those with StatusAvailable.
func Available(slots []Slot) []Slot {
	var out []Slot
	for _, s := range slots {
		if s.Status == StatusAvailable {
			out = append(out, s)
		}
	}
	return out
}
