package extract

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"courtbot/internal/models"
	"courtbot/internal/portal"
)

// 9:00～11:00
var timeBand = regexp.MustCompile(`(\d{1,2}):(\d{2})\s*[～〜~\-－]\s*(\d{1,2}):(\d{2})`)

func parseBand(text string) (start, end models.Clock, ok bool) {
	m := timeBand.FindStringSubmatch(text)
	if m == nil {
		return 0, 0, false
	}
	sh, _ := strconv.Atoi(m[1])
	sm, _ := strconv.Atoi(m[2])
	eh, _ := strconv.Atoi(m[3])
	em, _ := strconv.Atoi(m[4])
	return models.Clock(sh*100 + sm), models.Clock(eh*100 + em), true
}

func newDoc(html string) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return doc, nil
}

// ParseWeek parses the weekly grid in html. Available cells carry their
// facility, court and times in the setReserv handler; other cells take the
// time band of their row and the ids of ref. Names come from the caption
// ("<park> <court>") and fall back to ref.
func ParseWeek(html string, ref models.FacilityRef) ([]models.Slot, error) {
	doc, err := newDoc(html)
	if err != nil {
		return nil, err
	}
	table := doc.Find(portal.WeekTable).First()
	if table.Length() == 0 {
		return nil, fmt.Errorf("%s not found", portal.WeekTable)
	}
	if parts := strings.Fields(table.Find("caption").First().Text()); len(parts) > 0 {
		ref.FacilityName = parts[0]
		if len(parts) > 1 {
			ref.CourtName = strings.Join(parts[1:], " ")
		}
	}

	var slots []models.Slot
	table.Find("td[id]").Each(func(_ int, cell *goquery.Selection) {
		if s, ok := parseCell(cell, ref); ok {
			slots = append(slots, s)
		}
	})
	return models.MergeSlots(slots), nil
}

func parseCell(cell *goquery.Selection, ref models.FacilityRef) (models.Slot, bool) {
	id, _ := cell.Attr("id")
	ymd, _, ok := strings.Cut(id, "_")
	if !ok {
		return models.Slot{}, false
	}
	date, err := models.ParseYMD(ymd)
	if err != nil {
		return models.Slot{}, false
	}
	slot := models.Slot{FacilityRef: ref, Date: date, CellID: id, Status: models.StatusTaken}

	if m := portal.SetReservPattern.FindStringSubmatch(cell.AttrOr("onclick", "")); m != nil {
		start, _ := strconv.Atoi(m[4])
		end, _ := strconv.Atoi(m[5])
		slot.FacilityID, slot.CourtID = m[1], m[2]
		slot.Start, slot.End = models.Clock(start), models.Clock(end)
		if cell.HasClass("available") {
			slot.Status = models.StatusAvailable
		} else {
			slot.Status = models.StatusUnknown
		}
		return slot, true
	}
	if cell.HasClass("available") {
		slot.Status = models.StatusUnknown
	}
	start, end, ok := parseBand(cell.Parent().Find("th").First().Text())
	if !ok {
		return models.Slot{}, false
	}
	slot.Start, slot.End = start, end
	return slot, true
}

// ParseResultPage parses the flat result listing. Row ids have the form
// YYYYMMDD_bcd_icd_start_n; the reserve button's doReserved handler carries
// the end time, purpose codes and the taken-field count (0 = available).
func ParseResultPage(html string) ([]models.Slot, error) {
	doc, err := newDoc(html)
	if err != nil {
		return nil, err
	}
	var slots []models.Slot
	doc.Find(portal.ResultRows).Each(func(_ int, row *goquery.Selection) {
		if s, ok := parseRow(row); ok {
			slots = append(slots, s)
		}
	})
	return models.MergeSlots(slots), nil
}

func parseRow(row *goquery.Selection) (models.Slot, bool) {
	id, _ := row.Attr("id")
	parts := strings.Split(id, "_")
	if len(parts) < 4 {
		return models.Slot{}, false
	}
	date, err := models.ParseYMD(parts[0])
	if err != nil {
		return models.Slot{}, false
	}
	start, err := models.ParseClock(parts[3])
	if err != nil {
		return models.Slot{}, false
	}
	slot := models.Slot{
		FacilityRef: models.FacilityRef{
			FacilityID:   parts[1],
			CourtID:      parts[2],
			FacilityName: strings.TrimSpace(row.Find(portal.ResultParkCell).First().Text()),
			CourtName:    strings.TrimSpace(row.Find(portal.ResultFacilityCell).First().Text()),
		},
		Date:   date,
		Start:  start,
		Status: models.StatusTaken,
	}

	onclick := row.Find(portal.ResultRowButton).First().AttrOr("onclick", "")
	if m := portal.DoReservedPattern.FindStringSubmatch(onclick); m != nil {
		fieldCnt, _ := strconv.Atoi(m[4])
		end, _ := strconv.Atoi(m[6])
		slot.End = models.Clock(end)
		slot.PurposeCode, slot.PurposeClassCode = m[7], m[8]
		if fieldCnt == 0 {
			slot.Status = models.StatusAvailable
		}
		return slot, true
	}
	if _, end, ok := parseBand(row.Text()); ok {
		slot.End = end
	}
	return slot, true
}

// Courts lists the court options of the results page court selector.
func Courts(html string) ([]models.Court, error) {
	doc, err := newDoc(html)
	if err != nil {
		return nil, err
	}
	var courts []models.Court
	doc.Find(portal.ResultsCourtSelect + " option").Each(func(_ int, opt *goquery.Selection) {
		v := strings.TrimSpace(opt.AttrOr("value", ""))
		if v == "" {
			return
		}
		courts = append(courts, models.Court{ID: v, Name: strings.TrimSpace(opt.Text())})
	})
	return courts, nil
}
