package scanner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"courtbot/internal/models"
	"courtbot/internal/portal"
)

// field decodes a JSON string or number into its text form; the portal is
// not consistent about which it sends.
type field string

func (f *field) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = field(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = field(n.String())
	return nil
}

func (f field) String() string { return string(f) }

func (f field) Int() (int, bool) {
	n, err := strconv.Atoi(string(f))
	return n, err == nil
}

type dateRow struct {
	UseYmd   field `json:"useYmd"`
	Bcd      field `json:"bcd"`
	Icd      field `json:"icd"`
	BcdNm    field `json:"bcdNm"`
	IcdNm    field `json:"icdNm"`
	STime    field `json:"sTime"`
	ETime    field `json:"eTime"`
	PpsCd    field `json:"ppsCd"`
	PpsClsCd field `json:"ppsClsCd"`
	FieldCnt field `json:"fieldCnt"`
}

type datePage struct {
	Results []dateRow `json:"results"`
	Next    int       `json:"next"`
}

type vacantRow struct {
	UseYmd field `json:"useYmd"`
	STime  field `json:"sTime"`
	ETime  field `json:"eTime"`
	Status field `json:"status"`
}

type vacantPage struct {
	BcdNm   field       `json:"bcdNm"`
	IcdNm   field       `json:"icdNm"`
	Results []vacantRow `json:"results"`
}

func decode(body []byte, v any, path string) error {
	if len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func clock(f field) (models.Clock, bool) {
	n, ok := f.Int()
	return models.Clock(n), ok
}

func (c *Client) scanByDate(ctx context.Context, f models.Facility, r models.DateRange) ([]models.Slot, error) {
	var slots []models.Slot
	offset := 0
	for page := 0; page < c.opts.MaxPages; page++ {
		form := url.Values{
			"date":              {"4"},
			"daystart":          {r.From.String()},
			"days":              {strconv.Itoa(r.Days())},
			"selectAreaBcd":     {f.AreaCode},
			"selectIcd":         {""},
			"selectPpsClPpscd":  {c.opts.Purpose},
			"offset":            {strconv.Itoa(offset)},
			"limit":             {strconv.Itoa(c.opts.PageSize)},
			"displayNo":         {"prwrc2000"},
			"dayofweekClearFlg": {"0"},
			"timezoneClearFlg":  {"0"},
		}
		body, err := c.post(ctx, portal.PathDateSearchAjax, form)
		if err != nil {
			return nil, err
		}
		var resp datePage
		if err := decode(body, &resp, portal.PathDateSearchAjax); err != nil {
			return nil, err
		}
		for _, row := range resp.Results {
			if s, ok := normalizeDateRow(row, f); ok && r.Contains(s.Date) {
				slots = append(slots, s)
			}
		}
		if resp.Next <= 0 || len(resp.Results) == 0 {
			break
		}
		offset += c.opts.PageSize
	}
	return models.MergeSlots(slots), nil
}

func normalizeDateRow(row dateRow, f models.Facility) (models.Slot, bool) {
	if f.ID != "" && row.Bcd.String() != f.ID {
		return models.Slot{}, false
	}
	date, err := models.ParseYMD(row.UseYmd.String())
	if err != nil {
		return models.Slot{}, false
	}
	start, ok := clock(row.STime)
	if !ok {
		return models.Slot{}, false
	}
	end, _ := clock(row.ETime)

	ref := models.FacilityRef{
		FacilityID:   row.Bcd.String(),
		FacilityName: row.BcdNm.String(),
		CourtID:      row.Icd.String(),
		CourtName:    row.IcdNm.String(),
	}
	if ref.FacilityName == "" {
		ref.FacilityName = f.Name
	}
	if ref.CourtName == "" {
		if ct, ok := f.Court(ref.CourtID); ok {
			ref.CourtName = ct.Name
		}
	}

	status := models.StatusUnknown
	if n, ok := row.FieldCnt.Int(); ok {
		switch n {
		case 0:
			status = models.StatusAvailable
		case 1:
			status = models.StatusTaken
		}
	}
	return models.Slot{
		FacilityRef:      ref,
		Date:             date,
		Start:            start,
		End:              end,
		Status:           status,
		PurposeCode:      row.PpsCd.String(),
		PurposeClassCode: row.PpsClsCd.String(),
	}, true
}

// scanByFacility pages each court forward from r.From, restarting from the
// day after the last date returned, until r.To is covered.
func (c *Client) scanByFacility(ctx context.Context, f models.Facility, r models.DateRange) ([]models.Slot, error) {
	var slots []models.Slot
	for _, court := range f.Courts {
		ref := f.Ref(court)
		start := r.From
		for page := 0; page < c.opts.MaxPages && !start.After(r.To); page++ {
			form := url.Values{
				"bcd":      {f.ID},
				"icd":      {court.ID},
				"startDay": {strconv.Itoa(start.YMD())},
			}
			body, err := c.post(ctx, portal.PathVacantSearchAjax, form)
			if err != nil {
				return nil, fmt.Errorf("court %s: %w", court.ID, err)
			}
			var resp vacantPage
			if err := decode(body, &resp, portal.PathVacantSearchAjax); err != nil {
				return nil, err
			}
			if n := resp.BcdNm.String(); n != "" {
				ref.FacilityName = n
			}
			if n := resp.IcdNm.String(); n != "" {
				ref.CourtName = n
			}

			last := start.AddDays(-1)
			for _, row := range resp.Results {
				s, ok := normalizeVacantRow(row, ref)
				if !ok {
					continue
				}
				if s.Date.After(last) {
					last = s.Date
				}
				if r.Contains(s.Date) {
					slots = append(slots, s)
				}
			}
			if !last.After(start.AddDays(-1)) {
				break
			}
			start = last.AddDays(1)
		}
	}
	return models.MergeSlots(slots), nil
}

func normalizeVacantRow(row vacantRow, ref models.FacilityRef) (models.Slot, bool) {
	date, err := models.ParseYMD(row.UseYmd.String())
	if err != nil {
		return models.Slot{}, false
	}
	start, ok := clock(row.STime)
	if !ok {
		return models.Slot{}, false
	}
	end, _ := clock(row.ETime)

	status := models.StatusUnknown
	switch row.Status.String() {
	case "0":
		status = models.StatusAvailable
	case "1":
		status = models.StatusTaken
	}
	return models.Slot{FacilityRef: ref, Date: date, Start: start, End: end, Status: status}, true
}
