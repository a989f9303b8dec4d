package browsertest

import (
	"fmt"
	"strings"

	"courtbot/internal/models"
)

// Cell is one slot of a fake weekly grid.
type Cell struct {
	Date      models.Date
	N         int
	Start     models.Clock
	End       models.Clock
	Available bool
}

// ID returns the portal cell id YYYYMMDD_n.
func (c Cell) ID() string { return fmt.Sprintf("%d_%d", c.Date.YMD(), c.N) }

// Calendar renders a portal-like weekly grid and pages through it when its
// week controls are clicked.
type Calendar struct {
	Ref   models.FacilityRef
	Weeks [][]Cell
	// Week is the index of the week on screen.
	Week int
	URL  string
	// Extra is appended to every rendered page body.
	Extra string
}

// BuildWeeks returns n consecutive weeks starting at start, with two slots
// per day. available decides each slot's status.
func BuildWeeks(start models.Date, n int, available func(d models.Date, slot int) bool) [][]Cell {
	weeks := make([][]Cell, n)
	for w := 0; w < n; w++ {
		for day := 0; day < 7; day++ {
			d := start.AddDays(w*7 + day)
			weeks[w] = append(weeks[w],
				Cell{Date: d, N: 1, Start: 900, End: 1100, Available: available(d, 1)},
				Cell{Date: d, N: 2, Start: 1100, End: 1300, Available: available(d, 2)},
			)
		}
	}
	return weeks
}

// HTML renders week i.
func (c *Calendar) HTML(i int) string {
	var b strings.Builder
	b.WriteString(`<html><head><title>施設別空き状況</title></head><body><div id="weekly">`)
	b.WriteString(`<table id="week-info">`)
	fmt.Fprintf(&b, `<caption>%s %s</caption>`, c.Ref.FacilityName, c.Ref.CourtName)
	for _, row := range rows(c.Weeks[i]) {
		fmt.Fprintf(&b, `<tr><th>%d:%02d～%d:%02d</th>`,
			row[0].Start.Hour(), row[0].Start.Minute(), row[0].End.Hour(), row[0].End.Minute())
		for _, cell := range row {
			if cell.Available {
				fmt.Fprintf(&b,
					`<td id="%s" class="available" onclick='setReserv(this, "%s", "%s", %d, %d, %d, 0)'><img src="/img/calendar_available_outline.svg"></td>`,
					cell.ID(), c.Ref.FacilityID, c.Ref.CourtID, cell.N, int(cell.Start), int(cell.End))
			} else {
				fmt.Fprintf(&b, `<td id="%s" class="reserved">×</td>`, cell.ID())
			}
		}
		b.WriteString(`</tr>`)
	}
	b.WriteString(`</table>`)
	if i == 0 {
		b.WriteString(`<button id="last-week" disabled>前の週</button>`)
	} else {
		b.WriteString(`<button id="last-week">前の週</button>`)
	}
	if i == len(c.Weeks)-1 {
		b.WriteString(`<button id="next-week" disabled>次の週</button>`)
	} else {
		b.WriteString(`<button id="next-week">次の週</button>`)
	}
	b.WriteString(`</div>`)
	b.WriteString(c.Extra)
	b.WriteString(`</body></html>`)
	return b.String()
}

// rows groups a week's cells by slot number, one table row per time band.
func rows(cells []Cell) [][]Cell {
	var (
		out   [][]Cell
		index = map[int]int{}
	)
	for _, c := range cells {
		i, ok := index[c.N]
		if !ok {
			i = len(out)
			index[c.N] = i
			out = append(out, nil)
		}
		out[i] = append(out[i], c)
	}
	return out
}

func (c *Calendar) screen() Screen {
	return Screen{URL: c.URL, HTML: c.HTML(c.Week)}
}

// Install shows the current week on p and wires the week controls.
func (c *Calendar) Install(p *Page) {
	p.Show(c.screen())
	p.Handle("#next-week", func(p *Page) error {
		if c.Week < len(c.Weeks)-1 {
			c.Week++
		}
		p.Show(c.screen())
		return nil
	})
	p.Handle("#last-week", func(p *Page) error {
		if c.Week > 0 {
			c.Week--
		}
		p.Show(c.screen())
		return nil
	})
}

// NewCalendarPage returns a page showing c.
func NewCalendarPage(c *Calendar) *Page {
	p := New(c.screen())
	c.Install(p)
	return p
}
