package models

import "sort"

// Court is one bookable sub-facility of a Facility.
type Court struct {
	ID   string `yaml:"id" json:"id"`
	Name string `yaml:"name" json:"name"`
}

// Facility is a park monitored for court availability.
type Facility struct {
	ID       string  `yaml:"id" json:"id"`
	Name     string  `yaml:"name" json:"name"`
	AreaCode string  `yaml:"area" json:"area"`
	Priority int     `yaml:"priority" json:"priority"`
	Courts   []Court `yaml:"courts" json:"courts"`
}

// Ref returns the FacilityRef for one of the facility's courts.
func (f Facility) Ref(c Court) FacilityRef {
	return FacilityRef{
		FacilityID:   f.ID,
		FacilityName: f.Name,
		CourtID:      c.ID,
		CourtName:    c.Name,
	}
}

// Court looks up a configured court by id.
func (f Facility) Court(id string) (Court, bool) {
	for _, c := range f.Courts {
		if c.ID == id {
			return c, true
		}
	}
	return Court{}, false
}

// ByPriority returns a copy of facilities ordered by ascending priority
// (1 = most wanted). Ties keep configuration order.
func ByPriority(facilities []Facility) []Facility {
	out := append([]Facility(nil), facilities...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Priority < out[j].Priority
	})
	return out
}
