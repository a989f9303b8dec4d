// Package selection confirms that clicking a calendar cell actually selected
// it. The portal gives no single reliable signal, so a snapshot of several
// independent ones is sampled until a conclusive one is positive.
package selection

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"courtbot/internal/browser"
	"courtbot/internal/portal"
)

// Signals is one snapshot of the cell and page state.
type Signals struct {
	CellID         string
	Found          bool
	DataSelected   string
	AriaSelected   string
	HasOutline     bool
	Class          string
	Background     string
	HiddenValues   []string
	GlobalSelected []string
}

// Baseline is the cell state captured before clicking.
type Baseline struct {
	HadOutline bool
	Background string
}

// Verdict is the outcome of Evaluate. Signal names the first signal that
// fired. Hint names a weak signal seen on an unselected cell.
type Verdict struct {
	Selected bool
	Signal   string
	Hint     string
}

const (
	SignalAttribute  = "attribute"
	SignalClass      = "class"
	SignalBackground = "background"
	SignalHidden     = "hidden-field"
	SignalGlobal     = "global-state"
)

// Evaluate decides from a snapshot whether the cell is selected. Signals are
// checked in decreasing order of reliability. A background change alone is
// only a hint: hovering the pointer over a cell recolours it too.
func Evaluate(s Signals, base Baseline) Verdict {
	if !s.Found {
		return Verdict{}
	}
	if s.DataSelected == "1" || s.DataSelected == "true" || s.AriaSelected == "true" ||
		(base.HadOutline && !s.HasOutline) {
		return Verdict{Selected: true, Signal: SignalAttribute}
	}
	for _, c := range strings.Fields(strings.ToLower(s.Class)) {
		if strings.Contains(c, "selected") || strings.Contains(c, "active") {
			return Verdict{Selected: true, Signal: SignalClass}
		}
	}
	var hint string
	if s.Background != "" && s.Background != base.Background && !neutralColor(s.Background) {
		hint = SignalBackground
	}
	if s.CellID != "" {
		for _, v := range s.HiddenValues {
			if v == s.CellID {
				return Verdict{Selected: true, Signal: SignalHidden}
			}
		}
		for _, v := range s.GlobalSelected {
			if v == s.CellID {
				return Verdict{Selected: true, Signal: SignalGlobal}
			}
		}
	}
	return Verdict{Hint: hint}
}

func neutralColor(c string) bool {
	c = strings.ReplaceAll(strings.ToLower(c), " ", "")
	switch c {
	case "transparent", "rgba(0,0,0,0)", "white", "#fff", "#ffffff", "rgb(255,255,255)", "rgba(255,255,255,1)":
		return true
	}
	return false
}

// Confirmation proves that a cell was seen selected. Only Verifier can mint
// one.
type Confirmation struct {
	cellID string
	signal string
	at     time.Time
}

func (c Confirmation) CellID() string     { return c.cellID }
func (c Confirmation) Signal() string     { return c.signal }
func (c Confirmation) At() time.Time      { return c.at }
func (c Confirmation) Valid() bool        { return c.cellID != "" }
func (c Confirmation) For(id string) bool { return c.Valid() && c.cellID == id }

// Verifier samples snapshots of a page.
type Verifier struct {
	Interval time.Duration
	Timeout  time.Duration
	log      *zap.Logger
}

func NewVerifier(log *zap.Logger) *Verifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &Verifier{
		Interval: 200 * time.Millisecond,
		Timeout:  3 * time.Second,
		log:      log.Named("selection"),
	}
}

var snapshotScript = fmt.Sprintf(`(id) => {
  const el = document.getElementById(id);
  if (!el) return { found: false };
  const cs = window.getComputedStyle(el);
  const g = window.selectedCells;
  let global = [];
  if (Array.isArray(g)) global = g.map(String);
  else if (g instanceof Set) global = Array.from(g, String);
  else if (g && typeof g === "object") global = Object.keys(g);
  return {
    found: true,
    dataSelected: el.getAttribute("data-selected") || "",
    ariaSelected: el.getAttribute("aria-selected") || "",
    hasOutline: el.querySelector('img[src*=%q]') !== null,
    className: typeof el.className === "string" ? el.className : "",
    background: cs.backgroundColor || "",
    hidden: Array.from(document.querySelectorAll('input[type="hidden"]'), i => i.value),
    global: global,
  };
}`, portal.AvailableOutline)

// Snapshot reads the current signals for cellID.
func Snapshot(p browser.Page, cellID string) (Signals, error) {
	raw, err := p.Evaluate(snapshotScript, cellID)
	if err != nil {
		return Signals{}, fmt.Errorf("selection snapshot: %w", err)
	}
	m, _ := raw.(map[string]any)
	s := Signals{
		CellID:         cellID,
		Found:          asBool(m["found"]),
		DataSelected:   asString(m["dataSelected"]),
		AriaSelected:   asString(m["ariaSelected"]),
		HasOutline:     asBool(m["hasOutline"]),
		Class:          asString(m["className"]),
		Background:     asString(m["background"]),
		HiddenValues:   asStrings(m["hidden"]),
		GlobalSelected: asStrings(m["global"]),
	}
	return s, nil
}

// Baseline captures the pre-click state of cellID.
func (v *Verifier) Baseline(p browser.Page, cellID string) (Baseline, error) {
	s, err := Snapshot(p, cellID)
	if err != nil {
		return Baseline{}, err
	}
	return Baseline{HadOutline: s.HasOutline, Background: s.Background}, nil
}

// Check takes a single snapshot and confirms the cell if it already reads as
// selected.
func (v *Verifier) Check(p browser.Page, cellID string, base Baseline) (Confirmation, bool) {
	s, err := Snapshot(p, cellID)
	if err != nil {
		return Confirmation{}, false
	}
	if verdict := Evaluate(s, base); verdict.Selected {
		return Confirmation{cellID: cellID, signal: verdict.Signal, at: time.Now()}, true
	}
	return Confirmation{}, false
}

// Verify samples the page every Interval until the cell reads as selected or
// Timeout elapses. A timeout is a negative result, not an error; an error is
// returned only when ctx ends first.
func (v *Verifier) Verify(ctx context.Context, p browser.Page, cellID string, base Baseline) (Confirmation, bool, error) {
	deadline := time.Now().Add(v.Timeout)
	ticker := time.NewTicker(v.Interval)
	defer ticker.Stop()

	samples := 0
	for {
		samples++
		s, err := Snapshot(p, cellID)
		if err == nil {
			verdict := Evaluate(s, base)
			if verdict.Selected {
				v.log.Debug("cell selected", zap.String("cell", cellID), zap.String("signal", verdict.Signal), zap.Int("samples", samples))
				return Confirmation{cellID: cellID, signal: verdict.Signal, at: time.Now()}, true, nil
			}
			if verdict.Hint != "" {
				v.log.Debug("cell not selected yet", zap.String("cell", cellID), zap.String("hint", verdict.Hint), zap.String("background", s.Background))
			}
		} else {
			v.log.Debug("snapshot failed", zap.String("cell", cellID), zap.Error(err))
		}
		if !time.Now().Before(deadline) {
			v.log.Info("selection not confirmed", zap.String("cell", cellID), zap.Int("samples", samples))
			return Confirmation{}, false, nil
		}
		select {
		case <-ctx.Done():
			return Confirmation{}, false, ctx.Err()
		case <-ticker.C:
		}
	}
}

func asBool(v any) bool {
	b, _ := v.(bool)
	return b
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asStrings(v any) []string {
	switch t := v.(type) {
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
