// Package browsertest provides a scripted browser.Page for tests. DOM queries
// run goquery over the page's current HTML; clicks trigger handlers that swap
// in the next screen.
package browsertest

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"

	"courtbot/internal/browser"
)

// Screen is one rendered page state.
type Screen struct {
	URL   string
	Title string
	HTML  string
}

// Action records one interaction with the page.
type Action struct {
	Kind     string
	Selector string
	Value    string
}

// Handler reacts to an interaction. It runs without the page lock held, so it
// may call any method of p.
type Handler func(p *Page) error

// Page is a fake browser.Page. The zero value is not usable; call New.
type Page struct {
	mu      sync.Mutex
	url     string
	title   string
	doc     *goquery.Document
	dialog  func(string) bool
	cookies []*http.Cookie
	closed  bool
	actions []Action

	// Screens are served by Goto; a key matches when the requested URL
	// contains it.
	Screens map[string]Screen
	// OnClick handlers are keyed by the clicked selector or by "#id" of the
	// clicked element.
	OnClick map[string]Handler
	// EvalFunc answers Evaluate.
	EvalFunc func(script string, arg any) (any, error)
	// ContentErr, when set, can fail Content.
	ContentErr func() error
	// SettleErr is returned by WaitSettled.
	SettleErr error
	// Poll is the WaitVisible polling interval.
	Poll time.Duration
}

var _ browser.Page = (*Page)(nil)

// New returns a page showing the given screen.
func New(s Screen) *Page {
	p := &Page{
		Screens: map[string]Screen{},
		OnClick: map[string]Handler{},
		Poll:    2 * time.Millisecond,
	}
	p.Show(s)
	return p
}

// Show replaces the current screen.
func (p *Page) Show(s Screen) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s.HTML))
	if err != nil {
		panic(fmt.Sprintf("browsertest: bad html: %v", err))
	}
	p.mu.Lock()
	p.url, p.title, p.doc = s.URL, s.Title, doc
	p.mu.Unlock()
}

// Handle registers h for clicks on selector.
func (p *Page) Handle(selector string, h Handler) {
	p.mu.Lock()
	p.OnClick[selector] = h
	p.mu.Unlock()
}

// SetCookies sets the cookies returned by Cookies.
func (p *Page) SetCookies(c ...*http.Cookie) {
	p.mu.Lock()
	p.cookies = c
	p.mu.Unlock()
}

// Dialog raises a JavaScript dialog and reports whether it was accepted.
// Without an installed handler dialogs are dismissed.
func (p *Page) Dialog(message string) bool {
	p.mu.Lock()
	h := p.dialog
	p.record("dialog", "", message)
	p.mu.Unlock()
	if h == nil {
		return false
	}
	return h(message)
}

// Actions returns a copy of the recorded interactions.
func (p *Page) Actions() []Action {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Action(nil), p.actions...)
}

// Performed returns how many recorded actions match kind and selector. An empty
// selector matches any.
func (p *Page) Performed(kind, selector string) int {
	n := 0
	for _, a := range p.Actions() {
		if a.Kind == kind && (selector == "" || a.Selector == selector) {
			n++
		}
	}
	return n
}

func (p *Page) record(kind, selector, value string) {
	p.actions = append(p.actions, Action{Kind: kind, Selector: selector, Value: value})
}

func (p *Page) find(selector string) *goquery.Selection {
	return p.doc.Find(selector).First()
}

func visible(s *goquery.Selection) bool {
	if s.Length() == 0 {
		return false
	}
	for n := s; n.Length() > 0; n = n.Parent() {
		if _, ok := n.Attr("hidden"); ok {
			return false
		}
		style, _ := n.Attr("style")
		style = strings.ReplaceAll(strings.ToLower(style), " ", "")
		if strings.Contains(style, "display:none") || strings.Contains(style, "visibility:hidden") {
			return false
		}
		if goquery.NodeName(n) == "input" {
			if t, _ := n.Attr("type"); t == "hidden" {
				return false
			}
		}
	}
	return true
}

func (p *Page) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

func (p *Page) Title() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.title != "" {
		return p.title, nil
	}
	return strings.TrimSpace(p.doc.Find("title").First().Text()), nil
}

func (p *Page) Content() (string, error) {
	p.mu.Lock()
	fail := p.ContentErr
	p.mu.Unlock()
	if fail != nil {
		if err := fail(); err != nil {
			return "", err
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.doc.Html()
}

func (p *Page) Goto(url string, _ time.Duration) error {
	p.mu.Lock()
	p.record("goto", url, "")
	var (
		screen Screen
		found  bool
	)
	if s, ok := p.Screens[url]; ok {
		screen, found = s, true
	} else {
		for k, s := range p.Screens {
			if strings.Contains(url, k) {
				screen, found = s, true
				break
			}
		}
	}
	p.mu.Unlock()
	if !found {
		return fmt.Errorf("browsertest: no screen for %s", url)
	}
	if screen.URL == "" {
		screen.URL = url
	}
	p.Show(screen)
	return nil
}

func (p *Page) Reload(_ time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("reload", p.url, "")
	return nil
}

func (p *Page) Count(selector string) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.doc.Find(selector).Length(), nil
}

func (p *Page) IsVisible(selector string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return visible(p.find(selector)), nil
}

func (p *Page) IsDisabled(selector string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.find(selector)
	if s.Length() == 0 {
		return false, fmt.Errorf("browsertest: %s not found", selector)
	}
	_, ok := s.Attr("disabled")
	return ok, nil
}

func (p *Page) Attribute(selector, name string) (string, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.find(selector).Attr(name)
	return v, ok, nil
}

func (p *Page) InputValue(selector string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.find(selector)
	if s.Length() == 0 {
		return "", fmt.Errorf("browsertest: %s not found", selector)
	}
	switch goquery.NodeName(s) {
	case "select":
		opt := s.Find("option[selected]").First()
		if opt.Length() == 0 {
			opt = s.Find("option").First()
		}
		return opt.AttrOr("value", strings.TrimSpace(opt.Text())), nil
	case "textarea":
		return s.Text(), nil
	}
	return s.AttrOr("value", ""), nil
}

func (p *Page) Text(selector string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.find(selector).Text(), nil
}

func (p *Page) handlerFor(selector string, s *goquery.Selection) Handler {
	if h, ok := p.OnClick[selector]; ok {
		return h
	}
	if id, ok := s.Attr("id"); ok {
		return p.OnClick["#"+id]
	}
	return nil
}

func (p *Page) click(kind, selector string, needVisible bool) error {
	p.mu.Lock()
	s := p.find(selector)
	if s.Length() == 0 || (needVisible && !visible(s)) {
		p.mu.Unlock()
		return fmt.Errorf("browsertest: %s not clickable", selector)
	}
	if _, disabled := s.Attr("disabled"); disabled && needVisible {
		p.mu.Unlock()
		return fmt.Errorf("browsertest: %s is disabled", selector)
	}
	p.record(kind, selector, "")
	h := p.handlerFor(selector, s)
	p.mu.Unlock()
	if h != nil {
		return h(p)
	}
	return nil
}

func (p *Page) Click(selector string, _ time.Duration) error {
	return p.click("click", selector, true)
}

func (p *Page) JSClick(selector string) error {
	return p.click("jsclick", selector, false)
}

func (p *Page) Fill(selector, value string, _ time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.find(selector)
	if s.Length() == 0 {
		return fmt.Errorf("browsertest: %s not found", selector)
	}
	s.SetAttr("value", value)
	p.record("fill", selector, value)
	return nil
}

func (p *Page) FillAll(selector, value string, _ time.Duration) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	all := p.doc.Find(selector)
	all.SetAttr("value", value)
	p.record("fillall", selector, value)
	return all.Length(), nil
}

func (p *Page) SelectOption(selector, value string, _ time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.find(selector)
	if s.Length() == 0 {
		return fmt.Errorf("browsertest: %s not found", selector)
	}
	opt := s.Find(fmt.Sprintf("option[value=%q]", value))
	if opt.Length() == 0 {
		return fmt.Errorf("browsertest: %s has no option %q", selector, value)
	}
	s.Find("option").RemoveAttr("selected")
	opt.First().SetAttr("selected", "selected")
	p.record("select", selector, value)
	return nil
}

func (p *Page) Check(selector string, _ time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.find(selector)
	if s.Length() == 0 {
		return fmt.Errorf("browsertest: %s not found", selector)
	}
	s.SetAttr("checked", "checked")
	p.record("check", selector, "")
	return nil
}

func (p *Page) WaitVisible(selector string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		if ok, _ := p.IsVisible(selector); ok {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("browsertest: timeout waiting for %s", selector)
		}
		time.Sleep(p.Poll)
	}
}

func (p *Page) WaitSettled(_ time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.SettleErr
}

func (p *Page) Evaluate(script string, arg any) (any, error) {
	p.mu.Lock()
	f := p.EvalFunc
	p.mu.Unlock()
	if f == nil {
		return nil, errors.New("browsertest: evaluate not scripted")
	}
	return f(script, arg)
}

func (p *Page) OnDialog(handler func(message string) bool) {
	p.mu.Lock()
	p.dialog = handler
	p.mu.Unlock()
}

func (p *Page) Cookies() ([]*http.Cookie, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*http.Cookie(nil), p.cookies...), nil
}

func (p *Page) IsClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Page) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}
