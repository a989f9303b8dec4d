package browser

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"

	"courtbot/internal/portal"
)

// playwrightPage adapts a playwright.Page to Page.
type playwrightPage struct {
	page playwright.Page

	mu        sync.Mutex
	dialog    func(string) bool
	listening bool
}

func ms(d time.Duration) *float64 {
	return playwright.Float(float64(d.Milliseconds()))
}

func (p *playwrightPage) first(selector string) playwright.Locator {
	return p.page.Locator(selector).First()
}

func (p *playwrightPage) URL() string              { return p.page.URL() }
func (p *playwrightPage) Title() (string, error)   { return p.page.Title() }
func (p *playwrightPage) Content() (string, error) { return p.page.Content() }
func (p *playwrightPage) IsClosed() bool           { return p.page.IsClosed() }
func (p *playwrightPage) Close() error             { return p.page.Close() }

func (p *playwrightPage) Goto(url string, timeout time.Duration) error {
	_, err := p.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateNetworkidle,
		Timeout:   ms(timeout),
	})
	return err
}

func (p *playwrightPage) Reload(timeout time.Duration) error {
	_, err := p.page.Reload(playwright.PageReloadOptions{
		WaitUntil: playwright.WaitUntilStateNetworkidle,
		Timeout:   ms(timeout),
	})
	return err
}

func (p *playwrightPage) Count(selector string) (int, error) {
	return p.page.Locator(selector).Count()
}

func (p *playwrightPage) IsVisible(selector string) (bool, error) {
	return p.first(selector).IsVisible()
}

func (p *playwrightPage) IsDisabled(selector string) (bool, error) {
	return p.first(selector).IsDisabled()
}

func (p *playwrightPage) Attribute(selector, name string) (string, bool, error) {
	n, err := p.page.Locator(selector).Count()
	if err != nil || n == 0 {
		return "", false, err
	}
	v, err := p.first(selector).Evaluate(`(el, name) => el.hasAttribute(name) ? el.getAttribute(name) : null`, name)
	if err != nil {
		return "", false, err
	}
	s, ok := v.(string)
	return s, ok, nil
}

func (p *playwrightPage) InputValue(selector string) (string, error) {
	return p.first(selector).InputValue()
}

func (p *playwrightPage) Text(selector string) (string, error) {
	return p.first(selector).TextContent()
}

func (p *playwrightPage) Click(selector string, timeout time.Duration) error {
	loc := p.first(selector)
	if err := loc.ScrollIntoViewIfNeeded(); err != nil {
		return err
	}
	return loc.Click(playwright.LocatorClickOptions{Timeout: ms(timeout)})
}

func (p *playwrightPage) JSClick(selector string) error {
	_, err := p.first(selector).Evaluate(`el => el.click()`, nil)
	return err
}

func (p *playwrightPage) Fill(selector, value string, timeout time.Duration) error {
	return p.first(selector).Fill(value, playwright.LocatorFillOptions{Timeout: ms(timeout)})
}

func (p *playwrightPage) FillAll(selector, value string, timeout time.Duration) (int, error) {
	all, err := p.page.Locator(selector).All()
	if err != nil {
		return 0, err
	}
	for i, loc := range all {
		if err := loc.Fill(value, playwright.LocatorFillOptions{Timeout: ms(timeout)}); err != nil {
			return i, err
		}
	}
	return len(all), nil
}

func (p *playwrightPage) SelectOption(selector, value string, timeout time.Duration) error {
	_, err := p.first(selector).SelectOption(
		playwright.SelectOptionValues{Values: &[]string{value}},
		playwright.LocatorSelectOptionOptions{Timeout: ms(timeout)},
	)
	return err
}

func (p *playwrightPage) Check(selector string, timeout time.Duration) error {
	return p.first(selector).Check(playwright.LocatorCheckOptions{Timeout: ms(timeout)})
}

func (p *playwrightPage) WaitVisible(selector string, timeout time.Duration) error {
	return p.first(selector).WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateVisible,
		Timeout: ms(timeout),
	})
}

func (p *playwrightPage) WaitSettled(timeout time.Duration) error {
	if n, _ := p.page.Locator(portal.WeekLoading).Count(); n > 0 {
		script := fmt.Sprintf(`() => { const el = document.querySelector(%q); return el === null || window.getComputedStyle(el).display === "none"; }`, portal.WeekLoading)
		if _, err := p.page.WaitForFunction(script, nil, playwright.PageWaitForFunctionOptions{Timeout: ms(timeout)}); err != nil {
			return fmt.Errorf("loading indicator still visible: %w", err)
		}
	}
	return p.page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{
		State:   playwright.LoadStateNetworkidle,
		Timeout: ms(timeout),
	})
}

func (p *playwrightPage) Evaluate(script string, arg any) (any, error) {
	return p.page.Evaluate(script, arg)
}

// OnDialog replaces the dialog handler. Playwright listeners stack, so a
// single listener is registered and dispatches to the current handler.
func (p *playwrightPage) OnDialog(handler func(message string) bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dialog = handler
	if p.listening {
		return
	}
	p.listening = true
	p.page.OnDialog(func(d playwright.Dialog) {
		p.mu.Lock()
		h := p.dialog
		p.mu.Unlock()
		if h != nil && h(d.Message()) {
			_ = d.Accept()
			return
		}
		_ = d.Dismiss()
	})
}

func (p *playwrightPage) Cookies() ([]*http.Cookie, error) {
	raw, err := p.page.Context().Cookies()
	if err != nil {
		return nil, err
	}
	cookies := make([]*http.Cookie, 0, len(raw))
	for _, c := range raw {
		hc := &http.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			HttpOnly: c.HttpOnly,
			Secure:   c.Secure,
		}
		if c.Expires > 0 {
			hc.Expires = time.Unix(int64(c.Expires), 0)
		}
		cookies = append(cookies, hc)
	}
	return cookies, nil
}
