package browser

import (
	"net/http"
	"time"
)

// Page is the single automated page the engine drives. Selector arguments
// use Playwright selector syntax; when a selector matches several elements
// the first one is used.
type Page interface {
	URL() string
	Title() (string, error)
	Content() (string, error)
	Goto(url string, timeout time.Duration) error
	Reload(timeout time.Duration) error

	Count(selector string) (int, error)
	IsVisible(selector string) (bool, error)
	IsDisabled(selector string) (bool, error)
	// Attribute returns the attribute value and whether it is present.
	Attribute(selector, name string) (string, bool, error)
	InputValue(selector string) (string, error)
	Text(selector string) (string, error)

	Click(selector string, timeout time.Duration) error
	// JSClick dispatches element.click() from page script, bypassing
	// actionability checks.
	JSClick(selector string) error
	Fill(selector, value string, timeout time.Duration) error
	// FillAll fills every element matching selector and returns how many
	// were filled.
	FillAll(selector, value string, timeout time.Duration) (int, error)
	SelectOption(selector, value string, timeout time.Duration) error
	Check(selector string, timeout time.Duration) error

	WaitVisible(selector string, timeout time.Duration) error
	// WaitSettled waits for network idle and for the calendar loading
	// indicator to disappear.
	WaitSettled(timeout time.Duration) error
	Evaluate(script string, arg any) (any, error)
	// OnDialog installs the handler for JavaScript dialogs. The handler
	// returns true to accept the dialog.
	OnDialog(handler func(message string) bool)

	Cookies() ([]*http.Cookie, error)
	IsClosed() bool
	Close() error
}

// FirstPresent returns the first selector in candidates that matches at least
// one element.
func FirstPresent(p Page, candidates []string) (string, bool) {
	for _, sel := range candidates {
		if n, err := p.Count(sel); err == nil && n > 0 {
			return sel, true
		}
	}
	return "", false
}

// FirstVisible returns the first selector in candidates whose first match is
// visible.
func FirstVisible(p Page, candidates []string) (string, bool) {
	for _, sel := range candidates {
		if ok, err := p.IsVisible(sel); err == nil && ok {
			return sel, true
		}
	}
	return "", false
}
