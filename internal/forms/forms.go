// Package forms holds the atomic page actions every workflow is built from.
// Each action is idempotent: repeating it on a page already in the target
// state changes nothing.
package forms

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"courtbot/internal/browser"
)

// ErrNotFound is returned when none of the candidate selectors matches.
var ErrNotFound = errors.New("element not found")

// SelectOption selects value in the first present candidate dropdown. It
// reports whether the selection changed.
func SelectOption(p browser.Page, candidates []string, value string, timeout time.Duration) (bool, error) {
	sel, ok := browser.FirstPresent(p, candidates)
	if !ok {
		return false, fmt.Errorf("select %s: %w", strings.Join(candidates, ", "), ErrNotFound)
	}
	if cur, err := p.InputValue(sel); err == nil && cur == value {
		return false, nil
	}
	if err := p.SelectOption(sel, value, timeout); err != nil {
		return false, fmt.Errorf("select %q in %s: %w", value, sel, err)
	}
	return true, nil
}

// FillNumber writes n into the field unless it already holds it.
func FillNumber(p browser.Page, selector string, n int, timeout time.Duration) (bool, error) {
	return FillText(p, selector, strconv.Itoa(n), timeout)
}

// FillText writes value into the field unless it already holds it.
func FillText(p browser.Page, selector, value string, timeout time.Duration) (bool, error) {
	cur, err := p.InputValue(selector)
	if err != nil {
		return false, fmt.Errorf("fill %s: %w", selector, ErrNotFound)
	}
	if cur == value {
		return false, nil
	}
	if err := p.Fill(selector, value, timeout); err != nil {
		return false, fmt.Errorf("fill %s: %w", selector, err)
	}
	return true, nil
}

// ClickFirst clicks the first visible candidate. When the regular click fails
// the element is clicked from page script. It returns the selector used.
func ClickFirst(p browser.Page, candidates []string, timeout time.Duration) (string, error) {
	sel, ok := browser.FirstVisible(p, candidates)
	if !ok {
		return "", fmt.Errorf("click %s: %w", strings.Join(candidates, ", "), ErrNotFound)
	}
	if err := p.Click(sel, timeout); err != nil {
		if jsErr := p.JSClick(sel); jsErr != nil {
			return "", fmt.Errorf("click %s: %w", sel, errors.Join(err, jsErr))
		}
	}
	return sel, nil
}

// WaitAny polls until one of the candidates is visible and returns it.
func WaitAny(ctx context.Context, p browser.Page, candidates []string, timeout, interval time.Duration) (string, error) {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if sel, ok := browser.FirstVisible(p, candidates); ok {
			return sel, nil
		}
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("wait for %s: %w", strings.Join(candidates, ", "), ctx.Err())
		case <-ticker.C:
		}
	}
}

// WaitFor polls cond until it holds or the timeout elapses.
func WaitFor(ctx context.Context, timeout, interval time.Duration, cond func() bool) bool {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if cond() {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}
