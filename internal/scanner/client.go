// Package scanner reads availability straight from the portal's background
// endpoints, reusing the browser session's cookies instead of rendering
// pages.
package scanner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"courtbot/internal/auth"
	"courtbot/internal/errs"
	"courtbot/internal/models"
	"courtbot/internal/portal"
)

// Shape selects which background endpoint Scan uses.
type Shape string

const (
	// ShapeDateIndexed queries one area over a date span.
	ShapeDateIndexed Shape = "date"
	// ShapeFacilityIndexed queries one court from a start day.
	ShapeFacilityIndexed Shape = "facility"
)

// Options configures a Client.
type Options struct {
	BaseURL   string
	UserAgent string
	Timeout   time.Duration
	// RequestsPerSecond paces all requests of the client; Burst is the
	// bucket size.
	RequestsPerSecond float64
	Burst             int
	Shape             Shape
	// Purpose is the activity filter of date-indexed queries.
	Purpose  string
	PageSize int
	MaxPages int
}

func (o *Options) applyDefaults() {
	if o.BaseURL == "" {
		o.BaseURL = portal.DefaultBaseURL
	}
	o.BaseURL = strings.TrimRight(o.BaseURL, "/")
	if o.UserAgent == "" {
		o.UserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"
	}
	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Second
	}
	if o.RequestsPerSecond <= 0 {
		o.RequestsPerSecond = 2
	}
	if o.Burst <= 0 {
		o.Burst = 1
	}
	if o.Shape == "" {
		o.Shape = ShapeDateIndexed
	}
	if o.Purpose == "" {
		o.Purpose = portal.TennisActivityValue
	}
	if o.PageSize <= 0 {
		o.PageSize = 100
	}
	if o.MaxPages <= 0 {
		o.MaxPages = 20
	}
}

// Client is the fast scan path. It is safe for concurrent use.
type Client struct {
	opts    Options
	http    *http.Client
	store   *auth.CredentialStore
	limiter *rate.Limiter
	log     *zap.Logger
}

func New(opts Options, store *auth.CredentialStore, log *zap.Logger) *Client {
	opts.applyDefaults()
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		opts: opts,
		http: &http.Client{
			Timeout: opts.Timeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		store:   store,
		limiter: rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), opts.Burst),
		log:     log.Named("scanner"),
	}
}

// errAuthRequired marks a response that asks for a new login.
var errAuthRequired = errors.New("authentication required")

// post sends one form request with the current credential. On an
// auth-required answer the credential is renewed once and the request
// retried once; a second auth-required answer is errs.ErrSessionExpired.
func (c *Client) post(ctx context.Context, path string, form url.Values) ([]byte, error) {
	cred, err := c.store.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errs.ErrSessionExpired, err)
	}
	body, err := c.do(ctx, path, form, cred)
	if !errors.Is(err, errAuthRequired) {
		return body, err
	}

	c.log.Info("🔑 session rejected, logging in again", zap.String("path", path))
	cred, err = c.store.Renew(ctx, cred)
	if err != nil {
		return nil, fmt.Errorf("%w: renewal failed: %w", errs.ErrSessionExpired, err)
	}
	body, err = c.do(ctx, path, form, cred)
	if errors.Is(err, errAuthRequired) {
		return nil, fmt.Errorf("%w: %s rejected a fresh session", errs.ErrSessionExpired, path)
	}
	return body, err
}

func (c *Client) do(ctx context.Context, path string, form url.Values, cred *models.Credential) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.BaseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	origin := c.opts.BaseURL
	if u, err := url.Parse(c.opts.BaseURL); err == nil {
		origin = u.Scheme + "://" + u.Host
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=UTF-8")
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	req.Header.Set("Accept", "application/json, text/javascript, */*; q=0.01")
	req.Header.Set("Origin", origin)
	req.Header.Set("Referer", c.opts.BaseURL+portal.PathDailyResults)
	req.Header.Set("User-Agent", c.opts.UserAgent)
	for _, ck := range cred.Cookies {
		req.AddCookie(&http.Cookie{Name: ck.Name, Value: ck.Value})
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", path, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, errAuthRequired
	case resp.StatusCode >= 300 && resp.StatusCode < 400:
		loc := resp.Header.Get("Location")
		if isLoginURL(loc) {
			return nil, errAuthRequired
		}
		return nil, fmt.Errorf("request %s: unexpected redirect to %q", path, loc)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("request %s: unexpected status %d", path, resp.StatusCode)
	}

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] != '{' && trimmed[0] != '[' && portal.IsSessionTimeout(string(trimmed)) {
		return nil, errAuthRequired
	}
	return trimmed, nil
}

func isLoginURL(loc string) bool {
	return strings.Contains(loc, portal.MarkerLoginURL) ||
		strings.Contains(loc, "Login") ||
		strings.Contains(loc, portal.PathHome)
}

// Scan returns the slots of facility within r. Date-indexed scans cover the
// facility's area; facility-indexed scans query each configured court.
func (c *Client) Scan(ctx context.Context, f models.Facility, r models.DateRange) ([]models.Slot, error) {
	var (
		slots []models.Slot
		err   error
	)
	if c.opts.Shape == ShapeFacilityIndexed && len(f.Courts) > 0 {
		slots, err = c.scanByFacility(ctx, f, r)
	} else {
		slots, err = c.scanByDate(ctx, f, r)
	}
	if err != nil {
		return nil, err
	}
	c.log.Debug("facility scanned",
		zap.String("facility", f.ID),
		zap.Stringer("from", r.From),
		zap.Stringer("to", r.To),
		zap.Int("slots", len(slots)))
	return slots, nil
}

// ScanAll scans every facility, at most concurrency at a time. A failing
// facility is reported in its own ScanReport and does not stop the others.
func (c *Client) ScanAll(ctx context.Context, facilities []models.Facility, r models.DateRange, concurrency int) []models.ScanReport {
	if concurrency <= 0 {
		concurrency = 1
	}
	reports := make([]models.ScanReport, len(facilities))
	var g errgroup.Group
	g.SetLimit(concurrency)
	for i, f := range facilities {
		i, f := i, f
		g.Go(func() error {
			slots, err := c.Scan(ctx, f, r)
			rep := models.ScanReport{Facility: f, Slots: slots, Complete: err == nil, Err: err, ScannedAt: time.Now()}
			if err != nil {
				rep.Error = err.Error()
				c.log.Warn("facility scan failed", zap.String("facility", f.ID), zap.Error(err))
			}
			reports[i] = rep
			return nil
		})
	}
	_ = g.Wait()
	return reports
}
