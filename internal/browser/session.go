package browser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
	"go.uber.org/zap"
)

const (
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"
	stateFileName    = "state.json"
)

// Options configures the automated browser.
type Options struct {
	Headless  bool
	Timeout   time.Duration
	StateDir  string
	UserAgent string
	Width     int
	Height    int
}

func (o *Options) applyDefaults() {
	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Second
	}
	if o.UserAgent == "" {
		o.UserAgent = DefaultUserAgent
	}
	if o.Width <= 0 || o.Height <= 0 {
		o.Width, o.Height = 1920, 1080
	}
}

// Session owns the single browser and the single page every UI-driving
// component shares. Access to the page is granted through a Lease.
type Session struct {
	opts Options
	log  *zap.Logger

	mu      sync.Mutex
	pw      *playwright.Playwright
	browser playwright.Browser
	context playwright.BrowserContext
	page    Page
	opened  bool
	newPage func() (Page, error)

	token chan struct{}
}

// NewSession creates a session; nothing is launched until Open.
func NewSession(opts Options, log *zap.Logger) *Session {
	opts.applyDefaults()
	if log == nil {
		log = zap.NewNop()
	}
	s := &Session{
		opts:  opts,
		log:   log.Named("browser"),
		token: make(chan struct{}, 1),
	}
	s.newPage = s.newPlaywrightPage
	return s
}

// NewStaticSession wraps an existing page. Used by tests and by callers that
// manage the browser themselves.
func NewStaticSession(p Page) *Session {
	s := &Session{
		log:    zap.NewNop(),
		token:  make(chan struct{}, 1),
		opened: true,
		page:   p,
	}
	s.newPage = func() (Page, error) { return p, nil }
	return s
}

// Open launches Chromium and prepares a browser context. Calling Open on an
// already opened session is a no-op.
func (s *Session) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.opened {
		return nil
	}

	pw, err := playwright.Run()
	if err != nil {
		return fmt.Errorf("failed to start playwright: %w", err)
	}
	s.pw = pw

	b, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(s.opts.Headless),
		Args: []string{
			"--disable-blink-features=AutomationControlled",
			"--disable-dev-shm-usage",
			"--no-sandbox",
			"--disable-setuid-sandbox",
		},
	})
	if err != nil {
		s.closeLocked()
		return fmt.Errorf("failed to launch browser: %w", err)
	}
	s.browser = b

	bc, err := s.newContext()
	if err != nil {
		s.closeLocked()
		return err
	}
	s.context = bc
	s.opened = true
	s.log.Info("🚀 browser started", zap.Bool("headless", s.opts.Headless))
	return nil
}

func (s *Session) contextOptions() playwright.BrowserNewContextOptions {
	return playwright.BrowserNewContextOptions{
		UserAgent:  playwright.String(s.opts.UserAgent),
		Viewport:   &playwright.Size{Width: s.opts.Width, Height: s.opts.Height},
		Locale:     playwright.String("ja-JP"),
		TimezoneId: playwright.String("Asia/Tokyo"),
		ExtraHttpHeaders: map[string]string{
			"Accept-Language": "ja,en-US;q=0.9,en;q=0.8",
			"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8",
		},
	}
}

func (s *Session) statePath() string {
	if s.opts.StateDir == "" {
		return ""
	}
	return filepath.Join(s.opts.StateDir, stateFileName)
}

// newContext restores the saved storage state when one exists and falls back
// to a fresh context.
func (s *Session) newContext() (playwright.BrowserContext, error) {
	if path := s.statePath(); path != "" {
		if _, err := os.Stat(path); err == nil {
			opts := s.contextOptions()
			opts.StorageStatePath = playwright.String(path)
			bc, err := s.browser.NewContext(opts)
			if err == nil {
				s.log.Info("💾 restored saved session", zap.String("path", path))
				return bc, nil
			}
			s.log.Warn("saved session could not be restored", zap.Error(err))
		}
	}
	bc, err := s.browser.NewContext(s.contextOptions())
	if err != nil {
		return nil, fmt.Errorf("failed to create browser context: %w", err)
	}
	return bc, nil
}

func (s *Session) newPlaywrightPage() (Page, error) {
	if s.context == nil {
		return nil, errors.New("browser session is not open")
	}
	pg, err := s.context.NewPage()
	if err != nil {
		return nil, fmt.Errorf("failed to create page: %w", err)
	}
	ms := float64(s.opts.Timeout.Milliseconds())
	pg.SetDefaultTimeout(ms)
	pg.SetDefaultNavigationTimeout(ms)
	return &playwrightPage{page: pg}, nil
}

// Page returns the shared page, creating it on first use or after it was
// closed.
func (s *Session) Page() (Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.opened {
		return nil, errors.New("browser session is not open")
	}
	if s.page != nil && !s.page.IsClosed() {
		return s.page, nil
	}
	p, err := s.newPage()
	if err != nil {
		return nil, err
	}
	s.page = p
	return p, nil
}

// SaveState persists cookies and local storage so the next Open can skip
// logging in.
func (s *Session) SaveState() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	path := s.statePath()
	if s.context == nil || path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create state dir: %w", err)
	}
	if _, err := s.context.StorageState(path); err != nil {
		return fmt.Errorf("failed to save session state: %w", err)
	}
	s.log.Debug("session state saved", zap.String("path", path))
	return nil
}

// Close releases every browser resource. It is safe to call repeatedly and
// after a partial Open.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeLocked()
}

func (s *Session) closeLocked() error {
	var errs []error
	if s.page != nil && !s.page.IsClosed() {
		errs = append(errs, s.page.Close())
	}
	if s.context != nil {
		errs = append(errs, s.context.Close())
	}
	if s.browser != nil {
		errs = append(errs, s.browser.Close())
	}
	if s.pw != nil {
		errs = append(errs, s.pw.Stop())
	}
	wasOpen := s.opened
	s.page, s.context, s.browser, s.pw = nil, nil, nil, nil
	s.opened = false
	if wasOpen {
		s.log.Info("browser closed")
	}
	return errors.Join(errs...)
}

// Lease grants exclusive use of the shared page until Release.
type Lease struct {
	s    *Session
	page Page
	once sync.Once
}

// Acquire blocks until the page is free or ctx is done. Waiters are served in
// arrival order.
func (s *Session) Acquire(ctx context.Context) (*Lease, error) {
	select {
	case s.token <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	p, err := s.Page()
	if err != nil {
		<-s.token
		return nil, err
	}
	return &Lease{s: s, page: p}, nil
}

func (l *Lease) Page() Page { return l.page }

// Release returns the page. Subsequent calls do nothing.
func (l *Lease) Release() {
	l.once.Do(func() { <-l.s.token })
}
