// Package auth logs in to the portal through the shared page and keeps the
// resulting session cookies available to the HTTP scan path.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"courtbot/internal/browser"
	"courtbot/internal/errs"
	"courtbot/internal/forms"
	"courtbot/internal/models"
	"courtbot/internal/portal"
)

// Credentials holds login information.
type Credentials struct {
	UserID   string `yaml:"user_id" json:"user_id"`
	Password string `yaml:"password" json:"-"`
}

// Authenticator drives the portal's login page.
type Authenticator struct {
	BaseURL string
	// FormTimeout bounds navigation and the wait for the login form.
	FormTimeout time.Duration
	// MarkerTimeout bounds the wait for the post-login marker.
	MarkerTimeout time.Duration
	// SessionTTL caps the estimated lifetime of a harvested credential.
	SessionTTL time.Duration
	Poll       time.Duration
	Now        func() time.Time

	log *zap.Logger
}

func New(baseURL string, log *zap.Logger) *Authenticator {
	if baseURL == "" {
		baseURL = portal.DefaultBaseURL
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Authenticator{
		BaseURL:       strings.TrimRight(baseURL, "/"),
		FormTimeout:   30 * time.Second,
		MarkerTimeout: 15 * time.Second,
		SessionTTL:    25 * time.Minute,
		Poll:          250 * time.Millisecond,
		Now:           time.Now,
		log:           log.Named("auth"),
	}
}

func authErr(reason string, err error) error {
	return &errs.AuthError{Reason: reason, Err: err}
}

// Login signs in with creds and returns the harvested credential. Success is
// decided by the post-login marker, never by the HTTP status: the portal
// answers 200 for failed logins too.
func (a *Authenticator) Login(ctx context.Context, p browser.Page, creds Credentials) (*models.Credential, error) {
	a.log.Info("🔐 login started", zap.String("user", creds.UserID))

	if err := p.Goto(a.BaseURL+portal.PathHome, a.FormTimeout); err != nil {
		return nil, authErr(errs.AuthUnreachable, fmt.Errorf("open home page: %w", err))
	}
	if err := a.rejectErrorPage(p); err != nil {
		return nil, err
	}

	if ok, _ := a.IsLoggedIn(p); ok {
		a.log.Info("✅ session still valid")
		return a.harvest(p)
	}

	if _, err := forms.ClickFirst(p, portal.LoginEntry, a.FormTimeout); err != nil {
		if n, _ := p.Count(portal.LoginUserID); n == 0 {
			return nil, authErr(errs.AuthFormTimeout, fmt.Errorf("login entry: %w", err))
		}
	}
	for _, sel := range []string{portal.LoginUserID, portal.LoginPassword, portal.LoginSubmit} {
		if _, err := forms.WaitAny(ctx, p, []string{sel}, a.FormTimeout, a.Poll); err != nil {
			a.log.Warn("login form not rendered", zap.String("selector", sel), zap.String("url", p.URL()))
			return nil, authErr(errs.AuthFormTimeout, err)
		}
	}
	if err := a.rejectErrorPage(p); err != nil {
		return nil, err
	}

	if err := p.Fill(portal.LoginUserID, creds.UserID, a.FormTimeout); err != nil {
		return nil, authErr(errs.AuthFormTimeout, fmt.Errorf("fill user id: %w", err))
	}
	if err := p.Fill(portal.LoginPassword, creds.Password, a.FormTimeout); err != nil {
		return nil, authErr(errs.AuthFormTimeout, fmt.Errorf("fill password: %w", err))
	}
	if _, err := forms.ClickFirst(p, []string{portal.LoginSubmit}, a.FormTimeout); err != nil {
		return nil, authErr(errs.AuthFormTimeout, fmt.Errorf("submit: %w", err))
	}
	if err := p.WaitSettled(a.FormTimeout); err != nil {
		a.log.Debug("page not settled after submit", zap.Error(err))
	}

	verified := forms.WaitFor(ctx, a.MarkerTimeout, a.Poll, func() bool {
		ok, _ := a.IsLoggedIn(p)
		return ok
	})
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !verified {
		a.log.Warn("❌ login marker not found", zap.String("url", p.URL()))
		return nil, authErr(errs.AuthBadCredentials, errors.New("post-login marker not found"))
	}
	a.log.Info("🎉 login succeeded", zap.String("url", p.URL()))
	return a.harvest(p)
}

func (a *Authenticator) rejectErrorPage(p browser.Page) error {
	title, _ := p.Title()
	if strings.Contains(title, portal.TitleError) || strings.Contains(p.URL(), portal.MarkerSystemErrorCode) {
		return authErr(errs.AuthUnreachable, fmt.Errorf("portal error page %q", title))
	}
	if html, err := p.Content(); err == nil && strings.Contains(html, portal.MarkerSystemErrorCode) {
		return authErr(errs.AuthUnreachable, errors.New("portal system error page"))
	}
	return nil
}

func (a *Authenticator) harvest(p browser.Page) (*models.Credential, error) {
	cookies, err := p.Cookies()
	if err != nil {
		return nil, fmt.Errorf("read cookies: %w", err)
	}
	return models.NewCredential(cookies, a.Now(), a.SessionTTL), nil
}

// IsLoggedIn inspects the page on screen without navigating.
func (a *Authenticator) IsLoggedIn(p browser.Page) (bool, error) {
	html, err := p.Content()
	if err != nil {
		return false, err
	}
	if portal.IsSessionTimeout(html) {
		return false, nil
	}
	if _, ok := browser.FirstPresent(p, portal.LogoutMarker); ok {
		return true, nil
	}
	if strings.Contains(html, portal.TextLogout) {
		return true, nil
	}
	title, _ := p.Title()
	return strings.Contains(title, portal.TitleHome) && strings.Contains(p.URL(), portal.MarkerAuthenticated), nil
}

// Recover leaves a session-timeout page by returning home. It reports
// whether the page showed a timeout.
func (a *Authenticator) Recover(ctx context.Context, p browser.Page) (bool, error) {
	html, err := p.Content()
	if err != nil {
		return false, err
	}
	if !portal.IsSessionTimeout(html) {
		return false, nil
	}
	a.log.Warn("⏰ session timeout page detected, returning home")
	if _, err := forms.ClickFirst(p, portal.HomeButton, a.FormTimeout); err == nil {
		_ = p.WaitSettled(a.FormTimeout)
		return true, ctx.Err()
	}
	if err := p.Goto(a.BaseURL+portal.PathHome, a.FormTimeout); err != nil {
		return true, fmt.Errorf("return home: %w", err)
	}
	return true, nil
}
