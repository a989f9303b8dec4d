package auth

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"courtbot/internal/models"
)

// RenewFunc obtains a fresh credential, typically by logging in again.
type RenewFunc func(ctx context.Context) (*models.Credential, error)

// CredentialStore shares the current credential between the scan path and
// the UI path. The credential is replaced wholesale; readers never see a
// partially updated cookie set. Concurrent renewals collapse into one login.
type CredentialStore struct {
	cur   atomic.Pointer[models.Credential]
	group singleflight.Group
	renew RenewFunc
	now   func() time.Time
}

func NewCredentialStore(renew RenewFunc) *CredentialStore {
	return &CredentialStore{renew: renew, now: time.Now}
}

// Current returns the credential in use, valid or not. It may be nil.
func (s *CredentialStore) Current() *models.Credential {
	return s.cur.Load()
}

// Set installs c.
func (s *CredentialStore) Set(c *models.Credential) {
	s.cur.Store(c)
}

// Get returns a valid credential, renewing when the current one expired.
func (s *CredentialStore) Get(ctx context.Context) (*models.Credential, error) {
	if c := s.cur.Load(); c != nil && c.Valid(s.now()) {
		return c, nil
	}
	return s.Renew(ctx, s.cur.Load())
}

// Renew replaces stale with a fresh credential. When another caller already
// replaced stale, its credential is returned without logging in again.
func (s *CredentialStore) Renew(ctx context.Context, stale *models.Credential) (*models.Credential, error) {
	if c := s.cur.Load(); c != nil && c != stale && c.Valid(s.now()) {
		return c, nil
	}
	if s.renew == nil {
		return nil, errors.New("credential renewal not configured")
	}
	ch := s.group.DoChan("credential", func() (any, error) {
		if c := s.cur.Load(); c != nil && c != stale && c.Valid(s.now()) {
			return c, nil
		}
		c, err := s.renew(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		s.cur.Store(c)
		return c, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Val.(*models.Credential), nil
	}
}
