// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package auth

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/s0up/mlm/internal/domain"
)

type fakeConfigProvider struct {
	cfg domain.Config
}

func (f *fakeConfigProvider) Current() domain.Config { return f.cfg }

func newTestService(t *testing.T, configure func(*domain.Config)) *Service {
	t.Helper()
	cfg := domain.Config{SessionSecret: "test-secret"}
	if configure != nil {
		configure(&cfg)
	}
	return NewService(&fakeConfigProvider{cfg: cfg})
}

func TestHashPasswordRejectsShortPasswords(t *testing.T) {
	t.Parallel()

	_, err := HashPassword("short")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "at least 8 characters")
}

func TestHashPasswordProducesVerifiableBcryptHash(t *testing.T) {
	t.Parallel()

	hash, err := HashPassword("password123")
	require.NoError(t, err)
	assert.NotEmpty(t, hash)
	assert.NotEqual(t, "password123", hash)
}

func TestIsSetupComplete(t *testing.T) {
	t.Parallel()

	incomplete := newTestService(t, nil)
	assert.False(t, incomplete.IsSetupComplete())

	hash, err := HashPassword("password123")
	require.NoError(t, err)
	complete := newTestService(t, func(c *domain.Config) {
		c.AdminUsername = "admin"
		c.AdminPasswordHash = hash
	})
	assert.True(t, complete.IsSetupComplete())
}

func TestLoginNotSetup(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, nil)
	_, err := svc.Login("admin", "password123")
	assert.ErrorIs(t, err, ErrNotSetup)
}

func TestLoginWrongCredentials(t *testing.T) {
	t.Parallel()

	hash, err := HashPassword("password123")
	require.NoError(t, err)
	svc := newTestService(t, func(c *domain.Config) {
		c.AdminUsername = "admin"
		c.AdminPasswordHash = hash
	})

	_, err = svc.Login("admin", "wrongpassword")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.Login("wronguser", "password123")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLoginIssuesCookieAuthenticateAcceptsIt(t *testing.T) {
	t.Parallel()

	hash, err := HashPassword("password123")
	require.NoError(t, err)
	svc := newTestService(t, func(c *domain.Config) {
		c.AdminUsername = "admin"
		c.AdminPasswordHash = hash
	})

	cookie, err := svc.Login("admin", "password123")
	require.NoError(t, err)
	require.NotNil(t, cookie)
	assert.True(t, cookie.HttpOnly)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookie)
	assert.True(t, svc.Authenticate(req))
}

func TestAuthenticateRejectsTamperedCookie(t *testing.T) {
	t.Parallel()

	hash, err := HashPassword("password123")
	require.NoError(t, err)
	svc := newTestService(t, func(c *domain.Config) {
		c.AdminUsername = "admin"
		c.AdminPasswordHash = hash
	})

	cookie, err := svc.Login("admin", "password123")
	require.NoError(t, err)
	cookie.Value = cookie.Value + "tampered"

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookie)
	assert.False(t, svc.Authenticate(req))
}

func TestAuthenticateRejectsCookieSignedWithDifferentSecret(t *testing.T) {
	t.Parallel()

	hash, err := HashPassword("password123")
	require.NoError(t, err)
	signer := newTestService(t, func(c *domain.Config) {
		c.AdminUsername = "admin"
		c.AdminPasswordHash = hash
	})
	cookie, err := signer.Login("admin", "password123")
	require.NoError(t, err)

	verifier := newTestService(t, func(c *domain.Config) {
		c.AdminUsername = "admin"
		c.AdminPasswordHash = hash
		c.SessionSecret = "rotated-secret"
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookie)
	assert.False(t, verifier.Authenticate(req))
}

func TestAuthenticateRejectsMissingCookie(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.False(t, svc.Authenticate(req))
}

func TestMiddlewareRejectsUnauthenticatedRequests(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, nil)
	called := false
	wrapped := svc.Middleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		called = true
	}))

	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.False(t, called)
}

func TestMiddlewarePassesAuthenticatedRequests(t *testing.T) {
	t.Parallel()

	hash, err := HashPassword("password123")
	require.NoError(t, err)
	svc := newTestService(t, func(c *domain.Config) {
		c.AdminUsername = "admin"
		c.AdminPasswordHash = hash
	})
	cookie, err := svc.Login("admin", "password123")
	require.NoError(t, err)

	called := false
	wrapped := svc.Middleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		called = true
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, called)
}

func TestHandleLoginSetsCookieOnSuccess(t *testing.T) {
	t.Parallel()

	hash, err := HashPassword("password123")
	require.NoError(t, err)
	svc := newTestService(t, func(c *domain.Config) {
		c.AdminUsername = "admin"
		c.AdminPasswordHash = hash
	})

	body := strings.NewReader(`{"username":"admin","password":"password123"}`)
	req := httptest.NewRequest(http.MethodPost, "/auth/login", body)
	rec := httptest.NewRecorder()
	svc.HandleLogin(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	resp := rec.Result()
	require.Len(t, resp.Cookies(), 1)
	assert.Equal(t, CookieName, resp.Cookies()[0].Name)
}

func TestHandleLoginRejectsBadCredentials(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, nil)

	body := strings.NewReader(`{"username":"admin","password":"wrong"}`)
	req := httptest.NewRequest(http.MethodPost, "/auth/login", body)
	rec := httptest.NewRecorder()
	svc.HandleLogin(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandleLogoutClearsCookie(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, nil)
	rec := httptest.NewRecorder()
	svc.HandleLogout(rec, httptest.NewRequest(http.MethodPost, "/auth/logout", nil))

	assert.Equal(t, http.StatusNoContent, rec.Code)
	resp := rec.Result()
	require.Len(t, resp.Cookies(), 1)
	assert.Equal(t, -1, resp.Cookies()[0].MaxAge)
}
