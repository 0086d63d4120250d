// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package auth implements the embedded web UI's single admin credential,
// per spec §1's "not multi-user auth" non-goal: one bcrypt-hashed password,
// checked against domain.Config.AdminUsername/AdminPasswordHash, and a
// long-lived HMAC-signed cookie instead of a server-side session store.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/s0up/mlm/internal/domain"
)

var (
	ErrNotSetup           = errors.New("auth: admin credential not configured")
	ErrInvalidCredentials = errors.New("auth: invalid username or password")
)

// CookieName is the session cookie set on successful Login.
const CookieName = "mlm_session"

// sessionTTL is long-lived on purpose: there is one admin, no concurrent
// session table, and re-authenticating a headless daemon's UI is friction
// with no security payoff over just rotating SessionSecret.
const sessionTTL = 30 * 24 * time.Hour

// ConfigProvider is the narrow slice of config.Manager auth needs: the
// current, hot-reloadable config snapshot.
type ConfigProvider interface {
	Current() domain.Config
}

type Service struct {
	cfg ConfigProvider
}

func NewService(cfg ConfigProvider) *Service {
	return &Service{cfg: cfg}
}

// HashPassword bcrypt-hashes a new admin password for storage in
// domain.Config.AdminPasswordHash (written by the CLI's "auth set-password"
// command, never by the web UI itself).
func HashPassword(password string) (string, error) {
	if len(password) < 8 {
		return "", errors.New("password must be at least 8 characters")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// IsSetupComplete reports whether an admin credential has been configured.
func (s *Service) IsSetupComplete() bool {
	cfg := s.cfg.Current()
	return cfg.AdminUsername != "" && cfg.AdminPasswordHash != ""
}

// Login verifies username/password against the configured admin credential
// and, on success, returns a signed cookie the caller should set on the
// response.
func (s *Service) Login(username, password string) (*http.Cookie, error) {
	cfg := s.cfg.Current()
	if cfg.AdminUsername == "" || cfg.AdminPasswordHash == "" {
		return nil, ErrNotSetup
	}
	if subtle.ConstantTimeCompare([]byte(username), []byte(cfg.AdminUsername)) != 1 {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(cfg.AdminPasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	value, err := s.sign(username, time.Now().Add(sessionTTL))
	if err != nil {
		return nil, err
	}
	return &http.Cookie{
		Name:     CookieName,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Expires:  time.Now().Add(sessionTTL),
	}, nil
}

// Authenticate reports whether r carries a validly-signed, unexpired
// session cookie for the configured admin user.
func (s *Service) Authenticate(r *http.Request) bool {
	cookie, err := r.Cookie(CookieName)
	if err != nil {
		return false
	}
	cfg := s.cfg.Current()
	return s.verify(cookie.Value, cfg.AdminUsername)
}

// sign produces "<username>.<unixExpiry>.<base64url hmac>" using
// SessionSecret as the key, so a rotated secret invalidates every
// outstanding cookie.
func (s *Service) sign(username string, expiry time.Time) (string, error) {
	cfg := s.cfg.Current()
	if cfg.SessionSecret == "" {
		return "", errors.New("auth: sessionSecret is not configured")
	}

	payload := fmt.Sprintf("%s.%d", username, expiry.Unix())
	mac := hmac.New(sha256.New, []byte(cfg.SessionSecret))
	mac.Write([]byte(payload))
	sig := base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
	return payload + "." + sig, nil
}

func (s *Service) verify(value, expectUsername string) bool {
	cfg := s.cfg.Current()
	if cfg.SessionSecret == "" {
		return false
	}

	parts := strings.Split(value, ".")
	if len(parts) != 3 {
		return false
	}
	username, expiryStr, sig := parts[0], parts[1], parts[2]

	if subtle.ConstantTimeCompare([]byte(username), []byte(expectUsername)) != 1 {
		return false
	}

	expiryUnix, err := strconv.ParseInt(expiryStr, 10, 64)
	if err != nil {
		return false
	}
	if time.Now().After(time.Unix(expiryUnix, 0)) {
		return false
	}

	payload := username + "." + expiryStr
	mac := hmac.New(sha256.New, []byte(cfg.SessionSecret))
	mac.Write([]byte(payload))
	expectSig := base64.RawURLEncoding.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(sig), []byte(expectSig))
}

// Middleware rejects any request without a valid session cookie before it
// reaches the wrapped handler, gating internal/web's read-only API behind
// the single admin credential.
func (s *Service) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.Authenticate(r) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// loginRequest is the POST /auth/login JSON body.
type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// HandleLogin verifies credentials and sets the session cookie on success.
func (s *Service) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	cookie, err := s.Login(req.Username, req.Password)
	if err != nil {
		http.Error(w, "invalid username or password", http.StatusUnauthorized)
		return
	}

	http.SetCookie(w, cookie)
	w.WriteHeader(http.StatusNoContent)
}

// HandleLogout clears the session cookie.
func (s *Service) HandleLogout(w http.ResponseWriter, _ *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
	})
	w.WriteHeader(http.StatusNoContent)
}
