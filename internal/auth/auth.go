// Package auth implements the single shared credential check: clients
// present the configured username and password with HTTP Basic auth, or
// exchange them for a JWT and send that as a Bearer token.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/fruitsalade/bitflow/internal/logging"
	"github.com/fruitsalade/bitflow/internal/metrics"
	"github.com/fruitsalade/bitflow/pkg/protocol"
)

type contextKey string

const (
	userContextKey contextKey = "user"
	issuer                    = "bitflow"
	realm                     = `Basic realm="BitFlow"`
)

// ErrInvalidCredentials is returned for a wrong username or password.
var ErrInvalidCredentials = errors.New("invalid credentials")

// Claims holds JWT token claims.
type Claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// Config configures the shared credential.
type Config struct {
	Username string
	Password string
	Secret   string
	TokenTTL time.Duration
}

// Auth validates the shared credential and the tokens issued for it.
type Auth struct {
	username string
	hash     []byte
	secret   []byte
	ttl      time.Duration
}

// New creates an Auth. An empty password disables authentication. Without
// a configured secret a random one is generated, so tokens do not survive
// a restart.
func New(cfg Config) (*Auth, error) {
	a := &Auth{username: cfg.Username, ttl: cfg.TokenTTL}
	if a.ttl <= 0 {
		a.ttl = 24 * time.Hour
	}
	if cfg.Password == "" {
		return a, nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(cfg.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	a.hash = hash

	if cfg.Secret != "" {
		a.secret = []byte(cfg.Secret)
	} else {
		a.secret = make([]byte, 32)
		if _, err := rand.Read(a.secret); err != nil {
			return nil, fmt.Errorf("generate token secret: %w", err)
		}
		logging.Warn("JWT_SECRET not set, using a random secret; tokens expire on restart")
	}
	return a, nil
}

// Enabled reports whether requests must authenticate.
func (a *Auth) Enabled() bool {
	return a != nil && len(a.hash) > 0
}

// ValidateCredentials checks username and password against the shared
// credential.
func (a *Auth) ValidateCredentials(username, password string) (*Claims, error) {
	if !a.Enabled() {
		return nil, errors.New("authentication disabled")
	}
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(a.username)) == 1
	passErr := bcrypt.CompareHashAndPassword(a.hash, []byte(password))
	if !userOK || passErr != nil {
		return nil, ErrInvalidCredentials
	}
	return &Claims{Username: username}, nil
}

// IssueToken signs a token for username.
func (a *Auth) IssueToken(username string) (string, time.Time, error) {
	now := time.Now()
	claims := &Claims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    issuer,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenStr, err := token.SignedString(a.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return tokenStr, claims.ExpiresAt.Time, nil
}

func (a *Auth) validateToken(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secret, nil
	}, jwt.WithIssuer(issuer))
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}

// Middleware requires a valid Bearer token or Basic credentials. It passes
// every request through when authentication is disabled.
func (a *Auth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.Enabled() {
			next.ServeHTTP(w, r)
			return
		}

		if tokenStr := extractToken(r); tokenStr != "" {
			claims, err := a.validateToken(tokenStr)
			if err != nil {
				metrics.RecordAuthAttempt(false)
				logging.WithContext(r.Context()).Debug("token rejected", zap.Error(err))
				sendAuthError(w, http.StatusUnauthorized, "invalid or expired token")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
			return
		}

		username, password, ok := r.BasicAuth()
		if !ok {
			w.Header().Set("WWW-Authenticate", realm)
			sendAuthError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		claims, err := a.ValidateCredentials(username, password)
		if err != nil {
			metrics.RecordAuthAttempt(false)
			logging.WithContext(r.Context()).Warn("basic auth failed", zap.String("username", username))
			w.Header().Set("WWW-Authenticate", realm)
			sendAuthError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		metrics.RecordAuthAttempt(true)
		next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
	})
}

// HandleLogin handles POST /api/v1/auth/token
func (a *Auth) HandleLogin(w http.ResponseWriter, r *http.Request) {
	if !a.Enabled() {
		sendAuthError(w, http.StatusNotFound, "authentication is disabled")
		return
	}

	var req protocol.TokenRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		metrics.RecordAuthAttempt(false)
		sendAuthError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Username == "" || req.Password == "" {
		metrics.RecordAuthAttempt(false)
		sendAuthError(w, http.StatusBadRequest, "username and password required")
		return
	}

	if _, err := a.ValidateCredentials(req.Username, req.Password); err != nil {
		metrics.RecordAuthAttempt(false)
		logging.WithContext(r.Context()).Warn("login failed", zap.String("username", req.Username))
		sendAuthError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	tokenStr, expires, err := a.IssueToken(req.Username)
	if err != nil {
		logging.WithContext(r.Context()).Error("failed to issue token", zap.Error(err))
		sendAuthError(w, http.StatusInternalServerError, "failed to generate token")
		return
	}
	metrics.RecordAuthAttempt(true)
	logging.WithContext(r.Context()).Info("login successful", zap.String("username", req.Username))

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(protocol.TokenResponse{Token: tokenStr, ExpiresAt: expires})
}

// GetClaims extracts claims from the request context.
func GetClaims(ctx context.Context) *Claims {
	claims, _ := ctx.Value(userContextKey).(*Claims)
	return claims
}

// WithClaims stores claims in ctx.
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, userContextKey, claims)
}

// extractToken reads a Bearer token from the Authorization header, or the
// token query parameter used by media elements and WebSocket clients that
// cannot set headers.
func extractToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	}
	return r.URL.Query().Get("token")
}

func sendAuthError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(protocol.NewError(code, message))
}
