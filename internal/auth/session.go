package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/jw6ventures/formsheets/internal/config"
)

const (
	AccessCookie  = "accessToken"
	RefreshCookie = "refreshToken"
)

// TokenType separates access credentials from refresh credentials so one can never stand in for the other.
type TokenType string

const (
	TokenAccess  TokenType = "access"
	TokenRefresh TokenType = "refresh"
)

var ErrInvalidToken = errors.New("invalid session token")

// Claims is the JWT payload. Subject carries the user id.
type Claims struct {
	jwt.RegisteredClaims
	Email string    `json:"email"`
	Type  TokenType `json:"typ"`
}

// UserID parses the subject.
func (c *Claims) UserID() (int64, error) {
	return strconv.ParseInt(c.Subject, 10, 64)
}

// TokenPair is what login, register and refresh hand back.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// SessionManager signs and verifies session JWTs and manages their cookies.
type SessionManager struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	secure     bool
	now        func() time.Time
}

func NewSessionManager(cfg *config.Config) *SessionManager {
	return &SessionManager{
		secret:     []byte(cfg.Session.Secret),
		accessTTL:  cfg.Session.AccessTTL,
		refreshTTL: cfg.Session.RefreshTTL,
		secure:     cfg.SecureCookies(),
		now:        time.Now,
	}
}

// Sign issues a token of the given type for the user.
func (m *SessionManager) Sign(userID int64, email string, typ TokenType) (string, error) {
	ttl := m.accessTTL
	if typ == TokenRefresh {
		ttl = m.refreshTTL
	}
	now := m.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(userID, 10),
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Email: email,
		Type:  typ,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("sign %s token: %w", typ, err)
	}
	return signed, nil
}

// Issue signs a fresh access/refresh pair.
func (m *SessionManager) Issue(userID int64, email string) (*TokenPair, error) {
	access, err := m.Sign(userID, email, TokenAccess)
	if err != nil {
		return nil, err
	}
	refresh, err := m.Sign(userID, email, TokenRefresh)
	if err != nil {
		return nil, err
	}
	return &TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

// Parse verifies signature, expiry and token type.
func (m *SessionManager) Parse(raw string, want TokenType) (*Claims, error) {
	if raw == "" {
		return nil, ErrInvalidToken
	}
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Type != want {
		return nil, fmt.Errorf("%w: expected %s token, got %q", ErrInvalidToken, want, claims.Type)
	}
	if _, err := claims.UserID(); err != nil {
		return nil, fmt.Errorf("%w: bad subject", ErrInvalidToken)
	}
	return claims, nil
}

// SetCookies writes both session cookies.
func (m *SessionManager) SetCookies(w http.ResponseWriter, pair *TokenPair) {
	now := m.now()
	http.SetCookie(w, m.cookie(AccessCookie, pair.AccessToken, now.Add(m.accessTTL)))
	http.SetCookie(w, m.cookie(RefreshCookie, pair.RefreshToken, now.Add(m.refreshTTL)))
}

// Clear expires both session cookies.
func (m *SessionManager) Clear(w http.ResponseWriter) {
	for _, name := range []string{AccessCookie, RefreshCookie} {
		c := m.cookie(name, "", time.Unix(0, 0))
		c.MaxAge = -1
		http.SetCookie(w, c)
	}
}

func (m *SessionManager) cookie(name, value string, expires time.Time) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	}
}
