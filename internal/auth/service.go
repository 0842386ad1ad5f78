package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/jw6ventures/formsheets/internal/apperr"
	"github.com/jw6ventures/formsheets/internal/store"
)

// Service implements local account flows: register, login, refresh and logout.
type Service struct {
	users    store.UserRepository
	sessions *SessionManager
	logger   *zap.Logger
	cost     int
}

func NewService(users store.UserRepository, sessions *SessionManager, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{users: users, sessions: sessions, logger: logger, cost: bcrypt.DefaultCost}
}

type RegisterInput struct {
	FullName string
	Email    string
	Password string
}

// Session is a signed-in user together with freshly issued tokens.
type Session struct {
	User   *store.User
	Tokens *TokenPair
}

// CleanupResult reports the outcome of best-effort logout work. Logout always succeeds
// from the client's point of view; callers log Err and move on.
type CleanupResult struct {
	Attempted bool
	UserID    int64
	Err       error
}

func (s *Service) Register(ctx context.Context, in RegisterInput) (*Session, error) {
	if in.FullName == "" || in.Email == "" || in.Password == "" {
		return nil, apperr.New(apperr.InvalidRequest, "name, email and password are required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.cost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	user, err := s.users.Create(ctx, store.User{
		FullName:     in.FullName,
		Email:        in.Email,
		PasswordHash: string(hash),
		Provider:     store.ProviderLocal,
	})
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, apperr.New(apperr.Conflict, "an account with this email already exists")
		}
		return nil, err
	}
	return s.startSession(ctx, user)
}

func (s *Service) Login(ctx context.Context, email, password string) (*Session, error) {
	if email == "" || password == "" {
		return nil, apperr.New(apperr.InvalidRequest, "email and password are required")
	}
	invalid := apperr.New(apperr.Unauthorized, "invalid email or password")
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, invalid
		}
		return nil, err
	}
	// Accounts created through Google have no local password.
	if user.PasswordHash == "" {
		return nil, invalid
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, invalid
	}
	return s.startSession(ctx, user)
}

// Refresh rotates the token pair. The presented refresh token must match the one on record.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*Session, error) {
	unauthorized := apperr.New(apperr.Unauthorized, "invalid refresh token")
	claims, err := s.sessions.Parse(refreshToken, TokenRefresh)
	if err != nil {
		return nil, unauthorized
	}
	userID, _ := claims.UserID()
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, unauthorized
		}
		return nil, err
	}
	if user.RefreshToken == "" || subtle.ConstantTimeCompare([]byte(user.RefreshToken), []byte(refreshToken)) != 1 {
		return nil, unauthorized
	}
	return s.startSession(ctx, user)
}

// Logout revokes the stored refresh token of whoever token belongs to. Any token
// type is accepted; an unusable token means there is nothing to revoke.
func (s *Service) Logout(ctx context.Context, token string) CleanupResult {
	claims, err := s.sessions.Parse(token, TokenRefresh)
	if err != nil {
		claims, err = s.sessions.Parse(token, TokenAccess)
	}
	if err != nil {
		return CleanupResult{}
	}
	userID, _ := claims.UserID()
	result := CleanupResult{Attempted: true, UserID: userID}
	result.Err = s.users.ClearRefreshToken(ctx, userID)
	return result
}

func (s *Service) startSession(ctx context.Context, user *store.User) (*Session, error) {
	tokens, err := s.sessions.Issue(user.ID, user.Email)
	if err != nil {
		return nil, err
	}
	if err := s.users.SetRefreshToken(ctx, user.ID, tokens.RefreshToken); err != nil {
		return nil, fmt.Errorf("store refresh token: %w", err)
	}
	s.logger.Debug("session issued", zap.Int64("user_id", user.ID))
	return &Session{User: user.Public(), Tokens: tokens}, nil
}
