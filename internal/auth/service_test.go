package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/jw6ventures/formsheets/internal/apperr"
)

func newTestService() (*Service, *fakeUserRepo) {
	repo := newFakeUserRepo()
	svc := NewService(repo, NewSessionManager(testConfig()), nil)
	svc.cost = bcrypt.MinCost
	return svc, repo
}

func TestRegisterAndLogin(t *testing.T) {
	ctx := context.Background()
	svc, repo := newTestService()

	sess, err := svc.Register(ctx, RegisterInput{FullName: "Ann", Email: " Ann@Example.com ", Password: "s3cret!"})
	require.NoError(t, err)
	assert.Equal(t, "ann@example.com", sess.User.Email)
	assert.Empty(t, sess.User.PasswordHash)
	assert.Equal(t, sess.Tokens.RefreshToken, repo.users[sess.User.ID].RefreshToken)

	_, err = svc.Register(ctx, RegisterInput{FullName: "Ann", Email: "ann@example.com", Password: "x"})
	assert.True(t, apperr.Is(err, apperr.Conflict))

	login, err := svc.Login(ctx, "ann@example.com", "s3cret!")
	require.NoError(t, err)
	assert.Equal(t, sess.User.ID, login.User.ID)

	_, err = svc.Login(ctx, "ann@example.com", "wrong")
	assert.True(t, apperr.Is(err, apperr.Unauthorized))
	_, err = svc.Login(ctx, "nobody@example.com", "s3cret!")
	assert.True(t, apperr.Is(err, apperr.Unauthorized))
	_, err = svc.Login(ctx, "", "")
	assert.True(t, apperr.Is(err, apperr.InvalidRequest))
}

func TestRefreshRotatesAndRejectsStale(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService()

	sess, err := svc.Register(ctx, RegisterInput{FullName: "Ann", Email: "ann@example.com", Password: "pw"})
	require.NoError(t, err)

	rotated, err := svc.Refresh(ctx, sess.Tokens.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, sess.Tokens.RefreshToken, rotated.Tokens.RefreshToken)

	_, err = svc.Refresh(ctx, sess.Tokens.RefreshToken)
	assert.True(t, apperr.Is(err, apperr.Unauthorized), "old refresh token must stop working")

	_, err = svc.Refresh(ctx, rotated.Tokens.AccessToken)
	assert.True(t, apperr.Is(err, apperr.Unauthorized), "access token is not a refresh token")
}

func TestLogoutCleanupResult(t *testing.T) {
	ctx := context.Background()
	svc, repo := newTestService()

	sess, err := svc.Register(ctx, RegisterInput{FullName: "Ann", Email: "ann@example.com", Password: "pw"})
	require.NoError(t, err)

	result := svc.Logout(ctx, sess.Tokens.AccessToken)
	assert.True(t, result.Attempted)
	assert.NoError(t, result.Err)
	assert.Equal(t, []int64{sess.User.ID}, repo.cleared)
	assert.Empty(t, repo.users[sess.User.ID].RefreshToken)

	_, err = svc.Refresh(ctx, sess.Tokens.RefreshToken)
	assert.True(t, apperr.Is(err, apperr.Unauthorized))

	assert.False(t, svc.Logout(ctx, "garbage").Attempted)
}
