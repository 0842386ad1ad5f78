package auth

import (
	"context"
	"sync"
	"time"

	"github.com/jw6ventures/formsheets/internal/config"
	"github.com/jw6ventures/formsheets/internal/store"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func testConfig() *config.Config {
	cfg := &config.Config{BaseURL: "https://forms.example.com"}
	cfg.Session.Secret = testSecret
	cfg.Session.AccessTTL = 24 * time.Hour
	cfg.Session.RefreshTTL = 240 * time.Hour
	return cfg
}

type fakeUserRepo struct {
	mu      sync.Mutex
	nextID  int64
	users   map[int64]*store.User
	cleared []int64
	failGet error
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: map[int64]*store.User{}}
}

func (f *fakeUserRepo) Create(ctx context.Context, user store.User) (*store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	email := store.NormalizeEmail(user.Email)
	for _, u := range f.users {
		if u.Email == email {
			return nil, store.ErrConflict
		}
	}
	f.nextID++
	user.ID = f.nextID
	user.Email = email
	user.CreatedAt = time.Now()
	user.UpdatedAt = user.CreatedAt
	cp := user
	f.users[user.ID] = &cp
	return &user, nil
}

func (f *fakeUserRepo) GetByID(ctx context.Context, id int64) (*store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failGet != nil {
		return nil, f.failGet
	}
	u, ok := f.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (f *fakeUserRepo) GetByEmail(ctx context.Context, email string) (*store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Email == store.NormalizeEmail(email) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *fakeUserRepo) SetRefreshToken(ctx context.Context, id int64, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return store.ErrNotFound
	}
	u.RefreshToken = token
	return nil
}

func (f *fakeUserRepo) ClearRefreshToken(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleared = append(f.cleared, id)
	if u, ok := f.users[id]; ok {
		u.RefreshToken = ""
	}
	return nil
}
