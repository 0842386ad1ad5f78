// Package storetest provides in-memory repositories with the same conflict,
// upsert and claim semantics as the Postgres implementations.
package storetest

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jw6ventures/formsheets/internal/store"
)

// Memory holds every table behind a single mutex.
type Memory struct {
	mu          sync.Mutex
	now         func() time.Time
	nextUserID  int64
	users       map[int64]*store.User
	forms       map[uuid.UUID]*store.Form
	connections map[uuid.UUID]*connectionRow

	Users       *Users
	Forms       *Forms
	Connections *Connections
}

type connectionRow struct {
	store.Connection
	claim     uuid.UUID
	claimedAt time.Time
}

func New() *Memory {
	m := &Memory{
		now:         time.Now,
		users:       map[int64]*store.User{},
		forms:       map[uuid.UUID]*store.Form{},
		connections: map[uuid.UUID]*connectionRow{},
	}
	m.Users = &Users{m: m}
	m.Forms = &Forms{m: m}
	m.Connections = &Connections{m: m}
	return m
}

// Store returns a store.Store view over the memory tables.
func (m *Memory) Store() *store.Store {
	return &store.Store{Users: m.Users, Forms: m.Forms, Connections: m.Connections}
}

// tick keeps created_at strictly increasing so newest-first ordering is stable.
func (m *Memory) tick() time.Time {
	t := m.now()
	time.Sleep(time.Microsecond)
	return t
}

type Users struct{ m *Memory }

func (r *Users) Create(ctx context.Context, user store.User) (*store.User, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	user.Email = store.NormalizeEmail(user.Email)
	user.FullName = strings.TrimSpace(user.FullName)
	for _, u := range r.m.users {
		if u.Email == user.Email {
			return nil, store.ErrConflict
		}
	}
	if user.Provider == "" {
		user.Provider = store.ProviderLocal
	}
	r.m.nextUserID++
	user.ID = r.m.nextUserID
	user.CreatedAt = r.m.tick()
	user.UpdatedAt = user.CreatedAt
	stored := user
	r.m.users[user.ID] = &stored
	return &user, nil
}

func (r *Users) GetByID(ctx context.Context, id int64) (*store.User, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	u, ok := r.m.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (r *Users) GetByEmail(ctx context.Context, email string) (*store.User, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	email = store.NormalizeEmail(email)
	for _, u := range r.m.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (r *Users) SetRefreshToken(ctx context.Context, id int64, token string) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	u, ok := r.m.users[id]
	if !ok {
		return store.ErrNotFound
	}
	u.RefreshToken = token
	return nil
}

func (r *Users) ClearRefreshToken(ctx context.Context, id int64) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if u, ok := r.m.users[id]; ok {
		u.RefreshToken = ""
	}
	return nil
}

type Forms struct{ m *Memory }

func (r *Forms) Create(ctx context.Context, form store.Form) (*store.Form, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if form.ID == uuid.Nil {
		form.ID = uuid.New()
	}
	form.Email = store.NormalizeEmail(form.Email)
	form.CreatedAt = r.m.tick()
	form.UpdatedAt = form.CreatedAt
	stored := form
	r.m.forms[form.ID] = &stored
	return &form, nil
}

func (r *Forms) GetByID(ctx context.Context, id uuid.UUID) (*store.Form, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	f, ok := r.m.forms[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *f
	return &cp, nil
}

func (r *Forms) ListByUser(ctx context.Context, userID int64) ([]store.Form, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []store.Form
	for _, f := range r.m.forms {
		if f.UserID == userID {
			out = append(out, *f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// Connections mirrors connectionRepo including the bind claim.
type Connections struct {
	m *Memory

	// Upserts counts calls, for tests asserting the store was not touched.
	Upserts int
}

func (r *Connections) Upsert(ctx context.Context, conn store.Connection) (*store.Connection, bool, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	r.Upserts++
	email := store.NormalizeEmail(conn.ExternalEmail)
	for _, row := range r.m.connections {
		if row.FormID == conn.FormID && row.ExternalEmail == email {
			row.AccessToken = conn.AccessToken
			if conn.RefreshToken != "" {
				row.RefreshToken = conn.RefreshToken
			}
			row.UpdatedAt = r.m.now()
			cp := row.Connection
			return &cp, false, nil
		}
	}
	if conn.ID == uuid.Nil {
		conn.ID = uuid.New()
	}
	if conn.AddedFields == nil {
		conn.AddedFields = []string{}
	}
	conn.ExternalEmail = email
	conn.CreatedAt = r.m.tick()
	conn.UpdatedAt = conn.CreatedAt
	r.m.connections[conn.ID] = &connectionRow{Connection: conn}
	return &conn, true, nil
}

func (r *Connections) GetByID(ctx context.Context, id uuid.UUID) (*store.Connection, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	row, ok := r.m.connections[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := row.Connection
	return &cp, nil
}

func (r *Connections) ListByForm(ctx context.Context, formID uuid.UUID) ([]store.Connection, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []store.Connection
	for _, row := range r.m.connections {
		if row.FormID == formID {
			out = append(out, row.Connection)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *Connections) ClaimBinding(ctx context.Context, id, claim uuid.UUID, staleAfter time.Duration) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	row, ok := r.m.connections[id]
	switch {
	case !ok:
		return store.ErrNotFound
	case row.SpreadsheetID != "":
		return store.ErrAlreadyBound
	case row.claim != uuid.Nil && r.m.now().Sub(row.claimedAt) <= staleAfter:
		return store.ErrBindingInProgress
	}
	row.claim = claim
	row.claimedAt = r.m.now()
	return nil
}

func (r *Connections) ReleaseBinding(ctx context.Context, id, claim uuid.UUID) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if row, ok := r.m.connections[id]; ok && row.claim == claim {
		row.claim = uuid.Nil
	}
	return nil
}

func (r *Connections) BindSpreadsheet(ctx context.Context, id, claim uuid.UUID, spreadsheetID, name string) (*store.Connection, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	row, ok := r.m.connections[id]
	switch {
	case !ok:
		return nil, store.ErrNotFound
	case row.SpreadsheetID != "":
		return nil, store.ErrAlreadyBound
	case row.claim != claim:
		return nil, store.ErrBindingInProgress
	}
	row.SpreadsheetID = spreadsheetID
	row.SpreadsheetName = name
	row.claim = uuid.Nil
	row.UpdatedAt = r.m.now()
	cp := row.Connection
	return &cp, nil
}

func (r *Connections) AttachSpreadsheet(ctx context.Context, id uuid.UUID, spreadsheetID, name string) (*store.Connection, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	row, ok := r.m.connections[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	row.SpreadsheetID = spreadsheetID
	row.SpreadsheetName = name
	row.claim = uuid.Nil
	row.UpdatedAt = r.m.now()
	cp := row.Connection
	return &cp, nil
}

// Seed inserts a connection as-is, bypassing upsert normalization.
func (r *Connections) Seed(conn store.Connection) *store.Connection {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if conn.ID == uuid.Nil {
		conn.ID = uuid.New()
	}
	if conn.AddedFields == nil {
		conn.AddedFields = []string{}
	}
	conn.CreatedAt = r.m.tick()
	conn.UpdatedAt = conn.CreatedAt
	r.m.connections[conn.ID] = &connectionRow{Connection: conn}
	return &conn
}
