package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// UserRepository defines persistence operations for users.
type UserRepository interface {
	Create(ctx context.Context, user User) (*User, error)
	GetByID(ctx context.Context, id int64) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	SetRefreshToken(ctx context.Context, id int64, token string) error
	ClearRefreshToken(ctx context.Context, id int64) error
}

// FormRepository handles form submissions.
type FormRepository interface {
	Create(ctx context.Context, form Form) (*Form, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Form, error)
	ListByUser(ctx context.Context, userID int64) ([]Form, error)
}

// ConnectionRepository manages external account connections and their spreadsheet binding.
type ConnectionRepository interface {
	// Upsert inserts the connection or, when (FormID, ExternalEmail) already exists,
	// replaces the access token and replaces the refresh token only if a non-empty one is given.
	// The returned bool is true when a new row was created.
	Upsert(ctx context.Context, conn Connection) (*Connection, bool, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Connection, error)
	// ListByForm returns connections newest first.
	ListByForm(ctx context.Context, formID uuid.UUID) ([]Connection, error)

	// ClaimBinding reserves an unbound connection for spreadsheet creation.
	// Claims older than staleAfter are considered abandoned.
	ClaimBinding(ctx context.Context, id, claim uuid.UUID, staleAfter time.Duration) error
	// ReleaseBinding drops a claim without binding.
	ReleaseBinding(ctx context.Context, id, claim uuid.UUID) error
	// BindSpreadsheet sets the spreadsheet only while the claim is held and nothing is bound.
	BindSpreadsheet(ctx context.Context, id, claim uuid.UUID, spreadsheetID, name string) (*Connection, error)
	// AttachSpreadsheet points the connection at a spreadsheet regardless of its current binding.
	AttachSpreadsheet(ctx context.Context, id uuid.UUID, spreadsheetID, name string) (*Connection, error)
}
