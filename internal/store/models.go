package store

import (
	"time"

	"github.com/google/uuid"
)

// Provider values recorded on a user.
const (
	ProviderLocal  = "local"
	ProviderGoogle = "google"
	ProviderBoth   = "both"
)

// User is a local account. PasswordHash and RefreshToken never leave the server.
type User struct {
	ID           int64     `json:"id"`
	FullName     string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Provider     string    `json:"provider"`
	AvatarURL    *string   `json:"avatar"`
	RefreshToken string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Public returns a copy with credential fields cleared.
func (u User) Public() *User {
	u.PasswordHash = ""
	u.RefreshToken = ""
	return &u
}

// Form is a submission owned by exactly one user.
type Form struct {
	ID          uuid.UUID `json:"id"`
	UserID      int64     `json:"userId"`
	Name        string    `json:"name"`
	Email       string    `json:"email"`
	Hobby       string    `json:"hobby"`
	Age         int       `json:"age"`
	PhoneNumber int64     `json:"phoneNumber"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Connection links a form to one Google account and, once bound, one spreadsheet.
type Connection struct {
	ID              uuid.UUID `json:"id"`
	FormID          uuid.UUID `json:"formId"`
	ExternalEmail   string    `json:"email"`
	AccessToken     string    `json:"-"`
	RefreshToken    string    `json:"-"`
	SpreadsheetID   string    `json:"spreadsheetId,omitempty"`
	SpreadsheetName string    `json:"spreadsheetName,omitempty"`
	DisplayName     string    `json:"displayName"`
	AvatarURL       string    `json:"avatarUrl"`
	AddedFields     []string  `json:"addedFields"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// HasTokens reports whether both provider tokens are present.
func (c *Connection) HasTokens() bool {
	return c.AccessToken != "" && c.RefreshToken != ""
}

// Bound reports whether a spreadsheet is attached.
func (c *Connection) Bound() bool {
	return c.SpreadsheetID != ""
}
