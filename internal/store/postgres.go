package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// NormalizeEmail trims and lower-cases an address for storage and lookups.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// userRepo implements UserRepository.
type userRepo struct {
	db querier
}

const userColumns = `id, full_name, email, COALESCE(password_hash, ''), provider, avatar_url, COALESCE(refresh_token, ''), created_at, updated_at`

func scanUser(row pgx.Row) (*User, error) {
	var u User
	if err := row.Scan(&u.ID, &u.FullName, &u.Email, &u.PasswordHash, &u.Provider, &u.AvatarURL, &u.RefreshToken, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

func (r *userRepo) Create(ctx context.Context, user User) (*User, error) {
	defer observeDB(ctx, "users.create")()
	const q = `INSERT INTO users (full_name, email, password_hash, provider, avatar_url)
VALUES ($1, $2, NULLIF($3, ''), $4, $5)
RETURNING ` + userColumns
	provider := user.Provider
	if provider == "" {
		provider = ProviderLocal
	}
	u, err := scanUser(r.db.QueryRow(ctx, q, strings.TrimSpace(user.FullName), NormalizeEmail(user.Email), user.PasswordHash, provider, user.AvatarURL))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	return u, nil
}

func (r *userRepo) GetByID(ctx context.Context, id int64) (*User, error) {
	defer observeDB(ctx, "users.get_by_id")()
	return scanUser(r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id=$1`, id))
}

func (r *userRepo) GetByEmail(ctx context.Context, email string) (*User, error) {
	defer observeDB(ctx, "users.get_by_email")()
	return scanUser(r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email=$1`, NormalizeEmail(email)))
}

func (r *userRepo) SetRefreshToken(ctx context.Context, id int64, token string) error {
	defer observeDB(ctx, "users.set_refresh_token")()
	tag, err := r.db.Exec(ctx, `UPDATE users SET refresh_token=$2, updated_at=NOW() WHERE id=$1`, id, token)
	if err != nil {
		return fmt.Errorf("set refresh token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *userRepo) ClearRefreshToken(ctx context.Context, id int64) error {
	defer observeDB(ctx, "users.clear_refresh_token")()
	if _, err := r.db.Exec(ctx, `UPDATE users SET refresh_token=NULL, updated_at=NOW() WHERE id=$1`, id); err != nil {
		return fmt.Errorf("clear refresh token: %w", err)
	}
	return nil
}

// formRepo implements FormRepository.
type formRepo struct {
	db querier
}

const formColumns = `id, user_id, name, email, hobby, age, phone_number, created_at, updated_at`

func scanForm(row pgx.Row) (*Form, error) {
	var f Form
	if err := row.Scan(&f.ID, &f.UserID, &f.Name, &f.Email, &f.Hobby, &f.Age, &f.PhoneNumber, &f.CreatedAt, &f.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &f, nil
}

func (r *formRepo) Create(ctx context.Context, form Form) (*Form, error) {
	defer observeDB(ctx, "forms.create")()
	if form.ID == uuid.Nil {
		form.ID = uuid.New()
	}
	const q = `INSERT INTO forms (id, user_id, name, email, hobby, age, phone_number)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING ` + formColumns
	f, err := scanForm(r.db.QueryRow(ctx, q, form.ID, form.UserID, strings.TrimSpace(form.Name), NormalizeEmail(form.Email), strings.TrimSpace(form.Hobby), form.Age, form.PhoneNumber))
	if err != nil {
		return nil, fmt.Errorf("create form: %w", err)
	}
	return f, nil
}

func (r *formRepo) GetByID(ctx context.Context, id uuid.UUID) (*Form, error) {
	defer observeDB(ctx, "forms.get_by_id")()
	return scanForm(r.db.QueryRow(ctx, `SELECT `+formColumns+` FROM forms WHERE id=$1`, id))
}

func (r *formRepo) ListByUser(ctx context.Context, userID int64) ([]Form, error) {
	defer observeDB(ctx, "forms.list_by_user")()
	rows, err := r.db.Query(ctx, `SELECT `+formColumns+` FROM forms WHERE user_id=$1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list forms: %w", err)
	}
	defer rows.Close()

	var forms []Form
	for rows.Next() {
		f, err := scanForm(rows)
		if err != nil {
			return nil, fmt.Errorf("scan form: %w", err)
		}
		forms = append(forms, *f)
	}
	return forms, rows.Err()
}

// connectionRepo implements ConnectionRepository.
type connectionRepo struct {
	db querier
}

const connectionColumns = `id, form_id, external_email, access_token, refresh_token, spreadsheet_id, spreadsheet_name, display_name, avatar_url, added_fields, created_at, updated_at`

func connectionDest(c *Connection) []any {
	return []any{&c.ID, &c.FormID, &c.ExternalEmail, &c.AccessToken, &c.RefreshToken, &c.SpreadsheetID, &c.SpreadsheetName, &c.DisplayName, &c.AvatarURL, &c.AddedFields, &c.CreatedAt, &c.UpdatedAt}
}

func scanConnection(row pgx.Row) (*Connection, error) {
	var c Connection
	if err := row.Scan(connectionDest(&c)...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (r *connectionRepo) Upsert(ctx context.Context, conn Connection) (*Connection, bool, error) {
	defer observeDB(ctx, "connections.upsert")()
	if conn.ID == uuid.Nil {
		conn.ID = uuid.New()
	}
	if conn.AddedFields == nil {
		conn.AddedFields = []string{}
	}
	// One statement so concurrent callbacks for the same pair converge on a single row.
	const q = `INSERT INTO external_connections
    (id, form_id, external_email, access_token, refresh_token, display_name, avatar_url, added_fields)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (form_id, external_email) DO UPDATE SET
    access_token = EXCLUDED.access_token,
    refresh_token = COALESCE(NULLIF(EXCLUDED.refresh_token, ''), external_connections.refresh_token),
    updated_at = NOW()
RETURNING ` + connectionColumns + `, (xmax = 0) AS inserted`

	var c Connection
	var inserted bool
	dest := append(connectionDest(&c), &inserted)
	err := r.db.QueryRow(ctx, q,
		conn.ID, conn.FormID, NormalizeEmail(conn.ExternalEmail), conn.AccessToken, conn.RefreshToken,
		conn.DisplayName, conn.AvatarURL, conn.AddedFields,
	).Scan(dest...)
	if err != nil {
		return nil, false, fmt.Errorf("upsert connection: %w", err)
	}
	return &c, inserted, nil
}

func (r *connectionRepo) GetByID(ctx context.Context, id uuid.UUID) (*Connection, error) {
	defer observeDB(ctx, "connections.get_by_id")()
	return scanConnection(r.db.QueryRow(ctx, `SELECT `+connectionColumns+` FROM external_connections WHERE id=$1`, id))
}

func (r *connectionRepo) ListByForm(ctx context.Context, formID uuid.UUID) ([]Connection, error) {
	defer observeDB(ctx, "connections.list_by_form")()
	rows, err := r.db.Query(ctx, `SELECT `+connectionColumns+` FROM external_connections WHERE form_id=$1 ORDER BY created_at DESC, id`, formID)
	if err != nil {
		return nil, fmt.Errorf("list connections: %w", err)
	}
	defer rows.Close()

	var conns []Connection
	for rows.Next() {
		c, err := scanConnection(rows)
		if err != nil {
			return nil, fmt.Errorf("scan connection: %w", err)
		}
		conns = append(conns, *c)
	}
	return conns, rows.Err()
}

func (r *connectionRepo) ClaimBinding(ctx context.Context, id, claim uuid.UUID, staleAfter time.Duration) error {
	defer observeDB(ctx, "connections.claim_binding")()
	const q = `UPDATE external_connections
SET bind_claim=$2, bind_claimed_at=NOW()
WHERE id=$1 AND spreadsheet_id='' AND (bind_claim IS NULL OR bind_claimed_at < NOW() - make_interval(secs => $3))`
	tag, err := r.db.Exec(ctx, q, id, claim, staleAfter.Seconds())
	if err != nil {
		return fmt.Errorf("claim binding: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	return r.bindFailure(ctx, id)
}

func (r *connectionRepo) ReleaseBinding(ctx context.Context, id, claim uuid.UUID) error {
	defer observeDB(ctx, "connections.release_binding")()
	const q = `UPDATE external_connections SET bind_claim=NULL, bind_claimed_at=NULL WHERE id=$1 AND bind_claim=$2`
	if _, err := r.db.Exec(ctx, q, id, claim); err != nil {
		return fmt.Errorf("release binding: %w", err)
	}
	return nil
}

func (r *connectionRepo) BindSpreadsheet(ctx context.Context, id, claim uuid.UUID, spreadsheetID, name string) (*Connection, error) {
	defer observeDB(ctx, "connections.bind_spreadsheet")()
	const q = `UPDATE external_connections
SET spreadsheet_id=$3, spreadsheet_name=$4, bind_claim=NULL, bind_claimed_at=NULL, updated_at=NOW()
WHERE id=$1 AND bind_claim=$2 AND spreadsheet_id=''
RETURNING ` + connectionColumns
	c, err := scanConnection(r.db.QueryRow(ctx, q, id, claim, spreadsheetID, name))
	if errors.Is(err, ErrNotFound) {
		return nil, r.bindFailure(ctx, id)
	}
	if err != nil {
		return nil, fmt.Errorf("bind spreadsheet: %w", err)
	}
	return c, nil
}

func (r *connectionRepo) AttachSpreadsheet(ctx context.Context, id uuid.UUID, spreadsheetID, name string) (*Connection, error) {
	defer observeDB(ctx, "connections.attach_spreadsheet")()
	const q = `UPDATE external_connections
SET spreadsheet_id=$2, spreadsheet_name=$3, bind_claim=NULL, bind_claimed_at=NULL, updated_at=NOW()
WHERE id=$1
RETURNING ` + connectionColumns
	c, err := scanConnection(r.db.QueryRow(ctx, q, id, spreadsheetID, name))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("attach spreadsheet: %w", err)
	}
	return c, nil
}

// bindFailure explains why a conditional binding update matched no row.
func (r *connectionRepo) bindFailure(ctx context.Context, id uuid.UUID) error {
	var spreadsheetID string
	err := r.db.QueryRow(ctx, `SELECT spreadsheet_id FROM external_connections WHERE id=$1`, id).Scan(&spreadsheetID)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return ErrNotFound
	case err != nil:
		return fmt.Errorf("inspect binding: %w", err)
	case spreadsheetID != "":
		return ErrAlreadyBound
	default:
		return ErrBindingInProgress
	}
}
