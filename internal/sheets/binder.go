package sheets

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jw6ventures/formsheets/internal/apperr"
	"github.com/jw6ventures/formsheets/internal/metrics"
	"github.com/jw6ventures/formsheets/internal/store"
)

// Sheet identifies a bound spreadsheet.
type Sheet struct {
	SpreadsheetID string `json:"sheetId"`
	Name          string `json:"name"`
}

// Status is the answer to Check.
type Status struct {
	Bound bool
	Sheet *Sheet
}

// Binder creates or attaches the spreadsheet of a connection and writes the form snapshot into it.
type Binder struct {
	forms       store.FormRepository
	connections store.ConnectionRepository
	sheets      SpreadsheetService
	timeout     time.Duration
	// claimTTL bounds how long an abandoned create blocks the connection.
	claimTTL time.Duration
	logger   *zap.Logger
}

func NewBinder(forms store.FormRepository, connections store.ConnectionRepository, sheets SpreadsheetService, timeout time.Duration, logger *zap.Logger) *Binder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Binder{
		forms:       forms,
		connections: connections,
		sheets:      sheets,
		timeout:     timeout,
		claimTTL:    2 * timeout,
		logger:      logger,
	}
}

// Create makes a new spreadsheet for an unbound connection. At most one create per connection
// ever reaches the spreadsheet service; the rest get Conflict.
func (b *Binder) Create(ctx context.Context, userID int64, connectionID, sheetName string) (sheet *Sheet, err error) {
	defer func() { metrics.SheetBinding("create", outcome(err)) }()

	sheetName = strings.TrimSpace(sheetName)
	if sheetName == "" {
		return nil, apperr.New(apperr.InvalidRequest, "connectionId and sheetName are required")
	}
	conn, form, err := b.owned(ctx, userID, connectionID)
	if err != nil {
		return nil, err
	}
	if !conn.HasTokens() {
		return nil, missingTokens()
	}
	if conn.Bound() {
		return nil, alreadyBound(conn.SpreadsheetID)
	}

	claim := uuid.New()
	if err := b.connections.ClaimBinding(ctx, conn.ID, claim, b.claimTTL); err != nil {
		return nil, b.bindingConflict(ctx, conn.ID, err)
	}

	creds := Credentials{AccessToken: conn.AccessToken, RefreshToken: conn.RefreshToken}
	spreadsheetID, err := b.createSpreadsheet(ctx, creds, sheetName)
	if err != nil {
		if releaseErr := b.connections.ReleaseBinding(context.WithoutCancel(ctx), conn.ID, claim); releaseErr != nil {
			b.logger.Warn("release binding claim", zap.String("connection_id", conn.ID.String()), zap.Error(releaseErr))
		}
		return nil, err
	}

	bound, err := b.connections.BindSpreadsheet(ctx, conn.ID, claim, spreadsheetID, sheetName)
	if err != nil {
		b.logger.Error("spreadsheet created but not bound",
			zap.String("connection_id", conn.ID.String()),
			zap.String("spreadsheet_id", spreadsheetID),
			zap.Error(err))
		return nil, b.bindingConflict(ctx, conn.ID, err)
	}

	// The binding stands even if the write fails; attach rewrites the snapshot.
	if err := b.writeSnapshot(ctx, creds, spreadsheetID, form); err != nil {
		if e, ok := apperr.As(err); ok {
			e.WithDetail("spreadsheetId", spreadsheetID).WithDetail("hint", "attach")
		}
		return nil, err
	}

	b.logger.Info("spreadsheet created",
		zap.String("connection_id", conn.ID.String()),
		zap.String("spreadsheet_id", spreadsheetID))
	return &Sheet{SpreadsheetID: bound.SpreadsheetID, Name: bound.SpreadsheetName}, nil
}

// Attach writes the snapshot into an existing spreadsheet and points the connection at it,
// replacing any previous binding.
func (b *Binder) Attach(ctx context.Context, userID int64, connectionID, spreadsheetID, sheetName string) (sheet *Sheet, err error) {
	defer func() { metrics.SheetBinding("attach", outcome(err)) }()

	spreadsheetID = strings.TrimSpace(spreadsheetID)
	if spreadsheetID == "" {
		return nil, apperr.New(apperr.InvalidRequest, "connectionId and sheetId are required")
	}
	sheetName = strings.TrimSpace(sheetName)
	if sheetName == "" {
		sheetName = DefaultSheetName
	}
	conn, form, err := b.owned(ctx, userID, connectionID)
	if err != nil {
		return nil, err
	}
	if !conn.HasTokens() {
		return nil, missingTokens()
	}

	creds := Credentials{AccessToken: conn.AccessToken, RefreshToken: conn.RefreshToken}
	if err := b.writeSnapshot(ctx, creds, spreadsheetID, form); err != nil {
		return nil, err
	}

	updated, err := b.connections.AttachSpreadsheet(ctx, conn.ID, spreadsheetID, sheetName)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.New(apperr.NotFound, "connection not found")
		}
		return nil, fmt.Errorf("attach spreadsheet: %w", err)
	}
	if conn.Bound() && conn.SpreadsheetID != spreadsheetID {
		b.logger.Info("spreadsheet binding replaced",
			zap.String("connection_id", conn.ID.String()),
			zap.String("previous", conn.SpreadsheetID),
			zap.String("spreadsheet_id", spreadsheetID))
	}
	return &Sheet{SpreadsheetID: updated.SpreadsheetID, Name: updated.SpreadsheetName}, nil
}

// Check reports the binding of a connection.
func (b *Binder) Check(ctx context.Context, userID int64, connectionID string) (*Status, error) {
	conn, _, err := b.owned(ctx, userID, connectionID)
	if err != nil {
		return nil, err
	}
	if !conn.Bound() {
		return &Status{}, nil
	}
	return &Status{Bound: true, Sheet: &Sheet{SpreadsheetID: conn.SpreadsheetID, Name: conn.SpreadsheetName}}, nil
}

// owned loads the connection and its form, hiding connections of other users as not found.
func (b *Binder) owned(ctx context.Context, userID int64, rawID string) (*store.Connection, *store.Form, error) {
	rawID = strings.TrimSpace(rawID)
	if rawID == "" {
		return nil, nil, apperr.New(apperr.InvalidRequest, "connectionId is required")
	}
	id, err := uuid.Parse(rawID)
	if err != nil {
		return nil, nil, apperr.New(apperr.InvalidRequest, "connectionId is not a valid id")
	}
	notFound := apperr.New(apperr.NotFound, "connection not found")

	conn, err := b.connections.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil, notFound
		}
		return nil, nil, fmt.Errorf("load connection: %w", err)
	}
	form, err := b.forms.GetByID(ctx, conn.FormID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil, notFound
		}
		return nil, nil, fmt.Errorf("load form: %w", err)
	}
	if form.UserID != userID {
		return nil, nil, notFound
	}
	return conn, form, nil
}

func (b *Binder) createSpreadsheet(ctx context.Context, creds Credentials, title string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	start := time.Now()
	id, err := b.sheets.CreateSpreadsheet(ctx, creds, title, ProfileTab)
	metrics.ObserveExternalCall("sheets.create", start, err)
	if err != nil {
		return "", external(ctx, err)
	}
	return id, nil
}

func (b *Binder) writeSnapshot(ctx context.Context, creds Credentials, spreadsheetID string, form *store.Form) error {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	start := time.Now()
	err := b.sheets.WriteRange(ctx, creds, spreadsheetID, SnapshotRange, BuildSnapshot(form))
	metrics.ObserveExternalCall("sheets.write", start, err)
	if err != nil {
		return external(ctx, err)
	}
	return nil
}

// bindingConflict translates a failed claim or conditional bind.
func (b *Binder) bindingConflict(ctx context.Context, id uuid.UUID, err error) error {
	switch {
	case errors.Is(err, store.ErrAlreadyBound):
		current, getErr := b.connections.GetByID(ctx, id)
		if getErr != nil {
			return apperr.New(apperr.Conflict, "a spreadsheet is already connected for this account").WithDetail("hint", "attach")
		}
		return alreadyBound(current.SpreadsheetID)
	case errors.Is(err, store.ErrBindingInProgress):
		return apperr.New(apperr.Conflict, "spreadsheet creation already in progress for this account")
	case errors.Is(err, store.ErrNotFound):
		return apperr.New(apperr.NotFound, "connection not found")
	default:
		return fmt.Errorf("bind spreadsheet: %w", err)
	}
}

func external(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, ErrTokenExpired):
		return apperr.Wrap(apperr.TokenExpired, "google authorization expired, reconnect the account", err)
	case errors.Is(err, ErrSpreadsheetNotFound):
		return apperr.Wrap(apperr.NotFound, "spreadsheet not found or not shared with this account", err)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(ctx.Err(), context.DeadlineExceeded):
		return apperr.Wrap(apperr.Unavailable, "spreadsheet service timed out", err)
	case errors.Is(err, ErrUnavailable):
		return apperr.Wrap(apperr.Unavailable, "spreadsheet service unavailable", err)
	default:
		return fmt.Errorf("spreadsheet service: %w", err)
	}
}

func missingTokens() error {
	return apperr.New(apperr.MissingCredentials, "google tokens are missing, reconnect the account")
}

func alreadyBound(spreadsheetID string) error {
	return apperr.New(apperr.Conflict, "a spreadsheet is already connected for this account").
		WithDetail("spreadsheetId", spreadsheetID).
		WithDetail("hint", "attach")
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return apperr.KindOf(err).Code()
}
