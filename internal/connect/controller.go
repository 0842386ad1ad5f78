package connect

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jw6ventures/formsheets/internal/apperr"
	"github.com/jw6ventures/formsheets/internal/metrics"
	"github.com/jw6ventures/formsheets/internal/store"
)

// Callback carries the provider's redirect parameters.
type Callback struct {
	Code  string
	State string
	Error string
}

// Controller drives the begin / complete / list operations of the Google handshake.
// The form id is the OAuth state and is revalidated on the way back.
type Controller struct {
	forms       store.FormRepository
	connections store.ConnectionRepository
	provider    Provider
	timeout     time.Duration
	logger      *zap.Logger
}

func NewController(forms store.FormRepository, connections store.ConnectionRepository, provider Provider, timeout time.Duration, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{forms: forms, connections: connections, provider: provider, timeout: timeout, logger: logger}
}

// Begin returns the provider authorization URL for formID. Nothing is persisted.
func (c *Controller) Begin(ctx context.Context, formID string, caller *store.User) (string, error) {
	form, err := c.loadForm(ctx, formID)
	if err != nil {
		return "", err
	}
	if caller != nil && form.UserID != caller.ID {
		return "", apperr.New(apperr.NotFound, "form not found")
	}
	return c.provider.AuthCodeURL(form.ID.String()), nil
}

// Complete exchanges the code, verifies the identity and upserts the connection for (form, email).
func (c *Controller) Complete(ctx context.Context, cb Callback) (conn *store.Connection, err error) {
	defer func() {
		if err != nil {
			metrics.AuthorizationCompleted(apperr.KindOf(err).Code())
		}
	}()

	if strings.TrimSpace(cb.State) == "" {
		return nil, apperr.New(apperr.MissingState, "authorization state missing")
	}
	if cb.Error != "" {
		return nil, apperr.Newf(apperr.ProviderExchangeFailed, "provider denied authorization: %s", cb.Error)
	}
	if cb.Code == "" {
		return nil, apperr.New(apperr.ProviderExchangeFailed, "authorization code missing")
	}
	form, err := c.loadForm(ctx, cb.State)
	if err != nil {
		return nil, err
	}

	tokens, identity, err := c.handshake(ctx, cb.Code)
	if err != nil {
		return nil, err
	}

	conn, created, err := c.connections.Upsert(ctx, store.Connection{
		FormID:        form.ID,
		ExternalEmail: identity.Email,
		AccessToken:   tokens.AccessToken,
		RefreshToken:  tokens.RefreshToken,
		DisplayName:   identity.Name,
		AvatarURL:     identity.PictureURL,
	})
	if err != nil {
		return nil, fmt.Errorf("record connection: %w", err)
	}

	outcome := "updated"
	if created {
		outcome = "created"
	}
	metrics.AuthorizationCompleted(outcome)
	c.logger.Info("external account connected",
		zap.String("form_id", form.ID.String()),
		zap.String("connection_id", conn.ID.String()),
		zap.String("outcome", outcome),
		zap.Bool("refresh_token_received", tokens.RefreshToken != ""),
	)
	return conn, nil
}

// List returns the form's connections newest first. The caller must own the form.
func (c *Controller) List(ctx context.Context, formID string, caller *store.User) ([]store.Connection, error) {
	if caller == nil {
		return nil, apperr.New(apperr.Unauthorized, "authentication required")
	}
	form, err := c.loadForm(ctx, formID)
	if err != nil {
		return nil, err
	}
	if form.UserID != caller.ID {
		return nil, apperr.New(apperr.NotFound, "form not found")
	}
	conns, err := c.connections.ListByForm(ctx, form.ID)
	if err != nil {
		return nil, fmt.Errorf("list connections: %w", err)
	}
	if conns == nil {
		conns = []store.Connection{}
	}
	return conns, nil
}

func (c *Controller) handshake(ctx context.Context, code string) (*TokenSet, *Identity, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	tokens, err := c.provider.Exchange(ctx, code)
	metrics.ObserveExternalCall("oauth.exchange", start, err)
	if err != nil {
		return nil, nil, externalFailure(ctx, "code exchange failed", err)
	}

	identity, err := c.provider.VerifyIdentity(ctx, tokens.IDToken)
	if err != nil {
		return nil, nil, externalFailure(ctx, "identity verification failed", err)
	}
	return tokens, identity, nil
}

func externalFailure(ctx context.Context, message string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return apperr.Wrap(apperr.Unavailable, "identity provider timed out", err)
	}
	return apperr.Wrap(apperr.ProviderExchangeFailed, message, err)
}

func (c *Controller) loadForm(ctx context.Context, raw string) (*store.Form, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, apperr.New(apperr.InvalidRequest, "formId is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, apperr.New(apperr.InvalidRequest, "formId is not a valid id")
	}
	form, err := c.forms.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.New(apperr.NotFound, "form not found")
		}
		return nil, fmt.Errorf("load form: %w", err)
	}
	return form, nil
}

// SuccessRedirect is where the browser lands after a completed handshake.
func SuccessRedirect(frontendURL string, conn *store.Connection) string {
	q := url.Values{}
	q.Set("formId", conn.FormID.String())
	q.Set("connectionId", conn.ID.String())
	return strings.TrimRight(frontendURL, "/") + "/sheets/create?" + q.Encode()
}

// FailureRedirect carries the error code as the reason.
func FailureRedirect(frontendURL string, err error) string {
	q := url.Values{}
	q.Set("reason", apperr.KindOf(err).Code())
	return strings.TrimRight(frontendURL, "/") + "/oauth-error?" + q.Encode()
}
