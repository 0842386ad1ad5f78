package sheets

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	gsheets "google.golang.org/api/sheets/v4"
)

var (
	// ErrTokenExpired means the stored tokens were rejected or could not be refreshed.
	ErrTokenExpired = errors.New("google authorization expired")
	// ErrSpreadsheetNotFound covers spreadsheets that do not exist or are not shared with the account.
	ErrSpreadsheetNotFound = errors.New("spreadsheet not found or not accessible")
	// ErrUnavailable is a throttled or failing upstream.
	ErrUnavailable = errors.New("spreadsheet service unavailable")
)

// Credentials are the stored tokens of one connection.
type Credentials struct {
	AccessToken  string
	RefreshToken string
}

// SpreadsheetService is the subset of the Sheets API the binder needs.
type SpreadsheetService interface {
	CreateSpreadsheet(ctx context.Context, creds Credentials, title, tabTitle string) (string, error)
	WriteRange(ctx context.Context, creds Credentials, spreadsheetID, rangeRef string, rows [][]any) error
}

// GoogleService calls the Sheets v4 API with per-connection tokens, refreshing them through oauth.
type GoogleService struct {
	oauth *oauth2.Config
	opts  []option.ClientOption
}

// NewGoogleService builds a service; opts are appended to every client (for example option.WithEndpoint).
func NewGoogleService(oauth *oauth2.Config, opts ...option.ClientOption) *GoogleService {
	return &GoogleService{oauth: oauth, opts: opts}
}

func (g *GoogleService) client(ctx context.Context, creds Credentials) (*gsheets.Service, error) {
	ts := g.oauth.TokenSource(ctx, &oauth2.Token{
		AccessToken:  creds.AccessToken,
		RefreshToken: creds.RefreshToken,
		TokenType:    "Bearer",
	})
	opts := append([]option.ClientOption{option.WithHTTPClient(oauth2.NewClient(ctx, ts))}, g.opts...)
	svc, err := gsheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("sheets client: %w", err)
	}
	return svc, nil
}

func (g *GoogleService) CreateSpreadsheet(ctx context.Context, creds Credentials, title, tabTitle string) (string, error) {
	svc, err := g.client(ctx, creds)
	if err != nil {
		return "", err
	}
	created, err := svc.Spreadsheets.Create(&gsheets.Spreadsheet{
		Properties: &gsheets.SpreadsheetProperties{Title: title},
		Sheets: []*gsheets.Sheet{
			{Properties: &gsheets.SheetProperties{Title: tabTitle}},
		},
	}).Fields("spreadsheetId").Context(ctx).Do()
	if err != nil {
		return "", classify(err)
	}
	return created.SpreadsheetId, nil
}

func (g *GoogleService) WriteRange(ctx context.Context, creds Credentials, spreadsheetID, rangeRef string, rows [][]any) error {
	svc, err := g.client(ctx, creds)
	if err != nil {
		return err
	}
	_, err = svc.Spreadsheets.Values.Update(spreadsheetID, rangeRef, &gsheets.ValueRange{Values: rows}).
		ValueInputOption("RAW").
		Context(ctx).
		Do()
	if err != nil {
		return classify(err)
	}
	return nil
}

func classify(err error) error {
	var retrieve *oauth2.RetrieveError
	if errors.As(err, &retrieve) {
		return fmt.Errorf("%w: %v", ErrTokenExpired, err)
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == http.StatusUnauthorized:
			return fmt.Errorf("%w: %v", ErrTokenExpired, err)
		case apiErr.Code == http.StatusNotFound || apiErr.Code == http.StatusForbidden:
			return fmt.Errorf("%w: %v", ErrSpreadsheetNotFound, err)
		case apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= http.StatusInternalServerError:
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}
	return err
}
