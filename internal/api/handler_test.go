package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jw6ventures/formsheets/internal/api"
	"github.com/jw6ventures/formsheets/internal/auth"
	"github.com/jw6ventures/formsheets/internal/config"
	"github.com/jw6ventures/formsheets/internal/connect"
	httpserver "github.com/jw6ventures/formsheets/internal/http"
	"github.com/jw6ventures/formsheets/internal/http/csrf"
	"github.com/jw6ventures/formsheets/internal/sheets"
	"github.com/jw6ventures/formsheets/internal/store/storetest"
)

const frontendURL = "https://app.example.com"

type stubProvider struct {
	mu    sync.Mutex
	email map[string]string
}

func (p *stubProvider) AuthCodeURL(state string) string {
	return "https://accounts.example.com/o/oauth2/auth?state=" + url.QueryEscape(state)
}

func (p *stubProvider) Exchange(ctx context.Context, code string) (*connect.TokenSet, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.email[code]; !ok {
		return nil, errors.New("invalid_grant")
	}
	return &connect.TokenSet{AccessToken: "at-" + code, RefreshToken: "rt-" + code, IDToken: code}, nil
}

func (p *stubProvider) VerifyIdentity(ctx context.Context, idToken string) (*connect.Identity, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return &connect.Identity{Email: p.email[idToken], Name: "Ann Example"}, nil
}

type stubSheets struct {
	mu     sync.Mutex
	n      int
	writes map[string][][]any
}

func (s *stubSheets) CreateSpreadsheet(ctx context.Context, creds sheets.Credentials, title, tabTitle string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("ss-%d", s.n), nil
}

func (s *stubSheets) WriteRange(ctx context.Context, creds sheets.Credentials, id, rangeRef string, rows [][]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes[id] = rows
	return nil
}

type harness struct {
	t      *testing.T
	mem    *storetest.Memory
	sheets *stubSheets
	prov   *stubProvider
	srv    *httptest.Server
	client *http.Client
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg := &config.Config{BaseURL: "https://forms.example.com", FrontendURL: frontendURL}
	cfg.Session.Secret = "0123456789abcdef0123456789abcdef"
	cfg.Session.AccessTTL = time.Hour
	cfg.Session.RefreshTTL = 24 * time.Hour

	mem := storetest.New()
	prov := &stubProvider{email: map[string]string{}}
	ss := &stubSheets{writes: map[string][][]any{}}

	sessions := auth.NewSessionManager(cfg)
	accounts := auth.NewService(mem.Users, sessions, nil)
	ctrl := connect.NewController(mem.Forms, mem.Connections, prov, time.Second, nil)
	binder := sheets.NewBinder(mem.Forms, mem.Connections, ss, time.Second, nil)
	h := api.NewHandler(cfg, mem.Store(), sessions, accounts, ctrl, binder, nil)

	srv := httptest.NewTLSServer(httpserver.NewRouter(httpserver.Deps{
		Config: cfg,
		API:    h,
		Guard:  auth.NewGuard(sessions, mem.Users, nil),
	}))
	t.Cleanup(srv.Close)

	return &harness{t: t, mem: mem, sheets: ss, prov: prov, srv: srv, client: newClient(t, srv)}
}

func newClient(t *testing.T, srv *httptest.Server) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	c := srv.Client()
	c.Jar = jar
	c.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	}
	return c
}

func (h *harness) cookie(c *http.Client, name string) string {
	u, _ := url.Parse(h.srv.URL)
	for _, ck := range c.Jar.Cookies(u) {
		if ck.Name == name {
			return ck.Value
		}
	}
	return ""
}

// do sends a request as a browser would, echoing the csrf cookie when present.
func (h *harness) do(c *http.Client, method, path string, body any) (*http.Response, map[string]any) {
	h.t.Helper()
	var rdr *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(h.t, err)
		rdr = bytes.NewReader(raw)
	} else {
		rdr = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, h.srv.URL+path, rdr)
	require.NoError(h.t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tok := h.cookie(c, csrf.CookieName); tok != "" {
		req.Header.Set(csrf.HeaderName, tok)
	}
	resp, err := c.Do(req)
	require.NoError(h.t, err)
	defer resp.Body.Close()

	out := map[string]any{}
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(h.t, json.NewDecoder(resp.Body).Decode(&out))
	}
	return resp, out
}

func (h *harness) register(c *http.Client, email string) map[string]any {
	h.t.Helper()
	resp, body := h.do(c, http.MethodPost, "/api/auth/register", map[string]any{
		"fullName": "Ann Example", "email": email, "password": "correct horse",
	})
	require.Equal(h.t, http.StatusCreated, resp.StatusCode, body)
	return body
}

func (h *harness) createForm(c *http.Client) string {
	h.t.Helper()
	resp, body := h.do(c, http.MethodPost, "/api/forms", map[string]any{
		"name": "Ann", "email": "ann@example.com", "hobby": "chess", "age": 30, "phoneNumber": 5551234,
	})
	require.Equal(h.t, http.StatusCreated, resp.StatusCode, body)
	return body["form"].(map[string]any)["id"].(string)
}

func TestRegisterLoginMeLogout(t *testing.T) {
	h := newHarness(t)
	c := h.client

	body := h.register(c, "Ann@Example.com")
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "Registered successfully", body["message"])
	user := body["user"].(map[string]any)
	assert.Equal(t, "ann@example.com", user["email"])
	assert.NotContains(t, user, "passwordHash")
	assert.NotEmpty(t, h.cookie(c, auth.AccessCookie))
	assert.NotEmpty(t, h.cookie(c, auth.RefreshCookie))

	resp, body := h.do(c, http.MethodGet, "/api/auth/me", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["isAuthenticated"])

	resp, body = h.do(c, http.MethodPost, "/api/auth/logout", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Logged out successfully", body["message"])
	assert.Empty(t, h.cookie(c, auth.AccessCookie))

	resp, _ = h.do(c, http.MethodGet, "/api/auth/me", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	other := newClient(t, h.srv)
	resp, body = h.do(other, http.MethodPost, "/api/auth/login", map[string]any{"email": "ann@example.com", "password": "correct horse"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Logged in successfully", body["message"])

	resp, body = h.do(newClient(t, h.srv), http.MethodPost, "/api/auth/login", map[string]any{"email": "ann@example.com", "password": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "unauthorized", body["code"])
}

func TestRegisterRejectsBadInput(t *testing.T) {
	h := newHarness(t)

	resp, body := h.do(h.client, http.MethodPost, "/api/auth/register", map[string]any{"fullName": "Ann", "password": "pw"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_request", body["code"])
	fields := body["details"].(map[string]any)["fields"].(map[string]any)
	assert.Equal(t, "required", fields["email"])

	resp, body = h.do(h.client, http.MethodPost, "/api/auth/register", map[string]any{"fullName": "Ann", "email": "nope", "password": "pw"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	fields = body["details"].(map[string]any)["fields"].(map[string]any)
	assert.Equal(t, "email", fields["email"])

	h.register(h.client, "dup@example.com")
	resp, body = h.do(newClient(t, h.srv), http.MethodPost, "/api/auth/register", map[string]any{
		"fullName": "Ann", "email": "DUP@example.com", "password": "pw",
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "conflict", body["code"])
}

func TestRefreshRotatesTokens(t *testing.T) {
	h := newHarness(t)
	c := h.client
	h.register(c, "ann@example.com")
	old := h.cookie(c, auth.RefreshCookie)

	time.Sleep(time.Millisecond)
	resp, body := h.do(c, http.MethodPost, "/api/auth/refresh", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.Equal(t, "Token refreshed", body["message"])
	assert.NotEqual(t, old, h.cookie(c, auth.RefreshCookie))

	// A token from the body works for clients without cookies, but not once rotated.
	resp, _ = h.do(newClient(t, h.srv), http.MethodPost, "/api/auth/refresh", map[string]any{"refreshToken": old})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp, _ = h.do(newClient(t, h.srv), http.MethodPost, "/api/auth/refresh", map[string]any{"refreshToken": h.cookie(c, auth.RefreshCookie)})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = h.do(newClient(t, h.srv), http.MethodPost, "/api/auth/refresh", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "unauthorized", body["code"])
}

func TestProtectedRoutesRejectAnonymousCallers(t *testing.T) {
	h := newHarness(t)
	anon := newClient(t, h.srv)

	cases := []struct {
		method string
		path   string
		body   any
	}{
		{http.MethodGet, "/api/auth/me", nil},
		{http.MethodGet, "/api/forms", nil},
		{http.MethodPost, "/api/forms", map[string]any{"name": "x", "email": "x@example.com", "hobby": "x", "age": 1, "phoneNumber": 1}},
		{http.MethodPost, "/api/sheets/create", map[string]any{"connectionId": "c", "sheetName": "s"}},
		{http.MethodPost, "/api/sheets/connect", map[string]any{"connectionId": "c", "sheetId": "s"}},
		{http.MethodGet, "/api/sheets/check?connectionId=c", nil},
		{http.MethodGet, "/api/auth/google/accounts/" + "00000000-0000-0000-0000-000000000000", nil},
	}
	for _, tc := range cases {
		t.Run(tc.method+" "+tc.path, func(t *testing.T) {
			resp, body := h.do(anon, tc.method, tc.path, tc.body)
			assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
			assert.Equal(t, "unauthorized", body["code"])
		})
	}

	forms, err := h.mem.Forms.ListByUser(context.Background(), 1)
	require.NoError(t, err)
	assert.Empty(t, forms)
	assert.Zero(t, h.sheets.n)
}

func TestCookieMutationsRequireCSRFHeader(t *testing.T) {
	h := newHarness(t)
	h.register(h.client, "ann@example.com")

	req, err := http.NewRequest(http.MethodPost, h.srv.URL+"/api/forms", strings.NewReader(`{"name":"a","email":"a@example.com","hobby":"b","age":1,"phoneNumber":1}`))
	require.NoError(t, err)
	resp, err := h.client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestFormsCreateAndList(t *testing.T) {
	h := newHarness(t)
	c := h.client
	h.register(c, "ann@example.com")

	first := h.createForm(c)
	second := h.createForm(c)

	resp, body := h.do(c, http.MethodGet, "/api/forms", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	forms := body["forms"].([]any)
	require.Len(t, forms, 2)
	assert.Equal(t, second, forms[0].(map[string]any)["id"])
	assert.Equal(t, first, forms[1].(map[string]any)["id"])

	for name, payload := range map[string]map[string]any{
		"negative age": {"name": "a", "email": "a@example.com", "hobby": "b", "age": -1, "phoneNumber": 1},
		"missing age":  {"name": "a", "email": "a@example.com", "hobby": "b", "phoneNumber": 1},
		"bad email":    {"name": "a", "email": "a", "hobby": "b", "age": 3, "phoneNumber": 1},
	} {
		resp, body := h.do(c, http.MethodPost, "/api/forms", payload)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, name)
		assert.Equal(t, "invalid_request", body["code"], name)
	}

	// Another user sees none of them.
	other := newClient(t, h.srv)
	h.register(other, "bob@example.com")
	_, body = h.do(other, http.MethodGet, "/api/forms", nil)
	assert.Empty(t, body["forms"])
}

func TestGoogleConnectionAndSheetFlow(t *testing.T) {
	h := newHarness(t)
	c := h.client
	h.register(c, "ann@example.com")
	formID := h.createForm(c)
	h.prov.email["code-1"] = "ann.sheets@example.com"

	resp, _ := h.do(c, http.MethodGet, "/api/auth/google?formId="+formID, nil)
	require.Equal(t, http.StatusFound, resp.StatusCode)
	loc, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "accounts.example.com", loc.Host)
	assert.Equal(t, formID, loc.Query().Get("state"))

	resp, _ = h.do(newClient(t, h.srv), http.MethodGet, "/api/auth/google/callback?code=code-1&state="+formID, nil)
	require.Equal(t, http.StatusFound, resp.StatusCode)
	loc, err = url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "/sheets/create", loc.Path)
	assert.Equal(t, formID, loc.Query().Get("formId"))
	connID := loc.Query().Get("connectionId")
	require.NotEmpty(t, connID)

	resp, body := h.do(c, http.MethodGet, "/api/auth/google/accounts/"+formID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	conns := body["connections"].([]any)
	require.Len(t, conns, 1)
	assert.Equal(t, "ann.sheets@example.com", conns[0].(map[string]any)["email"])
	assert.NotContains(t, conns[0], "accessToken")
	assert.Equal(t, false, conns[0].(map[string]any)["hasSheet"])

	resp, body = h.do(c, http.MethodGet, "/api/sheets/check?connectionId="+connID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, body["hasSheet"])
	assert.Nil(t, body["sheet"])

	resp, body = h.do(c, http.MethodPost, "/api/sheets/create", map[string]any{"connectionId": connID, "sheetName": "Signups"})
	require.Equal(t, http.StatusCreated, resp.StatusCode, body)
	data := body["data"].(map[string]any)
	assert.Equal(t, "ss-1", data["sheetId"])
	assert.Equal(t, "Signups", data["name"])
	assert.Len(t, h.sheets.writes["ss-1"], 2)

	_, body = h.do(c, http.MethodGet, "/api/auth/google/accounts/"+formID, nil)
	listed := body["connections"].([]any)[0].(map[string]any)
	assert.Equal(t, true, listed["hasSheet"])
	assert.Equal(t, "ss-1", listed["spreadsheetId"])

	resp, body = h.do(c, http.MethodPost, "/api/sheets/create", map[string]any{"connectionId": connID, "sheetName": "Again"})
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	details := body["details"].(map[string]any)
	assert.Equal(t, "ss-1", details["spreadsheetId"])
	assert.Equal(t, "attach", details["hint"])

	resp, body = h.do(c, http.MethodPost, "/api/sheets/connect", map[string]any{"connectionId": connID, "sheetId": "existing-42", "sheetName": "Old"})
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.Equal(t, "existing-42", body["data"].(map[string]any)["sheetId"])

	_, body = h.do(c, http.MethodGet, "/api/sheets/check?connectionId="+connID, nil)
	assert.Equal(t, true, body["hasSheet"])
	assert.Equal(t, "existing-42", body["sheet"].(map[string]any)["sheetId"])

	// A different user cannot see or bind this connection.
	other := newClient(t, h.srv)
	h.register(other, "bob@example.com")
	resp, _ = h.do(other, http.MethodGet, "/api/sheets/check?connectionId="+connID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, _ = h.do(other, http.MethodGet, "/api/auth/google/accounts/"+formID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGoogleFailuresRedirectToFrontend(t *testing.T) {
	h := newHarness(t)
	anon := newClient(t, h.srv)

	cases := map[string]struct {
		path   string
		reason string
	}{
		"begin without form":     {"/api/auth/google", "invalid_request"},
		"begin unknown form":     {"/api/auth/google?formId=00000000-0000-0000-0000-000000000000", "not_found"},
		"callback without state": {"/api/auth/google/callback?code=x", "missing_state"},
		"provider denied":        {"/api/auth/google/callback?error=access_denied&state=00000000-0000-0000-0000-000000000000", "provider_exchange_failed"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			resp, _ := h.do(anon, http.MethodGet, tc.path, nil)
			require.Equal(t, http.StatusFound, resp.StatusCode)
			loc, err := url.Parse(resp.Header.Get("Location"))
			require.NoError(t, err)
			assert.Equal(t, "app.example.com", loc.Host)
			assert.Equal(t, "/oauth-error", loc.Path)
			assert.Equal(t, tc.reason, loc.Query().Get("reason"))
		})
	}
	assert.Zero(t, h.mem.Connections.Upserts)
}
