package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bitable-report/internal/domain"
	"bitable-report/internal/middleware"
	"bitable-report/internal/service/credential"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeReports struct {
	mu        sync.Mutex
	err       error
	refreshes int
	lastKind  domain.ReportKind
	lastRange domain.Range
}

func (f *fakeReports) GetReport(_ context.Context, _ *domain.Session, kind domain.ReportKind, rng domain.Range) (*domain.Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastKind, f.lastRange = kind, rng
	if f.err != nil {
		return nil, f.err
	}
	return &domain.Report{Key: domain.ReportKey(kind, rng), Kind: kind, Range: rng, Rows: json.RawMessage(`[]`), Source: domain.SourceCache, Complete: true}, nil
}

func (f *fakeReports) snapshot() (int, domain.Range) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refreshes, f.lastRange
}

func (f *fakeReports) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeReports) Refresh(ctx context.Context, sess *domain.Session, kind domain.ReportKind, rng domain.Range) (*domain.Report, error) {
	f.mu.Lock()
	f.refreshes++
	f.mu.Unlock()
	rep, err := f.GetReport(ctx, sess, kind, rng)
	if rep != nil {
		rep.Source = domain.SourceLive
	}
	return rep, err
}

type fakeCustomers struct {
	mu  sync.Mutex
	err error
}

func (f *fakeCustomers) FindByPhone(_ context.Context, _ *domain.Session, phone string) (*domain.CustomerProfile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &domain.CustomerProfile{RecordID: "rec-" + phone, Complete: true}, nil
}

type fakeAuth struct {
	mu   sync.Mutex
	code string
}

func (f *fakeAuth) lastCode() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.code
}

func (f *fakeAuth) Authorize(_ context.Context, sess *domain.Session, code string) (*domain.Credential, error) {
	if code == "" {
		return nil, domain.ErrValidation("authorization code is required")
	}
	f.mu.Lock()
	f.code = code
	f.mu.Unlock()
	cred := &domain.Credential{AccessToken: "u-1", ExpiresAt: time.Date(2026, 1, 1, 2, 0, 0, 0, time.UTC)}
	sess.Credentials.Replace(cred)
	return cred, nil
}

type fakeConsent struct{}

func (fakeConsent) AuthCodeURL(state string) string {
	return "https://accounts.example.com/authorize?state=" + url.QueryEscape(state)
}

type testServer struct {
	srv       *httptest.Server
	client    *http.Client
	reports   *fakeReports
	customers *fakeCustomers
	auth      *fakeAuth
	registry  *credential.Registry

	mu    sync.Mutex
	ended []string
}

func (ts *testServer) endedSessions() []string {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return append([]string(nil), ts.ended...)
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ts := &testServer{
		reports:   &fakeReports{},
		customers: &fakeCustomers{},
		auth:      &fakeAuth{},
		registry:  credential.NewRegistry(),
	}
	sessions, err := middleware.NewSessions("secret", time.Hour, false, ts.registry, discardLogger())
	require.NoError(t, err)

	h := NewHandler(Deps{
		Reports:   ts.reports,
		Customers: ts.customers,
		Auth:      ts.auth,
		Consent:   fakeConsent{},
		Cookies:   sessions,
		EndSession: func(id string) {
			ts.mu.Lock()
			ts.ended = append(ts.ended, id)
			ts.mu.Unlock()
			ts.registry.Close(id)
		},
		Logger: discardLogger(),
	})
	ts.srv = httptest.NewServer(NewRouter(h, RouterOptions{CORSOrigins: []string{"*"}, Sessions: sessions}))
	t.Cleanup(ts.srv.Close)

	jar := newJar()
	ts.client = &http.Client{
		Jar: jar,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	return ts
}

// simpleJar keeps cookies by name regardless of path.
type simpleJar struct {
	mu      sync.Mutex
	cookies map[string]*http.Cookie
}

func newJar() *simpleJar { return &simpleJar{cookies: make(map[string]*http.Cookie)} }

func (j *simpleJar) SetCookies(_ *url.URL, cookies []*http.Cookie) {
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, c := range cookies {
		if c.MaxAge < 0 {
			delete(j.cookies, c.Name)
			continue
		}
		j.cookies[c.Name] = c
	}
}

func (j *simpleJar) Cookies(*url.URL) []*http.Cookie {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]*http.Cookie, 0, len(j.cookies))
	for _, c := range j.cookies {
		out = append(out, &http.Cookie{Name: c.Name, Value: c.Value})
	}
	return out
}

func (ts *testServer) do(t *testing.T, method, path string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, ts.srv.URL+path, nil)
	require.NoError(t, err)
	resp, err := ts.client.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t)
	resp := ts.do(t, http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
	assert.Empty(t, resp.Cookies(), "health checks do not open sessions")
}

func TestOAuthFlow(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodGet, "/oauth/login")
	require.Equal(t, http.StatusFound, resp.StatusCode)
	loc, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	state := loc.Query().Get("state")
	require.NotEmpty(t, state)

	t.Run("state_mismatch_rejected", func(t *testing.T) {
		resp := ts.do(t, http.MethodGet, "/oauth/callback?code=c1&state=forged")
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	resp = ts.do(t, http.MethodGet, "/oauth/callback?code=c1&state="+url.QueryEscape(state))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[map[string]any](t, resp)
	assert.Equal(t, true, body["authorized"])
	assert.Equal(t, "c1", ts.auth.lastCode())

	sessions := ts.registry.Snapshot()
	require.Len(t, sessions, 1)
	_, ok := sessions[0].Credentials.Get()
	assert.True(t, ok)

	resp = ts.do(t, http.MethodPost, "/oauth/logout")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, []string{sessions[0].ID}, ts.endedSessions())
	assert.Zero(t, ts.registry.Len())
}

func TestReports(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodGet, "/api/reports/sale?range=LastMonth")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	rep := decode[domain.Report](t, resp)
	assert.Equal(t, "sale-LastMonth", rep.Key)
	assert.Equal(t, domain.SourceCache, rep.Source)

	resp = ts.do(t, http.MethodGet, "/api/reports/staff")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_, lastRange := ts.reports.snapshot()
	assert.Equal(t, domain.DefaultRange, lastRange)

	resp = ts.do(t, http.MethodPost, "/api/reports/sale/refresh?range=CurrentMonth")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, domain.SourceLive, decode[domain.Report](t, resp).Source)
	refreshes, _ := ts.reports.snapshot()
	assert.Equal(t, 1, refreshes)

	resp = ts.do(t, http.MethodGet, "/api/reports/payroll")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, "/api/reports/sale?range=Someday")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{err: &domain.NoCredentialError{SessionID: "s"}, want: http.StatusUnauthorized},
		{err: domain.ErrRefreshFailed("rejected", &domain.GatewayError{Status: 400}), want: http.StatusUnauthorized},
		{err: domain.ErrValidation("bad"), want: http.StatusBadRequest},
		{err: domain.ErrNotFound("gone"), want: http.StatusNotFound},
		{err: fmt.Errorf("load: %w", &domain.CombineTimeoutError{Timeout: time.Second, Pending: 1}), want: http.StatusGatewayTimeout},
		{err: fmt.Errorf("build: %w", &domain.GatewayError{Op: "search", Status: 500}), want: http.StatusBadGateway},
		{err: errors.New("boom"), want: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, httpStatusFromDomainError(tt.err))
		})
	}

	t.Run("rendered_through_handler", func(t *testing.T) {
		ts := newTestServer(t)
		ts.reports.setErr(&domain.NoCredentialError{SessionID: "s"})
		resp := ts.do(t, http.MethodGet, "/api/reports/sale")
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		body := decode[errorBody](t, resp)
		assert.Equal(t, http.StatusUnauthorized, body.Code)

		ts.reports.setErr(errors.New("disk on fire"))
		resp = ts.do(t, http.MethodGet, "/api/reports/sale")
		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
		assert.Equal(t, "internal error", decode[errorBody](t, resp).Message)
	})
}

func TestFindCustomer(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodGet, "/api/customers?phone=0901")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "rec-0901", decode[domain.CustomerProfile](t, resp).RecordID)

	ts.customers.mu.Lock()
	ts.customers.err = domain.ErrNotFound("no customer")
	ts.customers.mu.Unlock()
	resp = ts.do(t, http.MethodGet, "/api/customers?phone=0000")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
