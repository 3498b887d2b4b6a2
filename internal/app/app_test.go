package app

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bitable-report/internal/config"
	"bitable-report/internal/db"
	"bitable-report/internal/domain"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		Env:            "development",
		CacheDir:       filepath.Join(dir, "cache"),
		CacheTTL:       time.Hour,
		SessionSecret:  "test-secret",
		SessionTTL:     time.Hour,
		RateLimitRPS:   100,
		RateLimitBurst: 100,
		Lark:           config.LarkConfig{BaseURL: "http://127.0.0.1:1", AppID: "cli_app", AppSecret: "x", QPS: 10},
		Exec: config.ExecConfig{
			PoolSize:       2,
			ShutdownGrace:  time.Second,
			SearchTimeout:  time.Second,
			CombineTimeout: time.Second,
			ReportTimeout:  time.Second,
		},
		Credential: config.CredentialConfig{
			SafetyMargin:   time.Minute,
			MaxAge:         time.Hour,
			RotateSchedule: "@every 1h",
		},
	}
}

func newTestApp(t *testing.T, cfg *config.Config) *App {
	t.Helper()
	a, err := New(context.Background(), Deps{
		Cfg:    cfg,
		Store:  db.OpenTestStore(t),
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	return a
}

func TestNew_ServesHealth(t *testing.T) {
	a := newTestApp(t, testConfig(t))
	require.NoError(t, a.Start(context.Background()))

	rec := httptest.NewRecorder()
	a.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.NoError(t, a.Close(ctx))
}

func TestNew_ReportWithoutCredentialIsUnauthorized(t *testing.T) {
	a := newTestApp(t, testConfig(t))
	t.Cleanup(func() { _ = a.Close(context.Background()) })

	rec := httptest.NewRecorder()
	a.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/reports/sale", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Another user's report in the durable tier stays hidden.
	require.NoError(t, a.Durable.Save(&domain.CacheEntry{
		Key:       domain.ReportKey(domain.ReportSale, domain.DefaultRange),
		FetchedAt: time.Now(),
		Rows:      json.RawMessage(`[1,2]`),
	}))
	rec = httptest.NewRecorder()
	a.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/reports/sale", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.NotContains(t, rec.Body.String(), "[1,2]")
}

func TestNew_SeedsWorkspacesFile(t *testing.T) {
	cfg := testConfig(t)
	cfg.WorkspacesFile = filepath.Join(t.TempDir(), "workspaces.yaml")
	require.NoError(t, os.WriteFile(cfg.WorkspacesFile, []byte("workspaces:\n  - id: lan\n    staff_name: Lan\n    base_id: bas1\n"), 0o600))

	a := newTestApp(t, cfg)
	t.Cleanup(func() { _ = a.Close(context.Background()) })

	items, err := a.Workspaces.List(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "Lan", items[0].StaffName)
}

func TestNew_InvalidRotateSchedule(t *testing.T) {
	cfg := testConfig(t)
	cfg.Credential.RotateSchedule = "not a schedule"
	a := newTestApp(t, cfg)
	t.Cleanup(func() { _ = a.Close(context.Background()) })

	require.Error(t, a.Start(context.Background()))
}

type recordingRepo struct {
	upserts []domain.Workspace
	failOn  string
}

func (r *recordingRepo) List(context.Context) ([]domain.Workspace, error) { return r.upserts, nil }
func (r *recordingRepo) Get(context.Context, string) (*domain.Workspace, error) {
	return nil, domain.ErrNotFound("no")
}

func (r *recordingRepo) Upsert(_ context.Context, ws domain.Workspace) error {
	if ws.ID == r.failOn {
		return domain.ErrValidation("bad workspace")
	}
	r.upserts = append(r.upserts, ws)
	return nil
}
func (r *recordingRepo) Delete(context.Context, string) error { return nil }

func TestSeedWorkspaces(t *testing.T) {
	repo := &recordingRepo{failOn: "bad"}

	n, err := SeedWorkspaces(context.Background(), repo, []domain.Workspace{{ID: "a"}, {ID: "b"}})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = SeedWorkspaces(context.Background(), repo, []domain.Workspace{{ID: "c"}, {ID: "bad"}, {ID: "d"}})
	require.Error(t, err)
	assert.Equal(t, 1, n)
	assert.Contains(t, err.Error(), `upsert workspace "bad"`)
}
