// Package app wires configuration, storage, the platform gateway and the
// services into a runnable report server.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"bitable-report/internal/api"
	"bitable-report/internal/config"
	"bitable-report/internal/db"
	"bitable-report/internal/db/repository"
	"bitable-report/internal/domain"
	"bitable-report/internal/lark"
	"bitable-report/internal/middleware"
	"bitable-report/internal/service/cache"
	"bitable-report/internal/service/credential"
	"bitable-report/internal/service/lookup"
	"bitable-report/internal/service/records"
	"bitable-report/internal/service/report"
	"bitable-report/internal/service/scatter"
)

// Deps holds what main() must provide.
type Deps struct {
	Cfg    *config.Config
	Store  *db.Store
	Logger *slog.Logger
	// HTTPClient talks to the platform; nil means a default client.
	HTTPClient *http.Client
}

// Services groups the wired services.
type Services struct {
	Sessions    *credential.Registry
	Credentials *credential.Manager
	Workspaces  *repository.WorkspaceRepo
	Cache       *cache.AggregateCache
	Durable     *cache.FileStore
	Reports     *report.Service
	Lookup      *lookup.Service
}

// App is the fully wired application.
type App struct {
	Services
	Pool    *scatter.Pool
	Rotator *credential.Rotator
	Auth    *lark.AuthClient
	Handler http.Handler

	cfg    *config.Config
	logger *slog.Logger
	cancel context.CancelFunc
}

// New wires the application. It seeds workspaces from the configured YAML
// file when one is set.
func New(ctx context.Context, deps Deps) (*App, error) {
	cfg := deps.Cfg
	logger := deps.Logger

	// === Storage ===
	workspaces := repository.NewWorkspaceRepo(deps.Store.Write, deps.Store.Read)
	if cfg.WorkspacesFile != "" {
		items, err := config.LoadWorkspaces(cfg.WorkspacesFile)
		if err != nil {
			return nil, err
		}
		n, err := SeedWorkspaces(ctx, workspaces, items)
		if err != nil {
			return nil, err
		}
		logger.Info("workspaces seeded", "file", cfg.WorkspacesFile, "count", n)
	}

	durable, err := cache.NewFileStore(cfg.CacheDir, cfg.CacheTTL, logger.With("component", "file-cache"))
	if err != nil {
		return nil, fmt.Errorf("open report cache: %w", err)
	}
	aggregate := cache.New(cache.NewSessionTier(), durable, logger.With("component", "cache"))

	// === Platform gateway ===
	client := lark.NewClient(lark.Config{
		BaseURL:    cfg.Lark.BaseURL,
		AppID:      cfg.Lark.AppID,
		AppSecret:  cfg.Lark.AppSecret,
		QPS:        cfg.Lark.QPS,
		HTTPClient: deps.HTTPClient,
	}, logger.With("component", "lark"))
	auth := lark.NewAuthClient(client, cfg.Lark.AuthorizeURL, cfg.Lark.RedirectURL)
	bitable := lark.NewBitableClient(client)

	// === Credentials ===
	sessions := credential.NewRegistry()
	manager := credential.NewManager(auth, credential.Policy{
		SafetyMargin: cfg.Credential.SafetyMargin,
		MaxAge:       cfg.Credential.MaxAge,
	}, logger.With("component", "credentials"))
	rotator := credential.NewRotator(manager, sessions, cfg.Credential.RotateSchedule, logger.With("component", "rotator"))

	// === Execution ===
	pool := scatter.NewPool(cfg.Exec.PoolSize, logger.With("component", "pool"))
	exec := scatter.NewExecutor(pool, scatter.Options{Strict: cfg.Exec.StrictCancel}, logger.With("component", "scatter"))
	scanner := records.NewScanner(bitable, manager, logger.With("component", "scanner"))

	// === Services ===
	reportLogger := logger.With("component", "reports")
	reports := report.NewService(aggregate, manager, map[domain.ReportKind]report.Builder{
		domain.ReportSale: report.NewSaleBuilder(scanner, exec, report.SaleConfig{
			BaseID:      cfg.Sources.SaleBaseID,
			ViewID:      cfg.Sources.SaleViewID,
			TableMarker: cfg.Sources.SaleTableMarker,
			Timeout:     cfg.Exec.ReportTimeout,
		}, reportLogger),
		domain.ReportStaff: report.NewStaffBuilder(scanner, exec, workspaces, report.StaffConfig{
			CustomerViewID:    cfg.Sources.CustomerViewID,
			AppointmentViewID: cfg.Sources.AppointmentViewID,
			Timeout:           cfg.Exec.ReportTimeout,
		}, reportLogger),
	}, reportLogger)
	finder := lookup.NewService(scanner, exec, manager, workspaces, lookup.Config{
		CustomerViewID:    cfg.Sources.CustomerViewID,
		AppointmentViewID: cfg.Sources.AppointmentViewID,
		NoteViewID:        cfg.Sources.NoteViewID,
		SearchTimeout:     cfg.Exec.SearchTimeout,
		CombineTimeout:    cfg.Exec.CombineTimeout,
	}, logger.With("component", "lookup"))

	// === HTTP ===
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	cookies, err := middleware.NewSessions(cfg.SessionSecret, cfg.SessionTTL, cfg.IsProduction(), sessions, logger.With("component", "sessions"))
	if err != nil {
		cancel()
		return nil, err
	}
	handler := api.NewRouter(api.NewHandler(api.Deps{
		Reports:   reports,
		Customers: finder,
		Auth:      manager,
		Consent:   auth,
		Cookies:   cookies,
		EndSession: func(id string) {
			sessions.Close(id)
			aggregate.EndSession(id)
		},
		SecureCookies: cfg.IsProduction(),
		Logger:        logger.With("component", "api"),
	}), api.RouterOptions{
		CORSOrigins: cfg.CORSAllowedOrigins,
		RateLimiter: middleware.NewRateLimiter(runCtx, middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimitRPS,
			Burst:             cfg.RateLimitBurst,
		}),
		Sessions: cookies,
	})

	return &App{
		Services: Services{
			Sessions:    sessions,
			Credentials: manager,
			Workspaces:  workspaces,
			Cache:       aggregate,
			Durable:     durable,
			Reports:     reports,
			Lookup:      finder,
		},
		Pool:    pool,
		Rotator: rotator,
		Auth:    auth,
		Handler: handler,
		cfg:     cfg,
		logger:  logger,
		cancel:  cancel,
	}, nil
}

// Start launches background credential rotation.
func (a *App) Start(ctx context.Context) error {
	return a.Rotator.Start(ctx)
}

// Close stops rotation, drains the worker pool within the configured grace
// period and stops background sweeps.
func (a *App) Close(ctx context.Context) error {
	a.Rotator.Stop()
	grace := a.cfg.Exec.ShutdownGrace
	if dl, ok := ctx.Deadline(); ok {
		if left := time.Until(dl); left < grace {
			grace = left
		}
	}
	err := a.Pool.Shutdown(grace)
	a.cancel()
	if err != nil {
		a.logger.Warn("worker pool interrupted", "error", err)
	}
	return err
}
