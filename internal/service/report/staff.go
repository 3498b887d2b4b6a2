package report

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"bitable-report/internal/domain"
	"bitable-report/internal/service/records"
	"bitable-report/internal/service/scatter"
)

// StaffConfig holds the default views of the workspace tables.
type StaffConfig struct {
	CustomerViewID    string
	AppointmentViewID string
	Timeout           time.Duration
}

// StaffBuilder computes customer and appointment counters per staff
// workspace. Each workspace is one partition of the fan-out.
type StaffBuilder struct {
	scanner    *records.Scanner
	exec       *scatter.Executor
	workspaces domain.WorkspaceRepository
	cfg        StaffConfig
	classifier *Classifier[AppointmentBucket]
	logger     *slog.Logger
}

// NewStaffBuilder creates a StaffBuilder.
func NewStaffBuilder(scanner *records.Scanner, exec *scatter.Executor, workspaces domain.WorkspaceRepository, cfg StaffConfig, logger *slog.Logger) *StaffBuilder {
	return &StaffBuilder{
		scanner:    scanner,
		exec:       exec,
		workspaces: workspaces,
		cfg:        cfg,
		classifier: NewClassifier(AppointmentRules...),
		logger:     logger,
	}
}

// Build implements Builder.
func (b *StaffBuilder) Build(ctx context.Context, sess *domain.Session, rng domain.Range) (Result, error) {
	all, err := b.workspaces.List(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("list workspaces: %w", err)
	}
	targets := make([]domain.Workspace, 0, len(all))
	for _, ws := range all {
		if ws.BaseID == "" || ws.CustomerTableID == "" || ws.AppointmentTableID == "" {
			b.logger.Debug("skipping incomplete workspace", "workspace", ws.ID)
			continue
		}
		targets = append(targets, ws)
	}

	var guard records.CredentialGuard
	got := scatter.CollectAll(ctx, b.exec, "staff-report", targets,
		func(ctx context.Context, ws domain.Workspace) (domain.StaffStatsRow, error) {
			if err := guard.Err(); err != nil {
				return domain.StaffStatsRow{}, err
			}
			row, err := b.stats(ctx, sess, ws, rng)
			return row, guard.Observe(err)
		}, b.cfg.Timeout)
	if err := guard.Err(); err != nil {
		return Result{}, err
	}

	failed := make([]string, len(got.Failed))
	for i, ws := range got.Failed {
		failed[i] = ws.StaffName
	}
	return Result{Rows: got.Values, Complete: got.Completed && len(failed) == 0, Failed: failed}, nil
}

func (b *StaffBuilder) stats(ctx context.Context, sess *domain.Session, ws domain.Workspace, rng domain.Range) (domain.StaffStatsRow, error) {
	row := domain.StaffStatsRow{StaffName: ws.StaffName}

	customers := make(map[string]struct{})
	err := b.scanner.Scan(ctx, sess, domain.SearchRequest{
		BaseID:     ws.BaseID,
		TableID:    ws.CustomerTableID,
		ViewID:     b.cfg.CustomerViewID,
		FieldNames: []string{records.FieldCreatedAt, records.FieldPhone},
		Filter:     domain.Is(records.FieldCreatedAt, string(rng)),
	}, func(r domain.Record) error {
		if r.ID != "" {
			customers[r.ID] = struct{}{}
		}
		return nil
	})
	if err != nil {
		return row, fmt.Errorf("customers of %s: %w", ws.StaffName, err)
	}
	row.Customers = len(customers)

	viewID := ws.AppointmentViewID
	if viewID == "" {
		viewID = b.cfg.AppointmentViewID
	}
	err = b.scanner.Scan(ctx, sess, domain.SearchRequest{
		BaseID:     ws.BaseID,
		TableID:    ws.AppointmentTableID,
		ViewID:     viewID,
		FieldNames: []string{records.FieldCreatedAt, records.FieldCustomer, records.FieldStatus},
		Filter:     domain.Is(records.FieldCreatedAt, string(rng)),
	}, func(r domain.Record) error {
		if !linksAny(records.LinkedRecordIDs(r.Fields[records.FieldCustomer]), customers) {
			return nil
		}
		row.Appointments++
		bucket, ok := b.classifier.Classify(records.Text(r.Fields[records.FieldStatus]))
		if !ok {
			return nil
		}
		switch bucket {
		case AppointmentLateDone:
			row.LateDone++
		case AppointmentDone:
			row.Done++
		case AppointmentOverdue:
			row.Overdue++
		}
		return nil
	})
	if err != nil {
		return row, fmt.Errorf("appointments of %s: %w", ws.StaffName, err)
	}
	return row, nil
}

func linksAny(ids []string, set map[string]struct{}) bool {
	for _, id := range ids {
		if _, ok := set[id]; ok {
			return true
		}
	}
	return false
}
