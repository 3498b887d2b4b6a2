package report

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"bitable-report/internal/domain"
	"bitable-report/internal/service/records"
	"bitable-report/internal/service/scatter"
)

// SaleConfig locates the sale tables.
type SaleConfig struct {
	BaseID string
	ViewID string
	// TableMarker selects sale tables by a substring of their name.
	TableMarker string
	Timeout     time.Duration
}

// SaleBuilder counts message statuses per sale table. Each table is one
// partition of the fan-out.
type SaleBuilder struct {
	scanner    *records.Scanner
	exec       *scatter.Executor
	cfg        SaleConfig
	classifier *Classifier[SaleBucket]
	logger     *slog.Logger
}

// NewSaleBuilder creates a SaleBuilder.
func NewSaleBuilder(scanner *records.Scanner, exec *scatter.Executor, cfg SaleConfig, logger *slog.Logger) *SaleBuilder {
	return &SaleBuilder{
		scanner:    scanner,
		exec:       exec,
		cfg:        cfg,
		classifier: NewClassifier(SaleRules...),
		logger:     logger,
	}
}

// Targets lists the sale tables of the configured base.
func (b *SaleBuilder) Targets(ctx context.Context, sess *domain.Session) ([]domain.QueryTarget, error) {
	tables, err := b.scanner.ListTables(ctx, sess, b.cfg.BaseID)
	if err != nil {
		return nil, fmt.Errorf("discover sale tables: %w", err)
	}
	targets := make([]domain.QueryTarget, 0, len(tables))
	for _, t := range tables {
		if b.cfg.TableMarker != "" && !strings.Contains(t.Name, b.cfg.TableMarker) {
			continue
		}
		targets = append(targets, domain.QueryTarget{Name: t.Name, BaseID: b.cfg.BaseID, TableID: t.ID, ViewID: b.cfg.ViewID})
	}
	return targets, nil
}

// Build implements Builder.
func (b *SaleBuilder) Build(ctx context.Context, sess *domain.Session, rng domain.Range) (Result, error) {
	targets, err := b.Targets(ctx, sess)
	if err != nil {
		return Result{}, err
	}
	b.logger.Debug("sale tables discovered", "count", len(targets))

	var guard records.CredentialGuard
	got := scatter.CollectAll(ctx, b.exec, "sale-report", targets,
		func(ctx context.Context, t domain.QueryTarget) (domain.SaleSummaryRow, error) {
			if err := guard.Err(); err != nil {
				return domain.SaleSummaryRow{}, err
			}
			row, err := b.summarize(ctx, sess, t, rng)
			return row, guard.Observe(err)
		}, b.cfg.Timeout)
	if err := guard.Err(); err != nil {
		return Result{}, err
	}

	failed := make([]string, len(got.Failed))
	for i, t := range got.Failed {
		failed[i] = t.Name
	}
	return Result{Rows: got.Values, Complete: got.Completed && len(failed) == 0, Failed: failed}, nil
}

func (b *SaleBuilder) summarize(ctx context.Context, sess *domain.Session, t domain.QueryTarget, rng domain.Range) (domain.SaleSummaryRow, error) {
	req := domain.SearchRequest{
		BaseID:     t.BaseID,
		TableID:    t.TableID,
		ViewID:     t.ViewID,
		FieldNames: []string{records.FieldCreatedAt, records.FieldSaleStatus},
		Filter:     domain.Is(records.FieldCreatedAt, string(rng)),
	}

	var counts [SaleCancelled + 1]int
	err := b.scanner.Scan(ctx, sess, req, func(r domain.Record) error {
		if bucket, ok := b.classifier.Classify(records.Text(r.Fields[records.FieldSaleStatus])); ok {
			counts[bucket]++
		}
		return nil
	})
	if err != nil {
		return domain.SaleSummaryRow{}, err
	}
	return NewSaleSummaryRow(t.Name, counts), nil
}

// NewSaleSummaryRow derives totals and ratios from per-bucket counts.
func NewSaleSummaryRow(name string, counts [SaleCancelled + 1]int) domain.SaleSummaryRow {
	row := domain.SaleSummaryRow{
		Name:          name,
		Demand:        counts[SaleDemand],
		Duplicate:     counts[SaleDuplicate],
		Junk:          counts[SaleJunk],
		NoInteraction: counts[SaleNoInteraction],
		HotClose:      counts[SaleHotClose],
		OldClose:      counts[SaleOldClose],
		Cancelled:     counts[SaleCancelled],
	}
	for _, n := range counts {
		row.Messages += n
	}
	row.Orders = row.HotClose + row.OldClose
	row.OrderPerDemandPct = percent(row.Orders, row.Demand+row.HotClose+row.OldClose+row.Cancelled)
	row.OrderPerMessagePct = percent(row.Orders, row.Messages)
	row.CancelRatePct = percent(row.Cancelled, row.Orders)
	return row
}

// percent returns num/den as a percentage rounded half-up to one decimal;
// a zero denominator yields 0.
func percent(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return math.Floor(float64(num)/float64(den)*1000+0.5) / 10
}
