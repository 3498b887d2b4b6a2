// Package lookup finds a customer by phone number across the staff
// workspaces and gathers the notes and appointments attached to it.
package lookup

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"bitable-report/internal/domain"
	"bitable-report/internal/service/records"
	"bitable-report/internal/service/scatter"
)

// Config holds the views and time budgets of a lookup.
type Config struct {
	CustomerViewID    string
	AppointmentViewID string
	NoteViewID        string
	SearchTimeout     time.Duration
	CombineTimeout    time.Duration
	// Location renders dates; nil means UTC+7.
	Location *time.Location
}

// Service answers customer lookups.
type Service struct {
	scanner    *records.Scanner
	exec       *scatter.Executor
	creds      records.CredentialSource
	workspaces domain.WorkspaceRepository
	cfg        Config
	logger     *slog.Logger
}

// NewService creates a Service.
func NewService(scanner *records.Scanner, exec *scatter.Executor, creds records.CredentialSource, workspaces domain.WorkspaceRepository, cfg Config, logger *slog.Logger) *Service {
	if cfg.Location == nil {
		cfg.Location = time.FixedZone("ICT", 7*60*60)
	}
	return &Service{scanner: scanner, exec: exec, creds: creds, workspaces: workspaces, cfg: cfg, logger: logger}
}

// FindByPhone searches every workspace for a customer with phone and stops
// at the first hit. It then loads the customer's notes and appointments;
// both must arrive within the combine timeout.
//
// Credential failures are returned unchanged, before or during the search.
// The returned profile has Complete=false when the workspace search timed
// out before every workspace was checked.
func (s *Service) FindByPhone(ctx context.Context, sess *domain.Session, phone string) (*domain.CustomerProfile, error) {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return nil, domain.ErrValidation("phone is required")
	}
	if _, err := s.creds.EnsureValid(ctx, sess); err != nil {
		return nil, err
	}

	all, err := s.workspaces.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list workspaces: %w", err)
	}
	targets := make([]domain.Workspace, 0, len(all))
	for _, ws := range all {
		if ws.BaseID != "" && ws.CustomerTableID != "" {
			targets = append(targets, ws)
		}
	}

	var guard records.CredentialGuard
	match, completed := scatter.FirstMatch(ctx, s.exec, "customer-search", targets,
		func(ctx context.Context, ws domain.Workspace) (domain.Record, bool, error) {
			if err := guard.Err(); err != nil {
				return domain.Record{}, false, err
			}
			rec, ok, err := s.scanner.First(ctx, sess, domain.SearchRequest{
				BaseID:  ws.BaseID,
				TableID: ws.CustomerTableID,
				ViewID:  s.cfg.CustomerViewID,
				Filter:  domain.Is(records.FieldPhone, phone),
			})
			if err != nil || !ok {
				return domain.Record{}, false, guard.Observe(err)
			}
			return *rec, true, nil
		}, s.cfg.SearchTimeout)
	if err := guard.Err(); err != nil {
		return nil, err
	}
	if match == nil {
		if !completed {
			return nil, domain.ErrNotFound("no customer with phone %s found before the search timed out", phone)
		}
		return nil, domain.ErrNotFound("no customer with phone %s", phone)
	}

	ws := match.Target
	profile := &domain.CustomerProfile{
		RecordID:     match.Value.ID,
		WorkspaceID:  ws.ID,
		StaffName:    ws.StaffName,
		Fields:       match.Value.Fields,
		Notes:        []domain.Note{},
		Appointments: []domain.Appointment{},
		Complete:     completed,
	}
	s.logger.Debug("customer matched", "workspace", ws.ID, "record", profile.RecordID)

	var notes []domain.Note
	var appts []domain.Appointment
	err = scatter.Combine(ctx, s.exec, s.cfg.CombineTimeout,
		func(ctx context.Context) error {
			var err error
			notes, err = s.notes(ctx, sess, ws, profile.RecordID)
			return err
		},
		func(ctx context.Context) error {
			var err error
			appts, err = s.appointments(ctx, sess, ws, profile.RecordID)
			return err
		},
	)
	if err != nil {
		return nil, fmt.Errorf("load customer %s: %w", profile.RecordID, err)
	}
	profile.Notes = append(profile.Notes, notes...)
	profile.Appointments = append(profile.Appointments, appts...)
	return profile, nil
}

func (s *Service) notes(ctx context.Context, sess *domain.Session, ws domain.Workspace, recordID string) ([]domain.Note, error) {
	if ws.NoteTableID == "" {
		return nil, nil
	}
	var out []domain.Note
	err := s.scanner.Scan(ctx, sess, domain.SearchRequest{
		BaseID:     ws.BaseID,
		TableID:    ws.NoteTableID,
		ViewID:     s.cfg.NoteViewID,
		FieldNames: []string{records.FieldCustomer, records.FieldNoteContent, records.FieldNoteDate},
		Filter:     domain.Is(records.FieldCustomer, recordID),
	}, func(r domain.Record) error {
		out = append(out, domain.Note{
			Content: records.Text(r.Fields[records.FieldNoteContent]),
			Date:    records.FormatDate(r.Fields[records.FieldNoteDate], s.cfg.Location),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("notes: %w", err)
	}
	return out, nil
}

func (s *Service) appointments(ctx context.Context, sess *domain.Session, ws domain.Workspace, recordID string) ([]domain.Appointment, error) {
	if ws.AppointmentTableID == "" {
		return nil, nil
	}
	viewID := ws.AppointmentViewID
	if viewID == "" {
		viewID = s.cfg.AppointmentViewID
	}
	var out []domain.Appointment
	err := s.scanner.Scan(ctx, sess, domain.SearchRequest{
		BaseID:     ws.BaseID,
		TableID:    ws.AppointmentTableID,
		ViewID:     viewID,
		FieldNames: []string{records.FieldCustomer, records.FieldTask, records.FieldStart, records.FieldStatus, records.FieldEnd},
		Filter:     domain.Is(records.FieldCustomer, recordID),
	}, func(r domain.Record) error {
		out = append(out, domain.Appointment{
			Task:   records.Text(r.Fields[records.FieldTask]),
			Start:  records.FormatDate(r.Fields[records.FieldStart], s.cfg.Location),
			End:    records.FormatDate(r.Fields[records.FieldEnd], s.cfg.Location),
			Status: records.Text(r.Fields[records.FieldStatus]),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("appointments: %w", err)
	}
	return out, nil
}
