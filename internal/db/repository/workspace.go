package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"bitable-report/internal/domain"
)

var _ domain.WorkspaceRepository = (*WorkspaceRepo)(nil)

const workspaceColumns = `id, staff_name, base_id, customer_table_id, appointment_table_id, note_table_id, appointment_view_id`

// WorkspaceRepo stores the staff workspace registry. Reads go to the read
// pool and writes to the single-connection write pool.
type WorkspaceRepo struct {
	write *sql.DB
	read  *sql.DB
}

// NewWorkspaceRepo creates a WorkspaceRepo. read may equal write.
func NewWorkspaceRepo(write, read *sql.DB) *WorkspaceRepo {
	return &WorkspaceRepo{write: write, read: read}
}

// List returns every workspace ordered by staff name.
func (r *WorkspaceRepo) List(ctx context.Context) ([]domain.Workspace, error) {
	rows, err := r.read.QueryContext(ctx, `SELECT `+workspaceColumns+` FROM workspaces ORDER BY staff_name, id`)
	if err != nil {
		return nil, mapDBError(err)
	}
	defer rows.Close() //nolint:errcheck

	var out []domain.Workspace
	for rows.Next() {
		ws, err := scanWorkspace(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *ws)
	}
	return out, rows.Err()
}

// Get returns one workspace.
func (r *WorkspaceRepo) Get(ctx context.Context, id string) (*domain.Workspace, error) {
	row := r.read.QueryRowContext(ctx, `SELECT `+workspaceColumns+` FROM workspaces WHERE id = ?`, id)
	ws, err := scanWorkspace(row)
	if err != nil {
		var nf *domain.NotFoundError
		if errors.As(err, &nf) {
			return nil, domain.ErrNotFound("workspace %q not found", id)
		}
		return nil, err
	}
	return ws, nil
}

// Upsert inserts ws or replaces the stored workspace with the same ID.
func (r *WorkspaceRepo) Upsert(ctx context.Context, ws domain.Workspace) error {
	if ws.StaffName == "" {
		return domain.ErrValidation("workspace staff name is required")
	}
	if ws.ID == "" {
		ws.ID = domain.NewID()
	}
	_, err := r.write.ExecContext(ctx, `
		INSERT INTO workspaces (`+workspaceColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			staff_name = excluded.staff_name,
			base_id = excluded.base_id,
			customer_table_id = excluded.customer_table_id,
			appointment_table_id = excluded.appointment_table_id,
			note_table_id = excluded.note_table_id,
			appointment_view_id = excluded.appointment_view_id,
			updated_at = CURRENT_TIMESTAMP
	`, ws.ID, ws.StaffName, ws.BaseID, ws.CustomerTableID, ws.AppointmentTableID, ws.NoteTableID, ws.AppointmentViewID)
	return mapDBError(err)
}

// Delete removes a workspace.
func (r *WorkspaceRepo) Delete(ctx context.Context, id string) error {
	res, err := r.write.ExecContext(ctx, `DELETE FROM workspaces WHERE id = ?`, id)
	if err != nil {
		return mapDBError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return domain.ErrNotFound("workspace %q not found", id)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanWorkspace(s scanner) (*domain.Workspace, error) {
	var ws domain.Workspace
	err := s.Scan(&ws.ID, &ws.StaffName, &ws.BaseID, &ws.CustomerTableID, &ws.AppointmentTableID, &ws.NoteTableID, &ws.AppointmentViewID)
	if err != nil {
		return nil, mapDBError(err)
	}
	return &ws, nil
}
