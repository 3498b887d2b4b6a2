package app

import (
	"context"
	"fmt"

	"bitable-report/internal/domain"
)

// SeedWorkspaces upserts every workspace into repo. Re-running it with the
// same input changes nothing.
func SeedWorkspaces(ctx context.Context, repo domain.WorkspaceRepository, workspaces []domain.Workspace) (int, error) {
	for i, ws := range workspaces {
		if err := repo.Upsert(ctx, ws); err != nil {
			return i, fmt.Errorf("upsert workspace %q: %w", ws.ID, err)
		}
	}
	return len(workspaces), nil
}
