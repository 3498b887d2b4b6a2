package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"bitable-report/internal/domain"
)

type workspaceFile struct {
	Workspaces []domain.Workspace `yaml:"workspaces"`
}

// LoadWorkspaces reads a YAML workspace seed file of the form
//
//	workspaces:
//	  - id: lan
//	    staff_name: Lan
//	    base_id: bascn...
//	    customer_table_id: tbl...
func LoadWorkspaces(path string) ([]domain.Workspace, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is caller-controlled
	if err != nil {
		return nil, fmt.Errorf("read workspaces file: %w", err)
	}
	var f workspaceFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse workspaces file %s: %w", path, err)
	}

	seen := make(map[string]struct{}, len(f.Workspaces))
	for i, ws := range f.Workspaces {
		if ws.ID == "" || ws.StaffName == "" {
			return nil, fmt.Errorf("workspace #%d: id and staff_name are required", i+1)
		}
		if _, dup := seen[ws.ID]; dup {
			return nil, fmt.Errorf("workspace %q is listed twice", ws.ID)
		}
		seen[ws.ID] = struct{}{}
	}
	return f.Workspaces, nil
}
