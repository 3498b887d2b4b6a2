package domain

import "context"

// Record is a single row returned by the data platform. Field values keep
// the platform's loose JSON shape (strings, numbers, objects, arrays).
type Record struct {
	ID     string         `json:"record_id"`
	Fields map[string]any `json:"fields"`
}

// RecordPage is one page of a record search.
type RecordPage struct {
	Items     []Record
	HasMore   bool
	PageToken string
	Total     int
}

// Table describes one table inside a base.
type Table struct {
	ID   string
	Name string
}

// TablePage is one page of a table listing.
type TablePage struct {
	Items     []Table
	HasMore   bool
	PageToken string
}

// Condition is a single filter predicate on a field.
type Condition struct {
	Field    string   `json:"field_name"`
	Operator string   `json:"operator"`
	Value    []string `json:"value"`
}

// Filter combines conditions with a conjunction ("and" / "or").
type Filter struct {
	Conjunction string      `json:"conjunction"`
	Conditions  []Condition `json:"conditions"`
}

// SearchRequest addresses one table (optionally a view) of a base.
type SearchRequest struct {
	BaseID     string
	TableID    string
	ViewID     string
	FieldNames []string
	Filter     *Filter
	PageSize   int
	PageToken  string
}

// Is builds a single-condition "is" filter.
func Is(field string, values ...string) *Filter {
	return &Filter{
		Conjunction: "and",
		Conditions:  []Condition{{Field: field, Operator: "is", Value: values}},
	}
}

// DataGateway reads records and tables from the external platform.
type DataGateway interface {
	SearchRecords(ctx context.Context, accessToken string, req SearchRequest) (*RecordPage, error)
	ListTables(ctx context.Context, accessToken, baseID, pageToken string) (*TablePage, error)
}

// QueryTarget is one partition of a fanned-out query: a single table plus
// the view that scopes it.
type QueryTarget struct {
	Name    string
	BaseID  string
	TableID string
	ViewID  string
}

// Workspace is one staff member's set of tables. Customer lookup and staff
// statistics fan out across all registered workspaces.
type Workspace struct {
	ID                 string `json:"id" yaml:"id"`
	StaffName          string `json:"staff_name" yaml:"staff_name"`
	BaseID             string `json:"base_id" yaml:"base_id"`
	CustomerTableID    string `json:"customer_table_id" yaml:"customer_table_id"`
	AppointmentTableID string `json:"appointment_table_id" yaml:"appointment_table_id"`
	NoteTableID        string `json:"note_table_id" yaml:"note_table_id"`
	AppointmentViewID  string `json:"appointment_view_id" yaml:"appointment_view_id"`
}

// WorkspaceRepository persists the workspace registry.
type WorkspaceRepository interface {
	List(ctx context.Context) ([]Workspace, error)
	Get(ctx context.Context, id string) (*Workspace, error)
	Upsert(ctx context.Context, ws Workspace) error
	Delete(ctx context.Context, id string) error
}
