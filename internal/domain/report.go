package domain

import (
	"encoding/json"
	"time"
)

// ReportKind names an aggregate report.
type ReportKind string

// Supported report kinds.
const (
	ReportSale  ReportKind = "sale"
	ReportStaff ReportKind = "staff"
)

// Range is a named, platform-evaluated date range ("CurrentMonth", ...).
type Range string

// DefaultRange is used when a request names no range.
const DefaultRange Range = "CurrentMonth"

var knownRanges = map[Range]struct{}{
	"Today": {}, "Yesterday": {}, "Tomorrow": {},
	"CurrentWeek": {}, "LastWeek": {},
	"CurrentMonth": {}, "LastMonth": {},
	"TheLastWeek": {}, "TheNextWeek": {},
	"TheLastMonth": {}, "TheNextMonth": {},
}

// ParseRange validates a range name; an empty name yields DefaultRange.
func ParseRange(s string) (Range, error) {
	if s == "" {
		return DefaultRange, nil
	}
	r := Range(s)
	if _, ok := knownRanges[r]; !ok {
		return "", ErrValidation("unknown date range %q", s)
	}
	return r, nil
}

// ParseReportKind validates a report kind name.
func ParseReportKind(s string) (ReportKind, error) {
	switch k := ReportKind(s); k {
	case ReportSale, ReportStaff:
		return k, nil
	default:
		return "", ErrValidation("unknown report kind %q", s)
	}
}

// ReportKey is the cache identity of a report.
func ReportKey(kind ReportKind, r Range) string {
	return string(kind) + "-" + string(r)
}

// CacheTier identifies which cache tier served a lookup.
type CacheTier string

// Cache tiers.
const (
	TierNone    CacheTier = ""
	TierSession CacheTier = "session"
	TierDurable CacheTier = "durable"
)

// CacheEntry is the shape shared by both cache tiers.
type CacheEntry struct {
	Key       string          `json:"key"`
	FetchedAt time.Time       `json:"fetched_at"`
	Rows      json.RawMessage `json:"rows"`
}

// Provenance tags of a returned report.
const (
	SourceCache = "cache"
	SourceLive  = "live"
)

// Report is an aggregate result together with where it came from.
type Report struct {
	Key       string          `json:"key"`
	Kind      ReportKind      `json:"kind"`
	Range     Range           `json:"range"`
	Rows      json.RawMessage `json:"rows"`
	FetchedAt time.Time       `json:"fetched_at"`
	Source    string          `json:"source"`
	Tier      CacheTier       `json:"tier,omitempty"`
	Complete  bool            `json:"complete"`
	Failed    []string        `json:"failed_partitions,omitempty"`
}

// SaleSummaryRow holds the message-status counters of one sale table.
type SaleSummaryRow struct {
	Name               string  `json:"name"`
	Demand             int     `json:"demand"`
	Duplicate          int     `json:"duplicate"`
	Junk               int     `json:"junk"`
	NoInteraction      int     `json:"no_interaction"`
	HotClose           int     `json:"hot_close"`
	OldClose           int     `json:"old_close"`
	Cancelled          int     `json:"cancelled"`
	Messages           int     `json:"messages"`
	Orders             int     `json:"orders"`
	OrderPerDemandPct  float64 `json:"order_per_demand_pct"`
	OrderPerMessagePct float64 `json:"order_per_message_pct"`
	CancelRatePct      float64 `json:"cancel_rate_pct"`
}

// StaffStatsRow holds the customer and appointment counters of one staff
// workspace.
type StaffStatsRow struct {
	StaffName    string `json:"staff_name"`
	Customers    int    `json:"customers"`
	Appointments int    `json:"appointments"`
	Done         int    `json:"done"`
	LateDone     int    `json:"late_done"`
	Overdue      int    `json:"overdue"`
}

// Note is a free-text interaction note attached to a customer.
type Note struct {
	Content string `json:"content"`
	Date    string `json:"date"`
}

// Appointment is a scheduled task attached to a customer.
type Appointment struct {
	Task   string `json:"task"`
	Start  string `json:"start"`
	End    string `json:"end"`
	Status string `json:"status"`
}

// CustomerProfile is a matched customer plus the data gathered around it.
type CustomerProfile struct {
	RecordID     string         `json:"record_id"`
	WorkspaceID  string         `json:"workspace_id"`
	StaffName    string         `json:"staff_name"`
	Fields       map[string]any `json:"fields"`
	Notes        []Note         `json:"notes"`
	Appointments []Appointment  `json:"appointments"`
	Complete     bool           `json:"complete"`
}
