package report

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Rule assigns statuses containing Contains to Bucket.
type Rule[B comparable] struct {
	Contains string
	Bucket   B
}

// Classifier maps a free-text status to exactly one bucket using an ordered
// rule list. The first rule whose substring occurs in the normalized status
// wins.
type Classifier[B comparable] struct {
	rules []Rule[B]
}

// NewClassifier builds a Classifier; rule substrings are normalized the same
// way statuses are.
func NewClassifier[B comparable](rules ...Rule[B]) *Classifier[B] {
	out := make([]Rule[B], 0, len(rules))
	for _, r := range rules {
		r.Contains = NormalizeStatus(r.Contains)
		if r.Contains == "" {
			continue
		}
		out = append(out, r)
	}
	return &Classifier[B]{rules: out}
}

// Classify returns the bucket of status, or ok=false when no rule matches.
func (c *Classifier[B]) Classify(status string) (bucket B, ok bool) {
	s := NormalizeStatus(status)
	if s == "" {
		return bucket, false
	}
	for _, r := range c.rules {
		if strings.Contains(s, r.Contains) {
			return r.Bucket, true
		}
	}
	return bucket, false
}

// NormalizeStatus trims, lower-cases and NFC-composes status text so that
// decomposed Vietnamese diacritics compare equal to precomposed ones.
func NormalizeStatus(s string) string {
	return strings.ToLower(strings.TrimSpace(norm.NFC.String(s)))
}

// SaleBucket is a message-status bucket of the sale report.
type SaleBucket int

// Sale buckets.
const (
	SaleDemand SaleBucket = iota
	SaleDuplicate
	SaleJunk
	SaleNoInteraction
	SaleHotClose
	SaleOldClose
	SaleCancelled
)

// SaleRules is the priority order of sale status labels.
var SaleRules = []Rule[SaleBucket]{
	{Contains: "nhu cầu", Bucket: SaleDemand},
	{Contains: "trùng", Bucket: SaleDuplicate},
	{Contains: "rác", Bucket: SaleJunk},
	{Contains: "không tương tác", Bucket: SaleNoInteraction},
	{Contains: "chốt nóng", Bucket: SaleHotClose},
	{Contains: "chốt cũ", Bucket: SaleOldClose},
	{Contains: "đơn hủy", Bucket: SaleCancelled},
	{Contains: "đơn huỷ", Bucket: SaleCancelled},
}

// AppointmentBucket is a completion bucket of the staff report.
type AppointmentBucket int

// Appointment buckets.
const (
	AppointmentLateDone AppointmentBucket = iota
	AppointmentDone
	AppointmentOverdue
)

// AppointmentRules is the priority order of appointment status labels.
// Late completion must precede plain completion.
var AppointmentRules = []Rule[AppointmentBucket]{
	{Contains: "hoàn thành muộn", Bucket: AppointmentLateDone},
	{Contains: "hoàn thành trễ", Bucket: AppointmentLateDone},
	{Contains: "hoàn thành", Bucket: AppointmentDone},
	{Contains: "quá hạn", Bucket: AppointmentOverdue},
}
