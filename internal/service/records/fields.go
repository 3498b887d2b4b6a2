package records

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Field names of the workspace tables.
const (
	FieldCreatedAt   = "Ngày tạo"
	FieldPhone       = "Điện thoại"
	FieldCustomer    = "Khách Hàng"
	FieldStatus      = "Trạng Thái"
	FieldTask        = "Công Việc"
	FieldStart       = "Ngày Bắt Đầu"
	FieldEnd         = "Ngày Kết Thúc"
	FieldNoteContent = "Nội dung"
	FieldNoteDate    = "Ngày"
	FieldSaleStatus  = "Trạng thái mess"
)

// Text flattens a cell value to display text. Objects yield their name,
// text or value entry (in that order); arrays are joined with ", ".
func Text(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case map[string]any:
		for _, k := range []string{"name", "text", "value"} {
			if inner, ok := x[k]; ok && inner != nil {
				return Text(inner)
			}
		}
		return ""
	case []any:
		parts := make([]string, 0, len(x))
		for _, it := range x {
			if s := Text(it); strings.TrimSpace(s) != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ", ")
	default:
		return fmt.Sprint(x)
	}
}

// FirstText returns the text of the first element of an array cell, or the
// text of a scalar cell.
func FirstText(v any) string {
	if list, ok := v.([]any); ok {
		if len(list) == 0 {
			return ""
		}
		return Text(list[0])
	}
	return Text(v)
}

// LinkedRecordIDs returns the record IDs referenced by a link cell.
func LinkedRecordIDs(v any) []string {
	var raw []any
	switch x := v.(type) {
	case map[string]any:
		raw, _ = x["link_record_ids"].([]any)
	case []any:
		for _, it := range x {
			if m, ok := it.(map[string]any); ok {
				if ids, ok := m["record_ids"].([]any); ok {
					raw = append(raw, ids...)
				}
			}
		}
	}

	out := make([]string, 0, len(raw))
	for _, id := range raw {
		if s, ok := id.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

var dateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"02/01/2006",
	"2006-01-02 15:04:05",
	"2006/01/02 15:04:05",
}

// FormatDate renders a date cell as dd/mm/yyyy in loc. Cells hold either a
// millisecond timestamp or a date string; unparseable strings are returned
// unchanged and empty cells render as "-".
func FormatDate(v any, loc *time.Location) string {
	s := FirstText(v)
	if strings.TrimSpace(s) == "" || s == "-" {
		return "-"
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms).In(loc).Format("02/01/2006")
	}
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t.Format("02/01/2006")
		}
	}
	return s
}
