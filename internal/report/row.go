package report

import (
	"strings"

	"github.com/Checker-Finance/mbb-usage-report/internal/nextpertise"
	"github.com/Checker-Finance/mbb-usage-report/pkg/model"
)

// Header is the fixed column order of the report.
var Header = []string{"uuid", "nid", "imsi", "iccid", "tags", "usage_in_bytes", "i18n_usage", "sms_usage"}

// NewRow joins a connection with its usage.
func NewRow(conn nextpertise.Connection, usage *nextpertise.Usage) model.UsageRow {
	row := model.UsageRow{
		UUID:  conn.UUID,
		NID:   conn.Carrier.NID,
		IMSI:  conn.Carrier.IMSI,
		ICCID: conn.Carrier.SIM.ICCID,
		Tags:  conn.Carrier.Tags,
	}
	if usage != nil {
		row.UsageInBytes = usage.UsageInBytes
		row.I18nUsage = usage.I18nUsage
		row.SMSUsage = usage.SMSUsage
	}
	return row
}

func rowFields(row model.UsageRow) []field {
	return []field{
		textField(row.UUID),
		textField(row.NID),
		textField(row.IMSI),
		textField(row.ICCID),
		textField(FormatTags(row.Tags)),
		valueField(row.UsageInBytes),
		valueField(row.I18nUsage),
		valueField(row.SMSUsage),
	}
}

func headerFields() []field {
	fields := make([]field, len(Header))
	for i, h := range Header {
		fields[i] = textField(h)
	}
	return fields
}

// FormatTags renders tags as a list literal, e.g. ['x', 'y'].
// A nil list renders as an empty string.
func FormatTags(tags []string) string {
	if tags == nil {
		return ""
	}
	var b strings.Builder
	b.WriteByte('[')
	for i, t := range tags {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(quoteTag(t))
	}
	b.WriteByte(']')
	return b.String()
}

// quoteTag quotes a string literal: single quotes unless the value contains a single
// quote and no double quote, backslashes and the chosen quote escaped.
func quoteTag(s string) string {
	q := "'"
	if strings.Contains(s, "'") && !strings.Contains(s, `"`) {
		q = `"`
	}
	var b strings.Builder
	b.WriteString(q)
	for _, r := range s {
		switch {
		case r == '\\':
			b.WriteString(`\\`)
		case string(r) == q:
			b.WriteString(`\` + q)
		case r == '\n':
			b.WriteString(`\n`)
		case r == '\r':
			b.WriteString(`\r`)
		case r == '\t':
			b.WriteString(`\t`)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteString(q)
	return b.String()
}
