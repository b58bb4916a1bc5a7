package report

import (
	"bufio"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/Checker-Finance/mbb-usage-report/pkg/model"
)

const (
	delimiter = ';'
	quote     = '"'
	lineEnd   = "\r\n"
)

// field is one CSV cell. Text cells are always quoted, numeric cells never are.
type field struct {
	value   string
	numeric bool
}

func textField(s string) field {
	return field{value: s}
}

// valueField renders a usage figure. Numbers and booleans are bare, text is quoted
// and null becomes a quoted empty string.
func valueField(v model.UsageValue) field {
	switch v.Kind {
	case model.ValueNumber:
		return field{value: formatNumber(v.Raw), numeric: true}
	case model.ValueBool:
		if v.Raw == "true" {
			return field{value: "True", numeric: true}
		}
		return field{value: "False", numeric: true}
	case model.ValueText:
		return textField(v.Raw)
	default:
		return field{value: ""}
	}
}

// formatNumber writes a JSON number the way Python prints the int or float it decodes
// to: integers digit for digit, floats in shortest form with a trailing ".0" when
// integral and exponent notation outside 1e-4 <= |x| < 1e16.
func formatNumber(raw string) string {
	if !strings.ContainsAny(raw, ".eE") {
		if raw == "-0" {
			return "0"
		}
		return raw
	}

	f, err := strconv.ParseFloat(raw, 64)
	switch {
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	case err != nil:
		return raw
	}

	if f != 0 {
		sci := strconv.FormatFloat(f, 'e', -1, 64)
		exp, err := strconv.Atoi(sci[strings.IndexByte(sci, 'e')+1:])
		if err == nil && (exp < -4 || exp >= 16) {
			return sci
		}
	}

	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

// csvWriter writes the report dialect: ';' separated, text quoted with '"'
// (embedded quotes doubled), numbers and booleans bare, CRLF line endings.
// encoding/csv only quotes when a field needs it, which this format does not allow.
type csvWriter struct {
	w *bufio.Writer
}

func newCSVWriter(w io.Writer) *csvWriter {
	return &csvWriter{w: bufio.NewWriter(w)}
}

func (c *csvWriter) write(fields ...field) error {
	for i, f := range fields {
		if i > 0 {
			if err := c.w.WriteByte(delimiter); err != nil {
				return err
			}
		}
		if err := c.writeField(f); err != nil {
			return err
		}
	}
	_, err := c.w.WriteString(lineEnd)
	return err
}

func (c *csvWriter) writeField(f field) error {
	if f.numeric {
		_, err := c.w.WriteString(f.value)
		return err
	}
	escaped := strings.ReplaceAll(f.value, string(quote), string(quote)+string(quote))
	if err := c.w.WriteByte(quote); err != nil {
		return err
	}
	if _, err := c.w.WriteString(escaped); err != nil {
		return err
	}
	return c.w.WriteByte(quote)
}

func (c *csvWriter) flush() error {
	return c.w.Flush()
}
