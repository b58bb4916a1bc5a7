package model

import (
	"strconv"

	"github.com/shopspring/decimal"
)

// ValueKind is the JSON type a usage figure arrived as.
type ValueKind int

const (
	ValueNull ValueKind = iota
	ValueNumber
	ValueBool
	ValueText
)

// UsageValue is one usage figure as the API returned it. Raw holds the JSON number
// text for numbers, the string contents for text and "true"/"false" for booleans.
type UsageValue struct {
	Kind ValueKind `json:"kind"`
	Raw  string    `json:"raw,omitempty"`
}

func NumberValue(raw string) UsageValue { return UsageValue{Kind: ValueNumber, Raw: raw} }

func TextValue(s string) UsageValue { return UsageValue{Kind: ValueText, Raw: s} }

func BoolValue(b bool) UsageValue {
	return UsageValue{Kind: ValueBool, Raw: strconv.FormatBool(b)}
}

// IsNull reports whether the API sent null (or nothing was recorded).
func (v UsageValue) IsNull() bool { return v.Kind == ValueNull }

// Decimal returns the figure as a decimal. Only numbers are valid; text, booleans
// and null yield an invalid NullDecimal.
func (v UsageValue) Decimal() decimal.NullDecimal {
	if v.Kind != ValueNumber {
		return decimal.NullDecimal{}
	}
	d, err := decimal.NewFromString(v.Raw)
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: d, Valid: true}
}
