package domain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Kind identifies which arm of Value is populated.
type Kind uint8

const (
	// KindUnresolved is a string no parsing stage has classified yet.
	KindUnresolved Kind = iota
	// KindNull is an explicit "no data" value.
	KindNull
	// KindText is a constant code or a verbatim localized name.
	KindText
	// KindDecimal is an exact decimal number.
	KindDecimal
	// KindTime is a UTC timestamp.
	KindTime
)

func (k Kind) String() string {
	switch k {
	case KindUnresolved:
		return "unresolved"
	case KindNull:
		return "null"
	case KindText:
		return "text"
	case KindDecimal:
		return "decimal"
	case KindTime:
		return "time"
	default:
		return "unknown"
	}
}

// Value is a single field slot: either Resolved to a typed value or still
// Unresolved and carrying the original string. Every Value remembers the raw
// text it was parsed from, so callers can key on source text even after a
// constant lookup rewrote it.
type Value struct {
	kind Kind
	raw  string
	text string
	dec  decimal.Decimal
	at   time.Time
}

// Unresolved tags raw as not yet classified.
func Unresolved(raw string) Value {
	return Value{kind: KindUnresolved, raw: raw}
}

// Null returns the explicit "no data" value.
func Null() Value {
	return Value{kind: KindNull}
}

// Text resolves to a string.
func Text(s string) Value {
	return Value{kind: KindText, raw: s, text: s}
}

// Decimal resolves to an exact decimal.
func Decimal(d decimal.Decimal) Value {
	return Value{kind: KindDecimal, raw: d.String(), dec: d}
}

// Timestamp resolves to a time, normalized to UTC.
func Timestamp(t time.Time) Value {
	t = t.UTC()
	return Value{kind: KindTime, raw: t.Format(time.DateTime), at: t}
}

// NullableDecimal maps an invalid NullDecimal to Null.
func NullableDecimal(d decimal.NullDecimal) Value {
	if !d.Valid {
		return Null()
	}
	return Decimal(d.Decimal)
}

// WithRaw returns a copy of v remembering raw as its source text.
func (v Value) WithRaw(raw string) Value {
	v.raw = raw
	return v
}

func (v Value) Kind() Kind { return v.kind }

// Resolved reports whether a parsing stage has classified the value.
func (v Value) Resolved() bool { return v.kind != KindUnresolved }

func (v Value) IsNull() bool { return v.kind == KindNull }

// Raw is the original source text.
func (v Value) Raw() string { return v.raw }

// AsText returns the resolved string.
func (v Value) AsText() (string, bool) {
	return v.text, v.kind == KindText
}

// AsDecimal returns the resolved decimal.
func (v Value) AsDecimal() (decimal.Decimal, bool) {
	return v.dec, v.kind == KindDecimal
}

// AsTime returns the resolved timestamp.
func (v Value) AsTime() (time.Time, bool) {
	return v.at, v.kind == KindTime
}

// NullDecimal returns the value as a nullable decimal. Anything other than a
// resolved decimal is treated as missing.
func (v Value) NullDecimal() decimal.NullDecimal {
	if v.kind != KindDecimal {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: v.dec, Valid: true}
}

// Equal reports whether two values hold the same arm and payload. Raw text
// is not compared for resolved values.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindUnresolved:
		return v.raw == o.raw
	case KindText:
		return v.text == o.text
	case KindDecimal:
		return v.dec.Equal(o.dec)
	case KindTime:
		return v.at.Equal(o.at)
	default:
		return true
	}
}

func (v Value) String() string {
	switch v.kind {
	case KindText:
		return v.text
	case KindDecimal:
		return v.dec.String()
	case KindTime:
		return v.at.Format(time.RFC3339)
	case KindNull:
		return ""
	default:
		return v.raw
	}
}

// MarshalJSON renders resolved values as plain JSON and unresolved values as
// {"unresolved": raw}.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNull:
		return []byte("null"), nil
	case KindText:
		return json.Marshal(v.text)
	case KindDecimal:
		return json.Marshal(v.dec)
	case KindTime:
		return json.Marshal(v.at)
	default:
		return json.Marshal(map[string]string{"unresolved": v.raw})
	}
}
