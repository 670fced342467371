package model

import "time"

// ValueKind enumerates the canonical field types.
type ValueKind string

const (
	KindNumber ValueKind = "number"
	KindDate   ValueKind = "date"
	KindText   ValueKind = "text"
	KindBool   ValueKind = "bool"
)

// Value is a typed cell value after coercion. A field with no Value in a
// record's field map is undefined, which is distinct from a zero Value.
type Value struct {
	Kind ValueKind `json:"kind"`
	Num  float64   `json:"num,omitempty"`
	Text string    `json:"text,omitempty"`
	Date time.Time `json:"date,omitempty"`
	Bool bool      `json:"bool,omitempty"`
}

// NumberValue constructs a numeric Value.
func NumberValue(v float64) Value { return Value{Kind: KindNumber, Num: v} }

// DateValue constructs a date Value.
func DateValue(t time.Time) Value { return Value{Kind: KindDate, Date: t} }

// TextValue constructs a text Value.
func TextValue(s string) Value { return Value{Kind: KindText, Text: s} }

// BoolValue constructs a boolean Value.
func BoolValue(b bool) Value { return Value{Kind: KindBool, Bool: b} }
