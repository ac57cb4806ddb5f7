package model

import (
	"bytes"
	"encoding/json"
	"strconv"

	"github.com/rotisserie/eris"
)

// ValueKind tags the variant held by a Value.
type ValueKind uint8

const (
	KindNone ValueKind = iota
	KindNumber
	KindText
	KindBool
)

// Value is the old/new payload of an override. It holds exactly one of a
// number, a string or a bool; the zero Value holds nothing and encodes as null.
type Value struct {
	kind ValueKind
	num  float64
	text string
	flag bool
}

// Number builds a numeric Value.
func Number(f float64) Value { return Value{kind: KindNumber, num: f} }

// Text builds a string Value.
func Text(s string) Value { return Value{kind: KindText, text: s} }

// Bool builds a boolean Value.
func Bool(b bool) Value { return Value{kind: KindBool, flag: b} }

// Kind returns the variant tag.
func (v Value) Kind() ValueKind { return v.kind }

// IsZero reports whether v holds nothing.
func (v Value) IsZero() bool { return v.kind == KindNone }

// AsNumber returns the number and true when v is numeric.
func (v Value) AsNumber() (float64, bool) {
	return v.num, v.kind == KindNumber
}

// AsText returns the string and true when v is text.
func (v Value) AsText() (string, bool) {
	return v.text, v.kind == KindText
}

// AsBool returns the bool and true when v is a bool.
func (v Value) AsBool() (bool, bool) {
	return v.flag, v.kind == KindBool
}

// Equal compares kind and payload.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNumber:
		return v.num == o.num
	case KindText:
		return v.text == o.text
	case KindBool:
		return v.flag == o.flag
	}
	return true
}

func (v Value) String() string {
	switch v.kind {
	case KindNumber:
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	case KindText:
		return v.text
	case KindBool:
		return strconv.FormatBool(v.flag)
	}
	return "<none>"
}

// NumericDelta returns new-old when both values are numbers.
func NumericDelta(oldV, newV Value) (float64, bool) {
	o, ok1 := oldV.AsNumber()
	n, ok2 := newV.AsNumber()
	if !ok1 || !ok2 {
		return 0, false
	}
	return n - o, true
}

// ParseValue interprets CLI input: numbers and true/false become typed
// values, anything else is text.
func ParseValue(s string) Value {
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return Number(f)
	}
	if b, err := strconv.ParseBool(s); err == nil && (s == "true" || s == "false") {
		return Bool(b)
	}
	return Text(s)
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNumber:
		return json.Marshal(v.num)
	case KindText:
		return json.Marshal(v.text)
	case KindBool:
		return json.Marshal(v.flag)
	}
	return []byte("null"), nil
}

func (v *Value) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*v = Value{}
		return nil
	}
	switch b[0] {
	case '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return eris.Wrap(err, "value: decode text")
		}
		*v = Text(s)
	case 't', 'f':
		var f bool
		if err := json.Unmarshal(b, &f); err != nil {
			return eris.Wrap(err, "value: decode bool")
		}
		*v = Bool(f)
	default:
		var n float64
		if err := json.Unmarshal(b, &n); err != nil {
			return eris.Wrapf(ErrValidation, "value: unsupported JSON value %s", string(b))
		}
		*v = Number(n)
	}
	return nil
}
