package message

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/c360/resourcebus/errors"
)

// Kind identifies the variant held by a Value.
type Kind uint8

const (
	KindNone Kind = iota
	KindInt
	KindLong
	KindFloat
	KindString
	KindDict
	KindArray
	KindMessage
)

var kindNames = map[Kind]string{
	KindNone:    "none",
	KindInt:     "int",
	KindLong:    "long",
	KindFloat:   "float",
	KindString:  "string",
	KindDict:    "dict",
	KindArray:   "array",
	KindMessage: "message",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", k)
}

// Value is a tagged union carried as a message argument or dictionary entry.
// The zero Value has KindNone.
type Value struct {
	kind Kind
	num  int64
	f    float64
	str  string
	dict Dict
	arr  []Value
	msg  *Message
}

func Int(v int32) Value       { return Value{kind: KindInt, num: int64(v)} }
func Long(v int64) Value      { return Value{kind: KindLong, num: v} }
func Float(v float64) Value   { return Value{kind: KindFloat, f: v} }
func String(v string) Value   { return Value{kind: KindString, str: v} }
func DictValue(d Dict) Value  { return Value{kind: KindDict, dict: d} }
func Array(vs ...Value) Value { return Value{kind: KindArray, arr: vs} }

// Nested wraps a message as a value. The message is not copied.
func Nested(m *Message) Value { return Value{kind: KindMessage, msg: m} }

// Kind returns the variant held by v.
func (v Value) Kind() Kind { return v.kind }

// AsInt returns the value as int32. Long values are truncated.
func (v Value) AsInt() (int32, bool) {
	switch v.kind {
	case KindInt, KindLong:
		// Long values outside the int32 range saturate.
		switch {
		case v.num > math.MaxInt32:
			return math.MaxInt32, true
		case v.num < math.MinInt32:
			return math.MinInt32, true
		}
		return int32(v.num), true
	}
	return 0, false
}

// AsLong returns the value as int64, widening Int values.
func (v Value) AsLong() (int64, bool) {
	switch v.kind {
	case KindInt, KindLong:
		return v.num, true
	}
	return 0, false
}

func (v Value) AsFloat() (float64, bool) {
	if v.kind != KindFloat {
		return 0, false
	}
	return v.f, true
}

func (v Value) AsString() (string, bool) {
	if v.kind != KindString {
		return "", false
	}
	return v.str, true
}

func (v Value) AsDict() (Dict, bool) {
	if v.kind != KindDict {
		return nil, false
	}
	return v.dict, true
}

func (v Value) AsArray() ([]Value, bool) {
	if v.kind != KindArray {
		return nil, false
	}
	return v.arr, true
}

func (v Value) AsMessage() (*Message, bool) {
	if v.kind != KindMessage || v.msg == nil {
		return nil, false
	}
	return v.msg, true
}

// Clone returns a deep copy. Dictionaries, arrays and nested messages
// are copied so the result shares no mutable state with v.
func (v Value) Clone() Value {
	switch v.kind {
	case KindDict:
		v.dict = v.dict.Clone()
	case KindArray:
		if v.arr != nil {
			arr := make([]Value, len(v.arr))
			for i, e := range v.arr {
				arr[i] = e.Clone()
			}
			v.arr = arr
		}
	case KindMessage:
		if v.msg != nil {
			v.msg = v.msg.Clone()
		}
	}
	return v
}

// Equal reports deep equality.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindInt, KindLong:
		return v.num == o.num
	case KindFloat:
		return v.f == o.f
	case KindString:
		return v.str == o.str
	case KindDict:
		return v.dict.Equal(o.dict)
	case KindArray:
		if len(v.arr) != len(o.arr) {
			return false
		}
		for i := range v.arr {
			if !v.arr[i].Equal(o.arr[i]) {
				return false
			}
		}
		return true
	case KindMessage:
		if v.msg == nil || o.msg == nil {
			return v.msg == o.msg
		}
		return v.msg.Equal(o.msg)
	}
	return true
}

type wireValue struct {
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value,omitempty"`
}

// MarshalJSON encodes the value as {"type": kind, "value": payload}.
func (v Value) MarshalJSON() ([]byte, error) {
	var payload any
	switch v.kind {
	case KindNone:
		return json.Marshal(wireValue{Type: v.kind.String()})
	case KindInt, KindLong:
		payload = v.num
	case KindFloat:
		payload = v.f
	case KindString:
		payload = v.str
	case KindDict:
		payload = v.dict
	case KindArray:
		payload = v.arr
	case KindMessage:
		payload = v.msg
	default:
		return nil, errors.WrapInvalid(errors.ErrInvalidData, "Value", "MarshalJSON", v.kind.String())
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireValue{Type: v.kind.String(), Value: raw})
}

// UnmarshalJSON decodes the form produced by MarshalJSON.
func (v *Value) UnmarshalJSON(data []byte) error {
	var w wireValue
	if err := json.Unmarshal(data, &w); err != nil {
		return errors.WrapInvalid(err, "Value", "UnmarshalJSON", "decode envelope")
	}

	var out Value
	var err error
	switch w.Type {
	case "none":
	case "int", "long":
		out.kind = KindLong
		if w.Type == "int" {
			out.kind = KindInt
		}
		err = json.Unmarshal(w.Value, &out.num)
	case "float":
		out.kind = KindFloat
		err = json.Unmarshal(w.Value, &out.f)
	case "string":
		out.kind = KindString
		err = json.Unmarshal(w.Value, &out.str)
	case "dict":
		out.kind = KindDict
		err = json.Unmarshal(w.Value, &out.dict)
	case "array":
		out.kind = KindArray
		err = json.Unmarshal(w.Value, &out.arr)
	case "message":
		out.kind = KindMessage
		out.msg = &Message{}
		err = json.Unmarshal(w.Value, out.msg)
	default:
		return errors.WrapInvalid(errors.ErrInvalidData, "Value", "UnmarshalJSON", "unknown type "+w.Type)
	}
	if err != nil {
		return errors.WrapInvalid(err, "Value", "UnmarshalJSON", "decode "+w.Type)
	}

	*v = out
	return nil
}
