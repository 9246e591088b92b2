package rovas

import (
	"bytes"
	"encoding/json"
	"math"
	"regexp"
	"strconv"
)

// ValueKind tags the JSON type of a response field.
type ValueKind int

const (
	KindOther ValueKind = iota
	KindNumber
	KindString
)

func (k ValueKind) String() string {
	switch k {
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	default:
		return "other"
	}
}

// Value is a response field as returned by the server. The API returns ids and result
// codes either as JSON numbers or as numeric strings.
type Value struct {
	Kind ValueKind
	raw  string
}

// NumberValue builds a number value from its JSON text.
func NumberValue(text string) Value { return Value{Kind: KindNumber, raw: text} }

// StringValue builds a string value.
func StringValue(s string) Value { return Value{Kind: KindString, raw: s} }

var integerPattern = regexp.MustCompile(`^-?[0-9]+$`)

// ParseValue classifies a raw JSON field. A missing field (nil) is KindOther.
func ParseValue(raw json.RawMessage) Value {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return Value{Kind: KindOther}
	}

	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return Value{Kind: KindOther, raw: string(trimmed)}
		}
		return StringValue(s)
	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		var n json.Number
		if err := json.Unmarshal(trimmed, &n); err != nil {
			return Value{Kind: KindOther, raw: string(trimmed)}
		}
		return NumberValue(n.String())
	default:
		return Value{Kind: KindOther, raw: string(trimmed)}
	}
}

// Int converts the value to an integer. Numbers yield their integral part; strings must
// be a plain optionally negative decimal integer. Everything else fails.
func (v Value) Int() (int64, bool) {
	switch v.Kind {
	case KindNumber:
		if n, err := strconv.ParseInt(v.raw, 10, 64); err == nil {
			return n, true
		}
		f, err := strconv.ParseFloat(v.raw, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		f = math.Trunc(f)
		if f < math.MinInt64 || f >= math.MaxInt64 {
			return 0, false
		}
		return int64(f), true
	case KindString:
		if !integerPattern.MatchString(v.raw) {
			return 0, false
		}
		n, err := strconv.ParseInt(v.raw, 10, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

func (v Value) String() string {
	return v.Kind.String() + "(" + v.raw + ")"
}
