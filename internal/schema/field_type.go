package schema

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// FieldType is the declared storage type of a field.
type FieldType int

const (
	TypeString FieldType = iota + 1
	TypeNumber
	TypeBoolean
	TypeDate
)

// Coercer converts a raw input value to the Go representation of a field type.
//
// Representations: String -> string, Number -> float64, Boolean -> bool,
// Date -> time.Time (UTC).
type Coercer func(v any) (any, error)

// ParseFieldType parses a type name as written in schema files.
func ParseFieldType(s string) (FieldType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "string", "text":
		return TypeString, nil
	case "number", "int", "float":
		return TypeNumber, nil
	case "boolean", "bool":
		return TypeBoolean, nil
	case "date", "datetime":
		return TypeDate, nil
	default:
		return 0, fmt.Errorf("unknown field type %q", s)
	}
}

// String returns the schema-file name of the type.
func (t FieldType) String() string {
	switch t {
	case TypeString:
		return "string"
	case TypeNumber:
		return "number"
	case TypeBoolean:
		return "boolean"
	case TypeDate:
		return "date"
	default:
		return fmt.Sprintf("FieldType(%d)", int(t))
	}
}

// Valid reports whether t is one of the declared variants.
func (t FieldType) Valid() bool {
	return t >= TypeString && t <= TypeDate
}

// MarshalJSON encodes the type by name.
func (t FieldType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON decodes a type name.
func (t *FieldType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseFieldType(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Coercer returns the coercion function for the type.
// Returns nil for an invalid type.
func (t FieldType) Coercer() Coercer {
	switch t {
	case TypeString:
		return coerceString
	case TypeNumber:
		return coerceNumber
	case TypeBoolean:
		return coerceBoolean
	case TypeDate:
		return coerceDate
	default:
		return nil
	}
}

// DateLayouts are the accepted textual date formats, tried in order.
var DateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func coerceString(v any) (any, error) {
	switch val := v.(type) {
	case string:
		return norm.NFC.String(val), nil
	case json.Number:
		return val.String(), nil
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), nil
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32), nil
	case int:
		return strconv.Itoa(val), nil
	case int64:
		return strconv.FormatInt(val, 10), nil
	case bool:
		return strconv.FormatBool(val), nil
	case time.Time:
		return val.UTC().Format(time.RFC3339), nil
	default:
		return nil, fmt.Errorf("cannot convert %T to string", v)
	}
}

func coerceNumber(v any) (any, error) {
	var f float64
	switch val := v.(type) {
	case float64:
		f = val
	case float32:
		f = float64(val)
	case int:
		f = float64(val)
	case int64:
		f = float64(val)
	case int32:
		f = float64(val)
	case uint64:
		f = float64(val)
	case json.Number:
		parsed, err := val.Float64()
		if err != nil {
			return nil, fmt.Errorf("invalid number %q", val.String())
		}
		f = parsed
	case string:
		s := strings.TrimSpace(val)
		if s == "" {
			return nil, fmt.Errorf("empty string is not a number")
		}
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q", val)
		}
		f = parsed
	default:
		return nil, fmt.Errorf("cannot convert %T to number", v)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, fmt.Errorf("number out of range: %v", f)
	}
	return f, nil
}

func coerceBoolean(v any) (any, error) {
	switch val := v.(type) {
	case bool:
		return val, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "true", "1", "yes", "y", "on":
			return true, nil
		case "false", "0", "no", "n", "off":
			return false, nil
		}
		return nil, fmt.Errorf("invalid boolean %q", val)
	case float64:
		return numberToBool(val)
	case int:
		return numberToBool(float64(val))
	case int64:
		return numberToBool(float64(val))
	case json.Number:
		f, err := val.Float64()
		if err != nil {
			return nil, fmt.Errorf("invalid boolean %q", val.String())
		}
		return numberToBool(f)
	default:
		return nil, fmt.Errorf("cannot convert %T to boolean", v)
	}
}

func numberToBool(f float64) (any, error) {
	switch f {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return nil, fmt.Errorf("invalid boolean %v", f)
	}
}

func coerceDate(v any) (any, error) {
	switch val := v.(type) {
	case time.Time:
		return val.UTC(), nil
	case string:
		s := strings.TrimSpace(val)
		for _, layout := range DateLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UTC(), nil
			}
		}
		return nil, fmt.Errorf("invalid date %q", val)
	case float64:
		return time.UnixMilli(int64(val)).UTC(), nil
	case int64:
		return time.UnixMilli(val).UTC(), nil
	case int:
		return time.UnixMilli(int64(val)).UTC(), nil
	case json.Number:
		ms, err := val.Int64()
		if err != nil {
			return nil, fmt.Errorf("invalid date %q", val.String())
		}
		return time.UnixMilli(ms).UTC(), nil
	default:
		return nil, fmt.Errorf("cannot convert %T to date", v)
	}
}
