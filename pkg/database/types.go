package database

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
)

// textOf normalizes a scanned column value to bytes. ok is false for NULL.
func textOf(value interface{}) (data []byte, ok bool, err error) {
	switch v := value.(type) {
	case nil:
		return nil, false, nil
	case []byte:
		return v, len(v) > 0, nil
	case string:
		return []byte(v), v != "", nil
	default:
		return nil, false, fmt.Errorf("unsupported scan type %T", value)
	}
}

// StringArray is a list of strings stored as JSON text. It also reads the
// PostgreSQL array literal ({a,"b c"}) used by tables owned by other services.
type StringArray []string

func (a *StringArray) Scan(value interface{}) error {
	data, ok, err := textOf(value)
	if err != nil {
		return fmt.Errorf("StringArray: %w", err)
	}
	if !ok {
		*a = nil
		return nil
	}

	switch s := string(data); {
	case strings.HasPrefix(s, "["):
		return json.Unmarshal(data, a)
	case strings.HasPrefix(s, "{") && strings.HasSuffix(s, "}"):
		*a = splitArrayLiteral(s[1 : len(s)-1])
		return nil
	default:
		*a = StringArray{s}
		return nil
	}
}

// splitArrayLiteral splits the body of a PostgreSQL array literal. Quoted
// elements may contain commas and backslash escapes.
func splitArrayLiteral(body string) []string {
	out := []string{}
	if body == "" {
		return out
	}

	var (
		elem    strings.Builder
		quoted  bool
		escaped bool
	)
	for _, r := range body {
		switch {
		case escaped:
			elem.WriteRune(r)
			escaped = false
		case r == '\\':
			escaped = true
		case r == '"':
			quoted = !quoted
		case r == ',' && !quoted:
			out = append(out, elem.String())
			elem.Reset()
		default:
			elem.WriteRune(r)
		}
	}
	return append(out, elem.String())
}

func (a StringArray) Value() (driver.Value, error) {
	if a == nil {
		return nil, nil
	}
	data, err := json.Marshal([]string(a))
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func (StringArray) GormDataType() string {
	return "text"
}

// JSON stores an arbitrary value as a JSON text column.
type JSON[T any] struct {
	Data T
}

// NewJSON wraps v for storage.
func NewJSON[T any](v T) JSON[T] {
	return JSON[T]{Data: v}
}

func (j *JSON[T]) Scan(value interface{}) error {
	var zero T
	j.Data = zero

	data, ok, err := textOf(value)
	if err != nil {
		return fmt.Errorf("JSON: %w", err)
	}
	if !ok {
		return nil
	}
	return json.Unmarshal(data, &j.Data)
}

func (j JSON[T]) Value() (driver.Value, error) {
	data, err := json.Marshal(j.Data)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func (JSON[T]) GormDataType() string {
	return "text"
}
