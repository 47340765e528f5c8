package meta

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Type names the text encoding of a meta value.
type Type string

const (
	TypeString Type = "string"
	TypeInt    Type = "int"
	TypeBool   Type = "bool"
	TypeList   Type = "list"
	TypeJSON   Type = "json"
)

// ParseType validates a type name.
func ParseType(s string) (Type, error) {
	switch t := Type(s); t {
	case TypeString, TypeInt, TypeBool, TypeList, TypeJSON:
		return t, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidType, s)
}

// Encode serializes value for storage as t. Booleans are stored as the
// literals "true"/"false"; lists and json values as JSON text.
func Encode(value any, t Type) (string, error) {
	switch t {
	case TypeString:
		if s, ok := value.(string); ok {
			return s, nil
		}
		return fmt.Sprint(value), nil
	case TypeInt:
		n, err := toInt(value)
		if err != nil {
			return "", err
		}
		return strconv.FormatInt(n, 10), nil
	case TypeBool:
		b, err := toBool(value)
		if err != nil {
			return "", err
		}
		return strconv.FormatBool(b), nil
	case TypeList:
		if value != nil {
			if _, ok := value.([]any); !ok {
				if _, ok := value.([]string); !ok {
					return "", fmt.Errorf("meta: value must be a list, got %T", value)
				}
			}
		}
		fallthrough
	case TypeJSON:
		b, err := json.Marshal(value)
		if err != nil {
			return "", fmt.Errorf("meta: encode json: %w", err)
		}
		return string(b), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidType, t)
}

// Decode parses raw according to t. An empty list/json value decodes to nil.
func Decode(raw string, t Type) (any, error) {
	switch t {
	case TypeString:
		return raw, nil
	case TypeInt:
		n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("meta: decode int: %w", err)
		}
		return n, nil
	case TypeBool:
		return truthy(raw), nil
	case TypeList, TypeJSON:
		if raw == "" {
			return nil, nil
		}
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return nil, fmt.Errorf("meta: decode json: %w", err)
		}
		return v, nil
	}
	return raw, nil
}

func truthy(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "yes", "y":
		return true
	}
	return false
}

func toBool(value any) (bool, error) {
	switch v := value.(type) {
	case bool:
		return v, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "1", "yes", "y":
			return true, nil
		case "false", "0", "no", "n":
			return false, nil
		}
	case float64:
		if v == 1 || v == 0 {
			return v == 1, nil
		}
	case int:
		if v == 1 || v == 0 {
			return v == 1, nil
		}
	}
	return false, fmt.Errorf("meta: value must be a boolean, got %v", value)
}

func toInt(value any) (int64, error) {
	switch v := value.(type) {
	case int:
		return int64(v), nil
	case int64:
		return v, nil
	case int32:
		return int64(v), nil
	case float64:
		if v != math.Trunc(v) {
			return 0, fmt.Errorf("meta: value must be an integer, got %v", v)
		}
		return int64(v), nil
	case json.Number:
		return v.Int64()
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("meta: value must be an integer: %w", err)
		}
		return n, nil
	}
	return 0, fmt.Errorf("meta: value must be an integer, got %T", value)
}
