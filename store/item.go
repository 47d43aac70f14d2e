package store

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"time"
)

// timeLayout keeps a fixed number of fractional digits so that the lexical
// order of stored timestamps matches their chronological order.
const timeLayout = "2006-01-02T15:04:05.0000000Z"

// FormatTime renders t in UTC with the sortable layout used by every store.
func FormatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// ParseTime parses a timestamp written by FormatTime (or any RFC 3339 value).
func ParseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// Item is a schemaless record. Values are strings, int64 or bool.
type Item map[string]any

// Key returns the primary key of the item.
func (i Item) Key() Key {
	return Key{PK: i.String(AttrPK), SK: i.String(AttrSK)}
}

// String returns the attribute as a string, or "" when absent.
func (i Item) String(attr string) string {
	switch v := i[attr].(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

// Int returns the attribute as an int64, or 0 when absent.
func (i Item) Int(attr string) int64 {
	if n, ok := numeric(i[attr]); ok {
		return n
	}
	if s, ok := i[attr].(string); ok {
		n, _ := strconv.ParseInt(s, 10, 64)
		return n
	}
	return 0
}

// Bool returns the attribute as a bool, or false when absent.
func (i Item) Bool(attr string) bool {
	switch v := i[attr].(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(v)
		return b
	default:
		return false
	}
}

// Time parses the attribute as a timestamp. The boolean is false when the
// attribute is absent or empty.
func (i Item) Time(attr string) (time.Time, bool, error) {
	s := i.String(attr)
	if s == "" {
		return time.Time{}, false, nil
	}
	t, err := ParseTime(s)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("attribute %s: %w", attr, err)
	}
	return t, true, nil
}

// Has reports whether the attribute is present.
func (i Item) Has(attr string) bool {
	_, ok := i[attr]
	return ok
}

// Clone returns a shallow copy of the item.
func (i Item) Clone() Item {
	if i == nil {
		return nil
	}
	c := make(Item, len(i))
	for k, v := range i {
		c[k] = v
	}
	return c
}

// Normalize converts the numeric representations produced by decoders
// (json.Number, float64, int) to int64 so items compare equal regardless of
// the store they were read from.
func Normalize(i Item) Item {
	for k, v := range i {
		if n, ok := numeric(v); ok {
			i[k] = n
		}
	}
	return i
}

// ValuesEqual compares two attribute values after numeric normalization.
func ValuesEqual(a, b any) bool {
	na, aok := numeric(a)
	nb, bok := numeric(b)
	if aok && bok {
		return na == nb
	}
	return reflect.DeepEqual(a, b)
}

func numeric(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case float64:
		if n == math.Trunc(n) {
			return int64(n), true
		}
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, true
		}
	}
	return 0, false
}
