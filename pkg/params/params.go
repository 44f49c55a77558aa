// Package params implements the open parameter map carried by routing actions
// and match conditions.
//
// A Params value only ever holds JSON-compatible values: strings, booleans,
// float64 numbers, nil, []any and nested Params. Integers a float64 cannot
// hold exactly are kept as json.Number. Decoders produce richer types (TOML
// yields int64 and time values, YAML yields map[string]interface{} and int),
// so every value entering the package goes through Normalize first.
//
// Canonical returns the compact JSON encoding with object keys sorted, which
// is the dedup and ordering key used throughout the reconciliation code.
package params

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"reflect"
	"slices"
	"strconv"
	"strings"
	"time"
)

// ErrUnsupportedValue is returned when a value cannot be represented in JSON.
var ErrUnsupportedValue = errors.New("unsupported parameter value")

// Params is an open, JSON-compatible parameter map.
type Params map[string]any

// New normalizes the given map into Params.
func New(m map[string]any) (Params, error) {
	if m == nil {
		return Params{}, nil
	}
	v, err := Normalize(m)
	if err != nil {
		return nil, err
	}
	return v.(Params), nil
}

// MustNew is like New but panics on unsupported values. Intended for literals.
func MustNew(m map[string]any) Params {
	p, err := New(m)
	if err != nil {
		panic(err)
	}
	return p
}

// Normalize converts decoder-specific values into the JSON value space.
func Normalize(v any) (any, error) {
	switch t := v.(type) {
	case nil, string, bool, float64:
		return t, nil
	case int:
		return normalizeInt(int64(t)), nil
	case int8:
		return float64(t), nil
	case int16:
		return float64(t), nil
	case int32:
		return float64(t), nil
	case int64:
		return normalizeInt(t), nil
	case uint:
		return normalizeUint(uint64(t)), nil
	case uint8:
		return float64(t), nil
	case uint16:
		return float64(t), nil
	case uint32:
		return float64(t), nil
	case uint64:
		return normalizeUint(t), nil
	case float32:
		return float64(t), nil
	case json.Number:
		return normalizeNumber(t)
	case time.Time:
		return t.Format(time.RFC3339Nano), nil
	case Params:
		return normalizeMap(t)
	case map[string]any:
		return normalizeMap(t)
	case []any:
		return normalizeSlice(t)
	case []string:
		out := make([]any, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out, nil
	case []map[string]any:
		out := make([]any, len(t))
		for i, m := range t {
			n, err := normalizeMap(m)
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	}

	// yaml.v3 may hand back map[any]any for non-string keys
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map:
		m := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			k, ok := iter.Key().Interface().(string)
			if !ok {
				return nil, fmt.Errorf("%w: non-string key %v", ErrUnsupportedValue, iter.Key().Interface())
			}
			m[k] = iter.Value().Interface()
		}
		return normalizeMap(m)
	case reflect.Slice, reflect.Array:
		s := make([]any, rv.Len())
		for i := range s {
			s[i] = rv.Index(i).Interface()
		}
		return normalizeSlice(s)
	}

	return nil, fmt.Errorf("%w: %T", ErrUnsupportedValue, v)
}

// maxExactInt is the largest magnitude a float64 holds without rounding.
const maxExactInt = 1 << 53

// normalizeInt keeps integers a float64 cannot hold exactly as json.Number
// so they survive a JSON round trip.
func normalizeInt(n int64) any {
	if n >= -maxExactInt && n <= maxExactInt {
		return float64(n)
	}
	return json.Number(strconv.FormatInt(n, 10))
}

func normalizeUint(n uint64) any {
	if n <= maxExactInt {
		return float64(n)
	}
	return json.Number(strconv.FormatUint(n, 10))
}

func normalizeNumber(n json.Number) (any, error) {
	if i, err := n.Int64(); err == nil {
		return normalizeInt(i), nil
	}
	if u, err := strconv.ParseUint(n.String(), 10, 64); err == nil {
		return normalizeUint(u), nil
	}
	f, err := n.Float64()
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedValue, n.String())
	}
	if !strings.ContainsAny(n.String(), ".eE") {
		// Integer literal wider than 64 bits.
		return n, nil
	}
	return f, nil
}

func normalizeMap(m map[string]any) (Params, error) {
	out := make(Params, len(m))
	for k, v := range m {
		n, err := Normalize(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", k, err)
		}
		out[k] = n
	}
	return out, nil
}

func normalizeSlice(s []any) ([]any, error) {
	out := make([]any, len(s))
	for i, v := range s {
		n, err := Normalize(v)
		if err != nil {
			return nil, fmt.Errorf("[%d]: %w", i, err)
		}
		out[i] = n
	}
	return out, nil
}

// Canonical returns the compact JSON encoding of p with sorted keys.
// A nil or empty map encodes as "{}".
func (p Params) Canonical() string {
	if len(p) == 0 {
		return "{}"
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(map[string]any(p)); err != nil {
		// Normalized params always encode; this only triggers for values
		// inserted without normalization (NaN and the like).
		return fmt.Sprintf("%v", map[string]any(p))
	}
	return string(bytes.TrimRight(buf.Bytes(), "\n"))
}

// Equal reports whether p and o have the same canonical form.
func (p Params) Equal(o Params) bool {
	return p.Canonical() == o.Canonical()
}

// Compare orders params by canonical form.
func (p Params) Compare(o Params) int {
	a, b := p.Canonical(), o.Canonical()
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// Clone returns a deep copy of p.
func (p Params) Clone() Params {
	if p == nil {
		return nil
	}
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case Params:
		return t.Clone()
	case map[string]any:
		return Params(t).Clone()
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	}
	return v
}

// With returns a copy of p with key set to the normalized value. p is
// left untouched and the error is ErrUnsupportedValue when value cannot be
// normalized.
func (p Params) With(key string, value any) (Params, error) {
	n, err := Normalize(value)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", key, err)
	}
	out := p.WithString(key, "")
	out[key] = n
	return out, nil
}

// WithString returns a copy of p with key set to s.
func (p Params) WithString(key, s string) Params {
	out := p.Clone()
	if out == nil {
		out = Params{}
	}
	out[key] = s
	return out
}

// Without returns a copy of p without the given keys.
func (p Params) Without(keys ...string) Params {
	out := p.Clone()
	for _, k := range keys {
		delete(out, k)
	}
	return out
}

// String returns the string value stored under key.
func (p Params) String(key string) (string, bool) {
	s, ok := p[key].(string)
	return s, ok
}

// Map returns the nested params stored under key.
func (p Params) Map(key string) (Params, bool) {
	switch t := p[key].(type) {
	case Params:
		return t, true
	case map[string]any:
		return Params(t), true
	}
	return nil, false
}

// Keys returns the sorted keys of p.
func (p Params) Keys() []string {
	return slices.Sorted(maps.Keys(p))
}

// MarshalJSON encodes p as a JSON object, never null.
func (p Params) MarshalJSON() ([]byte, error) {
	if p == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(map[string]any(p))
}

// UnmarshalJSON decodes a JSON object into p. Numbers are decoded as
// json.Number first so large integers keep every digit.
func (p *Params) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return err
	}
	n, err := New(m)
	if err != nil {
		return err
	}
	*p = n
	return nil
}
