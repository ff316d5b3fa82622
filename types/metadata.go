package types

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"
)

// DefaultMaxMetadataBytes bounds the encoded size of a row's metadata.
const DefaultMaxMetadataBytes = 8 << 10

// MaxMetadataDepth bounds nesting of objects and arrays inside metadata.
const MaxMetadataDepth = 16

// Metadata validation errors.
var (
	ErrMetadataInvalid      = errors.New("metadata is not a JSON object")
	ErrMetadataTooLarge     = errors.New("metadata exceeds size limit")
	ErrMetadataTooDeep      = errors.New("metadata exceeds nesting limit")
	ErrMetadataForbiddenKey = errors.New("metadata contains a forbidden key")
)

// forbiddenKeys are rejected at any depth; downstream JavaScript consumers
// merge metadata into plain objects.
var forbiddenKeys = map[string]struct{}{
	"__proto__":   {},
	"constructor": {},
	"prototype":   {},
}

// Metadata is an opaque JSON object attached to a ledger row. The ledger
// never interprets it beyond size, depth and key checks, except for the
// settlement records it appends when a hold is captured or reversed.
type Metadata []byte

// NewMetadata encodes v as metadata. A nil v yields empty metadata.
// Values that cannot be encoded, including cyclic structures, are rejected.
func NewMetadata(v any) (Metadata, error) {
	if v == nil {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMetadataInvalid, err)
	}
	if bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	return Metadata(raw), nil
}

// MustMetadata is like NewMetadata but panics on error.
func MustMetadata(v any) Metadata {
	m, err := NewMetadata(v)
	if err != nil {
		panic(err)
	}
	return m
}

// IsZero reports whether no metadata is set.
func (m Metadata) IsZero() bool {
	return len(bytes.TrimSpace(m)) == 0 || bytes.Equal(bytes.TrimSpace(m), []byte("null"))
}

// Validate checks size, shape, depth and keys. maxBytes <= 0 uses
// DefaultMaxMetadataBytes.
func (m Metadata) Validate(maxBytes int) error {
	if m.IsZero() {
		return nil
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxMetadataBytes
	}
	if len(m) > maxBytes {
		return fmt.Errorf("%w: %d bytes > %d", ErrMetadataTooLarge, len(m), maxBytes)
	}

	v, err := decodeValue(m)
	if err != nil {
		return err
	}
	if _, ok := v.(map[string]any); !ok {
		return ErrMetadataInvalid
	}
	return walk(v, 1)
}

func walk(v any, depth int) error {
	if depth > MaxMetadataDepth {
		return fmt.Errorf("%w: depth > %d", ErrMetadataTooDeep, MaxMetadataDepth)
	}
	switch t := v.(type) {
	case map[string]any:
		for k, child := range t {
			if _, bad := forbiddenKeys[k]; bad {
				return fmt.Errorf("%w: %q", ErrMetadataForbiddenKey, k)
			}
			if err := walk(child, depth+1); err != nil {
				return err
			}
		}
	case []any:
		for _, child := range t {
			if err := walk(child, depth+1); err != nil {
				return err
			}
		}
	}
	return nil
}

func decodeValue(raw []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMetadataInvalid, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: trailing data", ErrMetadataInvalid)
	}
	return v, nil
}

// Decode returns the metadata as a map. Empty metadata decodes to an
// empty map. Numbers decode as json.Number.
func (m Metadata) Decode() (map[string]any, error) {
	if m.IsZero() {
		return map[string]any{}, nil
	}
	v, err := decodeValue(m)
	if err != nil {
		return nil, err
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, ErrMetadataInvalid
	}
	return obj, nil
}

// With returns a copy of m with key set to value. It fails when m cannot
// be decoded; the caller decides how to preserve the original bytes.
func (m Metadata) With(key string, value any) (Metadata, error) {
	obj, err := m.Decode()
	if err != nil {
		return nil, err
	}
	obj[key] = value
	return NewMetadata(obj)
}

// Equal reports whether a and b encode the same JSON value.
func Equal(a, b Metadata) bool {
	if a.IsZero() || b.IsZero() {
		return a.IsZero() && b.IsZero()
	}
	va, errA := decodeValue(a)
	vb, errB := decodeValue(b)
	if errA != nil || errB != nil {
		return bytes.Equal(a, b)
	}
	return reflect.DeepEqual(va, vb)
}

// MarshalJSON implements json.Marshaler.
func (m Metadata) MarshalJSON() ([]byte, error) {
	if m.IsZero() {
		return []byte("null"), nil
	}
	return []byte(m), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (m *Metadata) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*m = nil
		return nil
	}
	*m = append((*m)[:0], data...)
	return nil
}

// Value implements driver.Valuer.
func (m Metadata) Value() (driver.Value, error) {
	if m.IsZero() {
		return nil, nil //nolint:nilnil // NULL column
	}
	return string(m), nil
}

// Scan implements sql.Scanner.
func (m *Metadata) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*m = nil
	case string:
		*m = Metadata(v)
	case []byte:
		*m = append(Metadata(nil), v...)
	default:
		return fmt.Errorf("types: cannot scan %T into Metadata", src)
	}
	return nil
}
