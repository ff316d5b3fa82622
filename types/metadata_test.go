package types

import (
	"errors"
	"strings"
	"testing"
)

func TestMetadataValidate(t *testing.T) {
	deep := strings.Repeat(`{"a":`, MaxMetadataDepth+1) + "1" + strings.Repeat("}", MaxMetadataDepth+1)

	tests := []struct {
		name    string
		meta    Metadata
		max     int
		wantErr error
	}{
		{"empty", nil, 0, nil},
		{"null", Metadata("null"), 0, nil},
		{"object", Metadata(`{"booking":"b-1","seats":[1,2]}`), 0, nil},
		{"array root", Metadata(`[1,2]`), 0, ErrMetadataInvalid},
		{"malformed", Metadata(`{"a":`), 0, ErrMetadataInvalid},
		{"trailing data", Metadata(`{"a":1}{}`), 0, ErrMetadataInvalid},
		{"too large", Metadata(`{"note":"` + strings.Repeat("x", 64) + `"}`), 32, ErrMetadataTooLarge},
		{"too deep", Metadata(deep), 0, ErrMetadataTooDeep},
		{"proto key", Metadata(`{"__proto__":{"admin":true}}`), 0, ErrMetadataForbiddenKey},
		{"nested constructor", Metadata(`{"a":[{"constructor":1}]}`), 0, ErrMetadataForbiddenKey},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.meta.Validate(tt.max)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestNewMetadataRejectsCycles(t *testing.T) {
	type node struct {
		Next *node `json:"next"`
	}
	n := &node{}
	n.Next = n

	if _, err := NewMetadata(n); !errors.Is(err, ErrMetadataInvalid) {
		t.Fatalf("expected ErrMetadataInvalid for cyclic value, got %v", err)
	}
}

func TestMetadataWithPreservesKeys(t *testing.T) {
	m := MustMetadata(map[string]any{"booking": "b-1"})

	merged, err := m.With("capture", map[string]any{"note": "ok"})
	if err != nil {
		t.Fatalf("With failed: %v", err)
	}

	obj, err := merged.Decode()
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if obj["booking"] != "b-1" {
		t.Errorf("original key lost: %v", obj)
	}
	if _, ok := obj["capture"]; !ok {
		t.Errorf("capture key missing: %v", obj)
	}

	if _, err := Metadata(`not json`).With("k", 1); err == nil {
		t.Error("expected error merging into malformed metadata")
	}
}

func TestMetadataEqual(t *testing.T) {
	if !Equal(Metadata(`{"a":1,"b":2}`), Metadata(`{"b":2, "a":1}`)) {
		t.Error("expected key order to be ignored")
	}
	if Equal(Metadata(`{"a":1}`), Metadata(`{"a":2}`)) {
		t.Error("expected different values to differ")
	}
	if !Equal(nil, Metadata("null")) {
		t.Error("expected empty and null to be equal")
	}
	if Equal(nil, Metadata(`{}`)) {
		t.Error("expected empty and {} to differ")
	}
}

func TestMetadataScanValue(t *testing.T) {
	var m Metadata
	if err := m.Scan([]byte(`{"a":1}`)); err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	v, err := m.Value()
	if err != nil {
		t.Fatalf("Value failed: %v", err)
	}
	if v != `{"a":1}` {
		t.Errorf("unexpected value %v", v)
	}

	var empty Metadata
	v, err = empty.Value()
	if err != nil || v != nil {
		t.Errorf("expected nil value, got %v, %v", v, err)
	}
	if err := empty.Scan(12); err == nil {
		t.Error("expected error scanning int")
	}
}

func TestValidAmount(t *testing.T) {
	if ValidAmount(0) || ValidAmount(-1) || ValidAmount(MaxSafeAmount+1) {
		t.Error("expected out-of-range amounts to be invalid")
	}
	if !ValidAmount(1) || !ValidAmount(MaxSafeAmount) {
		t.Error("expected boundary amounts to be valid")
	}
}
