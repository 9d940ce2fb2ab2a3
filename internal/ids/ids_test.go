package ids

import (
	"encoding/json"
	"testing"
)

func TestNewUnique(t *testing.T) {
	a, b := New(), New()
	if a == b {
		t.Fatal("expected distinct ids")
	}
	if a.IsZero() || b.IsZero() {
		t.Fatal("expected non-zero ids")
	}
}

func TestParseRoundTrip(t *testing.T) {
	a := New()
	parsed, err := Parse(a.String())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if parsed != a {
		t.Fatalf("round trip mismatch: %v != %v", parsed, a)
	}
}

func TestNormalizePrefix(t *testing.T) {
	a := New()
	hex := a.Hex()

	if _, err := NormalizePrefix(hex[:3]); err != ErrPrefixTooShort {
		t.Fatalf("expected ErrPrefixTooShort, got %v", err)
	}

	p, err := NormalizePrefix(hex[:8])
	if err != nil {
		t.Fatalf("NormalizePrefix: %v", err)
	}
	if p != hex[:8] {
		t.Fatalf("expected %s, got %s", hex[:8], p)
	}

	if _, err := NormalizePrefix("zzzz"); err == nil {
		t.Fatal("expected error for non-hex prefix")
	}
}

func TestJSONRoundTrip(t *testing.T) {
	a := New()
	data, err := json.Marshal(a)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var want string
	if err := json.Unmarshal(data, &want); err != nil || want != a.String() {
		t.Fatalf("expected id to marshal as its canonical string, got %s (err %v)", data, err)
	}

	var b ID
	if err := json.Unmarshal(data, &b); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if b != a {
		t.Fatalf("round trip mismatch: %v != %v", b, a)
	}
}

type wrapper struct {
	ID ID `json:"id"`
}

func TestJSONRoundTripInStruct(t *testing.T) {
	w := wrapper{ID: New()}
	data, err := json.Marshal(w)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var got wrapper
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.ID != w.ID {
		t.Fatalf("round trip mismatch: %v != %v", got.ID, w.ID)
	}
}
