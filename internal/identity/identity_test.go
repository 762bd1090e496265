package identity

import (
	"encoding/json"
	"testing"
)

// =========================================================================
// Normalize TESTS
// =========================================================================

func TestNormalize_String(t *testing.T) {
	if got := Normalize("  user-42 "); got != "user-42" {
		t.Errorf("Normalize(string) = %q, want %q", got, "user-42")
	}
}

func TestNormalize_Numbers(t *testing.T) {
	cases := []struct {
		name string
		in   any
		want string
	}{
		{"int", 42, "42"},
		{"int64", int64(42), "42"},
		{"float64 whole", float64(42), "42"},
		{"json.Number", json.Number("42"), "42"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Normalize(tc.in); got != tc.want {
				t.Errorf("Normalize(%v) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestNormalize_ObjectWrapped(t *testing.T) {
	// Payloads sometimes carry a whole user object where an ID belongs.
	cases := []struct {
		name string
		in   map[string]any
	}{
		{"underscore id", map[string]any{"_id": "user-42", "username": "alice"}},
		{"plain id", map[string]any{"id": "user-42"}},
		{"userId", map[string]any{"userId": float64(0)}},
	}
	want := []string{"user-42", "user-42", "0"}
	for i, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Normalize(tc.in); got != want[i] {
				t.Errorf("Normalize(%v) = %q, want %q", tc.in, got, want[i])
			}
		})
	}
}

func TestNormalize_SameIdentityAllRepresentations(t *testing.T) {
	// The property the registry depends on: every representation of one
	// identity maps to the same key.
	representations := []any{
		"42",
		42,
		int64(42),
		float64(42),
		json.Number("42"),
		map[string]any{"_id": "42"},
		map[string]any{"id": float64(42)},
	}
	for _, r := range representations {
		if got := Normalize(r); got != "42" {
			t.Errorf("Normalize(%#v) = %q, want %q", r, got, "42")
		}
	}
}

func TestNormalize_Unusable(t *testing.T) {
	for _, v := range []any{nil, "", "   ", map[string]any{"name": "alice"}} {
		if got := Normalize(v); got != "" {
			t.Errorf("Normalize(%#v) = %q, want empty", v, got)
		}
	}
}

// =========================================================================
// ID JSON DECODING TESTS
// =========================================================================

func TestIDUnmarshal(t *testing.T) {
	cases := []struct {
		name string
		json string
		want string
	}{
		{"string", `{"userId":"42"}`, "42"},
		{"number", `{"userId":42}`, "42"},
		{"object", `{"userId":{"_id":"42","username":"alice"}}`, "42"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var payload struct {
				UserID ID `json:"userId"`
			}
			if err := json.Unmarshal([]byte(tc.json), &payload); err != nil {
				t.Fatalf("Unmarshal() error = %v", err)
			}
			if payload.UserID.String() != tc.want {
				t.Errorf("UserID = %q, want %q", payload.UserID, tc.want)
			}
		})
	}
}
