package contentkey

import (
	"strings"
	"testing"
)

func TestIdentify_Deterministic(t *testing.T) {
	b := []byte("\x89PNG\r\n\x1a\nsome image bytes")

	k1 := Identify(b)
	k2 := Identify(append([]byte(nil), b...))

	if k1 != k2 {
		t.Fatalf("same bytes produced different keys: %s vs %s", k1, k2)
	}
	if !k1.Valid() {
		t.Errorf("key %q is not valid", k1)
	}
}

func TestIdentify_DistinctInputs(t *testing.T) {
	seen := make(map[Key]string)
	inputs := []string{"", "a", "b", "ab", "ba", strings.Repeat("x", 4096)}

	for _, in := range inputs {
		k := Identify([]byte(in))
		if prev, ok := seen[k]; ok {
			t.Fatalf("collision between %q and %q", prev, in)
		}
		seen[k] = in
	}
}

func TestIdentify_KnownValue(t *testing.T) {
	// sha256("") truncated to 16 bytes
	want := Key("e3b0c44298fc1c149afbf4c8996fb924")
	if got := Identify(nil); got != want {
		t.Errorf("Identify(nil) = %s, want %s", got, want)
	}
}

func TestKey_Valid(t *testing.T) {
	tests := []struct {
		name string
		key  Key
		want bool
	}{
		{"identified", Identify([]byte("img")), true},
		{"too short", Key("abc"), false},
		{"uppercase", Key(strings.ToUpper(string(Identify([]byte("img"))))), false},
		{"non hex", Key(strings.Repeat("z", Size*2)), false},
		{"path traversal", Key("../../etc/passwd"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.key.Valid(); got != tt.want {
				t.Errorf("Valid() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestKey_Short(t *testing.T) {
	k := Identify([]byte("img"))
	if len(k.Short()) != 8 {
		t.Errorf("Short() length = %d, want 8", len(k.Short()))
	}
	if Key("abc").Short() != "abc" {
		t.Errorf("Short() should return short keys unchanged")
	}
}
