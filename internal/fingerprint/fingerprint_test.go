package fingerprint

import (
	"errors"
	"math"
	"testing"
)

type namedPoint struct {
	X, Y int
}

func (p namedPoint) EncodeCanonical(enc *Encoder) error {
	if err := enc.EncodeField("x", p.X); err != nil {
		return err
	}
	return enc.EncodeField("y", p.Y)
}

func TestFingerprint_MapInsertionOrderIrrelevant(t *testing.T) {
	a := map[string]any{}
	a["alpha"] = 1
	a["beta"] = "two"
	a["gamma"] = []any{true, nil, 3.5}

	b := map[string]any{}
	b["gamma"] = []any{true, nil, 3.5}
	b["beta"] = "two"
	b["alpha"] = 1

	if MustOf(a) != MustOf(b) {
		t.Fatalf("fingerprints differ for maps with permuted insertion order")
	}
}

func TestFingerprint_SetOrderIrrelevant(t *testing.T) {
	a := Set{"x", 1, []byte("raw")}
	b := Set{[]byte("raw"), "x", 1}
	if MustOf(a) != MustOf(b) {
		t.Fatalf("set fingerprints differ by element order")
	}
}

func TestFingerprint_SequenceOrderMatters(t *testing.T) {
	if MustOf([]any{"a", "b"}) == MustOf([]any{"b", "a"}) {
		t.Fatalf("sequence fingerprints must depend on order")
	}
}

func TestFingerprint_SetAndSequenceDistinct(t *testing.T) {
	if MustOf(Set{"a"}) == MustOf([]any{"a"}) {
		t.Fatalf("set and sequence with equal elements must not collide")
	}
}

func TestFingerprint_TypeTagsSeparateValues(t *testing.T) {
	cases := []any{nil, false, true, 0, -1, 1.5, "", "1", []byte{}, []byte("1"), []any{}, map[string]any{}, Set{}}
	seen := map[Digest]int{}
	for i, v := range cases {
		d := MustOf(v)
		if j, ok := seen[d]; ok {
			t.Fatalf("collision between case %d (%#v) and case %d (%#v)", i, v, j, cases[j])
		}
		seen[d] = i
	}
}

func TestFingerprint_IntegerWidthsCanonical(t *testing.T) {
	if MustOf(int8(7)) != MustOf(uint64(7)) {
		t.Fatalf("non-negative integers of different widths must fingerprint equally")
	}
	if MustOf(int32(-7)) != MustOf(int64(-7)) {
		t.Fatalf("negative integers of different widths must fingerprint equally")
	}
}

func TestFingerprint_FloatCanonicalization(t *testing.T) {
	if MustOf(math.Copysign(0, -1)) != MustOf(0.0) {
		t.Fatalf("-0 and +0 must fingerprint equally")
	}
	if MustOf(math.NaN()) != MustOf(math.Float64frombits(0x7ff8000000000001)) {
		t.Fatalf("NaN payloads must canonicalize")
	}
	if MustOf(float32(0.5)) != MustOf(0.5) {
		t.Fatalf("exactly representable float32 must match float64")
	}
}

func TestFingerprint_LengthPrefixPreventsConcatenationAmbiguity(t *testing.T) {
	if MustOf([]any{"ab", "c"}) == MustOf([]any{"a", "bc"}) {
		t.Fatalf("length prefix must disambiguate element boundaries")
	}
}

func TestFingerprint_NestedMapsCanonical(t *testing.T) {
	a := map[string]any{"outer": map[int]string{2: "b", 1: "a"}}
	b := map[string]any{"outer": map[int]string{1: "a", 2: "b"}}
	if MustOf(a) != MustOf(b) {
		t.Fatalf("nested map fingerprints differ")
	}
}

func TestFingerprint_CanonicalImplementation(t *testing.T) {
	if MustOf(namedPoint{1, 2}) != MustOf(namedPoint{1, 2}) {
		t.Fatalf("equal custom values must fingerprint equally")
	}
	if MustOf(namedPoint{1, 2}) == MustOf(namedPoint{2, 1}) {
		t.Fatalf("different custom values must not collide")
	}
	if MustOf(&namedPoint{1, 2}) != MustOf(namedPoint{1, 2}) {
		t.Fatalf("pointer to canonical value must match the value")
	}
}

func TestFingerprint_UnfingerprintableValue(t *testing.T) {
	type opaque struct{ A int }

	cases := map[string]any{
		"struct":       opaque{A: 1},
		"func":         func() {},
		"chan":         make(chan int),
		"nested-slice": []any{1, opaque{}},
		"map-value":    map[string]any{"k": func() {}},
		"set-element":  Set{make(chan int)},
	}
	for name, v := range cases {
		_, err := Of(v)
		if !errors.Is(err, ErrUnfingerprintable) {
			t.Fatalf("%s: expected ErrUnfingerprintable, got %v", name, err)
		}
		var ue *UnfingerprintableError
		if !errors.As(err, &ue) {
			t.Fatalf("%s: expected *UnfingerprintableError, got %T", name, err)
		}
	}
}

func TestFingerprint_UnfingerprintablePathReported(t *testing.T) {
	_, err := Of(map[string]any{"inputs": []any{1, struct{}{}}})
	var ue *UnfingerprintableError
	if !errors.As(err, &ue) {
		t.Fatalf("expected *UnfingerprintableError, got %v", err)
	}
	if ue.Path != "inputs[1]" {
		t.Fatalf("path mismatch: got %q", ue.Path)
	}
}

func TestDigest_ParseRoundTrip(t *testing.T) {
	d := MustOf("hello")
	got, err := ParseDigest(d.String())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != d {
		t.Fatalf("digest mismatch: got %s want %s", got, d)
	}
	if _, err := ParseDigest("abcd"); err == nil {
		t.Fatalf("expected error for short digest")
	}
}

func TestFingerprint_KnownVectorStable(t *testing.T) {
	// Pins the wire encoding: tag 0x05, u64 length 1, payload "a".
	b, err := Encode("a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []byte{0x05, 0, 0, 0, 0, 0, 0, 0, 1, 'a'}
	if string(b) != string(want) {
		t.Fatalf("encoding mismatch: got %x want %x", b, want)
	}
}

func TestFingerprint_TypedNilCanonicalIsNull(t *testing.T) {
	var p *namedPoint
	got, err := Of(map[string]any{"point": p})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := MustOf(map[string]any{"point": nil})
	if got != want {
		t.Fatalf("typed nil should fingerprint as null: got %s want %s", got, want)
	}
}

func TestFingerprint_ByteArrayMatchesSlice(t *testing.T) {
	d := MustOf("payload")
	if MustOf(d) != MustOf(d[:]) {
		t.Fatalf("digest array and slice forms should fingerprint identically")
	}
	if MustOf([3]byte{1, 2, 3}) == MustOf([]any{uint8(1), uint8(2), uint8(3)}) {
		t.Fatalf("byte array must not encode as a sequence")
	}
}
