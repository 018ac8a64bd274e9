package fingerprint

import (
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
)

// Size is the length in bytes of a Digest.
const Size = sha1.Size

// Digest is the 20-byte content address of a canonical value.
type Digest [Size]byte

// String returns the lowercase hex form of the digest.
func (d Digest) String() string { return hex.EncodeToString(d[:]) }

// IsZero reports whether d is the zero digest.
func (d Digest) IsZero() bool { return d == Digest{} }

// ParseDigest parses the hex form produced by Digest.String.
func ParseDigest(s string) (Digest, error) {
	var d Digest
	b, err := hex.DecodeString(s)
	if err != nil {
		return d, fmt.Errorf("parse digest: %w", err)
	}
	if len(b) != Size {
		return d, fmt.Errorf("parse digest: want %d bytes, got %d", Size, len(b))
	}
	copy(d[:], b)
	return d, nil
}

// ErrUnfingerprintable reports a value containing an opaque object with no
// canonical encoding.
var ErrUnfingerprintable = errors.New("unfingerprintable value")

// UnfingerprintableError locates the offending value inside a composite.
type UnfingerprintableError struct {
	Path string
	Type string
}

func (e *UnfingerprintableError) Error() string {
	if e == nil {
		return ""
	}
	if e.Path == "" {
		return fmt.Sprintf("%s: %s", ErrUnfingerprintable.Error(), e.Type)
	}
	return fmt.Sprintf("%s: %s at %s", ErrUnfingerprintable.Error(), e.Type, e.Path)
}

func (e *UnfingerprintableError) Unwrap() error { return ErrUnfingerprintable }

// Of returns the digest of v's canonical encoding.
func Of(v any) (Digest, error) {
	b, err := Encode(v)
	if err != nil {
		return Digest{}, err
	}
	return sha1.Sum(b), nil
}

// MustOf is like Of but panics on error. It is meant for values built from
// literals in tests and static tables.
func MustOf(v any) Digest {
	d, err := Of(v)
	if err != nil {
		panic(err)
	}
	return d
}

// Encode returns the canonical byte encoding of v.
func Encode(v any) ([]byte, error) {
	enc := &Encoder{}
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return enc.Bytes(), nil
}
