// Package fingerprint computes deterministic, content-addressed digests of
// structured values.
//
// A value is first serialized through a canonicalizing encoder and the
// resulting byte stream is hashed with SHA-1. Canonicalization rules:
//   - Every value is written as a one-byte type tag, a u64 big-endian length
//     and a payload.
//   - Nil and typed nil pointers are null.
//   - Byte slices and byte arrays share the bytes encoding.
//   - Sequences keep element order.
//   - Sets (Set) sort their element encodings bytewise.
//   - Maps sort their (key, value) pairs by key encoding.
//   - Nested composites recurse.
//
// Values that have no canonical encoding (structs, funcs, channels) fail with
// ErrUnfingerprintable unless they implement Canonical.
package fingerprint
