package resultcache

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"checkweaver/internal/finding"
)

// record is the CBOR payload of one cache record. Integer keys keep the
// payload compact and independent of Go field names.
type record struct {
	Schema   uint32          `cbor:"1,keyasint"`
	Findings []findingRecord `cbor:"2,keyasint"`
}

type findingRecord struct {
	Origin   string `cbor:"1,keyasint"`
	File     string `cbor:"2,keyasint,omitempty"`
	Line     int    `cbor:"3,keyasint,omitempty"`
	Column   int    `cbor:"4,keyasint,omitempty"`
	Severity string `cbor:"5,keyasint"`
	Message  string `cbor:"6,keyasint"`
	Debug    string `cbor:"7,keyasint,omitempty"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	decMode, err = cbor.DecOptions{MaxArrayElements: 1 << 20}.DecMode()
	if err != nil {
		panic(err)
	}
}

func encodePayload(schema uint32, fs []finding.Finding) ([]byte, error) {
	rec := record{Schema: schema, Findings: make([]findingRecord, 0, len(fs))}
	for _, f := range fs {
		rec.Findings = append(rec.Findings, findingRecord{
			Origin:   f.Origin,
			File:     f.File,
			Line:     f.Line,
			Column:   f.Column,
			Severity: string(f.Severity),
			Message:  f.Message,
			Debug:    f.DebugMessage,
		})
	}
	return encMode.Marshal(rec)
}

// errSchemaMismatch marks payloads written under another schema version.
var errSchemaMismatch = fmt.Errorf("schema version mismatch")

func decodePayload(schema uint32, b []byte) ([]finding.Finding, error) {
	var rec record
	if err := decMode.Unmarshal(b, &rec); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	if rec.Schema != schema {
		return nil, fmt.Errorf("%w: got %d want %d", errSchemaMismatch, rec.Schema, schema)
	}
	out := make([]finding.Finding, 0, len(rec.Findings))
	for i, r := range rec.Findings {
		f := finding.Finding{
			Origin:       r.Origin,
			File:         r.File,
			Line:         r.Line,
			Column:       r.Column,
			Severity:     finding.Severity(r.Severity),
			Message:      r.Message,
			DebugMessage: r.Debug,
		}
		if err := f.Validate(); err != nil {
			return nil, fmt.Errorf("decode payload: finding %d: %w", i, err)
		}
		out = append(out, f)
	}
	return out, nil
}

// sizeOf estimates the in-memory footprint of a findings list for the byte
// budget.
func sizeOf(fs []finding.Finding) int64 {
	const perFinding = 96
	n := int64(48)
	for _, f := range fs {
		n += perFinding + int64(len(f.Origin)+len(f.File)+len(f.Message)+len(f.DebugMessage)+len(f.Severity))
	}
	return n
}
