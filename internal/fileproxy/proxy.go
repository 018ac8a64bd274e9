// Package fileproxy provides memoized, read-only views of source files shared
// by every checker in a run.
package fileproxy

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"

	"checkweaver/internal/fingerprint"
)

// DefaultEncoding is used when no text encoding is configured.
const DefaultEncoding = "utf-8"

var (
	ErrFileUnavailable = errors.New("file unavailable")
	ErrUnknownEncoding = errors.New("unknown text encoding")
)

// FileUnavailableError reports an I/O failure while constructing a proxy.
type FileUnavailableError struct {
	Path  string
	Cause error
}

func (e *FileUnavailableError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s: %v", ErrFileUnavailable.Error(), e.Path, e.Cause)
}

func (e *FileUnavailableError) Unwrap() error { return e.Cause }

func (e *FileUnavailableError) Is(target error) bool { return target == ErrFileUnavailable }

// Proxy is an immutable view of one file: raw bytes, decoded text and lines.
//
// Two proxies are equal iff their filenames are equal.
type Proxy struct {
	filename  string
	encoding  string
	raw       []byte
	text      string
	lines     []string
	decodeErr error
}

// Filename returns the canonical absolute path.
func (p *Proxy) Filename() string { return p.filename }

// Encoding returns the name of the encoding the text was decoded with.
func (p *Proxy) Encoding() string { return p.encoding }

// Raw returns a copy of the file's bytes.
func (p *Proxy) Raw() []byte { return bytes.Clone(p.raw) }

// Size returns the length of the raw bytes.
func (p *Proxy) Size() int { return len(p.raw) }

// Text returns the decoded text, empty when decoding failed.
func (p *Proxy) Text() string { return p.text }

// Lines returns the decoded lines with their terminators. Each call returns a
// fresh slice, so iteration can be restarted freely.
func (p *Proxy) Lines() []string {
	out := make([]string, len(p.lines))
	copy(out, p.lines)
	return out
}

// LineCount returns len(Lines()) without copying.
func (p *Proxy) LineCount() int { return len(p.lines) }

// Line returns the 1-based line n without its terminator.
func (p *Proxy) Line(n int) (string, bool) {
	if n < 1 || n > len(p.lines) {
		return "", false
	}
	return strings.TrimRight(p.lines[n-1], "\r\n"), true
}

// DecodeError reports whether the bytes could not be decoded.
func (p *Proxy) DecodeError() bool { return p.decodeErr != nil }

// DecodeErr returns the underlying decode failure, if any.
func (p *Proxy) DecodeErr() error { return p.decodeErr }

// Equal compares proxies by filename.
func (p *Proxy) Equal(o *Proxy) bool {
	if p == nil || o == nil {
		return p == o
	}
	return p.filename == o.filename
}

// EncodeCanonical makes a proxy usable as a task input: its identity is the
// filename plus the exact bytes on disk.
func (p *Proxy) EncodeCanonical(enc *fingerprint.Encoder) error {
	if err := enc.EncodeField("file", p.filename); err != nil {
		return err
	}
	return enc.EncodeField("content", p.raw)
}

// NewProxy decodes raw under the named encoding. A decode failure is recorded
// on the proxy rather than returned.
func NewProxy(filename string, raw []byte, encodingName string) (*Proxy, error) {
	enc, name, err := ResolveEncoding(encodingName)
	if err != nil {
		return nil, err
	}
	p := &Proxy{filename: filename, encoding: name, raw: raw}
	text, derr := decode(enc, name, raw)
	if derr != nil {
		p.decodeErr = derr
		return p, nil
	}
	p.text = text
	p.lines = SplitLines(text)
	return p, nil
}

// ResolveEncoding maps an encoding label (as used on the web and in editors)
// to a decoder. The empty label selects DefaultEncoding.
func ResolveEncoding(label string) (encoding.Encoding, string, error) {
	label = strings.TrimSpace(label)
	if label == "" {
		label = DefaultEncoding
	}
	enc, err := htmlindex.Get(label)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %q", ErrUnknownEncoding, label)
	}
	name, err := htmlindex.Name(enc)
	if err != nil {
		name = strings.ToLower(label)
	}
	return enc, name, nil
}

func decode(enc encoding.Encoding, name string, raw []byte) (string, error) {
	if name == DefaultEncoding {
		if !utf8.Valid(raw) {
			return "", fmt.Errorf("invalid utf-8 byte sequence")
		}
		return string(bytes.TrimPrefix(raw, []byte("\xef\xbb\xbf"))), nil
	}
	out, err := enc.NewDecoder().Bytes(raw)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// SplitLines splits text into lines keeping "\n", "\r\n" or "\r" terminators.
// A trailing empty segment after the final terminator is omitted.
func SplitLines(text string) []string {
	if text == "" {
		return nil
	}
	var lines []string
	start := 0
	for i := 0; i < len(text); i++ {
		switch text[i] {
		case '\n':
			lines = append(lines, text[start:i+1])
			start = i + 1
		case '\r':
			if i+1 < len(text) && text[i+1] == '\n' {
				i++
			}
			lines = append(lines, text[start:i+1])
			start = i + 1
		}
	}
	if start < len(text) {
		lines = append(lines, text[start:])
	}
	return lines
}
