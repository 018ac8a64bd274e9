package fingerprint

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
)

// Type tags. The numeric values are part of every persisted fingerprint; do not
// renumber.
const (
	tagNull   byte = 0x00
	tagBool   byte = 0x01
	tagInt    byte = 0x02
	tagUint   byte = 0x03
	tagFloat  byte = 0x04
	tagText   byte = 0x05
	tagBytes  byte = 0x06
	tagSeq    byte = 0x10
	tagSet    byte = 0x11
	tagMap    byte = 0x12
	tagCustom byte = 0x20
)

// Set is an unordered collection. Its canonical encoding is independent of
// element order.
type Set []any

// Canonical is implemented by values that know how to encode themselves.
//
// Implementations must write the same bytes for values that are considered
// equal; they typically call Encode on their identifying fields.
type Canonical interface {
	EncodeCanonical(enc *Encoder) error
}

// Encoder accumulates a canonical byte stream.
type Encoder struct {
	buf  bytes.Buffer
	path string
}

// Bytes returns the accumulated encoding.
func (e *Encoder) Bytes() []byte { return e.buf.Bytes() }

// Encode appends the canonical encoding of v.
func (e *Encoder) Encode(v any) error {
	return e.encode(v, e.path)
}

// EncodeField encodes a named field as a (text, value) pair. It is a
// convenience for Canonical implementations.
func (e *Encoder) EncodeField(name string, v any) error {
	e.writeTagged(tagText, []byte(name))
	return e.encode(v, joinPath(e.path, name))
}

func (e *Encoder) writeTagged(tag byte, payload []byte) {
	var hdr [9]byte
	hdr[0] = tag
	binary.BigEndian.PutUint64(hdr[1:], uint64(len(payload)))
	e.buf.Write(hdr[:])
	e.buf.Write(payload)
}

func (e *Encoder) writeCount(tag byte, n int) {
	var hdr [9]byte
	hdr[0] = tag
	binary.BigEndian.PutUint64(hdr[1:], uint64(n))
	e.buf.Write(hdr[:])
}

func (e *Encoder) encode(v any, path string) error {
	if v == nil {
		e.writeTagged(tagNull, nil)
		return nil
	}
	// A typed nil pointer is null even when its type implements Canonical.
	if rv := reflect.ValueOf(v); rv.Kind() == reflect.Pointer && rv.IsNil() {
		e.writeTagged(tagNull, nil)
		return nil
	}
	if c, ok := v.(Canonical); ok {
		sub := &Encoder{path: path}
		if err := c.EncodeCanonical(sub); err != nil {
			return err
		}
		e.writeTagged(tagCustom, sub.Bytes())
		return nil
	}

	switch x := v.(type) {
	case bool:
		if x {
			e.writeTagged(tagBool, []byte{1})
		} else {
			e.writeTagged(tagBool, []byte{0})
		}
		return nil
	case string:
		e.writeTagged(tagText, []byte(x))
		return nil
	case []byte:
		e.writeTagged(tagBytes, x)
		return nil
	case Set:
		return e.encodeSet(x, path)
	}

	return e.encodeReflect(reflect.ValueOf(v), path)
}

func (e *Encoder) encodeReflect(rv reflect.Value, path string) error {
	switch rv.Kind() {
	case reflect.Invalid:
		e.writeTagged(tagNull, nil)
		return nil
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			e.writeTagged(tagNull, nil)
			return nil
		}
		return e.encode(rv.Elem().Interface(), path)
	case reflect.Bool:
		return e.encode(rv.Bool(), path)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n := rv.Int()
		if n >= 0 {
			e.writeUint(uint64(n))
			return nil
		}
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], uint64(n))
		e.writeTagged(tagInt, b[:])
		return nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		e.writeUint(rv.Uint())
		return nil
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		switch {
		case math.IsNaN(f):
			f = math.NaN()
		case f == 0:
			f = 0
		}
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], math.Float64bits(f))
		e.writeTagged(tagFloat, b[:])
		return nil
	case reflect.String:
		e.writeTagged(tagText, []byte(rv.String()))
		return nil
	case reflect.Slice, reflect.Array:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			b := make([]byte, rv.Len())
			reflect.Copy(reflect.ValueOf(b), rv)
			e.writeTagged(tagBytes, b)
			return nil
		}
		e.writeCount(tagSeq, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			if err := e.encode(rv.Index(i).Interface(), path+"["+strconv.Itoa(i)+"]"); err != nil {
				return err
			}
		}
		return nil
	case reflect.Map:
		return e.encodeMap(rv, path)
	default:
		return &UnfingerprintableError{Path: path, Type: rv.Type().String()}
	}
}

func (e *Encoder) writeUint(n uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], n)
	e.writeTagged(tagUint, b[:])
}

func (e *Encoder) encodeSet(s Set, path string) error {
	parts := make([][]byte, 0, len(s))
	for i, el := range s {
		b, err := encodeDetached(el, path+"{"+strconv.Itoa(i)+"}")
		if err != nil {
			return err
		}
		parts = append(parts, b)
	}
	sort.Slice(parts, func(i, j int) bool { return bytes.Compare(parts[i], parts[j]) < 0 })

	e.writeCount(tagSet, len(parts))
	for _, p := range parts {
		e.buf.Write(p)
	}
	return nil
}

type mapPair struct {
	key   []byte
	value []byte
}

func (e *Encoder) encodeMap(rv reflect.Value, path string) error {
	pairs := make([]mapPair, 0, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		k, err := encodeDetached(iter.Key().Interface(), path+".<key>")
		if err != nil {
			return err
		}
		v, err := encodeDetached(iter.Value().Interface(), joinPath(path, fmt.Sprint(iter.Key().Interface())))
		if err != nil {
			return err
		}
		pairs = append(pairs, mapPair{key: k, value: v})
	}
	sort.Slice(pairs, func(i, j int) bool { return bytes.Compare(pairs[i].key, pairs[j].key) < 0 })

	e.writeCount(tagMap, len(pairs))
	for _, p := range pairs {
		e.buf.Write(p.key)
		e.buf.Write(p.value)
	}
	return nil
}

func encodeDetached(v any, path string) ([]byte, error) {
	sub := &Encoder{path: path}
	if err := sub.encode(v, path); err != nil {
		return nil, err
	}
	return sub.Bytes(), nil
}

func joinPath(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "." + name
}
