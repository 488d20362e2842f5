// Copyright (C) 2024 Michael J. Fromberger. All Rights Reserved.

// Package packet provides support for encoding and decoding binary packet data.
//
// All multi-byte values are encoded in big-endian order. Strings are framed
// with a 4-byte length prefix.
package packet

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/creachadair/mds/value"
)

// A Builder is a buffer that accumulates data into a packet. The zero value is
// ready for use as an empty builder.
type Builder struct {
	buf []byte
}

// NewBuilder constructs a [Builder] with capacity for at least n bytes.
func NewBuilder(n int) *Builder { return &Builder{buf: make([]byte, 0, n)} }

// Bool appends a Boolean to b. The encoding is a single byte with value 0 or 1.
func (b *Builder) Bool(ok bool) { b.Put(value.Cond[byte](ok, 1, 0)) }

// Put appends the specified bytes to v in order.
func (b *Builder) Put(vs ...byte) { b.buf = append(b.buf, vs...) }

// PutString appends the specified string to b without framing.
func (b *Builder) PutString(s string) { b.buf = append(b.buf, s...) }

// Byte appends a single byte to b.
func (b *Builder) Byte(v byte) { b.buf = append(b.buf, v) }

// Uint16 appends v to b in big-endian order.
func (b *Builder) Uint16(v uint16) { b.buf = binary.BigEndian.AppendUint16(b.buf, v) }

// Uint32 appends v to b in big-endian order.
func (b *Builder) Uint32(v uint32) { b.buf = binary.BigEndian.AppendUint32(b.buf, v) }

// Int16 appends v to b in big-endian two's complement order.
func (b *Builder) Int16(v int16) { b.Uint16(uint16(v)) }

// Int32 appends v to b in big-endian two's complement order.
func (b *Builder) Int32(v int32) { b.Uint32(uint32(v)) }

// Float32 appends the IEEE 754 bits of v to b in big-endian order.
func (b *Builder) Float32(v float32) { b.Uint32(math.Float32bits(v)) }

// String32 appends a length-prefixed string to b. The length is encoded as a
// big-endian uint32.
func (b *Builder) String32(s string) {
	b.Grow(Len32(len(s)))
	b.Uint32(uint32(len(s)))
	b.buf = append(b.buf, s...)
}

// Len32 reports the encoded size in bytes of a string of n bytes framed by
// [Builder.String32].
func Len32(n int) int { return 4 + n }

// Len reports the number of bytes currently in the buffer.
func (b *Builder) Len() int { return len(b.buf) }

// Bytes reports the current contents of the buffer. The builder retains ownership
// of the reported slice, and the caller must not retain or modify its contents
// unless b will no longer be accessed.
func (b *Builder) Bytes() []byte { return b.buf }

// Reset discards the contents of b and leaves it empty.
func (b *Builder) Reset() { b.buf = b.buf[:0] }

// Truncate discards all but the first n bytes of b.
// It panics if n < 0 or n > b.Len().
func (b *Builder) Truncate(n int) {
	if n < 0 || n > len(b.buf) {
		panic(fmt.Sprintf("truncate %d out of range [0,%d]", n, len(b.buf)))
	}
	b.buf = b.buf[:n]
}

// Grow resizes the internal buffer of b if necessary to ensure that at least n
// more bytes can be added without triggering another allocation.
func (b *Builder) Grow(n int) {
	want := len(b.buf) + n
	if cap(b.buf) < want {
		r := make([]byte, len(b.buf), max(want, 2*cap(b.buf)))
		copy(r, b.buf)
		b.buf = r
	}
}

// A Scanner reads encoded values from the contents of a packet.
// The methods of a scanner report [io.ErrUnexpectedEOF] when the input does
// not contain a complete value. A failed read does not consume any input.
type Scanner struct {
	input  []byte
	rest   []byte
	offset int // of rest from input
}

// NewScanner constructs a [Scanner] that consumes data from input.
// The scanner does not modify the contents of input, but retain slices
// into it, so the caller should ensure it is not modified while the scanner
// is in use.
func NewScanner[Str ~string | ~[]byte](input Str) *Scanner {
	data := []byte(input)
	return &Scanner{input: data, rest: data}
}

// take consumes and returns the next n bytes of input.
func (s *Scanner) take(n int) ([]byte, error) {
	if len(s.rest) < n {
		return nil, fmt.Errorf("value truncated (%d < %d bytes): %w", len(s.rest), n, io.ErrUnexpectedEOF)
	}
	out := s.rest[:n]
	s.rest = s.rest[n:]
	s.offset += n
	return out, nil
}

// Bool scans a single byte from the head of the input and converts it into a
// Boolean value (0 means false, non-zero means true).
func (s *Scanner) Bool() (bool, error) {
	b, err := s.Byte()
	if err != nil {
		return false, err
	}
	return b != 0, nil
}

// Byte scans a single byte from the head of the input.
func (s *Scanner) Byte() (byte, error) {
	v, err := s.take(1)
	if err != nil {
		return 0, err
	}
	return v[0], nil
}

// Peek reports the next byte of input without consuming it.
func (s *Scanner) Peek() (byte, error) {
	if len(s.rest) == 0 {
		return 0, io.ErrUnexpectedEOF
	}
	return s.rest[0], nil
}

// Uint16 parses a big-endian uint16 value from the head of the input.
func (s *Scanner) Uint16() (uint16, error) {
	v, err := s.take(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(v), nil
}

// Uint32 parses a big-endian uint32 value from the head of the input.
func (s *Scanner) Uint32() (uint32, error) {
	v, err := s.take(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(v), nil
}

// Int16 parses a big-endian int16 value from the head of the input.
func (s *Scanner) Int16() (int16, error) {
	v, err := s.Uint16()
	return int16(v), err
}

// Int32 parses a big-endian int32 value from the head of the input.
func (s *Scanner) Int32() (int32, error) {
	v, err := s.Uint32()
	return int32(v), err
}

// Float32 parses a big-endian IEEE 754 float32 value from the head of the input.
func (s *Scanner) Float32() (float32, error) {
	v, err := s.Uint32()
	return math.Float32frombits(v), err
}

// String32 parses a single length-prefixed string from the head of s.
// The length must be encoded as a big-endian uint32, and is checked against
// the remaining input before any data are consumed.
func (s *Scanner) String32() (string, error) {
	if len(s.rest) < 4 {
		return "", fmt.Errorf("length truncated (%d < 4 bytes): %w", len(s.rest), io.ErrUnexpectedEOF)
	}
	n := binary.BigEndian.Uint32(s.rest)
	if uint64(n) > uint64(len(s.rest)-4) {
		return "", fmt.Errorf("string truncated (%d < %d bytes): %w", len(s.rest)-4, n, io.ErrUnexpectedEOF)
	}
	s.take(4)
	v, _ := s.take(int(n))
	return string(v), nil
}

// Len reports the number of remaining unconsumed input bytes in s.
func (s *Scanner) Len() int { return len(s.rest) }

// Offset reports the offset (0-based) of the next unconsumed input byte in s.
func (s *Scanner) Offset() int { return s.offset }

// Rest returns a slice of the remaining unconsumed input of s.
// The reported slice is only valid until the next call to a method of s,
// and the caller must not modify its contents.
func (s *Scanner) Rest() []byte { return s.rest }

// Get returns a string of exactly n bytes from the head of the input.
// If the full requested amount is not available, nothing is consumed and an
// error is returned.  When the result is a slice, the value aliases the
// input, and the caller must not modify its contents.
func Get[Str ~string | ~[]byte](s *Scanner, n int) (Str, error) {
	var zero Str
	if n < 0 {
		return zero, fmt.Errorf("invalid length %d", n)
	}
	v, err := s.take(n)
	if err != nil {
		return zero, err
	}
	return Str(v), nil
}
