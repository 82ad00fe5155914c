// Package ident generates the opaque identifiers used for stored documents and
// request traces.
package ident

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const crockfordAlphabet = "0123456789abcdefghjkmnpqrstvwxyz" // Crockford's Base32, lowercase

// Length is the number of characters in an identifier returned by New.
const Length = 26

// New returns a time-ordered identifier: a UUIDv7 rendered in lowercase
// Crockford base32. Identifiers generated later sort after earlier ones at
// millisecond granularity.
func New() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("new uuid: %w", err)
	}

	return Encode(id[:]), nil
}

// MustNew is New for callers that cannot recover from an exhausted entropy source.
func MustNew() string {
	id, err := New()
	if err != nil {
		panic(err)
	}

	return id
}

// Encode renders input in lowercase Crockford base32 without padding.
//
//nolint:gosec
func Encode(input []byte) string {
	var (
		out   bytes.Buffer
		bits  = 0
		accum = 0
	)

	out.Grow((len(input)*8 + 4) / 5)

	for _, b := range input {
		accum = accum<<8 | int(b)
		bits += 8

		for bits >= 5 {
			bits -= 5
			out.WriteByte(crockfordAlphabet[(accum>>bits)&0x1F])
		}
	}

	if bits > 0 {
		out.WriteByte(crockfordAlphabet[(accum<<uint(5-bits))&0x1F])
	}

	return out.String()
}

// Normalize folds a human-typed identifier onto the canonical alphabet:
// whitespace and hyphens are dropped, case is folded, 'o' reads as '0' and
// 'i'/'l' read as '1'.
func Normalize(input string) string {
	var out strings.Builder

	for _, char := range strings.ToLower(input) {
		switch char {
		case ' ', '\t', '\n', '-':
			continue
		case 'o':
			out.WriteRune('0')
		case 'i', 'l':
			out.WriteRune('1')
		default:
			out.WriteRune(char)
		}
	}

	return out.String()
}

// Valid reports whether id has the shape of an identifier produced by New.
func Valid(id string) bool {
	if len(id) != Length {
		return false
	}

	for _, char := range id {
		if !strings.ContainsRune(crockfordAlphabet, char) {
			return false
		}
	}

	return true
}
