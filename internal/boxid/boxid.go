// Package boxid generates and validates box identifiers.
package boxid

import (
	"strings"

	"github.com/oklog/ulid/v2"
)

// ID is a 26-character, lexicographically sortable-by-creation-time box
// identifier.
type ID string

// New allocates a fresh ID. IDs are monotonic within a process: two IDs
// generated in the same millisecond still sort by allocation order.
func New() ID {
	return ID(ulid.Make().String())
}

// Valid reports whether s is a syntactically well-formed ID.
func Valid(s string) bool {
	if len(s) != ulid.EncodedSize {
		return false
	}
	_, err := ulid.ParseStrict(s)
	return err == nil
}

func (id ID) String() string { return string(id) }

// Short returns the trailing 8 characters, useful for log lines and
// directory names where the full 26-char form is noisy.
func (id ID) Short() string {
	s := string(id)
	if len(s) <= 8 {
		return s
	}
	return s[len(s)-8:]
}

// HasBoxID reports whether s (typically a process cmdline) contains the
// literal text of id, used for PID-reuse defense in process identity
// verification.
func HasBoxID(s string, id ID) bool {
	return strings.Contains(s, string(id))
}
