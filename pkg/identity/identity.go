// Package identity implements the global agent naming scheme: a 4-tuple
// (Type, Ordinal, HomeProcess, BirthProcess) with a stable, round-trip
// exact text encoding used as the key in every cross-process message and
// in the Directory.
package identity

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/mabmrun/mabm/pkg/mabmerr"
)

// Identity names one agent unambiguously across the whole simulation.
//
// Ordinal is unique within (Type, BirthProcess). BirthProcess is immutable
// for the life of the identity. HomeProcess is immutable too — this design
// has no agent migration (spec Non-goals).
type Identity struct {
	Type         int
	Ordinal      int
	HomeProcess  int
	BirthProcess int
}

// New constructs an Identity minted on birthProcess, currently homed there.
func New(typ, ordinal, birthProcess int) Identity {
	return Identity{Type: typ, Ordinal: ordinal, HomeProcess: birthProcess, BirthProcess: birthProcess}
}

// Encode returns the canonical "type|ordinal|home|birth" text form.
func (id Identity) Encode() string {
	return fmt.Sprintf("%d|%d|%d|%d", id.Type, id.Ordinal, id.HomeProcess, id.BirthProcess)
}

// String satisfies fmt.Stringer with the canonical encoding.
func (id Identity) String() string { return id.Encode() }

// Decode parses the canonical "type|ordinal|home|birth" text form. It
// returns mabmerr.ErrMalformedID (wrapped with the offending string) when
// the field count is wrong or a field is not an integer.
func Decode(s string) (Identity, error) {
	parts := strings.Split(s, "|")
	if len(parts) != 4 {
		return Identity{}, fmt.Errorf("%w: %q has %d fields, want 4", mabmerr.ErrMalformedID, s, len(parts))
	}
	fields := make([]int, 4)
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return Identity{}, fmt.Errorf("%w: %q field %d is not an integer", mabmerr.ErrMalformedID, s, i)
		}
		fields[i] = n
	}
	return Identity{Type: fields[0], Ordinal: fields[1], HomeProcess: fields[2], BirthProcess: fields[3]}, nil
}

// Equal reports whether two identities name the same agent.
func (id Identity) Equal(other Identity) bool {
	return id.Type == other.Type &&
		id.Ordinal == other.Ordinal &&
		id.HomeProcess == other.HomeProcess &&
		id.BirthProcess == other.BirthProcess
}
