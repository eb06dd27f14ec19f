// Package directory maps canonical identity strings to the Element
// currently representing them on this process — a local Agent for
// identities homed here, a Shadow otherwise.
package directory

import (
	"fmt"

	"github.com/mabmrun/mabm/pkg/element"
	"github.com/mabmrun/mabm/pkg/identity"
	"github.com/mabmrun/mabm/pkg/mabmerr"
)

// Directory is process-local and single-owner — no locking needed, since
// agent updates on one process are strictly single threaded.
type Directory struct {
	elements map[string]element.Element
}

// New returns an empty Directory.
func New() *Directory {
	return &Directory{elements: make(map[string]element.Element)}
}

// Insert stores e under the canonical encoding of its Identity, overwriting
// any prior entry under the same key — this is how a Shadow is refreshed
// with a freshly constructed replacement (the common path is in-place
// Apply instead, but Insert supports the first-sight case too).
func (d *Directory) Insert(e element.Element) {
	d.elements[e.ID().Encode()] = e
}

// Lookup returns the Element stored under id, or ErrUnknownElement.
func (d *Directory) Lookup(id identity.Identity) (element.Element, error) {
	return d.LookupString(id.Encode())
}

// LookupString is Lookup for callers that already have the canonical
// string (e.g. sync-engine stages working directly off wire keys).
func (d *Directory) LookupString(key string) (element.Element, error) {
	e, ok := d.elements[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", mabmerr.ErrUnknownElement, key)
	}
	return e, nil
}

// Contains reports whether id has an entry in the directory.
func (d *Directory) Contains(id identity.Identity) bool {
	return d.ContainsString(id.Encode())
}

// ContainsString is Contains for a canonical key already in hand.
func (d *Directory) ContainsString(key string) bool {
	_, ok := d.elements[key]
	return ok
}

// Len returns the number of elements currently tracked.
func (d *Directory) Len() int { return len(d.elements) }
