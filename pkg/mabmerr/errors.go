// Package mabmerr defines the sentinel error taxonomy shared across the
// core: identity, directory, scheduler, sync engine and transport all wrap
// one of these with context via fmt.Errorf's %w, so callers can branch
// with errors.Is instead of string matching.
package mabmerr

import "errors"

var (
	// ErrUnknownType is returned when mint or a shadow-factory lookup names
	// a type tag that was never registered with the generator.
	ErrUnknownType = errors.New("mabm: unknown type")

	// ErrUnknownElement is returned on a directory lookup miss.
	ErrUnknownElement = errors.New("mabm: unknown element")

	// ErrMalformedID is returned when a canonical id string fails to
	// decode, or when a sync-engine request resolves to no owning peer.
	ErrMalformedID = errors.New("mabm: malformed identity")

	// ErrTransport is returned when a collective primitive fails.
	ErrTransport = errors.New("mabm: transport failure")

	// ErrConfig is returned for invalid startup configuration.
	ErrConfig = errors.New("mabm: invalid configuration")
)
