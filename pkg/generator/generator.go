// Package generator mints Identities and looks up the per-type
// constructors the sync engine and runtime need to build Agents and
// Shadows.
package generator

import (
	"fmt"

	"github.com/mabmrun/mabm/pkg/element"
	"github.com/mabmrun/mabm/pkg/identity"
	"github.com/mabmrun/mabm/pkg/mabmerr"
)

// typeEntry pairs the two factories a registered type needs: one to build
// the authoritative Agent, one to build its Shadow.
type typeEntry struct {
	agentFactory  element.AgentFactory
	shadowFactory element.ShadowFactory
}

// Generator is the per-process monotonic ordinal allocator, keyed by type
// tag, plus the type registry mapping a tag to its factory pair.
type Generator struct {
	process     int
	registry    map[int]typeEntry
	nextOrdinal map[int]int
}

// New returns a Generator that mints identities homed on process.
func New(process int) *Generator {
	return &Generator{
		process:     process,
		registry:    make(map[int]typeEntry),
		nextOrdinal: make(map[int]int),
	}
}

// Register associates a type tag with the factories used to build its
// Agent and Shadow. Must be called before any Mint for that type.
func (g *Generator) Register(typ int, agentFactory element.AgentFactory, shadowFactory element.ShadowFactory) {
	g.registry[typ] = typeEntry{agentFactory: agentFactory, shadowFactory: shadowFactory}
	if _, ok := g.nextOrdinal[typ]; !ok {
		g.nextOrdinal[typ] = 0
	}
}

// Mint allocates the next Identity for typ, homed and born on this
// process. Ordinal uniqueness within (typ, process) follows from the
// monotonic counter; cross-process uniqueness follows from each process
// minting only identities with its own BirthProcess.
func (g *Generator) Mint(typ int) (identity.Identity, error) {
	if _, ok := g.registry[typ]; !ok {
		return identity.Identity{}, fmt.Errorf("%w: %d", mabmerr.ErrUnknownType, typ)
	}
	ordinal := g.nextOrdinal[typ]
	g.nextOrdinal[typ] = ordinal + 1
	return identity.New(typ, ordinal, g.process), nil
}

// ShadowFactoryFor returns the shadow constructor registered for typ.
func (g *Generator) ShadowFactoryFor(typ int) (element.ShadowFactory, error) {
	entry, ok := g.registry[typ]
	if !ok {
		return nil, fmt.Errorf("%w: %d", mabmerr.ErrUnknownType, typ)
	}
	return entry.shadowFactory, nil
}

// AgentFactoryFor returns the agent constructor registered for typ.
func (g *Generator) AgentFactoryFor(typ int) (element.AgentFactory, error) {
	entry, ok := g.registry[typ]
	if !ok {
		return nil, fmt.Errorf("%w: %d", mabmerr.ErrUnknownType, typ)
	}
	return entry.agentFactory, nil
}
