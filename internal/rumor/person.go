// Package rumor is a demonstration agent model, translated from
// original_source/rumor_model/person.py: a population of Persons
// spreading knowledge of a rumor, with the probability of hearing it
// proportional to the fraction of neighbors who already know.
//
// This package is a consumer of pkg/ — it never reaches into the core
// runtime's internals, only the Agent/Shadow/Handle contracts every
// concrete model is expected to use.
package rumor

import (
	"math/rand"

	"github.com/mabmrun/mabm/pkg/element"
	"github.com/mabmrun/mabm/pkg/identity"
)

// Type is the registered type tag for Person/PersonShadow.
const Type = 0

// Person is the authoritative rumor-spreading agent. State 0 means it
// hasn't heard the rumor yet; 1 means it has.
type Person struct {
	id        identity.Identity
	state     int
	neighbors []identity.Identity
	handle    element.Handle
	rng       *rand.Rand
}

// NewPerson constructs a Person with the given initial knowledge state,
// registering its first event at time 0 the way person.py's constructor
// calls add_event(0) unconditionally (add_event itself is a no-op once
// state is already 1).
func NewPerson(id identity.Identity, state int, handle element.Handle, rng *rand.Rand) *Person {
	p := &Person{id: id, state: state, handle: handle, rng: rng}
	p.scheduleIfIgnorant(0)
	return p
}

func (p *Person) scheduleIfIgnorant(time float64) {
	if p.state == 0 {
		p.handle.AddEvent(time, p)
	}
}

// ID satisfies element.Element/Agent.
func (p *Person) ID() identity.Identity { return p.id }

// State returns the current knowledge state (0 or 1).
func (p *Person) State() int { return p.state }

// AddNeighbor installs an edge discovered by topology bootstrap or a
// model builder reading pkg/topology's adjacency list.
func (p *Person) AddNeighbor(id identity.Identity) { p.neighbors = append(p.neighbors, id) }

// Neighbors returns the agent's current neighbor list.
func (p *Person) Neighbors() []identity.Identity { return p.neighbors }

// Serialize returns the 0/1 knowledge state Shadows replicate.
func (p *Person) Serialize() any { return p.state }

// PublishRequests names every neighbor id this Person will read during
// Update this tick (request mode only; see person.py's get_element_requests).
func (p *Person) PublishRequests() {
	for _, n := range p.neighbors {
		p.handle.Request(n)
	}
}

// knows reports the knowledge state of any Element a Handle might return
// for a neighbor — either a local Person or a remote PersonShadow.
func knows(el element.Element) int {
	switch v := el.(type) {
	case *Person:
		return v.state
	case *PersonShadow:
		return v.state
	default:
		return 0
	}
}

// Update recomputes probability_of_hearing as the fraction of neighbors
// who already know, then draws against it — exactly person.py's update().
// A Person who doesn't hear the rumor this tick re-schedules itself for
// the next tick.
func (p *Person) Update() {
	if p.state != 0 || len(p.neighbors) == 0 {
		return
	}

	knowCount := 0
	for _, n := range p.neighbors {
		el, err := p.handle.GetElement(n)
		if err != nil {
			continue
		}
		knowCount += knows(el)
	}

	probability := float64(knowCount) / float64(len(p.neighbors))
	if p.rng.Float64() <= probability {
		p.state = 1
		p.handle.NotifyStateChange(p.id)
		return
	}

	p.handle.AddEvent(p.handle.Time()+1, p)
}

// PersonShadow is a read-only replica of a remote Person, refreshed by
// the sync engine — translated from person_form.py's PersonForm.
type PersonShadow struct {
	id    identity.Identity
	state int
}

// NewPersonShadow is the element.ShadowFactory for Type, constructing a
// shadow from a freshly decoded Identity and its first snapshot.
func NewPersonShadow(id identity.Identity, payload any) element.Shadow {
	return &PersonShadow{id: id, state: decodeState(payload)}
}

// ID satisfies element.Element/Shadow.
func (s *PersonShadow) ID() identity.Identity { return s.id }

// State returns the last snapshot's knowledge state.
func (s *PersonShadow) State() int { return s.state }

// Apply refreshes the shadow in place — person_form.py's update(). A
// payload that is neither an int nor a float64 leaves the state unchanged.
func (s *PersonShadow) Apply(payload any) {
	switch payload.(type) {
	case int, float64:
		s.state = decodeState(payload)
	}
}

// decodeState reads a knowledge state out of a sync payload. chantransport
// hands the native int straight through, but sqltransport and
// kafkatransport round-trip every value through encoding/json, which
// always decodes a JSON number into a float64 — so both representations
// have to be accepted here.
func decodeState(payload any) int {
	switch v := payload.(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return 0
	}
}

// AgentFactory adapts NewPerson to element.AgentFactory, for registration
// with a Generator. The model builder passes the agent's Handle and PRNG
// as construction args (args[0], args[1]); state is always minted as 0 —
// callers that want a pre-seeded knower construct the Person directly and
// insert it, as the rumor model builder does for its initial knowers.
func AgentFactory(id identity.Identity, args ...any) element.Agent {
	var handle element.Handle
	var rng *rand.Rand
	if len(args) > 0 {
		handle, _ = args[0].(element.Handle)
	}
	if len(args) > 1 {
		rng, _ = args[1].(*rand.Rand)
	}
	return NewPerson(id, 0, handle, rng)
}
