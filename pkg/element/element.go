// Package element defines the contracts concrete agent models implement
// and the narrow capability handle the core exposes back to them.
//
// Agent ↔ Model is a back-reference, not an ownership cycle: the model
// owns agents, agents see the model only through Handle (schedule events,
// register requests/watches, look up elements, signal state changes).
package element

import "github.com/mabmrun/mabm/pkg/identity"

// Element is anything the Directory can hold: a local Agent or a remote
// Shadow. Both expose their own Identity; nothing else is required here —
// callers that need to distinguish a local Agent from a Shadow use a type
// assertion against the concrete interfaces below.
type Element interface {
	ID() identity.Identity
}

// Agent is the authoritative, mutable representation of one simulated
// actor, owned by exactly one process (its HomeProcess).
type Agent interface {
	Element

	// Update advances local state for the current tick. It may call back
	// into Handle to schedule future events, register requests/watches, or
	// signal that its state changed.
	Update()

	// Serialize returns a transport-serializable snapshot of the subset of
	// state Shadows need to observe.
	Serialize() any

	// PublishRequests is invoked once per tick, in request mode, before the
	// tick's exchange. It must call Handle.Request for each remote id this
	// agent will read during its own Update this tick.
	PublishRequests()

	// AddNeighbor installs a cross-process edge discovered during topology
	// bootstrap.
	AddNeighbor(id identity.Identity)
}

// Shadow is a read-only replica of a remote Agent, refreshed in place by
// the sync engine whenever a fresh snapshot arrives.
type Shadow interface {
	Element

	// Apply refreshes the shadow's snapshot in place.
	Apply(payload any)
}

// ShadowFactory constructs a Shadow from a freshly-decoded Identity and the
// serialized payload carried by the first snapshot the sync engine applies
// for it.
type ShadowFactory func(id identity.Identity, payload any) Shadow

// AgentFactory constructs a local Agent given its newly-minted Identity and
// model-specific construction arguments.
type AgentFactory func(id identity.Identity, args ...any) Agent

// Handle is the capability surface the core exposes to agent code. It is
// the only way an Agent may reach the model — there is no broader access,
// keeping agent↔model a narrow back-reference rather than a shared God
// object.
type Handle interface {
	// AddEvent schedules element e to fire at the given simulated time.
	AddEvent(time float64, e Agent)

	// NotifyStateChange signals that a local agent's state changed this
	// tick, so any standing watchers see a fresh snapshot at the next
	// sync.
	NotifyStateChange(id identity.Identity)

	// Request registers a one-shot interest in id's current state,
	// resolved at the next sync (request mode).
	Request(id identity.Identity)

	// RequestWatch registers (or upgrades to) a standing subscription on
	// id; WATCH dominates a PLAIN request for the same id in the same
	// tick.
	RequestWatch(id identity.Identity)

	// GetElement returns the Element currently representing id on this
	// process — the local Agent if HomeProcess is this rank, otherwise
	// the current Shadow.
	GetElement(id identity.Identity) (Element, error)

	// Time returns the current simulated time.
	Time() float64
}
