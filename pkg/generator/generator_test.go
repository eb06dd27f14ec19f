package generator

import (
	"errors"
	"testing"

	"github.com/mabmrun/mabm/pkg/element"
	"github.com/mabmrun/mabm/pkg/identity"
	"github.com/mabmrun/mabm/pkg/mabmerr"
)

type fakeAgent struct{ id identity.Identity }

func (f *fakeAgent) ID() identity.Identity    { return f.id }
func (f *fakeAgent) Update()                  {}
func (f *fakeAgent) Serialize() any           { return nil }
func (f *fakeAgent) PublishRequests()         {}
func (f *fakeAgent) AddNeighbor(identity.Identity) {}

type fakeShadow struct {
	id      identity.Identity
	payload any
}

func (f *fakeShadow) ID() identity.Identity { return f.id }
func (f *fakeShadow) Apply(payload any)     { f.payload = payload }

func agentFactory(id identity.Identity, _ ...any) element.Agent { return &fakeAgent{id: id} }
func shadowFactory(id identity.Identity, payload any) element.Shadow {
	return &fakeShadow{id: id, payload: payload}
}

func TestMintAllocatesContiguousOrdinals(t *testing.T) {
	g := New(2)
	g.Register(0, agentFactory, shadowFactory)

	for want := 0; want < 5; want++ {
		id, err := g.Mint(0)
		if err != nil {
			t.Fatalf("Mint: %v", err)
		}
		if id.Ordinal != want {
			t.Fatalf("Mint ordinal: got %d, want %d", id.Ordinal, want)
		}
		if id.HomeProcess != 2 || id.BirthProcess != 2 {
			t.Fatalf("Mint process fields: got home=%d birth=%d, want 2,2", id.HomeProcess, id.BirthProcess)
		}
	}
}

func TestMintUnregisteredTypeFails(t *testing.T) {
	g := New(0)
	_, err := g.Mint(99)
	if !errors.Is(err, mabmerr.ErrUnknownType) {
		t.Fatalf("Mint unregistered: got %v, want ErrUnknownType", err)
	}
}

func TestOrdinalsIndependentPerType(t *testing.T) {
	g := New(0)
	g.Register(0, agentFactory, shadowFactory)
	g.Register(1, agentFactory, shadowFactory)

	a0, _ := g.Mint(0)
	a1, _ := g.Mint(1)
	a2, _ := g.Mint(0)

	if a0.Ordinal != 0 || a2.Ordinal != 1 {
		t.Fatalf("type 0 ordinals: got %d, %d, want 0, 1", a0.Ordinal, a2.Ordinal)
	}
	if a1.Ordinal != 0 {
		t.Fatalf("type 1 first ordinal: got %d, want 0", a1.Ordinal)
	}
}

func TestShadowFactoryForUnregisteredFails(t *testing.T) {
	g := New(0)
	_, err := g.ShadowFactoryFor(5)
	if !errors.Is(err, mabmerr.ErrUnknownType) {
		t.Fatalf("ShadowFactoryFor unregistered: got %v, want ErrUnknownType", err)
	}
}

func TestShadowFactoryForBuildsShadow(t *testing.T) {
	g := New(0)
	g.Register(0, agentFactory, shadowFactory)
	factory, err := g.ShadowFactoryFor(0)
	if err != nil {
		t.Fatalf("ShadowFactoryFor: %v", err)
	}
	id := identity.New(0, 1, 3)
	s := factory(id, 42)
	if s.ID() != id {
		t.Fatalf("shadow id: got %v, want %v", s.ID(), id)
	}
}
