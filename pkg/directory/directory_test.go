package directory

import (
	"errors"
	"testing"

	"github.com/mabmrun/mabm/pkg/identity"
	"github.com/mabmrun/mabm/pkg/mabmerr"
)

type fakeElement struct {
	id    identity.Identity
	state int
}

func (f *fakeElement) ID() identity.Identity { return f.id }

func TestInsertAndLookup(t *testing.T) {
	d := New()
	id := identity.New(0, 1, 0)
	e := &fakeElement{id: id, state: 7}
	d.Insert(e)

	got, err := d.Lookup(id)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if got.(*fakeElement).state != 7 {
		t.Fatalf("Lookup returned wrong element: %+v", got)
	}
}

func TestLookupMissIsUnknownElement(t *testing.T) {
	d := New()
	_, err := d.Lookup(identity.New(0, 1, 0))
	if !errors.Is(err, mabmerr.ErrUnknownElement) {
		t.Fatalf("Lookup miss: got %v, want ErrUnknownElement", err)
	}
}

func TestInsertOverwritesPriorEntry(t *testing.T) {
	d := New()
	id := identity.New(0, 1, 0)
	d.Insert(&fakeElement{id: id, state: 1})
	d.Insert(&fakeElement{id: id, state: 2})

	got, _ := d.Lookup(id)
	if got.(*fakeElement).state != 2 {
		t.Fatalf("Insert did not overwrite: got state %d, want 2", got.(*fakeElement).state)
	}
	if d.Len() != 1 {
		t.Fatalf("overwrite should not grow directory: Len()=%d", d.Len())
	}
}

func TestContains(t *testing.T) {
	d := New()
	id := identity.New(0, 1, 0)
	if d.Contains(id) {
		t.Fatal("empty directory should not contain id")
	}
	d.Insert(&fakeElement{id: id})
	if !d.Contains(id) {
		t.Fatal("directory should contain id after Insert")
	}
}

func TestLookupStringAndContainsString(t *testing.T) {
	d := New()
	id := identity.New(2, 5, 1)
	d.Insert(&fakeElement{id: id})

	key := id.Encode()
	if !d.ContainsString(key) {
		t.Fatal("ContainsString: expected true for inserted key")
	}
	if _, err := d.LookupString(key); err != nil {
		t.Fatalf("LookupString: %v", err)
	}
}
