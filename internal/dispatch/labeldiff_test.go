package dispatch

import (
	"testing"

	"github.com/foremanhq/foreman/internal/event"
)

func TestLabelNewlyAdded(t *testing.T) {
	labels := []event.Label{{ID: 1, Name: "A"}, {ID: 2, Name: "B"}, {ID: 3, Name: "C"}}

	t.Run("added on update fires", func(t *testing.T) {
		ev := labeledEvent(event.OpUpdated, labels, []int64{1, 2}, true)
		if !labelNewlyAdded("C", ev) {
			t.Error("C was added in this update, expected true")
		}
	})

	t.Run("preexisting on update does not fire", func(t *testing.T) {
		ev := labeledEvent(event.OpUpdated, labels, []int64{1, 2}, true)
		if labelNewlyAdded("A", ev) {
			t.Error("A was already present, expected false")
		}
	})

	t.Run("missing snapshot never fires on update", func(t *testing.T) {
		ev := labeledEvent(event.OpUpdated, labels, nil, false)
		for _, name := range []string{"A", "B", "C"} {
			if labelNewlyAdded(name, ev) {
				t.Errorf("no previous snapshot: %s must not fire", name)
			}
		}
	})

	t.Run("empty snapshot means all current labels are new", func(t *testing.T) {
		ev := labeledEvent(event.OpUpdated, labels, []int64{}, true)
		if !labelNewlyAdded("B", ev) {
			t.Error("empty previous set: every current label counts as added")
		}
	})

	t.Run("created fires for any present label", func(t *testing.T) {
		ev := labeledEvent(event.OpCreated, labels, nil, false)
		if !labelNewlyAdded("B", ev) {
			t.Error("created items count all labels as new")
		}
	})

	t.Run("absent label never fires", func(t *testing.T) {
		ev := labeledEvent(event.OpCreated, labels, nil, false)
		if labelNewlyAdded("D", ev) {
			t.Error("label not on the item must not fire")
		}
	})

	t.Run("name match is case-insensitive", func(t *testing.T) {
		ev := labeledEvent(event.OpUpdated, labels, []int64{1}, true)
		if !labelNewlyAdded("c", ev) {
			t.Error("lowercase query should match label C")
		}
	})

	t.Run("removed operation never fires", func(t *testing.T) {
		ev := labeledEvent(event.OpRemoved, labels, []int64{}, true)
		if labelNewlyAdded("C", ev) {
			t.Error("removed operation must not fire")
		}
	})
}
