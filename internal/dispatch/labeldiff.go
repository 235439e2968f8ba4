package dispatch

import (
	"strings"

	"github.com/foremanhq/foreman/internal/event"
)

// labelNewlyAdded reports whether the wanted label was introduced by this
// event, as opposed to merely being present on the item.
//
// Created items count every label as newly added. Updated items fire only
// when the label's ID is in the current set but absent from the previous
// snapshot. When the event carries no previous snapshot the answer is false:
// re-triggering a run on every edit of an already-labeled item is worse than
// missing an add we cannot prove happened.
func labelNewlyAdded(wanted string, ev *event.ChangeEvent) bool {
	var current *event.Label
	for i := range ev.Labels {
		if strings.EqualFold(ev.Labels[i].Name, wanted) {
			current = &ev.Labels[i]
			break
		}
	}
	if current == nil {
		return false
	}

	switch ev.Operation {
	case event.OpCreated:
		return true
	case event.OpUpdated:
		if !ev.HasPreviousLabels {
			return false
		}
		for _, id := range ev.PreviousLabelIDs {
			if id == current.ID {
				return false
			}
		}
		return true
	default:
		return false
	}
}
