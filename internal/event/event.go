// Package event defines the normalized change notifications that drive
// trigger dispatch. Events are produced by the webhook boundary after
// signature verification; nothing downstream ever sees raw payload bytes.
package event

import "fmt"

// Kind identifies what class of tracker object changed.
type Kind string

const (
	KindItemChanged   Kind = "item_changed"
	KindCommentPosted Kind = "comment_posted"
)

// Operation identifies what happened to the object.
type Operation string

const (
	OpCreated Operation = "created"
	OpUpdated Operation = "updated"
	OpRemoved Operation = "removed"
)

// Label is a tracker label with its stable numeric ID. IDs are what the
// label-add detector compares across snapshots; names are what rules match.
type Label struct {
	ID   int64
	Name string
}

// ChangeEvent is one normalized external notification. It is immutable once
// constructed: built once per inbound delivery, discarded after dispatch.
type ChangeEvent struct {
	Kind      Kind
	Operation Operation

	// SubjectID identifies the tracker item (issue number for GitHub).
	SubjectID int

	// DeliveryID is the transport-level delivery identity, if the source
	// provides one. Used for deduplication; may be empty.
	DeliveryID string

	// Labels is the item's current label set, with IDs.
	Labels []Label

	// PreviousLabelIDs is the label-ID set before this update. Only
	// meaningful when HasPreviousLabels is true; update events without a
	// prior-state snapshot must leave it false so the label-add detector
	// stays quiet rather than re-firing on every edit.
	PreviousLabelIDs  []int64
	HasPreviousLabels bool

	// CommentBody is set for comment events.
	CommentBody string

	// Sender is the login of the user who caused the event, when known.
	Sender string
}

// HasLabel reports whether the current label set contains name (exact,
// case-sensitive; callers normalize).
func (e *ChangeEvent) HasLabel(name string) bool {
	for _, l := range e.Labels {
		if l.Name == name {
			return true
		}
	}
	return false
}

// LabelNames returns the current label names in order.
func (e *ChangeEvent) LabelNames() []string {
	names := make([]string, 0, len(e.Labels))
	for _, l := range e.Labels {
		names = append(names, l.Name)
	}
	return names
}

// DedupKey returns the identity used by the deduplication guard: the
// delivery ID when present, otherwise a stable composite of the event's
// coordinates.
func (e *ChangeEvent) DedupKey() string {
	if e.DeliveryID != "" {
		return e.DeliveryID
	}
	return fmt.Sprintf("%s/%s/%d", e.Kind, e.Operation, e.SubjectID)
}
