package webhook

import (
	"encoding/json"
	"fmt"

	"github.com/foremanhq/foreman/internal/event"
)

type ghLabel struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type ghIssue struct {
	Number int       `json:"number"`
	Title  string    `json:"title"`
	Labels []ghLabel `json:"labels"`
}

type ghUser struct {
	Login string `json:"login"`
}

type ghComment struct {
	Body string `json:"body"`
	User ghUser `json:"user"`
}

// ghChanges carries the pre-update snapshot some deliveries include. When
// the snapshot is absent we deliberately report "no prior state" so the
// label-add detector stays quiet instead of re-firing on every edit.
type ghChanges struct {
	Labels *struct {
		Previous []ghLabel `json:"previous"`
	} `json:"labels"`
}

type ghIssuePayload struct {
	Action  string     `json:"action"`
	Issue   ghIssue    `json:"issue"`
	Changes *ghChanges `json:"changes"`
	Sender  ghUser     `json:"sender"`
}

type ghCommentPayload struct {
	Action  string    `json:"action"`
	Issue   ghIssue   `json:"issue"`
	Comment ghComment `json:"comment"`
	Sender  ghUser    `json:"sender"`
}

// Normalize converts a raw webhook delivery into a ChangeEvent. It returns
// (nil, nil) for event kinds Foreman does not act on, so callers can
// acknowledge them without dispatching.
func Normalize(eventName, deliveryID string, body []byte) (*event.ChangeEvent, error) {
	switch eventName {
	case "issues":
		return normalizeIssue(deliveryID, body)
	case "issue_comment":
		return normalizeComment(deliveryID, body)
	default:
		return nil, nil
	}
}

func normalizeIssue(deliveryID string, body []byte) (*event.ChangeEvent, error) {
	var p ghIssuePayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("parsing issues payload: %w", err)
	}

	ev := &event.ChangeEvent{
		Kind:       event.KindItemChanged,
		SubjectID:  p.Issue.Number,
		DeliveryID: deliveryID,
		Labels:     convertLabels(p.Issue.Labels),
		Sender:     p.Sender.Login,
	}

	switch p.Action {
	case "opened":
		ev.Operation = event.OpCreated
	case "deleted":
		ev.Operation = event.OpRemoved
	case "edited", "labeled", "unlabeled", "reopened", "closed":
		ev.Operation = event.OpUpdated
	default:
		return nil, nil
	}

	if p.Changes != nil && p.Changes.Labels != nil {
		ev.HasPreviousLabels = true
		ev.PreviousLabelIDs = make([]int64, 0, len(p.Changes.Labels.Previous))
		for _, l := range p.Changes.Labels.Previous {
			ev.PreviousLabelIDs = append(ev.PreviousLabelIDs, l.ID)
		}
	}
	return ev, nil
}

func normalizeComment(deliveryID string, body []byte) (*event.ChangeEvent, error) {
	var p ghCommentPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("parsing issue_comment payload: %w", err)
	}

	ev := &event.ChangeEvent{
		Kind:        event.KindCommentPosted,
		SubjectID:   p.Issue.Number,
		DeliveryID:  deliveryID,
		Labels:      convertLabels(p.Issue.Labels),
		CommentBody: p.Comment.Body,
		Sender:      p.Comment.User.Login,
	}
	if ev.Sender == "" {
		ev.Sender = p.Sender.Login
	}

	switch p.Action {
	case "created":
		ev.Operation = event.OpCreated
	case "edited":
		ev.Operation = event.OpUpdated
	case "deleted":
		ev.Operation = event.OpRemoved
	default:
		return nil, nil
	}
	return ev, nil
}

func convertLabels(in []ghLabel) []event.Label {
	out := make([]event.Label, 0, len(in))
	for _, l := range in {
		out = append(out, event.Label{ID: l.ID, Name: l.Name})
	}
	return out
}
