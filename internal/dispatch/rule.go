// Package dispatch decides whether an inbound change event should start a
// run. The engine is a pure function over a configured rule list and one
// event; deduplication happens at the webhook boundary before dispatch is
// consulted.
package dispatch

import (
	"fmt"
	"strings"

	"github.com/foremanhq/foreman/internal/event"
)

// MatchKind selects which matcher a rule uses.
type MatchKind string

const (
	MatchLabel   MatchKind = "label"
	MatchHashtag MatchKind = "hashtag"
	MatchMention MatchKind = "mention"
)

// Action is the workflow a matched rule starts.
type Action string

const (
	ActionImplement Action = "implement"
	ActionReview    Action = "review"
	ActionReply     Action = "reply"
	ActionPublish   Action = "publish"
)

// Rule is one configured trigger. Rules are loaded at startup and immutable
// for the life of the rule set; a config reload swaps the whole set.
type Rule struct {
	Name       string            `yaml:"name"`
	Match      MatchKind         `yaml:"match"`
	Value      string            `yaml:"value"`
	Action     Action            `yaml:"action"`
	Operations []event.Operation `yaml:"operations"`
	Agent      string            `yaml:"agent,omitempty"`
}

// AllowsOperation reports whether the rule fires for op.
func (r *Rule) AllowsOperation(op event.Operation) bool {
	for _, allowed := range r.Operations {
		if allowed == op {
			return true
		}
	}
	return false
}

// Validate checks the rule's structural invariants. Violations are
// configuration errors: fatal at load time, never surfaced mid-run.
func (r *Rule) Validate() error {
	switch r.Match {
	case MatchLabel, MatchHashtag, MatchMention:
	default:
		return fmt.Errorf("rule %q: unknown match kind %q", r.Name, r.Match)
	}
	if strings.TrimSpace(r.Value) == "" {
		return fmt.Errorf("rule %q: match value is required", r.Name)
	}
	switch r.Action {
	case ActionImplement, ActionReview, ActionReply, ActionPublish:
	default:
		return fmt.Errorf("rule %q: unknown action %q", r.Name, r.Action)
	}
	if len(r.Operations) == 0 {
		return fmt.Errorf("rule %q: at least one operation is required", r.Name)
	}
	for _, op := range r.Operations {
		switch op {
		case event.OpCreated, event.OpUpdated, event.OpRemoved:
		default:
			return fmt.Errorf("rule %q: unknown operation %q", r.Name, op)
		}
	}
	if r.Match == MatchMention {
		if r.Agent == "" {
			return fmt.Errorf("rule %q: mention rules must name an agent", r.Name)
		}
		if r.Action != ActionReply {
			return fmt.Errorf("rule %q: mention rules only support the reply action", r.Name)
		}
	}
	if (r.Action == ActionReview || r.Action == ActionPublish) && r.Match != MatchLabel {
		return fmt.Errorf("rule %q: %s requires a label match", r.Name, r.Action)
	}
	return nil
}

// ValidateRules validates every rule in order.
func ValidateRules(rules []Rule) error {
	for i := range rules {
		if err := rules[i].Validate(); err != nil {
			return err
		}
	}
	return nil
}
