package dispatch

import (
	"regexp"
	"strings"
	"sync"

	"github.com/foremanhq/foreman/internal/event"
)

// Decision is the outcome of matching one event against the rule set.
type Decision struct {
	Rule   *Rule
	Action Action
}

// compiledRule pairs a rule with its prepared matcher so the per-event path
// never compiles regexes.
type compiledRule struct {
	rule    Rule
	matches func(*event.ChangeEvent) bool
}

// Engine matches events against an ordered rule set. The rule set is
// read-mostly: swapped whole on config reload, never mutated during event
// processing, so concurrent dispatch calls only take a read lock.
type Engine struct {
	mu       sync.RWMutex
	compiled []compiledRule
}

// NewEngine creates an engine over the given rules. The rules must already
// be validated.
func NewEngine(rules []Rule) *Engine {
	e := &Engine{}
	e.SetRules(rules)
	return e
}

// SetRules atomically replaces the rule set (config reload).
func (e *Engine) SetRules(rules []Rule) {
	compiled := make([]compiledRule, len(rules))
	for i, r := range rules {
		compiled[i] = compiledRule{rule: r, matches: buildMatcher(r)}
	}
	e.mu.Lock()
	e.compiled = compiled
	e.mu.Unlock()
}

// Rules returns a copy of the current rule set.
func (e *Engine) Rules() []Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	rules := make([]Rule, len(e.compiled))
	for i := range e.compiled {
		rules[i] = e.compiled[i].rule
	}
	return rules
}

// Dispatch returns the first rule, in configured order, whose operations
// include the event's operation and whose matcher accepts the event. Later
// rules are not evaluated once one matches. Returns nil when nothing
// matches. Pure over its inputs: no side effects, no state advanced.
func (e *Engine) Dispatch(ev *event.ChangeEvent) *Decision {
	e.mu.RLock()
	compiled := e.compiled
	e.mu.RUnlock()

	for i := range compiled {
		cr := &compiled[i]
		if !cr.rule.AllowsOperation(ev.Operation) {
			continue
		}
		if cr.matches(ev) {
			return &Decision{Rule: &cr.rule, Action: cr.rule.Action}
		}
	}
	return nil
}

func buildMatcher(r Rule) func(*event.ChangeEvent) bool {
	switch r.Match {
	case MatchLabel:
		wanted := r.Value
		return func(ev *event.ChangeEvent) bool {
			return matchLabel(wanted, ev)
		}
	case MatchHashtag:
		re := hashtagPattern(r.Value)
		return func(ev *event.ChangeEvent) bool {
			return ev.Kind == event.KindCommentPosted && re != nil && re.MatchString(ev.CommentBody)
		}
	case MatchMention:
		re := mentionPattern(r.Value)
		return func(ev *event.ChangeEvent) bool {
			return ev.Kind == event.KindCommentPosted && re != nil && re.MatchString(ev.CommentBody)
		}
	default:
		return func(*event.ChangeEvent) bool { return false }
	}
}

// matchLabel accepts item events carrying the label. Updates additionally
// require the label to be newly added in this event (see labelNewlyAdded);
// a label that was already present does not re-trigger.
func matchLabel(wanted string, ev *event.ChangeEvent) bool {
	if ev.Kind != event.KindItemChanged {
		return false
	}
	switch ev.Operation {
	case event.OpCreated, event.OpUpdated:
		return labelNewlyAdded(wanted, ev)
	default:
		return false
	}
}

// hashtagPattern matches the tag anywhere in a comment as a whole word,
// case-insensitively: "#fix-ci" does not match inside "#fix-cint".
func hashtagPattern(tag string) *regexp.Regexp {
	tag = strings.TrimPrefix(tag, "#")
	if tag == "" {
		return nil
	}
	return regexp.MustCompile(`(?i)(^|\s)#` + regexp.QuoteMeta(tag) + `\b`)
}

// mentionPattern requires the mention at the start of the comment body,
// tolerating leading whitespace.
func mentionPattern(name string) *regexp.Regexp {
	name = strings.TrimPrefix(name, "@")
	if name == "" {
		return nil
	}
	return regexp.MustCompile(`(?i)^\s*@` + regexp.QuoteMeta(name) + `\b`)
}
