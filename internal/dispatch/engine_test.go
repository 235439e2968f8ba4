package dispatch

import (
	"testing"

	"github.com/foremanhq/foreman/internal/event"
)

func labeledEvent(op event.Operation, labels []event.Label, prev []int64, hasPrev bool) *event.ChangeEvent {
	return &event.ChangeEvent{
		Kind:              event.KindItemChanged,
		Operation:         op,
		SubjectID:         42,
		Labels:            labels,
		PreviousLabelIDs:  prev,
		HasPreviousLabels: hasPrev,
	}
}

func commentEvent(body string) *event.ChangeEvent {
	return &event.ChangeEvent{
		Kind:        event.KindCommentPosted,
		Operation:   event.OpCreated,
		SubjectID:   42,
		CommentBody: body,
	}
}

func TestDispatch_LabelOnCreated(t *testing.T) {
	eng := NewEngine([]Rule{{
		Name: "review", Match: MatchLabel, Value: "review",
		Action: ActionReview, Operations: []event.Operation{event.OpCreated, event.OpUpdated},
	}})

	ev := labeledEvent(event.OpCreated, []event.Label{{ID: 1, Name: "review"}}, nil, false)
	d := eng.Dispatch(ev)
	if d == nil {
		t.Fatal("expected a dispatch decision")
	}
	if d.Action != ActionReview {
		t.Errorf("action = %q, want review", d.Action)
	}
}

func TestDispatch_LabelCaseInsensitive(t *testing.T) {
	eng := NewEngine([]Rule{{
		Name: "review", Match: MatchLabel, Value: "Review",
		Action: ActionReview, Operations: []event.Operation{event.OpCreated},
	}})

	ev := labeledEvent(event.OpCreated, []event.Label{{ID: 1, Name: "REVIEW"}}, nil, false)
	if eng.Dispatch(ev) == nil {
		t.Error("label match should be case-insensitive")
	}
}

func TestDispatch_LabelUpdateRequiresNewAdd(t *testing.T) {
	eng := NewEngine([]Rule{{
		Name: "review", Match: MatchLabel, Value: "review",
		Action: ActionReview, Operations: []event.Operation{event.OpUpdated},
	}})

	// Label id 3 is in current but not previous: newly added, fires.
	added := labeledEvent(event.OpUpdated,
		[]event.Label{{ID: 1, Name: "bug"}, {ID: 3, Name: "review"}},
		[]int64{1}, true)
	if eng.Dispatch(added) == nil {
		t.Error("newly added label should dispatch")
	}

	// Label already present before the update: no dispatch.
	present := labeledEvent(event.OpUpdated,
		[]event.Label{{ID: 1, Name: "bug"}, {ID: 3, Name: "review"}},
		[]int64{1, 3}, true)
	if eng.Dispatch(present) != nil {
		t.Error("already-present label must not re-dispatch")
	}
}

func TestDispatch_LabelUpdateWithoutSnapshotNeverFires(t *testing.T) {
	eng := NewEngine([]Rule{{
		Name: "review", Match: MatchLabel, Value: "review",
		Action: ActionReview, Operations: []event.Operation{event.OpUpdated},
	}})

	// No prior-state snapshot: the safe answer is no dispatch, even though
	// the label is present.
	ev := labeledEvent(event.OpUpdated, []event.Label{{ID: 3, Name: "review"}}, nil, false)
	if eng.Dispatch(ev) != nil {
		t.Error("update without previous label snapshot must not dispatch")
	}
}

func TestDispatch_FirstMatchWins(t *testing.T) {
	eng := NewEngine([]Rule{
		{Name: "first", Match: MatchLabel, Value: "go",
			Action: ActionReview, Operations: []event.Operation{event.OpCreated}},
		{Name: "second", Match: MatchLabel, Value: "go",
			Action: ActionImplement, Operations: []event.Operation{event.OpCreated}},
	})

	ev := labeledEvent(event.OpCreated, []event.Label{{ID: 9, Name: "go"}}, nil, false)
	d := eng.Dispatch(ev)
	if d == nil {
		t.Fatal("expected a decision")
	}
	if d.Rule.Name != "first" {
		t.Errorf("matched rule %q, want first (configured order wins)", d.Rule.Name)
	}
}

func TestDispatch_OperationGate(t *testing.T) {
	eng := NewEngine([]Rule{{
		Name: "review", Match: MatchLabel, Value: "review",
		Action: ActionReview, Operations: []event.Operation{event.OpCreated},
	}})

	ev := labeledEvent(event.OpUpdated, []event.Label{{ID: 3, Name: "review"}}, []int64{}, true)
	if eng.Dispatch(ev) != nil {
		t.Error("rule limited to created must not fire on updated")
	}
}

func TestDispatch_Hashtag(t *testing.T) {
	eng := NewEngine([]Rule{{
		Name: "fix-ci", Match: MatchHashtag, Value: "#fix-ci",
		Action: ActionImplement, Operations: []event.Operation{event.OpCreated},
	}})

	cases := []struct {
		body string
		want bool
	}{
		{"please #fix-ci now", true},
		{"#FIX-CI", true},
		{"no tags here", false},
		{"prefix#fix-ci glued to a word", false},
		{"#fix-cint is not the tag", false},
		{"", false},
	}
	for _, tc := range cases {
		got := eng.Dispatch(commentEvent(tc.body)) != nil
		if got != tc.want {
			t.Errorf("hashtag body %q: dispatched=%v, want %v", tc.body, got, tc.want)
		}
	}
}

func TestDispatch_Mention(t *testing.T) {
	eng := NewEngine([]Rule{{
		Name: "ask", Match: MatchMention, Value: "@foreman",
		Action: ActionReply, Operations: []event.Operation{event.OpCreated},
		Agent: "default",
	}})

	cases := []struct {
		body string
		want bool
	}{
		{"@foreman what does this error mean?", true},
		{"  @Foreman leading whitespace is fine", true},
		{"hey @foreman mid-body does not count", false},
		{"@foremanbot is a different account", false},
		{"", false},
	}
	for _, tc := range cases {
		got := eng.Dispatch(commentEvent(tc.body)) != nil
		if got != tc.want {
			t.Errorf("mention body %q: dispatched=%v, want %v", tc.body, got, tc.want)
		}
	}
}

func TestDispatch_HashtagIgnoresItemEvents(t *testing.T) {
	eng := NewEngine([]Rule{{
		Name: "fix-ci", Match: MatchHashtag, Value: "fix-ci",
		Action: ActionImplement, Operations: []event.Operation{event.OpCreated},
	}})

	ev := labeledEvent(event.OpCreated, nil, nil, false)
	ev.CommentBody = "#fix-ci" // item events have no comment matcher surface
	if eng.Dispatch(ev) != nil {
		t.Error("hashtag rules must only match comment events")
	}
}

func TestDispatch_SetRulesSwapsAtomically(t *testing.T) {
	eng := NewEngine([]Rule{{
		Name: "old", Match: MatchLabel, Value: "old",
		Action: ActionReview, Operations: []event.Operation{event.OpCreated},
	}})
	eng.SetRules([]Rule{{
		Name: "new", Match: MatchLabel, Value: "new",
		Action: ActionReview, Operations: []event.Operation{event.OpCreated},
	}})

	old := labeledEvent(event.OpCreated, []event.Label{{ID: 1, Name: "old"}}, nil, false)
	if eng.Dispatch(old) != nil {
		t.Error("replaced rule still firing")
	}
	fresh := labeledEvent(event.OpCreated, []event.Label{{ID: 2, Name: "new"}}, nil, false)
	if eng.Dispatch(fresh) == nil {
		t.Error("new rule not firing after SetRules")
	}
}

func TestRuleValidate(t *testing.T) {
	valid := Rule{Name: "ok", Match: MatchLabel, Value: "go",
		Action: ActionImplement, Operations: []event.Operation{event.OpCreated}}
	if err := valid.Validate(); err != nil {
		t.Errorf("valid rule rejected: %v", err)
	}

	cases := []struct {
		name string
		rule Rule
	}{
		{"unknown match", Rule{Name: "r", Match: "regex", Value: "x",
			Action: ActionReply, Operations: []event.Operation{event.OpCreated}}},
		{"empty value", Rule{Name: "r", Match: MatchLabel, Value: " ",
			Action: ActionReply, Operations: []event.Operation{event.OpCreated}}},
		{"unknown action", Rule{Name: "r", Match: MatchLabel, Value: "x",
			Action: "deploy", Operations: []event.Operation{event.OpCreated}}},
		{"no operations", Rule{Name: "r", Match: MatchLabel, Value: "x",
			Action: ActionReply}},
		{"unknown operation", Rule{Name: "r", Match: MatchLabel, Value: "x",
			Action: ActionReply, Operations: []event.Operation{"archived"}}},
		{"mention without agent", Rule{Name: "r", Match: MatchMention, Value: "@x",
			Action: ActionReply, Operations: []event.Operation{event.OpCreated}}},
		{"mention wrong action", Rule{Name: "r", Match: MatchMention, Value: "@x",
			Action: ActionImplement, Agent: "a", Operations: []event.Operation{event.OpCreated}}},
		{"review without label", Rule{Name: "r", Match: MatchHashtag, Value: "x",
			Action: ActionReview, Operations: []event.Operation{event.OpCreated}}},
		{"publish without label", Rule{Name: "r", Match: MatchHashtag, Value: "x",
			Action: ActionPublish, Operations: []event.Operation{event.OpCreated}}},
	}
	for _, tc := range cases {
		if err := tc.rule.Validate(); err == nil {
			t.Errorf("%s: expected validation error", tc.name)
		}
	}
}
