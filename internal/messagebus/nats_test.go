package messagebus

import (
	"context"
	"testing"

	"github.com/nats-io/nats.go"
)

func TestNoopBusDiscards(t *testing.T) {
	var bus NoopBus
	if err := bus.PublishRunEvent(context.Background(), &RunEvent{RunID: "r1", Status: "started"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := bus.SubscribeRunEvents("", func(*RunEvent) { t.Error("noop bus must not deliver") }); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := bus.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestUnsubscribeUnknownSubject(t *testing.T) {
	mb := &NatsMessageBus{subscriptions: make(map[string]*nats.Subscription)}
	if err := mb.Unsubscribe("foreman.runs.started"); err == nil {
		t.Fatal("expected error for unknown subject")
	}
}

func TestPrefixConsumer(t *testing.T) {
	mb := &NatsMessageBus{consumerPrefix: "ci"}
	if got := mb.prefixConsumer("runs-all"); got != "ci-runs-all" {
		t.Errorf("prefixConsumer = %q", got)
	}
	mb.consumerPrefix = ""
	if got := mb.prefixConsumer("runs-all"); got != "runs-all" {
		t.Errorf("prefixConsumer without prefix = %q", got)
	}
}
