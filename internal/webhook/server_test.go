package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/foremanhq/foreman/internal/event"
	"github.com/foremanhq/foreman/internal/metrics"
)

type recordingHandler struct {
	mu     sync.Mutex
	events []*event.ChangeEvent
}

func (h *recordingHandler) HandleEvent(_ context.Context, ev *event.ChangeEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, ev)
}

func (h *recordingHandler) all() []*event.ChangeEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*event.ChangeEvent(nil), h.events...)
}

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func postDelivery(t *testing.T, srv *Server, eventName, deliveryID, secret, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	req.Header.Set("X-GitHub-Event", eventName)
	req.Header.Set("X-GitHub-Delivery", deliveryID)
	if secret != "" {
		req.Header.Set("X-Hub-Signature-256", sign(secret, []byte(body)))
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestDeliveryDispatchesNormalizedEvent(t *testing.T) {
	h := &recordingHandler{}
	srv := NewServer(ServerConfig{Handler: h, Secret: []byte("s3cret")})

	body := `{
		"action": "labeled",
		"issue": {"number": 42, "labels": [{"id": 7, "name": "foreman"}, {"id": 9, "name": "bug"}]},
		"changes": {"labels": {"previous": [{"id": 9, "name": "bug"}]}},
		"sender": {"login": "octocat"}
	}`
	rec := postDelivery(t, srv, "issues", "dl-1", "s3cret", body)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusAccepted)
	}

	events := h.all()
	if len(events) != 1 {
		t.Fatalf("handler saw %d events, want 1", len(events))
	}
	ev := events[0]
	if ev.Kind != event.KindItemChanged || ev.Operation != event.OpUpdated {
		t.Errorf("kind/op = %s/%s", ev.Kind, ev.Operation)
	}
	if ev.SubjectID != 42 || ev.DeliveryID != "dl-1" {
		t.Errorf("subject/delivery = %d/%s", ev.SubjectID, ev.DeliveryID)
	}
	if !ev.HasPreviousLabels || len(ev.PreviousLabelIDs) != 1 || ev.PreviousLabelIDs[0] != 9 {
		t.Errorf("previous labels = %v (has=%v)", ev.PreviousLabelIDs, ev.HasPreviousLabels)
	}
	if !ev.HasLabel("foreman") {
		t.Errorf("current labels missing foreman: %v", ev.LabelNames())
	}
}

func TestBadSignatureRejected(t *testing.T) {
	h := &recordingHandler{}
	srv := NewServer(ServerConfig{Handler: h, Secret: []byte("s3cret")})

	body := `{"action": "opened", "issue": {"number": 1}}`
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	req.Header.Set("X-GitHub-Event", "issues")
	req.Header.Set("X-Hub-Signature-256", "sha256=deadbeef")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
	if len(h.all()) != 0 {
		t.Error("handler should not see unverified deliveries")
	}
}

func TestMissingSignatureRejectedWhenSecretSet(t *testing.T) {
	h := &recordingHandler{}
	srv := NewServer(ServerConfig{Handler: h, Secret: []byte("s3cret")})

	rec := postDelivery(t, srv, "issues", "dl-2", "", `{"action": "opened", "issue": {"number": 1}}`)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestIrrelevantEventAcknowledged(t *testing.T) {
	h := &recordingHandler{}
	srv := NewServer(ServerConfig{Handler: h, Secret: []byte("s3cret")})

	rec := postDelivery(t, srv, "push", "dl-3", "s3cret", `{"ref": "refs/heads/main"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusAccepted)
	}
	if len(h.all()) != 0 {
		t.Error("push events should not dispatch")
	}
}

func TestCommentNormalization(t *testing.T) {
	h := &recordingHandler{}
	srv := NewServer(ServerConfig{Handler: h, Secret: nil})

	body := `{
		"action": "created",
		"issue": {"number": 8, "labels": []},
		"comment": {"body": "@foreman please fix flaky test", "user": {"login": "alice"}},
		"sender": {"login": "alice"}
	}`
	rec := postDelivery(t, srv, "issue_comment", "dl-4", "", body)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d", rec.Code)
	}
	events := h.all()
	if len(events) != 1 {
		t.Fatalf("handler saw %d events, want 1", len(events))
	}
	ev := events[0]
	if ev.Kind != event.KindCommentPosted || ev.Operation != event.OpCreated {
		t.Errorf("kind/op = %s/%s", ev.Kind, ev.Operation)
	}
	if ev.CommentBody != "@foreman please fix flaky test" || ev.Sender != "alice" {
		t.Errorf("comment/sender = %q/%q", ev.CommentBody, ev.Sender)
	}
}

func TestNormalizeUpdateWithoutSnapshot(t *testing.T) {
	body := []byte(`{"action": "edited", "issue": {"number": 3, "labels": [{"id": 1, "name": "x"}]}}`)
	ev, err := Normalize("issues", "dl-5", body)
	if err != nil {
		t.Fatal(err)
	}
	if ev.HasPreviousLabels {
		t.Error("edit without changes snapshot must not claim prior state")
	}
}

func TestNormalizeIgnoredActions(t *testing.T) {
	for _, action := range []string{"assigned", "milestoned", "locked"} {
		body := []byte(`{"action": "` + action + `", "issue": {"number": 3}}`)
		ev, err := Normalize("issues", "dl-6", body)
		if err != nil {
			t.Fatalf("%s: %v", action, err)
		}
		if ev != nil {
			t.Errorf("action %q should be ignored", action)
		}
	}
}

func TestHealthz(t *testing.T) {
	srv := NewServer(ServerConfig{Handler: &recordingHandler{}})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestHealthzDegradedWhenDownstreamFails(t *testing.T) {
	srv := NewServer(ServerConfig{
		Handler: &recordingHandler{},
		Health:  func() error { return errors.New("nats is not connected") },
	})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
	if !strings.Contains(rec.Body.String(), "degraded") {
		t.Errorf("body = %q", rec.Body.String())
	}
}

func TestConfiguredTimeoutsApplied(t *testing.T) {
	srv := NewServer(ServerConfig{
		Handler:      &recordingHandler{},
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 7 * time.Second,
		IdleTimeout:  11 * time.Second,
	})
	hs := srv.buildServer(":0")
	if hs.ReadTimeout != 5*time.Second || hs.WriteTimeout != 7*time.Second || hs.IdleTimeout != 11*time.Second {
		t.Errorf("timeouts = %v/%v/%v", hs.ReadTimeout, hs.WriteTimeout, hs.IdleTimeout)
	}

	// Unset values fall back rather than disabling the timeout.
	def := NewServer(ServerConfig{Handler: &recordingHandler{}}).buildServer(":0")
	if def.ReadTimeout != 30*time.Second || def.IdleTimeout != 60*time.Second {
		t.Errorf("default timeouts = %v/%v", def.ReadTimeout, def.IdleTimeout)
	}
}

func TestRequestMetricsRecorded(t *testing.T) {
	m := metrics.NewMetrics()
	srv := NewServer(ServerConfig{Handler: &recordingHandler{}, Metrics: m})

	before := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/healthz", "200"))
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	srv.Handler().ServeHTTP(httptest.NewRecorder(), req)
	after := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/healthz", "200"))
	if after != before+1 {
		t.Errorf("healthz requests = %v, want %v", after, before+1)
	}

	before = testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("POST", "/webhook", "401"))
	body := `{"action": "opened", "issue": {"number": 1}}`
	req = httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	req.Header.Set("X-GitHub-Event", "issues")
	srv2 := NewServer(ServerConfig{Handler: &recordingHandler{}, Secret: []byte("s"), Metrics: m})
	srv2.Handler().ServeHTTP(httptest.NewRecorder(), req)
	after = testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("POST", "/webhook", "401"))
	if after != before+1 {
		t.Errorf("rejected webhook requests = %v, want %v", after, before+1)
	}
}
