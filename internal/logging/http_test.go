package logging

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHandlerReturnsRecentEntries(t *testing.T) {
	m := NewManager("")
	m.Info("runner", "run started", map[string]interface{}{"run_id": "r1"})
	m.Error("runner", "stream dropped", nil)
	m.Info("dispatch", "rule matched", nil)

	req := httptest.NewRequest(http.MethodGet, "/logs?level=error", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var entries []LogEntry
	if err := json.Unmarshal(rec.Body.Bytes(), &entries); err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Message != "stream dropped" {
		t.Errorf("entries = %+v", entries)
	}
}

func TestHandlerRejectsNonGet(t *testing.T) {
	m := NewManager("")
	req := httptest.NewRequest(http.MethodPost, "/logs", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestHandlerLifecycle(t *testing.T) {
	m := NewManager("")
	seen := make(chan LogEntry, 1)
	id := m.AddHandler(func(e LogEntry) { seen <- e })

	m.Info("webhook", "delivery accepted", nil)
	e := <-seen
	if e.Source != "webhook" {
		t.Errorf("handler saw %+v", e)
	}

	m.RemoveHandler(id)
	m.Info("webhook", "another delivery", nil)
	select {
	case e := <-seen:
		t.Errorf("removed handler still invoked: %+v", e)
	default:
	}
}
