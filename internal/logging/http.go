package logging

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// Handler returns an HTTP handler exposing the log buffer. A plain GET
// returns recent entries as JSON, newest first; `?follow=true` switches to
// an SSE stream of entries as they arrive. Filters: limit, level, source,
// run_id, since, until (RFC 3339).
func (m *Manager) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		q := r.URL.Query()
		if q.Get("follow") == "true" {
			m.serveFollow(w, r)
			return
		}

		limit, _ := strconv.Atoi(q.Get("limit"))
		var since, until time.Time
		if v := q.Get("since"); v != "" {
			since, _ = time.Parse(time.RFC3339, v)
		}
		if v := q.Get("until"); v != "" {
			until, _ = time.Parse(time.RFC3339, v)
		}

		entries := m.GetRecent(limit, q.Get("level"), q.Get("source"), q.Get("run_id"), since, until)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(entries)
	})
}

// serveFollow streams entries over SSE until the client disconnects.
func (m *Manager) serveFollow(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusNotImplemented)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher.Flush()

	level := r.URL.Query().Get("level")
	source := r.URL.Query().Get("source")

	// Buffered so a slow client drops entries instead of blocking Log.
	ch := make(chan LogEntry, 64)
	id := m.AddHandler(func(e LogEntry) {
		select {
		case ch <- e:
		default:
		}
	})
	defer m.RemoveHandler(id)

	for {
		select {
		case <-r.Context().Done():
			return
		case e := <-ch:
			if level != "" && e.Level != level {
				continue
			}
			if source != "" && e.Source != source {
				continue
			}
			data, err := json.Marshal(e)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
	}
}
