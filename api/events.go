package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"tweetattest-backend/events"
)

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	if s.bus == nil {
		Error(w, http.StatusNotFound, "NOT_FOUND", "event feed disabled")
		return
	}
	q := r.URL.Query()
	filter := events.Filter{
		Type:     strings.TrimSpace(q.Get("type")),
		Actor:    strings.TrimSpace(q.Get("actor")),
		EntityID: strings.TrimSpace(q.Get("entity_id")),
	}

	// SSE support
	if strings.Contains(r.Header.Get("Accept"), "text/event-stream") {
		flusher, ok := w.(http.Flusher)
		if !ok {
			Error(w, http.StatusInternalServerError, "INTERNAL", "streaming unsupported")
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")

		ch := make(chan events.Event, 16)
		cancel := s.bus.Subscribe(func(evt events.Event) {
			select {
			case ch <- evt:
			default:
				// drop if slow consumer
			}
		})
		defer cancel()

		// Send recent buffer first, oldest first
		initial := s.bus.Recent(filter, 0)
		for i := len(initial) - 1; i >= 0; i-- {
			writeSSE(w, initial[i])
		}
		flusher.Flush()

		notify := r.Context().Done()
		for {
			select {
			case <-notify:
				return
			case evt := <-ch:
				if !filter.Matches(evt) {
					continue
				}
				writeSSE(w, evt)
				flusher.Flush()
			}
		}
	}

	limit := 50
	if raw := q.Get("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v >= 0 {
			limit = v
		}
	}
	filtered := s.bus.Recent(filter, limit)
	JSON(w, http.StatusOK, map[string]interface{}{
		"events": filtered,
		"total":  len(filtered),
	})
}

func writeSSE(w http.ResponseWriter, evt events.Event) {
	b, _ := json.Marshal(evt)
	_, _ = w.Write([]byte("event: attest\n"))
	_, _ = w.Write([]byte("data: " + string(b) + "\n\n"))
}
