// Package api is the HTTP surface: typed event intake feeding the work
// queue, analytics reads over the hot counters with durable fallback, the
// WebSocket subscription endpoint, and health.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/nicktill/webpulse/pkg/event"
	"github.com/nicktill/webpulse/pkg/httpx"
	"github.com/nicktill/webpulse/pkg/queue"
)

// maxBodyBytes bounds a single intake request body.
const maxBodyBytes = 1 << 20

// IngestHandler validates incoming events and hands them to the queue.
// Validation happens here, at the edge: a payload that parses is accepted
// with 202 before any counting work runs.
type IngestHandler struct {
	queue *queue.Queue
}

// NewIngestHandler creates an ingest handler backed by the given queue.
func NewIngestHandler(q *queue.Queue) *IngestHandler {
	return &IngestHandler{queue: q}
}

// HandleEvent accepts a single typed event. The type comes from the URL
// (/api/events/{type}), the payload is the body.
func (h *IngestHandler) HandleEvent(w http.ResponseWriter, r *http.Request) {
	typ := event.Type(mux.Vars(r)["type"])
	if !typ.Valid() {
		httpx.RespondErrorString(w, http.StatusNotFound, "unknown event type")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}

	if _, err := event.Parse(typ, body); err != nil {
		if errors.Is(err, event.ErrMalformed) {
			httpx.RespondError(w, http.StatusBadRequest, err)
			return
		}
		httpx.RespondError(w, http.StatusInternalServerError, err)
		return
	}

	if !h.queue.Enqueue(queue.Job{Type: typ, Payload: body}) {
		httpx.RespondErrorString(w, http.StatusTooManyRequests, "ingestion queue full")
		return
	}

	httpx.RespondJSON(w, http.StatusAccepted, map[string]bool{"ok": true})
}

// batchItem is one entry in a batch intake request.
type batchItem struct {
	Type    event.Type      `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// HandleBatch accepts a JSON array of {type, payload} envelopes. Invalid
// entries are silently skipped; the response reports how many were accepted.
// A batch with no valid entries is a 400.
func (h *IngestHandler) HandleBatch(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}

	var batch []batchItem
	if err := json.Unmarshal(body, &batch); err != nil {
		httpx.RespondErrorString(w, http.StatusBadRequest, "body must be a JSON array")
		return
	}

	accepted := 0
	for _, item := range batch {
		if !item.Type.Valid() || len(item.Payload) == 0 {
			continue
		}
		if _, err := event.Parse(item.Type, item.Payload); err != nil {
			continue
		}
		if !h.queue.Enqueue(queue.Job{Type: item.Type, Payload: item.Payload}) {
			httpx.RespondErrorString(w, http.StatusTooManyRequests, "ingestion queue full")
			return
		}
		accepted++
	}

	if accepted == 0 {
		httpx.RespondErrorString(w, http.StatusBadRequest, "no valid events")
		return
	}
	httpx.RespondJSON(w, http.StatusAccepted, map[string]int{"accepted": accepted})
}
