package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/whereismy/internal/conversation"
)

const maxBatchEvents = 100

// Dispatcher runs one user event through the conversation.
type Dispatcher interface {
	Handle(ctx context.Context, in conversation.Input) ([]conversation.Reply, error)
}

// EventResult is the response for one event.
type EventResult struct {
	EventID string               `json:"event_id"`
	UserID  int64                `json:"user_id"`
	Replies []conversation.Reply `json:"replies"`
	Error   string               `json:"error,omitempty"`
}

type batchRequest struct {
	Events []conversation.Input `json:"events"`
}

type batchResponse struct {
	Results []EventResult `json:"results"`
}

func mountTransport(r chi.Router, deps Deps) {
	r.Post("/events", handleEvent(deps))
	r.Post("/updates", handleUpdates(deps))
}

func handleEvent(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var in conversation.Input
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if in.UserID <= 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "user_id is required")
			return
		}
		writeJSON(w, dispatch(r.Context(), deps.Conversation, in))
	}
}

// handleUpdates serves a batch of events. Events of one user are handled
// in order; different users run concurrently. Results keep request order.
func handleUpdates(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req batchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if len(req.Events) > maxBatchEvents {
			httpError(w, http.StatusRequestEntityTooLarge, "invalid_request_error", "at most %d events per batch", maxBatchEvents)
			return
		}
		for i, in := range req.Events {
			if in.UserID <= 0 {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "events[%d].user_id is required", i)
				return
			}
		}

		results := make([]EventResult, len(req.Events))
		byUser := make(map[int64][]int)
		var order []int64
		for i, in := range req.Events {
			if _, ok := byUser[in.UserID]; !ok {
				order = append(order, in.UserID)
			}
			byUser[in.UserID] = append(byUser[in.UserID], i)
		}

		var g errgroup.Group
		g.SetLimit(max(deps.Concurrency, 1))
		for _, uid := range order {
			idx := byUser[uid]
			g.Go(func() error {
				for _, i := range idx {
					results[i] = dispatch(r.Context(), deps.Conversation, req.Events[i])
				}
				return nil
			})
		}
		g.Wait()

		writeJSON(w, batchResponse{Results: results})
	}
}

// dispatch handles one event and logs its outcome under a fresh event id.
func dispatch(ctx context.Context, d Dispatcher, in conversation.Input) EventResult {
	res := EventResult{EventID: uuid.NewString(), UserID: in.UserID}
	log := slog.With("component", "transport", "event_id", res.EventID, "user_id", in.UserID)

	replies, err := d.Handle(ctx, in)
	if replies == nil {
		replies = []conversation.Reply{}
	}
	res.Replies = replies
	if err != nil {
		res.Error = "temporary_failure"
		log.Warn("event failed", "error", err)
		return res
	}
	log.Debug("event handled", "replies", len(replies))
	return res
}
