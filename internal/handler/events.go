package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/fabricviz/fabricviz-server/internal/config"
	apperrors "github.com/fabricviz/fabricviz-server/internal/errors"
	"github.com/fabricviz/fabricviz-server/internal/model"
	"github.com/fabricviz/fabricviz-server/internal/service"
	"github.com/fabricviz/fabricviz-server/internal/sse"
)

type EventSubscriber interface {
	Subscribe(topic string) *sse.Client
	Unsubscribe(client *sse.Client)
}

type JobReconciler interface {
	Reconcile(ctx context.Context, jobID string) (*service.JobState, error)
}

// EventsHandler streams job state over SSE until the job is terminal. While
// connected it also drives reconciliation, so the client need not poll.
type EventsHandler struct {
	broker       EventSubscriber
	jobs         JobReconciler
	pollInterval time.Duration
}

func NewEventsHandler(broker EventSubscriber, jobs JobReconciler) *EventsHandler {
	return &EventsHandler{
		broker:       broker,
		jobs:         jobs,
		pollInterval: config.EventsPollInterval,
	}
}

// GET /api/session/job/{id}/events
func (h *EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	jobID := chi.URLParam(r, "id")

	state, err := h.jobs.Reconcile(ctx, jobID)
	if err != nil {
		writeError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, apperrors.Internal("Streaming not supported"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	if state.Status.IsTerminal() {
		h.sendEvent(w, flusher, service.JobUpdatedEvent, state)
		return
	}

	client := h.broker.Subscribe(sse.JobTopic(jobID))
	defer h.broker.Unsubscribe(client)

	if err := h.sendEvent(w, flusher, service.JobUpdatedEvent, state); err != nil {
		return
	}

	log.Debug().Str("jobId", jobID).Msg("job event stream opened")

	heartbeat := time.NewTicker(sse.HeartbeatInterval)
	defer heartbeat.Stop()
	poll := time.NewTicker(h.pollInterval)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("jobId", jobID).Msg("job event stream closed by client")
			return

		case <-client.Done:
			return

		case event := <-client.Events:
			if err := h.sendRawEvent(w, flusher, event); err != nil {
				log.Debug().Err(err).Str("jobId", jobID).Msg("failed to send event")
				return
			}
			if isTerminalEvent(event) {
				return
			}

		case <-poll.C:
			state, err := h.jobs.Reconcile(ctx, jobID)
			if err != nil {
				log.Warn().Err(err).Str("jobId", jobID).Msg("reconcile during stream failed")
				continue
			}
			// Changes are published and arrive through the broker; only a
			// terminal state found here needs a direct write.
			if state.Status.IsTerminal() {
				h.sendEvent(w, flusher, service.JobUpdatedEvent, state)
				return
			}

		case <-heartbeat.C:
			if _, err := fmt.Fprintf(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func isTerminalEvent(event sse.Event) bool {
	var payload struct {
		Status model.JobStatus `json:"status"`
	}
	if err := json.Unmarshal(event.Data, &payload); err != nil {
		return false
	}
	return payload.Status.IsTerminal()
}

func (h *EventsHandler) sendEvent(w http.ResponseWriter, flusher http.Flusher, eventType string, data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	return h.sendRawEvent(w, flusher, sse.Event{Type: eventType, Data: jsonData})
}

func (h *EventsHandler) sendRawEvent(w http.ResponseWriter, flusher http.Flusher, event sse.Event) error {
	if _, err := fmt.Fprintf(w, "event: %s\n", event.Type); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", event.Data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
