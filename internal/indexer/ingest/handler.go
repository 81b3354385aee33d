// Package ingest is the HTTP front door of indexd. It validates documents
// and queues them on the document-ingest topic; indexing happens when the
// consumer picks the batch up.
package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/Adithya-Monish-Kumar-K/segdex/internal/indexer/consumer"
	"github.com/Adithya-Monish-Kumar-K/segdex/internal/indexer/document"
	"github.com/Adithya-Monish-Kumar-K/segdex/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/segdex/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/segdex/pkg/postgres"
)

const (
	maxBodyBytes = 8 << 20
	maxDocuments = 1000
)

// StatusStore records and reports per-document status. *postgres.Client
// satisfies it.
type StatusStore interface {
	SetStatus(ctx context.Context, generation uint64, statuses map[string][]string) error
	Status(ctx context.Context, id string) (postgres.DocumentStatus, bool, error)
}

type Handler struct {
	publisher consumer.Publisher
	status    StatusStore
	logger    *slog.Logger
}

// New creates a Handler publishing to publisher. status may be nil, in
// which case the status route answers 404.
func New(publisher consumer.Publisher, status StatusStore) *Handler {
	return &Handler{
		publisher: publisher,
		status:    status,
		logger:    slog.Default().With("component", "ingest-handler"),
	}
}

// Ingest accepts one JSON object or an array of them. Every object needs
// an "id"; all other keys are text fields. The request is rejected as a
// whole if any document is invalid.
func (h *Handler) Ingest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)

	docs, err := decodeDocuments(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(docs) == 0 {
		h.writeError(w, http.StatusBadRequest, "no documents")
		return
	}
	if len(docs) > maxDocuments {
		h.writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("at most %d documents per request", maxDocuments))
		return
	}

	events := make([]kafka.Event, 0, len(docs))
	ids := make([]string, 0, len(docs))
	invalid := make(map[string]string)
	for i, fields := range docs {
		doc, err := document.FromMap(fields)
		if err != nil {
			invalid[strconv.Itoa(i)] = err.Error()
			continue
		}
		ids = append(ids, doc.ID)
		events = append(events, kafka.Event{
			Key:   doc.ID,
			Value: consumer.IngestEvent{ID: doc.ID, Fields: doc.Fields},
		})
	}
	if len(invalid) > 0 {
		h.writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":     "validation failed",
			"documents": invalid,
		})
		return
	}

	if err := h.enqueue(ctx, ids, events); err != nil {
		log.Error("ingestion failed", "documents", len(ids), "error", err)
		h.writeError(w, http.StatusServiceUnavailable, "ingestion failed")
		return
	}
	log.Info("documents queued", "count", len(ids))
	h.writeJSON(w, http.StatusAccepted, map[string]any{
		"status": "accepted",
		"ids":    ids,
	})
}

// Delete queues removal of every document carrying the id.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	event := kafka.Event{Key: id, Value: consumer.IngestEvent{ID: id, Delete: true}}
	if err := h.enqueue(r.Context(), []string{id}, []kafka.Event{event}); err != nil {
		logger.FromContext(r.Context()).Error("delete failed", "doc_id", id, "error", err)
		h.writeError(w, http.StatusServiceUnavailable, "ingestion failed")
		return
	}
	h.writeJSON(w, http.StatusAccepted, map[string]any{
		"status": "accepted",
		"ids":    []string{id},
	})
}

// Status reports the last recorded outcome for a document id.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if h.status == nil {
		h.writeError(w, http.StatusNotFound, "status tracking is disabled")
		return
	}
	st, found, err := h.status.Status(r.Context(), id)
	if err != nil {
		logger.FromContext(r.Context()).Error("status lookup failed", "doc_id", id, "error", err)
		h.writeError(w, http.StatusServiceUnavailable, "status lookup failed")
		return
	}
	if !found {
		h.writeError(w, http.StatusNotFound, fmt.Sprintf("no status for document %q", id))
		return
	}
	h.writeJSON(w, http.StatusOK, st)
}

// enqueue marks ids QUEUED before publishing so the consumer's outcome
// always overwrites it.
func (h *Handler) enqueue(ctx context.Context, ids []string, events []kafka.Event) error {
	if h.status != nil {
		if err := h.status.SetStatus(ctx, 0, map[string][]string{postgres.StatusQueued: ids}); err != nil {
			return err
		}
	}
	if err := h.publisher.Publish(ctx, events...); err != nil {
		if h.status != nil {
			if serr := h.status.SetStatus(ctx, 0, map[string][]string{postgres.StatusFailed: ids}); serr != nil {
				h.logger.Warn("failed to record failed status", "error", serr)
			}
		}
		return err
	}
	return nil
}

func decodeDocuments(body io.Reader) ([]map[string]string, error) {
	var raw json.RawMessage
	if err := json.NewDecoder(body).Decode(&raw); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, fmt.Errorf("request body exceeds %d bytes", tooLarge.Limit)
		}
		return nil, errors.New("invalid JSON body")
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '[' {
		var docs []map[string]string
		if err := json.Unmarshal(raw, &docs); err != nil {
			return nil, errors.New("documents must be objects of string fields")
		}
		return docs, nil
	}
	var doc map[string]string
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, errors.New("document must be an object of string fields")
	}
	return []map[string]string{doc}, nil
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
