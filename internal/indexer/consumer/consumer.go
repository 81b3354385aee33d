// Package consumer indexes document-ingest events from Kafka. Each batch is
// one writer session: the write lock is taken (waiting out other writers),
// every event is applied, the session is published, and only then are the
// offsets committed. A crash before publication replays the batch.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/segdex/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/segdex/internal/indexer/document"
	"github.com/Adithya-Monish-Kumar-K/segdex/internal/indexer/segment"
	"github.com/Adithya-Monish-Kumar-K/segdex/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/segdex/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/segdex/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/segdex/pkg/postgres"
	"github.com/Adithya-Monish-Kumar-K/segdex/pkg/resilience"
)

// IngestEvent is the document-ingest payload. Delete removes ID instead of
// indexing Fields.
type IngestEvent struct {
	ID     string            `json:"id"`
	Fields map[string]string `json:"fields"`
	Delete bool              `json:"delete,omitempty"`
}

// IndexComplete is published after every batch that changed the index.
type IndexComplete struct {
	Index       string    `json:"index"`
	Generation  uint64    `json:"generation"`
	Indexed     int       `json:"indexed"`
	Deleted     int       `json:"deleted"`
	Rejected    int       `json:"rejected"`
	CompletedAt time.Time `json:"completed_at"`
}

// StatusStore records per-document outcomes. *postgres.Client satisfies it.
type StatusStore interface {
	SetStatus(ctx context.Context, generation uint64, statuses map[string][]string) error
}

// Publisher announces index completions. *kafka.Producer satisfies it.
type Publisher interface {
	Publish(ctx context.Context, events ...kafka.Event) error
}

type IndexConsumer struct {
	cfg       config.IndexerConfig
	retry     resilience.RetryConfig
	status    StatusStore
	publisher Publisher
	logger    *slog.Logger
}

// New creates an IndexConsumer for the index described by cfg. status and
// publisher may be nil.
func New(cfg config.IndexerConfig, status StatusStore, publisher Publisher) *IndexConsumer {
	return &IndexConsumer{
		cfg: cfg,
		retry: resilience.RetryConfig{
			MaxAttempts:  10,
			InitialDelay: 200 * time.Millisecond,
			MaxDelay:     5 * time.Second,
			Retryable:    func(err error) bool { return errors.Is(err, apperrors.ErrLockHeld) },
		},
		status:    status,
		publisher: publisher,
		logger:    slog.Default().With("component", "index-consumer", "index", cfg.DataDir),
	}
}

// HandleBatch is a kafka.BatchHandler. Undecodable and invalid events are
// logged and dropped; any storage failure fails the whole batch so it is
// redelivered.
func (c *IndexConsumer) HandleBatch(ctx context.Context, batch []kafka.Message) error {
	var w *indexer.Writer
	err := resilience.Retry(ctx, "open index writer", c.retry, func() error {
		var err error
		w, err = indexer.Open(c.cfg)
		return err
	})
	if err != nil {
		return fmt.Errorf("opening writer for batch of %d: %w", len(batch), err)
	}

	outcome := map[string][]string{}
	for _, msg := range batch {
		event, err := kafka.DecodeJSON[IngestEvent](msg.Value)
		if err != nil {
			c.logger.Error("dropping undecodable ingest event",
				"partition", msg.Partition,
				"offset", msg.Offset,
				"error", err,
			)
			continue
		}
		status, err := c.apply(w, event)
		if err != nil {
			if errors.Is(err, apperrors.ErrInvalidDocument) {
				c.logger.Warn("rejecting ingest event", "doc_id", event.ID, "offset", msg.Offset, "error", err)
				outcome[postgres.StatusFailed] = append(outcome[postgres.StatusFailed], event.ID)
				continue
			}
			w.Close()
			return fmt.Errorf("applying event at offset %d: %w", msg.Offset, err)
		}
		outcome[status] = append(outcome[status], event.ID)
	}

	if err := w.Close(); err != nil {
		return fmt.Errorf("publishing batch: %w", err)
	}

	done := IndexComplete{
		Index:       w.Path(),
		Indexed:     len(outcome[postgres.StatusIndexed]),
		Deleted:     len(outcome[postgres.StatusDeleted]),
		Rejected:    len(outcome[postgres.StatusFailed]),
		CompletedAt: time.Now().UTC(),
	}
	if m, err := segment.ReadManifest(w.Path()); err == nil {
		done.Generation = m.Generation
	}
	c.logger.Info("batch indexed",
		"messages", len(batch),
		"indexed", done.Indexed,
		"deleted", done.Deleted,
		"rejected", done.Rejected,
		"generation", done.Generation,
	)

	// Both side effects are best effort: the documents are already durable.
	if c.status != nil {
		if err := c.status.SetStatus(ctx, done.Generation, outcome); err != nil {
			c.logger.Error("failed to record document status", "error", err)
		}
	}
	if c.publisher != nil && done.Indexed+done.Deleted > 0 {
		if err := c.publisher.Publish(ctx, kafka.Event{Key: done.Index, Value: done}); err != nil {
			c.logger.Error("failed to publish index completion", "generation", done.Generation, "error", err)
		}
	}
	return nil
}

func (c *IndexConsumer) apply(w *indexer.Writer, event IngestEvent) (string, error) {
	if event.Delete {
		if err := w.DeleteDocument(event.ID); err != nil {
			return "", err
		}
		return postgres.StatusDeleted, nil
	}
	doc := document.Document{ID: event.ID, Fields: event.Fields}
	if doc.Fields == nil {
		doc.Fields = map[string]string{}
	}
	if err := w.UpdateDocument(doc); err != nil {
		return "", err
	}
	return postgres.StatusIndexed, nil
}
