package indexer

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/segdex/internal/indexer/segment"
	"github.com/Adithya-Monish-Kumar-K/segdex/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/segdex/pkg/errors"
)

// MaybeCompact compacts the index at cfg.DataDir when it holds more than
// cfg.MaxSegmentsBeforeMerge segments. It reports whether a compaction ran.
// A held write lock is not an error: the tick is skipped.
func MaybeCompact(ctx context.Context, cfg config.IndexerConfig) (bool, error) {
	m, err := segment.ReadManifest(cfg.DataDir)
	if err != nil {
		if errors.Is(err, apperrors.ErrNoSuchIndex) {
			return false, nil
		}
		return false, err
	}
	if len(m.Segments) <= cfg.MaxSegmentsBeforeMerge {
		return false, nil
	}
	w, err := Open(cfg)
	if err != nil {
		if errors.Is(err, apperrors.ErrLockHeld) {
			return false, nil
		}
		return false, err
	}
	if _, err := w.Compact(ctx); err != nil {
		_ = w.Close()
		return false, err
	}
	if err := w.Close(); err != nil {
		return false, err
	}
	return true, nil
}

// StartMergeLoop runs MaybeCompact every cfg.MergeInterval until ctx is
// cancelled.
func StartMergeLoop(ctx context.Context, cfg config.IndexerConfig) {
	logger := slog.Default().With("component", "merge-loop", "index", cfg.DataDir)
	if cfg.MergeInterval <= 0 {
		logger.Info("merge loop disabled")
		return
	}
	ticker := time.NewTicker(cfg.MergeInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				logger.Info("merge loop stopping")
				return
			case <-ticker.C:
				merged, err := MaybeCompact(ctx, cfg)
				if err != nil {
					logger.Error("periodic compaction failed", "error", err)
					continue
				}
				if merged {
					logger.Info("periodic compaction complete")
				}
			}
		}
	}()
}
