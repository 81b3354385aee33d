package searcher

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Adithya-Monish-Kumar-K/segdex/internal/indexer/segment"
)

// Watch refreshes the manager until ctx is cancelled. With notify set the
// index directory is watched and every manifest replacement triggers a
// refresh; the interval poll runs regardless and covers filesystems without
// change notification. A non-positive interval disables polling.
func (m *Manager) Watch(ctx context.Context, interval time.Duration, notify bool) {
	var events <-chan fsnotify.Event
	var errs <-chan error
	if notify {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			m.logger.Warn("filesystem notifications unavailable, polling only", "error", err)
		} else {
			defer watcher.Close()
			if err := watcher.Add(m.dir); err != nil {
				m.logger.Warn("cannot watch index directory, polling only", "error", err)
			} else {
				events, errs = watcher.Events, watcher.Errors
			}
		}
	}

	var tick <-chan time.Time
	if interval > 0 {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if filepath.Base(ev.Name) != segment.ManifestFile || !ev.Op.Has(fsnotify.Create) && !ev.Op.Has(fsnotify.Write) {
				continue
			}
			m.refreshAndLog("manifest changed")
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			m.logger.Warn("index watcher error", "error", err)
		case <-tick:
			m.refreshAndLog("poll")
		}
	}
}

func (m *Manager) refreshAndLog(trigger string) {
	swapped, err := m.Refresh()
	if err != nil {
		m.logger.Warn("snapshot refresh failed", "trigger", trigger, "error", err)
		return
	}
	if swapped {
		m.logger.Debug("snapshot refreshed", "trigger", trigger)
	}
}
