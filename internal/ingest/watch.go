package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch runs an initial ingest pass over dir, then watches it for new
// recordings and re-runs the pass after events settle. Ingestion idempotence
// makes the repeated sweeps safe. Blocks until ctx is cancelled.
func (in *Ingester) Watch(ctx context.Context, dir string, debounce time.Duration) error {
	if debounce <= 0 {
		debounce = 2 * time.Second
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	in.log.WithField("dir", dir).Info("watching for recordings")

	runSweep := func() {
		if _, err := in.IngestAll(ctx, dir); err != nil && ctx.Err() == nil {
			in.log.WithError(err).Error("ingest sweep failed")
		}
	}
	runSweep()

	var debounceTimer *time.Timer
	triggerSweep := func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
		debounceTimer = time.AfterFunc(debounce, runSweep)
	}

	for {
		select {
		case <-ctx.Done():
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op.Has(fsnotify.Create) || event.Op.Has(fsnotify.Write) || event.Op.Has(fsnotify.Rename) {
				if IsAudioFile(event.Name) {
					triggerSweep()
				}
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			in.log.WithError(err).Warn("watch error")
		}
	}
}
