package commands

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ruivieira/cheshire/pkg/engine"
	"github.com/ruivieira/cheshire/pkg/telemetry"
)

// watchDebounce absorbs the burst of events editors emit for one save.
const watchDebounce = 250 * time.Millisecond

// watchPipeline runs once, then again after every change to path, until ctx
// is cancelled. Load and run errors are logged and do not stop watching.
func watchPipeline(ctx context.Context, path string, runOnce func() (*engine.RunResult, error)) error {
	logger := telemetry.FromContext(ctx).NewComponentLogger("watch").WithField("file", path)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory: editors often replace the file rather than
	// write to it.
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", path, err)
	}

	report := func() {
		if _, err := runOnce(); err != nil {
			logger.WithError(err).Error("Pipeline could not be run")
		}
		logger.Info("Watching for changes")
	}
	report()

	timer := time.NewTimer(watchDebounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
				logger.WithField("op", ev.Op.String()).Debug("Definition touched")
				timer.Reset(watchDebounce)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.WithError(err).Warn("Watcher error")

		case <-timer.C:
			logger.Info("Definition changed, re-running")
			report()
		}
	}
}
