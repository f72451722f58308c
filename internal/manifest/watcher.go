package manifest

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/elbios/vendorgw/internal/observability"
)

// Watcher watches the manifest file for changes. The route table is
// immutable after startup, so the watcher never swaps routes; it logs
// that a restart is required to pick up the new manifest.
type Watcher struct {
	path          string
	watcher       *fsnotify.Watcher
	logger        observability.Logger
	debounceDelay time.Duration
	started       bool
	stoppedCh     chan struct{}
}

// NewWatcher creates a manifest file watcher.
func NewWatcher(path string, logger observability.Logger) (*Watcher, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if logger == nil {
		logger = observability.NopLogger()
	}

	return &Watcher{
		path:          absPath,
		watcher:       fsWatcher,
		logger:        logger,
		debounceDelay: 500 * time.Millisecond,
		stoppedCh:     make(chan struct{}),
	}, nil
}

// Start begins watching. It watches the directory rather than the file so
// atomic replace (write temp + rename) is still observed.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return err
	}

	w.logger.Info("watching route manifest",
		observability.String("path", w.path),
	)

	w.started = true
	go w.loop(ctx)
	return nil
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.stoppedCh)

	var debounce *time.Timer
	var debounceCh <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if debounce == nil {
				debounce = time.NewTimer(w.debounceDelay)
			} else {
				debounce.Reset(w.debounceDelay)
			}
			debounceCh = debounce.C
		case <-debounceCh:
			debounceCh = nil
			w.logger.Warn("route manifest changed on disk; restart the gateway to apply it",
				observability.String("path", w.path),
			)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("manifest watcher error", observability.Error(err))
		}
	}
}

// Stop closes the watcher and waits for the event loop to exit.
func (w *Watcher) Stop() error {
	err := w.watcher.Close()
	if w.started {
		<-w.stoppedCh
	}
	return err
}
