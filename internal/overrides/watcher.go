package overrides

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/JakeFAU/workspace-portal/internal/ajax"
)

const defaultDebounce = 200 * time.Millisecond

// ReloadFunc is told the rule count after each reload attempt.
type ReloadFunc func(rules int, err error)

// Watcher reloads a rules file into an OverrideStore whenever it changes. A removed file
// clears the store; a file that fails to parse leaves the previous rules installed.
type Watcher struct {
	path     string
	store    *ajax.OverrideStore
	logger   *zap.Logger
	onReload ReloadFunc
	debounce time.Duration

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewWatcher watches path for store. onReload may be nil.
func NewWatcher(path string, store *ajax.OverrideStore, logger *zap.Logger, onReload ReloadFunc) (*Watcher, error) {
	if store == nil {
		return nil, errors.New("overrides: store is required")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve override file: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{
		path:     abs,
		store:    store,
		logger:   logger.Named("overrides"),
		onReload: onReload,
		debounce: defaultDebounce,
	}, nil
}

// Reload loads the file into the store once.
func (w *Watcher) Reload() error {
	rules, err := Load(w.path)
	if errors.Is(err, fs.ErrNotExist) {
		rules, err = nil, nil
	}
	if err != nil {
		w.logger.Warn("override reload failed", zap.String("path", w.path), zap.Error(err))
		w.notify(0, err)
		return err
	}
	w.store.Replace(rules)
	w.logger.Info("override rules loaded", zap.String("path", w.path), zap.Int("rules", len(rules)))
	w.notify(len(rules), nil)
	return nil
}

func (w *Watcher) notify(rules int, err error) {
	if w.onReload != nil {
		w.onReload(rules, err)
	}
}

// Start loads the file and watches its directory until ctx ends or Stop is called. Editors
// often replace files by rename, so the directory is watched rather than the file.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.watcher != nil {
		return nil
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create override watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		_ = fw.Close()
		return fmt.Errorf("watch override dir: %w", err)
	}
	_ = w.Reload()

	w.watcher = fw
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	go w.run(ctx, fw, w.stopCh, w.doneCh)
	return nil
}

// Stop ends the watch and waits for the loop to exit.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	fw, stopCh, doneCh := w.watcher, w.stopCh, w.doneCh
	w.watcher = nil
	w.mu.Unlock()
	if fw == nil {
		return nil
	}
	close(stopCh)
	<-doneCh
	return fw.Close()
}

func (w *Watcher) run(ctx context.Context, fw *fsnotify.Watcher, stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case event, ok := <-fw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path || event.Op == fsnotify.Chmod {
				continue
			}
			timer.Reset(w.debounce)
		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("override watcher error", zap.Error(err))
		case <-timer.C:
			_ = w.Reload()
		}
	}
}
