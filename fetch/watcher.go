package fetch

import (
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-fx/types"
)

// Watcher invalidates fetcher entries when files change on disk. It only
// makes sense for fetchers backed by the OS filesystem.
type Watcher struct {
	fetcher   *Fetcher
	logger    types.Logger
	fsWatcher *fsnotify.Watcher
	listeners []func(path string)
	mu        sync.RWMutex
	state     atomic.Value
	done      chan struct{}
	stopped   chan struct{}
}

func NewWatcher(fetcher *Fetcher, logger types.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, types.WrapError(err, "failed to create fsnotify watcher")
	}

	w := &Watcher{
		fetcher:   fetcher,
		logger:    logger,
		fsWatcher: fsw,
		done:      make(chan struct{}),
		stopped:   make(chan struct{}),
	}
	w.state.Store(types.StateStopped)

	return w, nil
}

// OnChange registers fn to run after each invalidation.
func (w *Watcher) OnChange(fn func(path string)) {
	w.mu.Lock()
	w.listeners = append(w.listeners, fn)
	w.mu.Unlock()
}

// Watch adds a root-relative directory.
func (w *Watcher) Watch(dir string) error {
	full, err := w.fetcher.Resolve(dir)
	if err != nil {
		return err
	}
	if err := w.fsWatcher.Add(full); err != nil {
		return types.WrapError(err, "failed to watch "+full)
	}
	return nil
}

func (w *Watcher) Start() error {
	if !w.state.CompareAndSwap(types.StateStopped, types.StateRunning) {
		return types.ErrServerAlreadyRunning
	}
	if err := w.Watch("."); err != nil {
		w.state.Store(types.StateStopped)
		return err
	}

	go w.loop()

	w.logger.Info("File watcher started", zap.String("root", w.fetcher.Root()))
	return nil
}

func (w *Watcher) Stop() error {
	if !w.state.CompareAndSwap(types.StateRunning, types.StateStopping) {
		return types.ErrServerNotRunning
	}
	defer w.state.Store(types.StateStopped)

	close(w.done)
	err := w.fsWatcher.Close()
	<-w.stopped

	return err
}

func (w *Watcher) IsRunning() bool {
	return w.state.Load().(types.State) == types.StateRunning
}

func (w *Watcher) loop() {
	defer close(w.stopped)

	for {
		select {
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			w.handle(filepath.Clean(event.Name))

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("File watcher error", zap.Error(err))

		case <-w.done:
			return
		}
	}
}

func (w *Watcher) handle(path string) {
	w.fetcher.Invalidate(path)

	w.mu.RLock()
	listeners := append([]func(string){}, w.listeners...)
	w.mu.RUnlock()

	for _, fn := range listeners {
		fn(path)
	}
}
