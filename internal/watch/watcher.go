package watch

import (
	"fmt"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher flags trigger-file changes for the control loop. The loop
// stays single threaded: the fsnotify goroutine only raises a flag
// that the loop consumes once per cycle.
type Watcher struct {
	fw    *fsnotify.Watcher
	path  string
	dirty atomic.Bool
	done  chan struct{}
}

// NewWatcher watches the trigger file's directory so editor
// write-then-rename saves are still observed.
func NewWatcher(path string, log *zap.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(path)); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(path), err)
	}

	w := &Watcher{fw: fw, path: filepath.Clean(path), done: make(chan struct{})}
	go w.run(log)
	return w, nil
}

func (w *Watcher) run(log *zap.Logger) {
	defer close(w.done)
	for {
		select {
		case ev, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				w.dirty.Store(true)
			}
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			log.Warn("trigger watcher error", zap.Error(err))
		}
	}
}

// Dirty reports and consumes the pending-change flag.
func (w *Watcher) Dirty() bool {
	return w.dirty.Swap(false)
}

// Close stops watching and waits for the event goroutine to exit.
func (w *Watcher) Close() error {
	err := w.fw.Close()
	<-w.done
	return err
}
