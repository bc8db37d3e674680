package pattern

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce coalesces editor write bursts into one reload
const reloadDebounce = 100 * time.Millisecond

// WatchFile reloads the registry whenever the pattern store file
// changes on disk, so manual edits take effect without a restart.
// The returned stop function releases the watcher and is idempotent.
func (r *Registry) WatchFile(path string) (func(), error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	// Watch the directory: the file store replaces the file via rename,
	// which would orphan a watch on the file itself
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	target := filepath.Clean(path)
	stopCh := make(chan struct{})
	doneCh := make(chan struct{})

	go func() {
		defer close(doneCh)
		var debounce *time.Timer
		var fire <-chan time.Time
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target {
					continue
				}
				if !ev.Op.Has(fsnotify.Write) && !ev.Op.Has(fsnotify.Create) && !ev.Op.Has(fsnotify.Rename) {
					continue
				}
				if debounce == nil {
					debounce = time.NewTimer(reloadDebounce)
					fire = debounce.C
				} else {
					if !debounce.Stop() {
						select {
						case <-fire:
						default:
						}
					}
					debounce.Reset(reloadDebounce)
				}
			case <-fire:
				debounce = nil
				fire = nil
				if err := r.Load(context.Background()); err != nil {
					fmt.Printf("[registry] Reload after file change failed: %v\n", err)
				} else {
					fmt.Printf("[registry] Reloaded patterns from %s\n", path)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				fmt.Printf("[registry] Watcher error: %v\n", err)
			case <-stopCh:
				return
			}
		}
	}()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			close(stopCh)
			watcher.Close()
			<-doneCh
		})
	}
	return stop, nil
}
