package catalog

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the catalog file into store whenever it changes, until ctx is done.
// A file that fails to parse is logged and the previous snapshot stays active.
func Watch(ctx context.Context, path string, store *Store, debounce time.Duration) error {
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		watcher.Close()
		return fmt.Errorf("failed to get absolute path for %s: %w", path, err)
	}

	// Watch the directory: editors replace files by rename, which drops a file watch
	dir := filepath.Dir(absPath)
	filename := filepath.Base(absPath)

	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch directory %s: %w", dir, err)
	}

	log.Printf("👁️  [CATALOG] Watching %s for changes (hot-reload enabled)", path)

	go func() {
		defer watcher.Close()

		var debounceTimer *time.Timer
		defer func() {
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
		}()

		for {
			select {
			case <-ctx.Done():
				return

			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(event.Name) != filename {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}

				if debounceTimer != nil {
					debounceTimer.Stop()
				}
				debounceTimer = time.AfterFunc(debounce, func() {
					c, err := Load(absPath)
					if err != nil {
						log.Printf("❌ [CATALOG] Reload of %s failed, keeping previous catalog: %v", path, err)
						return
					}
					store.Swap(c)
					log.Printf("✅ [CATALOG] Reloaded %d items from %s", c.Len(), path)
				})

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("⚠️  [CATALOG] File watcher error: %v", err)
			}
		}
	}()

	return nil
}
