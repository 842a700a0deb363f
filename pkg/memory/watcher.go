package memory

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// DefaultWatchDebounce is how long the watcher waits after the last change
// before firing OnChange. Editors often emit bursts of events per save.
const DefaultWatchDebounce = 500 * time.Millisecond

// FileWatcher watches a directory tree for Markdown changes and invokes a
// callback once per debounced burst.
type FileWatcher struct {
	watcher  *fsnotify.Watcher
	root     string
	logger   zerolog.Logger
	onChange func()
	debounce time.Duration

	mu       sync.Mutex
	timer    *time.Timer
	stopCh   chan struct{}
	stopOnce sync.Once
}

// WatcherConfig holds file watcher configuration.
type WatcherConfig struct {
	Root     string
	Debounce time.Duration
	Logger   zerolog.Logger
	OnChange func()
}

// NewFileWatcher starts watching the root and every directory below it.
// Directories created later are registered as they appear.
func NewFileWatcher(cfg WatcherConfig) (*FileWatcher, error) {
	if cfg.Root == "" {
		return nil, errors.New("watch root is required")
	}
	if cfg.OnChange == nil {
		return nil, errors.New("change callback is required")
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultWatchDebounce
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	fw := &FileWatcher{
		watcher:  watcher,
		root:     cfg.Root,
		logger:   cfg.Logger,
		onChange: cfg.OnChange,
		debounce: cfg.Debounce,
		stopCh:   make(chan struct{}),
	}

	if err := fw.addRecursive(cfg.Root); err != nil {
		watcher.Close()
		return nil, err
	}

	go fw.run()
	return fw, nil
}

// Stop stops the watcher and cancels any pending callback. Safe to call more
// than once.
func (fw *FileWatcher) Stop() {
	fw.stopOnce.Do(func() {
		close(fw.stopCh)

		fw.mu.Lock()
		if fw.timer != nil {
			fw.timer.Stop()
		}
		fw.mu.Unlock()

		fw.watcher.Close()
	})
}

// addRecursive registers the directory and all subdirectories.
func (fw *FileWatcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return fw.watcher.Add(path)
		}
		return nil
	})
}

func (fw *FileWatcher) run() {
	for {
		select {
		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}

			// Register directories created after startup so nested
			// memory files keep triggering syncs.
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := fw.addRecursive(event.Name); err != nil {
						fw.logger.Warn().Err(err).Str("dir", event.Name).Msg("Failed to watch new directory")
					}
					continue
				}
			}

			if !strings.HasSuffix(strings.ToLower(event.Name), ".md") {
				continue
			}

			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) ||
				event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				fw.logger.Debug().
					Str("file", filepath.Base(event.Name)).
					Str("op", event.Op.String()).
					Msg("File change detected")
				fw.scheduleChange()
			}

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			fw.logger.Error().Err(err).Msg("File watcher error")

		case <-fw.stopCh:
			return
		}
	}
}

// scheduleChange resets the debounce timer. The callback re-checks stopCh so
// a Stop racing the timer cannot fire a late sync.
func (fw *FileWatcher) scheduleChange() {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	if fw.timer != nil {
		fw.timer.Stop()
	}
	fw.timer = time.AfterFunc(fw.debounce, func() {
		select {
		case <-fw.stopCh:
			return
		default:
		}
		fw.onChange()
	})
}
