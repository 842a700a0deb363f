package skills

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

// DefaultReloadDebounce is how long the watcher waits after the last skill
// file change before re-running discovery.
const DefaultReloadDebounce = 5 * time.Second

// Watcher re-runs skill discovery when SKILL.md files change and hands the
// fresh list to a callback.
type Watcher struct {
	loader   *Loader
	watcher  *fsnotify.Watcher
	logger   zerolog.Logger
	onUpdate func([]Skill)
	debounce time.Duration

	mu       sync.Mutex
	timer    *time.Timer
	stopCh   chan struct{}
	stopOnce sync.Once
}

// WatcherConfig holds skills watcher configuration.
type WatcherConfig struct {
	Loader   *Loader
	Debounce time.Duration
	Logger   zerolog.Logger
	OnUpdate func([]Skill)
}

// NewWatcher starts watching the loader's skills root, including skill
// subdirectories created later.
func NewWatcher(cfg WatcherConfig) (*Watcher, error) {
	if cfg.Loader == nil {
		return nil, errors.New("loader is required")
	}
	if cfg.OnUpdate == nil {
		return nil, errors.New("update callback is required")
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultReloadDebounce
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		loader:   cfg.Loader,
		watcher:  fsw,
		logger:   cfg.Logger.With().Str("component", "skills-watcher").Logger(),
		onUpdate: cfg.OnUpdate,
		debounce: cfg.Debounce,
		stopCh:   make(chan struct{}),
	}

	if err := w.addRecursive(cfg.Loader.dir); err != nil {
		fsw.Close()
		return nil, err
	}

	go w.run()
	return w, nil
}

// Stop stops the watcher. Safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)

		w.mu.Lock()
		if w.timer != nil {
			w.timer.Stop()
		}
		w.mu.Unlock()

		w.watcher.Close()
	})
}

func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.watcher.Add(path)
		}
		return nil
	})
}

func (w *Watcher) run() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}

			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := w.addRecursive(event.Name); err != nil {
						w.logger.Warn().Err(err).Str("dir", event.Name).Msg("Failed to watch new skill directory")
					}
					continue
				}
			}

			if !strings.HasSuffix(strings.ToLower(event.Name), ".md") {
				continue
			}

			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) ||
				event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				w.scheduleReload()
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("Skills watcher error")

		case <-w.stopCh:
			return
		}
	}
}

func (w *Watcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		select {
		case <-w.stopCh:
			return
		default:
		}

		skills, err := w.loader.Discover()
		if err != nil {
			w.logger.Warn().Err(err).Msg("Skill reload failed")
			return
		}
		w.logger.Info().Int("count", len(skills)).Msg("Skills reloaded")
		w.onUpdate(skills)
	})
}
