package index

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// WatcherConfig controls which changes reach the indexer and how often.
type WatcherConfig struct {
	// Debounce is the quiet period after which collected changes are flushed.
	Debounce time.Duration `mapstructure:"debounce" yaml:"debounce"`

	// IgnorePatterns are doublestar globs for paths to ignore, matched
	// against the slash-separated path relative to the root and its base name.
	IgnorePatterns []string `mapstructure:"ignore_patterns" yaml:"ignore_patterns"`

	// Files above MaxFileSize are not reported.
	MaxFileSize int64 `mapstructure:"max_file_size" yaml:"max_file_size"`

	// Recursive also watches subdirectories, including ones created later.
	Recursive bool `mapstructure:"recursive" yaml:"recursive"`
}

// DefaultWatcherConfig mirrors the indexer defaults plus editor temp files.
func DefaultWatcherConfig() WatcherConfig {
	return WatcherConfig{
		Debounce: 500 * time.Millisecond,
		IgnorePatterns: []string{
			".git/**",
			".multivec/**",
			"node_modules/**",
			"vendor/**",
			"__pycache__/**",
			"*.tmp",
			"*~",
			".#*",
		},
		MaxFileSize: DefaultIndexerConfig().MaxFileSize,
		Recursive:   true,
	}
}

// WatchEvent is the latest change seen for one path.
type WatchEvent struct {
	Path      string
	Op        WatchOp
	Timestamp time.Time
}

// WatchOp is the kind of change.
type WatchOp int

const (
	OpCreate WatchOp = iota
	OpWrite
	OpRemove
	// OpRename is reported for the old name; the new name arrives as a create.
	OpRename
)

func (op WatchOp) String() string {
	switch op {
	case OpCreate:
		return "create"
	case OpWrite:
		return "write"
	case OpRemove:
		return "remove"
	case OpRename:
		return "rename"
	default:
		return "unknown"
	}
}

// WatchCallback receives one debounced batch.
// The events slice holds the latest event per path, sorted by path.
type WatchCallback func(events []WatchEvent)

// Watcher monitors a directory tree for changes to image and text files.
type Watcher struct {
	config   WatcherConfig
	watcher  *fsnotify.Watcher
	callback WatchCallback
	rootPath string
	logger   *zap.Logger

	pendingMu sync.Mutex
	pending   map[string]WatchEvent

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewWatcher prepares a watcher for rootPath. Nothing is watched until Start.
func NewWatcher(rootPath string, cfg WatcherConfig, logger *zap.Logger) (*Watcher, error) {
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultWatcherConfig().Debounce
	}
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = DefaultWatcherConfig().MaxFileSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	absRoot, err := filepath.Abs(rootPath)
	if err != nil {
		return nil, err
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &Watcher{
		config:   cfg,
		watcher:  fsWatcher,
		rootPath: absRoot,
		logger:   logger,
		pending:  make(map[string]WatchEvent),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// SetCallback registers the batch handler. Call it before Start.
func (w *Watcher) SetCallback(cb WatchCallback) {
	w.callback = cb
}

// Start adds the watches and processes events until ctx is done or Stop.
func (w *Watcher) Start(ctx context.Context) error {
	if w.config.Recursive {
		if err := w.addRecursive(w.rootPath); err != nil {
			return err
		}
	} else if err := w.watcher.Add(w.rootPath); err != nil {
		return err
	}

	go w.processEvents(ctx)
	return nil
}

// Stop stops the watcher and releases resources. Pending events are dropped.
func (w *Watcher) Stop() error {
	w.stopOnce.Do(func() { close(w.stopCh) })
	<-w.doneCh
	return w.watcher.Close()
}

// addRecursive adds path and all subdirectories that are not ignored.
func (w *Watcher) addRecursive(path string) error {
	return filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable directories are not watched
		}
		if !d.IsDir() {
			return nil
		}
		if p != w.rootPath && w.shouldIgnore(w.rel(p)) {
			return filepath.SkipDir
		}
		return w.watcher.Add(p)
	})
}

func (w *Watcher) rel(path string) string {
	relPath, err := filepath.Rel(w.rootPath, path)
	if err != nil {
		return path
	}
	return relPath
}

// shouldIgnore checks a relative path and its base name against the ignore
// patterns. "dir/**" also matches dir itself.
func (w *Watcher) shouldIgnore(relPath string) bool {
	slashed := filepath.ToSlash(relPath)
	base := filepath.Base(relPath)
	for _, pattern := range w.config.IgnorePatterns {
		if ok, _ := doublestar.Match(pattern, slashed); ok {
			return true
		}
		if ok, _ := doublestar.Match(pattern, slashed+"/"); ok {
			return true
		}
		if ok, _ := doublestar.Match(pattern, base); ok {
			return true
		}
	}
	return false
}

// processEvents collects events and flushes them once per debounce tick.
func (w *Watcher) processEvents(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.config.Debounce)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", zap.Error(err))

		case <-ticker.C:
			w.flushPending()
		}
	}
}

// handleEvent keeps the latest supported change per path.
func (w *Watcher) handleEvent(event fsnotify.Event) {
	relPath := w.rel(event.Name)
	if w.shouldIgnore(relPath) {
		return
	}

	if event.Op&(fsnotify.Remove|fsnotify.Rename) == 0 {
		info, err := os.Stat(event.Name)
		if err == nil {
			if info.IsDir() {
				// New directories are watched as they appear
				if event.Op&fsnotify.Create != 0 && w.config.Recursive {
					if err := w.addRecursive(event.Name); err != nil {
						w.logger.Warn("watch new directory", zap.String("path", event.Name), zap.Error(err))
					}
				}
				return
			}
			if info.Size() > w.config.MaxFileSize {
				return
			}
		}
	}

	if _, ok := ModalityOf(event.Name); !ok {
		return
	}

	var op WatchOp
	switch {
	case event.Op&fsnotify.Create != 0:
		op = OpCreate
	case event.Op&fsnotify.Write != 0:
		op = OpWrite
	case event.Op&fsnotify.Remove != 0:
		op = OpRemove
	case event.Op&fsnotify.Rename != 0:
		op = OpRename
	default:
		return
	}

	w.pendingMu.Lock()
	w.pending[event.Name] = WatchEvent{
		Path:      event.Name,
		Op:        op,
		Timestamp: time.Now(),
	}
	w.pendingMu.Unlock()
}

// flushPending hands the collected changes to the callback and resets them.
func (w *Watcher) flushPending() {
	w.pendingMu.Lock()
	if len(w.pending) == 0 {
		w.pendingMu.Unlock()
		return
	}

	events := make([]WatchEvent, 0, len(w.pending))
	for _, e := range w.pending {
		events = append(events, e)
	}
	w.pending = make(map[string]WatchEvent)
	w.pendingMu.Unlock()

	sort.Slice(events, func(i, j int) bool { return events[i].Path < events[j].Path })
	if w.callback != nil {
		w.callback(events)
	}
}

// splitEvents separates paths to re-ingest from paths to delete.
func splitEvents(events []WatchEvent) (toIndex, toRemove []string) {
	for _, e := range events {
		switch e.Op {
		case OpCreate, OpWrite:
			toIndex = append(toIndex, e.Path)
		case OpRemove, OpRename:
			// A rename reports the old name; the new name arrives as a create.
			toRemove = append(toRemove, e.Path)
		}
	}
	return toIndex, toRemove
}

// WatchAndIndex creates a watcher that keeps collection in sync with rootPath.
func WatchAndIndex(ctx context.Context, indexer *Indexer, rootPath, collection string, cfg WatcherConfig) (*Watcher, error) {
	watcher, err := NewWatcher(rootPath, cfg, indexer.logger)
	if err != nil {
		return nil, err
	}

	watcher.SetCallback(func(events []WatchEvent) {
		toIndex, toRemove := splitEvents(events)
		logger := indexer.logger.With(zap.String("collection", collection))

		if len(toIndex) > 0 {
			result, err := indexer.Index(ctx, watcher.rootPath, collection, toIndex...)
			switch {
			case err != nil:
				logger.Error("auto-reindex failed", zap.Error(err))
			case len(result.Errors) > 0:
				logger.Warn("auto-reindex partial", zap.Int("stored", result.FilesStored), zap.Error(result.Err()))
			}
		}

		if len(toRemove) > 0 {
			n, err := indexer.Remove(ctx, watcher.rootPath, collection, toRemove...)
			if err != nil {
				logger.Error("remove failed", zap.Error(err))
			}
			logger.Debug("removed files", zap.Int("count", n))
		}
	})

	if err := watcher.Start(ctx); err != nil {
		watcher.watcher.Close()
		return nil, err
	}

	return watcher, nil
}
