// Package daemon watches a project directory for file changes and
// incrementally updates its indexer.IndexStore, debouncing bursts of
// filesystem events into batched updates (spec §4.12). Grounded on
// original_source/src/indexer/daemon.rs's watcher/processor split,
// reimplemented with fsnotify and goroutines in place of OS threads and
// notify/mpsc.
package daemon

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/corewright/agentcore/internal/indexer"
)

// errDisabled is returned by Start when the daemon's config disables it.
var errDisabled = errors.New("daemon: disabled by config")

// Config parameterizes the daemon (spec §4.12, realized as SPEC_FULL.md
// §6's [indexer] TOML table).
type Config struct {
	Enabled             bool
	DebounceMs          int
	PersistIntervalSecs int
	BatchSize           int
	IgnorePatterns      []string
	Extensions          []string
}

// DefaultConfig mirrors SPEC_FULL.md §6's [indexer] defaults.
func DefaultConfig() Config {
	return Config{
		Enabled:             true,
		DebounceMs:          500,
		PersistIntervalSecs: 60,
		BatchSize:           100,
	}
}

func (c Config) debounce() time.Duration {
	return time.Duration(c.DebounceMs) * time.Millisecond
}

func (c Config) persistInterval() time.Duration {
	return time.Duration(c.PersistIntervalSecs) * time.Second
}

// pendingChanges accumulates filesystem events within a debounce window
// (spec §4.12: "PendingChanges{created, modified, deleted, renamed,
// started_at?}").
type pendingChanges struct {
	created  map[string]bool
	modified map[string]bool
	deleted  map[string]bool
	renamed  [][2]string
	startedAt time.Time
}

func newPendingChanges() *pendingChanges {
	return &pendingChanges{
		created:  make(map[string]bool),
		modified: make(map[string]bool),
		deleted:  make(map[string]bool),
	}
}

func (p *pendingChanges) isEmpty() bool {
	return len(p.created) == 0 && len(p.modified) == 0 && len(p.deleted) == 0 && len(p.renamed) == 0
}

func (p *pendingChanges) clear() {
	p.created = make(map[string]bool)
	p.modified = make(map[string]bool)
	p.deleted = make(map[string]bool)
	p.renamed = nil
	p.startedAt = time.Time{}
}

func (p *pendingChanges) elapsed() time.Duration {
	if p.startedAt.IsZero() {
		return 0
	}
	return time.Since(p.startedAt)
}

// onCreate records a created-file event, per spec §4.12's "a file newly
// created and then modified within the window stays in created."
func (p *pendingChanges) onCreate(path string) {
	p.touch()
	p.created[path] = true
}

// onModify records a modified-file event, leaving files already marked as
// created untouched.
func (p *pendingChanges) onModify(path string) {
	p.touch()
	if !p.created[path] {
		p.modified[path] = true
	}
}

// onDelete records a deleted-file event, per spec §4.12's "a file
// modified then deleted within the window ends in deleted (removed from
// created/modified)."
func (p *pendingChanges) onDelete(path string) {
	p.touch()
	delete(p.created, path)
	delete(p.modified, path)
	p.deleted[path] = true
}

func (p *pendingChanges) onRename(from, to string) {
	p.touch()
	p.renamed = append(p.renamed, [2]string{from, to})
}

func (p *pendingChanges) touch() {
	if p.startedAt.IsZero() {
		p.startedAt = time.Now()
	}
}

// EventKind tags the variant of an Event emitted on the daemon's event
// channel (spec §4.12).
type EventKind int

const (
	EventFileCreated EventKind = iota
	EventFileModified
	EventFileDeleted
	EventFileRenamed
	EventIndexPersisted
	EventError
	EventStopped
)

// Event is one item on the daemon's event channel.
type Event struct {
	Kind         EventKind
	Path         string
	RenamedFrom  string
	RenamedTo    string
	ErrorMessage string
}

// Daemon watches root and incrementally updates the indexer at store
// (spec §4.12).
type Daemon struct {
	root   string
	config Config
	store  *indexer.IndexStore
	scan   *indexer.Scanner
}

// New returns a Daemon watching root, backed by store for persistence.
func New(root string, config Config, store *indexer.IndexStore) *Daemon {
	return &Daemon{
		root:   root,
		config: config,
		store:  store,
		scan:   indexer.NewScanner(root, store),
	}
}

// Handle controls a running Daemon.
type Handle struct {
	events  chan Event
	cancel  func()
	group   *errgroup.Group
	stopped sync.Once
}

// Events returns the channel of daemon events. Closed when the processor
// worker exits.
func (h *Handle) Events() <-chan Event { return h.events }

// Stop signals shutdown and waits for both workers to finish. Idempotent.
func (h *Handle) Stop() error {
	var err error
	h.stopped.Do(func() {
		h.cancel()
		err = h.group.Wait()
	})
	return err
}

// Start launches the watcher and processor goroutines (spec §4.12: "runs
// two cooperating workers"). Returns an error if the daemon is disabled.
func (d *Daemon) Start() (*Handle, error) {
	if !d.config.Enabled {
		return nil, errDisabled
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(d.root); err != nil {
		watcher.Close()
		return nil, err
	}
	if err := addRecursive(watcher, d.root); err != nil {
		watcher.Close()
		return nil, err
	}

	events := make(chan Event, 256)
	group, groupCtx := errgroup.WithContext(context.Background())
	runCtx, cancel := context.WithCancel(groupCtx)

	group.Go(func() error {
		<-runCtx.Done()
		return watcher.Close()
	})

	group.Go(func() error {
		defer close(events)
		d.processLoop(runCtx, watcher, events)
		return nil
	})

	return &Handle{events: events, cancel: cancel, group: group}, nil
}

func (d *Daemon) processLoop(ctx context.Context, watcher *fsnotify.Watcher, events chan<- Event) {
	pending := newPendingChanges()
	var renameFrom string
	lastPersist := time.Now()
	debounceTicker := time.NewTicker(50 * time.Millisecond)
	defer debounceTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			events <- Event{Kind: EventStopped}
			return

		case fsEvent, ok := <-watcher.Events:
			if !ok {
				events <- Event{Kind: EventStopped}
				return
			}
			d.accumulate(fsEvent, pending, &renameFrom)

		case werr, ok := <-watcher.Errors:
			// Watcher errors are surfaced as daemon errors; the send is
			// skipped rather than blocking when the events channel is full.
			if ok && werr != nil {
				select {
				case events <- Event{Kind: EventError, ErrorMessage: werr.Error()}:
				default:
				}
			}

		case <-debounceTicker.C:
			if !pending.isEmpty() && pending.elapsed() >= d.config.debounce() {
				d.processPending(pending, events)
			}
			if time.Since(lastPersist) >= d.config.persistInterval() {
				if err := d.store.Save(d.currentIndexSnapshot()); err == nil {
					events <- Event{Kind: EventIndexPersisted}
				}
				lastPersist = time.Now()
			}
		}
	}
}

func (d *Daemon) currentIndexSnapshot() *indexer.PersistedIndex {
	index, err := d.store.LoadOrCreate(d.root)
	if err != nil {
		log.Warn().Err(err).Msg("daemon: failed to load index for periodic persist")
		return indexer.NewPersistedIndex(d.root)
	}
	return index
}

func (d *Daemon) accumulate(fsEvent fsnotify.Event, pending *pendingChanges, renameFrom *string) {
	relPath, err := filepath.Rel(d.root, fsEvent.Name)
	if err != nil {
		return
	}
	if d.shouldIgnore(relPath) {
		return
	}

	switch {
	case fsEvent.Op&fsnotify.Create != 0:
		pending.onCreate(relPath)
	case fsEvent.Op&fsnotify.Write != 0:
		pending.onModify(relPath)
	case fsEvent.Op&fsnotify.Remove != 0:
		pending.onDelete(relPath)
	case fsEvent.Op&fsnotify.Rename != 0:
		// fsnotify emits a bare Rename for the old path with no paired
		// "to" event; treat it as a delete, matching spec §4.12's fallback
		// for watchers that can't pair rename events (mirrors
		// original_source/src/indexer/daemon.rs's own "Any" fallback for
		// watchers lacking explicit rename pairing).
		pending.onDelete(relPath)
	}
}

func (d *Daemon) shouldIgnore(relPath string) bool {
	for _, part := range strings.Split(relPath, string(filepath.Separator)) {
		if defaultIgnoreDirs[part] {
			return true
		}
	}
	for _, pattern := range d.config.IgnorePatterns {
		if strings.HasPrefix(pattern, "*") && strings.HasSuffix(relPath, strings.TrimPrefix(pattern, "*")) {
			return true
		}
	}

	ext := strings.ToLower(filepath.Ext(relPath))
	if ext == "" {
		return true
	}
	if len(d.config.Extensions) == 0 {
		return !defaultExtensions[ext]
	}
	for _, allowed := range d.config.Extensions {
		if allowed == ext {
			return false
		}
	}
	return true
}

func (d *Daemon) processPending(pending *pendingChanges, events chan<- Event) {
	index, err := d.store.LoadOrCreate(d.root)
	if err != nil {
		events <- Event{Kind: EventError, ErrorMessage: err.Error()}
		pending.clear()
		return
	}

	budget := d.config.BatchSize
	if budget <= 0 {
		budget = 100
	}

	emit := func(kind EventKind, path string) {
		if budget <= 0 {
			return
		}
		budget--
		events <- Event{Kind: kind, Path: path}
	}

	for path := range pending.created {
		if err := d.scan.IndexFile(index, path); err != nil {
			log.Warn().Str("path", path).Err(err).Msg("daemon: failed to index created file")
		}
		emit(EventFileCreated, path)
		delete(pending.created, path)
	}
	for path := range pending.modified {
		if err := d.scan.IndexFile(index, path); err != nil {
			log.Warn().Str("path", path).Err(err).Msg("daemon: failed to index modified file")
		}
		emit(EventFileModified, path)
		delete(pending.modified, path)
	}
	for path := range pending.deleted {
		emit(EventFileDeleted, path)
		delete(pending.deleted, path)
		delete(index.Files, path)
	}
	for _, pair := range pending.renamed {
		events <- Event{Kind: EventFileRenamed, RenamedFrom: pair[0], RenamedTo: pair[1]}
	}
	pending.renamed = nil

	if err := d.store.Save(index); err != nil {
		events <- Event{Kind: EventError, ErrorMessage: err.Error()}
	}

	pending.clear()
}

// defaultIgnoreDirs and defaultExtensions mirror indexer.Scanner's own
// defaults; duplicated here (rather than imported unexported) since the
// daemon filters raw fsnotify paths before a Scanner ever sees them.
var defaultIgnoreDirs = map[string]bool{
	".git": true, "node_modules": true, "__pycache__": true,
	".venv": true, "vendor": true, ".cache": true, ".next": true,
	"dist": true, "build": true, "target": true,
}

var defaultExtensions = map[string]bool{
	".go": true, ".rs": true, ".ts": true, ".tsx": true, ".js": true,
	".jsx": true, ".py": true, ".java": true, ".c": true, ".cpp": true,
	".h": true, ".hpp": true, ".rb": true, ".swift": true, ".kt": true,
	".php": true, ".toml": true, ".yaml": true, ".yml": true,
	".json": true, ".md": true,
}

func addRecursive(watcher *fsnotify.Watcher, root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if !info.IsDir() {
			return nil
		}
		if defaultIgnoreDirs[info.Name()] {
			return filepath.SkipDir
		}
		return watcher.Add(path)
	})
}
