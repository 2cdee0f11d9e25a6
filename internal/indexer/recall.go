package indexer

import (
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/corewright/agentcore/internal/toolexec"
)

// FileChangeType classifies a daemon-detected filesystem change.
type FileChangeType int

const (
	FileCreated FileChangeType = iota
	FileModified
	FileDeleted
)

// EventKind tags the variant of a RecallEvent.
type EventKind int

const (
	EventFileRead EventKind = iota
	EventFileEdit
	EventFileWrite
	EventSearchMatch
	EventLlmMention
	EventChunkAccess
	EventFileSystemChange
)

// RecallEvent is one boost-triggering occurrence (spec §4.11), grounded on
// original_source/src/indexer/recall.rs's RecallEvent enum.
type RecallEvent struct {
	Kind EventKind

	Path     string
	Paths    []string
	ChunkIDs []uuid.UUID

	ChangeType FileChangeType
}

// FileReadEvent / FileEditEvent / FileWriteEvent build the corresponding
// tool-driven recall events.
func FileReadEvent(path string, chunkIDs ...uuid.UUID) RecallEvent {
	return RecallEvent{Kind: EventFileRead, Path: path, ChunkIDs: chunkIDs}
}
func FileEditEvent(path string, chunkIDs ...uuid.UUID) RecallEvent {
	return RecallEvent{Kind: EventFileEdit, Path: path, ChunkIDs: chunkIDs}
}
func FileWriteEvent(path string) RecallEvent {
	return RecallEvent{Kind: EventFileWrite, Path: path}
}
func SearchMatchEvent(paths []string) RecallEvent {
	return RecallEvent{Kind: EventSearchMatch, Paths: paths}
}
func LlmMentionEvent(paths []string) RecallEvent {
	return RecallEvent{Kind: EventLlmMention, Paths: paths}
}
func ChunkAccessEvent(chunkIDs []uuid.UUID) RecallEvent {
	return RecallEvent{Kind: EventChunkAccess, ChunkIDs: chunkIDs}
}
func FileSystemChangeEvent(path string, changeType FileChangeType) RecallEvent {
	return RecallEvent{Kind: EventFileSystemChange, Path: path, ChangeType: changeType}
}

// AffectedPaths returns every file path this event touches.
func (e RecallEvent) AffectedPaths() []string {
	switch e.Kind {
	case EventFileRead, EventFileEdit, EventFileWrite, EventFileSystemChange:
		if e.Path == "" {
			return nil
		}
		return []string{e.Path}
	case EventSearchMatch, EventLlmMention:
		return e.Paths
	default:
		return nil
	}
}

// AffectedChunks returns every chunk ID this event touches.
func (e RecallEvent) AffectedChunks() []uuid.UUID {
	switch e.Kind {
	case EventFileRead, EventFileEdit, EventChunkAccess:
		return e.ChunkIDs
	default:
		return nil
	}
}

// BoostMultiplier implements spec §4.11's exact per-event-type multipliers.
func (e RecallEvent) BoostMultiplier() float64 {
	switch e.Kind {
	case EventFileRead:
		return 1.0
	case EventFileEdit:
		return 1.5
	case EventFileWrite:
		return 1.2
	case EventSearchMatch:
		return 0.5
	case EventLlmMention:
		return 0.3
	case EventChunkAccess:
		return 1.0
	case EventFileSystemChange:
		switch e.ChangeType {
		case FileModified:
			return 0.8
		case FileCreated:
			return 0.6
		case FileDeleted:
			return 0.2
		}
	}
	return 0
}

// RecallSender is a many-producer/single-consumer channel of RecallEvents
// (spec §5: "recall channel is many-producer/single-consumer; sends are
// lock-free"). It implements toolexec.RecallSender so tool handlers can
// emit events through ToolContext without an import cycle.
type RecallSender struct {
	ch chan RecallEvent
}

var _ toolexec.RecallSender = (*RecallSender)(nil)

// NewRecallChannel returns a sender/receiver pair. Per spec §5's
// backpressure note, the channel is given generous buffering; a send that
// would block is dropped with a warning rather than blocking the producer.
func NewRecallChannel(capacity int) (*RecallSender, *RecallReceiver) {
	if capacity <= 0 {
		capacity = 4096
	}
	ch := make(chan RecallEvent, capacity)
	return &RecallSender{ch: ch}, &RecallReceiver{ch: ch}
}

// Send implements toolexec.RecallSender. event must be a RecallEvent; any
// other type is ignored (defensive, never panics per spec §4.3's ambient
// "tools never panic" stance extended to recall emission).
func (s *RecallSender) Send(event any) {
	ev, ok := event.(RecallEvent)
	if !ok {
		return
	}
	select {
	case s.ch <- ev:
	default:
		// Channel full: drop rather than block the producer (spec §5).
		log.Warn().Msg("indexer: recall channel full, dropping event")
	}
}

// FileRead/FileEdit/FileWrite/SearchMatch/LlmMention/FilesystemChange are
// convenience senders mirroring RecallSender's Rust counterpart.
func (s *RecallSender) FileRead(path string, chunkIDs ...uuid.UUID) {
	s.Send(FileReadEvent(path, chunkIDs...))
}
func (s *RecallSender) FileEdit(path string, chunkIDs ...uuid.UUID) {
	s.Send(FileEditEvent(path, chunkIDs...))
}
func (s *RecallSender) FileWrite(path string) { s.Send(FileWriteEvent(path)) }
func (s *RecallSender) SearchMatch(paths []string) { s.Send(SearchMatchEvent(paths)) }
func (s *RecallSender) LlmMention(paths []string)  { s.Send(LlmMentionEvent(paths)) }
func (s *RecallSender) FilesystemChange(path string, ct FileChangeType) {
	s.Send(FileSystemChangeEvent(path, ct))
}

// DaemonEventKind tags the variant of a DaemonEvent (spec §4.12).
type DaemonEventKind int

const (
	DaemonFileCreated DaemonEventKind = iota
	DaemonFileModified
	DaemonFileDeleted
	DaemonFileRenamed
	DaemonIndexPersisted
	DaemonError
	DaemonStopped
)

// DaemonEvent is emitted on the daemon's own event channel (spec §4.12).
type DaemonEvent struct {
	Kind         DaemonEventKind
	Path         string
	RenamedFrom  string
	RenamedTo    string
	ErrorMessage string
}

// ProcessDaemonEvent bridges watcher events into recall events, per spec
// §4.11: "a rename decomposes into a delete + create."
func (s *RecallSender) ProcessDaemonEvent(ev DaemonEvent) {
	switch ev.Kind {
	case DaemonFileCreated:
		s.FilesystemChange(ev.Path, FileCreated)
	case DaemonFileModified:
		s.FilesystemChange(ev.Path, FileModified)
	case DaemonFileDeleted:
		s.FilesystemChange(ev.Path, FileDeleted)
	case DaemonFileRenamed:
		s.FilesystemChange(ev.RenamedFrom, FileDeleted)
		s.FilesystemChange(ev.RenamedTo, FileCreated)
	}
}

// RecallReceiver drains queued RecallEvents.
type RecallReceiver struct {
	ch chan RecallEvent
}

// TryRecv returns the next event without blocking, or false if none is
// pending.
func (r *RecallReceiver) TryRecv() (RecallEvent, bool) {
	select {
	case ev := <-r.ch:
		return ev, true
	default:
		return RecallEvent{}, false
	}
}

// Drain returns every currently pending event.
func (r *RecallReceiver) Drain() []RecallEvent {
	var events []RecallEvent
	for {
		ev, ok := r.TryRecv()
		if !ok {
			return events
		}
		events = append(events, ev)
	}
}

// ProcessedRecalls is the result of processing a batch of RecallEvents
// (spec §4.11).
type ProcessedRecalls struct {
	FileBoosts  map[string]float64
	ChunkBoosts map[uuid.UUID]float64
	EventCount  int
}

// HasBoosts reports whether any boost needs to be applied.
func (p ProcessedRecalls) HasBoosts() bool {
	return len(p.FileBoosts) > 0 || len(p.ChunkBoosts) > 0
}

// RecallProcessor accumulates RecallEvents drained from a RecallReceiver
// into per-path/per-chunk boost totals.
type RecallProcessor struct {
	mu               sync.Mutex
	receiver         *RecallReceiver
	associativeBoost float64
}

// NewRecallProcessor returns a processor with the default associative
// boost (0.3, spec §4.8/§4.10).
func NewRecallProcessor(receiver *RecallReceiver) *RecallProcessor {
	return &RecallProcessor{receiver: receiver, associativeBoost: 0.3}
}

// WithAssociativeBoost overrides the associative boost factor.
func (p *RecallProcessor) WithAssociativeBoost(boost float64) *RecallProcessor {
	p.associativeBoost = boost
	return p
}

// AssociativeBoost returns the configured associative boost factor.
func (p *RecallProcessor) AssociativeBoost() float64 { return p.associativeBoost }

// ProcessPending drains and processes every currently queued event.
func (p *RecallProcessor) ProcessPending() ProcessedRecalls {
	return p.ProcessEvents(p.receiver.Drain())
}

// ProcessEvents sums boost multipliers per affected file/chunk across a
// batch of events (spec §4.11: "returns {file_boosts, chunk_boosts,
// event_count}").
func (p *RecallProcessor) ProcessEvents(events []RecallEvent) ProcessedRecalls {
	result := ProcessedRecalls{FileBoosts: make(map[string]float64), ChunkBoosts: make(map[uuid.UUID]float64)}

	for _, ev := range events {
		mult := ev.BoostMultiplier()
		for _, path := range ev.AffectedPaths() {
			result.FileBoosts[path] += mult
		}
		for _, id := range ev.AffectedChunks() {
			result.ChunkBoosts[id] += mult
		}
		result.EventCount++
	}

	return result
}

// pathMentionRegex matches file paths with known source/text extensions
// (spec §4.11: "scans free text for tokens matching a file-path-with-
// known-extension regex"), grounded on
// original_source/src/indexer/recall.rs's PATH_REGEX.
var pathMentionRegex = regexp.MustCompile(
	`(?:^|[` + "`" + `"'\s(])([a-zA-Z0-9_./\\-]+\.(?:go|rs|ts|tsx|js|jsx|py|java|c|cpp|h|hpp|rb|swift|kt|php|toml|yaml|yml|json|md))(?:[` + "`" + `"'\s):,.]|$)`,
)

// ExtractPathsFromText implements spec §4.11's mention extraction:
// dedup'd file-path-shaped tokens, filtered against projectRoot's
// existence check when a root is supplied.
func ExtractPathsFromText(text string, projectRoot string) []string {
	matches := pathMentionRegex.FindAllStringSubmatch(text, -1)
	seen := make(map[string]bool)
	var paths []string

	for _, m := range matches {
		if len(m) < 2 {
			continue
		}
		p := m[1]
		if seen[p] {
			continue
		}
		seen[p] = true

		if projectRoot != "" {
			if _, err := os.Stat(filepath.Join(projectRoot, p)); err != nil {
				continue
			}
		}
		paths = append(paths, p)
	}

	return paths
}
