// Package indexer is the index store: it buffers documents, commits them as
// immutable segments behind an atomically swapped manifest, and serves
// consistent read views to the query engine.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/hover-retrieval/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/hover-retrieval/internal/indexer/segment"
	"github.com/Adithya-Monish-Kumar-K/hover-retrieval/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/hover-retrieval/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/hover-retrieval/pkg/metrics"
)

// Engine owns one index data directory.
//
// Writes go to an in-memory batch and become visible only when Commit
// renames a new manifest into place. Readers take a View, which pins the
// committed state until closed; Commit, Compact and Reload wait for open
// views before swapping state. A goroutine must not call Commit while it
// holds a View.
type Engine struct {
	cfg     config.IndexerConfig
	logger  *slog.Logger
	metrics *metrics.Metrics
	lock    *writerLock

	writeMu  sync.Mutex
	memIndex *index.MemoryIndex
	writer   *segment.Writer
	policy   mergePolicy

	mu     sync.RWMutex
	state  *state
	closed bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithMetrics records commit and compaction metrics on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// CommitInfo describes a successful commit.
type CommitInfo struct {
	Generation  uint64    `json:"generation"`
	Segment     string    `json:"segment,omitempty"`
	Docs        int       `json:"docs,omitempty"`
	Replaced    int       `json:"replaced,omitempty"`
	TotalDocs   int64     `json:"total_docs"`
	Segments    int       `json:"segments"`
	Checkpoint  string    `json:"checkpoint,omitempty"`
	CommittedAt time.Time `json:"committed_at"`
}

// state is one committed generation: the manifest plus an open reader and a
// tombstone set per live segment, in manifest order.
type state struct {
	manifest   *Manifest
	readers    []*segment.Reader
	tombstones []map[string]struct{}
}

type location struct {
	segment int
	entry   segment.DocEntry
}

// locate finds the live version of docID.
func (s *state) locate(docID string) (location, bool) {
	for i := len(s.readers) - 1; i >= 0; i-- {
		entry, ok := s.readers[i].DocEntry(docID)
		if !ok {
			continue
		}
		if _, dead := s.tombstones[i][docID]; dead {
			continue
		}
		return location{segment: i, entry: entry}, true
	}
	return location{}, false
}

// Open opens the index in cfg.DataDir, creating the directory if needed.
// Writable engines take the directory's writer lock and delete segment files
// no manifest refers to.
func Open(cfg config.IndexerConfig, opts ...Option) (*Engine, error) {
	e := &Engine{
		cfg:      cfg,
		logger:   slog.Default().With("component", "indexer"),
		memIndex: index.NewMemoryIndex(),
		writer:   segment.NewWriter(cfg.DataDir),
		policy:   newMergePolicy(cfg),
	}
	for _, opt := range opts {
		opt(e)
	}

	if !cfg.ReadOnly {
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("creating index data directory: %w", err)
		}
		lock, err := acquireWriterLock(cfg.DataDir)
		if err != nil {
			return nil, err
		}
		e.lock = lock
	}

	m, err := readManifest(cfg.DataDir)
	if err != nil {
		e.lock.release()
		return nil, err
	}
	if m != nil {
		st, err := e.buildState(m, nil)
		if err != nil {
			e.lock.release()
			return nil, fmt.Errorf("loading generation %d: %w", m.Generation, err)
		}
		e.state = st
		e.metrics.ObserveIndex(m.Generation, len(m.Segments), m.Stats.TotalDocs)
		e.logger.Info("index loaded",
			"generation", m.Generation,
			"segments", len(m.Segments),
			"docs", m.Stats.TotalDocs,
			"checkpoint", m.Checkpoint,
		)
	} else {
		e.logger.Info("no committed index found", "data_dir", cfg.DataDir)
	}

	if !cfg.ReadOnly {
		e.removeOrphans(m)
	}
	return e, nil
}

// buildState opens a reader per segment of m, reusing readers from reuse by
// name. On error every reader opened here is closed again.
func (e *Engine) buildState(m *Manifest, reuse map[string]*segment.Reader) (*state, error) {
	st := &state{
		manifest:   m,
		readers:    make([]*segment.Reader, 0, len(m.Segments)),
		tombstones: make([]map[string]struct{}, 0, len(m.Segments)),
	}
	var opened []*segment.Reader
	for _, meta := range m.Segments {
		r, ok := reuse[meta.Name]
		if !ok {
			var err error
			r, err = segment.OpenReader(filepath.Join(e.cfg.DataDir, meta.Name), e.cfg.DocCacheBlocks)
			if err != nil {
				for _, o := range opened {
					o.Close()
				}
				return nil, fmt.Errorf("opening segment %s: %w", meta.Name, err)
			}
			opened = append(opened, r)
		}
		dead := make(map[string]struct{}, len(m.Tombstones[meta.Name]))
		for _, id := range m.Tombstones[meta.Name] {
			dead[id] = struct{}{}
		}
		st.readers = append(st.readers, r)
		st.tombstones = append(st.tombstones, dead)
	}
	return st, nil
}

// removeOrphans deletes segment and temp files left behind by an interrupted
// commit or compaction.
func (e *Engine) removeOrphans(m *Manifest) {
	live := map[string]struct{}{}
	if m != nil {
		live = m.segmentNames()
	}
	entries, err := os.ReadDir(e.cfg.DataDir)
	if err != nil {
		e.logger.Warn("listing data directory for orphans", "error", err)
		return
	}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() {
			continue
		}
		orphanSegment := strings.HasSuffix(name, segment.Extension)
		if _, ok := live[name]; ok {
			orphanSegment = false
		}
		if !orphanSegment && !strings.HasSuffix(name, ".tmp") {
			continue
		}
		if err := os.Remove(filepath.Join(e.cfg.DataDir, name)); err != nil {
			e.logger.Warn("removing orphan file", "file", name, "error", err)
			continue
		}
		e.logger.Info("removed orphan file", "file", name)
	}
}

// AddDocument buffers doc for the next commit. Adding an id that is already
// committed or buffered fails with a DuplicateDocumentError.
func (e *Engine) AddDocument(doc index.Document) error {
	return e.AddAnalyzed(index.Analyze(doc), false)
}

// ReplaceDocument buffers doc as the new version of its id. At commit the
// previously committed version, if any, stops being visible and its lengths
// leave the collection statistics.
func (e *Engine) ReplaceDocument(doc index.Document) error {
	return e.AddAnalyzed(index.Analyze(doc), true)
}

// AddAnalyzed buffers a document that was analyzed by the caller. It lets
// the builder tokenize on many goroutines while the buffer stays serial.
func (e *Engine) AddAnalyzed(ad index.AnalyzedDocument, replace bool) error {
	if ad.Doc.ID == "" {
		return apperrors.InvalidArgument("document id is empty")
	}
	if e.cfg.ReadOnly {
		return apperrors.InvalidArgument("index at %s is open read-only", e.cfg.DataDir)
	}
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	if !replace {
		e.mu.RLock()
		closed, st := e.closed, e.state
		var committed bool
		if st != nil {
			_, committed = st.locate(ad.Doc.ID)
		}
		e.mu.RUnlock()
		if closed {
			return apperrors.ErrIndexClosed
		}
		if committed {
			return &apperrors.DuplicateDocumentError{DocID: ad.Doc.ID}
		}
	}
	return e.memIndex.AddDocument(ad, replace)
}

// Buffered returns the number of documents waiting for the next commit.
func (e *Engine) Buffered() int {
	return e.memIndex.DocCount()
}

// Discard drops the in-flight batch.
func (e *Engine) Discard() {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	if n := e.memIndex.DocCount(); n > 0 {
		e.logger.Info("discarding uncommitted batch", "docs", n)
	}
	e.memIndex.Reset()
}

// Commit makes the buffered batch visible as a new generation and records
// checkpoint with it. A batch with no documents still commits, advancing the
// generation and checkpoint. On failure the committed state and the buffer
// are left as they were. After the commit, full tiers of similar-size
// segments are merged and the returned info describes the generation
// after those merges.
func (e *Engine) Commit(checkpoint string) (CommitInfo, error) {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	info, err := e.commitLocked(checkpoint)
	if err != nil {
		e.countCommit("error")
		return CommitInfo{}, err
	}
	e.countCommit("success")

	if err := e.mergeTiers(context.Background()); err != nil {
		e.logger.Error("segment merge failed", "error", err)
	}
	e.mu.RLock()
	m := e.state.manifest
	e.mu.RUnlock()
	info.Generation, info.Segments = m.Generation, len(m.Segments)
	return info, nil
}

func (e *Engine) commitLocked(checkpoint string) (CommitInfo, error) {
	if e.cfg.ReadOnly {
		return CommitInfo{}, apperrors.InvalidArgument("index at %s is open read-only", e.cfg.DataDir)
	}
	start := time.Now()

	e.mu.RLock()
	closed, cur := e.closed, e.state
	e.mu.RUnlock()
	if closed {
		return CommitInfo{}, apperrors.ErrIndexClosed
	}

	var next *Manifest
	if cur != nil {
		next = cur.manifest.clone()
	} else {
		next = &Manifest{NextSegment: 1, Tombstones: map[string][]string{}}
	}

	batch := e.memIndex.Snapshot()
	var (
		reader   *segment.Reader
		segName  string
		replaced int
	)
	if len(batch.Docs) > 0 {
		seq := next.NextSegment
		next.NextSegment++
		name, err := e.writer.Write(seq, batch)
		if err != nil {
			return CommitInfo{}, fmt.Errorf("writing segment: %w", err)
		}
		segName = name
		segPath := filepath.Join(e.cfg.DataDir, name)
		reader, err = segment.OpenReader(segPath, e.cfg.DocCacheBlocks)
		if err != nil {
			os.Remove(segPath)
			return CommitInfo{}, fmt.Errorf("opening new segment for reading: %w", err)
		}

		if cur != nil {
			for id := range batch.Replaces {
				loc, ok := cur.locate(id)
				if !ok {
					continue
				}
				old := cur.manifest.Segments[loc.segment].Name
				next.Tombstones[old] = append(next.Tombstones[old], id)
				next.Stats.remove(loc.entry.Lengths)
				replaced++
			}
		}
		for _, d := range batch.Docs {
			next.Stats.add(d.Lengths)
		}
		next.Segments = append(next.Segments, SegmentMeta{
			Name:  name,
			Docs:  int(reader.DocCount()),
			Terms: reader.Terms(),
		})
	}
	next.Stats.recompute()
	next.Generation++
	next.Checkpoint = checkpoint
	next.CommittedAt = time.Now().UTC()

	discard := func() {
		if reader != nil {
			reader.Close()
			os.Remove(reader.Path())
		}
	}

	reuse := make(map[string]*segment.Reader)
	if cur != nil {
		for i, r := range cur.readers {
			reuse[cur.manifest.Segments[i].Name] = r
		}
	}
	if reader != nil {
		reuse[segName] = reader
	}
	st, err := e.buildState(next, reuse)
	if err != nil {
		discard()
		return CommitInfo{}, err
	}

	if err := writeManifest(e.cfg.DataDir, next); err != nil {
		discard()
		return CommitInfo{}, fmt.Errorf("committing generation %d: %w", next.Generation, err)
	}

	e.mu.Lock()
	e.state = st
	e.mu.Unlock()
	e.memIndex.Reset()

	e.metrics.ObserveIndex(next.Generation, len(next.Segments), next.Stats.TotalDocs)
	info := CommitInfo{
		Generation:  next.Generation,
		Segment:     segName,
		Docs:        len(batch.Docs),
		Replaced:    replaced,
		TotalDocs:   next.Stats.TotalDocs,
		Segments:    len(next.Segments),
		Checkpoint:  checkpoint,
		CommittedAt: next.CommittedAt,
	}
	e.logger.Info("batch committed",
		"generation", info.Generation,
		"segment", info.Segment,
		"docs", info.Docs,
		"replaced", info.Replaced,
		"total_docs", info.TotalDocs,
		"segments", info.Segments,
		"duration", time.Since(start),
	)
	return info, nil
}

func (e *Engine) countCommit(status string) {
	if e.metrics != nil {
		e.metrics.IndexCommitsTotal.WithLabelValues(status).Inc()
	}
}

// View pins the committed state for reading. It fails with
// IndexNotCommitted before the first commit. Callers must Close the view.
func (e *Engine) View() (*View, error) {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return nil, apperrors.ErrIndexClosed
	}
	if e.state == nil {
		e.mu.RUnlock()
		return nil, apperrors.NotCommitted("index has no committed generation")
	}
	return &View{engine: e, st: e.state}, nil
}

// Info describes the committed generation. Segment and Docs are left empty.
func (e *Engine) Info() (CommitInfo, error) {
	v, err := e.View()
	if err != nil {
		return CommitInfo{}, err
	}
	defer v.Close()
	m := v.st.manifest
	return CommitInfo{
		Generation:  m.Generation,
		TotalDocs:   m.Stats.TotalDocs,
		Segments:    len(m.Segments),
		Checkpoint:  m.Checkpoint,
		CommittedAt: m.CommittedAt,
	}, nil
}

// Postings returns the live postings of term in field from the current
// generation.
func (e *Engine) Postings(term string, field index.Field) (index.PostingList, error) {
	v, err := e.View()
	if err != nil {
		return nil, err
	}
	defer v.Close()
	return v.Postings(term, field)
}

// Stats returns the collection statistics of the current generation.
func (e *Engine) Stats() (Stats, error) {
	v, err := e.View()
	if err != nil {
		return Stats{}, err
	}
	defer v.Close()
	return v.Stats(), nil
}

// FieldLength returns the token count of field in the live document docID.
func (e *Engine) FieldLength(docID string, field index.Field) (int, bool, error) {
	v, err := e.View()
	if err != nil {
		return 0, false, err
	}
	defer v.Close()
	n, ok := v.FieldLength(docID, field)
	return n, ok, nil
}

// Generation returns the committed generation, or 0 before the first commit.
func (e *Engine) Generation() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.state == nil {
		return 0
	}
	return e.state.manifest.Generation
}

// Checkpoint returns the source position stored with the last commit.
func (e *Engine) Checkpoint() (string, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.state == nil {
		return "", false
	}
	return e.state.manifest.Checkpoint, true
}

// Reload picks up a generation committed by another process. It returns
// true when the visible generation changed. Concurrent calls are serialised
// so each one starts from the state the previous call installed.
func (e *Engine) Reload() (bool, error) {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	m, err := readManifest(e.cfg.DataDir)
	if err != nil {
		return false, err
	}
	if m == nil {
		return false, nil
	}

	e.mu.RLock()
	closed, cur := e.closed, e.state
	e.mu.RUnlock()
	if closed {
		return false, apperrors.ErrIndexClosed
	}
	if cur != nil && cur.manifest.Generation >= m.Generation {
		return false, nil
	}

	reuse := make(map[string]*segment.Reader)
	if cur != nil {
		for i, r := range cur.readers {
			reuse[cur.manifest.Segments[i].Name] = r
		}
	}
	st, err := e.buildState(m, reuse)
	if err != nil {
		return false, fmt.Errorf("reloading generation %d: %w", m.Generation, err)
	}

	e.mu.Lock()
	e.state = st
	e.mu.Unlock()

	live := m.segmentNames()
	for name, r := range reuse {
		if _, ok := live[name]; !ok {
			r.Close()
		}
	}
	e.metrics.ObserveIndex(m.Generation, len(m.Segments), m.Stats.TotalDocs)
	e.logger.Info("index reloaded", "generation", m.Generation, "segments", len(m.Segments))
	return true, nil
}

// Close releases every segment and the writer lock. Uncommitted documents
// are discarded.
func (e *Engine) Close() error {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	if n := e.memIndex.DocCount(); n > 0 {
		e.logger.Warn("closing with uncommitted documents", "docs", n)
		e.memIndex.Reset()
	}

	var errs []error
	if e.state != nil {
		for _, r := range e.state.readers {
			if err := r.Close(); err != nil {
				errs = append(errs, fmt.Errorf("closing segment %s: %w", r.Name(), err))
			}
		}
		e.state = nil
	}
	if err := e.lock.release(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
