package indexer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/Adithya-Monish-Kumar-K/hover-retrieval/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/hover-retrieval/internal/indexer/segment"
	"github.com/Adithya-Monish-Kumar-K/hover-retrieval/pkg/config"
)

const (
	defaultMergeFactor  = 10
	defaultMaxMergeDocs = 2_000_000

	// mergeFloorDocs is the size below which every segment falls in the
	// lowest tier, so single-document commits do not each form a tier.
	mergeFloorDocs = 1000
)

// mergePolicy sorts segments into tiers by live document count, each tier
// factor times larger than the one below, and merges factor segments of the
// lowest full tier. A merge never produces more than maxDocs live documents,
// so segments that large stay out of automatic merges.
type mergePolicy struct {
	factor  int
	maxDocs int
}

func newMergePolicy(cfg config.IndexerConfig) mergePolicy {
	p := mergePolicy{factor: cfg.MergeFactor, maxDocs: cfg.MaxMergeDocs}
	if p.factor == 0 {
		p.factor = defaultMergeFactor
	}
	if p.maxDocs <= 0 {
		p.maxDocs = defaultMaxMergeDocs
	}
	return p
}

func (p mergePolicy) enabled() bool {
	return p.factor >= 2
}

func (p mergePolicy) tier(docs int) int {
	t := 0
	for limit := mergeFloorDocs * p.factor; docs >= limit; limit *= p.factor {
		t++
	}
	return t
}

// pick returns the positions of the segments to merge next, ascending, or
// nil when no tier is full. sizes holds the live documents per segment.
func (p mergePolicy) pick(sizes []int) []int {
	if !p.enabled() {
		return nil
	}
	tiers := make(map[int][]int)
	for i, n := range sizes {
		if n >= p.maxDocs {
			continue
		}
		t := p.tier(n)
		tiers[t] = append(tiers[t], i)
	}
	levels := make([]int, 0, len(tiers))
	for t := range tiers {
		levels = append(levels, t)
	}
	sort.Ints(levels)

	for _, t := range levels {
		members := tiers[t]
		if len(members) < p.factor {
			continue
		}
		sort.SliceStable(members, func(a, b int) bool { return sizes[members[a]] < sizes[members[b]] })
		var (
			picked []int
			total  int
		)
		for _, i := range members {
			if len(picked) == p.factor || total+sizes[i] > p.maxDocs {
				break
			}
			picked = append(picked, i)
			total += sizes[i]
		}
		if len(picked) >= 2 {
			sort.Ints(picked)
			return picked
		}
	}
	return nil
}

// liveDocs returns the live document count of every segment of st.
func liveDocs(st *state) []int {
	sizes := make([]int, len(st.readers))
	for i, meta := range st.manifest.Segments {
		sizes[i] = meta.Docs - len(st.tombstones[i])
	}
	return sizes
}

// mergeTiers applies the merge policy until no tier is full. Each merge is
// committed as its own generation.
func (e *Engine) mergeTiers(ctx context.Context) error {
	for {
		e.mu.RLock()
		cur := e.state
		e.mu.RUnlock()
		if cur == nil {
			return nil
		}
		picked := e.policy.pick(liveDocs(cur))
		if picked == nil {
			return nil
		}
		start := time.Now()
		next, err := e.mergeLocked(ctx, cur, picked)
		if err != nil {
			e.countCompaction("error")
			return err
		}
		e.countCompaction("success")
		e.logger.Info("segments merged",
			"generation", next.Generation,
			"merged_segments", len(picked),
			"segments", len(next.Segments),
			"duration", time.Since(start),
		)
	}
}

// mergeLocked writes the live content of the segments of cur at positions
// picked into one new segment and commits a generation in which it replaces
// them. Statistics and checkpoint carry over unchanged. The caller holds
// writeMu.
func (e *Engine) mergeLocked(ctx context.Context, cur *state, picked []int) (*Manifest, error) {
	next := cur.manifest.clone()
	seq := next.NextSegment
	next.NextSegment++

	readers := make([]*segment.Reader, len(picked))
	dead := make([]map[string]struct{}, len(picked))
	merging := make(map[string]struct{}, len(picked))
	for k, i := range picked {
		readers[k] = cur.readers[i]
		dead[k] = cur.tombstones[i]
		merging[cur.manifest.Segments[i].Name] = struct{}{}
	}

	b, err := e.writer.Create(seq)
	if err != nil {
		return nil, err
	}
	defer b.Abort()
	if err := mergeTerms(ctx, b, readers, dead); err != nil {
		return nil, err
	}
	if err := mergeDocs(ctx, b, readers, dead); err != nil {
		return nil, err
	}

	reuse := make(map[string]*segment.Reader, len(cur.readers))
	segments := make([]SegmentMeta, 0, len(next.Segments)-len(picked)+1)
	for i, meta := range next.Segments {
		if _, ok := merging[meta.Name]; ok {
			delete(next.Tombstones, meta.Name)
			continue
		}
		segments = append(segments, meta)
		reuse[meta.Name] = cur.readers[i]
	}
	var reader *segment.Reader
	if b.Docs() > 0 {
		name, err := b.Finish()
		if err != nil {
			return nil, fmt.Errorf("writing merged segment: %w", err)
		}
		path := filepath.Join(e.cfg.DataDir, name)
		reader, err = segment.OpenReader(path, e.cfg.DocCacheBlocks)
		if err != nil {
			os.Remove(path)
			return nil, fmt.Errorf("opening merged segment: %w", err)
		}
		reuse[name] = reader
		segments = append(segments, SegmentMeta{Name: name, Docs: int(reader.DocCount()), Terms: reader.Terms()})
	}
	next.Segments = segments
	next.Generation++
	next.CommittedAt = time.Now().UTC()

	st, err := e.buildState(next, reuse)
	if err == nil {
		err = writeManifest(e.cfg.DataDir, next)
	}
	if err != nil {
		if reader != nil {
			reader.Close()
			os.Remove(reader.Path())
		}
		return nil, fmt.Errorf("committing merged generation: %w", err)
	}

	e.mu.Lock()
	e.state = st
	e.mu.Unlock()

	for _, r := range readers {
		r.Close()
		if err := os.Remove(r.Path()); err != nil {
			e.logger.Warn("removing merged segment", "segment", r.Name(), "error", err)
		}
	}
	e.metrics.ObserveIndex(next.Generation, len(next.Segments), next.Stats.TotalDocs)
	return next, nil
}

type termKey struct {
	field index.Field
	term  string
}

// mergeTerms walks the dictionaries of readers in (field, term) order and
// writes each term once with the live postings of every reader combined.
// One posting list per reader is held at a time.
func mergeTerms(ctx context.Context, b *segment.Builder, readers []*segment.Reader, dead []map[string]struct{}) error {
	cursors := make([]int, len(readers))
	for n := 0; ; n++ {
		if n%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		var (
			key   termKey
			found bool
		)
		for k, r := range readers {
			dict := r.Dictionary()
			if cursors[k] >= len(dict) {
				continue
			}
			d := dict[cursors[k]]
			if !found || d.Field < key.field || (d.Field == key.field && d.Term < key.term) {
				key, found = termKey{field: d.Field, term: d.Term}, true
			}
		}
		if !found {
			return nil
		}

		var (
			postings index.PostingList
			contribs int
		)
		for k, r := range readers {
			dict := r.Dictionary()
			if cursors[k] >= len(dict) {
				continue
			}
			d := dict[cursors[k]]
			if d.Field != key.field || d.Term != key.term {
				continue
			}
			cursors[k]++
			list, err := r.ReadPostings(d)
			if err != nil {
				return fmt.Errorf("segment %s: %w", r.Name(), err)
			}
			for _, p := range list {
				if _, gone := dead[k][p.DocID]; !gone {
					postings = append(postings, p)
				}
			}
			contribs++
		}
		if len(postings) == 0 {
			continue
		}
		if contribs > 1 {
			sort.Slice(postings, func(i, j int) bool { return postings[i].DocID < postings[j].DocID })
		}
		if err := b.AddTerm(index.TermEntry{Term: key.term, Field: key.field, Postings: postings}); err != nil {
			return err
		}
	}
}

// docCursor walks one reader's document table, keeping the block it last
// decoded.
type docCursor struct {
	r     *segment.Reader
	dead  map[string]struct{}
	docs  []segment.DocEntry
	pos   int
	block int
	cache []index.Document
}

func (c *docCursor) skipDead() {
	for c.pos < len(c.docs) {
		if _, gone := c.dead[c.docs[c.pos].ID]; !gone {
			return
		}
		c.pos++
	}
}

func (c *docCursor) document(entry segment.DocEntry) (index.Document, error) {
	if c.cache == nil || c.block != entry.Block {
		docs, err := c.r.ReadBlock(entry.Block)
		if err != nil {
			return index.Document{}, err
		}
		c.cache, c.block = docs, entry.Block
	}
	if entry.Slot >= len(c.cache) {
		return index.Document{}, fmt.Errorf("document %q slot %d out of range", entry.ID, entry.Slot)
	}
	return c.cache[entry.Slot], nil
}

// mergeDocs copies the live stored documents of readers in ID order.
func mergeDocs(ctx context.Context, b *segment.Builder, readers []*segment.Reader, dead []map[string]struct{}) error {
	cursors := make([]*docCursor, len(readers))
	for k, r := range readers {
		cursors[k] = &docCursor{r: r, dead: dead[k], docs: r.Docs(), block: -1}
	}
	for n := 0; ; n++ {
		if n%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		var next *docCursor
		for _, c := range cursors {
			c.skipDead()
			if c.pos >= len(c.docs) {
				continue
			}
			if next == nil || c.docs[c.pos].ID < next.docs[next.pos].ID {
				next = c
			}
		}
		if next == nil {
			return nil
		}
		entry := next.docs[next.pos]
		next.pos++
		doc, err := next.document(entry)
		if err != nil {
			return fmt.Errorf("segment %s: %w", next.r.Name(), err)
		}
		if err := b.AddDocument(index.StoredDocument{Document: doc, Lengths: entry.Lengths}); err != nil {
			return err
		}
	}
}
