package segment

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/Adithya-Monish-Kumar-K/hover-retrieval/internal/indexer/index"
)

// DefaultCacheBlocks is the number of decoded document blocks a Reader keeps
// when no size is given.
const DefaultCacheBlocks = 64

// Reader provides read access to one immutable segment. Dictionary and
// document table are loaded at open; postings and stored documents are read
// on demand. A Reader is safe for concurrent use.
type Reader struct {
	file     *os.File
	filePath string
	header   SegmentHeader
	dir      Directory
	blocks   *lru.Cache[int, []index.Document]
}

// OpenReader opens the segment at path and verifies its directory checksum.
// cacheBlocks bounds the decoded-block cache; values <= 0 use
// DefaultCacheBlocks.
func OpenReader(path string, cacheBlocks int) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening segment file: %w", err)
	}
	r, err := load(f, path, cacheBlocks)
	if err != nil {
		f.Close()
		return nil, err
	}
	return r, nil
}

func load(f *os.File, path string, cacheBlocks int) (*Reader, error) {
	headerBytes := make([]byte, HeaderSize)
	if _, err := f.ReadAt(headerBytes, 0); err != nil {
		return nil, fmt.Errorf("reading segment header %s: %w", path, err)
	}
	header := decodeHeader(headerBytes)
	if header.Magic != MagicBytes {
		return nil, fmt.Errorf("invalid segment file %s: bad magic bytes %x", path, header.Magic)
	}
	if header.Version != FormatVersion {
		return nil, fmt.Errorf("segment %s: unsupported format version %d", path, header.Version)
	}
	dirBytes := make([]byte, header.DirSize)
	if _, err := f.ReadAt(dirBytes, header.DirOffset); err != nil {
		return nil, fmt.Errorf("reading directory %s: %w", path, err)
	}
	footer := make([]byte, FooterSize)
	if _, err := f.ReadAt(footer, header.DirOffset+header.DirSize); err != nil {
		return nil, fmt.Errorf("reading footer %s: %w", path, err)
	}
	sum := checksum(dirBytes)
	if !bytes.Equal(sum[:], footer) {
		return nil, fmt.Errorf("segment %s: directory checksum mismatch", path)
	}
	var dir Directory
	if err := unmarshal(dirBytes, &dir); err != nil {
		return nil, fmt.Errorf("parsing directory %s: %w", path, err)
	}
	if len(dir.Dict) != int(header.TermCount) || len(dir.Docs) != int(header.DocCount) {
		return nil, fmt.Errorf("segment %s: directory does not match header counts", path)
	}
	if cacheBlocks <= 0 {
		cacheBlocks = DefaultCacheBlocks
	}
	cache, err := lru.New[int, []index.Document](cacheBlocks)
	if err != nil {
		return nil, fmt.Errorf("creating block cache: %w", err)
	}
	return &Reader{
		file:     f,
		filePath: path,
		header:   header,
		dir:      dir,
		blocks:   cache,
	}, nil
}

func (r *Reader) lookup(term string, field index.Field) (DictEntry, bool) {
	idx := sort.Search(len(r.dir.Dict), func(i int) bool {
		e := r.dir.Dict[i]
		if e.Field != field {
			return e.Field > field
		}
		return e.Term >= term
	})
	if idx >= len(r.dir.Dict) {
		return DictEntry{}, false
	}
	e := r.dir.Dict[idx]
	if e.Field != field || e.Term != term {
		return DictEntry{}, false
	}
	return e, true
}

// Search returns the postings of term in field, or nil if the segment does
// not contain it.
func (r *Reader) Search(term string, field index.Field) (index.PostingList, error) {
	entry, ok := r.lookup(term, field)
	if !ok {
		return nil, nil
	}
	return r.ReadPostings(entry)
}

// ReadPostings decodes the postings an entry points at.
func (r *Reader) ReadPostings(entry DictEntry) (index.PostingList, error) {
	data := make([]byte, entry.PostLen)
	if _, err := r.file.ReadAt(data, r.header.PostOffset+entry.PostOffset); err != nil {
		return nil, fmt.Errorf("reading postings for %s:%q: %w", entry.Field, entry.Term, err)
	}
	raw, err := decompress(data, entry.Compression, entry.RawLen)
	if err != nil {
		return nil, fmt.Errorf("postings for %s:%q: %w", entry.Field, entry.Term, err)
	}
	var postings index.PostingList
	if err := unmarshal(raw, &postings); err != nil {
		return nil, fmt.Errorf("parsing postings for %s:%q: %w", entry.Field, entry.Term, err)
	}
	return postings, nil
}

// DocFreq returns the number of documents in this segment containing term
// in field, including any that a later commit has tombstoned.
func (r *Reader) DocFreq(term string, field index.Field) int {
	entry, ok := r.lookup(term, field)
	if !ok {
		return 0
	}
	return entry.DocFreq
}

// Dictionary returns the segment's term dictionary ordered by (field, term).
// The slice must not be modified.
func (r *Reader) Dictionary() []DictEntry {
	return r.dir.Dict
}

// Docs returns the segment's document table ordered by ID. The slice must
// not be modified.
func (r *Reader) Docs() []DocEntry {
	return r.dir.Docs
}

// DocEntry returns the table entry for docID.
func (r *Reader) DocEntry(docID string) (DocEntry, bool) {
	idx := sort.Search(len(r.dir.Docs), func(i int) bool {
		return r.dir.Docs[i].ID >= docID
	})
	if idx >= len(r.dir.Docs) || r.dir.Docs[idx].ID != docID {
		return DocEntry{}, false
	}
	return r.dir.Docs[idx], true
}

// Document returns the stored document docID. The boolean is false when the
// segment does not hold it.
func (r *Reader) Document(docID string) (index.Document, bool, error) {
	entry, ok := r.DocEntry(docID)
	if !ok {
		return index.Document{}, false, nil
	}
	block, err := r.ReadBlock(entry.Block)
	if err != nil {
		return index.Document{}, false, err
	}
	if entry.Slot >= len(block) {
		return index.Document{}, false, fmt.Errorf("segment %s: document %q slot %d out of range", r.Name(), docID, entry.Slot)
	}
	return block[entry.Slot], true, nil
}

// ReadBlock returns the decoded documents of block i.
func (r *Reader) ReadBlock(i int) ([]index.Document, error) {
	if docs, ok := r.blocks.Get(i); ok {
		return docs, nil
	}
	if i < 0 || i >= len(r.dir.Blocks) {
		return nil, fmt.Errorf("segment %s: block %d out of range", r.Name(), i)
	}
	b := r.dir.Blocks[i]
	data := make([]byte, b.Len)
	if _, err := r.file.ReadAt(data, r.header.DocsOffset+b.Offset); err != nil {
		return nil, fmt.Errorf("reading document block %d: %w", i, err)
	}
	raw, err := decompress(data, b.Compression, b.RawLen)
	if err != nil {
		return nil, fmt.Errorf("document block %d: %w", i, err)
	}
	var docs []index.Document
	if err := unmarshal(raw, &docs); err != nil {
		return nil, fmt.Errorf("parsing document block %d: %w", i, err)
	}
	r.blocks.Add(i, docs)
	return docs, nil
}

// NumBlocks returns the number of stored document blocks.
func (r *Reader) NumBlocks() int {
	return len(r.dir.Blocks)
}

func (r *Reader) Terms() int {
	return len(r.dir.Dict)
}

func (r *Reader) DocCount() uint32 {
	return r.header.DocCount
}

func (r *Reader) Header() SegmentHeader {
	return r.header
}

// Name returns the segment file name.
func (r *Reader) Name() string {
	return filepath.Base(r.filePath)
}

func (r *Reader) Path() string {
	return r.filePath
}

func (r *Reader) Close() error {
	return r.file.Close()
}
