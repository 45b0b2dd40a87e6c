package segment

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/Adithya-Monish-Kumar-K/hover-retrieval/internal/indexer/index"
)

// MagicBytes identifies a valid .spdx segment file.
const (
	MagicBytes    uint32 = 0x53504458
	FormatVersion uint32 = 2
	HeaderSize    int    = 96
	FooterSize    int    = 32

	// DocsPerBlock is the number of stored documents compressed together.
	DocsPerBlock = 64
)

// Extension is the file extension of committed segments.
const Extension = ".spdx"

// SegmentHeader is the fixed-size header written at the start of every
// segment. Offsets are absolute file positions.
type SegmentHeader struct {
	Magic      uint32
	Version    uint32
	TermCount  uint32
	DocCount   uint32
	CreatedAt  int64
	PostOffset int64
	PostSize   int64
	DocsOffset int64
	DocsSize   int64
	DirOffset  int64
	DirSize    int64
}

func (h SegmentHeader) encode() []byte {
	b := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(b[0:4], h.Magic)
	binary.LittleEndian.PutUint32(b[4:8], h.Version)
	binary.LittleEndian.PutUint32(b[8:12], h.TermCount)
	binary.LittleEndian.PutUint32(b[12:16], h.DocCount)
	binary.LittleEndian.PutUint64(b[16:24], uint64(h.CreatedAt))
	binary.LittleEndian.PutUint64(b[24:32], uint64(h.PostOffset))
	binary.LittleEndian.PutUint64(b[32:40], uint64(h.PostSize))
	binary.LittleEndian.PutUint64(b[40:48], uint64(h.DocsOffset))
	binary.LittleEndian.PutUint64(b[48:56], uint64(h.DocsSize))
	binary.LittleEndian.PutUint64(b[56:64], uint64(h.DirOffset))
	binary.LittleEndian.PutUint64(b[64:72], uint64(h.DirSize))
	return b
}

func decodeHeader(b []byte) SegmentHeader {
	return SegmentHeader{
		Magic:      binary.LittleEndian.Uint32(b[0:4]),
		Version:    binary.LittleEndian.Uint32(b[4:8]),
		TermCount:  binary.LittleEndian.Uint32(b[8:12]),
		DocCount:   binary.LittleEndian.Uint32(b[12:16]),
		CreatedAt:  int64(binary.LittleEndian.Uint64(b[16:24])),
		PostOffset: int64(binary.LittleEndian.Uint64(b[24:32])),
		PostSize:   int64(binary.LittleEndian.Uint64(b[32:40])),
		DocsOffset: int64(binary.LittleEndian.Uint64(b[40:48])),
		DocsSize:   int64(binary.LittleEndian.Uint64(b[48:56])),
		DirOffset:  int64(binary.LittleEndian.Uint64(b[56:64])),
		DirSize:    int64(binary.LittleEndian.Uint64(b[64:72])),
	}
}

// DictEntry locates the postings of one (field, term) pair. PostOffset is
// relative to the start of the postings region.
type DictEntry struct {
	Term        string      `cbor:"1,keyasint"`
	Field       index.Field `cbor:"2,keyasint"`
	PostOffset  int64       `cbor:"3,keyasint"`
	PostLen     int         `cbor:"4,keyasint"`
	RawLen      int         `cbor:"5,keyasint"`
	DocFreq     int         `cbor:"6,keyasint"`
	Compression Compression `cbor:"7,keyasint"`
}

// DocEntry records a stored document's field lengths and where its body
// lives: slot Slot of block Block.
type DocEntry struct {
	ID      string             `cbor:"1,keyasint"`
	Lengths index.FieldLengths `cbor:"2,keyasint"`
	Block   int                `cbor:"3,keyasint"`
	Slot    int                `cbor:"4,keyasint"`
}

// BlockEntry locates one compressed block of stored documents. Offset is
// relative to the start of the documents region.
type BlockEntry struct {
	Offset      int64       `cbor:"1,keyasint"`
	Len         int         `cbor:"2,keyasint"`
	RawLen      int         `cbor:"3,keyasint"`
	Compression Compression `cbor:"4,keyasint"`
}

// Directory is the segment's table of contents. Dict is ordered by (field,
// term) and Docs by ID so both can be binary searched.
type Directory struct {
	Dict   []DictEntry  `cbor:"1,keyasint"`
	Docs   []DocEntry   `cbor:"2,keyasint"`
	Blocks []BlockEntry `cbor:"3,keyasint"`
}

// Writer serialises batches into new .spdx segment files.
type Writer struct {
	dataDir string
}

// NewWriter creates a Writer that writes segments into the given directory.
func NewWriter(dataDir string) *Writer {
	return &Writer{dataDir: dataDir}
}

// FileName returns the segment file name for sequence number seq.
func FileName(seq uint64) string {
	return fmt.Sprintf("seg_%012d%s", seq, Extension)
}

// countingWriter tracks the number of bytes written through it.
type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// Write creates the segment for sequence number seq from an in-memory batch.
func (w *Writer) Write(seq uint64, batch index.Batch) (string, error) {
	if len(batch.Docs) == 0 {
		return "", fmt.Errorf("cannot write empty segment")
	}
	b, err := w.Create(seq)
	if err != nil {
		return "", err
	}
	defer b.Abort()
	for _, entry := range batch.Entries {
		if err := b.AddTerm(entry); err != nil {
			return "", err
		}
	}
	for _, sd := range batch.Docs {
		if err := b.AddDocument(sd); err != nil {
			return "", err
		}
	}
	return b.Finish()
}

// Builder streams one segment to disk so that a merge never holds more than
// one posting list and one document block at a time. Terms must be added in
// (field, term) order before any document; documents in ID order.
//
// The file is written under a .tmp name, synced, and renamed into place by
// Finish, so a crash leaves either a complete segment or nothing. The
// segment is not part of the index until a manifest references it.
type Builder struct {
	name      string
	tmpPath   string
	finalPath string

	f      *os.File
	bw     *bufio.Writer
	cw     *countingWriter
	header SegmentHeader
	dir    Directory
	block  []index.Document

	inDocs    bool
	closed    bool
	committed bool
}

// Create starts the segment for sequence number seq.
func (w *Writer) Create(seq uint64) (*Builder, error) {
	name := FileName(seq)
	finalPath := filepath.Join(w.dataDir, name)
	if err := os.MkdirAll(w.dataDir, 0755); err != nil {
		return nil, fmt.Errorf("creating segment directory: %w", err)
	}
	f, err := os.Create(finalPath + ".tmp")
	if err != nil {
		return nil, fmt.Errorf("creating temp segment file: %w", err)
	}
	bw := bufio.NewWriterSize(f, 1<<20)
	b := &Builder{
		name:      name,
		tmpPath:   finalPath + ".tmp",
		finalPath: finalPath,
		f:         f,
		bw:        bw,
		cw:        &countingWriter{w: bw},
		header: SegmentHeader{
			Magic:     MagicBytes,
			Version:   FormatVersion,
			CreatedAt: time.Now().Unix(),
		},
		block: make([]index.Document, 0, DocsPerBlock),
	}
	// Placeholder; rewritten by Finish once offsets are known.
	if _, err := b.cw.Write(make([]byte, HeaderSize)); err != nil {
		b.Abort()
		return nil, fmt.Errorf("writing header: %w", err)
	}
	b.header.PostOffset = b.cw.n
	return b, nil
}

// Name returns the file name the segment will have once finished.
func (b *Builder) Name() string {
	return b.name
}

// Docs returns the number of documents added so far.
func (b *Builder) Docs() int {
	return len(b.dir.Docs)
}

// AddTerm writes the postings of one (field, term) pair.
func (b *Builder) AddTerm(entry index.TermEntry) error {
	if b.inDocs {
		return fmt.Errorf("term %s:%q added after documents", entry.Field, entry.Term)
	}
	if n := len(b.dir.Dict); n > 0 {
		last := b.dir.Dict[n-1]
		if entry.Field < last.Field || (entry.Field == last.Field && entry.Term <= last.Term) {
			return fmt.Errorf("term %s:%q out of order after %s:%q", entry.Field, entry.Term, last.Field, last.Term)
		}
	}
	raw, err := marshal(entry.Postings)
	if err != nil {
		return fmt.Errorf("encoding postings for %s:%q: %w", entry.Field, entry.Term, err)
	}
	data, comp, err := compress(raw, CompressionLZ4)
	if err != nil {
		return fmt.Errorf("compressing postings for %s:%q: %w", entry.Field, entry.Term, err)
	}
	offset := b.cw.n - b.header.PostOffset
	if _, err := b.cw.Write(data); err != nil {
		return fmt.Errorf("writing postings for %s:%q: %w", entry.Field, entry.Term, err)
	}
	b.dir.Dict = append(b.dir.Dict, DictEntry{
		Term:        entry.Term,
		Field:       entry.Field,
		PostOffset:  offset,
		PostLen:     len(data),
		RawLen:      len(raw),
		DocFreq:     len(entry.Postings),
		Compression: comp,
	})
	return nil
}

// AddDocument appends a stored document. Full blocks are compressed and
// written as they fill.
func (b *Builder) AddDocument(sd index.StoredDocument) error {
	if !b.inDocs {
		b.inDocs = true
		b.header.PostSize = b.cw.n - b.header.PostOffset
		b.header.DocsOffset = b.cw.n
	}
	if n := len(b.dir.Docs); n > 0 && sd.ID <= b.dir.Docs[n-1].ID {
		return fmt.Errorf("document %q out of order after %q", sd.ID, b.dir.Docs[n-1].ID)
	}
	b.dir.Docs = append(b.dir.Docs, DocEntry{
		ID:      sd.ID,
		Lengths: sd.Lengths,
		Block:   len(b.dir.Blocks),
		Slot:    len(b.block),
	})
	b.block = append(b.block, sd.Document)
	if len(b.block) == DocsPerBlock {
		return b.flushBlock()
	}
	return nil
}

func (b *Builder) flushBlock() error {
	raw, err := marshal(b.block)
	if err != nil {
		return fmt.Errorf("encoding document block %d: %w", len(b.dir.Blocks), err)
	}
	data, comp, err := compress(raw, CompressionZstd)
	if err != nil {
		return fmt.Errorf("compressing document block %d: %w", len(b.dir.Blocks), err)
	}
	offset := b.cw.n - b.header.DocsOffset
	if _, err := b.cw.Write(data); err != nil {
		return fmt.Errorf("writing document block %d: %w", len(b.dir.Blocks), err)
	}
	b.dir.Blocks = append(b.dir.Blocks, BlockEntry{
		Offset:      offset,
		Len:         len(data),
		RawLen:      len(raw),
		Compression: comp,
	})
	b.block = b.block[:0]
	return nil
}

// Finish writes the directory and checksum, syncs the file and renames it
// into place. A segment needs at least one document.
func (b *Builder) Finish() (string, error) {
	if b.closed {
		return "", fmt.Errorf("segment %s already finished or aborted", b.name)
	}
	if len(b.dir.Docs) == 0 {
		b.Abort()
		return "", fmt.Errorf("cannot write empty segment")
	}
	if len(b.block) > 0 {
		if err := b.flushBlock(); err != nil {
			b.Abort()
			return "", err
		}
	}
	if err := b.finish(); err != nil {
		b.Abort()
		return "", err
	}
	return b.name, nil
}

func (b *Builder) finish() error {
	b.header.DocsSize = b.cw.n - b.header.DocsOffset
	b.header.TermCount = uint32(len(b.dir.Dict))
	b.header.DocCount = uint32(len(b.dir.Docs))

	dirData, err := marshal(b.dir)
	if err != nil {
		return fmt.Errorf("encoding directory: %w", err)
	}
	b.header.DirOffset = b.cw.n
	b.header.DirSize = int64(len(dirData))
	if _, err := b.cw.Write(dirData); err != nil {
		return fmt.Errorf("writing directory: %w", err)
	}
	sum := checksum(dirData)
	if _, err := b.cw.Write(sum[:]); err != nil {
		return fmt.Errorf("writing footer: %w", err)
	}
	if err := b.bw.Flush(); err != nil {
		return fmt.Errorf("flushing segment file: %w", err)
	}
	if _, err := b.f.WriteAt(b.header.encode(), 0); err != nil {
		return fmt.Errorf("updating header: %w", err)
	}
	if err := b.f.Sync(); err != nil {
		return fmt.Errorf("syncing segment file: %w", err)
	}
	b.closed = true
	if err := b.f.Close(); err != nil {
		return fmt.Errorf("closing segment file: %w", err)
	}
	if err := os.Rename(b.tmpPath, b.finalPath); err != nil {
		return fmt.Errorf("renaming segment file: %w", err)
	}
	b.committed = true
	return nil
}

// Abort discards an unfinished segment. It does nothing after a successful
// Finish.
func (b *Builder) Abort() {
	if b.committed {
		return
	}
	if !b.closed {
		b.closed = true
		b.f.Close()
	}
	os.Remove(b.tmpPath)
}
