// Package corpus streams Wikipedia articles from HotpotQA-style shard files
// and turns them into index documents.
package corpus

import (
	"bufio"
	"compress/bzip2"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zstd"

	apperrors "github.com/Adithya-Monish-Kumar-K/hover-retrieval/pkg/errors"
)

// Record is one raw corpus line and where it came from.
type Record struct {
	Raw     []byte
	Locator string
}

// Source yields raw records in a stable order. Next returns io.EOF after the
// last record. Checkpoint describes the position just after the last record
// returned by Next.
type Source interface {
	Next(ctx context.Context) (Record, error)
	Checkpoint() string
	Close() error
}

// Resumer is implemented by sources that can continue from a checkpoint.
type Resumer interface {
	Resume(checkpoint string) error
}

// ShardExtensions lists the file suffixes DirSource reads.
var ShardExtensions = []string{".bz2", ".zst", ".jsonl"}

func isShard(name string) bool {
	for _, ext := range ShardExtensions {
		if strings.HasSuffix(name, ext) {
			return true
		}
	}
	return false
}

// DirSource reads every shard file under a directory in lexical path order,
// one JSON article per line. A path naming a single file reads just that
// file.
type DirSource struct {
	root  string
	files []string

	fileIdx int
	line    int
	file    *os.File
	closer  func()
	reader  *bufio.Reader
	// skip is the number of lines to discard from the next opened file.
	skip       int
	checkpoint string
}

// NewDirSource lists the shards under path.
func NewDirSource(path string) (*DirSource, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("opening corpus: %w", err)
	}
	s := &DirSource{}
	if !info.IsDir() {
		s.root = filepath.Dir(path)
		s.files = []string{filepath.Base(path)}
		return s, nil
	}
	s.root = path
	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !isShard(d.Name()) {
			return nil
		}
		rel, err := filepath.Rel(path, p)
		if err != nil {
			return err
		}
		s.files = append(s.files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing corpus shards: %w", err)
	}
	sort.Strings(s.files)
	return s, nil
}

// Files returns the shard paths relative to the corpus root.
func (s *DirSource) Files() []string {
	return append([]string(nil), s.files...)
}

// Checkpoint returns the locator ("file:line") of the last record returned
// by Next, or the checkpoint passed to Resume if nothing was read since.
func (s *DirSource) Checkpoint() string {
	return s.checkpoint
}

// Resume positions the source just after checkpoint. A checkpoint naming a
// file that no longer exists resumes at the first file sorting after it.
func (s *DirSource) Resume(checkpoint string) error {
	if checkpoint == "" {
		return nil
	}
	i := strings.LastIndexByte(checkpoint, ':')
	if i < 0 {
		return fmt.Errorf("malformed corpus checkpoint %q", checkpoint)
	}
	name := checkpoint[:i]
	line, err := strconv.Atoi(checkpoint[i+1:])
	if err != nil || line < 0 {
		return fmt.Errorf("malformed corpus checkpoint %q", checkpoint)
	}
	s.closeFile()
	idx := sort.SearchStrings(s.files, name)
	s.fileIdx, s.skip = idx, 0
	if idx < len(s.files) && s.files[idx] == name {
		s.skip = line
	}
	s.checkpoint = checkpoint
	return nil
}

// Next returns the next non-blank line. A shard that cannot be opened or
// stops decoding part way is abandoned: Next returns a CorruptDocumentError
// locating the shard and continues with the following file on the next call.
func (s *DirSource) Next(ctx context.Context) (Record, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Record{}, err
		}
		if s.fileIdx >= len(s.files) {
			return Record{}, io.EOF
		}
		if s.reader == nil {
			if err := s.openFile(); err != nil {
				return Record{}, s.abandon(err)
			}
		}
		raw, err := s.reader.ReadBytes('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return Record{}, s.abandon(fmt.Errorf("reading %s: %w", s.files[s.fileIdx], err))
		}
		if len(raw) > 0 {
			s.line++
			trimmed := strings.TrimSpace(string(raw))
			if trimmed != "" {
				s.checkpoint = fmt.Sprintf("%s:%d", s.files[s.fileIdx], s.line)
				return Record{Raw: []byte(trimmed), Locator: s.checkpoint}, nil
			}
		}
		if errors.Is(err, io.EOF) {
			s.closeFile()
			s.fileIdx++
			s.line = 0
			continue
		}
	}
}

// abandon closes the current shard, moves to the next one and describes the
// failure as a skippable record. The checkpoint points at the failure so a
// resumed build does not re-read the lines before it.
func (s *DirSource) abandon(err error) error {
	name := s.files[s.fileIdx]
	s.checkpoint = fmt.Sprintf("%s:%d", name, s.line)
	s.closeFile()
	s.fileIdx++
	s.line = 0
	s.skip = 0
	return &apperrors.CorruptDocumentError{Locator: name, Err: err}
}

func (s *DirSource) openFile() error {
	name := s.files[s.fileIdx]
	f, err := os.Open(filepath.Join(s.root, filepath.FromSlash(name)))
	if err != nil {
		return fmt.Errorf("opening shard %s: %w", name, err)
	}
	var r io.Reader = f
	closer := func() {}
	switch {
	case strings.HasSuffix(name, ".bz2"):
		r = bzip2.NewReader(f)
	case strings.HasSuffix(name, ".zst"):
		dec, err := zstd.NewReader(f)
		if err != nil {
			f.Close()
			return fmt.Errorf("opening zstd shard %s: %w", name, err)
		}
		r = dec
		closer = dec.Close
	}
	s.file = f
	s.closer = closer
	s.reader = bufio.NewReaderSize(r, 1<<20)
	s.line = 0
	for s.skip > 0 {
		_, err := s.reader.ReadBytes('\n')
		s.line++
		s.skip--
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("skipping to checkpoint in %s: %w", name, err)
		}
	}
	s.skip = 0
	return nil
}

func (s *DirSource) closeFile() {
	if s.file == nil {
		return
	}
	s.closer()
	s.file.Close()
	s.file = nil
	s.reader = nil
}

func (s *DirSource) Close() error {
	s.closeFile()
	return nil
}
