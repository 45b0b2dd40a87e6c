package indexer

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/Adithya-Monish-Kumar-K/hover-retrieval/internal/indexer/index"
)

// ManifestFile is the name of the commit point inside the data directory.
const ManifestFile = "MANIFEST.json"

const manifestVersion = 1

// Stats are the collection statistics BM25 needs. They always describe the
// live documents of one committed generation.
type Stats struct {
	TotalDocs        int64                    `json:"total_docs"`
	TotalFieldLength [index.NumFields]int64   `json:"total_field_length"`
	AvgFieldLength   [index.NumFields]float64 `json:"avg_field_length"`
}

func (s *Stats) add(lengths index.FieldLengths) {
	s.TotalDocs++
	for _, f := range index.Fields {
		s.TotalFieldLength[f] += int64(lengths[f])
	}
}

func (s *Stats) remove(lengths index.FieldLengths) {
	s.TotalDocs--
	for _, f := range index.Fields {
		s.TotalFieldLength[f] -= int64(lengths[f])
	}
}

func (s *Stats) recompute() {
	for _, f := range index.Fields {
		if s.TotalDocs <= 0 {
			s.AvgFieldLength[f] = 0
			continue
		}
		s.AvgFieldLength[f] = float64(s.TotalFieldLength[f]) / float64(s.TotalDocs)
	}
}

// SegmentMeta describes one live segment.
type SegmentMeta struct {
	Name  string `json:"name"`
	Docs  int    `json:"docs"`
	Terms int    `json:"terms"`
}

// Manifest is the commit point of the index. A generation exists exactly
// when a manifest naming it has been renamed into place.
type Manifest struct {
	Version     int           `json:"version"`
	Generation  uint64        `json:"generation"`
	NextSegment uint64        `json:"next_segment"`
	Segments    []SegmentMeta `json:"segments"`
	Stats       Stats         `json:"stats"`
	Checkpoint  string        `json:"checkpoint,omitempty"`
	// Tombstones maps a segment name to the ids of documents in it that a
	// later segment has replaced.
	Tombstones  map[string][]string `json:"tombstones,omitempty"`
	CommittedAt time.Time           `json:"committed_at"`
}

// clone returns a deep copy so a commit can build the next manifest without
// touching the one readers see.
func (m *Manifest) clone() *Manifest {
	c := *m
	c.Segments = append([]SegmentMeta(nil), m.Segments...)
	c.Tombstones = make(map[string][]string, len(m.Tombstones))
	for seg, ids := range m.Tombstones {
		c.Tombstones[seg] = append([]string(nil), ids...)
	}
	return &c
}

func (m *Manifest) segmentNames() map[string]struct{} {
	names := make(map[string]struct{}, len(m.Segments))
	for _, s := range m.Segments {
		names[s.Name] = struct{}{}
	}
	return names
}

// readManifest loads the manifest from dataDir. A missing manifest is not an
// error: the index simply has no commit yet.
func readManifest(dataDir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dataDir, ManifestFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing manifest: %w", err)
	}
	if m.Version != manifestVersion {
		return nil, fmt.Errorf("unsupported manifest version %d", m.Version)
	}
	return &m, nil
}

// writeManifest atomically replaces the manifest in dataDir: write to a
// temp file, fsync, rename, fsync the directory.
func writeManifest(dataDir string, m *Manifest) error {
	m.Version = manifestVersion
	for seg, ids := range m.Tombstones {
		sort.Strings(ids)
		m.Tombstones[seg] = ids
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding manifest: %w", err)
	}
	finalPath := filepath.Join(dataDir, ManifestFile)
	tmpPath := finalPath + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("creating temp manifest: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("writing manifest: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("syncing manifest: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing manifest: %w", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming manifest: %w", err)
	}
	syncDir(dataDir)
	return nil
}

// syncDir flushes directory metadata so a rename survives a crash. Not every
// platform supports it; failures are ignored.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	d.Sync()
	d.Close()
}
