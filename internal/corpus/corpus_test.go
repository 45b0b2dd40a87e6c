package corpus

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Adithya-Monish-Kumar-K/hover-retrieval/pkg/errors"
)

func drain(t *testing.T, s Source) []Record {
	t.Helper()
	var out []Record
	for {
		rec, err := s.Next(context.Background())
		if errors.Is(err, io.EOF) {
			return out
		}
		require.NoError(t, err)
		out = append(out, rec)
	}
}

func TestDirSourceReadsShardsInOrder(t *testing.T) {
	s, err := NewDirSource("testdata/wiki")
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, []string{"AA/wiki_00.bz2", "AB/wiki_00.bz2"}, s.Files())
	assert.Equal(t, "", s.Checkpoint())

	recs := drain(t, s)
	var locators []string
	for _, r := range recs {
		locators = append(locators, r.Locator)
	}
	assert.Equal(t, []string{
		"AA/wiki_00.bz2:1",
		"AA/wiki_00.bz2:3",
		"AA/wiki_00.bz2:4",
		"AB/wiki_00.bz2:1",
		"AB/wiki_00.bz2:2",
	}, locators)
	assert.Equal(t, "AB/wiki_00.bz2:2", s.Checkpoint())
}

func TestDecodeShardRecords(t *testing.T) {
	s, err := NewDirSource("testdata/wiki")
	require.NoError(t, err)
	defer s.Close()
	recs := drain(t, s)
	require.Len(t, recs, 5)

	doc, err := Decode(recs[0])
	require.NoError(t, err)
	assert.Equal(t, "12", doc.ID)
	assert.Equal(t, "Anarchism", doc.Title)
	assert.Equal(t, []string{"Anarchism is a political philosophy.", " It rejects hierarchy."}, doc.Sentences)

	_, err = Decode(recs[2])
	assert.ErrorIs(t, err, apperrors.ErrCorruptDocument)
	var corrupt *apperrors.CorruptDocumentError
	require.ErrorAs(t, err, &corrupt)
	assert.Equal(t, "AA/wiki_00.bz2:4", corrupt.Locator)

	doc, err = Decode(recs[3])
	require.NoError(t, err)
	assert.Equal(t, "Albedo", doc.ID, "missing id falls back to title")
	assert.Equal(t, []string{"Albedo is the measure of diffuse reflection.", "It is dimensionless."}, doc.Sentences)

	_, err = Decode(recs[4])
	require.ErrorAs(t, err, &corrupt)
	assert.Equal(t, "title is required", corrupt.Fields["title"])
}

func TestDecodeEdgeCases(t *testing.T) {
	cases := []struct {
		name      string
		raw       string
		wantID    string
		wantSents []string
		wantErr   string
	}{
		{name: "numeric id", raw: `{"id": 42, "title": "T", "text": ["a"]}`, wantID: "42", wantSents: []string{"a"}},
		{name: "mixed list", raw: `{"id": "1", "title": "T", "text": ["a", ["b", 3, "c"], 7]}`, wantID: "1", wantSents: []string{"a", "b", "c"}},
		{name: "no text", raw: `{"id": "1", "title": "T"}`, wantID: "1"},
		{name: "text string", raw: `{"id": "1", "title": "T", "text": "whole body"}`, wantID: "1", wantSents: []string{"whole body"}},
		{name: "bad id", raw: `{"id": {"x": 1}, "title": "T"}`, wantErr: "id"},
		{name: "text object", raw: `{"id": "1", "title": "T", "text": {"a": 1}}`, wantErr: "text"},
		{name: "blank title", raw: `{"id": "1", "title": "   "}`, wantErr: "title"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			doc, err := Decode(Record{Raw: []byte(tc.raw), Locator: "x:1"})
			if tc.wantErr != "" {
				var corrupt *apperrors.CorruptDocumentError
				require.ErrorAs(t, err, &corrupt)
				assert.Contains(t, corrupt.Fields, tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.wantID, doc.ID)
			assert.Equal(t, len(tc.wantSents), len(doc.Sentences))
			for i := range tc.wantSents {
				assert.Equal(t, tc.wantSents[i], doc.Sentences[i])
			}
		})
	}
}

func TestResumeSkipsConsumedLines(t *testing.T) {
	s, err := NewDirSource("testdata/wiki")
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Resume("AA/wiki_00.bz2:3"))
	assert.Equal(t, "AA/wiki_00.bz2:3", s.Checkpoint())
	recs := drain(t, s)
	require.Len(t, recs, 3)
	assert.Equal(t, "AA/wiki_00.bz2:4", recs[0].Locator)

	s2, err := NewDirSource("testdata/wiki")
	require.NoError(t, err)
	defer s2.Close()
	require.NoError(t, s2.Resume("AB/wiki_00.bz2:2"))
	assert.Empty(t, drain(t, s2))

	assert.Error(t, s2.Resume("no-colon"))
	assert.Error(t, s2.Resume("AA/wiki_00.bz2:x"))
}

func TestResumeFromRemovedShard(t *testing.T) {
	s, err := NewDirSource("testdata/wiki")
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.Resume("AA/wiki_99.bz2:10"))
	recs := drain(t, s)
	require.Len(t, recs, 2)
	assert.Equal(t, "AB/wiki_00.bz2:1", recs[0].Locator)
}

func TestZstdAndPlainShards(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.jsonl"), []byte(`{"id":"1","title":"One","text":["first"]}`+"\n"), 0o644))

	f, err := os.Create(filepath.Join(dir, "b.zst"))
	require.NoError(t, err)
	enc, err := zstd.NewWriter(f)
	require.NoError(t, err)
	_, err = enc.Write([]byte(`{"id":"2","title":"Two","text":[["second"]]}` + "\n"))
	require.NoError(t, err)
	require.NoError(t, enc.Close())
	require.NoError(t, f.Close())

	s, err := NewDirSource(dir)
	require.NoError(t, err)
	defer s.Close()
	recs := drain(t, s)
	require.Len(t, recs, 2)
	doc, err := Decode(recs[1])
	require.NoError(t, err)
	assert.Equal(t, "Two", doc.Title)
	assert.Equal(t, []string{"second"}, doc.Sentences)

	single, err := NewDirSource(filepath.Join(dir, "a.jsonl"))
	require.NoError(t, err)
	defer single.Close()
	assert.Len(t, drain(t, single), 1)
}

func TestNextHonorsCancellation(t *testing.T) {
	s, err := NewDirSource("testdata/wiki")
	require.NoError(t, err)
	defer s.Close()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

// writeBrokenShards lays out a valid shard, a .bz2 file that is not bzip2
// data, and another valid shard.
func writeBrokenShards(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "AA.jsonl"), []byte(`{"id":"1","title":"One","text":["first"]}`+"\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "AB.bz2"), []byte("this is not a bzip2 stream\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "AC.jsonl"), []byte(`{"id":"3","title":"Three","text":["third"]}`+"\n"), 0o644))
	return dir
}

func TestUnreadableShardIsSkipped(t *testing.T) {
	s, err := NewDirSource(writeBrokenShards(t))
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	rec, err := s.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "AA.jsonl:1", rec.Locator)

	_, err = s.Next(ctx)
	var corrupt *apperrors.CorruptDocumentError
	require.ErrorAs(t, err, &corrupt)
	assert.Equal(t, "AB.bz2", corrupt.Locator)
	assert.ErrorIs(t, err, apperrors.ErrCorruptDocument)
	assert.Equal(t, "AB.bz2:0", s.Checkpoint())

	rec, err = s.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "AC.jsonl:1", rec.Locator)

	_, err = s.Next(ctx)
	assert.ErrorIs(t, err, io.EOF)
}

func TestResumeAtUnreadableShardMovesPast(t *testing.T) {
	s, err := NewDirSource(writeBrokenShards(t))
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.Resume("AB.bz2:0"))

	_, err = s.Next(context.Background())
	assert.ErrorIs(t, err, apperrors.ErrCorruptDocument)
	assert.Len(t, drain(t, s), 1)
}
