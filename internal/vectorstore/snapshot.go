package vectorstore

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"

	"ragstore/internal/domain"
)

// SnapshotVersion is the on-disk format version written by Save.
const SnapshotVersion = 1

var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

type snapshotFile struct {
	Version   int             `json:"version"`
	Dimension int             `json:"dimension"`
	CreatedAt time.Time       `json:"created_at"`
	Embedder  string          `json:"embedder,omitempty"`
	Entries   []snapshotEntry `json:"entries"`
}

type snapshotEntry struct {
	ID       string            `json:"id"`
	Text     string            `json:"text"`
	Metadata map[string]string `json:"metadata"`
	Vector   []float64         `json:"vector"`
}

// Save writes every entry to path. The file is replaced atomically, so a
// crash mid-write never leaves a partial snapshot behind. A ".zst" suffix
// selects zstd compression.
func (s *Store) Save(path string) error {
	s.mu.RLock()
	snap := snapshotFile{
		Version:   SnapshotVersion,
		Dimension: s.dimension,
		CreatedAt: time.Now().UTC(),
		Embedder:  s.embedder,
		Entries:   make([]snapshotEntry, len(s.entries)),
	}
	for i, e := range s.entries {
		snap.Entries[i] = snapshotEntry{
			ID:       e.passage.ID,
			Text:     e.passage.Text,
			Metadata: domain.CloneMetadata(e.passage.Metadata),
			Vector:   e.vector.Clone(),
		}
	}
	s.mu.RUnlock()

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating snapshot directory: %w", err)
		}
	}
	compress := strings.HasSuffix(path, ".zst")
	err := writeFileAtomic(path, func(w io.Writer) error {
		if !compress {
			return json.NewEncoder(w).Encode(&snap)
		}
		enc, err := zstd.NewWriter(w)
		if err != nil {
			return err
		}
		if err := json.NewEncoder(enc).Encode(&snap); err != nil {
			_ = enc.Close()
			return err
		}
		return enc.Close()
	})
	if err != nil {
		return fmt.Errorf("saving snapshot %s: %w", path, err)
	}
	return nil
}

// Load reads a snapshot written by Save. A missing file yields an error
// wrapping os.ErrNotExist; a file that cannot be parsed yields a
// *CorruptStoreError; vectors of the wrong length yield a
// *DimensionMismatchError.
func Load(path string, opts ...Option) (*Store, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading snapshot %s: %w", path, err)
	}
	if bytes.HasPrefix(raw, zstdMagic) {
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, err
		}
		raw, err = dec.DecodeAll(raw, nil)
		dec.Close()
		if err != nil {
			return nil, &CorruptStoreError{Path: path, Cause: err}
		}
	}

	var snap snapshotFile
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, &CorruptStoreError{Path: path, Cause: err}
	}
	if snap.Version != SnapshotVersion {
		return nil, &CorruptStoreError{Path: path, Cause: fmt.Errorf("unsupported snapshot version %d", snap.Version)}
	}

	s := New(opts...)
	s.embedder = snap.Embedder
	dim := snap.Dimension
	if dim <= 0 && len(snap.Entries) > 0 {
		dim = len(snap.Entries[0].Vector)
	}
	for _, e := range snap.Entries {
		if e.ID == "" {
			return nil, &CorruptStoreError{Path: path, Cause: errors.New("entry without id")}
		}
		if _, ok := s.index[e.ID]; ok {
			return nil, &CorruptStoreError{Path: path, Cause: fmt.Errorf("%w: %s", ErrDuplicateID, e.ID)}
		}
		if len(e.Vector) == 0 || len(e.Vector) != dim {
			return nil, &DimensionMismatchError{Expected: dim, Actual: len(e.Vector), ID: e.ID}
		}
		s.insertLocked(domain.Passage{ID: e.ID, Text: e.Text, Metadata: domain.CloneMetadata(e.Metadata)}, e.Vector)
	}
	if len(s.entries) > 0 {
		s.dimension = dim
	}
	return s, nil
}

func writeFileAtomic(path string, write func(io.Writer) error) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		if tmpName != "" {
			_ = os.Remove(tmpName)
		}
	}()
	_ = tmp.Chmod(0o644)

	buf := bufio.NewWriterSize(tmp, 256*1024)
	if err := write(buf); err != nil {
		return err
	}
	if err := buf.Flush(); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	tmpName = ""

	// fsync the directory so the rename survives a crash.
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}
