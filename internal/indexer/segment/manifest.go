package segment

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/segdex/pkg/errors"
)

const (
	ManifestFile    = "manifest.json"
	ManifestVersion = 1
)

// SegmentMeta is the manifest record of one live segment. Deleted lists the
// ids tombstoned in it.
type SegmentMeta struct {
	Name      string    `json:"name"`
	DocCount  int       `json:"doc_count"`
	Deleted   []string  `json:"deleted,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// LiveDocs is the number of documents in the segment not tombstoned.
func (m SegmentMeta) LiveDocs() int {
	return m.DocCount - len(m.Deleted)
}

// DeletedSet returns Deleted as a set.
func (m SegmentMeta) DeletedSet() map[string]struct{} {
	set := make(map[string]struct{}, len(m.Deleted))
	for _, id := range m.Deleted {
		set[id] = struct{}{}
	}
	return set
}

// Manifest lists the live segments of an index, oldest first. A new
// generation is published on every successful writer close or compaction.
type Manifest struct {
	Version     int           `json:"version"`
	Generation  uint64        `json:"generation"`
	NextSegment uint64        `json:"next_segment"`
	Analyzer    string        `json:"analyzer"`
	UpdatedAt   time.Time     `json:"updated_at"`
	Segments    []SegmentMeta `json:"segments"`
}

// NewManifest returns the manifest of an empty index.
func NewManifest(analyzer string) *Manifest {
	return &Manifest{
		Version:     ManifestVersion,
		NextSegment: 1,
		Analyzer:    analyzer,
		Segments:    []SegmentMeta{},
	}
}

// NextName reserves the next segment name.
func (m *Manifest) NextName() string {
	name := SegmentName(m.NextSegment)
	m.NextSegment++
	return name
}

// LiveDocs sums the live documents across segments.
func (m *Manifest) LiveDocs() int {
	total := 0
	for _, s := range m.Segments {
		total += s.LiveDocs()
	}
	return total
}

// Names returns the segment names in manifest order.
func (m *Manifest) Names() []string {
	names := make([]string, len(m.Segments))
	for i, s := range m.Segments {
		names[i] = s.Name
	}
	return names
}

// Clone returns a deep copy.
func (m *Manifest) Clone() *Manifest {
	c := *m
	c.Segments = make([]SegmentMeta, len(m.Segments))
	for i, s := range m.Segments {
		s.Deleted = append([]string(nil), s.Deleted...)
		c.Segments[i] = s
	}
	return &c
}

// ReadManifest loads the manifest of the index at dir. It returns
// ErrNoSuchIndex when the directory or the manifest does not exist.
func ReadManifest(dir string) (*Manifest, error) {
	path := filepath.Join(dir, ManifestFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, apperrors.Wrap(apperrors.ErrNoSuchIndex, "read manifest", dir, err)
		}
		return nil, apperrors.Wrap(apperrors.ErrIOFailure, "read manifest", path, err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, apperrors.Newf(apperrors.ErrIOFailure, "read manifest", path, "malformed manifest: %v", err)
	}
	if m.Version != ManifestVersion {
		return nil, apperrors.Newf(apperrors.ErrIOFailure, "read manifest", path, "unsupported manifest version %d", m.Version)
	}
	return &m, nil
}

// WriteManifest atomically replaces the manifest of the index at dir: the
// new content is written to a temporary file, fsynced and renamed over the
// old one, then the directory is fsynced.
func WriteManifest(dir string, m *Manifest) error {
	path := filepath.Join(dir, ManifestFile)
	m.Version = ManifestVersion
	m.UpdatedAt = time.Now().UTC()
	if m.Segments == nil {
		m.Segments = []SegmentMeta{}
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return apperrors.Wrap(apperrors.ErrIOFailure, "write manifest", path, fmt.Errorf("marshaling manifest: %w", err))
	}
	if err := writeAtomic(dir, path, data); err != nil {
		return apperrors.Wrap(apperrors.ErrIOFailure, "write manifest", path, err)
	}
	return nil
}

func writeAtomic(dir, path string, data []byte) error {
	tmp := path + tmpSuffix
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("creating temp manifest: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("writing temp manifest: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("syncing temp manifest: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("closing temp manifest: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("renaming manifest: %w", err)
	}
	if err := syncDir(dir); err != nil {
		return fmt.Errorf("syncing index directory: %w", err)
	}
	return nil
}
