// Package segment implements the on-disk segment store. A segment is an
// immutable directory holding a sorted term dictionary, the postings it
// points into and the stored fields of its documents. The manifest lists the
// live segments of an index and a lock file guards the single writer.
package segment

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/cespare/xxhash/v2"

	apperrors "github.com/Adithya-Monish-Kumar-K/segdex/pkg/errors"
)

// Every segment file is framed as header | body | footer. The footer holds
// the xxhash64 of header and body.
const (
	MagicDict     uint32 = 0x53474454
	MagicPostings uint32 = 0x53475053
	MagicStored   uint32 = 0x53475344
	FormatVersion uint32 = 1
	HeaderSize    int    = 32
	FooterSize    int    = 8
)

const (
	DictFile     = "terms.dict"
	PostingsFile = "postings.dat"
	StoredFile   = "stored.dat"
	tmpSuffix    = ".tmp"
)

// fileHeader is the fixed-size header written at the start of every
// segment file. Count is the number of dictionary entries for the term
// dictionary and the number of documents for the other two files.
type fileHeader struct {
	Magic     uint32
	Version   uint32
	Count     uint64
	BodyLen   uint64
	CreatedAt int64
}

func (h fileHeader) encode() []byte {
	buf := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(buf[0:4], h.Magic)
	binary.LittleEndian.PutUint32(buf[4:8], h.Version)
	binary.LittleEndian.PutUint64(buf[8:16], h.Count)
	binary.LittleEndian.PutUint64(buf[16:24], h.BodyLen)
	binary.LittleEndian.PutUint64(buf[24:32], uint64(h.CreatedAt))
	return buf
}

func decodeHeader(buf []byte) fileHeader {
	return fileHeader{
		Magic:     binary.LittleEndian.Uint32(buf[0:4]),
		Version:   binary.LittleEndian.Uint32(buf[4:8]),
		Count:     binary.LittleEndian.Uint64(buf[8:16]),
		BodyLen:   binary.LittleEndian.Uint64(buf[16:24]),
		CreatedAt: int64(binary.LittleEndian.Uint64(buf[24:32])),
	}
}

// writeFile creates path and writes a framed, fsynced segment file.
func writeFile(path string, h fileHeader, body []byte) (int64, error) {
	h.Version = FormatVersion
	h.BodyLen = uint64(len(body))
	header := h.encode()

	digest := xxhash.New()
	_, _ = digest.Write(header)
	_, _ = digest.Write(body)
	footer := make([]byte, FooterSize)
	binary.LittleEndian.PutUint64(footer, digest.Sum64())

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, fmt.Errorf("creating %s: %w", filepath.Base(path), err)
	}
	defer f.Close()
	for _, part := range [][]byte{header, body, footer} {
		if _, err := f.Write(part); err != nil {
			return 0, fmt.Errorf("writing %s: %w", filepath.Base(path), err)
		}
	}
	if err := f.Sync(); err != nil {
		return 0, fmt.Errorf("syncing %s: %w", filepath.Base(path), err)
	}
	if err := f.Close(); err != nil {
		return 0, fmt.Errorf("closing %s: %w", filepath.Base(path), err)
	}
	return int64(len(header) + len(body) + len(footer)), nil
}

// openFile opens a segment file and verifies its framing and checksum by
// streaming it once. The returned file is positioned nowhere in particular;
// callers use ReadAt with HeaderSize as the body base.
func openFile(path string, magic uint32) (*os.File, fileHeader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fileHeader{}, apperrors.Wrap(apperrors.ErrIOFailure, "open segment file", path, err)
	}
	h, err := verifyFile(f, path, magic)
	if err != nil {
		f.Close()
		return nil, fileHeader{}, err
	}
	return f, h, nil
}

func verifyFile(f *os.File, path string, magic uint32) (fileHeader, error) {
	st, err := f.Stat()
	if err != nil {
		return fileHeader{}, apperrors.Wrap(apperrors.ErrIOFailure, "stat segment file", path, err)
	}
	if st.Size() < int64(HeaderSize+FooterSize) {
		return fileHeader{}, apperrors.Newf(apperrors.ErrCorruptSegment, "open segment file", path,
			"file too short (%d bytes)", st.Size())
	}
	buf := make([]byte, HeaderSize)
	if _, err := f.ReadAt(buf, 0); err != nil {
		return fileHeader{}, apperrors.Wrap(apperrors.ErrIOFailure, "read segment header", path, err)
	}
	h := decodeHeader(buf)
	if h.Magic != magic {
		return fileHeader{}, apperrors.Newf(apperrors.ErrCorruptSegment, "open segment file", path,
			"bad magic bytes %x", h.Magic)
	}
	if h.Version != FormatVersion {
		return fileHeader{}, apperrors.Newf(apperrors.ErrCorruptSegment, "open segment file", path,
			"unsupported format version %d", h.Version)
	}
	if want := int64(HeaderSize+FooterSize) + int64(h.BodyLen); want != st.Size() {
		return fileHeader{}, apperrors.Newf(apperrors.ErrCorruptSegment, "open segment file", path,
			"size %d does not match header (want %d)", st.Size(), want)
	}

	digest := xxhash.New()
	covered := int64(HeaderSize) + int64(h.BodyLen)
	if _, err := io.Copy(digest, io.NewSectionReader(f, 0, covered)); err != nil {
		return fileHeader{}, apperrors.Wrap(apperrors.ErrIOFailure, "read segment file", path, err)
	}
	footer := make([]byte, FooterSize)
	if _, err := f.ReadAt(footer, covered); err != nil {
		return fileHeader{}, apperrors.Wrap(apperrors.ErrIOFailure, "read segment footer", path, err)
	}
	if got, want := digest.Sum64(), binary.LittleEndian.Uint64(footer); got != want {
		return fileHeader{}, apperrors.Newf(apperrors.ErrCorruptSegment, "open segment file", path,
			"checksum mismatch (%016x != %016x)", got, want)
	}
	return h, nil
}

// readBody reads the whole body of an opened, verified segment file.
func readBody(f *os.File, h fileHeader, path string) ([]byte, error) {
	body := make([]byte, h.BodyLen)
	if _, err := f.ReadAt(body, int64(HeaderSize)); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrIOFailure, "read segment body", path, err)
	}
	return body, nil
}

// syncDir fsyncs a directory so renames inside it are durable.
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}

// SegmentName returns the directory name of segment number n.
func SegmentName(n uint64) string {
	return fmt.Sprintf("seg_%06d", n)
}
