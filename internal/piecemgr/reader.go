package piecemgr

import (
	"fmt"
	"os"

	"github.com/prxssh/hutch/pkg/utils/bitfield"
)

// SeedReader serves piece reads from a seeder's local source path(s). It
// mirrors Manager's write-side file-layout mapping but never mutates state:
// a seeder re-derives the same (index, begin, length) → byte range mapping
// for every read, with no status table to guard.
type SeedReader struct {
	pieceLength int64
	totalLength int64

	singlePath string
	spans      []fileSpan
}

// NewSeedReader builds a reader over a single source file.
func NewSeedReader(path string, totalLength, pieceLength int64) *SeedReader {
	return &SeedReader{pieceLength: pieceLength, totalLength: totalLength, singlePath: path}
}

// NewMultiFileSeedReader builds a reader over a source directory tree.
// files must be given in the same order used to build the torrent's info
// dict, since that order defines the byte-offset mapping.
func NewMultiFileSeedReader(files []FileEntry, pieceLength int64) *SeedReader {
	var cumulative int64
	spans := make([]fileSpan, 0, len(files))
	for _, f := range files {
		cumulative += f.Length
		spans = append(spans, fileSpan{path: f.Path, length: f.Length, cumulative: cumulative})
	}
	return &SeedReader{pieceLength: pieceLength, totalLength: cumulative, spans: spans}
}

// ReadPiece reads length bytes starting at piece index's logical offset
// (begin is always 0 in this implementation, since a Request always
// addresses a whole piece).
func (r *SeedReader) ReadPiece(index uint32, length uint32) ([]byte, error) {
	off := int64(index) * r.pieceLength

	if r.spans == nil {
		return r.readSingleFile(off, int64(length))
	}
	return r.readMultiFile(off, int64(length))
}

// PieceCount returns the number of pieces a full bitfield for this reader's
// content must cover.
func (r *SeedReader) PieceCount() int {
	count := r.totalLength / r.pieceLength
	if r.totalLength%r.pieceLength != 0 {
		count++
	}
	return int(count)
}

// Bitfield returns an all-set bitfield: a seeder always has every piece of
// whatever it registered for serving.
func (r *SeedReader) Bitfield() bitfield.Bitfield {
	n := r.PieceCount()
	bf := bitfield.New(n)
	for i := 0; i < n; i++ {
		bf.Set(i)
	}
	return bf
}

func (r *SeedReader) readSingleFile(off, length int64) ([]byte, error) {
	f, err := os.Open(r.singlePath)
	if err != nil {
		return nil, fmt.Errorf("piecemgr: %w", err)
	}
	defer f.Close()

	buf := make([]byte, length)
	if _, err := f.ReadAt(buf, off); err != nil {
		return nil, fmt.Errorf("piecemgr: read: %w", err)
	}
	return buf, nil
}

func (r *SeedReader) readMultiFile(off, length int64) ([]byte, error) {
	end := off + length
	out := make([]byte, 0, length)
	var spanStart int64

	for _, span := range r.spans {
		spanEnd := span.cumulative
		windowStart := off + int64(len(out))

		if windowStart >= spanEnd {
			spanStart = spanEnd
			continue
		}
		if end <= spanStart {
			break
		}

		localOffset := windowStart - spanStart
		readEnd := end
		if readEnd > spanEnd {
			readEnd = spanEnd
		}
		n := readEnd - windowStart

		f, err := os.Open(span.path)
		if err != nil {
			return nil, fmt.Errorf("piecemgr: %w", err)
		}
		chunk := make([]byte, n)
		if _, err := f.ReadAt(chunk, localOffset); err != nil {
			f.Close()
			return nil, fmt.Errorf("piecemgr: read: %w", err)
		}
		f.Close()

		out = append(out, chunk...)
		spanStart = spanEnd
		if int64(len(out)) >= length {
			break
		}
	}

	return out, nil
}
