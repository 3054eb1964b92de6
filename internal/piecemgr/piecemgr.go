// Package piecemgr implements the leecher-side piece manager: scheduling
// which piece to request next, validating received pieces against their
// recorded hash, and mapping pieces onto one or more output files.
package piecemgr

import (
	"crypto/sha1"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/prxssh/hutch/internal/wireproto"
	"github.com/prxssh/hutch/pkg/utils/bitfield"
)

// Status is a piece's lifecycle state.
type Status uint8

const (
	StatusEmpty Status = iota
	StatusPending
	StatusDownloaded
)

var (
	// ErrHashMismatch is returned by ReceivePiece when a received block's
	// SHA-1 does not match the recorded piece hash. The piece stays
	// PENDING; see ReceivePiece on pending-piece rollback.
	ErrHashMismatch = errors.New("piecemgr: piece hash mismatch")

	// ErrNotAPieceMessage is returned when ReceivePiece is handed a frame
	// whose message ID is not Piece.
	ErrNotAPieceMessage = errors.New("piecemgr: frame is not a Piece message")

	// ErrNoWork is returned by NextRequest when every piece is either
	// pending or downloaded.
	ErrNoWork = errors.New("piecemgr: no empty piece available")
)

// fileSpan is one entry of the file layout table: a file's byte range within
// the logical concatenation of all files in the torrent.
type fileSpan struct {
	path       string
	length     int64
	cumulative int64 // cumulative length through the end of this file
}

// Request is the (index, begin, length) triple a connection should send as
// a Request frame.
type Request struct {
	Index  uint32
	Begin  uint32
	Length uint32
}

// Manager owns the on-disk output and the piece status table for one
// in-progress download. It is shared across every concurrent peer
// connection downloading the same torrent; NextRequest and ReceivePiece are
// mutually atomic via mu, which is never held across a file or socket
// operation.
type Manager struct {
	pieceLength int64
	totalLength int64
	hashes      [][sha1.Size]byte

	singlePath string     // set for single-file torrents
	spans      []fileSpan // set for multi-file torrents

	mu       sync.Mutex
	status   []Status
	complete bool
}

// New builds a piece manager for a single-file torrent and preallocates the
// output file at outputPath to the declared total length.
func New(outputPath string, totalLength, pieceLength int64, hashes [][sha1.Size]byte) (*Manager, error) {
	if err := preallocate(outputPath, totalLength); err != nil {
		return nil, err
	}

	return &Manager{
		pieceLength: pieceLength,
		totalLength: totalLength,
		hashes:      hashes,
		singlePath:  outputPath,
		status:      make([]Status, len(hashes)),
	}, nil
}

// FileEntry names one file of a multi-file torrent relative to the output
// directory root.
type FileEntry struct {
	Path   string
	Length int64
}

// NewMultiFile builds a piece manager for a multi-file torrent, creating
// outputDir and preallocating each listed file beneath it.
func NewMultiFile(
	outputDir string,
	files []FileEntry,
	pieceLength int64,
	hashes [][sha1.Size]byte,
) (*Manager, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("piecemgr: %w", err)
	}

	var cumulative int64
	spans := make([]fileSpan, 0, len(files))
	for _, f := range files {
		full := filepath.Join(outputDir, f.Path)
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			return nil, fmt.Errorf("piecemgr: %w", err)
		}
		if err := preallocate(full, f.Length); err != nil {
			return nil, err
		}

		cumulative += f.Length
		spans = append(spans, fileSpan{path: full, length: f.Length, cumulative: cumulative})
	}

	return &Manager{
		pieceLength: pieceLength,
		totalLength: cumulative,
		hashes:      hashes,
		spans:       spans,
		status:      make([]Status, len(hashes)),
	}, nil
}

func preallocate(path string, length int64) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("piecemgr: %w", err)
	}
	defer f.Close()

	if err := f.Truncate(length); err != nil {
		return fmt.Errorf("piecemgr: preallocate: %w", err)
	}
	return nil
}

// lengthOfPiece returns the exact byte length of piece index, which is
// pieceLength for every piece but the last, where it is the remainder (or a
// full pieceLength if the total is an exact multiple).
func (m *Manager) lengthOfPiece(index int) int64 {
	if index < len(m.hashes)-1 {
		return m.pieceLength
	}
	rem := m.totalLength % m.pieceLength
	if rem == 0 {
		return m.pieceLength
	}
	return rem
}

// NextRequest finds the lowest-indexed EMPTY piece, marks it PENDING, and
// returns a Request for it. The read of status[i] and the write to PENDING
// never suspend across I/O, so two concurrent calls never return the same
// index.
func (m *Manager) NextRequest() (Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, s := range m.status {
		if s != StatusEmpty {
			continue
		}

		m.status[i] = StatusPending
		return Request{
			Index:  uint32(i),
			Begin:  0,
			Length: uint32(m.lengthOfPiece(i)),
		}, nil
	}

	return Request{}, ErrNoWork
}

// ReceivePiece validates and writes a received Piece frame, then marks the
// piece DOWNLOADED. It returns ErrHashMismatch or ErrNotAPieceMessage
// without marking the piece; in both cases the piece stays PENDING, a
// deliberate simplification (see the peer engine's rollback open question).
func (m *Manager) ReceivePiece(msg *wireproto.Message) error {
	index, _, block, ok := msg.ParsePiece()
	if !ok {
		return ErrNotAPieceMessage
	}
	if int(index) >= len(m.hashes) {
		return fmt.Errorf("piecemgr: piece index %d out of range", index)
	}

	if sha1.Sum(block) != m.hashes[index] {
		return ErrHashMismatch
	}

	if err := m.writePiece(int64(index)*m.pieceLength, block); err != nil {
		return err
	}

	m.mu.Lock()
	m.status[index] = StatusDownloaded
	m.complete = true
	for _, s := range m.status {
		if s != StatusDownloaded {
			m.complete = false
			break
		}
	}
	m.mu.Unlock()

	return nil
}

// writePiece writes data at logical offset off, mapping onto one or more
// output files for multi-file torrents. A single piece may span multiple
// files; each file is opened, written to, and closed before moving to the
// next.
func (m *Manager) writePiece(off int64, data []byte) error {
	if m.spans == nil {
		return m.writeSingleFile(off, data)
	}
	return m.writeMultiFile(off, data)
}

func (m *Manager) writeSingleFile(off int64, data []byte) error {
	f, err := os.OpenFile(m.singlePath, os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("piecemgr: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteAt(data, off); err != nil {
		return fmt.Errorf("piecemgr: write: %w", err)
	}
	return nil
}

// writeMultiFile walks the file layout table, writing the overlapping slice
// of data into every file whose span intersects [off, off+len(data)).
func (m *Manager) writeMultiFile(off int64, data []byte) error {
	end := off + int64(len(data))
	var consumed int64
	var spanStart int64

	for _, span := range m.spans {
		spanEnd := span.cumulative
		windowStart := off + consumed

		if windowStart >= spanEnd {
			spanStart = spanEnd
			continue
		}
		if end <= spanStart {
			break
		}

		localOffset := windowStart - spanStart
		writeEnd := end
		if writeEnd > spanEnd {
			writeEnd = spanEnd
		}
		n := writeEnd - windowStart

		f, err := os.OpenFile(span.path, os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("piecemgr: %w", err)
		}
		if _, err := f.WriteAt(data[consumed:consumed+n], localOffset); err != nil {
			f.Close()
			return fmt.Errorf("piecemgr: write: %w", err)
		}
		f.Close()

		consumed += n
		spanStart = spanEnd
		if consumed >= int64(len(data)) {
			break
		}
	}

	return nil
}

// IsComplete reports whether every piece has been downloaded.
func (m *Manager) IsComplete() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.complete
}

// PercentComplete returns a monotonically non-decreasing completion ratio
// in [0, 100].
func (m *Manager) PercentComplete() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.status) == 0 {
		return 100
	}
	done := 0
	for _, s := range m.status {
		if s == StatusDownloaded {
			done++
		}
	}
	return 100 * float64(done) / float64(len(m.status))
}

// Bitfield renders the current download status as a wire-ready bitfield:
// one bit per piece, set iff that piece is StatusDownloaded.
func (m *Manager) Bitfield() bitfield.Bitfield {
	m.mu.Lock()
	defer m.mu.Unlock()

	bf := bitfield.New(len(m.status))
	for i, s := range m.status {
		if s == StatusDownloaded {
			bf.Set(i)
		}
	}
	return bf
}
