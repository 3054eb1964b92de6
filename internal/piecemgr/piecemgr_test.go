package piecemgr

import (
	"crypto/sha1"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/prxssh/hutch/internal/wireproto"
)

func pieceHashes(chunks ...[]byte) [][sha1.Size]byte {
	out := make([][sha1.Size]byte, len(chunks))
	for i, c := range chunks {
		out[i] = sha1.Sum(c)
	}
	return out
}

func TestNextRequest_NoDoubleAssignmentUnderConcurrency(t *testing.T) {
	const pieceLength = 8
	const numPieces = 50

	chunks := make([][]byte, numPieces)
	for i := range chunks {
		chunks[i] = make([]byte, pieceLength)
		chunks[i][0] = byte(i)
	}
	hashes := pieceHashes(chunks...)

	outPath := filepath.Join(t.TempDir(), "out.bin")
	mgr, err := New(outPath, int64(numPieces*pieceLength), pieceLength, hashes)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	seen := make([]int32, numPieces)
	var mu sync.Mutex
	var wg sync.WaitGroup

	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				req, err := mgr.NextRequest()
				if errors.Is(err, ErrNoWork) {
					return
				}
				if err != nil {
					t.Errorf("NextRequest: %v", err)
					return
				}
				mu.Lock()
				seen[req.Index]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	for i, n := range seen {
		if n != 1 {
			t.Fatalf("piece %d was assigned %d times, want exactly 1", i, n)
		}
	}
}

func TestReceivePiece_HashMismatchStaysPending(t *testing.T) {
	const pieceLength = 8
	good := make([]byte, pieceLength)
	hashes := pieceHashes(good)

	outPath := filepath.Join(t.TempDir(), "out.bin")
	mgr, err := New(outPath, pieceLength, pieceLength, hashes)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, err := mgr.NextRequest(); err != nil {
		t.Fatalf("NextRequest: %v", err)
	}

	corrupt := make([]byte, pieceLength)
	corrupt[0] = 0xFF
	msg := wireproto.NewPiece(0, 0, corrupt)

	if err := mgr.ReceivePiece(msg); !errors.Is(err, ErrHashMismatch) {
		t.Fatalf("ReceivePiece error = %v, want ErrHashMismatch", err)
	}

	if mgr.IsComplete() {
		t.Fatalf("IsComplete() = true after a hash mismatch, want false")
	}
	// The piece is PENDING, not EMPTY: NextRequest must not re-offer it.
	if _, err := mgr.NextRequest(); !errors.Is(err, ErrNoWork) {
		t.Fatalf("NextRequest after mismatch = %v, want ErrNoWork (piece stays PENDING)", err)
	}
}

func TestReceivePiece_WritesAndCompletes(t *testing.T) {
	const pieceLength = 4
	p0 := []byte{1, 2, 3, 4}
	p1 := []byte{5, 6} // final, short piece
	hashes := pieceHashes(p0, p1)

	outPath := filepath.Join(t.TempDir(), "out.bin")
	mgr, err := New(outPath, int64(len(p0)+len(p1)), pieceLength, hashes)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	for _, p := range [][]byte{p0, p1} {
		req, err := mgr.NextRequest()
		if err != nil {
			t.Fatalf("NextRequest: %v", err)
		}
		block := p
		msg := wireproto.NewPiece(req.Index, 0, block)
		if err := mgr.ReceivePiece(msg); err != nil {
			t.Fatalf("ReceivePiece: %v", err)
		}
	}

	if !mgr.IsComplete() {
		t.Fatalf("IsComplete() = false, want true")
	}
	if got := mgr.PercentComplete(); got != 100 {
		t.Fatalf("PercentComplete() = %v, want 100", got)
	}

	data, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	want := append(append([]byte{}, p0...), p1...)
	if string(data) != string(want) {
		t.Fatalf("output = %v, want %v", data, want)
	}
}

func TestMultiFile_PieceStraddlesFileBoundary(t *testing.T) {
	const pieceLength = 6
	// Two files of 4 bytes each; one 6-byte piece straddles both.
	fileA := []byte{1, 2, 3, 4}
	fileB := []byte{5, 6, 7, 8}
	piece := append(append([]byte{}, fileA...), fileB...)[:pieceLength]
	hashes := pieceHashes(piece, []byte{7, 8})

	outDir := t.TempDir()
	mgr, err := NewMultiFile(outDir, []FileEntry{
		{Path: "a.bin", Length: 4},
		{Path: "b.bin", Length: 4},
	}, pieceLength, hashes)
	if err != nil {
		t.Fatalf("NewMultiFile: %v", err)
	}

	req0, err := mgr.NextRequest()
	if err != nil {
		t.Fatalf("NextRequest: %v", err)
	}
	if err := mgr.ReceivePiece(wireproto.NewPiece(req0.Index, 0, piece)); err != nil {
		t.Fatalf("ReceivePiece(0): %v", err)
	}

	req1, err := mgr.NextRequest()
	if err != nil {
		t.Fatalf("NextRequest: %v", err)
	}
	if err := mgr.ReceivePiece(wireproto.NewPiece(req1.Index, 0, []byte{7, 8})); err != nil {
		t.Fatalf("ReceivePiece(1): %v", err)
	}

	gotA, err := os.ReadFile(filepath.Join(outDir, "a.bin"))
	if err != nil {
		t.Fatalf("ReadFile a.bin: %v", err)
	}
	gotB, err := os.ReadFile(filepath.Join(outDir, "b.bin"))
	if err != nil {
		t.Fatalf("ReadFile b.bin: %v", err)
	}
	if string(gotA) != string(fileA) {
		t.Fatalf("a.bin = %v, want %v", gotA, fileA)
	}
	if string(gotB) != string([]byte{5, 6, 7, 8}) {
		t.Fatalf("b.bin = %v, want %v", gotB, []byte{5, 6, 7, 8})
	}
}
