package piecemgr

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSeedReader_MultiFilePieceStraddlesFileBoundary(t *testing.T) {
	const pieceLength = 6
	fileA := []byte{1, 2, 3, 4}
	fileB := []byte{5, 6, 7, 8}

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.bin"), fileA, 0o644); err != nil {
		t.Fatalf("write a.bin: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "b.bin"), fileB, 0o644); err != nil {
		t.Fatalf("write b.bin: %v", err)
	}

	reader := NewMultiFileSeedReader([]FileEntry{
		{Path: filepath.Join(dir, "a.bin"), Length: 4},
		{Path: filepath.Join(dir, "b.bin"), Length: 4},
	}, pieceLength)

	// Piece 0 spans all of a.bin and the first two bytes of b.bin.
	got0, err := reader.ReadPiece(0, pieceLength)
	if err != nil {
		t.Fatalf("ReadPiece(0): %v", err)
	}
	want0 := []byte{1, 2, 3, 4, 5, 6}
	if string(got0) != string(want0) {
		t.Fatalf("ReadPiece(0) = %v, want %v", got0, want0)
	}

	// Piece 1 is the two-byte remainder of b.bin.
	got1, err := reader.ReadPiece(1, 2)
	if err != nil {
		t.Fatalf("ReadPiece(1): %v", err)
	}
	want1 := []byte{7, 8}
	if string(got1) != string(want1) {
		t.Fatalf("ReadPiece(1) = %v, want %v", got1, want1)
	}

	if reader.PieceCount() != 2 {
		t.Fatalf("PieceCount() = %d, want 2", reader.PieceCount())
	}
	if got := reader.Bitfield().Count(); got != 2 {
		t.Fatalf("Bitfield().Count() = %d, want 2 (a seeder always has everything)", got)
	}
}

func TestSeedReader_SingleFileRoundTrip(t *testing.T) {
	content := []byte("0123456789abcdef") // 16 bytes
	path := filepath.Join(t.TempDir(), "content.bin")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write content.bin: %v", err)
	}

	reader := NewSeedReader(path, int64(len(content)), 8)

	got0, err := reader.ReadPiece(0, 8)
	if err != nil {
		t.Fatalf("ReadPiece(0): %v", err)
	}
	if string(got0) != string(content[:8]) {
		t.Fatalf("ReadPiece(0) = %v, want %v", got0, content[:8])
	}

	got1, err := reader.ReadPiece(1, 8)
	if err != nil {
		t.Fatalf("ReadPiece(1): %v", err)
	}
	if string(got1) != string(content[8:]) {
		t.Fatalf("ReadPiece(1) = %v, want %v", got1, content[8:])
	}
}
