package metainfo

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

func TestCreateParseRoundTrip_SingleFile(t *testing.T) {
	dir := t.TempDir()
	content := make([]byte, 100)
	for i := range content {
		content[i] = byte(i)
	}
	path := writeFile(t, dir, "content.bin", content)

	mi, err := Create(CreateParams{
		InputPath:   path,
		Trackers:    [][]string{{"http://tracker.local/announce"}},
		PieceLength: 32,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	encoded, err := mi.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	parsed, err := Parse(encoded)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if parsed.InfoHash() != mi.InfoHash() {
		t.Fatalf("info_hash mismatch after round trip")
	}
	if parsed.Size() != int64(len(content)) {
		t.Fatalf("Size() = %d, want %d", parsed.Size(), len(content))
	}
	// 100 bytes / 32-byte pieces = 4 pieces (last is a 4-byte remainder).
	if parsed.PieceCount() != 4 {
		t.Fatalf("PieceCount() = %d, want 4", parsed.PieceCount())
	}
}

func TestCreate_InfoHashStableAcrossNonHashedFields(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "a.txt", []byte("hello world"))

	base := CreateParams{
		InputPath:   path,
		Trackers:    [][]string{{"http://tracker.local/announce"}},
		PieceLength: 16,
	}

	plain, err := Create(base)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	withComment := base
	withComment.Comment = "a comment"
	withComment.CreatedBy = "hutch/0.1"
	commented, err := Create(withComment)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if plain.InfoHash() != commented.InfoHash() {
		t.Fatalf("info_hash changed when only comment/created-by differ")
	}
}

func TestCreate_PrivateFlagChangesInfoHash(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "a.txt", []byte("hello world"))

	base := CreateParams{
		InputPath:   path,
		Trackers:    [][]string{{"http://tracker.local/announce"}},
		PieceLength: 16,
	}

	pub, err := Create(base)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	priv := base
	priv.Private = true
	privMi, err := Create(priv)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if pub.InfoHash() == privMi.InfoHash() {
		t.Fatalf("info_hash unchanged when private flag differs, want different (private is hashed)")
	}
}

func TestCreate_SinglePieceExactLength(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "exact.bin", make([]byte, 16))

	mi, err := Create(CreateParams{
		InputPath:   path,
		Trackers:    [][]string{{"http://tracker.local/announce"}},
		PieceLength: 16,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if mi.PieceCount() != 1 {
		t.Fatalf("PieceCount() = %d, want 1", mi.PieceCount())
	}
}

func TestCreate_DirectoryPieceStraddlesFileBoundary(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.txt", []byte("0123456789")) // 10 bytes
	writeFile(t, dir, "b.txt", []byte("abcdefghij")) // 10 bytes

	mi, err := Create(CreateParams{
		InputPath:   dir,
		Trackers:    [][]string{{"http://tracker.local/announce"}},
		PieceLength: 16, // first piece straddles both files (10 + 6)
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if mi.Size() != 20 {
		t.Fatalf("Size() = %d, want 20", mi.Size())
	}
	if mi.PieceCount() != 2 {
		t.Fatalf("PieceCount() = %d, want 2", mi.PieceCount())
	}

	views := mi.FilesView()
	if len(views) != 2 {
		t.Fatalf("FilesView() has %d entries, want 2", len(views))
	}
	if views[0].Path != "a.txt" || views[1].Path != "b.txt" {
		t.Fatalf("FilesView() = %+v, want deterministic lexicographic order", views)
	}
}

func TestParse_RejectsMissingAnnounce(t *testing.T) {
	// A minimal info dict with no announce/announce-list must be rejected.
	dir := t.TempDir()
	path := writeFile(t, dir, "a.txt", []byte("x"))

	mi, err := Create(CreateParams{InputPath: path, PieceLength: 16})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	encoded, err := mi.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	if _, err := Parse(encoded); err == nil {
		t.Fatalf("Parse succeeded with no announce/announce-list, want error")
	}
}

func TestCreate_InvalidPath(t *testing.T) {
	_, err := Create(CreateParams{
		InputPath:   filepath.Join(t.TempDir(), "does-not-exist"),
		Trackers:    [][]string{{"http://tracker.local/announce"}},
		PieceLength: 16,
	})
	if err == nil {
		t.Fatalf("Create succeeded on a nonexistent path, want ErrInvalidPath")
	}
}
