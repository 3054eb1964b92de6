package metainfo

import (
	"crypto/sha1"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
)

// CreateParams bundles the inputs to Create.
type CreateParams struct {
	// InputPath is a regular file or a directory to be shared.
	InputPath string

	// Trackers is an ordered list of tracker-URL groups (announce-list
	// tiers). The first URL of the first group becomes the primary
	// announce URL. A caller with a flat list of trackers may wrap it as
	// a single tier: [][]string{trackers}.
	Trackers [][]string

	// PieceLength is the byte size of each piece. Must be positive.
	PieceLength int64

	// Name overrides the descriptor's suggested name; defaults to the
	// base name of InputPath.
	Name string

	// Comment and CreatedBy are optional, non-hashed descriptor fields.
	Comment   string
	CreatedBy string

	// Private marks the torrent private (BEP-0027); carried inside the
	// hashed info dict.
	Private bool
}

// Create builds a Metainfo descriptor for a local file or directory,
// streaming the content in piece-sized chunks rather than loading it whole.
func Create(params CreateParams) (*Metainfo, error) {
	if params.PieceLength <= 0 {
		return nil, fmt.Errorf("metainfo: piece length must be positive")
	}

	fi, err := os.Stat(params.InputPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPath, err)
	}

	name := params.Name
	if name == "" {
		name = filepath.Base(filepath.Clean(params.InputPath))
	}

	var (
		pieces [][sha1.Size]byte
		files  []File
		length int64
	)

	if fi.IsDir() {
		entries, err := walkFiles(params.InputPath)
		if err != nil {
			return nil, err
		}
		if len(entries) == 0 {
			return nil, fmt.Errorf("%w: directory has no files", ErrInvalidPath)
		}

		pieces, files, length, err = hashEntries(entries, params.PieceLength)
		if err != nil {
			return nil, err
		}
	} else {
		pieces, length, err = hashFile(params.InputPath, params.PieceLength)
		if err != nil {
			return nil, err
		}
	}

	info := Info{
		Name:        name,
		PieceLength: params.PieceLength,
		Pieces:      pieces,
		Private:     params.Private,
		Length:      length,
		Files:       files,
	}

	var announce string
	var announceList [][]string
	for _, tier := range params.Trackers {
		if len(tier) > 0 {
			announceList = append(announceList, tier)
		}
	}
	if len(announceList) > 0 {
		announce = announceList[0][0]
	}

	dict, err := info.bencodeDict()
	if err != nil {
		return nil, err
	}
	hash, err := hashInfoDict(dict)
	if err != nil {
		return nil, err
	}
	info.Hash = hash

	return &Metainfo{
		Info:         info,
		Announce:     announce,
		AnnounceList: announceList,
		CreatedBy:    params.CreatedBy,
		Comment:      params.Comment,
	}, nil
}

// fileEntry is one file discovered under a directory input, in traversal
// order.
type fileEntry struct {
	absPath string
	relPath []string
	length  int64
}

// walkFiles enumerates files under root in a deterministic depth-first order
// (lexicographic at each directory level), so Create is reproducible across
// invocations and machines.
func walkFiles(root string) ([]fileEntry, error) {
	var entries []fileEntry

	var walk func(dir string, relPrefix []string) error
	walk = func(dir string, relPrefix []string) error {
		items, err := os.ReadDir(dir)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidPath, err)
		}

		sort.Slice(items, func(i, j int) bool {
			return items[i].Name() < items[j].Name()
		})

		for _, item := range items {
			rel := append(append([]string(nil), relPrefix...), item.Name())

			if item.IsDir() {
				if err := walk(filepath.Join(dir, item.Name()), rel); err != nil {
					return err
				}
				continue
			}

			info, err := item.Info()
			if err != nil {
				return fmt.Errorf("%w: %v", ErrInvalidPath, err)
			}

			entries = append(entries, fileEntry{
				absPath: filepath.Join(dir, item.Name()),
				relPath: rel,
				length:  info.Size(),
			})
		}

		return nil
	}

	if err := walk(root, nil); err != nil {
		return nil, err
	}
	return entries, nil
}

// pieceHasher accumulates a byte stream across arbitrarily many Write calls
// (and, for multi-file torrents, across file boundaries) and emits one
// SHA-1 piece hash every pieceLength bytes.
type pieceHasher struct {
	pieceLength int64
	state       interface {
		Write(p []byte) (int, error)
		Sum(b []byte) []byte
		Reset()
	}
	buffered int64
	pieces   [][sha1.Size]byte
}

func newPieceHasher(pieceLength int64) *pieceHasher {
	return &pieceHasher{pieceLength: pieceLength, state: sha1.New()}
}

// Write feeds p through the running hash, flushing a piece every time
// pieceLength bytes have been buffered into the current hash, possibly
// straddling a file boundary.
func (p *pieceHasher) Write(b []byte) {
	for len(b) > 0 {
		room := p.pieceLength - p.buffered
		n := int64(len(b))
		if n > room {
			n = room
		}

		p.state.Write(b[:n])
		p.buffered += n
		b = b[n:]

		if p.buffered == p.pieceLength {
			p.flush()
		}
	}
}

func (p *pieceHasher) flush() {
	var out [sha1.Size]byte
	copy(out[:], p.state.Sum(nil))
	p.pieces = append(p.pieces, out)
	p.state.Reset()
	p.buffered = 0
}

// Finish flushes a final short piece if any bytes remain buffered.
func (p *pieceHasher) Finish() [][sha1.Size]byte {
	if p.buffered > 0 {
		p.flush()
	}
	return p.pieces
}

// hashFile streams a single file in pieceLength-sized chunks and returns the
// concatenated piece hashes plus the file's total length.
func hashFile(path string, pieceLength int64) ([][sha1.Size]byte, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrInvalidPath, err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrInvalidPath, err)
	}

	hasher := newPieceHasher(pieceLength)
	buf := make([]byte, 64*1024)
	for {
		n, rerr := f.Read(buf)
		if n > 0 {
			hasher.Write(buf[:n])
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return nil, 0, fmt.Errorf("%w: %v", ErrInvalidPath, rerr)
		}
	}

	return hasher.Finish(), fi.Size(), nil
}

// hashEntries concatenates every discovered file into a single logical byte
// stream and partitions that stream into pieceLength-sized chunks, hashing
// each. A piece may straddle a file boundary, matching BEP-0003's
// multi-file layout.
func hashEntries(
	entries []fileEntry,
	pieceLength int64,
) (pieces [][sha1.Size]byte, files []File, total int64, err error) {
	hasher := newPieceHasher(pieceLength)
	buf := make([]byte, 64*1024)

	for _, e := range entries {
		f, err := os.Open(e.absPath)
		if err != nil {
			return nil, nil, 0, fmt.Errorf("%w: %v", ErrInvalidPath, err)
		}

		for {
			n, rerr := f.Read(buf)
			if n > 0 {
				hasher.Write(buf[:n])
			}
			if rerr == io.EOF {
				break
			}
			if rerr != nil {
				f.Close()
				return nil, nil, 0, fmt.Errorf("%w: %v", ErrInvalidPath, rerr)
			}
		}
		f.Close()

		files = append(files, File{Length: e.length, Path: e.relPath})
		total += e.length
	}

	return hasher.Finish(), files, total, nil
}
