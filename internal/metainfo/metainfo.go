// Package metainfo implements the bencoded torrent descriptor: building it
// from a local path, parsing it back, and deriving its content-addressed
// info_hash.
package metainfo

import (
	"crypto/sha1"
	"errors"
	"fmt"
	"time"

	"github.com/prxssh/hutch/pkg/bencode"
	"github.com/prxssh/hutch/pkg/utils/cast"
)

// Metainfo is the parsed view of a .torrent file.
type Metainfo struct {
	Info         Info
	Announce     string
	AnnounceList [][]string
	CreationDate time.Time
	CreatedBy    string
	Comment      string
}

// Info is the hashed inner dictionary of a Metainfo.
type Info struct {
	Hash        [sha1.Size]byte
	Name        string
	PieceLength int64
	Pieces      [][sha1.Size]byte
	Private     bool

	// Length is set for the single-file layout; Files is set for the
	// multi-file layout. Exactly one of the two is non-zero/non-nil.
	Length int64
	Files  []File
}

// File describes one entry of a multi-file torrent's file list.
type File struct {
	Length int64
	Path   []string
}

// FileView is a derived, display-friendly projection of a multi-file entry:
// the joined relative path and its length.
type FileView struct {
	Path   string
	Length int64
}

var (
	ErrInvalidPath       = errors.New("metainfo: invalid input path")
	ErrMalformed         = errors.New("metainfo: malformed descriptor")
	ErrUnsupportedLayout = errors.New("metainfo: neither 'length' nor 'files' present")
)

// Size returns the total logical byte length of the torrent's content,
// regardless of layout.
func (m *Metainfo) Size() int64 {
	if m.Info.Files == nil {
		return m.Info.Length
	}

	var total int64
	for _, f := range m.Info.Files {
		total += f.Length
	}
	return total
}

// FilesView returns the derived (joined_path, length) view for multi-file
// torrents, or nil for single-file torrents.
func (m *Metainfo) FilesView() []FileView {
	if m.Info.Files == nil {
		return nil
	}

	out := make([]FileView, 0, len(m.Info.Files))
	for _, f := range m.Info.Files {
		out = append(out, FileView{Path: joinPath(f.Path), Length: f.Length})
	}
	return out
}

// PieceCount returns len(pieces)/20, the number of pieces recorded in the
// descriptor.
func (m *Metainfo) PieceCount() int {
	return len(m.Info.Pieces)
}

// InfoHash returns the SHA-1 of the info dict's bytes as computed when the
// descriptor was created or parsed (re-bencoded, never substring-extracted).
func (m *Metainfo) InfoHash() [sha1.Size]byte {
	return m.Info.Hash
}

// TrackerURL returns the primary announce URL, falling back to the first
// entry of the first announce-list tier when announce is empty.
func (m *Metainfo) TrackerURL() string {
	if m.Announce != "" {
		return m.Announce
	}
	for _, tier := range m.AnnounceList {
		if len(tier) > 0 {
			return tier[0]
		}
	}
	return ""
}

// Parse decodes a bencoded metainfo file and validates required fields.
func Parse(data []byte) (*Metainfo, error) {
	raw, err := bencode.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	root, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: top-level value is not a dict", ErrMalformed)
	}

	announce, err := optionalString(root["announce"])
	if err != nil {
		return nil, fmt.Errorf("%w: announce: %v", ErrMalformed, err)
	}
	announceList, err := parseAnnounceList(root["announce-list"])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if announce == "" && len(announceList) == 0 {
		return nil, fmt.Errorf("%w: missing announce and announce-list", ErrMalformed)
	}

	var creationDate time.Time
	if v, present := root["creation date"]; present {
		secs, err := cast.ToInt(v)
		if err != nil || secs < 0 {
			return nil, fmt.Errorf("%w: invalid creation date", ErrMalformed)
		}
		creationDate = time.Unix(secs, 0).UTC()
	}

	createdBy, err := optionalString(root["created by"])
	if err != nil {
		return nil, fmt.Errorf("%w: created by: %v", ErrMalformed, err)
	}
	comment, err := optionalString(root["comment"])
	if err != nil {
		return nil, fmt.Errorf("%w: comment: %v", ErrMalformed, err)
	}

	info, err := parseInfo(root["info"])
	if err != nil {
		return nil, err
	}

	return &Metainfo{
		Info:         *info,
		Announce:     announce,
		AnnounceList: announceList,
		CreationDate: creationDate,
		CreatedBy:    createdBy,
		Comment:      comment,
	}, nil
}

func parseInfo(raw any) (*Info, error) {
	if raw == nil {
		return nil, fmt.Errorf("%w: missing 'info'", ErrMalformed)
	}
	dict, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: 'info' is not a dict", ErrMalformed)
	}

	hash, err := hashInfoDict(dict)
	if err != nil {
		return nil, fmt.Errorf("%w: info_hash: %v", ErrMalformed, err)
	}

	var out Info
	out.Hash = hash

	name, err := cast.ToString(dict["name"])
	if err != nil || name == "" {
		return nil, fmt.Errorf("%w: missing or invalid 'name'", ErrMalformed)
	}
	out.Name = name

	pieceLength, err := cast.ToInt(dict["piece length"])
	if err != nil || pieceLength <= 0 {
		return nil, fmt.Errorf("%w: missing or non-positive 'piece length'", ErrMalformed)
	}
	out.PieceLength = pieceLength

	pieces, err := parsePieces(dict["pieces"])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	out.Pieces = pieces

	if v, present := dict["private"]; present {
		n, err := cast.ToInt(v)
		if err != nil || (n != 0 && n != 1) {
			return nil, fmt.Errorf("%w: invalid 'private' flag", ErrMalformed)
		}
		out.Private = n == 1
	}

	lengthVal, hasLength := dict["length"]
	filesVal, hasFiles := dict["files"]
	switch {
	case hasLength && !hasFiles:
		length, err := cast.ToInt(lengthVal)
		if err != nil || length < 0 {
			return nil, fmt.Errorf("%w: invalid 'length'", ErrMalformed)
		}
		out.Length = length
	case hasFiles && !hasLength:
		files, err := parseFiles(filesVal)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		out.Files = files
	default:
		return nil, ErrUnsupportedLayout
	}

	return &out, nil
}

func parseFiles(v any) ([]File, error) {
	arr, ok := v.([]any)
	if !ok || len(arr) == 0 {
		return nil, errors.New("invalid or empty 'files'")
	}

	files := make([]File, 0, len(arr))
	for i, it := range arr {
		m, ok := it.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("files[%d]: not a dict", i)
		}

		length, err := cast.ToInt(m["length"])
		if err != nil || length < 0 {
			return nil, fmt.Errorf("files[%d]: invalid length", i)
		}

		segments, err := cast.ToStringSlice(m["path"])
		if err != nil || len(segments) == 0 {
			return nil, fmt.Errorf("files[%d]: invalid path", i)
		}

		files = append(files, File{Length: length, Path: segments})
	}
	return files, nil
}

func parsePieces(v any) ([][sha1.Size]byte, error) {
	if v == nil {
		return nil, errors.New("missing 'pieces'")
	}
	raw, err := cast.ToBytes(v)
	if err != nil {
		return nil, fmt.Errorf("'pieces': %w", err)
	}
	if len(raw)%sha1.Size != 0 {
		return nil, errors.New("'pieces' length not a multiple of 20")
	}

	n := len(raw) / sha1.Size
	out := make([][sha1.Size]byte, n)
	for i := 0; i < n; i++ {
		copy(out[i][:], raw[i*sha1.Size:(i+1)*sha1.Size])
	}
	return out, nil
}

func parseAnnounceList(v any) ([][]string, error) {
	if v == nil {
		return nil, nil
	}
	raw, ok := v.([]any)
	if !ok {
		return nil, errors.New("invalid announce-list")
	}
	tiers, err := cast.ToTieredStrings(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid announce-list: %w", err)
	}

	out := make([][]string, 0, len(tiers))
	for _, tier := range tiers {
		if len(tier) > 0 {
			out = append(out, tier)
		}
	}
	return out, nil
}

func optionalString(v any) (string, error) {
	if v == nil {
		return "", nil
	}
	return cast.ToString(v)
}

// hashInfoDict re-bencodes the info dict (sorted keys, canonical form) and
// returns its SHA-1. This is the only legal way to derive info_hash — never
// via substring extraction from the original file bytes.
func hashInfoDict(info map[string]any) ([sha1.Size]byte, error) {
	buf, err := bencode.Marshal(info)
	if err != nil {
		return [sha1.Size]byte{}, err
	}
	return sha1.Sum(buf), nil
}

func joinPath(segments []string) string {
	out := segments[0]
	for _, s := range segments[1:] {
		out += "/" + s
	}
	return out
}
