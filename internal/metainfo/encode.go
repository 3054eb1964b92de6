package metainfo

import (
	"fmt"

	"github.com/prxssh/hutch/pkg/bencode"
)

// bencodeDict renders the info dict to its canonical map form, the exact
// bytes of which are re-bencoded (sorted keys) to derive info_hash and to
// embed in the outer descriptor. Keeping this as the single producer of the
// info dict's shape guarantees Create and Parse agree on info_hash.
func (info *Info) bencodeDict() (map[string]any, error) {
	dict := map[string]any{
		"name":         info.Name,
		"piece length": info.PieceLength,
		"pieces":       piecesToBytes(info.Pieces),
	}
	if info.Private {
		dict["private"] = int64(1)
	}

	switch {
	case info.Files != nil:
		files := make([]any, 0, len(info.Files))
		for _, f := range info.Files {
			path := make([]any, 0, len(f.Path))
			for _, seg := range f.Path {
				path = append(path, seg)
			}
			files = append(files, map[string]any{
				"length": f.Length,
				"path":   path,
			})
		}
		dict["files"] = files
	default:
		dict["length"] = info.Length
	}

	return dict, nil
}

// Encode renders the full descriptor (announce, announce-list, info, and
// the optional comment/created-by/creation-date fields) to its canonical
// bencoded form.
func (m *Metainfo) Encode() ([]byte, error) {
	infoDict, err := m.Info.bencodeDict()
	if err != nil {
		return nil, err
	}

	dict := map[string]any{
		"info": infoDict,
	}
	if m.Announce != "" {
		dict["announce"] = m.Announce
	}
	if len(m.AnnounceList) > 0 {
		tiers := make([]any, 0, len(m.AnnounceList))
		for _, tier := range m.AnnounceList {
			urls := make([]any, 0, len(tier))
			for _, u := range tier {
				urls = append(urls, u)
			}
			tiers = append(tiers, urls)
		}
		dict["announce-list"] = tiers
	}
	if !m.CreationDate.IsZero() {
		dict["creation date"] = m.CreationDate.Unix()
	}
	if m.CreatedBy != "" {
		dict["created by"] = m.CreatedBy
	}
	if m.Comment != "" {
		dict["comment"] = m.Comment
	}

	buf, err := bencode.Marshal(dict)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return buf, nil
}

func piecesToBytes(pieces [][20]byte) []byte {
	out := make([]byte, 0, len(pieces)*20)
	for _, p := range pieces {
		out = append(out, p[:]...)
	}
	return out
}
