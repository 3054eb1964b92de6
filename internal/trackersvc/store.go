package trackersvc

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
)

// TorrentRecord is one catalog entry: where the uploaded .torrent bytes are
// stored on disk and the metadata exposed to callers.
type TorrentRecord struct {
	StoredPath  string `json:"stored_path"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// PeerEntry is one swarm member.
type PeerEntry struct {
	IP   string `json:"ip"`
	Port uint16 `json:"port"`
}

// Store is the tracker's process-wide state: the torrent catalog and the
// swarm membership table, kept in memory behind a single mutex (replacing
// the original's per-request read-modify-write JSON file pattern) and
// snapshotted to disk so an operator can inspect torrents.json/peers.json
// directly.
type Store struct {
	mu       sync.RWMutex
	torrents map[string]TorrentRecord  // info_hash(hex) -> record
	swarms   map[string][]PeerEntry    // info_hash(hex) -> peers
	dir      string
}

// NewStore creates a Store that snapshots into dir (torrents.json,
// peers.json). It attempts to load any existing snapshot in dir first.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	s := &Store{
		dir:      dir,
		torrents: make(map[string]TorrentRecord),
		swarms:   make(map[string][]PeerEntry),
	}

	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) torrentsPath() string { return filepath.Join(s.dir, "torrents.json") }
func (s *Store) peersPath() string    { return filepath.Join(s.dir, "peers.json") }

func (s *Store) load() error {
	if data, err := os.ReadFile(s.torrentsPath()); err == nil {
		if err := json.Unmarshal(data, &s.torrents); err != nil {
			return err
		}
	} else if !os.IsNotExist(err) {
		return err
	}

	if data, err := os.ReadFile(s.peersPath()); err == nil {
		if err := json.Unmarshal(data, &s.swarms); err != nil {
			return err
		}
	} else if !os.IsNotExist(err) {
		return err
	}

	return nil
}

// Snapshot writes the current in-memory state to torrents.json/peers.json.
// Called by the service after every mutation and on a periodic ticker.
func (s *Store) Snapshot() error {
	s.mu.RLock()
	torrents := make(map[string]TorrentRecord, len(s.torrents))
	for k, v := range s.torrents {
		torrents[k] = v
	}
	swarms := make(map[string][]PeerEntry, len(s.swarms))
	for k, v := range s.swarms {
		swarms[k] = v
	}
	s.mu.RUnlock()

	if err := writeJSON(s.torrentsPath(), torrents); err != nil {
		return err
	}
	return writeJSON(s.peersPath(), swarms)
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// GetTorrent looks up a catalog entry by hex info_hash.
func (s *Store) GetTorrent(infoHash string) (TorrentRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.torrents[infoHash]
	return rec, ok
}

// PutTorrent inserts or replaces a catalog entry.
func (s *Store) PutTorrent(infoHash string, rec TorrentRecord) {
	s.mu.Lock()
	s.torrents[infoHash] = rec
	s.mu.Unlock()
}

// AllTorrents returns a redacted copy of the catalog (no stored_path).
func (s *Store) AllTorrents() map[string]CatalogEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]CatalogEntry, len(s.torrents))
	for k, v := range s.torrents {
		out[k] = CatalogEntry{Name: v.Name, Description: v.Description}
	}
	return out
}

// CatalogEntry is the redacted, externally-visible view of a TorrentRecord.
type CatalogEntry struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// UpsertPeer appends peer to the swarm for infoHash if not already present.
func (s *Store) UpsertPeer(infoHash string, peer PeerEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range s.swarms[infoHash] {
		if p == peer {
			return
		}
	}
	s.swarms[infoHash] = append(s.swarms[infoHash], peer)
}

// RemovePeer removes every swarm entry matching peer exactly.
func (s *Store) RemovePeer(infoHash string, peer PeerEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := s.swarms[infoHash][:0]
	for _, p := range s.swarms[infoHash] {
		if p != peer {
			out = append(out, p)
		}
	}
	s.swarms[infoHash] = out
}

// Peers returns the current swarm for infoHash.
func (s *Store) Peers(infoHash string) []PeerEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]PeerEntry(nil), s.swarms[infoHash]...)
}
