// Package engine implements the peer engine: a seeding server and a
// leeching client sharing one TCP listener per process, plus the control
// surface (seed, leech, status, get_torrents, get_torrent_by_info_hash)
// that hutchd exposes over HTTP.
package engine

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/prxssh/hutch/internal/metainfo"
	"github.com/prxssh/hutch/internal/piecemgr"
	"github.com/prxssh/hutch/internal/trackerclient"
	"github.com/prxssh/hutch/pkg/syncmap"
)

// maxPieceLength is the clamp applied to every seeded torrent: a single
// Request addresses a whole piece, so block-within-piece bookkeeping never
// arises.
const maxPieceLength = 16 * 1024

// ErrUnknownTorrent is returned by operations addressing an info_hash
// absent from the relevant registry.
var ErrUnknownTorrent = errors.New("engine: unknown info_hash")

// seedEntry is one registered outbound-serving torrent.
type seedEntry struct {
	metainfoPath string
	sourcePath   string
	mi           *metainfo.Metainfo
	reader       *piecemgr.SeedReader
}

// leechEntry is one in-progress download.
type leechEntry struct {
	mi      *metainfo.Metainfo
	manager *piecemgr.Manager

	mu          sync.Mutex
	activePeers map[string]struct{}
}

func (e *leechEntry) tryClaim(addr string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.activePeers[addr]; ok {
		return false
	}
	e.activePeers[addr] = struct{}{}
	return true
}

func (e *leechEntry) release(addr string) {
	e.mu.Lock()
	delete(e.activePeers, addr)
	e.mu.Unlock()
}

// SeedParams addresses a single seed() call.
type SeedParams struct {
	InputPath    string
	Trackers     [][]string
	PieceLength  int64
	Public       bool
	Name         string
	Description  string
	MetainfoPath string // optional; derived from Name when empty
}

// SeedingStatus is one entry of status()'s seeding list.
type SeedingStatus struct {
	InfoHash   string
	Name       string
	SourcePath string
}

// LeechingStatus is one entry of status()'s leeching list.
type LeechingStatus struct {
	InfoHash string
	Name     string
	Percent  float64
}

// Status is the full control-surface status() response.
type Status struct {
	Seeding  []SeedingStatus
	Leeching []LeechingStatus
}

// Engine owns the seeding registry, the leeching registry, the inbound TCP
// listener, and the background leech-queue worker.
type Engine struct {
	listenAddr  string
	downloadDir string
	torrentDir  string
	clientID    [sha1.Size]byte // zero-filled, per the handshake peer_id decision
	announceEvery time.Duration

	log *slog.Logger

	seeding  *syncmap.Map[string, *seedEntry]
	leeching *syncmap.Map[string, *leechEntry]

	leechQueue chan string

	listener net.Listener
	grp      *errgroup.Group
	ctx      context.Context
	cancel   context.CancelFunc
}

// New builds an Engine listening on listenAddr (":0" for an OS-assigned
// port), storing downloaded content under downloadDir and seeded/fetched
// .torrent files under torrentDir.
func New(listenAddr, downloadDir, torrentDir string, announceEvery time.Duration, log *slog.Logger) (*Engine, error) {
	if log == nil {
		log = slog.Default()
	}
	if err := os.MkdirAll(downloadDir, 0o755); err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	if err := os.MkdirAll(torrentDir, 0o755); err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}

	return &Engine{
		listenAddr:    listenAddr,
		downloadDir:   downloadDir,
		torrentDir:    torrentDir,
		announceEvery: announceEvery,
		log:           log.With("component", "engine"),
		seeding:       syncmap.New[string, *seedEntry](),
		leeching:      syncmap.New[string, *leechEntry](),
		leechQueue:    make(chan string, 64),
	}, nil
}

// ListenAddr returns the actual bound address, valid after Start.
func (e *Engine) ListenAddr() string {
	if e.listener == nil {
		return e.listenAddr
	}
	return e.listener.Addr().String()
}

// Start binds the inbound listener and spawns the accept loop and the
// leech-queue worker, both coordinated under a single errgroup.
func (e *Engine) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", e.listenAddr)
	if err != nil {
		return fmt.Errorf("engine: listen: %w", err)
	}
	e.listener = ln

	ctx, cancel := context.WithCancel(ctx)
	e.ctx = ctx
	e.cancel = cancel

	g, gctx := errgroup.WithContext(ctx)
	e.grp = g

	g.Go(func() error { return e.acceptLoop(gctx) })
	g.Go(func() error { return e.leechWorker(gctx) })

	e.log.Info("engine.started", "addr", ln.Addr().String())
	return nil
}

// Stop closes the listener and waits for the accept loop and leech worker
// to exit. In-flight per-connection goroutines are not joined: a leeching
// connection stops before its next request once ctx is cancelled, and a
// seeding connection runs until its peer disconnects. Their errors are
// logged, not propagated.
func (e *Engine) Stop() error {
	if e.cancel != nil {
		e.cancel()
	}
	if e.listener != nil {
		e.listener.Close()
	}
	if e.grp != nil {
		if err := e.grp.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
	}
	return nil
}

// Seed implements the seed() control operation: it clamps piece_length,
// builds a metainfo descriptor, registers it for serving, and announces (or
// uploads) it to its tracker.
func (e *Engine) Seed(ctx context.Context, p SeedParams) (string, error) {
	pieceLength := p.PieceLength
	if pieceLength <= 0 || pieceLength > maxPieceLength {
		pieceLength = maxPieceLength
	}

	mi, err := metainfo.Create(metainfo.CreateParams{
		InputPath:   p.InputPath,
		Trackers:    p.Trackers,
		PieceLength: pieceLength,
		Name:        p.Name,
		Comment:     p.Description,
		CreatedBy:   "hutch/0.1",
	})
	if err != nil {
		return "", fmt.Errorf("engine: seed: %w", err)
	}

	hash := mi.InfoHash()
	infoHashHex := hex.EncodeToString(hash[:])

	metainfoPath := p.MetainfoPath
	if metainfoPath == "" {
		metainfoPath = filepath.Join(e.torrentDir, mi.Info.Name+".torrent")
	}
	encoded, err := mi.Encode()
	if err != nil {
		return "", fmt.Errorf("engine: seed: %w", err)
	}
	if err := os.WriteFile(metainfoPath, encoded, 0o644); err != nil {
		return "", fmt.Errorf("engine: seed: %w", err)
	}

	reader, err := buildSeedReader(mi, p.InputPath)
	if err != nil {
		return "", fmt.Errorf("engine: seed: %w", err)
	}

	e.seeding.Put(infoHashHex, &seedEntry{
		metainfoPath: metainfoPath,
		sourcePath:   p.InputPath,
		mi:           mi,
		reader:       reader,
	})

	if err := e.announceNewSeed(ctx, mi, encoded, p.Public, p.Description); err != nil {
		e.log.Warn("seed.announce.failed", "info_hash", infoHashHex, "error", err)
	}

	e.log.Info("seed.started", "info_hash", infoHashHex, "name", mi.Info.Name, "public", p.Public)
	return infoHashHex, nil
}

func (e *Engine) announceNewSeed(ctx context.Context, mi *metainfo.Metainfo, encoded []byte, public bool, description string) error {
	trackerURL := mi.TrackerURL()
	if trackerURL == "" {
		return nil
	}

	client, err := trackerclient.New(trackerURL, e.log)
	if err != nil {
		return err
	}

	hash := mi.InfoHash()
	params := trackerclient.AnnounceParams{
		InfoHash: hash,
		Port:     e.localPort(),
		Event:    trackerclient.EventStarted,
	}

	if public {
		_, err := client.Upload(ctx, params, filepath.Base(mi.Info.Name)+".torrent", encoded, description)
		return err
	}

	_, err = client.Announce(ctx, params)
	return err
}

func (e *Engine) localPort() uint16 {
	if e.listener == nil {
		return 0
	}
	addr, ok := e.listener.Addr().(*net.TCPAddr)
	if !ok {
		return 0
	}
	return uint16(addr.Port)
}

// Leech implements the leech() control operation: it enqueues metainfoPath
// for a background worker rather than blocking the caller.
func (e *Engine) Leech(metainfoPath string) error {
	if _, err := os.Stat(metainfoPath); err != nil {
		return fmt.Errorf("engine: leech: %w", err)
	}

	select {
	case e.leechQueue <- metainfoPath:
		return nil
	default:
		return fmt.Errorf("engine: leech queue full")
	}
}

// GetTorrents implements get_torrents(): the remote catalog, fetched from
// trackerURL.
func (e *Engine) GetTorrents(ctx context.Context, trackerURL string) (trackerclient.Catalog, error) {
	client, err := trackerclient.New(trackerURL, e.log)
	if err != nil {
		return nil, err
	}
	return client.GetTorrents(ctx)
}

// GetTorrentByInfoHash implements get_torrent_by_info_hash(): it fetches
// the .torrent bytes from trackerURL and stores them under torrentDir,
// returning the local path.
func (e *Engine) GetTorrentByInfoHash(ctx context.Context, trackerURL, infoHashHex string) (string, error) {
	raw, err := hex.DecodeString(infoHashHex)
	if err != nil || len(raw) != sha1.Size {
		return "", fmt.Errorf("engine: %w: malformed info_hash", ErrUnknownTorrent)
	}
	var hash [sha1.Size]byte
	copy(hash[:], raw)

	client, err := trackerclient.New(trackerURL, e.log)
	if err != nil {
		return "", err
	}

	data, err := client.GetTorrentFile(ctx, hash)
	if err != nil {
		return "", fmt.Errorf("engine: %w", err)
	}

	path := filepath.Join(e.torrentDir, infoHashHex+".torrent")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("engine: %w", err)
	}
	return path, nil
}

// StatusSnapshot implements status(): the current seeding and leeching
// view across both registries.
func (e *Engine) StatusSnapshot() Status {
	var out Status

	e.seeding.Range(func(infoHash string, entry *seedEntry) {
		out.Seeding = append(out.Seeding, SeedingStatus{
			InfoHash:   infoHash,
			Name:       entry.mi.Info.Name,
			SourcePath: entry.sourcePath,
		})
	})

	e.leeching.Range(func(infoHash string, entry *leechEntry) {
		out.Leeching = append(out.Leeching, LeechingStatus{
			InfoHash: infoHash,
			Name:     entry.mi.Info.Name,
			Percent:  entry.manager.PercentComplete(),
		})
	})

	return out
}

func filesToEntries(mi *metainfo.Metainfo) []piecemgr.FileEntry {
	out := make([]piecemgr.FileEntry, 0, len(mi.Info.Files))
	for _, f := range mi.Info.Files {
		out = append(out, piecemgr.FileEntry{Path: filepath.Join(f.Path...), Length: f.Length})
	}
	return out
}
