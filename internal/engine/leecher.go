package engine

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/prxssh/hutch/internal/metainfo"
	"github.com/prxssh/hutch/internal/piecemgr"
	"github.com/prxssh/hutch/internal/trackerclient"
	"github.com/prxssh/hutch/internal/wireproto"
	"github.com/prxssh/hutch/pkg/utils/bitfield"
)

const connectTimeout = 5 * time.Second

// leechWorker drains the leech queue one torrent at a time, per §4.D's
// supplemented download queue.
func (e *Engine) leechWorker(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case path := <-e.leechQueue:
			if err := e.download(ctx, path); err != nil {
				e.log.Warn("leech.failed", "path", path, "error", err)
			}
		}
	}
}

// download implements download(metainfo_path): parse, instantiate the
// piece manager, register, then run the announce/connect loop until
// complete or ctx is cancelled.
func (e *Engine) download(ctx context.Context, metainfoPath string) error {
	data, err := os.ReadFile(metainfoPath)
	if err != nil {
		return fmt.Errorf("engine: download: %w", err)
	}
	mi, err := metainfo.Parse(data)
	if err != nil {
		return fmt.Errorf("engine: download: %w", err)
	}

	hash := mi.InfoHash()
	infoHashHex := hex.EncodeToString(hash[:])

	manager, err := e.buildManager(mi)
	if err != nil {
		return fmt.Errorf("engine: download: %w", err)
	}

	entry := &leechEntry{
		mi:          mi,
		manager:     manager,
		activePeers: make(map[string]struct{}),
	}
	e.leeching.Put(infoHashHex, entry)

	trackerURL := mi.TrackerURL()
	if trackerURL == "" {
		return fmt.Errorf("engine: download: no tracker URL in %s", metainfoPath)
	}
	client, err := trackerclient.New(trackerURL, e.log)
	if err != nil {
		return fmt.Errorf("engine: download: %w", err)
	}

	l := e.log.With("component", "leecher", "info_hash", infoHashHex, "name", mi.Info.Name)
	l.Info("download.started")

	ticker := time.NewTicker(e.announceEvery)
	defer ticker.Stop()

	event := trackerclient.EventStarted
	for {
		if manager.IsComplete() {
			l.Info("download.complete")
			e.announceStop(ctx, client, hash)
			return nil
		}

		resp, err := client.Announce(ctx, trackerclient.AnnounceParams{
			InfoHash: hash,
			Port:     e.localPort(),
			Event:    event,
		})
		if err != nil {
			l.Warn("announce.failed", "error", err)
		} else {
			event = trackerclient.EventNone
			for _, peer := range resp.Peers {
				addr := fmt.Sprintf("%s:%d", peer.IP, peer.Port)
				if !entry.tryClaim(addr) {
					continue
				}
				go e.leechConn(ctx, addr, hash, entry, l)
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (e *Engine) announceStop(ctx context.Context, client *trackerclient.Client, hash [20]byte) {
	_, err := client.Announce(ctx, trackerclient.AnnounceParams{
		InfoHash: hash,
		Port:     e.localPort(),
		Event:    trackerclient.EventStopped,
	})
	if err != nil {
		e.log.Debug("announce.stop.failed", "error", err)
	}
}

// readPieceReply blocks until the expected Piece reply for the outstanding
// Request arrives, transparently skipping interleaved keep-alives (the
// single-outstanding-request rule means nothing else should arrive, but a
// keep-alive is not a protocol violation).
func readPieceReply(conn net.Conn) (*wireproto.Message, error) {
	for {
		msg, err := wireproto.ReadMessage(conn)
		if err != nil {
			return nil, err
		}
		if msg == nil {
			continue
		}
		if msg.ID != wireproto.MsgPiece {
			return nil, fmt.Errorf("engine: expected Piece, got %s", msg.ID)
		}
		return msg, nil
	}
}

// readBitfield blocks for the peer's first post-handshake message (skipping
// keep-alives) and, if it is a Bitfield, parses it. Any other message is
// consumed and discarded, and a nil bitfield is returned — a peer that
// omits its bitfield is not a protocol error here, since nothing downstream
// of this engine depends on peer possession to pick pieces.
func readBitfield(conn net.Conn) (bitfield.Bitfield, error) {
	for {
		msg, err := wireproto.ReadMessage(conn)
		if err != nil {
			return nil, err
		}
		if msg == nil {
			continue
		}
		bf, ok := msg.ParseBitfield()
		if !ok {
			return nil, nil
		}
		return bf, nil
	}
}

func (e *Engine) buildManager(mi *metainfo.Metainfo) (*piecemgr.Manager, error) {
	if mi.Info.Files == nil {
		outPath := filepath.Join(e.downloadDir, mi.Info.Name)
		return piecemgr.New(outPath, mi.Size(), mi.Info.PieceLength, mi.Info.Pieces)
	}

	outDir := filepath.Join(e.downloadDir, mi.Info.Name)
	return piecemgr.NewMultiFile(outDir, filesToEntries(mi), mi.Info.PieceLength, mi.Info.Pieces)
}

// leechConn implements the leecher's per-connection loop: connect,
// handshake, then repeatedly ask the piece manager for work until it has
// none or the connection fails. Any error removes this peer from
// activePeers and returns — the download continues on other peers and the
// tracker is re-queried on the next announce interval.
func (e *Engine) leechConn(ctx context.Context, addr string, infoHash [20]byte, entry *leechEntry, l *slog.Logger) {
	defer entry.release(addr)
	l = l.With("remote", addr)

	dialer := net.Dialer{Timeout: connectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		l.Debug("connect.failed", "error", err)
		return
	}
	defer conn.Close()

	peerID, err := wireproto.Perform(conn, infoHash, e.clientID)
	if err != nil {
		l.Debug("handshake.failed", "error", err)
		return
	}
	l = l.With("peer_id", hex.EncodeToString(peerID[:]))
	l.Info("peer.connected")

	ourBitfield := wireproto.NewBitfield(entry.manager.Bitfield())
	if err := wireproto.WriteMessage(conn, ourBitfield); err != nil {
		l.Debug("bitfield.write.failed", "error", err)
		return
	}

	if bf, err := readBitfield(conn); err != nil {
		l.Debug("bitfield.read.failed", "error", err)
		return
	} else if bf != nil {
		l.Debug("peer.bitfield", "pieces_have", bf.Count())
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		req, err := entry.manager.NextRequest()
		if err != nil {
			if errors.Is(err, piecemgr.ErrNoWork) {
				return
			}
			l.Warn("next_request.failed", "error", err)
			return
		}

		request := wireproto.NewRequest(req.Index, req.Begin, req.Length)
		if err := wireproto.WriteMessage(conn, request); err != nil {
			l.Debug("request.write.failed", "error", err)
			return
		}

		msg, err := readPieceReply(conn)
		if err != nil {
			l.Debug("piece.read.failed", "error", err)
			return
		}

		if err := entry.manager.ReceivePiece(msg); err != nil {
			l.Warn("receive_piece.failed", "error", err)
			return
		}
	}
}
