package engine

import (
	"context"
	"encoding/hex"
	"net"
	"path/filepath"

	"github.com/prxssh/hutch/internal/metainfo"
	"github.com/prxssh/hutch/internal/piecemgr"
	"github.com/prxssh/hutch/internal/wireproto"
)

// buildSeedReader derives a SeedReader over sourcePath that maps reads the
// same way the descriptor's file layout does.
func buildSeedReader(mi *metainfo.Metainfo, sourcePath string) (*piecemgr.SeedReader, error) {
	if mi.Info.Files == nil {
		return piecemgr.NewSeedReader(sourcePath, mi.Size(), mi.Info.PieceLength), nil
	}
	return piecemgr.NewMultiFileSeedReader(seedFileEntries(mi, sourcePath), mi.Info.PieceLength), nil
}

// seedFileEntries resolves each multi-file entry's torrent-relative path
// against sourcePath, the directory the torrent was created from. Unlike
// filesToEntries (whose paths are joined against downloadDir by the write
// side), the seed reader does no joining of its own, so its FileEntry.Path
// must already be absolute-enough to open directly.
func seedFileEntries(mi *metainfo.Metainfo, sourcePath string) []piecemgr.FileEntry {
	out := make([]piecemgr.FileEntry, 0, len(mi.Info.Files))
	for _, f := range mi.Info.Files {
		out = append(out, piecemgr.FileEntry{
			Path:   filepath.Join(append([]string{sourcePath}, f.Path...)...),
			Length: f.Length,
		})
	}
	return out
}

// acceptLoop accepts inbound peer connections until ctx is cancelled,
// spawning an independent, untracked goroutine per connection — a single
// misbehaving peer must never take down the accept loop.
func (e *Engine) acceptLoop(ctx context.Context) error {
	l := e.log.With("loop", "accept")

	for {
		conn, err := e.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			l.Warn("accept.error", "error", err)
			return err
		}

		go e.serveConn(conn)
	}
}

// serveConn implements the seeding side's per-connection state machine:
// AWAIT_HANDSHAKE -> AWAIT_REQUEST <-> SERVE_PIECE -> CLOSED.
func (e *Engine) serveConn(conn net.Conn) {
	defer conn.Close()
	l := e.log.With("component", "seeder", "remote", conn.RemoteAddr().String())

	in, err := wireproto.ReadHandshake(conn)
	if err != nil {
		l.Warn("handshake.read.failed", "error", err)
		return
	}

	infoHashHex := hex.EncodeToString(in.InfoHash[:])
	entry, ok := e.seeding.Get(infoHashHex)
	if !ok {
		l.Debug("handshake.unknown_torrent", "info_hash", infoHashHex)
		return
	}

	reply := wireproto.Handshake{InfoHash: in.InfoHash, PeerID: e.clientID}
	if _, err := conn.Write(reply.Serialize()); err != nil {
		l.Warn("handshake.reply.failed", "error", err)
		return
	}

	l = l.With("info_hash", infoHashHex)
	l.Info("peer.connected")

	bitfieldMsg := wireproto.NewBitfield(entry.reader.Bitfield())
	if err := wireproto.WriteMessage(conn, bitfieldMsg); err != nil {
		l.Debug("bitfield.write.failed", "error", err)
		return
	}

	for {
		msg, err := wireproto.ReadMessage(conn)
		if err != nil {
			l.Debug("peer.disconnected", "error", err)
			return
		}
		if msg == nil {
			continue // keep-alive
		}
		if msg.ID != wireproto.MsgRequest {
			l.Debug("peer.msg.ignored", "id", msg.ID.String())
			continue
		}

		index, begin, length, ok := msg.ParseRequest()
		if !ok {
			l.Warn("peer.request.malformed")
			return
		}

		block, err := entry.reader.ReadPiece(index, length)
		if err != nil {
			l.Warn("peer.piece.read.failed", "index", index, "error", err)
			return
		}

		piece := wireproto.NewPiece(index, begin, block)
		if err := wireproto.WriteMessage(conn, piece); err != nil {
			l.Debug("peer.piece.write.failed", "error", err)
			return
		}
	}
}
