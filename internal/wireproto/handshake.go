package wireproto

import (
	"bytes"
	"crypto/sha1"
	"errors"
	"io"
)

const (
	protocolString = "BitTorrent protocol"
	reservedBytes  = 8
)

// ErrHandshakeMismatch is returned when a peer's handshake response carries
// an info_hash different from the one we sent.
var ErrHandshakeMismatch = errors.New("wireproto: handshake info_hash mismatch")

// ErrHandshakeProtocol is returned when a handshake's pstrlen or protocol
// string does not match exactly; either side must close the connection on
// this mismatch rather than attempt to parse further.
var ErrHandshakeProtocol = errors.New("wireproto: handshake protocol mismatch")

// Handshake is the fixed 68-byte message exchanged before any framed
// message may be sent.
type Handshake struct {
	InfoHash [sha1.Size]byte
	PeerID   [sha1.Size]byte
}

// Serialize renders the handshake to its wire form: 1 + 19 + 8 + 20 + 20
// bytes.
func (h *Handshake) Serialize() []byte {
	buf := make([]byte, 1+len(protocolString)+reservedBytes+sha1.Size+sha1.Size)

	buf[0] = byte(len(protocolString))
	offset := 1
	offset += copy(buf[offset:], protocolString)
	offset += copy(buf[offset:], make([]byte, reservedBytes))
	offset += copy(buf[offset:], h.InfoHash[:])
	copy(buf[offset:], h.PeerID[:])

	return buf
}

// ReadHandshake blocks for exactly one handshake frame from r.
func ReadHandshake(r io.Reader) (*Handshake, error) {
	var pstrlenBuf [1]byte
	if _, err := io.ReadFull(r, pstrlenBuf[:]); err != nil {
		return nil, err
	}
	pstrlen := int(pstrlenBuf[0])
	if pstrlen != len(protocolString) {
		return nil, ErrHandshakeProtocol
	}

	rest := make([]byte, reservedBytes+pstrlen+sha1.Size+sha1.Size)
	if _, err := io.ReadFull(r, rest); err != nil {
		return nil, err
	}

	if !bytes.Equal(rest[:pstrlen], []byte(protocolString)) {
		return nil, ErrHandshakeProtocol
	}

	var h Handshake
	offset := pstrlen + reservedBytes
	copy(h.InfoHash[:], rest[offset:offset+sha1.Size])
	copy(h.PeerID[:], rest[offset+sha1.Size:])

	return &h, nil
}

// Perform writes our handshake to rw, reads the peer's response, and
// verifies the info_hash matches before returning the peer's advertised
// peer_id.
func Perform(rw io.ReadWriter, infoHash, peerID [sha1.Size]byte) ([sha1.Size]byte, error) {
	out := &Handshake{InfoHash: infoHash, PeerID: peerID}
	if _, err := rw.Write(out.Serialize()); err != nil {
		return [sha1.Size]byte{}, err
	}

	in, err := ReadHandshake(rw)
	if err != nil {
		return [sha1.Size]byte{}, err
	}
	if !bytes.Equal(in.InfoHash[:], infoHash[:]) {
		return [sha1.Size]byte{}, ErrHandshakeMismatch
	}

	return in.PeerID, nil
}
