package wireproto

import (
	"bytes"
	"crypto/sha1"
	"testing"
)

func TestMessage_SerializeReadRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		msg  *Message
	}{
		{"choke", NewChoke()},
		{"unchoke", NewUnchoke()},
		{"interested", NewInterested()},
		{"not-interested", NewNotInterested()},
		{"have", NewHave(42)},
		{"bitfield", NewBitfield([]byte{0xFF, 0x0F})},
		{"request", NewRequest(1, 0, 16384)},
		{"piece", NewPiece(1, 0, []byte("payload bytes"))},
		{"cancel", NewCancel(1, 0, 16384)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			if err := WriteMessage(&buf, tt.msg); err != nil {
				t.Fatalf("WriteMessage: %v", err)
			}

			got, err := ReadMessage(&buf)
			if err != nil {
				t.Fatalf("ReadMessage: %v", err)
			}
			if got.ID != tt.msg.ID {
				t.Fatalf("ID = %v, want %v", got.ID, tt.msg.ID)
			}
			if !bytes.Equal(got.Payload, tt.msg.Payload) {
				t.Fatalf("Payload = %v, want %v", got.Payload, tt.msg.Payload)
			}
		})
	}
}

func TestReadMessage_KeepAlive(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteMessage(&buf, nil); err != nil {
		t.Fatalf("WriteMessage(nil): %v", err)
	}

	msg, err := ReadMessage(&buf)
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if msg != nil {
		t.Fatalf("ReadMessage = %+v, want nil (keep-alive)", msg)
	}
}

func TestMessage_ParseHave(t *testing.T) {
	msg := NewHave(7)
	idx, ok := msg.ParseHave()
	if !ok || idx != 7 {
		t.Fatalf("ParseHave() = (%d, %v), want (7, true)", idx, ok)
	}

	if _, ok := NewChoke().ParseHave(); ok {
		t.Fatalf("ParseHave() on a Choke message returned ok=true")
	}
}

func TestMessage_ParseBitfield(t *testing.T) {
	msg := NewBitfield([]byte{0xFF, 0x0F})
	bf, ok := msg.ParseBitfield()
	if !ok {
		t.Fatalf("ParseBitfield() ok = false, want true")
	}
	if bf.Count() != 12 {
		t.Fatalf("bitfield Count() = %d, want 12", bf.Count())
	}

	if _, ok := NewChoke().ParseBitfield(); ok {
		t.Fatalf("ParseBitfield() on a Choke message returned ok=true")
	}
}

func TestMessage_ParseRequestAndPiece(t *testing.T) {
	req := NewRequest(3, 0, 1024)
	index, begin, length, ok := req.ParseRequest()
	if !ok || index != 3 || begin != 0 || length != 1024 {
		t.Fatalf("ParseRequest() = (%d, %d, %d, %v), want (3, 0, 1024, true)", index, begin, length, ok)
	}

	block := []byte("abcdef")
	piece := NewPiece(3, 0, block)
	pIndex, pBegin, pBlock, ok := piece.ParsePiece()
	if !ok || pIndex != 3 || pBegin != 0 || !bytes.Equal(pBlock, block) {
		t.Fatalf("ParsePiece() = (%d, %d, %v, %v), want (3, 0, %v, true)", pIndex, pBegin, pBlock, ok, block)
	}
}

func TestHandshake_SerializeReadRoundTrip(t *testing.T) {
	infoHash := sha1.Sum([]byte("some info dict"))
	peerID := [sha1.Size]byte{}

	h := &Handshake{InfoHash: infoHash, PeerID: peerID}
	var buf bytes.Buffer
	buf.Write(h.Serialize())

	got, err := ReadHandshake(&buf)
	if err != nil {
		t.Fatalf("ReadHandshake: %v", err)
	}
	if got.InfoHash != infoHash {
		t.Fatalf("InfoHash = %x, want %x", got.InfoHash, infoHash)
	}
	if got.PeerID != peerID {
		t.Fatalf("PeerID = %x, want %x", got.PeerID, peerID)
	}
}

func TestPerform_RejectsMismatchedInfoHash(t *testing.T) {
	ours := sha1.Sum([]byte("ours"))
	theirs := sha1.Sum([]byte("theirs"))

	// A pipe-like in-memory ReadWriter where our handshake is written and
	// a mismatched reply is queued to be read back.
	var conn fakeConn
	reply := &Handshake{InfoHash: theirs, PeerID: [sha1.Size]byte{}}
	conn.readBuf.Write(reply.Serialize())

	_, err := Perform(&conn, ours, [sha1.Size]byte{})
	if err != ErrHandshakeMismatch {
		t.Fatalf("Perform() error = %v, want ErrHandshakeMismatch", err)
	}
}

func TestReadHandshake_RejectsWrongPstrlen(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteByte(4) // pstrlen must be 19
	buf.WriteString("fake")
	buf.Write(make([]byte, reservedBytes+sha1.Size+sha1.Size))

	if _, err := ReadHandshake(&buf); err != ErrHandshakeProtocol {
		t.Fatalf("ReadHandshake() error = %v, want ErrHandshakeProtocol", err)
	}
}

func TestReadHandshake_RejectsWrongProtocolString(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteByte(byte(len(protocolString)))
	wrong := make([]byte, len(protocolString))
	copy(wrong, "totally not bittorrent here")
	buf.Write(wrong)
	buf.Write(make([]byte, reservedBytes+sha1.Size+sha1.Size))

	if _, err := ReadHandshake(&buf); err != ErrHandshakeProtocol {
		t.Fatalf("ReadHandshake() error = %v, want ErrHandshakeProtocol", err)
	}
}

// fakeConn is a minimal io.ReadWriter: writes go nowhere, reads come from
// a pre-seeded buffer.
type fakeConn struct {
	readBuf bytes.Buffer
}

func (f *fakeConn) Write(p []byte) (int, error) { return len(p), nil }
func (f *fakeConn) Read(p []byte) (int, error)  { return f.readBuf.Read(p) }
