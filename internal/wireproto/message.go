// Package wireproto implements the peer wire protocol: the handshake and the
// length-prefixed message framing used once two peers are connected.
package wireproto

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/prxssh/hutch/pkg/utils/bitfield"
)

// MessageID identifies the kind of a framed message. All nine BEP-0003 IDs
// are defined; hutchd's baseline download loop only emits and handles
// Bitfield (once per side, right after the handshake), Request and Piece,
// but the rest are encoded/decoded so a future engine can extend the loop
// without breaking wire compatibility.
type MessageID uint8

const (
	MsgChoke         MessageID = 0
	MsgUnchoke       MessageID = 1
	MsgInterested    MessageID = 2
	MsgNotInterested MessageID = 3
	MsgHave          MessageID = 4
	MsgBitfield      MessageID = 5
	MsgRequest       MessageID = 6
	MsgPiece         MessageID = 7
	MsgCancel        MessageID = 8
)

func (id MessageID) String() string {
	switch id {
	case MsgChoke:
		return "Choke"
	case MsgUnchoke:
		return "Unchoke"
	case MsgInterested:
		return "Interested"
	case MsgNotInterested:
		return "NotInterested"
	case MsgHave:
		return "Have"
	case MsgBitfield:
		return "Bitfield"
	case MsgRequest:
		return "Request"
	case MsgPiece:
		return "Piece"
	case MsgCancel:
		return "Cancel"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(id))
	}
}

// Message is a single framed wire message. A nil *Message serializes to the
// 4-byte keep-alive.
type Message struct {
	ID      MessageID
	Payload []byte
}

// Serialize renders the <length prefix><id><payload> frame.
func (m *Message) Serialize() []byte {
	if m == nil {
		return make([]byte, 4)
	}

	length := uint32(len(m.Payload) + 1)
	buf := make([]byte, 4+length)
	binary.BigEndian.PutUint32(buf[0:4], length)
	buf[4] = byte(m.ID)
	copy(buf[5:], m.Payload)
	return buf
}

// ReadMessage reads one frame from r. A keep-alive (zero-length frame)
// returns (nil, nil).
func ReadMessage(r io.Reader) (*Message, error) {
	var length uint32
	if err := binary.Read(r, binary.BigEndian, &length); err != nil {
		return nil, err
	}
	if length == 0 {
		return nil, nil
	}

	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}

	return &Message{ID: MessageID(buf[0]), Payload: buf[1:]}, nil
}

// WriteMessage writes one frame (or the keep-alive, for a nil message) to w.
func WriteMessage(w io.Writer, m *Message) error {
	_, err := w.Write(m.Serialize())
	return err
}

// ParseHave extracts the piece index from a Have message's payload.
func (m *Message) ParseHave() (index uint32, ok bool) {
	if m.ID != MsgHave || len(m.Payload) != 4 {
		return 0, false
	}
	return binary.BigEndian.Uint32(m.Payload), true
}

// ParseRequest extracts (index, begin, length) from a Request or Cancel
// message's payload.
func (m *Message) ParseRequest() (index, begin, length uint32, ok bool) {
	if len(m.Payload) != 12 {
		return 0, 0, 0, false
	}
	return binary.BigEndian.Uint32(m.Payload[0:4]),
		binary.BigEndian.Uint32(m.Payload[4:8]),
		binary.BigEndian.Uint32(m.Payload[8:12]),
		true
}

// ParseBitfield extracts the piece-possession bitfield from a Bitfield
// message's payload.
func (m *Message) ParseBitfield() (bitfield.Bitfield, bool) {
	if m.ID != MsgBitfield {
		return nil, false
	}
	return bitfield.FromBytes(m.Payload), true
}

// ParsePiece extracts (index, begin, block) from a Piece message's payload.
// Since the engine requests a whole piece in one block, begin is always 0
// in this implementation but is still carried on the wire per BEP-0003.
func (m *Message) ParsePiece() (index, begin uint32, block []byte, ok bool) {
	if m.ID != MsgPiece || len(m.Payload) < 8 {
		return 0, 0, nil, false
	}
	return binary.BigEndian.Uint32(m.Payload[0:4]),
		binary.BigEndian.Uint32(m.Payload[4:8]),
		m.Payload[8:],
		true
}

func NewChoke() *Message         { return &Message{ID: MsgChoke} }
func NewUnchoke() *Message       { return &Message{ID: MsgUnchoke} }
func NewInterested() *Message    { return &Message{ID: MsgInterested} }
func NewNotInterested() *Message { return &Message{ID: MsgNotInterested} }

func NewHave(index uint32) *Message {
	payload := make([]byte, 4)
	binary.BigEndian.PutUint32(payload, index)
	return &Message{ID: MsgHave, Payload: payload}
}

func NewBitfield(bits bitfield.Bitfield) *Message {
	return &Message{ID: MsgBitfield, Payload: bits.Bytes()}
}

func NewRequest(index, begin, length uint32) *Message {
	payload := make([]byte, 12)
	binary.BigEndian.PutUint32(payload[0:4], index)
	binary.BigEndian.PutUint32(payload[4:8], begin)
	binary.BigEndian.PutUint32(payload[8:12], length)
	return &Message{ID: MsgRequest, Payload: payload}
}

func NewPiece(index, begin uint32, block []byte) *Message {
	payload := make([]byte, 8+len(block))
	binary.BigEndian.PutUint32(payload[0:4], index)
	binary.BigEndian.PutUint32(payload[4:8], begin)
	copy(payload[8:], block)
	return &Message{ID: MsgPiece, Payload: payload}
}

func NewCancel(index, begin, length uint32) *Message {
	payload := make([]byte, 12)
	binary.BigEndian.PutUint32(payload[0:4], index)
	binary.BigEndian.PutUint32(payload[4:8], begin)
	binary.BigEndian.PutUint32(payload[8:12], length)
	return &Message{ID: MsgCancel, Payload: payload}
}
