package protocol

import (
	"errors"

	"github.com/gamevidea/binary/buffer"
)

// This error is sent when a frame is shorter than the header of its kind.
var TRN_ERROR = errors.New("the frame is truncated and does not fit its header")

// This error is sent when a data frame's length byte points past the end of
// the frame or inside its own header.
var LEN_ERROR = errors.New("the frame length byte is inconsistent with the frame")

// This error is sent when a frame's advertised entry count does not fit the
// envelope.
var CNT_ERROR = errors.New("the advertised entry count exceeds the envelope")

// FrameKind discriminates the three long-frame variants carried as DATA on
// the medium, keyed on the top two bits of byte 0.
type FrameKind = uint8

const (
	KindAddressing FrameKind = iota
	KindLinkState
	KindData
)

// Returns the frame kind for the given leading byte.
func Kind(first byte) FrameKind {
	if first&FLAG_DATA != 0 {
		return KindData
	}

	if first&FLAG_LINK_STATE != 0 {
		return KindLinkState
	}

	return KindAddressing
}

// DataHeader is the nine byte header of a chat data fragment. Fragments
// counts the frames of the whole series; Sequence numbers this fragment
// within it, starting at 1. NextHop and PreviousHop are rewritten per hop,
// Source and Destination never change, and the nonce pair is shared by every
// fragment of one series.
type DataHeader struct {
	Fragments   byte
	Length      byte
	NextHop     byte
	Source      byte
	Destination byte
	Sequence    byte
	PreviousHop byte
	Nonce1      byte
	Nonce2      byte
}

// Reads a data header from the buffer and returns an error if the operation
// failed.
func (h *DataHeader) Read(buf *buffer.Buffer) (err error) {
	var first byte
	if first, err = buf.ReadUint8(); err != nil {
		return
	}

	h.Fragments = first & FRAGMENT_COUNT_MASK

	if h.Length, err = buf.ReadUint8(); err != nil {
		return
	}

	if h.NextHop, err = buf.ReadUint8(); err != nil {
		return
	}

	if h.Source, err = buf.ReadUint8(); err != nil {
		return
	}

	if h.Destination, err = buf.ReadUint8(); err != nil {
		return
	}

	if h.Sequence, err = buf.ReadUint8(); err != nil {
		return
	}

	h.Sequence &= SEQUENCE_MASK

	if h.PreviousHop, err = buf.ReadUint8(); err != nil {
		return
	}

	if h.Nonce1, err = buf.ReadUint8(); err != nil {
		return
	}

	if h.Nonce2, err = buf.ReadUint8(); err != nil {
		return
	}

	return
}

// Writes a data header into the buffer and returns an error if the operation
// failed.
func (h *DataHeader) Write(buf *buffer.Buffer) (err error) {
	if err = buf.WriteUint8(FLAG_DATA | h.Fragments&FRAGMENT_COUNT_MASK); err != nil {
		return
	}

	if err = buf.WriteUint8(h.Length); err != nil {
		return
	}

	if err = buf.WriteUint8(h.NextHop); err != nil {
		return
	}

	if err = buf.WriteUint8(h.Source); err != nil {
		return
	}

	if err = buf.WriteUint8(h.Destination); err != nil {
		return
	}

	if err = buf.WriteUint8(h.Sequence & SEQUENCE_MASK); err != nil {
		return
	}

	if err = buf.WriteUint8(h.PreviousHop); err != nil {
		return
	}

	if err = buf.WriteUint8(h.Nonce1); err != nil {
		return
	}

	if err = buf.WriteUint8(h.Nonce2); err != nil {
		return
	}

	return
}

// Parses a chat data frame into its header and payload. The payload slice
// references the frame's backing array.
func ParseData(frame []byte) (hdr DataHeader, payload []byte, err error) {
	if len(frame) < DATA_HEADER_SIZE {
		err = TRN_ERROR
		return
	}

	if err = hdr.Read(buffer.From(frame)); err != nil {
		return
	}

	length := int(hdr.Length)
	if length < DATA_HEADER_SIZE || length > len(frame) {
		err = LEN_ERROR
		return
	}

	payload = frame[DATA_HEADER_SIZE:length]
	return
}

// Encodes a chat data frame sized exactly to header + payload. The length
// byte is derived from the payload, not taken from the header.
func EncodeData(hdr DataHeader, payload []byte) []byte {
	hdr.Length = byte(DATA_HEADER_SIZE + len(payload))

	buf := buffer.New(DATA_HEADER_SIZE + len(payload))
	hdr.Write(buf)
	buf.Write(payload)

	return buf.Bytes()
}

// Returns the sequence number of a raw data frame without decoding the whole
// header.
func DataSequence(frame []byte) byte {
	if len(frame) < DATA_HEADER_SIZE {
		return 0
	}

	return frame[5] & SEQUENCE_MASK
}

// RouteAdvert is one advertised (destination, cost) pair of a link-state
// frame.
type RouteAdvert struct {
	Destination byte
	Cost        byte
}

// LinkState is a link-state advertisement. On the wire the advertiser's own
// (Source, 0) pair leads the entry list; Write prepends it, Read returns the
// entries exactly as advertised, leading pair included.
type LinkState struct {
	Source  byte
	Entries []RouteAdvert
}

// Reads a link-state frame and returns an error if the operation failed.
func (l *LinkState) Read(buf *buffer.Buffer) (err error) {
	if _, err = buf.ReadUint8(); err != nil {
		return
	}

	if l.Source, err = buf.ReadUint8(); err != nil {
		return
	}

	var length byte
	if length, err = buf.ReadUint8(); err != nil {
		return
	}

	if _, err = buf.ReadUint8(); err != nil {
		return
	}

	if int(length) > MAX_FRAME_SIZE {
		return CNT_ERROR
	}

	l.Entries = l.Entries[:0]

	// The advertised length is 2*entries + 4; entries occupy pairs starting
	// at byte 4, so the exclusive bound visits every advertised pair.
	for index := 4; index < int(length); index += 2 {
		var dest, cost byte

		if dest, err = buf.ReadUint8(); err != nil {
			return
		}

		if cost, err = buf.ReadUint8(); err != nil {
			return
		}

		l.Entries = append(l.Entries, RouteAdvert{Destination: dest, Cost: cost})
	}

	return
}

// Writes a link-state frame into the buffer, leading with the advertiser's
// own zero-cost pair, and returns an error if the operation failed.
func (l *LinkState) Write(buf *buffer.Buffer) (err error) {
	entries := l.Entries
	if len(entries) > MAX_LINK_STATE_ENTRIES-1 {
		entries = entries[:MAX_LINK_STATE_ENTRIES-1]
	}

	if err = buf.WriteUint8(FLAG_LINK_STATE); err != nil {
		return
	}

	if err = buf.WriteUint8(l.Source); err != nil {
		return
	}

	if err = buf.WriteUint8(byte(2*(len(entries)+1) + 4)); err != nil {
		return
	}

	if err = buf.WriteUint8(LINK_STATE_SENTINEL); err != nil {
		return
	}

	if err = buf.WriteUint8(l.Source); err != nil {
		return
	}

	if err = buf.WriteUint8(0); err != nil {
		return
	}

	for _, entry := range entries {
		if err = buf.WriteUint8(entry.Destination); err != nil {
			return
		}

		if err = buf.WriteUint8(entry.Cost); err != nil {
			return
		}
	}

	return
}

// Encodes a link-state frame into a full 32 byte envelope.
func EncodeLinkState(l LinkState) []byte {
	frame := make([]byte, MAX_FRAME_SIZE)
	buf := buffer.From(frame)
	buf.SetOffset(0)
	l.Write(buf)

	return frame
}

// ParseLinkState decodes a link-state frame received from the medium.
func ParseLinkState(frame []byte) (l LinkState, err error) {
	if len(frame) < 4 {
		err = TRN_ERROR
		return
	}

	if int(frame[2]) > len(frame) {
		err = CNT_ERROR
		return
	}

	err = l.Read(buffer.From(frame))
	return
}

// AddressFrame is an addressing frame: an exploration request when Source is
// zero, a one-shot reply after self-assignment when Reply is set, and a
// gossip advertisement otherwise.
type AddressFrame struct {
	Reply  bool
	Source byte
	TTL    byte
	Known  []byte
}

// Reads an addressing frame and returns an error if the operation failed.
func (a *AddressFrame) Read(buf *buffer.Buffer) (err error) {
	var count byte
	if count, err = buf.ReadUint8(); err != nil {
		return
	}

	if int(count) > MAX_KNOWN_ADDRESSES {
		return CNT_ERROR
	}

	var flag byte
	if flag, err = buf.ReadUint8(); err != nil {
		return
	}

	a.Reply = flag == 1

	if a.Source, err = buf.ReadUint8(); err != nil {
		return
	}

	if a.TTL, err = buf.ReadUint8(); err != nil {
		return
	}

	a.Known = make([]byte, count)
	if err = buf.Read(a.Known); err != nil {
		return
	}

	return
}

// Writes an addressing frame into the buffer and returns an error if the
// operation failed.
func (a *AddressFrame) Write(buf *buffer.Buffer) (err error) {
	known := a.Known
	if len(known) > MAX_KNOWN_ADDRESSES {
		known = known[:MAX_KNOWN_ADDRESSES]
	}

	if err = buf.WriteUint8(byte(len(known))); err != nil {
		return
	}

	flag := byte(0)
	if a.Reply {
		flag = 1
	}

	if err = buf.WriteUint8(flag); err != nil {
		return
	}

	if err = buf.WriteUint8(a.Source); err != nil {
		return
	}

	if err = buf.WriteUint8(a.TTL); err != nil {
		return
	}

	if err = buf.Write(known); err != nil {
		return
	}

	return
}

// Encodes an addressing frame into a full 32 byte envelope.
func EncodeAddressFrame(a AddressFrame) []byte {
	frame := make([]byte, MAX_FRAME_SIZE)
	buf := buffer.From(frame)
	buf.SetOffset(0)
	a.Write(buf)

	return frame
}

// ParseAddressFrame decodes an addressing frame received from the medium.
func ParseAddressFrame(frame []byte) (a AddressFrame, err error) {
	if len(frame) < 4 {
		err = TRN_ERROR
		return
	}

	err = a.Read(buffer.From(frame))
	return
}

// Encodes a DATA_SHORT acknowledgement for the given node.
func EncodeAck(id byte) []byte {
	return []byte{SHORT_ACK, id}
}

// Encodes a DATA_SHORT keep-alive naming the given sender.
func EncodeKeepAlive(sender byte) []byte {
	return []byte{SHORT_KEEP_ALIVE, sender}
}

// Reports whether a DATA_SHORT frame is an acknowledgement; any other
// leading byte marks a keep-alive.
func IsAck(frame []byte) bool {
	return len(frame) >= SHORT_FRAME_SIZE && frame[0] == SHORT_ACK
}
