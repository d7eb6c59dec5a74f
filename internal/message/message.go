package message

import "github.com/gamevidea/binary/buffer"

// ID represents a framing tag on the byte stream between a node and the
// medium server. Some tags are bare signals, some introduce a length-prefixed
// body.
type ID = uint8

const (
	IDFree          ID = 0x01
	IDBusy          ID = 0x02
	IDData          ID = 0x03
	IDSending       ID = 0x04
	IDDoneSending   ID = 0x05
	IDDataShort     ID = 0x06
	IDEnd           ID = 0x08
	IDHello         ID = 0x09
	IDToken         ID = 0x0A
	IDTokenRejected ID = 0x0B
)

// Message represents an outbound framing message for the medium server.
type Message interface {
	Write(buf *buffer.Buffer) (err error)
}
