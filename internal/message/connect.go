package message

import (
	"github.com/gamevidea/binary/buffer"
	"github.com/gamevidea/binary/byteorder"
)

// Connect is the first message sent to the medium server. It requests a
// session on the given 24-bit frequency; the server answers with HELLO.
type Connect struct {
	Frequency uint32
}

// Writes a connect message into the buffer and returns an error if the
// operation failed.
func (pk *Connect) Write(buf *buffer.Buffer) (err error) {
	if err = buf.WriteUint8(IDHello); err != nil {
		return
	}

	if err = buf.WriteUint24(pk.Frequency, byteorder.BigEndian); err != nil {
		return
	}

	return
}
