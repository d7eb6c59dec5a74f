package message

import "github.com/gamevidea/binary/buffer"

// DataShort wraps a two byte frame (acknowledgement or keep-alive) for
// transport to the medium server as a length-prefixed body.
type DataShort struct {
	Frame []byte
}

// Writes a short data message into the buffer and returns an error if the
// operation failed.
func (pk *DataShort) Write(buf *buffer.Buffer) (err error) {
	if err = buf.WriteUint8(IDDataShort); err != nil {
		return
	}

	if err = buf.WriteUint8(byte(len(pk.Frame))); err != nil {
		return
	}

	if err = buf.Write(pk.Frame); err != nil {
		return
	}

	return
}
