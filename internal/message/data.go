package message

import "github.com/gamevidea/binary/buffer"

// Data wraps a long protocol frame (chat data, link-state or addressing) for
// transport to the medium server as a length-prefixed body.
type Data struct {
	Frame []byte
}

// Writes a data message into the buffer and returns an error if the
// operation failed.
func (pk *Data) Write(buf *buffer.Buffer) (err error) {
	if err = buf.WriteUint8(IDData); err != nil {
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
