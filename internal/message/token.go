package message

import "github.com/gamevidea/binary/buffer"

// Token carries the session token that authorises the node on its frequency
// range. The server answers with TOKEN_ACCEPTED or TOKEN_REJECTED.
type Token struct {
	Token string
}

// Writes a token message into the buffer and returns an error if the
// operation failed.
func (pk *Token) Write(buf *buffer.Buffer) (err error) {
	if err = buf.WriteUint8(IDToken); err != nil {
		return
	}

	if err = buf.WriteUint8(byte(len(pk.Token))); err != nil {
		return
	}

	if err = buf.Write([]byte(pk.Token)); err != nil {
		return
	}

	return
}
