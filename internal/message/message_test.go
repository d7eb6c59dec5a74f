package message

import (
	"testing"

	"github.com/gamevidea/binary/buffer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encode(t *testing.T, msg Message) []byte {
	t.Helper()

	buf := buffer.New(64)
	require.NoError(t, msg.Write(buf))

	return buf.Bytes()
}

func TestConnectEncoding(t *testing.T) {
	out := encode(t, &Connect{Frequency: 2301})

	assert.Equal(t, []byte{IDHello, 0x00, 0x08, 0xFD}, out)
}

func TestTokenEncoding(t *testing.T) {
	out := encode(t, &Token{Token: "abc"})

	assert.Equal(t, []byte{IDToken, 3, 'a', 'b', 'c'}, out)
}

func TestDataEncoding(t *testing.T) {
	frame := []byte{0x81, 11, 7, 5, 7, 1, 5, 0, 0, 'h', 'i'}
	out := encode(t, &Data{Frame: frame})

	require.Equal(t, IDData, out[0])
	assert.Equal(t, byte(len(frame)), out[1])
	assert.Equal(t, frame, out[2:])
}

func TestDataShortEncoding(t *testing.T) {
	out := encode(t, &DataShort{Frame: []byte{0x00, 5}})

	assert.Equal(t, []byte{IDDataShort, 2, 0x00, 5}, out)
}
