package mesh

import (
	"bytes"
	"testing"

	"github.com/gamevidea/meshchat/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplit(t *testing.T) {
	assert.Nil(t, split(nil))

	chunks := split(bytes.Repeat([]byte{'x'}, 30))
	require.Len(t, chunks, 2)
	assert.Len(t, chunks[0], 23)
	assert.Len(t, chunks[1], 7)

	chunks = split(bytes.Repeat([]byte{'x'}, 23))
	require.Len(t, chunks, 1)
}

func TestWhisperSingleFragment(t *testing.T) {
	queue := &captureQueue{}
	c := NewChunker(queue, func(dest byte) byte { return dest }, testLogger())
	c.SetOwn(5)

	c.Whisper(7, []byte("hello world"))

	require.Len(t, queue.frames, 1)
	frame := queue.frames[0]

	assert.Equal(t, byte(0x81), frame[0])
	assert.Equal(t, byte(20), frame[1])
	assert.Equal(t, byte(7), frame[2])
	assert.Equal(t, byte(5), frame[3])
	assert.Equal(t, byte(7), frame[4])
	assert.Equal(t, byte(1), frame[5])
	assert.Equal(t, byte(5), frame[6])
	assert.Equal(t, []byte("hello world"), frame[protocol.DATA_HEADER_SIZE:])
}

func TestWhisperSeriesSharesNonce(t *testing.T) {
	queue := &captureQueue{}
	c := NewChunker(queue, func(dest byte) byte { return dest }, testLogger())
	c.SetOwn(5)

	c.Whisper(7, bytes.Repeat([]byte{'x'}, 30))

	require.Len(t, queue.frames, 2)

	first, second := queue.frames[0], queue.frames[1]

	assert.Equal(t, byte(0x82), first[0])
	assert.Equal(t, byte(0x82), second[0])
	assert.Equal(t, byte(1), first[5])
	assert.Equal(t, byte(2), second[5])
	assert.Equal(t, first[7], second[7])
	assert.Equal(t, first[8], second[8])
	assert.Len(t, second, protocol.DATA_HEADER_SIZE+7)
}

func TestWhisperWithoutRouteProducesNothing(t *testing.T) {
	queue := &captureQueue{}
	c := NewChunker(queue, func(dest byte) byte { return 0 }, testLogger())
	c.SetOwn(5)

	c.Whisper(7, []byte("unroutable"))

	assert.Empty(t, queue.frames)
}

func TestBroadcastSeriesPerDestination(t *testing.T) {
	queue := &captureQueue{}
	c := NewChunker(queue, func(dest byte) byte {
		if dest == 3 {
			return 0
		}
		return dest
	}, testLogger())
	c.SetOwn(5)
	c.SetReachable([]byte{2, 3, 4})

	c.Broadcast(bytes.Repeat([]byte{'y'}, 30))

	// The series toward 3 is aborted without affecting the others.
	require.Len(t, queue.frames, 4)

	for _, dest := range []byte{2, 4} {
		var series [][]byte
		for _, frame := range queue.frames {
			if frame[4] == dest {
				series = append(series, frame)
			}
		}

		require.Len(t, series, 2)
		assert.Equal(t, byte(0x82), series[0][0])
		assert.Equal(t, byte(1), series[0][5])
		assert.Equal(t, byte(2), series[1][5])
		assert.Equal(t, series[0][7], series[1][7])
		assert.Equal(t, series[0][8], series[1][8])
	}
}

func TestBroadcastWithNoReachableNodes(t *testing.T) {
	queue := &captureQueue{}
	c := NewChunker(queue, func(dest byte) byte { return dest }, testLogger())
	c.SetOwn(5)

	c.Broadcast([]byte("nobody hears this"))

	assert.Empty(t, queue.frames)
}
