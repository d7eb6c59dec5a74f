package mesh

import (
	"context"
	"testing"
	"time"

	"github.com/gamevidea/meshchat/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestReliability(own byte, nextHop func(byte) byte) (*Reliability, *MAC, *[]string) {
	mac := NewMAC(func([]byte) {}, testLogger())

	delivered := &[]string{}
	rel := NewReliability(mac, nextHop, func(hdr protocol.DataHeader, payload []byte) {
		*delivered = append(*delivered, string(payload))
	}, testLogger())
	rel.SetOwn(own)

	return rel, mac, delivered
}

// relayFrame is a fragment from source 2 to destination 4 arriving at relay
// 3 from previous hop 2.
func relayFrame(nonce byte) []byte {
	return protocol.EncodeData(protocol.DataHeader{
		Fragments:   1,
		NextHop:     3,
		Source:      2,
		Destination: 4,
		Sequence:    1,
		PreviousHop: 2,
		Nonce1:      nonce,
		Nonce2:      nonce,
	}, []byte("HI"))
}

func TestForwardRewritesHops(t *testing.T) {
	rel, _, delivered := newTestReliability(3, func(dest byte) byte { return 4 })

	rel.ProcessNormal(relayFrame(0x10))

	require.Len(t, rel.queue, 1)
	forwarded := <-rel.queue

	assert.Equal(t, byte(4), forwarded[2])
	assert.Equal(t, byte(2), forwarded[3])
	assert.Equal(t, byte(4), forwarded[4])
	assert.Equal(t, byte(3), forwarded[6])
	assert.Equal(t, []byte("HI"), forwarded[protocol.DATA_HEADER_SIZE:])
	assert.Empty(t, *delivered)
}

func TestForwardDropsDuplicateNonce(t *testing.T) {
	rel, _, _ := newTestReliability(3, func(dest byte) byte { return 4 })

	rel.ProcessNormal(relayFrame(0x10))
	rel.ProcessNormal(relayFrame(0x10))

	assert.Len(t, rel.queue, 1)

	// A fresh nonce is a fresh series and is forwarded again.
	rel.ProcessNormal(relayFrame(0x11))
	assert.Len(t, rel.queue, 2)
}

func TestForwardPassesWholeSeries(t *testing.T) {
	rel, _, _ := newTestReliability(3, func(dest byte) byte { return 4 })

	series := func(seq byte) []byte {
		return protocol.EncodeData(protocol.DataHeader{
			Fragments:   2,
			NextHop:     3,
			Source:      2,
			Destination: 4,
			Sequence:    seq,
			PreviousHop: 2,
			Nonce1:      0x33,
			Nonce2:      0x44,
		}, []byte("part"))
	}

	// The fragments of one series share a nonce pair; the second fragment
	// is new traffic, not a duplicate of the first.
	rel.ProcessNormal(series(1))
	rel.ProcessNormal(series(2))
	assert.Len(t, rel.queue, 2)

	// A retransmission of the last fragment is a duplicate.
	rel.ProcessNormal(series(2))
	assert.Len(t, rel.queue, 2)
}

func TestForwardDropsUnroutable(t *testing.T) {
	rel, _, _ := newTestReliability(3, func(dest byte) byte { return 0 })

	rel.ProcessNormal(relayFrame(0x10))
	assert.Empty(t, rel.queue)

	// The failed forward must not poison duplicate suppression: once a
	// route appears the same series still goes out.
	rel.nextHop = func(dest byte) byte { return 4 }
	rel.ProcessNormal(relayFrame(0x10))
	assert.Len(t, rel.queue, 1)
}

func TestDeliverToSelf(t *testing.T) {
	rel, mac, delivered := newTestReliability(4, func(dest byte) byte { return 0 })

	frame := protocol.EncodeData(protocol.DataHeader{
		Fragments:   1,
		NextHop:     4,
		Source:      2,
		Destination: 4,
		Sequence:    1,
		PreviousHop: 3,
		Nonce1:      0x10,
		Nonce2:      0x20,
	}, []byte("hello"))

	rel.ProcessNormal(frame)

	assert.Equal(t, []string{"hello"}, *delivered)
	assert.Empty(t, rel.queue)
	assert.Empty(t, mac.normal)
}

func TestSendAckTargetsPreviousHop(t *testing.T) {
	rel, mac, _ := newTestReliability(4, func(dest byte) byte { return 0 })

	rel.SendAck(3)

	require.Len(t, mac.acks, 1)
	assert.Equal(t, []byte{protocol.SHORT_ACK, 3}, <-mac.acks)
}

func TestStopAndWaitAdvancesOnAck(t *testing.T) {
	rel, mac, _ := newTestReliability(5, func(dest byte) byte { return 7 })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go rel.Run(ctx)

	first := protocol.EncodeData(protocol.DataHeader{
		Fragments: 2, NextHop: 7, Source: 5, Destination: 7, Sequence: 1, PreviousHop: 5,
	}, []byte("one"))
	second := protocol.EncodeData(protocol.DataHeader{
		Fragments: 2, NextHop: 7, Source: 5, Destination: 7, Sequence: 2, PreviousHop: 5,
	}, []byte("two"))

	rel.Enqueue(first)
	rel.Enqueue(second)

	// Only the opening fragment reaches the MAC before an acknowledgement.
	require.Eventually(t, func() bool { return len(mac.normal) == 1 }, time.Second, 10*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	assert.Len(t, mac.normal, 1)

	// An acknowledgement for someone else does not advance the series.
	rel.HandleAck(9)
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, mac.normal, 1)

	rel.HandleAck(5)
	require.Eventually(t, func() bool { return len(mac.normal) == 2 }, time.Second, 10*time.Millisecond)
}

func TestHandleAckRestoresGrant(t *testing.T) {
	rel, mac, _ := newTestReliability(5, func(dest byte) byte { return 7 })

	mac.mu.Lock()
	mac.inflight = []byte{0x81, 9, 7, 5, 7, 1, 5, 0, 0}
	mac.canSend = false
	mac.maxBackoff = protocol.BACKOFF_CAP
	mac.mu.Unlock()

	rel.HandleAck(5)

	mac.mu.Lock()
	defer mac.mu.Unlock()
	assert.Nil(t, mac.inflight)
	assert.True(t, mac.canSend)
	assert.Equal(t, protocol.BACKOFF_INITIAL_MAX, mac.maxBackoff)
}
