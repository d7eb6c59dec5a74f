package mesh

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/gamevidea/meshchat/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// emitRecorder collects frames committed to the medium.
type emitRecorder struct {
	mu     sync.Mutex
	frames [][]byte
}

func (e *emitRecorder) emit(frame []byte) {
	e.mu.Lock()
	e.frames = append(e.frames, frame)
	e.mu.Unlock()
}

func (e *emitRecorder) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	return len(e.frames)
}

func TestSendFirstArmsGrant(t *testing.T) {
	m := NewMAC(func([]byte) {}, testLogger())

	m.mu.Lock()
	assert.False(t, m.canSend)
	m.mu.Unlock()

	m.SendFirst()

	m.mu.Lock()
	assert.True(t, m.canSend)
	m.mu.Unlock()
}

func TestAckedResetsBackoffState(t *testing.T) {
	m := NewMAC(func([]byte) {}, testLogger())

	m.mu.Lock()
	m.inflight = []byte{0x81, 9, 7, 5, 7, 1, 5, 0, 0}
	m.canSend = false
	m.maxBackoff = protocol.BACKOFF_CAP
	m.mu.Unlock()

	m.Acked()

	m.mu.Lock()
	defer m.mu.Unlock()
	assert.Nil(t, m.inflight)
	assert.True(t, m.canSend)
	assert.Equal(t, protocol.BACKOFF_INITIAL_MAX, m.maxBackoff)
}

func TestBackgroundSenderEmitsWithJitter(t *testing.T) {
	rec := &emitRecorder{}
	m := NewMAC(rec.emit, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.runBackground(ctx)

	start := time.Now()
	m.EnqueueBackground(protocol.EncodeKeepAlive(5))

	require.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, 5*time.Millisecond)
	assert.GreaterOrEqual(t, time.Since(start), protocol.BACKGROUND_DELAY_MIN)
}

func TestBackgroundSenderWaitsForFreeChannel(t *testing.T) {
	rec := &emitRecorder{}
	m := NewMAC(rec.emit, testLogger())
	m.SetChannel(false)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.runBackground(ctx)

	m.EnqueueBackground(protocol.EncodeKeepAlive(5))

	time.Sleep(500 * time.Millisecond)
	assert.Zero(t, rec.count())

	m.SetChannel(true)
	require.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, 5*time.Millisecond)
}

func TestNormalSenderHoldsWithoutGrant(t *testing.T) {
	rec := &emitRecorder{}
	m := NewMAC(rec.emit, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.runNormal(ctx)

	m.EnqueueNormal(protocol.EncodeData(protocol.DataHeader{
		Fragments: 1, NextHop: 7, Source: 5, Destination: 7, Sequence: 1, PreviousHop: 5,
	}, []byte("held")))

	// No send-grant was armed, so nothing may go on the air.
	time.Sleep(500 * time.Millisecond)
	assert.Zero(t, rec.count())
}

func TestJitterStaysInWindow(t *testing.T) {
	for i := 0; i < 100; i++ {
		d := jitter(protocol.BACKGROUND_DELAY_MIN, protocol.BACKGROUND_DELAY_MAX)
		assert.GreaterOrEqual(t, d, protocol.BACKGROUND_DELAY_MIN)
		assert.Less(t, d, protocol.BACKGROUND_DELAY_MAX)
	}
}
