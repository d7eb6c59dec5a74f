package mesh

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/gamevidea/meshchat/internal/protocol"
	"github.com/sirupsen/logrus"
)

// MAC serialises outbound frames onto the shared half-duplex medium. Three
// senders share the egress: a background sender for control frames, a
// normal sender running stop-and-wait with a random backoff whose window
// grows linearly for chat data, and an ACK sender that delays acknowledgements so the far side
// gets a chance to listen.
type MAC struct {
	log  *logrus.Entry
	emit func(frame []byte)

	mu          sync.Mutex
	channelFree bool
	canSend     bool
	maxBackoff  time.Duration
	inflight    []byte

	normal     chan []byte
	acks       chan []byte
	background chan []byte

	// armed wakes the normal sender when a send-grant appears or the
	// in-flight frame is cleared; freed wakes every sender waiting for the
	// channel to go idle.
	armed chan struct{}
	freed chan struct{}
}

// NewMAC creates a MAC whose senders hand finished frames to emit. The
// channel starts out free and no send-grant is held until the first series
// is armed.
func NewMAC(emit func(frame []byte), log *logrus.Logger) *MAC {
	return &MAC{
		log:         log.WithField("component", "mac"),
		emit:        emit,
		channelFree: true,
		maxBackoff:  protocol.BACKOFF_INITIAL_MAX,
		normal:      make(chan []byte, 64),
		acks:        make(chan []byte, 64),
		background:  make(chan []byte, 64),
		armed:       make(chan struct{}, 1),
		freed:       make(chan struct{}, 1),
	}
}

// Start launches the three sender tasks. They run until the context is
// cancelled.
func (m *MAC) Start(ctx context.Context) {
	go m.runBackground(ctx)
	go m.runNormal(ctx)
	go m.runAck(ctx)
}

// SetChannel records the carrier state signalled by the medium.
func (m *MAC) SetChannel(free bool) {
	m.mu.Lock()
	m.channelFree = free
	m.mu.Unlock()

	if free {
		m.notify(m.freed)
	}
}

// SendFirst arms the normal sender for a new stop-and-wait series: the
// send-grant is handed out and the opening fragment may go on the air.
func (m *MAC) SendFirst() {
	m.mu.Lock()
	m.canSend = true
	m.mu.Unlock()

	m.notify(m.armed)
}

// Acked clears the in-flight frame, restores the send-grant and resets the
// backoff window.
func (m *MAC) Acked() {
	m.mu.Lock()
	m.canSend = true
	m.maxBackoff = protocol.BACKOFF_INITIAL_MAX
	m.inflight = nil
	m.mu.Unlock()

	m.notify(m.armed)
}

// EnqueueNormal hands the next data fragment to the normal sender.
func (m *MAC) EnqueueNormal(frame []byte) {
	m.normal <- frame
}

// EnqueueAck queues an acknowledgement frame.
func (m *MAC) EnqueueAck(frame []byte) {
	m.acks <- frame
}

// EnqueueBackground queues a control frame (link-state, addressing,
// keep-alive).
func (m *MAC) EnqueueBackground(frame []byte) {
	m.background <- frame
}

func (m *MAC) notify(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// Blocks until the channel is free. Returns false when the context ends.
func (m *MAC) awaitFree(ctx context.Context) bool {
	for {
		m.mu.Lock()
		free := m.channelFree
		m.mu.Unlock()

		if free {
			return true
		}

		select {
		case <-m.freed:
		case <-ctx.Done():
			return false
		}
	}
}

// Draws a uniform duration in [min, max).
func jitter(min, max time.Duration) time.Duration {
	return min + time.Duration(rand.Int63n(int64(max-min)))
}

// The background sender drains control frames while the channel is free,
// inserting a small random delay so neighbouring nodes do not advertise in
// lockstep.
func (m *MAC) runBackground(ctx context.Context) {
	for {
		var frame []byte

		select {
		case frame = <-m.background:
		case <-ctx.Done():
			return
		}

		if !m.awaitFree(ctx) {
			return
		}

		if !sleepCtx(ctx, jitter(protocol.BACKGROUND_DELAY_MIN, protocol.BACKGROUND_DELAY_MAX)) {
			return
		}

		m.emit(frame)
	}
}

// The ACK sender emits each queued acknowledgement after a fixed delay; the
// transmitting side is sleeping on its ACK timer and must be given time to
// listen.
func (m *MAC) runAck(ctx context.Context) {
	for {
		var frame []byte

		select {
		case frame = <-m.acks:
		case <-ctx.Done():
			return
		}

		if !sleepCtx(ctx, protocol.ACK_SEND_DELAY) {
			return
		}

		m.emit(frame)
	}
}

// The normal sender runs stop-and-wait over the in-flight fragment. A
// fragment is taken from the queue only while the send-grant is held; the
// grant is consumed by the transmission and restored by Acked. An opening
// fragment backs off inside a window that grows by one step per retry.
// Non-delivery is never reported upward: the frame is retransmitted until
// an acknowledgement clears it.
func (m *MAC) runNormal(ctx context.Context) {
	for {
		if !m.awaitFree(ctx) {
			return
		}

		m.mu.Lock()
		frame, grant := m.inflight, m.canSend
		m.mu.Unlock()

		if frame == nil {
			if !grant {
				select {
				case <-m.armed:
				case <-ctx.Done():
					return
				}
				continue
			}

			select {
			case frame = <-m.normal:
				m.mu.Lock()
				m.inflight = frame
				m.mu.Unlock()
			case <-m.armed:
				continue
			case <-ctx.Done():
				return
			}
		}

		if protocol.DataSequence(frame) == 1 {
			m.mu.Lock()
			window := m.maxBackoff
			if m.maxBackoff < protocol.BACKOFF_CAP {
				m.maxBackoff += protocol.BACKOFF_STEP
			}
			m.mu.Unlock()

			if !sleepCtx(ctx, jitter(0, window)) {
				return
			}
		}

		m.mu.Lock()
		frame = m.inflight
		grant = m.canSend
		if grant && frame != nil {
			m.canSend = false
		}
		m.mu.Unlock()

		if frame == nil {
			continue
		}

		m.emit(frame)

		if grant {
			if !sleepCtx(ctx, jitter(protocol.ACK_WAIT_MIN, protocol.ACK_WAIT_MAX)) {
				return
			}
		} else {
			m.log.WithField("sequence", protocol.DataSequence(frame)).Debug("retransmitting unacknowledged fragment")

			if !sleepCtx(ctx, jitter(protocol.RETRY_WAIT_MIN, protocol.RETRY_WAIT_MAX)) {
				return
			}
		}
	}
}
