package mesh

import (
	"context"
	"sync"

	"github.com/gamevidea/meshchat/internal/protocol"
	"github.com/sirupsen/logrus"
)

// Reliability runs stop-and-wait delivery over the MAC. Outbound fragments
// queue here and advance one at a time: the next fragment is handed to the
// MAC only after the previous one was acknowledged. Inbound fragments for
// this node go to the assembler; fragments for others are forwarded with
// duplicate suppression.
type Reliability struct {
	log     *logrus.Entry
	mac     *MAC
	nextHop func(dest byte) byte
	deliver func(hdr protocol.DataHeader, payload []byte)

	queue   chan []byte
	advance chan struct{}

	mu  sync.Mutex
	own byte

	// Identity of the last fragment forwarded. A repeat is the same
	// fragment flooding back and is dropped; this is the only loop guard
	// the protocol has. The sequence number is part of the key because the
	// nonce pair is shared by every fragment of a series.
	prevNonce1 int16
	prevNonce2 int16
	prevSeq    int16
}

// NewReliability wires the reliability layer between the MAC and the
// router's next-hop resolver. Completed inbound fragments are delivered
// through deliver.
func NewReliability(mac *MAC, nextHop func(dest byte) byte, deliver func(hdr protocol.DataHeader, payload []byte), log *logrus.Logger) *Reliability {
	return &Reliability{
		log:        log.WithField("component", "reliability"),
		mac:        mac,
		nextHop:    nextHop,
		deliver:    deliver,
		queue:      make(chan []byte, 256),
		advance:    make(chan struct{}, 1),
		prevNonce1: -1,
		prevNonce2: -1,
		prevSeq:    -1,
	}
}

// SetOwn publishes the node's self-assigned id.
func (r *Reliability) SetOwn(id byte) {
	r.mu.Lock()
	r.own = id
	r.mu.Unlock()
}

func (r *Reliability) ownID() byte {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.own
}

// Enqueue appends an outbound fragment to the reliability queue. It blocks
// while the queue is full; the queue drains only as fast as the network
// acknowledges.
func (r *Reliability) Enqueue(frame []byte) {
	r.queue <- frame
}

// HandleAck processes a received acknowledgement. An acknowledgement naming
// this node clears the in-flight frame and lets the next queued fragment
// through.
func (r *Reliability) HandleAck(id byte) {
	if id == 0 || id != r.ownID() {
		return
	}

	r.mac.Acked()

	select {
	case r.advance <- struct{}{}:
	default:
	}
}

// SendAck queues a hop acknowledgement for the relay that handed us a
// fragment.
func (r *Reliability) SendAck(prevHop byte) {
	r.mac.EnqueueAck(protocol.EncodeAck(prevHop))
}

// ProcessNormal handles an inbound chat data fragment addressed to this hop.
// A fragment for this node is delivered upward; anything else is forwarded
// toward its final destination unless it repeats the last forwarded fragment
// or the destination is unroutable.
func (r *Reliability) ProcessNormal(frame []byte) {
	hdr, payload, err := protocol.ParseData(frame)
	if err != nil {
		r.log.WithError(err).Warn("dropping malformed data frame")
		return
	}

	own := r.ownID()

	if hdr.Destination == own {
		r.deliver(hdr, payload)
		return
	}

	r.mu.Lock()
	duplicate := int16(hdr.Nonce1) == r.prevNonce1 &&
		int16(hdr.Nonce2) == r.prevNonce2 &&
		int16(hdr.Sequence) == r.prevSeq
	r.mu.Unlock()

	if duplicate {
		return
	}

	next := r.nextHop(hdr.Destination)
	if next == 0 {
		r.log.WithFields(logrus.Fields{
			"source": hdr.Source,
			"dest":   hdr.Destination,
		}).Warn("no route for forwarded fragment, dropping")
		return
	}

	r.mu.Lock()
	r.prevNonce1 = int16(hdr.Nonce1)
	r.prevNonce2 = int16(hdr.Nonce2)
	r.prevSeq = int16(hdr.Sequence)
	r.mu.Unlock()

	hdr.NextHop = next
	hdr.PreviousHop = own

	r.Enqueue(protocol.EncodeData(hdr, payload))
}

// Run moves fragments from the reliability queue into the MAC one at a
// time. An opening fragment arms the MAC for a new series; every hand-off
// then waits for the acknowledgement of the previous fragment.
func (r *Reliability) Run(ctx context.Context) {
	for {
		var frame []byte

		select {
		case frame = <-r.queue:
		case <-ctx.Done():
			return
		}

		// Clear a stale grant token so the wait below belongs to this
		// fragment alone.
		select {
		case <-r.advance:
		default:
		}

		if protocol.DataSequence(frame) == 1 {
			r.mac.SendFirst()
		}

		r.mac.EnqueueNormal(frame)

		select {
		case <-r.advance:
		case <-ctx.Done():
			return
		}
	}
}
