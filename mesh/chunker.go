package mesh

import (
	"math/rand"
	"sync"

	"github.com/gamevidea/meshchat/internal/protocol"
	"github.com/sirupsen/logrus"
)

// enqueuer accepts outbound fragments for reliable delivery.
type enqueuer interface {
	Enqueue(frame []byte)
}

// Chunker splits user payloads into fragments of at most 23 bytes and
// builds the data frames of a series. A whisper produces one series for the
// destination; a broadcast produces an independent series per reachable
// destination, each with its own nonce.
type Chunker struct {
	log *logrus.Entry
	rel enqueuer

	// nextHop resolves the first hop of a series; it is consulted per
	// fragment so a route lost mid-series aborts the rest.
	nextHop func(dest byte) byte

	mu        sync.Mutex
	own       byte
	reachable []byte
}

// NewChunker creates a chunker feeding the reliability queue.
func NewChunker(rel enqueuer, nextHop func(dest byte) byte, log *logrus.Logger) *Chunker {
	return &Chunker{
		log:     log.WithField("component", "chunker"),
		rel:     rel,
		nextHop: nextHop,
	}
}

// SetOwn publishes the node's self-assigned id.
func (c *Chunker) SetOwn(id byte) {
	c.mu.Lock()
	c.own = id
	c.mu.Unlock()
}

// SetReachable replaces the set of destinations a broadcast fans out to.
func (c *Chunker) SetReachable(dests []byte) {
	c.mu.Lock()
	c.reachable = append(c.reachable[:0], dests...)
	c.mu.Unlock()
}

// Whisper sends one unicast series carrying the payload to dest.
func (c *Chunker) Whisper(dest byte, payload []byte) {
	chunks := split(payload)
	if chunks == nil {
		return
	}

	if len(chunks) > protocol.MAX_FRAGMENTS {
		c.log.WithField("fragments", len(chunks)).Warn("message too long for one series")
		return
	}

	c.send(dest, chunks)
}

// Broadcast sends an independent series per reachable destination. A series
// whose next hop cannot be resolved is aborted without affecting the
// others.
func (c *Chunker) Broadcast(payload []byte) {
	chunks := split(payload)
	if chunks == nil {
		return
	}

	if len(chunks) > protocol.MAX_FRAGMENTS {
		c.log.WithField("fragments", len(chunks)).Warn("message too long for one series")
		return
	}

	c.mu.Lock()
	dests := append([]byte(nil), c.reachable...)
	c.mu.Unlock()

	for _, dest := range dests {
		c.send(dest, chunks)
	}
}

// Builds and enqueues the fragments of one series. The nonce pair is drawn
// once and shared by every fragment; duplicate suppression downstream
// depends on that.
func (c *Chunker) send(dest byte, chunks [][]byte) {
	c.mu.Lock()
	own := c.own
	c.mu.Unlock()

	nonce1 := byte(rand.Intn(256))
	nonce2 := byte(rand.Intn(256))

	for i, chunk := range chunks {
		next := c.nextHop(dest)
		if next == 0 {
			c.log.WithFields(logrus.Fields{
				"dest":     dest,
				"sequence": i + 1,
			}).Warn("no route, aborting series")
			return
		}

		hdr := protocol.DataHeader{
			Fragments:   byte(len(chunks)),
			NextHop:     next,
			Source:      own,
			Destination: dest,
			Sequence:    byte(i + 1),
			PreviousHop: own,
			Nonce1:      nonce1,
			Nonce2:      nonce2,
		}

		c.rel.Enqueue(protocol.EncodeData(hdr, chunk))
	}
}

// Splits a payload into fragments of at most the maximum payload size. The
// sub slices reference the original payload.
func split(payload []byte) [][]byte {
	if len(payload) == 0 {
		return nil
	}

	count := len(payload) / protocol.MAX_PAYLOAD_SIZE
	if len(payload)%protocol.MAX_PAYLOAD_SIZE != 0 {
		count += 1
	}

	chunks := make([][]byte, 0, count)

	for i := 0; i < count; i++ {
		start := i * protocol.MAX_PAYLOAD_SIZE
		end := (i + 1) * protocol.MAX_PAYLOAD_SIZE

		if end > len(payload) {
			end = len(payload)
		}

		chunks = append(chunks, payload[start:end])
	}

	return chunks
}
