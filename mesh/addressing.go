package mesh

import (
	"context"
	"math/rand"
	"sort"
	"sync"

	"github.com/gamevidea/meshchat/internal/protocol"
	"github.com/sirupsen/logrus"
)

// Addressing self-assigns a node id in [1, 31]. A joining node broadcasts
// an exploration request and listens; every frame heard from an assigned
// node contributes its known-address set, so the eventual pick avoids every
// id already claimed. A silent network yields an unassisted random pick.
type Addressing struct {
	log *logrus.Entry
	mac *MAC

	mu    sync.Mutex
	own   byte
	known map[byte]struct{}
	heard bool
}

// NewAddressing creates the addressing task. Frames go out through the
// MAC's background queue.
func NewAddressing(mac *MAC, log *logrus.Logger) *Addressing {
	return &Addressing{
		log:   log.WithField("component", "addressing"),
		mac:   mac,
		known: make(map[byte]struct{}),
	}
}

// Own returns the assigned id, or 0 before assignment completes.
func (a *Addressing) Own() byte {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.own
}

// Known returns the observed claimed ids in ascending order.
func (a *Addressing) Known() []byte {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.knownLocked()
}

func (a *Addressing) knownLocked() []byte {
	ids := make([]byte, 0, len(a.known))
	for id := range a.known {
		ids = append(ids, id)
	}

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Run performs the self-assignment state machine: explore, listen for the
// whole window, then pick. Returns the assigned id, or 0 when cancelled.
func (a *Addressing) Run(ctx context.Context) byte {
	a.sendExploration()

	for i := 0; i < protocol.ADDRESS_LISTEN_TICKS; i++ {
		if !sleepCtx(ctx, protocol.ADDRESS_LISTEN_TICK) {
			return 0
		}
	}

	a.mu.Lock()

	var id byte
	if a.heard {
		id = a.pickFreeLocked()
		a.known[id] = struct{}{}
		a.own = id
		a.mu.Unlock()

		// One-shot reply announcing the claimed id to the network.
		a.sendKnown(true)
	} else {
		id = byte(rand.Intn(int(protocol.MAX_NODE_ID))) + 1
		a.known[id] = struct{}{}
		a.own = id
		a.mu.Unlock()
	}

	a.log.WithField("id", id).Info("node id assigned")
	return id
}

// Draws a random id not yet observed as claimed. With the whole id space
// claimed a collision is unavoidable and the pick falls back to random.
func (a *Addressing) pickFreeLocked() byte {
	if len(a.known) >= int(protocol.MAX_NODE_ID) {
		return byte(rand.Intn(int(protocol.MAX_NODE_ID))) + 1
	}

	id := byte(rand.Intn(int(protocol.MAX_NODE_ID))) + 1
	for {
		if _, taken := a.known[id]; !taken {
			return id
		}
		id = byte(rand.Intn(int(protocol.MAX_NODE_ID))) + 1
	}
}

// Handle processes an incoming addressing frame. An exploration request is
// answered with a gossip advertisement of the local known set; any frame
// from an assigned source has its entries merged. The own id is never
// re-picked once assigned.
func (a *Addressing) Handle(frame []byte) {
	f, err := protocol.ParseAddressFrame(frame)
	if err != nil {
		a.log.WithError(err).Warn("dropping malformed addressing frame")
		return
	}

	a.mu.Lock()

	respond := a.own != 0 && f.Source == 0

	if f.Source != 0 {
		for _, id := range f.Known {
			if id != 0 {
				a.known[id] = struct{}{}
			}
		}

		if a.own == 0 {
			a.heard = true
		}
	}

	a.mu.Unlock()

	if respond {
		a.sendKnown(false)
	}
}

// Broadcasts an exploration request: no source, no entries.
func (a *Addressing) sendExploration() {
	frame := protocol.EncodeAddressFrame(protocol.AddressFrame{
		TTL: protocol.ADDRESS_TTL,
	})
	a.mac.EnqueueBackground(frame)
}

// Broadcasts the local known set, either as the one-shot reply after
// self-assignment or as gossip in response to an exploration.
func (a *Addressing) sendKnown(reply bool) {
	a.mu.Lock()
	f := protocol.AddressFrame{
		Reply:  reply,
		Source: a.own,
		TTL:    protocol.ADDRESS_TTL,
		Known:  a.knownLocked(),
	}
	a.mu.Unlock()

	a.mac.EnqueueBackground(protocol.EncodeAddressFrame(f))
}
