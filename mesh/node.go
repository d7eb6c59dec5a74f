package mesh

import (
	"context"
	"sync/atomic"

	"github.com/gamevidea/meshchat/internal/message"
	"github.com/gamevidea/meshchat/internal/protocol"
	"github.com/sirupsen/logrus"
)

// State is the lifecycle state of a node.
type State = uint32

const (
	// AddressPending: the node has no id yet and only addressing traffic is
	// meaningful.
	AddressPending State = iota

	// RoutingBootstrapping: the id is assigned and the routing table is
	// filling up.
	RoutingBootstrapping

	// Ready: the table reached the bootstrap target and user input is
	// consumed.
	Ready
)

// Node assembles the whole protocol stack: the medium client, the MAC, the
// router, addressing, reliability, the chunker and the reassembling
// printer. User input is only consumed once the node reaches Ready.
type Node struct {
	cfg Config
	log *logrus.Logger

	client      *Client
	mac         *MAC
	router      *Router
	addressing  *Addressing
	reliability *Reliability
	chunker     *Chunker
	printer     *Printer

	state atomic.Uint32
	own   atomic.Uint32
}

// NewNode wires a node from its configuration. The sink receives delivered
// chat messages; nil selects colored terminal output.
func NewNode(cfg Config, sink Sink, log *logrus.Logger) *Node {
	n := &Node{
		cfg: cfg,
		log: log,
	}

	n.mac = NewMAC(n.emit, log)
	n.router = NewRouter(n.mac, log)
	n.addressing = NewAddressing(n.mac, log)
	n.printer = NewPrinter(sink)
	n.reliability = NewReliability(n.mac, n.router.NextHop, n.printer.Deliver, log)
	n.chunker = NewChunker(n.reliability, n.router.NextHop, log)
	n.router.SetReachableSink(n.chunker.SetReachable)

	return n
}

// Own returns the node's self-assigned id, or 0 before assignment.
func (n *Node) Own() byte {
	return byte(n.own.Load())
}

// State returns the node's lifecycle state.
func (n *Node) State() State {
	return n.state.Load()
}

// Hands a finished frame to the medium, choosing the framing message by
// frame size.
func (n *Node) emit(frame []byte) {
	if len(frame) == protocol.SHORT_FRAME_SIZE {
		n.client.Send(&message.DataShort{Frame: frame})
		return
	}

	n.client.Send(&message.Data{Frame: frame})
}

// Run connects to the medium and drives the node until the medium ends the
// session (nil), the token is rejected or the socket fails.
func (n *Node) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	client, err := Dial(n.cfg.Server, n.cfg.Frequency, n.cfg.Token, n.log)
	if err != nil {
		return err
	}
	n.client = client
	defer client.Close()

	n.mac.Start(ctx)
	go n.reliability.Run(ctx)
	go n.lifecycle(ctx)

	dispatcher := NewDispatcher(n.mac, n.router, n.addressing, n.reliability, n.Own, n.log)
	return dispatcher.Run(ctx, client.Events())
}

// lifecycle walks the node through its states: self-assignment, routing
// bootstrap, then the interactive chat loop.
func (n *Node) lifecycle(ctx context.Context) {
	id := n.addressing.Run(ctx)
	if id == 0 {
		return
	}

	n.own.Store(uint32(id))
	n.router.SetOwn(id)
	n.reliability.SetOwn(id)
	n.chunker.SetOwn(id)
	n.state.Store(RoutingBootstrapping)

	banner("You got the identification number %d in the chat!", id)
	banner("Please wait for the network to stabilize!")

	go n.router.RunKeepAlive(ctx)

	if !n.router.Bootstrap(ctx) {
		return
	}

	n.state.Store(Ready)

	banner("You can chat now!")
	banner("You can send messages to:")
	for _, dest := range n.router.Destinations() {
		banner("%d", dest)
	}

	go n.router.RunPeriodic(ctx)

	n.console(ctx)
}
