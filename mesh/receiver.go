package mesh

import (
	"context"

	"github.com/gamevidea/meshchat/internal/protocol"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// This error is sent when the medium socket fails before the server ends
// the session.
var ErrMediumLost = errors.New("connection to the medium was lost")

// This error is sent when the medium rejects the session token.
var ErrTokenRejected = errors.New("the medium rejected the session token")

// Dispatcher drains the medium event stream and routes each event to the
// subsystem that owns it: carrier state to the MAC, chat data to
// reliability, link-state to routing, addressing frames to addressing and
// short frames to either reliability (ACK) or routing (keep-alive).
type Dispatcher struct {
	log *logrus.Entry

	mac         *MAC
	router      *Router
	addressing  *Addressing
	reliability *Reliability

	own func() byte
}

// NewDispatcher wires the receive side of the node.
func NewDispatcher(mac *MAC, router *Router, addressing *Addressing, reliability *Reliability, own func() byte, log *logrus.Logger) *Dispatcher {
	return &Dispatcher{
		log:         log.WithField("component", "receiver"),
		mac:         mac,
		router:      router,
		addressing:  addressing,
		reliability: reliability,
		own:         own,
	}
}

// Run consumes events until the medium ends the session (nil), the token
// is rejected or the socket fails.
func (d *Dispatcher) Run(ctx context.Context, events <-chan Event) error {
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return ErrMediumLost
			}

			switch ev.Type {
			case EventFree:
				d.mac.SetChannel(true)
			case EventBusy:
				d.mac.SetChannel(false)
			case EventData:
				d.handleData(ev.Frame)
			case EventDataShort:
				d.handleShort(ev.Frame)
			case EventEnd:
				d.log.Info("medium ended the session")
				return nil
			case EventTokenAccepted:
				d.log.Info("session token accepted")
			case EventTokenRejected:
				return ErrTokenRejected
			case EventHello, EventSending, EventDoneSending:
				// Medium chatter, nothing to do.
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Routes a long frame by its kind. A chat data frame is taken only when its
// next-hop byte names this node; the relay that handed it over is
// acknowledged before the fragment is processed further.
func (d *Dispatcher) handleData(frame []byte) {
	if len(frame) == 0 {
		return
	}

	switch protocol.Kind(frame[0]) {
	case protocol.KindData:
		if len(frame) < protocol.DATA_HEADER_SIZE {
			d.log.Warn("dropping truncated data frame")
			return
		}

		own := d.own()
		if own == 0 || frame[2] != own {
			return
		}

		d.reliability.SendAck(frame[6])
		d.reliability.ProcessNormal(frame)
	case protocol.KindLinkState:
		d.router.HandleLinkState(frame)
	case protocol.KindAddressing:
		d.addressing.Handle(frame)
	}
}

// Routes a short frame: a zero leading byte is an acknowledgement, anything
// else a keep-alive.
func (d *Dispatcher) handleShort(frame []byte) {
	if len(frame) < protocol.SHORT_FRAME_SIZE {
		return
	}

	if protocol.IsAck(frame) {
		d.reliability.HandleAck(frame[1])
		return
	}

	d.router.HandleKeepAlive(frame[1])
}
