package mesh

import (
	"bufio"
	"io"
	"net"
	"sync"

	"github.com/gamevidea/binary/buffer"
	"github.com/gamevidea/meshchat/internal/message"
	"github.com/gamevidea/meshchat/internal/protocol"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// EventType classifies an inbound framing event from the medium server.
type EventType uint8

const (
	EventHello EventType = iota
	EventFree
	EventBusy
	EventData
	EventSending
	EventDoneSending
	EventDataShort
	EventEnd
	EventTokenAccepted
	EventTokenRejected
)

// Event is one inbound framing event. Frame is non-nil only for EventData
// and EventDataShort.
type Event struct {
	Type  EventType
	Frame []byte
}

// bufferPool recycles the encode buffers of the write loop so a busy node
// does not allocate per frame.
var bufferPool = sync.Pool{
	New: func() any {
		return buffer.New(2 * protocol.MAX_FRAME_SIZE)
	},
}

// Client is the framing client for the medium server. It owns the TCP
// stream, performs the CONNECT/TOKEN handshake, encodes outbound messages
// and demultiplexes inbound bytes into events.
type Client struct {
	conn net.Conn
	log  *logrus.Entry

	out    chan message.Message
	events chan Event

	closeOnce sync.Once
}

// Dial connects to the medium server, performs the session handshake for
// the given frequency and token and starts the encode and decode loops.
func Dial(addr string, frequency uint32, token string, log *logrus.Logger) (*Client, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, errors.Wrap(err, "dial medium")
	}

	c := &Client{
		conn:   conn,
		log:    log.WithField("component", "client"),
		out:    make(chan message.Message, 64),
		events: make(chan Event, 64),
	}

	if err := c.write(&message.Connect{Frequency: frequency}); err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "send connect")
	}

	if err := c.write(&message.Token{Token: token}); err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "send token")
	}

	go c.writeLoop()
	go c.readLoop()

	return c, nil
}

// Events returns the inbound event stream. The channel is closed when the
// medium socket fails; an END event arrives as a regular event first when
// the server terminates the session.
func (c *Client) Events() <-chan Event {
	return c.events
}

// Send queues an outbound framing message. It blocks when the medium cannot
// keep up.
func (c *Client) Send(msg message.Message) {
	c.out <- msg
}

// Close tears down the medium connection.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.conn.Close()
	})
}

// Encodes one message and flushes it to the socket.
func (c *Client) write(msg message.Message) error {
	buf := bufferPool.Get().(*buffer.Buffer)
	defer func() {
		buf.Reset()
		bufferPool.Put(buf)
	}()

	if err := msg.Write(buf); err != nil {
		return err
	}

	if _, err := c.conn.Write(buf.Bytes()); err != nil {
		return err
	}

	return nil
}

// Drains the outbound queue onto the socket.
func (c *Client) writeLoop() {
	for msg := range c.out {
		if err := c.write(msg); err != nil {
			c.log.WithError(err).Error("medium write failed")
			return
		}
	}
}

// Parses the inbound byte stream into events. Bare tags become signal
// events; DATA and DATA_SHORT tags are followed by a length byte and that
// many frame bytes.
func (c *Client) readLoop() {
	defer close(c.events)

	r := bufio.NewReader(c.conn)

	for {
		tag, err := r.ReadByte()
		if err != nil {
			if err != io.EOF {
				c.log.WithError(err).Error("medium read failed")
			}
			return
		}

		switch tag {
		case message.IDHello:
			c.events <- Event{Type: EventHello}
		case message.IDFree:
			c.events <- Event{Type: EventFree}
		case message.IDBusy:
			c.events <- Event{Type: EventBusy}
		case message.IDSending:
			c.events <- Event{Type: EventSending}
		case message.IDDoneSending:
			c.events <- Event{Type: EventDoneSending}
		case message.IDEnd:
			c.events <- Event{Type: EventEnd}
		case message.IDToken:
			c.events <- Event{Type: EventTokenAccepted}
		case message.IDTokenRejected:
			c.events <- Event{Type: EventTokenRejected}
		case message.IDData, message.IDDataShort:
			length, err := r.ReadByte()
			if err != nil {
				c.log.WithError(err).Error("medium read failed")
				return
			}

			frame := make([]byte, length)
			if _, err := io.ReadFull(r, frame); err != nil {
				c.log.WithError(err).Error("medium read failed")
				return
			}

			kind := EventData
			if tag == message.IDDataShort {
				kind = EventDataShort
			}

			c.events <- Event{Type: kind, Frame: frame}
		default:
			c.log.WithField("tag", tag).Warn("unknown framing tag")
		}
	}
}
