package mesh

import (
	"fmt"
	"sync"

	"github.com/fatih/color"
	"github.com/gamevidea/meshchat/internal/protocol"
)

// Sink receives a fully reassembled chat message.
type Sink func(source byte, text string)

// Printer reconstructs chunked messages, keeping one assembly window per
// sender, and hands completed messages to its sink.
type Printer struct {
	mu      sync.Mutex
	windows map[byte]*protocol.AssemblyWindow
	sink    Sink
}

// NewPrinter creates a printer delivering to sink; a nil sink falls back to
// colored terminal output.
func NewPrinter(sink Sink) *Printer {
	if sink == nil {
		sink = ConsoleSink
	}

	return &Printer{
		windows: make(map[byte]*protocol.AssemblyWindow),
		sink:    sink,
	}
}

// Deliver feeds one received fragment into the sender's assembly window and
// emits the message once the series completes.
func (p *Printer) Deliver(hdr protocol.DataHeader, payload []byte) {
	p.mu.Lock()

	window, ok := p.windows[hdr.Source]
	if !ok {
		window = protocol.CreateAssemblyWindow()
		p.windows[hdr.Source] = window
	}

	text, done := window.Receive(hdr, payload)
	p.mu.Unlock()

	if done {
		p.sink(hdr.Source, string(text))
	}
}

// ConsoleSink prints a delivered message to the terminal with the message
// body highlighted.
func ConsoleSink(source byte, text string) {
	fmt.Printf("Message from %d: %s\n", source, color.CyanString("%s", text))
}
