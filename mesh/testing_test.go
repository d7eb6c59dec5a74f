package mesh

import (
	"io"

	"github.com/sirupsen/logrus"
)

// testLogger returns a logger whose output is discarded.
func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)

	return log
}

// captureQueue records enqueued fragments.
type captureQueue struct {
	frames [][]byte
}

func (q *captureQueue) Enqueue(frame []byte) {
	q.frames = append(q.frames, frame)
}

// drainBackground empties the MAC background queue into a slice.
func drainBackground(m *MAC) [][]byte {
	var frames [][]byte

	for {
		select {
		case frame := <-m.background:
			frames = append(frames, frame)
		default:
			return frames
		}
	}
}
