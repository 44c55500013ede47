package export

import (
	"sync"

	"github.com/babelcloud/gbox/packages/frame-export/internal/export/webm"
)

// chunkCollector buffers encoder output until the frame loop drains it. The
// first reported failure wins and is surfaced by the next drain.
type chunkCollector struct {
	mu       sync.Mutex
	chunks   []webm.EncodedChunk
	err      error
	errFrame int
}

func (c *chunkCollector) WriteChunk(chunk webm.EncodedChunk) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return
	}
	c.chunks = append(c.chunks, chunk)
}

func (c *chunkCollector) Fail(frame int, err error) {
	if err == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err == nil {
		c.err = err
		c.errFrame = frame
	}
}

// drain hands over everything collected so far, or the recorded failure.
func (c *chunkCollector) drain() ([]webm.EncodedChunk, *Error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, newError(KindEncodeFailure, c.errFrame, c.err)
	}
	chunks := c.chunks
	c.chunks = nil
	return chunks, nil
}
