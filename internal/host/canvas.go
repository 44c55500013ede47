// Package host provides the collaborators an export needs outside the core:
// an in-memory drawing surface, a deterministic particle scene, a PNG
// encoder and an ffmpeg-backed VP8/VP9 encoder.
package host

import (
	"context"
	"image"
	"sync"
)

// Canvas is an RGBA drawing surface.
type Canvas struct {
	mu  sync.Mutex
	img *image.RGBA
}

// NewCanvas allocates a width x height canvas.
func NewCanvas(width, height int) *Canvas {
	if width < 0 {
		width = 0
	}
	if height < 0 {
		height = 0
	}
	return &Canvas{img: image.NewRGBA(image.Rect(0, 0, width, height))}
}

// Size returns the canvas dimensions.
func (c *Canvas) Size() (int, int) {
	b := c.img.Bounds()
	return b.Dx(), b.Dy()
}

// Draw runs fn with exclusive access to the backing image.
func (c *Canvas) Draw(fn func(img *image.RGBA)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(c.img)
}

// Finish returns once pending draws are visible. Drawing is synchronous, so
// it only waits for a Draw in progress.
func (c *Canvas) Finish(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ctx.Err()
}

// Capture returns a copy of the current contents.
func (c *Canvas) Capture(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	snap := &image.RGBA{
		Pix:    append([]uint8(nil), c.img.Pix...),
		Stride: c.img.Stride,
		Rect:   c.img.Rect,
	}
	return snap, nil
}
