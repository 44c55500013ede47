package host

import (
	"bytes"
	"context"
	"image"
	"image/png"
)

// PNGEncoder encodes frames as PNG stills.
type PNGEncoder struct {
	enc png.Encoder
}

// NewPNGEncoder favours speed over size; exports can hold thousands of frames.
func NewPNGEncoder() *PNGEncoder {
	return &PNGEncoder{enc: png.Encoder{CompressionLevel: png.BestSpeed}}
}

func (e *PNGEncoder) EncodeImage(ctx context.Context, img image.Image) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := e.enc.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (e *PNGEncoder) Extension() string { return ".png" }
