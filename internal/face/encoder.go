package face

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/draw"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// Encoder turns raw image bytes into a face embedding, enforcing the strict
// single-face policy. Detection is the dominant cost of a check-in, so
// concurrent encodes are bounded by a semaphore sized at construction.
type Encoder struct {
	model Model
	sem   chan struct{}
}

// NewEncoder creates an encoder over the given model allowing at most
// maxConcurrent encodes in flight.
func NewEncoder(model Model, maxConcurrent int) *Encoder {
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	return &Encoder{
		model: model,
		sem:   make(chan struct{}, maxConcurrent),
	}
}

// Encode decodes the image, detects faces and returns the embedding of the
// single face present. Zero faces yields ErrNoFace, more than one yields
// ErrMultipleFaces, undecodable bytes yield ErrDecode.
func (e *Encoder) Encode(ctx context.Context, data []byte) (Embedding, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty image", ErrDecode)
	}

	select {
	case e.sem <- struct{}{}:
		defer func() { <-e.sem }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	img, err := decodeRGBA(data)
	if err != nil {
		return nil, err
	}

	boxes, err := e.model.Detect(ctx, img)
	if err != nil {
		return nil, fmt.Errorf("face detection: %w", err)
	}
	switch {
	case len(boxes) == 0:
		return nil, ErrNoFace
	case len(boxes) > 1:
		return nil, fmt.Errorf("%w: found %d", ErrMultipleFaces, len(boxes))
	}

	emb, err := e.model.Encode(ctx, img, boxes[0])
	if err != nil {
		return nil, fmt.Errorf("face encoding: %w", err)
	}
	if len(emb) == 0 {
		return nil, fmt.Errorf("face encoding: model returned empty embedding")
	}
	return emb, nil
}

// decodeRGBA decodes jpeg/png/gif/webp/bmp bytes and normalizes the result to
// a contiguous RGBA raster so every model sees one consistent channel order
// regardless of source format.
func decodeRGBA(data []byte) (*image.RGBA, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	if rgba, ok := src.(*image.RGBA); ok {
		return rgba, nil
	}
	b := src.Bounds()
	rgba := image.NewRGBA(b)
	draw.Draw(rgba, b, src, b.Min, draw.Src)
	return rgba, nil
}
