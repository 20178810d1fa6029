package face

import (
	"context"
	"image"
)

// MockModel is a deterministic stand-in for the face service, enabled via
// FACE_SKIP. Every image "contains" one face whose embedding is derived from
// the image bounds, so identical uploads always verify against each other.
type MockModel struct{}

// NewMockModel returns the dev/test model.
func NewMockModel() *MockModel { return &MockModel{} }

// Detect reports a single face covering the middle of the image.
func (m *MockModel) Detect(ctx context.Context, img image.Image) ([]Box, error) {
	b := img.Bounds()
	return []Box{{
		Top:    b.Min.Y + b.Dy()/4,
		Right:  b.Min.X + 3*b.Dx()/4,
		Bottom: b.Min.Y + 3*b.Dy()/4,
		Left:   b.Min.X + b.Dx()/4,
	}}, nil
}

// Encode derives a 128-dimension embedding from the image dimensions.
func (m *MockModel) Encode(ctx context.Context, img image.Image, box Box) (Embedding, error) {
	b := img.Bounds()
	emb := make(Embedding, 128)
	seed := float32(b.Dx()%7)*0.01 + float32(b.Dy()%11)*0.001
	for i := range emb {
		emb[i] = 0.1 + seed
	}
	return emb, nil
}
