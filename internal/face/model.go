package face

import (
	"context"
	"errors"
	"image"
)

// Embedding is a fixed-length descriptor of a single face. The length is
// model-specific but constant for a given model; embeddings from different
// models must never be compared.
type Embedding []float32

// Box is a detected face bounding box in image pixel coordinates.
type Box struct {
	Top    int `json:"top"`
	Right  int `json:"right"`
	Bottom int `json:"bottom"`
	Left   int `json:"left"`
}

// Model is the face detection/embedding capability. Implementations wrap an
// actual recognition runtime (the HTTP face service in production, a
// deterministic mock for dev and tests).
type Model interface {
	// Detect returns bounding boxes for every face found in the image.
	Detect(ctx context.Context, img image.Image) ([]Box, error)
	// Encode computes the embedding for the face inside the given box.
	Encode(ctx context.Context, img image.Image, box Box) (Embedding, error)
}

var (
	// ErrNoFace means detection found zero faces in the image.
	ErrNoFace = errors.New("no face detected")
	// ErrMultipleFaces means detection found more than one face. Verification
	// rejects these outright rather than guessing which face to use.
	ErrMultipleFaces = errors.New("multiple faces detected")
	// ErrDecode means the submitted bytes did not decode to a usable image.
	ErrDecode = errors.New("image decode failed")
)
