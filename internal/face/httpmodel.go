package face

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"mime/multipart"
	"net/http"
	"time"
)

// HTTPModel calls the face recognition microservice. The service owns the
// actual detector and embedding network; this client only ships pixels and
// parses results.
type HTTPModel struct {
	BaseURL string
	HTTP    *http.Client
}

// NewHTTPModel creates a model client with a generous timeout, face
// processing can take time.
func NewHTTPModel(baseURL string) *HTTPModel {
	return &HTTPModel{
		BaseURL: baseURL,
		HTTP:    &http.Client{Timeout: 30 * time.Second},
	}
}

// Detect posts the image to /detect and returns the reported face boxes.
func (m *HTTPModel) Detect(ctx context.Context, img image.Image) ([]Box, error) {
	var out struct {
		Boxes []Box `json:"boxes"`
	}
	if err := m.post(ctx, "/detect", img, nil, &out); err != nil {
		return nil, err
	}
	return out.Boxes, nil
}

// Encode posts the image and a face box to /encode and returns the embedding.
func (m *HTTPModel) Encode(ctx context.Context, img image.Image, box Box) (Embedding, error) {
	boxJSON, _ := json.Marshal(box)
	var out struct {
		Embedding []float32 `json:"embedding"`
	}
	if err := m.post(ctx, "/encode", img, map[string]string{"box": string(boxJSON)}, &out); err != nil {
		return nil, err
	}
	if len(out.Embedding) == 0 {
		return nil, fmt.Errorf("face service returned no embedding")
	}
	return Embedding(out.Embedding), nil
}

// Health checks if the face service is available.
func (m *HTTPModel) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.BaseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := m.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("face service unavailable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("face service unhealthy: %s", resp.Status)
	}
	return nil
}

// post sends the image as a multipart JPEG alongside any extra form fields
// and decodes the JSON response into out.
func (m *HTTPModel) post(ctx context.Context, path string, img image.Image, fields map[string]string, out any) error {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		_ = w.WriteField(k, v)
	}
	fw, err := w.CreateFormFile("image", "frame.jpg")
	if err != nil {
		return err
	}
	if err := jpeg.Encode(fw, img, &jpeg.Options{Quality: 90}); err != nil {
		return fmt.Errorf("jpeg encode: %w", err)
	}
	w.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.BaseURL+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := m.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("face service request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("face service error %s: %s", resp.Status, string(body))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
