// Package extractor wraps the external face-embedding capability:
// given an image, produce zero or more fixed-length feature vectors
// with bounding boxes. The model itself runs out of process; this
// package only speaks to it.
package extractor

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

var (
	// ErrNoFaceDetected is returned when the probe image contains no
	// face.
	ErrNoFaceDetected = errors.New("extractor: no face detected")
	// ErrMultipleFacesDetected is returned when more than one face is
	// present; enrollment and verification both require exactly one.
	ErrMultipleFacesDetected = errors.New("extractor: multiple faces detected")
)

// BoundingBox locates a detected face within the source image.
type BoundingBox struct {
	Top    int `json:"top"`
	Right  int `json:"right"`
	Bottom int `json:"bottom"`
	Left   int `json:"left"`
}

// Detection is one face found in an image.
type Detection struct {
	Box    BoundingBox `json:"box"`
	Vector []float64   `json:"vector"`
}

// Extractor produces face detections from a raw image.
type Extractor interface {
	// Extract returns every face found in image. An empty slice means
	// no face; callers decide how face counts map onto their flow.
	Extract(ctx context.Context, image []byte) ([]Detection, error)
}

// Single narrows a detection list to exactly one face, mapping zero
// and many onto the error taxonomy.
func Single(detections []Detection) (Detection, error) {
	switch len(detections) {
	case 0:
		return Detection{}, ErrNoFaceDetected
	case 1:
		return detections[0], nil
	default:
		return Detection{}, ErrMultipleFacesDetected
	}
}

// Client talks JSON over HTTP to the embedding sidecar.
type Client struct {
	endpoint string
	http     *http.Client
}

// NewClient builds a client for the sidecar at endpoint. timeout
// bounds a single extraction call end to end.
func NewClient(endpoint string, timeout time.Duration) *Client {
	return &Client{
		endpoint: endpoint,
		http:     &http.Client{Timeout: timeout},
	}
}

type extractRequest struct {
	Image string `json:"image"`
}

type extractResponse struct {
	Detections []Detection `json:"detections"`
	Error      string      `json:"error,omitempty"`
}

// Extract posts the image to the sidecar and returns its detections.
func (c *Client) Extract(ctx context.Context, image []byte) ([]Detection, error) {
	body, err := json.Marshal(extractRequest{Image: base64.StdEncoding.EncodeToString(image)})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/extract", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call extractor: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("extractor returned status %d", resp.StatusCode)
	}

	var out extractResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if out.Error != "" {
		return nil, fmt.Errorf("extractor: %s", out.Error)
	}
	return out.Detections, nil
}
