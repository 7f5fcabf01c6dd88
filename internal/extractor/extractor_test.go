package extractor

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestSingle(t *testing.T) {
	one := Detection{Vector: []float64{0.1}}

	got, err := Single([]Detection{one})
	if err != nil {
		t.Fatalf("Single returned error: %v", err)
	}
	if got.Vector[0] != 0.1 {
		t.Errorf("unexpected detection: %+v", got)
	}

	if _, err := Single(nil); !errors.Is(err, ErrNoFaceDetected) {
		t.Errorf("Single(nil) error = %v; want ErrNoFaceDetected", err)
	}
	if _, err := Single([]Detection{one, one}); !errors.Is(err, ErrMultipleFacesDetected) {
		t.Errorf("Single(two) error = %v; want ErrMultipleFacesDetected", err)
	}
}

func TestClient_Extract(t *testing.T) {
	image := []byte("fake-jpeg-bytes")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/extract" {
			t.Errorf("path = %q; want /extract", r.URL.Path)
		}
		var req struct {
			Image string `json:"image"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		decoded, _ := base64.StdEncoding.DecodeString(req.Image)
		if string(decoded) != string(image) {
			t.Errorf("image = %q; want %q", decoded, image)
		}
		_ = json.NewEncoder(w).Encode(extractResponse{
			Detections: []Detection{{Box: BoundingBox{Top: 1, Right: 2, Bottom: 3, Left: 4}, Vector: []float64{0.5}}},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	dets, err := c.Extract(context.Background(), image)
	if err != nil {
		t.Fatalf("Extract returned error: %v", err)
	}
	if len(dets) != 1 || dets[0].Box.Bottom != 3 {
		t.Errorf("unexpected detections: %+v", dets)
	}
}

func TestClient_ExtractErrors(t *testing.T) {
	t.Run("sidecar error body", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(extractResponse{Error: "model not loaded"})
		}))
		defer srv.Close()

		c := NewClient(srv.URL, time.Second)
		if _, err := c.Extract(context.Background(), []byte("x")); err == nil {
			t.Fatal("expected error from sidecar error body")
		}
	})

	t.Run("bad status", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer srv.Close()

		c := NewClient(srv.URL, time.Second)
		if _, err := c.Extract(context.Background(), []byte("x")); err == nil {
			t.Fatal("expected error for non-200 status")
		}
	})

	t.Run("context deadline", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(200 * time.Millisecond)
		}))
		defer srv.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		c := NewClient(srv.URL, time.Second)
		if _, err := c.Extract(ctx, []byte("x")); err == nil {
			t.Fatal("expected error for expired context")
		}
	})
}
