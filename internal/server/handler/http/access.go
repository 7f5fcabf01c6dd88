// Package http provides HTTP handlers for driver enrollment, face
// verification, and the PIN fallback.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/mkhumalo/drivelock/internal/ledger"
	"github.com/mkhumalo/drivelock/internal/models"
	"github.com/mkhumalo/drivelock/internal/service"
	"github.com/mkhumalo/drivelock/internal/storage"
)

// maxUploadBytes bounds a multipart request body.
const maxUploadBytes = 32 << 20

// AccessService defines the orchestrator operations required by the
// access handlers.
type AccessService interface {
	// AddEnrollmentSample feeds one posed image into the driver's open
	// enrollment batch. poseIndex < 0 assigns the next free pose.
	AddEnrollmentSample(ctx context.Context, profile models.UserProfile, poseIndex int, image []byte) (*service.EnrollmentProgress, error)
	// VerifyFace runs one verification attempt with a probe image.
	VerifyFace(ctx context.Context, image []byte) (*service.Decision, error)
	// VerifyPIN checks the emergency PIN fallback.
	VerifyPIN(ctx context.Context, pin string) (*service.Decision, error)
}

// AccessHandler handles HTTP requests for enrollment and verification.
type AccessHandler struct {
	// Service performs the underlying pipeline operations.
	Service AccessService
	// Log records server-side detail that never reaches the caller.
	Log *zap.Logger
}

// statusResponse is the minimal {status, message} body.
type statusResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Register handles POST /api/register. It expects multipart form data
// with name, driver_id, phone, vehicle_reg, and one or more face_image
// files; five accepted samples complete the enrollment. An optional
// pose_index field targets a specific batch slot.
func (h *AccessHandler) Register(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeJSON(w, http.StatusBadRequest, statusResponse{"error", "invalid multipart form"})
		return
	}

	profile := models.UserProfile{
		DriverID:            r.FormValue("driver_id"),
		Name:                r.FormValue("name"),
		Phone:               r.FormValue("phone"),
		VehicleRegistration: r.FormValue("vehicle_reg"),
	}
	if profile.DriverID == "" || profile.Name == "" {
		writeJSON(w, http.StatusBadRequest, statusResponse{"error", "name and driver_id are required"})
		return
	}

	files := r.MultipartForm.File["face_image"]
	if len(files) == 0 {
		writeJSON(w, http.StatusBadRequest, statusResponse{"error", "face_image is required"})
		return
	}

	poseIndex := -1
	if raw := r.FormValue("pose_index"); raw != "" && len(files) == 1 {
		idx, err := strconv.Atoi(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, statusResponse{"error", "invalid pose_index"})
			return
		}
		poseIndex = idx
	}

	var progress *service.EnrollmentProgress
	for _, fh := range files {
		image, err := readUpload(fh)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, statusResponse{"error", "could not read face_image"})
			return
		}
		progress, err = h.Service.AddEnrollmentSample(r.Context(), profile, poseIndex, image)
		if err != nil {
			h.writeEnrollmentError(w, err)
			return
		}
	}

	if progress.Done {
		writeJSON(w, http.StatusOK, statusResponse{"success", "User registered successfully"})
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{
		"success",
		fmt.Sprintf("Sample %d of 5 captured", progress.Captured),
	})
}

// VerifyFace handles POST /api/verify-face. It expects a multipart
// form with a single face_image probe. Capture and match failures
// return status "error" with HTTP 200; the caller falls back to PIN.
func (h *AccessHandler) VerifyFace(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeJSON(w, http.StatusBadRequest, statusResponse{"error", "invalid multipart form"})
		return
	}
	files := r.MultipartForm.File["face_image"]
	if len(files) != 1 {
		writeJSON(w, http.StatusBadRequest, statusResponse{"error", "exactly one face_image is required"})
		return
	}
	image, err := readUpload(files[0])
	if err != nil {
		writeJSON(w, http.StatusBadRequest, statusResponse{"error", "could not read face_image"})
		return
	}

	decision, err := h.Service.VerifyFace(r.Context(), image)
	if err != nil {
		h.writeOpaqueError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, decision)
}

// VerifyPIN handles POST /api/verify-pin with a JSON {"pin"} body.
func (h *AccessHandler) VerifyPIN(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PIN string `json:"pin"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PIN == "" {
		writeJSON(w, http.StatusBadRequest, statusResponse{"error", "invalid request"})
		return
	}

	decision, err := h.Service.VerifyPIN(r.Context(), req.PIN)
	if err != nil {
		h.writeOpaqueError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, decision)
}

// writeEnrollmentError maps pipeline errors onto caller responses.
// Contract failures (bad pose, malformed sample, aborted batch) are
// the caller's to correct; storage detail stays server-side.
func (h *AccessHandler) writeEnrollmentError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ledger.ErrUnavailable):
		h.Log.Error("ledger unavailable", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, statusResponse{"error", "access log unavailable"})
	case errors.Is(err, service.ErrEnrollmentFailed),
		errors.Is(err, storage.ErrDuplicatePose),
		errors.Is(err, storage.ErrIncompleteSample):
		writeJSON(w, http.StatusBadRequest, statusResponse{"error", err.Error()})
	case errors.Is(err, service.ErrCaptureTimeout):
		writeJSON(w, http.StatusBadRequest, statusResponse{"error", "capture timed out"})
	default:
		h.writeOpaqueError(w, err)
	}
}

// writeOpaqueError reports a failure without leaking storage detail;
// a ledger outage is surfaced distinctly from everything else.
func (h *AccessHandler) writeOpaqueError(w http.ResponseWriter, err error) {
	if errors.Is(err, ledger.ErrUnavailable) {
		h.Log.Error("ledger unavailable", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, statusResponse{"error", "access log unavailable"})
		return
	}
	h.Log.Error("request failed", zap.Error(err))
	writeJSON(w, http.StatusInternalServerError, statusResponse{"error", "internal error"})
}

func readUpload(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
