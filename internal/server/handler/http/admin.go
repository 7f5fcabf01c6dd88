package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/mkhumalo/drivelock/internal/models"
	"github.com/mkhumalo/drivelock/internal/service"
)

// AdminService defines the read and management operations required by
// the admin surface.
type AdminService interface {
	// Users returns every stored profile, without biometric data.
	Users(ctx context.Context) ([]models.UserProfile, error)
	// Logs returns ledger entries, most recent first.
	Logs(ctx context.Context, status models.DecisionStatus, limit int) ([]models.AccessLogEntry, error)
	// GetStats aggregates user and ledger counters.
	GetStats(ctx context.Context) (*service.Stats, error)
	// Config returns the committed runtime configuration.
	Config(ctx context.Context) (models.SystemConfig, error)
	// UpdateConfig applies a manager-authorized configuration change.
	UpdateConfig(ctx context.Context, managerKey string, update service.ConfigUpdate) (models.SystemConfig, error)
	// Uptime reports how long the service has been running.
	Uptime() time.Duration
}

// AdminHandler handles the dashboard-facing read endpoints and the
// manager configuration surface.
type AdminHandler struct {
	Service AdminService
	Log     *zap.Logger
}

// defaultLogLimit applies when /api/logs omits the limit parameter.
const defaultLogLimit = 50

// Users handles GET /api/users.
func (h *AdminHandler) Users(w http.ResponseWriter, r *http.Request) {
	users, err := h.Service.Users(r.Context())
	if err != nil {
		h.writeOpaqueError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "success",
		"count":  len(users),
		"users":  users,
	})
}

// Logs handles GET /api/logs?status=&limit=.
func (h *AdminHandler) Logs(w http.ResponseWriter, r *http.Request) {
	status := models.DecisionStatus(r.URL.Query().Get("status"))
	limit := defaultLogLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeJSON(w, http.StatusBadRequest, statusResponse{"error", "invalid limit"})
			return
		}
		limit = parsed
	}

	logs, err := h.Service.Logs(r.Context(), status, limit)
	if err != nil {
		h.writeOpaqueError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "success",
		"count":  len(logs),
		"logs":   logs,
	})
}

// Stats handles GET /api/stats.
func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Service.GetStats(r.Context())
	if err != nil {
		h.writeOpaqueError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "success",
		"stats":  stats,
	})
}

// UpdateConfig handles POST /api/config with a JSON body carrying the
// manager key and the fields to change.
func (h *AdminHandler) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ManagerKey string `json:"manager_key"`
		service.ConfigUpdate
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ManagerKey == "" {
		writeJSON(w, http.StatusBadRequest, statusResponse{"error", "invalid request"})
		return
	}

	cfg, err := h.Service.UpdateConfig(r.Context(), req.ManagerKey, req.ConfigUpdate)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrUnauthorized):
			writeJSON(w, http.StatusForbidden, statusResponse{"error", "invalid manager credential"})
		case errors.Is(err, service.ErrInvalidConfig):
			writeJSON(w, http.StatusBadRequest, statusResponse{"error", err.Error()})
		default:
			h.writeOpaqueError(w, err)
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "success",
		"message": "Configuration updated",
		"config":  cfg,
	})
}

// Root handles GET / as a liveness probe.
func (h *AdminHandler) Root(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "online",
		"message":   "Biometric Vehicle Security API",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// Health handles GET /api/health with storage reachability detail.
func (h *AdminHandler) Health(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.Service.Config(r.Context())
	body := map[string]any{
		"status":    "online",
		"storage":   err == nil,
		"uptime":    h.Service.Uptime().Truncate(time.Second).String(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if err == nil {
		body["version"] = cfg.SystemVersion
		body["security_level"] = cfg.SecurityLevel
	} else {
		body["status"] = "degraded"
		h.Log.Error("health check storage read failed", zap.Error(err))
	}
	writeJSON(w, http.StatusOK, body)
}

func (h *AdminHandler) writeOpaqueError(w http.ResponseWriter, err error) {
	h.Log.Error("request failed", zap.Error(err))
	writeJSON(w, http.StatusInternalServerError, statusResponse{"error", "internal error"})
}
