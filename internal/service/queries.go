package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mkhumalo/drivelock/internal/models"
)

// Stats aggregates the counters shown on the dashboard.
type Stats struct {
	TotalUsers      int                  `json:"total_users"`
	TotalAccesses   int                  `json:"total_accesses"`
	GrantedAccesses int                  `json:"granted_accesses"`
	DeniedAccesses  int                  `json:"denied_accesses"`
	SuccessRate     string               `json:"success_rate"`
	Uptime          string               `json:"uptime"`
	SecurityLevel   models.SecurityLevel `json:"security_level"`
	LastFix         *models.GPSFix       `json:"last_fix,omitempty"`
}

// ConfigUpdate carries the manager-tunable fields; nil means keep the
// committed value.
type ConfigUpdate struct {
	RecognitionThreshold *float64 `json:"recognition_threshold,omitempty"`
	GPSTrackingEnabled   *bool    `json:"gps_tracking_enabled,omitempty"`
	AntiTamperEnabled    *bool    `json:"anti_tamper_enabled,omitempty"`
}

// Users returns every stored profile. Biometric vectors never travel
// through this path.
func (o *Orchestrator) Users(ctx context.Context) ([]models.UserProfile, error) {
	return o.vault.Users()
}

// Logs returns up to limit ledger entries, most recent first,
// optionally filtered by status.
func (o *Orchestrator) Logs(ctx context.Context, status models.DecisionStatus, limit int) ([]models.AccessLogEntry, error) {
	return o.ledger.Tail(status, limit)
}

// GetStats aggregates user and ledger counters.
func (o *Orchestrator) GetStats(ctx context.Context) (*Stats, error) {
	users, err := o.vault.Users()
	if err != nil {
		return nil, err
	}
	total, granted, denied, err := o.ledger.CountByStatus()
	if err != nil {
		return nil, err
	}
	cfg, err := o.vault.Config()
	if err != nil {
		return nil, err
	}

	rate := 0.0
	if total > 0 {
		rate = float64(granted) / float64(total) * 100
	}
	s := &Stats{
		TotalUsers:      len(users),
		TotalAccesses:   total,
		GrantedAccesses: granted,
		DeniedAccesses:  denied,
		SuccessRate:     fmt.Sprintf("%.1f%%", rate),
		Uptime:          time.Since(o.startedAt).Truncate(time.Second).String(),
		SecurityLevel:   cfg.SecurityLevel,
	}
	if o.tracker != nil {
		if recent := o.tracker.Recent(); len(recent) > 0 {
			fix := recent[len(recent)-1]
			s.LastFix = &fix
		}
	}
	return s, nil
}

// Config returns the committed runtime configuration.
func (o *Orchestrator) Config(ctx context.Context) (models.SystemConfig, error) {
	return o.vault.Config()
}

// UpdateConfig applies a manager-authorized change to the runtime
// configuration. The new value is committed through the vault, so
// every later read observes it.
func (o *Orchestrator) UpdateConfig(ctx context.Context, managerKey string, update ConfigUpdate) (models.SystemConfig, error) {
	ok, err := o.vault.VerifyManagerKey(managerKey)
	if err != nil {
		return models.SystemConfig{}, err
	}
	if !ok {
		return models.SystemConfig{}, ErrUnauthorized
	}

	cfg, err := o.vault.Config()
	if err != nil {
		return models.SystemConfig{}, err
	}
	if update.RecognitionThreshold != nil {
		t := *update.RecognitionThreshold
		if t <= 0 || t > 1 {
			return models.SystemConfig{}, fmt.Errorf("%w: recognition threshold %v out of range (0,1]", ErrInvalidConfig, t)
		}
		cfg.RecognitionThreshold = t
	}
	if update.GPSTrackingEnabled != nil {
		cfg.GPSTrackingEnabled = *update.GPSTrackingEnabled
	}
	if update.AntiTamperEnabled != nil {
		cfg.AntiTamperEnabled = *update.AntiTamperEnabled
	}
	if err := o.vault.SaveConfig(cfg); err != nil {
		return models.SystemConfig{}, err
	}

	if err := o.writeEntry(models.AccessLogEntry{
		User:   "Manager",
		Action: models.ActionConfigUpdate,
		Status: models.DecisionSuccess,
	}); err != nil {
		o.log.Error("failed to log config update", zap.Error(err))
	}
	return cfg, nil
}

// Uptime reports how long the orchestrator has been serving.
func (o *Orchestrator) Uptime() time.Duration {
	return time.Since(o.startedAt)
}
