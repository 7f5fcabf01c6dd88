// Package models defines the core data structures for drivers, face
// templates, credentials, system configuration, and the access ledger.
package models

import "time"

// UserStatus indicates whether a driver may authenticate at all.
type UserStatus string

const (
	// StatusActive marks a driver allowed to authenticate.
	StatusActive UserStatus = "ACTIVE"
	// StatusInactive marks a deactivated driver. Records are never
	// physically deleted; deactivation flips this field.
	StatusInactive UserStatus = "INACTIVE"
)

// EngineStatus reflects the engine interlock state recorded with each
// access decision.
type EngineStatus string

const (
	EngineEnabled EngineStatus = "ENABLED"
	EngineLocked  EngineStatus = "LOCKED"
)

// SecurityLevel is the escalation state driven by consecutive
// authentication failures.
type SecurityLevel string

const (
	LevelNormal   SecurityLevel = "NORMAL"
	LevelEnhanced SecurityLevel = "ENHANCED"
	LevelLockdown SecurityLevel = "LOCKDOWN"
)

// Action identifies the kind of event recorded in the access ledger.
type Action string

const (
	ActionBiometricScan Action = "BIOMETRIC_SCAN"
	ActionDriveStart    Action = "DRIVE_START"
	ActionDriveAttempt  Action = "DRIVE_ATTEMPT"
	ActionEngineLock    Action = "ENGINE_LOCK"
	ActionEnrollment    Action = "ENROLLMENT"
	ActionGPSUpdate     Action = "GPS_UPDATE"
	ActionConfigUpdate  Action = "CONFIG_UPDATE"
)

// DecisionStatus is the outcome recorded with a ledger entry.
type DecisionStatus string

const (
	DecisionGranted DecisionStatus = "GRANTED"
	DecisionDenied  DecisionStatus = "DENIED"
	DecisionSuccess DecisionStatus = "SUCCESS"
)

// Method names the authentication mechanism behind a decision.
type Method string

const (
	MethodFace Method = "FACE"
	MethodPIN  Method = "PIN"
)

// UserProfile is the identity record for an enrolled driver.
// Created on successful enrollment and mutated only by the
// orchestrator on each verification (counters, timestamp).
type UserProfile struct {
	// DriverID is the unique key for the driver.
	DriverID string `json:"driver_id"`
	// Name is the driver's display name.
	Name string `json:"name"`
	// Phone is the driver's contact number.
	Phone string `json:"phone"`
	// VehicleRegistration is the plate of the guarded vehicle.
	VehicleRegistration string `json:"vehicle_registration"`
	// Status controls whether the driver may authenticate.
	Status UserStatus `json:"status"`
	// RegisteredAt is the enrollment completion time.
	RegisteredAt time.Time `json:"registered_at"`
	// TotalAccesses counts granted verifications.
	TotalAccesses int `json:"total_accesses"`
	// LastAccess is the time of the most recent granted verification,
	// nil until the first grant.
	LastAccess *time.Time `json:"last_access,omitempty"`
}

// FaceTemplate is one stored feature vector tied to a driver and the
// pose it was captured under. Five distinct poses make a complete
// enrollment batch.
type FaceTemplate struct {
	// DriverID references an existing UserProfile.
	DriverID string `json:"driver_id"`
	// PoseIndex is the sample slot within the enrollment batch, 0-4.
	PoseIndex int `json:"pose_index"`
	// Vector is the fixed-length face embedding.
	Vector []float64 `json:"vector"`
	// CapturedAt is when the sample was taken.
	CapturedAt time.Time `json:"captured_at"`
}

// Credentials holds the fallback and manager secrets, hashed.
type Credentials struct {
	// EmergencyPINHash is the bcrypt hash of the emergency PIN.
	EmergencyPINHash string `json:"emergency_pin_hash"`
	// ManagerKeyHash is the bcrypt hash of the manager credential used
	// to authorize configuration updates.
	ManagerKeyHash string `json:"manager_key_hash"`
}

// SystemConfig is the runtime configuration blob. Loaded at startup
// and hot-updated by an authenticated manager; all reads observe the
// latest committed value.
type SystemConfig struct {
	// RecognitionThreshold is the maximum face distance accepted as a
	// match, on a [0,1] scale.
	RecognitionThreshold float64 `json:"recognition_threshold"`
	// GPSTrackingEnabled gates location capture on access events.
	GPSTrackingEnabled bool `json:"gps_tracking_enabled"`
	// AntiTamperEnabled gates the engine interlock escalation.
	AntiTamperEnabled bool `json:"anti_tamper_enabled"`
	// EncryptionEnabled records that at-rest encryption is active.
	EncryptionEnabled bool `json:"encryption_enabled"`
	// SystemVersion is reported on the health surface.
	SystemVersion string `json:"system_version"`
	// SecurityLevel is the current escalation state. The orchestrator
	// is its sole writer.
	SecurityLevel SecurityLevel `json:"security_level"`
}

// DefaultSystemConfig returns the configuration written on first boot.
func DefaultSystemConfig() SystemConfig {
	return SystemConfig{
		RecognitionThreshold: 0.6,
		GPSTrackingEnabled:   true,
		AntiTamperEnabled:    true,
		EncryptionEnabled:    true,
		SystemVersion:        "3.0-SECURE",
		SecurityLevel:        LevelNormal,
	}
}

// AccessLogEntry is one immutable fact in the append-only ledger.
type AccessLogEntry struct {
	// Timestamp is when the event occurred. Non-decreasing within a
	// single process.
	Timestamp time.Time `json:"timestamp"`
	// User is the driver name, or "Unknown" when no identity matched.
	User string `json:"user"`
	// Action identifies the event kind.
	Action Action `json:"action"`
	// Status is the decision outcome.
	Status DecisionStatus `json:"status"`
	// Method is the authentication mechanism, empty for non-auth events.
	Method Method `json:"method,omitempty"`
	// MatchScore is the normalized similarity behind a face decision,
	// nil when no comparison happened.
	MatchScore *float64 `json:"match_score,omitempty"`
	// GPSLocation is the recorded position, empty when tracking is off.
	GPSLocation string `json:"gps_location,omitempty"`
	// EngineStatus is the interlock state after the decision.
	EngineStatus EngineStatus `json:"engine_status"`
	// SecurityLevel is the escalation state at decision time.
	SecurityLevel SecurityLevel `json:"security_level"`
}

// MatchResult is the outcome of identifying a probe vector against the
// enrolled template set.
type MatchResult struct {
	// DriverID is the accepted identity.
	DriverID string `json:"driver_id"`
	// Distance is the minimum distance to the accepted driver's
	// templates.
	Distance float64 `json:"distance"`
	// Score is the normalized similarity, 1-Distance clamped to [0,1].
	Score float64 `json:"score"`
}

// GPSFix is one recorded vehicle position.
type GPSFix struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Address   string    `json:"address"`
	Timestamp time.Time `json:"timestamp"`
}
