// Package service sequences capture, extraction, matching, storage,
// and logging into enrollment and verification decisions, and enforces
// the retry, fallback, and escalation policy around them.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mkhumalo/drivelock/internal/extractor"
	"github.com/mkhumalo/drivelock/internal/gps"
	"github.com/mkhumalo/drivelock/internal/ledger"
	"github.com/mkhumalo/drivelock/internal/matcher"
	"github.com/mkhumalo/drivelock/internal/metrics"
	"github.com/mkhumalo/drivelock/internal/models"
	"github.com/mkhumalo/drivelock/internal/storage"
)

var (
	// ErrEnrollmentFailed is returned when an enrollment batch is
	// aborted; no partial state survives.
	ErrEnrollmentFailed = errors.New("service: enrollment failed")
	// ErrCaptureTimeout is returned when no valid probe arrives within
	// the capture window.
	ErrCaptureTimeout = errors.New("service: capture timeout")
	// ErrUnauthorized is returned when the manager credential does not
	// match.
	ErrUnauthorized = errors.New("service: unauthorized")
	// ErrInvalidConfig is returned when a configuration update carries
	// an out-of-range value.
	ErrInvalidConfig = errors.New("service: invalid configuration")
)

// escalation thresholds on consecutive failures.
const (
	enhancedAfter = 3
	lockdownAfter = 6
)

// Decision is the structured outcome of an authentication attempt.
type Decision struct {
	// Status is "success" or "error".
	Status string `json:"status"`
	// Message is the caller-facing explanation.
	Message string `json:"message"`
	// User is the matched driver's name, empty when unknown.
	User string `json:"user,omitempty"`
	// Method is the mechanism behind the decision.
	Method models.Method `json:"method,omitempty"`
	// MatchScore is the normalized similarity, nil when no face
	// comparison happened.
	MatchScore *float64 `json:"match_score,omitempty"`
}

// EnrollmentProgress reports the state of an open enrollment batch.
type EnrollmentProgress struct {
	// SessionID identifies the batch across sequential sample calls.
	SessionID string `json:"session_id"`
	// Captured is the number of distinct poses stored so far.
	Captured int `json:"captured"`
	// Done is true once all five poses are committed.
	Done bool `json:"done"`
}

// enrollmentSession accumulates posed samples until the batch is
// complete. It lives only in memory; nothing persists before commit.
type enrollmentSession struct {
	id       string
	profile  models.UserProfile
	samples  map[int][]float64
	deadline time.Time
}

// Orchestrator owns the enrollment/verification state machine. One
// instance serves one capture device; storage below it serializes its
// own writes.
type Orchestrator struct {
	vault     *storage.Vault
	templates *storage.TemplateStore
	ledger    *ledger.Ledger
	extractor extractor.Extractor
	tracker   *gps.Tracker
	metrics   *metrics.Metrics
	log       *zap.Logger

	captureTimeout time.Duration
	sessionTTL     time.Duration
	startedAt      time.Time

	mu         sync.Mutex
	sessions   map[string]*enrollmentSession // keyed by driver ID
	failStreak int
}

// New wires an orchestrator from its collaborators.
func New(
	vault *storage.Vault,
	templates *storage.TemplateStore,
	ldg *ledger.Ledger,
	ext extractor.Extractor,
	tracker *gps.Tracker,
	m *metrics.Metrics,
	log *zap.Logger,
	captureTimeout, sessionTTL time.Duration,
) *Orchestrator {
	return &Orchestrator{
		vault:          vault,
		templates:      templates,
		ledger:         ldg,
		extractor:      ext,
		tracker:        tracker,
		metrics:        m,
		log:            log,
		captureTimeout: captureTimeout,
		sessionTTL:     sessionTTL,
		startedAt:      time.Now(),
		sessions:       make(map[string]*enrollmentSession),
	}
}

// AddEnrollmentSample feeds one posed image into the driver's open
// enrollment batch, creating the batch on first use. poseIndex < 0
// assigns the next free pose. The batch commits atomically on the
// fifth distinct pose: templates and the user profile persist together
// or not at all. A sample with zero or multiple faces aborts the whole
// batch with ErrEnrollmentFailed.
func (o *Orchestrator) AddEnrollmentSample(ctx context.Context, profile models.UserProfile, poseIndex int, image []byte) (*EnrollmentProgress, error) {
	if profile.DriverID == "" || profile.Name == "" {
		return nil, fmt.Errorf("%w: driver_id and name are required", ErrEnrollmentFailed)
	}

	detection, err := o.capture(ctx, image)
	if err != nil {
		if errors.Is(err, extractor.ErrNoFaceDetected) || errors.Is(err, extractor.ErrMultipleFacesDetected) {
			o.abortSession(profile.DriverID, err.Error())
			return nil, fmt.Errorf("%w: %v", ErrEnrollmentFailed, err)
		}
		return nil, err
	}
	if err := storage.ValidateVector(detection.Vector); err != nil {
		return nil, err
	}

	o.mu.Lock()
	sess := o.sessions[profile.DriverID]
	if sess != nil && time.Now().After(sess.deadline) {
		delete(o.sessions, profile.DriverID)
		sess = nil
	}
	if sess == nil {
		sess = &enrollmentSession{
			id:       uuid.NewString(),
			profile:  profile,
			samples:  make(map[int][]float64, storage.PoseCount),
			deadline: time.Now().Add(o.sessionTTL),
		}
		o.sessions[profile.DriverID] = sess
	}

	if poseIndex < 0 {
		for p := 0; p < storage.PoseCount; p++ {
			if _, taken := sess.samples[p]; !taken {
				poseIndex = p
				break
			}
		}
	}
	if _, taken := sess.samples[poseIndex]; taken || poseIndex < 0 || poseIndex >= storage.PoseCount {
		o.mu.Unlock()
		return nil, fmt.Errorf("%w: pose %d", storage.ErrDuplicatePose, poseIndex)
	}
	sess.samples[poseIndex] = detection.Vector
	captured := len(sess.samples)
	if captured < storage.PoseCount {
		o.mu.Unlock()
		return &EnrollmentProgress{SessionID: sess.id, Captured: captured}, nil
	}
	delete(o.sessions, profile.DriverID)
	o.mu.Unlock()

	if err := o.commitEnrollment(sess); err != nil {
		return nil, err
	}
	return &EnrollmentProgress{SessionID: sess.id, Captured: storage.PoseCount, Done: true}, nil
}

// commitEnrollment persists the completed batch and its profile.
func (o *Orchestrator) commitEnrollment(sess *enrollmentSession) error {
	now := time.Now().UTC()
	batch := make([]models.FaceTemplate, 0, storage.PoseCount)
	for pose := 0; pose < storage.PoseCount; pose++ {
		batch = append(batch, models.FaceTemplate{
			DriverID:   sess.profile.DriverID,
			PoseIndex:  pose,
			Vector:     sess.samples[pose],
			CapturedAt: now,
		})
	}
	if err := o.templates.ReplaceBatch(sess.profile.DriverID, batch); err != nil {
		return fmt.Errorf("%w: %v", ErrEnrollmentFailed, err)
	}

	profile := sess.profile
	profile.Status = models.StatusActive
	profile.RegisteredAt = now
	// Re-enrollment keeps the prior access history.
	if existing, err := o.findUser(profile.DriverID); err == nil && existing != nil {
		profile.TotalAccesses = existing.TotalAccesses
		profile.LastAccess = existing.LastAccess
	}
	if err := o.vault.UpsertUser(profile); err != nil {
		// Do not leave templates referencing a profile that never
		// committed.
		if rmErr := o.templates.Remove(profile.DriverID); rmErr != nil {
			o.log.Error("failed to roll back templates", zap.Error(rmErr))
		}
		return fmt.Errorf("%w: %v", ErrEnrollmentFailed, err)
	}

	o.metrics.Enrollments.Inc()
	return o.writeEntry(models.AccessLogEntry{
		User:   profile.Name,
		Action: models.ActionEnrollment,
		Status: models.DecisionSuccess,
		Method: models.MethodFace,
	})
}

// AbortEnrollment discards the driver's open batch, if any.
func (o *Orchestrator) AbortEnrollment(driverID string) {
	o.abortSession(driverID, "aborted by caller")
}

func (o *Orchestrator) abortSession(driverID, reason string) {
	o.mu.Lock()
	sess := o.sessions[driverID]
	delete(o.sessions, driverID)
	o.mu.Unlock()
	if sess == nil {
		return
	}
	o.log.Info("enrollment batch discarded",
		zap.String("driver_id", driverID),
		zap.String("reason", reason))
	if err := o.writeEntry(models.AccessLogEntry{
		User:   sess.profile.Name,
		Action: models.ActionEnrollment,
		Status: models.DecisionDenied,
	}); err != nil {
		o.log.Error("failed to log discarded batch", zap.Error(err))
	}
}

// VerifyFace runs one verification attempt against the enrolled set.
// Capture and match failures produce an error decision and arm the
// PIN fallback; they are not Go errors. Only storage or ledger
// breakage returns err.
func (o *Orchestrator) VerifyFace(ctx context.Context, image []byte) (*Decision, error) {
	detection, err := o.capture(ctx, image)
	if err != nil {
		switch {
		case errors.Is(err, ErrCaptureTimeout):
			return o.deny(ctx, "Capture timed out", nil)
		case errors.Is(err, extractor.ErrNoFaceDetected):
			return o.deny(ctx, "No face detected", nil)
		case errors.Is(err, extractor.ErrMultipleFacesDetected):
			return o.deny(ctx, "Multiple faces detected", nil)
		default:
			return nil, err
		}
	}
	if err := storage.ValidateVector(detection.Vector); err != nil {
		return o.deny(ctx, "Invalid probe sample", nil)
	}

	cfg, err := o.vault.Config()
	if err != nil {
		return nil, err
	}
	templates, err := o.templates.All()
	if err != nil {
		return nil, err
	}

	result, err := matcher.Identify(detection.Vector, templates, cfg.RecognitionThreshold)
	if err != nil {
		switch {
		case errors.Is(err, matcher.ErrAmbiguous):
			return o.deny(ctx, "Ambiguous match", nil)
		case errors.Is(err, matcher.ErrNoMatch):
			return o.deny(ctx, "Face verification failed", nil)
		default:
			return nil, err
		}
	}
	o.metrics.MatchScore.Observe(result.Score)

	user, err := o.findUser(result.DriverID)
	if err != nil {
		return nil, err
	}
	if user == nil || user.Status != models.StatusActive {
		return o.deny(ctx, "Driver is not active", &result.Score)
	}

	now := time.Now().UTC()
	if err := o.vault.TouchUser(user.DriverID, func(u *models.UserProfile) {
		u.TotalAccesses++
		u.LastAccess = &now
	}); err != nil {
		return nil, err
	}

	return o.grant(ctx, user.Name, models.MethodFace, &result.Score)
}

// VerifyPIN checks the emergency PIN fallback.
func (o *Orchestrator) VerifyPIN(ctx context.Context, pin string) (*Decision, error) {
	o.metrics.PINFallbacks.Inc()

	ok, err := o.vault.VerifyPIN(pin)
	if err != nil {
		return nil, err
	}
	if !ok {
		return o.denyPIN(ctx)
	}
	return o.grant(ctx, "Emergency PIN", models.MethodPIN, nil)
}

// grant records a granted decision: streak reset, level restore,
// exactly one ledger entry.
func (o *Orchestrator) grant(ctx context.Context, user string, method models.Method, score *float64) (*Decision, error) {
	level, err := o.resetEscalation()
	if err != nil {
		return nil, err
	}
	entry := models.AccessLogEntry{
		User:          user,
		Action:        models.ActionBiometricScan,
		Status:        models.DecisionGranted,
		Method:        method,
		MatchScore:    score,
		EngineStatus:  models.EngineEnabled,
		SecurityLevel: level,
	}
	if method == models.MethodPIN {
		entry.Action = models.ActionDriveStart
	}
	if err := o.writeEntry(entry); err != nil {
		return nil, err
	}
	o.metrics.VerificationsGranted.Inc()

	msg := "Face verified"
	if method == models.MethodPIN {
		msg = "PIN verified"
	}
	return &Decision{
		Status:     "success",
		Message:    msg,
		User:       user,
		Method:     method,
		MatchScore: score,
	}, nil
}

// deny records a denied face decision and arms the PIN fallback by
// returning an error-status decision rather than failing the call.
func (o *Orchestrator) deny(ctx context.Context, message string, score *float64) (*Decision, error) {
	return o.denyWith(ctx, message, models.MethodFace, score)
}

func (o *Orchestrator) denyPIN(ctx context.Context) (*Decision, error) {
	return o.denyWith(ctx, "Invalid PIN", models.MethodPIN, nil)
}

func (o *Orchestrator) denyWith(ctx context.Context, message string, method models.Method, score *float64) (*Decision, error) {
	level, err := o.recordFailure()
	if err != nil {
		return nil, err
	}
	entry := models.AccessLogEntry{
		User:          "Unknown",
		Action:        models.ActionBiometricScan,
		Status:        models.DecisionDenied,
		Method:        method,
		MatchScore:    score,
		EngineStatus:  models.EngineLocked,
		SecurityLevel: level,
	}
	if err := o.writeEntry(entry); err != nil {
		return nil, err
	}
	o.metrics.VerificationsDenied.Inc()

	return &Decision{
		Status:     "error",
		Message:    message,
		Method:     method,
		MatchScore: score,
	}, nil
}

// recordFailure bumps the consecutive-failure streak and persists any
// escalation before the decision goes back to the caller.
func (o *Orchestrator) recordFailure() (models.SecurityLevel, error) {
	o.mu.Lock()
	o.failStreak++
	streak := o.failStreak
	o.mu.Unlock()

	var want models.SecurityLevel
	switch {
	case streak >= lockdownAfter:
		want = models.LevelLockdown
	case streak >= enhancedAfter:
		want = models.LevelEnhanced
	default:
		want = models.LevelNormal
	}
	return o.commitLevel(want)
}

// resetEscalation clears the streak and restores NORMAL on a grant.
func (o *Orchestrator) resetEscalation() (models.SecurityLevel, error) {
	o.mu.Lock()
	o.failStreak = 0
	o.mu.Unlock()
	return o.commitLevel(models.LevelNormal)
}

func (o *Orchestrator) commitLevel(want models.SecurityLevel) (models.SecurityLevel, error) {
	cfg, err := o.vault.Config()
	if err != nil {
		return "", err
	}
	if cfg.SecurityLevel == want {
		return want, nil
	}
	cfg.SecurityLevel = want
	if err := o.vault.SaveConfig(cfg); err != nil {
		return "", err
	}
	o.log.Warn("security level changed", zap.String("level", string(want)))
	return want, nil
}

// capture runs extraction under the capture window and narrows the
// result to a single face.
func (o *Orchestrator) capture(ctx context.Context, image []byte) (extractor.Detection, error) {
	cctx, cancel := context.WithTimeout(ctx, o.captureTimeout)
	defer cancel()

	detections, err := o.extractor.Extract(cctx, image)
	if err != nil {
		if cctx.Err() != nil {
			return extractor.Detection{}, fmt.Errorf("%w: %v", ErrCaptureTimeout, err)
		}
		return extractor.Detection{}, fmt.Errorf("extract probe: %w", err)
	}
	return extractor.Single(detections)
}

// writeEntry fills defaults and appends a ledger entry, attaching the
// current GPS fix when tracking is enabled. The timestamp is stamped
// by the ledger under its write lock so file order matches time order.
func (o *Orchestrator) writeEntry(entry models.AccessLogEntry) error {
	if entry.EngineStatus == "" {
		entry.EngineStatus = models.EngineLocked
	}
	cfg, cfgErr := o.vault.Config()
	if entry.SecurityLevel == "" {
		entry.SecurityLevel = models.LevelNormal
		if cfgErr == nil {
			entry.SecurityLevel = cfg.SecurityLevel
		}
	}
	if cfgErr == nil && cfg.GPSTrackingEnabled && o.tracker != nil {
		entry.GPSLocation = gps.Format(o.tracker.Record())
	}
	if err := o.ledger.Append(entry); err != nil {
		o.metrics.LedgerAppendFailures.Inc()
		return err
	}
	return nil
}

func (o *Orchestrator) findUser(driverID string) (*models.UserProfile, error) {
	users, err := o.vault.Users()
	if err != nil {
		return nil, err
	}
	for i := range users {
		if users[i].DriverID == driverID {
			return &users[i], nil
		}
	}
	return nil, nil
}
