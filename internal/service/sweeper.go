package service

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// StartSessionSweeper discards expired enrollment batches on an
// interval so abandoned captures never linger as partial state.
func (o *Orchestrator) StartSessionSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				o.sweepExpired()
			}
		}
	}()
}

func (o *Orchestrator) sweepExpired() {
	now := time.Now()
	o.mu.Lock()
	var expired []string
	for driverID, sess := range o.sessions {
		if now.After(sess.deadline) {
			expired = append(expired, driverID)
		}
	}
	o.mu.Unlock()

	for _, driverID := range expired {
		o.abortSession(driverID, "session expired")
		o.log.Info("expired enrollment batch removed", zap.String("driver_id", driverID))
	}
}
