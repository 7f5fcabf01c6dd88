package ledger

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mkhumalo/drivelock/internal/models"
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	l, err := New(t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	return l
}

func entry(user string, status models.DecisionStatus, at time.Time) models.AccessLogEntry {
	return models.AccessLogEntry{
		Timestamp:     at,
		User:          user,
		Action:        models.ActionBiometricScan,
		Status:        status,
		Method:        models.MethodFace,
		EngineStatus:  models.EngineLocked,
		SecurityLevel: models.LevelNormal,
	}
}

func TestLedger_AppendAndTail(t *testing.T) {
	l := newTestLedger(t)
	base := time.Now().UTC().Truncate(time.Second)

	require.NoError(t, l.Append(entry("Thabo", models.DecisionGranted, base)))
	require.NoError(t, l.Append(entry("Unknown", models.DecisionDenied, base.Add(time.Second))))
	require.NoError(t, l.Append(entry("Lindiwe", models.DecisionGranted, base.Add(2*time.Second))))

	all, err := l.Tail("", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	// Most recent first.
	require.Equal(t, "Lindiwe", all[0].User)
	require.Equal(t, "Thabo", all[2].User)

	granted, err := l.Tail(models.DecisionGranted, 0)
	require.NoError(t, err)
	require.Len(t, granted, 2)

	limited, err := l.Tail("", 2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
	require.Equal(t, "Lindiwe", limited[0].User)
	require.Equal(t, "Unknown", limited[1].User)
}

func TestLedger_EmptyFile(t *testing.T) {
	l := newTestLedger(t)
	all, err := l.Tail("", 10)
	require.NoError(t, err)
	require.Empty(t, all)

	total, granted, denied, err := l.CountByStatus()
	require.NoError(t, err)
	require.Zero(t, total)
	require.Zero(t, granted)
	require.Zero(t, denied)
}

func TestLedger_ConcurrentAppendsLoseNothing(t *testing.T) {
	l := newTestLedger(t)
	const n = 64

	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			status := models.DecisionGranted
			e := entry("Thabo", status, time.Now().UTC())
			if err := l.Append(e); err != nil {
				t.Errorf("Append returned error: %v", err)
			}
		}()
	}
	wg.Wait()

	all, err := l.Tail("", 0)
	require.NoError(t, err)
	require.Len(t, all, n)
}

func TestLedger_ConcurrentAppendsStampInOrder(t *testing.T) {
	l := newTestLedger(t)
	const n = 64

	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			// Zero timestamp: the ledger stamps it under its lock.
			e := models.AccessLogEntry{
				User:   "Thabo",
				Action: models.ActionBiometricScan,
				Status: models.DecisionGranted,
			}
			if err := l.Append(e); err != nil {
				t.Errorf("Append returned error: %v", err)
			}
		}()
	}
	wg.Wait()

	all, err := l.readAll()
	require.NoError(t, err)
	require.Len(t, all, n)
	for i := range all {
		require.False(t, all[i].Timestamp.IsZero(), "entry %d missing timestamp", i)
		if i > 0 {
			require.False(t, all[i].Timestamp.Before(all[i-1].Timestamp),
				"entry %d stamped before its predecessor", i)
		}
	}
}

func TestLedger_CountByStatus(t *testing.T) {
	l := newTestLedger(t)
	now := time.Now().UTC()
	require.NoError(t, l.Append(entry("a", models.DecisionGranted, now)))
	require.NoError(t, l.Append(entry("b", models.DecisionDenied, now)))
	require.NoError(t, l.Append(entry("c", models.DecisionDenied, now)))
	require.NoError(t, l.Append(entry("d", models.DecisionSuccess, now)))

	total, granted, denied, err := l.CountByStatus()
	require.NoError(t, err)
	require.Equal(t, 4, total)
	require.Equal(t, 1, granted)
	require.Equal(t, 2, denied)
}
