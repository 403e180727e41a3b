package connectivity

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func newMonitor(online bool, syncs *atomic.Int32) *Monitor {
	return New(context.Background(), Options{
		Probe:       ProbeFunc(func(context.Context) bool { return online }),
		SettleDelay: 10 * time.Millisecond,
		OnSync: func() {
			if syncs != nil {
				syncs.Add(1)
			}
		},
		Logger: zerolog.Nop(),
	})
}

func TestMonitor_InitialProbe(t *testing.T) {
	m := newMonitor(true, nil)
	defer m.Close()
	assert.True(t, m.Online())

	m2 := newMonitor(false, nil)
	defer m2.Close()
	assert.False(t, m2.Online())
}

func TestMonitor_RecoverySchedulesSyncAfterSettle(t *testing.T) {
	var syncs atomic.Int32
	m := newMonitor(false, &syncs)
	defer m.Close()

	m.NotifyNetworkChange(true)
	assert.True(t, m.Online())
	waitFor(t, func() bool { return syncs.Load() == 1 })
}

func TestMonitor_FlappingCancelsPendingSync(t *testing.T) {
	var syncs atomic.Int32
	m := New(context.Background(), Options{
		Probe:       ProbeFunc(func(context.Context) bool { return false }),
		SettleDelay: 50 * time.Millisecond,
		OnSync:      func() { syncs.Add(1) },
		Logger:      zerolog.Nop(),
	})
	defer m.Close()

	m.NotifyNetworkChange(true)
	m.NotifyNetworkChange(false) // flapped before the settle delay elapsed

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(0), syncs.Load())
	assert.False(t, m.Online())
}

func TestMonitor_RepeatedOnlineDoesNotReschedule(t *testing.T) {
	var syncs atomic.Int32
	m := newMonitor(true, &syncs)
	defer m.Close()

	// Already online: redundant notifications must not trigger syncs.
	m.NotifyNetworkChange(true)
	m.NotifyNetworkChange(true)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(0), syncs.Load())
}

func TestMonitor_ForegroundWhileOnlineSyncsImmediately(t *testing.T) {
	var syncs atomic.Int32
	m := newMonitor(true, &syncs)
	defer m.Close()

	m.NotifyLifecycle(Background)
	require.Equal(t, int32(0), syncs.Load())

	m.NotifyLifecycle(Foreground)
	assert.Equal(t, int32(1), syncs.Load())
}

func TestMonitor_ForegroundWhileOfflineDoesNothing(t *testing.T) {
	var syncs atomic.Int32
	m := newMonitor(false, &syncs)
	defer m.Close()

	m.NotifyLifecycle(Background)
	m.NotifyLifecycle(Foreground)
	assert.Equal(t, int32(0), syncs.Load())
}

func TestMonitor_NoCallbacksAfterClose(t *testing.T) {
	var syncs atomic.Int32
	m := newMonitor(false, &syncs)

	// A sync is pending when Close lands.
	m.NotifyNetworkChange(true)
	m.Close()

	m.NotifyNetworkChange(false)
	m.NotifyNetworkChange(true)
	m.NotifyLifecycle(Background)
	m.NotifyLifecycle(Foreground)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(0), syncs.Load())
}
