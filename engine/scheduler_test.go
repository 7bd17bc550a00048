package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConnectivity struct {
	online bool
	fn     func(bool)
}

func (c *fakeConnectivity) IsOnline() bool { return c.online }

func (c *fakeConnectivity) Subscribe(fn func(online bool)) func() {
	c.fn = fn
	return func() { c.fn = nil }
}

func waitForState(t *testing.T, h *testHarness, channelID string, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		status, err := h.engine.Status(context.Background(), channelID)
		require.NoError(t, err)
		if status.State == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	status, _ := h.engine.Status(context.Background(), channelID)
	t.Fatalf("channel %s never reached %s (stuck at %s)", channelID, want, status.State)
}

func TestActivationSync_SkipsFreshChannel(t *testing.T) {
	h := newTestEngine(t)
	ctx := context.Background()

	// A round just completed for the channel.
	_, err := h.engine.SyncNow(ctx, "ch-1")
	require.NoError(t, err)
	h.client.mu.Lock()
	fetchesBefore := len(h.client.fetches)
	h.client.mu.Unlock()

	// Activation within the freshness window does nothing.
	h.advance(time.Minute)
	h.engine.activationSync(ctx, "ch-1")

	h.client.mu.Lock()
	assert.Equal(t, fetchesBefore, len(h.client.fetches))
	h.client.mu.Unlock()
}

func TestActivationSync_SyncsStaleChannel(t *testing.T) {
	h := newTestEngine(t)
	ctx := context.Background()

	_, err := h.engine.SyncNow(ctx, "ch-1")
	require.NoError(t, err)
	h.client.mu.Lock()
	fetchesBefore := len(h.client.fetches)
	h.client.mu.Unlock()

	// Past the freshness window the activation sync runs.
	h.advance(h.engine.cfg.FreshnessWindow + time.Minute)
	h.engine.activationSync(ctx, "ch-1")

	h.client.mu.Lock()
	assert.Equal(t, fetchesBefore+1, len(h.client.fetches))
	h.client.mu.Unlock()
}

func TestOnChannelActivated_DebouncesRapidSwitching(t *testing.T) {
	h := newTestEngine(t, WithConfig(Config{
		ActivationDebounce: 30 * time.Millisecond,
	}))
	ctx := context.Background()

	// Rapid switching: only the channel the user settles on syncs.
	h.engine.onChannelActivated(ctx, "ch-a")
	h.engine.onChannelActivated(ctx, "ch-b")
	h.engine.onChannelActivated(ctx, "ch-c")

	waitForState(t, h, "ch-c", StateUpToDate)

	statusA, _ := h.engine.Status(ctx, "ch-a")
	statusB, _ := h.engine.Status(ctx, "ch-b")
	assert.Equal(t, StateIdle, statusA.State, "abandoned channel must not sync")
	assert.Equal(t, StateIdle, statusB.State, "abandoned channel must not sync")
}

func TestReconnect_TriggersSync(t *testing.T) {
	conn := &fakeConnectivity{online: false}
	h := newTestEngine(t, WithConnectivity(conn))

	// Offline: a manual sync lands in the offline state.
	result, err := h.engine.SyncNow(context.Background(), "")
	require.NoError(t, err)
	require.False(t, result.Success)

	// Connectivity returns; the subscription fires a sync.
	conn.online = true
	require.NotNil(t, conn.fn, "engine must subscribe to connectivity changes")
	conn.fn(true)

	waitForState(t, h, "", StateUpToDate)
}

func TestReconnect_OfflineTransitionIsIgnored(t *testing.T) {
	conn := &fakeConnectivity{online: true}
	h := newTestEngine(t, WithConnectivity(conn))

	h.client.mu.Lock()
	fetchesBefore := len(h.client.fetches)
	h.client.mu.Unlock()

	// Going offline must not trigger a sync attempt.
	conn.fn(false)
	time.Sleep(50 * time.Millisecond)

	h.client.mu.Lock()
	assert.Equal(t, fetchesBefore, len(h.client.fetches))
	h.client.mu.Unlock()
}
