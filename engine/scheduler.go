package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/syncwell/commentsync/remote"
)

// startScheduler launches the background sync timer and subscribes to
// connectivity and channel-activation events. Callers hold no locks.
func (e *Engine) startScheduler(ctx context.Context) {
	stop := make(chan struct{})

	e.mu.Lock()
	e.stopScheduler = stop
	e.mu.Unlock()

	go e.intervalLoop(ctx, stop)

	if e.connectivity != nil && e.cfg.SyncOnReconnect {
		unsub := e.connectivity.Subscribe(func(online bool) {
			if !online {
				return
			}
			e.onReconnect(ctx)
		})
		e.addUnsubscribe(unsub)
	}

	if e.registry != nil {
		unsub := e.registry.Subscribe(func(event remote.ChannelEvent) {
			if event.Type != remote.ChannelActivated {
				return
			}
			e.onChannelActivated(ctx, event.ChannelID)
		})
		e.addUnsubscribe(unsub)
	}
}

func (e *Engine) addUnsubscribe(fn func()) {
	e.mu.Lock()
	e.unsubscribes = append(e.unsubscribes, fn)
	e.mu.Unlock()
}

// intervalLoop runs the periodic background sync. Ticks that land while the
// active channel is already syncing are skipped rather than queued.
func (e *Engine) intervalLoop(ctx context.Context, stop chan struct{}) {
	ticker := time.NewTicker(e.cfg.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
		}

		channelID := e.effectiveChannel("")
		if e.isSyncing(channelID) {
			continue
		}
		if _, err := e.SyncNow(ctx, channelID); err != nil {
			e.logger.LogError(ctx, err, "scheduled sync failed",
				slog.String("channel_id", channelID))
		}
	}
}

// onReconnect syncs the active channel as soon as connectivity returns.
func (e *Engine) onReconnect(ctx context.Context) {
	channelID := e.effectiveChannel("")
	e.logger.InfoContext(ctx, "connectivity restored, syncing",
		slog.String("channel_id", channelID))

	go func() {
		if _, err := e.SyncNow(ctx, channelID); err != nil {
			e.logger.LogError(ctx, err, "reconnect sync failed",
				slog.String("channel_id", channelID))
		}
	}()
}

// onChannelActivated debounces rapid channel switching: each activation
// cancels the previous pending timer and arms a new one, so only the channel
// the user settles on actually syncs.
func (e *Engine) onChannelActivated(ctx context.Context, channelID string) {
	e.debounceMu.Lock()
	defer e.debounceMu.Unlock()

	if e.debounce != nil {
		e.debounce.Stop()
	}
	e.debounce = time.AfterFunc(e.cfg.ActivationDebounce, func() {
		e.activationSync(ctx, channelID)
	})
}

// activationSync runs the debounced channel-activation sync, skipping
// channels that synced within the freshness window.
func (e *Engine) activationSync(ctx context.Context, channelID string) {
	e.mu.Lock()
	lastSynced := e.channelLocked(channelID).status.LastSyncedAt
	e.mu.Unlock()

	if !lastSynced.IsZero() && e.now().Sub(lastSynced) < e.cfg.FreshnessWindow {
		e.logger.DebugContext(ctx, "activation sync skipped: channel is fresh",
			slog.String("channel_id", channelID),
			slog.Time("last_synced_at", lastSynced))
		return
	}

	if _, err := e.SyncNow(ctx, channelID); err != nil {
		e.logger.LogError(ctx, err, "activation sync failed",
			slog.String("channel_id", channelID))
	}
}

// cancelDebounce stops any pending activation timer.
func (e *Engine) cancelDebounce() {
	e.debounceMu.Lock()
	defer e.debounceMu.Unlock()
	if e.debounce != nil {
		e.debounce.Stop()
		e.debounce = nil
	}
}

// isSyncing reports whether a sync round is in flight for the channel.
func (e *Engine) isSyncing(channelID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.channelLocked(channelID).syncing
}
