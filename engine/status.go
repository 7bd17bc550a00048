package engine

import (
	"time"
)

// State is a channel's sync state machine position.
type State string

const (
	StateIdle     State = "idle"
	StateSyncing  State = "syncing"
	StateError    State = "error"
	StateOffline  State = "offline"
	StateUpToDate State = "up_to_date"
)

// ChannelStatus is a point-in-time snapshot of one channel's sync state.
type ChannelStatus struct {
	ChannelID string
	State     State

	// Progress is the fraction of the current sync round completed, in [0,1].
	Progress float64

	LastSyncedAt time.Time
	LastError    string

	PendingOperations int
	FailedOperations  int
}

// StatusEvent is one published state transition.
type StatusEvent struct {
	ChannelID string
	Status    ChannelStatus
}

// SyncResult reports the outcome of one sync round.
type SyncResult struct {
	ChannelID   string
	Success     bool
	ItemsPushed int
	ItemsPulled int

	// Conflicts counts entities where both sides had changed independently.
	// A conflict is a resolved condition, not an error.
	Conflicts int

	// Failed counts push operations that failed this round (they remain
	// queued for retry or were dead-lettered).
	Failed int

	Duration time.Duration
	Error    string
}

// channelState is the engine's internal per-channel record. Guarded by the
// engine mutex.
type channelState struct {
	status  ChannelStatus
	syncing bool
}

// Subscribe registers a status callback. Every state transition is published
// exactly once; late subscribers receive only future transitions. The
// returned function cancels the subscription.
func (e *Engine) Subscribe(fn func(StatusEvent)) (unsubscribe func()) {
	e.mu.Lock()
	id := e.nextSubID
	e.nextSubID++
	e.subscribers[id] = fn
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		delete(e.subscribers, id)
		e.mu.Unlock()
	}
}

// publish delivers one transition to all current subscribers. A panicking
// subscriber is recovered so it cannot stall the pipeline.
func (e *Engine) publish(event StatusEvent) {
	e.mu.Lock()
	subs := make([]func(StatusEvent), 0, len(e.subscribers))
	for _, fn := range e.subscribers {
		subs = append(subs, fn)
	}
	e.mu.Unlock()

	for _, fn := range subs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					e.logger.Error("status subscriber panic recovered",
						"panic", r,
						"channel_id", event.ChannelID)
				}
			}()
			fn(event)
		}()
	}
}

// transition mutates one channel's status under the engine lock and
// publishes the resulting snapshot.
func (e *Engine) transition(channelID string, mutate func(*ChannelStatus)) {
	e.mu.Lock()
	cs := e.channelLocked(channelID)
	mutate(&cs.status)
	snapshot := cs.status
	e.mu.Unlock()

	e.publish(StatusEvent{ChannelID: channelID, Status: snapshot})
}

// channelLocked returns (creating if needed) the state record for a channel.
// Callers must hold the engine mutex.
func (e *Engine) channelLocked(channelID string) *channelState {
	cs, ok := e.channels[channelID]
	if !ok {
		cs = &channelState{status: ChannelStatus{ChannelID: channelID, State: StateIdle}}
		e.channels[channelID] = cs
	}
	return cs
}
