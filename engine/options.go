package engine

import (
	"errors"
	"time"

	"github.com/syncwell/commentsync/comment"
	syncErrors "github.com/syncwell/commentsync/errors"
	"github.com/syncwell/commentsync/logging"
	"github.com/syncwell/commentsync/metrics"
	"github.com/syncwell/commentsync/queue"
	"github.com/syncwell/commentsync/remote"
	"github.com/syncwell/commentsync/resolve"
	"github.com/syncwell/commentsync/syncstate"
)

// Option configures an Engine at construction time.
type Option func(*Engine) error

// WithRemoteClient injects the remote delta client. Required.
func WithRemoteClient(c remote.Client) Option {
	return func(e *Engine) error {
		if c == nil {
			return errors.New("remote client must not be nil")
		}
		e.client = c
		return nil
	}
}

// WithPusher injects the callback that applies one queued operation to the
// remote. Required: the delta client contract is pull-only, so the push
// side is supplied by the host.
func WithPusher(p queue.Processor) Option {
	return func(e *Engine) error {
		if p == nil {
			return errors.New("pusher must not be nil")
		}
		e.pusher = p
		return nil
	}
}

// WithQueue injects a pre-built operation queue. Without it the engine
// constructs one on in-memory stores.
func WithQueue(q *queue.Queue) Option {
	return func(e *Engine) error {
		if q == nil {
			return errors.New("queue must not be nil")
		}
		e.queue = q
		return nil
	}
}

// WithCommentStore injects the local entity store.
func WithCommentStore(s comment.Store) Option {
	return func(e *Engine) error {
		if s == nil {
			return errors.New("comment store must not be nil")
		}
		e.comments = s
		return nil
	}
}

// WithStateStores injects the entity-state and scope-metadata stores.
func WithStateStores(entities syncstate.EntityStore, metadata syncstate.MetadataStore) Option {
	return func(e *Engine) error {
		if entities == nil || metadata == nil {
			return errors.New("state stores must not be nil")
		}
		e.entities = entities
		e.metadata = metadata
		return nil
	}
}

// WithResolver overrides the default last-writer-wins conflict resolver.
func WithResolver(r resolve.Resolver) Option {
	return func(e *Engine) error {
		if r == nil {
			return errors.New("resolver must not be nil")
		}
		e.resolver = r
		return nil
	}
}

// WithConnectivity injects the host connectivity monitor. Optional; without
// it the engine relies on the client's IsConnected alone.
func WithConnectivity(m remote.ConnectivityMonitor) Option {
	return func(e *Engine) error {
		e.connectivity = m
		return nil
	}
}

// WithChannelRegistry injects the channel registry. Optional; without it
// only explicit channel ids and the global scope are synced.
func WithChannelRegistry(r remote.ChannelRegistry) Option {
	return func(e *Engine) error {
		e.registry = r
		return nil
	}
}

// WithConfig overrides the default Config.
func WithConfig(cfg Config) Option {
	return func(e *Engine) error {
		cfg.setDefaults()
		e.cfg = cfg
		return nil
	}
}

// WithLogger injects a logger.
func WithLogger(l *logging.Logger) Option {
	return func(e *Engine) error {
		if l == nil {
			return errors.New("logger must not be nil")
		}
		e.logger = l
		return nil
	}
}

// WithMetrics injects a metrics collector.
func WithMetrics(c metrics.Collector) Option {
	return func(e *Engine) error {
		if c == nil {
			return errors.New("metrics collector must not be nil")
		}
		e.metrics = c
		return nil
	}
}

// WithClock injects the time source for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) error {
		if now == nil {
			return errors.New("clock must not be nil")
		}
		e.now = now
		return nil
	}
}

// validate checks required collaborators after options are applied.
func (e *Engine) validate() error {
	if e.client == nil {
		return syncErrors.NewInvalid(syncErrors.OpInitialize, engineComponent,
			errors.New("remote client is required (use WithRemoteClient)"))
	}
	if e.pusher == nil {
		return syncErrors.NewInvalid(syncErrors.OpInitialize, engineComponent,
			errors.New("pusher is required (use WithPusher)"))
	}
	return nil
}
