package ratelimit

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Producer builds a fresh Config, e.g. from a settings file or a
// remote config service. ConfigLoader calls it once synchronously on
// construction and then, if refreshSec > 0, on every tick thereafter.
type Producer func(ctx context.Context) (Config, error)

// ConfigLoader owns the current Config behind an atomic pointer
// (single-writer, many-readers) and periodically refreshes it via a
// caller-supplied Producer, following the same ticker-goroutine +
// CancelFunc shutdown shape as the teacher's provider.HealthPoller.
//
// If the producer fails on the INITIAL load, the loader is poisoned:
// Snapshot returns an empty Config until a later refresh succeeds,
// matching spec.md §4.5's "a throwing producer suspends throttling
// rather than breaking the service" contract. A producer failure on a
// later refresh is logged and the previous Config is retained as-is —
// it does NOT poison an already-healthy loader.
type ConfigLoader struct {
	logger   zerolog.Logger
	producer Producer

	current  atomic.Pointer[Config]
	poisoned atomic.Bool

	cancel context.CancelFunc
	done   chan struct{}
}

// NewConfigLoader constructs a loader, synchronously invoking producer
// once. If refreshSec > 0 a background refresh goroutine is started;
// call Stop to cancel it and wait for it to exit.
func NewConfigLoader(ctx context.Context, logger zerolog.Logger, producer Producer, refreshSec int) *ConfigLoader {
	l := &ConfigLoader{
		logger:   logger.With().Str("component", "configloader").Logger(),
		producer: producer,
		done:     make(chan struct{}),
	}
	close(l.done) // no background loop unless Start below replaces it

	cfg, err := producer(ctx)
	if err != nil {
		l.logger.Error().Err(err).Msg("initial config load failed — throttling disabled until a refresh succeeds")
		l.poisoned.Store(true)
		l.current.Store(&Config{})
	} else {
		l.current.Store(&cfg)
	}

	if refreshSec > 0 {
		loopCtx, cancel := context.WithCancel(ctx)
		l.cancel = cancel
		l.done = make(chan struct{})
		go l.refreshLoop(loopCtx, time.Duration(refreshSec)*time.Second)
	}

	return l
}

func (l *ConfigLoader) refreshLoop(ctx context.Context, interval time.Duration) {
	defer close(l.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cfg, err := l.producer(ctx)
			if err != nil {
				l.logger.Warn().Err(err).Msg("config refresh failed — keeping previous config")
				continue
			}
			l.current.Store(&cfg)
			l.poisoned.Store(false)
			l.logger.Info().Int("rules", len(cfg.Rules)).Msg("config refreshed")
		}
	}
}

// Snapshot returns the current Config. If the loader is poisoned
// (initial load failed and no refresh has succeeded since), it returns
// an empty Config so the Engine fails open.
func (l *ConfigLoader) Snapshot() Config {
	if l.poisoned.Load() {
		return Config{}
	}
	if c := l.current.Load(); c != nil {
		return *c
	}
	return Config{}
}

// Stop cancels the background refresh goroutine, if any, and waits
// for it to exit.
func (l *ConfigLoader) Stop() {
	if l.cancel != nil {
		l.cancel()
	}
	<-l.done
}
