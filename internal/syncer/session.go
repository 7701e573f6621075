package syncer

import (
	"context"
	"sync"
	"time"

	"github.com/dadinugroho/robshop-core/internal/backend"
	"github.com/dadinugroho/robshop-core/internal/dispatch"
	"github.com/dadinugroho/robshop-core/internal/logging"
	"github.com/dadinugroho/robshop-core/internal/outbox"
	"github.com/dadinugroho/robshop-core/internal/store"
)

// SessionConfig configures the background sync lifecycle.
type SessionConfig struct {
	DrainInterval     time.Duration // outbox drain cadence
	FeedReconnectBase time.Duration // first reconnect delay
	FeedReconnectCap  time.Duration // reconnect backoff ceiling
	PruneInterval     time.Duration // completed-entry prune cadence
	PruneAfter        time.Duration // completed-entry retention
}

// DefaultSessionConfig returns the default session configuration.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		DrainInterval:     15 * time.Second,
		FeedReconnectBase: 2 * time.Second,
		FeedReconnectCap:  time.Minute,
		PruneInterval:     time.Hour,
		PruneAfter:        7 * 24 * time.Hour,
	}
}

// FeedFactory creates a fresh change-feed client. One feed serves one
// connection, so the session asks for a new one on every reconnect.
type FeedFactory func() backend.Feed

// SyncSession owns the background machinery: startup hydration, the
// change-feed loop with reconnect backoff, the periodic outbox drain,
// the view invalidator and outbox pruning. Start once, Stop once.
type SyncSession struct {
	engine  *Engine
	disp    *dispatch.Dispatcher
	q       *outbox.Queue
	inv     *Invalidator
	newFeed FeedFactory
	cfg     SessionConfig

	mu      sync.Mutex
	feed    backend.Feed
	cancel  context.CancelFunc
	running bool
	wg      sync.WaitGroup
	drainCh chan struct{}
}

// NewSession wires a session from its parts.
func NewSession(engine *Engine, disp *dispatch.Dispatcher, q *outbox.Queue, newFeed FeedFactory, cfg SessionConfig) *SyncSession {
	def := DefaultSessionConfig()
	if cfg.DrainInterval <= 0 {
		cfg.DrainInterval = def.DrainInterval
	}
	if cfg.FeedReconnectBase <= 0 {
		cfg.FeedReconnectBase = def.FeedReconnectBase
	}
	if cfg.FeedReconnectCap <= 0 {
		cfg.FeedReconnectCap = def.FeedReconnectCap
	}
	if cfg.PruneInterval <= 0 {
		cfg.PruneInterval = def.PruneInterval
	}
	if cfg.PruneAfter <= 0 {
		cfg.PruneAfter = def.PruneAfter
	}
	return &SyncSession{
		engine:  engine,
		disp:    disp,
		q:       q,
		inv:     NewInvalidator(engine),
		newFeed: newFeed,
		cfg:     cfg,
		drainCh: make(chan struct{}, 1),
	}
}

// Start launches the background loops. Calling Start on a running
// session is a no-op.
func (s *SyncSession) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true

	// Entries stranded in_progress by a crash mid-dispatch re-enter the
	// queue before the first drain.
	if _, err := s.q.RecoverInProgress(); err != nil {
		logging.Error("Outbox recovery failed", err, nil)
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(4)
	go func() {
		defer s.wg.Done()
		s.inv.Run(runCtx)
	}()
	go func() {
		defer s.wg.Done()
		if err := s.engine.Hydrate(runCtx); err != nil {
			logging.Error("Startup hydration incomplete", err, nil)
		}
		s.RequestDrain()
	}()
	go func() {
		defer s.wg.Done()
		s.drainLoop(runCtx)
	}()
	go func() {
		defer s.wg.Done()
		s.feedLoop(runCtx)
	}()
}

// Stop cancels the background loops and waits for them to exit.
func (s *SyncSession) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
}

// RequestDrain schedules an immediate drain cycle ahead of the ticker.
// Called after every user write so intents leave the device promptly.
func (s *SyncSession) RequestDrain() {
	select {
	case s.drainCh <- struct{}{}:
	default:
	}
}

// drainLoop runs the dispatcher on a ticker, on demand, and prunes
// completed entries on a slower cadence.
func (s *SyncSession) drainLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.DrainInterval)
	defer ticker.Stop()
	pruner := time.NewTicker(s.cfg.PruneInterval)
	defer pruner.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-s.drainCh:
		case <-pruner.C:
			if _, err := s.q.Prune(s.cfg.PruneAfter); err != nil {
				logging.Warn("Outbox prune failed", map[string]interface{}{
					"error": err.Error(),
				})
			}
			continue
		}

		if _, err := s.disp.Drain(ctx); err != nil && ctx.Err() == nil {
			logging.Error("Outbox drain errored", err, nil)
		}
	}
}

// feedLoop keeps one change-feed connection alive, reconnecting with
// capped exponential backoff. A connection that survives for a while
// resets the backoff.
func (s *SyncSession) feedLoop(ctx context.Context) {
	tables := make([]string, 0, len(store.Tables))
	for _, t := range store.Tables {
		tables = append(tables, t.Name)
	}

	delay := s.cfg.FeedReconnectBase
	for ctx.Err() == nil {
		feed := s.newFeed()
		s.mu.Lock()
		s.feed = feed
		s.mu.Unlock()

		consumed := make(chan struct{})
		go func() {
			defer close(consumed)
			for ev := range feed.Events() {
				if err := s.engine.ApplyEvent(ev, s.inv); err != nil {
					logging.Error("Feed event apply failed", err, map[string]interface{}{
						"table": ev.Table,
						"type":  string(ev.Type),
					})
				}
			}
		}()

		started := time.Now()
		err := feed.Run(ctx, tables)
		<-consumed
		if ctx.Err() != nil {
			return
		}

		if time.Since(started) > s.cfg.FeedReconnectCap {
			delay = s.cfg.FeedReconnectBase
		}
		logging.Warn("Change feed disconnected, reconnecting", map[string]interface{}{
			"error": errString(err),
			"delay": delay.String(),
		})
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		delay *= 2
		if delay > s.cfg.FeedReconnectCap {
			delay = s.cfg.FeedReconnectCap
		}
	}
}

// Status is the sync surface shown to the user.
type Status struct {
	HydrationPercent  int          `json:"hydration_percent"`
	RealtimeConnected bool         `json:"realtime_connected"`
	Outbox            outbox.Stats `json:"outbox"`
	Tables            []MetaEntry  `json:"tables"`
}

// Status reports hydration progress, feed connectivity, outbox counts
// and per-table sync metadata.
func (s *SyncSession) Status() (Status, error) {
	st := Status{HydrationPercent: s.engine.Progress()}

	s.mu.Lock()
	if s.feed != nil {
		st.RealtimeConnected = s.feed.Connected()
	}
	s.mu.Unlock()

	stats, err := s.q.Stats()
	if err != nil {
		return st, err
	}
	st.Outbox = stats

	meta, err := s.engine.Meta()
	if err != nil {
		return st, err
	}
	st.Tables = meta
	return st, nil
}

// RetryFailed resets failed outbox entries and schedules a drain.
func (s *SyncSession) RetryFailed() (int, error) {
	n, err := s.q.RetryFailed()
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.RequestDrain()
	}
	return n, nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
