package repository

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Health statuses reported by the monitor.
const (
	StatusUnknown = "unknown"
	StatusUp      = "up"
	StatusDown    = "down"
)

// Health is the last known liveness of one repository.
type Health struct {
	LastCheck        time.Time // Timestamp of the last check attempt
	LastUp           time.Time // Timestamp of the last successful check
	RepositoryID     string    // Repository being checked
	Status           string    // StatusUnknown, StatusUp or StatusDown
	ConsecutiveFails int       // Failed checks since the last success
}

// CheckFunc checks one repository.
type CheckFunc func(ctx context.Context, d *Descriptor) error

// HealthMonitor periodically pings every registered repository and keeps a
// status per repository id. The engine consults it before dispatching in
// tolerant mode; a repository only becomes StatusDown after maxFailures
// consecutive failed checks.
//
// Lifecycle:
//
//	┌─────────┐  Start   ┌──────────┐  Stop   ┌─────────┐
//	│ created │ ───────► │ checking │ ──────► │ stopped │
//	└─────────┘          └──────────┘         └─────────┘
//	                      ticker: check all, prune removed repositories
//
// Adapters that do not implement Pinger are reported up. The onDown callback
// runs in its own goroutine when a repository transitions to down.
type HealthMonitor struct {
	repos       map[string]*Health
	checkFunc   CheckFunc
	onDown      func(id string)
	onUp        func(id string)
	ctx         context.Context
	cancel      context.CancelFunc
	log         zerolog.Logger
	interval    time.Duration
	timeout     time.Duration
	mu          sync.RWMutex
	wg          sync.WaitGroup
	maxFailures int
}

// NewHealthMonitor creates a monitor checking every interval. Defaults: 2s
// timeout per check, down after 3 consecutive failures.
func NewHealthMonitor(interval time.Duration, log zerolog.Logger) *HealthMonitor {
	ctx, cancel := context.WithCancel(context.Background())

	return &HealthMonitor{
		interval:    interval,
		timeout:     2 * time.Second,
		maxFailures: 3,
		repos:       make(map[string]*Health),
		log:         log.With().Str("component", "health").Logger(),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// SetOnDown registers the callback invoked when a repository goes down.
func (h *HealthMonitor) SetOnDown(callback func(id string)) {
	h.onDown = callback
}

// SetOnUp registers the callback invoked when a repository is first seen
// up or recovers.
func (h *HealthMonitor) SetOnUp(callback func(id string)) {
	h.onUp = callback
}

// SetCheckFunction replaces the check, for tests.
func (h *HealthMonitor) SetCheckFunction(fn CheckFunc) {
	h.checkFunc = fn
}

// SetMaxFailures sets how many consecutive failures mark a repository down.
func (h *HealthMonitor) SetMaxFailures(n int) {
	if n > 0 {
		h.maxFailures = n
	}
}

// Start runs the check loop until ctx or Stop cancels it. It blocks; run it
// in a goroutine. provider returns the repositories to check on each tick.
func (h *HealthMonitor) Start(ctx context.Context, provider func() []*Descriptor) {
	h.wg.Add(1)
	defer h.wg.Done()

	if ctx == nil {
		ctx = h.ctx
	}
	if h.checkFunc == nil {
		h.checkFunc = ping
	}

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	h.log.Info().Dur("interval", h.interval).Msg("health monitor started")

	h.CheckAll(ctx, provider())

	for {
		select {
		case <-ticker.C:
			h.CheckAll(ctx, provider())
		case <-ctx.Done():
			h.log.Info().Msg("health monitor stopping")
			return
		case <-h.ctx.Done():
			h.log.Info().Msg("health monitor stopping")
			return
		}
	}
}

// Stop cancels the loop and waits for it to finish.
func (h *HealthMonitor) Stop() {
	h.cancel()
	h.wg.Wait()
}

// CheckAll checks every given repository once and forgets repositories that
// are no longer configured.
func (h *HealthMonitor) CheckAll(ctx context.Context, descriptors []*Descriptor) {
	if h.checkFunc == nil {
		h.checkFunc = ping
	}

	current := make(map[string]bool, len(descriptors))
	for _, d := range descriptors {
		current[d.ID] = true
		h.check(ctx, d)
	}

	h.mu.Lock()
	for id := range h.repos {
		if !current[id] {
			delete(h.repos, id)
			h.log.Debug().Str("repository", id).Msg("removed from health monitoring")
		}
	}
	h.mu.Unlock()
}

func (h *HealthMonitor) check(ctx context.Context, d *Descriptor) {
	h.mu.Lock()
	health, exists := h.repos[d.ID]
	if !exists {
		health = &Health{RepositoryID: d.ID, Status: StatusUnknown}
		h.repos[d.ID] = health
	}
	h.mu.Unlock()

	cctx, cancel := context.WithTimeout(ctx, h.timeout)
	err := h.checkFunc(cctx, d)
	cancel()

	h.mu.Lock()
	defer h.mu.Unlock()

	health.LastCheck = time.Now()

	if err != nil {
		health.ConsecutiveFails++
		h.log.Warn().Err(err).
			Str("repository", d.ID).
			Int("attempt", health.ConsecutiveFails).
			Int("max", h.maxFailures).
			Msg("health check failed")

		if health.ConsecutiveFails >= h.maxFailures && health.Status != StatusDown {
			health.Status = StatusDown
			h.log.Error().Str("repository", d.ID).Msg("repository marked down")
			if h.onDown != nil {
				go h.onDown(d.ID)
			}
		}
		return
	}

	if health.Status == StatusDown {
		h.log.Info().Str("repository", d.ID).Msg("repository recovered")
	}
	if health.Status != StatusUp && h.onUp != nil {
		go h.onUp(d.ID)
	}
	health.Status = StatusUp
	health.ConsecutiveFails = 0
	health.LastUp = health.LastCheck
}

func ping(ctx context.Context, d *Descriptor) error {
	p, ok := d.Adapter.(Pinger)
	if !ok {
		return nil
	}
	return p.Ping(ctx)
}

// Health returns a copy of the status of one repository, or nil when it has
// not been checked.
func (h *HealthMonitor) Health(id string) *Health {
	h.mu.RLock()
	defer h.mu.RUnlock()

	health, ok := h.repos[id]
	if !ok {
		return nil
	}
	c := *health
	return &c
}

// All returns a copy of every known status.
func (h *HealthMonitor) All() map[string]*Health {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make(map[string]*Health, len(h.repos))
	for id, health := range h.repos {
		c := *health
		out[id] = &c
	}
	return out
}

// IsDown reports whether the repository is known to be down. Unchecked
// repositories are not down.
func (h *HealthMonitor) IsDown(id string) bool {
	if h == nil {
		return false
	}
	h.mu.RLock()
	defer h.mu.RUnlock()

	health, ok := h.repos[id]
	return ok && health.Status == StatusDown
}
