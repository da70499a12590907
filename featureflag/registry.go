// ABOUTME: This file implements the process-wide feature flag registry with circuit breakers
// ABOUTME: Rolling-window error/latency metrics auto-trip flags to emergency_off
package featureflag

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sort"
	"sync"
	"time"

	"newswatch/config"
	"newswatch/domain"
	"newswatch/events"
	"newswatch/repository"
)

type sample struct {
	ok        bool
	latencyMS float64
}

// flagState holds one flag's administrative state plus its in-memory rolling
// metric window. The window is process-local; only Status and rollout are
// persisted.
type flagState struct {
	status              domain.FlagStatus
	rolloutPercentage   int
	window              []sample
	next                int
	count               int
	consecutiveFailures int
	// baselineP95 is captured the first time the window fills after a reset.
	// Until it exists the latency breaker cannot fire.
	baselineP95 float64
}

// Registry is the process-wide feature flag authority. Reads are lock-cheap;
// metric records take the write lock because they may trip a breaker.
type Registry struct {
	mu     sync.RWMutex
	flags  map[string]*flagState
	cfg    config.FeatureFlagsConfig
	repo   repository.FeatureFlagRepository
	bus    *events.Bus
	logger *slog.Logger
}

// NewRegistry creates a flag registry backed by the given repository.
func NewRegistry(cfg config.FeatureFlagsConfig, repo repository.FeatureFlagRepository, bus *events.Bus, logger *slog.Logger) *Registry {
	return &Registry{
		flags:  make(map[string]*flagState),
		cfg:    cfg,
		repo:   repo,
		bus:    bus,
		logger: logger,
	}
}

// Load seeds the in-memory state from the store. Unknown flags referenced
// later default to off.
func (r *Registry) Load(ctx context.Context) error {
	persisted, err := r.repo.GetAll(ctx)
	if err != nil {
		return fmt.Errorf("load feature flags: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, flag := range persisted {
		r.flags[flag.Name] = &flagState{
			status:            flag.Status,
			rolloutPercentage: flag.RolloutPercentage,
			window:            make([]sample, r.cfg.WindowSize),
		}
	}

	r.logger.InfoContext(ctx, "feature flags loaded", "count", len(persisted))
	return nil
}

// IsEnabled reports whether the flag admits the given bucket key. The bucket
// assignment is a deterministic hash so the same key always lands on the same
// side of a canary rollout.
func (r *Registry) IsEnabled(name, bucketKey string) bool {
	r.mu.RLock()
	state, ok := r.flags[name]
	r.mu.RUnlock()
	if !ok {
		return false
	}

	switch state.status {
	case domain.FlagOn:
		return true
	case domain.FlagOff, domain.FlagEmergencyOff:
		return false
	case domain.FlagCanary:
		return bucket(bucketKey) < state.rolloutPercentage
	default:
		return false
	}
}

// RecordMetric feeds one observation into the flag's rolling window and
// evaluates the breaker rules. Tripping transitions the flag to emergency_off,
// persists the new status, and emits a FlagTripped event.
func (r *Registry) RecordMetric(ctx context.Context, name string, success bool, latencyMS float64) {
	r.mu.Lock()
	state, ok := r.flags[name]
	if !ok {
		state = &flagState{
			status: domain.FlagOff,
			window: make([]sample, r.cfg.WindowSize),
		}
		r.flags[name] = state
	}

	state.window[state.next] = sample{ok: success, latencyMS: latencyMS}
	state.next = (state.next + 1) % len(state.window)
	if state.count < len(state.window) {
		state.count++
	}
	if success {
		state.consecutiveFailures = 0
	} else {
		state.consecutiveFailures++
	}
	if state.baselineP95 == 0 && state.count == len(state.window) {
		state.baselineP95 = p95(state.window[:state.count])
	}

	reason := r.tripReason(state)
	tripped := reason != "" && state.status != domain.FlagEmergencyOff
	if tripped {
		state.status = domain.FlagEmergencyOff
	}
	rollout := state.rolloutPercentage
	r.mu.Unlock()

	if !tripped {
		return
	}

	r.logger.WarnContext(ctx, "feature flag circuit breaker tripped",
		"flag", name, "reason", reason)

	if err := r.repo.Upsert(ctx, &domain.FeatureFlag{
		Name:              name,
		Status:            domain.FlagEmergencyOff,
		RolloutPercentage: rollout,
	}); err != nil {
		r.logger.ErrorContext(ctx, "failed to persist tripped flag", "flag", name, "error", err)
	}

	r.bus.PublishFlagTripped(ctx, events.FlagTripped{Flag: name, Reason: reason, At: time.Now()})
}

// tripReason evaluates the breaker rules. Caller holds the write lock.
func (r *Registry) tripReason(state *flagState) string {
	if state.consecutiveFailures > r.cfg.ConsecutiveFailures {
		return fmt.Sprintf("consecutive failures %d > %d", state.consecutiveFailures, r.cfg.ConsecutiveFailures)
	}
	if state.count < r.cfg.MinSamples {
		return ""
	}

	failures := 0
	for _, s := range state.window[:state.count] {
		if !s.ok {
			failures++
		}
	}
	errorRate := float64(failures) / float64(state.count)
	if errorRate > r.cfg.ErrorRateThreshold {
		return fmt.Sprintf("error rate %.3f > %.3f", errorRate, r.cfg.ErrorRateThreshold)
	}

	if state.baselineP95 > 0 {
		current := p95(state.window[:state.count])
		if current > state.baselineP95*r.cfg.LatencyFactor {
			return fmt.Sprintf("p95 latency %.0fms > baseline %.0fms x %.1f", current, state.baselineP95, r.cfg.LatencyFactor)
		}
	}
	return ""
}

// ShortCircuited reports whether callers of the guarded code path must fall
// back immediately. Only a tripped (or explicitly emergency_off) flag short
// circuits; unknown flags do not.
func (r *Registry) ShortCircuited(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	state, ok := r.flags[name]
	return ok && state.status == domain.FlagEmergencyOff
}

// SetStatus is the admin override. Moving a flag out of emergency_off resets
// its metric window so stale failures cannot immediately re-trip it.
func (r *Registry) SetStatus(ctx context.Context, name string, status domain.FlagStatus, rolloutPercentage int) error {
	if rolloutPercentage < 0 || rolloutPercentage > 100 {
		return fmt.Errorf("rollout percentage must be within [0,100], got %d", rolloutPercentage)
	}

	if err := r.repo.Upsert(ctx, &domain.FeatureFlag{
		Name:              name,
		Status:            status,
		RolloutPercentage: rolloutPercentage,
	}); err != nil {
		return fmt.Errorf("persist feature flag %s: %w", name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	state, ok := r.flags[name]
	if !ok {
		state = &flagState{window: make([]sample, r.cfg.WindowSize)}
		r.flags[name] = state
	}
	wasTripped := state.status == domain.FlagEmergencyOff
	state.status = status
	state.rolloutPercentage = rolloutPercentage
	if wasTripped && status != domain.FlagEmergencyOff {
		state.window = make([]sample, r.cfg.WindowSize)
		state.next = 0
		state.count = 0
		state.consecutiveFailures = 0
		state.baselineP95 = 0
	}
	return nil
}

// Snapshot returns the current administrative view of every known flag.
func (r *Registry) Snapshot() []*domain.FeatureFlag {
	r.mu.RLock()
	defer r.mu.RUnlock()

	flags := make([]*domain.FeatureFlag, 0, len(r.flags))
	for name, state := range r.flags {
		flags = append(flags, &domain.FeatureFlag{
			Name:              name,
			Status:            state.status,
			RolloutPercentage: state.rolloutPercentage,
		})
	}
	sort.Slice(flags, func(i, j int) bool { return flags[i].Name < flags[j].Name })
	return flags
}

// bucket maps a key onto [0,100) deterministically.
func bucket(key string) int {
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % 100)
}

func p95(samples []sample) float64 {
	if len(samples) == 0 {
		return 0
	}
	latencies := make([]float64, len(samples))
	for i, s := range samples {
		latencies[i] = s.latencyMS
	}
	sort.Float64s(latencies)
	idx := int(float64(len(latencies))*0.95) - 1
	if idx < 0 {
		idx = 0
	}
	return latencies[idx]
}
