// ABOUTME: This file implements the authoritative analysis run lifecycle manager
// ABOUTME: Preview/confirm/execute, pause/resume/cancel, emergency stop, and global caps
package runmanager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"newswatch/config"
	"newswatch/domain"
	"newswatch/events"
	"newswatch/llm"
	"newswatch/repository"
)

// PreviewResult is returned from Preview so a caller can decide whether to
// confirm the run.
type PreviewResult struct {
	RunID                    int64   `json:"run_id"`
	ItemCount                int     `json:"item_count"`
	AlreadyAnalyzedCount     int     `json:"already_analyzed_count"`
	NewItemsCount            int     `json:"new_items_count"`
	EstimatedCostUSD         float64 `json:"estimated_cost_usd"`
	EstimatedDurationSeconds float64 `json:"estimated_duration_seconds"`
}

// Manager is the single authority for analysis run state. All transitions go
// through the store's compare-and-set; the in-memory slot counter and waiting
// queue only decide when transitions are attempted.
type Manager struct {
	runs     repository.AnalysisRunRepository
	runItems repository.RunItemRepository
	items    repository.ItemRepository
	cfg      config.AnalysisConfig
	bus      *events.Bus
	logger   *slog.Logger

	mu sync.Mutex
	// slotHolders tracks runs admitted to running that have not yet reached a
	// terminal state. Paused runs keep their slot.
	slotHolders map[int64]struct{}
	// waiting is the FIFO of confirmed runs awaiting a free slot or a rate
	// cap window.
	waiting          []waitingRun
	emergencyStopped bool
}

type waitingRun struct {
	id          int64
	triggeredBy domain.TriggeredBy
}

// NewManager creates a run manager.
func NewManager(
	runs repository.AnalysisRunRepository,
	runItems repository.RunItemRepository,
	items repository.ItemRepository,
	cfg config.AnalysisConfig,
	bus *events.Bus,
	logger *slog.Logger,
) *Manager {
	return &Manager{
		runs:        runs,
		runItems:    runItems,
		items:       items,
		cfg:         cfg,
		bus:         bus,
		logger:      logger,
		slotHolders: make(map[int64]struct{}),
	}
}

// Recover re-adopts non-terminal runs after a restart: running runs reclaim
// their slots and get their in-flight items requeued, queued runs rejoin the
// waiting queue in confirmation order.
func (m *Manager) Recover(ctx context.Context) error {
	active, err := m.runs.ListByStatus(ctx, domain.RunStatusRunning, domain.RunStatusPaused, domain.RunStatusQueued)
	if err != nil {
		return fmt.Errorf("recover runs: %w", err)
	}

	m.mu.Lock()
	for _, run := range active {
		switch run.Status {
		case domain.RunStatusRunning, domain.RunStatusPaused:
			m.slotHolders[run.ID] = struct{}{}
		case domain.RunStatusQueued:
			m.waiting = append(m.waiting, waitingRun{id: run.ID, triggeredBy: run.Params.TriggeredBy})
		}
	}
	m.mu.Unlock()

	for _, run := range active {
		if run.Status != domain.RunStatusRunning {
			continue
		}
		requeued, err := m.runItems.RequeueProcessing(ctx, run.ID)
		if err != nil {
			m.logger.ErrorContext(ctx, "failed to requeue in-flight items", "run_id", run.ID, "error", err)
			continue
		}
		if requeued > 0 {
			m.logger.InfoContext(ctx, "requeued in-flight items after restart", "run_id", run.ID, "count", requeued)
		}
	}

	m.logger.InfoContext(ctx, "run manager recovered", "active_runs", len(active))
	m.dispatchWaiting(ctx)
	return nil
}

// Preview resolves the scope, estimates cost and duration, and creates the
// run in pending state. The resolved item set is fixed here; confirming later
// never re-resolves the scope. An empty resolution completes immediately.
func (m *Manager) Preview(ctx context.Context, scope domain.RunScope, params domain.RunParams) (*PreviewResult, error) {
	if err := scope.Validate(); err != nil {
		return nil, fmt.Errorf("preview: %w", err)
	}
	params = m.applyParamDefaults(params)

	var candidates []int64
	var err error
	if params.Limit > 0 {
		candidates, err = m.items.ResolveScope(ctx, scope, params.Limit, false)
		if err != nil {
			return nil, fmt.Errorf("preview: resolve scope: %w", err)
		}
	}

	alreadyAnalyzed, err := m.items.CountAnalyzed(ctx, candidates)
	if err != nil {
		return nil, fmt.Errorf("preview: count analyzed: %w", err)
	}

	resolved := candidates
	if !params.OverrideExisting && len(candidates) > 0 {
		resolved, err = m.items.ResolveScope(ctx, scope, params.Limit, true)
		if err != nil {
			return nil, fmt.Errorf("preview: resolve unanalyzed: %w", err)
		}
	}

	costPerItem := llm.CostPerItem(params.ModelTag)
	run := &domain.AnalysisRun{
		Status:          domain.RunStatusPending,
		Scope:           scope,
		Params:          params,
		QueuedCount:     len(resolved),
		CostEstimateUSD: float64(len(resolved)) * costPerItem,
	}

	runID, err := m.runs.Create(ctx, run)
	if err != nil {
		return nil, fmt.Errorf("preview: create run: %w", err)
	}

	if len(resolved) == 0 {
		// Nothing to analyze. The run completes without ever being confirmed.
		if err := m.transition(ctx, runID, []domain.RunStatus{domain.RunStatusPending}, domain.RunStatusCompleted); err != nil {
			return nil, fmt.Errorf("preview: complete empty run: %w", err)
		}
	} else if err := m.runItems.BulkInsert(ctx, runID, resolved); err != nil {
		return nil, fmt.Errorf("preview: populate run items: %w", err)
	}

	m.logger.InfoContext(ctx, "analysis run previewed",
		"run_id", runID,
		"scope_kind", scope.Kind,
		"item_count", len(resolved),
		"already_analyzed", alreadyAnalyzed,
		"estimated_cost_usd", run.CostEstimateUSD,
		"triggered_by", params.TriggeredBy)

	duration := 0.0
	if params.RatePerSecond > 0 {
		duration = float64(len(resolved)) / params.RatePerSecond
	}
	return &PreviewResult{
		RunID:                    runID,
		ItemCount:                len(candidates),
		AlreadyAnalyzedCount:     alreadyAnalyzed,
		NewItemsCount:            len(resolved),
		EstimatedCostUSD:         run.CostEstimateUSD,
		EstimatedDurationSeconds: duration,
	}, nil
}

// Confirm transitions pending → queued and dispatches immediately if a slot
// is free. Over-capacity runs wait in FIFO order; that is not an error.
// Daily and hourly rate caps are enforced at dispatch time, so a confirm
// over cap lands in queued and starts when the window rolls.
func (m *Manager) Confirm(ctx context.Context, runID int64) (domain.RunStatus, error) {
	m.mu.Lock()
	stopped := m.emergencyStopped
	m.mu.Unlock()
	if stopped {
		return "", fmt.Errorf("confirm run %d: %w", runID, domain.ErrEmergencyStopped)
	}

	run, err := m.runs.GetByID(ctx, runID)
	if err != nil {
		return "", fmt.Errorf("confirm run %d: %w", runID, err)
	}
	if run.Status != domain.RunStatusPending {
		return "", fmt.Errorf("confirm run %d in state %s: %w", runID, run.Status, domain.ErrInvalidTransition)
	}

	if err := m.transition(ctx, runID, []domain.RunStatus{domain.RunStatusPending}, domain.RunStatusQueued); err != nil {
		return "", err
	}

	m.mu.Lock()
	m.waiting = append(m.waiting, waitingRun{id: runID, triggeredBy: run.Params.TriggeredBy})
	m.mu.Unlock()
	m.dispatchWaiting(ctx)

	current, err := m.runs.GetByID(ctx, runID)
	if err != nil {
		return domain.RunStatusQueued, nil
	}
	return current.Status, nil
}

// CreateAutoRun is the processor's entry point. Unlike manual confirmation it
// rejects with ErrCapacityExceeded up front so the caller can back off and
// retry on its next sweep without leaving a half-created run behind.
func (m *Manager) CreateAutoRun(ctx context.Context, itemIDs []int64, modelTag string) (int64, error) {
	m.mu.Lock()
	stopped := m.emergencyStopped
	freeSlot := len(m.slotHolders) < m.cfg.MaxConcurrentRuns
	m.mu.Unlock()

	if stopped {
		return 0, fmt.Errorf("auto run: %w", domain.ErrEmergencyStopped)
	}
	if !freeSlot {
		return 0, fmt.Errorf("auto run: no free run slot: %w", domain.ErrCapacityExceeded)
	}
	if err := m.checkRateCaps(ctx, domain.TriggeredByAuto); err != nil {
		return 0, fmt.Errorf("auto run: %w", err)
	}

	preview, err := m.Preview(ctx, domain.ItemScope(itemIDs...), domain.RunParams{
		ModelTag:    modelTag,
		Limit:       len(itemIDs),
		TriggeredBy: domain.TriggeredByAuto,
	})
	if err != nil {
		return 0, err
	}
	if preview.NewItemsCount == 0 {
		// Everything in the batch was already analyzed; the run completed at
		// preview time.
		return preview.RunID, nil
	}

	if _, err := m.Confirm(ctx, preview.RunID); err != nil {
		// The caller reverts its job and previews afresh next sweep; close the
		// half-created run so it does not linger in pending.
		m.abandonRun(ctx, preview.RunID)
		return 0, err
	}
	return preview.RunID, nil
}

// abandonRun closes a previewed run whose confirmation failed. Its items are
// skipped and the run completes without ever holding a slot.
func (m *Manager) abandonRun(ctx context.Context, runID int64) {
	if _, err := m.runItems.SkipQueued(ctx, runID); err != nil {
		m.logger.ErrorContext(ctx, "failed to skip items of abandoned run", "run_id", runID, "error", err)
	}
	err := m.transition(ctx, runID, []domain.RunStatus{domain.RunStatusPending}, domain.RunStatusCompleted)
	if err != nil && !errors.Is(err, domain.ErrInvalidTransition) {
		m.logger.ErrorContext(ctx, "failed to close abandoned run", "run_id", runID, "error", err)
	}
}

// Pause stops a running run. Its in-flight items are requeued by the workers;
// its slot stays held until a terminal transition.
func (m *Manager) Pause(ctx context.Context, runID int64) error {
	return m.transition(ctx, runID, []domain.RunStatus{domain.RunStatusRunning}, domain.RunStatusPaused)
}

// Resume returns a paused run to running.
func (m *Manager) Resume(ctx context.Context, runID int64) error {
	m.mu.Lock()
	stopped := m.emergencyStopped
	m.mu.Unlock()
	if stopped {
		return fmt.Errorf("resume run %d: %w", runID, domain.ErrEmergencyStopped)
	}
	return m.transition(ctx, runID, []domain.RunStatus{domain.RunStatusPaused}, domain.RunStatusRunning)
}

// Cancel moves a queued, running, or paused run to cancelled. In-flight items
// finish; still-queued items are skipped.
func (m *Manager) Cancel(ctx context.Context, runID int64) error {
	run, err := m.runs.GetByID(ctx, runID)
	if err != nil {
		return fmt.Errorf("cancel run %d: %w", runID, err)
	}
	switch run.Status {
	case domain.RunStatusQueued, domain.RunStatusRunning, domain.RunStatusPaused:
	default:
		return fmt.Errorf("cancel run %d in state %s: %w", runID, run.Status, domain.ErrInvalidTransition)
	}

	if err := m.transition(ctx, runID, []domain.RunStatus{run.Status}, domain.RunStatusCancelled); err != nil {
		return err
	}

	if skipped, err := m.runItems.SkipQueued(ctx, runID); err != nil {
		m.logger.ErrorContext(ctx, "failed to skip queued items of cancelled run", "run_id", runID, "error", err)
	} else if skipped > 0 {
		m.logger.InfoContext(ctx, "skipped remaining items of cancelled run", "run_id", runID, "count", skipped)
	}

	if err := m.finalizeCost(ctx, runID); err != nil {
		m.logger.ErrorContext(ctx, "failed to finalize cancelled run cost", "run_id", runID, "error", err)
	}

	m.releaseRun(ctx, runID)
	return nil
}

// EmergencyStop pauses every running run and freezes dispatch. Queued runs
// stay queued but nothing starts until ResumeAll. New confirmations are
// refused while stopped.
func (m *Manager) EmergencyStop(ctx context.Context) error {
	m.mu.Lock()
	m.emergencyStopped = true
	m.mu.Unlock()

	m.logger.WarnContext(ctx, "emergency stop engaged")

	running, err := m.runs.ListByStatus(ctx, domain.RunStatusRunning)
	if err != nil {
		return fmt.Errorf("emergency stop: %w", err)
	}
	for _, run := range running {
		if err := m.Pause(ctx, run.ID); err != nil && !errors.Is(err, domain.ErrInvalidTransition) {
			m.logger.ErrorContext(ctx, "failed to pause run during emergency stop", "run_id", run.ID, "error", err)
		}
	}
	return nil
}

// ResumeAll lifts an emergency stop: paused runs return to running and the
// waiting queue drains again.
func (m *Manager) ResumeAll(ctx context.Context) error {
	m.mu.Lock()
	m.emergencyStopped = false
	m.mu.Unlock()

	m.logger.InfoContext(ctx, "emergency stop lifted")

	paused, err := m.runs.ListByStatus(ctx, domain.RunStatusPaused)
	if err != nil {
		return fmt.Errorf("resume all: %w", err)
	}
	for _, run := range paused {
		if err := m.Resume(ctx, run.ID); err != nil && !errors.Is(err, domain.ErrInvalidTransition) {
			m.logger.ErrorContext(ctx, "failed to resume run", "run_id", run.ID, "error", err)
		}
	}

	m.dispatchWaiting(ctx)
	return nil
}

// ListRunning returns the runs the worker pool should be pulling from.
func (m *Manager) ListRunning(ctx context.Context) ([]*domain.AnalysisRun, error) {
	return m.runs.ListByStatus(ctx, domain.RunStatusRunning)
}

// RunState is the workers' pre-call check.
func (m *Manager) RunState(ctx context.Context, runID int64) (domain.RunStatus, error) {
	run, err := m.runs.GetByID(ctx, runID)
	if err != nil {
		return "", err
	}
	return run.Status, nil
}

// Get returns the current run row.
func (m *Manager) Get(ctx context.Context, runID int64) (*domain.AnalysisRun, error) {
	return m.runs.GetByID(ctx, runID)
}

// MaybeFinish checks whether every run item reached a terminal state and, if
// so, closes the run: failed when everything failed, completed otherwise.
// Safe to call after every item; only the last caller's CAS wins.
func (m *Manager) MaybeFinish(ctx context.Context, runID int64) error {
	counts, err := m.runItems.CountByState(ctx, runID)
	if err != nil {
		return fmt.Errorf("finish run %d: %w", runID, err)
	}
	if counts[domain.RunItemQueued] > 0 || counts[domain.RunItemProcessing] > 0 {
		return nil
	}

	total := counts[domain.RunItemCompleted] + counts[domain.RunItemFailed] + counts[domain.RunItemSkipped]
	target := domain.RunStatusCompleted
	if total > 0 && counts[domain.RunItemFailed] == total {
		target = domain.RunStatusFailed
	}

	err = m.transition(ctx, runID, []domain.RunStatus{domain.RunStatusRunning}, target)
	if errors.Is(err, domain.ErrInvalidTransition) {
		// Another worker already closed it, or the run was cancelled.
		return nil
	}
	if err != nil {
		return err
	}

	if err := m.finalizeCost(ctx, runID); err != nil {
		m.logger.ErrorContext(ctx, "failed to finalize run cost", "run_id", runID, "error", err)
	}

	m.releaseRun(ctx, runID)
	return nil
}

// transition is the single choke point for run state changes. It validates
// the edge, performs the store CAS, and emits the state-change event.
func (m *Manager) transition(ctx context.Context, runID int64, from []domain.RunStatus, to domain.RunStatus) error {
	legal := make([]domain.RunStatus, 0, len(from))
	for _, f := range from {
		if domain.CanTransition(f, to) {
			legal = append(legal, f)
		}
	}
	if len(legal) == 0 {
		return fmt.Errorf("run %d: no legal edge to %s: %w", runID, to, domain.ErrInvalidTransition)
	}

	ok, err := m.runs.Transition(ctx, runID, legal, to)
	if err != nil {
		return fmt.Errorf("run %d transition to %s: %w", runID, to, err)
	}
	if !ok {
		return fmt.Errorf("run %d is not in %v: %w", runID, legal, domain.ErrInvalidTransition)
	}

	ev := events.RunStateChanged{RunID: runID, To: to, At: time.Now()}
	if len(legal) == 1 {
		ev.From = legal[0]
	}
	m.logger.InfoContext(ctx, "run state changed", "run_id", runID, "from", ev.From, "to", to)
	m.bus.PublishRunStateChanged(ctx, ev)
	return nil
}

// DispatchQueued attempts to start waiting runs. The worker pool calls it
// every dispatch tick so a run held back by a rate cap starts as soon as the
// window rolls, without waiting for another confirm or release.
func (m *Manager) DispatchQueued(ctx context.Context) {
	m.dispatchWaiting(ctx)
}

// dispatchWaiting starts waiting runs while slots are free and the rate caps
// allow. FIFO by confirmation order; an over-cap run blocks the head of the
// queue rather than being skipped.
func (m *Manager) dispatchWaiting(ctx context.Context) {
	for {
		m.mu.Lock()
		if m.emergencyStopped || len(m.waiting) == 0 || len(m.slotHolders) >= m.cfg.MaxConcurrentRuns {
			m.mu.Unlock()
			return
		}
		head := m.waiting[0]
		m.mu.Unlock()

		// Rate caps gate starts, not confirmations: a held run stays queued
		// until the window rolls.
		if err := m.checkRateCaps(ctx, head.triggeredBy); err != nil {
			if !errors.Is(err, domain.ErrCapacityExceeded) {
				m.logger.ErrorContext(ctx, "failed to check run caps", "run_id", head.id, "error", err)
			}
			return
		}

		m.mu.Lock()
		if m.emergencyStopped || len(m.waiting) == 0 || m.waiting[0].id != head.id ||
			len(m.slotHolders) >= m.cfg.MaxConcurrentRuns {
			// Another dispatcher got here first while the caps were checked.
			m.mu.Unlock()
			continue
		}
		m.waiting = m.waiting[1:]
		m.slotHolders[head.id] = struct{}{}
		m.mu.Unlock()

		err := m.transition(ctx, head.id, []domain.RunStatus{domain.RunStatusQueued}, domain.RunStatusRunning)
		if err != nil {
			// The run was cancelled while waiting, or the store refused.
			// Give the slot back and keep draining.
			m.mu.Lock()
			delete(m.slotHolders, head.id)
			m.mu.Unlock()
			if !errors.Is(err, domain.ErrInvalidTransition) {
				m.logger.ErrorContext(ctx, "failed to start queued run", "run_id", head.id, "error", err)
				return
			}
		}
	}
}

// releaseRun frees the run's slot (if it held one), drops it from the waiting
// queue, and dispatches the next waiter.
func (m *Manager) releaseRun(ctx context.Context, runID int64) {
	m.mu.Lock()
	delete(m.slotHolders, runID)
	for i, w := range m.waiting {
		if w.id == runID {
			m.waiting = append(m.waiting[:i], m.waiting[i+1:]...)
			break
		}
	}
	m.mu.Unlock()

	m.dispatchWaiting(ctx)
}

// checkRateCaps enforces the daily and hourly run budgets. Manual and auto
// runs have separate daily budgets. The budgets count started runs, so a run
// held in the waiting queue never counts against itself.
func (m *Manager) checkRateCaps(ctx context.Context, triggeredBy domain.TriggeredBy) error {
	now := time.Now()

	dailyCap := m.cfg.MaxDailyRuns
	if triggeredBy == domain.TriggeredByAuto {
		dailyCap = m.cfg.MaxDailyAutoRuns
	}
	daily, err := m.runs.CountStartedSince(ctx, now.Add(-24*time.Hour), &triggeredBy)
	if err != nil {
		return err
	}
	if daily >= dailyCap {
		return fmt.Errorf("daily run cap reached (%d/%d): %w", daily, dailyCap, domain.ErrCapacityExceeded)
	}

	hourly, err := m.runs.CountStartedSince(ctx, now.Add(-time.Hour), nil)
	if err != nil {
		return err
	}
	if hourly >= m.cfg.MaxHourlyRuns {
		return fmt.Errorf("hourly run cap reached (%d/%d): %w", hourly, m.cfg.MaxHourlyRuns, domain.ErrCapacityExceeded)
	}
	return nil
}

func (m *Manager) applyParamDefaults(params domain.RunParams) domain.RunParams {
	if params.ModelTag == "" {
		params.ModelTag = m.cfg.DefaultModelTag
	}
	if params.RatePerSecond <= 0 {
		params.RatePerSecond = m.cfg.RatePerSecond
	}
	// Limit zero is an explicit empty run; only negative means "use default".
	if params.Limit < 0 {
		params.Limit = m.cfg.BatchLimit
	}
	if params.Limit > m.cfg.MaxBatchLimit {
		params.Limit = m.cfg.MaxBatchLimit
	}
	if params.TriggeredBy == "" {
		params.TriggeredBy = domain.TriggeredByManual
	}
	return params
}

func (m *Manager) finalizeCost(ctx context.Context, runID int64) error {
	cost, err := m.runItems.SumCost(ctx, runID)
	if err != nil {
		return err
	}
	return m.runs.SetActualCost(ctx, runID, cost)
}

// SetLastError records the most recent failure message on the run row.
func (m *Manager) SetLastError(ctx context.Context, runID int64, message string) {
	if err := m.runs.SetLastError(ctx, runID, message); err != nil {
		m.logger.ErrorContext(ctx, "failed to record run error", "run_id", runID, "error", err)
	}
}
