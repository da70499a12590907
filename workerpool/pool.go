// ABOUTME: This file implements the analysis worker pool and its dispatcher
// ABOUTME: Rate-limited LLM calls, per-item retries, fallback analyses, cooperative cancel
package workerpool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"newswatch/config"
	"newswatch/domain"
	"newswatch/featureflag"
	"newswatch/llm"
	"newswatch/metrics"
	"newswatch/repository"
	"newswatch/runmanager"
)

// ProviderFlag is the feature flag guarding the LLM analysis path. Workers
// feed its circuit breaker; a trip makes every item fall back to neutral.
const ProviderFlag = "llm_analysis"

// dispatchInterval is how often the dispatcher polls for running runs.
const dispatchInterval = time.Second

// retryDelays is the per-item backoff ladder for retryable provider errors.
var retryDelays = []time.Duration{time.Second, 4 * time.Second, 16 * time.Second}

type task struct {
	run  *domain.AnalysisRun
	item *domain.AnalysisRunItem
}

// Pool executes running analysis runs with bounded concurrency and per-run
// token buckets.
type Pool struct {
	manager  *runmanager.Manager
	runs     repository.AnalysisRunRepository
	runItems repository.RunItemRepository
	items    repository.ItemRepository
	analyses repository.ItemAnalysisRepository
	provider llm.Provider
	flags    *featureflag.Registry
	cfg      config.AnalysisConfig
	metrics  *metrics.Metrics
	logger   *slog.Logger

	tasks chan task

	mu       sync.Mutex
	limiters map[int64]*rate.Limiter

	wg sync.WaitGroup
}

// NewPool creates the analysis worker pool.
func NewPool(
	manager *runmanager.Manager,
	runs repository.AnalysisRunRepository,
	runItems repository.RunItemRepository,
	items repository.ItemRepository,
	analyses repository.ItemAnalysisRepository,
	provider llm.Provider,
	flags *featureflag.Registry,
	cfg config.AnalysisConfig,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Pool {
	size := cfg.MaxConcurrentRuns * cfg.PerRunWorkers
	return &Pool{
		manager:  manager,
		runs:     runs,
		runItems: runItems,
		items:    items,
		analyses: analyses,
		provider: provider,
		flags:    flags,
		cfg:      cfg,
		metrics:  m,
		logger:   logger,
		tasks:    make(chan task, size),
		limiters: make(map[int64]*rate.Limiter),
	}
}

// Run starts the workers and the dispatcher and blocks until the context is
// cancelled and all workers have drained.
func (p *Pool) Run(ctx context.Context) {
	size := p.cfg.MaxConcurrentRuns * p.cfg.PerRunWorkers
	p.logger.InfoContext(ctx, "analysis worker pool started",
		"workers", size, "per_run_workers", p.cfg.PerRunWorkers)

	for i := 0; i < size; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for t := range p.tasks {
				p.work(ctx, t)
			}
		}()
	}

	ticker := time.NewTicker(dispatchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			close(p.tasks)
			p.wg.Wait()
			p.logger.InfoContext(ctx, "analysis worker pool stopped")
			return
		case <-ticker.C:
			p.dispatch(ctx)
		}
	}
}

// dispatch pulls queued items from every running run and hands them to the
// workers. Items are claimed in id order; completion order is unordered.
func (p *Pool) dispatch(ctx context.Context) {
	// Runs held in the waiting queue by a rate cap start here once the
	// window rolls.
	p.manager.DispatchQueued(ctx)

	running, err := p.manager.ListRunning(ctx)
	if err != nil {
		p.logger.ErrorContext(ctx, "failed to list running runs", "error", err)
		return
	}
	p.pruneLimiters(running)

	for _, run := range running {
		claimed, err := p.runItems.ClaimQueued(ctx, run.ID, p.cfg.PerRunWorkers)
		if err != nil {
			p.logger.ErrorContext(ctx, "failed to claim run items", "run_id", run.ID, "error", err)
			continue
		}
		for _, item := range claimed {
			select {
			case p.tasks <- task{run: run, item: item}:
			case <-ctx.Done():
				p.requeue(context.WithoutCancel(ctx), run.ID, item.ItemID)
				return
			}
		}
	}
}

// work processes one claimed run item end to end.
func (p *Pool) work(ctx context.Context, t task) {
	runID := t.run.ID
	itemID := t.item.ItemID

	// Re-consult the manager before spending tokens: the run may have been
	// paused or cancelled since the claim.
	switch state, err := p.manager.RunState(ctx, runID); {
	case err != nil:
		p.logger.ErrorContext(ctx, "failed to read run state, requeueing item", "run_id", runID, "error", err)
		p.requeue(ctx, runID, itemID)
		return
	case state == domain.RunStatusPaused:
		p.requeue(ctx, runID, itemID)
		return
	case state == domain.RunStatusCancelled:
		p.skip(ctx, runID, itemID)
		return
	case state != domain.RunStatusRunning:
		p.requeue(ctx, runID, itemID)
		return
	}

	item, err := p.items.GetByID(ctx, itemID)
	if err != nil {
		p.fail(ctx, t, 0, fmt.Sprintf("load item: %v", err), false)
		return
	}

	if p.flags.ShortCircuited(ProviderFlag) {
		p.fail(ctx, t, 0, "analysis path disabled by circuit breaker", true)
		return
	}

	if err := p.limiterFor(runID, t.run.Params.RatePerSecond).Wait(ctx); err != nil {
		p.requeue(ctx, runID, itemID)
		return
	}

	analysis, err := p.analyzeWithRetries(ctx, t, item)
	if err != nil {
		p.fail(ctx, t, 0, err.Error(), true)
		return
	}
	if analysis == nil {
		// The run left running state mid-item; the pre-call check already
		// requeued or skipped it.
		return
	}

	p.complete(ctx, t, analysis)
}

// analyzeWithRetries runs the provider call with the backoff ladder. A nil,
// nil return means the run stopped being runnable and the item was already
// returned to the queue.
func (p *Pool) analyzeWithRetries(ctx context.Context, t task, item *domain.Item) (*llm.Analysis, error) {
	var lastErr error

	for attempt := 0; attempt <= len(retryDelays); attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(retryDelays[attempt-1]):
			case <-ctx.Done():
				p.requeue(ctx, t.run.ID, item.ID)
				return nil, nil
			}

			state, err := p.manager.RunState(ctx, t.run.ID)
			if err == nil && state != domain.RunStatusRunning {
				if state == domain.RunStatusCancelled {
					p.skip(ctx, t.run.ID, item.ID)
				} else {
					p.requeue(ctx, t.run.ID, item.ID)
				}
				return nil, nil
			}
		}

		start := time.Now()
		analysis, err := p.provider.Analyze(ctx, item, t.run.Params.ModelTag)
		latency := time.Since(start)
		p.flags.RecordMetric(ctx, ProviderFlag, err == nil, float64(latency.Milliseconds()))
		p.metrics.LLMCallDuration.Observe(latency.Seconds())

		if err == nil {
			return analysis, nil
		}
		lastErr = err

		if errors.Is(err, domain.ErrProviderRateLimit) {
			// Honor the provider by draining our own bucket plus jitter.
			p.drainLimiter(ctx, t.run.ID, t.run.Params.RatePerSecond)
		}
		if !llm.IsRetryable(err) {
			break
		}

		p.logger.WarnContext(ctx, "provider call failed, will retry",
			"run_id", t.run.ID, "item_id", item.ID, "attempt", attempt+1, "error", err)
	}

	return nil, lastErr
}

// complete records a successful analysis.
func (p *Pool) complete(ctx context.Context, t task, analysis *llm.Analysis) {
	doc := &domain.ItemAnalysis{
		ItemID:    t.item.ItemID,
		Sentiment: analysis.Sentiment,
		Impact:    analysis.Impact,
		ModelTag:  t.run.Params.ModelTag,
	}
	if err := p.analyses.Upsert(ctx, doc); err != nil {
		p.fail(ctx, t, analysis.TokensUsed, fmt.Sprintf("persist analysis: %v", err), false)
		return
	}

	ok, err := p.runItems.Transition(ctx, t.run.ID, t.item.ItemID,
		domain.RunItemProcessing, domain.RunItemCompleted,
		analysis.TokensUsed, analysis.CostUSD, nil)
	if err != nil || !ok {
		p.logger.ErrorContext(ctx, "failed to complete run item",
			"run_id", t.run.ID, "item_id", t.item.ItemID, "cas_ok", ok, "error", err)
		return
	}

	if err := p.runs.IncrementCounters(ctx, t.run.ID, 1, 0, analysis.CostUSD); err != nil {
		p.logger.ErrorContext(ctx, "failed to increment run counters", "run_id", t.run.ID, "error", err)
	}
	p.metrics.AnalysisItems.WithLabelValues("completed").Inc()

	p.logger.DebugContext(ctx, "item analyzed",
		"run_id", t.run.ID, "item_id", t.item.ItemID, "tokens", analysis.TokensUsed)

	p.finish(ctx, t.run.ID)
}

// fail closes the item as failed. When fallback is set a neutral analysis is
// written so every item ends with a usable document.
func (p *Pool) fail(ctx context.Context, t task, tokensUsed int, message string, fallback bool) {
	if fallback {
		doc := &domain.ItemAnalysis{
			ItemID:    t.item.ItemID,
			Sentiment: domain.NeutralSentiment(),
			Impact:    domain.NeutralImpact(),
			ModelTag:  t.run.Params.ModelTag,
		}
		if err := p.analyses.Upsert(ctx, doc); err != nil {
			p.logger.ErrorContext(ctx, "failed to write fallback analysis",
				"run_id", t.run.ID, "item_id", t.item.ItemID, "error", err)
		}
	}

	ok, err := p.runItems.Transition(ctx, t.run.ID, t.item.ItemID,
		domain.RunItemProcessing, domain.RunItemFailed,
		tokensUsed, 0, &message)
	if err != nil || !ok {
		p.logger.ErrorContext(ctx, "failed to fail run item",
			"run_id", t.run.ID, "item_id", t.item.ItemID, "cas_ok", ok, "error", err)
		return
	}

	if err := p.runs.IncrementCounters(ctx, t.run.ID, 0, 1, 0); err != nil {
		p.logger.ErrorContext(ctx, "failed to increment run counters", "run_id", t.run.ID, "error", err)
	}
	p.metrics.AnalysisItems.WithLabelValues("failed").Inc()
	p.manager.SetLastError(ctx, t.run.ID, message)

	p.logger.WarnContext(ctx, "item analysis failed",
		"run_id", t.run.ID, "item_id", t.item.ItemID, "error", message)

	p.finish(ctx, t.run.ID)
}

func (p *Pool) requeue(ctx context.Context, runID, itemID int64) {
	if _, err := p.runItems.Transition(ctx, runID, itemID,
		domain.RunItemProcessing, domain.RunItemQueued, 0, 0, nil); err != nil {
		p.logger.ErrorContext(ctx, "failed to requeue run item", "run_id", runID, "item_id", itemID, "error", err)
	}
}

func (p *Pool) skip(ctx context.Context, runID, itemID int64) {
	if _, err := p.runItems.Transition(ctx, runID, itemID,
		domain.RunItemProcessing, domain.RunItemSkipped, 0, 0, nil); err != nil {
		p.logger.ErrorContext(ctx, "failed to skip run item", "run_id", runID, "item_id", itemID, "error", err)
	}
	p.finish(ctx, runID)
}

func (p *Pool) finish(ctx context.Context, runID int64) {
	if err := p.manager.MaybeFinish(ctx, runID); err != nil {
		p.logger.ErrorContext(ctx, "failed to finalize run", "run_id", runID, "error", err)
	}
}

// limiterFor returns the run's shared token bucket: capacity ceil(rate),
// refill rate tokens per second.
func (p *Pool) limiterFor(runID int64, ratePerSecond float64) *rate.Limiter {
	if ratePerSecond <= 0 {
		ratePerSecond = p.cfg.RatePerSecond
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if limiter, ok := p.limiters[runID]; ok {
		return limiter
	}
	limiter := rate.NewLimiter(rate.Limit(ratePerSecond), int(math.Ceil(ratePerSecond)))
	p.limiters[runID] = limiter
	return limiter
}

// drainLimiter empties the run's bucket and sleeps a jittered beat so the
// whole run backs off after a provider 429.
func (p *Pool) drainLimiter(ctx context.Context, runID int64, ratePerSecond float64) {
	limiter := p.limiterFor(runID, ratePerSecond)
	for limiter.AllowN(time.Now(), 1) {
	}

	jitter := time.Duration(rand.Int63n(int64(500 * time.Millisecond)))
	select {
	case <-time.After(time.Second + jitter):
	case <-ctx.Done():
	}
}

// pruneLimiters drops buckets of runs that are no longer running so the map
// does not grow with run history.
func (p *Pool) pruneLimiters(running []*domain.AnalysisRun) {
	alive := make(map[int64]struct{}, len(running))
	for _, run := range running {
		alive[run.ID] = struct{}{}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for runID := range p.limiters {
		if _, ok := alive[runID]; !ok {
			delete(p.limiters, runID)
		}
	}
}
