// Package pipeline orchestrates the ELT cycle: extraction jobs in
// dependency order, SQL transformation, and periodic dataset publishing.
package pipeline

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hydrocast/flood-elt/internal/adapter/duck"
	"github.com/hydrocast/flood-elt/internal/domain"
	"github.com/hydrocast/flood-elt/internal/observability"
)

// EventPublisher sends the cycle's run events to an external sink.
type EventPublisher interface {
	PublishRunEvents(ctx context.Context, events []domain.RunEvent) error
}

// Runner executes the job sequence on an interval until cancelled.
type Runner struct {
	jobs     []Job
	store    *duck.Store
	interval time.Duration
	logger   *slog.Logger
	metrics  *observability.Metrics
	events   EventPublisher // nil when run events are disabled

	ready     atomic.Bool
	mu        sync.Mutex
	lastCycle []domain.RunEvent
}

// NewRunner wires jobs in execution order. Order is a data dependency:
// streamflow, weather, and basin jobs all read the site inventory, and
// transform reads everything extraction wrote.
func NewRunner(jobs []Job, store *duck.Store, interval time.Duration,
	logger *slog.Logger, metrics *observability.Metrics, events EventPublisher) *Runner {
	return &Runner{
		jobs:     jobs,
		store:    store,
		interval: interval,
		logger:   logger,
		metrics:  metrics,
		events:   events,
	}
}

// CheckReadiness returns nil once a full cycle has completed, or an error
// describing why the service is not yet ready.
func (r *Runner) CheckReadiness(_ context.Context) error {
	if !r.ready.Load() {
		return errors.New("no pipeline cycle has completed yet")
	}
	return nil
}

// LastCycle returns the run events of the most recent cycle.
func (r *Runner) LastCycle() []domain.RunEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.RunEvent, len(r.lastCycle))
	copy(out, r.lastCycle)
	return out
}

// Run executes cycles until the context is cancelled. A failed cycle is
// retried with exponential backoff; a successful cycle sleeps the configured
// interval.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Info("pipeline runner started", "jobs", len(r.jobs), "interval", r.interval)
	r.metrics.RunnerRunning.Set(1)
	defer r.metrics.RunnerRunning.Set(0)

	// Failed cycles retry at 10s, doubling up to 10min. Upstream outages
	// (NWIS maintenance windows, Open-Meteo rate limits) routinely last
	// minutes.
	const initialBackoff = 10 * time.Second
	const maxBackoff = 10 * time.Minute
	backoff := initialBackoff

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("pipeline runner stopping", "reason", ctx.Err())
			return nil
		default:
		}

		if err := r.runCycle(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			r.logger.Error("cycle failed", "error", err, "retry_in", backoff)
			if !sleepWithContext(ctx, backoff) {
				return nil
			}
			backoff = nextBackoff(backoff, maxBackoff)
			continue
		}

		backoff = initialBackoff
		r.ready.Store(true)
		if !sleepWithContext(ctx, r.interval) {
			return nil
		}
	}
}

// runCycle runs every job in order. The first failure aborts the cycle;
// downstream jobs would only see stale or partial inputs.
func (r *Runner) runCycle(ctx context.Context) error {
	events := make([]domain.RunEvent, 0, len(r.jobs))
	var cycleErr error

	for _, job := range r.jobs {
		startedAt := domain.Now().UTC()
		start := time.Now()
		res, err := job.Run(ctx)
		elapsed := time.Since(start)

		ev := domain.RunEvent{
			Job:             job.Name(),
			RunID:           newRunID(),
			Status:          "ok",
			RecordsFetched:  res.Fetched,
			RecordsInserted: res.Inserted,
			Watermark:       res.Watermark,
			Incremental:     res.Incremental,
			StartedAt:       startedAt,
			Duration:        elapsed.Seconds(),
		}

		outcome := "ok"
		if err != nil {
			outcome = "error"
			ev.Status = "error"
			ev.Error = err.Error()
		}
		r.metrics.JobRuns.WithLabelValues(job.Name(), outcome).Inc()
		r.metrics.JobDuration.WithLabelValues(job.Name()).Observe(elapsed.Seconds())
		r.metrics.RecordsFetched.WithLabelValues(job.Name()).Add(float64(res.Fetched))
		r.metrics.RecordsInserted.WithLabelValues(job.Name()).Add(float64(res.Inserted))
		events = append(events, ev)

		switch {
		case err != nil:
			r.logger.Error("job failed", "job", job.Name(), "error", err, "duration", elapsed)
			cycleErr = fmt.Errorf("job %s: %w", job.Name(), err)
		case res.Skipped:
			r.logger.Debug("job skipped", "job", job.Name())
		default:
			r.logger.Info("job finished", "job", job.Name(),
				"fetched", res.Fetched, "inserted", res.Inserted,
				"incremental", res.Incremental, "duration", elapsed)
		}
		if cycleErr != nil {
			break
		}
	}

	r.mu.Lock()
	r.lastCycle = events
	r.mu.Unlock()

	if r.events != nil {
		if err := r.events.PublishRunEvents(ctx, events); err != nil {
			r.logger.Warn("publishing run events failed", "error", err)
		}
	}
	if cycleErr == nil {
		r.updateWatermarkAges(ctx)
	}
	return cycleErr
}

func (r *Runner) updateWatermarkAges(ctx context.Context) {
	if r.store == nil {
		return
	}
	now := domain.Now().UTC()
	for _, table := range []string{streamflowTable, weatherTable} {
		wm, err := r.store.HighWatermark(ctx, duck.RawSchema, table, "datetime")
		if err != nil || wm == nil {
			continue
		}
		r.metrics.WatermarkAge.WithLabelValues(table).Set(now.Sub(*wm).Seconds())
	}
}

func newRunID() string {
	var b [4]byte
	_, _ = rand.Read(b[:])
	return "run-" + hex.EncodeToString(b[:])
}

func nextBackoff(current, maxBackoff time.Duration) time.Duration {
	next := current * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
