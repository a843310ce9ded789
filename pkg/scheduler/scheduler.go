// Package scheduler drives the batch evaluation pipeline: it walks the
// remaining posts in archive order, paces provider calls through the
// governor, enforces the daily quota, retries transient failures and
// commits resumable progress after every batch.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/postaudit/postaudit/pkg/archive"
	"github.com/postaudit/postaudit/pkg/checkpoint"
	"github.com/postaudit/postaudit/pkg/config"
	"github.com/postaudit/postaudit/pkg/evaluator"
	"github.com/postaudit/postaudit/pkg/pacing"
	"github.com/postaudit/postaudit/pkg/quota"
	"github.com/postaudit/postaudit/pkg/retry"
)

// Prometheus metrics for the batch pipeline.
var (
	postsProcessedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "postaudit_posts_processed_total",
		Help: "Total posts processed across all runs of this process",
	})

	postsFlaggedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "postaudit_posts_flagged_total",
		Help: "Total posts flagged by the provider",
	})

	postErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "postaudit_post_errors_total",
		Help: "Total posts that failed evaluation after retries",
	})

	batchesCompletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "postaudit_batches_completed_total",
		Help: "Total batches committed to the checkpoint",
	})
)

// Evaluator is the provider collaborator invoked once per post.
type Evaluator interface {
	Evaluate(ctx context.Context, post archive.Post, criteria config.Criteria) (evaluator.Result, error)
}

// Reporter renders the accumulated results on successful completion.
type Reporter interface {
	WriteResults(results []evaluator.Result) error
}

// Outcome describes how a run ended.
type Outcome int

const (
	// OutcomeCompleted means every remaining post was processed and the
	// results were written.
	OutcomeCompleted Outcome = iota

	// OutcomeQuotaPaused means the daily quota halted the run; the
	// checkpoint was persisted and no output was written.
	OutcomeQuotaPaused

	// OutcomeCancelled means the run was interrupted by the operator;
	// the last committed checkpoint is intact.
	OutcomeCancelled
)

// String implements fmt.Stringer.
func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomeQuotaPaused:
		return "quota_paused"
	case OutcomeCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Config holds scheduler parameters.
type Config struct {
	// BatchSize is the number of posts per checkpoint commit.
	BatchSize int

	// BatchPause is the delay between batches, smoothing provider load
	// across the whole run. Distinct from the per-call governor delay.
	BatchPause time.Duration

	// Criteria is passed through to the evaluator on every call.
	Criteria config.Criteria

	// RetryPolicy governs transient-failure retries.
	RetryPolicy retry.Policy
}

// Scheduler orchestrates the governor, ledger, checkpoint store, retry
// policy and evaluator. It owns the checkpoint exclusively.
type Scheduler struct {
	governor *pacing.Governor
	ledger   *quota.Ledger
	store    *checkpoint.Store
	eval     Evaluator
	reporter Reporter
	config   Config
	logger   zerolog.Logger
}

// New creates a scheduler.
func New(cfg Config, governor *pacing.Governor, ledger *quota.Ledger, store *checkpoint.Store, eval Evaluator, reporter Reporter, logger zerolog.Logger) *Scheduler {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.RetryPolicy.MaxAttempts == 0 {
		cfg.RetryPolicy = retry.DefaultPolicy()
	}

	return &Scheduler{
		governor: governor,
		ledger:   ledger,
		store:    store,
		eval:     eval,
		reporter: reporter,
		config:   cfg,
		logger:   logger,
	}
}

// Run processes all posts not yet recorded in the checkpoint. Item-level
// evaluation failures never abort the run; it returns a non-nil error
// only for unrecoverable conditions (checkpoint or output I/O).
func (s *Scheduler) Run(ctx context.Context, posts []archive.Post) (Outcome, error) {
	cp, err := s.store.Load()
	if err != nil {
		return OutcomeCancelled, fmt.Errorf("load checkpoint: %w", err)
	}

	processed := make(map[string]struct{})
	var lastID string
	flagged, errCount := 0, 0

	if cp != nil {
		processed = cp.ProcessedSet()
		lastID = cp.LastProcessedID
		flagged = cp.FlaggedCount
		errCount = cp.ErrorCount

		s.logger.Info().
			Int("already_processed", len(processed)).
			Msg("Resuming from checkpoint")
	} else {
		s.logger.Info().Msg("No checkpoint found, starting fresh")
	}

	var remaining []archive.Post
	for _, p := range posts {
		if _, done := processed[p.IDStr]; !done {
			remaining = append(remaining, p)
		}
	}

	var results []evaluator.Result

	if len(remaining) == 0 {
		s.logger.Info().Msg("All posts already processed")
		return s.finalize(results)
	}

	totalBatches := (len(remaining) + s.config.BatchSize - 1) / s.config.BatchSize
	s.logger.Info().
		Int("remaining", len(remaining)).
		Int("skipped", len(processed)).
		Int("batches", totalBatches).
		Int("batch_size", s.config.BatchSize).
		Msg("Starting batch processing")

	prog := newProgress(s.logger)
	prog.start(len(remaining))

	for batchNum := 0; batchNum < totalBatches; batchNum++ {
		start := batchNum * s.config.BatchSize
		end := min(start+s.config.BatchSize, len(remaining))
		batch := remaining[start:end]

		s.logger.Info().
			Int("batch", batchNum+1).
			Int("batches", totalBatches).
			Int("posts", len(batch)).
			Msg("Processing batch")

		for _, post := range batch {
			if err := s.ledger.CheckQuota(); err != nil {
				if !errors.Is(err, quota.ErrQuotaExhausted) {
					return OutcomeCancelled, fmt.Errorf("quota check: %w", err)
				}

				// Persist everything accumulated so far; the next
				// invocation resumes from here after the reset.
				s.logger.Warn().
					Str("resets", s.ledger.ResetTimeDescription()).
					Msg("Daily quota reached - pausing run")

				if err := s.saveCheckpoint(processed, lastID, len(posts), flagged, errCount); err != nil {
					return OutcomeQuotaPaused, err
				}
				return OutcomeQuotaPaused, nil
			}

			result, err := s.evaluatePost(ctx, post)
			if err != nil {
				// Only cancellation surfaces here; the last committed
				// checkpoint stays as-is.
				s.logger.Warn().Err(err).Msg("Run interrupted")
				return OutcomeCancelled, nil
			}

			results = append(results, result)
			processed[post.IDStr] = struct{}{}
			lastID = post.IDStr

			postsProcessedTotal.Inc()
			if result.Failed() {
				errCount++
				postErrorsTotal.Inc()
			} else if result.ShouldFlag {
				flagged++
				postsFlaggedTotal.Inc()
			}

			prog.increment()
		}

		if err := s.saveCheckpoint(processed, lastID, len(posts), flagged, errCount); err != nil {
			return OutcomeCancelled, err
		}
		batchesCompletedTotal.Inc()

		if batchNum < totalBatches-1 && s.config.BatchPause > 0 {
			s.logger.Info().
				Dur("pause", s.config.BatchPause).
				Msg("Pausing before next batch")

			select {
			case <-ctx.Done():
				s.logger.Warn().Msg("Run interrupted during batch pause")
				return OutcomeCancelled, nil
			case <-time.After(s.config.BatchPause):
			}
		}
	}

	prog.complete()

	outcome, err := s.finalize(results)
	if err != nil {
		return outcome, err
	}

	s.logger.Info().
		Int("processed", len(results)).
		Int("flagged", flagged).
		Int("errors", errCount).
		Int("clean", len(results)-flagged-errCount).
		Msg("Audit complete")

	return outcome, nil
}

// evaluatePost runs one post through the governor, evaluator and retry
// policy. It returns an error only when the context is cancelled; any
// provider failure becomes an item-level failure result.
func (s *Scheduler) evaluatePost(ctx context.Context, post archive.Post) (evaluator.Result, error) {
	for attempt := 1; ; attempt++ {
		if err := s.governor.Wait(ctx); err != nil {
			return evaluator.Result{}, err
		}

		start := time.Now()
		result, err := s.eval.Evaluate(ctx, post, s.config.Criteria)
		latency := time.Since(start)

		if err == nil {
			s.governor.OnSuccess(latency)
			s.ledger.IncrementRequestCount()

			s.logger.Info().
				Str("post_id", post.IDStr).
				Bool("should_flag", result.ShouldFlag).
				Dur("latency", latency).
				Msg("Post evaluated")

			return result, nil
		}

		if ctx.Err() != nil {
			return evaluator.Result{}, fmt.Errorf("evaluation interrupted: %w", ctx.Err())
		}

		class := errorClass(err)
		switch class {
		case evaluator.ErrorClassRateLimit:
			s.governor.OnRateLimited()
		case evaluator.ErrorClassServer:
			s.governor.OnServerError()
		}

		decision := s.config.RetryPolicy.Decide(class, attempt)
		if !decision.Retry {
			s.logger.Error().
				Err(err).
				Str("post_id", post.IDStr).
				Str("error_class", string(class)).
				Int("attempts", attempt).
				Msg("Post evaluation failed")

			return evaluator.NewFailure(post.IDStr, "evaluation failed: "+err.Error()), nil
		}

		s.logger.Warn().
			Err(err).
			Str("post_id", post.IDStr).
			Str("error_class", string(class)).
			Int("attempt", attempt).
			Dur("backoff", decision.After).
			Msg("Retrying post evaluation")

		select {
		case <-ctx.Done():
			return evaluator.Result{}, fmt.Errorf("retry backoff interrupted: %w", ctx.Err())
		case <-time.After(decision.After):
		}
	}
}

// errorClass extracts the classification from a provider error.
// Unclassified errors (e.g. malformed responses) are permanent.
func errorClass(err error) evaluator.ErrorClass {
	var pe *evaluator.ProviderError
	if errors.As(err, &pe) {
		return pe.Class
	}
	return evaluator.ErrorClassClient
}

func (s *Scheduler) saveCheckpoint(processed map[string]struct{}, lastID string, totalPosts, flagged, errCount int) error {
	ids := make([]string, 0, len(processed))
	for id := range processed {
		ids = append(ids, id)
	}

	cp := &checkpoint.Checkpoint{
		LastProcessedID: lastID,
		ProcessedIDs:    ids,
		TotalProcessed:  len(ids),
		TotalPosts:      totalPosts,
		FlaggedCount:    flagged,
		ErrorCount:      errCount,
	}

	if err := s.store.Save(cp); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

// finalize writes the output and deletes the checkpoint. Reached only on
// full, uninterrupted completion of the remaining work.
func (s *Scheduler) finalize(results []evaluator.Result) (Outcome, error) {
	if err := s.reporter.WriteResults(results); err != nil {
		return OutcomeCancelled, fmt.Errorf("write results: %w", err)
	}

	if err := s.store.Delete(); err != nil {
		return OutcomeCancelled, fmt.Errorf("delete checkpoint: %w", err)
	}

	return OutcomeCompleted, nil
}
