// Package worker runs classification batches on a bounded go-pkgz pool.
package worker

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/go-pkgz/pool"
	"github.com/rs/zerolog"

	"mailsense/core/domain"
)

// Classifier is the single-message entry point. Implemented by the
// classify orchestrator.
type Classifier interface {
	Classify(ctx context.Context, userID string, email *domain.InboundEmail) (*domain.Classification, error)
}

// PoolConfig bounds a batch run.
type PoolConfig struct {
	Workers    int
	QueueSize  int
	JobTimeout time.Duration
}

func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		Workers:    8,
		QueueSize:  1000,
		JobTimeout: 60 * time.Second,
	}
}

// PoolMetrics counts outcomes across all batches.
type PoolMetrics struct {
	Processed int64
	Failed    int64
}

// ClassifyPool fans a batch out over a bounded worker group and collects
// results in input order. Item failures degrade to fallback results so one
// bad message never sinks the batch.
type ClassifyPool struct {
	classifier Classifier
	cfg        PoolConfig
	log        zerolog.Logger

	processed int64
	failed    int64
}

func NewClassifyPool(classifier Classifier, cfg PoolConfig, log zerolog.Logger) *ClassifyPool {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultPoolConfig().Workers
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = DefaultPoolConfig().JobTimeout
	}
	return &ClassifyPool{
		classifier: classifier,
		cfg:        cfg,
		log:        log.With().Str("component", "classify_pool").Logger(),
	}
}

type classifyJob struct {
	index int
	email domain.InboundEmail
}

// Run classifies every email in the batch. Results land at the same index as
// their input. The only error returned is context cancellation; everything
// else becomes a per-item fallback.
func (p *ClassifyPool) Run(ctx context.Context, userID string, emails []domain.InboundEmail) ([]domain.Classification, error) {
	results := make([]domain.Classification, len(emails))

	workers := p.cfg.Workers
	if len(emails) < workers {
		workers = len(emails)
	}
	if workers == 0 {
		return results, nil
	}

	jobWorker := pool.WorkerFunc[classifyJob](func(ctx context.Context, job classifyJob) error {
		results[job.index] = p.classifyOne(ctx, userID, &job.email)
		return nil
	})
	group := pool.New[classifyJob](workers, jobWorker).WithContinueOnError()

	if err := group.Go(ctx); err != nil {
		return nil, err
	}
	for i := range emails {
		group.Submit(classifyJob{index: i, email: emails[i]})
	}
	if err := group.Close(ctx); err != nil {
		return nil, err
	}
	return results, nil
}

// classifyOne applies the per-job timeout and maps any surfaced error to the
// degraded result. Each index is written by exactly one worker.
func (p *ClassifyPool) classifyOne(ctx context.Context, userID string, email *domain.InboundEmail) domain.Classification {
	jobCtx, cancel := context.WithTimeout(ctx, p.cfg.JobTimeout)
	defer cancel()

	c, err := p.classifier.Classify(jobCtx, userID, email)
	if err != nil {
		atomic.AddInt64(&p.failed, 1)
		p.log.Warn().Err(err).Str("message_id", email.ID).Msg("classification failed, degrading")
		return degraded(email.ID)
	}
	atomic.AddInt64(&p.processed, 1)
	return *c
}

func degraded(messageID string) domain.Classification {
	return domain.Classification{
		MessageID:    messageID,
		Type:         domain.TypeUncategorized,
		TypeConf:     0.0,
		Attention:    domain.AttentionNone,
		Importance:   domain.ImportanceRoutine,
		Relationship: domain.FromUnknown,
		ClientLabel:  domain.LabelEverythingElse,
		Decider:      domain.DeciderFallback,
		Reason:       "classification unavailable",
	}
}

// Metrics returns lifetime counters.
func (p *ClassifyPool) Metrics() PoolMetrics {
	return PoolMetrics{
		Processed: atomic.LoadInt64(&p.processed),
		Failed:    atomic.LoadInt64(&p.failed),
	}
}
