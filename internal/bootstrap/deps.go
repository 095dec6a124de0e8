// Package bootstrap wires the dependency record and the fiber app. All
// state lives on Dependencies; nothing is module-global.
package bootstrap

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"mailsense/adapter/in/worker"
	"mailsense/adapter/out/persistence"
	"mailsense/config"
	"mailsense/core/agent/llm"
	"mailsense/core/domain"
	"mailsense/core/port/out"
	"mailsense/core/service/classify"
	"mailsense/core/service/digest"
	"mailsense/core/service/learning"
	"mailsense/pkg/ratelimit"
)

// staleSessionAge is how long a running session may sit before boot reaping
// marks it aborted.
const staleSessionAge = time.Hour

type Dependencies struct {
	Config  *config.Config
	Runtime *config.Runtime
	DB      *sqlx.DB
	Redis   *redis.Client

	// Repositories
	RuleRepo     out.RuleRepository
	FeedbackRepo out.FeedbackRepository
	AuditRepo    out.AuditRepository
	SessionRepo  out.SessionRepository
	CostRepo     out.CostRepository

	// Admission
	Limiter   *ratelimit.Limiter
	Breaker   *ratelimit.CostBreaker
	Debouncer *ratelimit.Debouncer

	// Core services
	LLMClient    *llm.Client
	RuleStore    *classify.RuleStore
	Learner      *learning.Service
	Orchestrator *classify.Orchestrator
	ClassifyPool *worker.ClassifyPool
	Digest       *digest.Service

	Logger zerolog.Logger
}

// NewDependencies constructs the full record. The returned cleanup closes
// every connection; callers defer it.
func NewDependencies(cfg *config.Config, policy *config.Policy, logger zerolog.Logger) (*Dependencies, func(), error) {
	deps := &Dependencies{
		Config:  cfg,
		Runtime: config.NewRuntime(policy),
		Logger:  logger,
	}
	clock := domain.RealClock{}

	db, err := persistence.Open(cfg.DatabasePath)
	if err != nil {
		return nil, nil, err
	}
	deps.DB = db

	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Warn().Err(err).Msg("invalid REDIS_URL, running without redis")
		} else {
			deps.Redis = redis.NewClient(opts)
			pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := deps.Redis.Ping(pingCtx).Err(); err != nil {
				logger.Warn().Err(err).Msg("redis unreachable, running without redis")
				deps.Redis.Close()
				deps.Redis = nil
			}
			cancel()
		}
	}

	deps.RuleRepo = persistence.NewRuleAdapter(db, clock)
	deps.FeedbackRepo = persistence.NewFeedbackAdapter(db, clock)
	deps.AuditRepo = persistence.NewAuditAdapter(db, clock)
	deps.SessionRepo = persistence.NewSessionAdapter(db, clock)
	deps.CostRepo = persistence.NewCostAdapter(db, clock)

	deps.Limiter = ratelimit.New(ratelimit.Config{
		RequestsPerMinute: policy.RequestsPerMinute,
		EmailsPerMinute:   policy.EmailsPerMinute,
		EmailsPerHour:     policy.EmailsPerHour,
		MaxIdentities:     policy.MaxTrackedIPs,
	}, clock)
	deps.Breaker = ratelimit.NewCostBreaker(deps.CostRepo, policy.DailyCostCapUSD, clock, func(reason string) {
		logger.Warn().Str("reason", reason).Msg("llm admission rejected")
	})
	deps.Debouncer = ratelimit.NewDebouncer(deps.Redis, cfg.DedupeWindow)

	deps.LLMClient = llm.NewClient(llm.ClientConfig{
		APIKey:        cfg.OpenAIAPIKey,
		Model:         cfg.LLMModel,
		MaxTokens:     cfg.LLMMaxTokens,
		Temperature:   cfg.LLMTemperature,
		Timeout:       time.Duration(cfg.LLMTimeoutSec) * time.Second,
		MaxRetries:    cfg.LLMMaxRetries,
		PromptVersion: cfg.PromptVersion,
	}, deps.CostRepo, clock, logger)

	deps.RuleStore = classify.NewRuleStore(deps.RuleRepo, logger)
	deps.Learner = learning.NewService(deps.FeedbackRepo, deps.RuleStore, clock, logger)
	deps.Orchestrator = classify.NewOrchestrator(
		classify.NewTypeMapper(),
		deps.RuleStore,
		deps.LLMClient,
		deps.Breaker,
		deps.Learner,
		deps.AuditRepo,
		deps.Runtime,
		clock,
		logger,
	)
	deps.ClassifyPool = worker.NewClassifyPool(deps.Orchestrator, worker.PoolConfig{
		Workers:    cfg.WorkerMax,
		QueueSize:  cfg.WorkerQueueSize,
		JobTimeout: cfg.JobTimeout,
	}, logger)

	links, err := digest.NewLinkBuilder(cfg.ProviderBaseURL)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	deps.Digest, err = digest.NewService(
		deps.LLMClient,
		links,
		nil,
		deps.Runtime,
		deps.SessionRepo,
		clock,
		logger,
	)
	if err != nil {
		db.Close()
		return nil, nil, err
	}

	cleanup := func() {
		if deps.Redis != nil {
			deps.Redis.Close()
		}
		db.Close()
	}
	return deps, cleanup, nil
}

// ReapStaleSessions aborts sessions left running by a previous process.
func (d *Dependencies) ReapStaleSessions(ctx context.Context) {
	n, err := d.Digest.ReapStaleSessions(ctx, staleSessionAge)
	if err != nil {
		d.Logger.Error().Err(err).Msg("stale session reap failed")
		return
	}
	if n > 0 {
		d.Logger.Info().Int64("count", n).Msg("reaped stale digest sessions")
	}
}
