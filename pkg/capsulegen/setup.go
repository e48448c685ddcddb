package capsulegen

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/caplearn/capsulegen/pkg/capsulegen/breaker"
	"github.com/caplearn/capsulegen/pkg/capsulegen/checkpoint"
	"github.com/caplearn/capsulegen/pkg/capsulegen/config"
	"github.com/caplearn/capsulegen/pkg/capsulegen/llm"
	"github.com/caplearn/capsulegen/pkg/capsulegen/observability"
	"github.com/caplearn/capsulegen/pkg/capsulegen/stage"
)

// Service bundles a configured Generator with the resources it owns.
type Service struct {
	*Generator

	snapshots checkpoint.Store
	redis     *redis.Client
}

// Close releases the service's resources.
func (s *Service) Close() error {
	var first error
	if s.snapshots != nil {
		if err := s.snapshots.Close(); err != nil {
			first = err
		}
	}
	if s.redis != nil {
		if err := s.redis.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// NewService builds a fully wired generation service from settings: the
// logger, circuit breaker (with Redis-shared state when enabled), the
// resilient provider caller, stage executor, and snapshot store.
func NewService(client llm.Client, settings config.Settings) (*Service, error) {
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}

	logger := observability.NewLogger(os.Stderr, settings.SlogLevel())
	metrics := observability.NewMetricsRecorder()
	spans := observability.NewSpanManager()

	svc := &Service{}

	var brkStore breaker.Store
	if settings.Redis.Enabled {
		svc.redis = redis.NewClient(&redis.Options{
			Addr:     settings.Redis.Addr,
			Password: settings.Redis.Password,
			DB:       settings.Redis.DB,
		})
		brkStore = breaker.NewRedisStore(svc.redis, settings.Redis.KeyPrefix)
	} else {
		brkStore = breaker.NewMemoryStore()
	}
	brk := breaker.New(brkStore, settings.BreakerConfig(),
		breaker.WithLogger(logger),
		breaker.WithOnTransition(func(provider string, from, to breaker.State) {
			metrics.RecordBreakerTransition(context.Background(), provider, string(from), string(to))
		}),
	)

	caller := llm.NewCaller(settings.Provider, client, brk,
		llm.WithLogger(logger),
		llm.WithMetrics(metrics),
		llm.WithTimeouts(time.Duration(settings.Timeouts.Call), time.Duration(settings.Timeouts.AttachmentCall)),
	)
	exec := stage.NewExecutor(caller, logger, metrics)
	exec.Spans = spans

	var snapshots checkpoint.Store
	var err error
	switch settings.Snapshots.Backend {
	case config.BackendSQLite:
		snapshots, err = checkpoint.NewSQLiteStore(settings.Snapshots.Path)
		if err != nil {
			svc.Close()
			return nil, fmt.Errorf("open snapshot store: %w", err)
		}
	default:
		snapshots = checkpoint.NewMemoryStore()
	}
	svc.snapshots = snapshots

	svc.Generator = NewGenerator(exec,
		WithLogger(logger),
		WithMetrics(metrics),
		WithSpans(spans),
		WithSnapshotStore(snapshots),
		WithStageRetries(settings.Orchestration.StageRetries),
		WithRetryDelay(time.Duration(settings.Orchestration.RetryDelay)),
		WithDefaultDifficulty(settings.Difficulty),
	)
	return svc, nil
}
