// Command advisor runs the decision orchestration service: an HTTP
// ingress over the event pipeline plus the plan scheduler, backed by
// SQLite or Postgres and an optional Redis cache.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	_ "github.com/lib/pq"

	"github.com/crestline/advisor/pkg/admission"
	"github.com/crestline/advisor/pkg/api"
	"github.com/crestline/advisor/pkg/config"
	"github.com/crestline/advisor/pkg/contracts"
	"github.com/crestline/advisor/pkg/dlq"
	"github.com/crestline/advisor/pkg/event"
	"github.com/crestline/advisor/pkg/filter"
	"github.com/crestline/advisor/pkg/notify"
	"github.com/crestline/advisor/pkg/observability"
	"github.com/crestline/advisor/pkg/orchestrator"
	"github.com/crestline/advisor/pkg/policy"
	"github.com/crestline/advisor/pkg/reasoning"
	"github.com/crestline/advisor/pkg/scheduler"
	"github.com/crestline/advisor/pkg/store"
)

func main() {
	if err := run(); err != nil {
		slog.Error("advisor exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Load()
	setupLogging(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	obs, err := observability.New(ctx, &observability.Config{
		ServiceName:    "advisor",
		ServiceVersion: "1.0.0",
		Environment:    cfg.ServiceEnvironment,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		SampleRate:     1.0,
		BatchTimeout:   5 * time.Second,
		Enabled:        cfg.ObservabilityOn,
		Insecure:       cfg.ServiceEnvironment != "production",
	})
	if err != nil {
		return fmt.Errorf("observability: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = obs.Shutdown(shutdownCtx)
	}()
	metrics := obs.Metrics

	decisions, outcomes, closeStore, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}
	defer closeStore()
	memory := store.NewMemory(decisions, outcomes)

	var redisClient *redis.Client
	var summaries store.SummaryCache
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("redis url: %w", err)
		}
		redisClient = redis.NewClient(opts)
		defer func() { _ = redisClient.Close() }()
		summaries = store.NewRedisSummaryCache(redisClient)
	}

	policies := buildPolicyStore(cfg, redisClient, metrics)

	validator, err := event.NewValidator()
	if err != nil {
		return fmt.Errorf("validator: %w", err)
	}
	sigFilter, err := filter.New()
	if err != nil {
		return fmt.Errorf("filter: %w", err)
	}

	invoker := reasoning.NewInvoker(cfg.ReasoningDefaultMode)
	registerReasoningModes(invoker)

	queue := dlq.NewQueue(cfg.DLQMaxSize, dlq.DropOldest, dlq.Hooks{
		OnEnqueue:      func(int) { metrics.DLQSize(ctx, 1) },
		OnRetry:        func() { metrics.DLQRetry(ctx) },
		OnDropOverflow: func() { metrics.DLQDropped(ctx, "overflow"); metrics.DLQSize(ctx, -1) },
		OnDropTerminal: func() { metrics.DLQDropped(ctx, "max_attempts"); metrics.DLQSize(ctx, -1) },
		OnPersisted:    func(int) { metrics.DecisionPersisted(ctx); metrics.DLQSize(ctx, -1) },
	})
	dlqWorker := dlq.NewWorker(queue, decisions.AppendDecision, dlq.WorkerConfig{
		MaxAttempts: cfg.DLQMaxAttempts,
		BackoffBase: cfg.DLQBackoffBase,
		BackoffMult: cfg.DLQBackoffMult,
		BackoffCap:  cfg.DLQBackoffCap,
	})
	go dlqWorker.Run(ctx)

	notifier, err := buildNotifier(ctx, cfg, metrics)
	if err != nil {
		return fmt.Errorf("notifier: %w", err)
	}
	defer notifier.Wait()

	auditRing := observability.NewPolicyAuditRing(0)

	orch := orchestrator.New(orchestrator.Config{
		DefaultReasoningTimeoutMs: cfg.ReasoningTimeoutMs,
	}, orchestrator.Deps{
		Validator: validator,
		Dedup:     admission.NewDedupCache(cfg.DedupTTL, cfg.DedupMaxEntries),
		Cooldown:  admission.NewCooldown(),
		Policies:  policies,
		Invoker:   invoker,
		Filter:    sigFilter,
		Decisions: decisions,
		Memory:    memory,
		DLQ:       queue,
		Notifier:  notifier,
		Summaries: summaries,
		Metrics:   metrics,
		Audit:     auditRing,
	})

	sched := scheduler.New(dispatcher(), func(name string, result *contracts.PlanResult) {
		slog.Info("plan completed", "event", name,
			"plan_id", result.PlanID, "status", result.Status, "duration_ms", result.DurationMs)
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           api.NewServer(orch, sched, memory, auditRing).WithOutcomes(outcomes).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("advisor listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// openStore selects the decision store from DATABASE_URL: postgres://
// URLs open a Postgres pool, anything else is a SQLite path.
func openStore(cfg *config.Config) (store.DecisionStore, store.OutcomeStore, func(), error) {
	if strings.HasPrefix(cfg.DatabaseURL, "postgres://") || strings.HasPrefix(cfg.DatabaseURL, "postgresql://") {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, nil, nil, err
		}
		pg := store.NewPostgresStore(db, store.DefaultWriteTimeout)
		return pg, pg, func() { _ = db.Close() }, nil
	}

	db, err := sql.Open("sqlite", cfg.DatabaseURL)
	if err != nil {
		return nil, nil, nil, err
	}
	// modernc sqlite serializes writes; one connection avoids lock churn.
	db.SetMaxOpenConns(1)
	sq, err := store.NewSQLiteStore(db, store.DefaultWriteTimeout)
	if err != nil {
		_ = db.Close()
		return nil, nil, nil, err
	}
	return sq, sq, func() { _ = db.Close() }, nil
}

func buildPolicyStore(cfg *config.Config, redisClient *redis.Client, metrics *observability.Metrics) *policy.Store {
	backends := []policy.Backend{
		policy.NewConfigBackend(map[string]map[string]any{
			policy.PolicyCooldown: {"default_ms": cfg.CooldownDefaultMs},
		}),
	}
	if cfg.PolicyRemoteURL != "" {
		circuitOpen := metrics.RegisterCircuitState("remote")
		backends = append(backends, policy.NewRemoteBackend(policy.RemoteConfig{
			BaseURL:          cfg.PolicyRemoteURL,
			Timeout:          cfg.PolicyRemoteTimeout,
			FailureThreshold: uint32(cfg.PolicyCircuitThreshold),
			CoolOff:          cfg.PolicyCircuitCoolOff,
			OnStateChange:    circuitOpen.Store,
		}))
	}
	if redisClient != nil {
		backends = append(backends, policy.NewRedisBackend(redisClient))
	}
	backends = append(backends, policy.NewDefaultBackend())

	ps := policy.NewStore(cfg.PolicyCacheTTL, backends...)
	ps.OnBackendFailure = func(backend string) {
		metrics.PolicyBackendFailure(context.Background(), backend)
	}
	return ps
}

func buildNotifier(ctx context.Context, cfg *config.Config, metrics *observability.Metrics) (*notify.Notifier, error) {
	var channels []notify.Channel
	if cfg.ChannelProfilePath != "" {
		loaded, err := notify.LoadChannels(cfg.ChannelProfilePath)
		if err != nil {
			return nil, err
		}
		channels = loaded
	}
	return notify.New(channels, notify.Config{
		MaxConcurrency:    cfg.NotifierMaxConcurrency,
		Retries:           cfg.NotifierRetries,
		BackoffBase:       cfg.NotifierBackoffBase,
		BackoffMult:       cfg.NotifierBackoffMult,
		HTTPTimeout:       cfg.NotifierTimeout,
		NotifyLevel:       cfg.NotifyLevel,
		MinWarnConfidence: cfg.MinWarnConfidence,
	}, notify.Hooks{
		OnError: func(channel string) { metrics.NotificationError(ctx, channel) },
		OnDelivered: func(channel string, elapsed time.Duration) {
			metrics.NotificationDelivered(ctx, channel, float64(elapsed.Milliseconds()))
		},
	}), nil
}

// registerReasoningModes installs the built-in passthrough mode. Host
// deployments register their own strategies here.
func registerReasoningModes(inv *reasoning.Invoker) {
	inv.Register("default", func(_ context.Context, ev *contracts.Event, _ reasoning.Memory) ([]contracts.AdvisorySignal, error) {
		return []contracts.AdvisorySignal{{
			SignalType: contracts.SignalOptimizationHint,
			Payload:    map[string]any{"event_type": ev.EventType, "symbol": ev.Symbol},
			Confidence: contracts.Float64Ptr(0.5),
		}}, nil
	})
}

// dispatcher returns the built-in step dispatcher: it recognizes only
// the no-op action used for connectivity checks and rejects the rest.
func dispatcher() scheduler.Dispatcher {
	return scheduler.DispatchFunc(func(_ context.Context, step *contracts.PlanStep, _ *contracts.ExecutionContext) (any, *contracts.ExecutionError) {
		switch step.Action {
		case "noop":
			return map[string]any{"ok": true}, nil
		default:
			return nil, contracts.NewExecutionError(contracts.CodeActionNotFound, contracts.SeverityFatal,
				"unknown action: "+step.Action)
		}
	})
}

func setupLogging(level string) {
	var l slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		l = slog.LevelDebug
	case "WARN":
		l = slog.LevelWarn
	case "ERROR":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: l})))
}
