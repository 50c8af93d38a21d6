package cmd

import (
	"log/slog"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/trace"

	"github.com/clubflow/clubflow/pkg/eventbus"
	"github.com/clubflow/clubflow/pkg/handlers"
	"github.com/clubflow/clubflow/pkg/persistence"
	"github.com/clubflow/clubflow/pkg/registry"
	"github.com/clubflow/clubflow/pkg/resolver"
	"github.com/clubflow/clubflow/pkg/workflow"
)

// Engine bundles the wired automation components a binary needs.
type Engine struct {
	Registry   *registry.Registry
	Resolver   *resolver.Resolver
	Executor   *workflow.Executor
	Manager    *workflow.Manager
	Dispatcher *workflow.Dispatcher
}

// NewEngine wires the registry, resolver, executor, enrollment manager and
// dispatcher around the given collaborators. The redis client and tracer
// may be nil.
func NewEngine(
	logger *slog.Logger,
	store persistence.Persistence,
	eventBus eventbus.EventBus,
	gateway *HTTPEntityGateway,
	redisClient *redis.Client,
	tracer trace.Tracer,
) (*Engine, error) {
	reg := registry.NewRegistry(logger)
	if err := handlers.RegisterAll(reg, gateway, gateway, nil); err != nil {
		return nil, err
	}

	res := resolver.NewResolver(gateway, logger)

	executor := workflow.NewExecutor(store, reg, res, eventBus, logger)
	manager := workflow.NewManager(store, reg, res, eventBus, logger)
	dispatcher := workflow.NewDispatcher(store, executor, manager, eventBus, logger)

	if redisClient != nil {
		dispatcher = dispatcher.WithRedis(redisClient)
	}

	if tracer != nil {
		executor = executor.WithTracer(tracer)
		dispatcher = dispatcher.WithTracer(tracer)
	}

	return &Engine{
		Registry:   reg,
		Resolver:   res,
		Executor:   executor,
		Manager:    manager,
		Dispatcher: dispatcher,
	}, nil
}
