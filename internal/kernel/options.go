package kernel

import (
	"context"
	"log/slog"
	"time"

	"garden-of-memory/pkg/garden"
)

const (
	defaultMembraneHookTimeout = 5 * time.Second
	defaultShutdownTimeout     = 10 * time.Second
	defaultSubscriptionBuffer  = 256
	defaultSubscriptionWorker  = 1
	defaultHandlerTimeout      = 3 * time.Second
	defaultTaskTimeout         = 30 * time.Second
)

// config stores resolved kernel runtime settings after option application.
type config struct {
	membraneHookTimeout time.Duration
	shutdownTimeout     time.Duration
	subscriptionBuffer  int
	subscriptionWorker  int
	handlerTimeout      time.Duration
	taskTimeout         time.Duration
	logger              *slog.Logger
	onAsyncError        func(context.Context, string, error)
	selectionStrategy   garden.SelectionStrategy
}

// Option mutates kernel construction configuration.
type Option func(*config)

// defaultConfig returns production-safe defaults for kernel runtime controls.
func defaultConfig() config {
	logger := slog.Default()

	return config{
		membraneHookTimeout: defaultMembraneHookTimeout,
		shutdownTimeout:     defaultShutdownTimeout,
		subscriptionBuffer:  defaultSubscriptionBuffer,
		subscriptionWorker:  defaultSubscriptionWorker,
		handlerTimeout:      defaultHandlerTimeout,
		taskTimeout:         defaultTaskTimeout,
		logger:              logger,
		onAsyncError: func(ctx context.Context, scope string, err error) {
			logger.ErrorContext(ctx, "garden async error", "scope", scope, "error", err)
		},
		selectionStrategy: garden.FirstRegistered,
	}
}

// WithMembraneHookTimeout configures OnRegister/OnStart/OnShutdown timeout boundaries.
func WithMembraneHookTimeout(timeout time.Duration) Option {
	return func(cfg *config) {
		if timeout > 0 {
			cfg.membraneHookTimeout = timeout
		}
	}
}

// WithShutdownTimeout configures overall kernel shutdown timeout.
func WithShutdownTimeout(timeout time.Duration) Option {
	return func(cfg *config) {
		if timeout > 0 {
			cfg.shutdownTimeout = timeout
		}
	}
}

// WithDefaultSubscriptionBuffer configures default subscriber queue depth.
func WithDefaultSubscriptionBuffer(size int) Option {
	return func(cfg *config) {
		if size > 0 {
			cfg.subscriptionBuffer = size
		}
	}
}

// WithDefaultSubscriptionWorkers configures default subscriber worker count.
//
// The default of one worker preserves per-subscription delivery order.
func WithDefaultSubscriptionWorkers(workers int) Option {
	return func(cfg *config) {
		if workers > 0 {
			cfg.subscriptionWorker = workers
		}
	}
}

// WithDefaultHandlerTimeout configures default per-event handler timeout.
func WithDefaultHandlerTimeout(timeout time.Duration) Option {
	return func(cfg *config) {
		if timeout > 0 {
			cfg.handlerTimeout = timeout
		}
	}
}

// WithTaskTimeout configures the per-task execution deadline at dispatch.
func WithTaskTimeout(timeout time.Duration) Option {
	return func(cfg *config) {
		if timeout > 0 {
			cfg.taskTimeout = timeout
		}
	}
}

// WithLogger configures logger used by kernel and default async error sink.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *config) {
		if logger == nil {
			return
		}

		cfg.logger = logger
		cfg.onAsyncError = func(ctx context.Context, scope string, err error) {
			logger.ErrorContext(ctx, "garden async error", "scope", scope, "error", err)
		}
	}
}

// WithAsyncErrorHandler configures asynchronous worker error reporting.
func WithAsyncErrorHandler(handler func(context.Context, string, error)) Option {
	return func(cfg *config) {
		if handler != nil {
			cfg.onAsyncError = handler
		}
	}
}

// WithSelectionStrategy configures how the dispatcher picks among multiple
// workers advertising the same capability.
func WithSelectionStrategy(strategy garden.SelectionStrategy) Option {
	return func(cfg *config) {
		if strategy != nil {
			cfg.selectionStrategy = strategy
		}
	}
}
