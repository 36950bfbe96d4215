package kernel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"garden-of-memory/pkg/garden"
)

// Kernel is the runtime core hosting membranes, sources, and the event bus.
//
// It owns worker lifecycle and wiring only; all store mutation flows through
// the ledger registered as a service, which the kernel never touches itself.
type Kernel struct {
	cfg config

	bus          *EventBus
	services     *ServiceRegistry
	capabilities *CapabilityRegistry
	dispatcher   *Dispatcher

	mu            sync.RWMutex
	membranes     map[string]*membraneRecord
	membraneOrder []string
	sources       map[string]garden.Source
	sourceOrder   []string

	runMu   sync.Mutex
	running bool
}

// New creates a new kernel runtime.
func New(options ...Option) *Kernel {
	cfg := defaultConfig()
	for _, option := range options {
		option(&cfg)
	}

	services := NewServiceRegistry()
	bus := NewEventBus(
		cfg.subscriptionBuffer,
		cfg.subscriptionWorker,
		cfg.handlerTimeout,
		cfg.onAsyncError,
	)
	capabilities := NewCapabilityRegistry()
	dispatcher := NewDispatcher(capabilities, cfg.selectionStrategy, bus, cfg.taskTimeout, cfg.onAsyncError)

	kernelRuntime := &Kernel{
		cfg:           cfg,
		bus:           bus,
		services:      services,
		capabilities:  capabilities,
		dispatcher:    dispatcher,
		membranes:     make(map[string]*membraneRecord),
		sources:       make(map[string]garden.Source),
		membraneOrder: make([]string, 0),
		sourceOrder:   make([]string, 0),
	}
	if err := kernelRuntime.services.Register(garden.ServiceCapabilities, capabilities); err != nil {
		cfg.onAsyncError(context.Background(), "register capability registry service", err)
	}
	if err := kernelRuntime.services.Register(garden.ServiceDispatcher, dispatcher); err != nil {
		cfg.onAsyncError(context.Background(), "register dispatcher service", err)
	}

	return kernelRuntime
}

// EventBus exposes the kernel event bus to integration code.
func (k *Kernel) EventBus() garden.EventBus {
	return k.bus
}

// Services exposes the kernel service registry.
func (k *Kernel) Services() garden.ServiceRegistry {
	return k.services
}

// Dispatcher exposes the kernel task dispatcher.
func (k *Kernel) Dispatcher() garden.TaskDispatcher {
	return k.dispatcher
}

// RegisterService registers a runtime service singleton.
func (k *Kernel) RegisterService(name string, service any) error {
	if err := k.services.Register(name, service); err != nil {
		return fmt.Errorf("register service %s: %w", name, err)
	}

	return nil
}

// RegisterMembrane registers a lifecycle-aware membrane, advertises its
// capabilities, runs optional registration, and wires declarative handlers.
func (k *Kernel) RegisterMembrane(ctx context.Context, membrane garden.Membrane) error {
	if membrane == nil {
		return fmt.Errorf("register membrane: nil membrane")
	}
	name := membrane.Name()
	if name == "" {
		return fmt.Errorf("register membrane: empty membrane name")
	}
	spec := membrane.Spec()
	if err := validateMembraneSpec(spec); err != nil {
		return fmt.Errorf("register membrane %s: %w", name, err)
	}

	record := &membraneRecord{
		name:         name,
		membrane:     membrane,
		capabilities: spec.Capabilities(),
	}
	if err := k.validateCapabilityDependencies(record.capabilities); err != nil {
		return fmt.Errorf("register membrane %s: %w", name, err)
	}

	k.mu.Lock()
	if _, exists := k.membranes[name]; exists {
		k.mu.Unlock()
		return fmt.Errorf("register membrane %s: %w", name, garden.ErrMembraneAlreadyRegistered)
	}
	k.membranes[name] = record
	k.membraneOrder = append(k.membraneOrder, name)
	k.mu.Unlock()

	runtime := &membraneRuntime{
		membraneName:  name,
		serviceLookup: k.services,
		bus:           k.bus,
		record:        record,
	}

	if err := k.advertiseCapabilities(name, membrane, record.capabilityNames()); err != nil {
		k.rollbackMembraneRegistration(ctx, name, record)
		return fmt.Errorf("register membrane %s: %w", name, err)
	}

	hookCtx, cancel := context.WithTimeout(ctx, k.cfg.membraneHookTimeout)
	defer cancel()

	registrar, hasRegistrar := membrane.(garden.MembraneRegistrar)
	if hasRegistrar {
		if err := runSafely("membrane "+name+" OnRegister", func() error {
			return registrar.OnRegister(hookCtx, runtime)
		}); err != nil {
			k.rollbackMembraneRegistration(ctx, name, record)
			return fmt.Errorf("register membrane %s: %w", name, err)
		}
	}

	if err := k.registerDeclaredHandlers(hookCtx, name, runtime, spec.Handlers); err != nil {
		k.rollbackMembraneRegistration(ctx, name, record)
		return fmt.Errorf("register membrane %s: %w", name, err)
	}

	return nil
}

// RegisterSource registers a proposal source.
func (k *Kernel) RegisterSource(source garden.Source) error {
	if source == nil {
		return fmt.Errorf("register source: nil source")
	}
	name := source.Name()
	if name == "" {
		return fmt.Errorf("register source: empty name")
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	if _, exists := k.sources[name]; exists {
		return fmt.Errorf("register source %s: %w", name, garden.ErrSourceAlreadyRegistered)
	}

	k.sources[name] = source
	k.sourceOrder = append(k.sourceOrder, name)

	return nil
}

// Run starts membranes, runs sources, and blocks until cancellation, a fatal
// source error, or completion of every source.
func (k *Kernel) Run(ctx context.Context) error {
	if err := k.startRun(); err != nil {
		return err
	}
	defer k.finishRun()

	if err := k.startMembranes(ctx); err != nil {
		return err
	}

	runCtx, runCancel := context.WithCancel(ctx)
	sourceErr, waitSources, err := k.startSources(runCtx)
	if err != nil {
		runCancel()
		shutdownErr := k.shutdownAll(ctx)
		if shutdownErr != nil {
			return errors.Join(err, shutdownErr)
		}
		return err
	}

	var runErr error
	select {
	case <-ctx.Done():
		runErr = ctx.Err()
	case err := <-sourceErr:
		runErr = err
	}

	runCancel()
	waitSources()

	shutdownErr := k.shutdownAll(ctx)

	if isContextCancellation(runErr) {
		runErr = nil
	}
	if runErr != nil && shutdownErr != nil {
		return errors.Join(runErr, shutdownErr)
	}
	if runErr != nil {
		return runErr
	}
	if shutdownErr != nil {
		return shutdownErr
	}

	return nil
}

// startRun serializes Run invocations and rejects concurrent starts.
func (k *Kernel) startRun() error {
	k.runMu.Lock()
	defer k.runMu.Unlock()

	if k.running {
		return fmt.Errorf("kernel run: already running")
	}
	k.running = true

	return nil
}

// finishRun releases the single-run guard set by startRun.
func (k *Kernel) finishRun() {
	k.runMu.Lock()
	k.running = false
	k.runMu.Unlock()
}

// startMembranes invokes OnStart in registration order with per-membrane timeouts.
func (k *Kernel) startMembranes(ctx context.Context) error {
	k.mu.RLock()
	order := append([]string(nil), k.membraneOrder...)
	membranes := make(map[string]*membraneRecord, len(k.membranes))
	for name, record := range k.membranes {
		membranes[name] = record
	}
	k.mu.RUnlock()

	for _, name := range order {
		record, exists := membranes[name]
		if !exists {
			continue
		}
		hookCtx, cancel := context.WithTimeout(ctx, k.cfg.membraneHookTimeout)
		err := runSafely("membrane "+name+" OnStart", func() error {
			return record.membrane.OnStart(hookCtx)
		})
		cancel()
		if err != nil {
			return fmt.Errorf("start membrane %s: %w", name, err)
		}
	}

	return nil
}

// startSources runs all registered sources concurrently and returns:
// - an error channel delivering the first fatal source error, and
// - a wait function that blocks for source completion up to shutdown timeout.
//
// When every source completes the error channel delivers context.Canceled so
// Run treats a drained garden as a normal termination.
func (k *Kernel) startSources(ctx context.Context) (<-chan error, func(), error) {
	errChannel := make(chan error, 1)
	done := make(chan struct{})
	workerWG := &sync.WaitGroup{}

	k.mu.RLock()
	order := append([]string(nil), k.sourceOrder...)
	sources := make(map[string]garden.Source, len(k.sources))
	for name, source := range k.sources {
		sources[name] = source
	}
	k.mu.RUnlock()

	var proposer garden.Proposer
	if len(order) > 0 {
		resolved, err := garden.ResolveAs[garden.Proposer](k.services, garden.ServiceLedger)
		if err != nil {
			return nil, nil, fmt.Errorf("start sources: %w", err)
		}
		proposer = resolved
	}

	for _, name := range order {
		source := sources[name]
		if source == nil {
			continue
		}

		workerWG.Add(1)
		go func(sourceName string, feed garden.Source) {
			defer workerWG.Done()
			err := runSafely("source "+sourceName+" Start", func() error {
				return feed.Start(ctx, proposer)
			})
			if err == nil || isContextCancellation(err) {
				return
			}
			select {
			case errChannel <- fmt.Errorf("run source %s: %w", sourceName, err):
			default:
			}
		}(name, source)
	}

	go func() {
		workerWG.Wait()
		close(done)
	}()

	wait := func() {
		select {
		case <-done:
		case <-time.After(k.cfg.shutdownTimeout):
		}
	}

	go func() {
		<-done
		select {
		case errChannel <- context.Canceled:
		default:
		}
	}()

	return errChannel, wait, nil
}

// shutdownAll tears down sources, membranes, and bus in a bounded timeout window.
// It uses WithoutCancel to ensure cleanup still runs after parent cancellation.
func (k *Kernel) shutdownAll(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), k.cfg.shutdownTimeout)
	defer cancel()

	var shutdownErr error
	if err := k.shutdownSources(shutdownCtx); err != nil {
		shutdownErr = errors.Join(shutdownErr, err)
	}
	if err := k.shutdownMembranes(shutdownCtx); err != nil {
		shutdownErr = errors.Join(shutdownErr, err)
	}
	if err := k.bus.Close(shutdownCtx); err != nil {
		shutdownErr = errors.Join(shutdownErr, err)
	}

	if shutdownErr != nil {
		return fmt.Errorf("kernel shutdown: %w", shutdownErr)
	}

	return nil
}

// shutdownSources executes source Shutdown in reverse registration order.
func (k *Kernel) shutdownSources(ctx context.Context) error {
	k.mu.RLock()
	order := append([]string(nil), k.sourceOrder...)
	sources := make(map[string]garden.Source, len(k.sources))
	for name, source := range k.sources {
		sources[name] = source
	}
	k.mu.RUnlock()

	var shutdownErr error
	for idx := len(order) - 1; idx >= 0; idx-- {
		name := order[idx]
		source := sources[name]
		if source == nil {
			continue
		}
		err := runSafely("source "+name+" Shutdown", func() error {
			return source.Shutdown(ctx)
		})
		if err != nil {
			shutdownErr = errors.Join(shutdownErr, fmt.Errorf("shutdown source %s: %w", name, err))
		}
	}

	return shutdownErr
}

// shutdownMembranes closes membrane subscriptions and invokes OnShutdown in reverse order.
func (k *Kernel) shutdownMembranes(ctx context.Context) error {
	k.mu.RLock()
	order := append([]string(nil), k.membraneOrder...)
	membranes := make(map[string]*membraneRecord, len(k.membranes))
	for name, record := range k.membranes {
		membranes[name] = record
	}
	k.mu.RUnlock()

	var shutdownErr error
	for idx := len(order) - 1; idx >= 0; idx-- {
		name := order[idx]
		record := membranes[name]
		if record == nil {
			continue
		}
		if err := record.closeSubscriptions(ctx); err != nil {
			shutdownErr = errors.Join(shutdownErr, fmt.Errorf("shutdown membrane %s subscriptions: %w", name, err))
		}
		hookCtx, cancel := context.WithTimeout(ctx, k.cfg.membraneHookTimeout)
		err := runSafely("membrane "+name+" OnShutdown", func() error {
			return record.membrane.OnShutdown(hookCtx)
		})
		cancel()
		if err != nil {
			shutdownErr = errors.Join(shutdownErr, fmt.Errorf("shutdown membrane %s: %w", name, err))
		}
	}

	return shutdownErr
}

// advertiseCapabilities registers every declared capability in the registry.
// A partial failure leaves no residue; earlier registrations are rolled back.
func (k *Kernel) advertiseCapabilities(name string, handler garden.TaskHandler, capabilityNames []string) error {
	registered := make([]string, 0, len(capabilityNames))
	for _, capabilityName := range capabilityNames {
		if err := k.capabilities.Register(capabilityName, handler); err != nil {
			for _, advertised := range registered {
				if deregisterErr := k.capabilities.Deregister(advertised, handler); deregisterErr != nil {
					k.cfg.onAsyncError(context.Background(), "rollback capability advertisement", deregisterErr)
				}
			}
			return fmt.Errorf("advertise capability %s for membrane %s: %w", capabilityName, name, err)
		}
		registered = append(registered, capabilityName)
	}

	return nil
}

// rollbackMembraneRegistration removes a partially registered membrane after a hook failure.
// It attempts best-effort subscription cleanup before removing registry entries.
func (k *Kernel) rollbackMembraneRegistration(ctx context.Context, name string, record *membraneRecord) {
	rollbackCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), k.cfg.membraneHookTimeout)
	defer cancel()

	if err := record.closeSubscriptions(rollbackCtx); err != nil {
		k.cfg.onAsyncError(rollbackCtx, "rollback_membrane_registration", err)
	}
	for _, capabilityName := range record.capabilityNames() {
		if err := k.capabilities.Deregister(capabilityName, record.membrane); err != nil {
			k.cfg.onAsyncError(rollbackCtx, "rollback_membrane_registration", err)
		}
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.membranes, name)
	k.membraneOrder = removeOrderedName(k.membraneOrder, name)
}

// validateCapabilityDependencies checks required services declared by capabilities.
func (k *Kernel) validateCapabilityDependencies(capabilities []garden.Capability) error {
	for _, capability := range capabilities {
		for _, serviceName := range capability.RequiredServices {
			_, err := k.services.Resolve(serviceName)
			if err != nil {
				return fmt.Errorf(
					"capability %s requires service %s: %w",
					capability.Name,
					serviceName,
					err,
				)
			}
		}
	}

	return nil
}

// registerDeclaredHandlers binds all declarative handlers from MembraneSpec.
func (k *Kernel) registerDeclaredHandlers(
	ctx context.Context,
	membraneName string,
	runtime *membraneRuntime,
	handlers []garden.MembraneHandler,
) error {
	for idx, declared := range handlers {
		capabilityName := declared.Capability.Name
		spec := declared.Subscription
		if len(spec.Filter.Topics) == 0 && len(spec.Filter.Aspects) == 0 && len(spec.Filter.Origins) == 0 {
			spec.Filter = cloneInterestSet(declared.Capability.Interest)
		}
		if spec.Name == "" {
			spec.Name = fmt.Sprintf("%s-handler-%d", membraneName, idx+1)
		}
		if _, err := runtime.Subscribe(ctx, spec, declared.Handler); err != nil {
			return fmt.Errorf("register handler %s for capability %s: %w", spec.Name, capabilityName, err)
		}
	}

	return nil
}

// validateMembraneSpec ensures declarative membrane definitions are coherent.
func validateMembraneSpec(spec garden.MembraneSpec) error {
	if err := spec.Validate(); err != nil {
		return err
	}

	seenSubscriptions := make(map[string]struct{}, len(spec.Handlers))
	for _, handler := range spec.Handlers {
		if handler.Subscription.Name == "" {
			continue
		}
		if _, exists := seenSubscriptions[handler.Subscription.Name]; exists {
			return fmt.Errorf("membrane handler %s: duplicate subscription name %s",
				handler.Capability.Name, handler.Subscription.Name)
		}
		seenSubscriptions[handler.Subscription.Name] = struct{}{}
	}

	return nil
}

// removeOrderedName removes one name while preserving remaining order.
func removeOrderedName(ordered []string, target string) []string {
	filtered := make([]string, 0, len(ordered))
	for _, item := range ordered {
		if item != target {
			filtered = append(filtered, item)
		}
	}

	return filtered
}

// isContextCancellation reports whether err is a context-driven termination signal.
func isContextCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
