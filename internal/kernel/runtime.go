package kernel

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"garden-of-memory/pkg/garden"
)

// membraneRecord stores membrane metadata and subscriptions managed by the kernel.
type membraneRecord struct {
	name          string
	membrane      garden.Membrane
	capabilities  []garden.Capability
	subscriptions []garden.Subscription
	subMu         sync.Mutex
}

// addSubscription tracks subscriptions so membrane shutdown can close them deterministically.
func (m *membraneRecord) addSubscription(subscription garden.Subscription) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	m.subscriptions = append(m.subscriptions, subscription)
}

// closeSubscriptions closes all tracked subscriptions and aggregates close errors.
// It clears the internal slice first to make repeated shutdown paths idempotent.
func (m *membraneRecord) closeSubscriptions(ctx context.Context) error {
	m.subMu.Lock()
	subscriptions := append([]garden.Subscription(nil), m.subscriptions...)
	m.subscriptions = nil
	m.subMu.Unlock()

	var closeErr error
	for _, subscription := range subscriptions {
		if err := subscription.Close(ctx); err != nil {
			closeErr = errors.Join(closeErr, fmt.Errorf("close subscription %s: %w", subscription.Name(), err))
		}
	}

	return closeErr
}

// capabilityNames returns the declared capability names in declaration order.
func (m *membraneRecord) capabilityNames() []string {
	names := make([]string, 0, len(m.capabilities))
	for _, capability := range m.capabilities {
		names = append(names, capability.Name)
	}

	return names
}

// membraneRuntime is the kernel-owned implementation of garden.MembraneRuntime.
type membraneRuntime struct {
	membraneName  string
	serviceLookup garden.ServiceRegistry
	bus           garden.EventBus
	record        *membraneRecord
}

// Services returns the kernel service registry visible to the membrane.
func (r *membraneRuntime) Services() garden.ServiceRegistry {
	return r.serviceLookup
}

// Subscribe registers a membrane-owned subscription after interest negotiation.
func (r *membraneRuntime) Subscribe(
	ctx context.Context,
	spec garden.SubscriptionSpec,
	handler garden.EventHandler,
) (garden.Subscription, error) {
	if spec.Name == "" {
		spec.Name = fmt.Sprintf("%s-subscription", r.membraneName)
	}
	if err := assertSubscriptionAllowed(r.record.capabilities, spec.Name, spec.Filter); err != nil {
		return nil, fmt.Errorf("membrane %s subscribe %s: %w", r.membraneName, spec.Name, err)
	}

	subscription, err := r.bus.Subscribe(ctx, spec, handler)
	if err != nil {
		return nil, fmt.Errorf("membrane %s subscribe %s: %w", r.membraneName, spec.Name, err)
	}

	r.record.addSubscription(subscription)

	return subscription, nil
}

// assertSubscriptionAllowed enforces interest negotiation at registration time.
// A membrane can only subscribe to filters covered by at least one declared capability.
func assertSubscriptionAllowed(capabilities []garden.Capability, subscriptionName string, filter garden.InterestSet) error {
	if len(capabilities) == 0 {
		return fmt.Errorf("subscription %s requires at least one declared capability", subscriptionName)
	}

	for _, capability := range capabilities {
		if capability.Interest.Allows(filter) {
			return nil
		}
	}

	return fmt.Errorf("subscription does not match declared membrane capabilities")
}
