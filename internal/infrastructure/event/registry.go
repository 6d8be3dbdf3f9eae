package event

import (
	"fmt"
	"sync"

	"github.com/carlosmonteiro/serverless-commerce/internal/domain/ledger"
	"github.com/carlosmonteiro/serverless-commerce/internal/domain/queue"
	"github.com/carlosmonteiro/serverless-commerce/internal/infrastructure/config"
	"github.com/carlosmonteiro/serverless-commerce/internal/infrastructure/retry"
)

// TargetRegistry resolves the target references used in configuration
// ("direct:billing", "queue:order-events", "ledger") to Targets.
type TargetRegistry struct {
	mu      sync.RWMutex
	targets map[string]Target
	policy  retry.Policy
}

// NewTargetRegistry creates a registry whose direct targets retry under policy.
func NewTargetRegistry(policy retry.Policy) *TargetRegistry {
	return &TargetRegistry{
		targets: make(map[string]Target),
		policy:  policy,
	}
}

// RegisterHandler makes handler reachable as "direct:<name>".
func (r *TargetRegistry) RegisterHandler(name string, handler Handler) {
	r.register(NewDirectTarget(name, handler, r.policy))
}

// RegisterQueue makes q reachable as "queue:<q.Name()>".
func (r *TargetRegistry) RegisterQueue(q queue.Queue) {
	r.register(NewQueueTarget(q))
}

// RegisterLedger makes the ledger reachable as "ledger".
func (r *TargetRegistry) RegisterLedger(store ledger.Store, build EntryBuilder) {
	r.register(NewLedgerTarget(store, build))
}

func (r *TargetRegistry) register(t Target) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.targets[t.Kind()] = t
}

// Resolve returns the target registered under ref.
func (r *TargetRegistry) Resolve(ref string) (Target, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.targets[ref]
	if !ok {
		return nil, fmt.Errorf("no target registered for %q", ref)
	}
	return t, nil
}

// BuildRoutingTable turns subscription configuration into a routing table.
// Every filter must parse and every target must resolve.
func BuildRoutingTable(subs []config.SubscriptionConfig, targets *TargetRegistry) (*RoutingTable, error) {
	out := make([]Subscription, 0, len(subs))
	for _, sc := range subs {
		filter, err := ParseFilter(sc.Filter)
		if err != nil {
			return nil, fmt.Errorf("subscription %s: %w", sc.Name, err)
		}
		target, err := targets.Resolve(sc.Target)
		if err != nil {
			return nil, fmt.Errorf("subscription %s: %w", sc.Name, err)
		}
		out = append(out, Subscription{Name: sc.Name, Filter: filter, Target: target})
	}
	return NewRoutingTable(out...)
}
