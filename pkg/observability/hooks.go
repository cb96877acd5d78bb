// Package observability provides hooks for metrics, tracing, and logging.
//
// This package enables optional instrumentation without adding hard dependencies
// on specific observability backends. Consumers can register hooks at startup
// to receive events about scheduler passes, task execution, size negotiation
// and resource lifecycle transitions.
//
// # Architecture
//
// The package uses a simple hooks pattern:
//   - Define hook interfaces for different event categories
//   - Provide no-op default implementations
//   - Allow registration of custom implementations at startup
//
// Hooks only carry primitive values (ids, state names, durations) so this
// package imports nothing from the engine and can be used by every layer.
//
// # Usage
//
// Register hooks at application startup:
//
//	func main() {
//	    observability.SetSchedulerHooks(&mySchedulerHooks{})
//	    observability.SetNegotiationHooks(&myNegotiationHooks{})
//	    // ... run application
//	}
//
// A scheduler picks up the registered hooks when it is created, unless its
// options carry their own [Hooks] bundle:
//
//	observability.Scheduler().OnTaskStart(ctx, "3#L", waited)
package observability

import (
	"context"
	"sync"
	"time"
)

// =============================================================================
// Scheduler Hooks
// =============================================================================

// PassInfo summarizes one scheduler pass.
type PassInfo struct {
	Visibility string
	Resources  int
	Queued     int
	Executing  int
	Built      int

	// NextDelay is the delay of the follow-up pass, or zero if the pass did
	// not schedule one.
	NextDelay time.Duration
}

// SchedulerHooks receives events from the pass loop.
type SchedulerHooks interface {
	// OnPass records the end of a pass.
	OnPass(ctx context.Context, info PassInfo)

	// Task events. taskID is "<resource id>#<kind letter>".
	OnTaskScheduled(ctx context.Context, taskID string, priority int)
	OnTaskStart(ctx context.Context, taskID string, waited time.Duration)
	OnTaskComplete(ctx context.Context, taskID string, status string, duration time.Duration)
}

// =============================================================================
// Negotiation Hooks
// =============================================================================

// NegotiationHooks receives size negotiation decisions.
type NegotiationHooks interface {
	// OnDecision records which rule matched a request and what happened to
	// it: "applied", "deferred" or "overflow".
	OnDecision(ctx context.Context, resourceID int, rule string, action string)
}

// =============================================================================
// Resource Hooks
// =============================================================================

// ResourceHooks receives resource lifecycle events.
type ResourceHooks interface {
	// OnStateChange records a lifecycle transition.
	OnStateChange(ctx context.Context, resourceID int, from, to string)

	// OnBuild records a finished build attempt.
	OnBuild(ctx context.Context, resourceID int, duration time.Duration, err error)
}

// =============================================================================
// No-op Implementations
// =============================================================================

// NoopSchedulerHooks is a no-op implementation of SchedulerHooks.
type NoopSchedulerHooks struct{}

func (NoopSchedulerHooks) OnPass(context.Context, PassInfo)                              {}
func (NoopSchedulerHooks) OnTaskScheduled(context.Context, string, int)                  {}
func (NoopSchedulerHooks) OnTaskStart(context.Context, string, time.Duration)            {}
func (NoopSchedulerHooks) OnTaskComplete(context.Context, string, string, time.Duration) {}

// NoopNegotiationHooks is a no-op implementation of NegotiationHooks.
type NoopNegotiationHooks struct{}

func (NoopNegotiationHooks) OnDecision(context.Context, int, string, string) {}

// NoopResourceHooks is a no-op implementation of ResourceHooks.
type NoopResourceHooks struct{}

func (NoopResourceHooks) OnStateChange(context.Context, int, string, string) {}
func (NoopResourceHooks) OnBuild(context.Context, int, time.Duration, error) {}

// =============================================================================
// Hook Bundles
// =============================================================================

// Hooks bundles one implementation per category. Nil fields fall back to the
// no-op implementation.
type Hooks struct {
	Scheduler   SchedulerHooks
	Negotiation NegotiationHooks
	Resource    ResourceHooks
}

// Registered returns the globally registered hooks as a bundle.
func Registered() Hooks {
	return Hooks{
		Scheduler:   Scheduler(),
		Negotiation: Negotiation(),
		Resource:    Resource(),
	}
}

// WithDefaults returns h with nil fields replaced by no-op implementations.
func (h Hooks) WithDefaults() Hooks {
	if h.Scheduler == nil {
		h.Scheduler = NoopSchedulerHooks{}
	}
	if h.Negotiation == nil {
		h.Negotiation = NoopNegotiationHooks{}
	}
	if h.Resource == nil {
		h.Resource = NoopResourceHooks{}
	}
	return h
}

// =============================================================================
// Global Hook Registry
// =============================================================================

var (
	schedulerHooks   SchedulerHooks   = NoopSchedulerHooks{}
	negotiationHooks NegotiationHooks = NoopNegotiationHooks{}
	resourceHooks    ResourceHooks    = NoopResourceHooks{}
	hooksMu          sync.RWMutex
)

// SetSchedulerHooks registers custom scheduler hooks.
// This should be called once at application startup before any scheduler is created.
func SetSchedulerHooks(h SchedulerHooks) {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	if h != nil {
		schedulerHooks = h
	}
}

// SetNegotiationHooks registers custom negotiation hooks.
// This should be called once at application startup before any scheduler is created.
func SetNegotiationHooks(h NegotiationHooks) {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	if h != nil {
		negotiationHooks = h
	}
}

// SetResourceHooks registers custom resource hooks.
// This should be called once at application startup before any scheduler is created.
func SetResourceHooks(h ResourceHooks) {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	if h != nil {
		resourceHooks = h
	}
}

// Scheduler returns the registered scheduler hooks.
func Scheduler() SchedulerHooks {
	hooksMu.RLock()
	defer hooksMu.RUnlock()
	return schedulerHooks
}

// Negotiation returns the registered negotiation hooks.
func Negotiation() NegotiationHooks {
	hooksMu.RLock()
	defer hooksMu.RUnlock()
	return negotiationHooks
}

// Resource returns the registered resource hooks.
func Resource() ResourceHooks {
	hooksMu.RLock()
	defer hooksMu.RUnlock()
	return resourceHooks
}

// Reset restores all hooks to their no-op defaults.
// This is primarily useful for testing.
func Reset() {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	schedulerHooks = NoopSchedulerHooks{}
	negotiationHooks = NoopNegotiationHooks{}
	resourceHooks = NoopResourceHooks{}
}
