package observability

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestNoopHooksDoNotPanic(t *testing.T) {
	ctx := context.Background()

	s := NoopSchedulerHooks{}
	s.OnPass(ctx, PassInfo{Visibility: "visible", Queued: 2})
	s.OnTaskScheduled(ctx, "1#L", 0)
	s.OnTaskStart(ctx, "1#L", time.Millisecond)
	s.OnTaskComplete(ctx, "1#L", "succeeded", time.Second)

	n := NoopNegotiationHooks{}
	n.OnDecision(ctx, 1, "below-viewport", "applied")

	r := NoopResourceHooks{}
	r.OnStateChange(ctx, 1, "NOT_BUILT", "NOT_LAID_OUT")
	r.OnBuild(ctx, 1, time.Millisecond, errors.New("boom"))
}

func TestGlobalHooksRegistry(t *testing.T) {
	Reset()

	if _, ok := Scheduler().(NoopSchedulerHooks); !ok {
		t.Error("Scheduler() should return NoopSchedulerHooks by default")
	}
	if _, ok := Negotiation().(NoopNegotiationHooks); !ok {
		t.Error("Negotiation() should return NoopNegotiationHooks by default")
	}
	if _, ok := Resource().(NoopResourceHooks); !ok {
		t.Error("Resource() should return NoopResourceHooks by default")
	}

	customScheduler := &testSchedulerHooks{}
	SetSchedulerHooks(customScheduler)
	if Scheduler() != customScheduler {
		t.Error("SetSchedulerHooks should set custom hooks")
	}

	customNegotiation := &testNegotiationHooks{}
	SetNegotiationHooks(customNegotiation)
	if Negotiation() != customNegotiation {
		t.Error("SetNegotiationHooks should set custom hooks")
	}

	customResource := &testResourceHooks{}
	SetResourceHooks(customResource)
	if Resource() != customResource {
		t.Error("SetResourceHooks should set custom hooks")
	}

	if got := Registered(); got.Scheduler != customScheduler || got.Resource != customResource {
		t.Error("Registered() should bundle the registered hooks")
	}

	Reset()
	if _, ok := Scheduler().(NoopSchedulerHooks); !ok {
		t.Error("Reset() should restore NoopSchedulerHooks")
	}
}

func TestSetNilHooksIsIgnored(t *testing.T) {
	Reset()

	custom := &testSchedulerHooks{}
	SetSchedulerHooks(custom)

	// Setting nil should be ignored
	SetSchedulerHooks(nil)

	if Scheduler() != custom {
		t.Error("SetSchedulerHooks(nil) should be ignored")
	}

	Reset()
}

func TestHooksWithDefaults(t *testing.T) {
	custom := &testNegotiationHooks{}
	h := Hooks{Negotiation: custom}.WithDefaults()

	if h.Negotiation != custom {
		t.Error("WithDefaults() should keep set fields")
	}
	if _, ok := h.Scheduler.(NoopSchedulerHooks); !ok {
		t.Error("WithDefaults() should fill Scheduler with NoopSchedulerHooks")
	}
	if _, ok := h.Resource.(NoopResourceHooks); !ok {
		t.Error("WithDefaults() should fill Resource with NoopResourceHooks")
	}
}

// Test implementations
type testSchedulerHooks struct{ NoopSchedulerHooks }
type testNegotiationHooks struct{ NoopNegotiationHooks }
type testResourceHooks struct{ NoopResourceHooks }
