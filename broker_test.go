package bus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBroker_PubSubFanOut(t *testing.T) {
	b := New()
	var mu sync.Mutex
	var order []string

	record := func(name string) Handler {
		return Sync(func(e Event) {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, name)
			require.Equal(t, "midi:note-on", e.Type)
			require.Equal(t, 60, e.Detail.(map[string]any)["note"])
			require.Equal(t, "unknown", e.Meta.Source)
		})
	}

	_, err := b.Subscribe("midi:note-on", record("H1"))
	require.NoError(t, err)
	_, err = b.Subscribe("midi:note-on", record("H2"))
	require.NoError(t, err)
	_, err = b.Subscribe("midi:note-on", record("H3"))
	require.NoError(t, err)

	before := len(b.EventLog(0))
	b.Emit("midi:note-on", map[string]any{"note": 60}, "", "")

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"H1", "H2", "H3"}, order)
	require.Len(t, b.EventLog(0), before+1)
}

func TestBroker_DispatchOrderIsSubscriptionOrder(t *testing.T) {
	b := New()
	var mu sync.Mutex
	var seen []int
	for i := 0; i < 5; i++ {
		i := i
		_, err := b.Subscribe("x", Sync(func(Event) {
			mu.Lock()
			seen = append(seen, i)
			mu.Unlock()
		}))
		require.NoError(t, err)
	}
	b.Emit("x", nil, "", "")
	require.Equal(t, []int{0, 1, 2, 3, 4}, seen)
}

func TestBroker_SubscribeOnceFiresAtMostOnce(t *testing.T) {
	b := New()
	calls := 0
	var gotEvent Event
	_, err := b.SubscribeOnce("module:ready", Sync(func(e Event) {
		calls++
		gotEvent = e
	}))
	require.NoError(t, err)

	b.Emit("module:ready", "first", "", "")
	b.Emit("module:ready", "second", "", "")

	require.Equal(t, 1, calls)
	require.Equal(t, "first", gotEvent.Detail)
	require.Empty(t, b.registry.snapshot("module:ready"))
}

func TestBroker_UnsubscribeIsIdempotentAndRemovesHandler(t *testing.T) {
	b := New()
	called := false
	unsub, err := b.Subscribe("t", Sync(func(Event) { called = true }))
	require.NoError(t, err)

	unsub()
	unsub() // second call must be a harmless no-op

	b.Emit("t", nil, "", "")
	require.False(t, called)
}

func TestBroker_HandlerExceptionDoesNotBreakDispatch(t *testing.T) {
	b := New()
	goodCalled := 0

	_, err := b.Subscribe("t", Sync(func(Event) { panic("boom") }))
	require.NoError(t, err)
	_, err = b.Subscribe("t", Sync(func(Event) { goodCalled++ }))
	require.NoError(t, err)

	b.Emit("t", nil, "", "")
	require.Equal(t, 1, goodCalled)

	// Bad handler was not auto-removed: a second emit still invokes both.
	b.Emit("t", nil, "", "")
	require.Equal(t, 2, goodCalled)
}

func TestBroker_ReentrantEmitDuringDispatch(t *testing.T) {
	b := New()
	var mu sync.Mutex
	var inner []string

	_, err := b.Subscribe("inner", Sync(func(Event) {
		mu.Lock()
		inner = append(inner, "inner-handler")
		mu.Unlock()
	}))
	require.NoError(t, err)

	var outer []string
	_, err = b.Subscribe("outer", Sync(func(Event) {
		mu.Lock()
		outer = append(outer, "before-nested")
		mu.Unlock()
		b.Emit("inner", nil, "", "") // nested emit completes before outer continues
		mu.Lock()
		outer = append(outer, "after-nested")
		mu.Unlock()
	}))
	require.NoError(t, err)
	_, err = b.Subscribe("outer", Sync(func(Event) {
		mu.Lock()
		outer = append(outer, "second-outer-handler")
		mu.Unlock()
	}))
	require.NoError(t, err)

	b.Emit("outer", nil, "", "")

	require.Equal(t, []string{"before-nested", "after-nested", "second-outer-handler"}, outer)
	require.Equal(t, []string{"inner-handler"}, inner)
}

func TestBroker_SubscriptionChangeDuringDispatchAffectsOnlyFutureEmits(t *testing.T) {
	b := New()
	var calls []string
	var lateUnsub UnsubscribeFunc

	_, err := b.Subscribe("t", Sync(func(Event) {
		calls = append(calls, "first")
		// Subscribing here must not affect this already-snapshotted
		// iteration.
		lateUnsub, _ = b.Subscribe("t", Sync(func(Event) {
			calls = append(calls, "late")
		}))
	}))
	require.NoError(t, err)

	b.Emit("t", nil, "", "")
	require.Equal(t, []string{"first"}, calls)

	calls = nil
	b.Emit("t", nil, "", "")
	require.ElementsMatch(t, []string{"first", "late"}, calls)
	lateUnsub()
}

func TestBroker_EmitWithNoSubscribersStillLogs(t *testing.T) {
	b := New()
	before := len(b.EventLog(0))
	b.Emit("nobody:listening", nil, "", "")
	require.Len(t, b.EventLog(0), before+1)
}

func TestBroker_AsyncHandlerScheduledNotAwaited(t *testing.T) {
	sched := newDefaultScheduler()
	b := New(WithScheduler(sched))

	done := make(chan struct{})
	_, err := b.Subscribe("t", Async(func(ctx context.Context, e Event) error {
		close(done)
		return nil
	}))
	require.NoError(t, err)

	b.Emit("t", nil, "", "")
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("async handler never ran")
	}
}

func TestBroker_AsyncHandlerErrorIsLoggedNotPropagated(t *testing.T) {
	b := New(WithScheduler(inlineScheduler{}))
	_, err := b.Subscribe("t", Async(func(ctx context.Context, e Event) error {
		return errors.New("boom")
	}))
	require.NoError(t, err)
	require.NotPanics(t, func() { b.Emit("t", nil, "", "") })
}

func TestBroker_SubscribeRejectsNilHandlerAndEmptyType(t *testing.T) {
	b := New()
	_, err := b.Subscribe("", Sync(func(Event) {}))
	require.ErrorIs(t, err, ErrEventTypeEmpty)

	_, err = b.Subscribe("t", Handler{})
	require.ErrorIs(t, err, ErrHandlerNil)
}

func TestDefault_IsProcessWideSingleton(t *testing.T) {
	a := Default()
	c := Default()
	require.Same(t, a, c)
}

func TestBroker_Stats(t *testing.T) {
	b := New()
	b.Emit("t", nil, "", "")
	stats := b.Stats()
	require.Equal(t, 1, stats.EventLogLength)
	require.Equal(t, 0, stats.ModuleCount)
}

func TestBroker_StatsReportsHandlerAndAwaiterCounts(t *testing.T) {
	b := New()
	_, err := b.Subscribe("t", Sync(func(Event) {}))
	require.NoError(t, err)
	_, err = b.Subscribe("u", Sync(func(Event) {}))
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		_, _ = b.WaitFor(context.Background(), "t", -1)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return b.Stats().PendingAwaiterCount == 1
	}, time.Second, time.Millisecond)

	stats := b.Stats()
	require.Equal(t, 2, stats.HandlerCount)

	b.Emit("t", nil, "", "")
	<-done
	require.Equal(t, 0, b.Stats().PendingAwaiterCount)
}
