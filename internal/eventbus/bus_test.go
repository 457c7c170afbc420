package eventbus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishDeliversToSubscribers(t *testing.T) {
	b := NewWithConfig(2, 10)
	defer b.Close(context.Background())

	var wg sync.WaitGroup
	wg.Add(2)

	var mu sync.Mutex
	var got []Event
	handler := func(e Event) {
		mu.Lock()
		got = append(got, e)
		mu.Unlock()
		wg.Done()
	}
	b.Subscribe(EventGroupToggled, handler)
	b.Subscribe(EventGroupToggled, handler)
	b.Subscribe(EventTimeoutExpired, func(Event) { t.Error("unexpected delivery") })

	b.Publish(Event{Type: EventGroupToggled, Group: "hall", Data: map[string]any{"source": "virtual"}})

	waitTimeout(t, &wg)
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 2)
	assert.Equal(t, "hall", got[0].Group)
}

func TestSubscribeAll(t *testing.T) {
	b := NewWithConfig(1, len(AllEventTypes))
	defer b.Close(context.Background())

	var wg sync.WaitGroup
	wg.Add(len(AllEventTypes))
	b.SubscribeAll(func(Event) { wg.Done() })

	for _, et := range AllEventTypes {
		b.Publish(Event{Type: et, Group: "hall"})
	}
	waitTimeout(t, &wg)
}

func TestHandlerPanicDoesNotKillWorker(t *testing.T) {
	b := NewWithConfig(1, 10)
	defer b.Close(context.Background())

	done := make(chan struct{})
	calls := 0
	b.Subscribe(EventDeviceInvalid, func(Event) {
		calls++
		if calls == 1 {
			panic("boom")
		}
		close(done)
	})

	b.Publish(Event{Type: EventDeviceInvalid})
	b.Publish(Event{Type: EventDeviceInvalid})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker stopped after panic")
	}
}

func TestPublishAfterCloseIsDropped(t *testing.T) {
	b := NewWithConfig(1, 10)
	b.Subscribe(EventGroupCreated, func(Event) { t.Error("delivered after close") })

	b.Close(context.Background())
	b.Close(context.Background())
	b.Publish(Event{Type: EventGroupCreated})
}

func waitTimeout(t *testing.T, wg *sync.WaitGroup) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for handlers")
	}
}
