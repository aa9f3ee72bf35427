package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func TestLocalEventBusDeliversToSubscriber(t *testing.T) {
	bus := NewLocalEventBus()
	ch, unsubscribe := bus.Subscribe("run-1")
	defer unsubscribe()

	bus.Publish(context.Background(), "run-1")

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("expected notification within 1s")
	}
}

func TestLocalEventBusDoesNotCrossRuns(t *testing.T) {
	bus := NewLocalEventBus()
	ch, unsubscribe := bus.Subscribe("run-1")
	defer unsubscribe()

	bus.Publish(context.Background(), "run-2")

	select {
	case <-ch:
		t.Fatal("did not expect a notification for an unrelated run")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestLocalEventBusUnsubscribeStopsDelivery(t *testing.T) {
	bus := NewLocalEventBus()
	ch, unsubscribe := bus.Subscribe("run-1")
	unsubscribe()

	bus.Publish(context.Background(), "run-1")

	select {
	case <-ch:
		t.Fatal("did not expect delivery after unsubscribe")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestLocalEventBusPublishIsNonBlockingWhenBufferFull(t *testing.T) {
	bus := NewLocalEventBus()
	_, unsubscribe := bus.Subscribe("run-1")
	defer unsubscribe()

	done := make(chan struct{})
	go func() {
		// the channel has buffer 1; a second publish before drain must not block.
		bus.Publish(context.Background(), "run-1")
		bus.Publish(context.Background(), "run-1")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber buffer")
	}
}

type fakeRedisPubSub struct {
	publishErr   error
	subscribeErr error
	handlers     map[string]func([]byte)
}

func newFakeRedisPubSub() *fakeRedisPubSub {
	return &fakeRedisPubSub{handlers: make(map[string]func([]byte))}
}

func (f *fakeRedisPubSub) Publish(ctx context.Context, channel string, message []byte) error {
	if f.publishErr != nil {
		return f.publishErr
	}
	if h, ok := f.handlers[channel]; ok {
		h(message)
	}
	return nil
}

func (f *fakeRedisPubSub) Subscribe(ctx context.Context, channel string, handler func([]byte)) (func(), error) {
	if f.subscribeErr != nil {
		return nil, f.subscribeErr
	}
	f.handlers[channel] = handler
	return func() { delete(f.handlers, channel) }, nil
}

func TestRedisEventBusRoundTripsThroughFakeClient(t *testing.T) {
	client := newFakeRedisPubSub()
	bus := NewRedisEventBus(client, "")

	ch, unsubscribe := bus.Subscribe("run-1")
	defer unsubscribe()

	bus.Publish(context.Background(), "run-1")

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("expected notification delivered via the fake redis client")
	}
}

func TestRedisEventBusFallsBackToLocalOnSubscribeError(t *testing.T) {
	client := newFakeRedisPubSub()
	client.subscribeErr = errors.New("connection refused")
	bus := NewRedisEventBus(client, "")

	ch, unsubscribe := bus.Subscribe("run-1")
	defer unsubscribe()

	// local fan-out still works even though the redis subscribe failed.
	bus.local.Publish(context.Background(), "run-1")

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("expected local-only delivery despite redis subscribe error")
	}
}

func TestRedisEventBusPublishErrorDoesNotPreventLocalDelivery(t *testing.T) {
	client := newFakeRedisPubSub()
	client.publishErr = errors.New("connection refused")
	bus := NewRedisEventBus(client, "")

	ch, unsubscribe := bus.Subscribe("run-1")
	defer unsubscribe()

	bus.Publish(context.Background(), "run-1")

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("expected local delivery even when the redis publish call errors")
	}
}

func TestFileStoreNotifiesEventBusOnRecordEvent(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	fs, err := NewFileStore(filepath.Join(dir, "tasks.json"), filepath.Join(dir, "task_events"))
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	bus := NewLocalEventBus()
	fs.SetEventBus(bus)

	task, _ := fs.CreateTask(ctx, "t")
	run, _ := fs.CreateRun(ctx, Run{TaskID: task.ID, Status: RunStatusRunning})

	ch, unsubscribe := bus.Subscribe(run.ID)
	defer unsubscribe()

	if _, err := fs.RecordEvent(ctx, run.ID, "tick", map[string]int{"n": 1}); err != nil {
		t.Fatalf("RecordEvent: %v", err)
	}

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("expected RecordEvent to notify the wired event bus")
	}
}

func TestFileStoreWithoutEventBusStillRecordsEvents(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	fs, err := NewFileStore(filepath.Join(dir, "tasks.json"), filepath.Join(dir, "task_events"))
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	task, _ := fs.CreateTask(ctx, "t")
	run, _ := fs.CreateRun(ctx, Run{TaskID: task.ID, Status: RunStatusRunning})

	if _, err := fs.RecordEvent(ctx, run.ID, "tick", map[string]int{"n": 1}); err != nil {
		t.Fatalf("RecordEvent without a bus wired must still succeed: %v", err)
	}
}
