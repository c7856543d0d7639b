package state

import (
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestStore_EmptyUntilReplaced(t *testing.T) {
	s := NewStore(NewEventBus(testLogger()), testLogger())

	_, ok := s.Snapshot()
	assert.False(t, ok)
	assert.Equal(t, StatusPending, s.Health().Status)

	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	s.Replace(map[string]any{"set_video": "1"}, at)

	snap, ok := s.Snapshot()
	require.True(t, ok)
	assert.Equal(t, at, snap.UpdatedAt)
	v, ok := snap.Get("set_video")
	assert.True(t, ok)
	assert.Equal(t, "1", v)
	assert.Equal(t, StatusOK, s.Health().Status)
}

func TestStore_SnapshotIsCopy(t *testing.T) {
	s := NewStore(NewEventBus(testLogger()), testLogger())

	attrs := map[string]any{"a": int64(1)}
	s.Replace(attrs, time.Now())
	attrs["a"] = int64(2)

	snap, _ := s.Snapshot()
	snap.Attributes["b"] = true

	again, _ := s.Snapshot()
	assert.Equal(t, map[string]any{"a": int64(1)}, again.Attributes)
}

func TestStore_FailKeepsSnapshot(t *testing.T) {
	bus := NewEventBus(testLogger())
	s := NewStore(bus, testLogger())
	s.Replace(map[string]any{"alarm_status": "0"}, time.Now())

	events, unsub := bus.Subscribe(4)
	defer unsub()

	s.Fail(StatusUpdateFailed, errors.New("boom"))

	snap, ok := s.Snapshot()
	require.True(t, ok)
	assert.Equal(t, "0", snap.Attributes["alarm_status"])

	h := s.Health()
	assert.Equal(t, StatusUpdateFailed, h.Status)
	assert.Equal(t, "boom", h.LastError)

	evt := <-events
	assert.Equal(t, EventUpdateFailed, evt.Type)
	assert.Equal(t, h, evt.Data)
}

func TestEventBus_PublishSubscribe(t *testing.T) {
	bus := NewEventBus(testLogger())
	s := NewStore(bus, testLogger())

	a, unsubA := bus.Subscribe(4)
	b, unsubB := bus.Subscribe(4)
	defer unsubB()

	s.Replace(map[string]any{"x": true}, time.Now())
	s.PublishFaces(map[string]string{"1": "Alice"})

	for _, ch := range []<-chan Event{a, b} {
		evt := <-ch
		assert.Equal(t, EventSnapshotUpdate, evt.Type)
		snap := evt.Data.(Snapshot)
		assert.Equal(t, true, snap.Attributes["x"])

		evt = <-ch
		assert.Equal(t, EventFacesUpdate, evt.Type)
		assert.Equal(t, map[string]string{"1": "Alice"}, evt.Data)
	}

	unsubA()
	unsubA()
	_, open := <-a
	assert.False(t, open)

	s.Replace(map[string]any{}, time.Now())
	evt := <-b
	assert.Equal(t, EventSnapshotUpdate, evt.Type)
}

func TestEventBus_DropsWhenFull(t *testing.T) {
	bus := NewEventBus(testLogger())
	ch, unsub := bus.Subscribe(1)
	defer unsub()

	bus.Publish(Event{Type: EventFacesUpdate})
	bus.Publish(Event{Type: EventSnapshotUpdate})

	evt := <-ch
	assert.Equal(t, EventFacesUpdate, evt.Type)
	assert.False(t, evt.Timestamp.IsZero())
	select {
	case extra := <-ch:
		t.Fatalf("unexpected event %v", extra.Type)
	default:
	}
}
