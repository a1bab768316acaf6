// services/heartbeat/heartbeat_test.go
package heartbeat

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"cloudbutton-go/bus"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestHeartbeatPublishes(t *testing.T) {
	b := bus.NewBus(4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := &Service{Interval: 10 * time.Millisecond}
	s.Start(ctx, b.NewConnection("heartbeat"), testLogger())

	obs := b.NewConnection("t")
	sub := obs.Subscribe(TopicState)

	select {
	case m := <-sub.Channel():
		if _, ok := m.Payload.(State); !ok {
			t.Fatalf("unexpected payload type %T", m.Payload)
		}
		if !m.Retained {
			t.Error("heartbeat state should be retained")
		}
	case <-time.After(time.Second):
		t.Fatal("no heartbeat observed")
	}
}

func TestZeroIntervalDisabled(t *testing.T) {
	b := bus.NewBus(4)
	s := &Service{}
	s.Start(context.Background(), b.NewConnection("heartbeat"), testLogger())

	obs := b.NewConnection("t")
	sub := obs.Subscribe(TopicState)

	select {
	case m := <-sub.Channel():
		t.Fatalf("unexpected heartbeat: %+v", m.Payload)
	case <-time.After(30 * time.Millisecond):
	}
}
