// bus_test.go
package bus

import (
	"testing"
	"time"
)

func expectOneOf(t *testing.T, s *Subscription, want any) {
	t.Helper()
	select {
	case got := <-s.Channel():
		if got.Payload != want {
			t.Errorf("on %v: expected payload %v, got %v", s.Topic(), want, got.Payload)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatalf("on %v: timeout waiting for %v", s.Topic(), want)
	}
}

func expectNoMessage(t *testing.T, s *Subscription) {
	t.Helper()
	select {
	case got := <-s.Channel():
		t.Errorf("on %v: unexpected message %v", s.Topic(), got.Payload)
	case <-time.After(10 * time.Millisecond):
	}
}

func TestBasicPubSub(t *testing.T) {
	b := NewBus(4)
	conn := b.NewConnection("test")

	sub := conn.Subscribe(Topic{"hal", "button", "event"})

	conn.Publish(conn.NewMessage(Topic{"hal", "button", "event"}, "hello", false))

	expectOneOf(t, sub, "hello")
}

func TestRetainedMessage(t *testing.T) {
	b := NewBus(2)
	conn := b.NewConnection("test")

	conn.Publish(conn.NewMessage(Topic{"hal", "led", "state"}, "persist", true))

	sub := conn.Subscribe(Topic{"hal", "led", "state"})
	expectOneOf(t, sub, "persist")
}

func TestRetainedCleared(t *testing.T) {
	b := NewBus(2)
	conn := b.NewConnection("test")

	conn.Publish(conn.NewMessage(Topic{"x"}, "v", true))
	conn.Publish(conn.NewMessage(Topic{"x"}, nil, true))

	sub := conn.Subscribe(Topic{"x"})
	expectNoMessage(t, sub)
}

// -----------------------------------------------------------------------------
// Wildcards
// -----------------------------------------------------------------------------

func TestWildcard_SingleLevel(t *testing.T) {
	b := NewBus(16)
	c := b.NewConnection("test")

	s1 := c.Subscribe(Topic{"a", "+", "c"})
	s2 := c.Subscribe(Topic{"a", "+", "+"})
	s3 := c.Subscribe(Topic{"a", "b", "+"})
	sNo := c.Subscribe(Topic{"a", "+", "d"})

	c.Publish(b.NewMessage(Topic{"a", "b", "c"}, "m1", false))

	expectOneOf(t, s1, "m1")
	expectOneOf(t, s2, "m1")
	expectOneOf(t, s3, "m1")
	expectNoMessage(t, sNo)

	c.Publish(b.NewMessage(Topic{"a", "x", "y"}, "m2", false))

	expectOneOf(t, s2, "m2")
	expectNoMessage(t, s1)
	expectNoMessage(t, s3)
	expectNoMessage(t, sNo)

	c.Publish(b.NewMessage(Topic{"a", "c"}, "m3", false))
	expectNoMessage(t, s1)
	expectNoMessage(t, s2)
	expectNoMessage(t, s3)
	expectNoMessage(t, sNo)
}

func TestWildcard_MultiLevel(t *testing.T) {
	b := NewBus(16)
	c := b.NewConnection("test")

	sAHash := c.Subscribe(Topic{"a", "#"})
	sHash := c.Subscribe(Topic{"#"})
	sABHash := c.Subscribe(Topic{"a", "b", "#"})
	sAExact := c.Subscribe(Topic{"a"})

	c.Publish(b.NewMessage(Topic{"a"}, "p1", false))
	expectOneOf(t, sAHash, "p1")
	expectOneOf(t, sHash, "p1")
	expectOneOf(t, sAExact, "p1")
	expectNoMessage(t, sABHash)

	c.Publish(b.NewMessage(Topic{"a", "b"}, "p2", false))
	expectOneOf(t, sAHash, "p2")
	expectOneOf(t, sHash, "p2")
	expectOneOf(t, sABHash, "p2")
	expectNoMessage(t, sAExact)

	c.Publish(b.NewMessage(Topic{"a", "b", "c"}, "p3", false))
	expectOneOf(t, sAHash, "p3")
	expectOneOf(t, sHash, "p3")
	expectOneOf(t, sABHash, "p3")
	expectNoMessage(t, sAExact)
}

func TestWildcard_RetainedDelivery(t *testing.T) {
	b := NewBus(32)
	c := b.NewConnection("test")

	c.Publish(b.NewMessage(Topic{"hal", "button", "state"}, "r1", true))
	c.Publish(b.NewMessage(Topic{"hal", "led", "state"}, "r2", true))

	s := c.Subscribe(Topic{"hal", "+", "state"})

	got := map[any]bool{}
	for i := 0; i < 2; i++ {
		select {
		case m := <-s.Channel():
			got[m.Payload] = true
		case <-time.After(100 * time.Millisecond):
			t.Fatalf("timeout; retained so far: %v", got)
		}
	}
	if !got["r1"] || !got["r2"] {
		t.Errorf("expected both retained values, got %v", got)
	}
}

// -----------------------------------------------------------------------------
// Queueing and lifecycle
// -----------------------------------------------------------------------------

func TestQueueOverflow_DropsOldest(t *testing.T) {
	b := NewBus(2)
	c := b.NewConnection("test")

	s := c.Subscribe(Topic{"q"})
	for i := 0; i < 4; i++ {
		c.Publish(b.NewMessage(Topic{"q"}, i, false))
	}

	expectOneOf(t, s, 2)
	expectOneOf(t, s, 3)
	expectNoMessage(t, s)
}

func TestReply(t *testing.T) {
	b := NewBus(4)
	c := b.NewConnection("svc")

	replies := c.Subscribe(Topic{"reply", "1"})
	req := &Message{Topic: Topic{"svc", "control"}, Payload: "do", ReplyTo: Topic{"reply", "1"}}

	c.Reply(req, "done", false)
	expectOneOf(t, replies, "done")

	// No ReplyTo: must not panic or deliver anywhere.
	c.Reply(&Message{Topic: Topic{"svc", "control"}}, "lost", false)
	expectNoMessage(t, replies)
}

func TestUnsubscribe(t *testing.T) {
	b := NewBus(4)
	c := b.NewConnection("test")

	s := c.Subscribe(Topic{"u", "v"})
	s.Unsubscribe()

	c.Publish(b.NewMessage(Topic{"u", "v"}, "gone", false))
	expectNoMessage(t, s)
}

func TestDisconnectClosesChannels(t *testing.T) {
	b := NewBus(4)
	c := b.NewConnection("test")

	s1 := c.Subscribe(Topic{"a"})
	s2 := c.Subscribe(Topic{"b"})
	c.Disconnect()

	for _, s := range []*Subscription{s1, s2} {
		select {
		case _, ok := <-s.Channel():
			if ok {
				t.Error("expected closed channel, got message")
			}
		case <-time.After(100 * time.Millisecond):
			t.Fatal("channel not closed after Disconnect")
		}
	}
}
