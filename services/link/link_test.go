// services/link/link_test.go
package link

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"cloudbutton-go/bus"
	"cloudbutton-go/services/hal"
	"cloudbutton-go/types"
)

// -----------------------------------------------------------------------------
// Fakes
// -----------------------------------------------------------------------------

type setRecord struct {
	name  string
	value any
}

type fakeCloud struct {
	mu       sync.Mutex
	initials map[string]any
	onWrite  map[string]func(any)
	sets     []setRecord
}

func newFakeCloud() *fakeCloud {
	return &fakeCloud{
		initials: map[string]any{},
		onWrite:  map[string]func(any){},
	}
}

func (f *fakeCloud) Register(name string, initial any, onWrite func(any)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.initials[name] = initial
	if onWrite != nil {
		f.onWrite[name] = onWrite
	}
	return nil
}

func (f *fakeCloud) Set(name string, value any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sets = append(f.sets, setRecord{name, value})
	return nil
}

func (f *fakeCloud) setsFor(name string) []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []any
	for _, r := range f.sets {
		if r.name == name {
			out = append(out, r.value)
		}
	}
	return out
}

func (f *fakeCloud) write(t *testing.T, name string, value any) {
	t.Helper()
	f.mu.Lock()
	fn := f.onWrite[name]
	f.mu.Unlock()
	if fn == nil {
		t.Fatalf("no OnWrite registered for %s", name)
	}
	fn(value)
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// -----------------------------------------------------------------------------
// Harness
// -----------------------------------------------------------------------------

func startLink(t *testing.T, b *bus.Bus, cl *fakeCloud, debug bool) *syncBuffer {
	t.Helper()
	console := &syncBuffer{}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	obs := b.NewConnection("observer")
	stateSub := obs.Subscribe(TopicState)

	go func() {
		_ = Run(ctx, b.NewConnection("link"), cl,
			Options{Debug: debug, Console: console},
			slog.New(slog.NewTextHandler(io.Discard, nil)))
	}()

	deadline := time.After(time.Second)
	for {
		select {
		case m := <-stateSub.Channel():
			if st, ok := m.Payload.(types.ServiceState); ok && st.Level == "ready" {
				obs.Unsubscribe(stateSub)
				return console
			}
		case <-deadline:
			t.Fatal("link never became ready")
		}
	}
}

func pressEvent(pressed bool) types.ButtonEvent {
	edge := "falling"
	if pressed {
		edge = "rising"
	}
	return types.ButtonEvent{Pressed: pressed, Edge: edge, TS: time.Now().UnixMilli()}
}

func waitSets(t *testing.T, cl *fakeCloud, name string, n int) []any {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for {
		got := cl.setsFor(name)
		if len(got) >= n {
			return got
		}
		if time.Now().After(deadline) {
			t.Fatalf("timeout: %s has %d writes, want %d", name, len(got), n)
		}
		time.Sleep(time.Millisecond)
	}
}

// -----------------------------------------------------------------------------
// Tests
// -----------------------------------------------------------------------------

func TestRegistersThreeVariables(t *testing.T) {
	b := bus.NewBus(16)
	cl := newFakeCloud()
	startLink(t, b, cl, true)

	cl.mu.Lock()
	defer cl.mu.Unlock()
	for _, name := range []string{VarButtonState, VarDebugMessage, VarLEDState} {
		if _, ok := cl.initials[name]; !ok {
			t.Errorf("variable %s not registered", name)
		}
	}
	if cl.onWrite[VarLEDState] == nil {
		t.Error("led_state has no change callback")
	}
}

func TestInitialButtonStateSeededFromRetained(t *testing.T) {
	b := bus.NewBus(16)
	pub := b.NewConnection("hal")
	pub.Publish(pub.NewMessage(hal.TopicButtonState,
		types.ButtonState{Pressed: true, TS: 1}, true))

	cl := newFakeCloud()
	startLink(t, b, cl, true)

	cl.mu.Lock()
	defer cl.mu.Unlock()
	if cl.initials[VarButtonState] != true {
		t.Errorf("initial button_state = %v, want true", cl.initials[VarButtonState])
	}
}

func TestPressAndReleaseReachCloud(t *testing.T) {
	b := bus.NewBus(16)
	cl := newFakeCloud()
	console := startLink(t, b, cl, true)

	pub := b.NewConnection("hal")
	pub.Publish(pub.NewMessage(hal.TopicButtonEvent, pressEvent(true), false))
	pub.Publish(pub.NewMessage(hal.TopicButtonEvent, pressEvent(false), false))

	got := waitSets(t, cl, VarButtonState, 2)
	if got[0] != true || got[1] != false {
		t.Errorf("button_state writes = %v, want [true false]", got)
	}

	debug := waitSets(t, cl, VarDebugMessage, 3) // startup + press + release
	if debug[1] != "Button pressed." || debug[2] != "Button released." {
		t.Errorf("debug writes = %v", debug)
	}
	out := console.String()
	if !strings.Contains(out, "Button pressed.") || !strings.Contains(out, "Button released.") {
		t.Errorf("console missing debug lines: %q", out)
	}
}

func TestLEDWriteDrivesBusAndDebug(t *testing.T) {
	b := bus.NewBus(16)
	cl := newFakeCloud()
	console := startLink(t, b, cl, true)

	obs := b.NewConnection("t")
	ledSet := obs.Subscribe(hal.TopicLEDSet)

	cl.write(t, VarLEDState, true)

	select {
	case m := <-ledSet.Channel():
		if cmd, ok := m.Payload.(types.LEDCommand); !ok || !cmd.On {
			t.Errorf("unexpected LED command: %+v", m.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("no LED command on bus")
	}

	debug := waitSets(t, cl, VarDebugMessage, 2) // startup + led
	if debug[1] != "Turned on LED." {
		t.Errorf("debug writes = %v", debug)
	}
	if !strings.Contains(console.String(), "Turned on LED.") {
		t.Errorf("console missing LED debug line: %q", console.String())
	}

	cl.write(t, VarLEDState, false)
	debug = waitSets(t, cl, VarDebugMessage, 3)
	if debug[2] != "Turned off LED." {
		t.Errorf("debug writes = %v", debug)
	}
}

func TestNonBooleanLEDWriteIgnored(t *testing.T) {
	b := bus.NewBus(16)
	cl := newFakeCloud()
	startLink(t, b, cl, true)

	obs := b.NewConnection("t")
	ledSet := obs.Subscribe(hal.TopicLEDSet)

	cl.write(t, VarLEDState, "not a bool")

	select {
	case m := <-ledSet.Channel():
		t.Fatalf("unexpected LED command: %+v", m.Payload)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDebugDisabled(t *testing.T) {
	b := bus.NewBus(16)
	cl := newFakeCloud()
	console := startLink(t, b, cl, false)

	// Startup announcement still goes to both sinks.
	debug := waitSets(t, cl, VarDebugMessage, 1)
	if debug[0] != "DEBUG mode is disabled." {
		t.Errorf("startup debug = %v", debug)
	}
	if !strings.Contains(console.String(), "DEBUG mode is disabled.") {
		t.Errorf("console missing startup line: %q", console.String())
	}

	// Button and LED activity emit no further debug messages.
	pub := b.NewConnection("hal")
	pub.Publish(pub.NewMessage(hal.TopicButtonEvent, pressEvent(true), false))
	waitSets(t, cl, VarButtonState, 1)
	cl.write(t, VarLEDState, true)

	time.Sleep(20 * time.Millisecond)
	if got := cl.setsFor(VarDebugMessage); len(got) != 1 {
		t.Errorf("unexpected debug writes: %v", got)
	}
}

func TestDebugEnabledAnnouncement(t *testing.T) {
	b := bus.NewBus(16)
	cl := newFakeCloud()
	console := startLink(t, b, cl, true)

	debug := waitSets(t, cl, VarDebugMessage, 1)
	if debug[0] != "DEBUG mode is enabled." {
		t.Errorf("startup debug = %v", debug)
	}
	if !strings.Contains(console.String(), "DEBUG mode is enabled.") {
		t.Errorf("console missing startup line: %q", console.String())
	}

	// The last debug line is retained on the bus.
	obs := b.NewConnection("t")
	sub := obs.Subscribe(TopicDebug)
	select {
	case m := <-sub.Channel():
		if dm, ok := m.Payload.(types.DebugMessage); !ok || dm.Text != "DEBUG mode is enabled." {
			t.Errorf("unexpected retained debug payload: %+v", m.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("no retained debug message on the bus")
	}
}
