// services/hal/internal/edge/watcher.go
package edge

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"cloudbutton-go/services/hal/halio"
)

// Event is delivered from the watcher to the HAL service. Level is the
// logical level (after inversion).
type Event struct {
	ID    string
	Level bool
	Edge  halio.Edge
	TS    time.Time
}

type Watcher struct {
	// Fed from provider event paths; sends MUST NOT block:
	isrQ chan isrEvent
	// Consumed by the HAL service:
	outQ    chan Event
	stopped chan struct{}

	mu     sync.RWMutex
	inputs map[string]*watch // id -> watch

	drops uint32 // event-path drop counter
}

type isrEvent struct {
	id    string
	level bool // raw level captured on the event path
}

type watch struct {
	id        string
	pin       halio.InputPin
	edge      halio.Edge
	debounce  time.Duration
	invert    bool
	lastLevel bool
	lastEvent time.Time
}

func New(isrBuf, outBuf int) *Watcher {
	if isrBuf <= 0 {
		isrBuf = 64
	}
	if outBuf <= 0 {
		outBuf = 64
	}
	return &Watcher{
		isrQ:    make(chan isrEvent, isrBuf),
		outQ:    make(chan Event, outBuf),
		stopped: make(chan struct{}),
		inputs:  map[string]*watch{},
	}
}

func (w *Watcher) Start(ctx context.Context) {
	go func() {
		defer close(w.stopped)
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-w.isrQ:
				w.handle(ev)
			}
		}
	}()
}

func (w *Watcher) Events() <-chan Event { return w.outQ }

// Register starts watching pin for the given logical edges. The returned
// cancel function stops delivery and releases the pin watch.
func (w *Watcher) Register(id string, pin halio.InputPin, e halio.Edge, debounce time.Duration, invert bool) (func(), error) {
	if e == halio.EdgeNone {
		return func() {}, nil
	}

	// Initial *logical* level snapshot (after inversion), so subsequent
	// edge detection compares like-for-like.
	init, err := pin.Get()
	if err != nil {
		return nil, err
	}
	if invert {
		init = !init
	}
	wh := &watch{
		id:        id,
		pin:       pin,
		edge:      e,
		debounce:  debounce,
		invert:    invert,
		lastLevel: init,
	}

	// Event-path handler: non-blocking channel send only.
	handler := func(level bool) {
		select {
		case w.isrQ <- isrEvent{id: id, level: level}:
		default:
			atomic.AddUint32(&w.drops, 1)
		}
	}
	if err := pin.Watch(handler); err != nil {
		return nil, err
	}

	w.mu.Lock()
	w.inputs[id] = wh
	w.mu.Unlock()

	return func() {
		w.mu.Lock()
		if cur, ok := w.inputs[id]; ok {
			cur.pin.Unwatch()
			delete(w.inputs, id)
		}
		w.mu.Unlock()
	}, nil
}

func (w *Watcher) handle(ev isrEvent) {
	w.mu.RLock()
	wh := w.inputs[ev.id]
	w.mu.RUnlock()
	if wh == nil {
		return
	}
	level := ev.level
	if wh.invert {
		level = !level
	}
	now := time.Now()

	// Debounce
	if !wh.lastEvent.IsZero() && now.Sub(wh.lastEvent) < wh.debounce {
		return
	}

	// Edge classification against the last logical level.
	var e halio.Edge
	switch {
	case !wh.lastLevel && level:
		e = halio.EdgeRising
	case wh.lastLevel && !level:
		e = halio.EdgeFalling
	}

	if e != halio.EdgeNone && (wh.edge == halio.EdgeBoth || wh.edge == e) {
		select {
		case w.outQ <- Event{ID: ev.id, Level: level, Edge: e, TS: now}:
		default:
			// drop to protect the system if the consumer is slow
		}
	}

	// Always update snapshots.
	wh.lastLevel = level
	wh.lastEvent = now
}

// Drops reports events discarded on the non-blocking event path.
func (w *Watcher) Drops() uint32 { return atomic.LoadUint32(&w.drops) }
