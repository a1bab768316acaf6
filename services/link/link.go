// services/link/link.go
//
// The wiring layer: binds button events on the bus to the cloud
// button_state variable, remote led_state writes to the bus LED control,
// and mirrors debug messages to the console and the cloud.
package link

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"cloudbutton-go/bus"
	"cloudbutton-go/services/cloud"
	"cloudbutton-go/services/hal"
	"cloudbutton-go/types"
)

// Cloud variable names, fixed identifiers shared with the dashboard.
const (
	VarButtonState  = "button_state"
	VarDebugMessage = "debug_message"
	VarLEDState     = "led_state"
)

var (
	TopicState = bus.Topic{"link", "state"}
	// TopicDebug carries the last debug line, retained, for bus observers.
	TopicDebug = bus.Topic{"link", "debug"}
)

// -----------------------------------------------------------------------------
// Cloud dependency
// -----------------------------------------------------------------------------

// Cloud is the slice of the cloud client this service needs.
type Cloud interface {
	Register(name string, initial any, onWrite func(value any)) error
	Set(name string, value any) error
}

// Adapt wraps the concrete cloud client in the Cloud interface.
func Adapt(c *cloud.Client) Cloud { return cloudAdapter{c} }

type cloudAdapter struct{ c *cloud.Client }

func (a cloudAdapter) Register(name string, initial any, onWrite func(value any)) error {
	var opts []cloud.RegisterOption
	if initial != nil {
		opts = append(opts, cloud.WithValue(initial))
	}
	if onWrite != nil {
		opts = append(opts, cloud.OnWrite(func(_ *cloud.Client, v any) { onWrite(v) }))
	}
	return a.c.Register(name, opts...)
}

func (a cloudAdapter) Set(name string, value any) error { return a.c.Set(name, value) }

// -----------------------------------------------------------------------------
// Service
// -----------------------------------------------------------------------------

type Options struct {
	Debug bool
	// Console receives debug lines; defaults to os.Stdout.
	Console io.Writer
}

// Run registers the cloud variables and serves until ctx is cancelled.
// It must run before the cloud client's Start (registration is frozen
// there).
func Run(ctx context.Context, conn *bus.Connection, cl Cloud, opts Options, log *slog.Logger) error {
	if opts.Console == nil {
		opts.Console = os.Stdout
	}
	s := &service{conn: conn, cloud: cl, opts: opts, log: log}
	return s.run(ctx)
}

type service struct {
	conn  *bus.Connection
	cloud Cloud
	opts  Options
	log   *slog.Logger
}

func (s *service) run(ctx context.Context) error {
	events := s.conn.Subscribe(hal.TopicButtonEvent)
	defer s.conn.Unsubscribe(events)

	// Seed button_state from the retained HAL state when it is already
	// there; nil otherwise, matching an unknown boot state.
	initial := s.initialButtonState()

	if err := s.cloud.Register(VarButtonState, initial, nil); err != nil {
		return err
	}
	if err := s.cloud.Register(VarDebugMessage, nil, nil); err != nil {
		return err
	}
	if err := s.cloud.Register(VarLEDState, nil, s.ledStateChanged); err != nil {
		return err
	}

	// One-time mode announcement, emitted in either mode.
	if s.opts.Debug {
		s.printDebug("DEBUG mode is enabled.")
	} else {
		s.printDebug("DEBUG mode is disabled.")
	}

	s.publishState("ready", "variables_registered")
	s.log.Info("link ready", "debug", s.opts.Debug)

	for {
		select {
		case <-ctx.Done():
			s.publishState("stopped", "context_cancelled")
			return nil
		case msg, ok := <-events.Channel():
			if !ok {
				s.publishState("error", "event_subscription_closed")
				return nil
			}
			s.handleButtonEvent(msg)
		}
	}
}

// initialButtonState does a non-blocking read of the retained HAL button
// state.
func (s *service) initialButtonState() any {
	sub := s.conn.Subscribe(hal.TopicButtonState)
	defer s.conn.Unsubscribe(sub)
	select {
	case msg := <-sub.Channel():
		if st, ok := msg.Payload.(types.ButtonState); ok {
			return st.Pressed
		}
	default:
	}
	return nil
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

func (s *service) handleButtonEvent(msg *bus.Message) {
	ev, ok := msg.Payload.(types.ButtonEvent)
	if !ok {
		s.log.Warn("unexpected button event payload", "payload", msg.Payload)
		return
	}

	if err := s.cloud.Set(VarButtonState, ev.Pressed); err != nil {
		s.log.Error("button_state write failed", "error", err)
	}
	if s.opts.Debug {
		if ev.Pressed {
			s.printDebug("Button pressed.")
		} else {
			s.printDebug("Button released.")
		}
	}
}

// ledStateChanged runs on the cloud client's handler goroutine whenever
// the dashboard writes led_state.
func (s *service) ledStateChanged(value any) {
	on, ok := value.(bool)
	if !ok {
		s.log.Warn("led_state write with non-boolean value", "value", value)
		return
	}

	s.conn.Publish(s.conn.NewMessage(hal.TopicLEDSet, types.LEDCommand{On: on}, false))

	if s.opts.Debug {
		if on {
			s.printDebug("Turned on LED.")
		} else {
			s.printDebug("Turned off LED.")
		}
	}
}

// printDebug mirrors a debug line to the console and the cloud variable,
// unconditionally when invoked. Gating on debug mode happens at the call
// sites.
func (s *service) printDebug(text string) {
	if err := s.cloud.Set(VarDebugMessage, text); err != nil {
		s.log.Error("debug_message write failed", "error", err)
	}
	fmt.Fprintln(s.opts.Console, text)
	s.conn.Publish(s.conn.NewMessage(TopicDebug,
		types.DebugMessage{Text: text, TS: time.Now().UnixMilli()}, true))
}

func (s *service) publishState(level, status string) {
	s.conn.Publish(s.conn.NewMessage(TopicState,
		types.ServiceState{Level: level, Status: status, TS: time.Now().UnixMilli()}, true))
}
