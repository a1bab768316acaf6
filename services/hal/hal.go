// services/hal/hal.go
package hal

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"cloudbutton-go/bus"
	"cloudbutton-go/services/hal/halio"
	"cloudbutton-go/services/hal/internal/edge"
	"cloudbutton-go/types"
)

// -----------------------------------------------------------------------------
// Topics
// -----------------------------------------------------------------------------

var (
	TopicState       = bus.Topic{"hal", "state"}
	TopicButtonInfo  = bus.Topic{"hal", "button", "info"}
	TopicButtonState = bus.Topic{"hal", "button", "state"}
	TopicButtonEvent = bus.Topic{"hal", "button", "event"}
	TopicLEDInfo     = bus.Topic{"hal", "led", "info"}
	TopicLEDSet      = bus.Topic{"hal", "led", "set"}
	TopicLEDState    = bus.Topic{"hal", "led", "state"}
)

// -----------------------------------------------------------------------------
// Entry point
// -----------------------------------------------------------------------------

type Options struct {
	ButtonPin int
	LEDPin    int

	// ButtonActiveLow: pulled-up, normally-open-to-ground contact; a
	// pressed button reads low. The service inverts so that "pressed"
	// is the logical high everywhere above the pin.
	ButtonActiveLow bool
	Debounce        time.Duration
}

// Run claims the two pins and serves until ctx is cancelled. It blocks;
// a pin claim failure is returned immediately.
func Run(ctx context.Context, conn *bus.Connection, prov halio.PinProvider, opts Options, log *slog.Logger) error {
	s := &service{
		conn: conn,
		prov: prov,
		opts: opts,
		log:  log,
	}
	return s.run(ctx)
}

// -----------------------------------------------------------------------------
// Service
// -----------------------------------------------------------------------------

type service struct {
	conn *bus.Connection
	prov halio.PinProvider
	opts Options
	log  *slog.Logger

	button halio.InputPin
	led    halio.OutputPin
}

func (s *service) run(ctx context.Context) error {
	s.publishState("idle", "claiming_pins", nil)

	button, err := s.prov.Input(s.opts.ButtonPin, s.opts.ButtonActiveLow)
	if err != nil {
		s.publishState("error", "button_claim_failed", err)
		return err
	}
	defer button.Close()
	s.button = button

	led, err := s.prov.Output(s.opts.LEDPin, false)
	if err != nil {
		s.publishState("error", "led_claim_failed", err)
		return err
	}
	defer led.Close()
	s.led = led

	// Retained capability info.
	s.pubRet(TopicButtonInfo, types.Info{SchemaVersion: 1, Kind: types.KindButton, Driver: "gpio_button", Pin: s.opts.ButtonPin})
	s.pubRet(TopicLEDInfo, types.Info{SchemaVersion: 1, Kind: types.KindLED, Driver: "gpio_led", Pin: s.opts.LEDPin})

	// Initial states: the button is read and published immediately, the
	// LED starts off.
	now := time.Now().UnixMilli()
	pressed, err := s.pressedNow()
	if err != nil {
		s.publishState("error", "button_read_failed", err)
		return err
	}
	s.pubRet(TopicButtonState, types.ButtonState{Pressed: pressed, TS: now})
	s.pubRet(TopicLEDState, types.LEDState{On: false, TS: now})

	// Edge watcher: both edges, logical inversion applied at the watch.
	w := edge.New(32, 32)
	w.Start(ctx)
	cancelWatch, err := w.Register("button", button, halio.EdgeBoth, s.opts.Debounce, s.opts.ButtonActiveLow)
	if err != nil {
		s.publishState("error", "edge_watch_failed", err)
		return err
	}
	defer cancelWatch()

	ledSub := s.conn.Subscribe(TopicLEDSet)
	defer s.conn.Unsubscribe(ledSub)

	s.publishState("ready", "pins_claimed", nil)
	s.log.Info("hal ready",
		"button_pin", s.opts.ButtonPin, "led_pin", s.opts.LEDPin,
		"active_low", s.opts.ButtonActiveLow, "debounce", s.opts.Debounce)

	for {
		select {
		case <-ctx.Done():
			s.publishState("stopped", "context_cancelled", nil)
			return nil

		case ev := <-w.Events():
			s.handleButtonEvent(ev)

		case msg, ok := <-ledSub.Channel():
			if !ok {
				s.publishState("error", "led_subscription_closed", nil)
				return nil
			}
			s.handleLEDSet(msg)
		}
	}
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

func (s *service) handleButtonEvent(ev edge.Event) {
	pressed := ev.Level // logical level: true = pressed
	ts := ev.TS.UnixMilli()

	// Event (non-retained), then state (retained).
	s.conn.Publish(s.conn.NewMessage(TopicButtonEvent,
		types.ButtonEvent{Pressed: pressed, Edge: ev.Edge.String(), TS: ts}, false))
	s.pubRet(TopicButtonState, types.ButtonState{Pressed: pressed, TS: ts})

	s.log.Debug("button edge", "pressed", pressed, "edge", ev.Edge.String())
}

func (s *service) handleLEDSet(msg *bus.Message) {
	var cmd types.LEDCommand
	if err := decodePayload(msg.Payload, &cmd); err != nil {
		s.publishState("error", "led_payload_invalid", err)
		return
	}
	if err := s.led.Set(cmd.On); err != nil {
		s.publishState("error", "led_write_failed", err)
		return
	}
	s.pubRet(TopicLEDState, types.LEDState{On: cmd.On, TS: time.Now().UnixMilli()})
	s.log.Debug("led applied", "on", cmd.On)
}

// pressedNow samples the button and applies the active-low inversion.
func (s *service) pressedNow() (bool, error) {
	raw, err := s.button.Get()
	if err != nil {
		return false, err
	}
	if s.opts.ButtonActiveLow {
		raw = !raw
	}
	return raw, nil
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func (s *service) publishState(level, status string, err error) {
	st := types.ServiceState{Level: level, Status: status, TS: time.Now().UnixMilli()}
	if err != nil {
		st.Error = err.Error()
	}
	s.pubRet(TopicState, st)
}

func (s *service) pubRet(t bus.Topic, p any) {
	s.conn.Publish(s.conn.NewMessage(t, p, true))
}

// decodePayload accepts the typed struct, raw JSON bytes, or a decoded
// map, and lands it in dst.
func decodePayload[T any](src any, dst *T) error {
	switch v := src.(type) {
	case T:
		*dst = v
		return nil
	case []byte:
		return json.Unmarshal(v, dst)
	case string:
		return json.Unmarshal([]byte(v), dst)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return err
		}
		return json.Unmarshal(b, dst)
	}
}
