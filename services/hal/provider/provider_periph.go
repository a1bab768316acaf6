// services/hal/provider/provider_periph.go
package provider

import (
	"fmt"
	"sync"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"

	"cloudbutton-go/errcode"
	"cloudbutton-go/services/hal/halio"
)

type periphProvider struct{}

func newPeriph() (halio.PinProvider, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("periph host init: %w", err)
	}
	return &periphProvider{}, nil
}

func (p *periphProvider) lookup(pin int) (gpio.PinIO, error) {
	name := fmt.Sprintf("GPIO%d", pin)
	pio := gpioreg.ByName(name)
	if pio == nil {
		return nil, &errcode.E{C: errcode.UnknownPin, Op: "lookup", Msg: name}
	}
	return pio, nil
}

func (p *periphProvider) Input(pin int, pullUp bool) (halio.InputPin, error) {
	pio, err := p.lookup(pin)
	if err != nil {
		return nil, err
	}
	pull := gpio.PullDown
	if pullUp {
		pull = gpio.PullUp
	}
	if err := pio.In(pull, gpio.BothEdges); err != nil {
		return nil, fmt.Errorf("configuring input %s: %w", pio, err)
	}
	return &periphInput{pin: pio}, nil
}

func (p *periphProvider) Output(pin int, initial bool) (halio.OutputPin, error) {
	pio, err := p.lookup(pin)
	if err != nil {
		return nil, err
	}
	if err := pio.Out(gpio.Level(initial)); err != nil {
		return nil, fmt.Errorf("configuring output %s: %w", pio, err)
	}
	return &periphOutput{pin: pio}, nil
}

func (p *periphProvider) Close() error { return nil }

// -----------------------------------------------------------------------------
// Pins
// -----------------------------------------------------------------------------

// periph has no callback API; Watch runs a WaitForEdge loop until Halt
// unblocks it.
type periphInput struct {
	pin gpio.PinIO

	mu   sync.Mutex
	done chan struct{}
}

func (in *periphInput) Get() (bool, error) { return bool(in.pin.Read()), nil }

func (in *periphInput) Watch(handler func(level bool)) error {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.done != nil {
		return &errcode.E{C: errcode.PinInUse, Op: "watch", Msg: "already watching"}
	}
	done := make(chan struct{})
	in.done = done

	go func() {
		defer close(done)
		for {
			if !in.pin.WaitForEdge(-1) {
				return // Halt or pin closed
			}
			handler(bool(in.pin.Read()))
		}
	}()
	return nil
}

func (in *periphInput) Unwatch() {
	in.mu.Lock()
	done := in.done
	in.done = nil
	in.mu.Unlock()
	if done == nil {
		return
	}
	_ = in.pin.Halt()
	<-done
}

func (in *periphInput) Close() error {
	in.Unwatch()
	return in.pin.Halt()
}

type periphOutput struct {
	pin gpio.PinIO
}

func (out *periphOutput) Set(on bool) error { return out.pin.Out(gpio.Level(on)) }
func (out *periphOutput) Close() error      { return out.pin.Halt() }
