// services/hal/provider/provider_gpiod.go
//go:build linux

package provider

import (
	"fmt"
	"sync"

	"github.com/warthog618/gpiod"

	"cloudbutton-go/services/hal/halio"
)

const consumer = "cloudbutton"

type gpiodProvider struct {
	chip *gpiod.Chip
}

func newGPIOD(chipName string) (halio.PinProvider, error) {
	chip, err := gpiod.NewChip(chipName, gpiod.WithConsumer(consumer))
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", chipName, err)
	}
	return &gpiodProvider{chip: chip}, nil
}

func (p *gpiodProvider) Input(pin int, pullUp bool) (halio.InputPin, error) {
	in := &gpiodInput{}
	opts := []gpiod.LineReqOption{
		gpiod.AsInput,
		gpiod.WithBothEdges,
		// The handler is fixed at request time; it forwards to whatever
		// Watch installed.
		gpiod.WithEventHandler(in.onEvent),
	}
	if pullUp {
		opts = append(opts, gpiod.WithPullUp)
	}
	line, err := p.chip.RequestLine(pin, opts...)
	if err != nil {
		return nil, fmt.Errorf("requesting input line %d: %w", pin, err)
	}
	in.line = line
	return in, nil
}

func (p *gpiodProvider) Output(pin int, initial bool) (halio.OutputPin, error) {
	line, err := p.chip.RequestLine(pin, gpiod.AsOutput(boolToInt(initial)))
	if err != nil {
		return nil, fmt.Errorf("requesting output line %d: %w", pin, err)
	}
	return &gpiodOutput{line: line}, nil
}

func (p *gpiodProvider) Close() error { return p.chip.Close() }

// -----------------------------------------------------------------------------
// Pins
// -----------------------------------------------------------------------------

type gpiodInput struct {
	line *gpiod.Line

	mu      sync.Mutex
	handler func(level bool)
}

func (in *gpiodInput) onEvent(evt gpiod.LineEvent) {
	in.mu.Lock()
	h := in.handler
	in.mu.Unlock()
	if h != nil {
		h(evt.Type == gpiod.LineEventRisingEdge)
	}
}

func (in *gpiodInput) Get() (bool, error) {
	v, err := in.line.Value()
	return v != 0, err
}

func (in *gpiodInput) Watch(handler func(level bool)) error {
	in.mu.Lock()
	in.handler = handler
	in.mu.Unlock()
	return nil
}

func (in *gpiodInput) Unwatch() {
	in.mu.Lock()
	in.handler = nil
	in.mu.Unlock()
}

func (in *gpiodInput) Close() error { return in.line.Close() }

type gpiodOutput struct {
	line *gpiod.Line
}

func (out *gpiodOutput) Set(on bool) error { return out.line.SetValue(boolToInt(on)) }
func (out *gpiodOutput) Close() error      { return out.line.Close() }

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
