// services/hal/provider/mem/mem.go
//
// In-memory pin provider for tests and no-hardware runs. Test code
// drives input levels with SetLevel and inspects outputs with Level.
package mem

import (
	"sync"

	"cloudbutton-go/errcode"
	"cloudbutton-go/services/hal/halio"
)

type Provider struct {
	mu      sync.Mutex
	pins    map[int]*Pin
	claimed map[int]bool
}

func New() *Provider {
	return &Provider{
		pins:    map[int]*Pin{},
		claimed: map[int]bool{},
	}
}

// Pin returns the record for a pin number, creating it if needed. Used by
// tests to preset or drive levels regardless of claim state.
func (p *Provider) Pin(n int) *Pin {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pin(n)
}

func (p *Provider) pin(n int) *Pin {
	pin, ok := p.pins[n]
	if !ok {
		pin = &Pin{prov: p, num: n}
		p.pins[n] = pin
	}
	return pin
}

func (p *Provider) Input(pin int, pullUp bool) (halio.InputPin, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.claimed[pin] {
		return nil, &errcode.E{C: errcode.PinInUse, Op: "input"}
	}
	pn := p.pin(pin)
	if pullUp && !pn.preset {
		pn.level = true // open contact reads high through the pull-up
	}
	p.claimed[pin] = true
	return pn, nil
}

func (p *Provider) Output(pin int, initial bool) (halio.OutputPin, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.claimed[pin] {
		return nil, &errcode.E{C: errcode.PinInUse, Op: "output"}
	}
	pn := p.pin(pin)
	pn.level = initial
	p.claimed[pin] = true
	return pn, nil
}

func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.claimed = map[int]bool{}
	return nil
}

func (p *Provider) release(n int) {
	p.mu.Lock()
	delete(p.claimed, n)
	p.mu.Unlock()
}

// -----------------------------------------------------------------------------
// Pin
// -----------------------------------------------------------------------------

type Pin struct {
	prov *Provider
	num  int

	mu      sync.Mutex
	level   bool
	preset  bool
	handler func(level bool)
}

var (
	_ halio.InputPin  = (*Pin)(nil)
	_ halio.OutputPin = (*Pin)(nil)
)

func (p *Pin) Get() (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.level, nil
}

func (p *Pin) Watch(handler func(level bool)) error {
	p.mu.Lock()
	p.handler = handler
	p.mu.Unlock()
	return nil
}

func (p *Pin) Unwatch() {
	p.mu.Lock()
	p.handler = nil
	p.mu.Unlock()
}

func (p *Pin) Set(on bool) error {
	p.mu.Lock()
	p.level = on
	p.mu.Unlock()
	return nil
}

func (p *Pin) Close() error {
	p.Unwatch()
	p.prov.release(p.num)
	return nil
}

// SetLevel drives the line from the test side and fires the watch
// handler, simulating a hardware edge.
func (p *Pin) SetLevel(level bool) {
	p.mu.Lock()
	p.level = level
	p.preset = true
	h := p.handler
	p.mu.Unlock()
	if h != nil {
		h(level)
	}
}

// Level reads the line from the test side.
func (p *Pin) Level() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.level
}
