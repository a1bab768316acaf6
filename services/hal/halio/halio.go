// services/hal/halio/halio.go
//
// Shared pin abstractions implemented by the providers and consumed by
// the HAL service. Providers own the hardware access; everything above
// them sees only these interfaces.
package halio

// Edge selects which logical transitions an input watcher reports.
type Edge uint8

const (
	EdgeNone Edge = iota
	EdgeRising
	EdgeFalling
	EdgeBoth
)

func (e Edge) String() string {
	switch e {
	case EdgeRising:
		return "rising"
	case EdgeFalling:
		return "falling"
	case EdgeBoth:
		return "both"
	default:
		return "none"
	}
}

// InputPin is a claimed digital input.
type InputPin interface {
	// Get samples the raw line level (true = high).
	Get() (bool, error)
	// Watch arranges for handler to run on every hardware transition with
	// the sampled raw level. The handler runs on the provider's event
	// path and must not block.
	Watch(handler func(level bool)) error
	// Unwatch stops edge delivery. Safe to call when not watching.
	Unwatch()
	Close() error
}

// OutputPin is a claimed digital output.
type OutputPin interface {
	Set(on bool) error
	Close() error
}

// PinProvider claims pins by BCM number. Implementations: gpiod (Linux
// chardev), periph (periph.io), mem (in-memory, tests and dry runs).
type PinProvider interface {
	Input(pin int, pullUp bool) (InputPin, error)
	Output(pin int, initial bool) (OutputPin, error)
	Close() error
}
