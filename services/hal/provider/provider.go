// services/hal/provider/provider.go
//
// Pin provider selection. "gpiod" is the default on Linux, "periph"
// works through periph.io's host drivers, and "mem" runs without
// hardware.
package provider

import (
	"fmt"

	"cloudbutton-go/services/hal/halio"
	"cloudbutton-go/services/hal/provider/mem"
)

type Config struct {
	Chip string // gpiod only, e.g. "gpiochip0"
}

func New(backend string, cfg Config) (halio.PinProvider, error) {
	switch backend {
	case "gpiod":
		return newGPIOD(cfg.Chip)
	case "periph":
		return newPeriph()
	case "mem":
		return mem.New(), nil
	default:
		return nil, fmt.Errorf("unknown gpio backend %q", backend)
	}
}
