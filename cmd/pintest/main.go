// cmd/pintest/main.go
//
// Hardware smoke test: blinks the LED a few times, then reports button
// transitions for a minute. Uses the configured pin backend directly, no
// cloud involvement.
package main

import (
	"fmt"
	"os"
	"time"

	"cloudbutton-go/config"
	"cloudbutton-go/services/hal/provider"
)

const (
	blinkCount = 5
	blinkDelay = 500 * time.Millisecond
	watchFor   = time.Minute
)

func main() {
	cfg, err := config.Load(config.DefaultPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	prov, err := provider.New(cfg.GPIO.Backend, provider.Config{Chip: cfg.GPIO.Chip})
	if err != nil {
		fmt.Fprintln(os.Stderr, "gpio backend:", err)
		os.Exit(1)
	}
	defer prov.Close()

	led, err := prov.Output(cfg.GPIO.LEDPin, false)
	if err != nil {
		fmt.Fprintln(os.Stderr, "led:", err)
		os.Exit(1)
	}
	defer led.Close()

	fmt.Printf("Blinking LED on BCM %d...\n", cfg.GPIO.LEDPin)
	for i := 0; i < blinkCount; i++ {
		_ = led.Set(true)
		time.Sleep(blinkDelay)
		_ = led.Set(false)
		time.Sleep(blinkDelay)
	}

	button, err := prov.Input(cfg.GPIO.ButtonPin, cfg.GPIO.ActiveLow())
	if err != nil {
		fmt.Fprintln(os.Stderr, "button:", err)
		os.Exit(1)
	}
	defer button.Close()

	err = button.Watch(func(level bool) {
		pressed := level
		if cfg.GPIO.ActiveLow() {
			pressed = !pressed
		}
		fmt.Printf("button pressed=%v\n", pressed)
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "watch:", err)
		os.Exit(1)
	}
	defer button.Unwatch()

	fmt.Printf("Watching button on BCM %d for %s...\n", cfg.GPIO.ButtonPin, watchFor)
	time.Sleep(watchFor)
}
