// Package config loads the optional config.yaml. Every field has a
// default matching the reference circuit (button on BCM 5, LED on BCM 21),
// so a missing file is not an error.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is resolved relative to the working directory.
const DefaultPath = "config.yaml"

type Config struct {
	GPIO      GPIOConfig      `yaml:"gpio"`
	Cloud     CloudConfig     `yaml:"cloud"`
	Heartbeat HeartbeatConfig `yaml:"heartbeat"`
	Debug     *bool           `yaml:"debug"` // nil means enabled, matching the reference
	Log       LogConfig       `yaml:"log"`
}

// DebugEnabled reports the debug mode, defaulting to on.
func (c *Config) DebugEnabled() bool { return c.Debug == nil || *c.Debug }

type GPIOConfig struct {
	// Backend selects the pin provider: "gpiod", "periph" or "mem".
	Backend string `yaml:"backend"`
	Chip    string `yaml:"chip"` // gpiod only, e.g. "gpiochip0"

	ButtonPin int `yaml:"button_pin"` // BCM numbering
	LEDPin    int `yaml:"led_pin"`

	// The reference button is normally open to ground with a pull-up, so
	// a pressed contact reads low. nil keeps that wiring.
	ButtonActiveLow *bool `yaml:"button_active_low"`
	DebounceMS      int   `yaml:"debounce_ms"`
}

// ActiveLow reports whether a pressed button reads low, defaulting to true.
func (g GPIOConfig) ActiveLow() bool { return g.ButtonActiveLow == nil || *g.ButtonActiveLow }

type CloudConfig struct {
	BrokerURL   string `yaml:"broker_url"`
	TopicPrefix string `yaml:"topic_prefix"`
}

type HeartbeatConfig struct {
	IntervalS int `yaml:"interval_s"` // negative disables
}

// Interval converts the configured seconds; disabled yields zero.
func (h HeartbeatConfig) Interval() time.Duration {
	if h.IntervalS <= 0 {
		return 0
	}
	return time.Duration(h.IntervalS) * time.Second
}

type LogConfig struct {
	Level string `yaml:"level"` // "debug", "info", "warn", "error"
}

// Load reads path if it exists and fills in defaults. A missing file
// yields the pure-default configuration.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// Defaults only.
	case err != nil:
		return nil, fmt.Errorf("reading config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	}

	cfg.setDefaults()
	return cfg, nil
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	cfg := &Config{}
	cfg.setDefaults()
	return cfg
}

func (c *Config) setDefaults() {
	if c.GPIO.Backend == "" {
		c.GPIO.Backend = "gpiod"
	}
	if c.GPIO.Chip == "" {
		c.GPIO.Chip = "gpiochip0"
	}
	if c.GPIO.ButtonPin == 0 {
		c.GPIO.ButtonPin = 5
	}
	if c.GPIO.LEDPin == 0 {
		c.GPIO.LEDPin = 21
	}
	if c.GPIO.DebounceMS == 0 {
		c.GPIO.DebounceMS = 20
	}
	if c.GPIO.ButtonPin == c.GPIO.LEDPin {
		// Nonsensical wiring; fall back to the reference circuit.
		c.GPIO.ButtonPin, c.GPIO.LEDPin = 5, 21
	}
	if c.Cloud.BrokerURL == "" {
		c.Cloud.BrokerURL = "tcp://localhost:1883"
	}
	if c.Cloud.TopicPrefix == "" {
		c.Cloud.TopicPrefix = "things"
	}
	if c.Heartbeat.IntervalS == 0 {
		c.Heartbeat.IntervalS = 60
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}
