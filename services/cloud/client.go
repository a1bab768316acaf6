// services/cloud/client.go
//
// Cloud variable client. Named variables registered before Start are kept
// in a last-known-value store synchronized over MQTT: local writes are
// published upstream, remote writes arrive on a per-variable downstream
// topic, update the store and fire the registered callback. Transport,
// authentication and reconnection are entirely the MQTT library's job.
package cloud

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"cloudbutton-go/errcode"
)

// -----------------------------------------------------------------------------
// Options and registration
// -----------------------------------------------------------------------------

type Options struct {
	DeviceID  string // also the MQTT username
	SecretKey string // the MQTT password
	BrokerURL string

	TopicPrefix string        // defaults to "things"
	ClientID    string        // defaults to DeviceID
	ConnectWait time.Duration // defaults to 30s
}

// OnWriteFunc runs on the MQTT handler goroutine whenever the remote side
// writes the variable.
type OnWriteFunc func(c *Client, value any)

type RegisterOption func(*variable)

// WithValue sets the initial value of the variable.
func WithValue(v any) RegisterOption {
	return func(va *variable) { va.value = v }
}

// OnWrite attaches a change callback for remote writes.
func OnWrite(fn OnWriteFunc) RegisterOption {
	return func(va *variable) { va.onWrite = fn }
}

type variable struct {
	name    string
	value   any
	onWrite OnWriteFunc
}

// -----------------------------------------------------------------------------
// Client
// -----------------------------------------------------------------------------

type Client struct {
	opts Options
	log  *slog.Logger

	mu      sync.RWMutex
	vars    map[string]*variable
	started bool
	mq      mqtt.Client

	// test seam; defaults to mqtt.NewClient
	newClient func(*mqtt.ClientOptions) mqtt.Client
}

func New(opts Options, log *slog.Logger) *Client {
	if opts.TopicPrefix == "" {
		opts.TopicPrefix = "things"
	}
	if opts.ClientID == "" {
		opts.ClientID = opts.DeviceID
	}
	if opts.ConnectWait <= 0 {
		opts.ConnectWait = 30 * time.Second
	}
	return &Client{
		opts:      opts,
		log:       log,
		vars:      map[string]*variable{},
		newClient: mqtt.NewClient,
	}
}

// Register adds a synchronized variable. All registrations must happen
// before Start.
func (c *Client) Register(name string, opts ...RegisterOption) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return &errcode.E{C: errcode.AlreadyStarted, Op: "register", Msg: name}
	}
	va := &variable{name: name}
	for _, o := range opts {
		o(va)
	}
	c.vars[name] = va
	return nil
}

// Get returns the last known value of a variable.
func (c *Client) Get(name string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	va, ok := c.vars[name]
	if !ok {
		return nil, false
	}
	return va.value, true
}

// Set updates the local store and, when connected, publishes upstream.
func (c *Client) Set(name string, value any) error {
	c.mu.Lock()
	va, ok := c.vars[name]
	if !ok {
		c.mu.Unlock()
		return &errcode.E{C: errcode.UnknownVariable, Op: "set", Msg: name}
	}
	va.value = value
	mq := c.mq
	c.mu.Unlock()

	if mq == nil || !mq.IsConnected() {
		return nil // keep last value locally; sync happens on (re)connect
	}
	return c.publish(mq, name, value)
}

// Start connects and blocks until ctx is cancelled. Variable registration
// is frozen once Start runs.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return errcode.AlreadyStarted
	}
	c.started = true
	c.mu.Unlock()

	co := mqtt.NewClientOptions().
		AddBroker(c.opts.BrokerURL).
		SetClientID(c.opts.ClientID).
		SetUsername(c.opts.DeviceID).
		SetPassword(c.opts.SecretKey).
		SetAutoReconnect(true).
		SetOnConnectHandler(c.onConnect).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			c.log.Warn("cloud connection lost", "error", err)
		})

	mq := c.newClient(co)
	c.mu.Lock()
	c.mq = mq
	c.mu.Unlock()

	tok := mq.Connect()
	if !tok.WaitTimeout(c.opts.ConnectWait) {
		return &errcode.E{C: errcode.Timeout, Op: "connect", Msg: c.opts.BrokerURL}
	}
	if err := tok.Error(); err != nil {
		return fmt.Errorf("connecting to %s: %w", c.opts.BrokerURL, err)
	}

	<-ctx.Done()
	mq.Disconnect(250)
	return nil
}

// -----------------------------------------------------------------------------
// Wire mapping
// -----------------------------------------------------------------------------

func (c *Client) upTopic(name string) string {
	return fmt.Sprintf("%s/%s/u/%s", c.opts.TopicPrefix, c.opts.DeviceID, name)
}

func (c *Client) downTopic(name string) string {
	return fmt.Sprintf("%s/%s/d/%s", c.opts.TopicPrefix, c.opts.DeviceID, name)
}

// onConnect runs on every (re)connect: subscribe the downstream topics,
// then push the current value of every variable upstream.
func (c *Client) onConnect(mq mqtt.Client) {
	c.log.Info("cloud connected", "broker", c.opts.BrokerURL)

	filter := fmt.Sprintf("%s/%s/d/+", c.opts.TopicPrefix, c.opts.DeviceID)
	if tok := mq.Subscribe(filter, 1, c.onDownstream); tok.Wait() && tok.Error() != nil {
		c.log.Error("downstream subscribe failed", "error", tok.Error())
	}

	c.mu.RLock()
	snapshot := make(map[string]any, len(c.vars))
	for name, va := range c.vars {
		snapshot[name] = va.value
	}
	c.mu.RUnlock()

	for name, value := range snapshot {
		if value == nil {
			continue
		}
		if err := c.publish(mq, name, value); err != nil {
			c.log.Error("variable sync failed", "variable", name, "error", err)
		}
	}
}

func (c *Client) publish(mq mqtt.Client, name string, value any) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return &errcode.E{C: errcode.InvalidPayload, Op: "publish", Msg: name, Err: err}
	}
	tok := mq.Publish(c.upTopic(name), 1, true, payload)
	if tok.Wait() && tok.Error() != nil {
		return tok.Error()
	}
	return nil
}

// onDownstream handles remote variable writes.
func (c *Client) onDownstream(_ mqtt.Client, msg mqtt.Message) {
	name := lastSegment(msg.Topic())

	c.mu.Lock()
	va, ok := c.vars[name]
	if !ok {
		c.mu.Unlock()
		c.log.Debug("downstream write for unknown variable", "variable", name)
		return
	}
	var value any
	if err := json.Unmarshal(msg.Payload(), &value); err != nil {
		c.mu.Unlock()
		c.log.Warn("downstream payload invalid", "variable", name, "error", err)
		return
	}
	va.value = value
	fn := va.onWrite
	c.mu.Unlock()

	if fn != nil {
		fn(c, value)
	}
}

func lastSegment(topic string) string {
	for i := len(topic) - 1; i >= 0; i-- {
		if topic[i] == '/' {
			return topic[i+1:]
		}
	}
	return topic
}
