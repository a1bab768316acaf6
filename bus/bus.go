// bus.go
package bus

import (
	"strings"
	"sync"
)

// -----------------------------------------------------------------------------
// Topics
// -----------------------------------------------------------------------------

// Topic is a path of string tokens, e.g. Topic{"hal", "button", "event"}.
// Subscription patterns may use "+" to match one token and "#" to match
// any remaining tokens (including none).
type Topic []string

const (
	WildOne = "+"
	WildAll = "#"
)

func (t Topic) String() string { return strings.Join(t, "/") }

// Equal reports whether two topics are token-for-token identical.
func (t Topic) Equal(o Topic) bool {
	if len(t) != len(o) {
		return false
	}
	for i := range t {
		if t[i] != o[i] {
			return false
		}
	}
	return true
}

// -----------------------------------------------------------------------------
// Message
// -----------------------------------------------------------------------------

type Message struct {
	Topic    Topic
	Payload  any
	Retained bool
	ReplyTo  Topic
}

// -----------------------------------------------------------------------------
// Subscription
// -----------------------------------------------------------------------------

type Subscription struct {
	pattern Topic
	ch      chan *Message
	conn    *Connection
}

func (s *Subscription) Topic() Topic             { return s.pattern }
func (s *Subscription) Channel() <-chan *Message { return s.ch }
func (s *Subscription) Unsubscribe()             { s.conn.Unsubscribe(s) }

// -----------------------------------------------------------------------------
// Trie node
// -----------------------------------------------------------------------------

// A single trie holds both subscription patterns (wildcard tokens are
// ordinary map keys) and retained messages (stored at their literal path).
type node struct {
	children map[string]*node
	subs     []*Subscription
	retained *Message
}

func (n *node) child(tok string, create bool) *node {
	if n.children == nil {
		if !create {
			return nil
		}
		n.children = make(map[string]*node)
	}
	c, ok := n.children[tok]
	if !ok {
		if !create {
			return nil
		}
		c = &node{}
		n.children[tok] = c
	}
	return c
}

// -----------------------------------------------------------------------------
// Bus
// -----------------------------------------------------------------------------

type Bus struct {
	mu   sync.RWMutex
	root *node
	qLen int
}

// NewBus creates a new bus with the given per-subscription queue length.
func NewBus(queueLen int) *Bus {
	if queueLen <= 0 {
		queueLen = 8 // safe default
	}
	return &Bus{root: &node{}, qLen: queueLen}
}

// NewMessage is a convenience constructor.
func (b *Bus) NewMessage(topic Topic, payload any, retained bool) *Message {
	return &Message{Topic: topic, Payload: payload, Retained: retained}
}

// Publish delivers a message to every subscription whose pattern matches
// the message topic, then stores or clears the retained value.
func (b *Bus) Publish(msg *Message) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.matchSubs(b.root, msg.Topic, msg)

	if !msg.Retained {
		return
	}
	n := b.root
	for _, tok := range msg.Topic {
		n = n.child(tok, true)
	}
	if msg.Payload == nil {
		n.retained = nil // nil payload clears
	} else {
		n.retained = msg
	}
}

// matchSubs walks the trie delivering msg to subscriptions whose pattern
// matches the remaining topic tokens.
func (b *Bus) matchSubs(n *node, rest Topic, msg *Message) {
	if n == nil {
		return
	}
	// "#" at this level matches the whole remainder, including nothing.
	if h := n.child(WildAll, false); h != nil {
		deliverAll(h.subs, msg)
	}
	if len(rest) == 0 {
		deliverAll(n.subs, msg)
		return
	}
	b.matchSubs(n.child(rest[0], false), rest[1:], msg)
	b.matchSubs(n.child(WildOne, false), rest[1:], msg)
}

func deliverAll(subs []*Subscription, msg *Message) {
	for _, s := range subs {
		deliver(s.ch, msg)
	}
}

func deliver(ch chan *Message, msg *Message) {
	select {
	case ch <- msg:
	default:
		// Queue full: drop oldest so the newest value wins.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- msg:
		default:
		}
	}
}

// addSubscription inserts a pattern and replays matching retained messages.
func (b *Bus) addSubscription(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := b.root
	for _, tok := range sub.pattern {
		n = n.child(tok, true)
	}
	n.subs = append(n.subs, sub)

	b.replayRetained(b.root, sub.pattern, sub)
}

// replayRetained walks the literal side of the trie finding retained
// messages that match the subscription pattern.
func (b *Bus) replayRetained(n *node, pattern Topic, sub *Subscription) {
	if n == nil {
		return
	}
	if len(pattern) == 0 {
		if n.retained != nil {
			deliver(sub.ch, n.retained)
		}
		return
	}
	tok := pattern[0]
	switch tok {
	case WildAll:
		// Matches this node and everything below it.
		b.replayRetained(n, nil, sub)
		for key, c := range n.children {
			if key == WildOne || key == WildAll {
				continue
			}
			b.replayRetained(c, pattern, sub)
		}
	case WildOne:
		for key, c := range n.children {
			if key == WildOne || key == WildAll {
				continue
			}
			b.replayRetained(c, pattern[1:], sub)
		}
	default:
		b.replayRetained(n.child(tok, false), pattern[1:], sub)
	}
}

// unsubscribe removes a subscription and prunes empty nodes.
func (b *Bus) unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := b.root
	var stack []*node
	for _, tok := range sub.pattern {
		c := n.child(tok, false)
		if c == nil {
			return
		}
		stack = append(stack, n)
		n = c
	}

	for i, s := range n.subs {
		if s == sub {
			n.subs = append(n.subs[:i], n.subs[i+1:]...)
			break
		}
	}

	for i := len(sub.pattern) - 1; i >= 0; i-- {
		parent := stack[i]
		key := sub.pattern[i]
		child := parent.children[key]
		if len(child.subs) == 0 && len(child.children) == 0 && child.retained == nil {
			delete(parent.children, key)
		} else {
			break
		}
	}
}

// -----------------------------------------------------------------------------
// Connection
// -----------------------------------------------------------------------------

// Connection is a service's handle on the bus; it owns its subscriptions
// and releases them all on Disconnect.
type Connection struct {
	bus  *Bus
	mu   sync.Mutex
	subs []*Subscription
	id   string
}

func (b *Bus) NewConnection(id string) *Connection {
	return &Connection{bus: b, id: id}
}

func (c *Connection) ID() string { return c.id }

func (c *Connection) NewMessage(topic Topic, payload any, retained bool) *Message {
	return c.bus.NewMessage(topic, payload, retained)
}

func (c *Connection) Publish(msg *Message) { c.bus.Publish(msg) }

// Reply publishes a response to the request's ReplyTo topic, if any.
func (c *Connection) Reply(req *Message, payload any, retained bool) {
	if len(req.ReplyTo) == 0 {
		return
	}
	c.bus.Publish(&Message{Topic: req.ReplyTo, Payload: payload, Retained: retained})
}

// Subscribe registers a pattern subscription owned by this connection.
func (c *Connection) Subscribe(pattern Topic) *Subscription {
	sub := &Subscription{
		pattern: pattern,
		ch:      make(chan *Message, c.bus.qLen),
		conn:    c,
	}
	c.bus.addSubscription(sub)
	c.mu.Lock()
	c.subs = append(c.subs, sub)
	c.mu.Unlock()
	return sub
}

// Unsubscribe removes a single subscription.
func (c *Connection) Unsubscribe(sub *Subscription) {
	c.mu.Lock()
	for i, s := range c.subs {
		if s == sub {
			c.subs = append(c.subs[:i], c.subs[i+1:]...)
			break
		}
	}
	c.mu.Unlock()
	c.bus.unsubscribe(sub)
}

// Disconnect closes all subscriptions and clears them.
func (c *Connection) Disconnect() {
	c.mu.Lock()
	subs := c.subs
	c.subs = nil
	c.mu.Unlock()

	for _, sub := range subs {
		c.bus.unsubscribe(sub)
		close(sub.ch)
	}
}
