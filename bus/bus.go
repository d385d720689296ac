// Package bus is the in-process publish/subscribe fabric the kernel's
// telemetry is published on. Topics are token paths; subscriptions may use
// "+" for one token and a trailing "#" for any remainder. A retained
// message is replayed to every later matching subscriber. Slow subscribers
// lose their oldest queued message, never the newest.
package bus

import (
	"strconv"
	"strings"
	"sync"
)

// Token is a single element in a topic path: a string or an int.
type Token struct {
	kind byte // 0 = string, 1 = int
	sval string
	ival int
}

func S(s string) Token { return Token{kind: 0, sval: s} }
func I(i int) Token    { return Token{kind: 1, ival: i} }

func (t Token) String() string {
	if t.kind == 1 {
		return strconv.Itoa(t.ival)
	}
	return t.sval
}

// Topic is a sequence of tokens.
type Topic []Token

// Wildcards, valid only in subscription filters.
var (
	Single = S("+")
	Multi  = S("#")
)

func (t Topic) String() string {
	parts := make([]string, len(t))
	for i, tok := range t {
		parts[i] = tok.String()
	}
	return strings.Join(parts, "/")
}

// key identifies a concrete topic in the retained store. Unlike String it
// keeps int and string tokens apart.
func (t Topic) key() string {
	var sb strings.Builder
	for _, tok := range t {
		sb.WriteByte(tok.kind)
		sb.WriteString(tok.String())
		sb.WriteByte('/')
	}
	return sb.String()
}

// Match reports whether the concrete topic t is covered by filter.
func Match(filter, t Topic) bool {
	for i, f := range filter {
		if f == Multi {
			return i == len(filter)-1
		}
		if i >= len(t) {
			return false
		}
		if f != Single && f != t[i] {
			return false
		}
	}
	return len(filter) == len(t)
}

type Message struct {
	Topic    Topic
	Payload  any
	Retained bool
}

type Subscription struct {
	filter Topic
	ch     chan *Message
	conn   *Connection
}

func (s *Subscription) Topic() Topic             { return s.filter }
func (s *Subscription) Channel() <-chan *Message { return s.ch }
func (s *Subscription) Unsubscribe()             { s.conn.Unsubscribe(s) }

type Bus struct {
	mu       sync.Mutex
	subs     []*Subscription
	retained map[string]*Message // by Topic.key
	qLen     int

	dropped uint64
}

// NewBus creates a bus whose subscriptions queue up to queueLen messages.
func NewBus(queueLen int) *Bus {
	if queueLen <= 0 {
		queueLen = 8
	}
	return &Bus{retained: map[string]*Message{}, qLen: queueLen}
}

func (b *Bus) NewMessage(t Topic, payload any, retained bool) *Message {
	return &Message{Topic: t, Payload: payload, Retained: retained}
}

// Dropped counts messages discarded to make room for newer ones.
func (b *Bus) Dropped() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// Publish delivers msg to every matching subscription. A retained message
// with a nil payload clears the retained value for its topic.
func (b *Bus) Publish(msg *Message) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if msg.Retained {
		k := msg.Topic.key()
		if msg.Payload == nil {
			delete(b.retained, k)
		} else {
			b.retained[k] = msg
		}
	}
	for _, s := range b.subs {
		if Match(s.filter, msg.Topic) {
			b.deliver(s, msg)
		}
	}
}

// deliver never blocks. Called with mu held.
func (b *Bus) deliver(s *Subscription, msg *Message) {
	for {
		select {
		case s.ch <- msg:
			return
		default:
		}
		select {
		case <-s.ch:
			b.dropped++
		default:
		}
	}
}

func (b *Bus) add(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, s)
	for _, m := range b.retained {
		if Match(s.filter, m.Topic) {
			b.deliver(s, m)
		}
	}
}

func (b *Bus) remove(s *Subscription) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, x := range b.subs {
		if x == s {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return true
		}
	}
	return false
}

// Connection groups one component's subscriptions so they can be torn down
// together.
type Connection struct {
	bus  *Bus
	id   string
	mu   sync.Mutex
	subs []*Subscription
}

func (b *Bus) NewConnection(id string) *Connection {
	return &Connection{bus: b, id: id}
}

func (c *Connection) ID() string { return c.id }

func (c *Connection) NewMessage(t Topic, payload any, retained bool) *Message {
	return c.bus.NewMessage(t, payload, retained)
}

func (c *Connection) Publish(msg *Message) { c.bus.Publish(msg) }

func (c *Connection) Subscribe(filter Topic) *Subscription {
	s := &Subscription{filter: filter, ch: make(chan *Message, c.bus.qLen), conn: c}
	c.mu.Lock()
	c.subs = append(c.subs, s)
	c.mu.Unlock()
	c.bus.add(s)
	return s
}

// Unsubscribe removes s and closes its channel. Repeat calls are no-ops.
func (c *Connection) Unsubscribe(s *Subscription) {
	if !c.bus.remove(s) {
		return
	}
	c.mu.Lock()
	for i, x := range c.subs {
		if x == s {
			c.subs = append(c.subs[:i], c.subs[i+1:]...)
			break
		}
	}
	c.mu.Unlock()
	close(s.ch)
}

func (c *Connection) Disconnect() {
	c.mu.Lock()
	subs := c.subs
	c.subs = nil
	c.mu.Unlock()
	for _, s := range subs {
		if c.bus.remove(s) {
			close(s.ch)
		}
	}
}
