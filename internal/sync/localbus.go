package sync

import (
	gosync "sync"

	"github.com/imarenge/promptcast/internal/domain"
)

// Broker routes messages between BusChannels that share a name, mimicking the
// browser BroadcastChannel: a message posted on a channel reaches every other
// subscriber under the same name in the same process, never the poster
// itself and never another process.
type Broker struct {
	mu       gosync.RWMutex
	channels map[string][]*BusChannel
}

func NewBroker() *Broker {
	return &Broker{channels: make(map[string][]*BusChannel)}
}

// Channel opens a new subscriber under the given name.
func (b *Broker) Channel(name string) *BusChannel {
	ch := &BusChannel{
		broker:         b,
		name:           name,
		handlers:       make(map[int]func(domain.Message)),
		statusHandlers: make(map[int]func(StatusEvent)),
		events:         make(chan domain.Message, 32),
	}

	b.mu.Lock()
	b.channels[name] = append(b.channels[name], ch)
	b.mu.Unlock()

	go ch.dispatch()
	return ch
}

func (b *Broker) publish(from *BusChannel, msg domain.Message) {
	b.mu.RLock()
	peers := make([]*BusChannel, 0, len(b.channels[from.name]))
	for _, ch := range b.channels[from.name] {
		if ch != from {
			peers = append(peers, ch)
		}
	}
	b.mu.RUnlock()

	for _, ch := range peers {
		ch.deliver(msg)
	}
}

func (b *Broker) remove(target *BusChannel) {
	b.mu.Lock()
	defer b.mu.Unlock()

	chans := b.channels[target.name]
	for i, ch := range chans {
		if ch == target {
			b.channels[target.name] = append(chans[:i], chans[i+1:]...)
			break
		}
	}
	if len(b.channels[target.name]) == 0 {
		delete(b.channels, target.name)
	}
}

// BusChannel is the local-transport implementation of Transport. It reports
// itself connected for its whole lifetime: same-process delivery needs no
// network and meaningfully synchronizes the "operator plus backup tab" case
// on its own.
type BusChannel struct {
	broker *Broker
	name   string

	mu             gosync.RWMutex
	handlers       map[int]func(domain.Message)
	statusHandlers map[int]func(StatusEvent)
	nextID         int
	closed         bool

	events chan domain.Message
}

var _ Transport = (*BusChannel)(nil)

func (c *BusChannel) Name() string { return c.name }

func (c *BusChannel) Send(msg domain.Message) error {
	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return ErrClosed
	}

	c.broker.publish(c, msg)
	return nil
}

func (c *BusChannel) Subscribe(fn func(domain.Message)) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.handlers[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.handlers, id)
		c.mu.Unlock()
	}
}

func (c *BusChannel) SubscribeStatus(fn func(StatusEvent)) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.statusHandlers[id] = fn
	closed := c.closed
	c.mu.Unlock()

	// The local bus is connected as soon as it exists.
	if !closed {
		fn(StatusEvent{Connected: true, PeerCount: -1})
	}

	return func() {
		c.mu.Lock()
		delete(c.statusHandlers, id)
		c.mu.Unlock()
	}
}

func (c *BusChannel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.events)
	c.mu.Unlock()

	c.broker.remove(c)

	c.notifyStatus(StatusEvent{Connected: false, PeerCount: -1})
	return nil
}

// deliver queues an inbound message, dropping it when the channel's buffer is
// full or the channel is closed.
func (c *BusChannel) deliver(msg domain.Message) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return
	}
	select {
	case c.events <- msg:
	default:
	}
}

func (c *BusChannel) dispatch() {
	for msg := range c.events {
		c.mu.RLock()
		handlers := make([]func(domain.Message), 0, len(c.handlers))
		for _, fn := range c.handlers {
			handlers = append(handlers, fn)
		}
		c.mu.RUnlock()

		for _, fn := range handlers {
			fn(msg)
		}
	}
}

func (c *BusChannel) notifyStatus(ev StatusEvent) {
	c.mu.RLock()
	handlers := make([]func(StatusEvent), 0, len(c.statusHandlers))
	for _, fn := range c.statusHandlers {
		handlers = append(handlers, fn)
	}
	c.mu.RUnlock()

	for _, fn := range handlers {
		fn(ev)
	}
}
