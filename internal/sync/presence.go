package sync

import (
	"log/slog"
	gosync "sync"
	"time"

	"github.com/imarenge/promptcast/internal/domain"
	"github.com/imarenge/promptcast/lib/logger/sl"
)

// presenceChannelName is the bus name all tabs of a session family share for
// liveness probing, independent of the per-field state channels.
const presenceChannelName = "promptcast-presence"

// PresenceTracker estimates how many local-bus peers are reachable. Every
// cycle it clears its peer set, broadcasts a PING, waits a short collection
// delay and publishes the number of distinct PONG senders seen. It only
// counts local-channel peers; the relay reports its own count separately.
type PresenceTracker struct {
	log          *slog.Logger
	device       domain.Device
	channel      *BusChannel
	interval     time.Duration
	collectDelay time.Duration

	mu    gosync.Mutex
	seen  map[string]struct{}
	count int

	unsub   func()
	done    chan struct{}
	started gosync.Once
	stop    gosync.Once
}

func NewPresenceTracker(log *slog.Logger, device domain.Device, broker *Broker, interval, collectDelay time.Duration) *PresenceTracker {
	if log == nil {
		log = slog.Default()
	}

	t := &PresenceTracker{
		log:          log,
		device:       device,
		channel:      broker.Channel(presenceChannelName),
		interval:     interval,
		collectDelay: collectDelay,
		seen:         make(map[string]struct{}),
		done:         make(chan struct{}),
	}
	t.unsub = t.channel.Subscribe(t.handle)

	return t
}

func (t *PresenceTracker) Start() {
	t.started.Do(func() {
		go t.run()
	})
}

// Count returns the peer count published by the last completed probe cycle.
func (t *PresenceTracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.count
}

func (t *PresenceTracker) Close() error {
	t.stop.Do(func() {
		close(t.done)
		t.unsub()
		t.channel.Close()
	})
	return nil
}

func (t *PresenceTracker) run() {
	// Probe immediately so a fresh tab discovers its siblings without
	// waiting a full interval.
	t.probe()

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			t.probe()
		}
	}
}

func (t *PresenceTracker) probe() {
	const op = "sync.presence.probe"

	t.mu.Lock()
	t.seen = make(map[string]struct{})
	t.mu.Unlock()

	if err := t.channel.Send(domain.NewPing(t.device)); err != nil {
		t.log.Debug("presence ping failed", slog.String("op", op), sl.Err(err))
		return
	}

	timer := time.NewTimer(t.collectDelay)
	defer timer.Stop()
	select {
	case <-t.done:
		return
	case <-timer.C:
	}

	t.mu.Lock()
	t.count = len(t.seen)
	t.mu.Unlock()
}

// handle answers pings and harvests pongs. Presence responses are
// unconditional: they carry no control authority, so no role gating applies.
func (t *PresenceTracker) handle(msg domain.Message) {
	if msg.DeviceID == t.device.ID {
		return
	}

	switch msg.Type {
	case domain.TypePing:
		if err := t.channel.Send(domain.NewPong(t.device)); err != nil {
			t.log.Debug("presence pong failed", sl.Err(err))
		}
	case domain.TypePong:
		t.mu.Lock()
		t.seen[msg.DeviceID] = struct{}{}
		t.mu.Unlock()
	}
}
