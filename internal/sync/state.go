package sync

import (
	"encoding/json"
	"log/slog"
	gosync "sync"
	"time"

	"github.com/imarenge/promptcast/internal/domain"
	"github.com/imarenge/promptcast/lib/logger/sl"
)

// Status is a point-in-time snapshot of a synchronized field's connectivity.
type Status struct {
	Connected bool
	// ConnectedDevices sums local-bus presence and the relay-reported count;
	// a peer reachable over both channels is double-counted on purpose.
	ConnectedDevices int
	LastSync         time.Time
	Role             domain.Role
	CanControl       bool
	Err              error
}

// SyncedState wraps one synchronized value with broadcast-on-write and
// merge-on-receive semantics. Merging is last-message-wins by arrival order:
// no vector clocks, no acknowledgements. Divergence under concurrent writers
// is an accepted tradeoff for a human-supervised control plane.
type SyncedState[T any] struct {
	log     *slog.Logger
	session *Session
	key     string

	local      *BusChannel
	unsubLocal func()
	unsubRelay func()

	mu        gosync.RWMutex
	value     T
	lastSync  time.Time
	lastWrite time.Time
	lastErr   error
	onChange  map[int]func(T)
	nextID    int
}

// NewSyncedState attaches a synchronized field to the session. The local
// channel is opened under the storage key, so all tabs syncing the same key
// find each other; relay traffic is multiplexed and routed by the key inside
// the payload.
func NewSyncedState[T any](session *Session, key string, initial T) *SyncedState[T] {
	s := &SyncedState[T]{
		log:      session.log.With(slog.String("key", key)),
		session:  session,
		key:      key,
		value:    initial,
		onChange: make(map[int]func(T)),
	}

	if session.Enabled() {
		s.local = session.broker.Channel(key)
		s.unsubLocal = s.local.Subscribe(s.handleMessage)
		session.registerLocal(s.local)

		if relay := session.relayTransport(); relay != nil {
			s.unsubRelay = relay.Subscribe(s.handleMessage)
		}
	}

	return s
}

func (s *SyncedState[T]) Key() string { return s.key }

func (s *SyncedState[T]) Get() T {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.value
}

// Set writes a new value. Update takes the previous value into account.
// Both are no-ops with a warning when the current role cannot control
// playback; the gate is local only and does not restrain misbehaving peers.
func (s *SyncedState[T]) Set(value T) {
	s.write(func(T) T { return value })
}

func (s *SyncedState[T]) Update(fn func(prev T) T) {
	s.write(fn)
}

// Announce broadcasts the current value as INITIAL_STATE so late joiners can
// start from it instead of their defaults. There is no backlog on the relay;
// this is the only catch-up mechanism.
func (s *SyncedState[T]) Announce() {
	if !s.session.CanControl() {
		return
	}
	s.mu.RLock()
	value := s.value
	s.mu.RUnlock()

	msg, err := domain.NewInitialState(s.session.Device(), s.session.Role(), s.key, value)
	if err != nil {
		s.log.Error("failed to encode initial state", sl.Err(err))
		return
	}
	s.emit(msg)
}

// Status reports the field's connectivity snapshot. Connected is true
// whenever sync is enabled at all: the local bus alone meaningfully
// synchronizes tabs, so relay downtime only shows through RelayConnected
// on the session.
func (s *SyncedState[T]) Status() Status {
	s.mu.RLock()
	lastSync := s.lastSync
	lastErr := s.lastErr
	s.mu.RUnlock()

	role := s.session.Role()
	return Status{
		Connected:        s.session.Enabled(),
		ConnectedDevices: s.session.PeerCount(),
		LastSync:         lastSync,
		Role:             role,
		CanControl:       role.CanControl(),
		Err:              lastErr,
	}
}

// OnChange registers a callback invoked with every committed value, local or
// remote. It returns the unsubscribe function.
func (s *SyncedState[T]) OnChange(fn func(T)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.onChange[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.onChange, id)
		s.mu.Unlock()
	}
}

func (s *SyncedState[T]) Close() error {
	if s.unsubLocal != nil {
		s.unsubLocal()
	}
	if s.unsubRelay != nil {
		s.unsubRelay()
	}
	if s.local != nil {
		s.session.unregisterLocal(s.local)
		s.local.Close()
	}
	return nil
}

func (s *SyncedState[T]) write(fn func(prev T) T) {
	const op = "sync.state.write"

	if !s.session.CanControl() {
		s.log.Warn("write rejected: role cannot control",
			slog.String("op", op),
			slog.String("role", string(s.session.Role())),
		)
		return
	}

	s.mu.Lock()
	next := fn(s.value)
	s.value = next
	s.lastWrite = time.Now()
	s.mu.Unlock()

	s.notifyChange(next)

	// The local write has already succeeded; broadcast failures are logged
	// and never roll it back.
	msg, err := domain.NewStateUpdate(s.session.Device(), s.session.Role(), s.key, next)
	if err != nil {
		s.log.Error("failed to encode state update", slog.String("op", op), sl.Err(err))
		s.setErr(err)
		return
	}
	s.emit(msg)
}

func (s *SyncedState[T]) emit(msg domain.Message) {
	if s.local != nil {
		if err := s.local.Send(msg); err != nil {
			s.log.Error("local broadcast failed", sl.Err(err))
			s.setErr(err)
		}
	}
	if relay := s.session.relayTransport(); relay != nil {
		if err := relay.Send(msg); err != nil {
			// Expected while the relay is down; tabs stay in sync regardless.
			s.log.Debug("relay send failed", sl.Err(err))
			s.setErr(err)
		}
	}
}

func (s *SyncedState[T]) handleMessage(msg domain.Message) {
	// Identity comparison is the primary self-echo guard: the relay may loop
	// our own frames back through another path.
	if msg.DeviceID == s.session.Device().ID {
		return
	}

	switch msg.Type {
	case domain.TypeStateUpdate, domain.TypeInitialState:
		s.applyUpdate(msg)
	case domain.TypeRoleChange:
		s.session.recordPeerRole(msg.DeviceID, msg.Role)
	}
}

func (s *SyncedState[T]) applyUpdate(msg domain.Message) {
	const op = "sync.state.apply"

	payload, err := msg.StatePayload()
	if err != nil {
		s.log.Warn("dropping malformed state message", slog.String("op", op), sl.Err(err))
		return
	}
	if payload.Key != s.key {
		return
	}

	// Viewers accept only from senders claiming control; hosts and
	// controllers accept from anyone so a host's own tabs mirror freely.
	if s.session.Role() == domain.RoleViewer && !msg.Role.CanControl() {
		return
	}

	var value T
	if err := json.Unmarshal(payload.Value, &value); err != nil {
		s.log.Warn("dropping undecodable state value", slog.String("op", op), sl.Err(err))
		return
	}

	s.mu.Lock()
	// Secondary debounce only: a foreign update landing inside the window
	// right after our own write is most likely our delayed echo.
	if !s.lastWrite.IsZero() && time.Since(s.lastWrite) < s.session.echoWindow {
		s.mu.Unlock()
		return
	}
	s.value = value
	s.lastSync = time.Now()
	s.mu.Unlock()

	s.notifyChange(value)
}

func (s *SyncedState[T]) notifyChange(value T) {
	s.mu.RLock()
	handlers := make([]func(T), 0, len(s.onChange))
	for _, fn := range s.onChange {
		handlers = append(handlers, fn)
	}
	s.mu.RUnlock()

	for _, fn := range handlers {
		fn(value)
	}
}

func (s *SyncedState[T]) setErr(err error) {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
}
