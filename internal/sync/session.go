package sync

import (
	"log/slog"
	gosync "sync"
	"time"

	"github.com/imarenge/promptcast/internal/domain"
	"github.com/imarenge/promptcast/lib/logger/sl"
)

const (
	defaultPingInterval   = 5 * time.Second
	defaultPongDelay      = 500 * time.Millisecond
	defaultReconnectDelay = 3 * time.Second
	defaultEchoWindow     = 100 * time.Millisecond
)

// Options configures a Session.
type Options struct {
	Logger *slog.Logger
	// Broker is the in-process bus shared by all "tabs" of one process.
	// Nil creates a private one, which disables cross-tab sync in effect.
	Broker *Broker
	// InitialRole is the role the session starts with, typically resolved
	// from a pairing URL. Invalid or empty falls back to host.
	InitialRole domain.Role
	// Enabled turns synchronization on. A disabled session still serves
	// reads and permitted writes, it just reaches nobody.
	Enabled bool
	// ServerURL is the relay endpoint; empty disables the network channel
	// while the local bus keeps working.
	ServerURL string
	AccessKey string

	PingInterval   time.Duration
	PongDelay      time.Duration
	ReconnectDelay time.Duration
	EchoWindow     time.Duration
}

// Session owns everything that used to be process-global in sync clients:
// the device identity, the current role, both transports and the presence
// tracker. It is constructed once at application start and torn down on
// shutdown; synchronized fields attach to it.
type Session struct {
	log        *slog.Logger
	device     domain.Device
	broker     *Broker
	enabled    bool
	echoWindow time.Duration

	relay    *RelayTransport
	presence *PresenceTracker

	mu              gosync.RWMutex
	role            domain.Role
	relayConnected  bool
	relayPeers      int
	relayAssignedID string
	peerRoles       map[string]domain.Role
	locals          []*BusChannel
	closed          bool

	unsubRelayStatus func()
}

func NewSession(opts Options) (*Session, error) {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	role := opts.InitialRole
	if !role.Valid() {
		role = domain.RoleHost
	}

	broker := opts.Broker
	if broker == nil {
		broker = NewBroker()
	}

	if opts.PingInterval <= 0 {
		opts.PingInterval = defaultPingInterval
	}
	if opts.PongDelay <= 0 {
		opts.PongDelay = defaultPongDelay
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = defaultReconnectDelay
	}
	if opts.EchoWindow <= 0 {
		opts.EchoWindow = defaultEchoWindow
	}

	s := &Session{
		log:        log,
		device:     domain.NewDevice(),
		broker:     broker,
		enabled:    opts.Enabled,
		echoWindow: opts.EchoWindow,
		role:       role,
		peerRoles:  make(map[string]domain.Role),
	}

	if !opts.Enabled {
		return s, nil
	}

	s.presence = NewPresenceTracker(log, s.device, broker, opts.PingInterval, opts.PongDelay)
	s.presence.Start()

	if opts.ServerURL != "" {
		relay, err := NewRelayTransport(log, opts.ServerURL, opts.AccessKey, opts.ReconnectDelay)
		if err != nil {
			s.presence.Close()
			return nil, err
		}
		s.relay = relay
		s.unsubRelayStatus = relay.SubscribeStatus(s.onRelayStatus)
		relay.Start()
	}

	return s, nil
}

func (s *Session) Device() domain.Device { return s.device }

func (s *Session) Enabled() bool { return s.enabled }

func (s *Session) Role() domain.Role {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.role
}

// CanControl reports whether this device may commit and broadcast writes.
func (s *Session) CanControl() bool {
	return s.Role().CanControl()
}

// ChangeRole switches the local role and announces it on both transports.
// Peers may reflect the change in their UI but are not required to act on it.
func (s *Session) ChangeRole(role domain.Role) {
	const op = "sync.session.changeRole"
	log := s.log.With(slog.String("op", op), slog.String("device_id", s.device.ID))

	if !role.Valid() {
		log.Warn("ignoring invalid role", slog.String("role", string(role)))
		return
	}

	s.mu.Lock()
	s.role = role
	locals := make([]*BusChannel, len(s.locals))
	copy(locals, s.locals)
	s.mu.Unlock()

	log.Info("role changed", slog.String("role", string(role)))

	msg := domain.NewRoleChange(s.device, role)
	for _, ch := range locals {
		if err := ch.Send(msg); err != nil {
			log.Warn("failed to broadcast role change", sl.Err(err))
		}
	}
	if s.relay != nil {
		if err := s.relay.Send(msg); err != nil {
			log.Debug("failed to send role change to relay", sl.Err(err))
		}
	}
}

// PeerRole returns the last role a peer announced, if any.
func (s *Session) PeerRole(deviceID string) (domain.Role, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	role, ok := s.peerRoles[deviceID]
	return role, ok
}

// PeerCount combines local-bus presence with the relay's reported count.
// A peer reachable over both channels is counted twice; deduplication is
// deliberately not attempted.
func (s *Session) PeerCount() int {
	count := 0
	if s.presence != nil {
		count += s.presence.Count()
	}
	s.mu.RLock()
	count += s.relayPeers
	s.mu.RUnlock()
	return count
}

// RelayConnected reports whether the network channel currently has a live
// connection to the relay service.
func (s *Session) RelayConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.relayConnected
}

// AssignedID returns the identity the relay assigned to this connection, or
// empty before the first greeting.
func (s *Session) AssignedID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.relayAssignedID
}

func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	locals := s.locals
	s.locals = nil
	s.mu.Unlock()

	if s.unsubRelayStatus != nil {
		s.unsubRelayStatus()
	}
	if s.relay != nil {
		s.relay.Close()
	}
	if s.presence != nil {
		s.presence.Close()
	}
	for _, ch := range locals {
		ch.Close()
	}
	return nil
}

func (s *Session) onRelayStatus(ev StatusEvent) {
	s.mu.Lock()
	s.relayConnected = ev.Connected
	if ev.PeerCount >= 0 {
		s.relayPeers = ev.PeerCount
	}
	if !ev.Connected {
		s.relayPeers = 0
	}
	if ev.AssignedID != "" {
		s.relayAssignedID = ev.AssignedID
	}
	s.mu.Unlock()
}

func (s *Session) recordPeerRole(deviceID string, role domain.Role) {
	if deviceID == "" || !role.Valid() {
		return
	}
	s.mu.Lock()
	s.peerRoles[deviceID] = role
	s.mu.Unlock()
}

func (s *Session) registerLocal(ch *BusChannel) {
	s.mu.Lock()
	s.locals = append(s.locals, ch)
	s.mu.Unlock()
}

func (s *Session) unregisterLocal(target *BusChannel) {
	s.mu.Lock()
	for i, ch := range s.locals {
		if ch == target {
			s.locals = append(s.locals[:i], s.locals[i+1:]...)
			break
		}
	}
	s.mu.Unlock()
}

func (s *Session) relayTransport() *RelayTransport { return s.relay }
