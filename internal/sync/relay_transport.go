package sync

import (
	"encoding/json"
	"log/slog"
	"net/url"
	gosync "sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/imarenge/promptcast/internal/domain"
	"github.com/imarenge/promptcast/lib/logger/sl"
)

// RelayTransport is the network implementation of Transport: a persistent
// websocket connection to the relay service. It reconnects forever on a flat
// interval while open; relay unavailability only surfaces as a disconnected
// status and never breaks the local bus.
type RelayTransport struct {
	log            *slog.Logger
	endpoint       string
	dialer         *websocket.Dialer
	reconnectDelay time.Duration

	mu             gosync.RWMutex
	conn           *websocket.Conn
	handlers       map[int]func(domain.Message)
	statusHandlers map[int]func(StatusEvent)
	nextID         int
	closed         bool

	writeMu gosync.Mutex
	done    chan struct{}
	started gosync.Once
	stop    gosync.Once
}

var _ Transport = (*RelayTransport)(nil)

// NewRelayTransport prepares a transport for the given relay endpoint with
// the shared access key appended as a connection parameter. Dialing does not
// begin until Start, so callers can subscribe first.
func NewRelayTransport(log *slog.Logger, serverURL, accessKey string, reconnectDelay time.Duration) (*RelayTransport, error) {
	if log == nil {
		log = slog.Default()
	}

	endpoint, err := buildEndpoint(serverURL, accessKey)
	if err != nil {
		return nil, err
	}

	return &RelayTransport{
		log:            log,
		endpoint:       endpoint,
		dialer:         websocket.DefaultDialer,
		reconnectDelay: reconnectDelay,
		handlers:       make(map[int]func(domain.Message)),
		statusHandlers: make(map[int]func(StatusEvent)),
		done:           make(chan struct{}),
	}, nil
}

func buildEndpoint(serverURL, accessKey string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", err
	}
	if accessKey != "" {
		q := u.Query()
		q.Set("key", accessKey)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// Start launches the connect/read/reconnect loop.
func (t *RelayTransport) Start() {
	t.started.Do(func() {
		go t.run()
	})
}

func (t *RelayTransport) Send(msg domain.Message) error {
	t.mu.RLock()
	conn := t.conn
	closed := t.closed
	t.mu.RUnlock()

	if closed {
		return ErrClosed
	}
	if conn == nil {
		return ErrNotConnected
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return conn.WriteJSON(msg)
}

func (t *RelayTransport) Subscribe(fn func(domain.Message)) func() {
	t.mu.Lock()
	id := t.nextID
	t.nextID++
	t.handlers[id] = fn
	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		delete(t.handlers, id)
		t.mu.Unlock()
	}
}

func (t *RelayTransport) SubscribeStatus(fn func(StatusEvent)) func() {
	t.mu.Lock()
	id := t.nextID
	t.nextID++
	t.statusHandlers[id] = fn
	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		delete(t.statusHandlers, id)
		t.mu.Unlock()
	}
}

func (t *RelayTransport) Close() error {
	t.stop.Do(func() {
		t.mu.Lock()
		t.closed = true
		conn := t.conn
		t.conn = nil
		t.mu.Unlock()

		close(t.done)
		if conn != nil {
			conn.Close()
		}
	})
	return nil
}

func (t *RelayTransport) run() {
	const op = "sync.relay.run"
	log := t.log.With(slog.String("op", op))

	// Flat retry interval, unbounded: churn is expected steady state, not an
	// error condition.
	bo := backoff.NewConstantBackOff(t.reconnectDelay)

	for {
		select {
		case <-t.done:
			return
		default:
		}

		conn, _, err := t.dialer.Dial(t.endpoint, nil)
		if err != nil {
			log.Debug("relay dial failed", sl.Err(err))
			t.notifyStatus(StatusEvent{Connected: false, PeerCount: -1, Err: err})
			if !t.sleep(bo.NextBackOff()) {
				return
			}
			continue
		}

		t.mu.Lock()
		if t.closed {
			t.mu.Unlock()
			conn.Close()
			return
		}
		t.conn = conn
		t.mu.Unlock()

		t.readLoop(conn)

		t.mu.Lock()
		t.conn = nil
		t.mu.Unlock()
		conn.Close()

		t.notifyStatus(StatusEvent{Connected: false, PeerCount: -1})

		if !t.sleep(bo.NextBackOff()) {
			return
		}
	}
}

// readLoop pumps frames until the connection dies. CONNECTED and
// CLIENT_COUNT_UPDATE become status events since the relay's own connection
// count is authoritative; everything else goes to message subscribers.
func (t *RelayTransport) readLoop(conn *websocket.Conn) {
	const op = "sync.relay.read"
	log := t.log.With(slog.String("op", op))

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-t.done:
			default:
				log.Debug("relay connection lost", sl.Err(err))
			}
			return
		}

		var msg domain.Message
		if err := json.Unmarshal(frame, &msg); err != nil {
			log.Warn("dropping malformed relay frame", sl.Err(err))
			continue
		}

		switch msg.Type {
		case domain.TypeConnected:
			count := 0
			if msg.TotalClients != nil {
				count = *msg.TotalClients
			}
			log.Info("connected to relay",
				slog.String("assigned_id", msg.DeviceID),
				slog.Int("peers", count),
			)
			t.notifyStatus(StatusEvent{Connected: true, PeerCount: count, AssignedID: msg.DeviceID})
		case domain.TypeClientCountUpdate:
			count := 0
			if msg.TotalClients != nil {
				count = *msg.TotalClients
			}
			t.notifyStatus(StatusEvent{Connected: true, PeerCount: count})
		default:
			t.notifyMessage(msg)
		}
	}
}

func (t *RelayTransport) sleep(d time.Duration) bool {
	select {
	case <-t.done:
		return false
	case <-time.After(d):
		return true
	}
}

func (t *RelayTransport) notifyMessage(msg domain.Message) {
	t.mu.RLock()
	handlers := make([]func(domain.Message), 0, len(t.handlers))
	for _, fn := range t.handlers {
		handlers = append(handlers, fn)
	}
	t.mu.RUnlock()

	for _, fn := range handlers {
		fn(msg)
	}
}

func (t *RelayTransport) notifyStatus(ev StatusEvent) {
	t.mu.RLock()
	handlers := make([]func(StatusEvent), 0, len(t.statusHandlers))
	for _, fn := range t.statusHandlers {
		handlers = append(handlers, fn)
	}
	t.mu.RUnlock()

	for _, fn := range handlers {
		fn(ev)
	}
}
