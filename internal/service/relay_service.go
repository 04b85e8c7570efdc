package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/imarenge/promptcast/internal/domain"
	"github.com/imarenge/promptcast/lib/logger/sl"
)

var (
	ErrClientNotFound = errors.New("client not found")
	ErrInvalidFrame   = errors.New("invalid frame")
)

const statePreviewLength = 50

// RelayService holds the set of open connections and fans every inbound frame
// out to all other clients. It is stateless across messages: payloads are
// never interpreted, there is no backlog and a newly joined client receives
// nothing until the next broadcast.
type RelayService struct {
	log       *slog.Logger
	mu        sync.RWMutex
	clients   map[string]*domain.Client
	seq       int
	startedAt time.Time
}

func NewRelayService(log *slog.Logger) *RelayService {
	if log == nil {
		log = slog.Default()
	}
	return &RelayService{
		log:       log,
		clients:   make(map[string]*domain.Client),
		startedAt: time.Now().UTC(),
	}
}

// Register adds a freshly upgraded connection, greets it with a CONNECTED
// message carrying its assigned identity and the count of other connections,
// and starts the goroutine that drains its event queue onto the socket.
func (s *RelayService) Register(conn *websocket.Conn) (*domain.Client, error) {
	const op = "service.relay.register"

	if conn == nil {
		return nil, errors.New("connection is required")
	}

	s.mu.Lock()
	s.seq++
	client := domain.NewClient(fmt.Sprintf("client-%d", s.seq))
	client.Socket = conn
	s.clients[client.ID] = client
	others := len(s.clients) - 1
	s.mu.Unlock()

	log := s.log.With(slog.String("op", op), slog.String("client_id", client.ID))

	greeting := domain.NewConnected(client.ID, others)
	if err := conn.WriteJSON(greeting); err != nil {
		log.Error("failed to send greeting", sl.Err(err))
		s.mu.Lock()
		delete(s.clients, client.ID)
		s.mu.Unlock()
		return nil, err
	}

	client.SetStatus(domain.ClientStatusConnected)
	go forwardClientFrames(client)

	log.Info("client connected", slog.Int("total", others+1))
	return client, nil
}

// Unregister removes a connection and tells everyone remaining how many
// others are left.
func (s *RelayService) Unregister(clientID string) error {
	const op = "service.relay.unregister"
	log := s.log.With(slog.String("op", op), slog.String("client_id", clientID))

	s.mu.Lock()
	client, ok := s.clients[clientID]
	if !ok {
		s.mu.Unlock()
		return ErrClientNotFound
	}
	delete(s.clients, clientID)
	remaining := len(s.clients)
	s.mu.Unlock()

	client.SetStatus(domain.ClientStatusDisconnected)
	if client.Events != nil {
		close(client.Events)
	}
	client.Mutex.Lock()
	if client.Socket != nil {
		client.Socket.Close()
		client.Socket = nil
	}
	client.Mutex.Unlock()

	// Counts are always "others, excluding yourself", matching the greeting.
	if remaining > 0 {
		update, err := json.Marshal(domain.NewClientCountUpdate(remaining - 1))
		if err != nil {
			log.Error("failed to encode count update", sl.Err(err))
			return nil
		}
		s.broadcast(update, clientID)
	}

	log.Info("client disconnected", slog.Int("total", remaining))
	return nil
}

// HandleFrame validates that an inbound frame is JSON and forwards it
// verbatim to every other open connection. Malformed frames are logged and
// dropped; they never terminate the connection or the process.
func (s *RelayService) HandleFrame(clientID string, frame []byte) error {
	const op = "service.relay.frame"
	log := s.log.With(slog.String("op", op), slog.String("client_id", clientID))

	s.mu.RLock()
	client, ok := s.clients[clientID]
	s.mu.RUnlock()
	if !ok {
		return ErrClientNotFound
	}
	client.Touch()

	var msg domain.Message
	if err := json.Unmarshal(frame, &msg); err != nil {
		log.Warn("dropping malformed frame", sl.Err(err))
		return ErrInvalidFrame
	}

	if msg.Type == domain.TypeStateUpdate {
		log.Debug("relaying state update",
			slog.String("device_id", msg.DeviceID),
			slog.String("preview", preview(msg.Data)),
		)
	}

	s.broadcast(frame, clientID)
	return nil
}

func (s *RelayService) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

func (s *RelayService) Uptime() time.Duration {
	return time.Since(s.startedAt)
}

// broadcast queues a raw frame on every open client except the excluded one.
func (s *RelayService) broadcast(frame []byte, excludeID string) {
	s.mu.RLock()
	targets := make([]*domain.Client, 0, len(s.clients))
	for id, client := range s.clients {
		if id == excludeID {
			continue
		}
		targets = append(targets, client)
	}
	s.mu.RUnlock()

	for _, client := range targets {
		client.EnqueueFrame(frame)
	}
}

func forwardClientFrames(client *domain.Client) {
	for frame := range client.Events {
		client.Mutex.RLock()
		socket := client.Socket
		client.Mutex.RUnlock()
		if socket == nil {
			return
		}
		if err := socket.WriteMessage(websocket.TextMessage, frame); err != nil {
			return
		}
	}
}

func preview(data []byte) string {
	if len(data) > statePreviewLength {
		return string(data[:statePreviewLength]) + "..."
	}
	return string(data)
}
