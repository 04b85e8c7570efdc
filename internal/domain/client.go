package domain

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

type ClientStatus string

const (
	ClientStatusConnected    ClientStatus = "connected"
	ClientStatusConnecting   ClientStatus = "connecting"
	ClientStatusDisconnected ClientStatus = "disconnected"
)

// Client represents one open relay connection. Frames queued on Events are
// written to the socket by a single forwarding goroutine, so fan-out never
// blocks on a slow consumer.
type Client struct {
	ID       string
	Status   ClientStatus
	JoinedAt time.Time
	LastSeen time.Time
	Mutex    sync.RWMutex
	Socket   *websocket.Conn
	Events   chan []byte
}

func NewClient(id string) *Client {
	now := time.Now().UTC()
	return &Client{
		ID:       id,
		Status:   ClientStatusConnecting,
		JoinedAt: now,
		LastSeen: now,
		Events:   make(chan []byte, 32),
	}
}

func (c *Client) Touch() {
	c.Mutex.Lock()
	defer c.Mutex.Unlock()
	c.LastSeen = time.Now().UTC()
}

// EnqueueFrame queues a raw frame for delivery, dropping it when the client's
// buffer is full.
func (c *Client) EnqueueFrame(frame []byte) {
	select {
	case c.Events <- frame:
	default:
	}
}

func (c *Client) SetStatus(status ClientStatus) {
	c.Mutex.Lock()
	defer c.Mutex.Unlock()
	c.Status = status
}
