package service

import (
	"time"

	"github.com/gorilla/websocket"
	"github.com/imarenge/promptcast/internal/domain"
)

type RelayInteractor interface {
	Register(conn *websocket.Conn) (*domain.Client, error)
	Unregister(clientID string) error
	HandleFrame(clientID string, frame []byte) error
	ClientCount() int
	Uptime() time.Duration
}
