package domain

import (
	"encoding/json"
	"errors"
	"time"
)

// MessageType tags the wire variants exchanged between devices and the relay.
type MessageType string

const (
	TypeStateUpdate       MessageType = "STATE_UPDATE"
	TypePing              MessageType = "PING"
	TypePong              MessageType = "PONG"
	TypeInitialState      MessageType = "INITIAL_STATE"
	TypeConnected         MessageType = "CONNECTED"
	TypeClientCountUpdate MessageType = "CLIENT_COUNT_UPDATE"
	TypeRoleChange        MessageType = "ROLE_CHANGE"
)

var ErrNoPayload = errors.New("message carries no payload")

// Message is the single wire envelope. The Type tag decides which of the
// optional fields are meaningful; the constructors below are the only
// supported way to build one, so each variant carries exactly the fields it
// needs. A message is immutable once sent: it is never amended or retracted,
// and STATE_UPDATE is fire-and-forget (no acknowledgement).
type Message struct {
	Type MessageType `json:"type"`
	// Timestamp is the producer's send time in Unix milliseconds. Display and
	// debugging only; conflict resolution is last-message-wins by arrival.
	Timestamp int64 `json:"timestamp"`
	// DeviceID names the originating device for the lifetime of its process.
	// Empty on relay-originated messages.
	DeviceID   string `json:"deviceId,omitempty"`
	DeviceName string `json:"deviceName,omitempty"`
	// Role is the sender's claimed role, carried on STATE_UPDATE and
	// INITIAL_STATE so receivers can apply role-aware acceptance, and on
	// ROLE_CHANGE as the announced new role.
	Role Role `json:"role,omitempty"`
	// Data is the variant payload, left raw so the relay can forward frames it
	// never interprets.
	Data json.RawMessage `json:"data,omitempty"`
	// TotalClients is the relay's count of other connections, set on
	// CONNECTED and CLIENT_COUNT_UPDATE.
	TotalClients *int `json:"totalClients,omitempty"`
}

// StatePayload is the Data carried by STATE_UPDATE and INITIAL_STATE. The key
// routes the value to the right synchronized field on the receiving side; the
// relay itself never looks at it.
type StatePayload struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

func now() int64 { return time.Now().UnixMilli() }

// NewStateUpdate builds a STATE_UPDATE for one synchronized field.
func NewStateUpdate(device Device, role Role, key string, value any) (Message, error) {
	return newStateMessage(TypeStateUpdate, device, role, key, value)
}

// NewInitialState builds an INITIAL_STATE, sent by an established device so a
// newly joined tab starts from the current value instead of its default.
func NewInitialState(device Device, role Role, key string, value any) (Message, error) {
	return newStateMessage(TypeInitialState, device, role, key, value)
}

func newStateMessage(t MessageType, device Device, role Role, key string, value any) (Message, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return Message{}, err
	}
	data, err := json.Marshal(StatePayload{Key: key, Value: raw})
	if err != nil {
		return Message{}, err
	}
	return Message{
		Type:       t,
		Timestamp:  now(),
		DeviceID:   device.ID,
		DeviceName: device.Name,
		Role:       role,
		Data:       data,
	}, nil
}

func NewPing(device Device) Message {
	return Message{Type: TypePing, Timestamp: now(), DeviceID: device.ID}
}

func NewPong(device Device) Message {
	return Message{Type: TypePong, Timestamp: now(), DeviceID: device.ID, DeviceName: device.Name}
}

func NewRoleChange(device Device, role Role) Message {
	return Message{Type: TypeRoleChange, Timestamp: now(), DeviceID: device.ID, Role: role}
}

// NewConnected is the relay's greeting to a freshly accepted connection.
// totalClients counts the other open connections, excluding the recipient.
func NewConnected(clientID string, totalClients int) Message {
	return Message{Type: TypeConnected, Timestamp: now(), DeviceID: clientID, TotalClients: &totalClients}
}

// NewClientCountUpdate tells the remaining connections how many others are
// still open after a disconnect.
func NewClientCountUpdate(totalClients int) Message {
	return Message{Type: TypeClientCountUpdate, Timestamp: now(), TotalClients: &totalClients}
}

// StatePayload decodes the Data of a STATE_UPDATE or INITIAL_STATE.
func (m Message) StatePayload() (StatePayload, error) {
	if m.Type != TypeStateUpdate && m.Type != TypeInitialState {
		return StatePayload{}, ErrNoPayload
	}
	if len(m.Data) == 0 {
		return StatePayload{}, ErrNoPayload
	}
	var p StatePayload
	if err := json.Unmarshal(m.Data, &p); err != nil {
		return StatePayload{}, err
	}
	return p, nil
}

// IsStateCarrying reports whether the message replicates field state.
func (m Message) IsStateCarrying() bool {
	return m.Type == TypeStateUpdate || m.Type == TypeInitialState
}
