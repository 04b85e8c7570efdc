package domain

import (
	"fmt"

	petname "github.com/dustinkirkland/golang-petname"
	"github.com/google/uuid"
)

// Device is the ephemeral identity of one running client instance. It is
// generated once per process, never persisted and never synchronized: peers
// learn about each other only through the DeviceID field of received
// messages.
type Device struct {
	ID   string
	Name string
}

// NewDevice generates a fresh identity, unique with high probability for the
// lifetime of the pairing session. Name is a human-readable label shown in
// peer lists; it carries no authority.
func NewDevice() Device {
	return Device{
		ID:   fmt.Sprintf("device-%s", uuid.NewString()),
		Name: petname.Generate(2, "-"),
	}
}
