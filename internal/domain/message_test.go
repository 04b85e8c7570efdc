package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoleCanControl(t *testing.T) {
	assert.True(t, RoleHost.CanControl())
	assert.True(t, RoleController.CanControl())
	assert.False(t, RoleViewer.CanControl())
	assert.False(t, Role("admin").CanControl())
}

func TestParseRole(t *testing.T) {
	role, ok := ParseRole("controller")
	require.True(t, ok)
	assert.Equal(t, RoleController, role)

	_, ok = ParseRole("superuser")
	assert.False(t, ok)
}

func TestStateUpdateRoundTrip(t *testing.T) {
	device := NewDevice()

	msg, err := NewStateUpdate(device, RoleHost, "teleprompter-speed", 72.5)
	require.NoError(t, err)

	assert.Equal(t, TypeStateUpdate, msg.Type)
	assert.Equal(t, device.ID, msg.DeviceID)
	assert.Equal(t, RoleHost, msg.Role)
	assert.NotZero(t, msg.Timestamp)

	// Through the wire and back.
	frame, err := json.Marshal(msg)
	require.NoError(t, err)
	var decoded Message
	require.NoError(t, json.Unmarshal(frame, &decoded))

	payload, err := decoded.StatePayload()
	require.NoError(t, err)
	assert.Equal(t, "teleprompter-speed", payload.Key)

	var value float64
	require.NoError(t, json.Unmarshal(payload.Value, &value))
	assert.Equal(t, 72.5, value)
}

func TestStatePayloadOnWrongVariant(t *testing.T) {
	msg := NewPing(NewDevice())

	_, err := msg.StatePayload()
	assert.ErrorIs(t, err, ErrNoPayload)
	assert.False(t, msg.IsStateCarrying())
}

func TestConnectedCarriesCount(t *testing.T) {
	msg := NewConnected("client-7", 2)

	assert.Equal(t, TypeConnected, msg.Type)
	assert.Equal(t, "client-7", msg.DeviceID)
	require.NotNil(t, msg.TotalClients)
	assert.Equal(t, 2, *msg.TotalClients)
}

func TestPingCarriesNoPayload(t *testing.T) {
	msg := NewPing(NewDevice())

	frame, err := json.Marshal(msg)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(frame, &raw))
	assert.NotContains(t, raw, "data")
	assert.NotContains(t, raw, "totalClients")
	assert.NotContains(t, raw, "role")
}

func TestDeviceIdentityIsUnique(t *testing.T) {
	a := NewDevice()
	b := NewDevice()

	assert.NotEmpty(t, a.ID)
	assert.NotEmpty(t, a.Name)
	assert.NotEqual(t, a.ID, b.ID)
}
