package domain

// Role is the part a device plays in a prompting session. It is a cooperative
// convention advertised to peers, not a security boundary: write gating happens
// on the local device only.
type Role string

const (
	// RoleHost runs the master prompter and has full control.
	RoleHost Role = "host"
	// RoleController can drive playback remotely (assistant's phone).
	RoleController Role = "controller"
	// RoleViewer only mirrors the synchronized state (talent's screen).
	RoleViewer Role = "viewer"
)

// CanControl reports whether a device with this role may commit and broadcast
// state changes.
func (r Role) CanControl() bool {
	return r == RoleHost || r == RoleController
}

func (r Role) Valid() bool {
	switch r {
	case RoleHost, RoleController, RoleViewer:
		return true
	}
	return false
}

// ParseRole maps a user/URL supplied string onto a Role.
func ParseRole(s string) (Role, bool) {
	r := Role(s)
	if !r.Valid() {
		return "", false
	}
	return r, true
}
