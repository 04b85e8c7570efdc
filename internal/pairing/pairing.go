package pairing

import (
	"net/url"

	"github.com/imarenge/promptcast/internal/domain"
)

// RoleParam is the query parameter a share URL uses to hand a device its
// initial role.
const RoleParam = "role"

// ShareURL builds a pairing link that makes the opening device adopt the
// given role.
func ShareURL(base string, role domain.Role) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}

	q := u.Query()
	q.Set(RoleParam, string(role))
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// RoleFromURL extracts the role parameter from a pairing link.
func RoleFromURL(raw string) (domain.Role, bool) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", false
	}
	return domain.ParseRole(u.Query().Get(RoleParam))
}

// ResolveInitialRole decides the role a fresh client starts with: the
// pairing URL wins, then a previously saved choice, then host.
func ResolveInitialRole(rawURL, savedRole string) domain.Role {
	if rawURL != "" {
		if role, ok := RoleFromURL(rawURL); ok {
			return role
		}
	}
	if role, ok := domain.ParseRole(savedRole); ok {
		return role
	}
	return domain.RoleHost
}
