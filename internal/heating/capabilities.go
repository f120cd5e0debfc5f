package heating

import "golang.org/x/exp/slices"

const (
	PermissionView    = "heating_view"
	PermissionControl = "heating_control"
)

// Capabilities answers permission checks for the caller of a request.
type Capabilities interface {
	Can(permission string) bool
}

type grant []string

func (g grant) Can(permission string) bool {
	return slices.Contains(g, permission)
}

// Grant returns a fixed set of permissions.
func Grant(permissions ...string) Capabilities {
	return grant(permissions)
}
