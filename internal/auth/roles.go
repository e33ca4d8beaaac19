package auth

import "github.com/cloud-guardrail/cloud-guardrail/internal/action"

// Roles, in decreasing order of privilege.
const (
	RoleAdmin    = "admin"
	RoleOperator = "operator"
	RoleReadonly = "readonly"
)

// CanPerform reports whether a role may request the given action. Terminate
// and delete are admin-only; operators may start, stop, and scale; readonly
// users may not request any state change. This gate runs before the
// protection policy: a role denial is an authorization failure, not a
// protected-resource block.
func CanPerform(role string, a action.Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleOperator:
		switch a {
		case action.ActionStart, action.ActionStop, action.ActionScale:
			return true
		}
	}
	return false
}
