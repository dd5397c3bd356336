package entitlements

import (
	"github.com/ManuelReschke/MemberVault/app/models"
)

// Plan is the coarse access tier derived from a user's role.
type Plan string

const (
	PlanFree    Plan = "free"
	PlanPremium Plan = "premium"
	PlanAdmin   Plan = "admin"
	PlanNone    Plan = "none"
)

// Rank orders roles: ADMIN > PREMIUM > USER > BANNED. Unknown roles rank
// below BANNED.
func Rank(role models.Role) int {
	switch role {
	case models.ROLE_ADMIN:
		return 3
	case models.ROLE_PREMIUM:
		return 2
	case models.ROLE_USER:
		return 1
	case models.ROLE_BANNED:
		return 0
	default:
		return -1
	}
}

// CanAutoTransition is the single rule for role changes made by billing
// reconciliation. Reconciliation only ever targets USER or PREMIUM, and a
// role ranked above PREMIUM (ADMIN) is never changed by it. Every other role,
// BANNED included, follows the subscription.
func CanAutoTransition(from, to models.Role) bool {
	if from == to {
		return false
	}
	if Rank(from) > Rank(models.ROLE_PREMIUM) {
		return false
	}
	switch to {
	case models.ROLE_USER, models.ROLE_PREMIUM:
		return true
	default:
		return false
	}
}

// ApplyAutoTransition returns target when the transition is allowed and
// current otherwise.
func ApplyAutoTransition(current, target models.Role) models.Role {
	if CanAutoTransition(current, target) {
		return target
	}
	return current
}

// PlanForRole maps a role to its access tier.
func PlanForRole(role models.Role) Plan {
	switch role {
	case models.ROLE_ADMIN:
		return PlanAdmin
	case models.ROLE_PREMIUM:
		return PlanPremium
	case models.ROLE_USER:
		return PlanFree
	default:
		return PlanNone
	}
}
