package billing

import (
	"strings"

	"github.com/ManuelReschke/MemberVault/app/models"
)

// Effect is what a subscription status does to the owning user's entitlement.
type Effect int

const (
	// EffectNoop leaves role, membership and product untouched.
	EffectNoop Effect = iota
	// EffectGrant sets the product, ACTIVE membership, PREMIUM role and tokens.
	EffectGrant
	// EffectRevoke clears the product and sets INACTIVE membership and USER role.
	EffectRevoke
)

func (e Effect) String() string {
	switch e {
	case EffectGrant:
		return "grant"
	case EffectRevoke:
		return "revoke"
	default:
		return "noop"
	}
}

// statusEffects is the full status table. Grace statuses keep whatever
// entitlement the user had.
var statusEffects = map[string]Effect{
	models.BillingStatusActive:            EffectGrant,
	models.BillingStatusTrialing:          EffectGrant,
	models.BillingStatusCanceled:          EffectRevoke,
	models.BillingStatusIncompleteExpired: EffectRevoke,
	models.BillingStatusPastDue:           EffectNoop,
	models.BillingStatusUnpaid:            EffectNoop,
	models.BillingStatusIncomplete:        EffectNoop,
	models.BillingStatusPaused:            EffectNoop,
}

// EffectFor maps a provider status to its entitlement effect. Unknown
// statuses are noop.
func EffectFor(status string) Effect {
	if e, ok := statusEffects[strings.ToLower(strings.TrimSpace(status))]; ok {
		return e
	}
	return EffectNoop
}

