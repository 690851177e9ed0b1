package subscriptions

import "github.com/angelmondragon/entitlements-backend/pkg/enums"

// allowedTransitions is the lifecycle state machine. ACTIVE is the only
// status with outgoing edges; the update transition keeps a record ACTIVE.
// INACTIVE is declared but nothing produces it.
var allowedTransitions = map[enums.SubscriptionStatus][]enums.SubscriptionStatus{
	enums.SubscriptionStatusActive: {
		enums.SubscriptionStatusActive,
		enums.SubscriptionStatusCancelled,
		enums.SubscriptionStatusExpired,
	},
}

// CanTransition reports whether a subscription in from may move to to.
func CanTransition(from, to enums.SubscriptionStatus) bool {
	for _, candidate := range allowedTransitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}
