package domain

import "time"

// Subscription tiers available to an account.
const (
	SubscriptionStarter  = "starter"
	SubscriptionPro      = "pro"
	SubscriptionBusiness = "business"
)

// ValidSubscription reports whether value is one of the known tiers.
func ValidSubscription(value string) bool {
	switch value {
	case SubscriptionStarter, SubscriptionPro, SubscriptionBusiness:
		return true
	}
	return false
}

// User represents a service account.
//
// VerificationToken is set at creation and cleared exactly once when the
// address is verified; Verified never transitions back to false.
// SessionToken holds the most recently issued sign-in token and is the only
// token the account authenticates with.
type User struct {
	ID                string
	Email             string
	PasswordHash      []byte
	Subscription      string
	AvatarURL         string
	VerificationToken *string
	Verified          bool
	SessionToken      *string
	CreatedAt         time.Time
}
