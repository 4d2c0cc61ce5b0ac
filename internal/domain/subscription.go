package domain

import "time"

// SubscriptionStatus mirrors the payment provider's subscription state as
// reconciled by the webhook deployable.
type SubscriptionStatus string

const (
	SubscriptionActive   SubscriptionStatus = "active"
	SubscriptionPastDue  SubscriptionStatus = "past_due"
	SubscriptionCanceled SubscriptionStatus = "canceled"
)

// Subscription is a row in the subscriptions table, written by the payment
// webhook and only ever read by the client.
type Subscription struct {
	UserID               string             `json:"user_id"`
	StripeCustomerID     string             `json:"stripe_customer_id"`
	StripeSubscriptionID string             `json:"stripe_subscription_id"`
	PriceID              string             `json:"price_id"`
	PlanType             string             `json:"plan_type"`
	Status               SubscriptionStatus `json:"status"`
	CurrentPeriodEnd     time.Time          `json:"current_period_end"`
}

// Active reports whether the subscription currently grants entitlements.
func (s *Subscription) Active() bool {
	return s != nil && s.Status == SubscriptionActive
}
