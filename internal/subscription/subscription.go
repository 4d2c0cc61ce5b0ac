// Package subscription reads the payment state reconciled by the billing
// webhook and starts checkout flows. The client never writes subscription
// rows; the webhook deployable is the single writer.
package subscription

import (
	"context"
	"log/slog"

	"github.com/tallyapp/tally-go/internal/cache"
	"github.com/tallyapp/tally-go/internal/domain"
	"github.com/tallyapp/tally-go/internal/errors"
	"github.com/tallyapp/tally-go/internal/keys"
	"github.com/tallyapp/tally-go/internal/remote"
	"github.com/tallyapp/tally-go/internal/session"
)

// Service answers entitlement questions for the signed-in user.
type Service struct {
	client   *remote.Client
	cache    *cache.Cache
	sessions *session.Holder
	logger   *slog.Logger
}

// New creates a Service.
func New(client *remote.Client, c *cache.Cache, sessions *session.Holder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Service{client: client, cache: c, sessions: sessions, logger: logger}
}

// Active returns the signed-in user's subscription, or nil when none exists.
func (s *Service) Active(ctx context.Context) (*domain.Subscription, error) {
	userID := s.sessions.UserID()
	if userID == "" {
		return nil, nil
	}
	return cache.ReadAs(ctx, s.cache, keys.Subscription(userID), func(ctx context.Context) (*domain.Subscription, error) {
		sub, err := remote.SelectSingle[domain.Subscription](ctx, s.client, remote.Query{
			Table:   "subscriptions",
			Filters: []remote.Filter{remote.Eq("user_id", userID)},
		})
		if errors.Is(err, errors.ErrNotFound) {
			return nil, nil
		}
		return sub, err
	})
}

// Entitled reports whether the signed-in user may publish: a publisher or
// admin role, or an active subscription.
func (s *Service) Entitled(ctx context.Context) (bool, error) {
	state, profile := s.sessions.Current()
	if state != session.StateAuthenticated || profile == nil {
		return false, nil
	}
	if profile.Role.CanPublish() {
		return true, nil
	}
	sub, err := s.Active(ctx)
	if err != nil {
		return false, err
	}
	return sub.Active(), nil
}

// checkoutRequest is the payload for the checkout edge function.
type checkoutRequest struct {
	PriceID    string `json:"price_id"`
	SuccessURL string `json:"success_url"`
	CancelURL  string `json:"cancel_url"`
}

type checkoutResponse struct {
	URL string `json:"url"`
}

// CreateCheckoutSession asks the billing function for a hosted checkout URL.
// The webhook, not this client, records the outcome; the subscription key is
// invalidated so the next read sees whatever the webhook wrote.
func (s *Service) CreateCheckoutSession(ctx context.Context, priceID, successURL, cancelURL string) (string, error) {
	userID := s.sessions.UserID()
	if userID == "" {
		return "", errors.Unauthorized("sign in to subscribe")
	}
	if priceID == "" {
		return "", errors.Validation("price id is required")
	}

	resp, err := remote.Invoke[checkoutResponse](ctx, s.client, "create-checkout-session", checkoutRequest{
		PriceID:    priceID,
		SuccessURL: successURL,
		CancelURL:  cancelURL,
	})
	if err != nil {
		return "", err
	}

	s.cache.Invalidate(keys.Subscription(userID))
	s.logger.Info("checkout session created", "user_id", userID, "price_id", priceID)
	return resp.URL, nil
}
