package providers

import (
	"github.com/samber/do/v2"

	"github.com/tallyapp/tally-go/internal/cache"
	"github.com/tallyapp/tally-go/internal/config"
	"github.com/tallyapp/tally-go/internal/logger"
	"github.com/tallyapp/tally-go/internal/mutation"
	"github.com/tallyapp/tally-go/internal/notify"
	"github.com/tallyapp/tally-go/internal/remote"
	"github.com/tallyapp/tally-go/internal/session"
	"github.com/tallyapp/tally-go/internal/subscription"
)

// ProvideNotifier provides the user-facing notifier. Hosts that embed the
// engine replace it by providing their own before bootstrap.
func ProvideNotifier(i do.Injector) (notify.Notifier, error) {
	log := do.MustInvoke[*logger.Logger](i)
	return notify.NewLogNotifier(log.Logger), nil
}

// ProvideSessionHolder provides the session state machine.
func ProvideSessionHolder(i do.Injector) (*session.Holder, error) {
	client := do.MustInvoke[*remote.Client](i)
	c := do.MustInvoke[*cache.Cache](i)
	log := do.MustInvoke[*logger.Logger](i)

	return session.New(session.Options{
		Client: client,
		Cache:  c,
		Logger: log.Logger,
	}), nil
}

// ProvideSubscriptionService provides entitlement checks and checkout.
func ProvideSubscriptionService(i do.Injector) (*subscription.Service, error) {
	client := do.MustInvoke[*remote.Client](i)
	c := do.MustInvoke[*cache.Cache](i)
	sessions := do.MustInvoke[*session.Holder](i)
	log := do.MustInvoke[*logger.Logger](i)

	return subscription.New(client, c, sessions, log.Logger), nil
}

// ProvideCoordinator provides the mutation coordinator.
func ProvideCoordinator(i do.Injector) (*mutation.Coordinator, error) {
	cfg := do.MustInvoke[*config.Config](i)
	client := do.MustInvoke[*remote.Client](i)
	c := do.MustInvoke[*cache.Cache](i)
	sessions := do.MustInvoke[*session.Holder](i)
	subs := do.MustInvoke[*subscription.Service](i)
	notifier := do.MustInvoke[notify.Notifier](i)
	log := do.MustInvoke[*logger.Logger](i)

	return mutation.New(mutation.Options{
		Client:   client,
		Cache:    c,
		Sessions: sessions,
		Notifier: notifier,
		Logger:   log.Logger,
		Bucket:   cfg.Storage.Bucket,
		Entitled: subs.Entitled,
	}), nil
}
