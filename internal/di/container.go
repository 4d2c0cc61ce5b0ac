// Package di wires the engine's services into a dependency injection
// container.
package di

import (
	"github.com/samber/do/v2"

	"github.com/tallyapp/tally-go/internal/cache"
	"github.com/tallyapp/tally-go/internal/config"
	"github.com/tallyapp/tally-go/internal/di/providers"
	"github.com/tallyapp/tally-go/internal/logger"
	"github.com/tallyapp/tally-go/internal/mutation"
	"github.com/tallyapp/tally-go/internal/remote"
	"github.com/tallyapp/tally-go/internal/session"
	"github.com/tallyapp/tally-go/internal/subscription"
)

// NewContainer creates the DI container for one engine instance.
func NewContainer(cfg *config.Config) *do.RootScope {
	injector := do.New()

	do.ProvideValue(injector, cfg)

	// Core infrastructure
	do.Provide(injector, providers.ProvideLogger)
	do.Provide(injector, providers.ProvideRemoteClient)
	do.Provide(injector, providers.ProvideCache)
	do.Provide(injector, providers.ProvideNotifier)

	// Offline layer
	do.Provide(injector, providers.ProvideSnapshot)
	do.Provide(injector, providers.ProvideSearch)

	// Business services
	do.Provide(injector, providers.ProvideSessionHolder)
	do.Provide(injector, providers.ProvideSubscriptionService)
	do.Provide(injector, providers.ProvideCoordinator)

	return injector
}

// Bootstrap triggers lazy initialization of every service so wiring errors
// surface at startup, not on first use.
func Bootstrap(injector *do.RootScope) error {
	if _, err := do.Invoke[*logger.Logger](injector); err != nil {
		return err
	}
	if _, err := do.Invoke[*remote.Client](injector); err != nil {
		return err
	}
	if _, err := do.Invoke[*cache.Cache](injector); err != nil {
		return err
	}
	if _, err := do.Invoke[*providers.SnapshotHandle](injector); err != nil {
		return err
	}
	if _, err := do.Invoke[*providers.SearchHandle](injector); err != nil {
		return err
	}
	if _, err := do.Invoke[*session.Holder](injector); err != nil {
		return err
	}
	if _, err := do.Invoke[*subscription.Service](injector); err != nil {
		return err
	}
	if _, err := do.Invoke[*mutation.Coordinator](injector); err != nil {
		return err
	}
	return nil
}
