package api

import (
	"context"

	"github.com/TollanBerhanu/ae3gis-gns3-api/internal/configstore"
	"github.com/TollanBerhanu/ae3gis-gns3-api/internal/dhcp"
	"github.com/TollanBerhanu/ae3gis-gns3-api/internal/nodes"
)

// AssignAddresses implements DHCPService. Each call builds a fresh
// orchestrator over the configured node store, so edits to the config
// file between requests are picked up.
func (a *API) AssignAddresses(ctx context.Context, opts dhcp.Options) (*dhcp.AssignResult, error) {
	store := configstore.New(a.settings.ConfigPath)
	orchestrator := dhcp.NewOrchestrator(store, nodes.DefaultClassifier(), a.logger)
	return orchestrator.Assign(ctx, opts)
}
