package api

import (
	"context"

	"github.com/TollanBerhanu/ae3gis-gns3-api/internal/configstore"
	"github.com/TollanBerhanu/ae3gis-gns3-api/internal/gns3"
	"github.com/TollanBerhanu/ae3gis-gns3-api/internal/templates"
)

// RefreshTemplates implements TemplatesService against the configured
// GNS3 server and cache path.
func (a *API) RefreshTemplates(ctx context.Context) (*templates.Registry, error) {
	client := gns3.New(a.settings.GNS3BaseURL, a.settings.GNS3Username, a.settings.GNS3Password, a.settings.GNS3RequestDelay)
	store := configstore.New(a.settings.TemplatesCachePath)
	info := templates.ServerInfo{
		BaseURL: a.settings.GNS3BaseURL,
		IP:      a.settings.GNS3ServerIP,
		Port:    a.settings.GNS3ServerPort,
	}
	if _, err := templates.Refresh(ctx, client, store, info); err != nil {
		return nil, err
	}
	return templates.LoadRegistry(store)
}

// CachedTemplates implements TemplatesService.
func (a *API) CachedTemplates() (*templates.Registry, error) {
	return templates.LoadRegistry(configstore.New(a.settings.TemplatesCachePath))
}
