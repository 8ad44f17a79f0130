package api

import (
	"fmt"

	"github.com/TollanBerhanu/ae3gis-gns3-api/internal/collector"
	"github.com/TollanBerhanu/ae3gis-gns3-api/internal/configstore"
	"github.com/TollanBerhanu/ae3gis-gns3-api/internal/gns3"
	"github.com/TollanBerhanu/ae3gis-gns3-api/internal/nodes"
)

// LoggingService implements LoggingProvider. The provisioner is bound
// to the project recorded in the node config; the config's server
// address wins over the configured default so collectors land on the
// server that actually hosts the project.
func (a *API) LoggingService() (LoggingService, LoggingProject, error) {
	store := configstore.New(a.settings.ConfigPath)
	doc, err := store.Load()
	if err != nil {
		return nil, LoggingProject{}, fmt.Errorf("loading node config: %w", err)
	}

	projectID := doc.ProjectID()
	if projectID == "" {
		return nil, LoggingProject{}, fmt.Errorf("config %s has no project_id; build a topology first", store.Path())
	}

	serverIP := doc.ServerIP()
	if serverIP == "" {
		serverIP = a.settings.GNS3ServerIP
	}

	client := gns3.New(a.settings.ServerURL(serverIP), a.settings.GNS3Username, a.settings.GNS3Password, a.settings.GNS3RequestDelay)
	provisioner := collector.NewProvisioner(client, projectID, serverIP, nodes.DefaultClassifier(), a.logger)

	return provisioner, LoggingProject{ID: projectID, Name: doc.ProjectName(), ServerIP: serverIP}, nil
}
