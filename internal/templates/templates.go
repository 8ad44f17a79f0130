// Package templates caches GNS3 template and project name-to-ID maps on
// disk so CLI runs and script tooling can resolve names without hitting
// the controller every time.
package templates

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/TollanBerhanu/ae3gis-gns3-api/internal/configstore"
	"github.com/TollanBerhanu/ae3gis-gns3-api/internal/gns3"
)

var (
	// ErrCacheMissing means the registry file has not been generated yet.
	ErrCacheMissing = errors.New("template cache not found")

	// ErrCacheMalformed means the registry file exists but does not hold
	// the expected mappings.
	ErrCacheMalformed = errors.New("template cache is malformed")

	// ErrNoTemplates means the server answered with an empty template
	// list, which would produce a useless cache.
	ErrNoTemplates = errors.New("no templates returned by the GNS3 server")
)

// ServerInfo records where the cached data came from.
type ServerInfo struct {
	BaseURL string
	IP      string
	Port    int
}

// Registry is the parsed on-disk cache payload.
type Registry struct {
	Source    string
	FetchedAt string
	Templates map[string]string
	Projects  map[string]string
}

// Lister is the slice of the platform client Refresh needs.
type Lister interface {
	ListTemplates(ctx context.Context) ([]gns3.Template, error)
	ListProjects(ctx context.Context) ([]gns3.Project, error)
}

// Refresh fetches templates and projects from the server and persists
// them through the store. Returns the template name-to-ID map.
func Refresh(ctx context.Context, client Lister, store *configstore.Store, info ServerInfo) (map[string]string, error) {
	serverTemplates, err := client.ListTemplates(ctx)
	if err != nil {
		return nil, fmt.Errorf("refresh templates: %w", err)
	}
	templateMap := make(map[string]string, len(serverTemplates))
	for _, t := range serverTemplates {
		if t.Name != "" && t.TemplateID != "" {
			templateMap[t.Name] = t.TemplateID
		}
	}
	if len(templateMap) == 0 {
		return nil, ErrNoTemplates
	}

	serverProjects, err := client.ListProjects(ctx)
	if err != nil {
		return nil, fmt.Errorf("refresh projects: %w", err)
	}
	projectMap := make(map[string]string, len(serverProjects))
	for _, p := range serverProjects {
		if p.Name != "" && p.ProjectID != "" {
			projectMap[p.Name] = p.ProjectID
		}
	}

	payload := map[string]any{
		"source":     info.BaseURL,
		"fetched_at": time.Now().UTC().Format(time.RFC3339),
		"templates":  templateMap,
		"projects":   projectMap,
		"server": map[string]any{
			"base_url": info.BaseURL,
			"ip":       info.IP,
			"port":     info.Port,
		},
	}
	if err := store.Write(configstore.FromMap(payload)); err != nil {
		return nil, fmt.Errorf("persist template cache: %w", err)
	}

	return templateMap, nil
}

// LoadRegistry reads and parses the cache file.
func LoadRegistry(store *configstore.Store) (*Registry, error) {
	doc, err := store.Load()
	if err != nil {
		if errors.Is(err, configstore.ErrNotFound) {
			return nil, fmt.Errorf("%w at %s; run a refresh to generate it", ErrCacheMissing, store.Path())
		}
		return nil, fmt.Errorf("load template cache: %w", err)
	}

	raw := doc.Raw()
	registry := &Registry{
		Templates: stringMap(raw["templates"]),
		Projects:  stringMap(raw["projects"]),
	}
	if source, ok := raw["source"].(string); ok {
		registry.Source = source
	}
	if fetched, ok := raw["fetched_at"].(string); ok {
		registry.FetchedAt = fetched
	}
	return registry, nil
}

// LoadTemplates returns the cached template name-to-ID map.
func LoadTemplates(store *configstore.Store) (map[string]string, error) {
	registry, err := LoadRegistry(store)
	if err != nil {
		return nil, err
	}
	if registry.Templates == nil {
		return nil, fmt.Errorf("%w: missing 'templates' mapping at %s", ErrCacheMalformed, store.Path())
	}
	return registry.Templates, nil
}

// LoadProjects returns the cached project name-to-ID map.
func LoadProjects(store *configstore.Store) (map[string]string, error) {
	registry, err := LoadRegistry(store)
	if err != nil {
		return nil, err
	}
	if registry.Projects == nil {
		return nil, fmt.Errorf("%w: missing 'projects' mapping at %s", ErrCacheMalformed, store.Path())
	}
	return registry.Projects, nil
}

// stringMap keeps only string-to-string entries, dropping anything a
// hand-edited cache file may have introduced.
func stringMap(value any) map[string]string {
	source, ok := value.(map[string]any)
	if !ok {
		return nil
	}
	result := make(map[string]string, len(source))
	for key, entry := range source {
		if text, ok := entry.(string); ok {
			result[key] = text
		}
	}
	return result
}
