package api

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/TollanBerhanu/ae3gis-gns3-api/internal/templates"
)

// TemplatesService refreshes and reads the template registry cache.
type TemplatesService interface {
	RefreshTemplates(ctx context.Context) (*templates.Registry, error)
	CachedTemplates() (*templates.Registry, error)
}

// Templates groups the registry handlers for testability.
type Templates struct {
	service TemplatesService
	logger  *zap.Logger
}

func NewTemplates(service TemplatesService, logger *zap.Logger) *Templates {
	return &Templates{service: service, logger: logger}
}

type TemplateRegistryResponse struct {
	Source    string            `json:"source"`
	FetchedAt string            `json:"fetched_at"`
	Templates map[string]string `json:"templates"`
	Projects  map[string]string `json:"projects"`
}

func registryResponse(reg *templates.Registry) TemplateRegistryResponse {
	return TemplateRegistryResponse{
		Source:    reg.Source,
		FetchedAt: reg.FetchedAt,
		Templates: reg.Templates,
		Projects:  reg.Projects,
	}
}

// RegistryHandler handles GET /templates, serving the cached registry.
func (t *Templates) RegistryHandler(w http.ResponseWriter, r *http.Request) {
	reg, err := t.service.CachedTemplates()
	if err != nil {
		if errors.Is(err, templates.ErrCacheMissing) {
			writeError(w, t.logger, http.StatusNotFound, "Template cache not generated yet; refresh it first")
			return
		}
		writeError(w, t.logger, http.StatusInternalServerError, "Failed to read template cache: "+err.Error())
		return
	}
	writeJSON(w, t.logger, http.StatusOK, registryResponse(reg))
}

// RefreshHandler handles POST /templates/refresh, re-fetching templates
// and projects from the GNS3 server and rewriting the cache.
func (t *Templates) RefreshHandler(w http.ResponseWriter, r *http.Request) {
	reg, err := t.service.RefreshTemplates(r.Context())
	if err != nil {
		t.logger.Error("template refresh failed", zap.Error(err))
		writeError(w, t.logger, http.StatusInternalServerError, "Failed to refresh template cache: "+err.Error())
		return
	}
	writeJSON(w, t.logger, http.StatusOK, registryResponse(reg))
}
