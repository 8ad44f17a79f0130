// Package api is the HTTP surface of the service: DHCP assignment,
// script push/run, student logging sessions, instructor data access,
// and the template registry, all on a chi router.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/TollanBerhanu/ae3gis-gns3-api/internal/config"
	"github.com/TollanBerhanu/ae3gis-gns3-api/internal/datastore"
)

// API holds the dependencies the handler groups are wired from. The
// groups themselves consume narrow interfaces; API implements them in
// the *_service.go files.
type API struct {
	settings config.Settings
	ds       *datastore.Datastore
	logger   *zap.Logger
}

// NewAPI creates an API instance over the given settings and datastore.
func NewAPI(settings config.Settings, ds *datastore.Datastore, logger *zap.Logger) *API {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &API{settings: settings, ds: ds, logger: logger}
}

// ErrorResponse is the JSON shape of every error reply.
type ErrorResponse struct {
	Error string `json:"error"`
}

// writeJSON writes v as a JSON response with the given status.
func writeJSON(w http.ResponseWriter, logger *zap.Logger, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("failed to encode response", zap.Error(err))
	}
}

// writeError writes a JSON error reply with the given status.
func writeError(w http.ResponseWriter, logger *zap.Logger, status int, msg string) {
	writeJSON(w, logger, status, ErrorResponse{Error: msg})
}

func (a *API) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, a.logger, http.StatusOK, map[string]string{"status": "ok"})
}

// RegisterRoutes registers all API endpoints on the given chi router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Get("/health", a.healthHandler)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	// DHCP endpoints group
	dhcp := NewDHCP(a, a.logger)
	r.Route("/dhcp", func(r chi.Router) {
		r.Post("/assign", dhcp.AssignHandler)
	})

	// Scripts endpoints group
	scripts := NewScripts(a, a.logger)
	r.Route("/scripts", func(r chi.Router) {
		r.Post("/run", scripts.RunHandler)
		r.Post("/push", scripts.PushHandler)
	})

	// Student logging endpoints group
	logging := NewLogging(a.ds, a, a.logger)
	r.Route("/logging/{student}", func(r chi.Router) {
		r.Post("/setup", logging.SetupHandler)
		r.Get("/logs", logging.LogsHandler)
		r.Delete("/", logging.TeardownHandler)
	})

	// Instructor endpoints group
	instructor := NewInstructor(a.ds, a.logger)
	r.Route("/instructor", func(r chi.Router) {
		r.Get("/students", instructor.ListStudentsHandler)
		r.Delete("/students/{student}", instructor.DeleteStudentHandler)
		r.Get("/submissions", instructor.ListSubmissionsHandler)
		r.Get("/submissions/{student}/{id}", instructor.GetSubmissionHandler)
		r.Delete("/submissions/{student}/{id}", instructor.DeleteSubmissionHandler)
		r.Delete("/reset/submissions", instructor.ResetSubmissionsHandler)
		r.Delete("/reset/students", instructor.ResetStudentsHandler)
		r.Delete("/reset/all", instructor.ResetAllHandler)
	})

	// Template registry endpoints group
	templates := NewTemplates(a, a.logger)
	r.Route("/templates", func(r chi.Router) {
		r.Get("/", templates.RegistryHandler)
		r.Post("/refresh", templates.RefreshHandler)
	})
}
