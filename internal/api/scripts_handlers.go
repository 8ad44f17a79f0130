package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/TollanBerhanu/ae3gis-gns3-api/internal/nodes"
	"github.com/TollanBerhanu/ae3gis-gns3-api/internal/scripts"
)

// ScriptsService supplies everything the script handlers need: the
// stored node records for console resolution, script bodies off disk,
// and the console runner itself.
type ScriptsService interface {
	NodeRecords() ([]nodes.Record, error)
	ScriptContent(localPath string) ([]byte, error)
	RunScripts(ctx context.Context, tasks []scripts.RunTask, concurrency int) []scripts.Execution
	PushScripts(ctx context.Context, tasks []scripts.Task, concurrency int) []scripts.PushResult
}

// Scripts groups the script handlers for testability.
type Scripts struct {
	service ScriptsService
	logger  *zap.Logger
}

func NewScripts(service ScriptsService, logger *zap.Logger) *Scripts {
	return &Scripts{service: service, logger: logger}
}

type ScriptRunItem struct {
	NodeName   string  `json:"node_name"`
	RemotePath string  `json:"remote_path"`
	Shell      string  `json:"shell,omitempty"`
	Timeout    float64 `json:"timeout,omitempty"`
}

type ScriptRunRequest struct {
	Runs         []ScriptRunItem `json:"runs"`
	GNS3ServerIP string          `json:"gns3_server_ip,omitempty"`
	Concurrency  int             `json:"concurrency,omitempty"`
}

type ScriptRunResponse struct {
	Results []scripts.Execution `json:"results"`
}

type ScriptPushItem struct {
	NodeName       string  `json:"node_name"`
	LocalPath      string  `json:"local_path"`
	RemotePath     string  `json:"remote_path"`
	RunAfterUpload bool    `json:"run_after_upload,omitempty"`
	Executable     *bool   `json:"executable,omitempty"`
	Overwrite      *bool   `json:"overwrite,omitempty"`
	RunTimeout     float64 `json:"run_timeout,omitempty"`
	Shell          string  `json:"shell,omitempty"`
}

type ScriptPushRequest struct {
	Scripts      []ScriptPushItem `json:"scripts"`
	GNS3ServerIP string           `json:"gns3_server_ip,omitempty"`
	Concurrency  int              `json:"concurrency,omitempty"`
}

type ScriptPushResponse struct {
	Results []scripts.PushResult `json:"results"`
}

// RunHandler handles POST /scripts/run.
//
// Executes already-uploaded scripts on the named nodes over their
// consoles with bounded concurrency. Node lookups fail the whole
// request: 404 for an unknown node, 400 for one without a usable
// console.
func (s *Scripts) RunHandler(w http.ResponseWriter, r *http.Request) {
	var req ScriptRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, s.logger, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if len(req.Runs) == 0 {
		writeError(w, s.logger, http.StatusBadRequest, "No run requests provided")
		return
	}

	records, err := s.service.NodeRecords()
	if err != nil {
		s.logger.Error("failed to load node config", zap.Error(err))
		writeError(w, s.logger, http.StatusInternalServerError, "Failed to load node config: "+err.Error())
		return
	}

	tasks := make([]scripts.RunTask, 0, len(req.Runs))
	for _, item := range req.Runs {
		target, status, msg := resolveNodeConsole(records, item.NodeName, req.GNS3ServerIP)
		if status != 0 {
			writeError(w, s.logger, status, msg)
			return
		}
		tasks = append(tasks, scripts.RunTask{
			NodeName:   item.NodeName,
			Host:       target.Host,
			Port:       target.Port,
			RemotePath: item.RemotePath,
			Shell:      item.Shell,
			Timeout:    secondsToDuration(item.Timeout),
		})
	}

	results := s.service.RunScripts(r.Context(), tasks, req.Concurrency)
	writeJSON(w, s.logger, http.StatusOK, ScriptRunResponse{Results: results})
}

// PushHandler handles POST /scripts/push.
//
// Uploads local scripts onto the named nodes through their consoles,
// optionally running each one after upload. Script bodies are read
// before any console is dialed, so a missing local file fails the
// request up front with 400.
func (s *Scripts) PushHandler(w http.ResponseWriter, r *http.Request) {
	var req ScriptPushRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, s.logger, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if len(req.Scripts) == 0 {
		writeError(w, s.logger, http.StatusBadRequest, "No scripts provided")
		return
	}

	records, err := s.service.NodeRecords()
	if err != nil {
		s.logger.Error("failed to load node config", zap.Error(err))
		writeError(w, s.logger, http.StatusInternalServerError, "Failed to load node config: "+err.Error())
		return
	}

	tasks := make([]scripts.Task, 0, len(req.Scripts))
	for _, item := range req.Scripts {
		target, status, msg := resolveNodeConsole(records, item.NodeName, req.GNS3ServerIP)
		if status != 0 {
			writeError(w, s.logger, status, msg)
			return
		}
		content, err := s.service.ScriptContent(item.LocalPath)
		if err != nil {
			writeError(w, s.logger, http.StatusBadRequest, err.Error())
			return
		}
		tasks = append(tasks, scripts.Task{
			NodeName:       item.NodeName,
			Host:           target.Host,
			Port:           target.Port,
			Content:        content,
			RemotePath:     item.RemotePath,
			RunAfterUpload: item.RunAfterUpload,
			Executable:     item.Executable == nil || *item.Executable,
			Overwrite:      item.Overwrite == nil || *item.Overwrite,
			RunTimeout:     secondsToDuration(item.RunTimeout),
			Shell:          item.Shell,
		})
	}

	results := s.service.PushScripts(r.Context(), tasks, req.Concurrency)
	writeJSON(w, s.logger, http.StatusOK, ScriptPushResponse{Results: results})
}

// resolveNodeConsole finds a node by name and resolves its console
// endpoint. A zero status means success; otherwise status and msg
// describe the HTTP error to send.
func resolveNodeConsole(records []nodes.Record, nodeName, overrideHost string) (nodes.ConsoleTarget, int, string) {
	rec, ok := nodes.FindByName(records, nodeName)
	if !ok {
		return nodes.ConsoleTarget{}, http.StatusNotFound, fmt.Sprintf("Node '%s' not found in config", nodeName)
	}
	target, ok := nodes.ResolveConsoleTarget(rec, overrideHost)
	if !ok {
		return nodes.ConsoleTarget{}, http.StatusBadRequest, fmt.Sprintf("Node '%s' does not expose a usable console", nodeName)
	}
	return target, 0, ""
}
