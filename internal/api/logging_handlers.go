package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/TollanBerhanu/ae3gis-gns3-api/internal/collector"
	"github.com/TollanBerhanu/ae3gis-gns3-api/internal/datastore"
	"github.com/TollanBerhanu/ae3gis-gns3-api/internal/domain"
)

// LoggingService is the collector pipeline as the handlers consume it:
// deploy and hook up collectors, pull their captured logs, tear them
// down again.
type LoggingService interface {
	SetupLogging(ctx context.Context, student string) (*collector.Result, error)
	RetrieveAllLogs(ctx context.Context, snitches []collector.SnitchNodeInfo) (map[string]string, []string)
	DeleteCollectorNodes(ctx context.Context, student string) ([]string, error)
}

// LoggingProject identifies the project a logging service operates in.
type LoggingProject struct {
	ID       string
	Name     string
	ServerIP string
}

// LoggingProvider builds a LoggingService bound to the currently
// configured project. Construction can fail when no project is
// configured yet.
type LoggingProvider interface {
	LoggingService() (LoggingService, LoggingProject, error)
}

// LoggingStore is the slice of the datastore the logging handlers use.
type LoggingStore interface {
	SaveStudent(s domain.Student) (domain.Student, error)
	GetStudentByName(name string) (*domain.Student, error)
	DeleteStudentByName(name string) (bool, error)
	ReplaceCollectors(studentID int64, collectors []domain.Collector) error
	ListCollectors(studentID int64) ([]domain.Collector, error)
	CreateSubmission(sub domain.Submission) (domain.Submission, error)
}

// Logging groups the student logging handlers for testability.
type Logging struct {
	store    LoggingStore
	provider LoggingProvider
	logger   *zap.Logger
}

func NewLogging(store LoggingStore, provider LoggingProvider, logger *zap.Logger) *Logging {
	return &Logging{store: store, provider: provider, logger: logger}
}

type LoggingSetupResponse struct {
	Student        string                     `json:"student"`
	DisplayName    string                     `json:"display_name"`
	ProjectName    string                     `json:"project_name"`
	SnitchNodes    []collector.SnitchNodeInfo `json:"snitch_nodes"`
	InjectedNodes  []string                   `json:"injected_nodes"`
	SkippedNodes   []string                   `json:"skipped_nodes"`
	Errors         []string                   `json:"errors"`
	ReusedExisting bool                       `json:"reused_existing"`
	SessionSaved   bool                       `json:"session_saved"`
}

type LoggingLogsResponse struct {
	SubmissionID string   `json:"submission_id"`
	StudentName  string   `json:"student_name"`
	DisplayName  string   `json:"display_name"`
	ProjectName  string   `json:"project_name"`
	SubmittedAt  string   `json:"submitted_at"`
	ITLogs       string   `json:"it_logs"`
	OTLogs       string   `json:"ot_logs"`
	ITLogLines   int      `json:"it_log_lines"`
	OTLogLines   int      `json:"ot_log_lines"`
	Warnings     []string `json:"warnings"`
}

type LoggingTeardownResponse struct {
	Student      string   `json:"student"`
	DeletedNodes []string `json:"deleted_nodes"`
	DeletedCount int      `json:"deleted_count"`
	Message      string   `json:"message"`
}

// SetupHandler handles POST /logging/{student}/setup.
//
// Deploys the student's IT and OT collectors, injects the command
// forwarding hook into eligible nodes, and records the session with
// the deployed collectors so logs can be retrieved later. Per-node
// failures are reported in the errors list, not as an HTTP error.
func (l *Logging) SetupHandler(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "student")
	sanitized, err := datastore.SanitizeStudentName(raw)
	if err != nil {
		writeError(w, l.logger, http.StatusBadRequest, err.Error())
		return
	}

	service, project, err := l.provider.LoggingService()
	if err != nil {
		l.logger.Error("logging service unavailable", zap.Error(err))
		writeError(w, l.logger, http.StatusInternalServerError, "Logging service unavailable: "+err.Error())
		return
	}

	result, err := service.SetupLogging(r.Context(), sanitized)
	if err != nil {
		l.logger.Error("collector setup failed", zap.String("student", sanitized), zap.Error(err))
		writeError(w, l.logger, http.StatusInternalServerError, "Collector setup failed: "+err.Error())
		return
	}

	resp := LoggingSetupResponse{
		Student:        sanitized,
		DisplayName:    strings.TrimSpace(raw),
		ProjectName:    project.Name,
		SnitchNodes:    result.SnitchNodes,
		InjectedNodes:  result.InjectedNodes,
		SkippedNodes:   result.SkippedNodes,
		Errors:         result.Errors,
		ReusedExisting: result.ReusedExisting,
	}

	// A session without collectors cannot serve later log retrieval, so
	// only a run that deployed at least one is recorded.
	if len(result.SnitchNodes) > 0 {
		student, err := l.store.SaveStudent(domain.Student{
			Name:        sanitized,
			DisplayName: strings.TrimSpace(raw),
			ProjectName: project.Name,
		})
		if err != nil {
			l.logger.Error("failed to save student session", zap.String("student", sanitized), zap.Error(err))
			writeError(w, l.logger, http.StatusInternalServerError, "Failed to save student session: "+err.Error())
			return
		}
		if err := l.store.ReplaceCollectors(student.ID, collectorsFromSnitches(student.ID, result.SnitchNodes)); err != nil {
			l.logger.Error("failed to save collectors", zap.String("student", sanitized), zap.Error(err))
			writeError(w, l.logger, http.StatusInternalServerError, "Failed to save collectors: "+err.Error())
			return
		}
		resp.SessionSaved = true
	}

	writeJSON(w, l.logger, http.StatusOK, resp)
}

// LogsHandler handles GET /logging/{student}/logs.
//
// Pulls the captured command logs from the student's collectors and
// records the result as a submission. Empty logs are a warning, not a
// failure.
func (l *Logging) LogsHandler(w http.ResponseWriter, r *http.Request) {
	sanitized, err := datastore.SanitizeStudentName(chi.URLParam(r, "student"))
	if err != nil {
		writeError(w, l.logger, http.StatusBadRequest, err.Error())
		return
	}

	student, err := l.store.GetStudentByName(sanitized)
	if err != nil {
		writeError(w, l.logger, http.StatusInternalServerError, "Failed to look up student session: "+err.Error())
		return
	}
	if student == nil {
		writeError(w, l.logger, http.StatusNotFound, fmt.Sprintf("No active session found for student '%s'", sanitized))
		return
	}

	collectors, err := l.store.ListCollectors(student.ID)
	if err != nil {
		writeError(w, l.logger, http.StatusInternalServerError, "Failed to load collectors: "+err.Error())
		return
	}
	if len(collectors) == 0 {
		writeError(w, l.logger, http.StatusNotFound, fmt.Sprintf("No collectors recorded for student '%s'; run setup first", sanitized))
		return
	}

	service, _, err := l.provider.LoggingService()
	if err != nil {
		l.logger.Error("logging service unavailable", zap.Error(err))
		writeError(w, l.logger, http.StatusInternalServerError, "Logging service unavailable: "+err.Error())
		return
	}

	logs, warnings := service.RetrieveAllLogs(r.Context(), snitchesFromCollectors(collectors))
	if warnings == nil {
		warnings = []string{}
	}

	submission, err := l.store.CreateSubmission(domain.Submission{
		StudentName: sanitized,
		DisplayName: student.DisplayName,
		ProjectName: student.ProjectName,
		ITLogs:      logs["it"],
		OTLogs:      logs["ot"],
	})
	if err != nil {
		l.logger.Error("failed to record submission", zap.String("student", sanitized), zap.Error(err))
		writeError(w, l.logger, http.StatusInternalServerError, "Failed to record submission: "+err.Error())
		return
	}

	writeJSON(w, l.logger, http.StatusOK, LoggingLogsResponse{
		SubmissionID: submission.ID,
		StudentName:  submission.StudentName,
		DisplayName:  submission.DisplayName,
		ProjectName:  submission.ProjectName,
		SubmittedAt:  submission.SubmittedAt,
		ITLogs:       submission.ITLogs,
		OTLogs:       submission.OTLogs,
		ITLogLines:   countLines(submission.ITLogs),
		OTLogLines:   countLines(submission.OTLogs),
		Warnings:     warnings,
	})
}

// TeardownHandler handles DELETE /logging/{student}.
//
// Removes the student's collector nodes from the project and deletes
// the session. Submissions are kept. When node deletion fails the
// session survives so the teardown can be retried.
func (l *Logging) TeardownHandler(w http.ResponseWriter, r *http.Request) {
	sanitized, err := datastore.SanitizeStudentName(chi.URLParam(r, "student"))
	if err != nil {
		writeError(w, l.logger, http.StatusBadRequest, err.Error())
		return
	}

	student, err := l.store.GetStudentByName(sanitized)
	if err != nil {
		writeError(w, l.logger, http.StatusInternalServerError, "Failed to look up student session: "+err.Error())
		return
	}
	if student == nil {
		writeError(w, l.logger, http.StatusNotFound, fmt.Sprintf("No active session found for student '%s'", sanitized))
		return
	}

	service, _, err := l.provider.LoggingService()
	if err != nil {
		l.logger.Error("logging service unavailable", zap.Error(err))
		writeError(w, l.logger, http.StatusInternalServerError, "Logging service unavailable: "+err.Error())
		return
	}

	deleted, err := service.DeleteCollectorNodes(r.Context(), sanitized)
	if err != nil {
		l.logger.Error("failed to delete collector nodes", zap.String("student", sanitized), zap.Error(err))
		writeError(w, l.logger, http.StatusInternalServerError, "Failed to delete collector nodes: "+err.Error())
		return
	}

	if _, err := l.store.DeleteStudentByName(sanitized); err != nil {
		writeError(w, l.logger, http.StatusInternalServerError, "Failed to delete student session: "+err.Error())
		return
	}

	if deleted == nil {
		deleted = []string{}
	}
	writeJSON(w, l.logger, http.StatusOK, LoggingTeardownResponse{
		Student:      sanitized,
		DeletedNodes: deleted,
		DeletedCount: len(deleted),
		Message:      fmt.Sprintf("Deleted %d collector node(s) for student '%s'", len(deleted), sanitized),
	})
}

func collectorsFromSnitches(studentID int64, snitches []collector.SnitchNodeInfo) []domain.Collector {
	out := make([]domain.Collector, len(snitches))
	for i, s := range snitches {
		out[i] = domain.Collector{
			StudentID:         studentID,
			NodeID:            s.NodeID,
			Name:              s.Name,
			IPAddress:         s.IPAddress,
			Port:              s.Port,
			ConnectedToSwitch: s.ConnectedToSwitch,
			ConsoleHost:       s.ConsoleHost,
			ConsolePort:       s.ConsolePort,
		}
	}
	return out
}

func snitchesFromCollectors(collectors []domain.Collector) []collector.SnitchNodeInfo {
	out := make([]collector.SnitchNodeInfo, len(collectors))
	for i, c := range collectors {
		out[i] = collector.SnitchNodeInfo{
			NodeID:            c.NodeID,
			Name:              c.Name,
			IPAddress:         c.IPAddress,
			Port:              c.Port,
			ConnectedToSwitch: c.ConnectedToSwitch,
			ConsoleHost:       c.ConsoleHost,
			ConsolePort:       c.ConsolePort,
		}
	}
	return out
}

// countLines counts non-empty text lines the way splitlines would: a
// trailing newline does not add a line.
func countLines(s string) int {
	if s == "" {
		return 0
	}
	n := strings.Count(s, "\n")
	if !strings.HasSuffix(s, "\n") {
		n++
	}
	return n
}
