package api

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/TollanBerhanu/ae3gis-gns3-api/internal/datastore"
	"github.com/TollanBerhanu/ae3gis-gns3-api/internal/domain"
)

// InstructorStore is the slice of the datastore the instructor
// handlers use.
type InstructorStore interface {
	ListStudents() ([]domain.Student, error)
	CountSubmissionsByStudent() (map[string]int, error)
	ListSubmissions() ([]domain.Submission, error)
	ListSubmissionsForStudent(studentName string) ([]domain.Submission, error)
	GetSubmission(studentName, id string) (*domain.Submission, error)
	DeleteSubmission(studentName, id string) (bool, error)
	DeleteStudentByName(name string) (bool, error)
	ClearAllStudents() (int64, error)
	ClearAllSubmissions() (int64, error)
}

// Instructor groups the instructor handlers for testability.
type Instructor struct {
	store  InstructorStore
	logger *zap.Logger
}

func NewInstructor(store InstructorStore, logger *zap.Logger) *Instructor {
	return &Instructor{store: store, logger: logger}
}

type StudentSummary struct {
	Name            string `json:"name"`
	DisplayName     string `json:"display_name"`
	ProjectName     string `json:"project_name"`
	CreatedAt       string `json:"created_at"`
	UpdatedAt       string `json:"updated_at"`
	SubmissionCount int    `json:"submission_count"`
}

type StudentListResponse struct {
	Students   []StudentSummary `json:"students"`
	TotalCount int              `json:"total_count"`
}

type SubmissionSummary struct {
	ID          string `json:"id"`
	StudentName string `json:"student_name"`
	DisplayName string `json:"display_name"`
	ProjectName string `json:"project_name"`
	SubmittedAt string `json:"submitted_at"`
	ITLogLines  int    `json:"it_log_lines"`
	OTLogLines  int    `json:"ot_log_lines"`
}

type SubmissionListResponse struct {
	Submissions []SubmissionSummary `json:"submissions"`
	TotalCount  int                 `json:"total_count"`
}

type SubmissionDetailResponse struct {
	ID          string `json:"id"`
	StudentName string `json:"student_name"`
	DisplayName string `json:"display_name"`
	SubmittedAt string `json:"submitted_at"`
	ProjectName string `json:"project_name"`
	ITLogs      string `json:"it_logs"`
	OTLogs      string `json:"ot_logs"`
	ITLogLines  int    `json:"it_log_lines"`
	OTLogLines  int    `json:"ot_log_lines"`
}

// ResetResponse reports a deletion: how many rows went away and a
// human-readable summary.
type ResetResponse struct {
	DeletedCount int64  `json:"deleted_count"`
	Message      string `json:"message"`
}

// ListStudentsHandler handles GET /instructor/students.
func (i *Instructor) ListStudentsHandler(w http.ResponseWriter, r *http.Request) {
	students, err := i.store.ListStudents()
	if err != nil {
		writeError(w, i.logger, http.StatusInternalServerError, "Failed to list students: "+err.Error())
		return
	}
	counts, err := i.store.CountSubmissionsByStudent()
	if err != nil {
		writeError(w, i.logger, http.StatusInternalServerError, "Failed to count submissions: "+err.Error())
		return
	}

	summaries := make([]StudentSummary, len(students))
	for idx, s := range students {
		summaries[idx] = StudentSummary{
			Name:            s.Name,
			DisplayName:     s.DisplayName,
			ProjectName:     s.ProjectName,
			CreatedAt:       s.CreatedAt,
			UpdatedAt:       s.UpdatedAt,
			SubmissionCount: counts[s.Name],
		}
	}

	writeJSON(w, i.logger, http.StatusOK, StudentListResponse{
		Students:   summaries,
		TotalCount: len(summaries),
	})
}

// ListSubmissionsHandler handles GET /instructor/submissions with an
// optional student_name filter.
func (i *Instructor) ListSubmissionsHandler(w http.ResponseWriter, r *http.Request) {
	var (
		submissions []domain.Submission
		err         error
	)
	if name := r.URL.Query().Get("student_name"); name != "" {
		sanitized, sErr := datastore.SanitizeStudentName(name)
		if sErr != nil {
			writeError(w, i.logger, http.StatusBadRequest, sErr.Error())
			return
		}
		submissions, err = i.store.ListSubmissionsForStudent(sanitized)
	} else {
		submissions, err = i.store.ListSubmissions()
	}
	if err != nil {
		writeError(w, i.logger, http.StatusInternalServerError, "Failed to list submissions: "+err.Error())
		return
	}

	summaries := make([]SubmissionSummary, len(submissions))
	for idx, sub := range submissions {
		summaries[idx] = SubmissionSummary{
			ID:          sub.ID,
			StudentName: sub.StudentName,
			DisplayName: sub.DisplayName,
			ProjectName: sub.ProjectName,
			SubmittedAt: sub.SubmittedAt,
			ITLogLines:  countLines(sub.ITLogs),
			OTLogLines:  countLines(sub.OTLogs),
		}
	}

	writeJSON(w, i.logger, http.StatusOK, SubmissionListResponse{
		Submissions: summaries,
		TotalCount:  len(summaries),
	})
}

// GetSubmissionHandler handles GET /instructor/submissions/{student}/{id}.
func (i *Instructor) GetSubmissionHandler(w http.ResponseWriter, r *http.Request) {
	sanitized, err := datastore.SanitizeStudentName(chi.URLParam(r, "student"))
	if err != nil {
		writeError(w, i.logger, http.StatusBadRequest, err.Error())
		return
	}
	id := chi.URLParam(r, "id")

	submission, err := i.store.GetSubmission(sanitized, id)
	if err != nil {
		writeError(w, i.logger, http.StatusInternalServerError, "Failed to get submission: "+err.Error())
		return
	}
	if submission == nil {
		writeError(w, i.logger, http.StatusNotFound,
			fmt.Sprintf("Submission '%s' not found for student '%s'", id, sanitized))
		return
	}

	writeJSON(w, i.logger, http.StatusOK, SubmissionDetailResponse{
		ID:          submission.ID,
		StudentName: submission.StudentName,
		DisplayName: submission.DisplayName,
		SubmittedAt: submission.SubmittedAt,
		ProjectName: submission.ProjectName,
		ITLogs:      submission.ITLogs,
		OTLogs:      submission.OTLogs,
		ITLogLines:  countLines(submission.ITLogs),
		OTLogLines:  countLines(submission.OTLogs),
	})
}

// DeleteSubmissionHandler handles DELETE /instructor/submissions/{student}/{id}.
func (i *Instructor) DeleteSubmissionHandler(w http.ResponseWriter, r *http.Request) {
	sanitized, err := datastore.SanitizeStudentName(chi.URLParam(r, "student"))
	if err != nil {
		writeError(w, i.logger, http.StatusBadRequest, err.Error())
		return
	}
	id := chi.URLParam(r, "id")

	deleted, err := i.store.DeleteSubmission(sanitized, id)
	if err != nil {
		writeError(w, i.logger, http.StatusInternalServerError, "Failed to delete submission: "+err.Error())
		return
	}
	if !deleted {
		writeError(w, i.logger, http.StatusNotFound,
			fmt.Sprintf("Submission '%s' not found for student '%s'", id, sanitized))
		return
	}

	writeJSON(w, i.logger, http.StatusOK, ResetResponse{
		DeletedCount: 1,
		Message:      fmt.Sprintf("Deleted submission '%s' for student '%s'", id, sanitized),
	})
}

// DeleteStudentHandler handles DELETE /instructor/students/{student}.
// Only the session row goes away; submissions and any collector nodes
// in the project are kept.
func (i *Instructor) DeleteStudentHandler(w http.ResponseWriter, r *http.Request) {
	sanitized, err := datastore.SanitizeStudentName(chi.URLParam(r, "student"))
	if err != nil {
		writeError(w, i.logger, http.StatusBadRequest, err.Error())
		return
	}

	deleted, err := i.store.DeleteStudentByName(sanitized)
	if err != nil {
		writeError(w, i.logger, http.StatusInternalServerError, "Failed to delete student: "+err.Error())
		return
	}
	if !deleted {
		writeError(w, i.logger, http.StatusNotFound,
			fmt.Sprintf("No active session found for student '%s'", sanitized))
		return
	}

	writeJSON(w, i.logger, http.StatusOK, ResetResponse{
		DeletedCount: 1,
		Message:      fmt.Sprintf("Deleted session for student '%s'", sanitized),
	})
}

// ResetSubmissionsHandler handles DELETE /instructor/reset/submissions.
func (i *Instructor) ResetSubmissionsHandler(w http.ResponseWriter, r *http.Request) {
	count, err := i.store.ClearAllSubmissions()
	if err != nil {
		writeError(w, i.logger, http.StatusInternalServerError, "Failed to clear submissions: "+err.Error())
		return
	}
	writeJSON(w, i.logger, http.StatusOK, ResetResponse{
		DeletedCount: count,
		Message:      fmt.Sprintf("Deleted %d submission(s)", count),
	})
}

// ResetStudentsHandler handles DELETE /instructor/reset/students.
func (i *Instructor) ResetStudentsHandler(w http.ResponseWriter, r *http.Request) {
	count, err := i.store.ClearAllStudents()
	if err != nil {
		writeError(w, i.logger, http.StatusInternalServerError, "Failed to clear students: "+err.Error())
		return
	}
	writeJSON(w, i.logger, http.StatusOK, ResetResponse{
		DeletedCount: count,
		Message:      fmt.Sprintf("Deleted %d student session(s)", count),
	})
}

// ResetAllHandler handles DELETE /instructor/reset/all. Submissions go
// first so a failure midway never leaves submissions pointing at
// deleted sessions.
func (i *Instructor) ResetAllHandler(w http.ResponseWriter, r *http.Request) {
	submissions, err := i.store.ClearAllSubmissions()
	if err != nil {
		writeError(w, i.logger, http.StatusInternalServerError, "Failed to clear submissions: "+err.Error())
		return
	}
	students, err := i.store.ClearAllStudents()
	if err != nil {
		writeError(w, i.logger, http.StatusInternalServerError, "Failed to clear students: "+err.Error())
		return
	}
	writeJSON(w, i.logger, http.StatusOK, ResetResponse{
		DeletedCount: submissions + students,
		Message:      fmt.Sprintf("Deleted %d student session(s) and %d submission(s)", students, submissions),
	})
}
