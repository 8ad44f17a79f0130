package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/TollanBerhanu/ae3gis-gns3-api/internal/datastore"
	"github.com/TollanBerhanu/ae3gis-gns3-api/internal/domain"
	"github.com/TollanBerhanu/ae3gis-gns3-api/internal/testutil"
)

func setupInstructorTest(t *testing.T) (*chi.Mux, *datastore.Datastore) {
	t.Helper()
	db, cleanup := testutil.SetupTestDBWithMigrations(t, t.Name())
	t.Cleanup(cleanup)
	ds := datastore.New(db)

	r := chi.NewRouter()
	instructor := NewInstructor(ds, zap.NewNop())
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
	return r, ds
}

func seedInstructorData(t *testing.T, ds *datastore.Datastore) (alice, bob domain.Student, sub domain.Submission) {
	t.Helper()
	var err error
	alice, err = ds.SaveStudent(domain.Student{Name: "alice", DisplayName: "Alice", ProjectName: "Security_Lab"})
	require.NoError(t, err)
	bob, err = ds.SaveStudent(domain.Student{Name: "bob", DisplayName: "Bob", ProjectName: "Security_Lab"})
	require.NoError(t, err)

	sub, err = ds.CreateSubmission(domain.Submission{
		StudentName: "alice", DisplayName: "Alice", ProjectName: "Security_Lab",
		ITLogs: "whoami\nid", OTLogs: "",
	})
	require.NoError(t, err)
	_, err = ds.CreateSubmission(domain.Submission{
		StudentName: "alice", DisplayName: "Alice", ProjectName: "Security_Lab",
		ITLogs: "ls", OTLogs: "ps aux",
	})
	require.NoError(t, err)
	return alice, bob, sub
}

func TestListStudentsHandler(t *testing.T) {
	r, ds := setupInstructorTest(t)
	seedInstructorData(t, ds)

	req := httptest.NewRequest("GET", "/instructor/students", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp StudentListResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, 2, resp.TotalCount)
	require.Len(t, resp.Students, 2)

	// Ordered by name: alice first, with her two submissions counted.
	assert.Equal(t, "alice", resp.Students[0].Name)
	assert.Equal(t, 2, resp.Students[0].SubmissionCount)
	assert.Equal(t, "bob", resp.Students[1].Name)
	assert.Equal(t, 0, resp.Students[1].SubmissionCount)
}

func TestListStudentsHandler_Empty(t *testing.T) {
	r, _ := setupInstructorTest(t)

	req := httptest.NewRequest("GET", "/instructor/students", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp StudentListResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, 0, resp.TotalCount)
}

func TestListSubmissionsHandler(t *testing.T) {
	r, ds := setupInstructorTest(t)
	seedInstructorData(t, ds)

	req := httptest.NewRequest("GET", "/instructor/submissions", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp SubmissionListResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, 2, resp.TotalCount)
	for _, sub := range resp.Submissions {
		assert.Equal(t, "alice", sub.StudentName)
	}
}

func TestListSubmissionsHandler_FilterByStudent(t *testing.T) {
	r, ds := setupInstructorTest(t)
	seedInstructorData(t, ds)

	// "Alice" only matches if the filter is sanitized to "alice" first.
	req := httptest.NewRequest("GET", "/instructor/submissions?student_name=Alice", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp SubmissionListResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, 2, resp.TotalCount)

	req = httptest.NewRequest("GET", "/instructor/submissions?student_name=bob", nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, 0, resp.TotalCount)
}

func TestListSubmissionsHandler_InvalidFilter(t *testing.T) {
	r, _ := setupInstructorTest(t)

	req := httptest.NewRequest("GET", "/instructor/submissions?student_name=bad+name", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetSubmissionHandler(t *testing.T) {
	r, ds := setupInstructorTest(t)
	_, _, sub := seedInstructorData(t, ds)

	req := httptest.NewRequest("GET", "/instructor/submissions/alice/"+sub.ID, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp SubmissionDetailResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, sub.ID, resp.ID)
	assert.Equal(t, "whoami\nid", resp.ITLogs)
	assert.Equal(t, 2, resp.ITLogLines)
	assert.Equal(t, 0, resp.OTLogLines)
}

func TestGetSubmissionHandler_NotFound(t *testing.T) {
	r, ds := setupInstructorTest(t)
	seedInstructorData(t, ds)

	req := httptest.NewRequest("GET", "/instructor/submissions/alice/no-such-id", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)

	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "Submission 'no-such-id' not found for student 'alice'", resp.Error)
}

func TestGetSubmissionHandler_WrongStudent(t *testing.T) {
	r, ds := setupInstructorTest(t)
	_, _, sub := seedInstructorData(t, ds)

	// A submission id from another student must not match.
	req := httptest.NewRequest("GET", "/instructor/submissions/bob/"+sub.ID, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDeleteSubmissionHandler(t *testing.T) {
	r, ds := setupInstructorTest(t)
	_, _, sub := seedInstructorData(t, ds)

	req := httptest.NewRequest("DELETE", "/instructor/submissions/alice/"+sub.ID, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp ResetResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, int64(1), resp.DeletedCount)
	assert.Equal(t, "Deleted submission '"+sub.ID+"' for student 'alice'", resp.Message)

	got, err := ds.GetSubmission("alice", sub.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestDeleteStudentHandler(t *testing.T) {
	r, ds := setupInstructorTest(t)
	seedInstructorData(t, ds)

	req := httptest.NewRequest("DELETE", "/instructor/students/alice", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp ResetResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "Deleted session for student 'alice'", resp.Message)

	// Submissions survive the session deletion.
	subs, err := ds.ListSubmissionsForStudent("alice")
	require.NoError(t, err)
	assert.Len(t, subs, 2)
}

func TestDeleteStudentHandler_NotFound(t *testing.T) {
	r, _ := setupInstructorTest(t)

	req := httptest.NewRequest("DELETE", "/instructor/students/ghost", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestResetSubmissionsHandler(t *testing.T) {
	r, ds := setupInstructorTest(t)
	seedInstructorData(t, ds)

	req := httptest.NewRequest("DELETE", "/instructor/reset/submissions", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp ResetResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, int64(2), resp.DeletedCount)
	assert.Equal(t, "Deleted 2 submission(s)", resp.Message)

	students, err := ds.ListStudents()
	require.NoError(t, err)
	assert.Len(t, students, 2, "sessions are untouched")
}

func TestResetStudentsHandler(t *testing.T) {
	r, ds := setupInstructorTest(t)
	seedInstructorData(t, ds)

	req := httptest.NewRequest("DELETE", "/instructor/reset/students", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp ResetResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, int64(2), resp.DeletedCount)
	assert.Equal(t, "Deleted 2 student session(s)", resp.Message)

	subs, err := ds.ListSubmissions()
	require.NoError(t, err)
	assert.Len(t, subs, 2, "submissions are untouched")
}

func TestResetAllHandler(t *testing.T) {
	r, ds := setupInstructorTest(t)
	seedInstructorData(t, ds)

	req := httptest.NewRequest("DELETE", "/instructor/reset/all", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp ResetResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, int64(4), resp.DeletedCount)
	assert.Equal(t, "Deleted 2 student session(s) and 2 submission(s)", resp.Message)

	students, err := ds.ListStudents()
	require.NoError(t, err)
	assert.Empty(t, students)
	subs, err := ds.ListSubmissions()
	require.NoError(t, err)
	assert.Empty(t, subs)
}
