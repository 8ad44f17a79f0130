// Package datastore persists student logging sessions and log
// submissions in SQLite.
package datastore

import (
	"database/sql"
	"fmt"
	"log"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/TollanBerhanu/ae3gis-gns3-api/internal/domain"
)

var studentNameRe = regexp.MustCompile(`^[A-Za-z0-9._-]{1,64}$`)

// SanitizeStudentName normalizes a student name for storage: surrounding
// whitespace is dropped and the result is lowercased. Names are limited
// to letters, digits, dots, underscores, and hyphens so they can double
// as GNS3 node name prefixes and URL path segments.
func SanitizeStudentName(name string) (string, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return "", fmt.Errorf("student name is required")
	}
	if !studentNameRe.MatchString(trimmed) {
		return "", fmt.Errorf("student name %q may only contain letters, digits, dots, underscores, and hyphens (max 64 characters)", name)
	}
	return strings.ToLower(trimmed), nil
}

// Datastore wraps an open database handle. Schema management lives in
// the migrations package; the handle is expected to come from
// config.OpenDatabase, which enables the foreign key cascade the
// collector rows rely on.
type Datastore struct {
	DB    *sql.DB
	stmts *stmtCache
}

// New wraps an open database handle.
func New(db *sql.DB) *Datastore {
	return &Datastore{DB: db, stmts: newStmtCache(db)}
}

// Close releases the cached prepared statements. The database handle
// itself belongs to the caller.
func (ds *Datastore) Close() error {
	return ds.stmts.close()
}

// SaveStudent creates or refreshes the session row for a student. The
// name must already be sanitized; an existing session for the same name
// is updated in place.
func (ds *Datastore) SaveStudent(s domain.Student) (domain.Student, error) {
	if s.Name == "" {
		return domain.Student{}, fmt.Errorf("student name is required")
	}
	if s.DisplayName == "" {
		s.DisplayName = s.Name
	}

	existing, err := ds.GetStudentByName(s.Name)
	if err != nil {
		return domain.Student{}, err
	}
	if existing == nil {
		_, err = ds.DB.Exec(
			"INSERT INTO students (name, display_name, project_name) VALUES (?, ?, ?)",
			s.Name, s.DisplayName, s.ProjectName)
	} else {
		_, err = ds.DB.Exec(
			"UPDATE students SET display_name = ?, project_name = ?, updated_at = CURRENT_TIMESTAMP WHERE name = ?",
			s.DisplayName, s.ProjectName, s.Name)
	}
	if err != nil {
		return domain.Student{}, err
	}

	saved, err := ds.GetStudentByName(s.Name)
	if err != nil {
		return domain.Student{}, err
	}
	if saved == nil {
		return domain.Student{}, fmt.Errorf("student %s disappeared after save", s.Name)
	}
	return *saved, nil
}

// GetStudentByName retrieves a session by sanitized name.
func (ds *Datastore) GetStudentByName(name string) (*domain.Student, error) {
	stmt, err := ds.stmts.get(
		"SELECT id, name, display_name, project_name, created_at, updated_at FROM students WHERE name = ?")
	if err != nil {
		return nil, err
	}
	var s domain.Student
	err = stmt.QueryRow(name).Scan(&s.ID, &s.Name, &s.DisplayName, &s.ProjectName, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

// ListStudents returns all sessions ordered by name.
func (ds *Datastore) ListStudents() ([]domain.Student, error) {
	rows, err := ds.DB.Query(
		"SELECT id, name, display_name, project_name, created_at, updated_at FROM students ORDER BY name ASC")
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			log.Printf("failed to close rows: %v", err)
		}
	}()
	var students []domain.Student
	for rows.Next() {
		var s domain.Student
		if err := rows.Scan(&s.ID, &s.Name, &s.DisplayName, &s.ProjectName, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		students = append(students, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return students, nil
}

// DeleteStudentByName removes a session row, reporting whether one
// existed. Collector rows go with it via the foreign key cascade.
func (ds *Datastore) DeleteStudentByName(name string) (bool, error) {
	res, err := ds.DB.Exec("DELETE FROM students WHERE name = ?", name)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// ClearAllStudents removes every session and returns the count.
func (ds *Datastore) ClearAllStudents() (int64, error) {
	res, err := ds.DB.Exec("DELETE FROM students")
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ReplaceCollectors swaps the collector set recorded for a session.
// Setup reruns replace rather than merge: the GNS3 project may have
// been rebuilt since, and stale rows would point at dead nodes.
func (ds *Datastore) ReplaceCollectors(studentID int64, collectors []domain.Collector) error {
	if studentID == 0 {
		return fmt.Errorf("student ID is required")
	}

	tx, err := ds.DB.Begin()
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback() // returns ErrTxDone once committed
	}()

	if _, err := tx.Exec("DELETE FROM collectors WHERE student_id = ?", studentID); err != nil {
		return err
	}
	for _, c := range collectors {
		port := c.Port
		if port == 0 {
			port = 514
		}
		_, err := tx.Exec(
			`INSERT INTO collectors (student_id, node_id, name, ip_address, port, connected_to_switch, console_host, console_port)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			studentID, c.NodeID, c.Name, c.IPAddress, port, c.ConnectedToSwitch, c.ConsoleHost, c.ConsolePort)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ListCollectors returns the collectors recorded for a session, ordered
// by id.
func (ds *Datastore) ListCollectors(studentID int64) ([]domain.Collector, error) {
	rows, err := ds.DB.Query(
		`SELECT id, student_id, node_id, name, ip_address, port, connected_to_switch, console_host, console_port
		 FROM collectors WHERE student_id = ? ORDER BY id ASC`, studentID)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			log.Printf("failed to close rows: %v", err)
		}
	}()
	var collectors []domain.Collector
	for rows.Next() {
		var c domain.Collector
		if err := rows.Scan(&c.ID, &c.StudentID, &c.NodeID, &c.Name, &c.IPAddress, &c.Port,
			&c.ConnectedToSwitch, &c.ConsoleHost, &c.ConsolePort); err != nil {
			return nil, err
		}
		collectors = append(collectors, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return collectors, nil
}

// CreateSubmission stores one retrieved set of logs, assigning a fresh
// submission id when none is supplied.
func (ds *Datastore) CreateSubmission(sub domain.Submission) (domain.Submission, error) {
	if sub.StudentName == "" {
		return domain.Submission{}, fmt.Errorf("student name is required")
	}
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	if sub.DisplayName == "" {
		sub.DisplayName = sub.StudentName
	}

	_, err := ds.DB.Exec(
		`INSERT INTO submissions (id, student_name, display_name, project_name, it_logs, ot_logs)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		sub.ID, sub.StudentName, sub.DisplayName, sub.ProjectName, sub.ITLogs, sub.OTLogs)
	if err != nil {
		return domain.Submission{}, err
	}

	created, err := ds.GetSubmission(sub.StudentName, sub.ID)
	if err != nil {
		return domain.Submission{}, err
	}
	if created == nil {
		return domain.Submission{}, fmt.Errorf("submission %s disappeared after save", sub.ID)
	}
	return *created, nil
}

// GetSubmission retrieves one submission scoped by student; a
// submission id belonging to a different student does not match.
func (ds *Datastore) GetSubmission(studentName, id string) (*domain.Submission, error) {
	stmt, err := ds.stmts.get(
		`SELECT id, student_name, display_name, project_name, submitted_at, it_logs, ot_logs
		 FROM submissions WHERE student_name = ? AND id = ?`)
	if err != nil {
		return nil, err
	}
	var sub domain.Submission
	err = stmt.QueryRow(studentName, id).Scan(&sub.ID, &sub.StudentName, &sub.DisplayName, &sub.ProjectName,
		&sub.SubmittedAt, &sub.ITLogs, &sub.OTLogs)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

// ListSubmissions returns every submission, newest first.
func (ds *Datastore) ListSubmissions() ([]domain.Submission, error) {
	return ds.querySubmissions(
		`SELECT id, student_name, display_name, project_name, submitted_at, it_logs, ot_logs
		 FROM submissions ORDER BY submitted_at DESC`)
}

// ListSubmissionsForStudent returns one student's submissions, newest
// first.
func (ds *Datastore) ListSubmissionsForStudent(studentName string) ([]domain.Submission, error) {
	return ds.querySubmissions(
		`SELECT id, student_name, display_name, project_name, submitted_at, it_logs, ot_logs
		 FROM submissions WHERE student_name = ? ORDER BY submitted_at DESC`, studentName)
}

func (ds *Datastore) querySubmissions(query string, args ...any) ([]domain.Submission, error) {
	rows, err := ds.DB.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			log.Printf("failed to close rows: %v", err)
		}
	}()
	var submissions []domain.Submission
	for rows.Next() {
		var sub domain.Submission
		if err := rows.Scan(&sub.ID, &sub.StudentName, &sub.DisplayName, &sub.ProjectName,
			&sub.SubmittedAt, &sub.ITLogs, &sub.OTLogs); err != nil {
			return nil, err
		}
		submissions = append(submissions, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return submissions, nil
}

// CountSubmissionsByStudent returns per-student submission totals in
// one query; the instructor listing joins these onto sessions.
func (ds *Datastore) CountSubmissionsByStudent() (map[string]int, error) {
	rows, err := ds.DB.Query("SELECT student_name, COUNT(*) FROM submissions GROUP BY student_name")
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			log.Printf("failed to close rows: %v", err)
		}
	}()
	counts := make(map[string]int)
	for rows.Next() {
		var name string
		var n int
		if err := rows.Scan(&name, &n); err != nil {
			return nil, err
		}
		counts[name] = n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return counts, nil
}

// DeleteSubmission removes one submission scoped by student, reporting
// whether a row existed.
func (ds *Datastore) DeleteSubmission(studentName, id string) (bool, error) {
	res, err := ds.DB.Exec("DELETE FROM submissions WHERE student_name = ? AND id = ?", studentName, id)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// ClearAllSubmissions removes every submission and returns the count.
func (ds *Datastore) ClearAllSubmissions() (int64, error) {
	res, err := ds.DB.Exec("DELETE FROM submissions")
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
