package domain

// Student represents an active logging session for one student
type Student struct {
	ID          int64  // Unique identifier
	Name        string // Sanitized name, unique across sessions
	DisplayName string // Name as originally entered
	ProjectName string // GNS3 project the session runs in
	CreatedAt   string // When the session was created
	UpdatedAt   string // When the session was last updated
}

// Collector represents a syslog collector node provisioned for a student session
type Collector struct {
	ID                int64  // Unique identifier
	StudentID         int64  // Foreign key to Student
	NodeID            string // GNS3 node identifier
	Name              string // Node name inside the project
	IPAddress         string // Address workstations send syslog traffic to
	Port              int    // Syslog listen port (514)
	ConnectedToSwitch string // Switch the collector is attached to
	ConsoleHost       string // Console endpoint for later log retrieval
	ConsolePort       int    // Console port for later log retrieval
}

// Submission represents one retrieved set of student command logs
type Submission struct {
	ID          string // UUID assigned at submission time
	StudentName string // Sanitized student name
	DisplayName string // Name as originally entered
	ProjectName string // GNS3 project the logs came from
	SubmittedAt string // When the logs were retrieved
	ITLogs      string // Aggregated IT collector log text
	OTLogs      string // Aggregated OT collector log text
}
