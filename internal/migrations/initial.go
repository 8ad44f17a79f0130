package migrations

import (
	"database/sql"
)

// All returns every migration in the package.
func All() []Migration {
	return append(GetInitialMigrations(), GetPerformanceMigrations()...)
}

// GetInitialMigrations returns the migrations that create the base schema
func GetInitialMigrations() []Migration {
	return []Migration{
		{
			Version: 1,
			Name:    "create_student_tables",
			Up: func(tx *sql.Tx) error {
				// One row per active student logging session.
				_, err := tx.Exec(`
					CREATE TABLE students (
						id INTEGER PRIMARY KEY AUTOINCREMENT,
						name TEXT NOT NULL UNIQUE,
						display_name TEXT NOT NULL,
						project_name TEXT NOT NULL,
						created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
						updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
					)
				`)
				if err != nil {
					return err
				}

				// Collector nodes provisioned for a session. Enough detail
				// to retrieve logs later and tear the nodes down.
				_, err = tx.Exec(`
					CREATE TABLE collectors (
						id INTEGER PRIMARY KEY AUTOINCREMENT,
						student_id INTEGER NOT NULL,
						node_id TEXT NOT NULL,
						name TEXT NOT NULL,
						ip_address TEXT NOT NULL,
						port INTEGER NOT NULL DEFAULT 514,
						connected_to_switch TEXT NOT NULL,
						console_host TEXT NOT NULL,
						console_port INTEGER NOT NULL,
						created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
						FOREIGN KEY (student_id) REFERENCES students(id) ON DELETE CASCADE
					)
				`)
				if err != nil {
					return err
				}

				// Submissions outlive session teardown, so they carry their
				// own copy of the student identity.
				_, err = tx.Exec(`
					CREATE TABLE submissions (
						id TEXT PRIMARY KEY,
						student_name TEXT NOT NULL,
						display_name TEXT NOT NULL,
						project_name TEXT NOT NULL,
						submitted_at DATETIME DEFAULT CURRENT_TIMESTAMP,
						it_logs TEXT NOT NULL DEFAULT '',
						ot_logs TEXT NOT NULL DEFAULT ''
					)
				`)
				if err != nil {
					return err
				}

				// Create indexes for better performance
				_, err = tx.Exec(`CREATE INDEX idx_collectors_student_id ON collectors(student_id)`)
				if err != nil {
					return err
				}

				_, err = tx.Exec(`CREATE INDEX idx_submissions_student_name ON submissions(student_name)`)
				return err
			},
			Down: func(tx *sql.Tx) error {
				// Drop tables in reverse order due to foreign key constraints
				_, err := tx.Exec(`DROP TABLE IF EXISTS collectors`)
				if err != nil {
					return err
				}

				_, err = tx.Exec(`DROP TABLE IF EXISTS submissions`)
				if err != nil {
					return err
				}

				_, err = tx.Exec(`DROP TABLE IF EXISTS students`)
				return err
			},
		},
	}
}
