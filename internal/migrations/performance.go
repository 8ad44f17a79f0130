package migrations

import (
	"database/sql"
)

// GetPerformanceMigrations returns index migrations for the instructor
// listing queries
func GetPerformanceMigrations() []Migration {
	return []Migration{
		{
			Version: 2,
			Name:    "add_lookup_indices",
			Up: func(tx *sql.Tx) error {
				// Add indices for better query performance
				indices := []string{
					"CREATE INDEX IF NOT EXISTS idx_submissions_submitted_at ON submissions(submitted_at)",
					"CREATE INDEX IF NOT EXISTS idx_submissions_student_submitted ON submissions(student_name, submitted_at)",
				}

				for _, indexSQL := range indices {
					if _, err := tx.Exec(indexSQL); err != nil {
						return err
					}
				}

				return nil
			},
			Down: func(tx *sql.Tx) error {
				// Drop performance indices
				indices := []string{
					"DROP INDEX IF EXISTS idx_submissions_submitted_at",
					"DROP INDEX IF EXISTS idx_submissions_student_submitted",
				}

				for _, dropSQL := range indices {
					if _, err := tx.Exec(dropSQL); err != nil {
						return err
					}
				}

				return nil
			},
		},
	}
}
