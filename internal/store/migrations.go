package store

// runMigrations executes all database migrations.
func (s *Store) runMigrations() error {
	migrations := []string{
		// Calibrations table - one row per completed skin color calibration
		`CREATE TABLE IF NOT EXISTS calibrations (
			id TEXT PRIMARY KEY,
			frames INTEGER NOT NULL,
			samples INTEGER NOT NULL,
			lower_h INTEGER NOT NULL CHECK(lower_h BETWEEN 0 AND 255),
			lower_s INTEGER NOT NULL CHECK(lower_s BETWEEN 0 AND 255),
			lower_v INTEGER NOT NULL CHECK(lower_v BETWEEN 0 AND 255),
			upper_h INTEGER NOT NULL CHECK(upper_h BETWEEN 0 AND 255),
			upper_s INTEGER NOT NULL CHECK(upper_s BETWEEN 0 AND 255),
			upper_v INTEGER NOT NULL CHECK(upper_v BETWEEN 0 AND 255),
			duration_ms INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE INDEX IF NOT EXISTS idx_calibrations_created_at ON calibrations(created_at)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return err
		}
	}

	return nil
}
