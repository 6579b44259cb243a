package store

import (
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a requested resource does not exist.
var ErrNotFound = errors.New("not found")

// Calibration is one completed skin color calibration run.
type Calibration struct {
	ID         string    `json:"id"`
	Frames     int       `json:"frames"`
	Samples    int       `json:"samples"`
	Lower      [3]uint8  `json:"lower_skin"`
	Upper      [3]uint8  `json:"upper_skin"`
	DurationMs int64     `json:"duration_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

// CalibrationRepository provides access to the calibration history.
type CalibrationRepository struct {
	db *sql.DB
}

// Calibrations returns the calibration repository for this store.
func (s *Store) Calibrations() *CalibrationRepository {
	return &CalibrationRepository{db: s.db}
}

const calibrationColumns = `id, frames, samples, lower_h, lower_s, lower_v,
	upper_h, upper_s, upper_v, duration_ms, created_at`

// Create inserts a calibration record. An empty ID is replaced by a new UUID
// and CreatedAt is set to the current time.
func (r *CalibrationRepository) Create(c *Calibration) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	c.CreatedAt = time.Now()

	_, err := r.db.Exec(
		`INSERT INTO calibrations (`+calibrationColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Frames, c.Samples,
		c.Lower[0], c.Lower[1], c.Lower[2],
		c.Upper[0], c.Upper[1], c.Upper[2],
		c.DurationMs, c.CreatedAt,
	)
	return err
}

// GetByID retrieves a calibration record by its ID.
func (r *CalibrationRepository) GetByID(id string) (*Calibration, error) {
	row := r.db.QueryRow(
		`SELECT `+calibrationColumns+` FROM calibrations WHERE id = ?`,
		id,
	)

	c, err := scanCalibration(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return c, nil
}

// List returns up to limit records, newest first. A limit of zero or less
// returns every record.
func (r *CalibrationRepository) List(limit int) ([]*Calibration, error) {
	query := `SELECT ` + calibrationColumns + ` FROM calibrations
		 ORDER BY created_at DESC, rowid DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var calibrations []*Calibration
	for rows.Next() {
		c, err := scanCalibration(rows)
		if err != nil {
			return nil, err
		}
		calibrations = append(calibrations, c)
	}

	return calibrations, rows.Err()
}

// Latest returns the most recent calibration record.
func (r *CalibrationRepository) Latest() (*Calibration, error) {
	list, err := r.List(1)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, ErrNotFound
	}
	return list[0], nil
}

// Prune deletes all but the newest keep records and returns how many rows
// were removed.
func (r *CalibrationRepository) Prune(keep int) (int64, error) {
	if keep < 0 {
		keep = 0
	}

	result, err := r.db.Exec(
		`DELETE FROM calibrations WHERE id NOT IN (
			SELECT id FROM calibrations ORDER BY created_at DESC, rowid DESC LIMIT ?
		)`,
		keep,
	)
	if err != nil {
		return 0, err
	}

	return result.RowsAffected()
}

// Delete removes a calibration record by ID.
func (r *CalibrationRepository) Delete(id string) error {
	result, err := r.db.Exec(`DELETE FROM calibrations WHERE id = ?`, id)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCalibration(s scanner) (*Calibration, error) {
	c := &Calibration{}
	var lower, upper [3]int

	err := s.Scan(
		&c.ID, &c.Frames, &c.Samples,
		&lower[0], &lower[1], &lower[2],
		&upper[0], &upper[1], &upper[2],
		&c.DurationMs, &c.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	for i := range 3 {
		c.Lower[i] = uint8(lower[i])
		c.Upper[i] = uint8(upper[i])
	}
	return c, nil
}
