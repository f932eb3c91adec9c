// Package store хранит историю вердиктов записей в SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"ppg-validator/internal/analytics"
	"ppg-validator/internal/models"
)

// ErrNotFound вердикта с таким идентификатором нет
var ErrNotFound = errors.New("verdict not found")

const schema = `
CREATE TABLE IF NOT EXISTS recording_verdicts (
	id                  TEXT PRIMARY KEY,
	recording_id        TEXT NOT NULL,
	track               TEXT NOT NULL DEFAULT '',
	verdict             TEXT NOT NULL,
	abnormal_count      INTEGER NOT NULL,
	normal_count        INTEGER NOT NULL,
	indeterminate_count INTEGER NOT NULL,
	ratio               DOUBLE NOT NULL,
	file_threshold      DOUBLE NOT NULL,
	hz                  INTEGER NOT NULL,
	nsec                DOUBLE NOT NULL,
	created_at_ns       BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_recording_verdicts_recording
	ON recording_verdicts (recording_id, created_at_ns);
`

const selectColumns = `id, recording_id, track, verdict, abnormal_count, normal_count,
	indeterminate_count, ratio, file_threshold, hz, nsec, created_at_ns`

// Store история вердиктов
type Store struct {
	db *sql.DB
}

// Open открывает (или создает) базу по пути path
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close закрывает соединение с БД
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping проверяет соединение с БД
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// SaveVerdict сохраняет вердикт; пустой ID и время заполняются
func (s *Store) SaveVerdict(ctx context.Context, rec *models.VerdictRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO recording_verdicts (`+selectColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID,
		rec.RecordingID,
		rec.Track,
		rec.Verdict.String(),
		rec.AbnormalCount,
		rec.NormalCount,
		rec.IndeterminateCount,
		rec.Ratio,
		rec.FileThreshold,
		rec.Hz,
		rec.NSec,
		rec.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to save verdict: %w", err)
	}
	return nil
}

// GetVerdict возвращает вердикт по идентификатору
func (s *Store) GetVerdict(ctx context.Context, id string) (*models.VerdictRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM recording_verdicts WHERE id = ?`, id)

	rec, err := scanVerdict(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get verdict: %w", err)
	}
	return rec, nil
}

// ListVerdicts возвращает вердикты записи, новые первыми
func (s *Store) ListVerdicts(ctx context.Context, recordingID string, limit int) ([]*models.VerdictRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+selectColumns+`
		FROM recording_verdicts
		WHERE recording_id = ?
		ORDER BY created_at_ns DESC, rowid DESC
		LIMIT ?`, recordingID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list verdicts: %w", err)
	}
	defer rows.Close()

	verdicts := make([]*models.VerdictRecord, 0)
	for rows.Next() {
		rec, err := scanVerdict(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan verdict: %w", err)
		}
		verdicts = append(verdicts, rec)
	}
	return verdicts, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanVerdict(row scanner) (*models.VerdictRecord, error) {
	var rec models.VerdictRecord
	var verdict string
	var createdNS int64

	err := row.Scan(
		&rec.ID,
		&rec.RecordingID,
		&rec.Track,
		&verdict,
		&rec.AbnormalCount,
		&rec.NormalCount,
		&rec.IndeterminateCount,
		&rec.Ratio,
		&rec.FileThreshold,
		&rec.Hz,
		&rec.NSec,
		&createdNS,
	)
	if err != nil {
		return nil, err
	}

	rec.Verdict, err = analytics.ParseRecordingVerdict(verdict)
	if err != nil {
		return nil, err
	}
	rec.CreatedAt = time.Unix(0, createdNS).UTC()
	return &rec, nil
}
