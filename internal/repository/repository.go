package repository

import (
	"database/sql"
	"time"

	"face-recorder/internal/models"

	"github.com/jmoiron/sqlx"
)

// schema - таблицы журнала, создаются при старте если их нет
const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id         TEXT PRIMARY KEY,
	started_at TIMESTAMPTZ NOT NULL,
	ended_at   TIMESTAMPTZ,
	max_faces  INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS recordings (
	id         BIGSERIAL PRIMARY KEY,
	session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	path       TEXT NOT NULL UNIQUE,
	created_at TIMESTAMPTZ NOT NULL,
	ended_at   TIMESTAMPTZ,
	size_bytes BIGINT NOT NULL DEFAULT 0
);
`

// Repository инкапсулирует всю работу с базой данных
type Repository struct {
	db *sqlx.DB
}

// NewRepository создает новый репозиторий
func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

// EnsureSchema создает таблицы журнала
func (r *Repository) EnsureSchema() error {
	_, err := r.db.Exec(schema)
	return err
}

// ============ SESSIONS ============

// CreateSession сохраняет начало сессии мониторинга
func (r *Repository) CreateSession(id string, startedAt time.Time) error {
	_, err := r.db.Exec(`
		INSERT INTO sessions (id, started_at)
		VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET started_at = $2, ended_at = NULL, max_faces = 0
	`, id, startedAt)
	return err
}

// EndSession закрывает сессию
func (r *Repository) EndSession(id string, endedAt time.Time, maxFaces int) error {
	result, err := r.db.Exec(`
		UPDATE sessions
		SET ended_at = $1, max_faces = $2
		WHERE id = $3
	`, endedAt, maxFaces, id)
	if err != nil {
		return err
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ============ RECORDINGS ============

// CreateRecording сохраняет открытую запись и возвращает её ID
func (r *Repository) CreateRecording(sessionID, path string, startedAt time.Time) (int64, error) {
	var id int64
	err := r.db.QueryRow(`
		INSERT INTO recordings (session_id, path, created_at)
		VALUES ($1, $2, $3)
		RETURNING id
	`, sessionID, path, startedAt).Scan(&id)
	return id, err
}

// FinishRecording сохраняет размер и время закрытия записи
func (r *Repository) FinishRecording(id int64, sizeBytes int64, endedAt time.Time) error {
	result, err := r.db.Exec(`
		UPDATE recordings
		SET size_bytes = $1, ended_at = $2
		WHERE id = $3
	`, sizeBytes, endedAt, id)
	if err != nil {
		return err
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// DeleteRecordingByPath удаляет запись из журнала (файл удаляет storage)
func (r *Repository) DeleteRecordingByPath(path string) error {
	result, err := r.db.Exec("DELETE FROM recordings WHERE path = $1", path)
	if err != nil {
		return err
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ============ STATS ============

// GetStats возвращает общую статистику
func (r *Repository) GetStats() (*models.Stats, error) {
	var stats models.Stats

	err := r.db.Get(&stats.TotalSessions, "SELECT COUNT(*) FROM sessions")
	if err != nil {
		return nil, err
	}

	err = r.db.Get(&stats.TotalRecordings, "SELECT COUNT(*) FROM recordings")
	if err != nil {
		return nil, err
	}

	err = r.db.Get(&stats.TotalBytes, "SELECT COALESCE(SUM(size_bytes), 0) FROM recordings")
	if err != nil {
		return nil, err
	}

	return &stats, nil
}
