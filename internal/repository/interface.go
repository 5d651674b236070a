package repository

import (
	"time"

	"face-recorder/internal/models"
	"face-recorder/internal/session"
)

// RepositoryInterface определяет контракт для работы с данными
// Это позволяет легко мокать репозиторий в тестах
type RepositoryInterface interface {
	// Sessions
	CreateSession(id string, startedAt time.Time) error
	EndSession(id string, endedAt time.Time, maxFaces int) error

	// Recordings
	CreateRecording(sessionID, path string, startedAt time.Time) (int64, error)
	FinishRecording(id int64, sizeBytes int64, endedAt time.Time) error
	DeleteRecordingByPath(path string) error

	// Stats
	GetStats() (*models.Stats, error)
}

// Проверяем что Repository реализует RepositoryInterface и журнал сессий
var (
	_ RepositoryInterface = (*Repository)(nil)
	_ session.Journal     = (*Repository)(nil)
)
