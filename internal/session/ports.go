package session

import (
	"context"
	"image"
	"time"

	"face-recorder/internal/models"
	"face-recorder/internal/service/recorder"
)

// FrameDetector - адаптер детекции: декодирование кадра и поиск лиц
type FrameDetector interface {
	Decode(payload []byte) (*models.Frame, error)
	Detect(ctx context.Context, frame *models.Frame) (models.DetectionResult, image.Image, error)
}

// Sink - приемник записи с единственным открытым контейнером
type Sink interface {
	Start(width, height int) (*recorder.Handle, error)
	Write(img image.Image) error
	Stop() (*models.Recording, error)
}

// EventSink получает события жизненного цикла сессии
type EventSink interface {
	MonitoringChanged(sessionID string, monitoring bool)
	RecordingStarted(sessionID, path string)
	RecordingStopped(sessionID string, rec *models.Recording)
	RecordingFailed(sessionID string, err error)
}

// Journal - журнал сессий и записей (БД). Ошибки журнала только логируются.
type Journal interface {
	CreateSession(id string, startedAt time.Time) error
	EndSession(id string, endedAt time.Time, maxFaces int) error
	CreateRecording(sessionID, path string, startedAt time.Time) (int64, error)
	FinishRecording(id int64, sizeBytes int64, endedAt time.Time) error
}

// EventSinks рассылает события в несколько получателей
type EventSinks []EventSink

func (s EventSinks) MonitoringChanged(sessionID string, monitoring bool) {
	for _, sink := range s {
		sink.MonitoringChanged(sessionID, monitoring)
	}
}

func (s EventSinks) RecordingStarted(sessionID, path string) {
	for _, sink := range s {
		sink.RecordingStarted(sessionID, path)
	}
}

func (s EventSinks) RecordingStopped(sessionID string, rec *models.Recording) {
	for _, sink := range s {
		sink.RecordingStopped(sessionID, rec)
	}
}

func (s EventSinks) RecordingFailed(sessionID string, err error) {
	for _, sink := range s {
		sink.RecordingFailed(sessionID, err)
	}
}

type nopEvents struct{}

func (nopEvents) MonitoringChanged(string, bool)             {}
func (nopEvents) RecordingStarted(string, string)            {}
func (nopEvents) RecordingStopped(string, *models.Recording) {}
func (nopEvents) RecordingFailed(string, error)              {}

// NopJournal - журнал-заглушка, когда БД выключена
type NopJournal struct{}

func (NopJournal) CreateSession(string, time.Time) error   { return nil }
func (NopJournal) EndSession(string, time.Time, int) error { return nil }
func (NopJournal) CreateRecording(string, string, time.Time) (int64, error) {
	return 0, nil
}
func (NopJournal) FinishRecording(int64, int64, time.Time) error { return nil }
