package models

import (
	"database/sql"
	"image"
	"time"
)

// ============ FRAMES & DETECTION ============

// MaxFrameDimension - максимальная сторона кадра. Больше не декодируем и не кодируем.
const MaxFrameDimension = 8192

// Frame - декодированный кадр видеопотока.
// Живёт только в рамках одного вызова Ingest и никуда не сохраняется.
type Frame struct {
	Image    image.Image
	Raw      []byte // Исходные байты кадра (JPEG/PNG) для детектора
	Width    int
	Height   int
	Channels int
}

// BoundingBox - рамка найденного лица
type BoundingBox struct {
	X          int     `json:"x"`
	Y          int     `json:"y"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	Confidence float64 `json:"confidence"`
}

// DetectionResult - результат детекции на одном кадре
type DetectionResult struct {
	Present bool          `json:"present"`
	Count   int           `json:"count"`
	Boxes   []BoundingBox `json:"boxes"`
}

// DetectRequest - кадр для разовой детекции: base64 или data URL
type DetectRequest struct {
	ImageData string `json:"image_data" binding:"required"`
}

// DetectResponse - результат разовой детекции (POST /api/detect)
type DetectResponse struct {
	FaceDetected  bool          `json:"face_detected"`
	FacesDetected int           `json:"faces_detected"`
	Timestamp     string        `json:"timestamp"`
	BoundingBoxes []BoundingBox `json:"bounding_boxes"`
}

// DetectorResponse - ответ от Python детектора
type DetectorResponse struct {
	Success bool           `json:"success"`
	Faces   []DetectorFace `json:"faces"`
	Error   string         `json:"error,omitempty"`
}

// DetectorFace - лицо в ответе детектора
type DetectorFace struct {
	Bbox       []int   `json:"bbox"`       // [x1, y1, x2, y2]
	Confidence float64 `json:"confidence"` // Уверенность детекции
}

// ============ SESSION ============

// Типы сообщений в потоке сессии
const (
	MessageTypeStatus = "status"
	MessageTypePong   = "pong"
	MessageTypeError  = "error"
)

// SessionStatus - снимок состояния сессии, отправляется клиенту после каждого кадра
type SessionStatus struct {
	Type            string `json:"type"`
	SessionID       string `json:"session_id"`
	Monitoring      bool   `json:"monitoring"`
	Recording       bool   `json:"recording"`
	FaceDetected    bool   `json:"face_detected"`
	FaceCount       int    `json:"face_count"`
	SessionDuration string `json:"session_duration"`
	FacesDetected   int    `json:"faces_detected"` // Максимум лиц за сессию
}

// ============ RECORDINGS ============

// Recording - готовая запись (артефакт) после закрытия контейнера.
// Файл принадлежит файловой системе, строка в БД - журнал.
type Recording struct {
	ID        int64        `db:"id" json:"id"`
	SessionID string       `db:"session_id" json:"session_id"`
	Path      string       `db:"path" json:"path"`
	CreatedAt time.Time    `db:"created_at" json:"created_at"`
	EndedAt   sql.NullTime `db:"ended_at" json:"ended_at,omitempty"`
	SizeBytes int64        `db:"size_bytes" json:"size_bytes"`
}

// RecordingItem - элемент списка записей
type RecordingItem struct {
	Filename    string    `json:"filename"` // Относительно каталога записей
	Timestamp   time.Time `json:"timestamp"`
	Size        int64     `json:"size"`
	DownloadURL string    `json:"download_url"`
}

// RecordingsResponse - ответ со списком записей
type RecordingsResponse struct {
	Recordings []RecordingItem `json:"recordings"`
	TotalCount int             `json:"total_count"`
	TotalSize  string          `json:"total_size"`
}

// Stats - общая статистика системы
type Stats struct {
	TotalSessions   int   `db:"total_sessions" json:"total_sessions"`
	TotalRecordings int   `db:"total_recordings" json:"total_recordings"`
	TotalBytes      int64 `db:"total_bytes" json:"total_bytes"`
}

// ============ API ============

// StartSessionResponse - ответ на создание сессии
type StartSessionResponse struct {
	SessionID string        `json:"session_id"`
	Status    SessionStatus `json:"status"`
}

// StopSessionResponse - ответ на остановку мониторинга
type StopSessionResponse struct {
	Status    SessionStatus `json:"status"`
	Recording *Recording    `json:"recording,omitempty"`
}

// Command - текстовое сообщение от клиента в WebSocket потоке
type Command struct {
	Command string `json:"command"`
}

// ErrorResponse - стандартный ответ с ошибкой
type ErrorResponse struct {
	Error string `json:"error"`
}
