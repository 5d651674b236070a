package handlers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"image"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"face-recorder/internal/models"
	"face-recorder/internal/service/detector"
	"face-recorder/internal/service/recorder"
	"face-recorder/internal/service/storage"
	"face-recorder/internal/session"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockRepository - мок репозитория для тестов
type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) GetStats() (*models.Stats, error) {
	args := m.Called()
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Stats), args.Error(1)
}

func (m *MockRepository) DeleteRecordingByPath(path string) error {
	args := m.Called(path)
	return args.Error(0)
}

// Остальные методы для полноты интерфейса
func (m *MockRepository) CreateSession(id string, startedAt time.Time) error {
	args := m.Called(id, startedAt)
	return args.Error(0)
}

func (m *MockRepository) EndSession(id string, endedAt time.Time, maxFaces int) error {
	args := m.Called(id, endedAt, maxFaces)
	return args.Error(0)
}

func (m *MockRepository) CreateRecording(sessionID, path string, startedAt time.Time) (int64, error) {
	args := m.Called(sessionID, path, startedAt)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockRepository) FinishRecording(id int64, sizeBytes int64, endedAt time.Time) error {
	args := m.Called(id, sizeBytes, endedAt)
	return args.Error(0)
}

// MockHealthChecker - мок детектора
type MockHealthChecker struct {
	mock.Mock
}

func (m *MockHealthChecker) HealthCheck() error {
	args := m.Called()
	return args.Error(0)
}

// MockFrameDetector - мок адаптера детекции
type MockFrameDetector struct {
	mock.Mock
}

func (m *MockFrameDetector) Decode(payload []byte) (*models.Frame, error) {
	args := m.Called(payload)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Frame), args.Error(1)
}

func (m *MockFrameDetector) Detect(ctx context.Context, frame *models.Frame) (models.DetectionResult, image.Image, error) {
	args := m.Called(frame)
	return args.Get(0).(models.DetectionResult), frame.Image, args.Error(1)
}

// idleSink - приемник без записи (сессии в тестах не получают кадров)
type idleSink struct{}

func (idleSink) Start(width, height int) (*recorder.Handle, error) {
	return nil, errors.New("not supported")
}
func (idleSink) Write(image.Image) error          { return nil }
func (idleSink) Stop() (*models.Recording, error) { return nil, nil }

func newTestRegistry() *session.Registry {
	return session.NewRegistry(func(id string) *session.Controller {
		return session.NewController(id, session.NewPolicy(75), nil, idleSink{}, nil, nil)
	})
}

func newTestStorage(t *testing.T) *storage.Service {
	t.Helper()
	s, err := storage.NewService(t.TempDir())
	require.NoError(t, err)
	return s
}

// writeRecording создает файл записи с заданным временем изменения
func writeRecording(t *testing.T, s *storage.Service, name string, size int, mtime time.Time) string {
	t.Helper()
	path := filepath.Join(s.Dir(), filepath.FromSlash(name))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, make([]byte, size), 0644))
	require.NoError(t, os.Chtimes(path, mtime, mtime))
	return path
}

// setupTestRouter создает тестовый роутер
func setupTestRouter(handler *Handler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()

	api := router.Group("/api")
	api.POST("/sessions", handler.HandleCreateSession)
	api.POST("/sessions/:id/start", handler.HandleStartSession)
	api.POST("/sessions/:id/stop", handler.HandleStopSession)
	api.GET("/sessions/:id/status", handler.HandleSessionStatus)
	api.DELETE("/sessions/:id", handler.HandleCloseSession)
	api.GET("/recordings", handler.HandleListRecordings)
	api.GET("/recordings/*name", handler.HandleDownloadRecording)
	api.DELETE("/recordings/*name", handler.HandleDeleteRecording)
	api.POST("/detect", handler.HandleDetect)
	api.GET("/stats", handler.HandleGetStats)
	api.GET("/health", handler.HandleHealth)
	return router
}

func serveJSON(router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	req, _ := http.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func serve(router *gin.Engine, method, path string) *httptest.ResponseRecorder {
	req, _ := http.NewRequest(method, path, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHandleGetStats(t *testing.T) {
	// Setup
	mockRepo := new(MockRepository)
	handler := &Handler{repo: mockRepo, registry: newTestRegistry()}

	mockRepo.On("GetStats").Return(&models.Stats{
		TotalSessions:   4,
		TotalRecordings: 9,
		TotalBytes:      123456,
	}, nil)

	w := serve(setupTestRouter(handler), "GET", "/api/stats")

	// Проверяем результат
	assert.Equal(t, http.StatusOK, w.Code)

	var stats models.Stats
	err := json.Unmarshal(w.Body.Bytes(), &stats)
	assert.NoError(t, err)
	assert.Equal(t, 4, stats.TotalSessions)
	assert.Equal(t, 9, stats.TotalRecordings)
	assert.Equal(t, int64(123456), stats.TotalBytes)

	mockRepo.AssertExpectations(t)
}

func TestHandleGetStatsError(t *testing.T) {
	mockRepo := new(MockRepository)
	handler := &Handler{repo: mockRepo, registry: newTestRegistry()}

	mockRepo.On("GetStats").Return(nil, errors.New("database error"))

	w := serve(setupTestRouter(handler), "GET", "/api/stats")

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	mockRepo.AssertExpectations(t)
}

func TestHandleGetStatsWithoutDatabase(t *testing.T) {
	store := newTestStorage(t)
	now := time.Now()
	writeRecording(t, store, "2026-10-19/recording_10-00-00.mp4", 100, now)
	writeRecording(t, store, "2026-10-19/recording_11-00-00.mp4", 50, now)

	registry := newTestRegistry()
	registry.Open("cam1")

	handler := NewHandler(nil, store, registry, nil, nil, nil)
	w := serve(setupTestRouter(handler), "GET", "/api/stats")

	require.Equal(t, http.StatusOK, w.Code)

	var stats models.Stats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, 1, stats.TotalSessions)
	assert.Equal(t, 2, stats.TotalRecordings)
	assert.Equal(t, int64(150), stats.TotalBytes)
}

func TestSessionLifecycle(t *testing.T) {
	registry := newTestRegistry()
	handler := NewHandler(nil, newTestStorage(t), registry, nil, nil, nil)
	router := setupTestRouter(handler)

	w := serve(router, "POST", "/api/sessions?session_id=cam1")
	require.Equal(t, http.StatusCreated, w.Code)

	var created models.StartSessionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, "cam1", created.SessionID)
	assert.True(t, created.Status.Monitoring)

	w = serve(router, "GET", "/api/sessions/cam1/status")
	require.Equal(t, http.StatusOK, w.Code)
	var status models.SessionStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.True(t, status.Monitoring)
	assert.False(t, status.Recording)

	w = serve(router, "POST", "/api/sessions/cam1/stop")
	require.Equal(t, http.StatusOK, w.Code)
	var stopped models.StopSessionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stopped))
	assert.False(t, stopped.Status.Monitoring)
	assert.Nil(t, stopped.Recording)

	w = serve(router, "POST", "/api/sessions/cam1/start")
	require.Equal(t, http.StatusOK, w.Code)

	w = serve(router, "DELETE", "/api/sessions/cam1")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, registry.Len())
}

func TestCreateSessionGeneratesID(t *testing.T) {
	handler := NewHandler(nil, newTestStorage(t), newTestRegistry(), nil, nil, nil)

	w := serve(setupTestRouter(handler), "POST", "/api/sessions")
	require.Equal(t, http.StatusCreated, w.Code)

	var created models.StartSessionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.NotEmpty(t, created.SessionID)
	assert.Equal(t, created.SessionID, created.Status.SessionID)
}

func TestUnknownSession(t *testing.T) {
	handler := NewHandler(nil, newTestStorage(t), newTestRegistry(), nil, nil, nil)
	router := setupTestRouter(handler)

	for _, tc := range []struct{ method, path string }{
		{"POST", "/api/sessions/missing/start"},
		{"POST", "/api/sessions/missing/stop"},
		{"GET", "/api/sessions/missing/status"},
		{"DELETE", "/api/sessions/missing"},
	} {
		w := serve(router, tc.method, tc.path)
		assert.Equal(t, http.StatusNotFound, w.Code, "%s %s", tc.method, tc.path)
	}
}

func TestHandleListRecordings(t *testing.T) {
	store := newTestStorage(t)
	base := time.Date(2026, 10, 19, 10, 0, 0, 0, time.Local)
	writeRecording(t, store, "2026-10-19/recording_10-00-00.mp4", 1000, base)
	writeRecording(t, store, "2026-10-19/recording_10-05-00.mp4", 2000, base.Add(5*time.Minute))
	writeRecording(t, store, "2026-10-19/recording_10-10-00.mp4", 3000, base.Add(10*time.Minute))

	handler := NewHandler(nil, store, newTestRegistry(), nil, nil, nil)
	w := serve(setupTestRouter(handler), "GET", "/api/recordings")

	require.Equal(t, http.StatusOK, w.Code)

	var resp models.RecordingsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Recordings, 3)
	assert.Equal(t, 3, resp.TotalCount)
	assert.Equal(t, "5.9 KB", resp.TotalSize)

	assert.Equal(t, "2026-10-19/recording_10-10-00.mp4", resp.Recordings[0].Filename)
	assert.Equal(t, int64(3000), resp.Recordings[0].Size)
	assert.Equal(t, "2026-10-19/recording_10-00-00.mp4", resp.Recordings[2].Filename)
	assert.Equal(t, int64(1000), resp.Recordings[2].Size)
	assert.Equal(t, "/api/recordings/2026-10-19/recording_10-10-00.mp4", resp.Recordings[0].DownloadURL)
}

func TestHandleListRecordingsEmpty(t *testing.T) {
	handler := NewHandler(nil, newTestStorage(t), newTestRegistry(), nil, nil, nil)
	w := serve(setupTestRouter(handler), "GET", "/api/recordings")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"recordings":[]`)
}

func TestHandleDownloadRecording(t *testing.T) {
	store := newTestStorage(t)
	writeRecording(t, store, "2026-10-19/recording_10-00-00.mp4", 64, time.Now())

	handler := NewHandler(nil, store, newTestRegistry(), nil, nil, nil)
	router := setupTestRouter(handler)

	w := serve(router, "GET", "/api/recordings/2026-10-19/recording_10-00-00.mp4")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "video/mp4", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "recording_10-00-00.mp4")
	assert.Equal(t, 64, w.Body.Len())

	w = serve(router, "GET", "/api/recordings/2026-10-19/missing.mp4")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = serve(router, "GET", "/api/recordings/../outside.mp4")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleDeleteRecording(t *testing.T) {
	store := newTestStorage(t)
	path := writeRecording(t, store, "2026-10-19/recording_10-00-00.mp4", 64, time.Now())

	mockRepo := new(MockRepository)
	mockRepo.On("DeleteRecordingByPath", path).Return(nil)

	handler := NewHandler(mockRepo, store, newTestRegistry(), nil, nil, nil)
	router := setupTestRouter(handler)

	w := serve(router, "DELETE", "/api/recordings/2026-10-19/recording_10-00-00.mp4")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.False(t, store.FileExists(path))
	mockRepo.AssertExpectations(t)

	w = serve(router, "DELETE", "/api/recordings/2026-10-19/recording_10-00-00.mp4")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

// pathSink пишет "запись" в заданный файл каталога
type pathSink struct {
	path string
	open bool
}

func (s *pathSink) Start(width, height int) (*recorder.Handle, error) {
	s.open = true
	return &recorder.Handle{Path: s.path, Width: width, Height: height, StartedAt: time.Now()}, nil
}
func (s *pathSink) Write(image.Image) error { return nil }
func (s *pathSink) Stop() (*models.Recording, error) {
	s.open = false
	return &models.Recording{Path: s.path}, nil
}

func TestHandleDeleteRecordingInProgress(t *testing.T) {
	store := newTestStorage(t)
	path := writeRecording(t, store, "2026-10-19/recording_10-00-00.mp4", 64, time.Now())

	frame := &models.Frame{Image: image.NewRGBA(image.Rect(0, 0, 2, 2)), Width: 2, Height: 2, Channels: 3}
	faces := new(MockFrameDetector)
	faces.On("Decode", mock.Anything).Return(frame, nil)
	faces.On("Detect", frame).Return(models.DetectionResult{Present: true, Count: 1}, nil)

	registry := session.NewRegistry(func(id string) *session.Controller {
		return session.NewController(id, session.NewPolicy(75), faces, &pathSink{path: path}, nil, nil)
	})
	ctx := context.Background()
	ctrl := registry.Open("cam1")
	ctrl.Start(ctx)
	status, err := ctrl.Ingest(ctx, []byte{1})
	require.NoError(t, err)
	require.True(t, status.Recording)

	handler := NewHandler(nil, store, registry, nil, nil, nil)
	router := setupTestRouter(handler)

	w := serve(router, "DELETE", "/api/recordings/2026-10-19/recording_10-00-00.mp4")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "cam1")
	assert.True(t, store.FileExists(path))

	// После остановки запись удаляется как обычно
	_, err = ctrl.Stop(ctx)
	require.NoError(t, err)

	w = serve(router, "DELETE", "/api/recordings/2026-10-19/recording_10-00-00.mp4")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.False(t, store.FileExists(path))
}

func TestHandleDetect(t *testing.T) {
	payload := []byte("jpeg bytes")
	frame := &models.Frame{Image: image.NewRGBA(image.Rect(0, 0, 100, 100)), Raw: payload, Width: 100, Height: 100, Channels: 3}

	faces := new(MockFrameDetector)
	faces.On("Decode", payload).Return(frame, nil)
	faces.On("Detect", frame).Return(models.DetectionResult{
		Present: true,
		Count:   1,
		Boxes:   []models.BoundingBox{{X: 10, Y: 20, Width: 30, Height: 40, Confidence: 0.9}},
	}, nil)

	router := setupTestRouter(NewHandler(nil, newTestStorage(t), newTestRegistry(), nil, nil, faces))

	// Браузер присылает data URL, клиенты попроще - чистый base64
	for _, data := range []string{
		"data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(payload),
		base64.StdEncoding.EncodeToString(payload),
	} {
		w := serveJSON(router, "POST", "/api/detect", `{"image_data":"`+data+`"}`)
		require.Equal(t, http.StatusOK, w.Code)

		var resp models.DetectResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.True(t, resp.FaceDetected)
		assert.Equal(t, 1, resp.FacesDetected)
		assert.NotEmpty(t, resp.Timestamp)
		require.Len(t, resp.BoundingBoxes, 1)
		assert.Equal(t, 30, resp.BoundingBoxes[0].Width)
	}

	faces.AssertExpectations(t)
}

func TestHandleDetectNoFace(t *testing.T) {
	frame := &models.Frame{Image: image.NewRGBA(image.Rect(0, 0, 4, 4)), Width: 4, Height: 4, Channels: 3}
	faces := new(MockFrameDetector)
	faces.On("Decode", mock.Anything).Return(frame, nil)
	faces.On("Detect", frame).Return(models.DetectionResult{}, nil)

	router := setupTestRouter(NewHandler(nil, newTestStorage(t), newTestRegistry(), nil, nil, faces))
	w := serveJSON(router, "POST", "/api/detect", `{"image_data":"AAAA"}`)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"bounding_boxes":[]`)
	assert.Contains(t, w.Body.String(), `"face_detected":false`)
}

func TestHandleDetectErrors(t *testing.T) {
	frame := &models.Frame{Image: image.NewRGBA(image.Rect(0, 0, 4, 4)), Width: 4, Height: 4, Channels: 3}
	broken := base64.StdEncoding.EncodeToString([]byte("broken"))
	offline := base64.StdEncoding.EncodeToString([]byte("offline"))

	faces := new(MockFrameDetector)
	faces.On("Decode", []byte("broken")).Return(nil, detector.ErrInvalidFrame)
	faces.On("Decode", []byte("offline")).Return(frame, nil)
	faces.On("Detect", frame).Return(models.DetectionResult{}, detector.ErrDetectorUnavailable)

	router := setupTestRouter(NewHandler(nil, newTestStorage(t), newTestRegistry(), nil, nil, faces))

	tests := []struct {
		name string
		body string
		want int
	}{
		{"кадр не декодируется", `{"image_data":"` + broken + `"}`, http.StatusBadRequest},
		{"детектор недоступен", `{"image_data":"` + offline + `"}`, http.StatusServiceUnavailable},
		{"не base64", `{"image_data":"@@@"}`, http.StatusBadRequest},
		{"нет image_data", `{}`, http.StatusBadRequest},
		{"не JSON", `image`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serveJSON(router, "POST", "/api/detect", tt.body)
			assert.Equal(t, tt.want, w.Code)
		})
	}

	// Без детектора эндпоинт недоступен
	router = setupTestRouter(NewHandler(nil, newTestStorage(t), newTestRegistry(), nil, nil, nil))
	w := serveJSON(router, "POST", "/api/detect", `{"image_data":"AAAA"}`)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestHandleHealth(t *testing.T) {
	detector := new(MockHealthChecker)
	detector.On("HealthCheck").Return(nil).Once()
	detector.On("HealthCheck").Return(errors.New("connection refused")).Once()

	handler := NewHandler(nil, newTestStorage(t), newTestRegistry(), nil, detector, nil)
	router := setupTestRouter(handler)

	var body map[string]interface{}

	w := serve(router, "GET", "/api/health")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, true, body["detector_available"])

	w = serve(router, "GET", "/api/health")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, false, body["detector_available"])

	detector.AssertExpectations(t)
}
