package handlers

import (
	"database/sql"
	"encoding/base64"
	"errors"
	"log"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"face-recorder/internal/models"
	"face-recorder/internal/repository"
	"face-recorder/internal/service/cache"
	"face-recorder/internal/service/detector"
	"face-recorder/internal/service/storage"
	"face-recorder/internal/session"

	"github.com/gin-gonic/gin"
)

// maxDetectBody - кадр в base64 вместе с JSON оберткой
const maxDetectBody = 24 << 20

// HealthChecker - проверка доступности детектора
type HealthChecker interface {
	HealthCheck() error
}

// Handler содержит все зависимости для обработки HTTP запросов
type Handler struct {
	repo     repository.RepositoryInterface // nil, если БД выключена
	storage  *storage.Service
	registry *session.Registry
	cache    *cache.Service // nil, если Redis недоступен
	detector HealthChecker
	faces    session.FrameDetector
}

// NewHandler создает новый handler с зависимостями
func NewHandler(
	repo repository.RepositoryInterface,
	storage *storage.Service,
	registry *session.Registry,
	cache *cache.Service,
	detector HealthChecker,
	faces session.FrameDetector,
) *Handler {
	return &Handler{
		repo:     repo,
		storage:  storage,
		registry: registry,
		cache:    cache,
		detector: detector,
		faces:    faces,
	}
}

// ============ SESSIONS ============

// HandleCreateSession открывает сессию и запускает мониторинг
func (h *Handler) HandleCreateSession(c *gin.Context) {
	ctrl := h.registry.Open(c.Query("session_id"))

	status, err := ctrl.Start(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error: err.Error(),
		})
		return
	}

	c.JSON(http.StatusCreated, models.StartSessionResponse{
		SessionID: ctrl.ID(),
		Status:    status,
	})
}

// HandleStartSession включает мониторинг существующей сессии
func (h *Handler) HandleStartSession(c *gin.Context) {
	ctrl, ok := h.session(c)
	if !ok {
		return
	}

	status, err := ctrl.Start(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, status)
}

// HandleStopSession выключает мониторинг, закрывая открытую запись
func (h *Handler) HandleStopSession(c *gin.Context) {
	ctrl, ok := h.session(c)
	if !ok {
		return
	}

	rec, err := ctrl.Stop(c.Request.Context())
	if err != nil {
		// Мониторинг все равно остановлен, запись могла быть повреждена
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, models.StopSessionResponse{
		Status:    ctrl.Status(),
		Recording: rec,
	})
}

// HandleSessionStatus возвращает снимок состояния сессии
func (h *Handler) HandleSessionStatus(c *gin.Context) {
	ctrl, ok := h.session(c)
	if !ok {
		return
	}

	c.JSON(http.StatusOK, ctrl.Status())
}

// HandleCloseSession останавливает сессию и удаляет её
func (h *Handler) HandleCloseSession(c *gin.Context) {
	err := h.registry.Close(c.Request.Context(), c.Param("id"))
	if errors.Is(err, session.ErrSessionNotFound) {
		c.JSON(http.StatusNotFound, models.ErrorResponse{
			Error: "Сессия не найдена",
		})
		return
	}

	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Сессия закрыта",
	})
}

func (h *Handler) session(c *gin.Context) (*session.Controller, bool) {
	ctrl, err := h.registry.Get(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, models.ErrorResponse{
			Error: "Сессия не найдена",
		})
		return nil, false
	}
	return ctrl, true
}

// ============ RECORDINGS ============

// HandleListRecordings возвращает список записей (с кэшем)
func (h *Handler) HandleListRecordings(c *gin.Context) {
	// Пробуем из кэша
	if h.cache != nil {
		if resp, err := h.cache.GetRecordings(); err == nil && resp != nil {
			c.JSON(http.StatusOK, resp)
			return
		}
	}

	items, total, err := h.storage.List()
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error: err.Error(),
		})
		return
	}

	resp := &models.RecordingsResponse{
		Recordings: items,
		TotalCount: len(items),
		TotalSize:  storage.FormatSize(total),
	}

	// Сохраняем в кэш
	if h.cache != nil {
		h.cache.SetRecordings(resp)
	}

	c.JSON(http.StatusOK, resp)
}

// HandleDownloadRecording отдает файл записи
func (h *Handler) HandleDownloadRecording(c *gin.Context) {
	path, ok := h.resolve(c)
	if !ok {
		return
	}

	c.Header("Content-Type", "video/mp4")
	c.FileAttachment(path, filepath.Base(path))
}

// HandleDeleteRecording удаляет запись с диска и из журнала
func (h *Handler) HandleDeleteRecording(c *gin.Context) {
	name := recordingName(c)

	path, ok := h.resolve(c)
	if !ok {
		return
	}

	// Открытый контейнер удалять нельзя: ffmpeg продолжит писать в удаленный файл
	if ctrl, busy := h.registry.Recording(path); busy {
		c.JSON(http.StatusConflict, models.ErrorResponse{
			Error: "Запись еще идет (сессия " + ctrl.ID() + ")",
		})
		return
	}

	path, err := h.storage.Delete(name)
	if !h.checkStorageErr(c, err) {
		return
	}

	if h.repo != nil {
		if err := h.repo.DeleteRecordingByPath(path); err != nil && err != sql.ErrNoRows {
			log.Printf("⚠️  Журнал: не удалось удалить запись %s: %v", path, err)
		}
	}

	// Инвалидируем кэш
	if h.cache != nil {
		h.cache.InvalidateRecordings()
		h.cache.InvalidateStats()
	}

	c.JSON(http.StatusOK, gin.H{
		"message":  "Запись удалена",
		"filename": name,
	})
}

func (h *Handler) resolve(c *gin.Context) (string, bool) {
	path, err := h.storage.Resolve(recordingName(c))
	if !h.checkStorageErr(c, err) {
		return "", false
	}
	return path, true
}

// checkStorageErr пишет ответ с ошибкой и возвращает false, если err != nil
func (h *Handler) checkStorageErr(c *gin.Context, err error) bool {
	switch {
	case err == nil:
		return true
	case errors.Is(err, storage.ErrInvalidName):
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error: "Неверное имя записи",
		})
	case errors.Is(err, storage.ErrNotFound):
		c.JSON(http.StatusNotFound, models.ErrorResponse{
			Error: "Запись не найдена",
		})
	default:
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error: err.Error(),
		})
	}
	return false
}

func recordingName(c *gin.Context) string {
	return strings.TrimPrefix(c.Param("name"), "/")
}

// ============ DETECTION ============

// HandleDetect прогоняет один кадр через детектор без записи
func (h *Handler) HandleDetect(c *gin.Context) {
	if h.faces == nil {
		c.JSON(http.StatusServiceUnavailable, models.ErrorResponse{
			Error: "Детектор не настроен",
		})
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxDetectBody)

	var req models.DetectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error: "Неверный формат запроса: " + err.Error(),
		})
		return
	}

	payload, err := decodeImageData(req.ImageData)
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error: "image_data не является base64: " + err.Error(),
		})
		return
	}

	frame, err := h.faces.Decode(payload)
	if err != nil {
		h.detectError(c, err)
		return
	}

	result, _, err := h.faces.Detect(c.Request.Context(), frame)
	if err != nil {
		h.detectError(c, err)
		return
	}

	boxes := result.Boxes
	if boxes == nil {
		boxes = []models.BoundingBox{}
	}

	c.JSON(http.StatusOK, models.DetectResponse{
		FaceDetected:  result.Present,
		FacesDetected: result.Count,
		Timestamp:     time.Now().Format(time.RFC3339),
		BoundingBoxes: boxes,
	})
}

func (h *Handler) detectError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, detector.ErrInvalidFrame):
		status = http.StatusBadRequest
	case errors.Is(err, detector.ErrDetectorUnavailable):
		status = http.StatusServiceUnavailable
	}

	c.JSON(status, models.ErrorResponse{
		Error: err.Error(),
	})
}

// decodeImageData принимает чистый base64 или data URL (data:image/jpeg;base64,...)
func decodeImageData(data string) ([]byte, error) {
	if i := strings.IndexByte(data, ','); i >= 0 {
		data = data[i+1:]
	}
	return base64.StdEncoding.DecodeString(strings.TrimSpace(data))
}

// ============ STATS ============

// HandleGetStats возвращает общую статистику (с кэшем)
func (h *Handler) HandleGetStats(c *gin.Context) {
	// Без БД считаем по реестру и каталогу записей
	if h.repo == nil {
		items, total, err := h.storage.List()
		if err != nil {
			c.JSON(http.StatusInternalServerError, models.ErrorResponse{
				Error: err.Error(),
			})
			return
		}
		c.JSON(http.StatusOK, models.Stats{
			TotalSessions:   h.registry.Len(),
			TotalRecordings: len(items),
			TotalBytes:      total,
		})
		return
	}

	// Пробуем из кэша
	if h.cache != nil {
		if stats, err := h.cache.GetStats(); err == nil && stats != nil {
			c.JSON(http.StatusOK, stats)
			return
		}
	}

	// Из БД
	stats, err := h.repo.GetStats()
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error: err.Error(),
		})
		return
	}

	// Сохраняем в кэш
	if h.cache != nil {
		h.cache.SetStats(stats)
	}

	c.JSON(http.StatusOK, stats)
}

// ============ HEALTH ============

// HandleHealth проверяет состояние сервиса и детектора
func (h *Handler) HandleHealth(c *gin.Context) {
	available := h.detector != nil && h.detector.HealthCheck() == nil

	c.JSON(http.StatusOK, gin.H{
		"status":             "ok",
		"timestamp":          time.Now().Format(time.RFC3339),
		"detector_available": available,
		"sessions":           h.registry.Len(),
	})
}
