package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"face-recorder/internal/models"
)

var (
	// ErrSessionNotFound - сессии с таким ID нет
	ErrSessionNotFound = errors.New("сессия не найдена")
	// ErrNotMonitoring - операция требует активного мониторинга
	ErrNotMonitoring = errors.New("мониторинг не запущен")
	// ErrSessionClosed - сессия закрыта и больше не запускается
	ErrSessionClosed = errors.New("сессия закрыта")
)

// Controller управляет одной сессией: детекция -> политика -> запись.
// Все изменяющие операции (Start, Stop, Ingest) выполняются строго по очереди.
type Controller struct {
	id       string
	policy   Policy
	detector FrameDetector
	sink     Sink
	events   EventSink
	journal  Journal
	now      func() time.Time

	// opMu сериализует Start/Stop/Ingest; mu защищает снимок состояния для Status
	opMu sync.Mutex
	mu   sync.RWMutex

	state         State
	faceDetected  bool
	faceCount     int
	recordingID   int64
	recordingPath string
	closed        bool

	changes chan struct{}
}

// NewController создает контроллер сессии. events и journal могут быть nil.
func NewController(id string, policy Policy, detector FrameDetector, sink Sink, events EventSink, journal Journal) *Controller {
	if events == nil {
		events = nopEvents{}
	}
	if journal == nil {
		journal = NopJournal{}
	}
	return &Controller{
		id:       id,
		policy:   policy,
		detector: detector,
		sink:     sink,
		events:   events,
		journal:  journal,
		now:      time.Now,
		changes:  make(chan struct{}, 1),
	}
}

// ID возвращает идентификатор сессии
func (c *Controller) ID() string {
	return c.id
}

// Changes сигналит об изменении состояния (сигналы схлопываются)
func (c *Controller) Changes() <-chan struct{} {
	return c.changes
}

// Start включает мониторинг. Повторный вызов ничего не меняет.
func (c *Controller) Start(ctx context.Context) (models.SessionStatus, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if c.isClosed() {
		return c.Status(), ErrSessionClosed
	}
	if c.snapshot().Monitoring {
		return c.Status(), nil
	}

	now := c.now()
	c.commit(State{Monitoring: true, SessionStart: now}, false, 0)

	if err := c.journal.CreateSession(c.id, now); err != nil {
		log.Printf("⚠️  Журнал: не удалось сохранить сессию %s: %v", c.id, err)
	}
	c.events.MonitoringChanged(c.id, true)
	log.Printf("👁️  Сессия %s: мониторинг запущен", c.id)

	return c.Status(), nil
}

// Stop выключает мониторинг. Открытая запись закрывается до сброса состояния.
// Возвращает готовую запись или nil, если записи не было.
func (c *Controller) Stop(ctx context.Context) (*models.Recording, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	return c.stop()
}

// Close останавливает сессию навсегда: открытая запись закрывается,
// последующий Start возвращает ErrSessionClosed. Повторный вызов безопасен.
func (c *Controller) Close(ctx context.Context) (*models.Recording, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	return c.stop()
}

// Closed сообщает, закрыта ли сессия
func (c *Controller) Closed() bool {
	return c.isClosed()
}

// RecordingPath возвращает путь открытой записи или пустую строку
func (c *Controller) RecordingPath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.recordingPath
}

func (c *Controller) stop() (*models.Recording, error) {
	state := c.snapshot()
	if !state.Monitoring {
		return nil, nil
	}

	// Sink.Stop безопасен и без открытой записи
	rec, err := c.stopRecording()

	if jerr := c.journal.EndSession(c.id, c.now(), state.MaxFaces); jerr != nil {
		log.Printf("⚠️  Журнал: не удалось закрыть сессию %s: %v", c.id, jerr)
	}

	// Все счетчики сбрасываются вместе с мониторингом
	c.commit(State{}, false, 0)
	c.events.MonitoringChanged(c.id, false)
	log.Printf("🛑 Сессия %s: мониторинг остановлен", c.id)

	return rec, err
}

// Ingest обрабатывает один кадр и возвращает статус.
// Ошибки кадра (не декодируется, детектор недоступен) логируются и поглощаются.
// Ошибки открытия/закрытия записи возвращаются вызывающему.
func (c *Controller) Ingest(ctx context.Context, payload []byte) (models.SessionStatus, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	state := c.snapshot()
	if !state.Monitoring {
		return c.Status(), nil
	}

	frame, err := c.detector.Decode(payload)
	if err != nil {
		log.Printf("⚠️  Сессия %s: кадр пропущен: %v", c.id, err)
		return c.Status(), nil
	}

	result, annotated, err := c.detector.Detect(ctx, frame)
	if err != nil {
		log.Printf("⚠️  Сессия %s: ошибка детекции: %v", c.id, err)
		return c.Status(), nil
	}

	next, action := c.policy.Transition(state, result, c.now())

	var opErr error
	switch action {
	case ActionStartRecording:
		handle, err := c.sink.Start(frame.Width, frame.Height)
		if err != nil {
			// Старта не было: остаемся в Idle
			next.Recording = false
			next.RecordingStart = time.Time{}
			opErr = fmt.Errorf("не удалось начать запись: %w", err)
			log.Printf("❌ Сессия %s: %v", c.id, opErr)
			c.events.RecordingFailed(c.id, opErr)
			break
		}

		c.mu.Lock()
		c.recordingPath = handle.Path
		c.mu.Unlock()

		c.recordingID, err = c.journal.CreateRecording(c.id, handle.Path, handle.StartedAt)
		if err != nil {
			log.Printf("⚠️  Журнал: не удалось сохранить запись %s: %v", handle.Path, err)
		}
		c.events.RecordingStarted(c.id, handle.Path)

	case ActionStopRecording:
		_, opErr = c.stopRecording()
	}

	if next.Recording {
		if err := c.sink.Write(annotated); err != nil {
			log.Printf("⚠️  Сессия %s: кадр не записан: %v", c.id, err)
		}
	}

	c.commit(next, result.Present, result.Count)
	return c.Status(), opErr
}

// Status возвращает снимок состояния сессии
func (c *Controller) Status() models.SessionStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	duration := time.Duration(0)
	if !c.state.SessionStart.IsZero() {
		duration = c.now().Sub(c.state.SessionStart)
	}

	return models.SessionStatus{
		Type:            models.MessageTypeStatus,
		SessionID:       c.id,
		Monitoring:      c.state.Monitoring,
		Recording:       c.state.Recording,
		FaceDetected:    c.faceDetected,
		FaceCount:       c.faceCount,
		SessionDuration: FormatDuration(duration),
		FacesDetected:   c.state.MaxFaces,
	}
}

// State возвращает копию текущего состояния
func (c *Controller) State() State {
	return c.snapshot()
}

func (c *Controller) stopRecording() (*models.Recording, error) {
	rec, err := c.sink.Stop()
	if rec != nil {
		if jerr := c.journal.FinishRecording(c.recordingID, rec.SizeBytes, rec.EndedAt.Time); jerr != nil {
			log.Printf("⚠️  Журнал: не удалось закрыть запись %s: %v", rec.Path, jerr)
		}
		rec.ID = c.recordingID
		rec.SessionID = c.id
		c.events.RecordingStopped(c.id, rec)
	}
	c.recordingID = 0
	c.mu.Lock()
	c.recordingPath = ""
	c.mu.Unlock()

	if err != nil {
		err = fmt.Errorf("не удалось завершить запись: %w", err)
		log.Printf("❌ Сессия %s: %v", c.id, err)
		c.events.RecordingFailed(c.id, err)
	}
	return rec, err
}

func (c *Controller) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

func (c *Controller) snapshot() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Controller) commit(state State, faceDetected bool, faceCount int) {
	c.mu.Lock()
	changed := c.state.Monitoring != state.Monitoring ||
		c.state.Recording != state.Recording ||
		c.faceDetected != faceDetected ||
		c.faceCount != faceCount
	c.state = state
	c.faceDetected = faceDetected
	c.faceCount = faceCount
	c.mu.Unlock()

	if changed {
		select {
		case c.changes <- struct{}{}:
		default:
		}
	}
}

// FormatDuration форматирует длительность как HH:MM:SS
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int(d.Seconds())
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, (total%3600)/60, total%60)
}
