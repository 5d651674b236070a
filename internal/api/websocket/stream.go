package websocket

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"face-recorder/internal/config"
	"face-recorder/internal/models"
	"face-recorder/internal/session"

	"github.com/gorilla/websocket"
)

const (
	writeWait        = 10 * time.Second
	maxFrameSize     = 16 << 20
	commandPing      = "ping"
	commandStart     = "start"
	commandStop      = "stop"
	commandStatus    = "status"
	defaultIdle      = 100 * time.Millisecond
	defaultKeepalive = time.Second
)

// errorMessage - ошибка, отправляемая в поток кадров
type errorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type inbound struct {
	kind int
	data []byte
}

// stream - одно подключение с кадрами. Кадры обрабатываются строго по одному:
// следующий читается из сокета только после ответа на предыдущий.
type stream struct {
	conn     *websocket.Conn
	ctrl     *session.Controller
	registry *session.Registry
	idle     time.Duration
	alive    time.Duration

	incoming chan inbound
	done     chan struct{}
}

func newStream(conn *websocket.Conn, ctrl *session.Controller, registry *session.Registry, status config.StatusConfig) *stream {
	idle := status.IdleInterval
	if idle <= 0 {
		idle = defaultIdle
	}
	alive := status.KeepaliveInterval
	if alive <= 0 {
		alive = defaultKeepalive
	}

	return &stream{
		conn:     conn,
		ctrl:     ctrl,
		registry: registry,
		idle:     idle,
		alive:    alive,
		incoming: make(chan inbound),
		done:     make(chan struct{}),
	}
}

func (s *stream) run() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	defer s.teardown()

	log.Printf("🔌 Поток кадров подключен (сессия: %s)", s.ctrl.ID())

	go s.readPump()

	// Сразу сообщаем клиенту ID сессии и состояние
	if err := s.writeJSON(s.ctrl.Status()); err != nil {
		return
	}

	timer := time.NewTimer(s.interval())
	defer timer.Stop()

	for {
		select {
		case msg, ok := <-s.incoming:
			if !ok {
				return
			}
			if err := s.handle(ctx, msg); err != nil {
				log.Printf("WebSocket: ошибка отправки (сессия %s): %v", s.ctrl.ID(), err)
				return
			}
			// Ответ уже содержит актуальный статус
			select {
			case <-s.ctrl.Changes():
			default:
			}

		case <-s.ctrl.Changes():
			if err := s.writeJSON(s.ctrl.Status()); err != nil {
				return
			}

		case <-timer.C:
			if err := s.writeJSON(s.idleStatus()); err != nil {
				return
			}
		}

		resetTimer(timer, s.interval())
	}
}

// handle обрабатывает одно сообщение клиента: бинарное - кадр, текстовое - команда
func (s *stream) handle(ctx context.Context, msg inbound) error {
	if msg.kind == websocket.BinaryMessage {
		status, err := s.ctrl.Ingest(ctx, msg.data)
		if err != nil {
			if werr := s.writeError(err.Error()); werr != nil {
				return werr
			}
		}
		return s.writeJSON(status)
	}

	var cmd models.Command
	if err := json.Unmarshal(msg.data, &cmd); err != nil {
		return s.writeError("некорректная команда")
	}

	switch cmd.Command {
	case commandPing:
		return s.writeJSON(map[string]string{"type": models.MessageTypePong})

	case commandStart:
		status, err := s.ctrl.Start(ctx)
		if err != nil {
			return s.writeError(err.Error())
		}
		return s.writeJSON(status)

	case commandStop:
		if _, err := s.ctrl.Stop(ctx); err != nil {
			if werr := s.writeError(err.Error()); werr != nil {
				return werr
			}
		}
		return s.writeJSON(s.ctrl.Status())

	case commandStatus:
		return s.writeJSON(s.ctrl.Status())

	default:
		return s.writeError("неизвестная команда: " + cmd.Command)
	}
}

// idleStatus - статус при отсутствии кадров: лиц не видно
func (s *stream) idleStatus() models.SessionStatus {
	status := s.ctrl.Status()
	status.FaceDetected = false
	status.FaceCount = 0
	return status
}

func (s *stream) interval() time.Duration {
	if s.ctrl.State().Monitoring {
		return s.alive
	}
	return s.idle
}

// readPump читает сокет и передает сообщения в основной цикл
func (s *stream) readPump() {
	defer close(s.incoming)

	s.conn.SetReadLimit(maxFrameSize)
	for {
		kind, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			return
		}

		select {
		case s.incoming <- inbound{kind: kind, data: data}:
		case <-s.done:
			return
		}
	}
}

// teardown закрывает сессию вместе с открытой записью
func (s *stream) teardown() {
	close(s.done)
	s.conn.Close()

	// Контроллер закрывается, даже если его уже убрали из реестра (другой поток или REST)
	if err := s.registry.Detach(context.Background(), s.ctrl); err != nil {
		log.Printf("⚠️  Сессия %s закрыта с ошибкой: %v", s.ctrl.ID(), err)
	}
	log.Printf("🔌 Поток кадров отключен (сессия: %s)", s.ctrl.ID())
}

func (s *stream) writeJSON(v interface{}) error {
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteJSON(v)
}

func (s *stream) writeError(message string) error {
	return s.writeJSON(errorMessage{Type: models.MessageTypeError, Message: message})
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}
