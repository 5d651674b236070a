package websocket

import (
	"log"
	"net/http"

	"face-recorder/internal/config"
	"face-recorder/internal/session"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Разрешаем все origins (в продакшене нужно ограничить)
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Handler обрабатывает WebSocket подключения
type Handler struct {
	manager  *Manager
	registry *session.Registry
	status   config.StatusConfig
}

// NewHandler создает новый WebSocket handler
func NewHandler(manager *Manager, registry *session.Registry, status config.StatusConfig) *Handler {
	return &Handler{
		manager:  manager,
		registry: registry,
		status:   status,
	}
}

// HandleEvents подключает наблюдателя событий записи (/ws/events)
func (h *Handler) HandleEvents(c *gin.Context) {
	// Пустой session_id - события всех сессий
	sessionID := c.Query("session_id")

	// Апгрейдим HTTP соединение до WebSocket
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("Failed to upgrade to WebSocket: %v", err)
		return
	}

	// Создаем клиента
	client := &Client{
		ID:        uuid.New().String(),
		Conn:      conn,
		Send:      make(chan Message, 256),
		SessionID: sessionID,
	}

	// Регистрируем клиента
	h.manager.RegisterClient(client)

	// Запускаем горутины для чтения и записи
	go client.WritePump()
	go client.ReadPump(h.manager)
}

// HandleStream принимает поток кадров сессии (/ws?session_id=)
func (h *Handler) HandleStream(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("Failed to upgrade to WebSocket: %v", err)
		return
	}

	ctrl := h.registry.Open(c.Query("session_id"))
	newStream(conn, ctrl, h.registry, h.status).run()
}
