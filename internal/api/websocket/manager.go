package websocket

import (
	"encoding/json"
	"log"
	"sync"

	"face-recorder/internal/models"
	"face-recorder/internal/service/storage"

	"github.com/gorilla/websocket"
)

// Message типы сообщений для наблюдателей
type MessageType string

const (
	MessageTypeMonitoringChanged MessageType = "monitoring_changed"
	MessageTypeRecordingStarted  MessageType = "recording_started"
	MessageTypeRecordingStopped  MessageType = "recording_stopped"
	MessageTypeRecordingFailed   MessageType = "recording_failed"
)

// Message структура WebSocket сообщения
type Message struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id,omitempty"`
	Payload   interface{} `json:"payload"`
}

// Client представляет WebSocket наблюдателя
type Client struct {
	ID        string
	Conn      *websocket.Conn
	Send      chan Message
	SessionID string // ID сессии, которую отслеживает клиент (пусто - все)
}

// Manager рассылает события сессий наблюдателям (реализует session.EventSink)
type Manager struct {
	clients    map[string]*Client
	register   chan *Client
	unregister chan *Client
	broadcast  chan Message
	done       chan struct{}
	mu         sync.RWMutex

	// Для download_url в событиях; может быть nil
	storage *storage.Service
}

// NewManager создает новый WebSocket manager
func NewManager(storage *storage.Service) *Manager {
	return &Manager{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan Message, 256),
		done:       make(chan struct{}),
		storage:    storage,
	}
}

// Run запускает менеджер (должен работать в отдельной горутине)
func (m *Manager) Run() {
	for {
		select {
		case <-m.done:
			return

		case client := <-m.register:
			m.mu.Lock()
			m.clients[client.ID] = client
			m.mu.Unlock()
			log.Printf("WebSocket: наблюдатель %s подключен (сессия: %s)", client.ID, client.SessionID)

		case client := <-m.unregister:
			m.mu.Lock()
			if _, ok := m.clients[client.ID]; ok {
				delete(m.clients, client.ID)
				close(client.Send)
				log.Printf("WebSocket: наблюдатель %s отключен", client.ID)
			}
			m.mu.Unlock()

		case message := <-m.broadcast:
			m.mu.Lock()
			for _, client := range m.clients {
				// Событие конкретной сессии - только подписанным на неё и на все
				if client.SessionID != "" && message.SessionID != client.SessionID {
					continue
				}

				select {
				case client.Send <- message:
				default:
					// Если канал переполнен - отключаем клиента
					close(client.Send)
					delete(m.clients, client.ID)
				}
			}
			m.mu.Unlock()
		}
	}
}

// Shutdown останавливает цикл Run
func (m *Manager) Shutdown() {
	close(m.done)
}

// ClientCount возвращает количество наблюдателей
func (m *Manager) ClientCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.clients)
}

// RegisterClient регистрирует нового клиента
func (m *Manager) RegisterClient(client *Client) {
	m.register <- client
}

// UnregisterClient отключает клиента
func (m *Manager) UnregisterClient(client *Client) {
	select {
	case m.unregister <- client:
	case <-m.done:
	}
}

// Broadcast отправляет сообщение всем клиентам.
// Если очередь заполнена, событие теряется: запись кадров важнее наблюдателей.
func (m *Manager) Broadcast(message Message) {
	select {
	case m.broadcast <- message:
	default:
		log.Printf("⚠️  WebSocket: очередь событий переполнена, %s пропущено", message.Type)
	}
}

// ============ session.EventSink ============

// MonitoringChanged отправляет смену режима мониторинга
func (m *Manager) MonitoringChanged(sessionID string, monitoring bool) {
	m.Broadcast(Message{
		Type:      MessageTypeMonitoringChanged,
		SessionID: sessionID,
		Payload: map[string]interface{}{
			"monitoring": monitoring,
		},
	})
}

// RecordingStarted отправляет начало записи
func (m *Manager) RecordingStarted(sessionID, path string) {
	m.Broadcast(Message{
		Type:      MessageTypeRecordingStarted,
		SessionID: sessionID,
		Payload: map[string]interface{}{
			"filename": m.filename(path),
		},
	})
}

// RecordingStopped отправляет готовую запись
func (m *Manager) RecordingStopped(sessionID string, rec *models.Recording) {
	name := m.filename(rec.Path)
	m.Broadcast(Message{
		Type:      MessageTypeRecordingStopped,
		SessionID: sessionID,
		Payload: models.RecordingItem{
			Filename:    name,
			Timestamp:   rec.CreatedAt,
			Size:        rec.SizeBytes,
			DownloadURL: "/api/recordings/" + name,
		},
	})
}

// RecordingFailed отправляет ошибку записи
func (m *Manager) RecordingFailed(sessionID string, err error) {
	m.Broadcast(Message{
		Type:      MessageTypeRecordingFailed,
		SessionID: sessionID,
		Payload: map[string]interface{}{
			"error": err.Error(),
		},
	})
}

func (m *Manager) filename(path string) string {
	if m.storage == nil {
		return path
	}
	return m.storage.Relative(path)
}

// ReadPump читает сообщения от клиента (только чтобы заметить отключение)
func (c *Client) ReadPump(manager *Manager) {
	defer func() {
		manager.UnregisterClient(c)
		c.Conn.Close()
	}()

	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}
	}
}

// WritePump отправляет сообщения клиенту
func (c *Client) WritePump() {
	defer func() {
		c.Conn.Close()
	}()

	for message := range c.Send {
		w, err := c.Conn.NextWriter(websocket.TextMessage)
		if err != nil {
			return
		}

		// Сериализуем сообщение в JSON
		data, err := json.Marshal(message)
		if err != nil {
			log.Printf("Error marshaling message: %v", err)
			w.Close()
			continue
		}

		w.Write(data)

		if err := w.Close(); err != nil {
			return
		}
	}
}
