package session

import (
	"context"
	"log"
	"sync"

	"github.com/google/uuid"
)

// Factory создает контроллер для новой сессии (со своим приемником записи)
type Factory func(id string) *Controller

// Registry хранит сессии по ID. Общего изменяемого состояния между сессиями нет.
type Registry struct {
	factory Factory

	mu       sync.Mutex
	sessions map[string]*Controller
}

// NewRegistry создает реестр сессий
func NewRegistry(factory Factory) *Registry {
	return &Registry{
		factory:  factory,
		sessions: make(map[string]*Controller),
	}
}

// Open возвращает сессию по ID, создавая её при необходимости.
// Пустой ID - новая сессия со сгенерированным ID.
func (r *Registry) Open(id string) *Controller {
	if id == "" {
		id = uuid.New().String()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.sessions[id]; ok {
		return c
	}

	c := r.factory(id)
	r.sessions[id] = c
	return c
}

// Get возвращает существующую сессию
func (r *Registry) Get(id string) (*Controller, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return c, nil
}

// Len возвращает количество открытых сессий
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Close останавливает сессию (с закрытием записи) и удаляет её из реестра
func (r *Registry) Close(ctx context.Context, id string) error {
	r.mu.Lock()
	c, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()

	if !ok {
		return ErrSessionNotFound
	}

	_, err := c.Close(ctx)
	return err
}

// Detach убирает контроллер из реестра, если под его ID все еще он же,
// и закрывает его. Подходит для отключения транспорта: чужую сессию с тем же ID не трогает.
func (r *Registry) Detach(ctx context.Context, c *Controller) error {
	r.mu.Lock()
	if cur, ok := r.sessions[c.ID()]; ok && cur == c {
		delete(r.sessions, c.ID())
	}
	r.mu.Unlock()

	_, err := c.Close(ctx)
	return err
}

// Recording возвращает сессию, которая сейчас пишет в path
func (r *Registry) Recording(path string) (*Controller, bool) {
	if path == "" {
		return nil, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, c := range r.sessions {
		if c.RecordingPath() == path {
			return c, true
		}
	}
	return nil, false
}

// CloseAll останавливает все сессии при завершении сервера
func (r *Registry) CloseAll(ctx context.Context) {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*Controller)
	r.mu.Unlock()

	for id, c := range sessions {
		if _, err := c.Close(ctx); err != nil {
			log.Printf("⚠️  Сессия %s остановлена с ошибкой: %v", id, err)
		}
	}
}
