package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"face-recorder/internal/models"

	"github.com/redis/go-redis/v9"
)

const (
	keyRecordings = "recordings:list"
	keyStats      = "stats"
)

// Service управляет кэшированием через Redis
type Service struct {
	client *redis.Client
	ctx    context.Context
}

// NewService создает новый cache service
func NewService(addr, password string, db int) (*Service, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx := context.Background()

	// Проверяем подключение
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("не удалось подключиться к Redis: %w", err)
	}

	return &Service{
		client: client,
		ctx:    ctx,
	}, nil
}

// Close закрывает соединение с Redis
func (s *Service) Close() error {
	return s.client.Close()
}

// ============ RECORDINGS CACHE ============

// GetRecordings получает список записей из кэша
func (s *Service) GetRecordings() (*models.RecordingsResponse, error) {
	data, err := s.client.Get(s.ctx, keyRecordings).Bytes()
	if err == redis.Nil {
		return nil, nil // Не найдено в кэше
	}
	if err != nil {
		return nil, err
	}

	var resp models.RecordingsResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, err
	}

	return &resp, nil
}

// SetRecordings сохраняет список записей на 30 секунд.
// Идущая запись растет, поэтому TTL короткий.
func (s *Service) SetRecordings(resp *models.RecordingsResponse) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}

	return s.client.Set(s.ctx, keyRecordings, data, 30*time.Second).Err()
}

// InvalidateRecordings очищает кэш списка записей
func (s *Service) InvalidateRecordings() error {
	return s.client.Del(s.ctx, keyRecordings).Err()
}

// ============ STATS CACHE ============

// GetStats получает статистику из кэша
func (s *Service) GetStats() (*models.Stats, error) {
	data, err := s.client.Get(s.ctx, keyStats).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var stats models.Stats
	if err := json.Unmarshal(data, &stats); err != nil {
		return nil, err
	}

	return &stats, nil
}

// SetStats сохраняет статистику в кэш на 5 минут
func (s *Service) SetStats(stats *models.Stats) error {
	data, err := json.Marshal(stats)
	if err != nil {
		return err
	}

	return s.client.Set(s.ctx, keyStats, data, 5*time.Minute).Err()
}

// InvalidateStats очищает кэш статистики
func (s *Service) InvalidateStats() error {
	return s.client.Del(s.ctx, keyStats).Err()
}

// ============ SESSION EVENTS ============

// Store - кэш, который умеет сбрасывать списки записей и статистику
type Store interface {
	InvalidateRecordings() error
	InvalidateStats() error
}

// Invalidator сбрасывает кэш по событиям сессий (реализует session.EventSink)
type Invalidator struct {
	cache Store
}

// NewInvalidator создает обработчик событий для кэша
func NewInvalidator(cache Store) *Invalidator {
	return &Invalidator{cache: cache}
}

func (i *Invalidator) MonitoringChanged(sessionID string, monitoring bool) {
	if !monitoring {
		i.dropStats(sessionID)
	}
}

func (i *Invalidator) RecordingStarted(sessionID, path string) {
	i.dropRecordings(sessionID)
	i.dropStats(sessionID)
}

func (i *Invalidator) RecordingStopped(sessionID string, rec *models.Recording) {
	i.dropRecordings(sessionID)
	i.dropStats(sessionID)
}

func (i *Invalidator) RecordingFailed(sessionID string, err error) {}

func (i *Invalidator) dropRecordings(sessionID string) {
	if err := i.cache.InvalidateRecordings(); err != nil {
		log.Printf("⚠️  Кэш записей не сброшен (сессия %s): %v", sessionID, err)
	}
}

func (i *Invalidator) dropStats(sessionID string) {
	if err := i.cache.InvalidateStats(); err != nil {
		log.Printf("⚠️  Кэш статистики не сброшен (сессия %s): %v", sessionID, err)
	}
}
