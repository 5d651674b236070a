package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"face-recorder/internal/api/handlers"
	"face-recorder/internal/api/middleware"
	"face-recorder/internal/api/websocket"
	"face-recorder/internal/config"
	"face-recorder/internal/repository"
	"face-recorder/internal/service/cache"
	"face-recorder/internal/service/detector"
	"face-recorder/internal/service/recorder"
	"face-recorder/internal/service/storage"
	"face-recorder/internal/session"
	"face-recorder/pkg/python_client"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

const (
	encoderStartupGrace = 250 * time.Millisecond
	shutdownTimeout     = 10 * time.Second
)

// runServe поднимает все сервисы и обслуживает запросы до отмены ctx
func runServe(ctx context.Context) error {
	// ASCII баннер
	printBanner()

	// Загружаем конфигурацию
	cfg := config.Load()
	log.Println("✅ Конфигурация загружена")

	// Журнал сессий в БД (опционально)
	var repo repository.RepositoryInterface
	var journal session.Journal
	if cfg.Database.Enabled {
		db, err := initDatabase(cfg.Database.GetDSN())
		if err != nil {
			return fmt.Errorf("ошибка подключения к БД: %w", err)
		}
		defer db.Close()

		r := repository.NewRepository(db)
		if err := r.EnsureSchema(); err != nil {
			return fmt.Errorf("не удалось создать схему БД: %w", err)
		}
		repo, journal = r, r
		log.Println("✅ База данных подключена")
	} else {
		log.Println("⚠️  БД выключена (DB_ENABLED=false), журнал не ведется")
	}

	// Инициализируем Redis кэш
	cacheService, err := cache.NewService(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Printf("⚠️  Redis недоступен (работаем без кэша): %v\n", err)
		cacheService = nil
	} else {
		defer cacheService.Close()
		log.Println("✅ Redis кэш подключен")
	}

	// Каталог записей
	storageService, err := storage.NewService(cfg.Recording.Dir)
	if err != nil {
		return fmt.Errorf("ошибка инициализации storage: %w", err)
	}
	log.Printf("✅ Записи сохраняются в %s\n", storageService.Dir())

	// Детектор лиц (Python сервер)
	pythonClient := python_client.NewClient(cfg.Detector.BaseURL, cfg.Detector.Timeout)
	if err := pythonClient.HealthCheck(); err != nil {
		log.Printf("⚠️  Предупреждение: детектор недоступен: %v\n", err)
	} else {
		log.Println("✅ Детектор доступен")
	}
	detectorService := detector.NewService(pythonClient, cfg.Detector.MinConfidence, cfg.Detector.Annotate)

	// Наблюдатели событий
	wsManager := websocket.NewManager(storageService)
	go wsManager.Run()
	defer wsManager.Shutdown()
	log.Println("✅ WebSocket manager запущен")

	events := session.EventSinks{wsManager}
	if cacheService != nil {
		events = append(events, cache.NewInvalidator(cacheService))
	}

	// Реестр сессий: у каждой сессии свой энкодер
	threshold := cfg.Recording.AbsenceThreshold()
	log.Printf("✅ Запись закрывается после %d кадров без лица (%.0f fps)\n", threshold, cfg.Recording.FPS)

	encoderCfg := recorder.Config{
		Command:      cfg.Recording.FFmpegCommand,
		Codec:        cfg.Recording.Codec,
		FPS:          cfg.Recording.FPS,
		StopTimeout:  cfg.Recording.StopTimeout,
		StartupGrace: encoderStartupGrace,
	}
	registry := session.NewRegistry(func(id string) *session.Controller {
		sink := recorder.NewSink(encoderCfg, storageService)
		return session.NewController(id, session.NewPolicy(threshold), detectorService, sink, events, journal)
	})

	// Инициализируем handlers
	handler := handlers.NewHandler(repo, storageService, registry, cacheService, pythonClient, detectorService)
	wsHandler := websocket.NewHandler(wsManager, registry, cfg.Status)

	// Создаем роутер
	router := setupRouter(handler, wsHandler)

	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	log.Println("🎉 Сервер успешно запущен!")
	log.Printf("📡 API: http://localhost:%s/api\n", cfg.Server.Port)
	log.Printf("🔌 Поток кадров: ws://localhost:%s/ws?session_id=...\n", cfg.Server.Port)
	log.Printf("🔔 События: ws://localhost:%s/ws/events\n", cfg.Server.Port)
	log.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("ошибка запуска сервера: %w", err)
		}
	case <-ctx.Done():
		log.Println("🛑 Остановка сервера...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// Сначала закрываем записи, чтобы файлы остались валидными
	registry.CloseAll(shutdownCtx)

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("⚠️  Сервер остановлен с ошибкой: %v\n", err)
	}
	log.Println("👋 Сервер остановлен")
	return nil
}

// initDatabase инициализирует подключение к базе данных
func initDatabase(dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, err
	}

	// Проверяем подключение
	if err := db.Ping(); err != nil {
		return nil, err
	}

	// Настраиваем connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)

	return db, nil
}

// setupRouter настраивает роутер с middleware и endpoints
func setupRouter(handler *handlers.Handler, wsHandler *websocket.Handler) *gin.Engine {
	router := gin.New()

	// Middleware
	router.Use(middleware.Logger())
	router.Use(middleware.CORS())
	router.Use(middleware.Recovery())

	// WebSocket endpoints
	router.GET("/ws", wsHandler.HandleStream)
	router.GET("/ws/events", wsHandler.HandleEvents)

	// API группа
	api := router.Group("/api")
	{
		// Сессии
		api.POST("/sessions", handler.HandleCreateSession)
		api.POST("/sessions/:id/start", handler.HandleStartSession)
		api.POST("/sessions/:id/stop", handler.HandleStopSession)
		api.GET("/sessions/:id/status", handler.HandleSessionStatus)
		api.DELETE("/sessions/:id", handler.HandleCloseSession)

		// Записи
		api.GET("/recordings", handler.HandleListRecordings)
		api.GET("/recordings/*name", handler.HandleDownloadRecording)
		api.DELETE("/recordings/*name", handler.HandleDeleteRecording)

		// Разовая детекция кадра
		api.POST("/detect", handler.HandleDetect)

		// Статистика и health check
		api.GET("/stats", handler.HandleGetStats)
		api.GET("/health", handler.HandleHealth)
	}

	return router
}
