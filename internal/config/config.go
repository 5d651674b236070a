package config

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"time"
)

// Config содержит всю конфигурацию приложения
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Detector  DetectorConfig
	Recording RecordingConfig
	Status    StatusConfig
}

// ServerConfig - настройки HTTP сервера
type ServerConfig struct {
	Port string
	Host string
}

// DatabaseConfig - настройки базы данных (журнал сессий и записей)
type DatabaseConfig struct {
	Enabled  bool
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// RedisConfig - настройки Redis
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// DetectorConfig - настройки внешнего детектора лиц (Python сервер)
type DetectorConfig struct {
	BaseURL       string
	MinConfidence float64
	Timeout       time.Duration
	Annotate      bool
}

// RecordingConfig - настройки записи видео
type RecordingConfig struct {
	Dir            string
	FPS            float64
	AbsenceTimeout time.Duration
	AbsenceFrames  int // Явное значение порога, если > 0
	FFmpegCommand  string
	Codec          string
	StopTimeout    time.Duration
}

// StatusConfig - периодичность статусов в WebSocket потоке
type StatusConfig struct {
	IdleInterval      time.Duration
	KeepaliveInterval time.Duration
}

// Load загружает конфигурацию из переменных окружения
// с fallback на значения по умолчанию
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8080"),
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
		},
		Database: DatabaseConfig{
			Enabled:  getEnvBool("DB_ENABLED", true),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "faceuser"),
			Password: getEnv("DB_PASSWORD", "facepass"),
			DBName:   getEnv("DB_NAME", "facedb"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Detector: DetectorConfig{
			BaseURL:       getEnv("DETECTOR_BASE_URL", "http://localhost:5000"),
			MinConfidence: getEnvFloat("DETECTOR_MIN_CONFIDENCE", 0.5),
			Timeout:       getEnvDuration("DETECTOR_TIMEOUT", 5*time.Second),
			Annotate:      getEnvBool("DETECTOR_ANNOTATE", true),
		},
		Recording: RecordingConfig{
			Dir:            getEnv("RECORDINGS_DIR", "recordings"),
			FPS:            getEnvFloat("RECORDING_FPS", 15),
			AbsenceTimeout: getEnvDuration("RECORDING_ABSENCE_TIMEOUT", 5*time.Second),
			AbsenceFrames:  getEnvInt("RECORDING_ABSENCE_FRAMES", 0),
			FFmpegCommand:  getEnv("FFMPEG_COMMAND", "ffmpeg"),
			Codec:          getEnv("RECORDING_CODEC", "mpeg4"),
			StopTimeout:    getEnvDuration("RECORDING_STOP_TIMEOUT", 5*time.Second),
		},
		Status: StatusConfig{
			IdleInterval:      getEnvDuration("STATUS_IDLE_INTERVAL", 100*time.Millisecond),
			KeepaliveInterval: getEnvDuration("STATUS_KEEPALIVE_INTERVAL", time.Second),
		},
	}
}

// GetDSN возвращает строку подключения к PostgreSQL
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

// AbsenceThreshold возвращает порог отсутствия лица в кадрах.
// По умолчанию 5s * 15fps = 75 кадров.
func (c *RecordingConfig) AbsenceThreshold() int {
	if c.AbsenceFrames > 0 {
		return c.AbsenceFrames
	}
	frames := int(math.Round(c.AbsenceTimeout.Seconds() * c.FPS))
	if frames < 1 {
		return 1
	}
	return frames
}

// getEnv получает переменную окружения или возвращает значение по умолчанию
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt получает целочисленную переменную окружения
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var intValue int
		fmt.Sscanf(value, "%d", &intValue)
		return intValue
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// getEnvDuration понимает как "5s", так и число секунд ("5")
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	return defaultValue
}
