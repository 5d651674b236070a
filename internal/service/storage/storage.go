package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"face-recorder/internal/models"
)

// RecordingExt - расширение контейнера записей
const RecordingExt = ".mp4"

var (
	// ErrNotFound - запись не найдена
	ErrNotFound = errors.New("запись не найдена")
	// ErrInvalidName - имя указывает за пределы каталога записей
	ErrInvalidName = errors.New("недопустимое имя записи")
)

// Service управляет каталогом записей
type Service struct {
	recordingsDir string
}

// NewService создает новый файловый сервис
func NewService(recordingsDir string) (*Service, error) {
	// Создаем директорию если её нет
	if err := os.MkdirAll(recordingsDir, 0755); err != nil {
		return nil, fmt.Errorf("не удалось создать каталог записей: %w", err)
	}

	abs, err := filepath.Abs(recordingsDir)
	if err != nil {
		return nil, fmt.Errorf("не удалось определить путь %s: %w", recordingsDir, err)
	}

	return &Service{recordingsDir: abs}, nil
}

// Dir возвращает абсолютный путь к каталогу записей
func (s *Service) Dir() string {
	return s.recordingsDir
}

// ============ ALLOCATION ============

// AllocatePath резервирует путь для новой записи:
// <dir>/YYYY-MM-DD/recording_HH-MM-SS.mp4.
// Если файл за эту секунду уже есть, добавляется суффикс _2, _3...
// Файл создается пустым (O_EXCL), так что две сессии не получат один путь.
func (s *Service) AllocatePath(now time.Time) (string, error) {
	dateDir := filepath.Join(s.recordingsDir, now.Format("2006-01-02"))
	if err := os.MkdirAll(dateDir, 0755); err != nil {
		return "", fmt.Errorf("не удалось создать папку %s: %w", dateDir, err)
	}

	base := "recording_" + now.Format("15-04-05")
	for i := 1; i < 1000; i++ {
		name := base + RecordingExt
		if i > 1 {
			name = fmt.Sprintf("%s_%d%s", base, i, RecordingExt)
		}

		path := filepath.Join(dateDir, name)
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("не удалось создать файл %s: %w", path, err)
		}
		f.Close()
		return path, nil
	}

	return "", fmt.Errorf("слишком много записей за %s", now.Format(time.DateTime))
}

// ============ INVENTORY ============

// List возвращает все записи, новые первыми, и их суммарный размер
func (s *Service) List() ([]models.RecordingItem, int64, error) {
	var items []models.RecordingItem
	var total int64

	err := filepath.WalkDir(s.recordingsDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(path), RecordingExt) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			// Файл мог исчезнуть между ReadDir и Stat
			return nil
		}
		if !info.Mode().IsRegular() {
			return nil
		}

		name := s.Relative(path)
		items = append(items, models.RecordingItem{
			Filename:    name,
			Timestamp:   info.ModTime(),
			Size:        info.Size(),
			DownloadURL: "/api/recordings/" + name,
		})
		total += info.Size()
		return nil
	})
	if err != nil {
		return nil, 0, fmt.Errorf("не удалось прочитать каталог записей: %w", err)
	}

	sort.Slice(items, func(i, j int) bool {
		if !items[i].Timestamp.Equal(items[j].Timestamp) {
			return items[i].Timestamp.After(items[j].Timestamp)
		}
		return items[i].Filename > items[j].Filename
	})

	if items == nil {
		items = []models.RecordingItem{} // Пустой массив вместо nil
	}
	return items, total, nil
}

// Resolve превращает имя записи (относительный путь) в абсолютный путь.
// Имена вне каталога записей и несуществующие файлы отклоняются.
func (s *Service) Resolve(name string) (string, error) {
	name = strings.TrimPrefix(filepath.ToSlash(name), "/")
	if name == "" || filepath.IsAbs(name) {
		return "", ErrInvalidName
	}

	path := filepath.Join(s.recordingsDir, filepath.FromSlash(name))
	rel, err := filepath.Rel(s.recordingsDir, path)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", ErrInvalidName
	}

	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	if !info.Mode().IsRegular() {
		return "", ErrNotFound
	}

	return path, nil
}

// Delete удаляет запись по имени и возвращает её абсолютный путь
func (s *Service) Delete(name string) (string, error) {
	path, err := s.Resolve(name)
	if err != nil {
		return "", err
	}

	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("не удалось удалить %s: %w", path, err)
	}

	// Пустую папку дня убираем, ошибка не важна
	os.Remove(filepath.Dir(path))
	return path, nil
}

// Remove удаляет файл по абсолютному пути (например, зарезервированный, но не записанный)
func (s *Service) Remove(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("не удалось удалить %s: %w", path, err)
	}
	return nil
}

// Relative возвращает имя записи относительно каталога (через "/")
func (s *Service) Relative(path string) string {
	rel, err := filepath.Rel(s.recordingsDir, path)
	if err != nil {
		return filepath.Base(path)
	}
	return filepath.ToSlash(rel)
}

// FileExists проверяет существование файла
func (s *Service) FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// FormatSize форматирует суммарный размер: KB до мегабайта, дальше MB
func FormatSize(bytes int64) string {
	if bytes < 1024*1024 {
		return fmt.Sprintf("%.1f KB", float64(bytes)/1024)
	}
	return fmt.Sprintf("%.1f MB", float64(bytes)/(1024*1024))
}
