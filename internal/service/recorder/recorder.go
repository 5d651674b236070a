package recorder

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"io"
	"log"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"face-recorder/internal/models"
)

var (
	// ErrUnsupportedDimensions - кодек не примет кадр такого размера
	ErrUnsupportedDimensions = errors.New("неподдерживаемый размер кадра")
	// ErrEncoderStart - ffmpeg не запустился или сразу упал
	ErrEncoderStart = errors.New("не удалось запустить энкодер")
	// ErrFrameSize - кадр не совпадает по размеру с открытой записью
	ErrFrameSize = errors.New("размер кадра не совпадает с записью")
)

// PathAllocator выдает уникальные пути для новых записей
type PathAllocator interface {
	AllocatePath(now time.Time) (string, error)
	Remove(path string) error
}

// Config - настройки энкодера
type Config struct {
	Command      string
	Codec        string
	FPS          float64
	StopTimeout  time.Duration
	StartupGrace time.Duration // Сколько ждать раннего падения ffmpeg
}

// Handle - открытая запись. Существует только пока идет запись.
type Handle struct {
	Path      string
	Width     int
	Height    int
	StartedAt time.Time

	stdin   io.WriteCloser
	process *os.Process
	stderr  *bytes.Buffer
	waitErr <-chan error
	frames  int
}

// Frames возвращает количество записанных кадров
func (h *Handle) Frames() int {
	return h.frames
}

// Sink владеет единственным открытым контейнером и пишет в него кадры по порядку
type Sink struct {
	cfg   Config
	paths PathAllocator
	now   func() time.Time

	mu     sync.Mutex
	active *Handle
	buf    []byte
}

// NewSink создает приемник записи поверх ffmpeg
func NewSink(cfg Config, paths PathAllocator) *Sink {
	if cfg.Command == "" {
		cfg.Command = "ffmpeg"
	}
	if cfg.Codec == "" {
		cfg.Codec = "mpeg4"
	}
	if cfg.FPS <= 0 {
		cfg.FPS = 15
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 5 * time.Second
	}
	return &Sink{
		cfg:   cfg,
		paths: paths,
		now:   time.Now,
	}
}

// Active сообщает, открыта ли запись
func (s *Sink) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active != nil
}

// Start открывает новую запись. Повторный вызов без Stop возвращает ту же запись.
func (s *Sink) Start(width, height int) (*Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active != nil {
		return s.active, nil
	}

	// yuv420p требует четных сторон
	if width <= 0 || height <= 0 || width%2 != 0 || height%2 != 0 || width > models.MaxFrameDimension || height > models.MaxFrameDimension {
		return nil, fmt.Errorf("%w: %dx%d", ErrUnsupportedDimensions, width, height)
	}

	startedAt := s.now()
	path, err := s.paths.AllocatePath(startedAt)
	if err != nil {
		return nil, err
	}

	handle, err := s.spawn(path, width, height)
	if err != nil {
		if rerr := s.paths.Remove(path); rerr != nil {
			log.Printf("⚠️  Не удалось удалить файл несостоявшейся записи %s: %v", path, rerr)
		}
		return nil, err
	}
	handle.StartedAt = startedAt

	s.active = handle
	s.buf = make([]byte, width*height*3)
	log.Printf("🎬 Запись начата: %s (%dx%d)", path, width, height)
	return handle, nil
}

func (s *Sink) spawn(path string, width, height int) (*Handle, error) {
	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-y",
		"-f", "rawvideo",
		"-pix_fmt", "rgb24",
		"-s", fmt.Sprintf("%dx%d", width, height),
		"-r", strconv.FormatFloat(s.cfg.FPS, 'f', -1, 64),
		"-i", "-",
		"-an",
		"-c:v", s.cfg.Codec,
		"-pix_fmt", "yuv420p",
		"-movflags", "+faststart",
		path,
	}

	cmd := exec.Command(s.cfg.Command, args...)
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stdin pipe: %v", ErrEncoderStart, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncoderStart, err)
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
		close(waitErr)
	}()

	if s.cfg.StartupGrace > 0 {
		select {
		case err := <-waitErr:
			stdin.Close()
			return nil, fmt.Errorf("%w: ffmpeg завершился до начала записи: %v: %s", ErrEncoderStart, err, trimStderr(stderr))
		case <-time.After(s.cfg.StartupGrace):
		}
	}

	return &Handle{
		Path:    path,
		Width:   width,
		Height:  height,
		stdin:   stdin,
		process: cmd.Process,
		stderr:  stderr,
		waitErr: waitErr,
	}, nil
}

// Write дописывает кадр в открытую запись.
// Без активной записи кадр отбрасывается с предупреждением, это не ошибка.
func (s *Sink) Write(img image.Image) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active == nil {
		log.Printf("⚠️  Кадр пропущен: нет активной записи")
		return nil
	}

	b := img.Bounds()
	if b.Dx() != s.active.Width || b.Dy() != s.active.Height {
		return fmt.Errorf("%w: %dx%d вместо %dx%d", ErrFrameSize, b.Dx(), b.Dy(), s.active.Width, s.active.Height)
	}

	toRGB24(s.buf, img)
	if _, err := s.active.stdin.Write(s.buf); err != nil {
		return fmt.Errorf("ошибка записи кадра в %s: %w", s.active.Path, err)
	}
	s.active.frames++
	return nil
}

// Stop закрывает контейнер и возвращает готовую запись.
// Если записи нет, возвращает nil без ошибки.
func (s *Sink) Stop() (*models.Recording, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h := s.active
	if h == nil {
		return nil, nil
	}
	s.active = nil
	s.buf = nil

	h.stdin.Close()

	var waitErr error
	select {
	case err := <-h.waitErr:
		waitErr = err
	case <-time.After(s.cfg.StopTimeout):
		log.Printf("⚠️  ffmpeg не завершился за %s, убиваем процесс", s.cfg.StopTimeout)
		h.process.Kill()
		waitErr = <-h.waitErr
	}

	endedAt := s.now()
	info, statErr := os.Stat(h.Path)
	if statErr != nil {
		return nil, fmt.Errorf("запись %s не найдена после закрытия: %w", h.Path, statErr)
	}

	rec := &models.Recording{
		Path:      h.Path,
		CreatedAt: h.StartedAt,
		SizeBytes: info.Size(),
	}
	rec.EndedAt.Time, rec.EndedAt.Valid = endedAt, true

	if waitErr != nil {
		return rec, fmt.Errorf("ffmpeg завершился с ошибкой: %v: %s", waitErr, trimStderr(h.stderr))
	}

	log.Printf("⏹️  Запись завершена: %s (%d кадров, %d байт)", h.Path, h.frames, info.Size())
	return rec, nil
}

// toRGB24 раскладывает кадр в плотный RGB буфер для rawvideo
func toRGB24(dst []byte, img image.Image) {
	b := img.Bounds()
	rgba, ok := img.(*image.RGBA)
	if !ok || rgba.Rect.Min != (image.Point{}) {
		rgba = image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		draw.Draw(rgba, rgba.Rect, img, b.Min, draw.Src)
	}

	w, h := rgba.Rect.Dx(), rgba.Rect.Dy()
	i := 0
	for y := 0; y < h; y++ {
		row := rgba.Pix[y*rgba.Stride : y*rgba.Stride+w*4]
		for x := 0; x < w*4; x += 4 {
			dst[i] = row[x]
			dst[i+1] = row[x+1]
			dst[i+2] = row[x+2]
			i += 3
		}
	}
}

func trimStderr(buf *bytes.Buffer) string {
	if buf == nil {
		return ""
	}
	return string(bytes.TrimSpace(buf.Bytes()))
}
