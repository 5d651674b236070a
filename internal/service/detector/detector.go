package detector

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	_ "image/jpeg"
	_ "image/png"

	"face-recorder/internal/models"
	"face-recorder/pkg/python_client"
)

var (
	// ErrInvalidFrame - кадр не декодируется (это не то же самое, что "лиц нет")
	ErrInvalidFrame = errors.New("невалидный кадр")
	// ErrDetectorUnavailable - внешний детектор не ответил
	ErrDetectorUnavailable = errors.New("детектор недоступен")
)

var boxColor = color.RGBA{R: 0, G: 255, B: 0, A: 255}

// FaceDetector - внешний классификатор лиц (Python сервер)
type FaceDetector interface {
	Detect(ctx context.Context, image []byte, minConfidence float64) (*models.DetectorResponse, error)
}

// Service - адаптер детекции: кадр -> DetectionResult (+ кадр с рамками)
type Service struct {
	client        FaceDetector
	minConfidence float64
	annotate      bool
}

// NewService создает адаптер детекции
func NewService(client FaceDetector, minConfidence float64, annotate bool) *Service {
	return &Service{
		client:        client,
		minConfidence: minConfidence,
		annotate:      annotate,
	}
}

// Decode декодирует байты кадра (JPEG или PNG)
func Decode(payload []byte) (*models.Frame, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("%w: пустой кадр", ErrInvalidFrame)
	}

	// Размер читаем из заголовка до выделения памяти под пиксели
	cfg, _, err := image.DecodeConfig(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFrame, err)
	}
	if cfg.Width > models.MaxFrameDimension || cfg.Height > models.MaxFrameDimension {
		return nil, fmt.Errorf("%w: слишком большой кадр %dx%d", ErrInvalidFrame, cfg.Width, cfg.Height)
	}

	img, _, err := image.Decode(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFrame, err)
	}

	bounds := img.Bounds()
	channels := 3
	if _, ok := img.(*image.Gray); ok {
		channels = 1
	}

	return &models.Frame{
		Image:    img,
		Raw:      payload,
		Width:    bounds.Dx(),
		Height:   bounds.Dy(),
		Channels: channels,
	}, nil
}

// Decode - то же, что пакетная Decode, для использования через интерфейс
func (s *Service) Decode(payload []byte) (*models.Frame, error) {
	return Decode(payload)
}

// Detect прогоняет кадр через детектор.
// Возвращает результат и кадр для записи (с рамками, если включено).
func (s *Service) Detect(ctx context.Context, frame *models.Frame) (models.DetectionResult, image.Image, error) {
	resp, err := s.client.Detect(ctx, frame.Raw, s.minConfidence)
	if err != nil {
		if errors.Is(err, python_client.ErrInvalidImage) {
			return models.DetectionResult{}, nil, fmt.Errorf("%w: %v", ErrInvalidFrame, err)
		}
		return models.DetectionResult{}, nil, fmt.Errorf("%w: %v", ErrDetectorUnavailable, err)
	}

	result := s.toResult(resp, frame.Width, frame.Height)

	if !s.annotate || !result.Present {
		return result, frame.Image, nil
	}
	return result, Annotate(frame.Image, result.Boxes), nil
}

// toResult переводит рамки [x1, y1, x2, y2] в (x, y, w, h), отбрасывая слабые
func (s *Service) toResult(resp *models.DetectorResponse, width, height int) models.DetectionResult {
	boxes := make([]models.BoundingBox, 0, len(resp.Faces))
	for _, face := range resp.Faces {
		if face.Confidence < s.minConfidence || len(face.Bbox) != 4 {
			continue
		}

		x1, y1 := clamp(face.Bbox[0], 0, width), clamp(face.Bbox[1], 0, height)
		x2, y2 := clamp(face.Bbox[2], 0, width), clamp(face.Bbox[3], 0, height)
		if x2 <= x1 || y2 <= y1 {
			continue
		}

		boxes = append(boxes, models.BoundingBox{
			X:          x1,
			Y:          y1,
			Width:      x2 - x1,
			Height:     y2 - y1,
			Confidence: face.Confidence,
		})
	}

	return models.DetectionResult{
		Present: len(boxes) > 0,
		Count:   len(boxes),
		Boxes:   boxes,
	}
}

// Annotate рисует рамки поверх копии кадра, исходный кадр не меняется
func Annotate(src image.Image, boxes []models.BoundingBox) image.Image {
	bounds := src.Bounds()
	dst := image.NewRGBA(bounds)
	draw.Draw(dst, bounds, src, bounds.Min, draw.Src)

	const thickness = 2
	for _, b := range boxes {
		x0, y0 := bounds.Min.X+b.X, bounds.Min.Y+b.Y
		x1, y1 := x0+b.Width, y0+b.Height

		fill(dst, image.Rect(x0, y0, x1, y0+thickness))
		fill(dst, image.Rect(x0, y1-thickness, x1, y1))
		fill(dst, image.Rect(x0, y0, x0+thickness, y1))
		fill(dst, image.Rect(x1-thickness, y0, x1, y1))
	}
	return dst
}

func fill(dst *image.RGBA, r image.Rectangle) {
	draw.Draw(dst, r.Intersect(dst.Bounds()), &image.Uniform{C: boxColor}, image.Point{}, draw.Src)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
