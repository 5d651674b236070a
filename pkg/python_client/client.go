package python_client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"face-recorder/internal/models"
)

// ErrInvalidImage - детектор не смог прочитать кадр (HTTP 400/422)
var ErrInvalidImage = errors.New("детектор отклонил кадр")

// Client для взаимодействия с Python детектором лиц
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создает новый клиент
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Detect отправляет один кадр на детекцию лиц.
// Python возвращает рамки [x1, y1, x2, y2] и уверенность для каждого лица.
func (c *Client) Detect(ctx context.Context, image []byte, minConfidence float64) (*models.DetectorResponse, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("image", "frame.jpg")
	if err != nil {
		return nil, fmt.Errorf("ошибка создания form file: %w", err)
	}
	if _, err := part.Write(image); err != nil {
		return nil, fmt.Errorf("ошибка записи кадра: %w", err)
	}

	writer.WriteField("min_confidence", strconv.FormatFloat(minConfidence, 'f', 2, 64))

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("ошибка закрытия writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/detect", body)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания запроса: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ошибка HTTP запроса: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity:
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%w: %s", ErrInvalidImage, string(bodyBytes))
	case resp.StatusCode != http.StatusOK:
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("Python вернул ошибку %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var result models.DetectorResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("ошибка парсинга ответа: %w", err)
	}

	if !result.Success {
		return nil, fmt.Errorf("детекция не удалась: %s", result.Error)
	}

	return &result, nil
}

// HealthCheck проверяет доступность Python сервера
func (c *Client) HealthCheck() error {
	resp, err := c.httpClient.Get(c.baseURL + "/health")
	if err != nil {
		return fmt.Errorf("Python сервер недоступен: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("Python сервер вернул статус %d", resp.StatusCode)
	}

	return nil
}
