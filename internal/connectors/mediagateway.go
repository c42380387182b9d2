package connectors

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// MediaGateway — адаптер внешнего медиашлюза, отдающего аудиопоток субъекта
// chunked-ответом. Поток читается до дедлайна контекста: авто-стоп сеанса
// реализован именно обрывом чтения, частичная запись — штатный результат.
type MediaGateway struct {
	baseURL string
	http    *http.Client
}

func NewMediaGateway(baseURL string) *MediaGateway {
	return &MediaGateway{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		// Без Timeout: длительность сеанса ограничивает контекст вызова
		http: &http.Client{},
	}
}

// Capture реализует интерфейс emergency.CaptureSource.
func (g *MediaGateway) Capture(ctx context.Context, subjectID string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		g.baseURL+"/v1/capture/"+url.PathEscape(subjectID), nil)
	if err != nil {
		return nil, err
	}

	resp, err := g.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("media gateway unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, throttleFromResponse(resp, fmt.Errorf("media gateway throttled"))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("media gateway returned %d", resp.StatusCode)
	}

	// Читаем до конца потока или до дедлайна. Оборванное по дедлайну чтение
	// отдает накопленное: это и есть таймерная остановка записи
	payload, err := io.ReadAll(resp.Body)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
		if len(payload) == 0 {
			return nil, fmt.Errorf("media stream read failed: %w", err)
		}
	}
	return payload, nil
}

// SyntheticCaptureSource — заглушка для проверки таймингов без реального шлюза (dev-режим)
type SyntheticCaptureSource struct {
	// BytesPerSecond задает плотность синтезируемого потока
	BytesPerSecond int
}

func (s *SyntheticCaptureSource) Capture(ctx context.Context, subjectID string) ([]byte, error) {
	bps := s.BytesPerSecond
	if bps <= 0 {
		bps = 8000
	}

	var out []byte
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	chunk := make([]byte, bps/10)
	for {
		select {
		case <-ctx.Done():
			return out, ctx.Err()
		case <-ticker.C:
			out = append(out, chunk...)
		}
	}
}
