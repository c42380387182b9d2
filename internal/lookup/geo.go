package lookup

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/ndjobi-platform/emergency-access/internal/domain"
)

// GeoClient — клиент внешнего обратного геокодера (Nominatim-совместимый API).
// Внешний сервис ненадежен и лимитирован, поэтому:
// - жесткий таймаут на запрос (внешние лукапы не держат блокировку активации);
// - rate limiter (публичный Nominatim требует не чаще 1 rps);
// - circuit breaker: при серии отказов перестаем ходить наружу и сразу
//   деградируем в partial-ответ.
type GeoClient struct {
	baseURL string
	http    *http.Client
	cb      *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	logger  *zap.Logger
}

func NewGeoClient(baseURL string, timeout time.Duration, logger *zap.Logger) *GeoClient {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:     "reverse-geocoder",
		Interval: 30 * time.Second,
		Timeout:  60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 3
		},
	})

	return &GeoClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		cb:      cb,
		limiter: rate.NewLimiter(rate.Limit(1), 2),
		logger:  logger.Named("geo"),
	}
}

// nominatimResponse — кусок ответа /reverse, который нам нужен
type nominatimResponse struct {
	DisplayName string `json:"display_name"`
	Address     struct {
		City     string `json:"city"`
		Town     string `json:"town"`
		Country  string `json:"country"`
		Postcode string `json:"postcode"`
	} `json:"address"`
}

// Reverse превращает координаты последней сессии в адрес. Любой отказ
// (таймаут, открытый breaker, кривой JSON) деградирует в Location с
// заполненным Error — декодирование из-за геокодера не падает.
func (c *GeoClient) Reverse(ctx context.Context, lat, lon *float64) domain.Location {
	loc := domain.Location{Latitude: lat, Longitude: lon}
	if lat == nil || lon == nil {
		loc.Error = "no coordinates on record"
		return loc
	}

	if err := c.limiter.Wait(ctx); err != nil {
		loc.Error = fmt.Sprintf("rate limit wait aborted: %v", err)
		return loc
	}

	result, err := c.cb.Execute(func() (interface{}, error) {
		return c.fetch(ctx, *lat, *lon)
	})
	if err != nil {
		c.logger.Warn("reverse geocoding degraded", zap.Error(err))
		loc.Error = err.Error()
		return loc
	}

	resp := result.(*nominatimResponse)
	loc.Address = resp.DisplayName
	loc.Country = resp.Address.Country
	loc.PostalCode = resp.Address.Postcode
	loc.City = resp.Address.City
	if loc.City == "" {
		loc.City = resp.Address.Town
	}
	return loc
}

func (c *GeoClient) fetch(ctx context.Context, lat, lon float64) (*nominatimResponse, error) {
	u := fmt.Sprintf("%s/reverse?format=json&lat=%s&lon=%s",
		c.baseURL,
		url.QueryEscape(fmt.Sprintf("%f", lat)),
		url.QueryEscape(fmt.Sprintf("%f", lon)))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("geocoder unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("geocoder returned %d", resp.StatusCode)
	}

	var out nominatimResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("geocoder response malformed: %w", err)
	}
	return &out, nil
}
