package lookup

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestReverse_ResolvesAddress(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/reverse", r.URL.Path)
		assert.Equal(t, "json", r.URL.Query().Get("format"))
		w.Write([]byte(`{
			"display_name": "Boulevard Triomphal, Libreville, Gabon",
			"address": {"city": "Libreville", "country": "Gabon", "postcode": "BP-1234"}
		}`))
	}))
	defer srv.Close()

	c := NewGeoClient(srv.URL, time.Second, zap.NewNop())
	lat, lon := 0.3901, 9.4544
	loc := c.Reverse(context.Background(), &lat, &lon)

	assert.Empty(t, loc.Error)
	assert.Equal(t, "Libreville", loc.City)
	assert.Equal(t, "Gabon", loc.Country)
	assert.Equal(t, "BP-1234", loc.PostalCode)
}

func TestReverse_TownFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"display_name": "x", "address": {"town": "Oyem", "country": "Gabon"}}`))
	}))
	defer srv.Close()

	c := NewGeoClient(srv.URL, time.Second, zap.NewNop())
	lat, lon := 1.5993, 11.5793
	loc := c.Reverse(context.Background(), &lat, &lon)

	assert.Equal(t, "Oyem", loc.City)
}

func TestReverse_DegradesWithoutCoordinates(t *testing.T) {
	c := NewGeoClient("http://unused", time.Second, zap.NewNop())

	loc := c.Reverse(context.Background(), nil, nil)
	assert.NotEmpty(t, loc.Error)
	assert.Empty(t, loc.City)
}

func TestReverse_CircuitBreakerOpensAfterFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewGeoClient(srv.URL, time.Second, zap.NewNop())
	// Лимитер в тесте не должен растягивать серию запросов
	c.limiter.SetLimit(1000)
	lat, lon := 0.39, 9.45

	// Серия отказов размыкает breaker; каждый вызов деградирует, не падая
	for i := 0; i < 6; i++ {
		loc := c.Reverse(context.Background(), &lat, &lon)
		assert.NotEmpty(t, loc.Error)
	}

	// Breaker открыт: деградация мгновенная, без похода наружу
	loc := c.Reverse(context.Background(), &lat, &lon)
	assert.NotEmpty(t, loc.Error)
}
