package lookup

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/ndjobi-platform/emergency-access/internal/domain"
)

// NetworkClassifier сочетает внешний ISP-лукап с локальной VPN-эвристикой.
// Как и геокодер, работает в best-effort режиме: отказ внешнего сервиса
// помечает поле Error, но не роняет декодирование.
type NetworkClassifier struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger
}

func NewNetworkClassifier(baseURL string, timeout time.Duration, logger *zap.Logger) *NetworkClassifier {
	return &NetworkClassifier{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		logger:  logger.Named("netclass"),
	}
}

type ispResponse struct {
	ISP   string `json:"isp"`
	Class string `json:"class"` // residential / hosting / mobile
}

// Classify строит сетевой профиль субъекта по адресам его сессий.
// VPN-эвристика: в истории сессий одновременно видны и приватные, и публичные
// адреса — признак туннеля между устройством и точкой выхода.
func (c *NetworkClassifier) Classify(ctx context.Context, currentIP string, observedIPs []string) domain.NetworkInfo {
	info := domain.NetworkInfo{
		IPAddress:   currentIP,
		ObservedIPs: observedIPs,
	}

	var private, public int
	for _, raw := range observedIPs {
		ip := net.ParseIP(raw)
		if ip == nil {
			continue
		}
		if ip.IsPrivate() || ip.IsLoopback() {
			private++
		} else {
			public++
		}
	}
	info.VPNDetected = private > 0 && public > 0

	if currentIP == "" {
		info.Error = "no ip address on record"
		return info
	}

	isp, err := c.fetchISP(ctx, currentIP)
	if err != nil {
		c.logger.Warn("isp lookup degraded", zap.String("ip", currentIP), zap.Error(err))
		info.Error = err.Error()
		return info
	}

	info.ISP = isp.ISP
	info.Class = isp.Class
	return info
}

func (c *NetworkClassifier) fetchISP(ctx context.Context, ip string) (*ispResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/ip/"+ip, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("isp service unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("isp service returned %d", resp.StatusCode)
	}

	var out ispResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("isp response malformed: %w", err)
	}
	return &out, nil
}
