package connectors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/avast/retry-go/v5"

	"github.com/ndjobi-platform/emergency-access/internal/domain"
)

// IdentityClient — адаптер внешнего сервиса идентификации
// («кто аутентифицирован и какая роль»). Подсистема видит только эту границу.
type IdentityClient struct {
	baseURL string
	http    *http.Client
}

func NewIdentityClient(baseURL string, timeout time.Duration) *IdentityClient {
	return &IdentityClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// GetOperator возвращает оператора с его ролью. Ретраи с умной задержкой:
// если сервис вернул 429 с Retry-After — ждем, сколько он попросил,
// иначе стандартный экспоненциальный бэкофф.
func (c *IdentityClient) GetOperator(ctx context.Context, operatorID string) (*domain.Operator, error) {
	var op domain.Operator

	r := retry.New(
		retry.Context(ctx),
		retry.Attempts(3),
		retry.DelayType(func(n uint, err error, config retry.DelayContext) time.Duration {
			var tErr *ThrottleError
			if errors.As(err, &tErr) {
				return tErr.RetryAfter
			}
			return retry.BackOffDelay(n, err, config)
		}),
	)

	err := r.Do(func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet,
			c.baseURL+"/v1/operators/"+url.PathEscape(operatorID), nil)
		if err != nil {
			return err
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return fmt.Errorf("identity service unreachable: %w", err)
		}
		defer resp.Body.Close()

		switch resp.StatusCode {
		case http.StatusOK:
			return json.NewDecoder(resp.Body).Decode(&op)
		case http.StatusNotFound:
			// Неизвестный оператор — не повод для ретрая
			return retry.Unrecoverable(fmt.Errorf("operator %s not found", operatorID))
		case http.StatusTooManyRequests:
			return throttleFromResponse(resp, fmt.Errorf("identity service throttled"))
		default:
			return fmt.Errorf("identity service returned %d", resp.StatusCode)
		}
	})
	if err != nil {
		return nil, err
	}
	return &op, nil
}

// VerifySecret проверяет первичный секрет оператора на стороне сервиса
// идентификации. Сам секрет у нас не хранится и не логируется.
func (c *IdentityClient) VerifySecret(ctx context.Context, operatorID, secret string) error {
	body, _ := json.Marshal(map[string]string{"operator_id": operatorID, "secret": secret})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/operators/verify", strings.NewReader(string(body)))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("identity service unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("secret verification rejected (%d)", resp.StatusCode)
	}
	return nil
}
