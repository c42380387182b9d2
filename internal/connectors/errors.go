package connectors

import (
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// ThrottleError возвращается адаптерами внешних сервисов, когда те отвечают
// 429 и сообщают, через сколько можно повторить. Ретраи читают RetryAfter
// вместо стандартного бэкоффа.
type ThrottleError struct {
	RetryAfter time.Duration
	Cause      error
}

func (e *ThrottleError) Error() string {
	return fmt.Sprintf("throttled: retry after %v (cause: %v)", e.RetryAfter, e.Cause)
}

// throttleFromResponse строит ThrottleError из заголовка Retry-After (секунды).
func throttleFromResponse(resp *http.Response, cause error) *ThrottleError {
	retryAfter := 5 * time.Second
	if raw := resp.Header.Get("Retry-After"); raw != "" {
		if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
			retryAfter = time.Duration(secs) * time.Second
		}
	}
	return &ThrottleError{RetryAfter: retryAfter, Cause: cause}
}
