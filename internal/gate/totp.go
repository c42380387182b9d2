package gate

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// totpEpoch — длина эпохи одноразового кода (30 секунд).
const totpEpoch = 30 * time.Second

// codeLength — код показывается оператору как 6 hex-символов.
const codeLength = 6

// SecondFactor вычисляет и сверяет одноразовые коды второго фактора.
// Алгоритм: HMAC-SHA256("<operator_id>_<epoch>", secret), первые 6 символов hex.
type SecondFactor struct {
	secret []byte
	now    func() time.Time
}

func NewSecondFactor(secret []byte) *SecondFactor {
	return &SecondFactor{secret: secret, now: time.Now}
}

// CodeFor возвращает действующий код для оператора (для провижининга
// и тестов; наружу через API не отдается).
func (s *SecondFactor) CodeFor(operatorID string) string {
	return s.codeAt(operatorID, s.now().Unix()/int64(totpEpoch.Seconds()))
}

// Verify сверяет код в константное время. Принимаем текущую и предыдущую
// эпоху: оператор мог получить код за мгновение до границы 30 секунд.
func (s *SecondFactor) Verify(operatorID, code string) bool {
	epoch := s.now().Unix() / int64(totpEpoch.Seconds())
	for _, e := range []int64{epoch, epoch - 1} {
		expected := s.codeAt(operatorID, e)
		if hmac.Equal([]byte(expected), []byte(code)) {
			return true
		}
	}
	return false
}

func (s *SecondFactor) codeAt(operatorID string, epoch int64) string {
	mac := hmac.New(sha256.New, s.secret)
	fmt.Fprintf(mac, "%s_%d", operatorID, epoch)
	return hex.EncodeToString(mac.Sum(nil))[:codeLength]
}
