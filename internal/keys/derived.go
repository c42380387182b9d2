package keys

/*
Файл derived.go реализует Key Derivation Unit — эфемерный симметричный ключ окна.

Требования безопасности:
- Ключ выводится детерминированно (HKDF-SHA256) из трех независимо хранимых
  фрагментов конфигурации и контекста активации. Обратить вывод и восстановить
  фрагменты нельзя.
- Ключ живет только в памяти процесса и привязан к одной активации.
  При закрытии окна буфер затирается нулями, а не просто теряет ссылку.
- Тип не умеет сериализоваться: String и MarshalJSON отдают заглушку,
  так что случайный zap.Any или json.Marshal не утащит материал в логи.
*/

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/hkdf"

	"github.com/ndjobi-platform/emergency-access/internal/domain"
)

var ErrKeyDestroyed = errors.New("derived key already destroyed")

const keySize = 32 // AES-256

// Fragments — три фрагмента мастер-секрета. Поставляются конфигурацией
// (только ENV), в журналы не попадают никогда.
type Fragments struct {
	One   []byte
	Two   []byte
	Three []byte
}

// Valid проверяет, что все три фрагмента заданы.
func (f Fragments) Valid() bool {
	return len(f.One) > 0 && len(f.Two) > 0 && len(f.Three) > 0
}

// DerivedKey — одноразовый ключ, привязанный к конкретной активации.
type DerivedKey struct {
	mu           sync.Mutex
	material     []byte
	activationID string
	destroyed    bool
}

// Derive выводит ключ окна: HKDF(secret = frag1||frag2||frag3,
// salt = SHA256(activation_id), info = operator_id||judicial_no).
// Одинаковый вход всегда дает одинаковый ключ (детерминизм нужен тестам
// и повторному выводу на реплике), разные активации — разные ключи.
func Derive(frags Fragments, proof domain.AuthorizationProof, activationID string) (*DerivedKey, error) {
	if !frags.Valid() {
		return nil, errors.New("key fragments are not configured")
	}
	if activationID == "" {
		return nil, errors.New("activation id is required for key derivation")
	}

	secret := make([]byte, 0, len(frags.One)+len(frags.Two)+len(frags.Three))
	secret = append(secret, frags.One...)
	secret = append(secret, frags.Two...)
	secret = append(secret, frags.Three...)

	salt := sha256.Sum256([]byte(activationID))
	info := []byte(proof.OperatorID + "|" + proof.JudicialAuthNo)

	material := make([]byte, keySize)
	r := hkdf.New(sha256.New, secret, salt[:], info)
	if _, err := io.ReadFull(r, material); err != nil {
		return nil, fmt.Errorf("hkdf expand failed: %w", err)
	}

	// Промежуточный буфер с конкатенацией фрагментов затираем сразу
	zero(secret)

	return &DerivedKey{material: material, activationID: activationID}, nil
}

// ActivationID возвращает привязку ключа (сам материал не раскрывается).
func (k *DerivedKey) ActivationID() string { return k.activationID }

// Seal шифрует plaintext (AES-256-GCM, случайный nonce в префиксе).
func (k *DerivedKey) Seal(plaintext []byte) ([]byte, error) {
	aead, err := k.aead()
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("nonce generation failed: %w", err)
	}
	return aead.Seal(nonce, nonce, plaintext, []byte(k.activationID)), nil
}

// Open расшифровывает шифртекст, созданный Seal (или внешним writer'ом
// под этим же выведенным ключом).
func (k *DerivedKey) Open(ciphertext []byte) ([]byte, error) {
	aead, err := k.aead()
	if err != nil {
		return nil, err
	}

	if len(ciphertext) < aead.NonceSize() {
		return nil, errors.New("ciphertext too short")
	}
	nonce, data := ciphertext[:aead.NonceSize()], ciphertext[aead.NonceSize():]

	plaintext, err := aead.Open(nil, nonce, data, []byte(k.activationID))
	if err != nil {
		return nil, fmt.Errorf("decryption failed: %w", err)
	}
	return plaintext, nil
}

// Destroy затирает материал нулями. Идемпотентен; любой Seal/Open после —
// ErrKeyDestroyed.
func (k *DerivedKey) Destroy() {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.destroyed {
		return
	}
	zero(k.material)
	k.material = nil
	k.destroyed = true
}

// Destroyed сообщает, был ли ключ уже уничтожен.
func (k *DerivedKey) Destroyed() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.destroyed
}

// String намеренно не отдает материал (fmt.Stringer перехватывает %v/%s).
func (k *DerivedKey) String() string { return "DerivedKey[REDACTED]" }

// MarshalJSON блокирует случайную сериализацию ключа.
func (k *DerivedKey) MarshalJSON() ([]byte, error) {
	return nil, errors.New("derived key is not serializable")
}

func (k *DerivedKey) aead() (cipher.AEAD, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.destroyed {
		return nil, ErrKeyDestroyed
	}

	block, err := aes.NewCipher(k.material)
	if err != nil {
		return nil, fmt.Errorf("cipher init failed: %w", err)
	}
	return cipher.NewGCM(block)
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
