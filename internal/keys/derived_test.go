package keys

import (
	"bytes"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ndjobi-platform/emergency-access/internal/domain"
)

func testFragments() Fragments {
	return Fragments{
		One:   []byte("fragment-one-material"),
		Two:   []byte("fragment-two-material"),
		Three: []byte("fragment-three-material"),
	}
}

func testProof() domain.AuthorizationProof {
	return domain.AuthorizationProof{
		OperatorID:     "op-1",
		JudicialAuthNo: "AJ-2025-00042",
	}
}

func TestDerive_Deterministic(t *testing.T) {
	// Одинаковый вход дает одинаковый ключ: на этом держится
	// повторный вывод после рестарта (Resume)
	k1, err := Derive(testFragments(), testProof(), "act-1")
	require.NoError(t, err)
	k2, err := Derive(testFragments(), testProof(), "act-1")
	require.NoError(t, err)

	sealed, err := k1.Seal([]byte("payload"))
	require.NoError(t, err)

	opened, err := k2.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), opened)
}

func TestDerive_DifferentActivationsDifferentKeys(t *testing.T) {
	k1, err := Derive(testFragments(), testProof(), "act-1")
	require.NoError(t, err)
	k2, err := Derive(testFragments(), testProof(), "act-2")
	require.NoError(t, err)

	sealed, err := k1.Seal([]byte("payload"))
	require.NoError(t, err)

	// Чужой ключ (и чужой AAD) не открывает шифртекст
	_, err = k2.Open(sealed)
	assert.Error(t, err)
}

func TestDerive_RequiresAllFragments(t *testing.T) {
	frags := testFragments()
	frags.Two = nil

	_, err := Derive(frags, testProof(), "act-1")
	assert.Error(t, err)
}

func TestSealOpen_Roundtrip(t *testing.T) {
	k, err := Derive(testFragments(), testProof(), "act-1")
	require.NoError(t, err)

	plain := bytes.Repeat([]byte("audio-chunk "), 100)
	sealed, err := k.Seal(plain)
	require.NoError(t, err)
	assert.NotContains(t, string(sealed), "audio-chunk")

	opened, err := k.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, plain, opened)
}

func TestDestroy_Idempotent(t *testing.T) {
	k, err := Derive(testFragments(), testProof(), "act-1")
	require.NoError(t, err)

	k.Destroy()
	k.Destroy() // Повторный вызов — no-op
	assert.True(t, k.Destroyed())

	_, err = k.Seal([]byte("payload"))
	assert.ErrorIs(t, err, ErrKeyDestroyed)
	_, err = k.Open([]byte("whatever"))
	assert.ErrorIs(t, err, ErrKeyDestroyed)
}

func TestDerivedKey_NeverLeaksMaterial(t *testing.T) {
	k, err := Derive(testFragments(), testProof(), "act-1")
	require.NoError(t, err)

	// fmt и json — два типовых пути случайной утечки в логи
	assert.Equal(t, "DerivedKey[REDACTED]", fmt.Sprintf("%v", k))

	_, err = json.Marshal(k)
	assert.Error(t, err)
}
