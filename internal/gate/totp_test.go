package gate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSecondFactor_AcceptsCurrentEpoch(t *testing.T) {
	sf := NewSecondFactor([]byte("shared-secret"))
	code := sf.CodeFor("op-1")

	assert.Len(t, code, codeLength)
	assert.True(t, sf.Verify("op-1", code))
}

func TestSecondFactor_AcceptsPreviousEpoch(t *testing.T) {
	sf := NewSecondFactor([]byte("shared-secret"))

	// Код получен за мгновение до границы 30-секундной эпохи
	base := time.Now()
	sf.now = func() time.Time { return base }
	code := sf.CodeFor("op-1")

	sf.now = func() time.Time { return base.Add(totpEpoch) }
	assert.True(t, sf.Verify("op-1", code))
}

func TestSecondFactor_RejectsStaleAndForeignCodes(t *testing.T) {
	sf := NewSecondFactor([]byte("shared-secret"))

	base := time.Now()
	sf.now = func() time.Time { return base }
	code := sf.CodeFor("op-1")

	// Код двухэпоходной давности уже мертв
	sf.now = func() time.Time { return base.Add(2 * totpEpoch) }
	assert.False(t, sf.Verify("op-1", code))

	// Код одного оператора не подходит другому
	sf.now = func() time.Time { return base }
	assert.False(t, sf.Verify("op-2", code))

	assert.False(t, sf.Verify("op-1", ""))
	assert.False(t, sf.Verify("op-1", "zzzzzz"))
}
