package security

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stickman-iot/gateway/internal/fabric"
	"github.com/stickman-iot/gateway/internal/model"
)

func newTestTransformer(t *testing.T) *Transformer {
	t.Helper()
	fab := fabric.New(fabric.Config{SensorQueueLen: 10, NetworkQueueLen: 50})
	return New(fab, zerolog.Nop())
}

func TestTransformEncryptsElevatedUnencryptedHead(t *testing.T) {
	tr := newTestTransformer(t)
	msg := model.Message{
		Data:     model.Reading{Type: model.Temperature, SensorID: 0, Value: 50.0, TimestampMs: 1000},
		Priority: model.PriorityElevated,
	}
	require.True(t, tr.fab.NetworkQueue.Put(msg, 0))

	tr.tryTransformHead()

	require.Equal(t, 1, tr.fab.NetworkQueue.Len())
	out, ok := tr.fab.NetworkQueue.TryGet()
	require.True(t, ok)
	assert.True(t, out.Encrypted)
	assert.NotEmpty(t, out.Ciphertext)
	assert.NotZero(t, out.Signature)
	assert.Equal(t, uint32(1), tr.stats.encrypted)
	assert.Equal(t, uint32(1), tr.stats.signed)
}

func TestTransformSkipsPriorityOne(t *testing.T) {
	tr := newTestTransformer(t)
	msg := model.Message{
		Data:     model.Reading{Type: model.Temperature, SensorID: 0, Value: 22.0, TimestampMs: 1000},
		Priority: model.PriorityNormal,
	}
	require.True(t, tr.fab.NetworkQueue.Put(msg, 0))

	tr.tryTransformHead()

	out, ok := tr.fab.NetworkQueue.TryGet()
	require.True(t, ok)
	assert.False(t, out.Encrypted)
	assert.Equal(t, uint32(0), tr.stats.encrypted)
}

func TestTransformSkipsAlreadyEncrypted(t *testing.T) {
	tr := newTestTransformer(t)
	msg := model.Message{
		Data:      model.Reading{Type: model.Motion, SensorID: 0, Value: 1.0, TimestampMs: 1000},
		Priority:  model.PriorityHigh,
		Encrypted: true,
	}
	require.True(t, tr.fab.NetworkQueue.Put(msg, 0))

	tr.tryTransformHead()

	assert.Equal(t, uint32(0), tr.stats.encrypted)
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	tr := newTestTransformer(t)
	plaintext := []byte("50.00|1000|temperature|0")

	ciphertext, err := tr.encrypt(plaintext)
	require.NoError(t, err)
	assert.NotEqual(t, plaintext, ciphertext)

	// XOR with the same key is its own inverse.
	recovered := make([]byte, len(ciphertext))
	for i, b := range ciphertext {
		recovered[i] = b ^ tr.aesKey[i%keySize]
	}
	assert.Equal(t, plaintext, recovered)
}

func TestEncryptRejectsOversizePayload(t *testing.T) {
	tr := newTestTransformer(t)
	oversized := make([]byte, maxEncryptedPayload+1)

	_, err := tr.encrypt(oversized)
	assert.Error(t, err)
}

func TestKeyRotationIncrementsCounterAndChangesKeys(t *testing.T) {
	tr := newTestTransformer(t)
	before := tr.aesKey

	tr.rotateKeys()

	assert.NotEqual(t, before, tr.aesKey)
	assert.Equal(t, uint32(1), tr.stats.rotations)
}
