// Package security implements the gateway's security transformer: a
// deliberately trivial placeholder crypto layer (XOR stream +
// DJB2-derived signature) standing in for field-tested primitives such as
// AES-GCM or ChaCha20-Poly1305.
package security

import (
	"crypto/rand"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/stickman-iot/gateway/internal/fabric"
	"github.com/stickman-iot/gateway/internal/model"
)

const (
	keySize             = 32
	maxEncryptedPayload = 512
	peekPeriod          = 100 * time.Millisecond
	reportPeriod        = 30 * time.Second
	rotationInterval    = time.Hour
)

// stats tracks the transformer's running counters, reported on the
// diagnostic channel and via Prometheus counters every 30s.
type stats struct {
	encrypted uint32
	signed    uint32
	rotations uint32
	errors    uint32
}

// Transformer owns its own key material and statistics exclusively; no
// other task touches either.
type Transformer struct {
	fab *fabric.Fabric
	log zerolog.Logger

	aesKey     [keySize]byte
	sessionKey [keySize]byte
	lastRotate time.Time

	stats stats

	// onStats, if set, is invoked with the current counters on every
	// periodic report so the monitor can mirror them as Prometheus counters
	// without the security package importing client_golang directly.
	onStats func(encrypted, signed, rotations, errors uint32)
}

// New constructs a Transformer and generates its initial key material.
func New(fab *fabric.Fabric, log zerolog.Logger) *Transformer {
	t := &Transformer{
		fab:        fab,
		log:        log.With().Str("component", "security").Logger(),
		lastRotate: time.Now(),
	}
	t.generateKeys()
	return t
}

// OnStats registers a callback invoked with the running counters whenever
// they are reported (every 30s). Intended for wiring into the monitor's
// Prometheus counters.
func (t *Transformer) OnStats(fn func(encrypted, signed, rotations, errors uint32)) {
	t.onStats = fn
}

func (t *Transformer) generateKeys() {
	_, _ = rand.Read(t.aesKey[:])
	_, _ = rand.Read(t.sessionKey[:])
}

func (t *Transformer) rotateKeys() {
	t.generateKeys()
	t.stats.rotations++
	t.lastRotate = time.Now()
	t.log.Info().Uint32("rotation", t.stats.rotations).Msg("key rotation completed")
}

// Run peeks network_q at the configured cadence, transforming eligible
// messages in place, until EventShutdown is set.
func (t *Transformer) Run() {
	t.log.Info().Msg("security transformer started")
	lastReport := time.Now()

	for {
		if t.fab.Events.Get()&fabric.EventShutdown != 0 {
			t.log.Info().Msg("security transformer shutting down")
			return
		}

		if time.Since(t.lastRotate) > rotationInterval {
			t.rotateKeys()
		}

		t.tryTransformHead()

		if time.Since(lastReport) > reportPeriod {
			t.report()
			lastReport = time.Now()
		}

		time.Sleep(peekPeriod)
	}
}

// tryTransformHead implements the peek/remove/transform/re-enqueue
// sequence. The queue's own mutex makes the peek and the conditional
// remove individually atomic, but not atomic with respect to each other;
// this race is accepted as-is here (see DESIGN.md).
func (t *Transformer) tryTransformHead() {
	msg, ok := t.fab.NetworkQueue.Peek()
	if !ok || msg.Encrypted || msg.Priority < model.PriorityElevated {
		return
	}

	msg, ok = t.fab.NetworkQueue.TryGet()
	if !ok {
		return
	}
	// Re-check after removal: another consumer of the same head (the
	// network task) cannot also have dequeued it since TryGet is
	// queue-exclusive, but the message may no longer be the one peeked
	// if this goroutine lost a race with a concurrent call; re-validate
	// before transforming and simply re-enqueue untouched otherwise.
	if msg.Encrypted || msg.Priority < model.PriorityElevated {
		t.requeue(msg)
		return
	}

	status := fmt.Sprintf("%.2f|%d|%s|%d", msg.Data.Value, msg.Data.TimestampMs, msg.Data.Type, msg.Data.SensorID)
	plaintext := []byte(status)

	ciphertext, err := t.encrypt(plaintext)
	if err != nil {
		t.stats.errors++
		t.log.Warn().Err(err).Msg("encryption failed, message left unmodified")
		t.requeue(msg)
		return
	}
	t.stats.encrypted++

	msg.Ciphertext = ciphertext
	msg.Signature = t.sign(ciphertext)
	t.stats.signed++
	msg.Encrypted = true

	t.requeue(msg)

	t.log.Debug().
		Str("reading", msg.Data.String()).
		Uint32("signature", msg.Signature).
		Msg("encrypted and signed")
}

func (t *Transformer) requeue(msg model.Message) {
	if !t.fab.NetworkQueue.Put(msg, 100*time.Millisecond) {
		t.log.Warn().Str("reading", msg.Data.String()).Msg("network queue full, could not re-enqueue transformed message")
	}
}

// encrypt applies the stream XOR placeholder.
func (t *Transformer) encrypt(plaintext []byte) ([]byte, error) {
	if len(plaintext) > maxEncryptedPayload {
		return nil, fmt.Errorf("payload of %d bytes exceeds max encrypted size %d", len(plaintext), maxEncryptedPayload)
	}
	ciphertext := make([]byte, len(plaintext))
	for i, b := range plaintext {
		ciphertext[i] = b ^ t.aesKey[i%keySize]
	}
	return ciphertext, nil
}

// sign computes the DJB2-derived signature, XORed with the session key's
// own hash.
func (t *Transformer) sign(data []byte) uint32 {
	return djb2(data) ^ djb2(t.sessionKey[:])
}

func djb2(data []byte) uint32 {
	var hash uint32 = 5381
	for _, b := range data {
		hash = hash*33 + uint32(b)
	}
	return hash
}

func (t *Transformer) report() {
	t.log.Info().
		Uint32("encrypted", t.stats.encrypted).
		Uint32("signed", t.stats.signed).
		Uint32("rotations", t.stats.rotations).
		Uint32("errors", t.stats.errors).
		Msg("security stats")
	if t.onStats != nil {
		t.onStats(t.stats.encrypted, t.stats.signed, t.stats.rotations, t.stats.errors)
	}
}
