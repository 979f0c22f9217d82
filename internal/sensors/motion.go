package sensors

import (
	"math/rand"
	"time"

	"github.com/rs/zerolog"

	"github.com/stickman-iot/gateway/internal/fabric"
	"github.com/stickman-iot/gateway/internal/model"
)

// MotionProducer is the single edge-triggered motion sensor. It polls
// Bernoulli(p=0.3) every 500ms but only enqueues on a false->true or
// true->false transition, inserting transitions at the front of the
// sensor queue to bypass pending bulk readings.
type MotionProducer struct {
	fab    *fabric.Fabric
	log    zerolog.Logger
	rng    *rand.Rand
	period time.Duration
	last   bool
}

// NewMotion constructs the motion producer.
func NewMotion(fab *fabric.Fabric, log zerolog.Logger) *MotionProducer {
	return &MotionProducer{
		fab:    fab,
		log:    log.With().Str("sensor", "motion").Logger(),
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		period: 500 * time.Millisecond,
	}
}

// Run polls for motion and enqueues on transitions only.
func (m *MotionProducer) Run() {
	m.log.Info().Dur("period", m.period).Msg("producer started")
	next := time.Now().Add(m.period)
	for {
		if m.fab.Events.Get()&fabric.EventShutdown != 0 {
			m.log.Info().Msg("producer shutting down")
			return
		}

		m.fab.Clock.SleepUntil(next)
		next = next.Add(m.period)

		if m.fab.Events.Get()&fabric.EventShutdown != 0 {
			m.log.Info().Msg("producer shutting down")
			return
		}

		detected := m.rng.Float64() < 0.3
		if detected == m.last {
			continue // no edge, nothing to report
		}
		m.last = detected

		value := float32(0)
		if detected {
			value = 1.0
		}
		reading := model.Reading{
			Type:        model.Motion,
			SensorID:    0,
			Value:       value,
			TimestampMs: m.fab.Clock.NowMs(),
		}

		if !m.fab.SensorQueue.PushFront(reading, 100*time.Millisecond) {
			m.log.Warn().Str("reading", reading.String()).Msg("sensor queue full, dropping motion edge")
		}
	}
}
