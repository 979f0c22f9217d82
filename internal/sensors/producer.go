// Package sensors implements the gateway's sensor producers: periodic
// temperature and humidity samplers and an edge-triggered motion sensor,
// each feeding the shared sensor queue.
package sensors

import (
	"math"
	"math/rand"
	"time"

	"github.com/rs/zerolog"

	"github.com/stickman-iot/gateway/internal/fabric"
	"github.com/stickman-iot/gateway/internal/model"
)

// Producer runs one simulated sensor's periodic loop.
type Producer struct {
	fab    *fabric.Fabric
	log    zerolog.Logger
	typ    model.SensorType
	id     uint8
	period time.Duration
	rng    *rand.Rand
}

// NewTemperature constructs a temperature producer for sensor id, sampling
// every second.
func NewTemperature(fab *fabric.Fabric, log zerolog.Logger, id uint8) *Producer {
	return &Producer{fab: fab, log: log.With().Str("sensor", "temperature").Uint8("id", id).Logger(),
		typ: model.Temperature, id: id, period: time.Second, rng: rand.New(rand.NewSource(int64(id) + 1))}
}

// NewHumidity constructs a humidity producer for sensor id, sampling at 2s.
func NewHumidity(fab *fabric.Fabric, log zerolog.Logger, id uint8) *Producer {
	return &Producer{fab: fab, log: log.With().Str("sensor", "humidity").Uint8("id", id).Logger(),
		typ: model.Humidity, id: id, period: 2 * time.Second, rng: rand.New(rand.NewSource(int64(id) + 101))}
}

// sample returns the next simulated reading value. tSec is the elapsed
// simulated time in seconds, used by the temperature diurnal term.
func (p *Producer) sample(tSec float64) float32 {
	switch p.typ {
	case model.Temperature:
		noise := -2.5 + p.rng.Float64()*5.0 // U(-2.5, 2.5)
		return float32(20 + 2*float64(p.id) + noise + 3*math.Sin(tSec/60))
	case model.Humidity:
		noise := -10 + p.rng.Float64()*20.0 // U(-10, 10)
		return float32(50 + 5*float64(p.id) + noise)
	default:
		return 0
	}
}

// Run drives the producer's periodic loop until EventShutdown is set.
// Wake-ups use the fabric clock's absolute-deadline sleep so jitter from a
// slow enqueue never drifts the next sample's timing.
func (p *Producer) Run() {
	p.log.Info().Dur("period", p.period).Msg("producer started")
	next := time.Now().Add(p.period)
	for {
		if p.fab.Events.Get()&fabric.EventShutdown != 0 {
			p.log.Info().Msg("producer shutting down")
			return
		}

		p.fab.Clock.SleepUntil(next)
		next = next.Add(p.period)

		if p.fab.Events.Get()&fabric.EventShutdown != 0 {
			p.log.Info().Msg("producer shutting down")
			return
		}

		reading := model.Reading{
			Type:        p.typ,
			SensorID:    p.id,
			Value:       p.sample(float64(p.fab.Clock.NowMs()) / 1000.0),
			TimestampMs: p.fab.Clock.NowMs(),
		}

		if !p.fab.SensorQueue.Put(reading, 100*time.Millisecond) {
			p.log.Warn().Str("reading", reading.String()).Msg("sensor queue full, dropping reading")
		}
	}
}
