// Package processor implements the gateway's data processor: the single
// consumer of the sensor queue and single producer onto the network
// queue, holding per-sensor running statistics and the priority/batching
// policy between them.
package processor

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/stickman-iot/gateway/internal/fabric"
	"github.com/stickman-iot/gateway/internal/model"
)

const (
	windowSize    = 5
	zThreshold    = 3.0
	batchSize     = 10
	batchTimeout  = 5 * time.Second
	dequeueWait   = 100 * time.Millisecond
	emitWait      = 100 * time.Millisecond
	batchFlushPut = 50 * time.Millisecond
)

type streamKey struct {
	typ model.SensorType
	id  uint8
}

// Processor owns every per-sensor statistics record and the batch buffer.
// It is the sole writer of both; no other task touches either.
type Processor struct {
	fab *fabric.Fabric
	log zerolog.Logger

	numTemp     int
	numHumidity int

	streams map[streamKey]*stats

	batch     []model.Message
	lastFlush time.Time

	onProcessed func()
	onDropped   func()
}

// New constructs a Processor. numTemp/numHumidity bound the valid
// sensor_id range per type for dispatch: readings outside their declared
// range are dropped with a diagnostic.
func New(fab *fabric.Fabric, log zerolog.Logger, numTemp, numHumidity int) *Processor {
	p := &Processor{
		fab:         fab,
		log:         log.With().Str("component", "processor").Logger(),
		numTemp:     numTemp,
		numHumidity: numHumidity,
		streams:     make(map[streamKey]*stats),
		batch:       make([]model.Message, 0, batchSize),
		lastFlush:   time.Now(),
	}
	for id := 0; id < numTemp; id++ {
		p.streams[streamKey{model.Temperature, uint8(id)}] = newStats(windowSize)
	}
	for id := 0; id < numHumidity; id++ {
		p.streams[streamKey{model.Humidity, uint8(id)}] = newStats(windowSize)
	}
	p.streams[streamKey{model.Motion, 0}] = newStats(windowSize)
	return p
}

// OnProcessed and OnDropped register callbacks invoked once per reading
// that reaches each outcome, so the monitor's processed/dropped message
// counters can track totals without the processor importing the monitor
// package.
func (p *Processor) OnProcessed(fn func()) { p.onProcessed = fn }
func (p *Processor) OnDropped(fn func())   { p.onDropped = fn }

// Run signals EventDataReady once its per-sensor statistics are
// initialized (they already are, by New), gating the network task's
// main loop on it, then blocks on EventMQTTConnected to establish the
// delivery guarantee that the first batches coincide with a live broker
// session before draining the sensor queue until shutdown.
func (p *Processor) Run() {
	p.fab.Events.Set(fabric.EventDataReady)
	p.log.Info().Msg("processor waiting for mqtt session")
	for {
		if p.fab.Events.Get()&fabric.EventShutdown != 0 {
			return
		}
		if _, ok := p.fab.Events.Wait(fabric.EventMQTTConnected, fabric.WaitAll, false, time.Second); ok {
			break
		}
	}
	p.log.Info().Msg("processor started")

	for {
		if p.fab.Events.Get()&fabric.EventShutdown != 0 {
			p.log.Info().Msg("processor shutting down")
			return
		}

		reading, ok := p.fab.SensorQueue.Get(dequeueWait)
		if ok {
			p.handle(reading)
		}

		p.flushIfDue()
	}
}

// handle implements the full per-reading pipeline: dispatch, anomaly test,
// stats update, moving average, classification, and cache update.
func (p *Processor) handle(r model.Reading) {
	if !p.inRange(r) {
		p.log.Warn().Str("reading", r.String()).Msg("sensor_id out of declared range, dropping")
		p.notifyDropped()
		return
	}

	key := streamKey{r.Type, r.SensorID}
	s := p.streams[key]

	value := float64(r.Value)
	anomaly := s.isAnomaly(value, windowSize, zThreshold)
	s.update(value)
	avg := s.movingAverage()

	p.log.Debug().
		Str("type", r.Type.String()).
		Uint8("id", r.SensorID).
		Float64("value", value).
		Float64("avg", avg).
		Bool("anomaly", anomaly).
		Msg("reading processed")

	p.fab.LatestReadings.Update(r)

	motionEvent := r.Type == model.Motion && r.Value > 0.5

	switch {
	case motionEvent:
		p.emitNow(model.Message{Data: r, Priority: model.PriorityHigh})
	case anomaly:
		p.emitNow(model.Message{Data: r, Priority: model.PriorityElevated})
	default:
		p.appendBatch(model.Message{Data: r, Priority: model.PriorityNormal})
	}
}

func (p *Processor) notifyProcessed() {
	if p.onProcessed != nil {
		p.onProcessed()
	}
}

func (p *Processor) notifyDropped() {
	if p.onDropped != nil {
		p.onDropped()
	}
}

func (p *Processor) inRange(r model.Reading) bool {
	switch r.Type {
	case model.Temperature:
		return int(r.SensorID) < p.numTemp
	case model.Humidity:
		return int(r.SensorID) < p.numHumidity
	case model.Motion:
		return r.SensorID == 0
	default:
		return false
	}
}

// emitNow implements the priority>=2 immediate-emission path, including
// the network queue's eviction admission control reserved for priority 3:
// a full queue gives way to the newest high-priority message rather than
// dropping it outright.
func (p *Processor) emitNow(msg model.Message) {
	if p.fab.NetworkQueue.Put(msg, emitWait) {
		p.notifyProcessed()
		return
	}

	if msg.Priority != model.PriorityHigh {
		p.log.Warn().Str("reading", msg.Data.String()).Msg("network queue full, dropping")
		p.notifyDropped()
		return
	}

	if _, evicted := p.fab.NetworkQueue.TryGet(); evicted {
		if p.fab.NetworkQueue.TryPut(msg) {
			p.log.Warn().Str("reading", msg.Data.String()).Msg("network queue full, evicted oldest for priority-3 message")
			p.notifyProcessed() // the incoming message was admitted; the evicted one counts as dropped
			p.notifyDropped()
			return
		}
	}
	p.log.Warn().Str("reading", msg.Data.String()).Msg("network queue full, priority-3 message dropped after eviction attempt")
	p.notifyDropped()
}

// appendBatch implements the priority-1 batching path: readings append to
// the batch buffer; if the buffer is full, the reading is dropped with a
// diagnostic rather than overwriting an older one.
func (p *Processor) appendBatch(msg model.Message) {
	if len(p.batch) >= batchSize {
		p.log.Warn().Str("reading", msg.Data.String()).Msg("batch buffer full, dropping")
		p.notifyDropped()
		return
	}
	p.batch = append(p.batch, msg)
	p.notifyProcessed()
}

// flushIfDue drains the batch into the network queue once it has aged
// past batchTimeout, best-effort per message.
func (p *Processor) flushIfDue() {
	if len(p.batch) == 0 {
		return
	}
	if time.Since(p.lastFlush) <= batchTimeout {
		return
	}

	for _, msg := range p.batch {
		if !p.fab.NetworkQueue.Put(msg, batchFlushPut) {
			p.log.Warn().Str("reading", msg.Data.String()).Msg("network queue full during batch flush, dropping")
			p.notifyDropped()
		}
	}
	p.batch = p.batch[:0]
	p.lastFlush = time.Now()
}
