package processor

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stickman-iot/gateway/internal/fabric"
	"github.com/stickman-iot/gateway/internal/model"
)

func newTestProcessor(t *testing.T) *Processor {
	t.Helper()
	fab := fabric.New(fabric.Config{SensorQueueLen: 10, NetworkQueueLen: 50})
	return New(fab, zerolog.Nop(), 3, 2)
}

func reading(typ model.SensorType, id uint8, value float32) model.Reading {
	return model.Reading{Type: typ, SensorID: id, Value: value, TimestampMs: 0}
}

func TestStatisticsCorrectness(t *testing.T) {
	s := newStats(windowSize)
	samples := []float64{22, 22.1, 21.9, 22, 22.1}
	var sum, sumSq, min, max float64
	min, max = samples[0], samples[0]
	for _, v := range samples {
		sum += v
		sumSq += v * v
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
		s.update(v)
	}
	assert.Equal(t, min, s.min)
	assert.Equal(t, max, s.max)
	assert.InDelta(t, sum, s.sum, 1e-9)
	assert.InDelta(t, sumSq, s.sumSq, 1e-9)
	assert.Equal(t, uint32(len(samples)), s.count)
}

func TestMovingAverageOverMinCountWindow(t *testing.T) {
	s := newStats(windowSize)
	assert.Zero(t, s.movingAverage(), "no samples yet")

	s.update(10)
	s.update(20)
	assert.InDelta(t, 15.0, s.movingAverage(), 1e-9, "fewer than windowSize samples averages over count")

	for _, v := range []float64{30, 40, 50, 60} {
		s.update(v)
	}
	// window (size 5) now holds the 5 most recent samples: 20,30,40,50,60
	assert.InDelta(t, 40.0, s.movingAverage(), 1e-9)
}

func TestAnomalyDefinitionRequiresFullWindow(t *testing.T) {
	s := newStats(windowSize)
	s.update(22)
	s.update(22.1)
	// fewer than windowSize samples: never an anomaly regardless of value.
	assert.False(t, s.isAnomaly(500, windowSize, zThreshold))
}

func TestAnomalyDefinitionFlatStreamGuard(t *testing.T) {
	s := newStats(windowSize)
	for i := 0; i < windowSize; i++ {
		s.update(22.0)
	}
	// std == 0 on a perfectly flat stream: never an anomaly.
	assert.False(t, s.isAnomaly(22.0, windowSize, zThreshold))
	assert.False(t, s.isAnomaly(999.0, windowSize, zThreshold))
}

func TestAnomalyDefinitionZScore(t *testing.T) {
	s := newStats(windowSize)
	for _, v := range []float64{22, 22.1, 21.9, 22, 22.1} {
		s.update(v)
	}
	assert.False(t, s.isAnomaly(22.0, windowSize, zThreshold))
	assert.True(t, s.isAnomaly(50.0, windowSize, zThreshold))
}

func TestS1SteadyStateBatchesWithoutAnomaly(t *testing.T) {
	p := newTestProcessor(t)
	p.fab.Events.Set(fabric.EventMQTTConnected)

	samples := []float32{22, 22.1, 21.9, 22, 22.1, 22, 21.8, 22.2, 22, 22.1}
	for _, v := range samples {
		p.handle(reading(model.Temperature, 0, v))
	}

	assert.Len(t, p.batch, len(samples))
	for _, msg := range p.batch {
		assert.Equal(t, model.PriorityNormal, msg.Priority)
	}
	assert.Equal(t, 0, p.fab.NetworkQueue.Len())

	p.lastFlush = time.Now().Add(-batchTimeout - time.Millisecond)
	p.flushIfDue()

	assert.Empty(t, p.batch)
	assert.Equal(t, len(samples), p.fab.NetworkQueue.Len())
}

func TestS2AnomalyBypassesBatchAndIsImmediate(t *testing.T) {
	p := newTestProcessor(t)
	p.fab.Events.Set(fabric.EventMQTTConnected)

	for _, v := range []float32{22, 22.1, 21.9, 22, 22.1} {
		p.handle(reading(model.Temperature, 0, v))
	}
	batchBefore := len(p.batch)

	p.handle(reading(model.Temperature, 0, 50.0))

	assert.Equal(t, batchBefore, len(p.batch), "anomaly must not be appended to the batch")
	require.Equal(t, 1, p.fab.NetworkQueue.Len())
	msg, ok := p.fab.NetworkQueue.TryGet()
	require.True(t, ok)
	assert.Equal(t, model.PriorityElevated, msg.Priority)
}

func TestS3MotionEdgeEmitsImmediately(t *testing.T) {
	p := newTestProcessor(t)
	p.fab.Events.Set(fabric.EventMQTTConnected)

	p.handle(reading(model.Motion, 0, 1.0))

	require.Equal(t, 1, p.fab.NetworkQueue.Len())
	msg, ok := p.fab.NetworkQueue.TryGet()
	require.True(t, ok)
	assert.Equal(t, model.PriorityHigh, msg.Priority)
	assert.Empty(t, p.batch)
}

func TestS4BackPressureEvictsOldestForPriorityThree(t *testing.T) {
	p := newTestProcessor(t)
	p.fab.Events.Set(fabric.EventMQTTConnected)

	for i := 0; i < 50; i++ {
		require.True(t, p.fab.NetworkQueue.Put(model.Message{
			Data:     reading(model.Temperature, 0, float32(i)),
			Priority: model.PriorityNormal,
		}, time.Millisecond))
	}
	require.Equal(t, 50, p.fab.NetworkQueue.Len())

	p.handle(reading(model.Motion, 0, 1.0))

	assert.Equal(t, 50, p.fab.NetworkQueue.Len())
}

func TestOutOfRangeSensorIDIsDropped(t *testing.T) {
	p := newTestProcessor(t)
	p.fab.Events.Set(fabric.EventMQTTConnected)

	p.handle(reading(model.Temperature, 9, 22.0))

	assert.Empty(t, p.batch)
	assert.Equal(t, 0, p.fab.NetworkQueue.Len())
}

func TestRunSignalsDataReadyBeforeWaitingForMQTTSession(t *testing.T) {
	p := newTestProcessor(t)

	done := make(chan struct{})
	go func() {
		p.Run()
		close(done)
	}()

	require.Eventually(t, func() bool {
		return p.fab.Events.Get()&fabric.EventDataReady != 0
	}, time.Second, time.Millisecond, "Run must set EventDataReady even before an MQTT session exists")

	p.fab.Events.Set(fabric.EventShutdown)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not exit after EventShutdown was set")
	}
}

func TestBatchBufferFullDropsWithoutOverwrite(t *testing.T) {
	p := newTestProcessor(t)
	p.fab.Events.Set(fabric.EventMQTTConnected)

	for i := 0; i < batchSize; i++ {
		p.handle(reading(model.Temperature, 0, 22.0))
	}
	require.Len(t, p.batch, batchSize)
	first := p.batch[0]

	p.handle(reading(model.Temperature, 0, 22.05))

	assert.Len(t, p.batch, batchSize)
	assert.Equal(t, first, p.batch[0])
}
