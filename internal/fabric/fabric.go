package fabric

import (
	"os"

	"github.com/stickman-iot/gateway/internal/model"
)

// Fabric is the process-wide concurrency backbone handed to every task by
// reference, constructed once at startup. Tasks hold no shared mutable
// state beyond what it encapsulates: the bounded queues, the event
// bitset, the console mutex, and the clock.
type Fabric struct {
	SensorQueue    *Queue[model.Reading]
	NetworkQueue   *Queue[model.Message]
	Events         *EventBits
	Console        *Console
	Clock          *Clock
	LatestReadings *LatestCache
}

// Config bounds the two queues; everything else in Fabric is unconditional.
type Config struct {
	SensorQueueLen  int
	NetworkQueueLen int
}

// New constructs a Fabric. Queue construction panics on a non-positive
// capacity (fabric.NewQueue), the one fatal-startup condition this
// package surfaces; callers should validate Config before calling New in
// a context where a panic cannot be recovered into a clean exit.
func New(cfg Config) *Fabric {
	return &Fabric{
		SensorQueue:    NewQueue[model.Reading](cfg.SensorQueueLen),
		NetworkQueue:   NewQueue[model.Message](cfg.NetworkQueueLen),
		Events:         NewEventBits(),
		Console:        NewConsole(os.Stderr),
		Clock:          NewClock(),
		LatestReadings: NewLatestCache(),
	}
}
