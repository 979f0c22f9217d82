// Package model holds the data shared across the gateway's pipeline:
// sensor readings, network messages, and the small enums that classify them.
package model

import "fmt"

// SensorType identifies which kind of sensor produced a Reading.
type SensorType uint8

const (
	Temperature SensorType = iota
	Humidity
	Motion
)

// String renders the sensor type the way it appears on the wire: the
// topic segment and the payload "type" field.
func (t SensorType) String() string {
	switch t {
	case Temperature:
		return "temperature"
	case Humidity:
		return "humidity"
	case Motion:
		return "motion"
	default:
		return "unknown"
	}
}

// Reading is a single immutable sample produced by a sensor. Ownership
// transfers into the sensor queue once enqueued; nothing mutates a Reading
// after construction.
type Reading struct {
	Type        SensorType
	SensorID    uint8
	Value       float32
	TimestampMs uint32
}

func (r Reading) String() string {
	return fmt.Sprintf("%s[%d]=%.2f@%d", r.Type, r.SensorID, r.Value, r.TimestampMs)
}

// Priority classifies how urgently a Message must reach the broker.
type Priority uint8

const (
	// PriorityNormal is an ordinary batched reading.
	PriorityNormal Priority = 1
	// PriorityElevated marks an anomaly (z-score over threshold).
	PriorityElevated Priority = 2
	// PriorityHigh marks a motion detection event; bypasses batching.
	PriorityHigh Priority = 3
)

// Message wraps a Reading with the delivery metadata the processor,
// security transformer, and network client attach as it moves downstream.
// Ciphertext and Signature are populated only once Encrypted is set by the
// security transformer; the wire payload schema is fixed and does not
// carry them, so they exist purely as the diagnostic record of what the
// placeholder transform produced.
type Message struct {
	Data       Reading
	Encrypted  bool
	Priority   Priority
	Ciphertext []byte
	Signature  uint32
}
