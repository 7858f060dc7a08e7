package bridge

import (
	"github.com/shaunagostinho/dashbridge/internal/charge"
	"github.com/shaunagostinho/dashbridge/internal/vehicle"
)

// State is what the runner publishes after every cycle.
type State struct {
	Snapshot   *vehicle.Snapshot `json:"snapshot"`
	Decision   charge.Decision   `json:"decision"`
	Committed  vehicle.Reading   `json:"committedAmps"` // last setpoint the charger acknowledged
	Override   vehicle.Reading   `json:"overrideAmps"`
	IntervalMs int64             `json:"intervalMs"`
}
