package messages

import (
	"time"

	"github.com/LeonardoBeccarini/greenhouse_monitor/internal/model/entities"
)

// ReadingEvent è una lettura live pubblicata dal simulatore su greenhouse/data/{gh}.
type ReadingEvent struct {
	GreenhouseID string                   `json:"greenhouse_id"`
	Type         entities.MeasurementType `json:"m_type"`
	Value        float64                  `json:"value"`
	Timestamp    time.Time                `json:"timestamp"`
}

// StateEvent trasporta un record di stato ricalcolato su greenhouse/state/{gh}.
type StateEvent struct {
	GreenhouseID string              `json:"greenhouse_id"`
	State        entities.StateLevel `json:"state"`
	Comment      string              `json:"comment"`
	Timestamp    time.Time           `json:"timestamp"`
}
