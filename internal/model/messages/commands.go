package messages

import (
	"time"

	"github.com/LeonardoBeccarini/greenhouse_monitor/internal/model/entities"
)

// RefreshCommand chiede al simulatore una lettura immediata (command/refresh/{gh}).
type RefreshCommand struct {
	CommandID    string                `json:"command_id"`
	GreenhouseID string                `json:"greenhouse_id"`
	Scope        entities.RefreshScope `json:"m_type"`
	Timestamp    time.Time             `json:"timestamp"`
}

// RecomputeCommand chiede il ricalcolo della storia degli stati (command/recompute/{gh}).
type RecomputeCommand struct {
	TicketID     string    `json:"ticket_id"`
	GreenhouseID string    `json:"greenhouse_id"`
	From         time.Time `json:"from"`
	To           time.Time `json:"to"`
	Timestamp    time.Time `json:"timestamp"`
}

// RecomputedEvent chiude un RecomputeCommand (event/recomputed/{gh}).
type RecomputedEvent struct {
	TicketID     string    `json:"ticket_id"`
	GreenhouseID string    `json:"greenhouse_id"`
	States       int       `json:"states"`
	Status       string    `json:"status"` // "OK" | "FAIL"
	Reason       string    `json:"reason,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}
