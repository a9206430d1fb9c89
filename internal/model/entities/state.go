package entities

import (
	"fmt"
	"time"
)

// StateLevel is the health classification of a greenhouse.
type StateLevel int

const (
	StateOk StateLevel = iota
	StateWarning
	StateAlarm
)

// ParseStateLevel rifiuta i valori fuori dall'enumerazione invece di ricadere su un default.
func ParseStateLevel(v int) (StateLevel, error) {
	switch StateLevel(v) {
	case StateOk, StateWarning, StateAlarm:
		return StateLevel(v), nil
	}
	return 0, fmt.Errorf("unknown state level %d", v)
}

func (l StateLevel) Valid() bool {
	_, err := ParseStateLevel(int(l))
	return err == nil
}

// Label is the operator-facing text of the level.
func (l StateLevel) Label() string {
	switch l {
	case StateOk:
		return "Норма"
	case StateWarning:
		return "Предупреждение"
	case StateAlarm:
		return "Авария"
	}
	panic(fmt.Sprintf("entities: unmapped state level %d", int(l)))
}

// Class is the short style key of the level.
func (l StateLevel) Class() string {
	switch l {
	case StateOk:
		return "ok"
	case StateWarning:
		return "warning"
	case StateAlarm:
		return "alarm"
	}
	panic(fmt.Sprintf("entities: unmapped state level %d", int(l)))
}

func (l StateLevel) String() string {
	if !l.Valid() {
		return fmt.Sprintf("StateLevel(%d)", int(l))
	}
	return l.Class()
}

// State is a point-in-time health record of a greenhouse, with a mutable comment.
type State struct {
	ID           string     `json:"state_id"`
	GreenhouseID string     `json:"greenhouse_id"`
	CreatedAt    time.Time  `json:"created_at"`
	State        StateLevel `json:"state"`
	Comment      string     `json:"comment"`
}

// Latest restituisce il record con created_at massimo; a parità vince il primo visto.
func Latest(states []State) (State, bool) {
	if len(states) == 0 {
		return State{}, false
	}
	best := 0
	for i := 1; i < len(states); i++ {
		if states[i].CreatedAt.After(states[best].CreatedAt) {
			best = i
		}
	}
	return states[best], true
}
