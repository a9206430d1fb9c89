package entities

import (
	"fmt"
	"time"
)

// MeasurementType identifica la grandezza fisica misurata.
type MeasurementType string

const (
	Temperature MeasurementType = "T"
	Humidity    MeasurementType = "phi"
	Acidity     MeasurementType = "pH"
)

// MeasurementTypes in display order.
var MeasurementTypes = []MeasurementType{Temperature, Humidity, Acidity}

func ParseMeasurementType(s string) (MeasurementType, error) {
	switch MeasurementType(s) {
	case Temperature, Humidity, Acidity:
		return MeasurementType(s), nil
	}
	return "", fmt.Errorf("unknown measurement type %q", s)
}

// Label is the chart legend for the type.
func (t MeasurementType) Label() string {
	switch t {
	case Temperature:
		return "Температура (°C)"
	case Humidity:
		return "Влажность (%)"
	case Acidity:
		return "pH"
	}
	return string(t)
}

// Color is the hex line colour used when plotting the type.
func (t MeasurementType) Color() string {
	switch t {
	case Temperature:
		return "#1976d2"
	case Humidity:
		return "#43a047"
	case Acidity:
		return "#fb8c00"
	}
	return "#757575"
}

// RefreshScope è il tipo di misura da aggiornare, oppure "all".
type RefreshScope string

const RefreshAll RefreshScope = "all"

func ParseRefreshScope(s string) (RefreshScope, error) {
	if RefreshScope(s) == RefreshAll {
		return RefreshAll, nil
	}
	t, err := ParseMeasurementType(s)
	if err != nil {
		return "", fmt.Errorf("unknown refresh scope %q", s)
	}
	return RefreshScope(t), nil
}

// Types espande lo scope nei tipi concreti.
func (s RefreshScope) Types() []MeasurementType {
	if s == RefreshAll {
		out := make([]MeasurementType, len(MeasurementTypes))
		copy(out, MeasurementTypes)
		return out
	}
	return []MeasurementType{MeasurementType(s)}
}

// Measurement is a single sensor reading. The type is not stored on the record.
type Measurement struct {
	ID           string    `json:"measurement_id"`
	GreenhouseID string    `json:"greenhouse_id"`
	CreatedAt    time.Time `json:"created_at"`
	Value        float64   `json:"value"`
}
