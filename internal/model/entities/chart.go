package entities

import "time"

// ChartPoint è la proiezione di una Measurement sul grafico; conserva l'id del record sorgente.
type ChartPoint struct {
	X             time.Time `json:"x"`
	Y             float64   `json:"y"`
	MeasurementID string    `json:"measurement_id"`
}

// Series is one plotted line. Points is never nil.
type Series struct {
	GreenhouseID string          `json:"greenhouse_id"`
	Type         MeasurementType `json:"type"`
	Label        string          `json:"label"`
	Color        string          `json:"color"`
	From         time.Time       `json:"from"`
	To           time.Time       `json:"to"`
	Points       []ChartPoint    `json:"points"`
}

// StatusCount is the roll-up of current greenhouse states.
type StatusCount struct {
	Ok      int `json:"ok"`
	Warning int `json:"warning"`
	Alarm   int `json:"alarm"`
}

func (c StatusCount) Total() int { return c.Ok + c.Warning + c.Alarm }

// Add conta un livello nel contatore corrispondente.
func (c *StatusCount) Add(l StateLevel) {
	switch l {
	case StateOk:
		c.Ok++
	case StateWarning:
		c.Warning++
	case StateAlarm:
		c.Alarm++
	}
}
