package model

import (
	"github.com/LeonardoBeccarini/greenhouse_monitor/internal/model/entities"
	"github.com/LeonardoBeccarini/greenhouse_monitor/internal/model/messages"
)

// Alias per esporre tipi comuni ai servizi

type (
	Region           = entities.Region
	Greenhouse       = entities.Greenhouse
	Fleet            = entities.Fleet
	Measurement      = entities.Measurement
	MeasurementType  = entities.MeasurementType
	RefreshScope     = entities.RefreshScope
	State            = entities.State
	StateLevel       = entities.StateLevel
	ReadingEvent     = messages.ReadingEvent
	StateEvent       = messages.StateEvent
	RefreshCommand   = messages.RefreshCommand
	RecomputeCommand = messages.RecomputeCommand
	RecomputedEvent  = messages.RecomputedEvent
)

const (
	StateOk      = entities.StateOk
	StateWarning = entities.StateWarning
	StateAlarm   = entities.StateAlarm

	RefreshAll = entities.RefreshAll
)

var MeasurementTypes = entities.MeasurementTypes
