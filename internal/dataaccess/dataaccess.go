// Package dataaccess is the single fetch/mutation contract used by the monitoring
// components, independent of where the data comes from.
package dataaccess

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/LeonardoBeccarini/greenhouse_monitor/internal/logging"
	"github.com/LeonardoBeccarini/greenhouse_monitor/internal/model/entities"
	simulator "github.com/LeonardoBeccarini/greenhouse_monitor/internal/sensor-simulator"
)

// DataAccess: ogni lettura restituisce uno snapshot completo, ogni scrittura un ack booleano.
// Nessuna implementazione ritenta le chiamate fallite.
type DataAccess interface {
	ListRegions(ctx context.Context) ([]entities.Region, error)
	ListGreenhouses(ctx context.Context) ([]entities.Greenhouse, error)
	// GetMeasurements returns records ascending by created_at.
	GetMeasurements(ctx context.Context, greenhouseID string, t entities.MeasurementType, from, to time.Time) ([]entities.Measurement, error)
	TriggerMeasurementRefresh(ctx context.Context, greenhouseID string, scope entities.RefreshScope) (bool, error)
	FixMeasurement(ctx context.Context, measurementID string, value float64) (bool, error)
	// GetStates returns records in no particular order.
	GetStates(ctx context.Context, greenhouseID string, from, to time.Time) ([]entities.State, error)
	// TriggerStateRecompute può durare minuti; non ha timeout, termina solo con ctx.
	TriggerStateRecompute(ctx context.Context, greenhouseID string) (bool, error)
	CommentState(ctx context.Context, stateID, comment string) (bool, error)
}

// ErrNotFound is returned for unknown greenhouse, measurement or state ids.
var ErrNotFound = errors.New("not found")

// TransportError: la richiesta non è stata completata.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: transport failure: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ValidationError: input utente non valido (valore non numerico, commento malformato).
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// MaxCommentLength in rune.
const MaxCommentLength = 1000

// NormalizeComment trims the comment and rejects control characters and oversize text.
// An empty comment is valid and clears the previous one.
func NormalizeComment(comment string) (string, error) {
	c := strings.TrimSpace(comment)
	if !utf8.ValidString(c) {
		return "", &ValidationError{Field: "comment", Reason: "not valid UTF-8"}
	}
	if n := utf8.RuneCountInString(c); n > MaxCommentLength {
		return "", &ValidationError{Field: "comment", Reason: fmt.Sprintf("too long (%d > %d)", n, MaxCommentLength)}
	}
	for _, r := range c {
		if unicode.IsControl(r) && r != '\n' && r != '\t' {
			return "", &ValidationError{Field: "comment", Reason: "contains control characters"}
		}
	}
	return c, nil
}

type Mode string

const (
	// ModeMock serve i dati dal generatore sintetico.
	ModeMock Mode = "mock"
	// ModeLive parla con l'API dello storico.
	ModeLive Mode = "live"
)

type Config struct {
	Mode    Mode
	BaseURL string
	Timeout time.Duration

	BreakerFailures int
	BreakerOpenFor  time.Duration
	BreakerInterval time.Duration

	Fleet          entities.Fleet
	Generator      *simulator.Generator
	RecomputeDelay time.Duration

	Logger logging.Logger
}

// New routes to the synthetic generator (mock) or to the historian API (live).
func New(cfg Config) (DataAccess, error) {
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNop()
	}
	switch cfg.Mode {
	case ModeMock, "":
		fleet := cfg.Fleet
		if len(fleet.Greenhouses) == 0 {
			fleet = entities.DefaultFleet()
		}
		if err := fleet.Validate(); err != nil {
			return nil, fmt.Errorf("dataaccess: %w", err)
		}
		opts := []SimulatedOption{WithLogger(cfg.Logger)}
		if cfg.Generator != nil {
			opts = append(opts, WithGenerator(cfg.Generator))
		}
		if cfg.RecomputeDelay > 0 {
			opts = append(opts, WithRecomputeDelay(cfg.RecomputeDelay))
		}
		return NewSimulated(fleet, opts...), nil
	case ModeLive:
		if strings.TrimSpace(cfg.BaseURL) == "" {
			return nil, fmt.Errorf("dataaccess: live mode requires a base URL")
		}
		return NewHTTPClient(HTTPConfig{
			BaseURL:         cfg.BaseURL,
			Timeout:         cfg.Timeout,
			BreakerFailures: cfg.BreakerFailures,
			BreakerOpenFor:  cfg.BreakerOpenFor,
			BreakerInterval: cfg.BreakerInterval,
			Logger:          cfg.Logger,
		}), nil
	}
	return nil, fmt.Errorf("dataaccess: unknown mode %q", cfg.Mode)
}
