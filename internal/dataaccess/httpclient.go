package dataaccess

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/LeonardoBeccarini/greenhouse_monitor/internal/logging"
	"github.com/LeonardoBeccarini/greenhouse_monitor/internal/model/entities"
)

type HTTPConfig struct {
	BaseURL string
	Timeout time.Duration

	BreakerFailures int
	BreakerOpenFor  time.Duration
	BreakerInterval time.Duration

	Logger logging.Logger
}

// HTTPClient parla con l'API REST dello storico. Un circuit breaker protegge
// l'upstream; il ricalcolo usa un client senza timeout.
type HTTPClient struct {
	base    string
	client  *http.Client
	slow    *http.Client
	breaker *gobreaker.CircuitBreaker
	log     logging.Logger
}

var _ DataAccess = (*HTTPClient)(nil)

func NewHTTPClient(cfg HTTPConfig) *HTTPClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.BreakerFailures < 1 {
		cfg.BreakerFailures = 5
	}
	if cfg.BreakerOpenFor <= 0 {
		cfg.BreakerOpenFor = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNop()
	}
	fails := uint32(cfg.BreakerFailures)
	log := cfg.Logger
	return &HTTPClient{
		base:   strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		client: &http.Client{Timeout: cfg.Timeout},
		slow:   &http.Client{},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:     "historian",
			Interval: cfg.BreakerInterval,
			Timeout:  cfg.BreakerOpenFor,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= fails
			},
			// 404 e 400 sono risposte valide dell'upstream, non guasti;
			// una richiesta abbandonata dal chiamante non dice nulla sull'upstream
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, ErrNotFound) || IsValidation(err) || errors.Is(err, context.Canceled)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Warnf("breaker %s: %s -> %s", name, from, to)
			},
		}),
		log: log,
	}
}

func (c *HTTPClient) ListRegions(ctx context.Context) ([]entities.Region, error) {
	var out []entities.Region
	if err := c.do(ctx, c.client, "list regions", http.MethodGet, "/regions", nil, nil, &out); err != nil {
		return nil, err
	}
	return nonNil(out), nil
}

func (c *HTTPClient) ListGreenhouses(ctx context.Context) ([]entities.Greenhouse, error) {
	var out []entities.Greenhouse
	if err := c.do(ctx, c.client, "list greenhouses", http.MethodGet, "/greenhouses", nil, nil, &out); err != nil {
		return nil, err
	}
	return nonNil(out), nil
}

func (c *HTTPClient) GetMeasurements(ctx context.Context, greenhouseID string, t entities.MeasurementType, from, to time.Time) ([]entities.Measurement, error) {
	q := url.Values{}
	q.Set("m_type", string(t))
	q.Set("dt_from", from.UTC().Format(time.RFC3339))
	q.Set("dt_to", to.UTC().Format(time.RFC3339))

	var out []entities.Measurement
	if err := c.do(ctx, c.client, "get measurements", http.MethodGet, "/measurement/"+url.PathEscape(greenhouseID), q, nil, &out); err != nil {
		return nil, err
	}
	return nonNil(out), nil
}

func (c *HTTPClient) TriggerMeasurementRefresh(ctx context.Context, greenhouseID string, scope entities.RefreshScope) (bool, error) {
	q := url.Values{}
	q.Set("m_type", string(scope))
	var ack bool
	err := c.do(ctx, c.client, "refresh measurements", http.MethodGet, "/update_measurements/"+url.PathEscape(greenhouseID), q, nil, &ack)
	return ack, err
}

func (c *HTTPClient) FixMeasurement(ctx context.Context, measurementID string, value float64) (bool, error) {
	body := struct {
		Value float64 `json:"value"`
	}{value}
	var ack bool
	err := c.do(ctx, c.client, "fix measurement", http.MethodPost, "/fix_measurement/"+url.PathEscape(measurementID), nil, body, &ack)
	return ack, err
}

func (c *HTTPClient) GetStates(ctx context.Context, greenhouseID string, from, to time.Time) ([]entities.State, error) {
	q := url.Values{}
	q.Set("dt_from", from.UTC().Format(time.RFC3339))
	q.Set("dt_to", to.UTC().Format(time.RFC3339))

	var out []entities.State
	if err := c.do(ctx, c.client, "get states", http.MethodGet, "/states/"+url.PathEscape(greenhouseID), q, nil, &out); err != nil {
		return nil, err
	}
	return nonNil(out), nil
}

func (c *HTTPClient) TriggerStateRecompute(ctx context.Context, greenhouseID string) (bool, error) {
	var ack bool
	err := c.do(ctx, c.slow, "recompute states", http.MethodGet, "/update_state/"+url.PathEscape(greenhouseID), nil, nil, &ack)
	return ack, err
}

func (c *HTTPClient) CommentState(ctx context.Context, stateID, comment string) (bool, error) {
	body := struct {
		Comment string `json:"comment"`
	}{comment}
	var ack bool
	err := c.do(ctx, c.client, "comment state", http.MethodPost, "/comment_state/"+url.PathEscape(stateID), nil, body, &ack)
	return ack, err
}

// do esegue la richiesta dentro il breaker e decodifica il JSON in out.
func (c *HTTPClient) do(ctx context.Context, hc *http.Client, op, method, path string, q url.Values, in, out any) error {
	_, err := c.breaker.Execute(func() (any, error) {
		return nil, c.roundTrip(ctx, hc, op, method, path, q, in, out)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		c.log.Warnf("%s: historian breaker %s", op, c.breaker.State())
		return &TransportError{Op: op, Err: err}
	}
	return err
}

func (c *HTTPClient) roundTrip(ctx context.Context, hc *http.Client, op, method, path string, q url.Values, in, out any) error {
	u := c.base + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: encode body: %w", op, err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := hc.Do(req)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%s %s: %w", op, path, ErrNotFound)
	case resp.StatusCode == http.StatusBadRequest:
		return decodeValidation(resp.Body)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &TransportError{Op: op, Err: fmt.Errorf("upstream status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &TransportError{Op: op, Err: fmt.Errorf("decode: %w", err)}
	}
	return nil
}

// errorBody è il formato degli errori restituiti dall'API dello storico.
type errorBody struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

func decodeValidation(r io.Reader) error {
	var eb errorBody
	_ = json.NewDecoder(io.LimitReader(r, 4096)).Decode(&eb)
	if eb.Field == "" {
		eb.Field = "request"
	}
	if eb.Error == "" {
		eb.Error = "rejected by server"
	}
	return &ValidationError{Field: eb.Field, Reason: eb.Error}
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
