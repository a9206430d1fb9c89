package dataaccess

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeonardoBeccarini/greenhouse_monitor/internal/model/entities"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewHTTPClient(HTTPConfig{BaseURL: srv.URL + "/", Timeout: time.Second, BreakerFailures: 2, BreakerOpenFor: time.Minute})
}

func TestHTTPClientGetMeasurementsSendsQuery(t *testing.T) {
	from := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	to := from.Add(24 * time.Hour)

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/measurement/g3", r.URL.Path)
		assert.Equal(t, "T", r.URL.Query().Get("m_type"))
		assert.Equal(t, "2024-05-01T00:00:00Z", r.URL.Query().Get("dt_from"))
		assert.Equal(t, "2024-05-02T00:00:00Z", r.URL.Query().Get("dt_to"))
		_ = json.NewEncoder(w).Encode([]entities.Measurement{
			{ID: "m-g3-T-2024-05-01", GreenhouseID: "g3", CreatedAt: from, Value: 21.5},
		})
	})

	list, err := c.GetMeasurements(context.Background(), "g3", entities.Temperature, from, to)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 21.5, list[0].Value)
}

func TestHTTPClientEmptyListIsNotNil(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("null"))
	})
	list, err := c.GetStates(context.Background(), "g1", time.Now().Add(-time.Hour), time.Now())
	require.NoError(t, err)
	assert.NotNil(t, list)
	assert.Empty(t, list)
}

func TestHTTPClientPostsBodies(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		switch r.URL.Path {
		case "/fix_measurement/m-g1-T-2024-01-01":
			assert.Equal(t, 19.25, body["value"])
		case "/comment_state/s-g1-2024-01-01":
			assert.Equal(t, "fixed sensor", body["comment"])
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_, _ = w.Write([]byte("true"))
	})

	ack, err := c.FixMeasurement(context.Background(), "m-g1-T-2024-01-01", 19.25)
	require.NoError(t, err)
	assert.True(t, ack)

	ack, err = c.CommentState(context.Background(), "s-g1-2024-01-01", "fixed sensor")
	require.NoError(t, err)
	assert.True(t, ack)
}

func TestHTTPClientErrorMapping(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/states/g9":
			http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
		case "/comment_state/s-g1-2024-01-01":
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"contains control characters","field":"comment"}`))
		default:
			http.Error(w, "boom", http.StatusInternalServerError)
		}
	})
	ctx := context.Background()

	_, err := c.GetStates(ctx, "g9", time.Now(), time.Now())
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = c.CommentState(ctx, "s-g1-2024-01-01", "x")
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "comment", ve.Field)

	_, err = c.ListRegions(ctx)
	assert.True(t, IsTransport(err))
}

func TestHTTPClientBreakerOpensAndFailsFast(t *testing.T) {
	var hits atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := c.ListGreenhouses(ctx)
		assert.True(t, IsTransport(err))
	}
	_, err := c.ListGreenhouses(ctx)
	assert.True(t, IsTransport(err))
	assert.Equal(t, int32(2), hits.Load(), "open breaker must not reach the upstream")
}

func TestHTTPClientNotFoundDoesNotTripBreaker(t *testing.T) {
	var hits atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
	})
	for i := 0; i < 4; i++ {
		_, err := c.GetStates(context.Background(), "gx", time.Now(), time.Now())
		assert.ErrorIs(t, err, ErrNotFound)
	}
	assert.Equal(t, int32(4), hits.Load())
}

func TestHTTPClientAbandonedRecomputeDoesNotTripBreaker(t *testing.T) {
	var reads atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/update_state/g1" {
			<-r.Context().Done()
			return
		}
		reads.Add(1)
		_, _ = w.Write([]byte("[]"))
	})

	for i := 0; i < 3; i++ {
		ctx, cancel := context.WithCancel(context.Background())
		time.AfterFunc(10*time.Millisecond, cancel)
		_, err := c.TriggerStateRecompute(ctx, "g1")
		assert.ErrorIs(t, err, context.Canceled)
		cancel()
	}

	_, err := c.ListRegions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), reads.Load())
}

func TestHTTPClientRecomputeHasNoClientTimeout(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/update_state/g2", r.URL.Path)
		time.Sleep(50 * time.Millisecond)
		_, _ = w.Write([]byte("true"))
	})
	c.client.Timeout = 10 * time.Millisecond

	ack, err := c.TriggerStateRecompute(context.Background(), "g2")
	require.NoError(t, err)
	assert.True(t, ack)
}

func TestHTTPClientRefreshScope(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/update_measurements/g1", r.URL.Path)
		assert.Equal(t, "all", r.URL.Query().Get("m_type"))
		_, _ = w.Write([]byte("true"))
	})
	ack, err := c.TriggerMeasurementRefresh(context.Background(), "g1", entities.RefreshAll)
	require.NoError(t, err)
	assert.True(t, ack)
}
