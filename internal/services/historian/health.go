package historian

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Pinger is satisfied by influxdb2.Client.
type Pinger interface {
	Ping(ctx context.Context) (bool, error)
}

// Health combina lo stato di MQTT, Influx e dell'ingestione. Ogni dipendenza è
// opzionale: nil significa "non usata" (es. backend simulato).
type Health struct {
	MQTTConnected func() bool
	Influx        Pinger
	Ingest        *Ingestor
	// MinErrorAge: un errore di ingestione più recente rende il servizio non pronto.
	MinErrorAge time.Duration

	mu   sync.Mutex
	grpc *health.Server
}

type healthStatus struct {
	Status          string  `json:"status"`
	MQTTConnected   *bool   `json:"mqtt_connected,omitempty"`
	InfluxOK        *bool   `json:"influx_ok,omitempty"`
	LastWriteErrorS float64 `json:"last_write_error_age_sec,omitempty"`
	ready           bool
}

func (h *Health) check(ctx context.Context) healthStatus {
	st := healthStatus{ready: true}
	down := 0
	deps := 0
	if h.MQTTConnected != nil {
		ok := h.MQTTConnected()
		st.MQTTConnected = &ok
		deps++
		if !ok {
			down++
		}
	}
	if h.Influx != nil {
		pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		ok, err := h.Influx.Ping(pctx)
		cancel()
		ok = ok && err == nil
		st.InfluxOK = &ok
		deps++
		if !ok {
			down++
		}
	}
	recentErr := false
	if h.Ingest != nil {
		age := h.Ingest.LastErrorAge()
		st.LastWriteErrorS = age.Seconds()
		recentErr = age <= h.MinErrorAge
	}

	switch {
	case down == 0 && !recentErr:
		st.Status = "ok"
	case down < deps || (down == 0 && recentErr):
		st.Status = "degraded"
		st.ready = false
	default:
		st.Status = "down"
		st.ready = false
	}
	h.syncGRPC(st.ready)
	return st
}

// Live risponde sempre 200 con il dettaglio delle dipendenze.
func (h *Health) Live() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, h.check(r.Context()))
	})
}

// Ready: 200 solo se tutte le dipendenze sono ok.
func (h *Health) Ready() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		st := h.check(r.Context())
		code := http.StatusOK
		if !st.ready {
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(struct {
			Ready bool `json:"ready"`
		}{st.ready})
	})
}

// RegisterGRPC espone grpc.health.v1 sul server dato.
func (h *Health) RegisterGRPC(s *grpc.Server) *health.Server {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.grpc == nil {
		h.grpc = health.NewServer()
	}
	healthpb.RegisterHealthServer(s, h.grpc)
	return h.grpc
}

// Watch aggiorna periodicamente lo stato gRPC finché ctx non termina.
func (h *Health) Watch(ctx context.Context, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	h.check(ctx)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			if h.grpc != nil {
				h.grpc.Shutdown()
			}
			h.mu.Unlock()
			return
		case <-t.C:
			h.check(ctx)
		}
	}
}

func (h *Health) syncGRPC(ready bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.grpc == nil {
		return
	}
	status := healthpb.HealthCheckResponse_SERVING
	if !ready {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	h.grpc.SetServingStatus("", status)
	h.grpc.SetServingStatus(ServiceName, status)
}

// ServiceName is the gRPC health service name of the historian.
const ServiceName = "greenhouse.historian"
