package historian

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/LeonardoBeccarini/greenhouse_monitor/internal/dataaccess"
	"github.com/LeonardoBeccarini/greenhouse_monitor/internal/logging"
	"github.com/LeonardoBeccarini/greenhouse_monitor/internal/model/entities"
)

// DefaultWindow è la finestra usata quando dt_from/dt_to mancano.
const DefaultWindow = 30 * 24 * time.Hour

type errorBody struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

type API struct {
	backend dataaccess.DataAccess
	log     logging.Logger
	now     func() time.Time
}

func NewAPI(backend dataaccess.DataAccess, log logging.Logger) *API {
	if log == nil {
		log = logging.NewNop()
	}
	return &API{backend: backend, log: log, now: time.Now}
}

// Router monta le route dell'API, health e metriche.
func (a *API) Router(metrics *Metrics, health *Health, origins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	if metrics != nil {
		r.Use(metrics.Middleware)
	}
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/regions", a.listRegions)
	r.Get("/greenhouses", a.listGreenhouses)
	r.Get("/measurement/{gh}", a.getMeasurements)
	r.Get("/update_measurements/{gh}", a.refreshMeasurements)
	r.Post("/fix_measurement/{id}", a.fixMeasurement)
	r.Get("/states/{gh}", a.getStates)
	r.Get("/update_state/{gh}", a.recomputeStates)
	r.Post("/comment_state/{id}", a.commentState)

	if health != nil {
		r.Method(http.MethodGet, "/healthz", health.Live())
		r.Method(http.MethodGet, "/readyz", health.Ready())
	}
	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler())
	}
	return r
}

func (a *API) listRegions(w http.ResponseWriter, r *http.Request) {
	list, err := a.backend.ListRegions(r.Context())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (a *API) listGreenhouses(w http.ResponseWriter, r *http.Request) {
	list, err := a.backend.ListGreenhouses(r.Context())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (a *API) getMeasurements(w http.ResponseWriter, r *http.Request) {
	t, err := entities.ParseMeasurementType(r.URL.Query().Get("m_type"))
	if err != nil {
		a.writeError(w, r, &dataaccess.ValidationError{Field: "m_type", Reason: err.Error()})
		return
	}
	from, to, err := a.window(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	list, err := a.backend.GetMeasurements(r.Context(), chi.URLParam(r, "gh"), t, from, to)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (a *API) refreshMeasurements(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("m_type")
	if raw == "" {
		raw = string(entities.RefreshAll)
	}
	scope, err := entities.ParseRefreshScope(raw)
	if err != nil {
		a.writeError(w, r, &dataaccess.ValidationError{Field: "m_type", Reason: err.Error()})
		return
	}
	ack, err := a.backend.TriggerMeasurementRefresh(r.Context(), chi.URLParam(r, "gh"), scope)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ack)
}

func (a *API) fixMeasurement(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Value *float64 `json:"value"`
	}
	if err := decodeBody(r, &body); err != nil || body.Value == nil {
		a.writeError(w, r, &dataaccess.ValidationError{Field: "value", Reason: "a numeric value is required"})
		return
	}
	ack, err := a.backend.FixMeasurement(r.Context(), chi.URLParam(r, "id"), *body.Value)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ack)
}

func (a *API) getStates(w http.ResponseWriter, r *http.Request) {
	from, to, err := a.window(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	list, err := a.backend.GetStates(r.Context(), chi.URLParam(r, "gh"), from, to)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// recomputeStates può durare minuti: resta aperta finché il backend risponde o il client chiude.
func (a *API) recomputeStates(w http.ResponseWriter, r *http.Request) {
	ack, err := a.backend.TriggerStateRecompute(r.Context(), chi.URLParam(r, "gh"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ack)
}

func (a *API) commentState(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Comment *string `json:"comment"`
	}
	if err := decodeBody(r, &body); err != nil || body.Comment == nil {
		a.writeError(w, r, &dataaccess.ValidationError{Field: "comment", Reason: "a comment string is required"})
		return
	}
	ack, err := a.backend.CommentState(r.Context(), chi.URLParam(r, "id"), *body.Comment)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ack)
}

// window legge dt_from/dt_to (RFC3339); i valori mancanti valgono gli ultimi 30 giorni.
func (a *API) window(r *http.Request) (time.Time, time.Time, error) {
	q := r.URL.Query()
	to := a.now().UTC()
	if v := strings.TrimSpace(q.Get("dt_to")); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return time.Time{}, time.Time{}, &dataaccess.ValidationError{Field: "dt_to", Reason: "expected RFC3339"}
		}
		to = t
	}
	from := to.Add(-DefaultWindow)
	if v := strings.TrimSpace(q.Get("dt_from")); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return time.Time{}, time.Time{}, &dataaccess.ValidationError{Field: "dt_from", Reason: "expected RFC3339"}
		}
		from = t
	}
	return from, to, nil
}

func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var ve *dataaccess.ValidationError
	switch {
	case errors.As(err, &ve):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: ve.Reason, Field: ve.Field})
	case errors.Is(err, dataaccess.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error()})
	case dataaccess.IsTransport(err):
		a.log.Errorf("historian: %s %s: %v", r.Method, r.URL.Path, err)
		writeJSON(w, http.StatusBadGateway, errorBody{Error: err.Error()})
	default:
		a.log.Errorf("historian: %s %s: %v", r.Method, r.URL.Path, err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
	}
}

func decodeBody(r *http.Request, out any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 64<<10))
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("decode body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
