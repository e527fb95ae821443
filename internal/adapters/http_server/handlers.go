package httpserver

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"propenrich/internal/app"
	"propenrich/internal/domain"
)

// sseBuffer is how many events a slow stream client may lag before events
// are dropped for it.
const sseBuffer = 64

// SolarHistory lists persisted solar estimates, newest first.
type SolarHistory interface {
	ListSolarEstimates(ctx context.Context, address string, limit int) ([]domain.SolarEstimate, error)
}

type Handlers struct {
	Orch  *app.Orchestrator
	Q     *app.QueryService
	Solar SolarHistory // optional
}

type problem struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

func (s *Server) MountHandlers(h *Handlers) {
	s.mux.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); _, _ = w.Write([]byte("ok")) })
	s.mux.Group(func(r chi.Router) {
		r.Use(Timeout(requestTimeout))
		r.Post("/v1/enrichments", h.startEnrichment)
		r.Get("/v1/enrichments/current", h.currentEnrichment)
		r.Get("/v1/records", h.getRecord)
		if h.Solar != nil {
			r.Get("/v1/solar-estimates", h.listSolarEstimates)
		}
	})
	s.mux.Get("/v1/enrichments/events", h.streamEvents)
}

func writeProblem(w http.ResponseWriter, status int, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(problem{Type: "about:blank", Title: title, Status: status, Detail: detail}); err != nil {
		log.Error().Err(err).Msg("write JSON problem response failed")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("write JSON response failed")
	}
}

// calcETagAndBody marshals once and hashes once, returning both ETag and body.
func calcETagAndBody(v any) (string, []byte) {
	body, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal object for ETag/body")
		return "", nil
	}
	sum := sha1.Sum(body)
	etag := `W/"` + hex.EncodeToString(sum[:]) + `"`
	return etag, body
}

func writeCacheable(w http.ResponseWriter, r *http.Request, v any) {
	etag, body := calcETagAndBody(v)
	if inm := r.Header.Get("If-None-Match"); inm != "" && inm == etag {
		w.Header().Set("ETag", etag)
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("ETag", etag)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		log.Error().Err(err).Msg("failed to write body")
	}
}

type startRequest struct {
	Address string   `json:"address"`
	Lat     *float64 `json:"lat,omitempty"`
	Lng     *float64 `json:"lng,omitempty"`
}

type startResponse struct {
	Token   uint64 `json:"token"`
	Session string `json:"session_id"`
	Address string `json:"address"`
}

func (h *Handlers) startEnrichment(w http.ResponseWriter, r *http.Request) {
	var in startRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid body", "expected JSON object with an address")
		return
	}
	req := app.Request{Address: in.Address}
	switch {
	case in.Lat != nil && in.Lng != nil:
		req.Hint = &domain.Coords{Lat: *in.Lat, Lng: *in.Lng}
	case in.Lat != nil || in.Lng != nil:
		writeProblem(w, http.StatusBadRequest, "Invalid coordinates", "lat and lng must be given together")
		return
	}

	// the session outlives this request
	s, err := h.Orch.Start(context.WithoutCancel(r.Context()), req)
	if errors.Is(err, domain.ErrEmptyAddress) {
		writeProblem(w, http.StatusBadRequest, "Invalid address", err.Error())
		return
	}
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "Internal Error", "could not start enrichment")
		return
	}
	w.Header().Set("Location", "/v1/enrichments/current")
	writeJSON(w, http.StatusAccepted, startResponse{Token: s.Token(), Session: s.ID(), Address: s.Address()})
}

type diagnosticView struct {
	Source string `json:"source"`
	Kind   string `json:"kind"`
	Error  string `json:"error"`
}

type currentView struct {
	Token       uint64                `json:"token"`
	Session     string                `json:"session_id"`
	State       string                `json:"state"`
	Record      domain.PropertyRecord `json:"record"`
	Diagnostics []diagnosticView      `json:"diagnostics"`
}

func (h *Handlers) currentEnrichment(w http.ResponseWriter, r *http.Request) {
	s, rec := h.Orch.Snapshot()
	if s == nil {
		writeProblem(w, http.StatusNotFound, "Not Found", "no enrichment has been started")
		return
	}
	view := currentView{
		Token:       s.Token(),
		Session:     s.ID(),
		State:       s.State().String(),
		Record:      rec,
		Diagnostics: []diagnosticView{},
	}
	for _, d := range s.Diagnostics() {
		dv := diagnosticView{Source: d.Source, Kind: string(d.Kind)}
		if d.Err != nil {
			dv.Error = d.Err.Error()
		}
		view.Diagnostics = append(view.Diagnostics, dv)
	}
	writeCacheable(w, r, view)
}

func (h *Handlers) getRecord(w http.ResponseWriter, r *http.Request) {
	addr := strings.TrimSpace(r.URL.Query().Get("address"))
	if addr == "" {
		writeProblem(w, http.StatusBadRequest, "Invalid address", "address query parameter is required")
		return
	}
	a, err := h.Q.GetRecord(r.Context(), addr)
	if errors.Is(err, domain.ErrNotFound) {
		writeProblem(w, http.StatusNotFound, "Not Found", "no completed record for address")
		return
	}
	if err != nil {
		log.Error().Err(err).Str("address", addr).Msg("get record failed")
		writeProblem(w, http.StatusInternalServerError, "Internal Error", "record lookup failed")
		return
	}
	writeCacheable(w, r, map[string]any{
		"session_id":   a.SessionID,
		"address":      a.Address,
		"completed_at": a.CompletedAt,
		"record":       a.Record,
	})
}

type solarEstimateView struct {
	Address       string        `json:"address"`
	Coords        domain.Coords `json:"coords"`
	SunshineHours *float64      `json:"sunshineHours"`
	MaxPanels     *int          `json:"maxPanels"`
	MaxArrayArea  *float64      `json:"maxArrayArea"`
	CarbonOffset  *float64      `json:"carbonOffset"`
	FetchedAt     time.Time     `json:"fetched_at"`
}

func (h *Handlers) listSolarEstimates(w http.ResponseWriter, r *http.Request) {
	addr := strings.TrimSpace(r.URL.Query().Get("address"))
	if addr == "" {
		writeProblem(w, http.StatusBadRequest, "Invalid address", "address query parameter is required")
		return
	}
	limit := 50
	if ls := r.URL.Query().Get("limit"); ls != "" {
		l, err := strconv.Atoi(ls)
		if err != nil || l <= 0 || l > 200 {
			writeProblem(w, http.StatusBadRequest, "Invalid limit", "limit must be an integer between 1 and 200")
			return
		}
		limit = l
	}
	es, err := h.Solar.ListSolarEstimates(r.Context(), addr, limit)
	if err != nil {
		log.Error().Err(err).Str("address", addr).Msg("list solar estimates failed")
		writeProblem(w, http.StatusInternalServerError, "Internal Error", "solar history lookup failed")
		return
	}
	out := make([]solarEstimateView, 0, len(es))
	for _, e := range es {
		out = append(out, solarEstimateView{
			Address:       e.Address,
			Coords:        e.Coords,
			SunshineHours: e.Result.SunshineHours,
			MaxPanels:     e.Result.MaxPanels,
			MaxArrayArea:  e.Result.MaxArrayArea,
			CarbonOffset:  e.Result.CarbonOffset,
			FetchedAt:     e.FetchedAt,
		})
	}
	writeCacheable(w, r, map[string]any{"items": out})
}

// streamEvents relays bus events as server-sent events until the client
// goes away. A client that falls behind loses events rather than stalling
// the bus.
func (h *Handlers) streamEvents(w http.ResponseWriter, r *http.Request) {
	fl, ok := w.(http.Flusher)
	if !ok {
		writeProblem(w, http.StatusInternalServerError, "Streaming unsupported", "")
		return
	}
	ch := make(chan app.Event, sseBuffer)
	unsubscribe := h.Orch.Bus().Subscribe(func(e app.Event) {
		select {
		case ch <- e:
		default:
			log.Warn().Str("session", e.Session).Str("kind", string(e.Kind)).Msg("event stream client lagging; event dropped")
		}
	})
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fl.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case e := <-ch:
			b, err := json.Marshal(e)
			if err != nil {
				log.Error().Err(err).Msg("marshal event failed")
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\nid: %d\ndata: %s\n\n", e.Kind, e.Token, b); err != nil {
				return
			}
			fl.Flush()
		}
	}
}
