package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"autotrader/internal/frame"
	"autotrader/internal/indicator"
	"autotrader/internal/ingest"
	"autotrader/internal/model"
	"autotrader/internal/robot"
	"autotrader/internal/signal"
)

const maxBodyBytes = 8 << 20

// Handler serves the REST endpoints.
type Handler struct {
	session *robot.Session
	log     zerolog.Logger
}

// NewHandler creates a handler over a session.
func NewHandler(s *robot.Session, log zerolog.Logger) *Handler {
	return &Handler{session: s, log: log.With().Str("component", "api").Logger()}
}

// ListInstruments returns the known instruments.
// GET /api/v1/instruments
func (h *Handler) ListInstruments(w http.ResponseWriter, r *http.Request) {
	insts := h.session.Instruments()
	if insts == nil {
		insts = []model.Instrument{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"instruments": insts})
}

// GetLatest returns an instrument's most recent row.
// GET /api/v1/instruments/{symbol}/latest
func (h *Handler) GetLatest(w http.ResponseWriter, r *http.Request) {
	sym := model.Instrument(mux.Vars(r)["symbol"])
	row, ok, err := h.session.Latest(sym)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		respondError(w, http.StatusNotFound, "unknown instrument "+string(sym))
		return
	}
	respondJSON(w, http.StatusOK, row)
}

// GetRows returns an instrument's rows in timestamp order.
// GET /api/v1/instruments/{symbol}/rows?limit=100
func (h *Handler) GetRows(w http.ResponseWriter, r *http.Request) {
	sym := model.Instrument(mux.Vars(r)["symbol"])
	rows, err := h.session.Rows(sym)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if rows == nil {
		respondError(w, http.StatusNotFound, "unknown instrument "+string(sym))
		return
	}
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		if n < len(rows) {
			rows = rows[len(rows)-n:]
		}
	}
	respondJSON(w, http.StatusOK, map[string]any{"instrument": sym, "rows": rows})
}

// PostBars loads historical records.
// POST /api/v1/bars
func (h *Handler) PostBars(w http.ResponseWriter, r *http.Request) {
	data, ok := h.readBody(w, r)
	if !ok {
		return
	}
	n, err := h.session.LoadHistory(r.Context(), data)
	h.respondIngest(w, n, err)
}

// PostQuotes applies a live quote update.
// POST /api/v1/quotes
func (h *Handler) PostQuotes(w http.ResponseWriter, r *http.Request) {
	data, ok := h.readBody(w, r)
	if !ok {
		return
	}
	n, err := h.session.IngestQuotes(r.Context(), data)
	h.respondIngest(w, n, err)
}

func (h *Handler) respondIngest(w http.ResponseWriter, n int, err error) {
	switch {
	case err == nil:
		respondJSON(w, http.StatusOK, map[string]int{"applied": n})
	case isInputError(err):
		respondJSON(w, http.StatusBadRequest, map[string]any{"applied": n, "error": err.Error()})
	default:
		h.log.Error().Err(err).Int("applied", n).Msg("ingest failed")
		respondJSON(w, http.StatusInternalServerError, map[string]any{"applied": n, "error": err.Error()})
	}
}

// ListIndicators returns the registered definitions.
// GET /api/v1/indicators
func (h *Handler) ListIndicators(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"indicators": nonNil(h.session.Indicators())})
}

// RegisterIndicator adds or replaces a definition.
// POST /api/v1/indicators
func (h *Handler) RegisterIndicator(w http.ResponseWriter, r *http.Request) {
	var def indicator.Definition
	if !h.decode(w, r, &def) {
		return
	}
	if err := h.session.RegisterIndicator(def); err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}
	def = def.Normalize()
	h.log.Info().Str("indicator", def.String()).Msg("indicator registered")
	respondJSON(w, http.StatusCreated, def)
}

// UnregisterIndicator removes a definition and its column.
// DELETE /api/v1/indicators/{column}
func (h *Handler) UnregisterIndicator(w http.ResponseWriter, r *http.Request) {
	col := mux.Vars(r)["column"]
	if !h.session.UnregisterIndicator(col) {
		respondError(w, http.StatusNotFound, "unknown indicator "+col)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListRules returns the rules in registration order.
// GET /api/v1/rules
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"rules": nonNil(h.session.Rules())})
}

// PutRule upserts the rule for one indicator. The path names the indicator.
// PUT /api/v1/rules/{indicator}
func (h *Handler) PutRule(w http.ResponseWriter, r *http.Request) {
	var rule signal.Rule
	if !h.decode(w, r, &rule) {
		return
	}
	rule.Indicator = mux.Vars(r)["indicator"]
	if err := h.session.SetRule(rule); err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, rule)
}

// DeleteRule removes a rule.
// DELETE /api/v1/rules/{indicator}
func (h *Handler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["indicator"]
	ok, err := h.session.RemoveRule(name)
	if err != nil {
		h.log.Error().Err(err).Str("indicator", name).Msg("remove rule")
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		respondError(w, http.StatusNotFound, "no rule for "+name)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListSignals returns recently dispatched events, or with ?evaluate=true
// the events for the current latest rows.
// GET /api/v1/signals
func (h *Handler) ListSignals(w http.ResponseWriter, r *http.Request) {
	var events []model.SignalEvent
	if ok, _ := strconv.ParseBool(r.URL.Query().Get("evaluate")); ok {
		var err error
		if events, err = h.session.Evaluate(); err != nil {
			h.log.Error().Err(err).Msg("evaluate")
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
	} else {
		events = h.session.RecentSignals()
	}
	if inst := r.URL.Query().Get("instrument"); inst != "" {
		filtered := events[:0:0]
		for _, ev := range events {
			if strings.EqualFold(string(ev.Instrument), inst) {
				filtered = append(filtered, ev)
			}
		}
		events = filtered
	}
	respondJSON(w, http.StatusOK, map[string]any{"signals": nonNil(events)})
}

func (h *Handler) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		respondError(w, http.StatusRequestEntityTooLarge, err.Error())
		return nil, false
	}
	return data, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	data, ok := h.readBody(w, r)
	if !ok {
		return false
	}
	if err := json.Unmarshal(data, v); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return false
	}
	return true
}

func isInputError(err error) bool {
	return errors.Is(err, ingest.ErrInvalidRecord) ||
		errors.Is(err, ingest.ErrMissingVolume) ||
		errors.Is(err, frame.ErrOutOfRange)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, indicator.ErrInvalidDefinition),
		errors.Is(err, indicator.ErrUnsupportedIndicator),
		errors.Is(err, signal.ErrInvalidRule),
		errors.Is(err, signal.ErrInvalidOperator):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
