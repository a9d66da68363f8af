package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/DoyleJ11/foodfps/internal/foodpass"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// maxTiers caps ad hoc generation through ?total=.
const maxTiers = 5000

type response struct {
	Error   bool   `json:"error"`
	Data    any    `json:"data"`
	Message string `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(response{Data: data})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(response{Error: true, Message: msg})
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// tierHandlers serves the Food Pass table. table is the season table the
// server was started with; gen builds other lengths on demand.
type tierHandlers struct {
	table []foodpass.Tier
	gen   *foodpass.Generator
	log   *zap.Logger
}

// List returns the season table, or a freshly generated one for ?total=N.
func (h *tierHandlers) List(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("total")
	if raw == "" {
		writeJSON(w, http.StatusOK, h.table)
		return
	}
	total, err := strconv.Atoi(raw)
	if err != nil || total < 0 || total > maxTiers {
		writeError(w, http.StatusBadRequest, "total must be between 0 and "+strconv.Itoa(maxTiers))
		return
	}
	writeJSON(w, http.StatusOK, h.gen.Generate(total))
}

func (h *tierHandlers) Get(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "index must be an integer")
		return
	}
	if index < 1 || index > len(h.table) {
		writeError(w, http.StatusNotFound, "no such tier")
		return
	}
	writeJSON(w, http.StatusOK, h.table[index-1])
}

// Unlocked returns the highest tier reached with ?score=N.
func (h *tierHandlers) Unlocked(w http.ResponseWriter, r *http.Request) {
	score, err := strconv.ParseInt(r.URL.Query().Get("score"), 10, 64)
	if err != nil || score < 0 {
		writeError(w, http.StatusBadRequest, "score must be a non-negative integer")
		return
	}
	tier, ok := foodpass.TierForScore(h.table, score)
	if !ok {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	h.log.Debug("tier lookup", zap.Int64("score", score), zap.Int("tier", tier.Index))
	writeJSON(w, http.StatusOK, tier)
}
