// Package httpapi serves the gateway operations over HTTP.
package httpapi

import (
	"context"
	"net/http"
	"net/http/pprof"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/Helix48/realistic-chess-puzzles/internal/eval"
	"github.com/Helix48/realistic-chess-puzzles/internal/metrics"
	"github.com/Helix48/realistic-chess-puzzles/internal/replay"
	"github.com/Helix48/realistic-chess-puzzles/internal/sampling"
)

// DefaultMaxGames is used when a replay request omits max.
const DefaultMaxGames = 10

// API is the set of operations the router exposes. *gateway.Service
// implements it.
type API interface {
	GetEvaluation(ctx context.Context, fen string) (eval.Analysis, error)
	GetRandomFen(ctx context.Context, f sampling.Filter) (sampling.SampleResult, error)
	GetQuantity(ctx context.Context, f sampling.Filter) (int64, error)
	GetReplayedFens(ctx context.Context, handle string, maxGames int) ([]replay.Outcome, error)
}

// Config configures the router. Only API is required.
type Config struct {
	API            API
	Logger         zerolog.Logger
	Metrics        *metrics.Metrics
	Gatherer       prometheus.Gatherer    // serves /metrics when set
	Ready          func() bool            // backs /readyz; nil means always ready
	EvalStatus     func() eval.PoolStatus // backs /api/eval/status when set
	AllowedOrigins []string
	EnablePprof    bool
}

// Handler holds the route handlers.
type Handler struct {
	api        API
	ready      func() bool
	evalStatus func() eval.PoolStatus
}

// NewRouter builds the HTTP handler: CORS, request id, access log, then the
// per-route metrics around each handler.
func NewRouter(cfg Config) http.Handler {
	log := cfg.Logger.With().Str("component", "http").Logger()
	h := &Handler{
		api:        cfg.API,
		ready:      cfg.Ready,
		evalStatus: cfg.EvalStatus,
	}

	mux := http.NewServeMux()
	route := func(pattern, name string, fn http.HandlerFunc) {
		mux.Handle(pattern, instrument(cfg.Metrics, name, fn))
	}
	route("GET /healthz", "healthz", h.health)
	route("GET /readyz", "readyz", h.readyz)
	route("GET /api/engineEvaluation/{encodedFen...}", "engineEvaluation", h.engineEvaluation)
	route("GET /api/database/randomFen", "randomFen", h.randomFen)
	route("GET /api/database/gameQuantity", "gameQuantity", h.gameQuantity)
	route("GET /api/lichess/randomLichessGame", "randomLichessGame", h.randomLichessGame)
	if cfg.EvalStatus != nil {
		route("GET /api/eval/status", "evalStatus", h.evalPoolStatus)
	}
	if cfg.Gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	if cfg.EnablePprof {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}

	return CORS(cfg.AllowedOrigins, RequestID(AccessLog(log, mux)))
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) readyz(w http.ResponseWriter, r *http.Request) {
	if h.ready != nil && !h.ready() {
		http.Error(w, "not ready", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// engineEvaluation takes a FEN whose slashes were sent as backslashes so it
// fits in one path segment.
func (h *Handler) engineEvaluation(w http.ResponseWriter, r *http.Request) {
	fen := strings.ReplaceAll(r.PathValue("encodedFen"), `\`, "/")
	a, err := h.api.GetEvaluation(r.Context(), fen)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toEvaluationResponse(a))
}

func (h *Handler) randomFen(w http.ResponseWriter, r *http.Request) {
	f, err := filterFromQuery(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	res, err := h.api.GetRandomFen(r.Context(), f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp := RandomFenResponse{Found: res.Found}
	if res.Found {
		resp.FEN = res.FEN
		resp.Ply = &res.Ply
		resp.Rating = &res.Rating
		resp.GameID = res.GameID
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) gameQuantity(w http.ResponseWriter, r *http.Request) {
	f, err := filterFromQuery(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	n, err := h.api.GetQuantity(r.Context(), f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, QuantityResponse{Quantity: n})
}

func (h *Handler) randomLichessGame(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	maxGames := DefaultMaxGames
	if s := q.Get("max"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			writeError(w, r, sampling.Invalid("max", s, "not an integer"))
			return
		}
		maxGames = n
	}
	outcomes, err := h.api.GetReplayedFens(r.Context(), q.Get("user"), maxGames)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toReplayResponse(outcomes))
}

func (h *Handler) evalPoolStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.evalStatus())
}

func filterFromQuery(r *http.Request) (sampling.Filter, error) {
	q := r.URL.Query()
	return sampling.ParseFilter(q.Get("moveFilter"), q.Get("ratingRange"))
}
