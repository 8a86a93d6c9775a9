package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/Helix48/realistic-chess-puzzles/internal/eval"
	"github.com/Helix48/realistic-chess-puzzles/internal/lichess"
	"github.com/Helix48/realistic-chess-puzzles/internal/replay"
	"github.com/Helix48/realistic-chess-puzzles/internal/sampling"
)

// EvaluationResponse is returned by the engine evaluation route. Evaluation
// is in pawns from White's point of view; Moves is the principal variation.
type EvaluationResponse struct {
	FEN        string   `json:"fen"`
	Evaluation float64  `json:"evaluation"`
	Moves      []string `json:"moves"`
	BestMove   string   `json:"bestMove"`
	Depth      int      `json:"depth"`
	CP         *int     `json:"cp,omitempty"`
	Mate       *int     `json:"mate,omitempty"`
}

func toEvaluationResponse(a eval.Analysis) EvaluationResponse {
	moves := a.PV
	if moves == nil {
		moves = []string{}
	}
	return EvaluationResponse{
		FEN:        a.FEN,
		Evaluation: float64(a.Score()) / 100,
		Moves:      moves,
		BestMove:   a.BestMove,
		Depth:      a.Depth,
		CP:         a.CP,
		Mate:       a.Mate,
	}
}

// RandomFenResponse carries one sampled position. Found is false, and the
// other fields absent, when nothing matched the filter.
type RandomFenResponse struct {
	Found  bool   `json:"found"`
	FEN    string `json:"fen,omitempty"`
	Ply    *int   `json:"ply,omitempty"`
	Rating *int   `json:"rating,omitempty"`
	GameID string `json:"gameId,omitempty"`
}

type QuantityResponse struct {
	Quantity int64 `json:"quantity"`
}

// GameResponse describes one replayed game.
type GameResponse struct {
	GameID    string   `json:"gameId"`
	Status    string   `json:"status"`
	FENs      []string `json:"fens"`
	FailedPly int      `json:"failedPly,omitempty"`
	Error     string   `json:"error,omitempty"`
	ECO       string   `json:"eco,omitempty"`
	Opening   string   `json:"opening,omitempty"`
}

// ReplayResponse lists each game's positions in archive order. RedoFens
// holds only the successfully replayed games.
type ReplayResponse struct {
	RedoFens [][]string     `json:"redoFens"`
	Games    []GameResponse `json:"games"`
}

func toReplayResponse(outcomes []replay.Outcome) ReplayResponse {
	resp := ReplayResponse{
		RedoFens: make([][]string, 0, len(outcomes)),
		Games:    make([]GameResponse, 0, len(outcomes)),
	}
	for _, o := range outcomes {
		fens := o.FENs
		if fens == nil {
			fens = []string{}
		}
		g := GameResponse{
			GameID:    o.GameID,
			Status:    string(o.Status),
			FENs:      fens,
			FailedPly: o.FailedPly,
		}
		if o.Err != nil {
			g.Error = o.Err.Error()
		}
		if o.Opening != nil {
			g.ECO = o.Opening.ECO
			g.Opening = o.Opening.Name
		}
		if o.OK() {
			resp.RedoFens = append(resp.RedoFens, fens)
		}
		resp.Games = append(resp.Games, g)
	}
	return resp
}

type errorResponse struct {
	Error string `json:"error"`
	RID   string `json:"rid,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	var ve *sampling.ValidationError
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest
	case errors.Is(err, lichess.ErrUserNotFound):
		return http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		// before the archive case: a fetch that ran out of time wraps both
		return http.StatusGatewayTimeout
	case errors.Is(err, replay.ErrArchiveUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, eval.ErrUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	msg := err.Error()
	if code == http.StatusInternalServerError {
		msg = "internal error"
	}
	if code >= 500 {
		zerolog.Ctx(r.Context()).Error().Err(err).Int("status", code).Msg("request failed")
	}
	writeJSON(w, code, errorResponse{Error: msg, RID: GetRequestID(r.Context())})
}
