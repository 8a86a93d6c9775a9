// Package board is the rules-aware position model used to replay move lists
// and serialise positions to FEN. Each Board owns its position exclusively and
// must not be shared between goroutines.
package board

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/freeeve/pgn/v3"
)

// StartFEN is the standard initial position.
const StartFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

var (
	ErrIllegalMove     = errors.New("illegal move")
	ErrUnparseableMove = errors.New("unparseable move")
	ErrInvalidFEN      = errors.New("invalid FEN")
)

// MoveError reports a move token that could not be applied at a given ply.
type MoveError struct {
	Ply   int // 1-based ply the token was meant to play
	Token string
	Err   error
}

func (e *MoveError) Error() string {
	return fmt.Sprintf("ply %d %q: %v", e.Ply, e.Token, e.Err)
}

func (e *MoveError) Unwrap() error { return e.Err }

// sanPattern accepts the SAN shapes emitted by archives once check and
// annotation suffixes are stripped.
var sanPattern = regexp.MustCompile(`^(O-O-O|O-O|[KQRBN][a-h]?[1-8]?x?[a-h][1-8]|[a-h](x[a-h])?[1-8](=[QRBN])?)$`)

// Board is a mutable chess position plus the number of plies applied to it.
type Board struct {
	pos *pgn.GameState
	ply int
}

// New returns a board at the standard starting position.
func New() *Board {
	return &Board{pos: pgn.NewStartingPosition()}
}

// FromFEN returns a board set up from fen.
func FromFEN(fen string) (*Board, error) {
	fen = strings.TrimSpace(fen)
	if fen == "" || fen == StartFEN {
		return New(), nil
	}
	if err := checkFEN(fen); err != nil {
		return nil, err
	}
	if len(strings.Fields(fen)) == 4 {
		fen += " 0 1"
	}
	pos, err := pgn.NewGame(fen)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFEN, err)
	}
	return &Board{pos: pos}, nil
}

// ValidateFEN reports whether fen describes a loadable position.
func ValidateFEN(fen string) error {
	_, err := FromFEN(fen)
	return err
}

// NormalizeFEN round-trips fen through the rules library.
func NormalizeFEN(fen string) (string, error) {
	b, err := FromFEN(fen)
	if err != nil {
		return "", err
	}
	return b.FEN(), nil
}

// Apply plays one move token in SAN ("Nf3", "exd5", "O-O", "e8=Q+") or
// coordinate notation ("g1f3", "e7e8q"). The board is left untouched when the
// token is rejected.
func (b *Board) Apply(token string) error {
	ply := b.ply + 1
	tok := cleanToken(token)
	if tok == "" {
		return &MoveError{Ply: ply, Token: token, Err: ErrUnparseableMove}
	}

	legal := pgn.GenerateLegalMoves(b.pos)

	var (
		mv    pgn.Mv
		found bool
	)
	if isCoordinate(tok) {
		want, err := MoveFromUCI(tok)
		if err != nil {
			return &MoveError{Ply: ply, Token: token, Err: fmt.Errorf("%w: %v", ErrUnparseableMove, err)}
		}
		for _, lm := range legal {
			if sameMove(lm, want) {
				mv, found = lm, true
				break
			}
		}
	} else {
		if !sanPattern.MatchString(tok) {
			return &MoveError{Ply: ply, Token: token, Err: ErrUnparseableMove}
		}
		parsed, err := pgn.ParseSAN(b.pos, tok)
		if err != nil {
			return &MoveError{Ply: ply, Token: token, Err: fmt.Errorf("%w: %v", ErrIllegalMove, err)}
		}
		want := FromMv(parsed)
		for _, lm := range legal {
			if sameMove(lm, want) {
				mv, found = lm, true
				break
			}
		}
	}
	if !found {
		return &MoveError{Ply: ply, Token: token, Err: ErrIllegalMove}
	}

	if err := pgn.ApplyMove(b.pos, mv); err != nil {
		return &MoveError{Ply: ply, Token: token, Err: fmt.Errorf("%w: %v", ErrIllegalMove, err)}
	}
	b.ply++
	return nil
}

// ApplyMv plays a move that was already decoded by the PGN parser.
func (b *Board) ApplyMv(mv pgn.Mv) error {
	if err := pgn.ApplyMove(b.pos, mv); err != nil {
		return &MoveError{Ply: b.ply + 1, Token: FromMv(mv).ToUCI(), Err: fmt.Errorf("%w: %v", ErrIllegalMove, err)}
	}
	b.ply++
	return nil
}

// FEN serialises the full position, including move counters.
func (b *Board) FEN() string {
	return b.pos.ToFEN()
}

// Key returns the placement, side, castling and en-passant fields of the FEN.
// Positions reached by different move orders share a key.
func (b *Board) Key() string {
	return KeyOf(b.FEN())
}

// KeyOf returns the counter-independent prefix of a FEN string.
func KeyOf(fen string) string {
	fields := strings.Fields(fen)
	if len(fields) > 4 {
		fields = fields[:4]
	}
	return strings.Join(fields, " ")
}

// Ply is the number of half-moves applied since the board was created.
func (b *Board) Ply() int {
	return b.ply
}

// WhiteToMove reports the side to move.
func (b *Board) WhiteToMove() bool {
	fields := strings.Fields(b.FEN())
	return len(fields) < 2 || fields[1] == "w"
}

// cleanToken strips check marks, annotation glyphs and zero-style castling.
func cleanToken(tok string) string {
	tok = strings.TrimSpace(tok)
	tok = strings.TrimRight(tok, "+#!?")
	switch tok {
	case "0-0":
		return "O-O"
	case "0-0-0":
		return "O-O-O"
	}
	// "e8Q" -> "e8=Q"
	if n := len(tok); n >= 3 && strings.ContainsRune("QRBN", rune(tok[n-1])) &&
		tok[n-2] >= '1' && tok[n-2] <= '8' && tok[0] >= 'a' && tok[0] <= 'h' {
		tok = tok[:n-1] + "=" + tok[n-1:]
	}
	return tok
}

// checkFEN performs the structural checks the packer does not report clearly.
func checkFEN(fen string) error {
	fields := strings.Fields(fen)
	if len(fields) != 4 && len(fields) != 6 {
		return fmt.Errorf("%w: expected 4 or 6 fields, got %d", ErrInvalidFEN, len(fields))
	}
	ranks := strings.Split(fields[0], "/")
	if len(ranks) != 8 {
		return fmt.Errorf("%w: expected 8 ranks, got %d", ErrInvalidFEN, len(ranks))
	}
	var whiteKings, blackKings int
	for i, rank := range ranks {
		width := 0
		for _, c := range rank {
			switch {
			case c >= '1' && c <= '8':
				width += int(c - '0')
			case strings.ContainsRune("pnbrqkPNBRQK", c):
				width++
				if c == 'K' {
					whiteKings++
				} else if c == 'k' {
					blackKings++
				}
			default:
				return fmt.Errorf("%w: bad piece %q in rank %d", ErrInvalidFEN, c, 8-i)
			}
		}
		if width != 8 {
			return fmt.Errorf("%w: rank %d has width %d", ErrInvalidFEN, 8-i, width)
		}
	}
	if whiteKings != 1 || blackKings != 1 {
		return fmt.Errorf("%w: each side needs exactly one king", ErrInvalidFEN)
	}
	if fields[1] != "w" && fields[1] != "b" {
		return fmt.Errorf("%w: side to move %q", ErrInvalidFEN, fields[1])
	}
	if fields[2] != "-" {
		for _, c := range fields[2] {
			if !strings.ContainsRune("KQkq", c) {
				return fmt.Errorf("%w: castling %q", ErrInvalidFEN, fields[2])
			}
		}
	}
	if ep := fields[3]; ep != "-" {
		if len(ep) != 2 || ep[0] < 'a' || ep[0] > 'h' || (ep[1] != '3' && ep[1] != '6') {
			return fmt.Errorf("%w: en passant %q", ErrInvalidFEN, ep)
		}
	}
	if len(fields) == 6 {
		if n, err := strconv.Atoi(fields[4]); err != nil || n < 0 {
			return fmt.Errorf("%w: halfmove clock %q", ErrInvalidFEN, fields[4])
		}
		if n, err := strconv.Atoi(fields[5]); err != nil || n < 1 {
			return fmt.Errorf("%w: fullmove number %q", ErrInvalidFEN, fields[5])
		}
	}
	return nil
}
