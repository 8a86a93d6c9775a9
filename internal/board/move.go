package board

import (
	"fmt"

	"github.com/freeeve/pgn/v3"
)

// Move encoding (uint32):
//   bits 0-5:   from square (0-63)
//   bits 6-11:  to square (0-63)
//   bits 12-14: promotion piece (0=none, 1=Q, 2=R, 3=B, 4=N)
type Move uint32

const (
	moveFromMask   = 0x3F
	moveToMask     = 0xFC0
	movePromoMask  = 0x7000
	movePromoShift = 12
	moveToShift    = 6
)

// Promotion piece codes.
const (
	PromoNone   = 0
	PromoQueen  = 1
	PromoRook   = 2
	PromoBishop = 3
	PromoKnight = 4
)

// EncodeMove creates a Move from square indices (A1=0 ... H8=63) and a promotion code.
func EncodeMove(from, to int, promo byte) Move {
	if from < 0 || from > 63 || to < 0 || to > 63 {
		return 0
	}
	return Move(uint32(from) | (uint32(to) << moveToShift) | (uint32(promo) << movePromoShift))
}

// FromSquare returns the source square index (0-63).
func (m Move) FromSquare() int {
	return int(m & moveFromMask)
}

// ToSquare returns the destination square index (0-63).
func (m Move) ToSquare() int {
	return int((m & moveToMask) >> moveToShift)
}

// Promotion returns the promotion code (0=none, 1=Q, 2=R, 3=B, 4=N).
func (m Move) Promotion() byte {
	return byte((m & movePromoMask) >> movePromoShift)
}

// ToUCI renders the move in coordinate notation (e.g. "e2e4", "e7e8q").
func (m Move) ToUCI() string {
	from := m.FromSquare()
	to := m.ToSquare()
	uci := []byte{
		byte('a' + from%8), byte('1' + from/8),
		byte('a' + to%8), byte('1' + to/8),
	}
	if p := m.Promotion(); p > 0 && p <= 4 {
		uci = append(uci, "qrbn"[p-1])
	}
	return string(uci)
}

// MoveFromUCI parses a coordinate-notation token such as "e2e4" or "a7a8q".
func MoveFromUCI(uci string) (Move, error) {
	if len(uci) != 4 && len(uci) != 5 {
		return 0, fmt.Errorf("coordinate move must be 4 or 5 characters: %q", uci)
	}

	fromFile := int(uci[0]) - 'a'
	fromRank := int(uci[1]) - '1'
	toFile := int(uci[2]) - 'a'
	toRank := int(uci[3]) - '1'
	if fromFile < 0 || fromFile > 7 || fromRank < 0 || fromRank > 7 {
		return 0, fmt.Errorf("invalid from square in %q", uci)
	}
	if toFile < 0 || toFile > 7 || toRank < 0 || toRank > 7 {
		return 0, fmt.Errorf("invalid to square in %q", uci)
	}

	var promo byte = PromoNone
	if len(uci) == 5 {
		switch uci[4] {
		case 'q', 'Q':
			promo = PromoQueen
		case 'r', 'R':
			promo = PromoRook
		case 'b', 'B':
			promo = PromoBishop
		case 'n', 'N':
			promo = PromoKnight
		default:
			return 0, fmt.Errorf("invalid promotion piece %q in %q", uci[4], uci)
		}
	}

	return EncodeMove(fromRank*8+fromFile, toRank*8+toFile, promo), nil
}

// isCoordinate reports whether tok has the shape of a coordinate move.
// SAN never matches: its destination square is always last and pieces are uppercase.
func isCoordinate(tok string) bool {
	if len(tok) != 4 && len(tok) != 5 {
		return false
	}
	if tok[0] < 'a' || tok[0] > 'h' || tok[1] < '1' || tok[1] > '8' {
		return false
	}
	if tok[2] < 'a' || tok[2] > 'h' || tok[3] < '1' || tok[3] > '8' {
		return false
	}
	return len(tok) == 4 || tok[4] == 'q' || tok[4] == 'r' || tok[4] == 'b' || tok[4] == 'n'
}

// promoCode maps the rules library's promotion value onto the local codes.
func promoCode(mv pgn.Mv) byte {
	switch mv.Promo {
	case pgn.PromoQueen:
		return PromoQueen
	case pgn.PromoRook:
		return PromoRook
	case pgn.PromoBishop:
		return PromoBishop
	case pgn.PromoKnight:
		return PromoKnight
	}
	return PromoNone
}

// FromMv converts a rules-library move into the compact encoding.
func FromMv(mv pgn.Mv) Move {
	return EncodeMove(int(mv.From), int(mv.To), promoCode(mv))
}

// sameMove reports whether a legal move is the one described by m.
func sameMove(legal pgn.Mv, m Move) bool {
	return int(legal.From) == m.FromSquare() &&
		int(legal.To) == m.ToSquare() &&
		promoCode(legal) == m.Promotion()
}
