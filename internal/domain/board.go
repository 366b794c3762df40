package domain

import "fmt"

// Board owns every piece of one game and is the only place positions change.
type Board struct {
	pieces []*Piece
	colors []Color
}

// NewBoard places four pieces in base for each seated color.
func NewBoard(colors []Color) *Board {
	b := &Board{colors: append([]Color(nil), colors...)}
	for _, c := range colors {
		for i := 1; i <= PiecesPerColor; i++ {
			b.pieces = append(b.pieces, &Piece{Color: c, Index: i, Position: AtBase()})
		}
	}
	return b
}

// Colors returns the seated colors in seat order.
func (b *Board) Colors() []Color {
	return append([]Color(nil), b.colors...)
}

// Pieces returns every piece on the board.
func (b *Board) Pieces() []*Piece {
	return b.pieces
}

// Piece looks a piece up by its wire ID; nil when the color is not seated.
func (b *Board) Piece(id string) *Piece {
	for _, p := range b.pieces {
		if p.ID() == id {
			return p
		}
	}
	return nil
}

// PiecesByColor returns the pieces of one color.
func (b *Board) PiecesByColor(c Color) []*Piece {
	var out []*Piece
	for _, p := range b.pieces {
		if p.Color == c {
			out = append(out, p)
		}
	}
	return out
}

// PiecesAt returns every piece standing on pos. Home lane positions are
// private, so only pieces of that lane's owner can ever match them.
func (b *Board) PiecesAt(pos Position) []*Piece {
	var out []*Piece
	for _, p := range b.pieces {
		if p.Position == pos {
			out = append(out, p)
		}
	}
	return out
}

func (b *Board) countColorAt(pos Position, c Color) int {
	n := 0
	for _, p := range b.pieces {
		if p.Color == c && p.Position == pos {
			n++
		}
	}
	return n
}

// IsBlocked reports whether c already has a block on pos.
func (b *Board) IsBlocked(pos Position, c Color) bool {
	return b.countColorAt(pos, c) >= BlockSize
}

// Destination computes where piece would land with the given number of steps.
// ok is false when the move is not allowed. It never mutates the board.
func (b *Board) Destination(piece *Piece, steps int) (dest Position, ok bool) {
	if steps <= 0 {
		return Position{}, false
	}

	switch piece.Position.Zone {
	case ZoneGoal:
		return Position{}, false

	case ZoneBase:
		if steps != EntryRoll {
			return Position{}, false
		}
		dest = OnRing(piece.Color.EntryOffset())

	case ZoneRing:
		toHomeEntry := mod(piece.Color.HomeEntry()-piece.Position.Index, RingLength)
		if steps <= toHomeEntry {
			dest = OnRing(piece.Position.Index + steps)
		} else {
			slot := steps - toHomeEntry - 1
			if slot >= HomeLaneLength {
				return Position{}, false
			}
			dest = InHomeLane(slot)
		}

	case ZoneHomeLane:
		slot := piece.Position.Index + steps
		if slot > HomeLaneLength {
			return Position{}, false
		}
		dest = InHomeLane(slot)

	default:
		return Position{}, false
	}

	// The goal holds any number of pieces.
	if dest.Zone != ZoneGoal && b.IsBlocked(dest, piece.Color) {
		return Position{}, false
	}
	return dest, true
}

// CanMove reports whether piece may advance by steps.
func (b *Board) CanMove(piece *Piece, steps int) bool {
	_, ok := b.Destination(piece, steps)
	return ok
}

// HasLegalMove reports whether any piece of c can move with dice.
func (b *Board) HasLegalMove(c Color, dice int) bool {
	for _, p := range b.PiecesByColor(c) {
		if b.CanMove(p, dice) {
			return true
		}
	}
	return false
}

// MovePiece re-validates and applies a move, returning the new position.
func (b *Board) MovePiece(piece *Piece, steps int) (Position, error) {
	dest, ok := b.Destination(piece, steps)
	if !ok {
		return piece.Position, fmt.Errorf("%w: %s by %d", ErrIllegalMove, piece.ID(), steps)
	}
	piece.Position = dest
	return dest, nil
}

// CheckCapture resolves a capture for a piece that has just landed. Only a
// lone opposing piece on a non-safe ring square is captured; it goes back to
// base and is returned. Blocks and mixed groups are never captured.
func (b *Board) CheckCapture(piece *Piece) *Piece {
	if !piece.OnRing() || IsSafeSquare(piece.Position.Index) {
		return nil
	}
	var opponents []*Piece
	for _, p := range b.PiecesAt(piece.Position) {
		if p.Color != piece.Color {
			opponents = append(opponents, p)
		}
	}
	if len(opponents) != 1 {
		return nil
	}
	captured := opponents[0]
	b.SendToBase(captured)
	return captured
}

// SendToBase resets a piece to its starting state.
func (b *Board) SendToBase(piece *Piece) {
	piece.Position = AtBase()
}

// AllFinished reports whether every piece of c reached the goal.
func (b *Board) AllFinished(c Color) bool {
	pieces := b.PiecesByColor(c)
	if len(pieces) == 0 {
		return false
	}
	for _, p := range pieces {
		if !p.Finished() {
			return false
		}
	}
	return true
}

// Snapshot maps piece IDs to wire positions.
func (b *Board) Snapshot() map[string]int {
	out := make(map[string]int, len(b.pieces))
	for _, p := range b.pieces {
		out[p.ID()] = p.Position.Wire()
	}
	return out
}
