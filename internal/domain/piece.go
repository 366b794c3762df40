package domain

import (
	"fmt"
	"strconv"
)

// Color identifies a player's pieces.
type Color string

const (
	Red    Color = "red"
	Green  Color = "green"
	Yellow Color = "yellow"
	Blue   Color = "blue"
)

// Colors lists every color in ring order.
var Colors = [MaxPlayers]Color{Red, Green, Yellow, Blue}

// ParseColor validates a color name.
func ParseColor(s string) (Color, bool) {
	for _, c := range Colors {
		if string(c) == s {
			return c, true
		}
	}
	return "", false
}

// Abbr is the one-letter prefix used in piece IDs.
func (c Color) Abbr() string {
	switch c {
	case Red:
		return "R"
	case Green:
		return "G"
	case Yellow:
		return "Y"
	case Blue:
		return "B"
	default:
		return "?"
	}
}

// EntryOffset is the ring square where this color's pieces leave base.
func (c Color) EntryOffset() int {
	switch c {
	case Green:
		return 13
	case Yellow:
		return 26
	case Blue:
		return 39
	default:
		return 0
	}
}

// HomeEntry is the last ring square before this color turns into its home lane.
func (c Color) HomeEntry() int {
	return mod(c.EntryOffset()-1, RingLength)
}

func colorFromAbbr(s string) (Color, bool) {
	for _, c := range Colors {
		if c.Abbr() == s {
			return c, true
		}
	}
	return "", false
}

// Piece is a single token. Color and Index never change; Position is only
// assigned by Board.
type Piece struct {
	Color    Color
	Index    int // 1..4
	Position Position
}

// PieceID formats the wire identity of a piece, e.g. "R1".
func PieceID(c Color, index int) string {
	return c.Abbr() + strconv.Itoa(index)
}

// ParsePieceID splits a wire identity into color and index.
func ParsePieceID(id string) (Color, int, error) {
	if len(id) != 2 {
		return "", 0, fmt.Errorf("%w: %q", ErrUnknownPiece, id)
	}
	c, ok := colorFromAbbr(id[:1])
	if !ok {
		return "", 0, fmt.Errorf("%w: %q", ErrUnknownPiece, id)
	}
	n, err := strconv.Atoi(id[1:])
	if err != nil || n < 1 || n > PiecesPerColor {
		return "", 0, fmt.Errorf("%w: %q", ErrUnknownPiece, id)
	}
	return c, n, nil
}

func (p *Piece) ID() string { return PieceID(p.Color, p.Index) }

func (p *Piece) AtBase() bool     { return p.Position.Zone == ZoneBase }
func (p *Piece) OnRing() bool     { return p.Position.Zone == ZoneRing }
func (p *Piece) InHomeLane() bool { return p.Position.Zone == ZoneHomeLane }
func (p *Piece) AtGoal() bool     { return p.Position.Zone == ZoneGoal }

// Finished is true exactly when the piece sits on the goal.
func (p *Piece) Finished() bool { return p.AtGoal() }
