package domain

import "fmt"

// Zone classifies where on the board a piece is.
type Zone int

const (
	ZoneBase Zone = iota
	ZoneRing
	ZoneHomeLane
	ZoneGoal
)

func (z Zone) String() string {
	switch z {
	case ZoneBase:
		return "base"
	case ZoneRing:
		return "ring"
	case ZoneHomeLane:
		return "home_lane"
	case ZoneGoal:
		return "goal"
	default:
		return fmt.Sprintf("zone(%d)", int(z))
	}
}

// Position is a tagged location. Index is the ring square (0..51) for ZoneRing,
// the lane slot (0..5) for ZoneHomeLane, and unused otherwise.
type Position struct {
	Zone  Zone
	Index int
}

// AtBase is the position of a piece that has not entered the ring.
func AtBase() Position { return Position{Zone: ZoneBase} }

// OnRing returns the ring square, normalized into 0..51.
func OnRing(square int) Position {
	return Position{Zone: ZoneRing, Index: mod(square, RingLength)}
}

// InHomeLane returns a home lane slot. Slot HomeLaneLength is the goal.
func InHomeLane(slot int) Position {
	if slot >= HomeLaneLength {
		return AtGoal()
	}
	return Position{Zone: ZoneHomeLane, Index: slot}
}

// AtGoal is the position of a finished piece.
func AtGoal() Position { return Position{Zone: ZoneGoal} }

// Wire encodes the position as the protocol integer: -1 base, 0..51 ring,
// 100..105 home lane, 106 goal.
func (p Position) Wire() int {
	switch p.Zone {
	case ZoneRing:
		return p.Index
	case ZoneHomeLane:
		return wireHomeLaneBase + p.Index
	case ZoneGoal:
		return wireGoal
	default:
		return wireBase
	}
}

// PositionFromWire decodes a protocol integer.
func PositionFromWire(v int) (Position, error) {
	switch {
	case v == wireBase:
		return AtBase(), nil
	case v >= 0 && v < RingLength:
		return OnRing(v), nil
	case v >= wireHomeLaneBase && v < wireGoal:
		return InHomeLane(v - wireHomeLaneBase), nil
	case v == wireGoal:
		return AtGoal(), nil
	default:
		return Position{}, fmt.Errorf("%w: %d", ErrInvalidPosition, v)
	}
}

func (p Position) String() string {
	switch p.Zone {
	case ZoneRing:
		return fmt.Sprintf("ring[%d]", p.Index)
	case ZoneHomeLane:
		return fmt.Sprintf("lane[%d]", p.Index)
	default:
		return p.Zone.String()
	}
}

func mod(a, n int) int {
	return ((a % n) + n) % n
}
