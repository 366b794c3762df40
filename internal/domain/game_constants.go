package domain

const (
	// RingLength is the number of squares on the shared outer ring.
	RingLength = 52
	// HomeLaneLength is the number of private squares between a color's home entry and its goal.
	HomeLaneLength = 6
	// PiecesPerColor is how many pieces each seated color owns.
	PiecesPerColor = 4
	// MaxPlayers is the number of colors, and therefore seats, on the board.
	MaxPlayers = 4
	// MinPlayers is the smallest table a game can start with.
	MinPlayers = 2

	// EntryRoll is the dice value required to leave base.
	EntryRoll = 6
	// MaxSixStreak is the number of consecutive sixes that triggers the penalty.
	MaxSixStreak = 3
	// CaptureBonusSteps is the extra advance granted to a piece that captures.
	CaptureBonusSteps = 20
	// BlockSize is the number of same-color pieces that close a square to that color.
	BlockSize = 2

	// Wire encodings for the three position zones.
	wireBase         = -1
	wireHomeLaneBase = 100
	wireGoal         = wireHomeLaneBase + HomeLaneLength
)

// SafeSquares are ring squares on which no capture can happen.
var SafeSquares = map[int]bool{0: true, 8: true, 13: true, 21: true, 26: true, 34: true, 39: true, 47: true}

// IsSafeSquare reports whether the ring square is protected from captures.
func IsSafeSquare(square int) bool {
	return SafeSquares[square]
}
