package domain

import "errors"

// Rule violations. None of them mutate state.
var (
	ErrGameNotActive   = errors.New("no game in progress")
	ErrUnknownPlayer   = errors.New("player not seated")
	ErrNotYourTurn     = errors.New("not your turn")
	ErrMustRoll        = errors.New("roll the dice before moving")
	ErrMustMove        = errors.New("dice already rolled, move a piece")
	ErrUnknownPiece    = errors.New("unknown piece")
	ErrNotYourPiece    = errors.New("piece belongs to another player")
	ErrIllegalMove     = errors.New("move not allowed")
	ErrInvalidDice     = errors.New("dice value out of range")
	ErrInvalidPosition = errors.New("invalid position")
	ErrTooFewPlayers   = errors.New("not enough players to start")
	ErrTooManyPlayers  = errors.New("too many players")
	ErrDuplicatePlayer = errors.New("player listed twice")
)
