package app

import (
	"fmt"

	"parchis/internal/domain"
)

// EventKind identifies emitted game events for transport dispatch.
type EventKind string

const (
	EventGameStarted EventKind = "game_started"
	EventDiceRolled  EventKind = "dice_rolled"
	EventPieceMoved  EventKind = "piece_moved"
	EventPlayerLeft  EventKind = "player_left"
	EventYourTurn    EventKind = "your_turn"
	EventGameEnded   EventKind = "game_ended"
	EventGameClosed  EventKind = "game_closed"
)

// Reasons a game is closed without a winner.
const (
	ClosedEmpty   = "empty"
	ClosedStopped = "stopped"
)

// Event is a game event with optional targeted recipients.
type Event struct {
	Kind       EventKind
	Payload    any
	Recipients []string // usernames; empty means broadcast
}

// ChangesState reports whether the event should be followed by a fresh
// board snapshot to every client.
func (e Event) ChangesState() bool {
	switch e.Kind {
	case EventGameStarted, EventDiceRolled, EventPieceMoved, EventPlayerLeft, EventGameClosed:
		return true
	}
	return false
}

type GameStartedPayload struct {
	Players         []SeatAssignment
	FirstTurnUserID string
}

type SeatAssignment struct {
	UserID string
	Color  domain.Color
}

type DiceRolledPayload struct {
	UserID         string
	Value          int
	HasMove        bool
	Reroll         bool
	TurnPassed     bool
	StreakPenalty  bool
	NextTurnUserID string
}

type PieceMovedPayload struct {
	UserID         string
	PieceID        string
	Dice           int
	From           int
	To             int
	Final          int
	Captured       string
	BonusApplied   bool
	BonusForfeited bool
	Penalty        bool
	ExtraTurn      bool
	NextTurnUserID string
}

type PlayerLeftPayload struct {
	UserID         string
	WasCurrent     bool
	NextTurnUserID string
}

type YourTurnPayload struct {
	UserID string
}

type GameEndedPayload struct {
	Winner  string
	Forfeit bool
}

// GameClosedPayload reports a game dropped without a winner. WasPlaying is
// false when the game had already ended.
type GameClosedPayload struct {
	Reason     string
	WasPlaying bool
}

// Describe renders the human-readable status line carried in game_update.
func Describe(ev Event) string {
	switch p := ev.Payload.(type) {
	case GameStartedPayload:
		return fmt.Sprintf("Game started. %s rolls first", p.FirstTurnUserID)
	case DiceRolledPayload:
		switch {
		case p.StreakPenalty:
			return fmt.Sprintf("%s rolled a third 6 with no move. Turn: %s", p.UserID, p.NextTurnUserID)
		case p.Reroll:
			return fmt.Sprintf("%s rolled a 6 with no move and rolls again", p.UserID)
		case p.TurnPassed:
			return fmt.Sprintf("%s rolled a %d with no move. Turn: %s", p.UserID, p.Value, p.NextTurnUserID)
		}
		return fmt.Sprintf("%s rolled a %d", p.UserID, p.Value)
	case PieceMovedPayload:
		msg := fmt.Sprintf("%s moved %s", p.UserID, p.PieceID)
		if p.Captured != "" {
			msg += fmt.Sprintf(" and captured %s", p.Captured)
			if p.BonusForfeited {
				msg += " (bonus forfeited)"
			}
		}
		if p.Penalty {
			msg += fmt.Sprintf(". Third 6 in a row, %s goes back to base", p.PieceID)
		}
		if p.NextTurnUserID != "" {
			msg += ". Turn: " + p.NextTurnUserID
		}
		return msg
	case PlayerLeftPayload:
		if p.WasCurrent && p.NextTurnUserID != "" {
			return fmt.Sprintf("%s left. Turn: %s", p.UserID, p.NextTurnUserID)
		}
		return fmt.Sprintf("%s left", p.UserID)
	case GameEndedPayload:
		if p.Forfeit {
			return fmt.Sprintf("%s wins by forfeit", p.Winner)
		}
		return fmt.Sprintf("%s wins", p.Winner)
	case GameClosedPayload:
		if p.Reason == ClosedStopped {
			return "Game stopped by operator"
		}
		return "Game closed. Waiting for players"
	}
	return ""
}
