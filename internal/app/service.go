package app

import (
	"errors"
	"math/rand"
	"time"

	"parchis/internal/domain"
)

// Service contains Parchís use-cases operating on domain state.
type Service struct {
	rng  *rand.Rand
	dice func() int
}

// NewService constructs a Service with provided rng or a time-seeded default.
func NewService(rng *rand.Rand) *Service {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	s := &Service{rng: rng}
	s.dice = func() int { return s.rng.Intn(6) + 1 }
	return s
}

// NewServiceWithDice constructs a Service whose rolls come from dice.
// Color assignment still uses a time-seeded rng.
func NewServiceWithDice(dice func() int) *Service {
	s := NewService(nil)
	if dice != nil {
		s.dice = dice
	}
	return s
}

var (
	ErrNoGame         = errors.New("no game in progress")
	ErrGameInProgress = errors.New("game already in progress")
)

// StartGame seats players in join order and assigns colors from a uniform
// shuffle of the four colors truncated to the seat count.
func (s *Service) StartGame(players []string) (*domain.Game, []Event, error) {
	colors := append([]domain.Color(nil), domain.Colors[:]...)
	s.rng.Shuffle(len(colors), func(i, j int) { colors[i], colors[j] = colors[j], colors[i] })

	game, err := domain.NewGame(players, colors)
	if err != nil {
		return nil, nil, err
	}

	seats := make([]SeatAssignment, 0, len(game.PlayerOrder))
	for _, user := range game.PlayerOrder {
		seats = append(seats, SeatAssignment{UserID: user, Color: game.Colors[user]})
	}
	first := game.CurrentPlayer()

	events := []Event{
		{
			Kind:    EventGameStarted,
			Payload: GameStartedPayload{Players: seats, FirstTurnUserID: first},
		},
		yourTurn(first),
	}
	return game, events, nil
}

// RollDice draws a value for the actor and auto-resolves the turn when no
// piece can move.
func (s *Service) RollDice(game *domain.Game, actorUserID string) ([]Event, error) {
	if game == nil {
		return nil, ErrNoGame
	}
	if err := game.CanRoll(actorUserID); err != nil {
		return nil, err
	}
	return s.applyRoll(game, actorUserID, s.dice())
}

func (s *Service) applyRoll(game *domain.Game, actorUserID string, value int) ([]Event, error) {
	if game == nil {
		return nil, ErrNoGame
	}
	res, err := game.ApplyRoll(actorUserID, value)
	if err != nil {
		return nil, err
	}
	return []Event{
		{
			Kind: EventDiceRolled,
			Payload: DiceRolledPayload{
				UserID:         res.Player,
				Value:          res.Value,
				HasMove:        res.HasMove,
				Reroll:         res.Reroll,
				TurnPassed:     res.TurnPassed,
				StreakPenalty:  res.StreakPenalty,
				NextTurnUserID: res.NextPlayer,
			},
		},
		yourTurn(res.NextPlayer),
	}, nil
}

// MovePiece moves one of the actor's pieces with the pending dice value.
func (s *Service) MovePiece(game *domain.Game, actorUserID, pieceID string) ([]Event, error) {
	if game == nil {
		return nil, ErrNoGame
	}
	res, err := game.ApplyMove(actorUserID, pieceID)
	if err != nil {
		return nil, err
	}

	events := []Event{
		{
			Kind: EventPieceMoved,
			Payload: PieceMovedPayload{
				UserID:         res.Player,
				PieceID:        res.PieceID,
				Dice:           res.Dice,
				From:           res.From.Wire(),
				To:             res.To.Wire(),
				Final:          res.Final.Wire(),
				Captured:       res.Captured,
				BonusApplied:   res.BonusApplied,
				BonusForfeited: res.BonusForfeited,
				Penalty:        res.Penalty,
				ExtraTurn:      res.ExtraTurn,
				NextTurnUserID: res.NextPlayer,
			},
		},
	}

	if res.Winner != "" {
		return append(events, Event{
			Kind:    EventGameEnded,
			Payload: GameEndedPayload{Winner: res.Winner},
		}), nil
	}
	return append(events, yourTurn(res.NextPlayer)), nil
}

// RemovePlayer takes a departed user out of the turn order. Returns no events
// when the user was not seated.
func (s *Service) RemovePlayer(game *domain.Game, userID string) ([]Event, error) {
	if game == nil || !game.IsSeated(userID) {
		return nil, nil
	}
	wasPlaying := game.Phase == domain.PhasePlaying

	res, err := game.RemovePlayer(userID)
	if err != nil {
		return nil, err
	}
	events := []Event{
		{
			Kind: EventPlayerLeft,
			Payload: PlayerLeftPayload{
				UserID:         userID,
				WasCurrent:     res.WasCurrent,
				NextTurnUserID: res.NextPlayer,
			},
		},
	}

	switch {
	case !wasPlaying || res.Empty:
	case res.Winner != "":
		events = append(events, Event{
			Kind:    EventGameEnded,
			Payload: GameEndedPayload{Winner: res.Winner, Forfeit: true},
		})
	case res.WasCurrent:
		events = append(events, yourTurn(res.NextPlayer))
	}
	return events, nil
}

func yourTurn(userID string) Event {
	return Event{
		Kind:       EventYourTurn,
		Payload:    YourTurnPayload{UserID: userID},
		Recipients: []string{userID},
	}
}
