package app

import "parchis/internal/domain"

// Lobby is the table policy shared by every transport: who is waiting, when
// a game starts, and what happens to seats when players leave. It is not
// safe for concurrent use; callers serialize access (the session worker or
// the Nakama match loop).
type Lobby struct {
	svc        *Service
	minPlayers int
	waiting    []string // authenticated, not seated, join order
	game       *domain.Game
}

// NewLobby returns an empty lobby. minPlayers outside the seat range falls
// back to MinPlayersToStartGame.
func NewLobby(svc *Service, minPlayers int) *Lobby {
	if svc == nil {
		svc = NewService(nil)
	}
	if minPlayers < domain.MinPlayers || minPlayers > domain.MaxPlayers {
		minPlayers = MinPlayersToStartGame
	}
	return &Lobby{svc: svc, minPlayers: minPlayers}
}

func (l *Lobby) MinPlayers() int { return l.minPlayers }

// Game is the current or last finished game, nil when none.
func (l *Lobby) Game() *domain.Game { return l.game }

// Waiting returns a copy of the queued usernames.
func (l *Lobby) Waiting() []string { return append([]string{}, l.waiting...) }

// Phase is lobby when no game exists, else the game's phase.
func (l *Lobby) Phase() domain.Phase {
	if l.game == nil {
		return domain.PhaseLobby
	}
	return l.game.Phase
}

// InProgress reports whether a game is being played.
func (l *Lobby) InProgress() bool { return l.Phase() == domain.PhasePlaying }

// Ready counts players who would be seated by the next start: the queue plus
// the players of a finished game.
func (l *Lobby) Ready() int {
	n := len(l.waiting)
	if l.game != nil && l.game.Phase == domain.PhaseEnded {
		n += len(l.game.PlayerOrder)
	}
	return n
}

// Join queues users and starts a game when none is being played and enough
// players are ready. The events are empty unless a game started.
func (l *Lobby) Join(users ...string) ([]Event, error) {
	l.waiting = append(l.waiting, users...)
	return l.maybeStart()
}

// Leave drops user from the queue and from the turn order. A game left with
// no seated players is closed, after which the queue may start a new one.
func (l *Lobby) Leave(user string) ([]Event, error) {
	l.waiting = removeString(l.waiting, user)
	if l.game == nil {
		return nil, nil
	}
	wasPlaying := l.InProgress()
	events, err := l.svc.RemovePlayer(l.game, user)
	if err != nil {
		return nil, err
	}
	if len(l.game.PlayerOrder) > 0 {
		return events, nil
	}
	l.game = nil
	events = append(events, Event{Kind: EventGameClosed, Payload: GameClosedPayload{Reason: ClosedEmpty, WasPlaying: wasPlaying}})
	started, err := l.maybeStart()
	return append(events, started...), err
}

// RollDice runs a roll in the current game.
func (l *Lobby) RollDice(user string) ([]Event, error) {
	return l.svc.RollDice(l.game, user)
}

// MovePiece runs a move in the current game.
func (l *Lobby) MovePiece(user, pieceID string) ([]Event, error) {
	return l.svc.MovePiece(l.game, user, pieceID)
}

// NewGame starts a game with the ready players regardless of minPlayers.
// It backs both request_new_game and the operator's force start.
func (l *Lobby) NewGame() ([]Event, error) {
	if l.InProgress() {
		return nil, ErrGameInProgress
	}
	if l.Ready() < domain.MinPlayers {
		return nil, domain.ErrTooFewPlayers
	}
	return l.start()
}

// Stop ends the current game without a winner. Its players go back to the
// front of the queue.
func (l *Lobby) Stop() ([]Event, error) {
	if l.game == nil {
		return nil, ErrNoGame
	}
	wasPlaying := l.InProgress()
	l.requeue()
	return []Event{{Kind: EventGameClosed, Payload: GameClosedPayload{Reason: ClosedStopped, WasPlaying: wasPlaying}}}, nil
}

// Reset forgets every player and the game.
func (l *Lobby) Reset() {
	l.waiting = nil
	l.game = nil
}

func (l *Lobby) maybeStart() ([]Event, error) {
	if l.InProgress() || l.Ready() < l.minPlayers {
		return nil, nil
	}
	return l.start()
}

// start seats up to four ready players, finished-game players first.
func (l *Lobby) start() ([]Event, error) {
	l.requeue()
	n := len(l.waiting)
	if n > domain.MaxPlayers {
		n = domain.MaxPlayers
	}
	game, events, err := l.svc.StartGame(append([]string(nil), l.waiting[:n]...))
	if err != nil {
		return nil, err
	}
	l.waiting = append([]string(nil), l.waiting[n:]...)
	l.game = game
	return events, nil
}

// requeue moves the seated players of the current game to the front of the
// queue and drops the game.
func (l *Lobby) requeue() {
	if l.game == nil {
		return
	}
	l.waiting = append(append([]string(nil), l.game.PlayerOrder...), l.waiting...)
	l.game = nil
}

func removeString(list []string, v string) []string {
	out := list[:0]
	for _, s := range list {
		if s != v {
			out = append(out, s)
		}
	}
	return out
}
