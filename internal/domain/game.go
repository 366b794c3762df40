package domain

import "fmt"

// Phase represents the lifecycle stage of a game.
type Phase string

const (
	// PhaseLobby indicates no game is running and players are waiting.
	PhaseLobby Phase = "lobby"
	// PhasePlaying indicates the game is actively in progress.
	PhasePlaying Phase = "playing"
	// PhaseEnded indicates the game has a winner or lost all its players.
	PhaseEnded Phase = "ended"
)

// Game is the authoritative turn engine for one table: the board plus dice,
// turn and six-streak bookkeeping. A Dice value of 0 means the current player
// must roll before acting.
type Game struct {
	Board       *Board
	PlayerOrder []string         // seated usernames in turn order
	Colors      map[string]Color // username -> color

	CurrentTurn int // index into PlayerOrder
	Dice        int // pending dice value, 0 when none
	LastRoll    int // most recent roll, kept for display after Dice clears
	SixStreak   int

	Phase     Phase
	Winner    string
	LastMoved string
}

// NewGame seats players in order with the given colors.
func NewGame(players []string, colors []Color) (*Game, error) {
	if len(players) < MinPlayers {
		return nil, ErrTooFewPlayers
	}
	if len(players) > MaxPlayers {
		return nil, ErrTooManyPlayers
	}
	if len(colors) < len(players) {
		return nil, fmt.Errorf("need %d colors, got %d", len(players), len(colors))
	}

	g := &Game{
		PlayerOrder: make([]string, 0, len(players)),
		Colors:      make(map[string]Color, len(players)),
		Phase:       PhasePlaying,
	}
	seated := make([]Color, 0, len(players))
	for i, user := range players {
		if _, dup := g.Colors[user]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicatePlayer, user)
		}
		g.PlayerOrder = append(g.PlayerOrder, user)
		g.Colors[user] = colors[i]
		seated = append(seated, colors[i])
	}
	g.Board = NewBoard(seated)
	return g, nil
}

// CurrentPlayer returns the username expected to act, or "" when nobody is seated.
func (g *Game) CurrentPlayer() string {
	if len(g.PlayerOrder) == 0 {
		return ""
	}
	return g.PlayerOrder[g.CurrentTurn]
}

// ColorOf returns a seated player's color.
func (g *Game) ColorOf(user string) (Color, bool) {
	c, ok := g.Colors[user]
	return c, ok
}

// IsSeated reports whether user is in the turn order.
func (g *Game) IsSeated(user string) bool {
	return g.seatIndex(user) >= 0
}

func (g *Game) seatIndex(user string) int {
	for i, u := range g.PlayerOrder {
		if u == user {
			return i
		}
	}
	return -1
}

func (g *Game) checkActor(user string) error {
	if g.Phase != PhasePlaying {
		return ErrGameNotActive
	}
	if !g.IsSeated(user) {
		return ErrUnknownPlayer
	}
	if g.CurrentPlayer() != user {
		return ErrNotYourTurn
	}
	return nil
}

// RollResult describes what a roll did to the turn.
type RollResult struct {
	Player  string
	Value   int
	HasMove bool
	// TurnPassed is set when the roll was auto-resolved into a turn change.
	TurnPassed bool
	// Reroll is set when the player rolled a six without a legal move and
	// keeps the turn.
	Reroll bool
	// StreakPenalty is set when that six was the third in a row.
	StreakPenalty bool
	NextPlayer    string
}

// CanRoll reports why user may not roll right now, or nil.
func (g *Game) CanRoll(user string) error {
	if err := g.checkActor(user); err != nil {
		return err
	}
	if g.Dice != 0 {
		return ErrMustMove
	}
	return nil
}

// ApplyRoll records a dice value for the current player and auto-resolves the
// turn when no piece can move.
func (g *Game) ApplyRoll(user string, value int) (RollResult, error) {
	if err := g.CanRoll(user); err != nil {
		return RollResult{}, err
	}
	if value < 1 || value > 6 {
		return RollResult{}, fmt.Errorf("%w: %d", ErrInvalidDice, value)
	}

	g.Dice = value
	g.LastRoll = value
	res := RollResult{Player: user, Value: value, NextPlayer: user}

	color := g.Colors[user]
	if g.Board.HasLegalMove(color, value) {
		res.HasMove = true
		return res, nil
	}

	if value != 6 {
		g.SixStreak = 0
		g.advanceTurn()
		res.TurnPassed = true
		res.NextPlayer = g.CurrentPlayer()
		return res, nil
	}

	// A six without a move still counts toward the streak.
	g.SixStreak++
	if g.SixStreak >= MaxSixStreak {
		g.SixStreak = 0
		g.advanceTurn()
		res.TurnPassed = true
		res.StreakPenalty = true
		res.NextPlayer = g.CurrentPlayer()
		return res, nil
	}
	g.Dice = 0
	res.Reroll = true
	return res, nil
}

// MoveResult describes a resolved move.
type MoveResult struct {
	Player  string
	PieceID string
	Dice    int
	From    Position
	To      Position // landing square of the dice move

	Captured       string // ID of the captured piece, if any
	BonusApplied   bool
	BonusForfeited bool
	Final          Position // after bonus and penalty

	Penalty    bool // third six in a row sent the piece home
	ExtraTurn  bool
	NextPlayer string
	Winner     string
}

// ApplyMove moves one of the current player's pieces with the pending dice
// and resolves capture, bonus, six-streak and win.
func (g *Game) ApplyMove(user, pieceID string) (MoveResult, error) {
	if err := g.checkActor(user); err != nil {
		return MoveResult{}, err
	}
	if g.Dice == 0 {
		return MoveResult{}, ErrMustRoll
	}
	if _, _, err := ParsePieceID(pieceID); err != nil {
		return MoveResult{}, err
	}
	piece := g.Board.Piece(pieceID)
	if piece == nil {
		return MoveResult{}, fmt.Errorf("%w: %q", ErrUnknownPiece, pieceID)
	}
	if piece.Color != g.Colors[user] {
		return MoveResult{}, fmt.Errorf("%w: %s", ErrNotYourPiece, pieceID)
	}

	dice := g.Dice
	res := MoveResult{Player: user, PieceID: pieceID, Dice: dice, From: piece.Position}

	to, err := g.Board.MovePiece(piece, dice)
	if err != nil {
		return MoveResult{}, err
	}
	res.To = to
	g.LastMoved = pieceID

	if captured := g.Board.CheckCapture(piece); captured != nil {
		res.Captured = captured.ID()
		// The bonus advance never resolves a second capture.
		if _, err := g.Board.MovePiece(piece, CaptureBonusSteps); err == nil {
			res.BonusApplied = true
		} else {
			res.BonusForfeited = true
		}
	}

	if dice == 6 {
		g.SixStreak++
		if g.SixStreak >= MaxSixStreak {
			g.Board.SendToBase(piece)
			g.SixStreak = 0
			res.Penalty = true
		}
	} else {
		g.SixStreak = 0
	}
	res.Final = piece.Position

	if g.Board.AllFinished(g.Colors[user]) {
		g.Phase = PhaseEnded
		g.Winner = user
		g.Dice = 0
		res.Winner = user
		return res, nil
	}

	if dice == 6 && !res.Penalty {
		g.Dice = 0
		res.ExtraTurn = true
	} else {
		g.advanceTurn()
	}
	res.NextPlayer = g.CurrentPlayer()
	return res, nil
}

// LeaveResult describes how the table changed after a player left.
type LeaveResult struct {
	WasCurrent bool
	NextPlayer string
	Winner     string // last player standing
	Empty      bool
}

// RemovePlayer takes user out of the turn order. Their pieces stay on the
// board. If they held the turn it passes to the next seat.
func (g *Game) RemovePlayer(user string) (LeaveResult, error) {
	idx := g.seatIndex(user)
	if idx < 0 {
		return LeaveResult{}, ErrUnknownPlayer
	}

	res := LeaveResult{WasCurrent: idx == g.CurrentTurn}
	g.PlayerOrder = append(g.PlayerOrder[:idx], g.PlayerOrder[idx+1:]...)
	delete(g.Colors, user)

	switch {
	case idx < g.CurrentTurn:
		g.CurrentTurn--
	case res.WasCurrent:
		g.Dice = 0
		g.SixStreak = 0
		if g.CurrentTurn >= len(g.PlayerOrder) {
			g.CurrentTurn = 0
		}
	}

	if g.Phase == PhasePlaying {
		switch len(g.PlayerOrder) {
		case 0:
			g.Phase = PhaseEnded
			g.Dice = 0
			res.Empty = true
			return res, nil
		case 1:
			g.Phase = PhaseEnded
			g.Dice = 0
			g.Winner = g.PlayerOrder[0]
			res.Winner = g.Winner
			return res, nil
		}
	}
	if len(g.PlayerOrder) == 0 {
		res.Empty = true
	}
	res.NextPlayer = g.CurrentPlayer()
	return res, nil
}

func (g *Game) advanceTurn() {
	if len(g.PlayerOrder) > 0 {
		g.CurrentTurn = (g.CurrentTurn + 1) % len(g.PlayerOrder)
	}
	g.Dice = 0
	g.LastMoved = ""
}

// PlayerProgress summarizes one seated player for snapshots.
type PlayerProgress struct {
	UserID   string
	Color    Color
	Finished int
	AtBase   int
}

// Progress lists seated players in turn order.
func (g *Game) Progress() []PlayerProgress {
	out := make([]PlayerProgress, 0, len(g.PlayerOrder))
	for _, user := range g.PlayerOrder {
		c := g.Colors[user]
		pp := PlayerProgress{UserID: user, Color: c}
		for _, p := range g.Board.PiecesByColor(c) {
			switch {
			case p.Finished():
				pp.Finished++
			case p.AtBase():
				pp.AtBase++
			}
		}
		out = append(out, pp)
	}
	return out
}
