package domain

import (
	"errors"
	"testing"
)

func newTestGame(t *testing.T, players ...string) *Game {
	t.Helper()
	g, err := NewGame(players, Colors[:])
	if err != nil {
		t.Fatalf("NewGame: %v", err)
	}
	return g
}

func TestNewGameValidatesSeats(t *testing.T) {
	if _, err := NewGame([]string{"a"}, Colors[:]); !errors.Is(err, ErrTooFewPlayers) {
		t.Fatalf("err = %v, want ErrTooFewPlayers", err)
	}
	if _, err := NewGame([]string{"a", "b", "c", "d", "e"}, Colors[:]); !errors.Is(err, ErrTooManyPlayers) {
		t.Fatalf("err = %v, want ErrTooManyPlayers", err)
	}
	if _, err := NewGame([]string{"a", "a"}, Colors[:]); !errors.Is(err, ErrDuplicatePlayer) {
		t.Fatalf("err = %v, want ErrDuplicatePlayer", err)
	}

	g := newTestGame(t, "alice", "bob", "carol")
	if len(g.Board.Pieces()) != 12 {
		t.Fatalf("pieces = %d, want 12", len(g.Board.Pieces()))
	}
	if g.CurrentPlayer() != "alice" || g.Dice != 0 {
		t.Fatalf("first turn = %s dice=%d", g.CurrentPlayer(), g.Dice)
	}
}

// Scenario A: a six brings a piece out and keeps the turn.
func TestSixFromBaseKeepsTurn(t *testing.T) {
	g := newTestGame(t, "p", "q")

	roll, err := g.ApplyRoll("p", 6)
	if err != nil {
		t.Fatalf("ApplyRoll: %v", err)
	}
	if !roll.HasMove || roll.TurnPassed {
		t.Fatalf("roll result = %+v", roll)
	}

	res, err := g.ApplyMove("p", "R1")
	if err != nil {
		t.Fatalf("ApplyMove: %v", err)
	}
	if res.Final.Wire() != 0 {
		t.Fatalf("R1 at %d, want 0", res.Final.Wire())
	}
	if !res.ExtraTurn || g.CurrentPlayer() != "p" {
		t.Fatalf("six should keep the turn, current=%s", g.CurrentPlayer())
	}
	if g.Dice != 0 {
		t.Fatalf("dice should clear so p rolls again")
	}
	if _, err := g.ApplyMove("p", "R2"); !errors.Is(err, ErrMustRoll) {
		t.Fatalf("move without roll err = %v, want ErrMustRoll", err)
	}
}

// Scenario B: capture on a plain square plus the 20 step bonus.
func TestCaptureGrantsBonus(t *testing.T) {
	g := newTestGame(t, "p", "q")
	r1 := place(t, g.Board, "R1", 7)
	g1 := place(t, g.Board, "G1", 10)

	if _, err := g.ApplyRoll("p", 3); err != nil {
		t.Fatalf("ApplyRoll: %v", err)
	}
	res, err := g.ApplyMove("p", "R1")
	if err != nil {
		t.Fatalf("ApplyMove: %v", err)
	}
	if res.To.Wire() != 10 {
		t.Fatalf("landed on %d, want 10", res.To.Wire())
	}
	if res.Captured != "G1" || !g1.AtBase() {
		t.Fatalf("G1 not captured: %+v", res)
	}
	if !res.BonusApplied || r1.Position.Wire() != 30 {
		t.Fatalf("R1 at %d after bonus, want 30", r1.Position.Wire())
	}
	if g.CurrentPlayer() != "q" {
		t.Fatalf("turn should pass after a 3")
	}
}

func TestBonusForfeitedWhenIllegal(t *testing.T) {
	g := newTestGame(t, "p", "q")
	// Red reaches home entry at 51; 20 more steps overshoot the lane.
	r1 := place(t, g.Board, "R1", 42)
	place(t, g.Board, "G1", 45)

	if _, err := g.ApplyRoll("p", 3); err != nil {
		t.Fatalf("ApplyRoll: %v", err)
	}
	res, err := g.ApplyMove("p", "R1")
	if err != nil {
		t.Fatalf("ApplyMove: %v", err)
	}
	if res.Captured != "G1" || !res.BonusForfeited || res.BonusApplied {
		t.Fatalf("result = %+v", res)
	}
	if r1.Position.Wire() != 45 {
		t.Fatalf("R1 at %d, want 45", r1.Position.Wire())
	}
}

func TestBonusNeverCapturesTwice(t *testing.T) {
	g := newTestGame(t, "p", "q")
	r1 := place(t, g.Board, "R1", 7)
	place(t, g.Board, "G1", 10)
	g2 := place(t, g.Board, "G2", 30)

	if _, err := g.ApplyRoll("p", 3); err != nil {
		t.Fatalf("ApplyRoll: %v", err)
	}
	if _, err := g.ApplyMove("p", "R1"); err != nil {
		t.Fatalf("ApplyMove: %v", err)
	}
	if r1.Position.Wire() != 30 || g2.Position.Wire() != 30 {
		t.Fatalf("bonus landing should not capture: R1=%d G2=%d", r1.Position.Wire(), g2.Position.Wire())
	}
}

// Scenario C through the engine.
func TestMoveOntoOwnBlockRejected(t *testing.T) {
	g := newTestGame(t, "p", "q")
	place(t, g.Board, "R1", 5)
	place(t, g.Board, "R2", 5)
	place(t, g.Board, "R3", 2)

	if _, err := g.ApplyRoll("p", 3); err != nil {
		t.Fatalf("ApplyRoll: %v", err)
	}
	if _, err := g.ApplyMove("p", "R3"); !errors.Is(err, ErrIllegalMove) {
		t.Fatalf("err = %v, want ErrIllegalMove", err)
	}
	if g.Dice != 3 || g.CurrentPlayer() != "p" {
		t.Fatalf("rejected move changed turn state")
	}
}

// Scenario D through the engine.
func TestHomeLaneOvershootRejected(t *testing.T) {
	g := newTestGame(t, "p", "q")
	place(t, g.Board, "R1", 104)

	if _, err := g.ApplyRoll("p", 3); err != nil {
		t.Fatalf("ApplyRoll: %v", err)
	}
	if _, err := g.ApplyMove("p", "R1"); !errors.Is(err, ErrIllegalMove) {
		t.Fatalf("err = %v, want ErrIllegalMove", err)
	}
}

func TestThreeSixesSendPieceHome(t *testing.T) {
	g := newTestGame(t, "p", "q")
	r1 := place(t, g.Board, "R1", 1)

	for i := 1; i <= 2; i++ {
		if _, err := g.ApplyRoll("p", 6); err != nil {
			t.Fatalf("roll %d: %v", i, err)
		}
		res, err := g.ApplyMove("p", "R1")
		if err != nil {
			t.Fatalf("move %d: %v", i, err)
		}
		if !res.ExtraTurn || g.SixStreak != i {
			t.Fatalf("after six %d: streak=%d result=%+v", i, g.SixStreak, res)
		}
	}

	if _, err := g.ApplyRoll("p", 6); err != nil {
		t.Fatalf("third roll: %v", err)
	}
	res, err := g.ApplyMove("p", "R1")
	if err != nil {
		t.Fatalf("third move: %v", err)
	}
	if !res.Penalty || !r1.AtBase() {
		t.Fatalf("third six should send R1 to base, at %d", r1.Position.Wire())
	}
	if g.SixStreak != 0 {
		t.Fatalf("streak = %d, want 0", g.SixStreak)
	}
	if g.CurrentPlayer() != "q" || res.NextPlayer != "q" {
		t.Fatalf("turn should pass to q, got %s", g.CurrentPlayer())
	}
}

func TestNonSixResetsStreak(t *testing.T) {
	g := newTestGame(t, "p", "q")
	place(t, g.Board, "R1", 1)

	g.ApplyRoll("p", 6)
	g.ApplyMove("p", "R1")
	g.ApplyRoll("p", 2)
	if _, err := g.ApplyMove("p", "R1"); err != nil {
		t.Fatalf("ApplyMove: %v", err)
	}
	if g.SixStreak != 0 || g.CurrentPlayer() != "q" {
		t.Fatalf("streak=%d current=%s", g.SixStreak, g.CurrentPlayer())
	}
}

func TestRollWithoutMovePassesTurn(t *testing.T) {
	g := newTestGame(t, "p", "q", "r")
	res, err := g.ApplyRoll("p", 4)
	if err != nil {
		t.Fatalf("ApplyRoll: %v", err)
	}
	if res.HasMove || !res.TurnPassed || res.NextPlayer != "q" {
		t.Fatalf("result = %+v", res)
	}
	if g.Dice != 0 || g.LastRoll != 4 {
		t.Fatalf("dice=%d last=%d", g.Dice, g.LastRoll)
	}
}

func TestSixWithoutMoveRerolls(t *testing.T) {
	g := newTestGame(t, "p", "q")
	// From 50 a six lands on lane slot 4, which holds a red block; the
	// block itself overshoots the goal.
	place(t, g.Board, "R1", 50)
	place(t, g.Board, "R2", 50)
	place(t, g.Board, "R3", 104)
	place(t, g.Board, "R4", 104)

	res, err := g.ApplyRoll("p", 6)
	if err != nil {
		t.Fatalf("ApplyRoll: %v", err)
	}
	if res.HasMove {
		t.Fatalf("expected no legal move")
	}
	if !res.Reroll || g.CurrentPlayer() != "p" || g.Dice != 0 {
		t.Fatalf("six without move should reroll: %+v", res)
	}
	if g.SixStreak != 1 {
		t.Fatalf("streak = %d, want 1", g.SixStreak)
	}

	g.ApplyRoll("p", 6)
	res, _ = g.ApplyRoll("p", 6)
	if !res.StreakPenalty || !res.TurnPassed || g.CurrentPlayer() != "q" || g.SixStreak != 0 {
		t.Fatalf("third stuck six should pass the turn: %+v streak=%d", res, g.SixStreak)
	}
}

func TestRollRules(t *testing.T) {
	g := newTestGame(t, "p", "q")
	if _, err := g.ApplyRoll("q", 3); !errors.Is(err, ErrNotYourTurn) {
		t.Fatalf("err = %v, want ErrNotYourTurn", err)
	}
	if _, err := g.ApplyRoll("x", 3); !errors.Is(err, ErrUnknownPlayer) {
		t.Fatalf("err = %v, want ErrUnknownPlayer", err)
	}
	if _, err := g.ApplyRoll("p", 7); !errors.Is(err, ErrInvalidDice) {
		t.Fatalf("err = %v, want ErrInvalidDice", err)
	}
	if _, err := g.ApplyRoll("p", 6); err != nil {
		t.Fatalf("ApplyRoll: %v", err)
	}
	if _, err := g.ApplyRoll("p", 6); !errors.Is(err, ErrMustMove) {
		t.Fatalf("err = %v, want ErrMustMove", err)
	}
}

func TestMoveRejectsForeignPiece(t *testing.T) {
	g := newTestGame(t, "p", "q")
	g.ApplyRoll("p", 6)
	if _, err := g.ApplyMove("p", "G1"); !errors.Is(err, ErrNotYourPiece) {
		t.Fatalf("err = %v, want ErrNotYourPiece", err)
	}
	if _, err := g.ApplyMove("p", "Y1"); !errors.Is(err, ErrUnknownPiece) {
		t.Fatalf("unseated color err = %v, want ErrUnknownPiece", err)
	}
	if _, err := g.ApplyMove("p", "Z9"); !errors.Is(err, ErrUnknownPiece) {
		t.Fatalf("garbage err = %v, want ErrUnknownPiece", err)
	}
}

func TestAllPiecesHomeWins(t *testing.T) {
	g := newTestGame(t, "p", "q")
	place(t, g.Board, "R1", 106)
	place(t, g.Board, "R2", 106)
	place(t, g.Board, "R3", 106)
	place(t, g.Board, "R4", 103)

	g.ApplyRoll("p", 3)
	res, err := g.ApplyMove("p", "R4")
	if err != nil {
		t.Fatalf("ApplyMove: %v", err)
	}
	if res.Winner != "p" || g.Phase != PhaseEnded || g.Winner != "p" {
		t.Fatalf("expected p to win: %+v phase=%s", res, g.Phase)
	}
	if _, err := g.ApplyRoll("q", 2); !errors.Is(err, ErrGameNotActive) {
		t.Fatalf("err = %v, want ErrGameNotActive", err)
	}
}

// Scenario E: the departed player can no longer act and the turn moves on.
func TestRemoveCurrentPlayerPassesTurn(t *testing.T) {
	g := newTestGame(t, "p", "q", "r")
	g.ApplyRoll("p", 6)

	res, err := g.RemovePlayer("p")
	if err != nil {
		t.Fatalf("RemovePlayer: %v", err)
	}
	if !res.WasCurrent || res.NextPlayer != "q" || g.CurrentPlayer() != "q" {
		t.Fatalf("result = %+v current=%s", res, g.CurrentPlayer())
	}
	if g.Dice != 0 {
		t.Fatalf("pending dice should be cleared")
	}
	if _, err := g.ApplyRoll("p", 6); !errors.Is(err, ErrUnknownPlayer) {
		t.Fatalf("departed roll err = %v, want ErrUnknownPlayer", err)
	}
	if _, err := g.ApplyMove("p", "R1"); !errors.Is(err, ErrUnknownPlayer) {
		t.Fatalf("departed move err = %v, want ErrUnknownPlayer", err)
	}
	if len(g.Board.PiecesByColor(Red)) != 4 {
		t.Fatalf("departed player's pieces must stay on the board")
	}
}

func TestRemovePlayerKeepsCurrentSeat(t *testing.T) {
	g := newTestGame(t, "p", "q", "r")
	g.ApplyRoll("p", 2) // no move, passes to q
	if g.CurrentPlayer() != "q" {
		t.Fatalf("current = %s, want q", g.CurrentPlayer())
	}
	if _, err := g.RemovePlayer("p"); err != nil {
		t.Fatalf("RemovePlayer: %v", err)
	}
	if g.CurrentPlayer() != "q" {
		t.Fatalf("current = %s after earlier seat left, want q", g.CurrentPlayer())
	}

	// Last seat wraps to the first.
	g2 := newTestGame(t, "p", "q", "r")
	g2.CurrentTurn = 2
	if _, err := g2.RemovePlayer("r"); err != nil {
		t.Fatalf("RemovePlayer: %v", err)
	}
	if g2.CurrentPlayer() != "p" {
		t.Fatalf("current = %s, want p", g2.CurrentPlayer())
	}
}

func TestLastPlayerStandingWins(t *testing.T) {
	g := newTestGame(t, "p", "q")
	res, err := g.RemovePlayer("q")
	if err != nil {
		t.Fatalf("RemovePlayer: %v", err)
	}
	if res.Winner != "p" || g.Phase != PhaseEnded {
		t.Fatalf("result = %+v phase=%s", res, g.Phase)
	}
	res, _ = g.RemovePlayer("p")
	if !res.Empty {
		t.Fatalf("expected empty table")
	}
}

func TestProgress(t *testing.T) {
	g := newTestGame(t, "p", "q")
	place(t, g.Board, "G1", 106)
	place(t, g.Board, "G2", 20)
	progress := g.Progress()
	if len(progress) != 2 {
		t.Fatalf("progress entries = %d", len(progress))
	}
	q := progress[1]
	if q.UserID != "q" || q.Color != Green || q.Finished != 1 || q.AtBase != 2 {
		t.Fatalf("progress = %+v", q)
	}
}
