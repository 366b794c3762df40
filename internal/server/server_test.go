package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"parchis/internal/app"
	"parchis/internal/domain"
	"parchis/internal/logging"
	"parchis/internal/metrics"
	"parchis/internal/ports/memory"
	"parchis/internal/protocol"
	"parchis/internal/transport"
)

const waitTimeout = 3 * time.Second

type harness struct {
	srv      *Server
	accounts *app.Accounts
	metrics  *metrics.Metrics
}

// seqDice cycles through vals.
func seqDice(vals ...int) func() int {
	var mu sync.Mutex
	i := 0
	return func() int {
		mu.Lock()
		defer mu.Unlock()
		v := vals[i%len(vals)]
		i++
		return v
	}
}

func newHarness(t *testing.T, dice func() int, users ...string) *harness {
	t.Helper()
	return newHarnessWithMin(t, 0, dice, users...)
}

// newHarnessWithMin is newHarness with an auto-start threshold other than
// the default.
func newHarnessWithMin(t *testing.T, minPlayers int, dice func() int, users ...string) *harness {
	t.Helper()
	accounts := app.NewAccounts(memory.NewUserStore(), app.NewTokenService("secret", time.Hour), bcrypt.MinCost)
	for _, u := range users {
		require.NoError(t, accounts.Register(context.Background(), app.Registration{Username: u, Password: "pw-" + u}))
	}
	m := metrics.New(prometheus.NewRegistry())
	srv := New(Options{MinPlayers: minPlayers, MailboxSize: 64, MaxLineBytes: 4096}, accounts, app.NewServiceWithDice(dice), logging.Nop(), m, nil)
	t.Cleanup(func() { srv.Stop() })
	return &harness{srv: srv, accounts: accounts, metrics: m}
}

type testClient struct {
	t    *testing.T
	conn net.Conn
	r    *bufio.Reader
}

func (h *harness) connect(t *testing.T) *testClient {
	t.Helper()
	client, server := net.Pipe()
	go h.srv.HandleConn(transport.NewLineConn(server, 4096, 0))
	t.Cleanup(func() { client.Close() })
	return &testClient{t: t, conn: client, r: bufio.NewReader(client)}
}

func (tc *testClient) sendRaw(line string) {
	tc.t.Helper()
	tc.conn.SetWriteDeadline(time.Now().Add(waitTimeout))
	_, err := tc.conn.Write([]byte(line + "\n"))
	require.NoError(tc.t, err)
}

func (tc *testClient) send(command string, payload any) {
	tc.t.Helper()
	data, err := protocol.Encode(protocol.MustNew(command, payload))
	require.NoError(tc.t, err)
	tc.sendRaw(string(data))
}

func (tc *testClient) next() protocol.Message {
	tc.t.Helper()
	tc.conn.SetReadDeadline(time.Now().Add(waitTimeout))
	line, err := tc.r.ReadBytes('\n')
	require.NoError(tc.t, err)
	msg, err := protocol.Decode(line)
	require.NoError(tc.t, err)
	return msg
}

// waitFor skips messages until one with command arrives.
func (tc *testClient) waitFor(command string) protocol.Message {
	tc.t.Helper()
	for {
		if msg := tc.next(); msg.Command == command {
			return msg
		}
	}
}

// waitForUpdate skips messages until a game_update whose text contains substr.
func (tc *testClient) waitForUpdate(substr string) protocol.GameUpdate {
	tc.t.Helper()
	for {
		msg := tc.waitFor(protocol.CmdGameUpdate)
		var u protocol.GameUpdate
		require.NoError(tc.t, msg.Bind(&u))
		if strings.Contains(u.Message, substr) {
			return u
		}
	}
}

func (tc *testClient) waitForError(code string) protocol.ErrorPayload {
	tc.t.Helper()
	msg := tc.waitFor(protocol.CmdError)
	var p protocol.ErrorPayload
	require.NoError(tc.t, msg.Bind(&p))
	require.Equal(tc.t, code, p.Code, "error message: %s", p.Message)
	return p
}

func (tc *testClient) login(user string) protocol.LoginReply {
	tc.t.Helper()
	tc.send(protocol.CmdLogin, protocol.LoginRequest{Username: user, Password: "pw-" + user})
	msg := tc.waitFor(protocol.CmdLogin)
	require.Equal(tc.t, protocol.StatusSuccess, msg.Status, "login %s: %s", user, msg.Message)
	var reply protocol.LoginReply
	require.NoError(tc.t, msg.Bind(&reply))
	return reply
}

func (tc *testClient) expectClosed() {
	tc.t.Helper()
	tc.conn.SetReadDeadline(time.Now().Add(waitTimeout))
	for {
		_, err := tc.r.ReadBytes('\n')
		if err == nil {
			continue
		}
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			tc.t.Fatalf("connection still open: %v", err)
		}
		return
	}
}

func pieceFor(t *testing.T, u protocol.GameUpdate, index int) string {
	t.Helper()
	require.NotNil(t, u.YourColor)
	c, ok := domain.ParseColor(*u.YourColor)
	require.True(t, ok, "color %q", *u.YourColor)
	return domain.PieceID(c, index)
}

func startTwoPlayerGame(t *testing.T, h *harness) (alice, bob *testClient, aliceView protocol.GameUpdate) {
	t.Helper()
	alice = h.connect(t)
	alice.login("alice")
	bob = h.connect(t)
	bob.login("bob")
	aliceView = alice.waitForUpdate("Game started")
	alice.waitFor(protocol.CmdYourTurn)
	bob.waitForUpdate("Game started")
	return alice, bob, aliceView
}

func TestLoginStartsGameWithTwoPlayers(t *testing.T) {
	h := newHarness(t, seqDice(3), "alice", "bob")

	alice := h.connect(t)
	reply := alice.login("alice")
	assert.Equal(t, "alice", reply.Username)
	assert.NotEmpty(t, reply.Token)
	lobby := alice.waitForUpdate("Waiting for players")
	assert.Equal(t, "lobby", lobby.Phase)
	assert.Nil(t, lobby.CurrentTurn)

	bob := h.connect(t)
	bob.login("bob")

	aliceView := alice.waitForUpdate("Game started")
	bobView := bob.waitForUpdate("Game started")
	alice.waitFor(protocol.CmdYourTurn)

	require.NotNil(t, aliceView.CurrentTurn)
	assert.Equal(t, "alice", *aliceView.CurrentTurn)
	require.NotNil(t, aliceView.YourColor)
	require.NotNil(t, bobView.YourColor)
	assert.NotEqual(t, *aliceView.YourColor, *bobView.YourColor)
	assert.Len(t, aliceView.BoardState, 8)
	for id, pos := range aliceView.BoardState {
		assert.Equal(t, -1, pos, "%s should start in base", id)
	}
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.GamesStarted))
}

func TestRollAndMoveFlow(t *testing.T) {
	h := newHarness(t, seqDice(6, 3, 2), "alice", "bob")
	alice, bob, view := startTwoPlayerGame(t, h)
	piece := pieceFor(t, view, 1)
	color, _ := domain.ParseColor(*view.YourColor)

	// Out of turn rolls are rejected without consuming dice.
	bob.send(protocol.CmdRollDice, nil)
	bob.waitForError("not_your_turn")

	alice.send(protocol.CmdRollDice, nil)
	rolled := alice.waitForUpdate("rolled a 6")
	require.NotNil(t, rolled.LastDiceRoll)
	assert.Equal(t, 6, *rolled.LastDiceRoll)
	assert.True(t, rolled.DicePending)
	alice.waitFor(protocol.CmdYourTurn)

	alice.send(protocol.CmdRollDice, nil)
	alice.waitForError("must_move")

	alice.send(protocol.CmdMovePiece, protocol.MovePieceRequest{PieceID: piece})
	moved := alice.waitForUpdate("moved " + piece)
	assert.Equal(t, color.EntryOffset(), moved.BoardState[piece])
	assert.False(t, moved.DicePending)
	assert.Equal(t, "alice", *moved.CurrentTurn)
	alice.waitFor(protocol.CmdYourTurn)

	alice.send(protocol.CmdRollDice, nil)
	alice.waitForUpdate("rolled a 3")
	alice.send(protocol.CmdMovePiece, protocol.MovePieceRequest{PieceID: piece})
	after := alice.waitForUpdate("moved " + piece)
	assert.Equal(t, (color.EntryOffset()+3)%domain.RingLength, after.BoardState[piece])
	assert.Equal(t, "bob", *after.CurrentTurn)
	bob.waitFor(protocol.CmdYourTurn)

	// bob has nothing out of base, so a 2 passes straight back.
	bob.send(protocol.CmdRollDice, nil)
	passed := alice.waitForUpdate("rolled a 2 with no move")
	assert.Equal(t, "alice", *passed.CurrentTurn)
	alice.waitFor(protocol.CmdYourTurn)
}

func TestMoveRejections(t *testing.T) {
	h := newHarness(t, seqDice(5), "alice", "bob")
	alice, _, view := startTwoPlayerGame(t, h)

	alice.send(protocol.CmdMovePiece, protocol.MovePieceRequest{PieceID: pieceFor(t, view, 1)})
	alice.waitForError("must_roll")

	alice.send(protocol.CmdMovePiece, nil)
	alice.waitForError("invalid_input")

	alice.sendRaw(`{"command":"move_piece","payload":{"piece_id":3}}`)
	alice.waitForError("malformed")
}

func TestAuthErrors(t *testing.T) {
	h := newHarness(t, seqDice(1), "alice")

	c := h.connect(t)
	c.send(protocol.CmdRollDice, nil)
	c.waitForError("not_authenticated")

	c.send(protocol.CmdLogin, protocol.LoginRequest{Username: "alice", Password: "wrong"})
	msg := c.waitFor(protocol.CmdLogin)
	assert.Equal(t, protocol.StatusError, msg.Status)
	assert.Equal(t, "invalid credentials", msg.Message)

	c.login("alice")
	c.send(protocol.CmdLogin, protocol.LoginRequest{Username: "alice", Password: "pw-alice"})
	msg = c.waitFor(protocol.CmdLogin)
	assert.Equal(t, protocol.StatusError, msg.Status)

	other := h.connect(t)
	other.send(protocol.CmdLogin, protocol.LoginRequest{Username: "alice", Password: "pw-alice"})
	msg = other.waitFor(protocol.CmdLogin)
	assert.Equal(t, protocol.StatusError, msg.Status)
	var p protocol.ErrorPayload
	require.NoError(t, msg.Bind(&p))
	assert.Equal(t, "already_connected", p.Code)
}

func TestRegisterOverWire(t *testing.T) {
	h := newHarness(t, seqDice(1))
	c := h.connect(t)

	c.send(protocol.CmdRegister, protocol.RegisterRequest{Username: "zoe", Password: "pw-zoe", Nombre: "Zoe", Apellido: "Q"})
	msg := c.waitFor(protocol.CmdRegister)
	assert.Equal(t, protocol.StatusSuccess, msg.Status)

	c.send(protocol.CmdRegister, protocol.RegisterRequest{Username: "zoe", Password: "x"})
	msg = c.waitFor(protocol.CmdRegister)
	assert.Equal(t, protocol.StatusError, msg.Status)
	assert.Equal(t, "user exists", msg.Message)

	c.login("zoe")
}

func TestProtocolErrorsKeepConnectionOpen(t *testing.T) {
	h := newHarness(t, seqDice(1))
	c := h.connect(t)

	c.sendRaw(`{not json`)
	c.waitForError("malformed")
	c.sendRaw(`{"command":"teleport"}`)
	c.waitForError("unknown_command")

	c.send(protocol.CmdPing, nil)
	c.waitFor(protocol.CmdPong)
}

func TestOversizedLineClosesConnection(t *testing.T) {
	h := newHarness(t, seqDice(1))
	c := h.connect(t)
	go c.conn.Write([]byte(strings.Repeat("x", 5000) + "\n"))
	c.expectClosed()
}

func TestResumeWithToken(t *testing.T) {
	h := newHarness(t, seqDice(1), "alice")
	first := h.connect(t)
	reply := first.login("alice")
	first.conn.Close()

	require.Eventually(t, func() bool {
		users, err := h.srv.Session().Connected()
		return err == nil && len(users) == 0
	}, waitTimeout, 10*time.Millisecond)

	second := h.connect(t)
	second.send(protocol.CmdResume, protocol.ResumeRequest{Token: reply.Token})
	msg := second.waitFor(protocol.CmdResume)
	require.Equal(t, protocol.StatusSuccess, msg.Status, msg.Message)

	third := h.connect(t)
	third.send(protocol.CmdResume, protocol.ResumeRequest{Token: "bogus"})
	msg = third.waitFor(protocol.CmdResume)
	assert.Equal(t, protocol.StatusError, msg.Status)
}

// A departed player loses their seat; the turn moves on and their name can
// no longer act in the game.
func TestDisconnectOfCurrentPlayerPassesTurn(t *testing.T) {
	h := newHarnessWithMin(t, 3, seqDice(4), "alice", "bob", "carol")

	alice := h.connect(t)
	alice.login("alice")
	bob := h.connect(t)
	bob.login("bob")
	carol := h.connect(t)
	carol.login("carol")
	alice.waitFor(protocol.CmdYourTurn)
	carol.waitForUpdate("Game started")

	alice.conn.Close()

	bob.waitFor(protocol.CmdYourTurn)
	left := carol.waitForUpdate("alice left")
	require.NotNil(t, left.CurrentTurn)
	assert.Equal(t, "bob", *left.CurrentTurn)
	assert.Len(t, left.Players, 2)

	stats, err := h.srv.Session().Stats()
	require.NoError(t, err)
	assert.Equal(t, []string{"bob", "carol"}, stats.Players)
	assert.Equal(t, "bob", stats.CurrentTurn)

	back := h.connect(t)
	back.login("alice")
	back.send(protocol.CmdRollDice, nil)
	back.waitForError("not_seated")

	bob.send(protocol.CmdRollDice, nil)
	bob.waitForUpdate("bob rolled a 4")
}

func TestLastPlayerWinsByForfeit(t *testing.T) {
	h := newHarness(t, seqDice(1), "alice", "bob")
	alice, bob, _ := startTwoPlayerGame(t, h)

	bob.conn.Close()
	over := alice.waitFor(protocol.CmdGameOver)
	var p protocol.GameOver
	require.NoError(t, over.Bind(&p))
	assert.Equal(t, "alice", p.Winner)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.GamesFinished.WithLabelValues(metrics.EndForfeit)))

	alice.send(protocol.CmdRollDice, nil)
	alice.waitForError("game_not_active")

	alice.send(protocol.CmdRequestNewGame, nil)
	alice.waitForError("too_few_players")
}

func TestRequestNewGame(t *testing.T) {
	h := newHarness(t, seqDice(2), "alice", "bob", "carol")
	alice, _, _ := startTwoPlayerGame(t, h)

	alice.send(protocol.CmdRequestNewGame, nil)
	alice.waitForError("game_in_progress")

	carol := h.connect(t)
	carol.login("carol")
	lobbyView := carol.waitForUpdate("Game in progress")
	assert.Nil(t, lobbyView.YourColor)

	require.NoError(t, h.srv.Session().StopGame())
	alice.waitForUpdate("stopped by operator")

	alice.send(protocol.CmdRequestNewGame, nil)
	started := carol.waitForUpdate("Game started")
	assert.Len(t, started.Players, 3)
	require.NotNil(t, started.YourColor)
}

// winAsAlice parks alice one roll of 2 from finishing, then plays it.
func winAsAlice(t *testing.T, h *harness, alice *testClient, view protocol.GameUpdate) {
	t.Helper()
	piece := pieceFor(t, view, 4)
	color, _ := domain.ParseColor(*view.YourColor)

	require.NoError(t, h.srv.Session().call(func() {
		g := h.srv.Session().table.Game()
		for _, p := range g.Board.PiecesByColor(color) {
			p.Position = domain.AtGoal()
		}
		g.Board.Piece(piece).Position = domain.InHomeLane(4)
	}))

	alice.send(protocol.CmdRollDice, nil)
	alice.waitForUpdate("rolled a 2")
	alice.send(protocol.CmdMovePiece, protocol.MovePieceRequest{PieceID: piece})
}

func TestWinBroadcastsGameOver(t *testing.T) {
	h := newHarness(t, seqDice(2), "alice", "bob")
	alice, bob, view := startTwoPlayerGame(t, h)
	winAsAlice(t, h, alice, view)

	for _, c := range []*testClient{alice, bob} {
		msg := c.waitFor(protocol.CmdGameOver)
		var p protocol.GameOver
		require.NoError(t, msg.Bind(&p))
		assert.Equal(t, "alice", p.Winner)
	}
	stats, err := h.srv.Session().Stats()
	require.NoError(t, err)
	assert.Equal(t, "ended", stats.Phase)
	assert.Equal(t, "alice", stats.Winner)
	assert.False(t, stats.GameInProgress)
}

// A finished game does not hold the table: the next login starts a new game
// seating the previous players first.
func TestLoginAfterGameOverStartsNewGame(t *testing.T) {
	h := newHarness(t, seqDice(2), "alice", "bob", "carol", "dave")
	alice, _, view := startTwoPlayerGame(t, h)
	winAsAlice(t, h, alice, view)
	alice.waitFor(protocol.CmdGameOver)

	carol := h.connect(t)
	carol.login("carol")
	started := carol.waitForUpdate("Game started")
	require.NotNil(t, started.YourColor)
	assert.Len(t, started.Players, 3)
	alice.waitForUpdate("Game started")

	dave := h.connect(t)
	dave.login("dave")
	waiting := dave.waitForUpdate("Game in progress")
	assert.Nil(t, waiting.YourColor)

	stats, err := h.srv.Session().Stats()
	require.NoError(t, err)
	assert.True(t, stats.GameInProgress)
	assert.Equal(t, "playing", stats.Phase)
	assert.Equal(t, []string{"alice", "bob", "carol"}, stats.Players)
	assert.Equal(t, []string{"dave"}, stats.Lobby)
	assert.Equal(t, 2.0, testutil.ToFloat64(h.metrics.GamesStarted))
}

// Below the threshold, a login after game over is told the table is waiting.
func TestLoginAfterGameOverWaitsBelowMinimum(t *testing.T) {
	h := newHarnessWithMin(t, 4, seqDice(2), "alice", "bob", "carol")
	alice := h.connect(t)
	alice.login("alice")
	bob := h.connect(t)
	bob.login("bob")
	require.NoError(t, h.srv.Session().ForceStart())
	view := alice.waitForUpdate("Game started")
	winAsAlice(t, h, alice, view)
	alice.waitFor(protocol.CmdGameOver)

	carol := h.connect(t)
	carol.login("carol")
	u := carol.waitFor(protocol.CmdGameUpdate)
	var update protocol.GameUpdate
	require.NoError(t, u.Bind(&update))
	assert.Contains(t, update.Message, "Waiting for players (3/4)")
}

func TestServeOverTCP(t *testing.T) {
	h := newHarness(t, seqDice(1))
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	served := make(chan error, 1)
	go func() { served <- h.srv.Serve(ln) }()

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	tc := &testClient{t: t, conn: conn, r: bufio.NewReader(conn)}
	tc.send(protocol.CmdPing, nil)
	tc.waitFor(protocol.CmdPong)

	require.NoError(t, h.srv.Stop())
	select {
	case err := <-served:
		assert.NoError(t, err)
	case <-time.After(waitTimeout):
		t.Fatal("Serve did not return after Stop")
	}
	tc.expectClosed()
}

func TestStopClearsSession(t *testing.T) {
	h := newHarness(t, seqDice(1), "alice", "bob")
	alice, bob, _ := startTwoPlayerGame(t, h)

	require.NoError(t, h.srv.Stop())
	alice.expectClosed()
	bob.expectClosed()

	_, err := h.srv.Session().Stats()
	assert.ErrorIs(t, err, ErrSessionClosed)
	assert.Empty(t, h.srv.registry.IDs())
}

func TestAdminControls(t *testing.T) {
	h := newHarnessWithMin(t, 4, seqDice(1), "alice", "bob", "carol")
	session := h.srv.Session()

	for _, u := range []string{"carol", "alice", "bob"} {
		h.connect(t).login(u)
	}
	users, err := session.Connected()
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob", "carol"}, users)

	assert.ErrorIs(t, session.StopGame(), app.ErrNoGame)
	require.NoError(t, session.ForceStart())
	assert.ErrorIs(t, session.ForceStart(), app.ErrGameInProgress)

	stats, err := session.Stats()
	require.NoError(t, err)
	assert.True(t, stats.GameInProgress)
	assert.Equal(t, []string{"carol", "alice", "bob"}, stats.Players)
	assert.Empty(t, stats.Lobby)

	require.NoError(t, session.StopGame())
	stats, err = session.Stats()
	require.NoError(t, err)
	assert.False(t, stats.GameInProgress)
	assert.Equal(t, []string{"carol", "alice", "bob"}, stats.Lobby)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.GamesFinished.WithLabelValues(metrics.EndStopped)))
}

func TestFullMailboxDropsMessages(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	_, server := net.Pipe()
	c := newClient(transport.NewLineConn(server, 1024, 0), 1, m)
	defer c.close()

	assert.True(t, c.send(protocol.MustNew(protocol.CmdPong, nil)))
	assert.False(t, c.send(protocol.MustNew(protocol.CmdPong, nil)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DroppedMessages))

	c.close()
	<-c.mailbox
	assert.False(t, c.send(protocol.MustNew(protocol.CmdPong, nil)))
}

func TestGameUpdateIsValidJSONPerLine(t *testing.T) {
	h := newHarness(t, seqDice(1), "alice")
	c := h.connect(t)
	c.send(protocol.CmdLogin, protocol.LoginRequest{Username: "alice", Password: "pw-alice"})

	c.conn.SetReadDeadline(time.Now().Add(waitTimeout))
	for i := 0; i < 2; i++ {
		line, err := c.r.ReadBytes('\n')
		require.NoError(t, err)
		assert.True(t, json.Valid(line[:len(line)-1]), "line %q", line)
	}
}
