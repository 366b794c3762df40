package server

import (
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/heroiclabs/nakama-common/runtime"

	"parchis/internal/app"
	"parchis/internal/metrics"
	"parchis/internal/protocol"
)

const opQueueSize = 256

// Session is one table: its lobby, connected clients and game. All state is
// owned by a single worker goroutine that runs submitted operations in
// arrival order, so no locks guard it.
type Session struct {
	id      string
	logger  runtime.Logger
	metrics *metrics.Metrics

	ops      chan func()
	quit     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once

	// Worker-owned.
	clients map[string]*client // by connection ID
	users   map[string]*client // by username, authenticated only
	table   *app.Lobby
}

// NewSession starts a session worker. minPlayers is the lobby size that
// triggers an automatic start.
func NewSession(svc *app.Service, logger runtime.Logger, m *metrics.Metrics, minPlayers int) *Session {
	id := uuid.NewString()
	s := &Session{
		id:      id,
		logger:  logger.WithField("session", id),
		metrics: m,
		ops:     make(chan func(), opQueueSize),
		quit:    make(chan struct{}),
		stopped: make(chan struct{}),
		clients: make(map[string]*client),
		users:   make(map[string]*client),
		table:   app.NewLobby(svc, minPlayers),
	}
	go s.run()
	return s
}

func (s *Session) ID() string { return s.id }

func (s *Session) run() {
	defer close(s.stopped)
	for {
		select {
		case op := <-s.ops:
			op()
		case <-s.quit:
			s.teardown()
			return
		}
	}
}

// do queues op for the worker. Returns false once the session is closed.
func (s *Session) do(op func()) bool {
	select {
	case <-s.quit:
		return false
	default:
	}
	select {
	case s.ops <- op:
		return true
	case <-s.quit:
		return false
	}
}

// call runs op on the worker and waits for it.
func (s *Session) call(op func()) error {
	done := make(chan struct{})
	if !s.do(func() { op(); close(done) }) {
		return ErrSessionClosed
	}
	select {
	case <-done:
		return nil
	case <-s.stopped:
		select {
		case <-done:
			return nil
		default:
			return ErrSessionClosed
		}
	}
}

// Close stops the worker, force-closes every connection and clears all state.
func (s *Session) Close() error {
	s.stopOnce.Do(func() { close(s.quit) })
	<-s.stopped
	return nil
}

func (s *Session) teardown() {
	for _, c := range s.clients {
		c.close()
	}
	if s.table.InProgress() {
		s.metrics.GameFinished(metrics.EndStopped)
	}
	s.clients = map[string]*client{}
	s.users = map[string]*client{}
	s.table.Reset()
	s.metrics.SetAuthenticated(0)
	s.logger.Info("teardown: session closed")
}

// attach registers a new connection.
func (s *Session) attach(c *client) bool {
	return s.do(func() {
		s.clients[c.id] = c
	})
}

// detach removes a connection from every piece of bookkeeping. A departed
// player loses their seat; see app.Lobby.Leave for turn handling.
func (s *Session) detach(c *client) {
	s.do(func() {
		if _, ok := s.clients[c.id]; !ok {
			return
		}
		delete(s.clients, c.id)
		if c.username == "" {
			return
		}
		user := c.username
		delete(s.users, user)
		s.metrics.SetAuthenticated(len(s.users))

		events, err := s.table.Leave(user)
		if err != nil {
			s.logger.Error("detach: remove player %s: %v", user, err)
		}
		if len(events) > 0 {
			s.logger.Info("detach: %s left the game", user)
		}
		s.dispatch(events)
	})
}

// authenticate binds a verified username to the connection and seats it in
// the lobby.
func (s *Session) authenticate(c *client, command string, sess app.Session) {
	s.do(func() {
		if _, ok := s.clients[c.id]; !ok {
			return
		}
		if c.username != "" {
			s.fail(c, command, app.ErrAlreadyAuthenticated)
			return
		}
		if _, taken := s.users[sess.Username]; taken {
			s.fail(c, command, app.ErrAlreadyConnected)
			return
		}

		c.username = sess.Username
		c.authed.Store(true)
		s.users[sess.Username] = c
		s.metrics.SetAuthenticated(len(s.users))
		s.metrics.Command(command, "ok")
		s.logger.Info("authenticate: %s joined via %s", sess.Username, command)

		c.send(protocol.Success(command, protocol.LoginReply{Username: sess.Username, Token: sess.Token}))
		events, err := s.table.Join(sess.Username)
		if err != nil {
			s.logger.Error("authenticate: start game: %v", err)
		}
		switch {
		case len(events) > 0:
			s.dispatch(events)
		case s.table.InProgress():
			s.sendUpdate(c, "Game in progress")
		default:
			s.broadcastUpdate(fmt.Sprintf("%s joined. Waiting for players (%d/%d)", sess.Username, s.table.Ready(), s.table.MinPlayers()))
		}
	})
}

// submit runs a game command for an authenticated connection.
func (s *Session) submit(c *client, msg protocol.Message) {
	s.do(func() {
		if _, ok := s.clients[c.id]; !ok {
			return
		}
		if c.username == "" {
			s.fail(c, msg.Command, app.ErrNotAuthenticated)
			return
		}

		var (
			events []app.Event
			err    error
		)
		switch msg.Command {
		case protocol.CmdRollDice:
			events, err = s.table.RollDice(c.username)
		case protocol.CmdMovePiece:
			var req protocol.MovePieceRequest
			if err = msg.Bind(&req); err == nil {
				if req.PieceID == "" {
					err = fmt.Errorf("%w: piece_id is required", app.ErrInvalidInput)
				} else {
					events, err = s.table.MovePiece(c.username, req.PieceID)
				}
			}
		case protocol.CmdRequestNewGame:
			events, err = s.table.NewGame()
		default:
			err = fmt.Errorf("%w: %q", protocol.ErrUnknownCommand, msg.Command)
		}

		if err != nil {
			s.fail(c, msg.Command, err)
			return
		}
		s.metrics.Command(msg.Command, "ok")
		s.dispatch(events)
	})
}

func (s *Session) fail(c *client, command string, err error) {
	reply, kind, code := protocol.FailureFor(command, err)
	s.metrics.Command(command, code)
	if kind == protocol.KindInternal {
		s.logger.Error("%s: %s: %v", command, c.username, err)
	} else {
		s.logger.Debug("%s: rejected %s: %v", command, c.username, err)
	}
	c.send(reply)
}

// dispatch delivers app events: a snapshot after each state change, your_turn
// to its recipient and game_over to everyone. Metrics follow the events.
func (s *Session) dispatch(events []app.Event) {
	for _, ev := range events {
		if ev.ChangesState() {
			s.broadcastUpdate(app.Describe(ev))
		}
		switch p := ev.Payload.(type) {
		case app.GameStartedPayload:
			s.metrics.GameStarted()
			s.logger.Info("dispatch: game started, first turn %s", p.FirstTurnUserID)
		case app.GameClosedPayload:
			if p.Reason == app.ClosedStopped && p.WasPlaying {
				s.metrics.GameFinished(metrics.EndStopped)
			}
			s.logger.Info("dispatch: game closed (%s)", p.Reason)
		case app.PieceMovedPayload:
			if p.Captured != "" {
				s.metrics.Captured()
			}
		case app.YourTurnPayload:
			for _, user := range ev.Recipients {
				if c, ok := s.users[user]; ok {
					c.send(protocol.MustNew(protocol.CmdYourTurn, nil))
				}
			}
		case app.GameEndedPayload:
			reason := metrics.EndWin
			if p.Forfeit {
				reason = metrics.EndForfeit
			}
			s.metrics.GameFinished(reason)
			s.logger.Info("dispatch: game over, winner %s (%s)", p.Winner, reason)
			s.broadcastUpdate(app.Describe(ev))
			s.broadcast(protocol.MustNew(protocol.CmdGameOver, protocol.GameOver{Winner: p.Winner}))
		}
	}
}

func (s *Session) broadcast(msg protocol.Message) {
	for _, c := range s.users {
		if !c.send(msg) {
			s.logger.Warn("broadcast: dropped %s for %s", msg.Command, c.username)
		}
	}
}

// broadcastUpdate sends every authenticated client its own snapshot.
func (s *Session) broadcastUpdate(message string) {
	for _, c := range s.users {
		s.sendUpdate(c, message)
	}
}

func (s *Session) sendUpdate(c *client, message string) {
	update := protocol.NewGameUpdate(s.table.Game(), c.username, message)
	if !c.send(protocol.MustNew(protocol.CmdGameUpdate, update)) {
		s.logger.Warn("sendUpdate: dropped game_update for %s", c.username)
	}
}

// Stats is a consistent snapshot of the session for operators.
type Stats struct {
	SessionID      string   `json:"session_id"`
	Connections    int      `json:"connections"`
	Authenticated  int      `json:"authenticated"`
	Lobby          []string `json:"lobby"`
	GameInProgress bool     `json:"game_in_progress"`
	Phase          string   `json:"phase"`
	Players        []string `json:"players"`
	CurrentTurn    string   `json:"current_turn,omitempty"`
	Winner         string   `json:"winner,omitempty"`

	// RegisteredUsers is filled in by callers that can reach the account
	// store; the session does not know it.
	RegisteredUsers int `json:"registered_users"`
}

func (s *Session) Stats() (Stats, error) {
	var st Stats
	err := s.call(func() {
		st = Stats{
			SessionID:      s.id,
			Connections:    len(s.clients),
			Authenticated:  len(s.users),
			Lobby:          s.table.Waiting(),
			GameInProgress: s.table.InProgress(),
			Phase:          string(s.table.Phase()),
			Players:        []string{},
		}
		if game := s.table.Game(); game != nil {
			st.Players = append(st.Players, game.PlayerOrder...)
			if st.GameInProgress {
				st.CurrentTurn = game.CurrentPlayer()
			}
			st.Winner = game.Winner
		}
	})
	return st, err
}

// Connected lists authenticated usernames.
func (s *Session) Connected() ([]string, error) {
	var out []string
	err := s.call(func() {
		out = make([]string, 0, len(s.users))
		for user := range s.users {
			out = append(out, user)
		}
	})
	sort.Strings(out)
	return out, err
}

// ForceStart starts a game with the waiting players, ignoring min_players.
func (s *Session) ForceStart() error {
	var opErr error
	if err := s.call(func() {
		var events []app.Event
		if events, opErr = s.table.NewGame(); opErr == nil {
			s.dispatch(events)
		}
	}); err != nil {
		return err
	}
	return opErr
}

// StopGame ends the current game without a winner.
func (s *Session) StopGame() error {
	var opErr error
	if err := s.call(func() {
		var events []app.Event
		if events, opErr = s.table.Stop(); opErr == nil {
			s.logger.Info("StopGame: game stopped by operator")
			s.dispatch(events)
		}
	}); err != nil {
		return err
	}
	return opErr
}
