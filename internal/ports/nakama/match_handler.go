package nakama

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/heroiclabs/nakama-common/runtime"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"parchis/internal/app"
	"parchis/internal/domain"
	"parchis/internal/protocol"
)

// MatchState holds the authoritative runtime state for one Parchís table.
// Players are identified by their Nakama username, which is what game
// updates show.
type MatchState struct {
	Presences map[string]runtime.Presence `json:"-"` // username -> presence
	Tick      int64                       `json:"tick"`
	Table     *app.Lobby                  `json:"-"`
}

// OpenSlots is how many more presences the match accepts.
func (ms *MatchState) OpenSlots() int {
	if n := MaxPresences - len(ms.Presences); n > 0 {
		return n
	}
	return 0
}

type matchHandler struct {
	app *app.Service
}

func newMatchHandler(svc *app.Service) *matchHandler {
	return &matchHandler{app: svc}
}

// MatchInit is called when the match is created. min_players comes from the
// create params or the parchis_min_players runtime env entry.
func (mh *matchHandler) MatchInit(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, params map[string]interface{}) (interface{}, int, string) {
	state := &MatchState{
		Presences: make(map[string]runtime.Presence),
		Table:     app.NewLobby(mh.app, minPlayersFrom(ctx, params)),
	}

	label, err := matchLabel(state)
	if err != nil {
		logger.Error("MatchInit: failed to marshal label: %v", err)
		return nil, 0, ""
	}
	logger.Debug("MatchInit: min_players=%d", state.Table.MinPlayers())
	return state, TickRate, label
}

func minPlayersFrom(ctx context.Context, params map[string]interface{}) int {
	n := 0
	switch v := params[ParamMinPlayers].(type) {
	case float64:
		n = int(v)
	case int:
		n = v
	case string:
		n, _ = strconv.Atoi(v)
	}
	if n == 0 {
		if env, ok := ctx.Value(runtime.RUNTIME_CTX_ENV).(map[string]string); ok {
			n, _ = strconv.Atoi(env[EnvMinPlayers])
		}
	}
	if n < domain.MinPlayers || n > domain.MaxPlayers {
		n = app.MinPlayersToStartGame
	}
	return n
}

func (mh *matchHandler) MatchJoinAttempt(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, dispatcher runtime.MatchDispatcher, tick int64, state interface{}, presence runtime.Presence, metadata map[string]string) (interface{}, bool, string) {
	matchState, ok := state.(*MatchState)
	if !ok {
		return state, false, "state not found"
	}
	if _, taken := matchState.Presences[presence.GetUsername()]; taken {
		return state, false, app.ErrAlreadyConnected.Error()
	}
	if matchState.OpenSlots() == 0 {
		return state, false, "match full"
	}
	return state, true, ""
}

func (mh *matchHandler) MatchJoin(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, dispatcher runtime.MatchDispatcher, tick int64, state interface{}, presences []runtime.Presence) interface{} {
	matchState, ok := state.(*MatchState)
	if !ok {
		logger.Error("MatchJoin: state not found")
		return state
	}

	joined := make([]string, 0, len(presences))
	for _, p := range presences {
		name := p.GetUsername()
		matchState.Presences[name] = p
		joined = append(joined, name)
		logger.Info("MatchJoin: %s joined", name)
	}
	events, err := matchState.Table.Join(joined...)
	if err != nil {
		logger.Error("MatchJoin: start game: %v", err)
	}

	switch {
	case len(events) > 0:
		mh.dispatch(matchState, dispatcher, logger, events)
	case matchState.Table.InProgress():
		for _, name := range joined {
			mh.sendUpdate(matchState, dispatcher, logger, name, "Game in progress")
		}
	default:
		mh.broadcastUpdate(matchState, dispatcher, logger, fmt.Sprintf("Waiting for players (%d/%d)", matchState.Table.Ready(), matchState.Table.MinPlayers()))
	}
	mh.updateLabel(matchState, dispatcher, logger)
	return matchState
}

// MatchLeave removes departed players from the lobby and the turn order.
// The match terminates when nobody is left.
func (mh *matchHandler) MatchLeave(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, dispatcher runtime.MatchDispatcher, tick int64, state interface{}, presences []runtime.Presence) interface{} {
	matchState, ok := state.(*MatchState)
	if !ok {
		logger.Error("MatchLeave: state not found")
		return state
	}

	for _, p := range presences {
		name := p.GetUsername()
		delete(matchState.Presences, name)

		events, err := matchState.Table.Leave(name)
		if err != nil {
			logger.Error("MatchLeave: remove player %s: %v", name, err)
		}
		mh.dispatch(matchState, dispatcher, logger, events)
	}

	if len(matchState.Presences) == 0 {
		logger.Info("MatchLeave: terminating empty match")
		return nil
	}
	mh.updateLabel(matchState, dispatcher, logger)
	return matchState
}

func (mh *matchHandler) MatchLoop(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, dispatcher runtime.MatchDispatcher, tick int64, state interface{}, messages []runtime.MatchData) interface{} {
	matchState, ok := state.(*MatchState)
	if !ok {
		return state
	}
	matchState.Tick = tick

	for _, msg := range messages {
		user := msg.GetUsername()
		var (
			events []app.Event
			err    error
		)
		switch msg.GetOpCode() {
		case OpRollDice:
			events, err = matchState.Table.RollDice(user)
		case OpMovePiece:
			var req protocol.MovePieceRequest
			if err = json.Unmarshal(msg.GetData(), &req); err != nil {
				err = fmt.Errorf("%w: move_piece payload: %v", protocol.ErrMalformed, err)
			} else if req.PieceID == "" {
				err = fmt.Errorf("%w: piece_id is required", app.ErrInvalidInput)
			} else {
				events, err = matchState.Table.MovePiece(user, req.PieceID)
			}
		case OpRequestNewGame:
			events, err = matchState.Table.NewGame()
		default:
			err = fmt.Errorf("%w: op code %d", protocol.ErrUnknownCommand, msg.GetOpCode())
		}

		if err != nil {
			logger.Debug("MatchLoop: rejected op %d from %s: %v", msg.GetOpCode(), user, err)
			mh.sendError(matchState, dispatcher, logger, user, err)
			continue
		}
		mh.dispatch(matchState, dispatcher, logger, events)
	}
	return matchState
}

// dispatch mirrors the standalone server: a snapshot after each state change,
// your_turn to its recipient and game_over to everyone.
func (mh *matchHandler) dispatch(state *MatchState, dispatcher runtime.MatchDispatcher, logger runtime.Logger, events []app.Event) {
	for _, ev := range events {
		if ev.ChangesState() {
			mh.broadcastUpdate(state, dispatcher, logger, app.Describe(ev))
		}
		switch p := ev.Payload.(type) {
		case app.GameStartedPayload:
			logger.Info("dispatch: game started, first turn %s", p.FirstTurnUserID)
			mh.updateLabel(state, dispatcher, logger)
		case app.GameClosedPayload:
			logger.Info("dispatch: game closed (%s)", p.Reason)
			mh.updateLabel(state, dispatcher, logger)
		case app.YourTurnPayload:
			for _, user := range ev.Recipients {
				mh.send(state, dispatcher, logger, OpYourTurn, nil, user)
			}
		case app.GameEndedPayload:
			logger.Info("dispatch: game over, winner %s (forfeit=%t)", p.Winner, p.Forfeit)
			mh.broadcastUpdate(state, dispatcher, logger, app.Describe(ev))
			mh.send(state, dispatcher, logger, OpGameOver, protocol.GameOver{Winner: p.Winner})
			mh.updateLabel(state, dispatcher, logger)
		}
	}
}

// send delivers payload to the named users, or to everyone when none are
// named. Users without a presence are skipped.
func (mh *matchHandler) send(state *MatchState, dispatcher runtime.MatchDispatcher, logger runtime.Logger, opCode int64, payload interface{}, users ...string) {
	var data []byte
	if payload != nil {
		var err error
		if data, err = json.Marshal(payload); err != nil {
			logger.Error("send: failed to marshal op %d: %v", opCode, err)
			return
		}
	}

	var recipients []runtime.Presence
	if len(users) > 0 {
		for _, u := range users {
			if p, ok := state.Presences[u]; ok {
				recipients = append(recipients, p)
			}
		}
		if len(recipients) == 0 {
			return
		}
	}
	if err := dispatcher.BroadcastMessage(opCode, data, recipients, nil, true); err != nil {
		logger.Warn("send: op %d: %v", opCode, err)
	}
}

func (mh *matchHandler) sendUpdate(state *MatchState, dispatcher runtime.MatchDispatcher, logger runtime.Logger, user, message string) {
	mh.send(state, dispatcher, logger, OpGameUpdate, protocol.NewGameUpdate(state.Table.Game(), user, message), user)
}

// broadcastUpdate sends each presence its own snapshot, since your_color
// differs per recipient.
func (mh *matchHandler) broadcastUpdate(state *MatchState, dispatcher runtime.MatchDispatcher, logger runtime.Logger, message string) {
	for user := range state.Presences {
		mh.sendUpdate(state, dispatcher, logger, user, message)
	}
}

func (mh *matchHandler) sendError(state *MatchState, dispatcher runtime.MatchDispatcher, logger runtime.Logger, user string, err error) {
	kind, code := protocol.Classify(err)
	text := err.Error()
	if kind == protocol.KindInternal {
		logger.Error("sendError: %s: %v", user, err)
		text = "internal server error"
	}
	mh.send(state, dispatcher, logger, OpError, protocol.ErrorPayload{Code: code, Message: text}, user)
}

// matchLabel renders {open, game, phase} for MatchList queries.
func matchLabel(state *MatchState) (string, error) {
	label, err := structpb.NewStruct(map[string]interface{}{
		LabelKeyOpen:  state.OpenSlots(),
		LabelKeyGame:  GameName,
		LabelKeyPhase: string(state.Table.Phase()),
	})
	if err != nil {
		return "", err
	}
	b, err := protojson.Marshal(label)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (mh *matchHandler) updateLabel(state *MatchState, dispatcher runtime.MatchDispatcher, logger runtime.Logger) {
	label, err := matchLabel(state)
	if err != nil {
		logger.Error("updateLabel: failed to marshal: %v", err)
		return
	}
	if err := dispatcher.MatchLabelUpdate(label); err != nil {
		logger.Error("updateLabel: failed to update: %v", err)
	}
}

func (mh *matchHandler) MatchTerminate(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, dispatcher runtime.MatchDispatcher, tick int64, state interface{}, graceSeconds int) interface{} {
	if matchState, ok := state.(*MatchState); ok {
		mh.broadcastUpdate(matchState, dispatcher, logger, "Server shutting down")
	}
	logger.Debug("MatchTerminate: grace=%ds", graceSeconds)
	return state
}

// MatchSignal lets operators drive the table: "start" forces a new game and
// "stop" ends the current one. The reply is a JSON object with ok or error.
func (mh *matchHandler) MatchSignal(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, dispatcher runtime.MatchDispatcher, tick int64, state interface{}, data string) (interface{}, string) {
	matchState, ok := state.(*MatchState)
	if !ok {
		return state, `{"error":"state not found"}`
	}
	var (
		events []app.Event
		err    error
	)
	switch data {
	case SignalStart:
		events, err = matchState.Table.NewGame()
	case SignalStop:
		events, err = matchState.Table.Stop()
	default:
		err = fmt.Errorf("%w: signal %q", protocol.ErrUnknownCommand, data)
	}
	if err != nil {
		_, code := protocol.Classify(err)
		return matchState, fmt.Sprintf(`{"error":%q}`, code)
	}
	logger.Info("MatchSignal: %s", data)
	mh.dispatch(matchState, dispatcher, logger, events)
	return matchState, `{"ok":true}`
}
