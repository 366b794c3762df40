package nakama

const (
	// RpcQuickMatch is the Nakama RPC id clients call to find or create a table.
	RpcQuickMatch = "quick_match"

	// MatchNameParchis is the authoritative match handler name registered with Nakama.
	MatchNameParchis = "parchis_match"

	// GameName is the label value that distinguishes Parchís matches.
	GameName = "parchis"

	// TickRate is the match loop frequency in ticks per second.
	TickRate = 5

	// MaxPresences bounds one table: four seats plus a waiting lobby.
	MaxPresences = 8
)

// Match label keys.
const (
	LabelKeyOpen  = "open"
	LabelKeyGame  = "game"
	LabelKeyPhase = "phase"
)

// Match create params and runtime env keys.
const (
	ParamMinPlayers = "min_players"
	EnvMinPlayers   = "parchis_min_players"
)

// Signals accepted by MatchSignal.
const (
	SignalStart = "start"
	SignalStop  = "stop"
)

// Op codes for client messages and server events. Payloads are the JSON
// bodies of the line protocol.
const (
	// Client -> Server
	OpRollDice       int64 = 1
	OpMovePiece      int64 = 2
	OpRequestNewGame int64 = 3

	// Server -> Client
	OpGameUpdate int64 = 101
	OpYourTurn   int64 = 102
	OpGameOver   int64 = 103
	OpError      int64 = 104
)
