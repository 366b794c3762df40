package protocol

import "parchis/internal/domain"

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type RegisterRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Nombre   string `json:"nombre"`
	Apellido string `json:"apellido"`
}

type ResumeRequest struct {
	Token string `json:"token"`
}

type MovePieceRequest struct {
	PieceID string `json:"piece_id"`
}

// LoginReply is returned by login and resume.
type LoginReply struct {
	Username string `json:"username"`
	Token    string `json:"token,omitempty"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type GameOver struct {
	Winner string `json:"winner"`
}

type PlayerInfo struct {
	Username string `json:"username"`
	Color    string `json:"color"`
	Finished int    `json:"finished"`
	AtBase   int    `json:"at_base"`
}

// GameUpdate is the full snapshot pushed after every state change.
// Nullable fields are pointers so they serialize as null.
type GameUpdate struct {
	BoardState   map[string]int `json:"board_state"`
	CurrentTurn  *string        `json:"current_turn"`
	LastDiceRoll *int           `json:"last_dice_roll"`
	DicePending  bool           `json:"dice_pending"`
	Message      string         `json:"message"`
	YourColor    *string        `json:"your_color"`
	Players      []PlayerInfo   `json:"players"`
	Phase        string         `json:"phase"`
}

// NewGameUpdate snapshots game for one recipient. A nil game yields a lobby
// snapshot with an empty board.
func NewGameUpdate(game *domain.Game, recipient, message string) GameUpdate {
	u := GameUpdate{
		BoardState: map[string]int{},
		Players:    []PlayerInfo{},
		Message:    message,
		Phase:      string(domain.PhaseLobby),
	}
	if game == nil {
		return u
	}

	u.BoardState = game.Board.Snapshot()
	u.Phase = string(game.Phase)
	if cur := game.CurrentPlayer(); cur != "" && game.Phase == domain.PhasePlaying {
		u.CurrentTurn = &cur
	}
	if game.LastRoll != 0 {
		roll := game.LastRoll
		u.LastDiceRoll = &roll
	}
	u.DicePending = game.Dice != 0
	if c, ok := game.ColorOf(recipient); ok {
		color := string(c)
		u.YourColor = &color
	}
	for _, p := range game.Progress() {
		u.Players = append(u.Players, PlayerInfo{
			Username: p.UserID,
			Color:    string(p.Color),
			Finished: p.Finished,
			AtBase:   p.AtBase,
		})
	}
	return u
}
