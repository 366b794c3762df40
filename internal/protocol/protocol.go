// Package protocol defines the newline-delimited JSON messages exchanged
// between clients and the session server.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Client commands.
const (
	CmdLogin          = "login"
	CmdRegister       = "register"
	CmdResume         = "resume"
	CmdRollDice       = "roll_dice"
	CmdMovePiece      = "move_piece"
	CmdRequestNewGame = "request_new_game"
	CmdPing           = "ping"
)

// Server pushes.
const (
	CmdGameUpdate = "game_update"
	CmdYourTurn   = "your_turn"
	CmdGameOver   = "game_over"
	CmdError      = "error"
	CmdPong       = "pong"
)

const (
	StatusSuccess = "success"
	StatusError   = "error"
)

var (
	ErrMalformed      = errors.New("malformed message")
	ErrUnknownCommand = errors.New("unknown command")
)

var clientCommands = map[string]bool{
	CmdLogin:          true,
	CmdRegister:       true,
	CmdResume:         true,
	CmdRollDice:       true,
	CmdMovePiece:      true,
	CmdRequestNewGame: true,
	CmdPing:           true,
}

// Message is one protocol frame. Requests carry Command and Payload; replies
// to login/register/resume add Status and Message.
type Message struct {
	Command string          `json:"command,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Status  string          `json:"status,omitempty"`
	Message string          `json:"message,omitempty"`
}

// IsClientCommand reports whether cmd may be sent by a client.
func IsClientCommand(cmd string) bool {
	return clientCommands[cmd]
}

// Encode serializes msg without the trailing delimiter.
func Encode(msg Message) ([]byte, error) {
	return json.Marshal(msg)
}

// Decode parses one frame. Surrounding whitespace is ignored.
func Decode(data []byte) (Message, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return Message{}, fmt.Errorf("%w: empty frame", ErrMalformed)
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return msg, nil
}

// DecodeRequest parses a client frame and checks the command is known.
func DecodeRequest(data []byte) (Message, error) {
	msg, err := Decode(data)
	if err != nil {
		return Message{}, err
	}
	if msg.Command == "" {
		return Message{}, fmt.Errorf("%w: missing command", ErrMalformed)
	}
	if !IsClientCommand(msg.Command) {
		return msg, fmt.Errorf("%w: %q", ErrUnknownCommand, msg.Command)
	}
	return msg, nil
}

// Bind unmarshals the payload into v. A missing payload leaves v untouched.
func (m Message) Bind(v any) error {
	if len(m.Payload) == 0 || bytes.Equal(m.Payload, []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("%w: %s payload: %v", ErrMalformed, m.Command, err)
	}
	return nil
}

// New builds a message with a JSON payload; payload may be nil.
func New(command string, payload any) (Message, error) {
	msg := Message{Command: command}
	if payload == nil {
		return msg, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("encode %s payload: %w", command, err)
	}
	msg.Payload = raw
	return msg, nil
}

// MustNew is New for payload types that always marshal.
func MustNew(command string, payload any) Message {
	msg, err := New(command, payload)
	if err != nil {
		panic(err)
	}
	return msg
}

// Success is the reply to an accepted login/register/resume.
func Success(command string, payload any) Message {
	msg := MustNew(command, payload)
	msg.Status = StatusSuccess
	return msg
}

// Failure is the reply to a rejected request. Auth commands echo their own
// command name; everything else is reported as an error push.
func Failure(command, code, text string) Message {
	if command != CmdLogin && command != CmdRegister && command != CmdResume {
		command = CmdError
	}
	msg := MustNew(command, ErrorPayload{Code: code, Message: text})
	msg.Status = StatusError
	msg.Message = text
	return msg
}
