package protocol

import (
	"errors"

	"parchis/internal/app"
	"parchis/internal/domain"
)

// ErrorKind is the taxonomy reported to operators and metrics.
type ErrorKind string

const (
	KindAuth     ErrorKind = "auth"
	KindProtocol ErrorKind = "protocol"
	KindRule     ErrorKind = "rule"
	KindInternal ErrorKind = "internal"
)

// CodeInternal is reported for any error without a wire code.
const CodeInternal = "internal"

var errorCodes = []struct {
	err  error
	kind ErrorKind
	code string
}{
	{app.ErrInvalidCredentials, KindAuth, "invalid_credentials"},
	{app.ErrUserExists, KindAuth, "user_exists"},
	{app.ErrAlreadyConnected, KindAuth, "already_connected"},
	{app.ErrInvalidToken, KindAuth, "invalid_token"},
	{app.ErrNotAuthenticated, KindAuth, "not_authenticated"},
	{app.ErrAlreadyAuthenticated, KindAuth, "already_authenticated"},

	{app.ErrInvalidInput, KindProtocol, "invalid_input"},
	{ErrMalformed, KindProtocol, "malformed"},
	{ErrUnknownCommand, KindProtocol, "unknown_command"},

	{domain.ErrNotYourTurn, KindRule, "not_your_turn"},
	{domain.ErrMustRoll, KindRule, "must_roll"},
	{domain.ErrMustMove, KindRule, "must_move"},
	{domain.ErrIllegalMove, KindRule, "illegal_move"},
	{domain.ErrUnknownPiece, KindRule, "unknown_piece"},
	{domain.ErrNotYourPiece, KindRule, "not_your_piece"},
	{domain.ErrGameNotActive, KindRule, "game_not_active"},
	{domain.ErrUnknownPlayer, KindRule, "not_seated"},
	{domain.ErrTooFewPlayers, KindRule, "too_few_players"},
	{app.ErrNoGame, KindRule, "no_game"},
	{app.ErrGameInProgress, KindRule, "game_in_progress"},
}

// Classify maps an error to its taxonomy kind and wire code.
func Classify(err error) (ErrorKind, string) {
	for _, e := range errorCodes {
		if errors.Is(err, e.err) {
			return e.kind, e.code
		}
	}
	return KindInternal, CodeInternal
}

// FailureFor builds the reply for err. Internal errors are not echoed to
// clients.
func FailureFor(command string, err error) (Message, ErrorKind, string) {
	kind, code := Classify(err)
	text := err.Error()
	if kind == KindInternal {
		text = "internal server error"
	}
	return Failure(command, code, text), kind, code
}
