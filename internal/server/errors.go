package server

import "errors"

var (
	ErrSessionClosed = errors.New("session closed")
	ErrServerClosed  = errors.New("server closed")
)
