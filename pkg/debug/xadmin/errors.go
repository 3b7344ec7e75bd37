package xadmin

import "errors"

var (
	ErrCommandNotFound  = errors.New("xadmin: command not found")
	ErrCommandForbidden = errors.New("xadmin: command is forbidden")
	ErrTimeout          = errors.New("xadmin: command execution timeout")
	ErrTooManySessions  = errors.New("xadmin: too many concurrent sessions")
	ErrInvalidMessage   = errors.New("xadmin: invalid message format")
	ErrMessageTooLarge  = errors.New("xadmin: message too large")
	ErrConnectionClosed = errors.New("xadmin: connection closed")
	ErrUsage            = errors.New("xadmin: invalid arguments")
	ErrNilRegistry      = errors.New("xadmin: nil registry")
)
