// Package pipeproto implements the per-client framed pipe protocol: the
// fixed-frame request channel (C2) and the length-prefixed response channel
// with deadline (C3).
package pipeproto

import "errors"

var (
	ErrInvalidArgument = errors.New("pipeproto: invalid argument")
	ErrPipeFailure     = errors.New("pipeproto: pipe failure")
	ErrTimeout         = errors.New("pipeproto: timeout")
	ErrCommandTooLong  = errors.New("pipeproto: command exceeds max length")
)
