// Package session implements the per-client session object (C4) and the
// live-client registry (C5).
package session

import (
	"shellserver/internal/pipeproto"
	"shellserver/internal/ring"
)

// Session is heap-allocated by the dispatcher when it pops an admission
// record (spec §3). It holds a copy of the admission record, the opened
// request pipe and the response pipe's path. The dispatcher's admit creates
// it and hands it to one worker, which exclusively owns it until it tears
// the session down.
type Session struct {
	Record  ring.AdmissionRecord
	ReqPipe *pipeproto.RequestPipe
	ResPipe string // response pipe path; the worker opens it fresh per send
}

// New copies the admission record out of the ring slot (the caller is
// expected to do this before the ring's Fetch handler returns, so the slot
// is free the moment the handler returns).
func New(rec ring.AdmissionRecord) *Session {
	return &Session{
		Record:  rec,
		ResPipe: rec.ResponsePipe,
	}
}

// PID is the registry key (spec §4.5).
func (s *Session) PID() uint32 { return s.Record.ClientPID }
