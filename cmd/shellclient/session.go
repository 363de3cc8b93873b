package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"shellserver/internal/config"
	"shellserver/internal/pipeproto"
	"shellserver/internal/ring"
)

// clientSession owns the two pipe endpoints and the admission ring
// attachment for one interactive run of the client binary.
type clientSession struct {
	cfg    config.Client
	ring   *ring.Ring
	logger *zap.Logger

	pid uint32

	reqPipe *pipeproto.RequestPipe
	resPipe *pipeproto.ResponsePipe
	resPath string
}

func newClientSession(cfg config.Client, r *ring.Ring, logger *zap.Logger) (*clientSession, error) {
	if err := os.MkdirAll(cfg.PipeDir, 0o700); err != nil {
		return nil, fmt.Errorf("create pipe dir: %w", err)
	}

	pid := uint32(os.Getpid())
	reqPath := filepath.Join(cfg.PipeDir, fmt.Sprintf("pipe_request_%d", pid))
	resPath := filepath.Join(cfg.PipeDir, fmt.Sprintf("pipe_response_%d", pid))

	reqPipe, err := pipeproto.CreateRequestPipe(reqPath)
	if err != nil {
		return nil, fmt.Errorf("create request pipe: %w", err)
	}
	resPipe, err := pipeproto.CreateResponsePipe(resPath)
	if err != nil {
		_ = reqPipe.Remove()
		return nil, fmt.Errorf("create response pipe: %w", err)
	}

	return &clientSession{
		cfg:     cfg,
		ring:    r,
		logger:  logger,
		pid:     pid,
		reqPipe: reqPipe,
		resPipe: resPipe,
		resPath: resPath,
	}, nil
}

// admit pushes this session's admission record into the ring (spec §4.1's
// send_shm_request). A zero ReqTimeout blocks indefinitely; otherwise
// expiry surfaces as ring.ErrServerBusy.
func (s *clientSession) admit() error {
	deadline := time.Time{}
	if s.cfg.ReqTimeout > 0 {
		deadline = time.Now().Add(s.cfg.ReqTimeout)
	}
	rec := ring.AdmissionRecord{
		RequestPipe:  s.reqPipe.Path(),
		ResponsePipe: s.resPath,
		ClientPID:    s.pid,
		ClientUID:    uint32(os.Getuid()),
	}
	return s.ring.Send(rec, deadline)
}

// send submits one command line and waits for its response within the
// configured res_timeout.
func (s *clientSession) send(line string) ([]byte, error) {
	if err := s.reqPipe.Send(line, time.Now().Add(s.requestDeadlineWindow())); err != nil {
		return nil, err
	}
	return s.resPipe.Receive(s.cfg.ResTimeout)
}

func (s *clientSession) requestDeadlineWindow() time.Duration {
	if s.cfg.ReqTimeout > 0 {
		return s.cfg.ReqTimeout
	}
	return 5 * time.Second
}

// cleanup removes both backing FIFOs (spec §6: the client creates and owns
// both files) and closes the held descriptors.
func (s *clientSession) cleanup() {
	_ = s.reqPipe.Close()
	_ = s.reqPipe.Remove()
	_ = s.resPipe.Close()
	_ = s.resPipe.Remove()
}
