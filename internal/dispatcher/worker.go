package dispatcher

import (
	"bytes"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"shellserver/internal/command"
	"shellserver/internal/pipeproto"
	"shellserver/internal/session"
)

// farewell mirrors the original's disconnect message so the happy-path
// scenario in spec.md §8 matches byte for byte.
const farewell = "Déconnexion du serveur...\n"

// runWorker drives one client session through Opening -> Receiving ->
// Executing -> Closing (spec §4.6). It owns sess exclusively until it
// returns, at which point teardown removes the session from the registry.
func (d *Dispatcher) runWorker(sess *session.Session, handle session.Handle) {
	defer d.wg.Done()
	defer d.teardown(sess, handle)

	// Opening: the request pipe is the only long-lived descriptor the
	// worker holds; the response pipe is opened fresh on every send
	// (spec §4.3).
	reqPipe, err := pipeproto.OpenRequestPipeForRead(sess.Record.RequestPipe)
	if err != nil {
		d.logger.Warn("opening request pipe failed",
			zap.Uint32("pid", sess.PID()), zap.Error(err))
		d.metrics.AdmissionsRejected.WithLabelValues("open_failed").Inc()
		return
	}
	sess.ReqPipe = reqPipe
	defer reqPipe.Close()

	d.metrics.SessionsActive.Inc()
	defer d.metrics.SessionsActive.Dec()

	for {
		// Receiving: no timeout on the request read (spec §5) — the
		// worker waits until the client sends or closes.
		line, err := reqPipe.Receive()
		if err != nil {
			d.logger.Debug("request pipe closed, ending session",
				zap.Uint32("pid", sess.PID()), zap.Error(err))
			return
		}

		trimmed := strings.TrimSpace(line)
		if trimmed == pipeproto.ExitSentinel {
			d.sendFarewell(sess)
			return
		}
		if trimmed == "" {
			// Empty / invalid: diagnostic response, stay in Receiving.
			if err := d.sendResponse(sess, []byte("empty command\n")); err != nil {
				d.handleSendError(sess, err)
				return
			}
			continue
		}

		if d.transitionClosingOnExecuteFailure(sess, trimmed) {
			return
		}
	}
}

// transitionClosingOnExecuteFailure runs Executing for one command line and
// reports whether the worker must transition to Closing.
func (d *Dispatcher) transitionClosingOnExecuteFailure(sess *session.Session, line string) bool {
	ctx := command.RequestContext{
		ClientPID: sess.Record.ClientPID,
		ClientUID: sess.Record.ClientUID,
	}

	var sink bytes.Buffer
	start := time.Now()
	outcome := d.commands.Handle(ctx, line, &sink)
	d.metrics.CommandDuration.Observe(time.Since(start).Seconds())
	d.metrics.CommandsTotal.WithLabelValues(outcome.String()).Inc()

	if outcome == command.InvalidCommand && sink.Len() == 0 {
		sink.WriteString("invalid command\n")
	}

	if err := d.sendResponse(sess, sink.Bytes()); err != nil {
		d.handleSendError(sess, err)
		return true
	}
	return false
}

// handleSendError implements the two failure branches of "Executing" (spec
// §4.6): a deadline-expired send warns the client with SIGUSR2 before
// Closing; any other I/O error goes straight to Closing.
func (d *Dispatcher) handleSendError(sess *session.Session, err error) {
	if errors.Is(err, pipeproto.ErrTimeout) {
		d.logger.Warn("response deadline exceeded, signalling client",
			zap.Uint32("pid", sess.PID()))
		_ = unix.Kill(int(sess.PID()), unix.SIGUSR2)
		return
	}
	d.logger.Debug("response send failed",
		zap.Uint32("pid", sess.PID()), zap.Error(err))
}

// sendResponse applies the configured response_limit and res_timeout to one
// outgoing frame. A disappeared client's closed pipe surfaces as an
// ordinary error here rather than a process-wide SIGPIPE, which is how the
// worker "absorbs write-to-closed-pipe" without a signal handler (spec
// §4.6).
func (d *Dispatcher) sendResponse(sess *session.Session, payload []byte) error {
	deadline := time.Time{}
	if d.cfg.ResTimeout > 0 {
		deadline = time.Now().Add(d.cfg.ResTimeout)
	}
	if err := pipeproto.Send(sess.ResPipe, payload, d.cfg.ResponseLimit, deadline); err != nil {
		return err
	}
	sent := len(payload)
	if d.cfg.ResponseLimit >= 0 && sent > d.cfg.ResponseLimit {
		sent = d.cfg.ResponseLimit
	}
	d.metrics.ResponseBytesTotal.Add(float64(sent))
	return nil
}

// sendFarewell is best-effort (spec §4.6's Closing state): a client that
// has already gone away must not prevent the worker from tearing down.
func (d *Dispatcher) sendFarewell(sess *session.Session) {
	if err := d.sendResponse(sess, []byte(farewell)); err != nil {
		d.logger.Debug("farewell send failed",
			zap.Uint32("pid", sess.PID()), zap.Error(err))
	}
}

// teardown is the Closing state's bookkeeping: remove from the registry so
// a later broadcast or a fresh admission with the same pid never observes
// a stale entry.
func (d *Dispatcher) teardown(sess *session.Session, handle session.Handle) {
	if err := d.registry.Remove(handle); err != nil {
		d.logger.Debug("session already removed", zap.Uint32("pid", sess.PID()))
	}
}
