package dispatcher

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"shellserver/internal/command"
	"shellserver/internal/config"
	"shellserver/internal/metrics"
	"shellserver/internal/ring"
	"shellserver/internal/session"
)

// pollInterval bounds how long Run's admission fetch blocks before
// rechecking ctx — there is no cgo-free way to interrupt a blocked read on
// a FIFO from another goroutine, so the main loop polls instead of relying
// on a single indefinite wait (adapted from spec §4.6's "indefinitely call
// fetch_shm_request").
const pollInterval = 200 * time.Millisecond

// Dispatcher is the admission loop plus worker supervisor (C6): it owns the
// registry and the ring, and spawns one detached worker goroutine per
// admitted client.
type Dispatcher struct {
	cfg      config.Server
	logger   *zap.Logger
	metrics  *metrics.Registry
	registry *session.Registry
	ring     *ring.Ring
	commands command.Handler

	mu           sync.Mutex
	shuttingDown bool
	wg           sync.WaitGroup
}

// New wires the dispatcher's collaborators. The caller retains ownership of
// r (creation/destruction stay the caller's responsibility, per spec §5's
// "the server exclusively owns creation/destruction").
func New(cfg config.Server, logger *zap.Logger, metricsRegistry *metrics.Registry, r *ring.Ring, commands command.Handler) *Dispatcher {
	return &Dispatcher{
		cfg:      cfg,
		logger:   logger,
		metrics:  metricsRegistry,
		registry: session.NewRegistry(),
		ring:     r,
		commands: commands,
	}
}

// Run is the main loop (spec §4.6): indefinitely fetch admission records
// and admit each one, until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		err := d.ring.FetchTimeout(d.admit, time.Now().Add(pollInterval))
		if err == nil {
			continue
		}
		if errors.Is(err, ring.ErrServerBusy) {
			// No admission arrived within the poll window; loop back and
			// recheck ctx. Not a failure (spec §4.1's deadline semantics).
			continue
		}
		if errors.Is(err, ErrShuttingDown) {
			return
		}
		d.logger.Error("admission fetch failed", zap.Error(err))
		if ctx.Err() != nil {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
}

// admit is the ring's Fetch handler (spec §4.6): copy the record into a
// freshly allocated session, register it, and spawn a detached worker. A
// non-fatal failure here is logged; the ring slot is freed either way
// because Fetch always advances tail before returning.
func (d *Dispatcher) admit(rec ring.AdmissionRecord) error {
	d.mu.Lock()
	down := d.shuttingDown
	d.mu.Unlock()
	if down {
		return ErrShuttingDown
	}

	sess := session.New(rec)
	handle := d.registry.Add(sess)
	d.metrics.AdmissionsTotal.Inc()

	d.wg.Add(1)
	go d.runWorker(sess, handle)
	return nil
}

// Shutdown is spec §4.6's signal teardown: block new admissions, then
// broadcast user-defined signal 1 to every live client. It does not wait for
// in-flight workers — a worker blocked on a client's request pipe may
// never return, and the original's own teardown does not join those
// threads either; it proceeds straight to freeing the ring.
func (d *Dispatcher) Shutdown() {
	d.mu.Lock()
	d.shuttingDown = true
	d.mu.Unlock()

	n := d.registry.Len()
	d.logger.Info("shutting down, signalling live clients",
		zap.Int("sessions", n))
	d.registry.SignalAll(unix.SIGUSR1)
}
