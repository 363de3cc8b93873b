// The saturation/back-pressure scenario from spec.md §8 (slots: 1, a
// deadline-bounded admission returning ServerBusy) is exercised directly
// against the ring in internal/ring/ring_test.go, with a 300ms deadline and
// a 600ms bound; the tests here drive the dispatcher/worker wiring end to
// end instead.
package dispatcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"shellserver/internal/command"
	"shellserver/internal/config"
	"shellserver/internal/metrics"
	"shellserver/internal/pipeproto"
	"shellserver/internal/ring"
)

// promauto registers every collector into the global default registry, so
// a second metrics.NewRegistry() call in the same test binary panics on
// duplicate registration. One shared registry is enough to exercise every
// scenario below.
var (
	sharedMetricsOnce sync.Once
	sharedMetrics     *metrics.Registry
)

func testMetrics() *metrics.Registry {
	sharedMetricsOnce.Do(func() {
		sharedMetrics = metrics.NewRegistry()
	})
	return sharedMetrics
}

func newTestRing(t *testing.T, capacity int) (*ring.Ring, string, string) {
	t.Helper()
	dir := t.TempDir()
	shmDir := filepath.Join(dir, "shm")
	pipeDir := filepath.Join(dir, "pipes")
	if err := os.MkdirAll(pipeDir, 0o700); err != nil {
		t.Fatal(err)
	}
	name := fmt.Sprintf("/shm_dispatch_test_%d", time.Now().UnixNano())
	r, err := ring.New(shmDir, name, capacity)
	if err != nil {
		t.Fatalf("ring.New: %v", err)
	}
	t.Cleanup(func() { _ = r.Destroy() })
	return r, shmDir, name
}

// sendWithRetry retries RequestPipe.Send until the worker's Opening state
// has opened its read end. The worker opens that read end asynchronously
// after admission, so the client's first write-side open can race ahead of
// it and see ENXIO.
func sendWithRetry(t *testing.T, p *pipeproto.RequestPipe, cmd string, overall time.Duration) {
	t.Helper()
	deadline := time.Now().Add(overall)
	var lastErr error
	for time.Now().Before(deadline) {
		if err := p.Send(cmd, time.Now().Add(200*time.Millisecond)); err == nil {
			return
		} else {
			lastErr = err
			time.Sleep(20 * time.Millisecond)
		}
	}
	t.Fatalf("Send(%q) never succeeded: %v", cmd, lastErr)
}

func TestDispatcherHappyPath(t *testing.T) {
	r, shmDir, name := newTestRing(t, 4)

	cfg := config.Server{Slots: 4, ResponseLimit: -1, ResTimeout: 2 * time.Second}
	disp := New(cfg, zap.NewNop(), testMetrics(), r, command.NewRegistry())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go disp.Run(ctx)

	dir := filepath.Dir(shmDir)
	pipeDir := filepath.Join(dir, "pipes")
	reqPath := filepath.Join(pipeDir, "req_happy")
	resPath := filepath.Join(pipeDir, "res_happy")

	reqPipe, err := pipeproto.CreateRequestPipe(reqPath)
	if err != nil {
		t.Fatalf("CreateRequestPipe: %v", err)
	}
	defer reqPipe.Remove()

	resPipe, err := pipeproto.CreateResponsePipe(resPath)
	if err != nil {
		t.Fatalf("CreateResponsePipe: %v", err)
	}
	defer resPipe.Close()
	defer resPipe.Remove()

	clientRing, err := ring.Open(shmDir, name)
	if err != nil {
		t.Fatalf("ring.Open: %v", err)
	}
	defer clientRing.Close()

	rec := ring.AdmissionRecord{
		RequestPipe:  reqPath,
		ResponsePipe: resPath,
		ClientPID:    1001,
		ClientUID:    uint32(os.Getuid()),
	}
	if err := clientRing.Send(rec, time.Now().Add(2*time.Second)); err != nil {
		t.Fatalf("admission send: %v", err)
	}

	sendWithRetry(t, reqPipe, "pwd", 2*time.Second)

	got, err := resPipe.Receive(2 * time.Second)
	if err != nil {
		t.Fatalf("Receive pwd response: %v", err)
	}
	want, _ := os.Getwd()
	want += "\n"
	if string(got) != want {
		t.Fatalf("pwd response = %q, want %q", got, want)
	}

	if err := reqPipe.Send(pipeproto.ExitSentinel, time.Now().Add(time.Second)); err != nil {
		t.Fatalf("send exit: %v", err)
	}
	farewellGot, err := resPipe.Receive(2 * time.Second)
	if err != nil {
		t.Fatalf("Receive farewell: %v", err)
	}
	if string(farewellGot) != farewell {
		t.Fatalf("farewell = %q, want %q", farewellGot, farewell)
	}
}

func TestDispatcherResponseLimitTruncates(t *testing.T) {
	r, shmDir, name := newTestRing(t, 4)

	cfg := config.Server{Slots: 4, ResponseLimit: 10, ResTimeout: 2 * time.Second}
	disp := New(cfg, zap.NewNop(), testMetrics(), r, command.NewRegistry())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go disp.Run(ctx)

	dir := filepath.Dir(shmDir)
	pipeDir := filepath.Join(dir, "pipes")
	reqPath := filepath.Join(pipeDir, "req_limit")
	resPath := filepath.Join(pipeDir, "res_limit")

	reqPipe, err := pipeproto.CreateRequestPipe(reqPath)
	if err != nil {
		t.Fatalf("CreateRequestPipe: %v", err)
	}
	defer reqPipe.Remove()

	resPipe, err := pipeproto.CreateResponsePipe(resPath)
	if err != nil {
		t.Fatalf("CreateResponsePipe: %v", err)
	}
	defer resPipe.Close()
	defer resPipe.Remove()

	clientRing, err := ring.Open(shmDir, name)
	if err != nil {
		t.Fatalf("ring.Open: %v", err)
	}
	defer clientRing.Close()

	rec := ring.AdmissionRecord{
		RequestPipe:  reqPath,
		ResponsePipe: resPath,
		ClientPID:    1002,
		ClientUID:    uint32(os.Getuid()),
	}
	if err := clientRing.Send(rec, time.Now().Add(2*time.Second)); err != nil {
		t.Fatalf("admission send: %v", err)
	}

	sendWithRetry(t, reqPipe, "help", 2*time.Second)

	got, err := resPipe.Receive(2 * time.Second)
	if err != nil {
		t.Fatalf("Receive help response: %v", err)
	}
	if len(got) != 10 {
		t.Fatalf("len(got) = %d, want 10 (response_limit)", len(got))
	}
}
