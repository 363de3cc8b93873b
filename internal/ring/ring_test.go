package ring

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func tmpRingName(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	return dir, fmt.Sprintf("/shm_test_%d", time.Now().UnixNano())
}

func TestNewRejectsDuplicateName(t *testing.T) {
	dir, name := tmpRingName(t)
	r, err := New(dir, name, 4)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer r.Destroy()

	if _, err := New(dir, name, 4); !errors.Is(err, ErrAlreadyInUse) {
		t.Fatalf("expected ErrAlreadyInUse, got %v", err)
	}
}

func TestSendFetchFIFO(t *testing.T) {
	dir, name := tmpRingName(t)
	r, err := New(dir, name, 4)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer r.Destroy()

	rec1 := AdmissionRecord{RequestPipe: "./tmp/pipe_request_1", ResponsePipe: "./tmp/pipe_response_1", ClientPID: 1, ClientUID: 100}
	rec2 := AdmissionRecord{RequestPipe: "./tmp/pipe_request_2", ResponsePipe: "./tmp/pipe_response_2", ClientPID: 2, ClientUID: 100}

	if err := r.Send(rec1, time.Time{}); err != nil {
		t.Fatalf("send rec1: %v", err)
	}
	if err := r.Send(rec2, time.Time{}); err != nil {
		t.Fatalf("send rec2: %v", err)
	}
	if got := r.Length(); got != 2 {
		t.Fatalf("length = %d, want 2", got)
	}

	var got []AdmissionRecord
	for i := 0; i < 2; i++ {
		if err := r.Fetch(func(rec AdmissionRecord) error {
			got = append(got, rec)
			return nil
		}); err != nil {
			t.Fatalf("fetch %d: %v", i, err)
		}
	}

	if got[0].ClientPID != 1 || got[1].ClientPID != 2 {
		t.Fatalf("FIFO order violated: %+v", got)
	}
	if r.Length() != 0 {
		t.Fatalf("length after drain = %d, want 0", r.Length())
	}
}

func TestSendBackpressureReturnsServerBusy(t *testing.T) {
	dir, name := tmpRingName(t)
	r, err := New(dir, name, 1)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer r.Destroy()

	rec := AdmissionRecord{RequestPipe: "./tmp/pipe_request_1", ResponsePipe: "./tmp/pipe_response_1", ClientPID: 1, ClientUID: 100}
	if err := r.Send(rec, time.Time{}); err != nil {
		t.Fatalf("first send: %v", err)
	}

	start := time.Now()
	err = r.Send(rec, start.Add(300*time.Millisecond))
	elapsed := time.Since(start)
	if !errors.Is(err, ErrServerBusy) {
		t.Fatalf("expected ErrServerBusy, got %v", err)
	}
	if elapsed > 600*time.Millisecond {
		t.Fatalf("ServerBusy took too long: %v", elapsed)
	}
	if r.Length() != 1 {
		t.Fatalf("ring mutated despite ServerBusy: length=%d", r.Length())
	}
}

func TestCapacityOneProgressesWithoutDeadlock(t *testing.T) {
	dir, name := tmpRingName(t)
	r, err := New(dir, name, 1)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer r.Destroy()

	var wg sync.WaitGroup
	wg.Add(2)

	errs := make(chan error, 20)
	go func() {
		defer wg.Done()
		for i := 0; i < 10; i++ {
			rec := AdmissionRecord{RequestPipe: "./tmp/p", ResponsePipe: "./tmp/p", ClientPID: uint32(i), ClientUID: 1}
			if err := r.Send(rec, time.Now().Add(2*time.Second)); err != nil {
				errs <- err
				return
			}
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 10; i++ {
			if err := r.Fetch(func(AdmissionRecord) error { return nil }); err != nil {
				errs <- err
				return
			}
		}
	}()

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("deadlock: producer/consumer did not finish")
	}
	close(errs)
	for err := range errs {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestOpenAttachesToExistingRing(t *testing.T) {
	dir, name := tmpRingName(t)
	server, err := New(dir, name, 2)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer server.Destroy()

	client, err := Open(dir, name)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer client.Close()

	if client.Capacity() != 2 {
		t.Fatalf("capacity = %d, want 2", client.Capacity())
	}

	rec := AdmissionRecord{RequestPipe: "./tmp/pr", ResponsePipe: "./tmp/pp", ClientPID: 42, ClientUID: 7}
	if err := client.Send(rec, time.Now().Add(time.Second)); err != nil {
		t.Fatalf("client send: %v", err)
	}
	var got AdmissionRecord
	if err := server.Fetch(func(r AdmissionRecord) error { got = r; return nil }); err != nil {
		t.Fatalf("server fetch: %v", err)
	}
	if got.ClientPID != 42 || got.ClientUID != 7 {
		t.Fatalf("record mismatch: %+v", got)
	}
}
