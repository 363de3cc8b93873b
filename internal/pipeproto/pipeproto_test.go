package pipeproto

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"
)

func tmpPath(t *testing.T, name string) string {
	t.Helper()
	return filepath.Join(t.TempDir(), fmt.Sprintf("%s_%d", name, time.Now().UnixNano()))
}

func TestRequestPipeRoundTrip(t *testing.T) {
	path := tmpPath(t, "req")

	client, err := CreateRequestPipe(path)
	if err != nil {
		t.Fatalf("CreateRequestPipe: %v", err)
	}
	defer client.Remove()

	server, err := OpenRequestPipeForRead(path)
	if err != nil {
		t.Fatalf("OpenRequestPipeForRead: %v", err)
	}
	defer server.Close()

	done := make(chan struct{})
	var got string
	var recvErr error
	go func() {
		got, recvErr = server.Receive()
		close(done)
	}()

	if err := client.Send("pwd", time.Now().Add(time.Second)); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Receive did not return")
	}
	if recvErr != nil {
		t.Fatalf("Receive: %v", recvErr)
	}
	if got != "pwd" {
		t.Fatalf("got %q, want %q", got, "pwd")
	}
}

func TestRequestPipeExactMaxLength(t *testing.T) {
	path := tmpPath(t, "req_max")
	client, err := CreateRequestPipe(path)
	if err != nil {
		t.Fatalf("CreateRequestPipe: %v", err)
	}
	defer client.Remove()
	server, err := OpenRequestPipeForRead(path)
	if err != nil {
		t.Fatalf("OpenRequestPipeForRead: %v", err)
	}
	defer server.Close()

	cmd := make([]byte, MaxCommandLength)
	for i := range cmd {
		cmd[i] = 'a'
	}

	done := make(chan string, 1)
	go func() {
		got, _ := server.Receive()
		done <- got
	}()

	if err := client.Send(string(cmd), time.Now().Add(time.Second)); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case got := <-done:
		if got != string(cmd) {
			t.Fatalf("command truncated: len(got)=%d, want %d", len(got), len(cmd))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Receive did not return")
	}
}

func TestRequestPipeOversizeCommandTruncated(t *testing.T) {
	path := tmpPath(t, "req_oversize")
	client, err := CreateRequestPipe(path)
	if err != nil {
		t.Fatalf("CreateRequestPipe: %v", err)
	}
	defer client.Remove()
	server, err := OpenRequestPipeForRead(path)
	if err != nil {
		t.Fatalf("OpenRequestPipeForRead: %v", err)
	}
	defer server.Close()

	oversized := make([]byte, 1000)
	for i := range oversized {
		oversized[i] = 'b'
	}

	done := make(chan string, 1)
	go func() {
		got, _ := server.Receive()
		done <- got
	}()

	if err := client.Send(string(oversized), time.Now().Add(time.Second)); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case got := <-done:
		if len(got) != MaxCommandLength {
			t.Fatalf("len(got) = %d, want %d", len(got), MaxCommandLength)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Receive did not return")
	}
}

func TestResponsePipeRoundTrip(t *testing.T) {
	path := tmpPath(t, "res")

	client, err := CreateResponsePipe(path)
	if err != nil {
		t.Fatalf("CreateResponsePipe: %v", err)
	}
	defer client.Remove()

	want := []byte("current working directory\n")
	done := make(chan struct{})
	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = Send(path, want, -1, time.Now().Add(2*time.Second))
		close(done)
	}()

	got, err := client.Receive(2 * time.Second)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if string(got) != string(want) {
		t.Fatalf("got %q, want %q", got, want)
	}
	<-done
}

func TestResponsePipeTimeout(t *testing.T) {
	path := tmpPath(t, "res_timeout")
	client, err := CreateResponsePipe(path)
	if err != nil {
		t.Fatalf("CreateResponsePipe: %v", err)
	}
	defer client.Remove()

	start := time.Now()
	_, err = client.Receive(200 * time.Millisecond)
	if err != ErrTimeout {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Fatalf("timeout took too long: %v", time.Since(start))
	}
}

func TestResponsePipeOversizedTruncatedToLimit(t *testing.T) {
	path := tmpPath(t, "res_oversized")
	client, err := CreateResponsePipe(path)
	if err != nil {
		t.Fatalf("CreateResponsePipe: %v", err)
	}
	defer client.Remove()

	payload := make([]byte, 10000)
	for i := range payload {
		payload[i] = 'x'
	}

	done := make(chan error, 1)
	go func() {
		time.Sleep(20 * time.Millisecond)
		done <- Send(path, payload, 10, time.Now().Add(2*time.Second))
	}()

	got, err := client.Receive(2 * time.Second)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if len(got) != 10 {
		t.Fatalf("len(got) = %d, want 10", len(got))
	}
	if err := <-done; err != nil {
		t.Fatalf("Send: %v", err)
	}
}
