package pipeproto

import (
	"encoding/binary"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

const lengthPrefixSize = 8

// ResponsePipe is the length-prefixed response channel (C3): an 8-byte
// little-endian length N followed by N bytes of payload, no terminator
// inside the payload. Endianness and the no-trailing-NUL convention are
// pinned per SPEC_FULL.md §9 (resolving spec.md's open questions).
type ResponsePipe struct {
	path string
	fd   int
}

// CreateResponsePipe makes the backing FIFO and opens it O_RDWR so the
// client always holds a self-write reference (same EOF-avoidance rationale
// as RequestPipe), then keeps that fd open for the session's lifetime.
func CreateResponsePipe(path string) (*ResponsePipe, error) {
	if err := unix.Mkfifo(path, 0o600); err != nil && err != unix.EEXIST {
		return nil, ErrPipeFailure
	}
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, ErrPipeFailure
	}
	return &ResponsePipe{path: path, fd: fd}, nil
}

// Send opens the pipe write-only and writes the length prefix followed by
// the payload, capped at maxSize bytes (negative maxSize means unlimited),
// within deadline. The sender is the dispatcher's worker; it does not keep
// this fd open across calls. A zero deadline blocks indefinitely; a
// non-zero deadline returns ErrTimeout on expiry (spec §4.6's "send_response
// returns zero" case — the worker's caller maps ErrTimeout to the
// deadline-exceeded signal).
func Send(path string, payload []byte, maxSize int, deadline time.Time) error {
	declared := len(payload)
	if maxSize >= 0 && declared > maxSize {
		declared = maxSize
	}
	payload = payload[:declared]

	fd, err := unix.Open(path, unix.O_WRONLY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return ErrPipeFailure
	}
	defer unix.Close(fd)

	header := make([]byte, lengthPrefixSize)
	binary.LittleEndian.PutUint64(header, uint64(declared))
	if err := writeFull(fd, header, deadline); err != nil {
		return err
	}
	return writeFull(fd, payload, deadline)
}

func writeFull(fd int, b []byte, deadline time.Time) error {
	for len(b) > 0 {
		timeoutMS := -1
		if !deadline.IsZero() {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return ErrTimeout
			}
			timeoutMS = int(remaining / time.Millisecond)
			if timeoutMS == 0 {
				timeoutMS = 1
			}
		}

		fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLOUT}}
		ready, perr := unix.Poll(fds, timeoutMS)
		if perr != nil {
			if perr == unix.EINTR {
				continue
			}
			return ErrPipeFailure
		}
		if ready == 0 {
			return ErrTimeout
		}

		n, err := unix.Write(fd, b)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EINTR {
				continue
			}
			return ErrPipeFailure
		}
		b = b[n:]
	}
	return nil
}

// Receive reads a full response with a deadline, per spec §4.3's three
// return classes: (payload, nil) on success, (nil, ErrTimeout) if the
// deadline elapses before the full payload arrives, (nil, err) on I/O
// error.
func (p *ResponsePipe) Receive(timeout time.Duration) ([]byte, error) {
	deadline := time.Now().Add(timeout)
	if timeout <= 0 {
		deadline = time.Time{}
	}

	header, err := p.readN(lengthPrefixSize, deadline)
	if err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint64(header)

	payload, err := p.readN(int(n), deadline)
	if err != nil {
		return nil, err
	}
	return payload, nil
}

func (p *ResponsePipe) readN(n int, deadline time.Time) ([]byte, error) {
	buf := make([]byte, n)
	total := 0
	for total < n {
		timeoutMS := -1
		if !deadline.IsZero() {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return nil, ErrTimeout
			}
			timeoutMS = int(remaining / time.Millisecond)
			if timeoutMS == 0 {
				timeoutMS = 1
			}
		}

		fds := []unix.PollFd{{Fd: int32(p.fd), Events: unix.POLLIN}}
		ready, perr := unix.Poll(fds, timeoutMS)
		if perr != nil {
			if perr == unix.EINTR {
				continue
			}
			return nil, ErrPipeFailure
		}
		if ready == 0 {
			return nil, ErrTimeout
		}

		read, rerr := unix.Read(p.fd, buf[total:])
		if rerr != nil {
			if rerr == unix.EAGAIN || rerr == unix.EINTR {
				continue
			}
			return nil, ErrPipeFailure
		}
		total += read
	}
	return buf, nil
}

// Close closes this end of the pipe.
func (p *ResponsePipe) Close() error {
	if err := unix.Close(p.fd); err != nil {
		return ErrPipeFailure
	}
	return nil
}

// Remove deletes the backing FIFO. The client removes it on exit (spec §6).
func (p *ResponsePipe) Remove() error {
	if err := os.Remove(p.path); err != nil && !os.IsNotExist(err) {
		return ErrPipeFailure
	}
	return nil
}

// Path returns the filesystem path backing this pipe.
func (p *ResponsePipe) Path() string { return p.path }
