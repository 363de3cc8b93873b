package pipeproto

import (
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// MaxCommandLength bounds the command string per spec §3/§6: the frame is
// MaxCommandLength+1 bytes, zero-terminated.
const MaxCommandLength = 256

const requestFrameSize = MaxCommandLength + 1

// ExitSentinel ends a session normally (spec §4.2). The substrate does not
// interpret any other command text.
const ExitSentinel = "exit"

// RequestPipe is the unidirectional fixed-frame channel carrying one
// command string per frame (C2).
type RequestPipe struct {
	path string
	fd   int
}

// CreateRequestPipe makes the backing FIFO. The client creates and owns
// this file (spec §4.2).
func CreateRequestPipe(path string) (*RequestPipe, error) {
	if err := unix.Mkfifo(path, 0o600); err != nil && err != unix.EEXIST {
		return nil, ErrPipeFailure
	}
	return &RequestPipe{path: path}, nil
}

// OpenRequestPipeForRead opens the server's read end and keeps it open for
// the lifetime of the session. It opens O_RDWR rather than O_RDONLY so the
// server always holds a writer reference to its own FIFO: without that, the
// moment the client's per-send writer closes, any reader with no other
// writer attached would observe EOF instead of blocking for the next
// frame. Holding a self-write reference keeps the pipe EOF-free between
// messages (spec §4.2).
func OpenRequestPipeForRead(path string) (*RequestPipe, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, ErrPipeFailure
	}
	return &RequestPipe{path: path, fd: fd}, nil
}

// Send writes one frame within the deadline. The client re-opens the pipe
// for write on each send (spec §4.2). Expiry returns ErrTimeout.
func (p *RequestPipe) Send(cmd string, deadline time.Time) error {
	if len(cmd) > MaxCommandLength {
		cmd = cmd[:MaxCommandLength]
	}

	fd, err := unix.Open(p.path, unix.O_WRONLY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return ErrPipeFailure
	}
	defer unix.Close(fd)

	timeoutMS := -1
	if !deadline.IsZero() {
		timeoutMS = int(time.Until(deadline) / time.Millisecond)
		if timeoutMS <= 0 {
			return ErrTimeout
		}
	}

	frame := make([]byte, requestFrameSize)
	copy(frame, cmd)

	for len(frame) > 0 {
		fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLOUT}}
		n, perr := unix.Poll(fds, timeoutMS)
		if perr != nil {
			if perr == unix.EINTR {
				continue
			}
			return ErrPipeFailure
		}
		if n == 0 {
			return ErrTimeout
		}

		written, werr := unix.Write(fd, frame)
		if werr != nil {
			if werr == unix.EAGAIN || werr == unix.EINTR {
				continue
			}
			return ErrPipeFailure
		}
		frame = frame[written:]
	}
	return nil
}

// Receive reads exactly one frame, blocking until the client writes or the
// session ends. Request reads have no timeout (spec §5): a worker waits
// until the client sends or closes.
func (p *RequestPipe) Receive() (string, error) {
	frame := make([]byte, requestFrameSize)
	total := 0
	for total < requestFrameSize {
		n, err := unix.Read(p.fd, frame[total:])
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return "", ErrPipeFailure
		}
		if n == 0 {
			// The server always holds its own write reference (see
			// OpenRequestPipeForRead), so a genuine EOF here means the
			// pipe was closed out from under us.
			return "", ErrPipeFailure
		}
		total += n
	}
	return cString(frame), nil
}

func cString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

// Close closes this end of the pipe.
func (p *RequestPipe) Close() error {
	if p.fd == 0 {
		return nil
	}
	if err := unix.Close(p.fd); err != nil {
		return ErrPipeFailure
	}
	return nil
}

// Remove deletes the backing FIFO. The client removes it on exit
// (spec §6).
func (p *RequestPipe) Remove() error {
	if err := os.Remove(p.path); err != nil && !os.IsNotExist(err) {
		return ErrPipeFailure
	}
	return nil
}

// Path returns the filesystem path backing this pipe.
func (p *RequestPipe) Path() string { return p.path }
