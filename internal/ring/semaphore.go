package ring

import (
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// semaphore is a counting semaphore shared across unrelated processes,
// built on a named pipe instead of POSIX sem_t. sem_init's
// PTHREAD_PROCESS_SHARED attribute has no reachable equivalent from pure Go
// (it requires cgo), so the token count is carried by the pipe's own kernel
// buffer: posting writes one byte, waiting reads one byte. Blocking and
// deadline semantics fall out of ordinary pipe read/write behaviour. See
// DESIGN.md "Open Question decisions" #1.
type semaphore struct {
	path string
	fd   int
}

// createSemaphore makes the backing FIFO and primes it with `initial`
// tokens. Fails with ErrAlreadyInUse if the path already exists.
func createSemaphore(path string, initial int) (*semaphore, error) {
	if err := unix.Mkfifo(path, 0o600); err != nil {
		if err == unix.EEXIST {
			return nil, ErrAlreadyInUse
		}
		return nil, ErrSharedMemoryFailure
	}
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		_ = os.Remove(path)
		return nil, ErrSharedMemoryFailure
	}
	s := &semaphore{path: path, fd: fd}
	if initial > 0 {
		tokens := make([]byte, initial)
		if err := writeAll(fd, tokens); err != nil {
			_ = unix.Close(fd)
			_ = os.Remove(path)
			return nil, ErrSemaphoreFailure
		}
	}
	return s, nil
}

// openSemaphore attaches to an existing FIFO without altering its token
// count.
func openSemaphore(path string) (*semaphore, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, ErrSharedMemoryFailure
	}
	return &semaphore{path: path, fd: fd}, nil
}

// wait blocks until a token is available, or until deadline elapses (zero
// deadline means wait forever). Returns ErrServerBusy on timeout,
// ErrInterrupted if a signal interrupted the wait.
func (s *semaphore) wait(deadline time.Time) error {
	timeoutMS := -1
	if !deadline.IsZero() {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return ErrServerBusy
		}
		timeoutMS = int(remaining / time.Millisecond)
		if timeoutMS == 0 {
			timeoutMS = 1
		}
	}

	fds := []unix.PollFd{{Fd: int32(s.fd), Events: unix.POLLIN}}
	n, err := unix.Poll(fds, timeoutMS)
	if err != nil {
		if err == unix.EINTR {
			return ErrInterrupted
		}
		return ErrSemaphoreFailure
	}
	if n == 0 {
		return ErrServerBusy
	}

	var b [1]byte
	for {
		nread, err := unix.Read(s.fd, b[:])
		if err != nil {
			if err == unix.EINTR {
				return ErrInterrupted
			}
			if err == unix.EAGAIN {
				// Another waiter won the race for the token that made us
				// readable; go back and poll again.
				return s.wait(deadline)
			}
			return ErrSemaphoreFailure
		}
		if nread == 1 {
			return nil
		}
	}
}

// post returns one token to the semaphore.
func (s *semaphore) post() error {
	var b [1]byte
	if err := writeAll(s.fd, b[:]); err != nil {
		if err == unix.EINTR {
			return ErrInterrupted
		}
		return ErrSemaphoreFailure
	}
	return nil
}

func (s *semaphore) close() error {
	if err := unix.Close(s.fd); err != nil {
		return ErrSharedMemoryFailure
	}
	return nil
}

func (s *semaphore) unlink() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return ErrSharedMemoryFailure
	}
	return nil
}

func writeAll(fd int, b []byte) error {
	for len(b) > 0 {
		n, err := unix.Write(fd, b)
		if err != nil {
			return err
		}
		b = b[n:]
	}
	return nil
}
