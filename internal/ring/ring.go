package ring

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

const (
	// MaxPathLength bounds request_pipe_path/response_pipe_path the way the
	// original bounds them by NAME_MAX.
	MaxPathLength = 255

	recordSize = MaxPathLength + 1 + MaxPathLength + 1 + 4 + 4
	headerSize = 4 + 4 + 4 + 4 + 4 // magic, capacity, head, tail, length

	ringMagic uint32 = 0x53484d31 // "SHM1"
)

// AdmissionRecord is the in-process form of the admission record (spec §3).
// Its path fields are Go strings; only the marshalled slot in shared memory
// has the fixed, pointer-free layout (two bounded, zero-terminated byte
// arrays plus two little-endian uint32s), written by marshal and read back
// by unmarshalRecord.
type AdmissionRecord struct {
	RequestPipe  string
	ResponsePipe string
	ClientPID    uint32
	ClientUID    uint32
}

func (r AdmissionRecord) marshal(buf []byte) error {
	if len(r.RequestPipe) > MaxPathLength || len(r.ResponsePipe) > MaxPathLength {
		return ErrInvalidArgument
	}
	for i := range buf[:recordSize] {
		buf[i] = 0
	}
	copy(buf[0:MaxPathLength], r.RequestPipe)
	copy(buf[MaxPathLength+1:2*(MaxPathLength+1)], r.ResponsePipe)
	off := 2 * (MaxPathLength + 1)
	binary.LittleEndian.PutUint32(buf[off:], r.ClientPID)
	binary.LittleEndian.PutUint32(buf[off+4:], r.ClientUID)
	return nil
}

func unmarshalRecord(buf []byte) AdmissionRecord {
	reqPipe := cString(buf[0 : MaxPathLength+1])
	resPipe := cString(buf[MaxPathLength+1 : 2*(MaxPathLength+1)])
	off := 2 * (MaxPathLength + 1)
	return AdmissionRecord{
		RequestPipe:  reqPipe,
		ResponsePipe: resPipe,
		ClientPID:    binary.LittleEndian.Uint32(buf[off:]),
		ClientUID:    binary.LittleEndian.Uint32(buf[off+4:]),
	}
}

func cString(b []byte) string {
	if i := strings.IndexByte(string(b), 0); i >= 0 {
		return string(b[:i])
	}
	return string(b)
}

// Ring is the bounded shared-memory admission queue (C1): a header followed
// by an inline array of AdmissionRecord slots, synchronised by three
// counting semaphores (mutex/empty/full) per spec §3/§4.1.
type Ring struct {
	capacity int
	file     *os.File
	data     []byte

	mutex *semaphore
	empty *semaphore
	full  *semaphore

	owner bool
	dir   string
	name  string
}

func shmPath(dir, name string) string {
	return filepath.Join(dir, strings.TrimPrefix(name, "/"))
}

func semPaths(dir, name string) (mutex, empty, full string) {
	base := shmPath(dir, name)
	return base + ".mutex", base + ".empty", base + ".full"
}

// New creates the shared region under a fixed, well-known name. Fails with
// ErrAlreadyInUse if the name is already taken — this prevents two servers
// from colliding, exactly as spec §4.1 requires.
func New(dir, name string, capacity int) (*Ring, error) {
	if capacity < 1 {
		return nil, ErrInvalidArgument
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, ErrSharedMemoryFailure
	}

	path := shmPath(dir, name)
	size := headerSize + capacity*recordSize

	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CREAT|unix.O_EXCL, 0o600)
	if err != nil {
		if err == unix.EEXIST {
			return nil, ErrAlreadyInUse
		}
		return nil, ErrSharedMemoryFailure
	}
	file := os.NewFile(uintptr(fd), path)

	cleanup := func() {
		_ = file.Close()
		_ = os.Remove(path)
	}

	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		cleanup()
		return nil, ErrSharedMemoryFailure
	}

	data, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		cleanup()
		return nil, ErrSharedMemoryFailure
	}

	binary.LittleEndian.PutUint32(data[0:], ringMagic)
	binary.LittleEndian.PutUint32(data[4:], uint32(capacity))
	binary.LittleEndian.PutUint32(data[8:], 0)  // head
	binary.LittleEndian.PutUint32(data[12:], 0) // tail
	binary.LittleEndian.PutUint32(data[16:], 0) // length

	mutexPath, emptyPath, fullPath := semPaths(dir, name)
	mutex, err := createSemaphore(mutexPath, 1)
	if err != nil {
		_ = unix.Munmap(data)
		cleanup()
		return nil, err
	}
	empty, err := createSemaphore(emptyPath, capacity)
	if err != nil {
		_ = mutex.close()
		_ = mutex.unlink()
		_ = unix.Munmap(data)
		cleanup()
		return nil, err
	}
	full, err := createSemaphore(fullPath, 0)
	if err != nil {
		_ = mutex.close()
		_ = mutex.unlink()
		_ = empty.close()
		_ = empty.unlink()
		_ = unix.Munmap(data)
		cleanup()
		return nil, err
	}

	return &Ring{
		capacity: capacity,
		file:     file,
		data:     data,
		mutex:    mutex,
		empty:    empty,
		full:     full,
		owner:    true,
		dir:      dir,
		name:     name,
	}, nil
}

// Open attaches to an existing ring created by New, without taking
// ownership of its lifetime. Detach is a memory-unmap only — the client
// never unlinks the name (spec §4.1).
func Open(dir, name string) (*Ring, error) {
	path := shmPath(dir, name)

	fd, err := unix.Open(path, unix.O_RDWR, 0)
	if err != nil {
		return nil, ErrSharedMemoryFailure
	}
	file := os.NewFile(uintptr(fd), path)

	// First map only the header to learn capacity (spec §4.1).
	header, err := unix.Mmap(fd, 0, headerSize, unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		_ = file.Close()
		return nil, ErrSharedMemoryFailure
	}
	if binary.LittleEndian.Uint32(header[0:]) != ringMagic {
		_ = unix.Munmap(header)
		_ = file.Close()
		return nil, ErrSharedMemoryFailure
	}
	capacity := int(binary.LittleEndian.Uint32(header[4:]))
	_ = unix.Munmap(header)

	size := headerSize + capacity*recordSize
	data, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		_ = file.Close()
		return nil, ErrSharedMemoryFailure
	}

	mutexPath, emptyPath, fullPath := semPaths(dir, name)
	mutex, err := openSemaphore(mutexPath)
	if err != nil {
		_ = unix.Munmap(data)
		_ = file.Close()
		return nil, err
	}
	empty, err := openSemaphore(emptyPath)
	if err != nil {
		_ = mutex.close()
		_ = unix.Munmap(data)
		_ = file.Close()
		return nil, err
	}
	full, err := openSemaphore(fullPath)
	if err != nil {
		_ = mutex.close()
		_ = empty.close()
		_ = unix.Munmap(data)
		_ = file.Close()
		return nil, err
	}

	return &Ring{
		capacity: capacity,
		file:     file,
		data:     data,
		mutex:    mutex,
		empty:    empty,
		full:     full,
		owner:    false,
		dir:      dir,
		name:     name,
	}, nil
}

// Capacity returns the ring's immutable slot count.
func (r *Ring) Capacity() int { return r.capacity }

// Length reports the current occupancy. Only meaningful as an
// approximation outside the critical section; exposed for tests and
// diagnostics.
func (r *Ring) Length() int {
	return int(binary.LittleEndian.Uint32(r.data[16:]))
}

func (r *Ring) slot(i int) []byte {
	off := headerSize + i*recordSize
	return r.data[off : off+recordSize]
}

// Send is the producer side (send_shm_request): acquire empty, then mutex,
// copy the record into the head slot, advance head, release mutex then
// full. A zero deadline blocks until a slot frees up (client default is 5s,
// applied by the caller); a non-zero deadline returns ErrServerBusy on
// expiry without mutating the ring.
func (r *Ring) Send(rec AdmissionRecord, deadline time.Time) error {
	if err := r.empty.wait(deadline); err != nil {
		return err
	}
	if err := r.mutex.wait(time.Time{}); err != nil {
		// Undo the empty token we just took so the slot count stays correct.
		_ = r.empty.post()
		return err
	}

	head := binary.LittleEndian.Uint32(r.data[8:])
	length := binary.LittleEndian.Uint32(r.data[16:])

	if err := rec.marshal(r.slot(int(head))); err != nil {
		_ = r.mutex.post()
		_ = r.empty.post()
		return err
	}
	binary.LittleEndian.PutUint32(r.data[8:], (head+1)%uint32(r.capacity))
	binary.LittleEndian.PutUint32(r.data[16:], length+1)

	if err := r.mutex.post(); err != nil {
		return err
	}
	return r.full.post()
}

// Fetch is the consumer side (fetch_shm_request): acquire full, then mutex,
// apply the handler to the tail slot before tail advances, then release
// mutex then empty. Blocks indefinitely on full — admission is not
// latency-critical (spec §4.1 rationale).
func (r *Ring) Fetch(apply func(AdmissionRecord) error) error {
	return r.fetch(apply, time.Time{})
}

// FetchTimeout is Fetch with a bounded wait on full, so a consumer loop can
// poll for shutdown between admissions instead of blocking forever (spec
// §4.6's dispatcher main loop, adapted so a Go context can interrupt it).
// Expiry returns ErrServerBusy without mutating the ring, exactly like
// Send's deadline case.
func (r *Ring) FetchTimeout(apply func(AdmissionRecord) error, deadline time.Time) error {
	return r.fetch(apply, deadline)
}

func (r *Ring) fetch(apply func(AdmissionRecord) error, deadline time.Time) error {
	if apply == nil {
		return ErrInvalidArgument
	}
	if err := r.full.wait(deadline); err != nil {
		return err
	}
	if err := r.mutex.wait(time.Time{}); err != nil {
		_ = r.full.post()
		return err
	}

	tail := binary.LittleEndian.Uint32(r.data[12:])
	length := binary.LittleEndian.Uint32(r.data[16:])
	rec := unmarshalRecord(r.slot(int(tail)))

	applyErr := apply(rec)

	binary.LittleEndian.PutUint32(r.data[12:], (tail+1)%uint32(r.capacity))
	binary.LittleEndian.PutUint32(r.data[16:], length-1)

	if err := r.mutex.post(); err != nil {
		return err
	}
	if err := r.empty.post(); err != nil {
		return err
	}
	return applyErr
}

// Close detaches this handle (memory-unmap only). The client never unlinks
// the shared name (spec §4.1).
func (r *Ring) Close() error {
	_ = r.mutex.close()
	_ = r.empty.close()
	_ = r.full.close()
	if err := unix.Munmap(r.data); err != nil {
		return ErrSharedMemoryFailure
	}
	return r.file.Close()
}

// Destroy is free_server_queue: acquire mutex (guarantees no producer or
// consumer is mid-update), close the descriptor, unmap, unlink the shared
// name. Idempotent across restart — an already-absent name is not an
// error.
func (r *Ring) Destroy() error {
	_ = r.mutex.wait(time.Time{})

	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	record(unix.Munmap(r.data))
	record(r.file.Close())
	record(r.mutex.close())
	record(r.mutex.unlink())
	record(r.empty.close())
	record(r.empty.unlink())
	record(r.full.close())
	record(r.full.unlink())

	path := shmPath(r.dir, r.name)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		record(ErrSharedMemoryFailure)
	}

	if firstErr != nil {
		return firstErr
	}
	return nil
}
