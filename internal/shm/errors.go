package shm

import "errors"

// ErrShuttingDown indicates the ring's shutdown flag is set; further
// reads and writes are refused.
var ErrShuttingDown = errors.New("ring: shutting down")

// ErrTimeout is returned by Read/Write when the caller's timeout elapses
// before a slot becomes available.
var ErrTimeout = errors.New("ring: timeout")

// ErrFutexTimeout is returned by futexWaitTimeout when the wait times out.
var ErrFutexTimeout = errors.New("futex timeout")

// ErrPlatformNotSupported is returned on platforms without shared-memory
// futex support.
var ErrPlatformNotSupported = errors.New("shm: platform not supported")
