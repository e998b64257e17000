//go:build linux && (amd64 || arm64)

/*
 * Copyright 2026 The SharedMemory Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package shm

import (
	"fmt"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

// The sequence words live in memory shared between two processes, so the
// non-private futex operations are required (FUTEX_PRIVATE_FLAG is only
// valid within a single address space).
const (
	futexOpWait = 0 // FUTEX_WAIT
	futexOpWake = 1 // FUTEX_WAKE
)

// futexWaitTimeout waits on addr until the value changes from val or the
// timeout elapses. timeoutNs <= 0 means wait indefinitely.
//
// Callers must re-check their logical condition after this returns:
// spurious wakeups and EINTR are reported as success.
func futexWaitTimeout(addr *uint32, val uint32, timeoutNs int64) error {
	// Re-check the value atomically before entering the syscall. This
	// closes the lost-wake race where the other side increments the
	// sequence and wakes between our snapshot and futex entry.
	if atomic.LoadUint32(addr) != val {
		return nil
	}

	var errno unix.Errno
	if timeoutNs > 0 {
		ts := unix.NsecToTimespec(timeoutNs)
		_, _, errno = unix.Syscall6(
			unix.SYS_FUTEX,
			uintptr(unsafe.Pointer(addr)),
			uintptr(futexOpWait),
			uintptr(val),
			uintptr(unsafe.Pointer(&ts)),
			0,
			0,
		)
	} else {
		_, _, errno = unix.Syscall6(
			unix.SYS_FUTEX,
			uintptr(unsafe.Pointer(addr)),
			uintptr(futexOpWait),
			uintptr(val),
			0,
			0,
			0,
		)
	}

	switch errno {
	case 0:
		return nil
	case unix.EAGAIN:
		// Value no longer matched - the condition may already hold.
		return nil
	case unix.EINTR:
		return nil
	case unix.ETIMEDOUT:
		return ErrFutexTimeout
	default:
		return fmt.Errorf("futex wait failed: %w", errno)
	}
}

// futexWake wakes up to n waiters blocked on addr.
func futexWake(addr *uint32, n int) (int, error) {
	r1, _, errno := unix.Syscall6(
		unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)),
		uintptr(futexOpWake),
		uintptr(n),
		0,
		0,
		0,
	)
	if errno != 0 {
		return 0, fmt.Errorf("futex wake failed: %w", errno)
	}
	return int(r1), nil
}
