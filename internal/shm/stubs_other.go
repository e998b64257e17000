//go:build !(linux && (amd64 || arm64))

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

import "time"

// Stub implementations for unsupported platforms. The shared-memory
// transport requires Linux futexes on a little-endian 64-bit host.

func CreateSegment(name string, slotSize, nodeCount uint32) (*Segment, error) {
	return nil, ErrPlatformNotSupported
}

func OpenSegment(name string) (*Segment, error) {
	return nil, ErrPlatformNotSupported
}

func unmapMemory(data []byte) error {
	return ErrPlatformNotSupported
}

func futexWaitTimeout(addr *uint32, val uint32, timeoutNs int64) error {
	return ErrPlatformNotSupported
}

func futexWake(addr *uint32, n int) (int, error) {
	return 0, ErrPlatformNotSupported
}

type MasterMutex struct{}

func AcquireMasterMutex(name string, timeout time.Duration) (*MasterMutex, bool, error) {
	return nil, false, ErrPlatformNotSupported
}

func (m *MasterMutex) Release() error {
	return ErrPlatformNotSupported
}
