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
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// MasterMutex is the named cross-process mutex used for master election.
// It is realized as a lock file next to the ring files: the peer that
// creates the file and takes the flock is the master; everyone else
// observes an existing file and becomes a slave.
type MasterMutex struct {
	file   *os.File
	path   string
	locked bool
}

const mutexRetryInterval = 5 * time.Millisecond

// AcquireMasterMutex opens or creates the named mutex and reports whether
// the caller won the election: it observed "newly created" and acquired
// the lock within timeout.
func AcquireMasterMutex(name string, timeout time.Duration) (*MasterMutex, bool, error) {
	path := SegmentPath(name)

	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0600)
	created := err == nil
	if !created {
		if !os.IsExist(err) {
			return nil, false, fmt.Errorf("failed to create mutex file %s: %w", path, err)
		}
		file, err = os.OpenFile(path, os.O_RDWR, 0)
		if err != nil {
			return nil, false, fmt.Errorf("failed to open mutex file %s: %w", path, err)
		}
	}

	m := &MasterMutex{file: file, path: path}

	if !created {
		// Existing file means another peer already elected itself master.
		return m, false, nil
	}

	deadline := time.Now().Add(timeout)
	for {
		err := unix.Flock(int(file.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			m.locked = true
			return m, true, nil
		}
		if err != unix.EWOULDBLOCK {
			m.close()
			return nil, false, fmt.Errorf("failed to lock mutex file %s: %w", path, err)
		}
		if time.Now().After(deadline) {
			// Created the file but someone else holds the lock; fall
			// back to the slave role.
			return m, false, nil
		}
		time.Sleep(mutexRetryInterval)
	}
}

// Release unlocks and, if this peer held the lock, removes the file so the
// next channel construction can elect a fresh master.
func (m *MasterMutex) Release() error {
	if m == nil || m.file == nil {
		return nil
	}
	var firstErr error
	if m.locked {
		if err := unix.Flock(int(m.file.Fd()), unix.LOCK_UN); err != nil {
			firstErr = err
		}
		if err := os.Remove(m.path); err != nil && !os.IsNotExist(err) && firstErr == nil {
			firstErr = err
		}
		m.locked = false
	}
	if err := m.close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func (m *MasterMutex) close() error {
	if m.file == nil {
		return nil
	}
	err := m.file.Close()
	m.file = nil
	return err
}
