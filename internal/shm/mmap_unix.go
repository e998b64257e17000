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

	"golang.org/x/sys/unix"
)

// CreateSegment creates and initializes a new ring file with the given
// geometry. Fails if the file already exists.
func CreateSegment(name string, slotSize, nodeCount uint32) (*Segment, error) {
	path := SegmentPath(name)

	totalSize, err := CalculateSegmentSize(slotSize, nodeCount)
	if err != nil {
		return nil, fmt.Errorf("segment layout: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to create segment file %s: %w", path, err)
	}

	cleanup := func() {
		file.Close()
		os.Remove(path)
	}

	if err := file.Truncate(int64(totalSize)); err != nil {
		cleanup()
		return nil, fmt.Errorf("failed to resize segment file: %w", err)
	}

	mem, err := mmapFile(file, int(totalSize))
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("failed to mmap segment: %w", err)
	}

	seg := &Segment{File: file, Mem: mem, Path: path}

	hdr := seg.Header()
	copy(hdr.magic[:], SegmentMagic)
	hdr.SetVersion(SegmentVersion)
	hdr.SetTotalSize(totalSize)
	hdr.SetSlotSize(slotSize)
	hdr.SetNodeCount(nodeCount)
	hdr.SetCreatorPID(uint32(os.Getpid()))

	ring := seg.Ring()
	ring.SetWriteIndex(0)
	ring.SetReadIndex(0)
	ring.SetShuttingDown(false)

	// Publish last so openers never observe a half-initialized header.
	hdr.SetReady(true)

	return seg, nil
}

// OpenSegment maps an existing ring file created by the other peer.
func OpenSegment(name string) (*Segment, error) {
	path := SegmentPath(name)

	file, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open segment file %s: %w", path, err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to stat segment file: %w", err)
	}

	size := info.Size()
	if size < SegmentHeaderSize+RingHeaderSize {
		file.Close()
		return nil, fmt.Errorf("segment file too small: %d bytes", size)
	}

	mem, err := mmapFile(file, int(size))
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to mmap segment: %w", err)
	}

	seg := &Segment{File: file, Mem: mem, Path: path}

	hdr := seg.Header()
	if !hdr.Ready() {
		seg.Close()
		return nil, fmt.Errorf("segment %s not yet initialized", name)
	}
	if err := ValidateSegmentHeader(hdr); err != nil {
		seg.Close()
		return nil, fmt.Errorf("invalid segment header: %w", err)
	}
	if uint64(size) != hdr.TotalSize() {
		seg.Close()
		return nil, fmt.Errorf("segment file size %d does not match header %d", size, hdr.TotalSize())
	}

	return seg, nil
}

// mmapFile memory maps a file
func mmapFile(file *os.File, size int) ([]byte, error) {
	data, err := unix.Mmap(int(file.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap failed: %w", err)
	}
	return data, nil
}

// unmapMemory unmaps a memory-mapped region
func unmapMemory(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if err := unix.Munmap(data); err != nil {
		return fmt.Errorf("munmap failed: %w", err)
	}
	return nil
}
