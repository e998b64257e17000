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
	"path/filepath"
	"sync/atomic"
	"unsafe"
)

// Memory layout constants
const (
	// Magic bytes for segment identification
	SegmentMagic = "SHMRPCB\x00"

	// Current segment format version
	SegmentVersion = uint32(1)

	// Segment header size (aligned to 128 bytes)
	SegmentHeaderSize = 128

	// Ring header size (aligned to 64 bytes)
	RingHeaderSize = 64
)

// SegmentHeader is the fixed header at offset 0 of every mapped ring file.
// Layout is 128 bytes; both peers must agree on it bit-for-bit.
type SegmentHeader struct {
	magic      [8]byte  // 0x00: "SHMRPCB\0"
	version    uint32   // 0x08: segment format version
	flags      uint32   // 0x0C: reserved flags
	totalSize  uint64   // 0x10: total file size in bytes
	slotSize   uint32   // 0x18: bytes per slot
	nodeCount  uint32   // 0x1C: number of slots
	creatorPID uint32   // 0x20: PID of the creating process
	ready      uint32   // 0x24: creator finished initialization (0->1)
	reserved   [88]byte // 0x28-0x7F: padding to 128B
}

// Version returns the segment format version
func (h *SegmentHeader) Version() uint32 {
	return atomic.LoadUint32(&h.version)
}

// SetVersion sets the segment format version
func (h *SegmentHeader) SetVersion(version uint32) {
	atomic.StoreUint32(&h.version, version)
}

// TotalSize returns the total file size
func (h *SegmentHeader) TotalSize() uint64 {
	return atomic.LoadUint64(&h.totalSize)
}

// SetTotalSize sets the total file size
func (h *SegmentHeader) SetTotalSize(size uint64) {
	atomic.StoreUint64(&h.totalSize, size)
}

// SlotSize returns the per-slot byte size
func (h *SegmentHeader) SlotSize() uint32 {
	return atomic.LoadUint32(&h.slotSize)
}

// SetSlotSize sets the per-slot byte size
func (h *SegmentHeader) SetSlotSize(size uint32) {
	atomic.StoreUint32(&h.slotSize, size)
}

// NodeCount returns the number of slots in the ring
func (h *SegmentHeader) NodeCount() uint32 {
	return atomic.LoadUint32(&h.nodeCount)
}

// SetNodeCount sets the number of slots in the ring
func (h *SegmentHeader) SetNodeCount(count uint32) {
	atomic.StoreUint32(&h.nodeCount, count)
}

// CreatorPID returns the PID of the creating process
func (h *SegmentHeader) CreatorPID() uint32 {
	return atomic.LoadUint32(&h.creatorPID)
}

// SetCreatorPID sets the PID of the creating process
func (h *SegmentHeader) SetCreatorPID(pid uint32) {
	atomic.StoreUint32(&h.creatorPID, pid)
}

// Ready returns the creator-initialized flag
func (h *SegmentHeader) Ready() bool {
	return atomic.LoadUint32(&h.ready) != 0
}

// SetReady sets the creator-initialized flag
func (h *SegmentHeader) SetReady(ready bool) {
	var val uint32
	if ready {
		val = 1
	}
	atomic.StoreUint32(&h.ready, val)
}

// RingHeader holds the ring cursors and futex words. It sits immediately
// after the segment header; the slot data area follows it. Indices count
// slots, not bytes, and grow monotonically.
type RingHeader struct {
	widx         uint64   // 0x00: monotonic write index (producer)
	ridx         uint64   // 0x08: monotonic read index (consumer)
	dataSeq      uint32   // 0x10: data sequence for futex (producer increments)
	spaceSeq     uint32   // 0x14: space sequence for futex (consumer increments)
	shuttingDown uint32   // 0x18: shutdown flag (either peer sets to 1)
	pad          uint32   // 0x1C: padding
	reserved     [32]byte // 0x20-0x3F: padding to 64B
}

// WriteIndex returns the monotonic slot write index
func (r *RingHeader) WriteIndex() uint64 {
	return atomic.LoadUint64(&r.widx)
}

// SetWriteIndex sets the monotonic slot write index
func (r *RingHeader) SetWriteIndex(idx uint64) {
	atomic.StoreUint64(&r.widx, idx)
}

// ReadIndex returns the monotonic slot read index
func (r *RingHeader) ReadIndex() uint64 {
	return atomic.LoadUint64(&r.ridx)
}

// SetReadIndex sets the monotonic slot read index
func (r *RingHeader) SetReadIndex(idx uint64) {
	atomic.StoreUint64(&r.ridx, idx)
}

// DataSequence returns the data sequence number for futex
func (r *RingHeader) DataSequence() uint32 {
	return atomic.LoadUint32(&r.dataSeq)
}

// IncrementDataSequence atomically increments the data sequence
func (r *RingHeader) IncrementDataSequence() uint32 {
	return atomic.AddUint32(&r.dataSeq, 1)
}

// SpaceSequence returns the space sequence number for futex
func (r *RingHeader) SpaceSequence() uint32 {
	return atomic.LoadUint32(&r.spaceSeq)
}

// IncrementSpaceSequence atomically increments the space sequence
func (r *RingHeader) IncrementSpaceSequence() uint32 {
	return atomic.AddUint32(&r.spaceSeq, 1)
}

// ShuttingDown returns the shutdown flag
func (r *RingHeader) ShuttingDown() bool {
	return atomic.LoadUint32(&r.shuttingDown) != 0
}

// SetShuttingDown sets the shutdown flag
func (r *RingHeader) SetShuttingDown(down bool) {
	var val uint32
	if down {
		val = 1
	}
	atomic.StoreUint32(&r.shuttingDown, val)
}

// Used returns the number of slots currently occupied
func (r *RingHeader) Used() uint64 {
	w := atomic.LoadUint64(&r.widx)
	rd := atomic.LoadUint64(&r.ridx)
	return w - rd // uint64 arithmetic handles wrap-around
}

// Segment represents one mapped ring file.
type Segment struct {
	File *os.File // File descriptor for the shared memory file
	Mem  []byte   // Memory-mapped region
	Path string   // File path
}

// Header returns a typed view of the segment header.
func (s *Segment) Header() *SegmentHeader {
	return (*SegmentHeader)(unsafe.Pointer(&s.Mem[0]))
}

// Ring returns a typed view of the ring header.
func (s *Segment) Ring() *RingHeader {
	return (*RingHeader)(unsafe.Pointer(uintptr(unsafe.Pointer(&s.Mem[0])) + SegmentHeaderSize))
}

// Data returns the slot data area.
func (s *Segment) Data() []byte {
	return s.Mem[SegmentHeaderSize+RingHeaderSize:]
}

// Close unmaps the memory and closes the file
func (s *Segment) Close() error {
	var firstErr error

	if s.Mem != nil {
		if err := unmapMemory(s.Mem); err != nil && firstErr == nil {
			firstErr = err
		}
		s.Mem = nil
	}

	if s.File != nil {
		if err := s.File.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		s.File = nil
	}

	return firstErr
}

// Unlink removes the backing file.
func (s *Segment) Unlink() error {
	if s.Path == "" {
		return nil
	}
	return os.Remove(s.Path)
}

// CalculateSegmentSize returns the total file size for the given geometry.
func CalculateSegmentSize(slotSize, nodeCount uint32) (uint64, error) {
	if slotSize == 0 {
		return 0, fmt.Errorf("slot size must be positive")
	}
	if nodeCount == 0 {
		return 0, fmt.Errorf("node count must be positive")
	}
	return SegmentHeaderSize + RingHeaderSize + uint64(slotSize)*uint64(nodeCount), nil
}

// ValidateSegmentHeader validates a mapped header for consistency
func ValidateSegmentHeader(h *SegmentHeader) error {
	if string(h.magic[:]) != SegmentMagic {
		return fmt.Errorf("invalid magic bytes")
	}
	if h.Version() != SegmentVersion {
		return fmt.Errorf("unsupported version %d, expected %d", h.Version(), SegmentVersion)
	}
	expected, err := CalculateSegmentSize(h.SlotSize(), h.NodeCount())
	if err != nil {
		return err
	}
	if h.TotalSize() != expected {
		return fmt.Errorf("total size mismatch: got %d, expected %d", h.TotalSize(), expected)
	}
	return nil
}

// SegmentPath returns the file path backing a named ring.
func SegmentPath(name string) string {
	if isDevShmAvailable() {
		return filepath.Join("/dev/shm", name)
	}
	return filepath.Join(os.TempDir(), name)
}

// isDevShmAvailable checks if /dev/shm is available
func isDevShmAvailable() bool {
	info, err := os.Stat("/dev/shm")
	if err != nil {
		return false
	}
	return info.IsDir()
}

// RemoveSegment removes a named ring file wherever it lives.
func RemoveSegment(name string) error {
	paths := []string{
		filepath.Join("/dev/shm", name),
		filepath.Join(os.TempDir(), name),
	}

	var lastErr error
	for _, path := range paths {
		if err := os.Remove(path); err == nil {
			return nil
		} else if !os.IsNotExist(err) {
			lastErr = err
		}
	}

	if lastErr != nil {
		return lastErr
	}
	return os.ErrNotExist
}

// SegmentExists checks if a named ring file exists
func SegmentExists(name string) bool {
	paths := []string{
		filepath.Join("/dev/shm", name),
		filepath.Join(os.TempDir(), name),
	}

	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			return true
		}
	}
	return false
}
