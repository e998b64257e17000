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
	"errors"
	"time"
)

// Visitor is handed a slot's bytes during Read or Write. On write it fills
// the slot; on read it consumes it and returns the number of bytes it
// actually used (the cursor advances a whole slot either way).
type Visitor func(slot []byte) int

// Ring is a bounded ring of fixed-size slots over a shared-memory segment.
// It is single-producer single-consumer across the two processes: one peer
// only writes, the other only reads. Blocking is futex-based with wakes
// issued only on empty->non-empty and full->non-full transitions.
type Ring struct {
	seg       *Segment
	slotSize  int
	nodeCount uint64
}

// NewRing wraps an already-mapped segment.
func NewRing(seg *Segment) *Ring {
	hdr := seg.Header()
	return &Ring{
		seg:       seg,
		slotSize:  int(hdr.SlotSize()),
		nodeCount: uint64(hdr.NodeCount()),
	}
}

// CreateRing creates the named ring file with the given geometry.
func CreateRing(name string, slotSize, nodeCount uint32) (*Ring, error) {
	seg, err := CreateSegment(name, slotSize, nodeCount)
	if err != nil {
		return nil, err
	}
	return NewRing(seg), nil
}

// OpenRing maps an existing named ring and inherits its geometry.
func OpenRing(name string) (*Ring, error) {
	seg, err := OpenSegment(name)
	if err != nil {
		return nil, err
	}
	return NewRing(seg), nil
}

// SlotSize returns the byte size of one slot.
func (r *Ring) SlotSize() int {
	return r.slotSize
}

// NodeCount returns the number of slots in the ring.
func (r *Ring) NodeCount() int {
	return int(r.nodeCount)
}

// Used returns the number of occupied slots.
func (r *Ring) Used() int {
	return int(r.seg.Ring().Used())
}

// ShuttingDown reports whether either peer has begun teardown.
func (r *Ring) ShuttingDown() bool {
	return r.seg.Ring().ShuttingDown()
}

func (r *Ring) slot(idx uint64) []byte {
	off := (idx % r.nodeCount) * uint64(r.slotSize)
	return r.seg.Data()[off : off+uint64(r.slotSize)]
}

// Write hands a free slot to visit, then publishes it. It blocks up to
// timeout for space; timeout <= 0 fails immediately when the ring is full.
// Returns ErrShuttingDown once teardown has begun, ErrTimeout when the
// deadline elapses.
func (r *Ring) Write(visit Visitor, timeout time.Duration) error {
	hdr := r.seg.Ring()

	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	for {
		if hdr.ShuttingDown() {
			return ErrShuttingDown
		}

		w := hdr.WriteIndex()
		rd := hdr.ReadIndex()
		used := w - rd

		if used < r.nodeCount {
			visit(r.slot(w))
			hdr.SetWriteIndex(w + 1)

			// Wake the reader only on the empty->non-empty transition.
			if used == 0 {
				hdr.IncrementDataSequence()
				futexWake(&hdr.dataSeq, 1)
			}
			return nil
		}

		if timeout <= 0 {
			return ErrTimeout
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return ErrTimeout
		}

		seq := hdr.SpaceSequence()
		if err := futexWaitTimeout(&hdr.spaceSeq, seq, remaining.Nanoseconds()); err != nil {
			if errors.Is(err, ErrFutexTimeout) {
				return ErrTimeout
			}
			return err
		}
	}
}

// Read hands the next occupied slot to visit, then retires it. It blocks
// up to timeout for data; timeout <= 0 fails immediately when the ring is
// empty. Returns ErrShuttingDown once teardown has begun, ErrTimeout when
// the deadline elapses.
func (r *Ring) Read(visit Visitor, timeout time.Duration) error {
	hdr := r.seg.Ring()

	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	for {
		if hdr.ShuttingDown() {
			return ErrShuttingDown
		}

		w := hdr.WriteIndex()
		rd := hdr.ReadIndex()
		used := w - rd

		if used > 0 {
			visit(r.slot(rd))
			hdr.SetReadIndex(rd + 1)

			// Wake the writer only on the full->non-full transition.
			if used == r.nodeCount {
				hdr.IncrementSpaceSequence()
				futexWake(&hdr.spaceSeq, 1)
			}
			return nil
		}

		if timeout <= 0 {
			return ErrTimeout
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return ErrTimeout
		}

		seq := hdr.DataSequence()
		if err := futexWaitTimeout(&hdr.dataSeq, seq, remaining.Nanoseconds()); err != nil {
			if errors.Is(err, ErrFutexTimeout) {
				return ErrTimeout
			}
			return err
		}
	}
}

// Shutdown sets the shutdown flag and wakes both sides so any blocked
// Read/Write observes it. Safe to call from either peer, more than once.
func (r *Ring) Shutdown() {
	hdr := r.seg.Ring()
	hdr.SetShuttingDown(true)

	// Bump both sequences so sleeping waiters fail their value re-check.
	hdr.IncrementDataSequence()
	hdr.IncrementSpaceSequence()
	futexWake(&hdr.dataSeq, 1)
	futexWake(&hdr.spaceSeq, 1)
}

// Close unmaps the segment. The caller must ensure no reader or writer is
// still inside Read/Write.
func (r *Ring) Close() error {
	return r.seg.Close()
}

// Unlink removes the ring's backing file. Only the creating peer should
// call this.
func (r *Ring) Unlink() error {
	return r.seg.Unlink()
}
