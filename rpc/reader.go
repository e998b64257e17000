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

package rpc

import (
	"errors"
	"log/slog"
	"time"

	"github.com/ilkerhalil/SharedMemory/internal/shm"
)

// ringReadTimeout bounds each inbound ring read so the loop can observe
// shutdown requests between packets.
const ringReadTimeout = 500 * time.Millisecond

// readLoop is the single long-running task draining the inbound ring for
// the buffer's lifetime.
func (b *Buffer) readLoop() {
	defer close(b.readDone)

	for {
		// A dispose that found us mid-visitor defers teardown to here.
		if b.needsManagedDispose.Load() && b.disposed.Load() == disposedAlive {
			b.finalizeDispose()
			return
		}
		if b.disposed.Load() != disposedAlive {
			return
		}

		err := b.in.Read(b.onSlot, ringReadTimeout)
		switch {
		case err == nil, errors.Is(err, shm.ErrTimeout):
		case errors.Is(err, shm.ErrShuttingDown):
			// Either our own teardown or the peer's. Unblock every
			// waiter; entry points report ErrChannelClosed from now on.
			b.failAllPending()
			return
		default:
			slog.Warn("shmrpc: read loop stopping", "name", b.name, "err", err)
			b.failAllPending()
			return
		}
	}
}

// onSlot is the ring read visitor: it parses one packet, feeds the byte
// range into the right reassembly target, and fires completion or
// dispatch on the terminal packet. It returns the bytes consumed from the
// slot (header plus this packet's payload).
func (b *Buffer) onSlot(slot []byte) int {
	b.readMu.Lock()
	b.readingInProgress = true
	b.readMu.Unlock()
	defer func() {
		b.readMu.Lock()
		b.readingInProgress = false
		b.readMu.Unlock()
	}()

	hdr, err := decodeHeader(slot)
	if err != nil {
		slog.Warn("shmrpc: dropping malformed packet", "name", b.name, "err", err)
		return HeaderSize
	}

	var pend *pendingRequest
	var inc *incomingRequest
	var target *[]byte

	switch hdr.MsgType {
	case MsgTypeResponse, MsgTypeError:
		pend = b.pendingGet(hdr.ResponseID)
		if pend == nil {
			// Nobody is waiting (timed out or never existed); count it
			// and consume only the header.
			b.stats.discardResponse(hdr.ResponseID)
			b.stats.packetsRead.Add(1)
			b.stats.bytesRead.Add(HeaderSize)
			return HeaderSize
		}
		target = &pend.buf
	case MsgTypeRequest:
		inc = b.incomingFindOrCreate(hdr.MsgID)
		target = &inc.buf
	}

	size := packetPayloadSize(hdr, b.msgBufferLength)
	if hdr.PayloadSize > 0 {
		if *target == nil {
			*target = make([]byte, hdr.PayloadSize)
		}
		off := b.msgBufferLength * (int(hdr.CurrentPacket) - 1)
		copy((*target)[off:], slot[HeaderSize:HeaderSize+size])
	}

	b.stats.packetsRead.Add(1)
	b.stats.bytesRead.Add(int64(HeaderSize + size))

	if hdr.CurrentPacket == hdr.TotalPackets {
		b.stats.messagesReceived.Add(1)
		switch hdr.MsgType {
		case MsgTypeResponse:
			if _, ok := b.pendingTake(hdr.ResponseID); ok {
				pend.stopTimer()
				b.stats.responsesReceived.Add(1)
				pend.isSuccess = true
				pend.complete(true, pend.buf)
			}
		case MsgTypeError:
			if _, ok := b.pendingTake(hdr.ResponseID); ok {
				pend.stopTimer()
				b.stats.errorsReceived.Add(1)
				pend.complete(false, pend.buf)
			}
		case MsgTypeRequest:
			b.incomingRemove(hdr.MsgID)
			b.stats.requestsReceived.Add(1)
			// Fresh task per request so a slow handler cannot stall
			// reassembly of the packets behind it.
			go b.dispatch(hdr.MsgID, inc.buf)
		}
	}

	return HeaderSize + size
}
