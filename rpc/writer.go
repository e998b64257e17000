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

import "time"

// packetWriteTimeout bounds each per-packet ring write.
const packetWriteTimeout = 1000 * time.Millisecond

// writeFramed fragments payload into packet-sized ring writes and sends
// them. The send lock is held across the whole loop so one message's
// packets are contiguous in the ring; it never spans messages. Returns
// false if the write was abandoned (dispose begun, ring shutting down, or
// a per-packet write timed out); it never blocks on a response.
func (b *Buffer) writeFramed(msgType MsgType, msgID uint64, payload []byte, responseID uint64, timeout time.Duration) bool {
	b.sendMu.Lock()
	defer b.sendMu.Unlock()

	if b.disposed.Load() != disposedAlive {
		return false
	}
	if b.out.ShuttingDown() {
		return false
	}

	total := packetCount(len(payload), b.msgBufferLength)
	hdr := Header{
		MsgType:      msgType,
		MsgID:        msgID,
		PayloadSize:  int32(len(payload)),
		TotalPackets: uint16(total),
		ResponseID:   responseID,
	}

	for cur := 1; cur <= total; cur++ {
		if b.disposed.Load() != disposedAlive || b.out.ShuttingDown() {
			return false
		}

		off := (cur - 1) * b.msgBufferLength
		end := off + b.msgBufferLength
		if end > len(payload) {
			end = len(payload)
		}
		chunk := payload[off:end]
		hdr.CurrentPacket = uint16(cur)

		waitStart := time.Now()
		err := b.out.Write(func(slot []byte) int {
			var hb [HeaderSize]byte
			encodeHeaderTo(&hb, hdr)
			n := copy(slot, hb[:])
			n += copy(slot[HeaderSize:], chunk)
			return n
		}, timeout)
		b.stats.observeWriteWait(time.Since(waitStart))
		if err != nil {
			return false
		}

		b.stats.packetsWritten.Add(1)
		b.stats.bytesWritten.Add(int64(HeaderSize + len(chunk)))
		b.stats.observePacketPayload(len(chunk))
	}

	b.stats.messagesSent.Add(1)
	return true
}
