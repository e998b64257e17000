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
	"expvar"
	"math"
	"strconv"
	"sync/atomic"
	"time"
)

// statsSeq generates unique IDs for expvar namespacing across buffers.
var statsSeq atomic.Int64

// stats tracks per-buffer counters. Every scalar is updated in isolation
// (lock-free atomics); readers take an unsynchronized snapshot. All
// counters are published to expvar under a "shmrpc.<seq>." prefix for
// inspection via /debug/vars.
type stats struct {
	requestsSent      atomic.Int64
	requestsReceived  atomic.Int64
	responsesSent     atomic.Int64
	responsesReceived atomic.Int64
	errorsSent        atomic.Int64
	errorsReceived    atomic.Int64

	messagesSent     atomic.Int64
	messagesReceived atomic.Int64

	packetsWritten atomic.Int64
	packetsRead    atomic.Int64
	bytesWritten   atomic.Int64
	bytesRead      atomic.Int64

	timeouts                atomic.Int64
	discardedResponses      atomic.Int64
	lastDiscardedResponseID atomic.Uint64

	maxWriteWaitNanos atomic.Int64
	minPacketBytes    atomic.Int64
	maxPacketBytes    atomic.Int64
}

// StatsSnapshot is a point-in-time copy of a buffer's counters.
type StatsSnapshot struct {
	RequestsSent      int64
	RequestsReceived  int64
	ResponsesSent     int64
	ResponsesReceived int64
	ErrorsSent        int64
	ErrorsReceived    int64

	MessagesSent     int64
	MessagesReceived int64

	PacketsWritten int64
	PacketsRead    int64
	BytesWritten   int64
	BytesRead      int64

	Timeouts                int64
	DiscardedResponses      int64
	LastDiscardedResponseID uint64

	MaxWriteWait  time.Duration
	MinPacketSize int64
	MaxPacketSize int64
}

func newStats() *stats {
	s := &stats{}
	s.minPacketBytes.Store(math.MaxInt64)

	// Monotonic sequence keeps expvar names unique when several buffers
	// live in one process (common in tests).
	seq := statsSeq.Add(1)
	prefix := "shmrpc." + strconv.FormatInt(seq, 10) + "."

	publish := func(name string, v *atomic.Int64) {
		expvar.Publish(prefix+name, expvar.Func(func() any { return v.Load() }))
	}

	publish("requests_sent", &s.requestsSent)
	publish("requests_received", &s.requestsReceived)
	publish("responses_sent", &s.responsesSent)
	publish("responses_received", &s.responsesReceived)
	publish("errors_sent", &s.errorsSent)
	publish("errors_received", &s.errorsReceived)
	publish("messages_sent", &s.messagesSent)
	publish("messages_received", &s.messagesReceived)
	publish("packets_written", &s.packetsWritten)
	publish("packets_read", &s.packetsRead)
	publish("bytes_written", &s.bytesWritten)
	publish("bytes_read", &s.bytesRead)
	publish("timeouts", &s.timeouts)
	publish("discarded_responses", &s.discardedResponses)
	expvar.Publish(prefix+"last_discarded_response_id", expvar.Func(func() any {
		return s.lastDiscardedResponseID.Load()
	}))

	return s
}

// observeWriteWait records how long one packet write blocked on the ring.
func (s *stats) observeWriteWait(d time.Duration) {
	atomicMax(&s.maxWriteWaitNanos, d.Nanoseconds())
}

// observePacketPayload records one written packet's payload size.
func (s *stats) observePacketPayload(n int) {
	atomicMin(&s.minPacketBytes, int64(n))
	atomicMax(&s.maxPacketBytes, int64(n))
}

func (s *stats) discardResponse(responseID uint64) {
	s.discardedResponses.Add(1)
	s.lastDiscardedResponseID.Store(responseID)
}

func (s *stats) snapshot() StatsSnapshot {
	minPacket := s.minPacketBytes.Load()
	if minPacket == math.MaxInt64 {
		minPacket = 0
	}
	return StatsSnapshot{
		RequestsSent:      s.requestsSent.Load(),
		RequestsReceived:  s.requestsReceived.Load(),
		ResponsesSent:     s.responsesSent.Load(),
		ResponsesReceived: s.responsesReceived.Load(),
		ErrorsSent:        s.errorsSent.Load(),
		ErrorsReceived:    s.errorsReceived.Load(),

		MessagesSent:     s.messagesSent.Load(),
		MessagesReceived: s.messagesReceived.Load(),

		PacketsWritten: s.packetsWritten.Load(),
		PacketsRead:    s.packetsRead.Load(),
		BytesWritten:   s.bytesWritten.Load(),
		BytesRead:      s.bytesRead.Load(),

		Timeouts:                s.timeouts.Load(),
		DiscardedResponses:      s.discardedResponses.Load(),
		LastDiscardedResponseID: s.lastDiscardedResponseID.Load(),

		MaxWriteWait:  time.Duration(s.maxWriteWaitNanos.Load()),
		MinPacketSize: minPacket,
		MaxPacketSize: s.maxPacketBytes.Load(),
	}
}

func atomicMax(a *atomic.Int64, v int64) {
	for {
		cur := a.Load()
		if cur >= v {
			return
		}
		if a.CompareAndSwap(cur, v) {
			return
		}
	}
}

func atomicMin(a *atomic.Int64, v int64) {
	for {
		cur := a.Load()
		if cur <= v {
			return
		}
		if a.CompareAndSwap(cur, v) {
			return
		}
	}
}
