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
	"sync"
	"time"
)

// Response is the outcome a caller observes for one request. Data is nil
// on timeout, send failure, and remote handler failure without payload.
type Response struct {
	Success bool
	Data    []byte
}

// pendingRequest tracks one in-flight outbound request. Its wait slot is
// single-shot: the first completion wins (response arrival, timeout, send
// failure, or teardown) and later ones are ignored.
type pendingRequest struct {
	msgID     uint64
	createdAt time.Time

	// Response reassembly target; allocated on the first packet of the
	// matching RESPONSE/ERROR.
	buf []byte

	isSuccess bool
	timer     *time.Timer

	once sync.Once
	done chan Response
}

func newPendingRequest(msgID uint64) *pendingRequest {
	return &pendingRequest{
		msgID:     msgID,
		createdAt: time.Now(),
		done:      make(chan Response, 1),
	}
}

// complete resolves the wait slot exactly once.
func (p *pendingRequest) complete(success bool, data []byte) {
	p.once.Do(func() {
		p.isSuccess = success
		p.done <- Response{Success: success, Data: data}
		close(p.done)
	})
}

// stopTimer cancels the timeout timer if one was armed.
func (p *pendingRequest) stopTimer() {
	if p.timer != nil {
		p.timer.Stop()
	}
}

// incomingRequest accumulates the packets of one inbound request.
type incomingRequest struct {
	msgID uint64
	buf   []byte
}

func (b *Buffer) pendingInsert(p *pendingRequest) {
	b.pendingMu.Lock()
	b.pending[p.msgID] = p
	b.pendingMu.Unlock()
}

func (b *Buffer) pendingGet(msgID uint64) *pendingRequest {
	b.pendingMu.Lock()
	p := b.pending[msgID]
	b.pendingMu.Unlock()
	return p
}

// pendingTake removes and returns the entry, reporting whether it was
// still present. Response arrival and timeout race through here; only one
// of them wins the removal.
func (b *Buffer) pendingTake(msgID uint64) (*pendingRequest, bool) {
	b.pendingMu.Lock()
	p, ok := b.pending[msgID]
	if ok {
		delete(b.pending, msgID)
	}
	b.pendingMu.Unlock()
	return p, ok
}

// failAllPending completes every outstanding waiter with failure and
// clears both correlation tables. Used during teardown.
func (b *Buffer) failAllPending() {
	b.pendingMu.Lock()
	pending := b.pending
	b.pending = make(map[uint64]*pendingRequest)
	b.pendingMu.Unlock()

	for _, p := range pending {
		p.stopTimer()
		p.complete(false, nil)
	}

	b.incomingMu.Lock()
	b.incoming = make(map[uint64]*incomingRequest)
	b.incomingMu.Unlock()
}

// incomingFindOrCreate returns the reassembly entry for msgID, creating
// it on the first packet.
func (b *Buffer) incomingFindOrCreate(msgID uint64) *incomingRequest {
	b.incomingMu.Lock()
	e, ok := b.incoming[msgID]
	if !ok {
		e = &incomingRequest{msgID: msgID}
		b.incoming[msgID] = e
	}
	b.incomingMu.Unlock()
	return e
}

func (b *Buffer) incomingRemove(msgID uint64) {
	b.incomingMu.Lock()
	delete(b.incoming, msgID)
	b.incomingMu.Unlock()
}
