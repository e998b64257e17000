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
	"fmt"
	"log/slog"
)

// dispatch invokes the configured handler for one reassembled inbound
// request and feeds its outcome back through the write path: RESPONSE
// with the handler's bytes on success (always sent, even for the
// notify-only shapes, so the remote wait completes), ERROR with no
// payload on handler failure.
func (b *Buffer) dispatch(msgID uint64, data []byte) {
	b.procMu.Lock()
	b.processCount++
	b.procMu.Unlock()

	defer func() {
		b.procMu.Lock()
		b.processCount--
		b.procMu.Unlock()
		b.completeManagedDispose()
	}()

	h := b.currentHandler()

	var result []byte
	var err error
	if h == nil {
		err = errNoHandler
	} else {
		result, err = invokeHandler(b, h, msgID, data)
	}

	if err != nil {
		slog.Debug("shmrpc: handler failed", "name", b.name, "msg_id", msgID, "err", err)
		if b.writeFramed(MsgTypeError, b.nextMsgID(), nil, msgID, packetWriteTimeout) {
			b.stats.errorsSent.Add(1)
		}
		return
	}

	if b.writeFramed(MsgTypeResponse, b.nextMsgID(), result, msgID, packetWriteTimeout) {
		b.stats.responsesSent.Add(1)
	}
}

// invokeHandler runs the handler with panic containment: a panicking
// handler produces an ERROR packet instead of killing the dispatcher.
func invokeHandler(b *Buffer, h Handler, msgID uint64, data []byte) (result []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(b.ctx, msgID, data)
}
