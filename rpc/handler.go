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

import "context"

// Handler is the single internal handler abstraction: it receives a fully
// reassembled inbound request and returns the response payload, or an
// error that the dispatcher converts into an ERROR packet. The returned
// bytes may be nil; a RESPONSE is emitted either way so the remote
// caller's wait completes.
//
// The four registration shapes below all normalize onto this type.
type Handler func(ctx context.Context, msgID uint64, data []byte) ([]byte, error)

// Notify adapts a synchronous request-only callback: no response payload,
// but the empty RESPONSE is still sent on return.
func Notify(f func(msgID uint64, data []byte)) Handler {
	return func(_ context.Context, msgID uint64, data []byte) ([]byte, error) {
		f(msgID, data)
		return nil, nil
	}
}

// NotifyContext adapts a request-only callback that may block on the
// buffer's context and fail.
func NotifyContext(f func(ctx context.Context, msgID uint64, data []byte) error) Handler {
	return func(ctx context.Context, msgID uint64, data []byte) ([]byte, error) {
		return nil, f(ctx, msgID, data)
	}
}

// Call adapts a synchronous request-with-result callback.
func Call(f func(msgID uint64, data []byte) []byte) Handler {
	return func(_ context.Context, msgID uint64, data []byte) ([]byte, error) {
		return f(msgID, data), nil
	}
}

// CallContext adapts a request-with-result callback that may block on the
// buffer's context and fail.
func CallContext(f func(ctx context.Context, msgID uint64, data []byte) ([]byte, error)) Handler {
	return f
}
