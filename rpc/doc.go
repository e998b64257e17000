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

// Package rpc implements a bidirectional request/response channel between
// exactly two processes on the same host, carried over a pair of
// shared-memory slot rings.
//
// The first peer to construct a Buffer for a channel name wins a named
// mutex and becomes the master: it sizes and creates both rings. The
// second peer becomes the slave and opens them. Either peer may then
// invoke the other's handler with Request/RequestAsync; payloads larger
// than one packet's payload area (the slot size minus the 64-byte
// header) are fragmented into numbered packets and reassembled on
// the far side, and responses are correlated back to their originating
// request by message id.
package rpc
