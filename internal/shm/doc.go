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

// Package shm provides the shared-memory primitives underneath the RPC
// buffer: a bounded ring of fixed-size slots mapped from a named file, a
// futex-based blocking read/write path over it, and a named cross-process
// mutex used for master election.
//
// Each ring lives in its own memory-mapped file (under /dev/shm when
// available). The file starts with a segment header describing the slot
// geometry, followed by a ring header holding the monotonic slot indices
// and the futex sequence words, followed by the slot data area. Both
// peers map the same file; all header fields are accessed atomically.
package shm
