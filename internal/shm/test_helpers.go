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
	"strings"
	"testing"
	"time"
)

// uniqueTestName derives a filesystem-safe unique ring name from the test.
func uniqueTestName(t *testing.T) string {
	t.Helper()
	safe := strings.ReplaceAll(t.Name(), "/", "_")
	return fmt.Sprintf("shmtest-%s-%d", safe, time.Now().UnixNano())
}

// createTestRing creates a ring with a unique name and registers cleanup
// so the backing file is always removed, even when the test fails.
func createTestRing(t *testing.T, slotSize, nodeCount uint32) (*Ring, string) {
	t.Helper()

	name := uniqueTestName(t)
	RemoveSegment(name)

	ring, err := CreateRing(name, slotSize, nodeCount)
	if err != nil {
		t.Fatalf("failed to create test ring %s: %v", name, err)
	}

	t.Cleanup(func() {
		ring.Close()
		RemoveSegment(name)
	})

	return ring, name
}
