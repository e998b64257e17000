package rpc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ilkerhalil/SharedMemory/internal/shm"
)

// uniqueChannelName derives a filesystem-safe unique channel name.
func uniqueChannelName(t *testing.T) string {
	t.Helper()
	safe := strings.ReplaceAll(t.Name(), "/", "_")
	return fmt.Sprintf("rpctest-%s-%d", safe, time.Now().UnixNano())
}

// newTestPair constructs both ends of a channel in this process. The
// first construction wins the election, so the returned master carries
// the handler; requests are issued from the slave.
func newTestPair(t *testing.T, capacity, nodes int, h Handler) (master, slave *Buffer) {
	t.Helper()

	name := uniqueChannelName(t)
	t.Cleanup(func() {
		shm.RemoveSegment(masterRingName(name))
		shm.RemoveSegment(slaveRingName(name))
		shm.RemoveSegment(mutexName(name))
	})

	opts := []Option{WithCapacity(capacity), WithNodeCount(nodes)}
	if h != nil {
		opts = append(opts, WithHandler(h))
	}

	master, err := New(name, opts...)
	if err != nil {
		t.Fatalf("failed to create master: %v", err)
	}
	t.Cleanup(func() { disposeAndWait(t, master) })

	slave, err = New(name, WithCapacity(capacity), WithNodeCount(nodes))
	if err != nil {
		t.Fatalf("failed to create slave: %v", err)
	}
	t.Cleanup(func() { disposeAndWait(t, slave) })

	if !master.IsMaster() {
		t.Fatal("first peer should be master")
	}
	if slave.IsMaster() {
		t.Fatal("second peer should be slave")
	}

	return master, slave
}

func disposeAndWait(t *testing.T, b *Buffer) {
	t.Helper()
	b.Dispose()
	if !waitFor(5*time.Second, b.DisposeFinished) {
		t.Errorf("buffer %s did not finish disposing", b.Name())
	}
}

// waitFor polls cond until it holds or the deadline elapses.
func waitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for {
		if cond() {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func echoHandler() Handler {
	return Call(func(msgID uint64, data []byte) []byte { return data })
}

func TestEcho(t *testing.T) {
	master, slave := newTestPair(t, 512, 8, echoHandler())

	want := []byte{0x41, 0x42, 0x43}
	resp, err := slave.Request(want, 5*time.Second)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	if !resp.Success {
		t.Fatal("expected success response")
	}
	if !bytes.Equal(resp.Data, want) {
		t.Fatalf("echo mismatch: expected %v, got %v", want, resp.Data)
	}

	if s := slave.Stats(); s.RequestsSent != 1 || s.ResponsesReceived != 1 {
		t.Fatalf("slave stats: requests_sent=%d responses_received=%d", s.RequestsSent, s.ResponsesReceived)
	}
	// The callee bumps responses_sent just after the response hits the
	// ring, so give it a moment.
	if !waitFor(2*time.Second, func() bool {
		s := master.Stats()
		return s.RequestsReceived == 1 && s.ResponsesSent == 1
	}) {
		s := master.Stats()
		t.Fatalf("master stats: requests_received=%d responses_sent=%d", s.RequestsReceived, s.ResponsesSent)
	}
}

func TestLargeMessageFragmentation(t *testing.T) {
	master, slave := newTestPair(t, 512, 8, echoHandler())

	if got := slave.MsgBufferLength(); got != 448 {
		t.Fatalf("msg buffer length: got %d, want 448", got)
	}

	payload := make([]byte, 1024)
	resp, err := slave.Request(payload, 5*time.Second)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	if !resp.Success {
		t.Fatal("expected success response")
	}
	if len(resp.Data) != 1024 {
		t.Fatalf("payload length: got %d, want 1024", len(resp.Data))
	}
	for i, v := range resp.Data {
		if v != 0 {
			t.Fatalf("payload byte %d is %d, want 0", i, v)
		}
	}

	// 1024 bytes over 448-byte packet payloads is three packets each way.
	if s := slave.Stats(); s.PacketsWritten != 3 || s.PacketsRead != 3 {
		t.Fatalf("slave packets: written=%d read=%d, want 3/3", s.PacketsWritten, s.PacketsRead)
	}
	if !waitFor(2*time.Second, func() bool {
		s := master.Stats()
		return s.PacketsRead == 3 && s.PacketsWritten == 3
	}) {
		s := master.Stats()
		t.Fatalf("master packets: written=%d read=%d, want 3/3", s.PacketsWritten, s.PacketsRead)
	}
}

func TestPayloadExactlyOnePacket(t *testing.T) {
	_, slave := newTestPair(t, 512, 8, echoHandler())

	before := slave.Stats()
	resp, err := slave.Request(make([]byte, 448), 5*time.Second)
	if err != nil || !resp.Success {
		t.Fatalf("448-byte request failed: resp=%+v err=%v", resp, err)
	}
	after := slave.Stats()
	if got := after.PacketsWritten - before.PacketsWritten; got != 1 {
		t.Fatalf("448-byte payload wrote %d packets, want 1", got)
	}

	before = after
	resp, err = slave.Request(make([]byte, 449), 5*time.Second)
	if err != nil || !resp.Success {
		t.Fatalf("449-byte request failed: resp=%+v err=%v", resp, err)
	}
	after = slave.Stats()
	if got := after.PacketsWritten - before.PacketsWritten; got != 2 {
		t.Fatalf("449-byte payload wrote %d packets, want 2", got)
	}
}

func TestEmptyPayload(t *testing.T) {
	var gotLen int
	var mu sync.Mutex
	h := Call(func(msgID uint64, data []byte) []byte {
		mu.Lock()
		gotLen = len(data)
		mu.Unlock()
		return nil
	})
	master, slave := newTestPair(t, 512, 8, h)

	resp, err := slave.Request(nil, 5*time.Second)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	if !resp.Success {
		t.Fatal("expected success response")
	}
	if len(resp.Data) != 0 {
		t.Fatalf("expected empty response data, got %d bytes", len(resp.Data))
	}

	mu.Lock()
	if gotLen != 0 {
		t.Fatalf("handler saw %d bytes, want 0", gotLen)
	}
	mu.Unlock()

	// An empty payload is still exactly one packet.
	if s := slave.Stats(); s.PacketsWritten != 1 {
		t.Fatalf("empty payload wrote %d packets, want 1", s.PacketsWritten)
	}
	if s := master.Stats(); s.RequestsReceived != 1 {
		t.Fatalf("master requests_received=%d, want 1", s.RequestsReceived)
	}
}

func TestHandlerError(t *testing.T) {
	h := CallContext(func(ctx context.Context, msgID uint64, data []byte) ([]byte, error) {
		return nil, errors.New("boom")
	})
	master, slave := newTestPair(t, 512, 8, h)

	resp, err := slave.Request([]byte("payload"), 5*time.Second)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	if resp.Success {
		t.Fatal("expected failure response")
	}
	if resp.Data != nil {
		t.Fatalf("expected nil data, got %v", resp.Data)
	}

	if !waitFor(2*time.Second, func() bool { return master.Stats().ErrorsSent == 1 }) {
		t.Fatalf("master errors_sent=%d, want 1", master.Stats().ErrorsSent)
	}
	if s := slave.Stats(); s.ErrorsReceived != 1 {
		t.Fatalf("slave errors_received=%d, want 1", s.ErrorsReceived)
	}
}

func TestHandlerPanic(t *testing.T) {
	h := Call(func(msgID uint64, data []byte) []byte {
		panic("handler exploded")
	})
	master, slave := newTestPair(t, 512, 8, h)

	resp, err := slave.Request([]byte("payload"), 5*time.Second)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	if resp.Success {
		t.Fatal("expected failure response after handler panic")
	}
	if !waitFor(2*time.Second, func() bool { return master.Stats().ErrorsSent == 1 }) {
		t.Fatalf("master errors_sent=%d, want 1", master.Stats().ErrorsSent)
	}
}

func TestNoHandlerRespondsError(t *testing.T) {
	_, slave := newTestPair(t, 512, 8, nil)

	resp, err := slave.Request([]byte("anyone home"), 5*time.Second)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	if resp.Success {
		t.Fatal("expected failure response when no handler is configured")
	}
}

func TestNotifyHandlerStillResponds(t *testing.T) {
	called := make(chan uint64, 1)
	h := Notify(func(msgID uint64, data []byte) {
		called <- msgID
	})
	_, slave := newTestPair(t, 512, 8, h)

	resp, err := slave.Request([]byte("ping"), 5*time.Second)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	// The notify shape has no payload, but the wait must still complete.
	if !resp.Success {
		t.Fatal("expected success response from notify handler")
	}
	if len(resp.Data) != 0 {
		t.Fatalf("expected empty response data, got %d bytes", len(resp.Data))
	}

	select {
	case <-called:
	case <-time.After(time.Second):
		t.Fatal("notify handler was not invoked")
	}
}

func TestTimeoutAndLateResponse(t *testing.T) {
	h := Call(func(msgID uint64, data []byte) []byte {
		time.Sleep(2 * time.Second)
		return nil
	})
	_, slave := newTestPair(t, 512, 8, h)

	start := time.Now()
	resp, err := slave.Request([]byte("slow"), 100*time.Millisecond)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	elapsed := time.Since(start)

	if resp.Success {
		t.Fatal("expected timeout failure")
	}
	if resp.Data != nil {
		t.Fatalf("expected nil data on timeout, got %v", resp.Data)
	}
	if elapsed > 500*time.Millisecond {
		t.Fatalf("timeout took %v, expected ~100ms", elapsed)
	}
	if s := slave.Stats(); s.Timeouts != 1 {
		t.Fatalf("timeouts=%d, want 1", s.Timeouts)
	}

	// The handler eventually responds; nobody is waiting anymore, so the
	// response must be discarded and attributed to the request id.
	if !waitFor(3*time.Second, func() bool {
		return slave.Stats().DiscardedResponses == 1
	}) {
		t.Fatalf("discarded_responses=%d, want 1", slave.Stats().DiscardedResponses)
	}
	if got := slave.Stats().LastDiscardedResponseID; got != 1 {
		t.Fatalf("last_discarded_response_id=%d, want 1", got)
	}
}

func TestTimeoutZeroFailsImmediately(t *testing.T) {
	master, slave := newTestPair(t, 512, 8, echoHandler())

	resp, err := slave.Request([]byte("never sent"), 0)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	if resp.Success {
		t.Fatal("expected immediate failure for zero timeout")
	}
	if s := slave.Stats(); s.Timeouts != 1 {
		t.Fatalf("timeouts=%d, want 1", s.Timeouts)
	}

	// Nothing went on the wire.
	time.Sleep(50 * time.Millisecond)
	if s := master.Stats(); s.RequestsReceived != 0 {
		t.Fatalf("master requests_received=%d, want 0", s.RequestsReceived)
	}
}

func TestInfiniteTimeout(t *testing.T) {
	_, slave := newTestPair(t, 512, 8, echoHandler())

	want := []byte("take your time")
	resp, err := slave.Request(want, NoTimeout)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	if !resp.Success || !bytes.Equal(resp.Data, want) {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestRequestAsync(t *testing.T) {
	_, slave := newTestPair(t, 512, 8, echoHandler())

	ch, err := slave.RequestAsync([]byte("async"), 5*time.Second)
	if err != nil {
		t.Fatalf("RequestAsync failed: %v", err)
	}

	select {
	case resp := <-ch:
		if !resp.Success || string(resp.Data) != "async" {
			t.Fatalf("unexpected response: %+v", resp)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("async response never arrived")
	}

	// The wait slot is single-shot: the channel is closed after its one
	// response.
	if _, ok := <-ch; ok {
		t.Fatal("expected closed channel after single response")
	}
}

func TestMonotoneMessageIDs(t *testing.T) {
	var mu sync.Mutex
	var ids []uint64
	h := Call(func(msgID uint64, data []byte) []byte {
		mu.Lock()
		ids = append(ids, msgID)
		mu.Unlock()
		return nil
	})
	_, slave := newTestPair(t, 512, 8, h)

	for i := 0; i < 5; i++ {
		if resp, err := slave.Request([]byte{byte(i)}, 5*time.Second); err != nil || !resp.Success {
			t.Fatalf("request %d failed: resp=%+v err=%v", i, resp, err)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if len(ids) != 5 {
		t.Fatalf("handler saw %d requests, want 5", len(ids))
	}
	for i := 1; i < len(ids); i++ {
		if ids[i] <= ids[i-1] {
			t.Fatalf("message ids not strictly increasing: %v", ids)
		}
	}
}

func TestSlaveInheritsSizing(t *testing.T) {
	name := uniqueChannelName(t)
	t.Cleanup(func() {
		shm.RemoveSegment(masterRingName(name))
		shm.RemoveSegment(slaveRingName(name))
		shm.RemoveSegment(mutexName(name))
	})

	master, err := New(name, WithCapacity(512), WithNodeCount(4))
	if err != nil {
		t.Fatalf("failed to create master: %v", err)
	}
	t.Cleanup(func() { disposeAndWait(t, master) })

	// The slave asks for a different capacity; the rings already exist,
	// so it inherits the master's sizing.
	slave, err := New(name, WithCapacity(1024))
	if err != nil {
		t.Fatalf("failed to create slave: %v", err)
	}
	t.Cleanup(func() { disposeAndWait(t, slave) })

	if got := slave.Capacity(); got != 512 {
		t.Fatalf("slave capacity: got %d, want 512", got)
	}
	if got := slave.MsgBufferLength(); got != 448 {
		t.Fatalf("slave msg buffer length: got %d, want 448", got)
	}
}

func TestCapacityBounds(t *testing.T) {
	cases := []int{MinCapacity - 1, MaxCapacity + 1}
	for _, capacity := range cases {
		_, err := New(uniqueChannelName(t), WithCapacity(capacity))
		if !errors.Is(err, ErrCapacityOutOfRange) {
			t.Fatalf("capacity %d: expected ErrCapacityOutOfRange, got %v", capacity, err)
		}
	}

	for _, capacity := range []int{MinCapacity, MaxCapacity} {
		name := uniqueChannelName(t)
		b, err := New(name, WithCapacity(capacity), WithNodeCount(2))
		if err != nil {
			t.Fatalf("capacity %d should be accepted: %v", capacity, err)
		}
		disposeAndWait(t, b)
	}
}

func TestUnsupportedProtocolVersion(t *testing.T) {
	_, err := New(uniqueChannelName(t), WithProtocolVersion(ProtocolVersion(2)))
	if !errors.Is(err, ErrUnsupportedVersion) {
		t.Fatalf("expected ErrUnsupportedVersion, got %v", err)
	}
}

func TestEmptyChannelName(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty channel name")
	}
}

func TestRequestAfterDispose(t *testing.T) {
	_, slave := newTestPair(t, 512, 8, echoHandler())

	slave.Dispose()
	if _, err := slave.Request([]byte("too late"), time.Second); !errors.Is(err, ErrDisposed) {
		t.Fatalf("expected ErrDisposed, got %v", err)
	}
}

func TestPeerDisposeClosesChannel(t *testing.T) {
	master, slave := newTestPair(t, 512, 8, echoHandler())

	master.Dispose()
	if !waitFor(5*time.Second, master.DisposeFinished) {
		t.Fatal("master did not finish disposing")
	}

	if _, err := slave.Request([]byte("anyone there"), time.Second); !errors.Is(err, ErrChannelClosed) {
		t.Fatalf("expected ErrChannelClosed, got %v", err)
	}
}

func TestDisposeUnderLoad(t *testing.T) {
	var count int64
	var countMu sync.Mutex
	h := Call(func(msgID uint64, data []byte) []byte {
		countMu.Lock()
		count++
		countMu.Unlock()
		time.Sleep(20 * time.Millisecond)
		return data
	})
	master, slave := newTestPair(t, 512, 16, h)

	const callers = 50
	results := make(chan error, callers)
	for i := 0; i < callers; i++ {
		go func(i int) {
			resp, err := slave.Request([]byte{byte(i)}, 5*time.Second)
			if err != nil {
				// ErrDisposed / ErrChannelClosed are legitimate outcomes
				// for callers that raced the dispose.
				if errors.Is(err, ErrDisposed) || errors.Is(err, ErrChannelClosed) {
					results <- nil
					return
				}
				results <- err
				return
			}
			_ = resp // success or failure are both acceptable mid-dispose
			results <- nil
		}(i)
	}

	time.Sleep(30 * time.Millisecond)
	slave.Dispose()

	for i := 0; i < callers; i++ {
		select {
		case err := <-results:
			if err != nil {
				t.Fatalf("caller failed unexpectedly: %v", err)
			}
		case <-time.After(10 * time.Second):
			t.Fatal("caller never unblocked after dispose")
		}
	}

	if !waitFor(5*time.Second, slave.DisposeFinished) {
		t.Fatal("slave did not finish disposing")
	}

	master.Dispose()
	if !waitFor(5*time.Second, master.DisposeFinished) {
		t.Fatal("master did not finish disposing")
	}

	// No handler invocation may happen after dispose finished.
	countMu.Lock()
	settled := count
	countMu.Unlock()
	time.Sleep(100 * time.Millisecond)
	countMu.Lock()
	final := count
	countMu.Unlock()
	if final != settled {
		t.Fatalf("handler invoked after dispose finished: %d -> %d", settled, final)
	}
}

func TestDisposeIdempotent(t *testing.T) {
	_, slave := newTestPair(t, 512, 8, echoHandler())

	slave.Dispose()
	slave.Dispose()
	if !waitFor(5*time.Second, slave.DisposeFinished) {
		t.Fatal("dispose did not finish")
	}
	slave.Dispose() // after finish: no-op
}
