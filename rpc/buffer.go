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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ilkerhalil/SharedMemory/internal/shm"
)

const (
	// MinCapacity and MaxCapacity bound the per-slot buffer capacity,
	// header included.
	MinCapacity = 256
	MaxCapacity = 1048576

	// DefaultCapacity is the slot size used when the master does not
	// override it.
	DefaultCapacity = 65536

	// DefaultNodeCount is the slot count per ring used when the master
	// does not override it.
	DefaultNodeCount = 32

	// DefaultTimeout is the request timeout applied by callers that have
	// no better idea.
	DefaultTimeout = 30 * time.Second

	// NoTimeout makes Request wait forever. A zero timeout is "already
	// timed out": the call fails immediately without sending.
	NoTimeout time.Duration = -1
)

const (
	masterElectionTimeout = 500 * time.Millisecond
	slaveOpenTimeout      = 2 * time.Second
	slaveOpenInterval     = 5 * time.Millisecond
)

// disposed states; transitions only move forward.
const (
	disposedAlive      uint32 = 0
	disposedInProgress uint32 = 1
	disposedFinished   uint32 = 2
)

type config struct {
	capacity  int
	nodeCount int
	version   ProtocolVersion
	handler   Handler
}

// Option configures a Buffer at construction.
type Option func(*config)

// WithCapacity sets the per-slot buffer capacity in bytes, header
// included. Only the master's value matters; the slave inherits the ring
// sizing. Must lie in [MinCapacity, MaxCapacity].
func WithCapacity(capacity int) Option {
	return func(c *config) { c.capacity = capacity }
}

// WithNodeCount sets the number of slots in each ring. Master only.
func WithNodeCount(count int) Option {
	return func(c *config) { c.nodeCount = count }
}

// WithProtocolVersion selects the wire protocol version.
func WithProtocolVersion(v ProtocolVersion) Option {
	return func(c *config) { c.version = v }
}

// WithHandler registers the request handler. Use the Notify, NotifyContext,
// Call, or CallContext adapters to lift the shape you have.
func WithHandler(h Handler) Option {
	return func(c *config) { c.handler = h }
}

// Buffer is one end of a named bidirectional RPC channel over shared
// memory. Construct one per process with New; the two processes must
// agree on the name.
type Buffer struct {
	name   string
	master bool

	mutex *shm.MasterMutex
	in    *shm.Ring // packets from the peer
	out   *shm.Ring // packets to the peer

	msgBufferLength int // usable payload bytes per packet

	ctx    context.Context
	cancel context.CancelFunc

	// Message id assignment; strictly increasing per peer.
	idMu  sync.Mutex
	msgID uint64

	// Send serialization: one message's packets are written back-to-back.
	sendMu sync.Mutex

	// Correlation tables.
	pendingMu  sync.Mutex
	pending    map[uint64]*pendingRequest
	incomingMu sync.Mutex
	incoming   map[uint64]*incomingRequest

	// Handler; cleared during teardown so no new dispatches occur.
	handlerMu sync.Mutex
	handler   Handler

	// Dispatch and read-visitor accounting observed by Dispose.
	procMu            sync.Mutex
	processCount      int
	readMu            sync.Mutex
	readingInProgress bool

	disposeRequested    atomic.Bool
	needsManagedDispose atomic.Bool
	disposed            atomic.Uint32

	readDone chan struct{}

	stats *stats
}

// New constructs one end of the channel identified by name. The peer that
// observes the named mutex as newly created and acquires it within 500 ms
// becomes the master and creates both rings with the configured sizing;
// the other peer becomes the slave, opens the rings, and inherits their
// sizing. The read loop is running when New returns.
func New(name string, opts ...Option) (*Buffer, error) {
	if name == "" {
		return nil, errors.New("rpc: channel name must not be empty")
	}

	cfg := config{
		capacity:  DefaultCapacity,
		nodeCount: DefaultNodeCount,
		version:   V1,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.version != V1 {
		return nil, ErrUnsupportedVersion
	}
	if cfg.capacity < MinCapacity || cfg.capacity > MaxCapacity {
		return nil, fmt.Errorf("%w: %d not in [%d, %d]", ErrCapacityOutOfRange, cfg.capacity, MinCapacity, MaxCapacity)
	}
	if cfg.nodeCount <= 0 {
		return nil, errors.New("rpc: node count must be positive")
	}

	mutex, master, err := shm.AcquireMasterMutex(mutexName(name), masterElectionTimeout)
	if err != nil {
		return nil, fmt.Errorf("master election: %w", err)
	}

	var in, out *shm.Ring
	if master {
		in, err = shm.CreateRing(masterRingName(name), uint32(cfg.capacity), uint32(cfg.nodeCount))
		if err == nil {
			out, err = shm.CreateRing(slaveRingName(name), uint32(cfg.capacity), uint32(cfg.nodeCount))
			if err != nil {
				in.Close()
				in.Unlink()
			}
		}
	} else {
		in, err = openRingRetry(slaveRingName(name), slaveOpenTimeout)
		if err == nil {
			out, err = openRingRetry(masterRingName(name), slaveOpenTimeout)
			if err != nil {
				in.Close()
			}
		}
	}
	if err != nil {
		mutex.Release()
		return nil, err
	}

	if in.SlotSize() != out.SlotSize() {
		in.Close()
		out.Close()
		mutex.Release()
		return nil, fmt.Errorf("rpc: ring slot sizes disagree: %d vs %d", in.SlotSize(), out.SlotSize())
	}

	ctx, cancel := context.WithCancel(context.Background())

	b := &Buffer{
		name:            name,
		master:          master,
		mutex:           mutex,
		in:              in,
		out:             out,
		msgBufferLength: in.SlotSize() - HeaderSize,
		ctx:             ctx,
		cancel:          cancel,
		pending:         make(map[uint64]*pendingRequest),
		incoming:        make(map[uint64]*incomingRequest),
		handler:         cfg.handler,
		readDone:        make(chan struct{}),
		stats:           newStats(),
	}

	slog.Debug("shmrpc: channel up",
		"name", name, "master", master, "pid", os.Getpid(),
		"capacity", in.SlotSize(), "nodes", in.NodeCount())

	go b.readLoop()

	return b, nil
}

func masterRingName(name string) string { return name + "_Master_SharedMemory_MMF" }
func slaveRingName(name string) string  { return name + "_Slave_SharedMemory_MMF" }
func mutexName(name string) string      { return name + "SharedMemory_MasterMutex" }

// openRingRetry opens a ring the master may still be creating.
func openRingRetry(name string, timeout time.Duration) (*shm.Ring, error) {
	deadline := time.Now().Add(timeout)
	for {
		r, err := shm.OpenRing(name)
		if err == nil {
			return r, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("open ring %s: %w", name, err)
		}
		time.Sleep(slaveOpenInterval)
	}
}

// Name returns the channel name shared by both peers.
func (b *Buffer) Name() string { return b.name }

// IsMaster reports whether this peer won the election.
func (b *Buffer) IsMaster() bool { return b.master }

// Capacity returns the slot size in bytes, header included.
func (b *Buffer) Capacity() int { return b.in.SlotSize() }

// MsgBufferLength returns the usable payload bytes per packet.
func (b *Buffer) MsgBufferLength() int { return b.msgBufferLength }

// Stats returns a point-in-time copy of this peer's counters.
func (b *Buffer) Stats() StatsSnapshot { return b.stats.snapshot() }

func (b *Buffer) nextMsgID() uint64 {
	b.idMu.Lock()
	b.msgID++
	id := b.msgID
	b.idMu.Unlock()
	return id
}

func (b *Buffer) currentHandler() Handler {
	b.handlerMu.Lock()
	h := b.handler
	b.handlerMu.Unlock()
	return h
}

// checkOpen guards the public entry points.
func (b *Buffer) checkOpen() error {
	if b.disposeRequested.Load() || b.disposed.Load() != disposedAlive {
		return ErrDisposed
	}
	if b.in.ShuttingDown() || b.out.ShuttingDown() {
		return ErrChannelClosed
	}
	return nil
}

// Request sends payload to the peer and blocks until its handler's
// response arrives, the timeout elapses, or the channel tears down.
// Protocol-level failures (timeout, send failure, remote handler error)
// are reported in the Response; the error return is reserved for
// ErrDisposed and ErrChannelClosed.
func (b *Buffer) Request(payload []byte, timeout time.Duration) (Response, error) {
	ch, err := b.RequestAsync(payload, timeout)
	if err != nil {
		return Response{}, err
	}
	return <-ch, nil
}

// RequestAsync sends payload to the peer and returns a channel that
// yields exactly one Response. See Request for the timeout and error
// conventions; NoTimeout waits forever, zero fails immediately.
func (b *Buffer) RequestAsync(payload []byte, timeout time.Duration) (<-chan Response, error) {
	if err := b.checkOpen(); err != nil {
		return nil, err
	}

	p := newPendingRequest(b.nextMsgID())

	// Zero means "already timed out": resolve without sending.
	if timeout == 0 {
		b.stats.timeouts.Add(1)
		p.complete(false, nil)
		return p.done, nil
	}

	// Insert before the first packet hits the ring so the response
	// cannot outrun the bookkeeping.
	b.pendingInsert(p)

	if !b.writeFramed(MsgTypeRequest, p.msgID, payload, 0, packetWriteTimeout) {
		b.pendingTake(p.msgID)
		p.complete(false, nil)
		return p.done, nil
	}
	b.stats.requestsSent.Add(1)

	if timeout > 0 {
		p.timer = time.AfterFunc(timeout, func() {
			// Remove the entry so a late response is counted as
			// discarded rather than completing a dead waiter.
			if _, ok := b.pendingTake(p.msgID); ok {
				b.stats.timeouts.Add(1)
				p.complete(false, nil)
			}
		})
	}

	return p.done, nil
}

// Dispose requests shutdown. If a handler invocation or the read visitor
// is active, teardown is deferred to whichever of them finishes last;
// otherwise it happens here. Safe to call more than once.
func (b *Buffer) Dispose() {
	if b.disposed.Load() == disposedFinished {
		return
	}
	b.disposeRequested.Store(true)

	b.procMu.Lock()
	b.readMu.Lock()
	busy := b.processCount > 0 || b.readingInProgress
	if busy {
		b.needsManagedDispose.Store(true)
	}
	b.readMu.Unlock()
	b.procMu.Unlock()

	if busy {
		return
	}
	b.finalizeDispose()
}

// DisposeFinished reports whether teardown has fully completed: rings
// unmapped, files unlinked (master), mutex released.
func (b *Buffer) DisposeFinished() bool {
	return b.disposed.Load() == disposedFinished
}

// completeManagedDispose runs deferred teardown once the last in-flight
// handler and the read visitor are both done.
func (b *Buffer) completeManagedDispose() {
	if !b.needsManagedDispose.Load() {
		return
	}
	b.procMu.Lock()
	b.readMu.Lock()
	idle := b.processCount == 0 && !b.readingInProgress
	b.readMu.Unlock()
	b.procMu.Unlock()
	if idle {
		b.finalizeDispose()
	}
}

// finalizeDispose is the teardown proper. The first caller wins the CAS;
// everyone else returns. Ring files are closed only after the read loop
// has exited so the loop never touches unmapped memory.
func (b *Buffer) finalizeDispose() {
	b.handlerMu.Lock()
	b.handler = nil
	b.handlerMu.Unlock()

	if !b.disposed.CompareAndSwap(disposedAlive, disposedInProgress) {
		return
	}

	b.cancel()
	b.failAllPending()

	// Unblocks both peers' pending ring operations.
	b.in.Shutdown()
	b.out.Shutdown()

	go func() {
		<-b.readDone
		b.in.Close()
		b.out.Close()
		if b.master {
			b.in.Unlink()
			b.out.Unlink()
		}
		b.mutex.Release()
		b.disposed.Store(disposedFinished)
		slog.Debug("shmrpc: channel down", "name", b.name, "master", b.master)
	}()
}
