// Package fastipc implements lock-free single-producer/single-consumer
// ring channels moving cache-line-sized messages between two pinned
// endpoints with bounded, predictable latency.
package fastipc

import (
	"errors"
	"sync/atomic"
)

var (
	ErrBufferFull  = errors.New("fastipc: ring is full")
	ErrBufferEmpty = errors.New("fastipc: ring is empty")
	ErrTimeout     = errors.New("fastipc: call timed out")
)

// cacheLinePad reserves the rest of a 64-byte cache line after one uint64,
// so that two atomics placed in adjacent fields never share a line.
type cacheLinePad [7]uint64

// ring is a fixed power-of-two-capacity SPSC ring of Messages. writePos and
// readPos are the only mutable state and live on separate cache lines;
// there is exactly one producer and one consumer, by construction (the two
// Endpoint halves returned by CreatePair are the only way to reach a
// ring's slots).
type ring struct {
	writePos uint64
	_        cacheLinePad
	readPos  uint64
	_        cacheLinePad

	mask  uint64
	slots []Message
}

func newRing(capacity int) *ring {
	if capacity <= 0 || capacity&(capacity-1) != 0 {
		panic("fastipc: ring capacity must be a power of two")
	}
	return &ring{
		mask:  uint64(capacity - 1),
		slots: make([]Message, capacity),
	}
}

func (r *ring) capacity() uint64 { return uint64(len(r.slots)) }

// trySend is non-blocking. It succeeds iff write-read < capacity.
func (r *ring) trySend(msg Message) error {
	write := atomic.LoadUint64(&r.writePos)
	read := atomic.LoadUint64(&r.readPos)
	if write-read >= r.capacity() {
		return ErrBufferFull
	}
	r.slots[write&r.mask] = msg
	atomic.StoreUint64(&r.writePos, write+1)
	return nil
}

// tryRecv is non-blocking. It succeeds iff read != write (as observed
// under acquire ordering on writePos).
func (r *ring) tryRecv() (Message, error) {
	read := atomic.LoadUint64(&r.readPos)
	write := atomic.LoadUint64(&r.writePos)
	if read == write {
		return Message{}, ErrBufferEmpty
	}
	msg := r.slots[read&r.mask]
	atomic.StoreUint64(&r.readPos, read+1)
	return msg, nil
}

func (r *ring) isEmpty() bool {
	return atomic.LoadUint64(&r.readPos) == atomic.LoadUint64(&r.writePos)
}

func (r *ring) isFull() bool {
	return atomic.LoadUint64(&r.writePos)-atomic.LoadUint64(&r.readPos) >= r.capacity()
}

func (r *ring) len() uint64 {
	return atomic.LoadUint64(&r.writePos) - atomic.LoadUint64(&r.readPos)
}
