package fastipc

import (
	"context"
	"runtime"
	"time"

	"github.com/splax-s/splax-os-sub001/internal/coremetrics"
	"github.com/splax-s/splax-os-sub001/internal/coretypes"
)

// DefaultCapacity is the ring capacity used when a caller does not
// override it; must be a power of two.
const DefaultCapacity = 256

// spinIterationsBetweenPause bounds how many bare spin iterations Call
// performs before yielding the goroutine — the software equivalent of a
// PAUSE instruction hint.
const spinIterationsBetweenPause = 64

// Endpoint is one side of a channel pair: it sends on tx and
// receives on rx. The two Endpoints returned by CreatePair have their
// tx/rx crossed, so each side's send lands on the other's receive.
type Endpoint struct {
	name string
	tx   *ring
	rx   *ring
}

// CreatePair allocates a ring pair for serviceID between clientPID and
// serverPID and hands back two endpoints whose TX/RX are crossed. The
// endpoints are the only way to reach the pair's slots; when both are
// dropped the rings become unreachable.
func CreatePair(serviceID string, clientPID, serverPID coretypes.ProcessID, capacity int) (client, server *Endpoint) {
	if capacity == 0 {
		capacity = DefaultCapacity
	}
	clientToServer := newRing(capacity)
	serverToClient := newRing(capacity)

	client = &Endpoint{name: serviceID + ":client", tx: clientToServer, rx: serverToClient}
	server = &Endpoint{name: serviceID + ":server", tx: serverToClient, rx: clientToServer}
	return client, server
}

// TrySend is non-blocking; it returns ErrBufferFull if the ring is full,
// in which case msg is not enqueued and the caller keeps its own copy.
func (e *Endpoint) TrySend(msg Message) error {
	err := e.tx.trySend(msg)
	coremetrics.FastIPCRingDepth.WithLabelValues(e.name).Set(float64(e.tx.len()))
	return err
}

// TryRecv is non-blocking; it returns ErrBufferEmpty if no message is
// available.
func (e *Endpoint) TryRecv() (Message, error) {
	msg, err := e.rx.tryRecv()
	coremetrics.FastIPCRingDepth.WithLabelValues(e.name).Set(float64(e.rx.len()))
	return msg, err
}

func (e *Endpoint) IsEmpty() bool { return e.rx.isEmpty() }
func (e *Endpoint) IsFull() bool  { return e.tx.isFull() }
func (e *Endpoint) Len() uint64   { return e.rx.len() }

// Call is a blocking convenience built on TrySend + a spin-wait on
// TryRecv, bounded by budget: a bounded wait, then Timeout. ctx, if
// cancelled first, also yields Timeout.
func (e *Endpoint) Call(ctx context.Context, req Message, budget time.Duration) (Message, error) {
	if err := e.TrySend(req); err != nil {
		return Message{}, err
	}

	deadline := time.Now().Add(budget)
	iterations := 0
	for {
		if msg, err := e.TryRecv(); err == nil {
			return msg, nil
		}

		iterations++
		if iterations%spinIterationsBetweenPause == 0 {
			runtime.Gosched()
		}

		select {
		case <-ctx.Done():
			coremetrics.FastIPCTimeoutsTotal.WithLabelValues(e.name).Inc()
			return Message{}, ErrTimeout
		default:
		}

		if time.Now().After(deadline) {
			coremetrics.FastIPCTimeoutsTotal.WithLabelValues(e.name).Inc()
			return Message{}, ErrTimeout
		}
	}
}
