package linkrouter

import (
	"container/list"
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/splax-s/splax-os-sub001/internal/coremetrics"
)

// MaxInlineBytes bounds an inline payload; larger blobs go through a
// shared-memory reference instead (Payload.SharedAddr/SharedSize).
const MaxInlineBytes = 64 * 1024

func validatePayload(p Payload) error {
	switch p.Kind {
	case PayloadBinary:
		if len(p.Binary) > MaxInlineBytes {
			return ErrMessageTooLarge
		}
	case PayloadText:
		if len(p.Text) > MaxInlineBytes {
			return ErrMessageTooLarge
		}
	}
	return nil
}

// pendingRequest tracks a Request this side issued while awaiting its
// matching Response.
type pendingRequest struct {
	sentAt time.Time
}

// side is the per-endpoint state of a Channel: the messages this endpoint
// has enqueued (read by the peer as its inbound), the requests this
// endpoint is waiting on, and whether this endpoint still considers the
// channel open. Close is cooperative and per-side: closing one side does
// not notify or close the other.
type side struct {
	mu      sync.Mutex
	name    string
	out     *list.List // queue of Message, FIFO: PushBack / Front+Remove
	pending map[uint64]pendingRequest
	nextID  uint64
	open    bool
}

func newSide(name string) *side {
	return &side{name: name, out: list.New(), pending: make(map[uint64]pendingRequest), open: true}
}

// Channel is one routed link with two named endpoints. Each endpoint
// has its own outbound queue; an endpoint's inbound view is simply the
// other endpoint's outbound queue, the same crossed pairing
// internal/fastipc.CreatePair uses, generalised from fixed cache-line
// messages to variable-size routed Messages.
type Channel struct {
	id       ChannelID
	serviceA string
	serviceB string
	a        *side
	b        *side
}

func newChannel(id ChannelID, serviceA, serviceB string) *Channel {
	return &Channel{
		id:       id,
		serviceA: serviceA,
		serviceB: serviceB,
		a:        newSide(serviceA),
		b:        newSide(serviceB),
	}
}

// ID returns the channel's identifier.
func (c *Channel) ID() ChannelID { return c.id }

// Endpoints returns the two named endpoints of this channel.
func (c *Channel) Endpoints() (string, string) { return c.serviceA, c.serviceB }

// sides resolves which side belongs to `from` and which is its peer.
// Returns ErrNotParticipant if `from` names neither endpoint.
func (c *Channel) sides(from string) (mine, peer *side, err error) {
	switch from {
	case c.serviceA:
		return c.a, c.b, nil
	case c.serviceB:
		return c.b, c.a, nil
	default:
		return nil, nil, ErrNotParticipant
	}
}

// Send enqueues a one-way message from `from` to its peer. Returns
// ErrChannelClosed if `from`'s side has been closed.
func (c *Channel) Send(from string, payload Payload) error {
	mine, peer, err := c.sides(from)
	if err != nil {
		return err
	}
	if err := validatePayload(payload); err != nil {
		return err
	}
	mine.mu.Lock()
	defer mine.mu.Unlock()
	if !mine.open {
		return ErrChannelClosed
	}
	mine.nextID++
	msg := Message{
		ID:          mine.nextID,
		Source:      from,
		Destination: peer.name,
		Type:        TypeSend,
		Payload:     payload,
		Timestamp:   time.Now(),
	}
	mine.out.PushBack(msg)
	return nil
}

// Request sends a request and blocks (bounded by ctx and timeout) for the
// correlated Response. Ordering within the channel is FIFO in each
// direction; Request scans its own inbound (the peer's outbound queue) for
// the first Response or Error whose CorrelationID matches.
func (c *Channel) Request(ctx context.Context, from string, payload Payload, timeout time.Duration) (Message, error) {
	mine, peer, err := c.sides(from)
	if err != nil {
		return Message{}, err
	}
	if err := validatePayload(payload); err != nil {
		return Message{}, err
	}

	mine.mu.Lock()
	if !mine.open {
		mine.mu.Unlock()
		return Message{}, ErrChannelClosed
	}
	mine.nextID++
	reqID := mine.nextID
	msg := Message{
		ID:          reqID,
		Source:      from,
		Destination: peer.name,
		Type:        TypeRequest,
		Payload:     payload,
		Timestamp:   time.Now(),
	}
	mine.pending[reqID] = pendingRequest{sentAt: time.Now()}
	mine.out.PushBack(msg)
	mine.mu.Unlock()

	timer := coremetrics.NewTimer()
	defer timer.ObserveDurationVec(coremetrics.LinkRequestDuration, peer.name)

	deadline := time.Now().Add(timeout)
	iterations := 0
	for {
		if resp, ok := c.takeResponse(mine, peer, reqID); ok {
			return resp, nil
		}

		iterations++
		if iterations%64 == 0 {
			runtime.Gosched()
		}

		select {
		case <-ctx.Done():
			c.dropPending(mine, reqID)
			coremetrics.LinkRequestTimeoutsTotal.WithLabelValues(peer.name).Inc()
			return Message{}, ErrTimeout
		default:
		}

		if time.Now().After(deadline) {
			c.dropPending(mine, reqID)
			coremetrics.LinkRequestTimeoutsTotal.WithLabelValues(peer.name).Inc()
			return Message{}, ErrTimeout
		}
	}
}

func (c *Channel) dropPending(mine *side, reqID uint64) {
	mine.mu.Lock()
	delete(mine.pending, reqID)
	mine.mu.Unlock()
}

// takeResponse scans peer.out (my inbound) FIFO for the first Response or
// Error correlated to reqID, removing it if found. Messages that are not
// Responses, or Responses correlated to a different/expired request, are
// left queued for an ordinary Receive call.
func (c *Channel) takeResponse(mine, peer *side, reqID uint64) (Message, bool) {
	var (
		msg   Message
		found bool
	)
	peer.mu.Lock()
	for e := peer.out.Front(); e != nil; e = e.Next() {
		m := e.Value.(Message)
		if (m.Type == TypeResponse || m.Type == TypeError) && m.HasCorrelation && m.CorrelationID == reqID {
			peer.out.Remove(e)
			msg = m
			found = true
			break
		}
	}
	// Release peer.mu before touching mine.mu: two concurrent Requests
	// from opposite endpoints take these locks in opposite orders, so
	// holding both at once would deadlock.
	peer.mu.Unlock()

	if !found {
		return Message{}, false
	}
	mine.mu.Lock()
	delete(mine.pending, reqID)
	mine.mu.Unlock()
	return msg, true
}

// Respond answers a Request previously received with requestID, sending
// payload back to the original requester.
func (c *Channel) Respond(from string, requestID uint64, payload Payload) error {
	mine, peer, err := c.sides(from)
	if err != nil {
		return err
	}
	if err := validatePayload(payload); err != nil {
		return err
	}
	mine.mu.Lock()
	defer mine.mu.Unlock()
	if !mine.open {
		return ErrChannelClosed
	}
	mine.nextID++
	msg := Message{
		ID:             mine.nextID,
		Source:         from,
		Destination:    peer.name,
		Type:           TypeResponse,
		Payload:        payload,
		CorrelationID:  requestID,
		HasCorrelation: true,
		Timestamp:      time.Now(),
	}
	mine.out.PushBack(msg)
	return nil
}

// RespondError answers a Request with an Error message instead of a
// successful Response.
func (c *Channel) RespondError(from string, requestID uint64, payload Payload) error {
	mine, peer, err := c.sides(from)
	if err != nil {
		return err
	}
	if err := validatePayload(payload); err != nil {
		return err
	}
	mine.mu.Lock()
	defer mine.mu.Unlock()
	if !mine.open {
		return ErrChannelClosed
	}
	mine.nextID++
	msg := Message{
		ID:             mine.nextID,
		Source:         from,
		Destination:    peer.name,
		Type:           TypeError,
		Payload:        payload,
		CorrelationID:  requestID,
		HasCorrelation: true,
		Timestamp:      time.Now(),
	}
	mine.out.PushBack(msg)
	return nil
}

// Receive dequeues the oldest message addressed to `from` (i.e. the oldest
// entry on the peer's outbound queue), FIFO. Returns ErrNoMessage if none
// is queued. Messages already claimed by an in-flight Request's correlation
// match are not visible here.
func (c *Channel) Receive(from string) (Message, error) {
	_, peer, err := c.sides(from)
	if err != nil {
		return Message{}, err
	}
	peer.mu.Lock()
	defer peer.mu.Unlock()
	front := peer.out.Front()
	if front == nil {
		return Message{}, ErrNoMessage
	}
	peer.out.Remove(front)
	return front.Value.(Message), nil
}

// Close marks `from`'s side of the channel closed. It is cooperative only:
// the peer is not notified and may continue to Send/Request until it
// observes ErrChannelClosed on its own side or simply stops being answered.
func (c *Channel) Close(from string) error {
	mine, _, err := c.sides(from)
	if err != nil {
		return err
	}
	mine.mu.Lock()
	defer mine.mu.Unlock()
	mine.open = false
	return nil
}

// IsOpen reports whether `from`'s side of the channel is still open.
func (c *Channel) IsOpen(from string) bool {
	mine, _, err := c.sides(from)
	if err != nil {
		return false
	}
	mine.mu.Lock()
	defer mine.mu.Unlock()
	return mine.open
}

// deliver is used by Router.Route to enqueue an externally-constructed
// Message (e.g. one already carrying its own id and correlation) onto the
// outbound queue matching msg.Source.
func (c *Channel) deliver(msg Message) error {
	mine, _, err := c.sides(msg.Source)
	if err != nil {
		return err
	}
	mine.mu.Lock()
	defer mine.mu.Unlock()
	if !mine.open {
		return ErrChannelClosed
	}
	mine.out.PushBack(msg)
	return nil
}
