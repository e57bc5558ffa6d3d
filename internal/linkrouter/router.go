package linkrouter

import (
	"sync"

	"github.com/splax-s/splax-os-sub001/internal/corelog"
)

type endpointPair struct {
	a, b string
}

func normalize(x, y string) endpointPair {
	if x <= y {
		return endpointPair{x, y}
	}
	return endpointPair{y, x}
}

// Router owns every Channel in the core and the pub/sub topic table. A
// single mutex guards the bookkeeping maps; the Channels themselves carry
// their own per-side locks so that a Send/Request/Receive never blocks on
// Router-wide state once the Channel has been looked up (mirrors the
// drop-the-table-lock-before-cross-subsystem-call discipline used by
// internal/cap.Table and internal/proc.Manager).
type Router struct {
	mu     sync.RWMutex
	nextID ChannelID
	byID   map[ChannelID]*Channel
	byPair map[endpointPair]*Channel
	topics map[string]map[string]chan Message // topic -> subscriber -> buffered channel
}

// NewRouter constructs an empty Router.
func NewRouter() *Router {
	return &Router{
		byID:   make(map[ChannelID]*Channel),
		byPair: make(map[endpointPair]*Channel),
		topics: make(map[string]map[string]chan Message),
	}
}

// CreateChannel opens a channel between local and remote. The pair is
// unordered: CreateChannel("a","b") and a later CreateChannel("b","a")
// refer to the same link and the second call returns ErrChannelExists.
func (r *Router) CreateChannel(local, remote string) (ChannelID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := normalize(local, remote)
	if _, exists := r.byPair[key]; exists {
		return 0, ErrChannelExists
	}

	r.nextID++
	id := r.nextID
	ch := newChannel(id, local, remote)
	r.byID[id] = ch
	r.byPair[key] = ch

	logger := corelog.WithComponent("linkrouter")
	logger.Debug().
		Uint64("channel_id", uint64(id)).
		Str("local", local).
		Str("remote", remote).
		Msg("channel created")
	return id, nil
}

// Channel looks up a channel by id.
func (r *Router) Channel(id ChannelID) (*Channel, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.byID[id]
	if !ok {
		return nil, ErrChannelNotFound
	}
	return ch, nil
}

// FindChannel looks up the (unordered) channel linking the two named
// endpoints.
func (r *Router) FindChannel(local, remote string) (*Channel, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.byPair[normalize(local, remote)]
	if !ok {
		return nil, ErrChannelNotFound
	}
	return ch, nil
}

// Route delivers an already-constructed Message by looking up the channel
// whose endpoints are (msg.Source, msg.Destination) and enqueueing it onto
// msg.Source's outbound side. It exists alongside Channel.Send/Respond for
// callers that build a Message directly rather than through a specific
// Channel handle.
func (r *Router) Route(msg Message) error {
	ch, err := r.FindChannel(msg.Source, msg.Destination)
	if err != nil {
		return ErrNoRoute
	}
	return ch.deliver(msg)
}

// ListChannels returns every channel's id, in no particular order.
func (r *Router) ListChannels() []ChannelID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]ChannelID, 0, len(r.byID))
	for id := range r.byID {
		ids = append(ids, id)
	}
	return ids
}
