package linkrouter

import "time"

// Subscription is a handle returned by Subscribe; Unsubscribe drops it.
type Subscription struct {
	topic string
	name  string
	ch    chan Message
}

// Events yields Event-typed Messages published on the subscribed topic.
// Delivery is best-effort: a subscriber whose buffer is full misses the
// event rather than stalling the publisher.
func (s *Subscription) Events() <-chan Message { return s.ch }

const subscriberBuffer = 50

// Subscribe registers `subscriber` on `topic` and returns a Subscription
// whose Events() channel receives every subsequent Publish on that topic.
func (r *Router) Subscribe(topic, subscriber string) *Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()

	subs, ok := r.topics[topic]
	if !ok {
		subs = make(map[string]chan Message)
		r.topics[topic] = subs
	}
	ch := make(chan Message, subscriberBuffer)
	subs[subscriber] = ch
	return &Subscription{topic: topic, name: subscriber, ch: ch}
}

// Unsubscribe removes a subscription from its topic and closes its
// channel.
func (r *Router) Unsubscribe(sub *Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()

	subs, ok := r.topics[sub.topic]
	if !ok {
		return
	}
	if ch, ok := subs[sub.name]; ok {
		delete(subs, sub.name)
		close(ch)
	}
}

// Publish fans an Event message out to every current subscriber of topic.
// A subscriber with a full buffer misses the event; Publish never blocks
// on a slow subscriber.
func (r *Router) Publish(topic string, source string, payload Payload) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	subs, ok := r.topics[topic]
	if !ok {
		return 0
	}

	msg := Message{
		Source:      source,
		Destination: topic,
		Type:        TypeEvent,
		Payload:     payload,
		Timestamp:   time.Now(),
	}

	delivered := 0
	for _, ch := range subs {
		select {
		case ch <- msg:
			delivered++
		default:
		}
	}
	return delivered
}
