package linkrouter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCreateChannelRejectsDuplicatePair(t *testing.T) {
	r := NewRouter()
	_, err := r.CreateChannel("a", "b")
	require.NoError(t, err)

	_, err = r.CreateChannel("a", "b")
	require.ErrorIs(t, err, ErrChannelExists)

	_, err = r.CreateChannel("b", "a")
	require.ErrorIs(t, err, ErrChannelExists)
}

func TestFindChannelIsOrderIndependent(t *testing.T) {
	r := NewRouter()
	id, _ := r.CreateChannel("a", "b")

	ch, err := r.FindChannel("b", "a")
	require.NoError(t, err)
	require.Equal(t, id, ch.ID())
}

func TestRouteDeliversConstructedMessage(t *testing.T) {
	r := NewRouter()
	id, _ := r.CreateChannel("a", "b")
	ch, _ := r.Channel(id)

	err := r.Route(Message{Source: "a", Destination: "b", Type: TypeSend, Payload: TextPayload("routed")})
	require.NoError(t, err)

	msg, err := ch.Receive("b")
	require.NoError(t, err)
	require.Equal(t, "routed", msg.Payload.Text)
}

func TestRouteWithoutChannelIsNoRoute(t *testing.T) {
	r := NewRouter()
	err := r.Route(Message{Source: "x", Destination: "y"})
	require.ErrorIs(t, err, ErrNoRoute)
}

func TestChannelNotFound(t *testing.T) {
	r := NewRouter()
	_, err := r.Channel(999)
	require.ErrorIs(t, err, ErrChannelNotFound)
}

// Supplemented property: Publish fans out to every current subscriber of
// a topic.
func TestPublishFansOutToAllSubscribers(t *testing.T) {
	r := NewRouter()
	sub1 := r.Subscribe("svc.health", "watcher-1")
	sub2 := r.Subscribe("svc.health", "watcher-2")

	n := r.Publish("svc.health", "supervisor", TextPayload("service-x:ready"))
	require.Equal(t, 2, n)

	select {
	case msg := <-sub1.Events():
		require.Equal(t, "service-x:ready", msg.Payload.Text)
	case <-time.After(time.Second):
		t.Fatal("subscriber 1 never received event")
	}
	select {
	case msg := <-sub2.Events():
		require.Equal(t, "service-x:ready", msg.Payload.Text)
	case <-time.After(time.Second):
		t.Fatal("subscriber 2 never received event")
	}
}

func TestPublishWithNoSubscribersIsNoop(t *testing.T) {
	r := NewRouter()
	require.Equal(t, 0, r.Publish("nobody.listens", "x", Payload{}))
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	r := NewRouter()
	sub := r.Subscribe("topic", "only")
	r.Unsubscribe(sub)

	n := r.Publish("topic", "x", Payload{})
	require.Equal(t, 0, n)

	_, ok := <-sub.Events()
	require.False(t, ok)
}
