package fastipc

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/splax-s/splax-os-sub001/internal/coretypes"
)

func TestRingFullAndDrain(t *testing.T) {
	client, server := CreatePair("svc", coretypes.ProcessID(2), coretypes.ProcessID(3), 4)

	for _, tag := range []uint64{10, 11, 12, 13} {
		require.NoError(t, client.TrySend(Message{Tag: tag}))
	}

	err := client.TrySend(Message{Tag: 14})
	require.ErrorIs(t, err, ErrBufferFull)

	for _, want := range []uint64{10, 11, 12, 13} {
		msg, err := server.TryRecv()
		require.NoError(t, err)
		require.Equal(t, want, msg.Tag)
	}

	_, err = server.TryRecv()
	require.ErrorIs(t, err, ErrBufferEmpty)
}

func TestRingRejectsNonPowerOfTwoCapacity(t *testing.T) {
	require.Panics(t, func() {
		newRing(3)
	})
}

func TestRoundTripPreservesOrderAndLen(t *testing.T) {
	client, server := CreatePair("svc", 2, 3, 8)

	sent := 0
	for _, tag := range []uint64{1, 2, 3, 4, 5} {
		require.NoError(t, client.TrySend(Message{Tag: tag}))
		sent++
	}

	received := 0
	msg, err := server.TryRecv()
	require.NoError(t, err)
	require.Equal(t, uint64(1), msg.Tag)
	received++

	require.Equal(t, uint64(sent-received), server.Len())
}

func TestCallTimesOutWhenNoResponder(t *testing.T) {
	client, _ := CreatePair("svc", 2, 3, 4)

	start := time.Now()
	_, err := client.Call(context.Background(), Message{Tag: 1}, 30*time.Millisecond)
	require.ErrorIs(t, err, ErrTimeout)
	require.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestCallSucceedsWhenPeerResponds(t *testing.T) {
	client, server := CreatePair("svc", 2, 3, 4)

	go func() {
		for {
			if msg, err := server.TryRecv(); err == nil {
				_ = server.TrySend(Message{Tag: msg.Tag + 1})
				return
			}
		}
	}()

	resp, err := client.Call(context.Background(), Message{Tag: 41}, time.Second)
	require.NoError(t, err)
	require.Equal(t, uint64(42), resp.Tag)
}

func TestCallHonorsContextCancellation(t *testing.T) {
	client, _ := CreatePair("svc", 2, 3, 4)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := client.Call(ctx, Message{Tag: 1}, time.Minute)
	require.ErrorIs(t, err, ErrTimeout)
}
