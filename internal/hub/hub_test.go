package hub

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/no-thanks-backend/pkg/types"
)

// helper: receive one frame with a timeout so tests never hang
func recvFrame(t *testing.T, ch <-chan types.Frame, within time.Duration) types.Frame {
	t.Helper()
	select {
	case f, ok := <-ch:
		if !ok {
			t.Fatalf("listener outbox closed unexpectedly")
		}
		return f
	case <-time.After(within):
		t.Fatalf("timed out waiting for frame")
		return types.Frame{}
	}
}

func newTestHub(t *testing.T, opts ...Option) *Hub {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return NewHub(ctx, opts...)
}

func frameIDs(frames []types.Frame) []string {
	ids := []string{}
	for _, f := range frames {
		ids = append(ids, f.ID)
	}
	return ids
}

func TestHub_BroadcastsToAllListeners(t *testing.T) {
	h := newTestHub(t)
	ctx := context.Background()

	a := make(chan types.Frame, 4)
	b := make(chan types.Frame, 4)
	_, err := h.Connect(ctx, "s1", "", a)
	require.NoError(t, err)
	_, err = h.Connect(ctx, "s1", "", b)
	require.NoError(t, err)
	other := make(chan types.Frame, 4)
	_, err = h.Connect(ctx, "s2", "", other)
	require.NoError(t, err)

	require.NoError(t, h.PublishStateDelta("s1", map[string]int{"pot": 1}))

	fa := recvFrame(t, a, 100*time.Millisecond)
	fb := recvFrame(t, b, 100*time.Millisecond)
	assert.Equal(t, fa, fb)
	assert.Equal(t, types.EventStateDelta, fa.Event)
	assert.Equal(t, "msg-1", fa.ID)
	assert.JSONEq(t, `{"pot":1}`, fa.Data)

	assert.Equal(t, 2, h.Listeners("s1"))
	assert.Empty(t, other)
}

func TestHub_ReplayAfterLastEventID(t *testing.T) {
	h := newTestHub(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, h.PublishRuleHint("s1", i))
	}
	// a listener joining now sees everything retained so far
	sub, err := h.Connect(ctx, "s1", "", make(chan types.Frame, 4))
	require.NoError(t, err)
	assert.Equal(t, []string{"msg-1", "msg-2", "msg-3"}, frameIDs(sub.Replay))

	sub, err = h.Connect(ctx, "s1", "msg-2", make(chan types.Frame, 4))
	require.NoError(t, err)
	assert.Equal(t, []string{"msg-3"}, frameIDs(sub.Replay))

	sub, err = h.Connect(ctx, "s1", "msg-3", make(chan types.Frame, 4))
	require.NoError(t, err)
	assert.Empty(t, sub.Replay)

	sub, err = h.Connect(ctx, "s1", "unknown", make(chan types.Frame, 4))
	require.NoError(t, err)
	assert.Len(t, sub.Replay, 3)
}

func TestHub_ReconnectGetsExactlyMissedFrames(t *testing.T) {
	h := newTestHub(t)
	ctx := context.Background()

	out := make(chan types.Frame, 8)
	sub, err := h.Connect(ctx, "s1", "", out)
	require.NoError(t, err)
	require.NoError(t, h.PublishStateDelta("s1", 1))
	last := recvFrame(t, out, 100*time.Millisecond)
	sub.Disconnect()

	require.NoError(t, h.PublishStateDelta("s1", 2))
	require.NoError(t, h.PublishSystemError("s1", "boom"))

	sub, err = h.Connect(ctx, "s1", last.ID, make(chan types.Frame, 8))
	require.NoError(t, err)
	require.Len(t, sub.Replay, 2)
	assert.Equal(t, "2", sub.Replay[0].Data)
	assert.Equal(t, types.EventSystemError, sub.Replay[1].Event)
}

func TestHub_HistoryIsBounded(t *testing.T) {
	h := newTestHub(t, WithHistorySize(5))

	for i := 1; i <= 12; i++ {
		require.NoError(t, h.PublishStateDelta("s1", i))
	}
	sub, err := h.Connect(context.Background(), "s1", "", make(chan types.Frame, 1))
	require.NoError(t, err)

	want := []string{}
	for i := 8; i <= 12; i++ {
		want = append(want, fmt.Sprintf("msg-%d", i))
	}
	assert.Equal(t, want, frameIDs(sub.Replay))
}

func TestHub_EventLogIsNotRetained(t *testing.T) {
	h := newTestHub(t)
	ctx := context.Background()

	live := make(chan types.Frame, 4)
	_, err := h.Connect(ctx, "s1", "", live)
	require.NoError(t, err)

	require.NoError(t, h.PublishEventLog("s1", "turn-0-log-1", map[string]string{"action": "placeChip"}))
	f := recvFrame(t, live, 100*time.Millisecond)
	assert.Equal(t, "turn-0-log-1", f.ID)
	assert.Equal(t, types.EventLog, f.Event)

	sub, err := h.Connect(ctx, "s1", "", make(chan types.Frame, 4))
	require.NoError(t, err)
	assert.Empty(t, sub.Replay)
}

func TestHub_DisconnectReportsRemainingListeners(t *testing.T) {
	h := newTestHub(t)
	ctx := context.Background()

	out := make(chan types.Frame, 1)
	first, err := h.Connect(ctx, "s1", "", out)
	require.NoError(t, err)
	second, err := h.Connect(ctx, "s1", "", make(chan types.Frame, 1))
	require.NoError(t, err)

	assert.Equal(t, 1, first.Disconnect())
	_, open := <-out
	assert.False(t, open, "outbox closed on disconnect")
	assert.Equal(t, 0, second.Disconnect())
	assert.Equal(t, 0, first.Disconnect(), "second disconnect is a no-op")
}

func TestHub_DropSlowListener(t *testing.T) {
	h := newTestHub(t)
	out := make(chan types.Frame, 1)
	_, err := h.Connect(context.Background(), "s1", "", out)
	require.NoError(t, err)

	require.NoError(t, h.PublishStateDelta("s1", 1))
	require.NoError(t, h.PublishStateDelta("s1", 2))

	assert.Equal(t, 0, h.Listeners("s1"))
	<-out
	_, open := <-out
	assert.False(t, open)
}

func TestHub_ShutdownClosesListeners(t *testing.T) {
	h := newTestHub(t)
	out := make(chan types.Frame, 1)
	_, err := h.Connect(context.Background(), "s1", "", out)
	require.NoError(t, err)

	h.Shutdown()

	select {
	case _, open := <-out:
		assert.False(t, open)
	case <-time.After(time.Second):
		t.Fatalf("outbox not closed on shutdown")
	}
	require.Eventually(t, func() bool {
		return errors.Is(h.PublishStateDelta("s1", 1), ErrHubClosed)
	}, time.Second, 5*time.Millisecond)
}

// publishTurn mimics one command: the log entry goes out, then state and hint.
func publishTurn(t *testing.T, h *Hub, logID string) {
	t.Helper()
	require.NoError(t, h.PublishEventLog("s1", logID, logID))
	require.NoError(t, h.PublishStateDelta("s1", logID))
	require.NoError(t, h.PublishRuleHint("s1", logID))
}

func logFrames(ids ...string) []types.Frame {
	out := []types.Frame{}
	for _, id := range ids {
		out = append(out, types.Frame{ID: id, Event: types.EventLog})
	}
	return out
}

func TestHub_CursorResolvesAcrossIDSpaces(t *testing.T) {
	h := newTestHub(t)
	ctx := context.Background()
	publishTurn(t, h, "turn-0-log-1") // msg-1, msg-2
	publishTurn(t, h, "turn-0-log-2") // msg-3, msg-4
	all := logFrames("turn-0-log-1", "turn-0-log-2")

	cases := []struct {
		name      string
		cursor    string
		wantAfter string
		want      []string
	}{
		{"fresh", "", "", []string{"turn-0-log-1", "msg-1", "msg-2", "turn-0-log-2", "msg-3", "msg-4"}},
		{"newest frame", "msg-4", "turn-0-log-2", []string{}},
		{"frame before a log entry", "msg-2", "turn-0-log-1", []string{"turn-0-log-2", "msg-3", "msg-4"}},
		{"log entry", "turn-0-log-2", "turn-0-log-2", []string{"msg-3", "msg-4"}},
		{"first log entry", "turn-0-log-1", "turn-0-log-1", []string{"msg-1", "msg-2", "turn-0-log-2", "msg-3", "msg-4"}},
		{"unknown", "nope", "", []string{"turn-0-log-1", "msg-1", "msg-2", "turn-0-log-2", "msg-3", "msg-4"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sub, err := h.Connect(ctx, "s1", tc.cursor, make(chan types.Frame, 8))
			require.NoError(t, err)
			defer sub.Disconnect()

			assert.Equal(t, tc.wantAfter, sub.LogAfter)
			assert.Equal(t, "turn-0-log-2", sub.LogHead)

			// the caller lists the log after LogAfter
			var listed []types.Frame
			for i, f := range all {
				if f.ID == sub.LogAfter {
					listed = all[i+1:]
				}
			}
			if listed == nil {
				listed = all
			}
			assert.Equal(t, tc.want, frameIDs(sub.Merge(listed)))
		})
	}
}

func TestHub_MergeSkipsEntriesPublishedAfterConnect(t *testing.T) {
	h := newTestHub(t)
	ctx := context.Background()
	publishTurn(t, h, "turn-0-log-1")

	out := make(chan types.Frame, 8)
	sub, err := h.Connect(ctx, "s1", "msg-2", out)
	require.NoError(t, err)
	assert.Equal(t, "turn-0-log-1", sub.LogHead)

	// a command lands between Connect and the log listing
	require.NoError(t, h.PublishEventLog("s1", "turn-1-log-1", "late"))
	assert.Empty(t, sub.Merge(logFrames("turn-1-log-1")), "the outbox delivers it")
	assert.Equal(t, "turn-1-log-1", recvFrame(t, out, 100*time.Millisecond).ID)
}

func TestHub_ResumeAfterHistoryEviction(t *testing.T) {
	h := newTestHub(t, WithHistorySize(2))
	ctx := context.Background()
	publishTurn(t, h, "turn-0-log-1") // msg-1, msg-2 evicted below
	publishTurn(t, h, "turn-1-log-1") // msg-3, msg-4

	sub, err := h.Connect(ctx, "s1", "turn-0-log-1", make(chan types.Frame, 8))
	require.NoError(t, err)
	assert.Equal(t, []string{"turn-1-log-1", "msg-3", "msg-4"}, frameIDs(sub.Merge(logFrames("turn-1-log-1"))))
}

func TestHub_CancelledConnectLeavesNoListener(t *testing.T) {
	h := newTestHub(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for i := 0; i < 50; i++ {
		sub, err := h.Connect(ctx, "s1", "", make(chan types.Frame, 1))
		if err == nil {
			// the hub answered before the cancellation was noticed
			sub.Disconnect()
			continue
		}
		assert.ErrorIs(t, err, context.Canceled)
	}
	assert.Equal(t, 0, h.Listeners("s1"))
}
