package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/DoyleJ11/no-thanks-backend/internal/engine"
	"github.com/DoyleJ11/no-thanks-backend/internal/eventlog"
	"github.com/DoyleJ11/no-thanks-backend/internal/hub"
	"github.com/DoyleJ11/no-thanks-backend/internal/store"
	"github.com/DoyleJ11/no-thanks-backend/internal/turn"
	"github.com/DoyleJ11/no-thanks-backend/internal/types"
	pub "github.com/DoyleJ11/no-thanks-backend/pkg/types"
)

func setup(t *testing.T) (*httptest.Server, turn.Result) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	log := zaptest.NewLogger(t)
	st := store.New(log)
	h := hub.NewHub(ctx, hub.WithLogger(log))
	svc := turn.NewService(turn.Deps{
		Store:       st,
		Events:      eventlog.NewService(st, h, log),
		Broadcaster: h,
		NewID:       func() string { return "s1" },
		Log:         log,
		TurnTimeout: time.Hour,
	})
	res, err := svc.CreateSession(ctx, turn.CreateSessionInput{
		Players: []engine.Player{{ID: "ana", DisplayName: "Ana"}, {ID: "bo", DisplayName: "Bo"}},
		Seed:    "ws-seed",
	})
	require.NoError(t, err)

	r := chi.NewRouter()
	r.Get("/sessions/{id}/ws", Handler(Deps{Service: svc, Hub: h, Log: log}))
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, res
}

func dial(t *testing.T, srv *httptest.Server, path string) (*websocket.Conn, context.Context) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+path, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn, ctx
}

// recvFrame decodes the next message as both a stream frame and a reply.
func recvFrame(t *testing.T, ctx context.Context, conn *websocket.Conn) (pub.Frame, types.ServerMessage) {
	t.Helper()
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var f pub.Frame
	var m types.ServerMessage
	require.NoError(t, json.Unmarshal(data, &f))
	require.NoError(t, json.Unmarshal(data, &m))
	return f, m
}

func TestHandler_ReplaysThenStreams(t *testing.T) {
	srv, res := setup(t)
	conn, ctx := dial(t, srv, "/sessions/s1/ws")

	want := []string{pub.EventLog, pub.EventStateDelta, pub.EventRuleHint}
	for _, ev := range want {
		f, _ := recvFrame(t, ctx, conn)
		assert.Equal(t, ev, f.Event)
	}

	cmd := types.ClientMessage{Type: "command", CommandRequest: types.CommandRequest{
		CommandID:       "c1",
		ExpectedVersion: res.Version,
		PlayerID:        res.Snapshot.TurnState.CurrentPlayerID,
		Action:          string(engine.ActionPlaceChip),
	}}
	payload, err := json.Marshal(cmd)
	require.NoError(t, err)
	require.NoError(t, conn.Write(ctx, websocket.MessageText, payload))

	var (
		acked  bool
		events []string
	)
	for !acked || len(events) < 3 {
		f, m := recvFrame(t, ctx, conn)
		if m.Type == "ack" {
			acked = true
			assert.Equal(t, "c1", m.CommandID)
			assert.NotEqual(t, res.Version, m.Version)
			continue
		}
		events = append(events, f.Event)
	}
	assert.Equal(t, []string{pub.EventLog, pub.EventStateDelta, pub.EventRuleHint}, events)
}

func TestHandler_CommandErrors(t *testing.T) {
	srv, _ := setup(t)
	// msg-2 is the newest frame, so nothing replays
	conn, ctx := dial(t, srv, "/sessions/s1/ws?lastEventId=msg-2")

	cases := []struct {
		name string
		raw  string
		code string
	}{
		{"bad json", "{", types.CodeInvalidRequest},
		{"unknown type", `{"type":"chat"}`, types.CodeInvalidRequest},
		{"missing command id", `{"type":"command","expectedVersion":"old","playerId":"ana","action":"takeCard"}`, types.CodeInvalidRequest},
		{"stale version", `{"type":"command","commandId":"x","expectedVersion":"old","playerId":"ana","action":"takeCard"}`, "STATE_VERSION_MISMATCH"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(tc.raw)))
			_, m := recvFrame(t, ctx, conn)
			assert.Equal(t, "error", m.Type)
			require.NotNil(t, m.Error)
			assert.Equal(t, tc.code, m.Error.Code)
		})
	}
}

func TestHandler_ResumeSendsOnlyMissedFrames(t *testing.T) {
	srv, res := setup(t)
	conn, ctx := dial(t, srv, "/sessions/s1/ws")
	for i := 0; i < 3; i++ {
		recvFrame(t, ctx, conn)
	}
	payload, err := json.Marshal(types.ClientMessage{Type: "command", CommandRequest: types.CommandRequest{
		CommandID:       "c1",
		ExpectedVersion: res.Version,
		PlayerID:        res.Snapshot.TurnState.CurrentPlayerID,
		Action:          string(engine.ActionPlaceChip),
	}})
	require.NoError(t, err)
	require.NoError(t, conn.Write(ctx, websocket.MessageText, payload))

	var last string
	for n := 0; n < 4; n++ {
		f, m := recvFrame(t, ctx, conn)
		if m.Type != "ack" {
			last = f.ID
		}
	}
	require.Equal(t, "msg-4", last)

	cases := []struct {
		cursor string
		want   []string
	}{
		{"msg-4", []string{}},
		{"turn-0-log-2", []string{"msg-3", "msg-4"}},
		{"msg-2", []string{"turn-0-log-2", "msg-3", "msg-4"}},
	}
	for _, tc := range cases {
		t.Run(tc.cursor, func(t *testing.T) {
			conn, ctx := dial(t, srv, "/sessions/s1/ws?lastEventId="+tc.cursor)
			// the reply to a bad message marks the end of the replay
			require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(`{"type":"ping"}`)))

			got := []string{}
			for {
				f, m := recvFrame(t, ctx, conn)
				if m.Type == "error" {
					break
				}
				got = append(got, f.ID)
			}
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestHandler_UnknownSession(t *testing.T) {
	srv, _ := setup(t)
	resp, err := http.Get(srv.URL + "/sessions/nope/ws")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
