package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/no-thanks-backend/pkg/types"
)

const DefaultHistorySize = 100

var ErrHubClosed = errors.New("hub closed")

type HubMsg interface{ isHubMsg() }

type connect struct {
	SessionID   string
	LastEventID string
	Outbox      chan types.Frame
	Reply       chan Subscription
}

type disconnect struct {
	SessionID  string
	ListenerID string
	Reply      chan int
}

type publish struct {
	SessionID string
	ID        string // empty: assign the next gateway id
	Event     string
	Data      string
	Retain    bool
}

type countListeners struct {
	SessionID string
	Reply     chan int
}

type shutdownHub struct{}

func (connect) isHubMsg()        {}
func (disconnect) isHubMsg()     {}
func (publish) isHubMsg()        {}
func (countListeners) isHubMsg() {}
func (shutdownHub) isHubMsg()    {}

// retained is a history entry. logID is the newest event log entry
// published before the frame, so a gateway cursor also positions the log.
type retained struct {
	frame types.Frame
	seq   int
	logID string
}

type sessionChannel struct {
	listeners map[string]chan types.Frame
	history   []retained
	seq       int
	lastLogID string
	logMarks  map[string]int // log entry id -> gateway seq when it went out
}

// Hub fans frames out to every listener of a session. All listener and
// history bookkeeping happens on the loop goroutine.
type Hub struct {
	inbox       chan HubMsg
	sessions    map[string]*sessionChannel
	historySize int
	log         *zap.Logger
	ctx         context.Context
	cancel      context.CancelFunc
}

type Option func(*Hub)

func WithHistorySize(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.historySize = n
		}
	}
}

func WithLogger(log *zap.Logger) Option {
	return func(h *Hub) {
		if log != nil {
			h.log = log.Named("hub")
		}
	}
}

func NewHub(parent context.Context, opts ...Option) *Hub {
	ctx, cancel := context.WithCancel(parent)
	h := &Hub{
		inbox:       make(chan HubMsg, 64),
		sessions:    make(map[string]*sessionChannel),
		historySize: DefaultHistorySize,
		log:         zap.NewNop(),
		ctx:         ctx,
		cancel:      cancel,
	}
	for _, opt := range opts {
		opt(h)
	}
	go h.loop()
	return h
}

// Subscription is a registered listener. Replay holds the retained frames
// the listener missed; live frames arrive on the outbox passed to Connect.
//
// Event log entries are not retained by the hub. LogAfter is the log cursor
// matching the resume point and LogHead the newest entry published before
// the listener was registered: entries in (LogAfter, LogHead] must be
// replayed from the log, later ones arrive live.
type Subscription struct {
	ID        string
	SessionID string
	Replay    []types.Frame
	LogAfter  string
	LogHead   string

	replayLogIDs []string
	hub          *Hub
}

// Merge interleaves log frames with Replay in the order they were first
// published. logFrames must be the log after LogAfter; entries past LogHead
// are dropped since the outbox delivers them.
func (s Subscription) Merge(logFrames []types.Frame) []types.Frame {
	head := slices.IndexFunc(logFrames, func(f types.Frame) bool { return f.ID == s.LogHead })
	if s.LogHead == "" || head < 0 {
		logFrames = nil
	} else {
		logFrames = logFrames[:head+1]
	}

	out := make([]types.Frame, 0, len(s.Replay)+len(logFrames))
	next := 0
	for i, f := range s.Replay {
		if mark := s.replayLogIDs[i]; mark != "" {
			if j := slices.IndexFunc(logFrames[next:], func(l types.Frame) bool { return l.ID == mark }); j >= 0 {
				out = append(out, logFrames[next:next+j+1]...)
				next += j + 1
			}
		}
		out = append(out, f)
	}
	return append(out, logFrames[next:]...)
}

// Disconnect removes the listener, closes its outbox and reports how many
// listeners remain on the session.
func (s Subscription) Disconnect() int {
	if s.hub == nil {
		return 0
	}
	reply := make(chan int, 1)
	if !s.hub.send(disconnect{SessionID: s.SessionID, ListenerID: s.ID, Reply: reply}) {
		return 0
	}
	select {
	case n := <-reply:
		return n
	case <-s.hub.ctx.Done():
		return 0
	}
}

// Connect registers outbox as a listener on sessionID. lastEventID may name
// a gateway frame or an event log entry; either way the subscription carries
// what was published after it. An empty or unknown cursor replays the whole
// retained history and the whole log. outbox is closed by the hub when the
// listener is removed, including when it is dropped for falling behind.
func (h *Hub) Connect(ctx context.Context, sessionID, lastEventID string, outbox chan types.Frame) (Subscription, error) {
	reply := make(chan Subscription, 1)
	msg := connect{SessionID: sessionID, LastEventID: lastEventID, Outbox: outbox, Reply: reply}
	select {
	case h.inbox <- msg:
	case <-ctx.Done():
		return Subscription{}, ctx.Err()
	case <-h.ctx.Done():
		return Subscription{}, ErrHubClosed
	}
	select {
	case sub := <-reply:
		return sub, nil
	case <-ctx.Done():
		// the hub already has the connect; undo it once it lands
		select {
		case sub := <-reply:
			sub.Disconnect()
		case <-h.ctx.Done():
		}
		return Subscription{}, ctx.Err()
	case <-h.ctx.Done():
		return Subscription{}, ErrHubClosed
	}
}

func (h *Hub) PublishStateDelta(sessionID string, payload any) error {
	return h.publishJSON(sessionID, "", types.EventStateDelta, payload, true)
}

func (h *Hub) PublishStateFinal(sessionID string, payload any) error {
	return h.publishJSON(sessionID, "", types.EventStateFinal, payload, true)
}

func (h *Hub) PublishSystemError(sessionID string, payload any) error {
	return h.publishJSON(sessionID, "", types.EventSystemError, payload, true)
}

func (h *Hub) PublishRuleHint(sessionID string, payload any) error {
	return h.publishJSON(sessionID, "", types.EventRuleHint, payload, true)
}

// PublishEventLog delivers a log entry live without retaining it; the
// durable copy lives in the session's event log.
func (h *Hub) PublishEventLog(sessionID, entryID string, payload any) error {
	return h.publishJSON(sessionID, entryID, types.EventLog, payload, false)
}

func (h *Hub) Listeners(sessionID string) int {
	reply := make(chan int, 1)
	if !h.send(countListeners{SessionID: sessionID, Reply: reply}) {
		return 0
	}
	select {
	case n := <-reply:
		return n
	case <-h.ctx.Done():
		return 0
	}
}

func (h *Hub) Shutdown() {
	h.send(shutdownHub{})
}

func (h *Hub) publishJSON(sessionID, id, event string, payload any, retain bool) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", event, err)
	}
	if !h.send(publish{SessionID: sessionID, ID: id, Event: event, Data: string(data), Retain: retain}) {
		return ErrHubClosed
	}
	return nil
}

func (h *Hub) send(m HubMsg) bool {
	if h.ctx.Err() != nil {
		return false
	}
	select {
	case h.inbox <- m:
		return true
	case <-h.ctx.Done():
		return false
	}
}

func (h *Hub) loop() {
	for {
		select {
		case <-h.ctx.Done():
			h.shutdown()
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case connect:
				sc := h.channel(msg.SessionID)
				sub := sc.resume(msg.LastEventID)
				sub.ID = uuid.NewString()
				sub.SessionID = msg.SessionID
				sub.hub = h
				sc.listeners[sub.ID] = msg.Outbox
				msg.Reply <- sub
				h.log.Debug("listener connected",
					zap.String("session_id", msg.SessionID),
					zap.String("last_event_id", msg.LastEventID),
					zap.Int("listeners", len(sc.listeners)),
				)

			case disconnect:
				sc := h.channel(msg.SessionID)
				if ch, ok := sc.listeners[msg.ListenerID]; ok {
					close(ch)
					delete(sc.listeners, msg.ListenerID)
				}
				msg.Reply <- len(sc.listeners)

			case publish:
				sc := h.channel(msg.SessionID)
				frame := types.Frame{ID: msg.ID, Event: msg.Event, Data: msg.Data}
				if frame.ID == "" {
					sc.seq++
					frame.ID = fmt.Sprintf("msg-%d", sc.seq)
				}
				if msg.Event == types.EventLog {
					sc.lastLogID = frame.ID
					sc.logMarks[frame.ID] = sc.seq
				}
				if msg.Retain {
					sc.history = append(sc.history, retained{frame: frame, seq: sc.seq, logID: sc.lastLogID})
					if over := len(sc.history) - h.historySize; over > 0 {
						sc.history = append(sc.history[:0:0], sc.history[over:]...)
					}
				}
				h.broadcast(msg.SessionID, sc, frame)

			case countListeners:
				n := 0
				if sc := h.sessions[msg.SessionID]; sc != nil {
					n = len(sc.listeners)
				}
				msg.Reply <- n

			case shutdownHub:
				h.shutdown()
				return
			}
		}
	}
}

func (h *Hub) channel(sessionID string) *sessionChannel {
	sc := h.sessions[sessionID]
	if sc == nil {
		sc = &sessionChannel{
			listeners: make(map[string]chan types.Frame),
			logMarks:  make(map[string]int),
		}
		h.sessions[sessionID] = sc
	}
	return sc
}

func (h *Hub) broadcast(sessionID string, sc *sessionChannel, frame types.Frame) {
	for id, ch := range sc.listeners {
		select {
		case ch <- frame:
		default:
			// Listener is slow/full - drop it.
			close(ch)
			delete(sc.listeners, id)
			h.log.Info("dropped slow listener",
				zap.String("session_id", sessionID),
				zap.String("listener_id", id),
			)
		}
	}
}

func (h *Hub) shutdown() {
	for _, sc := range h.sessions {
		for id, ch := range sc.listeners {
			close(ch)
			delete(sc.listeners, id)
		}
	}
	h.cancel()
}

// resume resolves a cursor from either id space. A gateway id resumes the
// log from the entry that preceded that frame; a log id resumes the ring
// after the last frame published before that entry.
func (sc *sessionChannel) resume(cursor string) Subscription {
	start, logAfter := 0, ""
	if cursor != "" {
		if i := slices.IndexFunc(sc.history, func(r retained) bool { return r.frame.ID == cursor }); i >= 0 {
			start, logAfter = i+1, sc.history[i].logID
		} else if seq, ok := sc.logMarks[cursor]; ok {
			start = slices.IndexFunc(sc.history, func(r retained) bool { return r.seq > seq })
			if start < 0 {
				start = len(sc.history)
			}
			logAfter = cursor
		}
	}

	n := len(sc.history) - start
	sub := Subscription{
		Replay:       make([]types.Frame, 0, n),
		LogAfter:     logAfter,
		LogHead:      sc.lastLogID,
		replayLogIDs: make([]string, 0, n),
	}
	for _, r := range sc.history[start:] {
		sub.Replay = append(sub.Replay, r.frame)
		sub.replayLogIDs = append(sub.replayLogIDs, r.logID)
	}
	return sub
}
