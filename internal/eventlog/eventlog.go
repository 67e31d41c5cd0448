package eventlog

import (
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/no-thanks-backend/internal/engine"
	"github.com/DoyleJ11/no-thanks-backend/internal/store"
	"github.com/DoyleJ11/no-thanks-backend/pkg/types"
)

const (
	ActionSessionCreated = "sessionCreated"
	ActionGameCompleted  = "gameCompleted"
)

type Store interface {
	AppendEventLog(id string, entries ...store.LogEntry) error
	ListEventLogAfter(id, afterID string) ([]store.LogEntry, error)
	NextLogSeq(id string, turn int) (int, error)
}

type Publisher interface {
	PublishEventLog(sessionID, entryID string, payload any) error
}

// Service appends entries to the durable log and mirrors each one to live
// listeners. Record* must be called while holding the session lock so that
// per-turn sequence numbers are not handed out twice.
type Service struct {
	store Store
	pub   Publisher
	log   *zap.Logger
}

func NewService(st Store, pub Publisher, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{store: st, pub: pub, log: log.Named("eventlog")}
}

type ActionRecord struct {
	SessionID  string
	Turn       int
	Actor      string
	Action     engine.Action
	At         time.Time
	ChipsDelta map[string]int
	Details    map[string]any
}

func (s *Service) RecordAction(r ActionRecord) (store.LogEntry, error) {
	return s.record(r.SessionID, store.LogEntry{
		Turn:       r.Turn,
		Actor:      r.Actor,
		Action:     string(r.Action),
		Timestamp:  r.At,
		ChipsDelta: r.ChipsDelta,
		Details:    r.Details,
	})
}

func (s *Service) RecordSystemEvent(sessionID string, turn int, action string, at time.Time, details map[string]any) (store.LogEntry, error) {
	return s.record(sessionID, store.LogEntry{
		Turn:      turn,
		Actor:     engine.SystemPlayerID,
		Action:    action,
		Timestamp: at,
		Details:   details,
	})
}

func (s *Service) record(sessionID string, e store.LogEntry) (store.LogEntry, error) {
	seq, err := s.store.NextLogSeq(sessionID, e.Turn)
	if err != nil {
		return store.LogEntry{}, err
	}
	e.ID = EntryID(e.Turn, seq)

	if err := s.store.AppendEventLog(sessionID, e); err != nil {
		return store.LogEntry{}, err
	}
	if s.pub != nil {
		if err := s.pub.PublishEventLog(sessionID, e.ID, e); err != nil {
			s.log.Warn("event log broadcast failed",
				zap.String("session_id", sessionID),
				zap.String("entry_id", e.ID),
				zap.Error(err),
			)
		}
	}
	return e, nil
}

// FramesAfter encodes every entry after afterID, in log order, the way live
// listeners receive them. An empty or unknown cursor yields the full log.
func (s *Service) FramesAfter(sessionID, afterID string) ([]types.Frame, error) {
	entries, err := s.store.ListEventLogAfter(sessionID, afterID)
	if err != nil {
		return nil, err
	}
	out := make([]types.Frame, 0, len(entries))
	for _, e := range entries {
		f, err := Frame(e)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

func EntryID(turn, seq int) string {
	return fmt.Sprintf("turn-%d-log-%d", turn, seq)
}

// Frame encodes an entry the way live listeners receive it.
func Frame(e store.LogEntry) (types.Frame, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return types.Frame{}, fmt.Errorf("encode log entry %s: %w", e.ID, err)
	}
	return types.Frame{ID: e.ID, Event: types.EventLog, Data: string(data)}, nil
}
