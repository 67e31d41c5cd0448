package store

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"

	"github.com/DoyleJ11/no-thanks-backend/internal/engine"
	"github.com/DoyleJ11/no-thanks-backend/internal/gameerr"
)

// LogEntry is one durable line of a session's event log.
type LogEntry struct {
	ID         string         `json:"id"`
	Turn       int            `json:"turn"`
	Actor      string         `json:"actor"`
	Action     string         `json:"action"`
	Timestamp  time.Time      `json:"timestamp"`
	ChipsDelta map[string]int `json:"chipsDelta,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
}

func (e LogEntry) clone() LogEntry {
	e.ChipsDelta = maps.Clone(e.ChipsDelta)
	e.Details = maps.Clone(e.Details)
	return e
}

// Record is what callers see of an envelope: a private copy of the snapshot
// and the version it hashes to.
type Record struct {
	Snapshot engine.Snapshot
	Version  string
}

type SessionSummary struct {
	SessionID string       `json:"sessionId"`
	Version   string       `json:"version"`
	Phase     engine.Phase `json:"phase"`
	UpdatedAt time.Time    `json:"updatedAt"`
}

type envelope struct {
	snapshot  engine.Snapshot
	version   string
	eventLog  []LogEntry
	turnLogs  map[int]int // entries per turn
	processed map[string]struct{}
	lock      *fifoLock
}

// Store keeps every session in memory. mu guards the session map and the
// fields of each envelope; the per-envelope fifoLock serializes commands.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*envelope
	log      *zap.Logger
}

func New(log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{
		sessions: make(map[string]*envelope),
		log:      log.Named("store"),
	}
}

// Version hashes the JSON encoding of s. encoding/json writes struct fields
// in declaration order and map keys sorted, so equal content always yields
// the same version.
func Version(s engine.Snapshot) (string, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return "", err
	}
	sum := blake2b.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

func (st *Store) SaveSnapshot(s engine.Snapshot) (Record, error) {
	version, err := Version(s)
	if err != nil {
		return Record{}, err
	}
	owned := s.Clone()

	st.mu.Lock()
	env, ok := st.sessions[s.SessionID]
	if !ok {
		env = &envelope{
			turnLogs:  make(map[int]int),
			processed: make(map[string]struct{}),
			lock:      &fifoLock{},
		}
		st.sessions[s.SessionID] = env
	}
	env.snapshot = owned
	env.version = version
	st.mu.Unlock()

	st.log.Debug("snapshot saved",
		zap.String("session_id", s.SessionID),
		zap.String("version", version),
		zap.Bool("created", !ok),
	)
	return Record{Snapshot: owned.Clone(), Version: version}, nil
}

func (st *Store) GetSnapshot(id string) (engine.Snapshot, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	env, ok := st.sessions[id]
	if !ok {
		return engine.Snapshot{}, false
	}
	return env.snapshot.Clone(), true
}

func (st *Store) Get(id string) (Record, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	env, ok := st.sessions[id]
	if !ok {
		return Record{}, false
	}
	return Record{Snapshot: env.snapshot.Clone(), Version: env.version}, true
}

// Lock waits for the session's command lock in FIFO order. The returned
// release func must be called exactly once.
func (st *Store) Lock(ctx context.Context, id string) (func(), error) {
	st.mu.RLock()
	env, ok := st.sessions[id]
	st.mu.RUnlock()
	if !ok {
		return nil, gameerr.New(gameerr.ErrSessionNotFound, "session %q not found", id)
	}
	if err := env.lock.Lock(ctx); err != nil {
		return nil, err
	}
	return env.lock.Unlock, nil
}

func (st *Store) AppendEventLog(id string, entries ...LogEntry) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	env, ok := st.sessions[id]
	if !ok {
		return gameerr.New(gameerr.ErrSessionNotFound, "session %q not found", id)
	}
	for _, e := range entries {
		env.eventLog = append(env.eventLog, e.clone())
		env.turnLogs[e.Turn]++
	}
	return nil
}

// NextLogSeq returns the 1-based sequence number the next entry logged for
// turn will carry.
func (st *Store) NextLogSeq(id string, turn int) (int, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	env, ok := st.sessions[id]
	if !ok {
		return 0, gameerr.New(gameerr.ErrSessionNotFound, "session %q not found", id)
	}
	return env.turnLogs[turn] + 1, nil
}

// ListEventLogAfter returns the entries after afterID. An empty or unknown
// cursor yields the whole log.
func (st *Store) ListEventLogAfter(id, afterID string) ([]LogEntry, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	env, ok := st.sessions[id]
	if !ok {
		return nil, gameerr.New(gameerr.ErrSessionNotFound, "session %q not found", id)
	}

	start := 0
	if afterID != "" {
		if i := slices.IndexFunc(env.eventLog, func(e LogEntry) bool { return e.ID == afterID }); i >= 0 {
			start = i + 1
		}
	}
	out := make([]LogEntry, 0, len(env.eventLog)-start)
	for _, e := range env.eventLog[start:] {
		out = append(out, e.clone())
	}
	return out, nil
}

func (st *Store) HasProcessedCommand(id, commandID string) bool {
	st.mu.RLock()
	defer st.mu.RUnlock()
	env, ok := st.sessions[id]
	if !ok {
		return false
	}
	_, done := env.processed[commandID]
	return done
}

func (st *Store) MarkCommandProcessed(id, commandID string) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	env, ok := st.sessions[id]
	if !ok {
		return gameerr.New(gameerr.ErrSessionNotFound, "session %q not found", id)
	}
	env.processed[commandID] = struct{}{}
	return nil
}

// ListSessions returns one summary per session ordered by id.
func (st *Store) ListSessions() []SessionSummary {
	st.mu.RLock()
	defer st.mu.RUnlock()
	out := make([]SessionSummary, 0, len(st.sessions))
	for id, env := range st.sessions {
		out = append(out, SessionSummary{
			SessionID: id,
			Version:   env.version,
			Phase:     env.snapshot.Phase,
			UpdatedAt: env.snapshot.UpdatedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })
	return out
}
