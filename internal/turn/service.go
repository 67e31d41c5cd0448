package turn

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/DoyleJ11/no-thanks-backend/internal/clock"
	"github.com/DoyleJ11/no-thanks-backend/internal/engine"
	"github.com/DoyleJ11/no-thanks-backend/internal/eventlog"
	"github.com/DoyleJ11/no-thanks-backend/internal/gameerr"
	"github.com/DoyleJ11/no-thanks-backend/internal/hint"
	"github.com/DoyleJ11/no-thanks-backend/internal/store"
	"github.com/DoyleJ11/no-thanks-backend/internal/telemetry"
)

const DefaultTurnTimeout = 30 * time.Second

const timeoutCommandBudget = 10 * time.Second

type Broadcaster interface {
	PublishStateDelta(sessionID string, payload any) error
	PublishStateFinal(sessionID string, payload any) error
	PublishSystemError(sessionID string, payload any) error
	PublishRuleHint(sessionID string, payload any) error
}

type Scheduler interface {
	Sync(snap engine.Snapshot)
	Clear(sessionID string)
}

// Deps is everything the service needs, built once at startup.
type Deps struct {
	Store       *store.Store
	Events      *eventlog.Service
	Hints       *hint.Service
	Broadcaster Broadcaster
	Timers      Scheduler
	Monitor     telemetry.Monitor
	Clock       clock.Clock
	NewID       func() string
	Log         *zap.Logger
	TurnTimeout time.Duration
}

type Service struct {
	store       *store.Store
	events      *eventlog.Service
	hints       *hint.Service
	broadcaster Broadcaster
	timers      Scheduler
	monitor     telemetry.Monitor
	clock       clock.Clock
	newID       func() string
	log         *zap.Logger
	turnTimeout time.Duration
}

func NewService(d Deps) *Service {
	s := &Service{
		store:       d.Store,
		events:      d.Events,
		hints:       d.Hints,
		broadcaster: d.Broadcaster,
		timers:      d.Timers,
		monitor:     d.Monitor,
		clock:       d.Clock,
		newID:       d.NewID,
		log:         d.Log,
		turnTimeout: d.TurnTimeout,
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	s.log = s.log.Named("turn")
	if s.clock == nil {
		s.clock = clock.System{}
	}
	if s.monitor == nil {
		s.monitor = telemetry.NewZapMonitor(s.log)
	}
	if s.hints == nil {
		s.hints = hint.NewService()
	}
	if s.newID == nil {
		s.newID = uuid.NewString
	}
	if s.turnTimeout <= 0 {
		s.turnTimeout = DefaultTurnTimeout
	}
	return s
}

type CommandInput struct {
	SessionID       string        `json:"sessionId"`
	CommandID       string        `json:"commandId"`
	ExpectedVersion string        `json:"expectedVersion"`
	PlayerID        string        `json:"playerId"`
	Action          engine.Action `json:"action"`
}

type Result struct {
	Snapshot engine.Snapshot
	Version  string
	Replayed bool
}

// ApplyCommand runs one turn command under the session lock. A command id
// seen before returns the current state untouched. All mutation happens on
// a copy, so a rejected command leaves nothing behind.
func (s *Service) ApplyCommand(ctx context.Context, in CommandInput) (res Result, err error) {
	started := time.Now()
	ctx, finish := telemetry.StartCommandSpan(ctx, in.SessionID, string(in.Action))
	rec := telemetry.CommandRecord{
		SessionID: in.SessionID,
		CommandID: in.CommandID,
		PlayerID:  in.PlayerID,
		Action:    string(in.Action),
	}
	defer func() {
		rec.Duration = time.Since(started)
		switch {
		case err == nil && res.Replayed:
			rec.Outcome = telemetry.OutcomeReplayed
		case err == nil:
			rec.Outcome = telemetry.OutcomeApplied
		default:
			rec.Outcome = telemetry.OutcomeFailed
			if ge, ok := gameerr.As(err); ok {
				rec.Outcome = telemetry.OutcomeRejected
				rec.ErrorCode = string(ge.Code)
			}
		}
		rec.Version = res.Version
		s.monitor.RecordCommand(rec)
		finish(rec.Outcome, rec.ErrorCode)
	}()

	if _, ok := s.store.Get(in.SessionID); !ok {
		return Result{}, gameerr.New(gameerr.ErrSessionNotFound, "session %q not found", in.SessionID)
	}

	lockStart := time.Now()
	release, err := s.store.Lock(ctx, in.SessionID)
	rec.LockWait = time.Since(lockStart)
	if err != nil {
		return Result{}, err
	}
	defer release()

	current, ok := s.store.Get(in.SessionID)
	if !ok {
		return Result{}, gameerr.New(gameerr.ErrSessionNotFound, "session %q not found", in.SessionID)
	}
	if in.CommandID != "" && s.store.HasProcessedCommand(in.SessionID, in.CommandID) {
		return Result{Snapshot: current.Snapshot, Version: current.Version, Replayed: true}, nil
	}
	if in.ExpectedVersion != current.Version {
		return Result{}, gameerr.New(gameerr.ErrStateVersionMismatch,
			"expected version %q, current is %q", in.ExpectedVersion, current.Version)
	}

	prev := current.Snapshot
	out, err := engine.Apply(prev, engine.Command{PlayerID: in.PlayerID, Action: in.Action})
	if err != nil {
		return Result{}, err
	}

	next := out.Snapshot
	now := s.clock.Now()
	next.UpdatedAt = now
	if next.TurnState.AwaitingAction {
		deadline := now.Add(s.turnTimeout)
		next.TurnState.Deadline = &deadline
	} else {
		next.TurnState.Deadline = nil
	}

	if _, err := s.events.RecordAction(actionRecord(in, prev, out, now)); err != nil {
		return Result{}, err
	}
	if out.Completed {
		if _, err := s.events.RecordSystemEvent(in.SessionID, next.TurnState.Turn, eventlog.ActionGameCompleted, now, completionDetails(next)); err != nil {
			return Result{}, err
		}
	}

	saved, err := s.store.SaveSnapshot(next)
	if err != nil {
		return Result{}, err
	}
	if in.CommandID != "" {
		if err := s.store.MarkCommandProcessed(in.SessionID, in.CommandID); err != nil {
			return Result{}, err
		}
	}
	if s.timers != nil {
		s.timers.Sync(saved.Snapshot)
	}

	return Result{Snapshot: saved.Snapshot, Version: saved.Version}, nil
}

// Submit applies the command and, unless it was a replay, pushes the new
// state and a refreshed hint to live listeners.
func (s *Service) Submit(ctx context.Context, in CommandInput) (Result, error) {
	res, err := s.ApplyCommand(ctx, in)
	if err != nil {
		return res, err
	}
	if !res.Replayed {
		s.broadcast(res.Snapshot, res.Version)
	}
	return res, nil
}

// HandleTimeout forces the current player to take the exposed card. It is
// installed as the timer supervisor's callback. Failures are logged and
// reported to listeners; the command is not retried.
func (s *Service) HandleTimeout(sessionID string) {
	ctx, cancel := context.WithTimeout(context.Background(), timeoutCommandBudget)
	defer cancel()

	current, ok := s.store.Get(sessionID)
	if !ok {
		return
	}
	ts := current.Snapshot.TurnState
	if !ts.AwaitingAction || current.Snapshot.Phase == engine.PhaseCompleted {
		return
	}

	in := CommandInput{
		SessionID:       sessionID,
		CommandID:       TimeoutCommandID(ts.Turn),
		ExpectedVersion: current.Version,
		PlayerID:        engine.SystemPlayerID,
		Action:          engine.ActionTakeCard,
	}
	_, err := s.Submit(ctx, in)
	if errors.Is(err, gameerr.ErrStateVersionMismatch) {
		// a player acted first; their command already re-armed the timer
		s.log.Debug("timeout superseded", zap.String("session_id", sessionID))
		return
	}
	if err != nil {
		code := ""
		if ge, ok := gameerr.As(err); ok {
			code = string(ge.Code)
		}
		s.log.Warn("timeout command dropped",
			zap.String("session_id", sessionID),
			zap.String("command_id", in.CommandID),
			zap.String("error_code", code),
			zap.Error(err),
		)
		if s.broadcaster != nil {
			_ = s.broadcaster.PublishSystemError(sessionID, SystemError{
				Code:      code,
				Message:   err.Error(),
				CommandID: in.CommandID,
			})
		}
	}
}

func TimeoutCommandID(turn int) string {
	return fmt.Sprintf("system-timeout-turn-%d", turn)
}

func (s *Service) GetSession(id string) (Result, error) {
	rec, ok := s.store.Get(id)
	if !ok {
		return Result{}, gameerr.New(gameerr.ErrSessionNotFound, "session %q not found", id)
	}
	return Result{Snapshot: rec.Snapshot, Version: rec.Version}, nil
}

func (s *Service) GetResults(id string) (engine.ScoreSummary, error) {
	snap, ok := s.store.GetSnapshot(id)
	if !ok {
		return engine.ScoreSummary{}, gameerr.New(gameerr.ErrSessionNotFound, "session %q not found", id)
	}
	if snap.Phase != engine.PhaseCompleted || snap.FinalResults == nil {
		return engine.ScoreSummary{}, gameerr.ErrResultNotReady
	}
	return *snap.FinalResults, nil
}

func (s *Service) GetHint(id string) (hint.Hint, bool, error) {
	if _, ok := s.store.Get(id); !ok {
		return hint.Hint{}, false, gameerr.New(gameerr.ErrSessionNotFound, "session %q not found", id)
	}
	h, ok := s.hints.Latest(id)
	return h, ok, nil
}

func (s *Service) ListEventLog(id, afterID string) ([]store.LogEntry, error) {
	return s.store.ListEventLogAfter(id, afterID)
}

func (s *Service) Events() *eventlog.Service {
	return s.events
}

type SystemError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	CommandID string `json:"commandId,omitempty"`
}

func (s *Service) broadcast(snap engine.Snapshot, version string) {
	if s.broadcaster == nil {
		return
	}
	view := NewView(snap, version)
	publish := s.broadcaster.PublishStateDelta
	if snap.Phase == engine.PhaseCompleted {
		publish = s.broadcaster.PublishStateFinal
	}
	err := multierr.Combine(
		publish(snap.SessionID, view),
		s.broadcaster.PublishRuleHint(snap.SessionID, s.hints.Refresh(snap, version)),
	)
	if err != nil {
		s.log.Warn("broadcast failed", zap.String("session_id", snap.SessionID), zap.Error(err))
	}
}

func actionRecord(in CommandInput, prev engine.Snapshot, out engine.Outcome, at time.Time) eventlog.ActionRecord {
	details := map[string]any{
		"card":      out.Card,
		"commandId": in.CommandID,
		"pot":       out.Snapshot.CentralPot,
	}
	if in.PlayerID == engine.SystemPlayerID {
		details["forced"] = true
	}
	if out.Drawn != nil {
		details["nextCard"] = *out.Drawn
	}
	if in.Action == engine.ActionPlaceChip {
		details["nextPlayerId"] = out.Snapshot.TurnState.CurrentPlayerID
	}

	var delta map[string]int
	if out.Mutation != nil {
		delta = map[string]int{out.Actor: out.Mutation.Delta}
	}
	actor := out.Actor
	if in.PlayerID == engine.SystemPlayerID {
		actor = engine.SystemPlayerID
		details["playerId"] = out.Actor
	}
	return eventlog.ActionRecord{
		SessionID:  in.SessionID,
		Turn:       prev.TurnState.Turn,
		Actor:      actor,
		Action:     in.Action,
		At:         at,
		ChipsDelta: delta,
		Details:    details,
	}
}

func completionDetails(s engine.Snapshot) map[string]any {
	details := map[string]any{}
	if s.FinalResults == nil {
		return details
	}
	if len(s.FinalResults.Placements) > 0 {
		details["leader"] = s.FinalResults.Placements[0].PlayerID
		details["leaderScore"] = s.FinalResults.Placements[0].Score
	}
	if tb := s.FinalResults.TieBreak; tb != nil {
		details["tieBreak"] = tb.Reason
		if tb.Winner == nil {
			details["tieUnresolved"] = true
		}
	}
	return details
}
