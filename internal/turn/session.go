package turn

import (
	"context"
	"regexp"
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"

	"github.com/DoyleJ11/no-thanks-backend/internal/engine"
	"github.com/DoyleJ11/no-thanks-backend/internal/eventlog"
	"github.com/DoyleJ11/no-thanks-backend/internal/gameerr"
)

const maxDisplayNameRunes = 32

var playerIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

type CreateSessionInput struct {
	Players     []engine.Player `json:"players"`
	Seed        string          `json:"seed,omitempty"`
	PlayerOrder []string        `json:"playerOrder,omitempty"`
}

// CreateSession validates the roster, deals a new game and arms its first
// deadline.
func (s *Service) CreateSession(ctx context.Context, in CreateSessionInput) (Result, error) {
	players, err := validatePlayers(in.Players)
	if err != nil {
		return Result{}, err
	}

	ids := make([]string, len(players))
	for i, p := range players {
		ids[i] = p.ID
	}
	deal, err := engine.NewDeal(in.Seed, ids)
	if err != nil {
		return Result{}, err
	}
	if len(in.PlayerOrder) > 0 {
		if err := validateOrder(in.PlayerOrder, ids); err != nil {
			return Result{}, err
		}
		deal.PlayerOrder = slices.Clone(in.PlayerOrder)
	}

	now := s.clock.Now()
	snap := engine.NewSnapshot(s.newID(), players, deal, now)
	deadline := now.Add(s.turnTimeout)
	snap.TurnState.Deadline = &deadline

	saved, err := s.store.SaveSnapshot(snap)
	if err != nil {
		return Result{}, err
	}
	if _, err := s.events.RecordSystemEvent(snap.SessionID, snap.TurnState.Turn, eventlog.ActionSessionCreated, now, map[string]any{
		"playerOrder": saved.Snapshot.PlayerOrder,
		"firstCard":   *saved.Snapshot.TurnState.CardInCenter,
	}); err != nil {
		return Result{}, err
	}
	if s.timers != nil {
		s.timers.Sync(saved.Snapshot)
	}

	s.log.Info("session created",
		zap.String("session_id", snap.SessionID),
		zap.Int("players", len(players)),
		zap.String("version", saved.Version),
	)
	s.broadcast(saved.Snapshot, saved.Version)
	return Result{Snapshot: saved.Snapshot, Version: saved.Version}, nil
}

// validatePlayers normalizes display names and reports every invalid entry
// at once. The first error decides the status.
func validatePlayers(in []engine.Player) ([]engine.Player, error) {
	if len(in) < engine.MinPlayers || len(in) > engine.MaxPlayers {
		return nil, gameerr.New(gameerr.ErrPlayerCountInvalid,
			"expected %d to %d players, got %d", engine.MinPlayers, engine.MaxPlayers, len(in))
	}

	var errs error
	seen := make(map[string]bool, len(in))
	out := make([]engine.Player, 0, len(in))
	for i, p := range in {
		if !playerIDPattern.MatchString(p.ID) || p.ID == engine.SystemPlayerID {
			errs = multierr.Append(errs, gameerr.New(gameerr.ErrPlayerIDInvalid, "players[%d]: id %q is invalid", i, p.ID))
		} else if seen[p.ID] {
			errs = multierr.Append(errs, gameerr.New(gameerr.ErrPlayerIDNotUnique, "players[%d]: id %q is already taken", i, p.ID))
		}
		seen[p.ID] = true

		name, ok := normalizeName(p.DisplayName)
		if !ok {
			errs = multierr.Append(errs, gameerr.New(gameerr.ErrPlayerNameInvalid, "players[%d]: display name %q is invalid", i, p.DisplayName))
		}
		out = append(out, engine.Player{ID: p.ID, DisplayName: name})
	}
	if errs != nil {
		return nil, errs
	}
	return out, nil
}

func normalizeName(raw string) (string, bool) {
	name := strings.TrimSpace(norm.NFC.String(raw))
	n := utf8.RuneCountInString(name)
	if n == 0 || n > maxDisplayNameRunes {
		return "", false
	}
	for _, r := range name {
		if !unicode.IsPrint(r) {
			return "", false
		}
	}
	return name, true
}

func validateOrder(order, ids []string) error {
	if len(order) != len(ids) {
		return gameerr.New(gameerr.ErrPlayerOrderInvalid, "order lists %d players, roster has %d", len(order), len(ids))
	}
	a := slices.Clone(order)
	b := slices.Clone(ids)
	slices.Sort(a)
	slices.Sort(b)
	if !slices.Equal(a, b) {
		return gameerr.New(gameerr.ErrPlayerOrderInvalid, "order must be a permutation of the player ids")
	}
	return nil
}
