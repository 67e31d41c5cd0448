package hint

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/DoyleJ11/no-thanks-backend/internal/engine"
)

const (
	lowChipThreshold = 2
	lowDeckThreshold = 3
)

type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
)

// Hint is advisory text derived from one snapshot version. It carries no
// authority: the rules in engine decide what is legal.
type Hint struct {
	SessionID      string    `json:"sessionId"`
	Version        string    `json:"version"`
	Turn           int       `json:"turn"`
	Level          Level     `json:"level"`
	Message        string    `json:"message"`
	Notes          []string  `json:"notes,omitempty"`
	EffectiveValue *int      `json:"effectiveValue,omitempty"`
	GeneratedAt    time.Time `json:"generatedAt"`
}

type Service struct {
	mu     sync.RWMutex
	latest map[string]Hint
}

func NewService() *Service {
	return &Service{latest: make(map[string]Hint)}
}

// Refresh derives a hint from snap and caches it as the session's latest.
// The same snapshot always produces the same text.
func (s *Service) Refresh(snap engine.Snapshot, version string) Hint {
	h := Derive(snap)
	h.Version = version

	s.mu.Lock()
	s.latest[snap.SessionID] = h
	s.mu.Unlock()
	return h
}

func (s *Service) Latest(sessionID string) (Hint, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.latest[sessionID]
	return h, ok
}

func Derive(snap engine.Snapshot) Hint {
	ts := snap.TurnState
	h := Hint{
		SessionID:   snap.SessionID,
		Turn:        ts.Turn,
		Level:       LevelInfo,
		GeneratedAt: snap.UpdatedAt,
	}

	if ts.CardInCenter == nil {
		h.Message = fmt.Sprintf("No card is in play. %d cards remain in the deck.", len(snap.Deck))
		return h
	}

	card := *ts.CardInCenter
	player := ts.CurrentPlayerID
	name := snap.PlayerName(player)
	chips := snap.Chips[player]

	if chips == 0 {
		h.Level = LevelWarning
		h.Message = fmt.Sprintf("%s has no chips left and must take card %d.", name, card)
		return h
	}

	effective := card - snap.CentralPot
	h.EffectiveValue = &effective
	h.Message = fmt.Sprintf("Card %d with %d chips in the pot has an effective value of %d for %s.", card, snap.CentralPot, effective, name)

	hand := snap.Hands[player]
	if slices.Contains(hand, card-1) || slices.Contains(hand, card+1) {
		h.Notes = append(h.Notes, fmt.Sprintf("Card %d extends a run in %s's hand.", card, name))
	}
	if chips <= lowChipThreshold {
		h.Level = LevelWarning
		h.Notes = append(h.Notes, fmt.Sprintf("%s is running low on chips (%d left).", name, chips))
	}
	if len(snap.Deck) <= lowDeckThreshold {
		h.Level = LevelWarning
		h.Notes = append(h.Notes, fmt.Sprintf("Only %d cards remain in the deck.", len(snap.Deck)))
	}
	return h
}
