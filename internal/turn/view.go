package turn

import (
	"slices"
	"time"

	"github.com/DoyleJ11/no-thanks-backend/internal/engine"
)

// View is the snapshot as clients see it. The draw order, hidden cards and
// seed stay private until the game is over; revealing the seed early would
// reveal the deck.
type View struct {
	SessionID     string               `json:"sessionId"`
	Version       string               `json:"version"`
	Phase         engine.Phase         `json:"phase"`
	DeckSize      int                  `json:"deckSize"`
	HiddenCount   int                  `json:"hiddenCount"`
	DiscardHidden []int                `json:"discardHidden,omitempty"`
	RNGSeed       string               `json:"rngSeed,omitempty"`
	PlayerOrder   []string             `json:"playerOrder"`
	Players       []engine.Player      `json:"players"`
	Chips         map[string]int       `json:"chips"`
	Hands         map[string][]int     `json:"hands"`
	CentralPot    int                  `json:"centralPot"`
	TurnState     engine.TurnState     `json:"turnState"`
	CreatedAt     time.Time            `json:"createdAt"`
	UpdatedAt     time.Time            `json:"updatedAt"`
	FinalResults  *engine.ScoreSummary `json:"finalResults"`
}

func NewView(s engine.Snapshot, version string) View {
	c := s.Clone()
	v := View{
		SessionID:    c.SessionID,
		Version:      version,
		Phase:        c.Phase,
		DeckSize:     len(c.Deck),
		HiddenCount:  len(c.DiscardHidden),
		PlayerOrder:  c.PlayerOrder,
		Players:      c.Players,
		Chips:        c.Chips,
		Hands:        c.Hands,
		CentralPot:   c.CentralPot,
		TurnState:    c.TurnState,
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
		FinalResults: c.FinalResults,
	}
	if c.Phase == engine.PhaseCompleted {
		v.DiscardHidden = slices.Clone(c.DiscardHidden)
		v.RNGSeed = c.RNGSeed
	}
	return v
}
