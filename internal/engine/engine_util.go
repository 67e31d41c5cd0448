package engine

import (
	"fmt"
	"maps"
	"slices"
	"time"
)

// NewSnapshot seats players according to deal and reveals the first card.
func NewSnapshot(sessionID string, players []Player, deal Deal, now time.Time) Snapshot {
	s := Snapshot{
		SessionID:     sessionID,
		Phase:         PhaseSetup,
		Deck:          slices.Clone(deal.Deck),
		DiscardHidden: slices.Clone(deal.DiscardHidden),
		PlayerOrder:   slices.Clone(deal.PlayerOrder),
		RNGSeed:       deal.Seed,
		Players:       slices.Clone(players),
		Chips:         make(map[string]int, len(players)),
		Hands:         make(map[string][]int, len(players)),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	for _, p := range players {
		s.Chips[p.ID] = StartingChips
		s.Hands[p.ID] = []int{}
	}

	s.TurnState = TurnState{CurrentPlayerIndex: 0}
	if len(s.PlayerOrder) > 0 {
		s.TurnState.CurrentPlayerID = s.PlayerOrder[0]
	}
	if len(s.Deck) > 0 {
		card := s.Deck[0]
		s.Deck = s.Deck[1:]
		s.TurnState.CardInCenter = &card
		s.TurnState.AwaitingAction = true
	}
	return s
}

// Clone returns a deep copy; nothing in the result aliases s.
func (s Snapshot) Clone() Snapshot {
	c := s
	c.Deck = slices.Clone(s.Deck)
	c.DiscardHidden = slices.Clone(s.DiscardHidden)
	c.PlayerOrder = slices.Clone(s.PlayerOrder)
	c.Players = slices.Clone(s.Players)
	c.Chips = maps.Clone(s.Chips)
	if s.Hands != nil {
		c.Hands = make(map[string][]int, len(s.Hands))
		for id, hand := range s.Hands {
			c.Hands[id] = slices.Clone(hand)
		}
	}
	if s.TurnState.CardInCenter != nil {
		card := *s.TurnState.CardInCenter
		c.TurnState.CardInCenter = &card
	}
	if s.TurnState.Deadline != nil {
		d := *s.TurnState.Deadline
		c.TurnState.Deadline = &d
	}
	if s.FinalResults != nil {
		c.FinalResults = s.FinalResults.clone()
	}
	return c
}

func (r ScoreSummary) clone() *ScoreSummary {
	c := ScoreSummary{Placements: make([]Placement, len(r.Placements))}
	for i, p := range r.Placements {
		p.Cards = slices.Clone(p.Cards)
		sets := make([][]int, len(p.CardSets))
		for j, set := range p.CardSets {
			sets[j] = slices.Clone(set)
		}
		p.CardSets = sets
		c.Placements[i] = p
	}
	if r.TieBreak != nil {
		tb := *r.TieBreak
		tb.Contenders = slices.Clone(r.TieBreak.Contenders)
		if r.TieBreak.Winner != nil {
			w := *r.TieBreak.Winner
			tb.Winner = &w
		}
		c.TieBreak = &tb
	}
	return &c
}

func (s Snapshot) TotalChips() int {
	total := s.CentralPot
	for _, n := range s.Chips {
		total += n
	}
	return total
}

// CheckInvariants verifies chip conservation, the awaitingAction/card
// pairing and that every rank of the universe is in exactly one place.
func CheckInvariants(s Snapshot) error {
	if want := StartingChips * len(s.Players); s.TotalChips() != want {
		return fmt.Errorf("chips not conserved: have %d, want %d", s.TotalChips(), want)
	}
	if s.TurnState.AwaitingAction != (s.TurnState.CardInCenter != nil) {
		return fmt.Errorf("awaitingAction=%v with cardInCenter=%v", s.TurnState.AwaitingAction, s.TurnState.CardInCenter)
	}

	seen := map[int]int{}
	for _, c := range s.Deck {
		seen[c]++
	}
	for _, c := range s.DiscardHidden {
		seen[c]++
	}
	if s.TurnState.CardInCenter != nil {
		seen[*s.TurnState.CardInCenter]++
	}
	for _, hand := range s.Hands {
		for _, c := range hand {
			seen[c]++
		}
	}
	for c := MinCard; c <= MaxCard; c++ {
		if seen[c] != 1 {
			return fmt.Errorf("card %d seen %d times", c, seen[c])
		}
	}
	if len(seen) != MaxCard-MinCard+1 {
		return fmt.Errorf("unexpected cards outside [%d..%d]", MinCard, MaxCard)
	}
	return nil
}
