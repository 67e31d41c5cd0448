package engine

import "github.com/DoyleJ11/no-thanks-backend/internal/gameerr"

type ChipMutationKind string

const (
	ChipPlaced       ChipMutationKind = "placed"
	ChipPotCollected ChipMutationKind = "collected"
)

// ChipMutation records one chip movement between a player and the pot.
// Delta is signed from the player's point of view.
type ChipMutation struct {
	Kind       ChipMutationKind `json:"kind"`
	PlayerID   string           `json:"playerId"`
	Delta      int              `json:"delta"`
	ChipsAfter int              `json:"chipsAfter"`
	PotAfter   int              `json:"potAfter"`
}

func EnsureChipActionAllowed(s Snapshot, playerID string, action Action) error {
	if action == ActionPlaceChip && s.Chips[playerID] < 1 {
		return gameerr.New(gameerr.ErrChipInsufficient, "player %q has no chips left", playerID)
	}
	return nil
}

func PlaceChipIntoCenter(s *Snapshot, playerID string) (*ChipMutation, error) {
	if s.Chips[playerID] < 1 {
		return nil, gameerr.New(gameerr.ErrChipInsufficient, "player %q has no chips left", playerID)
	}
	s.Chips[playerID]--
	s.CentralPot++
	return &ChipMutation{
		Kind:       ChipPlaced,
		PlayerID:   playerID,
		Delta:      -1,
		ChipsAfter: s.Chips[playerID],
		PotAfter:   s.CentralPot,
	}, nil
}

// CollectCentralPotForPlayer moves the whole pot to playerID. An empty pot is
// a no-op and yields nil.
func CollectCentralPotForPlayer(s *Snapshot, playerID string) *ChipMutation {
	if s.CentralPot == 0 {
		return nil
	}
	pot := s.CentralPot
	s.Chips[playerID] += pot
	s.CentralPot = 0
	return &ChipMutation{
		Kind:       ChipPotCollected,
		PlayerID:   playerID,
		Delta:      pot,
		ChipsAfter: s.Chips[playerID],
		PotAfter:   0,
	}
}
