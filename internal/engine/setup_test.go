package engine

import (
	"errors"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/no-thanks-backend/internal/gameerr"
)

func TestNewDeal_SameSeedIsReproducible(t *testing.T) {
	ids := []string{"p1", "p2", "p3", "p4"}

	a, err := NewDeal("audit-42", ids)
	require.NoError(t, err)
	b, err := NewDeal("audit-42", ids)
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Equal(t, "audit-42", a.Seed)
}

func TestNewDeal_DifferentSeedsDiffer(t *testing.T) {
	ids := []string{"p1", "p2"}
	a, err := NewDeal("seed-a", ids)
	require.NoError(t, err)
	b, err := NewDeal("seed-b", ids)
	require.NoError(t, err)

	assert.NotEqual(t, a.Deck, b.Deck)
}

func TestNewDeal_PartitionsUniverse(t *testing.T) {
	d, err := NewDeal("partition", []string{"a", "b", "c"})
	require.NoError(t, err)

	assert.Len(t, d.DiscardHidden, HiddenCards)
	assert.Len(t, d.Deck, MaxCard-MinCard+1-HiddenCards)

	all := append(slices.Clone(d.Deck), d.DiscardHidden...)
	slices.Sort(all)
	assert.Equal(t, CardUniverse(), all)

	order := slices.Clone(d.PlayerOrder)
	slices.Sort(order)
	assert.Equal(t, []string{"a", "b", "c"}, order)
}

func TestNewDeal_GeneratesSeedWhenEmpty(t *testing.T) {
	d, err := NewDeal("", []string{"a", "b"})
	require.NoError(t, err)
	assert.Len(t, d.Seed, 32)
}

func TestNewDeal_RejectsPlayerCount(t *testing.T) {
	for _, n := range []int{0, 1, 8} {
		ids := make([]string, n)
		for i := range ids {
			ids[i] = string(rune('a' + i))
		}
		_, err := NewDeal("x", ids)
		if !errors.Is(err, gameerr.ErrPlayerCountInvalid) {
			t.Fatalf("n=%d: want ErrPlayerCountInvalid, got %v", n, err)
		}
	}
}

func TestSeededRand_StaysInRange(t *testing.T) {
	r := NewSeededRand("range")
	for i := 0; i < 1000; i++ {
		f := r.Float64()
		if f < 0 || f >= 1 {
			t.Fatalf("draw %d out of range: %v", i, f)
		}
	}
}

func TestChipLedger(t *testing.T) {
	s := Snapshot{Chips: map[string]int{"a": 1}}

	require.NoError(t, EnsureChipActionAllowed(s, "a", ActionPlaceChip))
	m, err := PlaceChipIntoCenter(&s, "a")
	require.NoError(t, err)
	assert.Equal(t, ChipPlaced, m.Kind)
	assert.Equal(t, 0, s.Chips["a"])
	assert.Equal(t, 1, s.CentralPot)

	assert.ErrorIs(t, EnsureChipActionAllowed(s, "a", ActionPlaceChip), gameerr.ErrChipInsufficient)
	assert.NoError(t, EnsureChipActionAllowed(s, "a", ActionTakeCard))
	_, err = PlaceChipIntoCenter(&s, "a")
	assert.ErrorIs(t, err, gameerr.ErrChipInsufficient)

	m = CollectCentralPotForPlayer(&s, "a")
	require.NotNil(t, m)
	assert.Equal(t, 1, m.Delta)
	assert.Equal(t, 1, s.Chips["a"])
	assert.Equal(t, 0, s.CentralPot)

	assert.Nil(t, CollectCentralPotForPlayer(&s, "a"), "empty pot is a no-op")
}
