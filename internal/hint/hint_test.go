package hint

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/no-thanks-backend/internal/engine"
)

func baseSnapshot(card *int) engine.Snapshot {
	return engine.Snapshot{
		SessionID: "s1",
		Deck:      []int{10, 11, 12, 13, 14},
		Players:   []engine.Player{{ID: "a", DisplayName: "Ana"}, {ID: "b", DisplayName: "Bo"}},
		Chips:     map[string]int{"a": 5, "b": 5},
		Hands:     map[string][]int{"a": {}, "b": {}},
		TurnState: engine.TurnState{
			CurrentPlayerID: "a",
			CardInCenter:    card,
			AwaitingAction:  card != nil,
		},
		UpdatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func ptr(v int) *int { return &v }

func TestDerive(t *testing.T) {
	noCard := baseSnapshot(nil)

	broke := baseSnapshot(ptr(20))
	broke.Chips["a"] = 0

	plain := baseSnapshot(ptr(20))
	plain.CentralPot = 4

	lowEverything := baseSnapshot(ptr(20))
	lowEverything.Chips["a"] = 1
	lowEverything.Deck = []int{30}
	lowEverything.Hands["a"] = []int{21}

	cases := []struct {
		name      string
		snap      engine.Snapshot
		level     Level
		message   string
		effective *int
		notes     int
	}{
		{"no card", noCard, LevelInfo, "No card is in play. 5 cards remain in the deck.", nil, 0},
		{"forced take", broke, LevelWarning, "Ana has no chips left and must take card 20.", nil, 0},
		{"effective value", plain, LevelInfo, "Card 20 with 4 chips in the pot has an effective value of 16 for Ana.", ptr(16), 0},
		{"warnings", lowEverything, LevelWarning, "Card 20 with 0 chips in the pot has an effective value of 20 for Ana.", ptr(20), 3},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := Derive(tc.snap)
			assert.Equal(t, tc.level, h.Level)
			assert.Equal(t, tc.message, h.Message)
			assert.Equal(t, tc.effective, h.EffectiveValue)
			assert.Len(t, h.Notes, tc.notes)
		})
	}
}

func TestRefresh_CachesLatestPerSession(t *testing.T) {
	svc := NewService()
	_, ok := svc.Latest("s1")
	assert.False(t, ok)

	snap := baseSnapshot(ptr(12))
	first := svc.Refresh(snap, "v1")
	assert.Equal(t, "v1", first.Version)

	again := svc.Refresh(snap, "v1")
	assert.Equal(t, first, again, "derivation is deterministic")

	snap.CentralPot = 2
	svc.Refresh(snap, "v2")
	latest, ok := svc.Latest("s1")
	require.True(t, ok)
	assert.Equal(t, "v2", latest.Version)
	assert.Equal(t, 10, *latest.EffectiveValue)
}
