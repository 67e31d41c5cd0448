package engine

import (
	"slices"
	"time"

	"github.com/DoyleJ11/no-thanks-backend/internal/gameerr"
)

const (
	MinCard        = 3
	MaxCard        = 35
	HiddenCards    = 9
	StartingChips  = 11
	MinPlayers     = 2
	MaxPlayers     = 7
	SystemPlayerID = "system"
)

type Phase string

const (
	PhaseSetup     Phase = "setup"
	PhaseRunning   Phase = "running"
	PhaseCompleted Phase = "completed"
)

type Action string

const (
	ActionPlaceChip Action = "placeChip"
	ActionTakeCard  Action = "takeCard"
)

func (a Action) Valid() bool {
	return a == ActionPlaceChip || a == ActionTakeCard
}

type Player struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
}

type TurnState struct {
	Turn               int        `json:"turn"`
	CurrentPlayerID    string     `json:"currentPlayerId"`
	CurrentPlayerIndex int        `json:"currentPlayerIndex"`
	CardInCenter       *int       `json:"cardInCenter"`
	AwaitingAction     bool       `json:"awaitingAction"`
	Deadline           *time.Time `json:"deadline"`
}

type Placement struct {
	Rank           int     `json:"rank"`
	PlayerID       string  `json:"playerId"`
	Score          int     `json:"score"`
	ChipsRemaining int     `json:"chipsRemaining"`
	Cards          []int   `json:"cards"`
	CardSets       [][]int `json:"cardSets"`
}

type TieBreak struct {
	Reason     string   `json:"reason"`
	TiedScore  int      `json:"tiedScore"`
	Contenders []string `json:"contenders"`
	Winner     *string  `json:"winner"`
}

type ScoreSummary struct {
	Placements []Placement `json:"placements"`
	TieBreak   *TieBreak   `json:"tieBreak"`
}

// Snapshot is the full state of one session. Field order is part of the
// version hash, so reordering fields changes every version.
type Snapshot struct {
	SessionID     string           `json:"sessionId"`
	Phase         Phase            `json:"phase"`
	Deck          []int            `json:"deck"`
	DiscardHidden []int            `json:"discardHidden"`
	PlayerOrder   []string         `json:"playerOrder"`
	RNGSeed       string           `json:"rngSeed"`
	Players       []Player         `json:"players"`
	Chips         map[string]int   `json:"chips"`
	Hands         map[string][]int `json:"hands"`
	CentralPot    int              `json:"centralPot"`
	TurnState     TurnState        `json:"turnState"`
	CreatedAt     time.Time        `json:"createdAt"`
	UpdatedAt     time.Time        `json:"updatedAt"`
	FinalResults  *ScoreSummary    `json:"finalResults"`
}

type Command struct {
	PlayerID string
	Action   Action
}

// Outcome is the result of applying one action to a cloned snapshot.
type Outcome struct {
	Snapshot  Snapshot
	Actor     string
	Card      int
	Mutation  *ChipMutation
	Drawn     *int
	Completed bool
}

// Apply validates cmd against s and returns the mutated copy. s itself is
// never modified. Timestamps and deadlines are left to the caller.
func Apply(s Snapshot, cmd Command) (Outcome, error) {
	if !cmd.Action.Valid() {
		return Outcome{}, gameerr.New(gameerr.ErrActionNotSupported, "action %q is not supported", cmd.Action)
	}
	if s.Phase == PhaseCompleted {
		return Outcome{}, gameerr.ErrGameAlreadyCompleted
	}
	if !s.TurnState.AwaitingAction || s.TurnState.CardInCenter == nil {
		return Outcome{}, gameerr.ErrTurnNotAvailable
	}

	actor := cmd.PlayerID
	if actor == SystemPlayerID {
		actor = s.TurnState.CurrentPlayerID
	} else {
		if !s.HasPlayer(actor) {
			return Outcome{}, gameerr.New(gameerr.ErrPlayerNotFound, "player %q is not seated in this session", actor)
		}
		if actor != s.TurnState.CurrentPlayerID {
			return Outcome{}, gameerr.New(gameerr.ErrTurnNotAvailable, "it is %s's turn", s.TurnState.CurrentPlayerID)
		}
	}

	if err := EnsureChipActionAllowed(s, actor, cmd.Action); err != nil {
		return Outcome{}, err
	}

	next := s.Clone()
	out := Outcome{Actor: actor, Card: *s.TurnState.CardInCenter}

	switch cmd.Action {
	case ActionPlaceChip:
		m, err := PlaceChipIntoCenter(&next, actor)
		if err != nil {
			return Outcome{}, err
		}
		out.Mutation = m
		advanceTurn(&next)

	case ActionTakeCard:
		next.Hands[actor] = insertSorted(next.Hands[actor], out.Card)
		out.Mutation = CollectCentralPotForPlayer(&next, actor)
		if len(next.Deck) > 0 {
			card := next.Deck[0]
			next.Deck = next.Deck[1:]
			next.TurnState.CardInCenter = &card
			next.TurnState.Turn++
			next.TurnState.AwaitingAction = true
			out.Drawn = &card
		} else {
			next.TurnState.CardInCenter = nil
			next.TurnState.AwaitingAction = false
		}
	}

	if next.Phase == PhaseSetup {
		next.Phase = PhaseRunning
	}

	if ReadyForCompletion(next) {
		summary := Score(next)
		next.Phase = PhaseCompleted
		next.FinalResults = &summary
		next.TurnState.Deadline = nil
		out.Completed = true
	}

	out.Snapshot = next
	return out, nil
}

// ReadyForCompletion reports whether the deck is exhausted, the last card has
// been taken and no results have been recorded yet.
func ReadyForCompletion(s Snapshot) bool {
	return len(s.Deck) == 0 &&
		s.TurnState.CardInCenter == nil &&
		!s.TurnState.AwaitingAction &&
		s.FinalResults == nil
}

func (s Snapshot) HasPlayer(id string) bool {
	return slices.ContainsFunc(s.Players, func(p Player) bool { return p.ID == id })
}

func (s Snapshot) PlayerName(id string) string {
	for _, p := range s.Players {
		if p.ID == id {
			return p.DisplayName
		}
	}
	return id
}

func insertSorted(hand []int, card int) []int {
	i, _ := slices.BinarySearch(hand, card)
	return slices.Insert(hand, i, card)
}
