package engine

import (
	"slices"
	"strings"
)

const TieBreakChipCount = "chipCount"

// CardSets splits an ascending hand into maximal runs of consecutive ranks.
func CardSets(cards []int) [][]int {
	sorted := slices.Clone(cards)
	slices.Sort(sorted)

	sets := [][]int{}
	for i, c := range sorted {
		if i > 0 && c == sorted[i-1]+1 {
			last := len(sets) - 1
			sets[last] = append(sets[last], c)
			continue
		}
		sets = append(sets, []int{c})
	}
	return sets
}

// HandScore is the sum of the lowest card of each run minus chips held.
// Lower is better.
func HandScore(cards []int, chips int) int {
	total := 0
	for _, set := range CardSets(cards) {
		total += set[0]
	}
	return total - chips
}

// Score ranks every seated player. Ordering is score ascending, then chips
// descending, then player id, so the result is a total order.
func Score(s Snapshot) ScoreSummary {
	placements := make([]Placement, 0, len(s.Players))
	for _, p := range s.Players {
		cards := slices.Clone(s.Hands[p.ID])
		slices.Sort(cards)
		if cards == nil {
			cards = []int{}
		}
		chips := s.Chips[p.ID]
		placements = append(placements, Placement{
			PlayerID:       p.ID,
			Score:          HandScore(cards, chips),
			ChipsRemaining: chips,
			Cards:          cards,
			CardSets:       CardSets(cards),
		})
	}

	slices.SortFunc(placements, func(a, b Placement) int {
		if a.Score != b.Score {
			return a.Score - b.Score
		}
		if a.ChipsRemaining != b.ChipsRemaining {
			return b.ChipsRemaining - a.ChipsRemaining
		}
		return strings.Compare(a.PlayerID, b.PlayerID)
	})
	for i := range placements {
		placements[i].Rank = i + 1
	}

	return ScoreSummary{Placements: placements, TieBreak: bestScoreTieBreak(placements)}
}

func bestScoreTieBreak(placements []Placement) *TieBreak {
	if len(placements) < 2 || placements[0].Score != placements[1].Score {
		return nil
	}

	best := placements[0].Score
	var tied []Placement
	for _, p := range placements {
		if p.Score == best {
			tied = append(tied, p)
		}
	}

	maxChips := tied[0].ChipsRemaining
	holders := 0
	for _, p := range tied {
		if p.ChipsRemaining == maxChips {
			holders++
		}
	}

	contenders := make([]string, 0, len(tied))
	for _, p := range tied {
		contenders = append(contenders, p.PlayerID)
	}
	slices.Sort(contenders)

	tb := &TieBreak{Reason: TieBreakChipCount, TiedScore: best, Contenders: contenders}
	if holders == 1 {
		winner := tied[0].PlayerID
		tb.Winner = &winner
	}
	return tb
}
