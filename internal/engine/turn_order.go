package engine

// advanceTurn hands the exposed card to the next seat in PlayerOrder,
// wrapping past the last seat.
func advanceTurn(s *Snapshot) {
	if len(s.PlayerOrder) == 0 {
		return
	}
	next := (s.TurnState.CurrentPlayerIndex + 1) % len(s.PlayerOrder)
	s.TurnState.CurrentPlayerIndex = next
	s.TurnState.CurrentPlayerID = s.PlayerOrder[next]
}
