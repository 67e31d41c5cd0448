package engine

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"slices"
	"strconv"

	"github.com/DoyleJ11/no-thanks-backend/internal/gameerr"
)

type Deal struct {
	Seed          string
	Deck          []int
	DiscardHidden []int
	PlayerOrder   []string
}

// SeededRand draws uniform floats in [0, 1) from sha256(seed || counter).
// The stream depends only on the seed, which is what makes a deal auditable.
type SeededRand struct {
	seed    string
	counter uint64
}

func NewSeededRand(seed string) *SeededRand {
	return &SeededRand{seed: seed}
}

func (r *SeededRand) Float64() float64 {
	sum := sha256.Sum256([]byte(r.seed + strconv.FormatUint(r.counter, 10)))
	r.counter++
	// top 53 bits fill a float64 mantissa exactly
	return float64(binary.BigEndian.Uint64(sum[:8])>>11) / (1 << 53)
}

func (r *SeededRand) Intn(n int) int {
	return min(int(r.Float64()*float64(n)), n-1)
}

func Shuffle[T any](r *SeededRand, items []T) {
	for i := len(items) - 1; i > 0; i-- {
		j := r.Intn(i + 1)
		items[i], items[j] = items[j], items[i]
	}
}

func CardUniverse() []int {
	cards := make([]int, 0, MaxCard-MinCard+1)
	for c := MinCard; c <= MaxCard; c++ {
		cards = append(cards, c)
	}
	return cards
}

func RandomSeed() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// NewDeal shuffles the card universe, hides the first HiddenCards face down
// and shuffles the seating order. An empty seed is replaced by a random one.
func NewDeal(seed string, playerIDs []string) (Deal, error) {
	if len(playerIDs) < MinPlayers || len(playerIDs) > MaxPlayers {
		return Deal{}, gameerr.New(gameerr.ErrPlayerCountInvalid, "expected %d to %d players, got %d", MinPlayers, MaxPlayers, len(playerIDs))
	}
	if seed == "" {
		s, err := RandomSeed()
		if err != nil {
			return Deal{}, err
		}
		seed = s
	}

	r := NewSeededRand(seed)
	cards := CardUniverse()
	Shuffle(r, cards)

	order := slices.Clone(playerIDs)
	Shuffle(r, order)

	hidden := slices.Clone(cards[:HiddenCards])
	slices.Sort(hidden)

	return Deal{
		Seed:          seed,
		Deck:          slices.Clone(cards[HiddenCards:]),
		DiscardHidden: hidden,
		PlayerOrder:   order,
	}, nil
}
