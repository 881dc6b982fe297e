package engine

import "slices"

// HandSize is the number of cards each seat is dealt and refilled to.
const HandSize = 6

// Pair is one attack card and the card that beat it, if any.
type Pair struct {
	Attack  Card  `json:"attack"`
	Defense *Card `json:"defense,omitempty"`
}

func (p Pair) Defended() bool { return p.Defense != nil }

// Undefended counts the attack cards still waiting for a defense.
func Undefended(table []Pair) int {
	n := 0
	for _, p := range table {
		if !p.Defended() {
			n++
		}
	}
	return n
}

// AllDefended reports whether every pair on a non-empty table has been beaten.
func AllDefended(table []Pair) bool {
	return len(table) > 0 && Undefended(table) == 0
}

// AnyDefended reports whether at least one attack of the round was beaten.
func AnyDefended(table []Pair) bool {
	for _, p := range table {
		if p.Defended() {
			return true
		}
	}
	return false
}

// FirstUndefended returns the index of the earliest unbeaten attack, or -1.
func FirstUndefended(table []Pair) int {
	for i, p := range table {
		if !p.Defended() {
			return i
		}
	}
	return -1
}

// TableCards flattens the table into the cards it holds.
func TableCards(table []Pair) []Card {
	out := make([]Card, 0, len(table)*2)
	for _, p := range table {
		out = append(out, p.Attack)
		if p.Defense != nil {
			out = append(out, *p.Defense)
		}
	}
	return out
}

func tableRanks(table []Pair) map[Rank]bool {
	ranks := make(map[Rank]bool, len(table)*2)
	for _, c := range TableCards(table) {
		ranks[c.Rank] = true
	}
	return ranks
}

// LegalAttacks returns the cards from hand that may be added to the table.
// An empty table accepts any card; otherwise the rank must already be on the
// table, the unbeaten attacks may not outnumber the defender's cards, and the
// pile is capped at maxPile attacks (0 means no cap).
func LegalAttacks(hand []Card, table []Pair, defenderHandSize, maxPile int) []Card {
	if Undefended(table)+1 > defenderHandSize {
		return nil
	}
	if maxPile > 0 && len(table) >= maxPile {
		return nil
	}
	if len(table) == 0 {
		return slices.Clone(hand)
	}
	ranks := tableRanks(table)
	var out []Card
	for _, c := range hand {
		if ranks[c.Rank] {
			out = append(out, c)
		}
	}
	return out
}

// LegalDefenses returns the cards from hand that beat attack.
func LegalDefenses(hand []Card, attack Card, trump Suit) []Card {
	var out []Card
	for _, c := range hand {
		if Beats(c, attack, trump) {
			out = append(out, c)
		}
	}
	return out
}

// LegalTransfers returns the cards that redirect the attack to the next seat:
// same rank as the first unbeaten attack, nothing defended yet this round, and
// the next seat able to face the enlarged attack.
func LegalTransfers(hand []Card, table []Pair, nextHandSize int) []Card {
	first := FirstUndefended(table)
	if first < 0 || AnyDefended(table) {
		return nil
	}
	if nextHandSize < Undefended(table)+1 {
		return nil
	}
	rank := table[first].Attack.Rank
	var out []Card
	for _, c := range hand {
		if c.Rank == rank {
			out = append(out, c)
		}
	}
	return out
}

// HasCard reports whether hand holds c.
func HasCard(hand []Card, c Card) bool {
	return slices.Contains(hand, c)
}

// RemoveCard returns hand without the first occurrence of c.
func RemoveCard(hand []Card, c Card) []Card {
	i := slices.Index(hand, c)
	if i < 0 {
		return hand
	}
	out := make([]Card, 0, len(hand)-1)
	out = append(out, hand[:i]...)
	return append(out, hand[i+1:]...)
}

// SortHand orders a hand by rank, trumps last.
func SortHand(hand []Card, trump Suit) {
	slices.SortStableFunc(hand, func(a, b Card) int {
		if (a.Suit == trump) != (b.Suit == trump) {
			if a.Suit == trump {
				return 1
			}
			return -1
		}
		if a.Rank != b.Rank {
			return int(a.Rank) - int(b.Rank)
		}
		return suitOrder(a.Suit) - suitOrder(b.Suit)
	})
}

func suitOrder(s Suit) int {
	return slices.Index(Suits, s)
}

func clonePairs(table []Pair) []Pair {
	if table == nil {
		return nil
	}
	out := make([]Pair, len(table))
	for i, p := range table {
		out[i] = Pair{Attack: p.Attack}
		if p.Defense != nil {
			d := *p.Defense
			out[i].Defense = &d
		}
	}
	return out
}
