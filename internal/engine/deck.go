package engine

import "math/rand"

// DeckSize is the number of cards in a Durak deck (6 through Ace in four suits).
const DeckSize = 36

// Deck is an ordered pile of cards; index 0 is the top.
type Deck []Card

// NewDeck returns the ordered 36-card deck.
func NewDeck() Deck {
	d := make(Deck, 0, DeckSize)
	for _, s := range Suits {
		for r := MinRank; r <= MaxRank; r++ {
			d = append(d, Card{Suit: s, Rank: r})
		}
	}
	return d
}

// NewShuffledDeck returns a deck shuffled deterministically from seed.
func NewShuffledDeck(seed int64) Deck {
	d := NewDeck()
	rng := rand.New(rand.NewSource(seed))
	rng.Shuffle(len(d), func(i, j int) { d[i], d[j] = d[j], d[i] })
	return d
}

func (d Deck) Len() int      { return len(d) }
func (d Deck) IsEmpty() bool { return len(d) == 0 }

// Draw removes the top card. The receiver is left untouched.
func (d Deck) Draw() (Card, Deck, error) {
	if len(d) == 0 {
		return Card{}, d, ErrEmptyDeck
	}
	rest := make(Deck, len(d)-1)
	copy(rest, d[1:])
	return d[0], rest, nil
}

// Peek returns the top card without drawing it.
func (d Deck) Peek() (Card, bool) {
	if len(d) == 0 {
		return Card{}, false
	}
	return d[0], true
}

// Bottom returns the last card to be drawn, which is the face-up trump card.
func (d Deck) Bottom() (Card, bool) {
	if len(d) == 0 {
		return Card{}, false
	}
	return d[len(d)-1], true
}

func (d Deck) clone() Deck {
	if d == nil {
		return nil
	}
	out := make(Deck, len(d))
	copy(out, d)
	return out
}
