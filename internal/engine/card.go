package engine

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

type Suit string

const (
	Hearts   Suit = "hearts"
	Diamonds Suit = "diamonds"
	Clubs    Suit = "clubs"
	Spades   Suit = "spades"
)

// Suits lists the suits in deck-building order.
var Suits = []Suit{Hearts, Diamonds, Clubs, Spades}

type Rank int

const (
	MinRank Rank = 6
	Jack    Rank = 11
	Queen   Rank = 12
	King    Rank = 13
	Ace     Rank = 14
	MaxRank Rank = Ace
)

// Card is an immutable playing card. The zero value is not a valid card.
type Card struct {
	Suit Suit `json:"suit"`
	Rank Rank `json:"rank"`
}

func (s Suit) Valid() bool {
	switch s {
	case Hearts, Diamonds, Clubs, Spades:
		return true
	}
	return false
}

func (s Suit) letter() string {
	switch s {
	case Hearts:
		return "H"
	case Diamonds:
		return "D"
	case Clubs:
		return "C"
	case Spades:
		return "S"
	}
	return "?"
}

func (r Rank) Valid() bool { return r >= MinRank && r <= MaxRank }

func (r Rank) String() string {
	switch r {
	case Jack:
		return "J"
	case Queen:
		return "Q"
	case King:
		return "K"
	case Ace:
		return "A"
	}
	return strconv.Itoa(int(r))
}

func (c Card) Valid() bool { return c.Suit.Valid() && c.Rank.Valid() }

// String renders the short form used in logs and on the wire, e.g. "6H", "10S", "AS".
func (c Card) String() string {
	return c.Rank.String() + c.Suit.letter()
}

// RankValue is the numeric strength of a card ignoring suit.
func RankValue(c Card) int { return int(c.Rank) }

// Beats reports whether a beats b under the given trump: same suit and higher
// rank, or a is trump and b is not.
func Beats(a, b Card, trump Suit) bool {
	if a.Suit == b.Suit {
		return a.Rank > b.Rank
	}
	return a.Suit == trump
}

// ParseCard accepts the short form produced by Card.String.
func ParseCard(s string) (Card, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if len(s) < 2 {
		return Card{}, fmt.Errorf("parse card %q: too short", s)
	}
	rankPart, suitPart := s[:len(s)-1], s[len(s)-1:]

	var c Card
	switch suitPart {
	case "H":
		c.Suit = Hearts
	case "D":
		c.Suit = Diamonds
	case "C":
		c.Suit = Clubs
	case "S":
		c.Suit = Spades
	default:
		return Card{}, fmt.Errorf("parse card %q: unknown suit", s)
	}

	switch rankPart {
	case "J":
		c.Rank = Jack
	case "Q":
		c.Rank = Queen
	case "K":
		c.Rank = King
	case "A":
		c.Rank = Ace
	default:
		n, err := strconv.Atoi(rankPart)
		if err != nil {
			return Card{}, fmt.Errorf("parse card %q: %w", s, err)
		}
		c.Rank = Rank(n)
	}
	if !c.Valid() {
		return Card{}, fmt.Errorf("parse card %q: rank out of range", s)
	}
	return c, nil
}

// UnmarshalJSON accepts both the object form and the short string form.
func (c *Card) UnmarshalJSON(data []byte) error {
	var short string
	if err := json.Unmarshal(data, &short); err == nil {
		parsed, err := ParseCard(short)
		if err != nil {
			return err
		}
		*c = parsed
		return nil
	}
	type plain Card
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*c = Card(p)
	return nil
}
