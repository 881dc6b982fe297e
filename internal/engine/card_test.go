package engine

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBeats(t *testing.T) {
	cases := []struct {
		name  string
		a, b  Card
		trump Suit
		want  bool
	}{
		{name: "higher same suit", a: Card{Hearts, 9}, b: Card{Hearts, 7}, trump: Spades, want: true},
		{name: "lower same suit", a: Card{Hearts, 7}, b: Card{Hearts, 9}, trump: Spades, want: false},
		{name: "trump beats ace", a: Card{Spades, 6}, b: Card{Hearts, Ace}, trump: Spades, want: true},
		{name: "off suit never beats", a: Card{Clubs, Ace}, b: Card{Hearts, 6}, trump: Spades, want: false},
		{name: "non trump vs trump", a: Card{Hearts, Ace}, b: Card{Spades, 6}, trump: Spades, want: false},
		{name: "higher trump", a: Card{Spades, King}, b: Card{Spades, Queen}, trump: Spades, want: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Beats(tc.a, tc.b, tc.trump))
		})
	}
}

func TestBeats_Properties(t *testing.T) {
	deck := NewDeck()
	for _, trump := range Suits {
		for _, a := range deck {
			assert.False(t, Beats(a, a, trump), "%s beats itself", a)
			for _, b := range deck {
				if a.Suit == trump && b.Suit != trump {
					assert.True(t, Beats(a, b, trump), "trump %s should beat %s", a, b)
				}
				if a.Suit != trump && a.Suit != b.Suit {
					assert.False(t, Beats(a, b, trump), "%s should not beat %s", a, b)
				}
				if Beats(a, b, trump) {
					assert.False(t, Beats(b, a, trump), "%s and %s beat each other", a, b)
				}
			}
		}
	}
}

func TestParseCard(t *testing.T) {
	c, err := ParseCard("10s")
	require.NoError(t, err)
	assert.Equal(t, Card{Spades, 10}, c)

	c, err = ParseCard("QH")
	require.NoError(t, err)
	assert.Equal(t, Card{Hearts, Queen}, c)

	for _, bad := range []string{"", "5H", "AX", "15C", "H"} {
		_, err := ParseCard(bad)
		assert.Error(t, err, bad)
	}

	for _, c := range NewDeck() {
		parsed, err := ParseCard(c.String())
		require.NoError(t, err)
		assert.Equal(t, c, parsed)
	}
}

func TestCard_UnmarshalJSONAcceptsBothForms(t *testing.T) {
	var c Card
	require.NoError(t, json.Unmarshal([]byte(`"7D"`), &c))
	assert.Equal(t, Card{Diamonds, 7}, c)

	require.NoError(t, json.Unmarshal([]byte(`{"suit":"clubs","rank":14}`), &c))
	assert.Equal(t, Card{Clubs, Ace}, c)

	assert.Error(t, json.Unmarshal([]byte(`"ZZ"`), &c))
}

func TestNewDeck(t *testing.T) {
	deck := NewDeck()
	require.Len(t, deck, DeckSize)

	seen := make(map[Card]bool)
	for _, c := range deck {
		require.True(t, c.Valid(), "invalid card %v", c)
		require.False(t, seen[c], "duplicate card %s", c)
		seen[c] = true
	}
}

func TestNewShuffledDeck_Deterministic(t *testing.T) {
	a := NewShuffledDeck(42)
	b := NewShuffledDeck(42)
	c := NewShuffledDeck(43)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.ElementsMatch(t, NewDeck(), a)
}

func TestDeck_DrawHasValueSemantics(t *testing.T) {
	deck := NewDeck()
	top, rest, err := deck.Draw()
	require.NoError(t, err)

	assert.Equal(t, deck[0], top)
	assert.Len(t, rest, DeckSize-1)
	assert.Len(t, deck, DeckSize, "caller's deck must not shrink")
	assert.Equal(t, NewDeck(), deck)

	_, _, err = Deck{}.Draw()
	assert.ErrorIs(t, err, ErrEmptyDeck)
}

func TestRankValue(t *testing.T) {
	assert.Equal(t, 6, RankValue(Card{Hearts, 6}))
	assert.Equal(t, 14, RankValue(Card{Hearts, Ace}))
}
