package engine

import (
	"encoding/json"
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stackedDeck returns a full deck with top dealt first and bottom drawn last.
func stackedDeck(top []Card, bottom Card) Deck {
	used := map[Card]bool{bottom: true}
	d := make(Deck, 0, DeckSize)
	for _, c := range top {
		used[c] = true
		d = append(d, c)
	}
	for _, c := range NewDeck() {
		if !used[c] {
			d = append(d, c)
		}
	}
	return append(d, bottom)
}

// interleave lays out hands so a round-robin deal hands them out as given.
func interleave(hands ...[]Card) []Card {
	var out []Card
	for i := range hands[0] {
		for _, h := range hands {
			out = append(out, h[i])
		}
	}
	return out
}

// endgame builds a state with an empty deck; cards not in a hand sit in the discard pile.
func endgame(trump Suit, attacker int, hands ...[]Card) State {
	s := State{
		Phase: PhaseAttack,
		Trump: trump,
		Fool:  -1,
		Rules: DefaultRules(),
	}
	held := map[Card]bool{}
	for _, h := range hands {
		s.Seats = append(s.Seats, Seat{PlayerID: string(rune('a' + len(s.Seats))), Hand: append([]Card(nil), h...)})
		for _, c := range h {
			held[c] = true
		}
	}
	for _, c := range NewDeck() {
		if !held[c] {
			s.Discard = append(s.Discard, c)
		}
	}
	s.Attacker = attacker
	s.Defender = s.nextActive(attacker)
	return s
}

func scenarioA(t *testing.T) State {
	t.Helper()
	seat0 := []Card{{Hearts, 6}, {Clubs, 7}, {Clubs, 8}, {Clubs, 9}, {Clubs, 10}, {Clubs, Jack}}
	seat1 := []Card{{Diamonds, 7}, {Diamonds, 8}, {Diamonds, 9}, {Diamonds, 10}, {Diamonds, Jack}, {Diamonds, Queen}}
	deck := stackedDeck(interleave(seat0, seat1), Card{Spades, 7})

	s, events, err := NewGameFromDeck([]string{"alice", "bob"}, DefaultRules(), deck)
	require.NoError(t, err)
	require.True(t, ContainsEvent(events, EvtDealt))
	return s
}

func TestNewGame_Deal(t *testing.T) {
	for players := 2; players <= 6; players++ {
		ids := []string{"p0", "p1", "p2", "p3", "p4", "p5"}[:players]
		s, _, err := NewGame(ids, DefaultRules(), int64(players))
		require.NoError(t, err)

		assert.Equal(t, PhaseAttack, s.Phase)
		assert.Equal(t, DeckSize, CardCount(s))
		assert.Equal(t, DeckSize-players*HandSize, s.Deck.Len())
		for _, seat := range s.Seats {
			assert.Len(t, seat.Hand, HandSize)
		}
		assert.Equal(t, s.TrumpCard.Suit, s.Trump)
		if bottom, ok := s.Deck.Bottom(); ok {
			assert.Equal(t, bottom, s.TrumpCard)
		}
		assert.Equal(t, s.nextActive(s.Attacker), s.Defender)
	}

	_, _, err := NewGame([]string{"solo"}, DefaultRules(), 1)
	assert.ErrorIs(t, err, ErrBadPlayerCount)
	_, _, err = NewGame(make([]string, 7), DefaultRules(), 1)
	assert.ErrorIs(t, err, ErrBadPlayerCount)
}

func TestNewGame_LowestTrumpAttacksFirst(t *testing.T) {
	seat0 := []Card{{Hearts, 6}, {Hearts, 7}, {Hearts, 8}, {Hearts, 9}, {Spades, Ace}, {Clubs, 6}}
	seat1 := []Card{{Diamonds, 6}, {Diamonds, 7}, {Spades, 8}, {Diamonds, 9}, {Diamonds, 10}, {Clubs, 7}}
	seat2 := []Card{{Clubs, 8}, {Clubs, 9}, {Clubs, 10}, {Spades, 9}, {Clubs, Jack}, {Clubs, Queen}}
	deck := stackedDeck(interleave(seat0, seat1, seat2), Card{Spades, 6})

	s, _, err := NewGameFromDeck([]string{"a", "b", "c"}, DefaultRules(), deck)
	require.NoError(t, err)
	assert.Equal(t, Spades, s.Trump)
	assert.Equal(t, 1, s.Attacker)
	assert.Equal(t, 2, s.Defender)
}

func TestNewGame_SixPlayersTrumpFromLastDealtCard(t *testing.T) {
	ids := []string{"a", "b", "c", "d", "e", "f"}
	deck := NewDeck()
	s, _, err := NewGameFromDeck(ids, DefaultRules(), deck)
	require.NoError(t, err)

	assert.True(t, s.Deck.IsEmpty())
	assert.Equal(t, deck[DeckSize-1], s.TrumpCard)
}

func TestScenarioA_TakeIsTheOnlyAnswer(t *testing.T) {
	s := scenarioA(t)
	require.Equal(t, Spades, s.Trump)
	require.Equal(t, 0, s.Attacker)
	require.Equal(t, 1, s.Defender)

	_, s, err := Apply(s, Command{Type: CmdAttack, Seat: 0, Card: Card{Hearts, 6}})
	require.NoError(t, err)
	require.Equal(t, PhaseDefense, s.Phase)

	moves := LegalMoves(s, 1)
	require.Len(t, moves, 1)
	assert.Equal(t, CmdTake, moves[0].Type)

	events, s, err := Apply(s, Command{Type: CmdTake, Seat: 1})
	require.NoError(t, err)
	assert.True(t, ContainsEvent(events, EvtTaken))

	assert.Len(t, s.Seats[1].Hand, 7)
	assert.Empty(t, s.Table)
	assert.Equal(t, 0, s.Attacker)
	assert.Equal(t, 1, s.Defender)
	assert.Len(t, s.Seats[0].Hand, 6, "attacker draws back up")
	assert.Equal(t, DeckSize, CardCount(s))
}

func TestScenarioB_EmptyHandEndsGame(t *testing.T) {
	s := endgame(Spades, 0,
		[]Card{{Hearts, 6}},
		[]Card{{Hearts, 7}, {Clubs, 8}},
	)

	_, s, err := Apply(s, Command{Type: CmdAttack, Seat: 0, Card: Card{Hearts, 6}})
	require.NoError(t, err)

	events, s, err := Apply(s, Command{Type: CmdDefend, Seat: 1, Card: Card{Hearts, 7}})
	require.NoError(t, err)

	assert.True(t, ContainsEvent(events, EvtDiscarded), "nobody can add a card so the round closes itself")
	assert.True(t, ContainsEvent(events, EvtGameOver))
	assert.Equal(t, PhaseGameOver, s.Phase)
	assert.Equal(t, 1, s.Fool)
	assert.Equal(t, 1, s.Seats[0].Place)
	assert.Equal(t, 2, s.Seats[1].Place)
	assert.Equal(t, []int{0, 1}, Standings(s))
	assert.Equal(t, DeckSize, CardCount(s))

	_, _, err = Apply(s, Command{Type: CmdTake, Seat: 1})
	assert.ErrorIs(t, err, ErrGameOver)
}

func TestGameOver_Draw(t *testing.T) {
	s := endgame(Spades, 0,
		[]Card{{Hearts, 6}},
		[]Card{{Hearts, 7}},
	)
	_, s, err := Apply(s, Command{Type: CmdAttack, Seat: 0, Card: Card{Hearts, 6}})
	require.NoError(t, err)
	_, s, err = Apply(s, Command{Type: CmdDefend, Seat: 1, Card: Card{Hearts, 7}})
	require.NoError(t, err)

	assert.Equal(t, PhaseGameOver, s.Phase)
	assert.Equal(t, -1, s.Fool)
	assert.Equal(t, []int{0, 1}, s.Finished)
}

func TestTake_GrowsHandByPileSize(t *testing.T) {
	s := endgame(Spades, 0,
		[]Card{{Hearts, 6}, {Clubs, 6}, {Diamonds, 9}},
		[]Card{{Hearts, 7}, {Diamonds, 8}, {Clubs, 10}},
		[]Card{{Hearts, 10}},
	)
	_, s, err := Apply(s, Command{Type: CmdAttack, Seat: 0, Card: Card{Hearts, 6}})
	require.NoError(t, err)
	_, s, err = Apply(s, Command{Type: CmdDefend, Seat: 1, Card: Card{Hearts, 7}})
	require.NoError(t, err)
	_, s, err = Apply(s, Command{Type: CmdAttack, Seat: 0, Card: Card{Clubs, 6}})
	require.NoError(t, err)

	before := len(s.Seats[1].Hand)
	pile := len(TableCards(s.Table))
	require.Equal(t, 3, pile)

	_, s, err = Apply(s, Command{Type: CmdTake, Seat: 1})
	require.NoError(t, err)
	assert.Equal(t, before+pile, len(s.Seats[1].Hand))
	assert.Empty(t, s.Table)
	assert.Equal(t, 2, s.Attacker, "seat after the taker attacks next")
	assert.Equal(t, 0, s.Defender)
}

func TestFinishAttack(t *testing.T) {
	s := endgame(Spades, 0,
		[]Card{{Hearts, 6}, {Clubs, 6}, {Diamonds, 9}},
		[]Card{{Hearts, 7}, {Diamonds, 8}, {Clubs, 10}},
		[]Card{{Hearts, 10}, {Clubs, Ace}},
	)

	_, _, err := Apply(s, Command{Type: CmdFinishAttack, Seat: 0})
	assert.ErrorIs(t, err, ErrIllegalMove, "nothing on the table yet")

	_, s, err = Apply(s, Command{Type: CmdAttack, Seat: 0, Card: Card{Hearts, 6}})
	require.NoError(t, err)

	_, _, err = Apply(s, Command{Type: CmdFinishAttack, Seat: 0})
	assert.ErrorIs(t, err, ErrNotYourTurn, "defender has not answered")

	_, s, err = Apply(s, Command{Type: CmdDefend, Seat: 1, Card: Card{Hearts, 7}})
	require.NoError(t, err)
	require.Equal(t, PhaseAttack, s.Phase)

	_, _, err = Apply(s, Command{Type: CmdFinishAttack, Seat: 2})
	assert.ErrorIs(t, err, ErrNotYourTurn)

	discardBefore := len(s.Discard)
	events, s, err := Apply(s, Command{Type: CmdFinishAttack, Seat: 0})
	require.NoError(t, err)
	assert.True(t, ContainsEvent(events, EvtDiscarded))
	assert.Empty(t, s.Table)
	assert.Equal(t, discardBefore+2, len(s.Discard))
	assert.Equal(t, 1, s.Attacker, "defender attacks next")
	assert.Equal(t, 2, s.Defender)
}

func TestIllegalMovesLeaveStateUnchanged(t *testing.T) {
	s := scenarioA(t)
	snapshot := s.Clone()

	cases := []struct {
		name string
		cmd  Command
		want error
	}{
		{name: "card not in hand", cmd: Command{Type: CmdAttack, Seat: 0, Card: Card{Diamonds, 7}}, want: ErrIllegalMove},
		{name: "defender attacks", cmd: Command{Type: CmdAttack, Seat: 1, Card: Card{Diamonds, 7}}, want: ErrNotYourTurn},
		{name: "defend before attack", cmd: Command{Type: CmdDefend, Seat: 1, Card: Card{Diamonds, 7}}, want: ErrNotYourTurn},
		{name: "take out of turn", cmd: Command{Type: CmdTake, Seat: 1}, want: ErrNotYourTurn},
		{name: "unknown seat", cmd: Command{Type: CmdAttack, Seat: 7, Card: Card{Hearts, 6}}, want: ErrNotYourTurn},
		{name: "unknown command", cmd: Command{Type: "shuffle", Seat: 0}, want: ErrUnsupportedCommand},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			events, got, err := Apply(s, tc.cmd)
			require.ErrorIs(t, err, tc.want)
			assert.Nil(t, events)
			assert.Equal(t, snapshot, got)
			assert.Equal(t, snapshot, s)
		})
	}

	_, s, err := Apply(s, Command{Type: CmdAttack, Seat: 0, Card: Card{Hearts, 6}})
	require.NoError(t, err)
	before := s.Clone()
	_, got, err := Apply(s, Command{Type: CmdDefend, Seat: 1, Card: Card{Diamonds, 7}})
	require.ErrorIs(t, err, ErrIllegalMove)
	assert.Equal(t, before, got)
}

func TestTransfer(t *testing.T) {
	s := endgame(Spades, 0,
		[]Card{{Hearts, 8}, {Clubs, 9}},
		[]Card{{Diamonds, 8}, {Clubs, 10}},
		[]Card{{Hearts, 10}, {Clubs, Ace}, {Diamonds, Queen}},
	)
	_, s, err := Apply(s, Command{Type: CmdAttack, Seat: 0, Card: Card{Hearts, 8}})
	require.NoError(t, err)

	events, s, err := Apply(s, Command{Type: CmdTransfer, Seat: 1, Card: Card{Diamonds, 8}})
	require.NoError(t, err)
	assert.True(t, ContainsEvent(events, EvtTransferred))
	assert.Equal(t, 1, s.Attacker)
	assert.Equal(t, 2, s.Defender)
	assert.Equal(t, PhaseDefense, s.Phase)
	assert.Len(t, s.Table, 2)

	// seat 2 holds no eight
	_, _, err = Apply(s, Command{Type: CmdTransfer, Seat: 2, Card: Card{Hearts, 10}})
	assert.ErrorIs(t, err, ErrIllegalMove)

	target := 1
	_, s, err = Apply(s, Command{Type: CmdDefend, Seat: 2, Card: Card{Diamonds, Queen}, Target: &target})
	require.NoError(t, err)
	assert.Equal(t, PhaseDefense, s.Phase, "one attack still open")
	_, s, err = Apply(s, Command{Type: CmdDefend, Seat: 2, Card: Card{Hearts, 10}})
	require.NoError(t, err)
	assert.Equal(t, PhaseAttack, s.Phase)
}

func TestTransferDisabled(t *testing.T) {
	s := endgame(Spades, 0,
		[]Card{{Hearts, 8}, {Clubs, 9}},
		[]Card{{Diamonds, 8}, {Clubs, 10}},
	)
	s.Rules.AllowTransfer = false
	_, s, err := Apply(s, Command{Type: CmdAttack, Seat: 0, Card: Card{Hearts, 8}})
	require.NoError(t, err)

	_, _, err = Apply(s, Command{Type: CmdTransfer, Seat: 1, Card: Card{Diamonds, 8}})
	assert.ErrorIs(t, err, ErrIllegalMove)
	for _, m := range LegalMoves(s, 1) {
		assert.NotEqual(t, CmdTransfer, m.Type)
	}
}

func TestThrowIn(t *testing.T) {
	s := endgame(Spades, 0,
		[]Card{{Hearts, 8}, {Clubs, Ace}},
		[]Card{{Hearts, 9}, {Clubs, 10}, {Diamonds, 6}},
		[]Card{{Diamonds, 9}, {Diamonds, King}},
	)
	_, _, err := Apply(s, Command{Type: CmdAttack, Seat: 2, Card: Card{Diamonds, 9}})
	assert.ErrorIs(t, err, ErrNotYourTurn, "bystanders cannot open a round")

	_, s, err = Apply(s, Command{Type: CmdAttack, Seat: 0, Card: Card{Hearts, 8}})
	require.NoError(t, err)
	_, s, err = Apply(s, Command{Type: CmdDefend, Seat: 1, Card: Card{Hearts, 9}})
	require.NoError(t, err)

	_, s, err = Apply(s, Command{Type: CmdAttack, Seat: 2, Card: Card{Diamonds, 9}})
	require.NoError(t, err)
	assert.Equal(t, PhaseDefense, s.Phase)
}

func TestTimeoutAdvance_AppliesDefaultMove(t *testing.T) {
	s := scenarioA(t)

	events, s, err := Apply(s, Command{Type: CmdTimeoutAdvance})
	require.NoError(t, err)
	require.True(t, ContainsEvent(events, EvtTimedOut))
	require.True(t, ContainsEvent(events, EvtAttacked))
	assert.Equal(t, Card{Hearts, 6}, s.Table[0].Attack, "cheapest non-trump leads")

	events, s, err = Apply(s, Command{Type: CmdTimeoutAdvance})
	require.NoError(t, err)
	assert.True(t, ContainsEvent(events, EvtTaken), "defender who times out takes")
	assert.Empty(t, s.Table)
}

func TestForfeit(t *testing.T) {
	s, _, err := NewGame([]string{"a", "b", "c"}, DefaultRules(), 9)
	require.NoError(t, err)

	events, s, err := Apply(s, Command{Type: CmdForfeit, Seat: 2})
	require.NoError(t, err)
	assert.True(t, ContainsEvent(events, EvtGameOver))
	assert.Equal(t, PhaseGameOver, s.Phase)
	assert.Equal(t, 2, s.Fool)
	assert.Equal(t, []int{0, 1, 2}, Standings(s))
	assert.Equal(t, DeckSize, CardCount(s))
}

func TestRandomPlayouts_KeepCardCountAndTerminate(t *testing.T) {
	for seed := int64(1); seed <= 60; seed++ {
		players := 2 + int(seed%5)
		ids := []string{"p0", "p1", "p2", "p3", "p4", "p5"}[:players]
		s, _, err := NewGame(ids, DefaultRules(), seed)
		require.NoError(t, err)
		rng := rand.New(rand.NewSource(seed))

		steps := 0
		for s.Phase != PhaseGameOver {
			steps++
			require.Less(t, steps, 20000, "seed %d did not finish", seed)

			var cmd Command
			if rng.Intn(20) == 0 {
				cmd = Command{Type: CmdTimeoutAdvance}
			} else {
				moves := LegalMoves(s, ActingSeat(s))
				require.NotEmpty(t, moves, "seed %d: acting seat has no moves", seed)
				cmd = moves[rng.Intn(len(moves))]
			}

			_, next, err := Apply(s, cmd)
			require.NoError(t, err, "seed %d step %d cmd %+v", seed, steps, cmd)
			require.Equal(t, DeckSize, CardCount(next), "seed %d step %d", seed, steps)
			s = next
		}

		standings := Standings(s)
		assert.Len(t, standings, players)
		if s.Fool >= 0 {
			assert.Equal(t, s.Fool, standings[len(standings)-1])
			assert.NotEmpty(t, s.Seats[s.Fool].Hand)
		}
	}
}

func TestApplyErrorsAreSentinels(t *testing.T) {
	s := scenarioA(t)
	_, _, err := Apply(s, Command{Type: CmdAttack, Seat: 0, Card: Card{Spades, Ace}})
	assert.True(t, errors.Is(err, ErrIllegalMove))
	assert.Contains(t, err.Error(), "AS")
}

func TestCommandJSON_OmitsEmptyCard(t *testing.T) {
	raw, err := json.Marshal(Command{Type: CmdTake, Seat: 1})
	require.NoError(t, err)
	assert.NotContains(t, string(raw), `"card"`)

	raw, err = json.Marshal(Event{Type: EvtTaken, Seat: 1, Count: 2})
	require.NoError(t, err)
	assert.NotContains(t, string(raw), `"card"`)

	raw, err = json.Marshal(Command{Type: CmdAttack, Card: Card{Suit: Hearts, Rank: 6}})
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"card":{"suit":"hearts","rank":6}`)
}
