package engine

import "fmt"

// NewGame shuffles a deck from seed and deals it to players in seat order.
func NewGame(players []string, rules Rules, seed int64) (State, []Event, error) {
	return NewGameFromDeck(players, rules, NewShuffledDeck(seed))
}

// NewGameFromDeck deals a prepared deck, top card first.
func NewGameFromDeck(players []string, rules Rules, deck Deck) (State, []Event, error) {
	if len(players) < 2 || len(players) > 6 {
		return State{}, nil, fmt.Errorf("%w: got %d", ErrBadPlayerCount, len(players))
	}
	if len(deck) != DeckSize {
		return State{}, nil, fmt.Errorf("deck has %d cards, want %d", len(deck), DeckSize)
	}

	s := State{
		Phase: PhaseDealing,
		Seats: make([]Seat, len(players)),
		Deck:  deck.clone(),
		Fool:  -1,
		Rules: rules,
	}
	for i, id := range players {
		s.Seats[i] = Seat{PlayerID: id}
	}

	var last Card
	for range s.Rules.handSize() {
		for i := range s.Seats {
			if s.Deck.IsEmpty() {
				break
			}
			last, s.Deck, _ = s.Deck.Draw()
			s.Seats[i].Hand = append(s.Seats[i].Hand, last)
		}
	}

	s.TrumpCard = last
	if bottom, ok := s.Deck.Bottom(); ok {
		s.TrumpCard = bottom
	}
	s.Trump = s.TrumpCard.Suit

	s.Attacker = lowestTrumpHolder(s)
	s.Defender = s.nextActive(s.Attacker)
	s.Phase = PhaseAttack

	events := make([]Event, 0, len(players)+1)
	for i, seat := range s.Seats {
		events = append(events, Event{Type: EvtDealt, Seat: i, Count: len(seat.Hand)})
	}
	events = append(events, Event{Type: EvtTurnAdvanced, Seat: s.Attacker, Card: s.TrumpCard, Count: s.Defender})
	return s, events, nil
}

// lowestTrumpHolder picks the first attacker. Ties go to the lowest seat and a
// deal without trumps starts at seat 0.
func lowestTrumpHolder(s State) int {
	best, bestRank := 0, MaxRank+1
	for i, seat := range s.Seats {
		for _, c := range seat.Hand {
			if c.Suit == s.Trump && c.Rank < bestRank {
				best, bestRank = i, c.Rank
			}
		}
	}
	return best
}

// LegalMoves enumerates every command seat may submit in s.
func LegalMoves(s State, seat int) []Command {
	if s.Phase == PhaseGameOver || seat < 0 || seat >= len(s.Seats) {
		return nil
	}
	var moves []Command

	switch s.Phase {
	case PhaseAttack:
		if !s.mayAttack(seat) {
			return nil
		}
		for _, c := range s.legalAttacksFor(seat) {
			moves = append(moves, Command{Type: CmdAttack, Seat: seat, Card: c})
		}
		if seat == s.Attacker && AllDefended(s.Table) {
			moves = append(moves, Command{Type: CmdFinishAttack, Seat: seat})
		}

	case PhaseDefense:
		if seat != s.Defender {
			return nil
		}
		hand := s.Seats[seat].Hand
		for i, p := range s.Table {
			if p.Defended() {
				continue
			}
			for _, c := range LegalDefenses(hand, p.Attack, s.Trump) {
				target := i
				moves = append(moves, Command{Type: CmdDefend, Seat: seat, Card: c, Target: &target})
			}
		}
		if s.Rules.AllowTransfer {
			next := s.nextActive(seat)
			for _, c := range LegalTransfers(hand, s.Table, len(s.Seats[next].Hand)) {
				moves = append(moves, Command{Type: CmdTransfer, Seat: seat, Card: c})
			}
		}
		moves = append(moves, Command{Type: CmdTake, Seat: seat})
	}
	return moves
}

// DefaultMove is applied when the acting seat runs out of time: a defender
// takes, an attacker finishes a beaten table or leads its cheapest card.
func DefaultMove(s State) Command {
	seat := ActingSeat(s)
	if s.Phase == PhaseDefense {
		return Command{Type: CmdTake, Seat: seat}
	}
	if len(s.Table) > 0 {
		return Command{Type: CmdFinishAttack, Seat: seat}
	}
	hand := append([]Card(nil), s.Seats[seat].Hand...)
	SortHand(hand, s.Trump)
	if len(hand) == 0 {
		return Command{Type: CmdFinishAttack, Seat: seat}
	}
	return Command{Type: CmdAttack, Seat: seat, Card: hand[0]}
}

// CardCount totals every card in play; it is DeckSize in every reachable state.
func CardCount(s State) int {
	n := len(s.Deck) + len(s.Discard) + len(TableCards(s.Table))
	for _, seat := range s.Seats {
		n += len(seat.Hand)
	}
	return n
}

// Standings returns seats ordered by finishing place; the fool, if any, is last.
func Standings(s State) []int {
	out := append([]int(nil), s.Finished...)
	for i := range s.Seats {
		if !s.Seats[i].Out && i != s.Fool {
			out = append(out, i)
		}
	}
	if s.Fool >= 0 {
		out = append(out, s.Fool)
	}
	return out
}

func ContainsEvent(events []Event, eventType EventType) bool {
	for _, event := range events {
		if event.Type == eventType {
			return true
		}
	}
	return false
}
