package engine

import (
	"errors"
	"fmt"
)

var ErrNotYourTurn = errors.New("not your turn")
var ErrIllegalMove = errors.New("illegal move")
var ErrUnsupportedCommand = errors.New("unsupported command")
var ErrGameOver = errors.New("game already over")
var ErrEmptyDeck = errors.New("deck is empty")
var ErrBadPlayerCount = errors.New("durak needs 2 to 6 players")

type Phase string

const (
	PhaseDealing  Phase = "dealing"
	PhaseAttack   Phase = "attack"
	PhaseDefense  Phase = "defense"
	PhaseGameOver Phase = "game_over"
)

type Role string

const (
	RoleAttacker  Role = "attacker"
	RoleDefender  Role = "defender"
	RoleBystander Role = "bystander"
	RoleOut       Role = "out"
)

// Seat is one player's place at the table.
type Seat struct {
	PlayerID string `json:"playerId"`
	Hand     []Card `json:"hand"`
	Out      bool   `json:"out"`
	// Place is the 1-based finishing position, 0 while still playing.
	Place int `json:"place,omitempty"`
}

type Rules struct {
	HandSize       int  `json:"handSize"`
	MaxPileAttacks int  `json:"maxPileAttacks"`
	AllowTransfer  bool `json:"allowTransfer"`
	AllowThrowIn   bool `json:"allowThrowIn"`
}

func DefaultRules() Rules {
	return Rules{HandSize: HandSize, MaxPileAttacks: 6, AllowTransfer: true, AllowThrowIn: true}
}

func (r Rules) handSize() int {
	if r.HandSize <= 0 {
		return HandSize
	}
	return r.HandSize
}

type State struct {
	Phase     Phase  `json:"phase"`
	Seats     []Seat `json:"seats"`
	Deck      Deck   `json:"deck"`
	Trump     Suit   `json:"trump"`
	TrumpCard Card   `json:"trumpCard"`
	Table     []Pair `json:"table"`
	Discard   []Card `json:"discard"`
	Attacker  int    `json:"attacker"`
	Defender  int    `json:"defender"`
	Round     int    `json:"round"`
	// Finished lists seats in the order they emptied their hands.
	Finished []int `json:"finished"`
	// Fool is the losing seat once the game is over, -1 for a draw.
	Fool  int   `json:"fool"`
	Rules Rules `json:"rules"`
}

type CommandType string

const (
	CmdAttack         CommandType = "attack"
	CmdDefend         CommandType = "defend"
	CmdTransfer       CommandType = "transfer"
	CmdTake           CommandType = "take"
	CmdFinishAttack   CommandType = "finishAttack"
	CmdTimeoutAdvance CommandType = "timeout"
	CmdForfeit        CommandType = "forfeit"
)

/*
	CmdAttack       -> EvtAttacked
	CmdDefend       -> EvtDefended [-> EvtDiscarded -> round end, when nobody can add a card]
	CmdTransfer     -> EvtTransferred
	CmdTake         -> EvtTaken -> round end
	CmdFinishAttack -> EvtDiscarded -> round end
	round end       -> EvtCardsDrawn* -> EvtSeatFinished* -> EvtTurnAdvanced | EvtGameOver
	CmdTimeoutAdvance -> EvtTimedOut -> whatever DefaultMove produces
*/

type Command struct {
	Type CommandType `json:"type"`
	Seat int         `json:"seat"`
	Card Card        `json:"card,omitzero"`
	// Target is the table index a defense is aimed at; nil means the first unbeaten attack.
	Target *int `json:"target,omitempty"`
}

type EventType string

const (
	EvtDealt        EventType = "Dealt"
	EvtAttacked     EventType = "Attacked"
	EvtDefended     EventType = "Defended"
	EvtTransferred  EventType = "Transferred"
	EvtTaken        EventType = "Taken"
	EvtDiscarded    EventType = "Discarded"
	EvtCardsDrawn   EventType = "CardsDrawn"
	EvtSeatFinished EventType = "SeatFinished"
	EvtTurnAdvanced EventType = "TurnAdvanced"
	EvtTimedOut     EventType = "TimedOut"
	EvtForfeited    EventType = "Forfeited"
	EvtGameOver     EventType = "GameOver"
)

type Event struct {
	Type  EventType `json:"type"`
	Seat  int       `json:"seat"`
	Card  Card      `json:"card,omitzero"`
	Count int       `json:"count,omitempty"`
}

// Apply validates cmd against s and returns the resulting state. On error the
// returned state is s itself, untouched.
func Apply(s State, cmd Command) ([]Event, State, error) {
	if s.Phase == PhaseGameOver {
		return nil, s, ErrGameOver
	}
	if cmd.Type != CmdTimeoutAdvance && (cmd.Seat < 0 || cmd.Seat >= len(s.Seats)) {
		return nil, s, fmt.Errorf("%w: unknown seat %d", ErrNotYourTurn, cmd.Seat)
	}

	newState := s.Clone()
	var events []Event
	var err error

	switch cmd.Type {
	case CmdAttack:
		events, err = newState.attack(cmd.Seat, cmd.Card)
	case CmdDefend:
		events, err = newState.defend(cmd.Seat, cmd.Card, cmd.Target)
	case CmdTransfer:
		events, err = newState.transfer(cmd.Seat, cmd.Card)
	case CmdTake:
		events, err = newState.take(cmd.Seat)
	case CmdFinishAttack:
		events, err = newState.finishAttack(cmd.Seat)
	case CmdForfeit:
		events, err = newState.forfeit(cmd.Seat)
	case CmdTimeoutAdvance:
		move := DefaultMove(s)
		var inner []Event
		inner, newState, err = Apply(s, move)
		events = append([]Event{{Type: EvtTimedOut, Seat: move.Seat}}, inner...)
	default:
		return nil, s, ErrUnsupportedCommand
	}

	if err != nil {
		return nil, s, err
	}
	return events, newState, nil
}

func (s *State) attack(seat int, card Card) ([]Event, error) {
	if s.Phase != PhaseAttack {
		return nil, fmt.Errorf("%w: defender %d must respond first", ErrNotYourTurn, s.Defender)
	}
	if !s.mayAttack(seat) {
		return nil, ErrNotYourTurn
	}
	hand := s.Seats[seat].Hand
	if !HasCard(hand, card) {
		return nil, fmt.Errorf("%w: %s is not in hand", ErrIllegalMove, card)
	}
	if !HasCard(s.legalAttacksFor(seat), card) {
		return nil, fmt.Errorf("%w: %s cannot be added to the table", ErrIllegalMove, card)
	}

	s.Seats[seat].Hand = RemoveCard(hand, card)
	s.Table = append(s.Table, Pair{Attack: card})
	s.Phase = PhaseDefense
	return []Event{{Type: EvtAttacked, Seat: seat, Card: card}}, nil
}

func (s *State) defend(seat int, card Card, target *int) ([]Event, error) {
	if s.Phase != PhaseDefense || seat != s.Defender {
		return nil, ErrNotYourTurn
	}
	idx := FirstUndefended(s.Table)
	if target != nil {
		idx = *target
	}
	if idx < 0 || idx >= len(s.Table) || s.Table[idx].Defended() {
		return nil, fmt.Errorf("%w: no open attack at %d", ErrIllegalMove, idx)
	}
	hand := s.Seats[seat].Hand
	if !HasCard(hand, card) {
		return nil, fmt.Errorf("%w: %s is not in hand", ErrIllegalMove, card)
	}
	attack := s.Table[idx].Attack
	if !Beats(card, attack, s.Trump) {
		return nil, fmt.Errorf("%w: %s does not beat %s", ErrIllegalMove, card, attack)
	}

	s.Seats[seat].Hand = RemoveCard(hand, card)
	c := card
	s.Table[idx].Defense = &c
	events := []Event{{Type: EvtDefended, Seat: seat, Card: card, Count: idx}}

	if Undefended(s.Table) == 0 {
		s.Phase = PhaseAttack
		if !s.anyoneCanAttack() {
			events = append(events, s.discardTable()...)
		}
	}
	return events, nil
}

func (s *State) transfer(seat int, card Card) ([]Event, error) {
	if s.Phase != PhaseDefense || seat != s.Defender {
		return nil, ErrNotYourTurn
	}
	if !s.Rules.AllowTransfer {
		return nil, fmt.Errorf("%w: transfers are disabled", ErrIllegalMove)
	}
	hand := s.Seats[seat].Hand
	if !HasCard(hand, card) {
		return nil, fmt.Errorf("%w: %s is not in hand", ErrIllegalMove, card)
	}
	next := s.nextActive(seat)
	if !HasCard(LegalTransfers(hand, s.Table, len(s.Seats[next].Hand)), card) {
		return nil, fmt.Errorf("%w: cannot transfer with %s", ErrIllegalMove, card)
	}

	s.Seats[seat].Hand = RemoveCard(hand, card)
	s.Table = append(s.Table, Pair{Attack: card})
	s.Attacker = seat
	s.Defender = next
	return []Event{{Type: EvtTransferred, Seat: seat, Card: card, Count: next}}, nil
}

func (s *State) take(seat int) ([]Event, error) {
	if s.Phase != PhaseDefense || seat != s.Defender {
		return nil, ErrNotYourTurn
	}
	picked := TableCards(s.Table)
	s.Seats[seat].Hand = append(s.Seats[seat].Hand, picked...)
	s.Table = nil

	events := []Event{{Type: EvtTaken, Seat: seat, Count: len(picked)}}
	return append(events, s.endRound(true)...), nil
}

func (s *State) finishAttack(seat int) ([]Event, error) {
	if s.Phase != PhaseAttack || seat != s.Attacker {
		return nil, ErrNotYourTurn
	}
	if !AllDefended(s.Table) {
		return nil, fmt.Errorf("%w: every attack must be beaten before finishing", ErrIllegalMove)
	}
	return s.discardTable(), nil
}

func (s *State) forfeit(seat int) ([]Event, error) {
	if s.Seats[seat].Out {
		return nil, fmt.Errorf("%w: seat %d already finished", ErrIllegalMove, seat)
	}
	events := []Event{{Type: EvtForfeited, Seat: seat}}
	for i := range s.Seats {
		if i == seat || s.Seats[i].Out {
			continue
		}
		s.finishSeat(i)
	}
	s.Fool = seat
	s.Seats[seat].Place = len(s.Seats)
	s.Phase = PhaseGameOver
	return append(events, Event{Type: EvtGameOver, Seat: seat}), nil
}

// discardTable moves a fully beaten table to the discard pile and ends the round.
func (s *State) discardTable() []Event {
	cards := TableCards(s.Table)
	s.Discard = append(s.Discard, cards...)
	s.Table = nil
	events := []Event{{Type: EvtDiscarded, Seat: s.Defender, Count: len(cards)}}
	return append(events, s.endRound(false)...)
}

// endRound refills hands, retires emptied seats and rotates roles.
func (s *State) endRound(pickedUp bool) []Event {
	var events []Event
	order := s.drawOrder()
	limit := s.Rules.handSize()

	for _, i := range order {
		n := 0
		for len(s.Seats[i].Hand) < limit && !s.Deck.IsEmpty() {
			var c Card
			c, s.Deck, _ = s.Deck.Draw()
			s.Seats[i].Hand = append(s.Seats[i].Hand, c)
			n++
		}
		if n > 0 {
			events = append(events, Event{Type: EvtCardsDrawn, Seat: i, Count: n})
		}
	}

	if s.Deck.IsEmpty() {
		for _, i := range order {
			if len(s.Seats[i].Hand) == 0 {
				s.finishSeat(i)
				events = append(events, Event{Type: EvtSeatFinished, Seat: i, Count: s.Seats[i].Place})
			}
		}
	}

	active := s.activeSeats()
	if s.Deck.IsEmpty() && len(active) <= 1 {
		s.Fool = -1
		if len(active) == 1 {
			s.Fool = active[0]
			s.Seats[active[0]].Place = len(s.Seats)
		}
		s.Phase = PhaseGameOver
		return append(events, Event{Type: EvtGameOver, Seat: s.Fool})
	}

	prevDefender := s.Defender
	if pickedUp || s.Seats[prevDefender].Out {
		s.Attacker = s.nextActive(prevDefender)
	} else {
		s.Attacker = prevDefender
	}
	s.Defender = s.nextActive(s.Attacker)
	s.Round++
	s.Phase = PhaseAttack
	return append(events, Event{Type: EvtTurnAdvanced, Seat: s.Attacker, Count: s.Defender})
}

func (s *State) finishSeat(i int) {
	s.Seats[i].Out = true
	s.Finished = append(s.Finished, i)
	s.Seats[i].Place = len(s.Finished)
}

// mayAttack reports whether seat may put a card on the table right now.
func (s *State) mayAttack(seat int) bool {
	if seat == s.Attacker {
		return true
	}
	if !s.Rules.AllowThrowIn || seat == s.Defender || s.Seats[seat].Out {
		return false
	}
	return len(s.Table) > 0
}

func (s *State) legalAttacksFor(seat int) []Card {
	return LegalAttacks(s.Seats[seat].Hand, s.Table, len(s.Seats[s.Defender].Hand), s.Rules.MaxPileAttacks)
}

func (s *State) anyoneCanAttack() bool {
	for i := range s.Seats {
		if s.mayAttack(i) && len(s.legalAttacksFor(i)) > 0 {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of s.
func (s State) Clone() State {
	out := s
	out.Seats = make([]Seat, len(s.Seats))
	for i, seat := range s.Seats {
		out.Seats[i] = seat
		out.Seats[i].Hand = append([]Card(nil), seat.Hand...)
	}
	out.Deck = s.Deck.clone()
	out.Table = clonePairs(s.Table)
	out.Discard = append([]Card(nil), s.Discard...)
	out.Finished = append([]int(nil), s.Finished...)
	return out
}
