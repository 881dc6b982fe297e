package lobby

import (
	"time"

	"github.com/DoyleJ11/durak-server/internal/engine"
	"github.com/DoyleJ11/durak-server/internal/events"
)

type SeatView struct {
	PlayerID  string      `json:"playerId"`
	Role      engine.Role `json:"role,omitempty"`
	HandSize  int         `json:"handSize"`
	Stake     int64       `json:"stake"`
	Connected bool        `json:"connected"`
	Abandoned bool        `json:"abandoned,omitempty"`
	Out       bool        `json:"out,omitempty"`
	Place     int         `json:"place,omitempty"`
}

// Snapshot is the read-only projection of a room for one viewer. Only the
// viewer's own hand is included.
type Snapshot struct {
	RoomID       string              `json:"roomId"`
	Name         string              `json:"name"`
	Creator      string              `json:"creator"`
	Version      int                 `json:"version"`
	Status       Status              `json:"status"`
	MaxPlayers   int                 `json:"maxPlayers"`
	Stake        int64               `json:"stake"`
	Phase        engine.Phase        `json:"phase,omitempty"`
	Trump        engine.Suit         `json:"trump,omitempty"`
	TrumpCard    *engine.Card        `json:"trumpCard,omitempty"`
	DeckSize     int                 `json:"deckSize"`
	DiscardSize  int                 `json:"discardSize"`
	Table        []engine.Pair       `json:"table"`
	Seats        []SeatView          `json:"seats"`
	ActingPlayer string              `json:"actingPlayer,omitempty"`
	TurnDeadline *time.Time          `json:"turnDeadline,omitempty"`
	LegalMoves   []engine.Command    `json:"legalMoves,omitempty"`
	Hand         []engine.Card       `json:"hand,omitempty"`
	Fool         string              `json:"fool,omitempty"`
	Result       *events.MatchResult `json:"result,omitempty"`
}

// Summary is the lobby-list entry for a room.
type Summary struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Creator    string `json:"creator"`
	Players    int    `json:"players"`
	MaxPlayers int    `json:"maxPlayers"`
	Stake      int64  `json:"stake"`
	Status     Status `json:"status"`
}

func (r *Room) summary() Summary {
	return Summary{
		ID:         r.id,
		Name:       r.cfg.Name,
		Creator:    r.creator,
		Players:    len(r.seats),
		MaxPlayers: r.cfg.MaxPlayers,
		Stake:      r.cfg.Stake,
		Status:     r.Status(),
	}
}

func (r *Room) snapshot(viewer string) Snapshot {
	st := r.state
	snap := Snapshot{
		RoomID:      r.id,
		Name:        r.cfg.Name,
		Creator:     r.creator,
		Version:     r.version,
		Status:      r.Status(),
		MaxPlayers:  r.cfg.MaxPlayers,
		Stake:       r.cfg.Stake,
		DeckSize:    st.Deck.Len(),
		DiscardSize: len(st.Discard),
		Table:       st.Clone().Table,
		Seats:       make([]SeatView, len(r.seats)),
		Result:      r.result,
	}

	started := len(st.Seats) > 0
	if started {
		snap.Phase = st.Phase
		snap.Trump = st.Trump
		tc := st.TrumpCard
		snap.TrumpCard = &tc
		if st.Fool >= 0 && st.Phase == engine.PhaseGameOver {
			snap.Fool = st.Seats[st.Fool].PlayerID
		}
	}

	for i, s := range r.seats {
		v := SeatView{PlayerID: s.PlayerID, Stake: s.Stake, Connected: s.Connected, Abandoned: s.Abandoned}
		if started {
			v.Role = engine.RoleOf(st, i)
			v.HandSize = len(st.Seats[i].Hand)
			v.Out = st.Seats[i].Out
			v.Place = st.Seats[i].Place
		}
		snap.Seats[i] = v
	}

	if !started || r.Status() != StatusActive {
		if started && viewer != "" {
			if i := r.seatOf(viewer); i >= 0 {
				snap.Hand = append([]engine.Card(nil), st.Seats[i].Hand...)
			}
		}
		return snap
	}

	if acting := engine.ActingSeat(st); acting >= 0 {
		snap.ActingPlayer = st.Seats[acting].PlayerID
	}
	if !r.deadline.IsZero() {
		d := r.deadline
		snap.TurnDeadline = &d
	}
	if i := r.seatOf(viewer); i >= 0 {
		hand := append([]engine.Card(nil), st.Seats[i].Hand...)
		engine.SortHand(hand, st.Trump)
		snap.Hand = hand
		snap.LegalMoves = engine.LegalMoves(st, i)
	}
	return snap
}

func (r *Room) matchResult(payouts map[string]int64) events.MatchResult {
	st := r.state
	res := events.MatchResult{
		RoomID:     r.id,
		Draw:       st.Fool < 0,
		Stakes:     make(map[string]int64, len(r.seats)),
		Payouts:    payouts,
		FinishedAt: time.Now().UTC(),
	}
	for _, i := range engine.Standings(st) {
		res.Ranked = append(res.Ranked, st.Seats[i].PlayerID)
	}
	if st.Fool >= 0 {
		res.Fool = st.Seats[st.Fool].PlayerID
	}
	for _, s := range r.seats {
		res.Stakes[s.PlayerID] = s.Stake
	}
	return res
}
