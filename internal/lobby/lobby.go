package lobby

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/DoyleJ11/durak-server/internal/engine"
	"github.com/DoyleJ11/durak-server/internal/events"
	"github.com/DoyleJ11/durak-server/internal/ledger"
	"go.uber.org/zap"
)

var ErrRoomFull = errors.New("room is full")
var ErrRoomNotWaiting = errors.New("room is not accepting players")
var ErrRoomNotActive = errors.New("room has no game in progress")
var ErrNotSeated = errors.New("player is not seated in this room")
var ErrAlreadySeated = errors.New("player is already seated")
var ErrNotCreator = errors.New("only the room creator can start the game")
var ErrNotEnoughPlayers = errors.New("not enough players to start")
var ErrBadStake = errors.New("stake below the room minimum")
var ErrBadChat = errors.New("chat message must be 1-280 characters")
var ErrRoomClosed = errors.New("room is closed")

const maxChatLen = 280

type Status string

const (
	StatusWaiting Status = "waiting"
	StatusActive  Status = "active"
	StatusSettled Status = "settled"
	StatusAborted Status = "aborted"
)

func (s Status) Terminal() bool { return s == StatusSettled || s == StatusAborted }

// Escrow is the part of the ledger a room needs.
type Escrow interface {
	Balance(ctx context.Context, account string) (int64, error)
	Lock(ctx context.Context, account string, amount int64, reason string) (ledger.Handle, error)
	Release(ctx context.Context, h ledger.Handle, out ledger.Outcome) (ledger.Receipt, error)
	Refund(ctx context.Context, h ledger.Handle, reason string) (ledger.Receipt, error)
}

type Publisher interface {
	Publish(e events.Event)
}

type Config struct {
	Name        string        `json:"name"`
	MinPlayers  int           `json:"minPlayers"`
	MaxPlayers  int           `json:"maxPlayers"`
	Stake       int64         `json:"stake"`
	TurnTimeout time.Duration `json:"turnTimeout"`
	// Grace is how long a disconnected seat keeps its own decisions.
	Grace            time.Duration `json:"grace"`
	ForfeitOnAbandon bool          `json:"forfeitOnAbandon"`
	Rules            engine.Rules  `json:"rules"`
	// Seed fixes the shuffle; 0 picks one from the clock.
	Seed int64 `json:"-"`
	// Deck, when set, is dealt instead of a shuffled deck.
	Deck engine.Deck `json:"-"`
}

func DefaultConfig() Config {
	return Config{
		Name:        "Durak",
		MinPlayers:  2,
		MaxPlayers:  6,
		Stake:       100,
		TurnTimeout: 30 * time.Second,
		Grace:       45 * time.Second,
		Rules:       engine.DefaultRules(),
	}
}

// Validate fills zero fields from DefaultConfig and rejects impossible tables.
func (c Config) Validate() (Config, error) {
	d := DefaultConfig()
	if c.Name == "" {
		c.Name = d.Name
	}
	if c.MinPlayers == 0 {
		c.MinPlayers = d.MinPlayers
	}
	if c.MaxPlayers == 0 {
		c.MaxPlayers = d.MaxPlayers
	}
	if c.Stake == 0 {
		c.Stake = d.Stake
	}
	if c.Rules == (engine.Rules{}) {
		c.Rules = d.Rules
	}
	if c.MinPlayers < 2 || c.MaxPlayers > 6 || c.MinPlayers > c.MaxPlayers {
		return c, fmt.Errorf("%w: seats must satisfy 2 <= min <= max <= 6, got %d..%d",
			engine.ErrBadPlayerCount, c.MinPlayers, c.MaxPlayers)
	}
	if c.Stake < 0 {
		return c, fmt.Errorf("%w: %d", ErrBadStake, c.Stake)
	}
	if c.TurnTimeout < 0 || c.Grace < 0 {
		return c, fmt.Errorf("timeouts must not be negative")
	}
	return c, nil
}

type Msg interface{ isLobbyMsg() }

// Move is a player's intent; the room fills in the seat.
type Move struct {
	Kind   engine.CommandType
	Card   engine.Card
	Target *int
}

type Join struct {
	PlayerID string
	Stake    int64
	Reply    chan error
}

type Leave struct {
	PlayerID string
	Reply    chan error
}

type Start struct {
	PlayerID string
	Reply    chan error
}

type FromClient struct {
	PlayerID string
	Move     Move
	Reply    chan error
}

type Disconnect struct{ PlayerID string }

type Reconnect struct{ PlayerID string }

type Say struct {
	PlayerID string
	Text     string
	Reply    chan error
}

// Subscribe registers an outbox that receives an Update after every change.
// PlayerID picks whose hand is visible; empty means spectator.
type Subscribe struct {
	ClientID string
	PlayerID string
	Outbox   chan Update
}

type Unsubscribe struct{ ClientID string }

type GetState struct {
	Viewer string
	Reply  chan View
}

type Shutdown struct{}

type timerFired struct{ gen uint64 }

type graceExpired struct {
	PlayerID string
	gen      uint64
}

func (Join) isLobbyMsg()         {}
func (Leave) isLobbyMsg()        {}
func (Start) isLobbyMsg()        {}
func (FromClient) isLobbyMsg()   {}
func (Disconnect) isLobbyMsg()   {}
func (Reconnect) isLobbyMsg()    {}
func (Say) isLobbyMsg()          {}
func (Subscribe) isLobbyMsg()    {}
func (Unsubscribe) isLobbyMsg()  {}
func (GetState) isLobbyMsg()     {}
func (Shutdown) isLobbyMsg()     {}
func (timerFired) isLobbyMsg()   {}
func (graceExpired) isLobbyMsg() {}

// Update is what a subscriber receives: a fresh snapshot or a chat line.
type Update struct {
	Snapshot *Snapshot
	Chat     *events.Chat
}

// View is a consistent read of the room, for tests and the HTTP layer.
type View struct {
	Version    int
	NumClients int
	Summary    Summary
	Snapshot   Snapshot
	State      engine.State
}

type session struct {
	PlayerID  string
	Stake     int64
	Connected bool
	Abandoned bool
	Hold      *ledger.Handle
	released  bool
	graceGen  uint64
	grace     *time.Timer
}

type client struct {
	playerID string
	outbox   chan Update
}

type Deps struct {
	Ledger Escrow
	Bus    Publisher
	Log    *zap.Logger
}

type Room struct {
	id      string
	cfg     Config
	creator string
	deps    Deps
	log     *zap.Logger

	inbox   chan Msg
	state   engine.State
	version int
	seats   []*session
	clients map[string]client
	result  *events.MatchResult

	// stranded are stake holds a failed start could not refund.
	stranded []ledger.Handle

	timer    *time.Timer
	timerGen uint64
	deadline time.Time

	status   atomic.Value // Status
	activity atomic.Int64 // unix nanos of the last change
	seated   atomic.Int32
	closed   chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
}

// NewRoom starts the room's actor goroutine. The creator is recorded but not
// seated; the caller joins them like any other player.
func NewRoom(parent context.Context, id, creator string, cfg Config, deps Deps) *Room {
	ctx, cancel := context.WithCancel(parent)
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}

	r := &Room{
		id:      id,
		cfg:     cfg,
		creator: creator,
		deps:    deps,
		log:     deps.Log.With(zap.String("room", id)),
		inbox:   make(chan Msg, 64),
		clients: make(map[string]client),
		closed:  make(chan struct{}),
		state:   engine.State{Fool: -1},
		ctx:     ctx,
		cancel:  cancel,
	}
	r.status.Store(StatusWaiting)
	r.touch()

	go r.loop()
	return r
}

func (r *Room) ID() string { return r.id }

// Inbox exposes the actor's mailbox to the hub and the WS layer.
func (r *Room) Inbox() chan<- Msg { return r.inbox }

// Status may be read from any goroutine.
func (r *Room) Status() Status { return r.status.Load().(Status) }

// LastActivity is the time of the last state change.
func (r *Room) LastActivity() time.Time { return time.Unix(0, r.activity.Load()) }

// Players is the number of occupied seats, readable from any goroutine.
func (r *Room) Players() int { return int(r.seated.Load()) }

// Done is closed once the actor has exited.
func (r *Room) Done() <-chan struct{} { return r.closed }

func (r *Room) loop() {
	defer close(r.closed)
	for {
		select {
		case <-r.ctx.Done():
			r.shutdown()
			return

		case m := <-r.inbox:
			switch msg := m.(type) {
			case Join:
				reply(msg.Reply, r.join(msg.PlayerID, msg.Stake))

			case Leave:
				reply(msg.Reply, r.leave(msg.PlayerID))

			case Start:
				reply(msg.Reply, r.start(msg.PlayerID))

			case FromClient:
				reply(msg.Reply, r.submit(msg.PlayerID, msg.Move))

			case Disconnect:
				r.disconnect(msg.PlayerID)

			case Reconnect:
				r.reconnect(msg.PlayerID)

			case Say:
				reply(msg.Reply, r.say(msg.PlayerID, msg.Text))

			case Subscribe:
				r.clients[msg.ClientID] = client{playerID: msg.PlayerID, outbox: msg.Outbox}
				snap := r.snapshot(msg.PlayerID)
				select {
				case msg.Outbox <- Update{Snapshot: &snap}:
				default:
					close(msg.Outbox)
					delete(r.clients, msg.ClientID)
				}

			case Unsubscribe:
				if c, ok := r.clients[msg.ClientID]; ok {
					close(c.outbox)
					delete(r.clients, msg.ClientID)
				}

			case GetState:
				msg.Reply <- View{
					Version:    r.version,
					NumClients: len(r.clients),
					Summary:    r.summary(),
					Snapshot:   r.snapshot(msg.Viewer),
					State:      r.state.Clone(),
				}

			case timerFired:
				r.onTurnTimeout(msg.gen)

			case graceExpired:
				r.onGraceExpired(msg.PlayerID, msg.gen)

			case Shutdown:
				r.shutdown()
				return
			}
		}
	}
}

func reply(ch chan error, err error) {
	if ch != nil {
		ch <- err
	}
}

// post delivers a timer message unless the room has gone away.
func (r *Room) post(m Msg) {
	select {
	case r.inbox <- m:
	case <-r.ctx.Done():
	}
}

func (r *Room) setStatus(s Status) {
	r.status.Store(s)
	r.touch()
}

func (r *Room) touch() { r.activity.Store(time.Now().UnixNano()) }

// changed bumps the version and pushes a snapshot to every subscriber.
func (r *Room) changed() {
	r.version++
	r.seated.Store(int32(len(r.seats)))
	r.touch()
	r.broadcast()
}

func (r *Room) broadcast() {
	for id, c := range r.clients {
		snap := r.snapshot(c.playerID)
		r.deliver(id, c, Update{Snapshot: &snap})
	}
}

func (r *Room) deliver(id string, c client, u Update) {
	select {
	case c.outbox <- u:
	default:
		// Slow client: drop it, it can resubscribe for a fresh snapshot.
		close(c.outbox)
		delete(r.clients, id)
		r.log.Debug("dropped slow client", zap.String("client", id))
	}
}

func (r *Room) shutdown() {
	if r.Status() == StatusActive {
		r.abort("room shut down")
	} else {
		r.refundAll("room shut down")
	}
	r.stopTurnTimer()
	for _, s := range r.seats {
		if s.grace != nil {
			s.grace.Stop()
		}
	}
	for id, c := range r.clients {
		close(c.outbox)
		delete(r.clients, id)
	}
	r.cancel()
}

func (r *Room) seatOf(playerID string) int {
	for i, s := range r.seats {
		if s.PlayerID == playerID {
			return i
		}
	}
	return -1
}

func (r *Room) join(playerID string, stake int64) error {
	if r.Status() != StatusWaiting {
		return ErrRoomNotWaiting
	}
	if playerID == "" {
		return fmt.Errorf("%w: empty player id", ErrNotSeated)
	}
	if r.seatOf(playerID) >= 0 {
		return ErrAlreadySeated
	}
	if len(r.seats) >= r.cfg.MaxPlayers {
		return ErrRoomFull
	}
	if stake == 0 {
		stake = r.cfg.Stake
	}
	if stake < r.cfg.Stake {
		return fmt.Errorf("%w: %d < %d", ErrBadStake, stake, r.cfg.Stake)
	}

	ctx, cancel := context.WithTimeout(r.ctx, ledgerTimeout)
	defer cancel()
	bal, err := r.deps.Ledger.Balance(ctx, playerID)
	if err != nil {
		return fmt.Errorf("join %s: %w", playerID, err)
	}
	if bal < stake {
		return fmt.Errorf("%w: %s has %d, stake is %d", ledger.ErrInsufficientFunds, playerID, bal, stake)
	}

	r.seats = append(r.seats, &session{PlayerID: playerID, Stake: stake, Connected: true})
	if r.creator == "" {
		r.creator = playerID
	}
	r.log.Info("player joined", zap.String("player", playerID), zap.Int64("stake", stake), zap.Int("seats", len(r.seats)))
	r.changed()
	return nil
}

func (r *Room) leave(playerID string) error {
	i := r.seatOf(playerID)
	if i < 0 {
		return ErrNotSeated
	}
	switch r.Status() {
	case StatusWaiting:
		r.removeSeat(i)
		r.changed()
	case StatusActive:
		r.disconnect(playerID)
	}
	return nil
}

func (r *Room) removeSeat(i int) {
	s := r.seats[i]
	if s.grace != nil {
		s.grace.Stop()
	}
	r.seats = append(r.seats[:i], r.seats[i+1:]...)
	if s.PlayerID == r.creator {
		r.creator = ""
		if len(r.seats) > 0 {
			r.creator = r.seats[0].PlayerID
		}
	}
	r.log.Info("player left", zap.String("player", s.PlayerID), zap.Int("seats", len(r.seats)))
}

func (r *Room) say(playerID, text string) error {
	if r.seatOf(playerID) < 0 {
		return ErrNotSeated
	}
	text = strings.TrimSpace(text)
	if text == "" || utf8.RuneCountInString(text) > maxChatLen {
		return ErrBadChat
	}
	c := events.Chat{RoomID: r.id, PlayerID: playerID, Text: text, At: time.Now().UTC()}
	for id, cl := range r.clients {
		r.deliver(id, cl, Update{Chat: &c})
	}
	if r.deps.Bus != nil {
		r.deps.Bus.Publish(events.NewChat(c))
	}
	return nil
}
