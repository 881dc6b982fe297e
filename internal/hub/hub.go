package hub

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/DoyleJ11/durak-server/internal/lobby"
	"go.uber.org/zap"
)

var ErrRoomNotFound = errors.New("room not found")

type HubMsg interface{ isHubMsg() }

type CreateRoom struct {
	Creator string
	Config  lobby.Config
	Reply   chan createResult
}

type createResult struct {
	room *lobby.Room
	err  error
}

type GetRoom struct {
	ID    string
	Reply chan *lobby.Room
}

type ListRooms struct {
	Reply chan []*lobby.Room
}

type RemoveRoom struct {
	ID string
}

type ShutdownHub struct{}

type sweep struct{}

func (CreateRoom) isHubMsg()  {}
func (GetRoom) isHubMsg()     {}
func (ListRooms) isHubMsg()   {}
func (RemoveRoom) isHubMsg()  {}
func (ShutdownHub) isHubMsg() {}
func (sweep) isHubMsg()       {}

type Options struct {
	// Retention is how long a finished or empty room stays listed.
	Retention time.Duration
	// SweepEvery is the cleanup interval; 0 disables the cleanup loop.
	SweepEvery time.Duration
}

type Hub struct {
	inbox chan HubMsg
	rooms map[string]*lobby.Room
	deps  lobby.Deps
	opts  Options
	log   *zap.Logger
	done  chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
}

func NewHub(parent context.Context, deps lobby.Deps, opts Options) *Hub {
	ctx, cancel := context.WithCancel(parent)
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}
	h := &Hub{
		inbox:  make(chan HubMsg, 64),
		rooms:  make(map[string]*lobby.Room),
		deps:   deps,
		opts:   opts,
		log:    deps.Log.Named("hub"),
		done:   make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
	}
	go h.loop()
	if opts.SweepEvery > 0 {
		go h.cleanupLoop()
	}
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

// Done is closed once the hub and all of its rooms have stopped.
func (h *Hub) Done() <-chan struct{} { return h.done }

func (h *Hub) loop() {
	defer close(h.done)
	for {
		select {
		case <-h.ctx.Done():
			h.shutdown()
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case CreateRoom:
				room, err := h.create(msg.Creator, msg.Config)
				msg.Reply <- createResult{room: room, err: err}

			case GetRoom:
				msg.Reply <- h.rooms[msg.ID] // May be nil

			case ListRooms:
				out := make([]*lobby.Room, 0, len(h.rooms))
				for _, r := range h.rooms {
					out = append(out, r)
				}
				msg.Reply <- out

			case RemoveRoom:
				if r := h.rooms[msg.ID]; r != nil {
					delete(h.rooms, msg.ID)
					go h.closeRoom(r)
				}

			case sweep:
				h.sweep(time.Now())

			case ShutdownHub:
				h.shutdown()
				return
			}
		}
	}
}

func (h *Hub) create(creator string, cfg lobby.Config) (*lobby.Room, error) {
	for range 16 {
		code, err := GenerateCode()
		if err != nil {
			return nil, fmt.Errorf("generate room code: %w", err)
		}
		if h.rooms[code] != nil {
			h.log.Debug("collision on code, regenerating", zap.String("code", code))
			continue
		}
		r := lobby.NewRoom(h.ctx, code, creator, cfg, h.deps)
		h.rooms[code] = r
		h.log.Info("room created", zap.String("room", code), zap.String("creator", creator), zap.Int64("stake", cfg.Stake))
		return r, nil
	}
	return nil, errors.New("could not find a free room code")
}

// sweep drops rooms that finished, or emptied out, longer than Retention ago.
func (h *Hub) sweep(now time.Time) {
	for id, r := range h.rooms {
		idle := now.Sub(r.LastActivity())
		if idle < h.opts.Retention {
			continue
		}
		st := r.Status()
		if st.Terminal() || (st == lobby.StatusWaiting && r.Players() == 0) {
			delete(h.rooms, id)
			go h.closeRoom(r)
			h.log.Info("room removed", zap.String("room", id), zap.String("status", string(st)), zap.Duration("idle", idle))
		}
	}
}

func (h *Hub) cleanupLoop() {
	t := time.NewTicker(h.opts.SweepEvery)
	defer t.Stop()
	for {
		select {
		case <-h.ctx.Done():
			return
		case <-t.C:
			select {
			case h.inbox <- sweep{}:
			case <-h.ctx.Done():
				return
			}
		}
	}
}

func (h *Hub) closeRoom(r *lobby.Room) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(h.ctx), 10*time.Second)
	defer cancel()
	if err := r.Close(ctx); err != nil {
		h.log.Warn("room did not close", zap.String("room", r.ID()), zap.Error(err))
	}
}

// shutdown stops every room, refunding games in progress, and waits for them.
func (h *Hub) shutdown() {
	for id, r := range h.rooms {
		h.closeRoom(r)
		delete(h.rooms, id)
	}
	h.cancel()
}

// Shutdown stops the hub and waits until every room has exited.
func (h *Hub) Shutdown(ctx context.Context) error {
	select {
	case h.inbox <- ShutdownHub{}:
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Hub) request(ctx context.Context, m HubMsg) error {
	select {
	case h.inbox <- m:
		return nil
	case <-h.done:
		return lobby.ErrRoomClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CreateRoom opens a room and seats its creator. The room is discarded when
// the creator cannot join it.
func (h *Hub) CreateRoom(ctx context.Context, cfg lobby.Config, creator string, stake int64) (string, error) {
	cfg, err := cfg.Validate()
	if err != nil {
		return "", err
	}
	reply := make(chan createResult, 1)
	if err := h.request(ctx, CreateRoom{Creator: creator, Config: cfg, Reply: reply}); err != nil {
		return "", err
	}
	var res createResult
	select {
	case res = <-reply:
	case <-h.done:
		return "", lobby.ErrRoomClosed
	case <-ctx.Done():
		return "", ctx.Err()
	}
	if res.err != nil {
		return "", res.err
	}

	if err := res.room.Join(ctx, creator, stake); err != nil {
		_ = h.request(context.WithoutCancel(ctx), RemoveRoom{ID: res.room.ID()})
		return "", err
	}
	return res.room.ID(), nil
}

// Room looks up a live room by id.
func (h *Hub) Room(ctx context.Context, id string) (*lobby.Room, error) {
	reply := make(chan *lobby.Room, 1)
	if err := h.request(ctx, GetRoom{ID: id, Reply: reply}); err != nil {
		return nil, err
	}
	select {
	case r := <-reply:
		if r == nil {
			return nil, fmt.Errorf("%w: %s", ErrRoomNotFound, id)
		}
		return r, nil
	case <-h.done:
		return nil, fmt.Errorf("%w: %s", ErrRoomNotFound, id)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (h *Hub) withRoom(ctx context.Context, id string, fn func(*lobby.Room) error) error {
	r, err := h.Room(ctx, id)
	if err != nil {
		return err
	}
	err = fn(r)
	if errors.Is(err, lobby.ErrRoomClosed) {
		return fmt.Errorf("%w: %s", ErrRoomNotFound, id)
	}
	return err
}

func (h *Hub) Join(ctx context.Context, roomID, playerID string, stake int64) error {
	return h.withRoom(ctx, roomID, func(r *lobby.Room) error { return r.Join(ctx, playerID, stake) })
}

func (h *Hub) Start(ctx context.Context, roomID, playerID string) error {
	return h.withRoom(ctx, roomID, func(r *lobby.Room) error { return r.Start(ctx, playerID) })
}

func (h *Hub) SubmitMove(ctx context.Context, roomID, playerID string, mv lobby.Move) error {
	return h.withRoom(ctx, roomID, func(r *lobby.Room) error { return r.Submit(ctx, playerID, mv) })
}

func (h *Hub) Leave(ctx context.Context, roomID, playerID string) error {
	return h.withRoom(ctx, roomID, func(r *lobby.Room) error { return r.Leave(ctx, playerID) })
}

func (h *Hub) Disconnect(ctx context.Context, roomID, playerID string) error {
	return h.withRoom(ctx, roomID, func(r *lobby.Room) error { return r.Disconnect(ctx, playerID) })
}

func (h *Hub) Reconnect(ctx context.Context, roomID, playerID string) error {
	return h.withRoom(ctx, roomID, func(r *lobby.Room) error { return r.Reconnect(ctx, playerID) })
}

func (h *Hub) Say(ctx context.Context, roomID, playerID, text string) error {
	return h.withRoom(ctx, roomID, func(r *lobby.Room) error { return r.Say(ctx, playerID, text) })
}

// Snapshot returns the room as viewer sees it.
func (h *Hub) Snapshot(ctx context.Context, roomID, viewer string) (lobby.Snapshot, error) {
	var snap lobby.Snapshot
	err := h.withRoom(ctx, roomID, func(r *lobby.Room) error {
		v, err := r.View(ctx, viewer)
		snap = v.Snapshot
		return err
	})
	return snap, err
}

// ListRooms summarises every live room, waiting rooms first, then by name.
func (h *Hub) ListRooms(ctx context.Context) ([]lobby.Summary, error) {
	reply := make(chan []*lobby.Room, 1)
	if err := h.request(ctx, ListRooms{Reply: reply}); err != nil {
		return nil, err
	}
	var rooms []*lobby.Room
	select {
	case rooms = <-reply:
	case <-h.done:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	out := make([]lobby.Summary, 0, len(rooms))
	for _, r := range rooms {
		v, err := r.View(ctx, "")
		if errors.Is(err, lobby.ErrRoomClosed) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, v.Summary)
	}
	slices.SortFunc(out, func(a, b lobby.Summary) int {
		return cmp.Or(
			cmp.Compare(listOrder(a.Status), listOrder(b.Status)),
			cmp.Compare(a.Name, b.Name),
			cmp.Compare(a.ID, b.ID),
		)
	})
	return out, nil
}

func listOrder(s lobby.Status) int {
	if s == lobby.StatusWaiting {
		return 0
	}
	return 1
}
