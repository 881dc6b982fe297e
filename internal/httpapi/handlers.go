package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/DoyleJ11/durak-server/internal/config"
	"github.com/DoyleJ11/durak-server/internal/events"
	"github.com/DoyleJ11/durak-server/internal/hub"
	"github.com/DoyleJ11/durak-server/internal/ledger"
	"github.com/DoyleJ11/durak-server/internal/lobby"
	"github.com/DoyleJ11/durak-server/internal/shop"
	"github.com/DoyleJ11/durak-server/internal/storage"
	itypes "github.com/DoyleJ11/durak-server/internal/types"
	"github.com/DoyleJ11/durak-server/pkg/types"
	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const defaultLeaderboard = 50

type API struct {
	hub    *hub.Hub
	ledger *ledger.Ledger
	shop   *shop.Shop
	store  *storage.Store
	cfg    config.Config
	log    *zap.Logger
}

func New(h *hub.Hub, l *ledger.Ledger, s *shop.Shop, st *storage.Store, cfg config.Config, log *zap.Logger) *API {
	if log == nil {
		log = zap.NewNop()
	}
	return &API{hub: h, ledger: l, shop: s, store: st, cfg: cfg, log: log.Named("http")}
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// ensureAccount opens playerID with the starting grant the first time it is seen.
func (a *API) ensureAccount(ctx context.Context, playerID string) error {
	if playerID == "" {
		return fmt.Errorf("%w: playerId is required", errBadRequest)
	}
	_, err := a.ledger.OpenAccount(ctx, playerID, a.cfg.StartingGrant)
	return err
}

func (a *API) roomConfig(req types.CreateRoomRequest) (lobby.Config, error) {
	cfg := lobby.DefaultConfig()
	cfg.Name = req.Name
	cfg.MinPlayers = req.MinPlayers
	cfg.MaxPlayers = req.MaxPlayers
	cfg.Stake = a.cfg.DefaultStake
	cfg.TurnTimeout = a.cfg.TurnTimeout
	cfg.Grace = a.cfg.Grace
	cfg.ForfeitOnAbandon = a.cfg.ForfeitOnAbandon

	if req.Tier != "" {
		tier, ok := a.cfg.Tier(req.Tier)
		if !ok {
			return cfg, fmt.Errorf("%w: unknown tier %q", errBadRequest, req.Tier)
		}
		cfg.Stake = tier.Stake
	}
	if req.Stake != 0 {
		cfg.Stake = req.Stake
	}
	if req.AllowTransfer != nil {
		cfg.Rules.AllowTransfer = *req.AllowTransfer
	}
	if req.ForfeitOnAbandon != nil {
		cfg.ForfeitOnAbandon = *req.ForfeitOnAbandon
	}
	return cfg.Validate()
}

func (a *API) CreateRoom(w http.ResponseWriter, r *http.Request) {
	var req types.CreateRoomRequest
	if err := decode(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	if err := a.ensureAccount(r.Context(), req.PlayerID); err != nil {
		a.fail(w, r, err)
		return
	}
	cfg, err := a.roomConfig(req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	id, err := a.hub.CreateRoom(r.Context(), cfg, req.PlayerID, 0)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, types.CreateRoomResponse{RoomID: id})
}

func (a *API) ListRooms(w http.ResponseWriter, r *http.Request) {
	rooms, err := a.hub.ListRooms(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if rooms == nil {
		rooms = []lobby.Summary{}
	}
	writeJSON(w, http.StatusOK, rooms)
}

// GetRoom returns the snapshot as seen by ?player=, or a spectator view.
func (a *API) GetRoom(w http.ResponseWriter, r *http.Request) {
	snap, err := a.hub.Snapshot(r.Context(), chi.URLParam(r, "id"), r.URL.Query().Get("player"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// playerAction decodes a PlayerRequest and runs fn, answering with the
// caller's fresh snapshot.
func (a *API) playerAction(fn func(ctx context.Context, roomID string, req types.PlayerRequest) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.PlayerRequest
		if err := decode(r, &req); err != nil {
			a.fail(w, r, err)
			return
		}
		if req.PlayerID == "" {
			a.fail(w, r, fmt.Errorf("%w: playerId is required", errBadRequest))
			return
		}
		roomID := chi.URLParam(r, "id")
		if err := fn(r.Context(), roomID, req); err != nil {
			a.fail(w, r, err)
			return
		}
		a.respondSnapshot(w, r, roomID, req.PlayerID)
	}
}

func (a *API) respondSnapshot(w http.ResponseWriter, r *http.Request, roomID, viewer string) {
	snap, err := a.hub.Snapshot(r.Context(), roomID, viewer)
	if err != nil {
		// The action succeeded; the room may already have been swept.
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (a *API) JoinRoom(w http.ResponseWriter, r *http.Request) {
	a.playerAction(func(ctx context.Context, roomID string, req types.PlayerRequest) error {
		if err := a.ensureAccount(ctx, req.PlayerID); err != nil {
			return err
		}
		return a.hub.Join(ctx, roomID, req.PlayerID, req.Stake)
	})(w, r)
}

func (a *API) StartRoom(w http.ResponseWriter, r *http.Request) {
	a.playerAction(func(ctx context.Context, roomID string, req types.PlayerRequest) error {
		return a.hub.Start(ctx, roomID, req.PlayerID)
	})(w, r)
}

func (a *API) LeaveRoom(w http.ResponseWriter, r *http.Request) {
	a.playerAction(func(ctx context.Context, roomID string, req types.PlayerRequest) error {
		return a.hub.Leave(ctx, roomID, req.PlayerID)
	})(w, r)
}

func (a *API) SubmitMove(w http.ResponseWriter, r *http.Request) {
	var in types.MoveIntent
	if err := decode(r, &in); err != nil {
		a.fail(w, r, err)
		return
	}
	roomID := chi.URLParam(r, "id")
	if in.RoomID != "" && in.RoomID != roomID {
		a.fail(w, r, fmt.Errorf("%w: roomId does not match the path", errBadRequest))
		return
	}
	mv, err := itypes.ToMove(in)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if err := a.hub.SubmitMove(r.Context(), roomID, in.PlayerID, mv); err != nil {
		a.fail(w, r, err)
		return
	}
	a.respondSnapshot(w, r, roomID, in.PlayerID)
}

func (a *API) Chat(w http.ResponseWriter, r *http.Request) {
	var req types.ChatRequest
	if err := decode(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	if err := a.hub.Say(r.Context(), chi.URLParam(r, "id"), req.PlayerID, req.Text); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (a *API) ChatHistory(w http.ResponseWriter, r *http.Request) {
	lines, err := a.store.RecentChat(r.Context(), chi.URLParam(r, "id"), queryInt(r, "limit", 50))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if lines == nil {
		lines = []events.Chat{}
	}
	writeJSON(w, http.StatusOK, lines)
}

func (a *API) MatchResult(w http.ResponseWriter, r *http.Request) {
	res, err := a.store.Match(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) account(ctx context.Context, id string, created bool) (types.AccountResponse, error) {
	bal, err := a.ledger.Balance(ctx, id)
	if err != nil {
		return types.AccountResponse{}, err
	}
	return types.AccountResponse{Account: id, Balance: bal, Formatted: humanize.Comma(bal), Created: created}, nil
}

func (a *API) GetAccount(w http.ResponseWriter, r *http.Request) {
	resp, err := a.account(r.Context(), chi.URLParam(r, "id"), false)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// OpenAccount grants the starting balance once; later calls just report it.
func (a *API) OpenAccount(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	created, err := a.ledger.OpenAccount(r.Context(), id, a.cfg.StartingGrant)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	resp, err := a.account(r.Context(), id, created)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, resp)
}

func (a *API) AccountEntries(w http.ResponseWriter, r *http.Request) {
	entries, err := a.ledger.Entries(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if entries == nil {
		entries = []ledger.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (a *API) ShopItems(w http.ResponseWriter, r *http.Request) {
	offers, err := a.shop.Offers(r.Context(), r.URL.Query().Get("player"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, offers)
}

func (a *API) Purchase(w http.ResponseWriter, r *http.Request) {
	var req types.PurchaseRequest
	if err := decode(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	if err := a.ensureAccount(r.Context(), req.PlayerID); err != nil {
		a.fail(w, r, err)
		return
	}
	p, err := a.shop.Buy(r.Context(), req.PlayerID, req.ItemID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (a *API) Inventory(w http.ResponseWriter, r *http.Request) {
	items, err := a.store.Inventory(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if items == nil {
		items = []storage.Item{}
	}
	writeJSON(w, http.StatusOK, items)
}

func (a *API) Leaderboard(w http.ResponseWriter, r *http.Request) {
	board, err := a.store.Leaderboard(r.Context(), queryInt(r, "limit", defaultLeaderboard))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if board == nil {
		board = []storage.Standing{}
	}
	writeJSON(w, http.StatusOK, board)
}

func queryInt(r *http.Request, key string, def int) int {
	n, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || n <= 0 {
		return def
	}
	return n
}
