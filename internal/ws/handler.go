package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/DoyleJ11/durak-server/internal/hub"
	"github.com/DoyleJ11/durak-server/internal/lobby"
	"github.com/DoyleJ11/durak-server/internal/types"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	writeTimeout = 3 * time.Second
	outboxSize   = 16
)

type Options struct {
	// OriginPatterns are passed to websocket.Accept; empty means same-origin only.
	OriginPatterns []string
	PingEvery      time.Duration
	Log            *zap.Logger
}

// Handler upgrades /ws?room=&player= and streams the room to the client.
// An empty player watches as a spectator.
func Handler(h *hub.Hub, opts Options) http.HandlerFunc {
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	if opts.PingEvery <= 0 {
		opts.PingEvery = 30 * time.Second
	}
	return func(w http.ResponseWriter, r *http.Request) {
		roomID := r.URL.Query().Get("room")
		playerID := r.URL.Query().Get("player")
		if roomID == "" {
			http.Error(w, "missing room", http.StatusBadRequest)
			return
		}

		room, err := h.Room(r.Context(), roomID)
		if err != nil {
			http.Error(w, "room not found", http.StatusNotFound)
			return
		}

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: opts.OriginPatterns})
		if err != nil {
			return
		}
		defer conn.CloseNow()

		log := opts.Log.With(zap.String("room", roomID), zap.String("player", playerID))
		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		clientID := uuid.NewString()
		out := make(chan lobby.Update, outboxSize)
		if err := room.Subscribe(ctx, clientID, playerID, out); err != nil {
			conn.Close(websocket.StatusGoingAway, "room closed")
			return
		}
		if playerID != "" {
			_ = room.Reconnect(ctx, playerID)
		}
		defer func() {
			bg, done := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
			defer done()
			_ = room.Unsubscribe(bg, clientID)
			if playerID != "" {
				_ = room.Disconnect(bg, playerID)
			}
		}()

		go writeLoop(ctx, cancel, conn, out, opts.PingEvery, log)

		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				default:
					if ctx.Err() == nil {
						log.Debug("read failed", zap.Error(err))
					}
				}
				return
			}

			var cm types.ClientMessage
			if err := json.Unmarshal(data, &cm); err != nil {
				write(ctx, conn, types.Error(errors.New("bad json")))
				continue
			}
			if err := dispatch(ctx, h, roomID, playerID, cm); err != nil {
				write(ctx, conn, types.Error(err))
			}
		}
	}
}

func dispatch(ctx context.Context, h *hub.Hub, roomID, playerID string, cm types.ClientMessage) error {
	switch cm.Type {
	case "Move":
		mv, err := types.ToMove(cm.Intent(playerID))
		if err != nil {
			return err
		}
		return h.SubmitMove(ctx, roomID, playerID, mv)
	case "Chat":
		return h.Say(ctx, roomID, playerID, cm.Text)
	}
	return fmt.Errorf("unknown type %q", cm.Type)
}

// writeLoop owns outgoing room updates and keepalive pings. A closed outbox
// means the room dropped this client or shut down.
func writeLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, out <-chan lobby.Update, every time.Duration, log *zap.Logger) {
	defer cancel()
	ping := time.NewTicker(every)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case u, ok := <-out:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "resubscribe")
				return
			}
			var msg types.ServerMessage
			switch {
			case u.Snapshot != nil:
				msg = types.Snapshot(*u.Snapshot)
			case u.Chat != nil:
				msg = types.Chat(*u.Chat)
			default:
				continue
			}
			if err := write(ctx, conn, msg); err != nil {
				log.Debug("write failed", zap.Error(err))
				return
			}

		case <-ping.C:
			pctx, done := context.WithTimeout(ctx, writeTimeout)
			err := conn.Ping(pctx)
			done()
			if err != nil {
				return
			}
		}
	}
}

func write(ctx context.Context, conn *websocket.Conn, msg types.ServerMessage) error {
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(wctx, conn, msg)
}
