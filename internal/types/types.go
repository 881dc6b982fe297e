package types

import (
	"fmt"

	"github.com/DoyleJ11/durak-server/internal/engine"
	"github.com/DoyleJ11/durak-server/internal/events"
	"github.com/DoyleJ11/durak-server/internal/lobby"
	pub "github.com/DoyleJ11/durak-server/pkg/types"
)

// ClientMessage is a websocket frame from a player: a move or a chat line.
type ClientMessage struct {
	Type   string `json:"type"` // "Move" | "Chat"
	Kind   string `json:"kind,omitempty"`
	Card   string `json:"card,omitempty"`
	Target *int   `json:"target,omitempty"`
	Text   string `json:"text,omitempty"`
}

type ServerMessage struct {
	Type    string          `json:"type"` // "StateSnapshot" | "Chat" | "Error"
	Version int             `json:"version,omitempty"`
	State   *lobby.Snapshot `json:"state,omitempty"`
	Chat    *events.Chat    `json:"chat,omitempty"`
	Error   string          `json:"error,omitempty"`
}

func (m ClientMessage) Intent(playerID string) pub.MoveIntent {
	return pub.MoveIntent{PlayerID: playerID, Kind: m.Kind, Card: m.Card, Target: m.Target}
}

// ToMove turns a move intent into the room's Move. Only client-submittable
// kinds are accepted.
func ToMove(in pub.MoveIntent) (lobby.Move, error) {
	kind := engine.CommandType(in.Kind)
	switch kind {
	case engine.CmdAttack, engine.CmdDefend, engine.CmdTransfer:
		if in.Card == "" {
			return lobby.Move{}, fmt.Errorf("%w: %s needs a card", engine.ErrIllegalMove, kind)
		}
		c, err := engine.ParseCard(in.Card)
		if err != nil {
			return lobby.Move{}, fmt.Errorf("%w: %v", engine.ErrIllegalMove, err)
		}
		return lobby.Move{Kind: kind, Card: c, Target: in.Target}, nil
	case engine.CmdTake, engine.CmdFinishAttack, engine.CmdForfeit:
		return lobby.Move{Kind: kind}, nil
	}
	return lobby.Move{}, fmt.Errorf("%w: %q", engine.ErrUnsupportedCommand, in.Kind)
}

func Snapshot(s lobby.Snapshot) ServerMessage {
	return ServerMessage{Type: "StateSnapshot", Version: s.Version, State: &s}
}

func Chat(c events.Chat) ServerMessage {
	return ServerMessage{Type: "Chat", Chat: &c}
}

func Error(err error) ServerMessage {
	return ServerMessage{Type: "Error", Error: err.Error()}
}
