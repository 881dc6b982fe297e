package lobby

import "context"

// The methods below wrap the inbox for callers that want a synchronous answer.

func (r *Room) ask(ctx context.Context, build func(reply chan error) Msg) error {
	reply := make(chan error, 1)
	select {
	case r.inbox <- build(reply):
	case <-r.closed:
		return ErrRoomClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-r.closed:
		select {
		case err := <-reply:
			return err
		default:
			return ErrRoomClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Room) send(ctx context.Context, m Msg) error {
	select {
	case r.inbox <- m:
		return nil
	case <-r.closed:
		return ErrRoomClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Room) Join(ctx context.Context, playerID string, stake int64) error {
	return r.ask(ctx, func(reply chan error) Msg { return Join{PlayerID: playerID, Stake: stake, Reply: reply} })
}

func (r *Room) Leave(ctx context.Context, playerID string) error {
	return r.ask(ctx, func(reply chan error) Msg { return Leave{PlayerID: playerID, Reply: reply} })
}

func (r *Room) Start(ctx context.Context, playerID string) error {
	return r.ask(ctx, func(reply chan error) Msg { return Start{PlayerID: playerID, Reply: reply} })
}

func (r *Room) Submit(ctx context.Context, playerID string, mv Move) error {
	return r.ask(ctx, func(reply chan error) Msg { return FromClient{PlayerID: playerID, Move: mv, Reply: reply} })
}

func (r *Room) Say(ctx context.Context, playerID, text string) error {
	return r.ask(ctx, func(reply chan error) Msg { return Say{PlayerID: playerID, Text: text, Reply: reply} })
}

func (r *Room) Disconnect(ctx context.Context, playerID string) error {
	return r.send(ctx, Disconnect{PlayerID: playerID})
}

func (r *Room) Reconnect(ctx context.Context, playerID string) error {
	return r.send(ctx, Reconnect{PlayerID: playerID})
}

func (r *Room) Subscribe(ctx context.Context, clientID, playerID string, outbox chan Update) error {
	return r.send(ctx, Subscribe{ClientID: clientID, PlayerID: playerID, Outbox: outbox})
}

func (r *Room) Unsubscribe(ctx context.Context, clientID string) error {
	return r.send(ctx, Unsubscribe{ClientID: clientID})
}

// View returns a consistent read of the room as seen by viewer.
func (r *Room) View(ctx context.Context, viewer string) (View, error) {
	reply := make(chan View, 1)
	if err := r.send(ctx, GetState{Viewer: viewer, Reply: reply}); err != nil {
		return View{}, err
	}
	select {
	case v := <-reply:
		return v, nil
	case <-r.closed:
		return View{}, ErrRoomClosed
	case <-ctx.Done():
		return View{}, ctx.Err()
	}
}

// Close stops the room and waits for its actor to exit.
func (r *Room) Close(ctx context.Context) error {
	if err := r.send(ctx, Shutdown{}); err != nil && err != ErrRoomClosed {
		return err
	}
	select {
	case <-r.closed:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
