package storage

import (
	"context"
	"time"

	"github.com/DoyleJ11/durak-server/internal/events"
	"go.uber.org/zap"
)

// Source is where the recorder reads events from.
type Source interface {
	Subscribe(buffer int, kinds ...events.Kind) (<-chan events.Event, func())
}

// Record persists match results and chat from the bus until ctx is done.
// Write failures are logged; they never reach the rooms that published.
func (s *Store) Record(ctx context.Context, src Source, log *zap.Logger) error {
	ch, cancel := src.Subscribe(256, events.KindMatchResult, events.KindChat)
	defer cancel()
	log = log.Named("recorder")

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			wctx, done := context.WithTimeout(ctx, 5*time.Second)
			var err error
			switch ev.Kind {
			case events.KindMatchResult:
				err = s.RecordMatch(wctx, *ev.Result)
			case events.KindChat:
				err = s.RecordChat(wctx, *ev.Chat)
			}
			done()
			if err != nil {
				log.Error("record event", zap.String("kind", string(ev.Kind)), zap.String("event", ev.ID), zap.Error(err))
			}
		}
	}
}
