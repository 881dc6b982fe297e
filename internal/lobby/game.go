package lobby

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/DoyleJ11/durak-server/internal/engine"
	"github.com/DoyleJ11/durak-server/internal/events"
	"github.com/DoyleJ11/durak-server/internal/ledger"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const ledgerTimeout = 5 * time.Second

// abandonStepLimit bounds how many moves are played on behalf of abandoned seats in one go.
const abandonStepLimit = 2048

func (r *Room) start(playerID string) error {
	if r.Status() != StatusWaiting {
		return ErrRoomNotWaiting
	}
	if r.seatOf(playerID) < 0 {
		return ErrNotSeated
	}
	if playerID != r.creator {
		return ErrNotCreator
	}
	if len(r.seats) < r.cfg.MinPlayers {
		return fmt.Errorf("%w: %d of %d", ErrNotEnoughPlayers, len(r.seats), r.cfg.MinPlayers)
	}

	if err := r.lockStakes(); err != nil {
		return err
	}

	players := make([]string, len(r.seats))
	for i, s := range r.seats {
		players[i] = s.PlayerID
	}
	var (
		state engine.State
		err   error
	)
	if r.cfg.Deck != nil {
		state, _, err = engine.NewGameFromDeck(players, r.cfg.Rules, r.cfg.Deck)
	} else {
		seed := r.cfg.Seed
		if seed == 0 {
			seed = time.Now().UnixNano()
		}
		state, _, err = engine.NewGame(players, r.cfg.Rules, seed)
	}
	if err != nil {
		r.refundAll("deal failed")
		return fmt.Errorf("start: %w", err)
	}

	r.state = state
	r.setStatus(StatusActive)
	r.log.Info("game started", zap.Strings("players", players), zap.String("trump", string(state.Trump)))

	r.afterMove()
	return nil
}

// lockStakes escrows every seat's stake. Either all holds exist afterwards or
// none do; a short balance found up front debits nobody.
func (r *Room) lockStakes() error {
	ctx, cancel := context.WithTimeout(r.ctx, ledgerTimeout)
	defer cancel()

	for _, s := range r.seats {
		bal, err := r.deps.Ledger.Balance(ctx, s.PlayerID)
		if err != nil {
			return fmt.Errorf("balance of %s: %w", s.PlayerID, err)
		}
		if bal < s.Stake {
			return fmt.Errorf("lock stake for %s: %w: has %d, stake is %d", s.PlayerID, ledger.ErrInsufficientFunds, bal, s.Stake)
		}
	}

	if err := r.refundStranded(ctx, "start rolled back"); err != nil {
		return fmt.Errorf("stakes from an earlier start are still held: %w", err)
	}

	reason := "stake room " + r.id
	for i, s := range r.seats {
		h, err := r.deps.Ledger.Lock(ctx, s.PlayerID, s.Stake, reason)
		if err == nil {
			s.Hold = &h
			s.released = false
			continue
		}

		var rollback error
		for _, prev := range r.seats[:i] {
			h := *prev.Hold
			prev.Hold = nil
			if _, rerr := r.deps.Ledger.Refund(ctx, h, "start rolled back"); rerr != nil {
				rollback = multierr.Append(rollback, fmt.Errorf("refund %s: %w", prev.PlayerID, rerr))
				r.stranded = append(r.stranded, h)
			}
		}
		if rollback != nil {
			r.log.Error("stake rollback incomplete", zap.Error(rollback))
		}
		return multierr.Append(fmt.Errorf("lock stake for %s: %w", s.PlayerID, err), rollback)
	}
	return nil
}

func (r *Room) submit(playerID string, mv Move) error {
	switch st := r.Status(); {
	case st.Terminal():
		return engine.ErrGameOver
	case st != StatusActive:
		return ErrRoomNotActive
	}
	seat := r.seatOf(playerID)
	if seat < 0 {
		return ErrNotSeated
	}
	if mv.Kind == engine.CmdTimeoutAdvance {
		return fmt.Errorf("%w: timeouts are decided by the room", engine.ErrUnsupportedCommand)
	}

	cmd := engine.Command{Type: mv.Kind, Seat: seat, Card: mv.Card, Target: mv.Target}
	if err := r.apply(cmd); err != nil {
		return err
	}
	r.afterMove()
	return nil
}

func (r *Room) apply(cmd engine.Command) error {
	evs, next, err := engine.Apply(r.state, cmd)
	if err != nil {
		return err
	}
	r.state = next
	r.log.Debug("applied", zap.String("cmd", string(cmd.Type)), zap.Int("seat", cmd.Seat), zap.Int("events", len(evs)))
	return nil
}

// afterMove plays for abandoned seats, settles a finished game, re-arms the
// turn timer and publishes the new snapshot.
func (r *Room) afterMove() {
	r.playAbandoned()
	if r.state.Phase == engine.PhaseGameOver {
		r.stopTurnTimer()
		r.settle()
	} else {
		r.armTurnTimer()
	}
	r.changed()
}

func (r *Room) playAbandoned() {
	for range abandonStepLimit {
		seat := engine.ActingSeat(r.state)
		if seat < 0 || !r.seats[seat].Abandoned {
			return
		}
		cmd := engine.Command{Type: engine.CmdTimeoutAdvance}
		if r.cfg.ForfeitOnAbandon {
			cmd = engine.Command{Type: engine.CmdForfeit, Seat: seat}
		}
		if err := r.apply(cmd); err != nil {
			r.log.Error("move for abandoned seat rejected", zap.Int("seat", seat), zap.Error(err))
			return
		}
	}
	r.log.Warn("abandoned seats still acting after step limit")
}

func (r *Room) armTurnTimer() {
	r.stopTurnTimer()
	if r.cfg.TurnTimeout <= 0 || r.Status() != StatusActive {
		return
	}
	gen := r.timerGen
	r.deadline = time.Now().Add(r.cfg.TurnTimeout)
	r.timer = time.AfterFunc(r.cfg.TurnTimeout, func() { r.post(timerFired{gen: gen}) })
}

// stopTurnTimer invalidates any pending fire, including one already queued in the inbox.
func (r *Room) stopTurnTimer() {
	r.timerGen++
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	r.deadline = time.Time{}
}

func (r *Room) onTurnTimeout(gen uint64) {
	if gen != r.timerGen || r.Status() != StatusActive {
		r.log.Debug("stale turn timer", zap.Uint64("gen", gen), zap.Uint64("current", r.timerGen))
		return
	}
	r.log.Info("turn timed out", zap.Int("seat", engine.ActingSeat(r.state)))
	if err := r.apply(engine.Command{Type: engine.CmdTimeoutAdvance}); err != nil {
		r.log.Error("default move rejected", zap.Error(err))
		return
	}
	r.afterMove()
}

func (r *Room) disconnect(playerID string) {
	i := r.seatOf(playerID)
	if i < 0 {
		return
	}
	s := r.seats[i]
	if !s.Connected {
		return
	}
	s.Connected = false
	s.graceGen++
	if s.grace != nil {
		s.grace.Stop()
	}
	gen := s.graceGen
	if r.cfg.Grace <= 0 {
		r.onGraceExpired(playerID, gen)
		return
	}
	s.grace = time.AfterFunc(r.cfg.Grace, func() { r.post(graceExpired{PlayerID: playerID, gen: gen}) })
	r.log.Info("player disconnected", zap.String("player", playerID), zap.Duration("grace", r.cfg.Grace))
	r.changed()
}

func (r *Room) reconnect(playerID string) {
	i := r.seatOf(playerID)
	if i < 0 {
		return
	}
	s := r.seats[i]
	s.graceGen++
	if s.grace != nil {
		s.grace.Stop()
		s.grace = nil
	}
	if s.Connected && !s.Abandoned {
		return
	}
	s.Connected = true
	s.Abandoned = false
	r.log.Info("player reconnected", zap.String("player", playerID))
	r.changed()
}

func (r *Room) onGraceExpired(playerID string, gen uint64) {
	i := r.seatOf(playerID)
	if i < 0 || r.seats[i].graceGen != gen || r.seats[i].Connected {
		return
	}
	switch r.Status() {
	case StatusWaiting:
		r.removeSeat(i)
		r.changed()
	case StatusActive:
		r.seats[i].Abandoned = true
		r.log.Info("seat abandoned", zap.String("player", playerID), zap.Bool("forfeit", r.cfg.ForfeitOnAbandon))
		r.afterMove()
	}
}

// settle pays out the finished game. Any ledger failure aborts the room and
// returns every stake still held.
func (r *Room) settle() {
	payouts, plan := r.payoutPlan()

	ctx, cancel := context.WithTimeout(r.ctx, ledgerTimeout)
	defer cancel()
	reason := "settle room " + r.id
	for i, s := range r.seats {
		if s.Hold == nil || s.released {
			continue
		}
		if _, err := r.deps.Ledger.Release(ctx, *s.Hold, ledger.Outcome{Credits: plan[i], Reason: reason}); err != nil {
			r.log.Error("settlement failed", zap.String("player", s.PlayerID), zap.Error(err),
				zap.Bool("consistency", errors.Is(err, ledger.ErrConsistencyFault)))
			r.abort("settlement failed")
			return
		}
		s.released = true
	}

	res := r.matchResult(payouts)
	r.result = &res
	r.setStatus(StatusSettled)
	r.log.Info("room settled", zap.String("fool", res.Fool), zap.Bool("draw", res.Draw))
	if r.deps.Bus != nil {
		r.deps.Bus.Publish(events.NewMatchResult(res))
	}
}

// payoutPlan maps each seat's hold to its credits. Winners get their own stake
// back; the fool's stake is split equally between them with the remainder
// going one coin each to the best placed. A draw refunds everyone.
func (r *Room) payoutPlan() (map[string]int64, map[int][]ledger.Credit) {
	payouts := make(map[string]int64, len(r.seats))
	plan := make(map[int][]ledger.Credit, len(r.seats))
	for i, s := range r.seats {
		plan[i] = []ledger.Credit{{Account: s.PlayerID, Amount: s.Stake}}
		payouts[s.PlayerID] = 0
	}
	fool := r.state.Fool
	if fool < 0 {
		return payouts, plan
	}

	var winners []int
	for _, i := range engine.Standings(r.state) {
		if i != fool {
			winners = append(winners, i)
		}
	}
	if len(winners) == 0 {
		return payouts, plan
	}

	pot := r.seats[fool].Stake
	share, rem := pot/int64(len(winners)), pot%int64(len(winners))
	credits := make([]ledger.Credit, 0, len(winners))
	for k, w := range winners {
		amt := share
		if int64(k) < rem {
			amt++
		}
		id := r.seats[w].PlayerID
		credits = append(credits, ledger.Credit{Account: id, Amount: amt})
		payouts[id] = amt
	}
	plan[fool] = credits
	payouts[r.seats[fool].PlayerID] = -pot
	return payouts, plan
}

// abort refunds every unreleased hold. Release is idempotent, so holds that
// were already paid out are left as they are.
func (r *Room) abort(reason string) {
	r.stopTurnTimer()
	r.refundAll(reason)
	r.setStatus(StatusAborted)
	r.log.Warn("room aborted", zap.String("reason", reason))
}

func (r *Room) refundAll(reason string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.ctx), ledgerTimeout)
	defer cancel()

	var errs error
	for _, s := range r.seats {
		if s.Hold == nil || s.released {
			continue
		}
		if _, err := r.deps.Ledger.Refund(ctx, *s.Hold, reason); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("refund %s: %w", s.PlayerID, err))
			continue
		}
		s.released = true
	}
	errs = multierr.Append(errs, r.refundStranded(ctx, reason))
	if errs != nil {
		r.log.Error("refunds incomplete", zap.Error(errs))
	}
}

// refundStranded retries holds left behind by a start whose rollback failed.
// Holds that still cannot be refunded stay stranded.
func (r *Room) refundStranded(ctx context.Context, reason string) error {
	var errs error
	kept := r.stranded[:0]
	for _, h := range r.stranded {
		if _, err := r.deps.Ledger.Refund(ctx, h, reason); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("refund %s: %w", h.Account, err))
			kept = append(kept, h)
		}
	}
	r.stranded = kept
	return errs
}
