package ledger

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var ErrInsufficientFunds = errors.New("insufficient funds")
var ErrConsistencyFault = errors.New("ledger consistency fault")
var ErrInvalidAmount = errors.New("amount must be positive")

// Handle identifies one escrowed amount. It is returned by Lock and consumed by Release.
type Handle struct {
	ID      string `json:"id"`
	Account string `json:"account"`
	Amount  int64  `json:"amount"`
}

type Credit struct {
	Account string `json:"account"`
	Amount  int64  `json:"amount"`
}

// Outcome says where a held amount goes. Credits must add up to the held amount.
type Outcome struct {
	Credits []Credit `json:"credits"`
	Reason  string   `json:"reason"`
}

// Receipt is the record of a completed release.
type Receipt struct {
	Hold    string    `json:"hold"`
	Credits []Credit  `json:"credits"`
	Reason  string    `json:"reason"`
	At      time.Time `json:"at"`
}

// Entry is one row of the audit trail. Every balance change writes exactly one.
type Entry struct {
	ID      string    `json:"id"`
	Account string    `json:"account"`
	Delta   int64     `json:"delta"`
	Reason  string    `json:"reason"`
	Hold    string    `json:"hold,omitempty"`
	At      time.Time `json:"at"`
}

type Hold struct {
	ID       string
	Account  string
	Amount   int64
	Reason   string
	Released bool
	Receipt  *Receipt
}

// Store persists balances, holds and entries. Each method is one atomic step;
// the Ledger serialises callers per account and per hold.
type Store interface {
	Balance(ctx context.Context, account string) (int64, bool, error)
	Open(ctx context.Context, account string, grant Entry) (bool, error)
	// Debit takes hold.Amount from hold.Account, records the hold and appends entry.
	// It fails with ErrInsufficientFunds when the balance is too small.
	Debit(ctx context.Context, hold Hold, entry Entry) error
	Hold(ctx context.Context, id string) (Hold, bool, error)
	// Settle marks the hold released with receipt and applies the credit entries.
	// It fails with ErrConsistencyFault when a credited account does not exist.
	Settle(ctx context.Context, receipt Receipt, entries []Entry) error
	Credit(ctx context.Context, entry Entry) error
	Entries(ctx context.Context, account string) ([]Entry, error)
}

type Ledger struct {
	store    Store
	log      *zap.Logger
	accounts *keyedMutex
	holds    *keyedMutex
	now      func() time.Time
}

func New(store Store, log *zap.Logger) *Ledger {
	if log == nil {
		log = zap.NewNop()
	}
	return &Ledger{
		store:    store,
		log:      log.Named("ledger"),
		accounts: newKeyedMutex(),
		holds:    newKeyedMutex(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// OpenAccount creates account with a one-time starting grant. It reports false
// and changes nothing when the account already exists.
func (l *Ledger) OpenAccount(ctx context.Context, account string, grant int64) (bool, error) {
	if account == "" {
		return false, fmt.Errorf("open account: empty id")
	}
	if grant < 0 {
		return false, fmt.Errorf("open account %s: %w", account, ErrInvalidAmount)
	}
	unlock := l.accounts.Lock(account)
	defer unlock()

	created, err := l.store.Open(ctx, account, l.entry(account, grant, "starting grant", ""))
	if err != nil {
		return false, fmt.Errorf("open account %s: %w", account, err)
	}
	if created {
		l.log.Info("account opened", zap.String("account", account), zap.Int64("grant", grant))
	}
	return created, nil
}

// Balance returns the spendable balance; unknown accounts hold nothing.
func (l *Ledger) Balance(ctx context.Context, account string) (int64, error) {
	bal, _, err := l.store.Balance(ctx, account)
	if err != nil {
		return 0, fmt.Errorf("balance %s: %w", account, err)
	}
	return bal, nil
}

func (l *Ledger) Deposit(ctx context.Context, account string, amount int64, reason string) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	unlock := l.accounts.Lock(account)
	defer unlock()

	if _, ok, err := l.store.Balance(ctx, account); err != nil {
		return fmt.Errorf("deposit %s: %w", account, err)
	} else if !ok {
		if _, err := l.store.Open(ctx, account, l.entry(account, 0, "opened by deposit", "")); err != nil {
			return fmt.Errorf("deposit %s: %w", account, err)
		}
	}
	if err := l.store.Credit(ctx, l.entry(account, amount, reason, "")); err != nil {
		return fmt.Errorf("deposit %s: %w", account, err)
	}
	return nil
}

// Lock moves amount from account into a new hold.
func (l *Ledger) Lock(ctx context.Context, account string, amount int64, reason string) (Handle, error) {
	if amount <= 0 {
		return Handle{}, ErrInvalidAmount
	}
	if err := ctx.Err(); err != nil {
		return Handle{}, err
	}
	unlock := l.accounts.Lock(account)
	defer unlock()

	hold := Hold{ID: uuid.NewString(), Account: account, Amount: amount, Reason: reason}
	err := l.store.Debit(ctx, hold, l.entry(account, -amount, reason, hold.ID))
	if errors.Is(err, ErrInsufficientFunds) {
		bal, _, _ := l.store.Balance(ctx, account)
		return Handle{}, fmt.Errorf("%w: %s has %s coins, needs %s",
			ErrInsufficientFunds, account, humanize.Comma(bal), humanize.Comma(amount))
	}
	if err != nil {
		return Handle{}, fmt.Errorf("lock %s: %w", account, err)
	}

	l.log.Debug("locked", zap.String("account", account), zap.String("hold", hold.ID), zap.Int64("amount", amount))
	return Handle{ID: hold.ID, Account: account, Amount: amount}, nil
}

// Release pays a hold out according to outcome. A hold is released at most
// once; later calls return the first receipt and change nothing.
func (l *Ledger) Release(ctx context.Context, h Handle, out Outcome) (Receipt, error) {
	unlockHold := l.holds.Lock(h.ID)
	defer unlockHold()

	hold, ok, err := l.store.Hold(ctx, h.ID)
	if err != nil {
		return Receipt{}, fmt.Errorf("release %s: %w", h.ID, err)
	}
	if !ok {
		return Receipt{}, fmt.Errorf("%w: unknown hold %s", ErrConsistencyFault, h.ID)
	}
	if hold.Released {
		if hold.Receipt == nil {
			return Receipt{}, fmt.Errorf("%w: hold %s released without receipt", ErrConsistencyFault, h.ID)
		}
		return *hold.Receipt, nil
	}
	if err := validateOutcome(hold, out); err != nil {
		return Receipt{}, err
	}

	accounts := make([]string, 0, len(out.Credits))
	for _, c := range out.Credits {
		if !slices.Contains(accounts, c.Account) {
			accounts = append(accounts, c.Account)
		}
	}
	slices.Sort(accounts)
	for _, a := range accounts {
		unlock := l.accounts.Lock(a)
		defer unlock()
	}

	receipt := Receipt{Hold: hold.ID, Credits: slices.Clone(out.Credits), Reason: out.Reason, At: l.now()}
	entries := make([]Entry, 0, len(out.Credits))
	for _, c := range out.Credits {
		if c.Amount == 0 {
			continue
		}
		entries = append(entries, l.entry(c.Account, c.Amount, out.Reason, hold.ID))
	}
	if err := l.store.Settle(ctx, receipt, entries); err != nil {
		return Receipt{}, fmt.Errorf("release %s: %w", h.ID, err)
	}

	l.log.Debug("released", zap.String("hold", hold.ID), zap.Int("credits", len(out.Credits)), zap.String("reason", out.Reason))
	return receipt, nil
}

// Refund returns a hold to its owner.
func (l *Ledger) Refund(ctx context.Context, h Handle, reason string) (Receipt, error) {
	return l.Release(ctx, h, Outcome{
		Credits: []Credit{{Account: h.Account, Amount: h.Amount}},
		Reason:  reason,
	})
}

// Entries returns the audit trail of account, oldest first.
func (l *Ledger) Entries(ctx context.Context, account string) ([]Entry, error) {
	return l.store.Entries(ctx, account)
}

func validateOutcome(hold Hold, out Outcome) error {
	var sum int64
	for _, c := range out.Credits {
		if c.Account == "" || c.Amount < 0 {
			return fmt.Errorf("%w: bad credit %+v on hold %s", ErrConsistencyFault, c, hold.ID)
		}
		sum += c.Amount
	}
	if sum != hold.Amount {
		return fmt.Errorf("%w: hold %s holds %d but outcome credits %d", ErrConsistencyFault, hold.ID, hold.Amount, sum)
	}
	return nil
}

func (l *Ledger) entry(account string, delta int64, reason, hold string) Entry {
	return Entry{ID: uuid.NewString(), Account: account, Delta: delta, Reason: reason, Hold: hold, At: l.now()}
}
