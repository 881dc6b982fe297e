package shop

import (
	"context"
	"errors"
	"fmt"

	"github.com/DoyleJ11/durak-server/internal/ledger"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

var ErrUnknownItem = errors.New("unknown item")
var ErrAlreadyOwned = errors.New("item already owned")

type Rarity string

const (
	Common    Rarity = "common"
	Rare      Rarity = "rare"
	Epic      Rarity = "epic"
	Legendary Rarity = "legendary"
)

type Item struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Price       int64  `json:"price"`
	Rarity      Rarity `json:"rarity"`
}

// Catalog is the fixed list of card-back skins.
var Catalog = []Item{
	{ID: "classic", Name: "Classic", Description: "The standard card back", Price: 0, Rarity: Common},
	{ID: "golden", Name: "Golden Glow", Description: "Cards with a golden shine", Price: 500, Rarity: Rare},
	{ID: "neon", Name: "Neon", Description: "Bright neon cards", Price: 1000, Rarity: Epic},
	{ID: "diamond", Name: "Diamond", Description: "Luxury cards set with crystals", Price: 2500, Rarity: Legendary},
	{ID: "fire", Name: "Fire", Description: "Cards wreathed in flame", Price: 1500, Rarity: Epic},
	{ID: "ice", Name: "Ice", Description: "Cold icy cards", Price: 1200, Rarity: Epic},
}

// Ledger is the part of the currency ledger the shop spends through.
type Ledger interface {
	Lock(ctx context.Context, account string, amount int64, reason string) (ledger.Handle, error)
	Release(ctx context.Context, h ledger.Handle, out ledger.Outcome) (ledger.Receipt, error)
	Refund(ctx context.Context, h ledger.Handle, reason string) (ledger.Receipt, error)
}

type Inventory interface {
	Owns(ctx context.Context, playerID, itemID string) (bool, error)
	GrantItem(ctx context.Context, playerID, itemID string) (bool, error)
	RevokeItem(ctx context.Context, playerID, itemID string) error
}

type Offer struct {
	Item
	Owned bool `json:"owned"`
}

type Purchase struct {
	Item    Item            `json:"item"`
	Receipt *ledger.Receipt `json:"receipt,omitempty"`
}

type Shop struct {
	ledger Ledger
	inv    Inventory
	house  string
	items  map[string]Item
	log    *zap.Logger
}

// New returns a shop that pays for items into the house account.
func New(l Ledger, inv Inventory, house string, log *zap.Logger) *Shop {
	if log == nil {
		log = zap.NewNop()
	}
	items := make(map[string]Item, len(Catalog))
	for _, it := range Catalog {
		items[it.ID] = it
	}
	return &Shop{ledger: l, inv: inv, house: house, items: items, log: log.Named("shop")}
}

func (s *Shop) House() string { return s.house }

// Offers lists the catalog with the player's ownership marked. Free items are always owned.
func (s *Shop) Offers(ctx context.Context, playerID string) ([]Offer, error) {
	out := make([]Offer, 0, len(Catalog))
	for _, it := range Catalog {
		owned := it.Price == 0
		if !owned && playerID != "" {
			var err error
			if owned, err = s.inv.Owns(ctx, playerID, it.ID); err != nil {
				return nil, err
			}
		}
		out = append(out, Offer{Item: it, Owned: owned})
	}
	return out, nil
}

// Buy charges the player for an item through a ledger hold released to the house.
func (s *Shop) Buy(ctx context.Context, playerID, itemID string) (Purchase, error) {
	it, ok := s.items[itemID]
	if !ok {
		return Purchase{}, fmt.Errorf("%w: %q", ErrUnknownItem, itemID)
	}
	if it.Price == 0 {
		return Purchase{}, fmt.Errorf("%w: %s is free", ErrAlreadyOwned, itemID)
	}
	owned, err := s.inv.Owns(ctx, playerID, itemID)
	if err != nil {
		return Purchase{}, err
	}
	if owned {
		return Purchase{}, ErrAlreadyOwned
	}

	reason := "shop " + itemID
	h, err := s.ledger.Lock(ctx, playerID, it.Price, reason)
	if err != nil {
		return Purchase{}, err
	}

	added, err := s.inv.GrantItem(ctx, playerID, itemID)
	if err != nil || !added {
		if err == nil {
			err = ErrAlreadyOwned
		}
		if _, rerr := s.ledger.Refund(ctx, h, reason+" not granted"); rerr != nil {
			err = multierr.Append(err, rerr)
		}
		return Purchase{}, err
	}

	receipt, err := s.ledger.Release(ctx, h, ledger.Outcome{
		Credits: []ledger.Credit{{Account: s.house, Amount: it.Price}},
		Reason:  reason,
	})
	if err != nil {
		_, rerr := s.ledger.Refund(ctx, h, reason+" not paid")
		err = multierr.Combine(err, rerr, s.inv.RevokeItem(ctx, playerID, itemID))
		s.log.Error("purchase rolled back", zap.String("player", playerID), zap.String("item", itemID), zap.Error(err))
		return Purchase{}, err
	}

	s.log.Info("item purchased", zap.String("player", playerID), zap.String("item", itemID), zap.Int64("price", it.Price))
	return Purchase{Item: it, Receipt: &receipt}, nil
}
