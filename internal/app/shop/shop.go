// Package shop sells catalog offers for coins and runs XP boosts.
package shop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/focusquest/focusquest/internal/domain"
)

// Wallet debits and refunds coins.
type Wallet interface {
	AwardCoins(ctx context.Context, userID string, amount int64, reason, refType, refID string) (int64, error)
}

// Catalog resolves offers and items.
type Catalog interface {
	Offer(id string) (domain.Offer, bool)
	Item(id string) (domain.Item, bool)
}

type boostState struct {
	mu    sync.Mutex
	boost domain.Boost
}

// Service handles purchases and boost activation.
type Service struct {
	store   domain.InventoryStore
	catalog Catalog
	wallet  Wallet
	boosts  *xsync.MapOf[string, *boostState]
	timeout time.Duration
	log     *slog.Logger
	now     func() time.Time
}

// NewService creates a shop service.
func NewService(store domain.InventoryStore, catalog Catalog, wallet Wallet, storeTimeout time.Duration) *Service {
	if storeTimeout <= 0 {
		storeTimeout = 250 * time.Millisecond
	}
	return &Service{
		store:   store,
		catalog: catalog,
		wallet:  wallet,
		boosts:  xsync.NewMapOf[string, *boostState](),
		timeout: storeTimeout,
		log:     slog.Default().With("component", "shop"),
		now:     time.Now,
	}
}

// Purchase buys an offer. The price is debited first; if the item cannot be
// delivered the debit is refunded.
func (s *Service) Purchase(ctx context.Context, userID, offerID string) (domain.Receipt, error) {
	offer, ok := s.catalog.Offer(offerID)
	if !ok {
		return domain.Receipt{}, fmt.Errorf("purchase %s: %w", offerID, domain.ErrUnknownOffer)
	}

	balance, err := s.wallet.AwardCoins(ctx, userID, -offer.Price, "purchase", "offer", offer.ID)
	if err != nil {
		return domain.Receipt{}, fmt.Errorf("purchase %s: %w", offerID, err)
	}

	sctx, cancel := context.WithTimeout(ctx, s.timeout)
	owned, err := s.store.AddInventory(sctx, userID, offer.ItemID, offer.Quantity)
	cancel()
	if err != nil {
		s.log.Warn("inventory write failed, refunding", "user", userID, "offer", offerID, "err", err)
		if offer.Price > 0 {
			if _, rerr := s.wallet.AwardCoins(ctx, userID, offer.Price, "refund", "offer", offer.ID); rerr != nil {
				s.log.Error("refund failed", "user", userID, "offer", offerID, "err", rerr)
			}
		}
		return domain.Receipt{}, fmt.Errorf("purchase %s: %w (%w)", offerID, domain.ErrTransientStore, err)
	}

	s.log.Info("purchase", "user", userID, "offer", offerID, "price", offer.Price, "balance", balance)
	return domain.Receipt{
		UserID: userID, OfferID: offer.ID, ItemID: offer.ItemID,
		Quantity: offer.Quantity, Price: offer.Price,
		Balance: balance, Owned: owned, At: s.now(),
	}, nil
}

// ActivateBoost consumes one owned boost item and starts its multiplier.
// Activating while a boost runs extends it by the item's duration.
func (s *Service) ActivateBoost(ctx context.Context, userID, itemID string) (domain.Boost, error) {
	item, ok := s.catalog.Item(itemID)
	if !ok {
		return domain.Boost{}, fmt.Errorf("activate %s: %w", itemID, domain.ErrUnknownItem)
	}
	if !item.IsBoost() {
		return domain.Boost{}, fmt.Errorf("activate %s: %w", itemID, domain.ErrNotABoost)
	}

	st, _ := s.boosts.LoadOrCompute(userID, func() *boostState { return &boostState{} })
	st.mu.Lock()
	defer st.mu.Unlock()

	sctx, cancel := context.WithTimeout(ctx, s.timeout)
	_, err := s.store.ConsumeInventory(sctx, userID, itemID)
	cancel()
	if err != nil {
		if errors.Is(err, domain.ErrItemNotOwned) {
			return domain.Boost{}, fmt.Errorf("activate %s: %w", itemID, err)
		}
		return domain.Boost{}, fmt.Errorf("activate %s: %w (%w)", itemID, domain.ErrTransientStore, err)
	}

	now := s.now()
	b := st.boost
	if b.Active(now) {
		b.ExpiresAt = b.ExpiresAt.Add(item.Duration)
		if item.XPMultiplier > b.Multiplier {
			b.Multiplier = item.XPMultiplier
			b.ItemID = item.ID
		}
	} else {
		b = domain.Boost{ItemID: item.ID, Multiplier: item.XPMultiplier, ExpiresAt: now.Add(item.Duration)}
	}
	st.boost = b

	s.log.Info("boost activated", "user", userID, "item", itemID, "multiplier", b.Multiplier, "expires", b.ExpiresAt)
	return b, nil
}

// ActiveBoost returns the user's running boost.
func (s *Service) ActiveBoost(userID string, now time.Time) (domain.Boost, bool) {
	st, ok := s.boosts.Load(userID)
	if !ok {
		return domain.Boost{}, false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if !st.boost.Active(now) {
		return domain.Boost{}, false
	}
	return st.boost, true
}

// Multiplier returns the XP multiplier in effect at now (1 without a boost).
func (s *Service) Multiplier(userID string, now time.Time) float64 {
	if b, ok := s.ActiveBoost(userID, now); ok {
		return b.Multiplier
	}
	return 1
}

// Inventory lists the user's items.
func (s *Service) Inventory(ctx context.Context, userID string) ([]domain.InventoryItem, error) {
	sctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	items, err := s.store.ListInventory(sctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list inventory: %w (%w)", domain.ErrTransientStore, err)
	}
	return items, nil
}
