package domain

import "time"

// ─── Shop Types ─────────────────────────────────────────────────────────────

// Item is something a user can own. Items with an XPMultiplier above 1 are
// boosts and can be activated for Duration.
type Item struct {
	ID           string        `json:"id" yaml:"id"`
	Name         string        `json:"name" yaml:"name"`
	XPMultiplier float64       `json:"xp_multiplier" yaml:"xp_multiplier"`
	Duration     time.Duration `json:"duration" yaml:"duration"`
}

// IsBoost reports whether the item can be activated.
func (i Item) IsBoost() bool {
	return i.XPMultiplier > 1 && i.Duration > 0
}

// Offer sells Quantity units of ItemID for Price coins.
type Offer struct {
	ID       string `json:"id" yaml:"id"`
	Name     string `json:"name" yaml:"name"`
	ItemID   string `json:"item_id" yaml:"item_id"`
	Quantity int    `json:"quantity" yaml:"quantity"`
	Price    int64  `json:"price" yaml:"price"`
}

// InventoryItem is a user's holding of one item.
type InventoryItem struct {
	UserID   string `json:"user_id"`
	ItemID   string `json:"item_id"`
	Quantity int    `json:"quantity"`
}

// Boost is an active XP multiplier.
type Boost struct {
	ItemID     string    `json:"item_id"`
	Multiplier float64   `json:"multiplier"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Active reports whether the boost applies at now.
func (b Boost) Active(now time.Time) bool {
	return now.Before(b.ExpiresAt)
}

// Receipt is the result of a purchase.
type Receipt struct {
	UserID   string    `json:"user_id"`
	OfferID  string    `json:"offer_id"`
	ItemID   string    `json:"item_id"`
	Quantity int       `json:"quantity"`
	Price    int64     `json:"price"`
	Balance  int64     `json:"balance"`
	Owned    int       `json:"owned"`
	At       time.Time `json:"at"`
}
