package model

// Audit events. Each accepted operation emits exactly one event carrying the
// literal before/after values involved. Events are observability only; they
// never carry behavior, and a failed delivery never fails the operation.

// PubSub channels events are published on.
const (
	ChannelPrice = "pub:peg:price"
	ChannelTrade = "pub:peg:trade"
	ChannelAdmin = "pub:peg:admin"
)

// Event is implemented by every audit event type.
type Event interface {
	Kind() string
	Channel() string
}

// PriceUpdated records an accepted reference price change.
type PriceUpdated struct {
	NewRate uint64  `json:"new_rate"`
	OldRate uint64  `json:"old_rate"`
	Caller  Address `json:"caller"`
	Source  string  `json:"source"` // "oracle", "oracle_force", or "vault_owner"
}

func (PriceUpdated) Kind() string    { return "price_updated" }
func (PriceUpdated) Channel() string { return ChannelPrice }

// TokensPurchased records a buy: grossIn reserve units in, netOut pegged
// units minted to the buyer.
type TokensPurchased struct {
	Buyer   Address   `json:"buyer"`
	GrossIn uint64    `json:"gross_in"`
	NetOut  uint64    `json:"net_out"`
	Method  PayMethod `json:"method"`
}

func (TokensPurchased) Kind() string    { return "tokens_purchased" }
func (TokensPurchased) Channel() string { return ChannelTrade }

// TokensSold records a redemption: the full tokenAmount burned, payout
// reserve units paid out.
type TokensSold struct {
	Seller      Address   `json:"seller"`
	TokenAmount uint64    `json:"token_amount"`
	Payout      uint64    `json:"payout"`
	Method      PayMethod `json:"method"`
}

func (TokensSold) Kind() string    { return "tokens_sold" }
func (TokensSold) Channel() string { return ChannelTrade }

// FeesCollected records a fee-collector draw against the reserve pool.
type FeesCollected struct {
	Collector    Address `json:"collector"`
	NativeAmount uint64  `json:"native_amount"`
	StableAmount uint64  `json:"stable_amount"`
}

func (FeesCollected) Kind() string    { return "fees_collected" }
func (FeesCollected) Channel() string { return ChannelAdmin }

// FeeUpdated records a fee-rate change on one side.
type FeeUpdated struct {
	Side   string `json:"side"` // "buy" or "sell"
	OldBps uint64 `json:"old_bps"`
	NewBps uint64 `json:"new_bps"`
}

func (FeeUpdated) Kind() string    { return "fee_updated" }
func (FeeUpdated) Channel() string { return ChannelAdmin }

// UpdaterAdded records a new authorized oracle updater.
type UpdaterAdded struct {
	Updater Address `json:"updater"`
}

func (UpdaterAdded) Kind() string    { return "updater_added" }
func (UpdaterAdded) Channel() string { return ChannelAdmin }

// UpdaterRemoved records a revoked oracle updater.
type UpdaterRemoved struct {
	Updater Address `json:"updater"`
}

func (UpdaterRemoved) Kind() string    { return "updater_removed" }
func (UpdaterRemoved) Channel() string { return ChannelAdmin }

// OwnershipTransferred records a completed two-step owner handoff.
type OwnershipTransferred struct {
	Component string  `json:"component"` // "oracle" or "vault"
	OldOwner  Address `json:"old_owner"`
	NewOwner  Address `json:"new_owner"`
}

func (OwnershipTransferred) Kind() string    { return "ownership_transferred" }
func (OwnershipTransferred) Channel() string { return ChannelAdmin }

// ReserveWithdrawn records an owner-only emergency withdrawal.
type ReserveWithdrawn struct {
	To           Address `json:"to"`
	NativeAmount uint64  `json:"native_amount"`
	StableAmount uint64  `json:"stable_amount"`
}

func (ReserveWithdrawn) Kind() string    { return "reserve_withdrawn" }
func (ReserveWithdrawn) Channel() string { return ChannelAdmin }
