package model

import "context"

// These decouple the vault/oracle engines from concrete collaborators
// (ledger books, Redis, SQLite). Each implementation satisfies one or more
// of these interfaces.

// TokenLedger is a capability handle onto a balance/allowance ledger, bound
// to the identity of the holder. The holder never authenticates beyond
// presenting that identity: Mint/Burn succeed only if the bound identity is
// the ledger's designated minter or its owner, and Transfer debits the bound
// identity's own balance.
type TokenLedger interface {
	// Mint creates amount units credited to addr.
	Mint(addr Address, amount uint64) error

	// Burn destroys amount units held by addr.
	Burn(addr Address, amount uint64) error

	// BalanceOf returns addr's current balance.
	BalanceOf(addr Address) uint64

	// Transfer moves amount from the bound identity to addr.
	Transfer(addr Address, amount uint64) error

	// TransferFrom moves amount from one address to another, spending the
	// allowance the source granted to the bound identity.
	TransferFrom(from, to Address, amount uint64) error

	// Allowance returns what owner has approved spender to pull.
	Allowance(owner, spender Address) uint64

	// TotalSupply returns the ledger's outstanding supply.
	TotalSupply() uint64
}

// PriceSink receives accepted reference prices. The vault implements this;
// the oracle pushes into it as part of each accepted update.
type PriceSink interface {
	UpdateRefPrice(caller Address, newRate uint64) error
}

// EventPublisher delivers audit events. Publishing is best-effort from the
// engines' point of view: a failed publish is logged, never propagated into
// the operation that produced the event.
type EventPublisher interface {
	Publish(ctx context.Context, e Event) error
}
