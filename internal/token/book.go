// Package token provides the reference balance/allowance ledger consumed by
// the vault through the model.TokenLedger capability. One Book instance backs
// each currency: the pegged unit, the stable reserve currency, and the
// native reserve bank.
//
// Mint and burn are gated to exactly one privileged minter role (the vault
// identity) plus the ledger owner. Callers act through capability handles
// bound to their own address; see AsCaller.
package token

import (
	"fmt"
	"sync"

	"pegvault/internal/access"
	"pegvault/internal/model"
)

// Book is a thread-safe in-memory balance/allowance table.
type Book struct {
	mu sync.RWMutex

	name   string
	owner  *access.Ownable
	minter *access.Role

	balances   map[model.Address]uint64
	allowances map[model.Address]map[model.Address]uint64
	supply     uint64
}

// NewBook creates an empty ledger owned by owner. No minter is set until
// SetMinter is called; until then only the owner can mint or burn.
func NewBook(name string, owner model.Address) *Book {
	return &Book{
		name:       name,
		owner:      access.NewOwnable(owner),
		minter:     access.NewRole(model.ZeroAddress),
		balances:   make(map[model.Address]uint64),
		allowances: make(map[model.Address]map[model.Address]uint64),
	}
}

// Name returns the ledger's display name.
func (b *Book) Name() string { return b.name }

// SetMinter designates the single privileged mint/burn identity. Owner only.
func (b *Book) SetMinter(caller, minter model.Address) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.owner.IsOwner(caller) {
		return fmt.Errorf("%w: only %s owner may set minter", model.ErrUnauthorized, b.name)
	}
	b.minter.Set(minter)
	return nil
}

// Minter returns the current minter identity.
func (b *Book) Minter() model.Address {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.minter.Get()
}

// Owner returns the ledger owner.
func (b *Book) Owner() model.Address {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.owner.Owner()
}

// ProposeOwner starts a two-step owner handoff.
func (b *Book) ProposeOwner(caller, candidate model.Address) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.owner.Propose(caller, candidate)
}

// AcceptOwner completes a two-step owner handoff.
func (b *Book) AcceptOwner(caller model.Address) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, err := b.owner.Accept(caller)
	return err
}

// Mint credits amount to addr. Caller must be the minter or the owner.
func (b *Book) Mint(caller, addr model.Address, amount uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.minter.Is(caller) && !b.owner.IsOwner(caller) {
		return fmt.Errorf("%w: %s mint requires minter or owner", model.ErrUnauthorized, b.name)
	}
	if addr.IsZero() {
		return fmt.Errorf("%w: mint to zero address", model.ErrInvalidInput)
	}
	b.balances[addr] += amount
	b.supply += amount
	return nil
}

// Burn debits amount from addr. Caller must be the minter or the owner.
func (b *Book) Burn(caller, addr model.Address, amount uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.minter.Is(caller) && !b.owner.IsOwner(caller) {
		return fmt.Errorf("%w: %s burn requires minter or owner", model.ErrUnauthorized, b.name)
	}
	if b.balances[addr] < amount {
		return fmt.Errorf("%w: %s burn of %d exceeds balance %d", model.ErrInsufficientBalance, b.name, amount, b.balances[addr])
	}
	b.balances[addr] -= amount
	b.supply -= amount
	return nil
}

// BalanceOf returns addr's balance.
func (b *Book) BalanceOf(addr model.Address) uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.balances[addr]
}

// TotalSupply returns the outstanding supply.
func (b *Book) TotalSupply() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.supply
}

// Transfer moves amount from the caller's balance to addr.
func (b *Book) Transfer(caller, addr model.Address, amount uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if addr.IsZero() {
		return fmt.Errorf("%w: transfer to zero address", model.ErrInvalidInput)
	}
	return b.move(caller, addr, amount)
}

// Approve lets spender pull up to amount from the caller's balance.
func (b *Book) Approve(caller, spender model.Address, amount uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if spender.IsZero() {
		return fmt.Errorf("%w: approve zero spender", model.ErrInvalidInput)
	}
	row, ok := b.allowances[caller]
	if !ok {
		row = make(map[model.Address]uint64)
		b.allowances[caller] = row
	}
	row[spender] = amount
	return nil
}

// Allowance returns what owner has approved spender to pull.
func (b *Book) Allowance(owner, spender model.Address) uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.allowances[owner][spender]
}

// TransferFrom moves amount from one address to another, spending the
// allowance from granted to the caller.
func (b *Book) TransferFrom(caller, from, to model.Address, amount uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if to.IsZero() {
		return fmt.Errorf("%w: transfer to zero address", model.ErrInvalidInput)
	}
	allowed := b.allowances[from][caller]
	if allowed < amount {
		return fmt.Errorf("%w: %s allowance %d < %d", model.ErrInsufficientAllowance, b.name, allowed, amount)
	}
	if err := b.move(from, to, amount); err != nil {
		return err
	}
	b.allowances[from][caller] = allowed - amount
	return nil
}

// move debits from and credits to. Caller must hold b.mu.
func (b *Book) move(from, to model.Address, amount uint64) error {
	if b.balances[from] < amount {
		return fmt.Errorf("%w: %s balance %d < %d", model.ErrInsufficientBalance, b.name, b.balances[from], amount)
	}
	b.balances[from] -= amount
	b.balances[to] += amount
	return nil
}

// AsCaller returns a model.TokenLedger capability handle bound to caller.
// The handle presents caller's identity on every operation; the holder never
// authenticates beyond that.
func (b *Book) AsCaller(caller model.Address) model.TokenLedger {
	return &boundLedger{book: b, caller: caller}
}

type boundLedger struct {
	book   *Book
	caller model.Address
}

func (l *boundLedger) Mint(addr model.Address, amount uint64) error {
	return l.book.Mint(l.caller, addr, amount)
}

func (l *boundLedger) Burn(addr model.Address, amount uint64) error {
	return l.book.Burn(l.caller, addr, amount)
}

func (l *boundLedger) BalanceOf(addr model.Address) uint64 {
	return l.book.BalanceOf(addr)
}

func (l *boundLedger) Transfer(addr model.Address, amount uint64) error {
	return l.book.Transfer(l.caller, addr, amount)
}

func (l *boundLedger) TransferFrom(from, to model.Address, amount uint64) error {
	return l.book.TransferFrom(l.caller, from, to, amount)
}

func (l *boundLedger) Allowance(owner, spender model.Address) uint64 {
	return l.book.Allowance(owner, spender)
}

func (l *boundLedger) TotalSupply() uint64 {
	return l.book.TotalSupply()
}
