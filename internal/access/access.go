// Package access holds the authorization policy objects shared by the
// oracle and vault: a two-step owner handoff, a mutable singleton role, and
// an address allowlist. Authorization is equality against these mutable
// addresses, queried per operation instead of scattered inline checks.
//
// None of these types carry their own locks. Each engine serializes every
// operation under its instance mutex, and these objects are only touched
// inside that critical section.
package access

import (
	"fmt"
	"sort"

	"pegvault/internal/model"
)

// Duplicate-state failures for allowlist mutation. Both satisfy
// errors.Is(err, model.ErrInvalidInput).
var (
	ErrAlreadyMember = fmt.Errorf("%w: address already registered", model.ErrInvalidInput)
	ErrNotMember     = fmt.Errorf("%w: address not registered", model.ErrInvalidInput)
)

// Ownable is the single-owner/pending-owner handoff state machine:
// {Active(owner), PendingTransfer(owner, candidate)}. Propose moves to
// PendingTransfer, Accept completes it; the current owner stays in control
// until the candidate accepts.
type Ownable struct {
	owner   model.Address
	pending model.Address
}

// NewOwnable creates an Ownable in the Active state.
func NewOwnable(owner model.Address) *Ownable {
	return &Ownable{owner: owner}
}

// Owner returns the current owner.
func (o *Ownable) Owner() model.Address { return o.owner }

// Pending returns the proposed new owner, or ZeroAddress when none.
func (o *Ownable) Pending() model.Address { return o.pending }

// IsOwner reports whether addr is the current owner.
func (o *Ownable) IsOwner(addr model.Address) bool {
	return !addr.IsZero() && addr == o.owner
}

// Propose nominates candidate as the next owner. Only the current owner may
// propose; a later Propose overwrites an earlier, unaccepted one.
func (o *Ownable) Propose(caller, candidate model.Address) error {
	if !o.IsOwner(caller) {
		return fmt.Errorf("%w: only owner may propose transfer", model.ErrUnauthorized)
	}
	if candidate.IsZero() {
		return fmt.Errorf("%w: zero candidate address", model.ErrInvalidInput)
	}
	o.pending = candidate
	return nil
}

// Accept completes the handoff. Only the pending candidate may accept.
// Returns the previous owner for event emission.
func (o *Ownable) Accept(caller model.Address) (model.Address, error) {
	if o.pending.IsZero() || caller != o.pending {
		return model.ZeroAddress, fmt.Errorf("%w: caller is not the pending owner", model.ErrUnauthorized)
	}
	old := o.owner
	o.owner = o.pending
	o.pending = model.ZeroAddress
	return old, nil
}

// Role is a mutable singleton address (fee collector, price source, minter).
type Role struct {
	addr model.Address
}

// NewRole creates a Role bound to addr.
func NewRole(addr model.Address) *Role { return &Role{addr: addr} }

// Get returns the current role holder.
func (r *Role) Get() model.Address { return r.addr }

// Set rebinds the role to addr.
func (r *Role) Set(addr model.Address) { r.addr = addr }

// Is reports whether addr currently holds the role.
func (r *Role) Is(addr model.Address) bool {
	return !addr.IsZero() && addr == r.addr
}

// Allowlist is a set of authorized addresses with duplicate-state guards on
// both mutations.
type Allowlist struct {
	members map[model.Address]struct{}
}

// NewAllowlist creates an empty allowlist.
func NewAllowlist() *Allowlist {
	return &Allowlist{members: make(map[model.Address]struct{})}
}

// Add registers addr. Fails with ErrAlreadyMember on a redundant call.
func (l *Allowlist) Add(addr model.Address) error {
	if addr.IsZero() {
		return fmt.Errorf("%w: zero address", model.ErrInvalidInput)
	}
	if _, ok := l.members[addr]; ok {
		return ErrAlreadyMember
	}
	l.members[addr] = struct{}{}
	return nil
}

// Remove revokes addr. Fails with ErrNotMember if addr was never added.
func (l *Allowlist) Remove(addr model.Address) error {
	if _, ok := l.members[addr]; !ok {
		return ErrNotMember
	}
	delete(l.members, addr)
	return nil
}

// Contains reports membership.
func (l *Allowlist) Contains(addr model.Address) bool {
	_, ok := l.members[addr]
	return ok
}

// Members returns the registered addresses in sorted order.
func (l *Allowlist) Members() []model.Address {
	out := make([]model.Address, 0, len(l.members))
	for a := range l.members {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
