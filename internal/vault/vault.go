// Package vault implements the price-bounded conversion and
// reserve-accounting engine. It converts between the native reserve asset /
// stable reserve currency and the pegged unit at the mirrored reference
// rate, collects fees, and keeps the reserve counters consistent across
// buys, sells, fee collection and emergency withdrawals.
//
// Fees are not segregated: the full inbound amount of every buy sits
// commingled in the general reserve until collected, so fee collection
// competes directly with user redemption liquidity. That is the designed
// behavior, reproduced here on purpose.
//
// Every operation runs under one mutex per Vault instance. Multi-step
// operations stack compensations so that a refused downstream call unwinds
// every prior mutation in the same operation.
package vault

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"pegvault/internal/access"
	"pegvault/internal/model"
	"pegvault/internal/pricemath"
)

// Config seeds a new Vault.
type Config struct {
	// Identity is the address the vault presents to the ledgers and under
	// which it holds reserves.
	Identity model.Address

	// Owner is the initial owner.
	Owner model.Address

	// FeeCollector is entitled to CollectFees alongside the owner.
	FeeCollector model.Address

	// PriceSource is the address whose pushes bypass the vault-local price
	// bounds (the oracle identity).
	PriceSource model.Address

	// BuyFeeBps / SellFeeBps are the initial fee rates, each capped at 500.
	BuyFeeBps  uint64
	SellFeeBps uint64

	// InitialRate seeds the mirrored price. Must be positive.
	InitialRate uint64

	// MaxDeviationBps / MinUpdatePeriod gate the owner's direct price-update
	// bypass path. These are the vault's own bounds, independent of the
	// oracle's. Zero deviation selects the default; negative period selects
	// the default, zero disables the period check.
	MaxDeviationBps uint64
	MinUpdatePeriod time.Duration
}

// Vault is the conversion and reserve engine.
type Vault struct {
	mu sync.Mutex

	identity     model.Address
	owner        *access.Ownable
	feeCollector *access.Role
	priceSource  *access.Role

	pegged model.TokenLedger // pegged-unit ledger; vault is its minter
	native model.TokenLedger // native reserve bank
	stable model.TokenLedger // stable reserve currency ledger

	buyFeeBps  uint64
	sellFeeBps uint64

	// Mirrored price state. Written only by the designated price source's
	// push or by the owner's bounded bypass path.
	rate       uint64
	lastUpdate time.Time

	maxDeviationBps uint64
	minUpdatePeriod time.Duration

	// Reserve bookkeeping counters. Pure accounting: incremented on inflow,
	// decremented on outflow, never reconciled against actual held balances.
	reserveNative uint64
	reserveStable uint64

	now    func() time.Time
	events model.EventPublisher

	// OnReject, when set, receives every rejected operation for metrics.
	OnReject func(op string, err error)
}

// New creates a Vault. The three ledger handles must already be bound to
// the vault's identity.
func New(cfg Config, pegged, native, stable model.TokenLedger) (*Vault, error) {
	if cfg.Identity.IsZero() || cfg.Owner.IsZero() {
		return nil, fmt.Errorf("%w: zero identity or owner", model.ErrInvalidInput)
	}
	if cfg.InitialRate == 0 {
		return nil, fmt.Errorf("%w: zero initial rate", model.ErrInvalidInput)
	}
	if cfg.BuyFeeBps > pricemath.MaxFeeBps || cfg.SellFeeBps > pricemath.MaxFeeBps {
		return nil, fmt.Errorf("%w: fee above %d bps", model.ErrInvalidInput, pricemath.MaxFeeBps)
	}
	if cfg.MaxDeviationBps == 0 {
		cfg.MaxDeviationBps = pricemath.DefaultMaxDeviationBps
	}
	if cfg.MaxDeviationBps > pricemath.MaxDeviationCeilingBps {
		return nil, fmt.Errorf("%w: max deviation %d exceeds ceiling %d",
			model.ErrInvalidInput, cfg.MaxDeviationBps, pricemath.MaxDeviationCeilingBps)
	}
	if cfg.MinUpdatePeriod < 0 {
		cfg.MinUpdatePeriod = pricemath.DefaultMinUpdateIntervalSec * time.Second
	}
	return &Vault{
		identity:        cfg.Identity,
		owner:           access.NewOwnable(cfg.Owner),
		feeCollector:    access.NewRole(cfg.FeeCollector),
		priceSource:     access.NewRole(cfg.PriceSource),
		pegged:          pegged,
		native:          native,
		stable:          stable,
		buyFeeBps:       cfg.BuyFeeBps,
		sellFeeBps:      cfg.SellFeeBps,
		rate:            cfg.InitialRate,
		maxDeviationBps: cfg.MaxDeviationBps,
		minUpdatePeriod: cfg.MinUpdatePeriod,
		now:             time.Now,
	}, nil
}

// SetClock replaces the time source. Test hook.
func (v *Vault) SetClock(now func() time.Time) {
	v.mu.Lock()
	v.now = now
	v.mu.Unlock()
}

// SetEventPublisher wires the audit event sink.
func (v *Vault) SetEventPublisher(p model.EventPublisher) {
	v.mu.Lock()
	v.events = p
	v.mu.Unlock()
}

// Identity returns the vault's own address.
func (v *Vault) Identity() model.Address { return v.identity }

// Owner returns the current owner.
func (v *Vault) Owner() model.Address {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.owner.Owner()
}

// Rate returns the mirrored rate and its last update time.
func (v *Vault) Rate() (uint64, time.Time) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.rate, v.lastUpdate
}

// Fees returns the current buy and sell fee rates in bps.
func (v *Vault) Fees() (buyBps, sellBps uint64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.buyFeeBps, v.sellFeeBps
}

// Reserves returns the native and stable reserve counters.
func (v *Vault) Reserves() (native, stable uint64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.reserveNative, v.reserveStable
}

// FeeCollector returns the current fee collector address.
func (v *Vault) FeeCollector() model.Address {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.feeCollector.Get()
}

// ReserveDrift reports how far each reserve counter has drifted from the
// balance the vault actually holds on the corresponding ledger (counter
// minus held, so positive means the counter overstates the reserve). The
// counters are bookkeeping only; this probe makes drift observable without
// changing any behavior.
func (v *Vault) ReserveDrift() (native, stable int64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	native = int64(v.reserveNative) - int64(v.native.BalanceOf(v.identity))
	stable = int64(v.reserveStable) - int64(v.stable.BalanceOf(v.identity))
	return native, stable
}

// ---- Conversion operations ----

// BuyWithNative converts an inbound native amount into freshly minted
// pegged units at the mirrored rate, minus the buy fee. The full inbound
// amount joins the native reserve counter; the fee stays commingled there
// until collected.
func (v *Vault) BuyWithNative(caller model.Address, amount uint64) (minted uint64, err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	defer v.rejectOnErr("buy_native", &err)

	if amount == 0 {
		return 0, fmt.Errorf("%w: zero amount", model.ErrInvalidInput)
	}

	// grossUSD = amount * rate / 1e6, multiply before divide.
	grossUSD, mdErr := pricemath.MulDiv(amount, v.rate, pricemath.PricePrecision)
	if mdErr != nil {
		return 0, fmt.Errorf("%w: gross value: %v", model.ErrInvalidInput, mdErr)
	}
	fee := pricemath.FeeCut(grossUSD, v.buyFeeBps)
	netUSD := grossUSD - fee

	// Pull the inbound native amount. The deposit and the mint commit or
	// fail as one unit.
	if err := v.pullIn(v.native, caller, amount); err != nil {
		return 0, err
	}
	if mintErr := v.pegged.Mint(caller, netUSD); mintErr != nil {
		v.refund(v.native, caller, amount)
		return 0, fmt.Errorf("%w: mint: %v", model.ErrExternalCall, mintErr)
	}
	v.reserveNative += amount

	v.emit(model.TokensPurchased{Buyer: caller, GrossIn: amount, NetOut: netUSD, Method: model.MethodNative})
	return netUSD, nil
}

// BuyWithStable converts an inbound stable amount (1:1 USD) into freshly
// minted pegged units, minus the buy fee. The caller must have approved the
// vault to pull the amount beforehand.
func (v *Vault) BuyWithStable(caller model.Address, amount uint64) (minted uint64, err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	defer v.rejectOnErr("buy_stable", &err)

	if amount == 0 {
		return 0, fmt.Errorf("%w: zero amount", model.ErrInvalidInput)
	}

	grossUSD := amount
	fee := pricemath.FeeCut(grossUSD, v.buyFeeBps)
	netUSD := grossUSD - fee

	if err := v.pullIn(v.stable, caller, amount); err != nil {
		return 0, err
	}
	if mintErr := v.pegged.Mint(caller, netUSD); mintErr != nil {
		v.refund(v.stable, caller, amount)
		return 0, fmt.Errorf("%w: mint: %v", model.ErrExternalCall, mintErr)
	}
	v.reserveStable += amount

	v.emit(model.TokensPurchased{Buyer: caller, GrossIn: amount, NetOut: netUSD, Method: model.MethodStable})
	return netUSD, nil
}

// SellForNative burns the caller's full tokenAmount of pegged units and
// pays out the post-fee native equivalent at the mirrored rate. The payout
// reflects tokenAmount minus the sell fee, but supply drops by the full
// tokenAmount.
func (v *Vault) SellForNative(caller model.Address, tokenAmount uint64) (payout uint64, err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	defer v.rejectOnErr("sell_native", &err)

	fee := pricemath.FeeCut(tokenAmount, v.sellFeeBps)
	netAmount := tokenAmount - fee

	// payout = netAmount * 1e6 / rate.
	payout, mdErr := pricemath.MulDiv(netAmount, pricemath.PricePrecision, v.rate)
	if mdErr != nil {
		return 0, fmt.Errorf("%w: payout value: %v", model.ErrInvalidInput, mdErr)
	}
	if err := v.sell(caller, tokenAmount, payout, v.native, &v.reserveNative); err != nil {
		return 0, err
	}

	v.emit(model.TokensSold{Seller: caller, TokenAmount: tokenAmount, Payout: payout, Method: model.MethodNative})
	return payout, nil
}

// SellForStable burns the caller's full tokenAmount of pegged units and
// pays out tokenAmount minus the sell fee in the stable currency.
func (v *Vault) SellForStable(caller model.Address, tokenAmount uint64) (payout uint64, err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	defer v.rejectOnErr("sell_stable", &err)

	fee := pricemath.FeeCut(tokenAmount, v.sellFeeBps)
	payout = tokenAmount - fee

	if err := v.sell(caller, tokenAmount, payout, v.stable, &v.reserveStable); err != nil {
		return 0, err
	}

	v.emit(model.TokensSold{Seller: caller, TokenAmount: tokenAmount, Payout: payout, Method: model.MethodStable})
	return payout, nil
}

// sell runs the shared redemption sequence: preconditions, reserve debit,
// full burn, payout. A refused burn restores the counter; a refused payout
// restores the counter and re-mints the burned units. Caller must hold v.mu.
func (v *Vault) sell(caller model.Address, tokenAmount, payout uint64, out model.TokenLedger, reserve *uint64) error {
	if tokenAmount == 0 {
		return fmt.Errorf("%w: zero amount", model.ErrInvalidInput)
	}
	if held := v.pegged.BalanceOf(caller); held < tokenAmount {
		return fmt.Errorf("%w: pegged balance %d < %d", model.ErrInsufficientBalance, held, tokenAmount)
	}
	if *reserve < payout {
		return fmt.Errorf("%w: reserve %d < payout %d", model.ErrInsufficientReserve, *reserve, payout)
	}

	*reserve -= payout
	if burnErr := v.pegged.Burn(caller, tokenAmount); burnErr != nil {
		*reserve += payout
		return fmt.Errorf("%w: burn: %v", model.ErrExternalCall, burnErr)
	}
	if payErr := out.Transfer(caller, payout); payErr != nil {
		*reserve += payout
		if remintErr := v.pegged.Mint(caller, tokenAmount); remintErr != nil {
			log.Printf("[vault] ERROR: compensation re-mint of %d to %s failed: %v", tokenAmount, caller, remintErr)
		}
		return fmt.Errorf("%w: payout: %v", model.ErrExternalCall, payErr)
	}
	return nil
}

// ---- Fee and reserve administration ----

// CollectFees transfers accumulated fee-bearing reserves to the caller.
// Caller must be the fee collector or the owner. Draws come from the same
// undivided counters users redeem against, so collecting can consume
// redemption liquidity.
func (v *Vault) CollectFees(caller model.Address, nativeAmount, stableAmount uint64) (err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	defer v.rejectOnErr("collect_fees", &err)

	if !v.feeCollector.Is(caller) && !v.owner.IsOwner(caller) {
		return fmt.Errorf("%w: collect fees requires fee collector or owner", model.ErrUnauthorized)
	}
	if nativeAmount == 0 && stableAmount == 0 {
		return fmt.Errorf("%w: nothing to collect", model.ErrInvalidInput)
	}
	if err := v.payOutBoth(caller, nativeAmount, stableAmount); err != nil {
		return err
	}

	v.emit(model.FeesCollected{Collector: caller, NativeAmount: nativeAmount, StableAmount: stableAmount})
	return nil
}

// EmergencyWithdraw moves reserves to an arbitrary address, bypassing every
// normal accounting check except reserve sufficiency. Owner only. Circuit
// breaker, not reachable through any user path.
func (v *Vault) EmergencyWithdraw(caller, to model.Address, nativeAmount, stableAmount uint64) (err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	defer v.rejectOnErr("emergency_withdraw", &err)

	if !v.owner.IsOwner(caller) {
		return fmt.Errorf("%w: emergency withdraw requires owner", model.ErrUnauthorized)
	}
	if to.IsZero() {
		return fmt.Errorf("%w: zero destination", model.ErrInvalidInput)
	}
	if err := v.payOutBoth(to, nativeAmount, stableAmount); err != nil {
		return err
	}

	v.emit(model.ReserveWithdrawn{To: to, NativeAmount: nativeAmount, StableAmount: stableAmount})
	return nil
}

// payOutBoth debits both reserve counters and transfers out. Both legs are
// validated against the counters AND the actually held ledger balances
// before either transfer runs, so the two external calls cannot fail
// between legs and the whole draw stays all-or-nothing. Caller must hold
// v.mu.
func (v *Vault) payOutBoth(to model.Address, nativeAmount, stableAmount uint64) error {
	if v.reserveNative < nativeAmount {
		return fmt.Errorf("%w: native reserve %d < %d", model.ErrInsufficientReserve, v.reserveNative, nativeAmount)
	}
	if v.reserveStable < stableAmount {
		return fmt.Errorf("%w: stable reserve %d < %d", model.ErrInsufficientReserve, v.reserveStable, stableAmount)
	}
	if held := v.native.BalanceOf(v.identity); held < nativeAmount {
		return fmt.Errorf("%w: native held %d < %d (counter drift)", model.ErrInsufficientReserve, held, nativeAmount)
	}
	if held := v.stable.BalanceOf(v.identity); held < stableAmount {
		return fmt.Errorf("%w: stable held %d < %d (counter drift)", model.ErrInsufficientReserve, held, stableAmount)
	}

	if nativeAmount > 0 {
		if err := v.native.Transfer(to, nativeAmount); err != nil {
			return fmt.Errorf("%w: native payout: %v", model.ErrExternalCall, err)
		}
		v.reserveNative -= nativeAmount
	}
	if stableAmount > 0 {
		if err := v.stable.Transfer(to, stableAmount); err != nil {
			// Unreachable in-process: both legs were pre-validated above.
			log.Printf("[vault] ERROR: stable payout of %d to %s refused after native leg settled: %v", stableAmount, to, err)
			return fmt.Errorf("%w: stable payout: %v", model.ErrExternalCall, err)
		}
		v.reserveStable -= stableAmount
	}
	return nil
}

// ---- Price mirror ----

// UpdateRefPrice writes the mirrored price. Two gatekeepers share this
// entry: the designated price source (the oracle) writes unconditionally,
// since its own bounds already vetted the rate; the vault owner may write
// directly, gated by the vault's own minUpdatePeriod and maxDeviationBps.
func (v *Vault) UpdateRefPrice(caller model.Address, newRate uint64) (err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	defer v.rejectOnErr("update_ref_price", &err)

	if newRate == 0 {
		return fmt.Errorf("%w: zero price", model.ErrInvalidInput)
	}

	source := "oracle"
	switch {
	case v.priceSource.Is(caller):
		// Push from the oracle: accepted as-is.
	case v.owner.IsOwner(caller):
		source = "vault_owner"
		if v.minUpdatePeriod > 0 && v.now().Sub(v.lastUpdate) < v.minUpdatePeriod {
			return fmt.Errorf("%w: %s since last update, need %s",
				model.ErrRateLimited, v.now().Sub(v.lastUpdate).Truncate(time.Second), v.minUpdatePeriod)
		}
		if dev := pricemath.DeviationBps(v.rate, newRate); dev > v.maxDeviationBps {
			return fmt.Errorf("%w: move of %d bps exceeds bound %d bps",
				model.ErrDeviationExceeded, dev, v.maxDeviationBps)
		}
	default:
		return fmt.Errorf("%w: caller %q is not the price source or owner", model.ErrUnauthorized, caller)
	}

	old := v.rate
	v.rate = newRate
	v.lastUpdate = v.now()
	v.emit(model.PriceUpdated{NewRate: newRate, OldRate: old, Caller: caller, Source: source})
	return nil
}

// ---- Owner setters ----

// SetBuyFee sets the buy fee, capped at 500 bps. Owner only.
func (v *Vault) SetBuyFee(caller model.Address, bps uint64) error {
	return v.setFee(caller, bps, "buy", &v.buyFeeBps)
}

// SetSellFee sets the sell fee, capped at 500 bps. Owner only.
func (v *Vault) SetSellFee(caller model.Address, bps uint64) error {
	return v.setFee(caller, bps, "sell", &v.sellFeeBps)
}

func (v *Vault) setFee(caller model.Address, bps uint64, side string, slot *uint64) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.owner.IsOwner(caller) {
		return fmt.Errorf("%w: set %s fee requires owner", model.ErrUnauthorized, side)
	}
	if bps > pricemath.MaxFeeBps {
		return fmt.Errorf("%w: %s fee %d exceeds ceiling %d bps",
			model.ErrInvalidInput, side, bps, pricemath.MaxFeeBps)
	}
	old := *slot
	*slot = bps
	v.emit(model.FeeUpdated{Side: side, OldBps: old, NewBps: bps})
	return nil
}

// SetFeeCollector rebinds the fee collector role. Owner only.
func (v *Vault) SetFeeCollector(caller, collector model.Address) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.owner.IsOwner(caller) {
		return fmt.Errorf("%w: set fee collector requires owner", model.ErrUnauthorized)
	}
	if collector.IsZero() {
		return fmt.Errorf("%w: zero collector address", model.ErrInvalidInput)
	}
	v.feeCollector.Set(collector)
	return nil
}

// SetPriceSource rebinds the address whose pushes bypass the vault-local
// bounds. Owner only.
func (v *Vault) SetPriceSource(caller, source model.Address) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.owner.IsOwner(caller) {
		return fmt.Errorf("%w: set price source requires owner", model.ErrUnauthorized)
	}
	v.priceSource.Set(source)
	return nil
}

// SetMinPriceUpdatePeriod sets the vault-local update spacing for the
// owner bypass path. Owner only, unbounded; zero disables the check.
func (v *Vault) SetMinPriceUpdatePeriod(caller model.Address, period time.Duration) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.owner.IsOwner(caller) {
		return fmt.Errorf("%w: set min update period requires owner", model.ErrUnauthorized)
	}
	if period < 0 {
		return fmt.Errorf("%w: negative period", model.ErrInvalidInput)
	}
	v.minUpdatePeriod = period
	return nil
}

// SetMaxPriceDeviation sets the vault-local deviation bound for the owner
// bypass path, capped at 3000 bps. Owner only.
func (v *Vault) SetMaxPriceDeviation(caller model.Address, bps uint64) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.owner.IsOwner(caller) {
		return fmt.Errorf("%w: set max deviation requires owner", model.ErrUnauthorized)
	}
	if bps == 0 || bps > pricemath.MaxDeviationCeilingBps {
		return fmt.Errorf("%w: deviation bound %d outside (0, %d]",
			model.ErrInvalidInput, bps, pricemath.MaxDeviationCeilingBps)
	}
	v.maxDeviationBps = bps
	return nil
}

// ProposeOwner starts a two-step owner handoff.
func (v *Vault) ProposeOwner(caller, candidate model.Address) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.owner.Propose(caller, candidate)
}

// AcceptOwner completes a two-step owner handoff.
func (v *Vault) AcceptOwner(caller model.Address) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	old, err := v.owner.Accept(caller)
	if err != nil {
		return err
	}
	v.emit(model.OwnershipTransferred{Component: "vault", OldOwner: old, NewOwner: v.owner.Owner()})
	return nil
}

// ---- Internals ----

// pullIn draws amount from caller into the vault, mapping the ledger's
// failures onto the operation taxonomy. Caller must hold v.mu.
func (v *Vault) pullIn(ledger model.TokenLedger, caller model.Address, amount uint64) error {
	if allowed := ledger.Allowance(caller, v.identity); allowed < amount {
		return fmt.Errorf("%w: approved %d < %d", model.ErrInsufficientAllowance, allowed, amount)
	}
	if err := ledger.TransferFrom(caller, v.identity, amount); err != nil {
		return fmt.Errorf("%w: deposit pull: %v", model.ErrExternalCall, err)
	}
	return nil
}

// refund returns a pulled deposit after a later step refused. Compensation
// only; a failure here is logged, not propagated, since the original error
// is the one the caller must see.
func (v *Vault) refund(ledger model.TokenLedger, to model.Address, amount uint64) {
	if amount == 0 {
		return
	}
	if err := ledger.Transfer(to, amount); err != nil {
		log.Printf("[vault] ERROR: deposit refund of %d to %s failed: %v", amount, to, err)
	}
}

func (v *Vault) emit(e model.Event) {
	if v.events == nil {
		return
	}
	if err := v.events.Publish(context.Background(), e); err != nil {
		log.Printf("[vault] WARNING: failed to publish %s event: %v", e.Kind(), err)
	}
}

func (v *Vault) rejectOnErr(op string, err *error) {
	if *err != nil && v.OnReject != nil {
		v.OnReject(op, *err)
	}
}
