package token

import (
	"errors"
	"testing"

	"pegvault/internal/model"
)

func TestBook_MintBurnAuthorization(t *testing.T) {
	b := NewBook("USDP", "owner")

	// No minter set: random caller cannot mint.
	if err := b.Mint("vault", "alice", 100); !errors.Is(err, model.ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized before minter set, got %v", err)
	}

	// Owner can always mint.
	if err := b.Mint("owner", "alice", 100); err != nil {
		t.Fatalf("owner mint failed: %v", err)
	}

	// Only the owner may designate the minter.
	if err := b.SetMinter("alice", "vault"); !errors.Is(err, model.ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}
	if err := b.SetMinter("owner", "vault"); err != nil {
		t.Fatalf("set minter failed: %v", err)
	}

	if err := b.Mint("vault", "alice", 50); err != nil {
		t.Fatalf("minter mint failed: %v", err)
	}
	if got := b.BalanceOf("alice"); got != 150 {
		t.Errorf("expected balance 150, got %d", got)
	}
	if got := b.TotalSupply(); got != 150 {
		t.Errorf("expected supply 150, got %d", got)
	}

	// Burn reduces both balance and supply.
	if err := b.Burn("vault", "alice", 150); err != nil {
		t.Fatalf("burn failed: %v", err)
	}
	if b.BalanceOf("alice") != 0 || b.TotalSupply() != 0 {
		t.Error("burn should zero balance and supply")
	}

	// Burning more than held fails.
	if err := b.Burn("vault", "alice", 1); !errors.Is(err, model.ErrInsufficientBalance) {
		t.Errorf("expected ErrInsufficientBalance, got %v", err)
	}
}

func TestBook_TransferSemantics(t *testing.T) {
	b := NewBook("TRX", "owner")
	if err := b.Mint("owner", "alice", 1000); err != nil {
		t.Fatal(err)
	}

	if err := b.Transfer("alice", "bob", 400); err != nil {
		t.Fatalf("transfer failed: %v", err)
	}
	if b.BalanceOf("alice") != 600 || b.BalanceOf("bob") != 400 {
		t.Errorf("balances after transfer: alice=%d bob=%d", b.BalanceOf("alice"), b.BalanceOf("bob"))
	}

	if err := b.Transfer("alice", "bob", 601); !errors.Is(err, model.ErrInsufficientBalance) {
		t.Errorf("expected ErrInsufficientBalance, got %v", err)
	}
	if err := b.Transfer("alice", model.ZeroAddress, 1); !errors.Is(err, model.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}

func TestBook_TransferFromSpendsAllowance(t *testing.T) {
	b := NewBook("USDT", "owner")
	if err := b.Mint("owner", "alice", 1000); err != nil {
		t.Fatal(err)
	}

	// No allowance yet.
	if err := b.TransferFrom("vault", "alice", "vault", 100); !errors.Is(err, model.ErrInsufficientAllowance) {
		t.Errorf("expected ErrInsufficientAllowance, got %v", err)
	}

	if err := b.Approve("alice", "vault", 300); err != nil {
		t.Fatal(err)
	}
	if got := b.Allowance("alice", "vault"); got != 300 {
		t.Errorf("expected allowance 300, got %d", got)
	}

	if err := b.TransferFrom("vault", "alice", "vault", 200); err != nil {
		t.Fatalf("transferFrom failed: %v", err)
	}
	if got := b.Allowance("alice", "vault"); got != 100 {
		t.Errorf("expected remaining allowance 100, got %d", got)
	}
	if b.BalanceOf("vault") != 200 {
		t.Errorf("expected vault balance 200, got %d", b.BalanceOf("vault"))
	}

	// Allowance left (100) is below the next pull.
	if err := b.TransferFrom("vault", "alice", "vault", 101); !errors.Is(err, model.ErrInsufficientAllowance) {
		t.Errorf("expected ErrInsufficientAllowance, got %v", err)
	}
}

func TestBook_BoundHandlePresentsIdentity(t *testing.T) {
	b := NewBook("USDP", "owner")
	if err := b.SetMinter("owner", "vault"); err != nil {
		t.Fatal(err)
	}

	vaultLedger := b.AsCaller("vault")
	strangerLedger := b.AsCaller("stranger")

	if err := vaultLedger.Mint("alice", 10); err != nil {
		t.Fatalf("bound minter handle should mint: %v", err)
	}
	if err := strangerLedger.Mint("alice", 10); !errors.Is(err, model.ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized for stranger handle, got %v", err)
	}

	// Transfer through a handle debits the bound identity.
	if err := vaultLedger.Mint("vault", 50); err != nil {
		t.Fatal(err)
	}
	if err := vaultLedger.Transfer("bob", 20); err != nil {
		t.Fatalf("bound transfer failed: %v", err)
	}
	if b.BalanceOf("vault") != 30 || b.BalanceOf("bob") != 20 {
		t.Errorf("bound transfer balances wrong: vault=%d bob=%d", b.BalanceOf("vault"), b.BalanceOf("bob"))
	}
}

func TestBook_TwoStepOwnerHandoff(t *testing.T) {
	b := NewBook("USDP", "owner")
	if err := b.ProposeOwner("owner", "newowner"); err != nil {
		t.Fatal(err)
	}
	if err := b.AcceptOwner("newowner"); err != nil {
		t.Fatal(err)
	}
	if err := b.Mint("newowner", "alice", 1); err != nil {
		t.Errorf("new owner should mint: %v", err)
	}
	if err := b.Mint("owner", "alice", 1); !errors.Is(err, model.ErrUnauthorized) {
		t.Errorf("old owner must lose mint rights, got %v", err)
	}
}
