package access

import (
	"errors"
	"testing"

	"pegvault/internal/model"
)

func TestOwnable_TwoStepHandoff(t *testing.T) {
	o := NewOwnable("alice")

	if !o.IsOwner("alice") {
		t.Fatal("alice should be owner")
	}

	// Non-owner cannot propose
	if err := o.Propose("bob", "bob"); !errors.Is(err, model.ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}

	// Owner proposes, stays in control until accept
	if err := o.Propose("alice", "bob"); err != nil {
		t.Fatalf("propose failed: %v", err)
	}
	if !o.IsOwner("alice") {
		t.Error("alice should remain owner until bob accepts")
	}
	if o.Pending() != "bob" {
		t.Errorf("expected pending=bob, got %q", o.Pending())
	}

	// Only the candidate may accept
	if _, err := o.Accept("carol"); !errors.Is(err, model.ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized for carol, got %v", err)
	}

	old, err := o.Accept("bob")
	if err != nil {
		t.Fatalf("accept failed: %v", err)
	}
	if old != "alice" {
		t.Errorf("expected old owner alice, got %q", old)
	}
	if !o.IsOwner("bob") || o.IsOwner("alice") {
		t.Error("ownership should have moved to bob")
	}
	if !o.Pending().IsZero() {
		t.Error("pending should be cleared after accept")
	}
}

func TestOwnable_RejectsZeroCandidate(t *testing.T) {
	o := NewOwnable("alice")
	if err := o.Propose("alice", model.ZeroAddress); !errors.Is(err, model.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}

func TestOwnable_AcceptWithoutProposal(t *testing.T) {
	o := NewOwnable("alice")
	if _, err := o.Accept("bob"); !errors.Is(err, model.ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}
}

func TestRole(t *testing.T) {
	r := NewRole("collector")
	if !r.Is("collector") {
		t.Error("collector should hold the role")
	}
	if r.Is(model.ZeroAddress) {
		t.Error("zero address must never satisfy a role check")
	}
	r.Set("other")
	if r.Is("collector") || !r.Is("other") {
		t.Error("role rebind failed")
	}
}

func TestAllowlist_DuplicateGuards(t *testing.T) {
	l := NewAllowlist()

	if err := l.Add("u1"); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if err := l.Add("u1"); !errors.Is(err, ErrAlreadyMember) {
		t.Errorf("expected ErrAlreadyMember, got %v", err)
	}
	if !errors.Is(ErrAlreadyMember, model.ErrInvalidInput) {
		t.Error("ErrAlreadyMember should be classified as invalid input")
	}

	if err := l.Remove("u2"); !errors.Is(err, ErrNotMember) {
		t.Errorf("expected ErrNotMember, got %v", err)
	}
	if err := l.Remove("u1"); err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	if l.Contains("u1") {
		t.Error("u1 should be gone")
	}
}

func TestAllowlist_RejectsZeroAddress(t *testing.T) {
	l := NewAllowlist()
	if err := l.Add(model.ZeroAddress); !errors.Is(err, model.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}

func TestAllowlist_MembersSorted(t *testing.T) {
	l := NewAllowlist()
	for _, a := range []model.Address{"c", "a", "b"} {
		if err := l.Add(a); err != nil {
			t.Fatalf("add %q: %v", a, err)
		}
	}
	got := l.Members()
	want := []model.Address{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("expected %d members, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("members[%d]: got %q, want %q", i, got[i], want[i])
		}
	}
}
