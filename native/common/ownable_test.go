package common

import (
	"testing"

	ethcommon "github.com/ethereum/go-ethereum/common"
)

func addr(b byte) ethcommon.Address {
	var a ethcommon.Address
	a[19] = b
	return a
}

func TestProposeOwnerValidation(t *testing.T) {
	owner := addr(0x01)
	other := addr(0x02)
	o := NewOwnable(owner)

	if err := o.ProposeOwner(other, other); err != ErrNotOwner {
		t.Fatalf("expected not-owner error, got %v", err)
	}
	if err := o.ProposeOwner(owner, ethcommon.Address{}); err != ErrZeroAddress {
		t.Fatalf("expected zero-address error, got %v", err)
	}
	if err := o.ProposeOwner(owner, owner); err != ErrAlreadyOwner {
		t.Fatalf("expected already-owner error, got %v", err)
	}
	if err := o.ProposeOwner(owner, other); err != nil {
		t.Fatalf("propose: %v", err)
	}
	if err := o.ProposeOwner(owner, other); err != ErrAlreadyProposed {
		t.Fatalf("expected already-proposed error, got %v", err)
	}
}

func TestClaimOwnership(t *testing.T) {
	owner := addr(0x01)
	next := addr(0x02)
	stranger := addr(0x03)
	o := NewOwnable(owner)

	if err := o.ClaimOwnership(next); err != ErrNotProposedOwner {
		t.Fatalf("expected not-proposed error, got %v", err)
	}
	if err := o.ProposeOwner(owner, next); err != nil {
		t.Fatalf("propose: %v", err)
	}
	if err := o.ClaimOwnership(stranger); err != ErrNotProposedOwner {
		t.Fatalf("expected not-proposed error for stranger, got %v", err)
	}
	if err := o.ClaimOwnership(next); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if o.Owner() != next {
		t.Fatalf("unexpected owner: %s", o.Owner())
	}
	if o.ProposedOwner() != (ethcommon.Address{}) {
		t.Fatalf("proposed owner not reset")
	}
	if err := o.ClaimOwnership(next); err != ErrNotProposedOwner {
		t.Fatalf("expected claim to fail after reset, got %v", err)
	}
}
