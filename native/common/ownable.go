package common

import (
	"errors"

	ethcommon "github.com/ethereum/go-ethereum/common"
)

var (
	// ErrNotOwner indicates the caller is not the current owner.
	ErrNotOwner = errors.New("ownable: caller is not the owner")
	// ErrNotProposedOwner indicates the caller is not the proposed owner.
	ErrNotProposedOwner = errors.New("ownable: caller is not the proposed owner")
	// ErrZeroAddress indicates a zero address was supplied where a real one is required.
	ErrZeroAddress = errors.New("ownable: address is the zero address")
	// ErrAlreadyOwner indicates the proposed address already owns the component.
	ErrAlreadyOwner = errors.New("ownable: address is already the owner")
	// ErrAlreadyProposed indicates the address has already been proposed.
	ErrAlreadyProposed = errors.New("ownable: address is already the proposed owner")
)

// Ownable implements the two-step ownership transfer used by every stateful
// protocol component. The zero value is unusable; construct with NewOwnable.
type Ownable struct {
	owner    ethcommon.Address
	proposed ethcommon.Address
}

// NewOwnable returns an Ownable with the given initial owner.
func NewOwnable(owner ethcommon.Address) *Ownable {
	return &Ownable{owner: owner}
}

// Owner returns the current owner.
func (o *Ownable) Owner() ethcommon.Address {
	if o == nil {
		return ethcommon.Address{}
	}
	return o.owner
}

// ProposedOwner returns the pending owner, if any.
func (o *Ownable) ProposedOwner() ethcommon.Address {
	if o == nil {
		return ethcommon.Address{}
	}
	return o.proposed
}

// RequireOwner fails unless caller is the current owner.
func (o *Ownable) RequireOwner(caller ethcommon.Address) error {
	if o == nil || caller != o.owner {
		return ErrNotOwner
	}
	return nil
}

// ProposeOwner stages addr as the next owner. Only the current owner may
// propose, and the proposal must change something.
func (o *Ownable) ProposeOwner(caller, addr ethcommon.Address) error {
	if err := o.RequireOwner(caller); err != nil {
		return err
	}
	if addr == (ethcommon.Address{}) {
		return ErrZeroAddress
	}
	if addr == o.owner {
		return ErrAlreadyOwner
	}
	if addr == o.proposed {
		return ErrAlreadyProposed
	}
	o.proposed = addr
	return nil
}

// ClaimOwnership completes the transfer. Only the proposed owner may claim;
// the proposal slot resets afterwards.
func (o *Ownable) ClaimOwnership(caller ethcommon.Address) error {
	if o == nil || o.proposed == (ethcommon.Address{}) || caller != o.proposed {
		return ErrNotProposedOwner
	}
	o.owner = o.proposed
	o.proposed = ethcommon.Address{}
	return nil
}
