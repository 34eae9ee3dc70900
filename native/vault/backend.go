package vault

import (
	"math/big"

	ethcommon "github.com/ethereum/go-ethereum/common"
)

// custodyBackend moves a token in and out of vault custody. Implementations
// differ in how inbound transfers are authorized; check verifies the inbound
// preconditions without moving anything.
type custodyBackend interface {
	check(state engineState, vaultAddr, owner, collection ethcommon.Address, tokenID *big.Int) error
	take(state engineState, vaultAddr, owner, collection ethcommon.Address, tokenID *big.Int) error
	give(state engineState, vaultAddr, to, collection ethcommon.Address, tokenID *big.Int) error
}

// standardBackend performs approve + transfer-from custody: the holder must
// own the token and have approved the vault before storage.
type standardBackend struct{}

func (standardBackend) check(state engineState, vaultAddr, owner, collection ethcommon.Address, tokenID *big.Int) error {
	holder, err := state.NFTOwner(collection, tokenID)
	if err != nil {
		return err
	}
	if holder != owner {
		return ErrNotTokenOwner
	}
	approved, err := state.NFTApproved(collection, tokenID)
	if err != nil {
		return err
	}
	if approved != vaultAddr {
		return ErrMissingApproval
	}
	return nil
}

func (b standardBackend) take(state engineState, vaultAddr, owner, collection ethcommon.Address, tokenID *big.Int) error {
	if err := b.check(state, vaultAddr, owner, collection, tokenID); err != nil {
		return err
	}
	return state.SetNFTOwner(collection, tokenID, vaultAddr)
}

func (standardBackend) give(state engineState, vaultAddr, to, collection ethcommon.Address, tokenID *big.Int) error {
	holder, err := state.NFTOwner(collection, tokenID)
	if err != nil {
		return err
	}
	if holder != vaultAddr {
		return ErrNotInCustody
	}
	return state.SetNFTOwner(collection, tokenID, to)
}

// punkBackend custodies tokens whose collections only support offer-based
// transfers. The holder must have an open offer to the vault address; taking
// custody consumes the offer.
type punkBackend struct{}

func (punkBackend) check(state engineState, vaultAddr, owner, collection ethcommon.Address, tokenID *big.Int) error {
	holder, err := state.NFTOwner(collection, tokenID)
	if err != nil {
		return err
	}
	if holder != owner {
		return ErrNotTokenOwner
	}
	offeredTo, ok, err := state.PunkOffer(collection, tokenID)
	if err != nil {
		return err
	}
	if !ok || offeredTo != vaultAddr {
		return ErrMissingPunkOffer
	}
	return nil
}

func (b punkBackend) take(state engineState, vaultAddr, owner, collection ethcommon.Address, tokenID *big.Int) error {
	if err := b.check(state, vaultAddr, owner, collection, tokenID); err != nil {
		return err
	}
	if err := state.SetNFTOwner(collection, tokenID, vaultAddr); err != nil {
		return err
	}
	return state.ClearPunkOffer(collection, tokenID)
}

func (punkBackend) give(state engineState, vaultAddr, to, collection ethcommon.Address, tokenID *big.Int) error {
	// Outbound transfers from the vault do not need an offer: the vault is
	// the holder and moves the token directly.
	holder, err := state.NFTOwner(collection, tokenID)
	if err != nil {
		return err
	}
	if holder != vaultAddr {
		return ErrNotInCustody
	}
	return state.SetNFTOwner(collection, tokenID, to)
}

func backendFor(kind BackendKind) (custodyBackend, bool) {
	switch kind {
	case BackendStandard:
		return standardBackend{}, true
	case BackendPunk:
		return punkBackend{}, true
	default:
		return nil, false
	}
}
