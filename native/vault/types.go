package vault

import (
	"math/big"

	ethcommon "github.com/ethereum/go-ethereum/common"
)

// BackendKind selects the custody mechanics used for a collection.
type BackendKind uint8

const (
	// BackendStandard custodies tokens through the usual approve +
	// transfer-from flow.
	BackendStandard BackendKind = iota + 1
	// BackendPunk custodies tokens through inbound offer-to-address sales,
	// for collections whose transfer interface predates the standard one.
	BackendPunk
)

// Custody records a collateral item held by the vault.
type Custody struct {
	// Collection is the NFT contract holding the token.
	Collection ethcommon.Address
	// TokenID identifies the token within the collection.
	TokenID *big.Int
	// Owner is the borrower the token will be returned to on repayment.
	Owner ethcommon.Address
	// Asset is the fungible asset of the pool the collateral backs.
	Asset ethcommon.Address
	// Delegated records whether a delegation was requested at store time.
	Delegated bool
	// StoredAt is the unix timestamp the token entered custody.
	StoredAt int64
	// AdminWithdrawn marks that the owner pulled the token out of custody
	// for manual liquidation resolution. The marker is irreversible.
	AdminWithdrawn bool
}

// Clone returns a deep copy of the custody record.
func (c *Custody) Clone() *Custody {
	if c == nil {
		return nil
	}
	out := *c
	if c.TokenID != nil {
		out.TokenID = new(big.Int).Set(c.TokenID)
	}
	return &out
}
