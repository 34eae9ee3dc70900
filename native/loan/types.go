package loan

import (
	"math/big"

	ethcommon "github.com/ethereum/go-ethereum/common"
)

// Collateral is one pledged token and the slice of principal allocated to it.
type Collateral struct {
	Collection ethcommon.Address `json:"collection"`
	TokenID    *big.Int          `json:"tokenId"`
	Amount     *big.Int          `json:"amount"`
}

// Clone returns a deep copy of the collateral entry.
func (c Collateral) Clone() Collateral {
	out := c
	if c.TokenID != nil {
		out.TokenID = new(big.Int).Set(c.TokenID)
	}
	if c.Amount != nil {
		out.Amount = new(big.Int).Set(c.Amount)
	}
	return out
}

// Loan records the terms and lifecycle state of one loan. Records are never
// deleted; terminal flags preserve the audit trail.
type Loan struct {
	// Borrower and LoanID together identify the loan; LoanID is a
	// per-borrower sequence.
	Borrower ethcommon.Address
	LoanID   uint64
	// Amount is the principal.
	Amount *big.Int
	// InterestBps is the interest for the full loan term, in basis points.
	InterestBps uint64
	// Maturity is the unix timestamp the loan must be repaid by.
	Maturity int64
	// StartTime is when funds were drawn; zero while only reserved.
	StartTime int64
	// Collaterals is the ordered list of pledged tokens. The allocated
	// amounts sum to Amount.
	Collaterals []Collateral
	// PaidPrincipal and PaidInterest record the settled amounts.
	PaidPrincipal *big.Int
	PaidInterest  *big.Int
	// Lifecycle flags. Started is set when funds move and never reset; at
	// most one of Paid, Defaulted, Canceled, Invalidated becomes true.
	Started     bool
	Invalidated bool
	Paid        bool
	Defaulted   bool
	Canceled    bool
}

// Terminal reports whether the loan has left the active state.
func (l *Loan) Terminal() bool {
	if l == nil {
		return false
	}
	return l.Paid || l.Defaulted || l.Canceled || l.Invalidated
}

// Clone returns a deep copy of the loan record.
func (l *Loan) Clone() *Loan {
	if l == nil {
		return nil
	}
	out := *l
	if l.Amount != nil {
		out.Amount = new(big.Int).Set(l.Amount)
	}
	if l.PaidPrincipal != nil {
		out.PaidPrincipal = new(big.Int).Set(l.PaidPrincipal)
	}
	if l.PaidInterest != nil {
		out.PaidInterest = new(big.Int).Set(l.PaidInterest)
	}
	out.Collaterals = make([]Collateral, len(l.Collaterals))
	for i, c := range l.Collaterals {
		out.Collaterals[i] = c.Clone()
	}
	return &out
}
