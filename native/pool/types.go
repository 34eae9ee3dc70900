package pool

import (
	"math/big"

	ethcommon "github.com/ethereum/go-ethereum/common"
)

// Pool captures the global accounting state for one lending pool. Amount
// values are denominated in the pool asset's smallest unit.
type Pool struct {
	// ID is the logical pool identifier operations run against.
	ID string
	// Asset is the fungible asset the pool lends out.
	Asset ethcommon.Address
	// ProtocolWallet receives the protocol's share of rewards.
	ProtocolWallet ethcommon.Address
	// ProtocolFeeBps is the protocol's share of rewards in basis points.
	ProtocolFeeBps uint64
	// MaxCapitalEfficiencyBps caps invested funds relative to total pool
	// value, in basis points.
	MaxCapitalEfficiencyBps uint64
	// FundsAvailable is the liquid capital ready for loans or withdrawals.
	FundsAvailable *big.Int
	// FundsInvested is the capital currently drawn into active loans.
	FundsInvested *big.Int
	// TotalRewards is the cumulative pool share of rewards received.
	TotalRewards *big.Int
	// TotalFundsInvested is the cumulative capital ever drawn into loans.
	TotalFundsInvested *big.Int
	// TotalSharesBps is the sum of all active lenders' shares and the
	// denominator for pro-rata distribution.
	TotalSharesBps *big.Int
	// ActiveLenders counts lenders currently active for rewards.
	ActiveLenders uint64
	// Active gates deposits and loans.
	Active bool
	// Deprecated is terminal: it blocks deposits and loans but permits
	// withdrawal.
	Deprecated bool
	// Investing gates new loan draw-downs.
	Investing bool
	// WhitelistEnabled restricts deposits to whitelisted addresses.
	WhitelistEnabled bool
}

// Lender maintains the funds record for an individual depositor.
type Lender struct {
	// Address is the depositor's account.
	Address ethcommon.Address
	// CurrentDeposited is the lender's live claim basis on the pool.
	CurrentDeposited *big.Int
	// TotalDeposited accumulates every deposit ever made.
	TotalDeposited *big.Int
	// TotalWithdrawn accumulates every withdrawal ever made.
	TotalWithdrawn *big.Int
	// SharesBps is the pro-rata ownership unit, set to CurrentDeposited on
	// every deposit or withdraw mutation.
	SharesBps *big.Int
	// ActiveForRewards marks the lender's shares as part of the pro-rata
	// denominator. Cleared on full withdrawal; restored on re-deposit.
	ActiveForRewards bool
	// FirstDepositAt records when the lender first entered the pool.
	FirstDepositAt int64
}

// Clone returns a deep copy of the lender record.
func (l *Lender) Clone() *Lender {
	if l == nil {
		return nil
	}
	out := *l
	out.CurrentDeposited = cloneBig(l.CurrentDeposited)
	out.TotalDeposited = cloneBig(l.TotalDeposited)
	out.TotalWithdrawn = cloneBig(l.TotalWithdrawn)
	out.SharesBps = cloneBig(l.SharesBps)
	return &out
}

// Clone returns a deep copy of the pool record.
func (p *Pool) Clone() *Pool {
	if p == nil {
		return nil
	}
	out := *p
	out.FundsAvailable = cloneBig(p.FundsAvailable)
	out.FundsInvested = cloneBig(p.FundsInvested)
	out.TotalRewards = cloneBig(p.TotalRewards)
	out.TotalFundsInvested = cloneBig(p.TotalFundsInvested)
	out.TotalSharesBps = cloneBig(p.TotalSharesBps)
	return &out
}

func cloneBig(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

// FundsOrigin tags where settled funds came from so downstream accounting can
// distinguish repayments from liquidation proceeds.
const (
	FundsOriginLoanPayment      = "loan_payment"
	FundsOriginGracePeriod      = "liquidation_grace_period"
	FundsOriginLenderPeriod     = "liquidation_lender_period"
	FundsOriginNFTX             = "liquidation_nftx"
	FundsOriginAdminLiquidation = "admin_liquidation"
	FundsOriginOTCClaim         = "liquidation_otc_claim"
)
