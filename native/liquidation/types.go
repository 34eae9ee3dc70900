package liquidation

import (
	"encoding/binary"
	"math/big"

	ethcommon "github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Settlement methods. The method records which phase and path disposed of
// the collateral.
const (
	MethodGracePeriod   = "GRACE_PERIOD"
	MethodLenderPeriod  = "LENDER_PERIOD"
	MethodOTCClaim      = "OTC_CLAIM"
	MethodBackstopNFTX  = "BACKSTOP_PERIOD_NFTX"
	MethodBackstopAdmin = "BACKSTOP_PERIOD_ADMIN"
)

// Liquidation tracks one defaulted collateral from open to disposal.
type Liquidation struct {
	// LID is the keccak of collection, token and start time.
	LID      string
	Borrower ethcommon.Address
	LoanID   uint64

	Collection ethcommon.Address
	TokenID    *big.Int

	// Principal and InterestAmount are this collateral's share of the
	// defaulted loan. APRBps is the loan's annualized rate, used for the
	// penalty component of the phase prices.
	Principal      *big.Int
	InterestAmount *big.Int
	APRBps         uint64

	StartTime            int64
	GracePeriodMaturity  int64
	LenderPeriodMaturity int64

	// Phase prices are fixed at open so every bidder sees the same number.
	GracePeriodPrice  *big.Int
	LenderPeriodPrice *big.Int

	// Settlement record. Settled liquidations are kept for audit.
	Settled   bool
	SettledAt int64
	Method    string
	Buyer     ethcommon.Address
	Proceeds  *big.Int
}

// Clone returns a deep copy of the liquidation record.
func (l *Liquidation) Clone() *Liquidation {
	if l == nil {
		return nil
	}
	out := *l
	out.TokenID = cloneBig(l.TokenID)
	out.Principal = cloneBig(l.Principal)
	out.InterestAmount = cloneBig(l.InterestAmount)
	out.GracePeriodPrice = cloneBig(l.GracePeriodPrice)
	out.LenderPeriodPrice = cloneBig(l.LenderPeriodPrice)
	out.Proceeds = cloneBig(l.Proceeds)
	return &out
}

func cloneBig(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}

// ComputeLID derives the liquidation identifier from the collateral and the
// moment the liquidation opened.
func ComputeLID(collection ethcommon.Address, tokenID *big.Int, startTime int64) string {
	ts := make([]byte, 8)
	binary.BigEndian.PutUint64(ts, uint64(startTime))
	digest := ethcrypto.Keccak256(
		collection.Bytes(),
		ethcommon.LeftPadBytes(tokenID.Bytes(), 32),
		ts,
	)
	return ethcommon.BytesToHash(digest).Hex()
}
