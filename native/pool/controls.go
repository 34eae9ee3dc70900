package pool

import (
	"errors"
	"math/big"

	ethcommon "github.com/ethereum/go-ethereum/common"
)

var (
	// ErrMaxPoolShare indicates a deposit would push the lender past the
	// configured share of the pool.
	ErrMaxPoolShare = errors.New("liquidity controls: deposit exceeds max pool share")
	// ErrLockPeriod indicates a withdrawal inside the lock window.
	ErrLockPeriod = errors.New("liquidity controls: lock period not elapsed")
	// ErrMaxLoansPoolShare indicates a loan draw would exceed the allowed
	// invested share of the pool.
	ErrMaxLoansPoolShare = errors.New("liquidity controls: loan exceeds max pool share")
	// ErrCollectionBorrowLimit indicates a collection's outstanding borrowed
	// amount would exceed its configured cap.
	ErrCollectionBorrowLimit = errors.New("liquidity controls: collection borrowable amount exceeded")
)

// LiquidityControls is the pluggable policy collaborator consulted on the
// deposit, withdraw and loan-reservation paths. The engines trust its verdict.
type LiquidityControls interface {
	CheckDeposit(pool *Pool, lender *Lender, amount *big.Int) error
	CheckWithdraw(pool *Pool, lender *Lender, now int64) error
	CheckLoan(pool *Pool, collection ethcommon.Address, amount, collectionOutstanding *big.Int) error
}

// NoControls accepts everything. It is the default when no policy is wired.
type NoControls struct{}

func (NoControls) CheckDeposit(*Pool, *Lender, *big.Int) error { return nil }
func (NoControls) CheckWithdraw(*Pool, *Lender, int64) error   { return nil }
func (NoControls) CheckLoan(*Pool, ethcommon.Address, *big.Int, *big.Int) error {
	return nil
}

// Controls is the standard policy implementation.
type Controls struct {
	// MaxPoolShareBps caps a single lender's post-deposit share of total
	// deposited capital. Zero disables the check.
	MaxPoolShareBps uint64
	// LockPeriodSeconds blocks withdrawal until this long after the lender's
	// first deposit. Zero disables the check.
	LockPeriodSeconds int64
	// MaxLoansPoolShareBps caps invested funds relative to total pool value
	// after a loan draw. Zero disables the check.
	MaxLoansPoolShareBps uint64
	// MaxCollectionBorrowable caps the outstanding principal borrowed
	// against a single collection. Empty map disables the check.
	MaxCollectionBorrowable map[ethcommon.Address]*big.Int
}

var basisPoints = big.NewInt(10_000)

func (c *Controls) CheckDeposit(p *Pool, lender *Lender, amount *big.Int) error {
	if c == nil || c.MaxPoolShareBps == 0 || p == nil || amount == nil {
		return nil
	}
	current := big.NewInt(0)
	if lender != nil && lender.CurrentDeposited != nil {
		current = lender.CurrentDeposited
	}
	lenderAfter := new(big.Int).Add(current, amount)
	poolAfter := new(big.Int).Add(p.TotalSharesBps, amount)
	if poolAfter.Sign() == 0 {
		return nil
	}
	share := new(big.Int).Mul(lenderAfter, basisPoints)
	share.Quo(share, poolAfter)
	if share.Cmp(new(big.Int).SetUint64(c.MaxPoolShareBps)) > 0 {
		return ErrMaxPoolShare
	}
	return nil
}

func (c *Controls) CheckWithdraw(p *Pool, lender *Lender, now int64) error {
	if c == nil || c.LockPeriodSeconds == 0 || lender == nil {
		return nil
	}
	if lender.FirstDepositAt > 0 && now < lender.FirstDepositAt+c.LockPeriodSeconds {
		return ErrLockPeriod
	}
	return nil
}

func (c *Controls) CheckLoan(p *Pool, collection ethcommon.Address, amount, collectionOutstanding *big.Int) error {
	if c == nil || p == nil || amount == nil {
		return nil
	}
	if c.MaxLoansPoolShareBps > 0 {
		investedAfter := new(big.Int).Add(p.FundsInvested, amount)
		total := new(big.Int).Add(p.FundsAvailable, p.FundsInvested)
		if total.Sign() > 0 {
			share := new(big.Int).Mul(investedAfter, basisPoints)
			share.Quo(share, total)
			if share.Cmp(new(big.Int).SetUint64(c.MaxLoansPoolShareBps)) > 0 {
				return ErrMaxLoansPoolShare
			}
		}
	}
	if limit, ok := c.MaxCollectionBorrowable[collection]; ok && limit != nil {
		outstanding := big.NewInt(0)
		if collectionOutstanding != nil {
			outstanding = collectionOutstanding
		}
		after := new(big.Int).Add(outstanding, amount)
		if after.Cmp(limit) > 0 {
			return ErrCollectionBorrowLimit
		}
	}
	return nil
}
