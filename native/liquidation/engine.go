package liquidation

import (
	"errors"
	"math/big"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"

	"nftlend/core/events"
	nativecommon "nftlend/native/common"
	"nftlend/native/loan"
	"nftlend/native/pool"
	"nftlend/native/vault"
)

var (
	errNilState = errors.New("liquidation engine: state not configured")

	// ErrNotAuthorized indicates the caller is not an authorized controller.
	ErrNotAuthorized = errors.New("liquidation engine: caller not authorized")
	// ErrNotFound indicates no liquidation exists under the identifier.
	ErrNotFound = errors.New("liquidation engine: liquidation not found")
	// ErrAlreadyLiquidated indicates the collateral was already disposed of.
	ErrAlreadyLiquidated = errors.New("liquidation engine: already liquidated")
	// ErrTokenInLiquidation indicates the collateral already has a live
	// liquidation open.
	ErrTokenInLiquidation = errors.New("liquidation engine: token already in liquidation")
	// ErrGracePeriodOver indicates the borrower buy-back window has closed.
	ErrGracePeriodOver = errors.New("liquidation engine: grace period over")
	// ErrLenderPeriodNotReached indicates the lender window has not opened.
	ErrLenderPeriodNotReached = errors.New("liquidation engine: lender period not reached")
	// ErrLenderPeriodOver indicates the lender window has closed.
	ErrLenderPeriodOver = errors.New("liquidation engine: lender period over")
	// ErrBackstopNotReached indicates the backstop phase has not opened.
	ErrBackstopNotReached = errors.New("liquidation engine: backstop period not reached")
	// ErrNotBorrower indicates the caller does not own the defaulted loan.
	ErrNotBorrower = errors.New("liquidation engine: caller is not the borrower")
	// ErrNotActiveLender indicates the caller holds no active pool shares.
	ErrNotActiveLender = errors.New("liquidation engine: caller is not an active lender")
	// ErrNoLiveLiquidations indicates the loan has nothing left to buy back.
	ErrNoLiveLiquidations = errors.New("liquidation engine: no live liquidations for loan")
	// ErrMarketplaceNotConfigured indicates no NFTX-style venue is wired.
	ErrMarketplaceNotConfigured = errors.New("liquidation engine: marketplace not configured")
	// ErrCustodyStillHeld indicates the vault still holds the token, so the
	// admin resolution path does not apply.
	ErrCustodyStillHeld = errors.New("liquidation engine: collateral still in custody")
	// ErrCustodyRecordMissing indicates the vault has no record for the token.
	ErrCustodyRecordMissing = errors.New("liquidation engine: custody record missing")
	// ErrInvalidProceeds indicates a non-positive settlement amount.
	ErrInvalidProceeds = errors.New("liquidation engine: invalid proceeds")
)

const (
	yearSeconds = 365 * 24 * 60 * 60

	defaultGracePeriodSeconds  int64 = 17 * 24 * 60 * 60
	defaultLenderPeriodSeconds int64 = 15 * 24 * 60 * 60
)

type engineState interface {
	LiquidationGet(lid string) (*Liquidation, bool, error)
	LiquidationPut(l *Liquidation) error
	LoanLiquidations(borrower ethcommon.Address, loanID uint64) ([]string, error)
	AppendLoanLiquidation(borrower ethcommon.Address, loanID uint64, lid string) error
	TokenLiquidation(collection ethcommon.Address, tokenID *big.Int) (string, bool, error)
	SetTokenLiquidation(collection ethcommon.Address, tokenID *big.Int, lid string) error
	ClearTokenLiquidation(collection ethcommon.Address, tokenID *big.Int) error
}

// CapitalSource is the settlement sink, satisfied by the pool engine.
type CapitalSource interface {
	ReceiveFunds(caller, from ethcommon.Address, amount, rewardsAmount, investedAmount *big.Int, origin string) error
	IsActiveLender(addr ethcommon.Address) (bool, error)
}

// Custodian is the collateral collaborator, satisfied by the vault engine.
type Custodian interface {
	TransferFromLiquidation(caller, to, collection ethcommon.Address, tokenID *big.Int) error
	CustodyStatus(collection ethcommon.Address, tokenID *big.Int) (*vault.Custody, bool, error)
	ReleaseCustodyRecord(caller, collection ethcommon.Address, tokenID *big.Int) error
}

// Marketplace is an automated backstop venue in the NFTX mould: it takes the
// token and returns the sale proceeds.
type Marketplace interface {
	Address() ethcommon.Address
	Sell(collection ethcommon.Address, tokenID *big.Int) (*big.Int, error)
}

// Engine drives defaulted collateral through the grace, lender and backstop
// phases until disposal.
type Engine struct {
	ownable *nativecommon.Ownable
	state   engineState
	emitter events.Emitter
	nowFn   func() int64

	address ethcommon.Address

	pool        CapitalSource
	vault       Custodian
	marketplace Marketplace

	// loanControllers may open liquidations; claimControllers may settle
	// through the OTC claim path.
	loanControllers  map[ethcommon.Address]bool
	claimControllers map[ethcommon.Address]bool

	gracePeriodSeconds  int64
	lenderPeriodSeconds int64
}

// NewEngine constructs a liquidation engine owned by owner, acting on-ledger
// as address.
func NewEngine(owner, address ethcommon.Address) *Engine {
	return &Engine{
		ownable:             nativecommon.NewOwnable(owner),
		emitter:             events.NoopEmitter{},
		nowFn:               func() int64 { return time.Now().Unix() },
		address:             address,
		loanControllers:     make(map[ethcommon.Address]bool),
		claimControllers:    make(map[ethcommon.Address]bool),
		gracePeriodSeconds:  defaultGracePeriodSeconds,
		lenderPeriodSeconds: defaultLenderPeriodSeconds,
	}
}

// SetState wires the persistence backend.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetEmitter wires the event sink. A nil emitter resets to the no-op sink.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the engine clock.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetPool wires the settlement sink.
func (e *Engine) SetPool(p CapitalSource) { e.pool = p }

// SetVault wires the custody collaborator.
func (e *Engine) SetVault(v Custodian) { e.vault = v }

// SetMarketplace wires the automated backstop venue.
func (e *Engine) SetMarketplace(m Marketplace) { e.marketplace = m }

// SetPeriods overrides the phase durations. Non-positive values keep the
// current setting.
func (e *Engine) SetPeriods(graceSeconds, lenderSeconds int64) {
	if graceSeconds > 0 {
		e.gracePeriodSeconds = graceSeconds
	}
	if lenderSeconds > 0 {
		e.lenderPeriodSeconds = lenderSeconds
	}
}

// Ownable exposes the ownership handle for admin wiring.
func (e *Engine) Ownable() *nativecommon.Ownable { return e.ownable }

// Address returns the identity this engine uses with its collaborators.
func (e *Engine) Address() ethcommon.Address { return e.address }

// AuthorizeLoanController grants open rights to a loan engine address.
func (e *Engine) AuthorizeLoanController(caller, controller ethcommon.Address) error {
	if err := e.ownable.RequireOwner(caller); err != nil {
		return err
	}
	e.loanControllers[controller] = true
	return nil
}

// AuthorizeClaimController grants OTC claim rights to an escrow instance.
func (e *Engine) AuthorizeClaimController(caller, controller ethcommon.Address) error {
	if err := e.ownable.RequireOwner(caller); err != nil {
		return err
	}
	e.claimControllers[controller] = true
	return nil
}

// OpenLiquidation registers a liquidation for one defaulted collateral. It
// satisfies the loan engine's opener hook. Prices for every phase are fixed
// here so they never move under a bidder.
func (e *Engine) OpenLiquidation(caller, borrower ethcommon.Address, loanID uint64, collateral loan.Collateral, principal, interestAmount *big.Int, aprBps uint64) error {
	if e.state == nil {
		return errNilState
	}
	if !e.loanControllers[caller] {
		return ErrNotAuthorized
	}
	if _, live, err := e.state.TokenLiquidation(collateral.Collection, collateral.TokenID); err != nil {
		return err
	} else if live {
		return ErrTokenInLiquidation
	}
	now := e.nowFn()
	base := new(big.Int).Add(principal, interestAmount)
	l := &Liquidation{
		LID:                  ComputeLID(collateral.Collection, collateral.TokenID, now),
		Borrower:             borrower,
		LoanID:               loanID,
		Collection:           collateral.Collection,
		TokenID:              new(big.Int).Set(collateral.TokenID),
		Principal:            new(big.Int).Set(principal),
		InterestAmount:       new(big.Int).Set(interestAmount),
		APRBps:               aprBps,
		StartTime:            now,
		GracePeriodMaturity:  now + e.gracePeriodSeconds,
		LenderPeriodMaturity: now + e.gracePeriodSeconds + e.lenderPeriodSeconds,
		GracePeriodPrice:     new(big.Int).Add(base, penalty(principal, aprBps, e.gracePeriodSeconds)),
		LenderPeriodPrice:    new(big.Int).Add(base, penalty(principal, aprBps, e.gracePeriodSeconds+e.lenderPeriodSeconds)),
	}
	if err := e.state.LiquidationPut(l); err != nil {
		return err
	}
	if err := e.state.AppendLoanLiquidation(borrower, loanID, l.LID); err != nil {
		return err
	}
	if err := e.state.SetTokenLiquidation(l.Collection, l.TokenID, l.LID); err != nil {
		return err
	}
	e.emit(NewOpenedEvent(l))
	return nil
}

// penalty is the time-scaled surcharge on top of principal and interest:
// principal x apr, pro-rated over periodSeconds of a 365-day year.
func penalty(principal *big.Int, aprBps uint64, periodSeconds int64) *big.Int {
	p := new(big.Int).Mul(principal, new(big.Int).SetUint64(aprBps))
	p.Mul(p, big.NewInt(periodSeconds))
	p.Quo(p, big.NewInt(yearSeconds))
	p.Quo(p, basisPoints)
	return p
}

var basisPoints = big.NewInt(10_000)

// BuyBack lets the borrower redeem every live liquidation of a defaulted
// loan inside the grace period. The redemption is all-or-nothing: one expired
// window fails the whole call before any funds move.
func (e *Engine) BuyBack(caller, borrower ethcommon.Address, loanID uint64) error {
	if e.state == nil {
		return errNilState
	}
	if err := e.requireWired(); err != nil {
		return err
	}
	if caller != borrower {
		return ErrNotBorrower
	}
	lids, err := e.state.LoanLiquidations(borrower, loanID)
	if err != nil {
		return err
	}
	now := e.nowFn()
	live := make([]*Liquidation, 0, len(lids))
	for _, lid := range lids {
		l, ok, err := e.state.LiquidationGet(lid)
		if err != nil {
			return err
		}
		if !ok || l.Settled {
			continue
		}
		if now > l.GracePeriodMaturity {
			return ErrGracePeriodOver
		}
		live = append(live, l)
	}
	if len(live) == 0 {
		return ErrNoLiveLiquidations
	}
	for _, l := range live {
		if err := e.settle(l, MethodGracePeriod, borrower, l.GracePeriodPrice, borrower, pool.FundsOriginGracePeriod); err != nil {
			return err
		}
	}
	return nil
}

// LenderPurchase sells one liquidation to an active pool lender during the
// lender period at the fixed lender-period price.
func (e *Engine) LenderPurchase(caller ethcommon.Address, lid string) error {
	if e.state == nil {
		return errNilState
	}
	if err := e.requireWired(); err != nil {
		return err
	}
	l, err := e.liveLiquidation(lid)
	if err != nil {
		return err
	}
	now := e.nowFn()
	if now <= l.GracePeriodMaturity {
		return ErrLenderPeriodNotReached
	}
	if now > l.LenderPeriodMaturity {
		return ErrLenderPeriodOver
	}
	active, err := e.pool.IsActiveLender(caller)
	if err != nil {
		return err
	}
	if !active {
		return ErrNotActiveLender
	}
	return e.settle(l, MethodLenderPeriod, caller, l.LenderPeriodPrice, caller, pool.FundsOriginLenderPeriod)
}

// OTCClaim settles one liquidation through a designated-lender escrow at the
// lender-period price. Claim controllers only.
func (e *Engine) OTCClaim(caller, claimer ethcommon.Address, lid string) error {
	if e.state == nil {
		return errNilState
	}
	if err := e.requireWired(); err != nil {
		return err
	}
	if !e.claimControllers[caller] {
		return ErrNotAuthorized
	}
	l, err := e.liveLiquidation(lid)
	if err != nil {
		return err
	}
	now := e.nowFn()
	if now <= l.GracePeriodMaturity {
		return ErrLenderPeriodNotReached
	}
	if now > l.LenderPeriodMaturity {
		return ErrLenderPeriodOver
	}
	return e.settle(l, MethodOTCClaim, claimer, l.LenderPeriodPrice, claimer, pool.FundsOriginOTCClaim)
}

// MarketplaceSell consigns one liquidation to the automated backstop venue
// after the lender period and settles with whatever it fetches. Owner only.
func (e *Engine) MarketplaceSell(caller ethcommon.Address, lid string) error {
	if e.state == nil {
		return errNilState
	}
	if err := e.requireWired(); err != nil {
		return err
	}
	if e.marketplace == nil {
		return ErrMarketplaceNotConfigured
	}
	if err := e.ownable.RequireOwner(caller); err != nil {
		return err
	}
	l, err := e.liveLiquidation(lid)
	if err != nil {
		return err
	}
	if e.nowFn() <= l.LenderPeriodMaturity {
		return ErrBackstopNotReached
	}
	proceeds, err := e.marketplace.Sell(l.Collection, l.TokenID)
	if err != nil {
		return err
	}
	if proceeds == nil || proceeds.Sign() <= 0 {
		return ErrInvalidProceeds
	}
	venue := e.marketplace.Address()
	return e.settle(l, MethodBackstopNFTX, venue, proceeds, venue, pool.FundsOriginNFTX)
}

// AdminResolve settles a liquidation whose collateral already left the vault
// through an admin withdrawal, booking the off-ledger sale proceeds. Owner
// only. The custody record must still exist and be marked withdrawn; it is
// released once the settlement is booked.
func (e *Engine) AdminResolve(caller ethcommon.Address, lid string, proceeds *big.Int) error {
	if e.state == nil {
		return errNilState
	}
	if err := e.requireWired(); err != nil {
		return err
	}
	if err := e.ownable.RequireOwner(caller); err != nil {
		return err
	}
	if proceeds == nil || proceeds.Sign() <= 0 {
		return ErrInvalidProceeds
	}
	l, err := e.liveLiquidation(lid)
	if err != nil {
		return err
	}
	if e.nowFn() <= l.LenderPeriodMaturity {
		return ErrBackstopNotReached
	}
	custody, ok, err := e.vault.CustodyStatus(l.Collection, l.TokenID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrCustodyRecordMissing
	}
	if !custody.AdminWithdrawn {
		return ErrCustodyStillHeld
	}
	if err := e.settleRecord(l, MethodBackstopAdmin, caller, proceeds, pool.FundsOriginAdminLiquidation); err != nil {
		return err
	}
	return e.vault.ReleaseCustodyRecord(e.address, l.Collection, l.TokenID)
}

// GetLiquidation returns a copy of the stored record.
func (e *Engine) GetLiquidation(lid string) (*Liquidation, error) {
	if e.state == nil {
		return nil, errNilState
	}
	l, ok, err := e.state.LiquidationGet(lid)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	return l.Clone(), nil
}

// LoanLiquidations returns the identifiers opened for a defaulted loan.
func (e *Engine) LoanLiquidations(borrower ethcommon.Address, loanID uint64) ([]string, error) {
	if e.state == nil {
		return nil, errNilState
	}
	return e.state.LoanLiquidations(borrower, loanID)
}

func (e *Engine) requireWired() error {
	if e.pool == nil {
		return errors.New("liquidation engine: pool not configured")
	}
	if e.vault == nil {
		return errors.New("liquidation engine: vault not configured")
	}
	return nil
}

func (e *Engine) liveLiquidation(lid string) (*Liquidation, error) {
	l, ok, err := e.state.LiquidationGet(lid)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	if l.Settled {
		return nil, ErrAlreadyLiquidated
	}
	return l, nil
}

// settle books the proceeds into the pool, hands the token to its new owner
// and retires the record.
func (e *Engine) settle(l *Liquidation, method string, buyer ethcommon.Address, amount *big.Int, tokenTo ethcommon.Address, origin string) error {
	if err := e.settleRecord(l, method, buyer, amount, origin); err != nil {
		return err
	}
	return e.vault.TransferFromLiquidation(e.address, tokenTo, l.Collection, l.TokenID)
}

// settleRecord books the proceeds and retires the record without moving the
// token; the admin path uses it when the vault no longer holds the asset.
func (e *Engine) settleRecord(l *Liquidation, method string, buyer ethcommon.Address, amount *big.Int, origin string) error {
	if l.Settled {
		return ErrAlreadyLiquidated
	}
	// The pool debits the buyer principal plus rewards, so the split must
	// sum to the realized amount. A shortfall books as principal only; the
	// pool absorbs the loss through the invested write-down.
	principalPart := new(big.Int).Set(l.Principal)
	rewards := big.NewInt(0)
	if amount.Cmp(l.Principal) < 0 {
		principalPart.Set(amount)
	} else {
		rewards.Sub(amount, l.Principal)
	}
	if err := e.pool.ReceiveFunds(e.address, buyer, principalPart, rewards, l.Principal, origin); err != nil {
		return err
	}
	l.Settled = true
	l.SettledAt = e.nowFn()
	l.Method = method
	l.Buyer = buyer
	l.Proceeds = new(big.Int).Set(amount)
	if err := e.state.LiquidationPut(l); err != nil {
		return err
	}
	if err := e.state.ClearTokenLiquidation(l.Collection, l.TokenID); err != nil {
		return err
	}
	e.emit(NewSettledEvent(l))
	return nil
}

func (e *Engine) emit(evt *liquidationEvent) {
	if e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(evt)
}
