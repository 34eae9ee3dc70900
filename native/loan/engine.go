package loan

import (
	"errors"
	"math/big"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"

	"nftlend/core/events"
	nativecommon "nftlend/native/common"
	"nftlend/native/pool"
)

var (
	errNilState = errors.New("loan engine: state not configured")

	// ErrLoanNotFound indicates no loan exists under the borrower/id pair.
	ErrLoanNotFound = errors.New("loan engine: loan not found")
	// ErrLoanNotStarted indicates the operation needs a started loan.
	ErrLoanNotStarted = errors.New("loan engine: loan not started")
	// ErrLoanAlreadyStarted indicates the loan already drew funds.
	ErrLoanAlreadyStarted = errors.New("loan engine: loan already started")
	// ErrLoanTerminal indicates the loan already reached a terminal state.
	ErrLoanTerminal = errors.New("loan engine: loan already settled")
	// ErrLoanMatured indicates the repayment window has closed.
	ErrLoanMatured = errors.New("loan engine: maturity passed")
	// ErrLoanNotMatured indicates a default cannot be declared yet.
	ErrLoanNotMatured = errors.New("loan engine: maturity not reached")
	// ErrMaturityInPast indicates the offered maturity is not in the future.
	ErrMaturityInPast = errors.New("loan engine: maturity in the past")
	// ErrAmountMismatch indicates collateral allocations do not sum to the
	// principal.
	ErrAmountMismatch = errors.New("loan engine: collateral amounts do not sum to principal")
	// ErrNotBorrower indicates the caller does not own the loan.
	ErrNotBorrower = errors.New("loan engine: caller is not the borrower")
	// ErrPoolNotConfigured indicates the capital source is missing.
	ErrPoolNotConfigured = errors.New("loan engine: pool not configured")
	// ErrVaultNotConfigured indicates the custody collaborator is missing.
	ErrVaultNotConfigured = errors.New("loan engine: vault not configured")
	// ErrOpenerNotConfigured indicates no liquidation opener is wired.
	ErrOpenerNotConfigured = errors.New("loan engine: liquidation opener not configured")
)

const (
	yearSeconds = 365 * 24 * 60 * 60

	// defaultMinInterestSeconds is the floor on billable elapsed time: a
	// borrower repaying immediately still owes this much accrual.
	defaultMinInterestSeconds int64 = 7 * 24 * 60 * 60
	// defaultAccrualPeriodSeconds is the granularity billable time is
	// rounded up to. Partial periods always settle in the pool's favour.
	defaultAccrualPeriodSeconds int64 = 24 * 60 * 60
)

type engineState interface {
	LoanGet(borrower ethcommon.Address, loanID uint64) (*Loan, bool, error)
	LoanPut(loan *Loan) error
	NextLoanID(borrower ethcommon.Address) (uint64, error)
	OfferNonceUsed(signer ethcommon.Address, nonce uint64) (bool, error)
	MarkOfferNonce(signer ethcommon.Address, nonce uint64) error
	CollectionOutstanding(poolID string, collection ethcommon.Address) (*big.Int, error)
	SetCollectionOutstanding(poolID string, collection ethcommon.Address, amount *big.Int) error
}

// CapitalSource is the funding collaborator, satisfied by the pool engine.
type CapitalSource interface {
	PoolID() string
	GetPool() (*pool.Pool, error)
	CheckLoan(collection ethcommon.Address, amount, collectionOutstanding *big.Int) error
	SendFunds(caller, to ethcommon.Address, amount *big.Int) error
	ReceiveFunds(caller, from ethcommon.Address, amount, rewardsAmount, investedAmount *big.Int, origin string) error
}

// Custodian is the collateral collaborator, satisfied by the vault engine.
type Custodian interface {
	VerifyDeposit(owner, collection ethcommon.Address, tokenID *big.Int) error
	StoreCollateral(caller, owner, collection ethcommon.Address, tokenID *big.Int, asset ethcommon.Address, createDelegation bool) error
	TransferFromLoan(caller, to, collection ethcommon.Address, tokenID *big.Int) error
}

// Defaulted loans hand each collateral to the liquidation module through
// this hook.
type LiquidationOpener interface {
	OpenLiquidation(caller, borrower ethcommon.Address, loanID uint64, collateral Collateral, principal, interestAmount *big.Int, aprBps uint64) error
}

// Engine validates underwritten offers, moves collateral and principal, and
// drives the loan lifecycle.
type Engine struct {
	ownable *nativecommon.Ownable
	state   engineState
	emitter events.Emitter
	nowFn   func() int64

	address ethcommon.Address
	asset   ethcommon.Address
	signer  ethcommon.Address
	domain  Domain

	pool   CapitalSource
	vault  Custodian
	opener LiquidationOpener

	minInterestSeconds   int64
	accrualPeriodSeconds int64
}

// NewEngine constructs a loan engine owned by owner, acting on-ledger as
// address and denominated in asset. Offers must be signed by signer.
func NewEngine(owner, address, asset, signer ethcommon.Address, domain Domain) *Engine {
	return &Engine{
		ownable:              nativecommon.NewOwnable(owner),
		emitter:              events.NoopEmitter{},
		nowFn:                func() int64 { return time.Now().Unix() },
		address:              address,
		asset:                asset,
		signer:               signer,
		domain:               domain,
		minInterestSeconds:   defaultMinInterestSeconds,
		accrualPeriodSeconds: defaultAccrualPeriodSeconds,
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

// SetPool wires the funding collaborator.
func (e *Engine) SetPool(p CapitalSource) { e.pool = p }

// SetVault wires the custody collaborator.
func (e *Engine) SetVault(v Custodian) { e.vault = v }

// SetLiquidationOpener wires the default hand-off hook.
func (e *Engine) SetLiquidationOpener(opener LiquidationOpener) { e.opener = opener }

// SetAccrual overrides the interest accrual parameters. Non-positive values
// keep the current setting.
func (e *Engine) SetAccrual(minInterestSeconds, accrualPeriodSeconds int64) {
	if minInterestSeconds > 0 {
		e.minInterestSeconds = minInterestSeconds
	}
	if accrualPeriodSeconds > 0 {
		e.accrualPeriodSeconds = accrualPeriodSeconds
	}
}

// Ownable exposes the ownership handle for admin wiring.
func (e *Engine) Ownable() *nativecommon.Ownable { return e.ownable }

// Address returns the identity this engine uses with its collaborators.
func (e *Engine) Address() ethcommon.Address { return e.address }

// Reserve validates a signed offer and registers the loan. Collateral and
// principal do not move until Start; the borrower holds a reservation the
// underwriter can no longer repudiate.
func (e *Engine) Reserve(borrower ethcommon.Address, offer *Offer, signature []byte) (*Loan, error) {
	if e.state == nil {
		return nil, errNilState
	}
	if e.pool == nil {
		return nil, ErrPoolNotConfigured
	}
	if e.vault == nil {
		return nil, ErrVaultNotConfigured
	}
	if offer == nil || offer.Amount == nil || offer.Amount.Sign() <= 0 || len(offer.Collaterals) == 0 {
		return nil, ErrOfferMalformed
	}
	if offer.Borrower != borrower {
		return nil, ErrNotBorrower
	}
	now := e.nowFn()
	if offer.Deadline < now {
		return nil, ErrOfferExpired
	}
	if offer.Maturity <= now {
		return nil, ErrMaturityInPast
	}
	if offer.PrincipalTotal().Cmp(offer.Amount) != 0 {
		return nil, ErrAmountMismatch
	}
	if err := offer.Verify(e.domain, e.signer, signature); err != nil {
		return nil, err
	}
	used, err := e.state.OfferNonceUsed(e.signer, offer.Nonce)
	if err != nil {
		return nil, err
	}
	if used {
		return nil, ErrOfferNonceUsed
	}
	p, err := e.pool.GetPool()
	if err != nil {
		return nil, err
	}
	if !p.Active || p.Deprecated {
		return nil, pool.ErrPoolInactive
	}
	if !p.Investing {
		return nil, pool.ErrPoolNotInvesting
	}
	for collection, amount := range collateralTotals(offer.Collaterals) {
		outstanding, err := e.state.CollectionOutstanding(e.pool.PoolID(), collection)
		if err != nil {
			return nil, err
		}
		if err := e.pool.CheckLoan(collection, amount, outstanding); err != nil {
			return nil, err
		}
	}
	// The borrower must already hold and have cleared every collateral for
	// custody; checking here keeps a failed reservation from burning the
	// nonce. Start re-checks when the tokens actually move.
	for _, c := range offer.Collaterals {
		if err := e.vault.VerifyDeposit(borrower, c.Collection, c.TokenID); err != nil {
			return nil, err
		}
	}
	if err := e.state.MarkOfferNonce(e.signer, offer.Nonce); err != nil {
		return nil, err
	}
	loanID, err := e.state.NextLoanID(borrower)
	if err != nil {
		return nil, err
	}
	loan := &Loan{
		Borrower:      borrower,
		LoanID:        loanID,
		Amount:        new(big.Int).Set(offer.Amount),
		InterestBps:   offer.InterestBps,
		Maturity:      offer.Maturity,
		Collaterals:   make([]Collateral, len(offer.Collaterals)),
		PaidPrincipal: big.NewInt(0),
		PaidInterest:  big.NewInt(0),
	}
	for i, c := range offer.Collaterals {
		loan.Collaterals[i] = c.Clone()
	}
	if err := e.state.LoanPut(loan); err != nil {
		return nil, err
	}
	e.emit(NewReservedEvent(loan))
	return loan.Clone(), nil
}

// Start moves the reserved collateral into the vault, draws the principal
// from the pool to the borrower, and activates the loan.
func (e *Engine) Start(borrower ethcommon.Address, loanID uint64, createDelegation bool) error {
	if e.state == nil {
		return errNilState
	}
	if e.pool == nil {
		return ErrPoolNotConfigured
	}
	if e.vault == nil {
		return ErrVaultNotConfigured
	}
	loan, err := e.activeLoan(borrower, loanID)
	if err != nil {
		return err
	}
	if loan.Started {
		return ErrLoanAlreadyStarted
	}
	now := e.nowFn()
	if loan.Maturity <= now {
		return ErrMaturityInPast
	}
	for _, c := range loan.Collaterals {
		if err := e.vault.StoreCollateral(e.address, borrower, c.Collection, c.TokenID, e.asset, createDelegation); err != nil {
			return err
		}
	}
	if err := e.pool.SendFunds(e.address, borrower, loan.Amount); err != nil {
		return err
	}
	for collection, amount := range collateralTotals(loan.Collaterals) {
		if err := e.adjustOutstanding(collection, amount, true); err != nil {
			return err
		}
	}
	loan.Started = true
	loan.StartTime = now
	if err := e.state.LoanPut(loan); err != nil {
		return err
	}
	e.emit(NewStartedEvent(loan))
	return nil
}

// PayableAmount returns the principal plus interest accrued at now,
// together with the interest component.
func (e *Engine) PayableAmount(borrower ethcommon.Address, loanID uint64) (*big.Int, *big.Int, error) {
	if e.state == nil {
		return nil, nil, errNilState
	}
	loan, err := e.activeLoan(borrower, loanID)
	if err != nil {
		return nil, nil, err
	}
	if !loan.Started {
		return nil, nil, ErrLoanNotStarted
	}
	interest := e.accruedInterest(loan, e.nowFn())
	return new(big.Int).Add(loan.Amount, interest), interest, nil
}

// Pay settles the loan in full: principal plus accrued interest flow back to
// the pool and every collateral returns to the borrower.
func (e *Engine) Pay(borrower ethcommon.Address, loanID uint64) error {
	if e.state == nil {
		return errNilState
	}
	if e.pool == nil {
		return ErrPoolNotConfigured
	}
	if e.vault == nil {
		return ErrVaultNotConfigured
	}
	loan, err := e.activeLoan(borrower, loanID)
	if err != nil {
		return err
	}
	if !loan.Started {
		return ErrLoanNotStarted
	}
	now := e.nowFn()
	if now > loan.Maturity {
		return ErrLoanMatured
	}
	interest := e.accruedInterest(loan, now)
	payable := new(big.Int).Add(loan.Amount, interest)
	// The pool debits the payer principal plus rewards; interest goes in
	// the rewards slot only, so the borrower pays exactly payable.
	if err := e.pool.ReceiveFunds(e.address, borrower, loan.Amount, interest, loan.Amount, pool.FundsOriginLoanPayment); err != nil {
		return err
	}
	for _, c := range loan.Collaterals {
		if err := e.vault.TransferFromLoan(e.address, borrower, c.Collection, c.TokenID); err != nil {
			return err
		}
	}
	for collection, amount := range collateralTotals(loan.Collaterals) {
		if err := e.adjustOutstanding(collection, amount, false); err != nil {
			return err
		}
	}
	loan.Paid = true
	loan.PaidPrincipal = new(big.Int).Set(loan.Amount)
	loan.PaidInterest = interest
	if err := e.state.LoanPut(loan); err != nil {
		return err
	}
	e.emit(NewPaidEvent(loan, payable))
	return nil
}

// Cancel abandons a reservation before funds move. Borrower only.
func (e *Engine) Cancel(borrower ethcommon.Address, loanID uint64) error {
	return e.retire(borrower, loanID, func(l *Loan) { l.Canceled = true }, NewCanceledEvent)
}

// Invalidate withdraws a reservation from the underwriting side before funds
// move. Owner only.
func (e *Engine) Invalidate(caller, borrower ethcommon.Address, loanID uint64) error {
	if err := e.ownable.RequireOwner(caller); err != nil {
		return err
	}
	return e.retire(borrower, loanID, func(l *Loan) { l.Invalidated = true }, NewInvalidatedEvent)
}

func (e *Engine) retire(borrower ethcommon.Address, loanID uint64, mark func(*Loan), event func(*Loan) *loanEvent) error {
	if e.state == nil {
		return errNilState
	}
	loan, err := e.activeLoan(borrower, loanID)
	if err != nil {
		return err
	}
	if loan.Started {
		return ErrLoanAlreadyStarted
	}
	mark(loan)
	if err := e.state.LoanPut(loan); err != nil {
		return err
	}
	e.emit(event(loan))
	return nil
}

// SettleDefault declares the loan defaulted after maturity and opens one
// liquidation per collateral. Owner only. Collateral stays in the vault until
// the liquidation module disposes of it.
func (e *Engine) SettleDefault(caller, borrower ethcommon.Address, loanID uint64) error {
	if e.state == nil {
		return errNilState
	}
	if e.opener == nil {
		return ErrOpenerNotConfigured
	}
	if err := e.ownable.RequireOwner(caller); err != nil {
		return err
	}
	loan, err := e.activeLoan(borrower, loanID)
	if err != nil {
		return err
	}
	if !loan.Started {
		return ErrLoanNotStarted
	}
	if e.nowFn() <= loan.Maturity {
		return ErrLoanNotMatured
	}
	fullInterest := fullTermInterest(loan)
	apr := annualizedBps(loan)
	for _, c := range loan.Collaterals {
		interestShare := new(big.Int).Mul(fullInterest, c.Amount)
		if loan.Amount.Sign() > 0 {
			interestShare.Quo(interestShare, loan.Amount)
		}
		if err := e.opener.OpenLiquidation(e.address, borrower, loanID, c.Clone(), new(big.Int).Set(c.Amount), interestShare, apr); err != nil {
			return err
		}
	}
	for collection, amount := range collateralTotals(loan.Collaterals) {
		if err := e.adjustOutstanding(collection, amount, false); err != nil {
			return err
		}
	}
	loan.Defaulted = true
	if err := e.state.LoanPut(loan); err != nil {
		return err
	}
	e.emit(NewDefaultedEvent(loan))
	return nil
}

// GetLoan returns a copy of the stored loan record.
func (e *Engine) GetLoan(borrower ethcommon.Address, loanID uint64) (*Loan, error) {
	if e.state == nil {
		return nil, errNilState
	}
	loan, ok, err := e.state.LoanGet(borrower, loanID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrLoanNotFound
	}
	return loan.Clone(), nil
}

func (e *Engine) activeLoan(borrower ethcommon.Address, loanID uint64) (*Loan, error) {
	loan, ok, err := e.state.LoanGet(borrower, loanID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrLoanNotFound
	}
	if loan.Terminal() {
		return nil, ErrLoanTerminal
	}
	return loan, nil
}

// accruedInterest bills elapsed time with a minimum charge and rounds the
// duration up to the next accrual boundary, capped at the full term.
func (e *Engine) accruedInterest(loan *Loan, now int64) *big.Int {
	duration := loan.Maturity - loan.StartTime
	if duration <= 0 {
		return big.NewInt(0)
	}
	elapsed := now - loan.StartTime
	if elapsed < e.minInterestSeconds {
		elapsed = e.minInterestSeconds
	}
	if period := e.accrualPeriodSeconds; period > 0 {
		elapsed = ((elapsed + period - 1) / period) * period
	}
	if elapsed > duration {
		elapsed = duration
	}
	interest := new(big.Int).Mul(loan.Amount, new(big.Int).SetUint64(loan.InterestBps))
	interest.Mul(interest, big.NewInt(elapsed))
	interest.Quo(interest, basisPoints)
	interest.Quo(interest, big.NewInt(duration))
	return interest
}

// fullTermInterest is the interest owed at maturity.
func fullTermInterest(loan *Loan) *big.Int {
	interest := new(big.Int).Mul(loan.Amount, new(big.Int).SetUint64(loan.InterestBps))
	return interest.Quo(interest, basisPoints)
}

// annualizedBps converts the loan's full-term interest rate into an APR for
// liquidation pricing.
func annualizedBps(loan *Loan) uint64 {
	duration := loan.Maturity - loan.StartTime
	if duration <= 0 {
		return loan.InterestBps
	}
	apr := new(big.Int).SetUint64(loan.InterestBps)
	apr.Mul(apr, big.NewInt(yearSeconds))
	apr.Quo(apr, big.NewInt(duration))
	return apr.Uint64()
}

var basisPoints = big.NewInt(10_000)

func collateralTotals(collaterals []Collateral) map[ethcommon.Address]*big.Int {
	totals := make(map[ethcommon.Address]*big.Int)
	for _, c := range collaterals {
		if c.Amount == nil {
			continue
		}
		if existing, ok := totals[c.Collection]; ok {
			existing.Add(existing, c.Amount)
			continue
		}
		totals[c.Collection] = new(big.Int).Set(c.Amount)
	}
	return totals
}

func (e *Engine) adjustOutstanding(collection ethcommon.Address, amount *big.Int, add bool) error {
	outstanding, err := e.state.CollectionOutstanding(e.pool.PoolID(), collection)
	if err != nil {
		return err
	}
	if outstanding == nil {
		outstanding = big.NewInt(0)
	}
	next := new(big.Int).Set(outstanding)
	if add {
		next.Add(next, amount)
	} else {
		next.Sub(next, amount)
		if next.Sign() < 0 {
			next.SetInt64(0)
		}
	}
	return e.state.SetCollectionOutstanding(e.pool.PoolID(), collection, next)
}

func (e *Engine) emit(evt *loanEvent) {
	if e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(evt)
}
