package pool

import (
	"errors"
	"math/big"
	"strings"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"

	"nftlend/core/events"
	"nftlend/core/types"
	nativecommon "nftlend/native/common"
)

var (
	errNilState = errors.New("pool engine: state not configured")
	// ErrPoolNotFound indicates the configured pool id has no record.
	ErrPoolNotFound = errors.New("pool engine: pool not found")
	// ErrPoolExists indicates a pool id is already taken.
	ErrPoolExists = errors.New("pool engine: pool already exists")
	// ErrPoolNotConfigured indicates no pool id was set on the engine.
	ErrPoolNotConfigured = errors.New("pool engine: pool identifier not configured")
	// ErrPoolInactive indicates the pool is not accepting the operation.
	ErrPoolInactive = errors.New("pool engine: pool not active")
	// ErrPoolDeprecated indicates the pool was deprecated.
	ErrPoolDeprecated = errors.New("pool engine: pool deprecated")
	// ErrPoolNotInvesting indicates loan draw-downs are disabled.
	ErrPoolNotInvesting = errors.New("pool engine: pool not investing")
	// ErrInvalidAmount indicates a zero or negative amount.
	ErrInvalidAmount = errors.New("pool engine: amount must be positive")
	// ErrNotWhitelisted indicates the depositor is not on the whitelist.
	ErrNotWhitelisted = errors.New("pool engine: depositor not whitelisted")
	// ErrUnknownLender indicates the address has no funds record.
	ErrUnknownLender = errors.New("pool engine: unknown lender")
	// ErrExceedsWithdrawable indicates a withdrawal above the lender's claim.
	ErrExceedsWithdrawable = errors.New("pool engine: amount exceeds withdrawable")
	// ErrInsufficientLiquidity indicates the pool lacks liquid funds.
	ErrInsufficientLiquidity = errors.New("pool engine: insufficient liquidity")
	// ErrInsufficientBalance indicates the payer lacks asset balance.
	ErrInsufficientBalance = errors.New("pool engine: insufficient balance")
	// ErrCapitalEfficiency indicates a draw would breach the efficiency cap.
	ErrCapitalEfficiency = errors.New("pool engine: capital efficiency limit exceeded")
	// ErrNotAuthorized indicates the caller is not a registered controller.
	ErrNotAuthorized = errors.New("pool engine: caller not authorized")
	// ErrFeeBpsRange indicates a basis point value above 10000.
	ErrFeeBpsRange = errors.New("pool engine: basis points out of range")
)

type engineState interface {
	GetPool(poolID string) (*Pool, error)
	PutPool(pool *Pool) error
	GetLender(poolID string, addr ethcommon.Address) (*Lender, error)
	PutLender(poolID string, lender *Lender) error
	LenderAddresses(poolID string) ([]ethcommon.Address, error)
	AppendLender(poolID string, addr ethcommon.Address) error
	IsWhitelisted(poolID string, addr ethcommon.Address) (bool, error)
	SetWhitelisted(poolID string, addr ethcommon.Address, allowed bool) error
	GetAccount(asset, addr ethcommon.Address) (*types.Account, error)
	PutAccount(asset, addr ethcommon.Address, account *types.Account) error
}

// Engine orchestrates the capital ledger for lending pools: depositor shares,
// available/invested funds and pro-rata reward distribution.
type Engine struct {
	ownable     *nativecommon.Ownable
	state       engineState
	emitter     events.Emitter
	nowFn       func() int64
	poolID      string
	address     ethcommon.Address
	controllers map[ethcommon.Address]bool
	controls    LiquidityControls
}

// NewEngine constructs a pool engine holding pool funds under the given
// treasury address, owned by owner.
func NewEngine(owner, address ethcommon.Address) *Engine {
	return &Engine{
		ownable:     nativecommon.NewOwnable(owner),
		address:     address,
		emitter:     events.NoopEmitter{},
		nowFn:       func() int64 { return time.Now().Unix() },
		controllers: make(map[ethcommon.Address]bool),
		controls:    NoControls{},
	}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetEmitter configures the event emitter. Passing nil resets to a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the clock, primarily for deterministic tests.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetPoolID assigns the pool identifier subsequent operations run against.
func (e *Engine) SetPoolID(poolID string) { e.poolID = strings.TrimSpace(poolID) }

// PoolID returns the currently configured pool identifier.
func (e *Engine) PoolID() string { return e.poolID }

// SetControls wires the liquidity controls collaborator. Passing nil resets to
// the permissive default.
func (e *Engine) SetControls(controls LiquidityControls) {
	if controls == nil {
		e.controls = NoControls{}
		return
	}
	e.controls = controls
}

// Ownable exposes the two-step ownership handle for the pool.
func (e *Engine) Ownable() *nativecommon.Ownable { return e.ownable }

// Address returns the treasury address pool funds are held under.
func (e *Engine) Address() ethcommon.Address { return e.address }

// AuthorizeController registers a loan or liquidation controller for the
// funds-movement entry points. Owner only.
func (e *Engine) AuthorizeController(caller, controller ethcommon.Address) error {
	if err := e.ownable.RequireOwner(caller); err != nil {
		return err
	}
	if controller == (ethcommon.Address{}) {
		return nativecommon.ErrZeroAddress
	}
	e.controllers[controller] = true
	return nil
}

// RevokeController removes a registered controller. Owner only.
func (e *Engine) RevokeController(caller, controller ethcommon.Address) error {
	if err := e.ownable.RequireOwner(caller); err != nil {
		return err
	}
	delete(e.controllers, controller)
	return nil
}

// CreatePool initialises a pool record. Owner only.
func (e *Engine) CreatePool(caller ethcommon.Address, id string, asset, protocolWallet ethcommon.Address, protocolFeeBps, maxCapitalEfficiencyBps uint64) (*Pool, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := e.ownable.RequireOwner(caller); err != nil {
		return nil, err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, ErrPoolNotConfigured
	}
	if protocolFeeBps > 10_000 || maxCapitalEfficiencyBps > 10_000 {
		return nil, ErrFeeBpsRange
	}
	if protocolWallet == (ethcommon.Address{}) {
		return nil, nativecommon.ErrZeroAddress
	}
	existing, err := e.state.GetPool(id)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrPoolExists
	}
	p := &Pool{
		ID:                      id,
		Asset:                   asset,
		ProtocolWallet:          protocolWallet,
		ProtocolFeeBps:          protocolFeeBps,
		MaxCapitalEfficiencyBps: maxCapitalEfficiencyBps,
		FundsAvailable:          big.NewInt(0),
		FundsInvested:           big.NewInt(0),
		TotalRewards:            big.NewInt(0),
		TotalFundsInvested:      big.NewInt(0),
		TotalSharesBps:          big.NewInt(0),
		Active:                  true,
		Investing:               true,
	}
	if err := e.state.PutPool(p); err != nil {
		return nil, err
	}
	return p.Clone(), nil
}

// Deposit adds capital from the depositor into the pool and refreshes the
// depositor's shares.
func (e *Engine) Deposit(depositor ethcommon.Address, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	p, err := e.ensurePool()
	if err != nil {
		return err
	}
	if p.Deprecated {
		return ErrPoolDeprecated
	}
	if !p.Active {
		return ErrPoolInactive
	}
	if p.WhitelistEnabled {
		allowed, err := e.state.IsWhitelisted(p.ID, depositor)
		if err != nil {
			return err
		}
		if !allowed {
			return ErrNotWhitelisted
		}
	}
	lender, err := e.state.GetLender(p.ID, depositor)
	if err != nil {
		return err
	}
	if err := e.controls.CheckDeposit(p, lender, amount); err != nil {
		return err
	}
	if err := e.moveAsset(p.Asset, depositor, e.address, amount); err != nil {
		return err
	}
	if lender == nil {
		lender = &Lender{
			Address:          depositor,
			CurrentDeposited: big.NewInt(0),
			TotalDeposited:   big.NewInt(0),
			TotalWithdrawn:   big.NewInt(0),
			SharesBps:        big.NewInt(0),
			FirstDepositAt:   e.nowFn(),
		}
		if err := e.state.AppendLender(p.ID, depositor); err != nil {
			return err
		}
	}
	ensureLender(lender)
	if !lender.ActiveForRewards {
		lender.ActiveForRewards = true
		p.ActiveLenders++
	}
	lender.CurrentDeposited = new(big.Int).Add(lender.CurrentDeposited, amount)
	lender.TotalDeposited = new(big.Int).Add(lender.TotalDeposited, amount)
	lender.SharesBps = new(big.Int).Set(lender.CurrentDeposited)
	p.FundsAvailable = new(big.Int).Add(p.FundsAvailable, amount)

	if err := e.state.PutLender(p.ID, lender); err != nil {
		return err
	}
	if err := e.refreshTotalShares(p); err != nil {
		return err
	}
	if err := e.state.PutPool(p); err != nil {
		return err
	}
	e.emit(NewDepositEvent(p, lender, amount))
	return nil
}

// ComputeWithdrawableAmount returns the lender's pro-rata claim on the pool's
// realizable value. It is a pure read, recomputed on demand so reward and loss
// distribution never drift.
func (e *Engine) ComputeWithdrawableAmount(depositor ethcommon.Address) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	p, err := e.ensurePool()
	if err != nil {
		return nil, err
	}
	lender, err := e.state.GetLender(p.ID, depositor)
	if err != nil {
		return nil, err
	}
	if lender == nil {
		return nil, ErrUnknownLender
	}
	ensureLender(lender)
	return withdrawable(p, lender), nil
}

func withdrawable(p *Pool, lender *Lender) *big.Int {
	if !lender.ActiveForRewards || p.TotalSharesBps.Sign() == 0 {
		return big.NewInt(0)
	}
	value := new(big.Int).Add(p.FundsAvailable, p.FundsInvested)
	claim := new(big.Int).Mul(lender.SharesBps, value)
	return claim.Quo(claim, p.TotalSharesBps)
}

// Withdraw pays out up to the lender's withdrawable amount, capped by liquid
// funds. A full withdrawal retires the lender's shares; the record survives so
// the lender can re-deposit later.
func (e *Engine) Withdraw(depositor ethcommon.Address, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	p, err := e.ensurePool()
	if err != nil {
		return err
	}
	lender, err := e.state.GetLender(p.ID, depositor)
	if err != nil {
		return err
	}
	if lender == nil {
		return ErrUnknownLender
	}
	ensureLender(lender)
	if err := e.controls.CheckWithdraw(p, lender, e.nowFn()); err != nil {
		return err
	}
	claim := withdrawable(p, lender)
	if amount.Cmp(claim) > 0 {
		return ErrExceedsWithdrawable
	}
	if amount.Cmp(p.FundsAvailable) > 0 {
		return ErrInsufficientLiquidity
	}
	if err := e.moveAsset(p.Asset, e.address, depositor, amount); err != nil {
		return err
	}
	remaining := new(big.Int).Sub(claim, amount)
	lender.TotalWithdrawn = new(big.Int).Add(lender.TotalWithdrawn, amount)
	lender.CurrentDeposited = remaining
	lender.SharesBps = new(big.Int).Set(remaining)
	if remaining.Sign() == 0 && lender.ActiveForRewards {
		lender.ActiveForRewards = false
		if p.ActiveLenders > 0 {
			p.ActiveLenders--
		}
	}
	p.FundsAvailable = new(big.Int).Sub(p.FundsAvailable, amount)

	if err := e.state.PutLender(p.ID, lender); err != nil {
		return err
	}
	if err := e.refreshTotalShares(p); err != nil {
		return err
	}
	if err := e.state.PutPool(p); err != nil {
		return err
	}
	e.emit(NewWithdrawEvent(p, lender, amount))
	return nil
}

// SendFunds draws capital out of the pool into a loan. Controller only.
func (e *Engine) SendFunds(caller, to ethcommon.Address, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if !e.controllers[caller] {
		return ErrNotAuthorized
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	p, err := e.ensurePool()
	if err != nil {
		return err
	}
	if p.Deprecated {
		return ErrPoolDeprecated
	}
	if !p.Active {
		return ErrPoolInactive
	}
	if !p.Investing {
		return ErrPoolNotInvesting
	}
	if amount.Cmp(p.FundsAvailable) > 0 {
		return ErrInsufficientLiquidity
	}
	if p.MaxCapitalEfficiencyBps > 0 {
		investedAfter := new(big.Int).Add(p.FundsInvested, amount)
		total := new(big.Int).Add(p.FundsAvailable, p.FundsInvested)
		share := new(big.Int).Mul(investedAfter, basisPoints)
		share.Quo(share, total)
		if share.Cmp(new(big.Int).SetUint64(p.MaxCapitalEfficiencyBps)) > 0 {
			return ErrCapitalEfficiency
		}
	}
	if err := e.moveAsset(p.Asset, e.address, to, amount); err != nil {
		return err
	}
	p.FundsAvailable = new(big.Int).Sub(p.FundsAvailable, amount)
	p.FundsInvested = new(big.Int).Add(p.FundsInvested, amount)
	p.TotalFundsInvested = new(big.Int).Add(p.TotalFundsInvested, amount)
	if err := e.state.PutPool(p); err != nil {
		return err
	}
	e.emit(NewFundsSentEvent(p, to, amount))
	return nil
}

// ReceiveFunds settles principal and rewards back into the pool. The protocol
// share of rewards rounds down; the pool keeps the rounding dust. Losses are
// absorbed implicitly: invested decreases by the original invested amount no
// matter how much actually came back. Controller only.
func (e *Engine) ReceiveFunds(caller, from ethcommon.Address, amount, rewardsAmount, investedAmount *big.Int, origin string) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if !e.controllers[caller] {
		return ErrNotAuthorized
	}
	amount = cloneBig(amount)
	rewardsAmount = cloneBig(rewardsAmount)
	investedAmount = cloneBig(investedAmount)
	if amount.Sign() < 0 || rewardsAmount.Sign() < 0 || investedAmount.Sign() < 0 {
		return ErrInvalidAmount
	}
	p, err := e.ensurePool()
	if err != nil {
		return err
	}
	total := new(big.Int).Add(amount, rewardsAmount)
	if total.Sign() > 0 {
		if err := e.moveAsset(p.Asset, from, e.address, total); err != nil {
			return err
		}
	}
	protocolShare := new(big.Int).Mul(rewardsAmount, new(big.Int).SetUint64(p.ProtocolFeeBps))
	protocolShare.Quo(protocolShare, basisPoints)
	poolRewards := new(big.Int).Sub(rewardsAmount, protocolShare)
	if protocolShare.Sign() > 0 {
		if err := e.moveAsset(p.Asset, e.address, p.ProtocolWallet, protocolShare); err != nil {
			return err
		}
	}
	p.FundsAvailable = new(big.Int).Add(p.FundsAvailable, new(big.Int).Add(amount, poolRewards))
	p.TotalRewards = new(big.Int).Add(p.TotalRewards, poolRewards)
	p.FundsInvested = new(big.Int).Sub(p.FundsInvested, investedAmount)
	if p.FundsInvested.Sign() < 0 {
		p.FundsInvested = big.NewInt(0)
	}
	if err := e.state.PutPool(p); err != nil {
		return err
	}
	e.emit(NewFundsReceivedEvent(p, from, amount, poolRewards, protocolShare, investedAmount, origin))
	return nil
}

// CheckLoan consults the liquidity controls for a prospective loan draw
// against one collection. Pure read; the loan module calls it per collection
// before reserving.
func (e *Engine) CheckLoan(collection ethcommon.Address, amount, collectionOutstanding *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	p, err := e.ensurePool()
	if err != nil {
		return err
	}
	return e.controls.CheckLoan(p, collection, amount, collectionOutstanding)
}

// Deprecate permanently retires the pool. Deposits and loans stop; withdrawal
// keeps working. Owner only and one-way.
func (e *Engine) Deprecate(caller ethcommon.Address) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := e.ownable.RequireOwner(caller); err != nil {
		return err
	}
	p, err := e.ensurePool()
	if err != nil {
		return err
	}
	if p.Deprecated {
		return nil
	}
	p.Deprecated = true
	p.Active = false
	p.Investing = false
	if err := e.state.PutPool(p); err != nil {
		return err
	}
	e.emit(NewDeprecatedEvent(p))
	return nil
}

// SetActive toggles whether the pool accepts deposits and loans. Owner only.
func (e *Engine) SetActive(caller ethcommon.Address, active bool) error {
	return e.setFlag(caller, func(p *Pool) error {
		if p.Deprecated {
			return ErrPoolDeprecated
		}
		p.Active = active
		return nil
	})
}

// SetInvesting toggles whether loan draw-downs are allowed. Owner only.
func (e *Engine) SetInvesting(caller ethcommon.Address, investing bool) error {
	return e.setFlag(caller, func(p *Pool) error {
		if p.Deprecated {
			return ErrPoolDeprecated
		}
		p.Investing = investing
		return nil
	})
}

// SetWhitelistEnabled toggles the deposit whitelist. Owner only.
func (e *Engine) SetWhitelistEnabled(caller ethcommon.Address, enabled bool) error {
	return e.setFlag(caller, func(p *Pool) error {
		p.WhitelistEnabled = enabled
		return nil
	})
}

// Whitelist adds or removes an address from the deposit whitelist. Owner only.
func (e *Engine) Whitelist(caller, addr ethcommon.Address, allowed bool) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := e.ownable.RequireOwner(caller); err != nil {
		return err
	}
	p, err := e.ensurePool()
	if err != nil {
		return err
	}
	return e.state.SetWhitelisted(p.ID, addr, allowed)
}

// GetPool returns a copy of the configured pool record.
func (e *Engine) GetPool() (*Pool, error) {
	p, err := e.ensurePool()
	if err != nil {
		return nil, err
	}
	return p.Clone(), nil
}

// GetLender returns a copy of the lender's funds record.
func (e *Engine) GetLender(addr ethcommon.Address) (*Lender, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	p, err := e.ensurePool()
	if err != nil {
		return nil, err
	}
	lender, err := e.state.GetLender(p.ID, addr)
	if err != nil {
		return nil, err
	}
	if lender == nil {
		return nil, ErrUnknownLender
	}
	ensureLender(lender)
	return lender.Clone(), nil
}

// IsActiveLender reports whether addr currently holds active shares.
func (e *Engine) IsActiveLender(addr ethcommon.Address) (bool, error) {
	lender, err := e.GetLender(addr)
	if err == ErrUnknownLender {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return lender.ActiveForRewards, nil
}

func (e *Engine) setFlag(caller ethcommon.Address, mutate func(*Pool) error) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := e.ownable.RequireOwner(caller); err != nil {
		return err
	}
	p, err := e.ensurePool()
	if err != nil {
		return err
	}
	if err := mutate(p); err != nil {
		return err
	}
	return e.state.PutPool(p)
}

func (e *Engine) ensurePool() (*Pool, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if strings.TrimSpace(e.poolID) == "" {
		return nil, ErrPoolNotConfigured
	}
	p, err := e.state.GetPool(e.poolID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, ErrPoolNotFound
	}
	if p.FundsAvailable == nil {
		p.FundsAvailable = big.NewInt(0)
	}
	if p.FundsInvested == nil {
		p.FundsInvested = big.NewInt(0)
	}
	if p.TotalRewards == nil {
		p.TotalRewards = big.NewInt(0)
	}
	if p.TotalFundsInvested == nil {
		p.TotalFundsInvested = big.NewInt(0)
	}
	if p.TotalSharesBps == nil {
		p.TotalSharesBps = big.NewInt(0)
	}
	return p, nil
}

func ensureLender(l *Lender) {
	if l.CurrentDeposited == nil {
		l.CurrentDeposited = big.NewInt(0)
	}
	if l.TotalDeposited == nil {
		l.TotalDeposited = big.NewInt(0)
	}
	if l.TotalWithdrawn == nil {
		l.TotalWithdrawn = big.NewInt(0)
	}
	if l.SharesBps == nil {
		l.SharesBps = big.NewInt(0)
	}
}

func (e *Engine) refreshTotalShares(p *Pool) error {
	addrs, err := e.state.LenderAddresses(p.ID)
	if err != nil {
		return err
	}
	total := big.NewInt(0)
	for _, addr := range addrs {
		lender, err := e.state.GetLender(p.ID, addr)
		if err != nil {
			return err
		}
		if lender == nil || !lender.ActiveForRewards || lender.SharesBps == nil {
			continue
		}
		total.Add(total, lender.SharesBps)
	}
	p.TotalSharesBps = total
	return nil
}

func (e *Engine) moveAsset(asset, from, to ethcommon.Address, amount *big.Int) error {
	fromAcc, err := e.state.GetAccount(asset, from)
	if err != nil {
		return err
	}
	toAcc, err := e.state.GetAccount(asset, to)
	if err != nil {
		return err
	}
	fromAcc = types.EnsureAccount(fromAcc)
	toAcc = types.EnsureAccount(toAcc)
	if fromAcc.Balance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	fromAcc.Balance = new(big.Int).Sub(fromAcc.Balance, amount)
	toAcc.Balance = new(big.Int).Add(toAcc.Balance, amount)
	if err := e.state.PutAccount(asset, from, fromAcc); err != nil {
		return err
	}
	return e.state.PutAccount(asset, to, toAcc)
}

func (e *Engine) emit(evt *poolEvent) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(evt)
}
