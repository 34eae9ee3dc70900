package vault

import (
	"errors"
	"math/big"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"

	"nftlend/core/events"
	nativecommon "nftlend/native/common"
)

var (
	errNilState = errors.New("vault engine: state not configured")
	// ErrNotAuthorized indicates the caller is not a registered controller for
	// the requested operation.
	ErrNotAuthorized = errors.New("vault engine: caller not authorized")
	// ErrAddressNotSupported indicates the collection has no registered
	// custody backend.
	ErrAddressNotSupported = errors.New("vault engine: collection not supported by vault")
	// ErrNotTokenOwner indicates the declared owner does not hold the token.
	ErrNotTokenOwner = errors.New("vault engine: owner does not hold token")
	// ErrMissingApproval indicates the vault has not been approved to move the token.
	ErrMissingApproval = errors.New("vault engine: vault not approved for token")
	// ErrMissingPunkOffer indicates no open offer to the vault exists for the token.
	ErrMissingPunkOffer = errors.New("vault engine: no punk offer to vault")
	// ErrNotInCustody indicates the token is not held by the vault.
	ErrNotInCustody = errors.New("vault engine: token not in custody")
	// ErrAlreadyInCustody indicates the token is already held by the vault.
	ErrAlreadyInCustody = errors.New("vault engine: token already in custody")
	// ErrAdminWithdrawn indicates the custody record was already withdrawn for
	// admin resolution and cannot be moved through the normal paths.
	ErrAdminWithdrawn = errors.New("vault engine: token withdrawn for admin resolution")
)

type engineState interface {
	NFTOwner(collection ethcommon.Address, tokenID *big.Int) (ethcommon.Address, error)
	SetNFTOwner(collection ethcommon.Address, tokenID *big.Int, owner ethcommon.Address) error
	NFTApproved(collection ethcommon.Address, tokenID *big.Int) (ethcommon.Address, error)
	PunkOffer(collection ethcommon.Address, tokenID *big.Int) (ethcommon.Address, bool, error)
	ClearPunkOffer(collection ethcommon.Address, tokenID *big.Int) error
	CustodyGet(collection ethcommon.Address, tokenID *big.Int) (*Custody, bool, error)
	CustodyPut(custody *Custody) error
	CustodyDelete(collection ethcommon.Address, tokenID *big.Int) error
}

// Engine is the exclusive custodian of pledged collateral. Inbound custody is
// authorized per pool asset (the loan controller registered for that asset);
// outbound custody is authorized per flow (loan repayment, liquidation
// settlement, owner admin withdrawal).
type Engine struct {
	ownable *nativecommon.Ownable
	address ethcommon.Address
	state   engineState
	emitter events.Emitter
	nowFn   func() int64

	loanControllers       map[ethcommon.Address]ethcommon.Address
	liquidationController ethcommon.Address
	collections           map[ethcommon.Address]BackendKind
}

// NewEngine constructs a vault engine holding tokens under the given custody
// address, owned by owner.
func NewEngine(owner, address ethcommon.Address) *Engine {
	return &Engine{
		ownable:         nativecommon.NewOwnable(owner),
		address:         address,
		emitter:         events.NoopEmitter{},
		nowFn:           func() int64 { return time.Now().Unix() },
		loanControllers: make(map[ethcommon.Address]ethcommon.Address),
		collections:     make(map[ethcommon.Address]BackendKind),
	}
}

// SetState configures the state backend used by the engine.
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

// Ownable exposes the two-step ownership handle for the vault.
func (e *Engine) Ownable() *nativecommon.Ownable { return e.ownable }

// Address returns the custody address tokens are held under.
func (e *Engine) Address() ethcommon.Address { return e.address }

// SetLoanController registers the loan controller authorized to store and
// release collateral for pools denominated in asset. Owner only.
func (e *Engine) SetLoanController(caller, asset, controller ethcommon.Address) error {
	if err := e.ownable.RequireOwner(caller); err != nil {
		return err
	}
	if controller == (ethcommon.Address{}) {
		return nativecommon.ErrZeroAddress
	}
	e.loanControllers[asset] = controller
	return nil
}

// SetLiquidationController registers the liquidation controller authorized to
// release collateral from settled liquidations. Owner only.
func (e *Engine) SetLiquidationController(caller, controller ethcommon.Address) error {
	if err := e.ownable.RequireOwner(caller); err != nil {
		return err
	}
	if controller == (ethcommon.Address{}) {
		return nativecommon.ErrZeroAddress
	}
	e.liquidationController = controller
	return nil
}

// RegisterCollection maps a collection to a custody backend. Owner only.
func (e *Engine) RegisterCollection(caller, collection ethcommon.Address, kind BackendKind) error {
	if err := e.ownable.RequireOwner(caller); err != nil {
		return err
	}
	if _, ok := backendFor(kind); !ok {
		return ErrAddressNotSupported
	}
	e.collections[collection] = kind
	return nil
}

func (e *Engine) backend(collection ethcommon.Address) (custodyBackend, error) {
	kind, ok := e.collections[collection]
	if !ok {
		return nil, ErrAddressNotSupported
	}
	backend, ok := backendFor(kind)
	if !ok {
		return nil, ErrAddressNotSupported
	}
	return backend, nil
}

// VerifyDeposit checks that owner could place the token into custody right
// now: the collection is supported, the token is not already held, and the
// backend's inbound preconditions hold. Pure read.
func (e *Engine) VerifyDeposit(owner, collection ethcommon.Address, tokenID *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	backend, err := e.backend(collection)
	if err != nil {
		return err
	}
	if _, ok, err := e.state.CustodyGet(collection, tokenID); err != nil {
		return err
	} else if ok {
		return ErrAlreadyInCustody
	}
	return backend.check(e.state, e.address, owner, collection, tokenID)
}

// StoreCollateral moves a token from owner into vault custody. Only the loan
// controller registered for asset may call.
func (e *Engine) StoreCollateral(caller, owner, collection ethcommon.Address, tokenID *big.Int, asset ethcommon.Address, createDelegation bool) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if controller, ok := e.loanControllers[asset]; !ok || caller != controller {
		return ErrNotAuthorized
	}
	backend, err := e.backend(collection)
	if err != nil {
		return err
	}
	if _, ok, err := e.state.CustodyGet(collection, tokenID); err != nil {
		return err
	} else if ok {
		return ErrAlreadyInCustody
	}
	if err := backend.take(e.state, e.address, owner, collection, tokenID); err != nil {
		return err
	}
	custody := &Custody{
		Collection: collection,
		TokenID:    new(big.Int).Set(tokenID),
		Owner:      owner,
		Asset:      asset,
		Delegated:  createDelegation,
		StoredAt:   e.nowFn(),
	}
	if err := e.state.CustodyPut(custody); err != nil {
		return err
	}
	e.emit(NewStoredEvent(custody))
	return nil
}

// TransferFromLoan releases a token back to a recipient as part of loan
// repayment or reservation cancellation. Only the loan controller registered
// for the custody record's asset may call.
func (e *Engine) TransferFromLoan(caller, to, collection ethcommon.Address, tokenID *big.Int) error {
	return e.release(caller, to, collection, tokenID, releaseLoan)
}

// TransferFromLiquidation releases a token to a liquidation buyer. Only the
// registered liquidation controller may call.
func (e *Engine) TransferFromLiquidation(caller, to, collection ethcommon.Address, tokenID *big.Int) error {
	return e.release(caller, to, collection, tokenID, releaseLiquidation)
}

type releaseFlow uint8

const (
	releaseLoan releaseFlow = iota + 1
	releaseLiquidation
)

func (e *Engine) release(caller, to, collection ethcommon.Address, tokenID *big.Int, flow releaseFlow) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	custody, ok, err := e.state.CustodyGet(collection, tokenID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotInCustody
	}
	switch flow {
	case releaseLoan:
		controller, registered := e.loanControllers[custody.Asset]
		if !registered || caller != controller {
			return ErrNotAuthorized
		}
	case releaseLiquidation:
		if e.liquidationController == (ethcommon.Address{}) || caller != e.liquidationController {
			return ErrNotAuthorized
		}
	default:
		return ErrNotAuthorized
	}
	if custody.AdminWithdrawn {
		return ErrAdminWithdrawn
	}
	backend, err := e.backend(collection)
	if err != nil {
		return err
	}
	if err := backend.give(e.state, e.address, to, collection, tokenID); err != nil {
		return err
	}
	if err := e.state.CustodyDelete(collection, tokenID); err != nil {
		return err
	}
	e.emit(NewReleasedEvent(custody, to))
	return nil
}

// AdminWithdraw pulls a token out of custody for manual liquidation
// resolution. Owner only. The custody record survives with an irreversible
// marker so the admin settlement path can verify the withdrawal happened and
// happened once.
func (e *Engine) AdminWithdraw(caller, to, collection ethcommon.Address, tokenID *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := e.ownable.RequireOwner(caller); err != nil {
		return err
	}
	custody, ok, err := e.state.CustodyGet(collection, tokenID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotInCustody
	}
	if custody.AdminWithdrawn {
		return ErrAdminWithdrawn
	}
	backend, err := e.backend(collection)
	if err != nil {
		return err
	}
	if err := backend.give(e.state, e.address, to, collection, tokenID); err != nil {
		return err
	}
	custody.AdminWithdrawn = true
	if err := e.state.CustodyPut(custody); err != nil {
		return err
	}
	e.emit(NewAdminWithdrawnEvent(custody, to))
	return nil
}

// CustodyStatus returns the custody record for a token, if any.
func (e *Engine) CustodyStatus(collection ethcommon.Address, tokenID *big.Int) (*Custody, bool, error) {
	if e == nil || e.state == nil {
		return nil, false, errNilState
	}
	custody, ok, err := e.state.CustodyGet(collection, tokenID)
	if err != nil || !ok {
		return nil, false, err
	}
	return custody.Clone(), true, nil
}

// ReleaseCustodyRecord drops the custody record of an admin-withdrawn token
// once its liquidation has been resolved. Only the liquidation controller may
// call.
func (e *Engine) ReleaseCustodyRecord(caller, collection ethcommon.Address, tokenID *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.liquidationController == (ethcommon.Address{}) || caller != e.liquidationController {
		return ErrNotAuthorized
	}
	custody, ok, err := e.state.CustodyGet(collection, tokenID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotInCustody
	}
	if !custody.AdminWithdrawn {
		return ErrNotAuthorized
	}
	return e.state.CustodyDelete(collection, tokenID)
}

func (e *Engine) emit(evt *vaultEvent) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(evt)
}
