package otc

import (
	"errors"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"

	"nftlend/core/events"
	nativecommon "nftlend/native/common"
)

var (
	errNilState = errors.New("otc engine: state not configured")

	// ErrInstanceNotFound indicates no escrow instance exists under the id.
	ErrInstanceNotFound = errors.New("otc engine: instance not found")
	// ErrAlreadyInitialized indicates the one-shot initializer ran before.
	ErrAlreadyInitialized = errors.New("otc engine: instance already initialized")
	// ErrNotInitialized indicates the instance has no designated lender yet.
	ErrNotInitialized = errors.New("otc engine: instance not initialized")
	// ErrNotDesignatedLender indicates the caller is not the instance's
	// designated lender.
	ErrNotDesignatedLender = errors.New("otc engine: caller is not the designated lender")
	// ErrClaimerNotConfigured indicates no liquidation collaborator is wired.
	ErrClaimerNotConfigured = errors.New("otc engine: claimer not configured")
	// ErrZeroLender indicates an empty designated lender address.
	ErrZeroLender = errors.New("otc engine: designated lender is the zero address")
)

// Instance is one cloned escrow serving a single designated lender. Clones
// come out of the factory uninitialized; the one-shot initializer binds the
// lender.
type Instance struct {
	ID          string
	Address     ethcommon.Address
	Lender      ethcommon.Address
	Initialized bool
	CreatedAt   int64
}

// Clone returns a copy of the instance record.
func (i *Instance) Clone() *Instance {
	if i == nil {
		return nil
	}
	out := *i
	return &out
}

type engineState interface {
	OTCInstanceGet(id string) (*Instance, bool, error)
	OTCInstancePut(instance *Instance) error
	OTCInstanceIDs() ([]string, error)
}

// Claimer is the liquidation collaborator the escrow settles through.
type Claimer interface {
	OTCClaim(caller, claimer ethcommon.Address, lid string) error
}

// Engine is the escrow factory: it stamps out per-lender instances and
// forwards their claims into the liquidation module.
type Engine struct {
	ownable *nativecommon.Ownable
	state   engineState
	emitter events.Emitter
	nowFn   func() int64

	address ethcommon.Address
	claimer Claimer

	newID func() string
}

// NewEngine constructs an escrow factory owned by owner, acting on-ledger as
// address.
func NewEngine(owner, address ethcommon.Address) *Engine {
	return &Engine{
		ownable: nativecommon.NewOwnable(owner),
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
		address: address,
		newID:   uuid.NewString,
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

// SetClaimer wires the liquidation collaborator.
func (e *Engine) SetClaimer(claimer Claimer) { e.claimer = claimer }

// SetIDFunc overrides instance id generation. Nil resets to random UUIDs.
func (e *Engine) SetIDFunc(newID func() string) {
	if newID == nil {
		e.newID = uuid.NewString
		return
	}
	e.newID = newID
}

// Ownable exposes the ownership handle for admin wiring.
func (e *Engine) Ownable() *nativecommon.Ownable { return e.ownable }

// Address returns the factory's on-ledger identity.
func (e *Engine) Address() ethcommon.Address { return e.address }

// CreateInstance clones a fresh, uninitialized escrow. Owner only. The
// instance address is derived from the factory address and the instance id,
// so each clone gets a stable identity to authorize against the liquidation
// module.
func (e *Engine) CreateInstance(caller ethcommon.Address) (*Instance, error) {
	if e.state == nil {
		return nil, errNilState
	}
	if err := e.ownable.RequireOwner(caller); err != nil {
		return nil, err
	}
	id := e.newID()
	digest := ethcrypto.Keccak256(e.address.Bytes(), []byte(id))
	instance := &Instance{
		ID:        id,
		Address:   ethcommon.BytesToAddress(digest[12:]),
		CreatedAt: e.nowFn(),
	}
	if err := e.state.OTCInstancePut(instance); err != nil {
		return nil, err
	}
	e.emit(NewInstanceCreatedEvent(instance))
	return instance.Clone(), nil
}

// Initialize binds the designated lender. Owner only, and it runs exactly
// once per instance.
func (e *Engine) Initialize(caller ethcommon.Address, id string, lender ethcommon.Address) error {
	if e.state == nil {
		return errNilState
	}
	if err := e.ownable.RequireOwner(caller); err != nil {
		return err
	}
	if lender == (ethcommon.Address{}) {
		return ErrZeroLender
	}
	instance, ok, err := e.state.OTCInstanceGet(id)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInstanceNotFound
	}
	if instance.Initialized {
		return ErrAlreadyInitialized
	}
	instance.Lender = lender
	instance.Initialized = true
	if err := e.state.OTCInstancePut(instance); err != nil {
		return err
	}
	e.emit(NewInstanceInitializedEvent(instance))
	return nil
}

// Claim settles one liquidation through the instance at the lender-period
// price. Only the designated lender may call, and the liquidation module
// still enforces the phase window.
func (e *Engine) Claim(caller ethcommon.Address, id, lid string) error {
	if e.state == nil {
		return errNilState
	}
	if e.claimer == nil {
		return ErrClaimerNotConfigured
	}
	instance, ok, err := e.state.OTCInstanceGet(id)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInstanceNotFound
	}
	if !instance.Initialized {
		return ErrNotInitialized
	}
	if caller != instance.Lender {
		return ErrNotDesignatedLender
	}
	if err := e.claimer.OTCClaim(instance.Address, caller, lid); err != nil {
		return err
	}
	e.emit(NewClaimedEvent(instance, lid))
	return nil
}

// GetInstance returns a copy of the stored instance record.
func (e *Engine) GetInstance(id string) (*Instance, error) {
	if e.state == nil {
		return nil, errNilState
	}
	instance, ok, err := e.state.OTCInstanceGet(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrInstanceNotFound
	}
	return instance.Clone(), nil
}

// Instances returns every known instance id.
func (e *Engine) Instances() ([]string, error) {
	if e.state == nil {
		return nil, errNilState
	}
	return e.state.OTCInstanceIDs()
}

func (e *Engine) emit(evt *otcEvent) {
	if e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(evt)
}
