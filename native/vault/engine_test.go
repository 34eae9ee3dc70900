package vault

import (
	"math/big"
	"testing"

	ethcommon "github.com/ethereum/go-ethereum/common"
)

type mockState struct {
	owners    map[string]ethcommon.Address
	approvals map[string]ethcommon.Address
	offers    map[string]ethcommon.Address
	custody   map[string]*Custody
}

func newMockState() *mockState {
	return &mockState{
		owners:    make(map[string]ethcommon.Address),
		approvals: make(map[string]ethcommon.Address),
		offers:    make(map[string]ethcommon.Address),
		custody:   make(map[string]*Custody),
	}
}

func (m *mockState) key(collection ethcommon.Address, tokenID *big.Int) string {
	return collection.Hex() + "/" + tokenID.String()
}

func (m *mockState) NFTOwner(collection ethcommon.Address, tokenID *big.Int) (ethcommon.Address, error) {
	return m.owners[m.key(collection, tokenID)], nil
}

func (m *mockState) SetNFTOwner(collection ethcommon.Address, tokenID *big.Int, owner ethcommon.Address) error {
	m.owners[m.key(collection, tokenID)] = owner
	return nil
}

func (m *mockState) NFTApproved(collection ethcommon.Address, tokenID *big.Int) (ethcommon.Address, error) {
	return m.approvals[m.key(collection, tokenID)], nil
}

func (m *mockState) PunkOffer(collection ethcommon.Address, tokenID *big.Int) (ethcommon.Address, bool, error) {
	to, ok := m.offers[m.key(collection, tokenID)]
	return to, ok, nil
}

func (m *mockState) ClearPunkOffer(collection ethcommon.Address, tokenID *big.Int) error {
	delete(m.offers, m.key(collection, tokenID))
	return nil
}

func (m *mockState) CustodyGet(collection ethcommon.Address, tokenID *big.Int) (*Custody, bool, error) {
	c, ok := m.custody[m.key(collection, tokenID)]
	return c, ok, nil
}

func (m *mockState) CustodyPut(c *Custody) error {
	m.custody[m.key(c.Collection, c.TokenID)] = c
	return nil
}

func (m *mockState) CustodyDelete(collection ethcommon.Address, tokenID *big.Int) error {
	delete(m.custody, m.key(collection, tokenID))
	return nil
}

func makeAddr(b byte) ethcommon.Address {
	var a ethcommon.Address
	a[19] = b
	return a
}

func newTestEngine(t *testing.T) (*Engine, *mockState) {
	t.Helper()
	owner := makeAddr(0x01)
	engine := NewEngine(owner, makeAddr(0xAA))
	state := newMockState()
	engine.SetState(state)
	engine.SetNowFunc(func() int64 { return 1_000 })
	if err := engine.SetLoanController(owner, makeAddr(0xE0), makeAddr(0x10)); err != nil {
		t.Fatalf("set loan controller: %v", err)
	}
	if err := engine.SetLiquidationController(owner, makeAddr(0x11)); err != nil {
		t.Fatalf("set liquidation controller: %v", err)
	}
	if err := engine.RegisterCollection(owner, makeAddr(0xC0), BackendStandard); err != nil {
		t.Fatalf("register collection: %v", err)
	}
	if err := engine.RegisterCollection(owner, makeAddr(0xC1), BackendPunk); err != nil {
		t.Fatalf("register punk collection: %v", err)
	}
	return engine, state
}

func TestStoreCollateralAuthorization(t *testing.T) {
	engine, state := newTestEngine(t)
	borrower := makeAddr(0x20)
	collection := makeAddr(0xC0)
	tokenID := big.NewInt(7)
	asset := makeAddr(0xE0)

	state.owners[state.key(collection, tokenID)] = borrower
	state.approvals[state.key(collection, tokenID)] = engine.Address()

	if err := engine.StoreCollateral(makeAddr(0x99), borrower, collection, tokenID, asset, false); err != ErrNotAuthorized {
		t.Fatalf("expected not-authorized error, got %v", err)
	}
	if err := engine.StoreCollateral(makeAddr(0x10), borrower, collection, tokenID, asset, false); err != nil {
		t.Fatalf("store: %v", err)
	}
	if got := state.owners[state.key(collection, tokenID)]; got != engine.Address() {
		t.Fatalf("token not moved to vault: %s", got)
	}
	if err := engine.StoreCollateral(makeAddr(0x10), borrower, collection, tokenID, asset, false); err != ErrAlreadyInCustody {
		t.Fatalf("expected already-in-custody error, got %v", err)
	}
}

func TestStoreCollateralRequiresApproval(t *testing.T) {
	engine, state := newTestEngine(t)
	borrower := makeAddr(0x20)
	collection := makeAddr(0xC0)
	tokenID := big.NewInt(8)

	state.owners[state.key(collection, tokenID)] = borrower
	if err := engine.StoreCollateral(makeAddr(0x10), borrower, collection, tokenID, makeAddr(0xE0), false); err != ErrMissingApproval {
		t.Fatalf("expected missing-approval error, got %v", err)
	}
}

func TestStoreCollateralUnsupportedCollection(t *testing.T) {
	engine, _ := newTestEngine(t)
	if err := engine.StoreCollateral(makeAddr(0x10), makeAddr(0x20), makeAddr(0xCF), big.NewInt(1), makeAddr(0xE0), false); err != ErrAddressNotSupported {
		t.Fatalf("expected unsupported-collection error, got %v", err)
	}
}

func TestPunkBackendConsumesOffer(t *testing.T) {
	engine, state := newTestEngine(t)
	borrower := makeAddr(0x20)
	collection := makeAddr(0xC1)
	tokenID := big.NewInt(42)

	state.owners[state.key(collection, tokenID)] = borrower
	if err := engine.StoreCollateral(makeAddr(0x10), borrower, collection, tokenID, makeAddr(0xE0), false); err != ErrMissingPunkOffer {
		t.Fatalf("expected missing-offer error, got %v", err)
	}

	state.offers[state.key(collection, tokenID)] = engine.Address()
	if err := engine.StoreCollateral(makeAddr(0x10), borrower, collection, tokenID, makeAddr(0xE0), false); err != nil {
		t.Fatalf("store punk: %v", err)
	}
	if _, ok := state.offers[state.key(collection, tokenID)]; ok {
		t.Fatalf("offer not consumed")
	}
}

func TestVerifyDepositIsReadOnly(t *testing.T) {
	engine, state := newTestEngine(t)
	borrower := makeAddr(0x20)
	collection := makeAddr(0xC0)
	tokenID := big.NewInt(3)

	if err := engine.VerifyDeposit(borrower, collection, tokenID); err != ErrNotTokenOwner {
		t.Fatalf("expected not-token-owner error, got %v", err)
	}
	state.owners[state.key(collection, tokenID)] = borrower
	if err := engine.VerifyDeposit(borrower, collection, tokenID); err != ErrMissingApproval {
		t.Fatalf("expected missing-approval error, got %v", err)
	}
	state.approvals[state.key(collection, tokenID)] = engine.Address()
	if err := engine.VerifyDeposit(borrower, collection, tokenID); err != nil {
		t.Fatalf("verify deposit: %v", err)
	}
	if got := state.owners[state.key(collection, tokenID)]; got != borrower {
		t.Fatalf("verify must not move the token, holder now %s", got)
	}

	if err := engine.StoreCollateral(makeAddr(0x10), borrower, collection, tokenID, makeAddr(0xE0), false); err != nil {
		t.Fatalf("store: %v", err)
	}
	if err := engine.VerifyDeposit(borrower, collection, tokenID); err != ErrAlreadyInCustody {
		t.Fatalf("expected already-in-custody error, got %v", err)
	}
}

func TestTransferFromLoanReturnsToken(t *testing.T) {
	engine, state := newTestEngine(t)
	borrower := makeAddr(0x20)
	collection := makeAddr(0xC0)
	tokenID := big.NewInt(7)

	state.owners[state.key(collection, tokenID)] = borrower
	state.approvals[state.key(collection, tokenID)] = engine.Address()
	if err := engine.StoreCollateral(makeAddr(0x10), borrower, collection, tokenID, makeAddr(0xE0), false); err != nil {
		t.Fatalf("store: %v", err)
	}

	if err := engine.TransferFromLoan(makeAddr(0x11), borrower, collection, tokenID); err != ErrNotAuthorized {
		t.Fatalf("expected liquidation controller to be rejected on loan flow, got %v", err)
	}
	if err := engine.TransferFromLoan(makeAddr(0x10), borrower, collection, tokenID); err != nil {
		t.Fatalf("transfer from loan: %v", err)
	}
	if got := state.owners[state.key(collection, tokenID)]; got != borrower {
		t.Fatalf("token not returned: %s", got)
	}
	if _, ok := state.custody[state.key(collection, tokenID)]; ok {
		t.Fatalf("custody record not cleared")
	}
}

func TestAdminWithdrawMarksCustody(t *testing.T) {
	engine, state := newTestEngine(t)
	owner := makeAddr(0x01)
	borrower := makeAddr(0x20)
	collection := makeAddr(0xC0)
	tokenID := big.NewInt(9)

	state.owners[state.key(collection, tokenID)] = borrower
	state.approvals[state.key(collection, tokenID)] = engine.Address()
	if err := engine.StoreCollateral(makeAddr(0x10), borrower, collection, tokenID, makeAddr(0xE0), false); err != nil {
		t.Fatalf("store: %v", err)
	}

	if err := engine.AdminWithdraw(borrower, borrower, collection, tokenID); err == nil {
		t.Fatalf("expected non-owner admin withdraw to fail")
	}
	if err := engine.AdminWithdraw(owner, owner, collection, tokenID); err != nil {
		t.Fatalf("admin withdraw: %v", err)
	}
	custody, ok, err := engine.CustodyStatus(collection, tokenID)
	if err != nil || !ok {
		t.Fatalf("custody record missing after admin withdraw: %v", err)
	}
	if !custody.AdminWithdrawn {
		t.Fatalf("admin-withdrawn marker not set")
	}
	if err := engine.AdminWithdraw(owner, owner, collection, tokenID); err != ErrAdminWithdrawn {
		t.Fatalf("expected second admin withdraw to fail, got %v", err)
	}
	if err := engine.TransferFromLoan(makeAddr(0x10), borrower, collection, tokenID); err != ErrAdminWithdrawn {
		t.Fatalf("expected loan release of withdrawn token to fail, got %v", err)
	}
	if err := engine.ReleaseCustodyRecord(makeAddr(0x11), collection, tokenID); err != nil {
		t.Fatalf("release custody record: %v", err)
	}
	if _, ok := state.custody[state.key(collection, tokenID)]; ok {
		t.Fatalf("custody record not dropped after resolution")
	}
}
