package loan

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"testing"

	ethcommon "github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"nftlend/native/pool"
	"nftlend/native/vault"
)

var (
	testOwner      = ethcommon.HexToAddress("0x0000000000000000000000000000000000000001")
	testBorrower   = ethcommon.HexToAddress("0x0000000000000000000000000000000000000002")
	testController = ethcommon.HexToAddress("0x0000000000000000000000000000000000000010")
	testAsset      = ethcommon.HexToAddress("0x00000000000000000000000000000000000000E0")
	testCollection = ethcommon.HexToAddress("0x00000000000000000000000000000000000000C0")
)

const day = int64(24 * 60 * 60)

type mockState struct {
	loans       map[string]*Loan
	nonces      map[string]bool
	outstanding map[string]*big.Int
	seq         map[string]uint64
}

func newMockState() *mockState {
	return &mockState{
		loans:       make(map[string]*Loan),
		nonces:      make(map[string]bool),
		outstanding: make(map[string]*big.Int),
		seq:         make(map[string]uint64),
	}
}

func loanKey(borrower ethcommon.Address, loanID uint64) string {
	return fmt.Sprintf("%s/%d", borrower.Hex(), loanID)
}

func (m *mockState) LoanGet(borrower ethcommon.Address, loanID uint64) (*Loan, bool, error) {
	loan, ok := m.loans[loanKey(borrower, loanID)]
	if !ok {
		return nil, false, nil
	}
	return loan.Clone(), true, nil
}

func (m *mockState) LoanPut(loan *Loan) error {
	m.loans[loanKey(loan.Borrower, loan.LoanID)] = loan.Clone()
	return nil
}

func (m *mockState) NextLoanID(borrower ethcommon.Address) (uint64, error) {
	id := m.seq[borrower.Hex()]
	m.seq[borrower.Hex()] = id + 1
	return id, nil
}

func (m *mockState) OfferNonceUsed(signer ethcommon.Address, nonce uint64) (bool, error) {
	return m.nonces[fmt.Sprintf("%s/%d", signer.Hex(), nonce)], nil
}

func (m *mockState) MarkOfferNonce(signer ethcommon.Address, nonce uint64) error {
	m.nonces[fmt.Sprintf("%s/%d", signer.Hex(), nonce)] = true
	return nil
}

func (m *mockState) CollectionOutstanding(poolID string, collection ethcommon.Address) (*big.Int, error) {
	if amount, ok := m.outstanding[poolID+"/"+collection.Hex()]; ok {
		return new(big.Int).Set(amount), nil
	}
	return big.NewInt(0), nil
}

func (m *mockState) SetCollectionOutstanding(poolID string, collection ethcommon.Address, amount *big.Int) error {
	m.outstanding[poolID+"/"+collection.Hex()] = new(big.Int).Set(amount)
	return nil
}

type fundsCall struct {
	to       ethcommon.Address
	amount   *big.Int
	rewards  *big.Int
	invested *big.Int
	origin   string
}

type mockPool struct {
	record   *pool.Pool
	loanErr  error
	sent     []fundsCall
	received []fundsCall
}

func newMockPool() *mockPool {
	return &mockPool{record: &pool.Pool{ID: "pool-1", Active: true, Investing: true}}
}

func (m *mockPool) PoolID() string { return m.record.ID }

func (m *mockPool) GetPool() (*pool.Pool, error) { return m.record, nil }

func (m *mockPool) CheckLoan(ethcommon.Address, *big.Int, *big.Int) error { return m.loanErr }

func (m *mockPool) SendFunds(caller, to ethcommon.Address, amount *big.Int) error {
	m.sent = append(m.sent, fundsCall{to: to, amount: new(big.Int).Set(amount)})
	return nil
}

func (m *mockPool) ReceiveFunds(caller, from ethcommon.Address, amount, rewardsAmount, investedAmount *big.Int, origin string) error {
	m.received = append(m.received, fundsCall{
		to:       from,
		amount:   new(big.Int).Set(amount),
		rewards:  new(big.Int).Set(rewardsAmount),
		invested: new(big.Int).Set(investedAmount),
		origin:   origin,
	})
	return nil
}

type custodyCall struct {
	collection ethcommon.Address
	tokenID    *big.Int
	to         ethcommon.Address
}

type mockVault struct {
	stored    []custodyCall
	released  []custodyCall
	verifyErr error
}

func (m *mockVault) VerifyDeposit(owner, collection ethcommon.Address, tokenID *big.Int) error {
	return m.verifyErr
}

func (m *mockVault) StoreCollateral(caller, owner, collection ethcommon.Address, tokenID *big.Int, asset ethcommon.Address, createDelegation bool) error {
	m.stored = append(m.stored, custodyCall{collection: collection, tokenID: new(big.Int).Set(tokenID)})
	return nil
}

func (m *mockVault) TransferFromLoan(caller, to, collection ethcommon.Address, tokenID *big.Int) error {
	m.released = append(m.released, custodyCall{collection: collection, tokenID: new(big.Int).Set(tokenID), to: to})
	return nil
}

type openedLiquidation struct {
	collateral Collateral
	principal  *big.Int
	interest   *big.Int
	aprBps     uint64
}

type mockOpener struct {
	opened []openedLiquidation
}

func (m *mockOpener) OpenLiquidation(caller, borrower ethcommon.Address, loanID uint64, collateral Collateral, principal, interestAmount *big.Int, aprBps uint64) error {
	m.opened = append(m.opened, openedLiquidation{
		collateral: collateral,
		principal:  new(big.Int).Set(principal),
		interest:   new(big.Int).Set(interestAmount),
		aprBps:     aprBps,
	})
	return nil
}

type testHarness struct {
	engine *Engine
	state  *mockState
	pool   *mockPool
	vault  *mockVault
	opener *mockOpener
	key    *ecdsa.PrivateKey
	now    int64
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()
	key, err := ethcrypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	signer := ethcrypto.PubkeyToAddress(key.PublicKey)
	h := &testHarness{
		state:  newMockState(),
		pool:   newMockPool(),
		vault:  &mockVault{},
		opener: &mockOpener{},
		key:    key,
		now:    1_000_000,
	}
	h.engine = NewEngine(testOwner, testController, testAsset, signer, testDomain())
	h.engine.SetState(h.state)
	h.engine.SetPool(h.pool)
	h.engine.SetVault(h.vault)
	h.engine.SetLiquidationOpener(h.opener)
	h.engine.SetNowFunc(func() int64 { return h.now })
	return h
}

func testDomain() Domain {
	return Domain{Name: "nftlend-loans", Version: "1", ChainID: 1, VerifyingContract: testController}
}

func (h *testHarness) offer(amount int64, interestBps uint64, termSeconds int64, nonce uint64) *Offer {
	return &Offer{
		Borrower:    testBorrower,
		Amount:      big.NewInt(amount),
		InterestBps: interestBps,
		Maturity:    h.now + termSeconds,
		Deadline:    h.now + day,
		Nonce:       nonce,
		Collaterals: []Collateral{{Collection: testCollection, TokenID: big.NewInt(1), Amount: big.NewInt(amount)}},
	}
}

func (h *testHarness) sign(t *testing.T, offer *Offer) []byte {
	t.Helper()
	sig, err := SignOffer(offer, testDomain(), h.key)
	if err != nil {
		t.Fatalf("sign offer: %v", err)
	}
	return sig
}

func (h *testHarness) reserveAndStart(t *testing.T, offer *Offer) *Loan {
	t.Helper()
	loan, err := h.engine.Reserve(testBorrower, offer, h.sign(t, offer))
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := h.engine.Start(testBorrower, loan.LoanID, false); err != nil {
		t.Fatalf("start: %v", err)
	}
	return loan
}

func TestReserveVerifiesSignature(t *testing.T) {
	h := newTestHarness(t)
	offer := h.offer(1000, 1000, 30*day, 1)

	otherKey, err := ethcrypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	sig, err := SignOffer(offer, testDomain(), otherKey)
	if err != nil {
		t.Fatalf("sign offer: %v", err)
	}
	if _, err := h.engine.Reserve(testBorrower, offer, sig); !errors.Is(err, ErrOfferSignatureInvalid) {
		t.Fatalf("expected ErrOfferSignatureInvalid, got %v", err)
	}

	if _, err := h.engine.Reserve(testBorrower, offer, h.sign(t, offer)); err != nil {
		t.Fatalf("reserve with underwriting key: %v", err)
	}
}

func TestReserveRejectsReplayedNonce(t *testing.T) {
	h := newTestHarness(t)
	offer := h.offer(1000, 1000, 30*day, 7)
	sig := h.sign(t, offer)
	if _, err := h.engine.Reserve(testBorrower, offer, sig); err != nil {
		t.Fatalf("first reserve: %v", err)
	}
	if _, err := h.engine.Reserve(testBorrower, offer, sig); !errors.Is(err, ErrOfferNonceUsed) {
		t.Fatalf("expected ErrOfferNonceUsed, got %v", err)
	}
}

func TestReserveRejectsAmountMismatch(t *testing.T) {
	h := newTestHarness(t)
	offer := h.offer(1000, 1000, 30*day, 1)
	offer.Collaterals[0].Amount = big.NewInt(900)
	if _, err := h.engine.Reserve(testBorrower, offer, h.sign(t, offer)); !errors.Is(err, ErrAmountMismatch) {
		t.Fatalf("expected ErrAmountMismatch, got %v", err)
	}
}

func TestReserveRejectsExpiredOffer(t *testing.T) {
	h := newTestHarness(t)
	offer := h.offer(1000, 1000, 30*day, 1)
	offer.Deadline = h.now - 1
	if _, err := h.engine.Reserve(testBorrower, offer, h.sign(t, offer)); !errors.Is(err, ErrOfferExpired) {
		t.Fatalf("expected ErrOfferExpired, got %v", err)
	}
}

func TestReserveConsultsLiquidityControls(t *testing.T) {
	h := newTestHarness(t)
	h.pool.loanErr = pool.ErrCollectionBorrowLimit
	offer := h.offer(1000, 1000, 30*day, 1)
	if _, err := h.engine.Reserve(testBorrower, offer, h.sign(t, offer)); !errors.Is(err, pool.ErrCollectionBorrowLimit) {
		t.Fatalf("expected ErrCollectionBorrowLimit, got %v", err)
	}
}

func TestReserveRequiresCollateralInHand(t *testing.T) {
	h := newTestHarness(t)
	h.vault.verifyErr = vault.ErrMissingApproval
	offer := h.offer(1000, 1000, 30*day, 1)
	if _, err := h.engine.Reserve(testBorrower, offer, h.sign(t, offer)); !errors.Is(err, vault.ErrMissingApproval) {
		t.Fatalf("expected ErrMissingApproval, got %v", err)
	}
	// The failed reservation must not burn the offer nonce.
	h.vault.verifyErr = nil
	if _, err := h.engine.Reserve(testBorrower, offer, h.sign(t, offer)); err != nil {
		t.Fatalf("reserve after clearing approval: %v", err)
	}
}

func TestStartMovesCollateralAndFunds(t *testing.T) {
	h := newTestHarness(t)
	loan := h.reserveAndStart(t, h.offer(1000, 1000, 30*day, 1))

	if len(h.vault.stored) != 1 {
		t.Fatalf("expected 1 custody call, got %d", len(h.vault.stored))
	}
	if len(h.pool.sent) != 1 || h.pool.sent[0].amount.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("unexpected funds draw: %+v", h.pool.sent)
	}
	if h.pool.sent[0].to != testBorrower {
		t.Fatalf("principal sent to %s", h.pool.sent[0].to.Hex())
	}

	stored, err := h.engine.GetLoan(testBorrower, loan.LoanID)
	if err != nil {
		t.Fatalf("get loan: %v", err)
	}
	if !stored.Started || stored.StartTime != h.now {
		t.Fatalf("loan not started: %+v", stored)
	}
	outstanding, _ := h.state.CollectionOutstanding("pool-1", testCollection)
	if outstanding.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("outstanding = %s, want 1000", outstanding)
	}
}

func TestPayChargesMinimumInterestPeriod(t *testing.T) {
	h := newTestHarness(t)
	loan := h.reserveAndStart(t, h.offer(1000, 1000, 30*day, 1))

	// Repaying one day in still bills the seven-day minimum:
	// 1000 * 1000bps * 7d / (10000 * 30d) = 23 (floored).
	h.now += day
	if err := h.engine.Pay(testBorrower, loan.LoanID); err != nil {
		t.Fatalf("pay: %v", err)
	}
	if len(h.pool.received) != 1 {
		t.Fatalf("expected 1 settlement, got %d", len(h.pool.received))
	}
	got := h.pool.received[0]
	if got.amount.Cmp(big.NewInt(1000)) != 0 || got.rewards.Cmp(big.NewInt(23)) != 0 {
		t.Fatalf("settlement = %s rewards %s, want 1000/23", got.amount, got.rewards)
	}
	// The pool debits amount+rewards, so the borrower pays exactly 1023.
	if debit := new(big.Int).Add(got.amount, got.rewards); debit.Cmp(big.NewInt(1023)) != 0 {
		t.Fatalf("borrower debit = %s, want 1023", debit)
	}
	if got.invested.Cmp(big.NewInt(1000)) != 0 || got.origin != pool.FundsOriginLoanPayment {
		t.Fatalf("unexpected settlement metadata: %+v", got)
	}

	stored, _ := h.engine.GetLoan(testBorrower, loan.LoanID)
	if !stored.Paid || stored.PaidInterest.Cmp(big.NewInt(23)) != 0 {
		t.Fatalf("loan not settled: %+v", stored)
	}
	if len(h.vault.released) != 1 || h.vault.released[0].to != testBorrower {
		t.Fatalf("collateral not returned: %+v", h.vault.released)
	}
	outstanding, _ := h.state.CollectionOutstanding("pool-1", testCollection)
	if outstanding.Sign() != 0 {
		t.Fatalf("outstanding not cleared: %s", outstanding)
	}
}

func TestPayRoundsElapsedUpToAccrualBoundary(t *testing.T) {
	h := newTestHarness(t)
	loan := h.reserveAndStart(t, h.offer(1000, 1000, 30*day, 1))

	// One second past day ten bills eleven full days:
	// 1000 * 1000bps * 11d / (10000 * 30d) = 36; ten exact days would be 33.
	h.now += 10*day + 1
	if err := h.engine.Pay(testBorrower, loan.LoanID); err != nil {
		t.Fatalf("pay: %v", err)
	}
	if got := h.pool.received[0].rewards; got.Cmp(big.NewInt(36)) != 0 {
		t.Fatalf("interest = %s, want 36", got)
	}
}

func TestPayRejectedAfterMaturity(t *testing.T) {
	h := newTestHarness(t)
	loan := h.reserveAndStart(t, h.offer(1000, 1000, 30*day, 1))
	h.now += 31 * day
	if err := h.engine.Pay(testBorrower, loan.LoanID); !errors.Is(err, ErrLoanMatured) {
		t.Fatalf("expected ErrLoanMatured, got %v", err)
	}
}

func TestCancelOnlyBeforeStart(t *testing.T) {
	h := newTestHarness(t)
	offer := h.offer(1000, 1000, 30*day, 1)
	loan, err := h.engine.Reserve(testBorrower, offer, h.sign(t, offer))
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := h.engine.Cancel(testBorrower, loan.LoanID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	stored, _ := h.engine.GetLoan(testBorrower, loan.LoanID)
	if !stored.Canceled {
		t.Fatalf("loan not canceled: %+v", stored)
	}
	if err := h.engine.Start(testBorrower, loan.LoanID, false); !errors.Is(err, ErrLoanTerminal) {
		t.Fatalf("expected ErrLoanTerminal, got %v", err)
	}

	started := h.reserveAndStart(t, h.offer(500, 1000, 30*day, 2))
	if err := h.engine.Cancel(testBorrower, started.LoanID); !errors.Is(err, ErrLoanAlreadyStarted) {
		t.Fatalf("expected ErrLoanAlreadyStarted, got %v", err)
	}
}

func TestInvalidateRequiresOwner(t *testing.T) {
	h := newTestHarness(t)
	offer := h.offer(1000, 1000, 30*day, 1)
	loan, err := h.engine.Reserve(testBorrower, offer, h.sign(t, offer))
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := h.engine.Invalidate(testBorrower, testBorrower, loan.LoanID); err == nil {
		t.Fatalf("expected owner check to fail")
	}
	if err := h.engine.Invalidate(testOwner, testBorrower, loan.LoanID); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	stored, _ := h.engine.GetLoan(testBorrower, loan.LoanID)
	if !stored.Invalidated {
		t.Fatalf("loan not invalidated: %+v", stored)
	}
}

func TestSettleDefaultFansOutPerCollateral(t *testing.T) {
	h := newTestHarness(t)
	// Half-year term so the annualized rate is exactly double the term rate.
	term := yearSeconds / 2
	offer := h.offer(1000, 500, int64(term), 1)
	offer.Collaterals = nil
	for i := int64(0); i < 5; i++ {
		offer.Collaterals = append(offer.Collaterals, Collateral{
			Collection: testCollection,
			TokenID:    big.NewInt(i + 1),
			Amount:     big.NewInt(200),
		})
	}
	loan := h.reserveAndStart(t, offer)

	h.now = loan.Maturity + 1
	if err := h.engine.SettleDefault(testOwner, testBorrower, loan.LoanID); err != nil {
		t.Fatalf("settle default: %v", err)
	}
	if len(h.opener.opened) != 5 {
		t.Fatalf("expected 5 liquidations, got %d", len(h.opener.opened))
	}
	for i, opened := range h.opener.opened {
		if opened.principal.Cmp(big.NewInt(200)) != 0 {
			t.Fatalf("liquidation %d principal = %s, want 200", i, opened.principal)
		}
		// Full-term interest is 50; each collateral carries 200/1000 of it.
		if opened.interest.Cmp(big.NewInt(10)) != 0 {
			t.Fatalf("liquidation %d interest = %s, want 10", i, opened.interest)
		}
		if opened.aprBps != 1000 {
			t.Fatalf("liquidation %d apr = %d, want 1000", i, opened.aprBps)
		}
		if opened.collateral.TokenID.Cmp(big.NewInt(int64(i+1))) != 0 {
			t.Fatalf("liquidation %d out of order: token %s", i, opened.collateral.TokenID)
		}
	}

	stored, _ := h.engine.GetLoan(testBorrower, loan.LoanID)
	if !stored.Defaulted {
		t.Fatalf("loan not defaulted: %+v", stored)
	}
	outstanding, _ := h.state.CollectionOutstanding("pool-1", testCollection)
	if outstanding.Sign() != 0 {
		t.Fatalf("outstanding not cleared: %s", outstanding)
	}
	if err := h.engine.SettleDefault(testOwner, testBorrower, loan.LoanID); !errors.Is(err, ErrLoanTerminal) {
		t.Fatalf("expected ErrLoanTerminal on second settle, got %v", err)
	}
}

func TestSettleDefaultRequiresMaturity(t *testing.T) {
	h := newTestHarness(t)
	loan := h.reserveAndStart(t, h.offer(1000, 1000, 30*day, 1))
	if err := h.engine.SettleDefault(testOwner, testBorrower, loan.LoanID); !errors.Is(err, ErrLoanNotMatured) {
		t.Fatalf("expected ErrLoanNotMatured, got %v", err)
	}
	h.now = loan.Maturity + 1
	if err := h.engine.SettleDefault(testBorrower, testBorrower, loan.LoanID); err == nil {
		t.Fatalf("expected owner check to fail")
	}
}
