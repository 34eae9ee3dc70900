package otc

import (
	"errors"
	"testing"

	ethcommon "github.com/ethereum/go-ethereum/common"
)

var (
	testOwner   = ethcommon.HexToAddress("0x0000000000000000000000000000000000000001")
	testLender  = ethcommon.HexToAddress("0x0000000000000000000000000000000000000003")
	testFactory = ethcommon.HexToAddress("0x0000000000000000000000000000000000000030")
)

type mockState struct {
	instances map[string]*Instance
	order     []string
}

func newMockState() *mockState {
	return &mockState{instances: make(map[string]*Instance)}
}

func (m *mockState) OTCInstanceGet(id string) (*Instance, bool, error) {
	i, ok := m.instances[id]
	if !ok {
		return nil, false, nil
	}
	return i.Clone(), true, nil
}

func (m *mockState) OTCInstancePut(instance *Instance) error {
	if _, ok := m.instances[instance.ID]; !ok {
		m.order = append(m.order, instance.ID)
	}
	m.instances[instance.ID] = instance.Clone()
	return nil
}

func (m *mockState) OTCInstanceIDs() ([]string, error) {
	return append([]string(nil), m.order...), nil
}

type claimCall struct {
	caller  ethcommon.Address
	claimer ethcommon.Address
	lid     string
}

type mockClaimer struct {
	claims []claimCall
	err    error
}

func (m *mockClaimer) OTCClaim(caller, claimer ethcommon.Address, lid string) error {
	if m.err != nil {
		return m.err
	}
	m.claims = append(m.claims, claimCall{caller: caller, claimer: claimer, lid: lid})
	return nil
}

func newTestEngine(t *testing.T) (*Engine, *mockState, *mockClaimer) {
	t.Helper()
	state := newMockState()
	claimer := &mockClaimer{}
	engine := NewEngine(testOwner, testFactory)
	engine.SetState(state)
	engine.SetClaimer(claimer)
	engine.SetNowFunc(func() int64 { return 1_000_000 })
	return engine, state, claimer
}

func TestCreateInstanceDerivesStableAddress(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	engine.SetIDFunc(func() string { return "instance-1" })

	first, err := engine.CreateInstance(testOwner)
	if err != nil {
		t.Fatalf("create instance: %v", err)
	}
	if first.Address == (ethcommon.Address{}) {
		t.Fatalf("instance address not derived")
	}
	if first.Initialized {
		t.Fatalf("fresh clone must not be initialized")
	}

	// Same factory and id always derive the same address.
	engine2, _, _ := newTestEngine(t)
	engine2.SetIDFunc(func() string { return "instance-1" })
	second, err := engine2.CreateInstance(testOwner)
	if err != nil {
		t.Fatalf("create instance: %v", err)
	}
	if first.Address != second.Address {
		t.Fatalf("derived addresses differ: %s vs %s", first.Address.Hex(), second.Address.Hex())
	}

	if _, err := engine.CreateInstance(testLender); err == nil {
		t.Fatalf("expected owner check to fail")
	}
}

func TestInitializeRunsOnce(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	instance, err := engine.CreateInstance(testOwner)
	if err != nil {
		t.Fatalf("create instance: %v", err)
	}
	if err := engine.Initialize(testOwner, instance.ID, ethcommon.Address{}); !errors.Is(err, ErrZeroLender) {
		t.Fatalf("expected ErrZeroLender, got %v", err)
	}
	if err := engine.Initialize(testOwner, instance.ID, testLender); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if err := engine.Initialize(testOwner, instance.ID, testLender); !errors.Is(err, ErrAlreadyInitialized) {
		t.Fatalf("expected ErrAlreadyInitialized, got %v", err)
	}
	stored, err := engine.GetInstance(instance.ID)
	if err != nil {
		t.Fatalf("get instance: %v", err)
	}
	if !stored.Initialized || stored.Lender != testLender {
		t.Fatalf("instance not bound: %+v", stored)
	}
}

func TestClaimGatedOnDesignatedLender(t *testing.T) {
	engine, _, claimer := newTestEngine(t)
	instance, err := engine.CreateInstance(testOwner)
	if err != nil {
		t.Fatalf("create instance: %v", err)
	}

	if err := engine.Claim(testLender, instance.ID, "0xabc"); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
	if err := engine.Initialize(testOwner, instance.ID, testLender); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if err := engine.Claim(testOwner, instance.ID, "0xabc"); !errors.Is(err, ErrNotDesignatedLender) {
		t.Fatalf("expected ErrNotDesignatedLender, got %v", err)
	}
	if err := engine.Claim(testLender, instance.ID, "0xabc"); err != nil {
		t.Fatalf("claim: %v", err)
	}

	if len(claimer.claims) != 1 {
		t.Fatalf("expected 1 claim, got %d", len(claimer.claims))
	}
	got := claimer.claims[0]
	if got.caller != instance.Address || got.claimer != testLender || got.lid != "0xabc" {
		t.Fatalf("unexpected claim: %+v", got)
	}
}

func TestClaimPropagatesLiquidationErrors(t *testing.T) {
	engine, _, claimer := newTestEngine(t)
	instance, err := engine.CreateInstance(testOwner)
	if err != nil {
		t.Fatalf("create instance: %v", err)
	}
	if err := engine.Initialize(testOwner, instance.ID, testLender); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	claimer.err = errors.New("liquidation engine: lender period over")
	if err := engine.Claim(testLender, instance.ID, "0xabc"); err == nil {
		t.Fatalf("expected claim error to propagate")
	}
}
