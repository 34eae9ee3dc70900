package state

import (
	"math/big"
	"testing"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"nftlend/native/liquidation"
	"nftlend/native/loan"
	"nftlend/native/otc"
	"nftlend/native/pool"
	"nftlend/native/vault"
	"nftlend/storage"
)

func newManager(t *testing.T) *Manager {
	t.Helper()
	return NewManager(storage.NewMemDB())
}

func TestPoolRoundTrip(t *testing.T) {
	m := newManager(t)

	missing, err := m.GetPool("pool-1")
	require.NoError(t, err)
	require.Nil(t, missing)

	p := &pool.Pool{
		ID:             "pool-1",
		Asset:          ethcommon.HexToAddress("0xE0"),
		FundsAvailable: big.NewInt(1000),
		FundsInvested:  big.NewInt(250),
		TotalSharesBps: big.NewInt(1250),
		Active:         true,
	}
	require.NoError(t, m.PutPool(p))

	got, err := m.GetPool("pool-1")
	require.NoError(t, err)
	require.Equal(t, p.Asset, got.Asset)
	require.Zero(t, got.FundsAvailable.Cmp(big.NewInt(1000)))
	require.True(t, got.Active)
}

func TestLenderRosterDeduplicates(t *testing.T) {
	m := newManager(t)
	addr := ethcommon.HexToAddress("0x02")

	require.NoError(t, m.AppendLender("pool-1", addr))
	require.NoError(t, m.AppendLender("pool-1", addr))

	addrs, err := m.LenderAddresses("pool-1")
	require.NoError(t, err)
	require.Len(t, addrs, 1)

	require.NoError(t, m.PutLender("pool-1", &pool.Lender{
		Address:          addr,
		CurrentDeposited: big.NewInt(500),
		SharesBps:        big.NewInt(500),
		ActiveForRewards: true,
	}))
	lender, err := m.GetLender("pool-1", addr)
	require.NoError(t, err)
	require.Zero(t, lender.SharesBps.Cmp(big.NewInt(500)))
}

func TestLoanSequenceIsPerBorrower(t *testing.T) {
	m := newManager(t)
	alice := ethcommon.HexToAddress("0x02")
	bob := ethcommon.HexToAddress("0x03")

	for want := uint64(0); want < 3; want++ {
		id, err := m.NextLoanID(alice)
		require.NoError(t, err)
		require.Equal(t, want, id)
	}
	id, err := m.NextLoanID(bob)
	require.NoError(t, err)
	require.Equal(t, uint64(0), id)
}

func TestLoanRecordRoundTrip(t *testing.T) {
	m := newManager(t)
	borrower := ethcommon.HexToAddress("0x02")

	_, ok, err := m.LoanGet(borrower, 0)
	require.NoError(t, err)
	require.False(t, ok)

	l := &loan.Loan{
		Borrower:    borrower,
		LoanID:      0,
		Amount:      big.NewInt(1000),
		InterestBps: 500,
		Maturity:    2_000_000,
		Collaterals: []loan.Collateral{{
			Collection: ethcommon.HexToAddress("0xC0"),
			TokenID:    big.NewInt(7),
			Amount:     big.NewInt(1000),
		}},
		PaidPrincipal: big.NewInt(0),
		PaidInterest:  big.NewInt(0),
		Started:       true,
		StartTime:     1_000_000,
	}
	require.NoError(t, m.LoanPut(l))

	got, ok, err := m.LoanGet(borrower, 0)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, got.Started)
	require.Len(t, got.Collaterals, 1)
	require.Zero(t, got.Collaterals[0].TokenID.Cmp(big.NewInt(7)))
}

func TestOfferNoncesAreScopedToSigner(t *testing.T) {
	m := newManager(t)
	signerA := ethcommon.HexToAddress("0x0A")
	signerB := ethcommon.HexToAddress("0x0B")

	require.NoError(t, m.MarkOfferNonce(signerA, 1))

	used, err := m.OfferNonceUsed(signerA, 1)
	require.NoError(t, err)
	require.True(t, used)

	used, err = m.OfferNonceUsed(signerB, 1)
	require.NoError(t, err)
	require.False(t, used)
}

func TestCollectionOutstandingDefaultsToZero(t *testing.T) {
	m := newManager(t)
	collection := ethcommon.HexToAddress("0xC0")

	amount, err := m.CollectionOutstanding("pool-1", collection)
	require.NoError(t, err)
	require.Zero(t, amount.Sign())

	require.NoError(t, m.SetCollectionOutstanding("pool-1", collection, big.NewInt(750)))
	amount, err = m.CollectionOutstanding("pool-1", collection)
	require.NoError(t, err)
	require.Zero(t, amount.Cmp(big.NewInt(750)))
}

func TestCustodyAndPunkOfferLifecycle(t *testing.T) {
	m := newManager(t)
	collection := ethcommon.HexToAddress("0xC1")
	tokenID := big.NewInt(42)
	vaultAddr := ethcommon.HexToAddress("0xAA")

	_, ok, err := m.CustodyGet(collection, tokenID)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, m.SetPunkOffer(collection, tokenID, vaultAddr))
	to, ok, err := m.PunkOffer(collection, tokenID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, vaultAddr, to)

	require.NoError(t, m.ClearPunkOffer(collection, tokenID))
	_, ok, err = m.PunkOffer(collection, tokenID)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, m.CustodyPut(&vault.Custody{
		Collection: collection,
		TokenID:    tokenID,
		Owner:      ethcommon.HexToAddress("0x02"),
		StoredAt:   1_000_000,
	}))
	c, ok, err := m.CustodyGet(collection, tokenID)
	require.NoError(t, err)
	require.True(t, ok)
	require.False(t, c.AdminWithdrawn)

	require.NoError(t, m.CustodyDelete(collection, tokenID))
	_, ok, err = m.CustodyGet(collection, tokenID)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestLiquidationIndexes(t *testing.T) {
	m := newManager(t)
	borrower := ethcommon.HexToAddress("0x02")
	collection := ethcommon.HexToAddress("0xC0")
	tokenID := big.NewInt(7)

	lid := liquidation.ComputeLID(collection, tokenID, 1_000_000)
	require.NoError(t, m.LiquidationPut(&liquidation.Liquidation{
		LID:            lid,
		Borrower:       borrower,
		LoanID:         3,
		Collection:     collection,
		TokenID:        tokenID,
		Principal:      big.NewInt(1000),
		InterestAmount: big.NewInt(50),
	}))
	require.NoError(t, m.AppendLoanLiquidation(borrower, 3, lid))
	require.NoError(t, m.SetTokenLiquidation(collection, tokenID, lid))

	lids, err := m.LoanLiquidations(borrower, 3)
	require.NoError(t, err)
	require.Equal(t, []string{lid}, lids)

	got, ok, err := m.TokenLiquidation(collection, tokenID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, lid, got)

	require.NoError(t, m.ClearTokenLiquidation(collection, tokenID))
	_, ok, err = m.TokenLiquidation(collection, tokenID)
	require.NoError(t, err)
	require.False(t, ok)

	record, ok, err := m.LiquidationGet(lid)
	require.NoError(t, err)
	require.True(t, ok)
	require.Zero(t, record.Principal.Cmp(big.NewInt(1000)))
}

func TestOTCInstanceIndex(t *testing.T) {
	m := newManager(t)
	instance := &otc.Instance{
		ID:      "instance-1",
		Address: ethcommon.HexToAddress("0x30"),
	}
	require.NoError(t, m.OTCInstancePut(instance))

	instance.Initialized = true
	instance.Lender = ethcommon.HexToAddress("0x03")
	require.NoError(t, m.OTCInstancePut(instance))

	ids, err := m.OTCInstanceIDs()
	require.NoError(t, err)
	require.Equal(t, []string{"instance-1"}, ids)

	got, ok, err := m.OTCInstanceGet("instance-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, got.Initialized)
}
