package state

import (
	"encoding/json"
	"fmt"
	"math/big"
	"sync"

	ethcommon "github.com/ethereum/go-ethereum/common"

	"nftlend/core/types"
	"nftlend/native/liquidation"
	"nftlend/native/loan"
	"nftlend/native/otc"
	"nftlend/native/pool"
	"nftlend/native/vault"
	"nftlend/storage"
)

// Key prefixes partition the flat key-value store per concern.
const (
	prefixPool            = "pool/record/"
	prefixPoolLender      = "pool/lender/"
	prefixPoolLenderList  = "pool/lenders/"
	prefixPoolWhitelist   = "pool/whitelist/"
	prefixAccount         = "account/"
	prefixNFTOwner        = "nft/owner/"
	prefixNFTApproval     = "nft/approval/"
	prefixPunkOffer       = "nft/punkoffer/"
	prefixCustody         = "vault/custody/"
	prefixLoan            = "loan/record/"
	prefixLoanSeq         = "loan/seq/"
	prefixOfferNonce      = "loan/nonce/"
	prefixOutstanding     = "loan/outstanding/"
	prefixLiquidation     = "liq/record/"
	prefixLiquidationLoan = "liq/loan/"
	prefixLiquidationTok  = "liq/token/"
	prefixOTCInstance     = "otc/instance/"
	keyOTCInstanceIDs     = "otc/ids"
)

// Manager persists protocol state in a key-value store and satisfies the
// state interfaces of every engine. Records are stored as JSON; a single
// mutex serializes mutations the way the engines expect.
type Manager struct {
	mu sync.Mutex
	db storage.Database
}

// NewManager wraps a database in a state manager.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

func (m *Manager) getJSON(key string, out interface{}) (bool, error) {
	raw, err := m.db.Get([]byte(key))
	if err == storage.ErrKeyNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("state: decode %s: %w", key, err)
	}
	return true, nil
}

func (m *Manager) putJSON(key string, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("state: encode %s: %w", key, err)
	}
	return m.db.Put([]byte(key), raw)
}

func tokenKey(prefix string, collection ethcommon.Address, tokenID *big.Int) string {
	return prefix + collection.Hex() + "/" + tokenID.String()
}

// --- pool ---

func (m *Manager) GetPool(poolID string) (*pool.Pool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var p pool.Pool
	ok, err := m.getJSON(prefixPool+poolID, &p)
	if err != nil || !ok {
		return nil, err
	}
	return &p, nil
}

func (m *Manager) PutPool(p *pool.Pool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.putJSON(prefixPool+p.ID, p)
}

func (m *Manager) GetLender(poolID string, addr ethcommon.Address) (*pool.Lender, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var l pool.Lender
	ok, err := m.getJSON(prefixPoolLender+poolID+"/"+addr.Hex(), &l)
	if err != nil || !ok {
		return nil, err
	}
	return &l, nil
}

func (m *Manager) PutLender(poolID string, lender *pool.Lender) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.putJSON(prefixPoolLender+poolID+"/"+lender.Address.Hex(), lender)
}

func (m *Manager) LenderAddresses(poolID string) ([]ethcommon.Address, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var addrs []ethcommon.Address
	if _, err := m.getJSON(prefixPoolLenderList+poolID, &addrs); err != nil {
		return nil, err
	}
	return addrs, nil
}

func (m *Manager) AppendLender(poolID string, addr ethcommon.Address) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := prefixPoolLenderList + poolID
	var addrs []ethcommon.Address
	if _, err := m.getJSON(key, &addrs); err != nil {
		return err
	}
	for _, existing := range addrs {
		if existing == addr {
			return nil
		}
	}
	return m.putJSON(key, append(addrs, addr))
}

func (m *Manager) IsWhitelisted(poolID string, addr ethcommon.Address) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var allowed bool
	if _, err := m.getJSON(prefixPoolWhitelist+poolID+"/"+addr.Hex(), &allowed); err != nil {
		return false, err
	}
	return allowed, nil
}

func (m *Manager) SetWhitelisted(poolID string, addr ethcommon.Address, allowed bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.putJSON(prefixPoolWhitelist+poolID+"/"+addr.Hex(), allowed)
}

func (m *Manager) GetAccount(asset, addr ethcommon.Address) (*types.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var acc types.Account
	ok, err := m.getJSON(prefixAccount+asset.Hex()+"/"+addr.Hex(), &acc)
	if err != nil || !ok {
		return nil, err
	}
	return &acc, nil
}

func (m *Manager) PutAccount(asset, addr ethcommon.Address, account *types.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.putJSON(prefixAccount+asset.Hex()+"/"+addr.Hex(), account)
}

// --- vault ---

func (m *Manager) NFTOwner(collection ethcommon.Address, tokenID *big.Int) (ethcommon.Address, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var owner ethcommon.Address
	if _, err := m.getJSON(tokenKey(prefixNFTOwner, collection, tokenID), &owner); err != nil {
		return ethcommon.Address{}, err
	}
	return owner, nil
}

func (m *Manager) SetNFTOwner(collection ethcommon.Address, tokenID *big.Int, owner ethcommon.Address) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.putJSON(tokenKey(prefixNFTOwner, collection, tokenID), owner)
}

func (m *Manager) NFTApproved(collection ethcommon.Address, tokenID *big.Int) (ethcommon.Address, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var approved ethcommon.Address
	if _, err := m.getJSON(tokenKey(prefixNFTApproval, collection, tokenID), &approved); err != nil {
		return ethcommon.Address{}, err
	}
	return approved, nil
}

func (m *Manager) SetNFTApproved(collection ethcommon.Address, tokenID *big.Int, approved ethcommon.Address) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.putJSON(tokenKey(prefixNFTApproval, collection, tokenID), approved)
}

func (m *Manager) PunkOffer(collection ethcommon.Address, tokenID *big.Int) (ethcommon.Address, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var to ethcommon.Address
	ok, err := m.getJSON(tokenKey(prefixPunkOffer, collection, tokenID), &to)
	if err != nil {
		return ethcommon.Address{}, false, err
	}
	return to, ok, nil
}

func (m *Manager) SetPunkOffer(collection ethcommon.Address, tokenID *big.Int, to ethcommon.Address) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.putJSON(tokenKey(prefixPunkOffer, collection, tokenID), to)
}

func (m *Manager) ClearPunkOffer(collection ethcommon.Address, tokenID *big.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.db.Delete([]byte(tokenKey(prefixPunkOffer, collection, tokenID)))
}

func (m *Manager) CustodyGet(collection ethcommon.Address, tokenID *big.Int) (*vault.Custody, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var c vault.Custody
	ok, err := m.getJSON(tokenKey(prefixCustody, collection, tokenID), &c)
	if err != nil || !ok {
		return nil, false, err
	}
	return &c, true, nil
}

func (m *Manager) CustodyPut(custody *vault.Custody) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.putJSON(tokenKey(prefixCustody, custody.Collection, custody.TokenID), custody)
}

func (m *Manager) CustodyDelete(collection ethcommon.Address, tokenID *big.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.db.Delete([]byte(tokenKey(prefixCustody, collection, tokenID)))
}

// --- loan ---

func loanRecordKey(borrower ethcommon.Address, loanID uint64) string {
	return fmt.Sprintf("%s%s/%d", prefixLoan, borrower.Hex(), loanID)
}

func (m *Manager) LoanGet(borrower ethcommon.Address, loanID uint64) (*loan.Loan, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var l loan.Loan
	ok, err := m.getJSON(loanRecordKey(borrower, loanID), &l)
	if err != nil || !ok {
		return nil, false, err
	}
	return &l, true, nil
}

func (m *Manager) LoanPut(l *loan.Loan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.putJSON(loanRecordKey(l.Borrower, l.LoanID), l)
}

func (m *Manager) NextLoanID(borrower ethcommon.Address) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := prefixLoanSeq + borrower.Hex()
	var next uint64
	if _, err := m.getJSON(key, &next); err != nil {
		return 0, err
	}
	if err := m.putJSON(key, next+1); err != nil {
		return 0, err
	}
	return next, nil
}

func (m *Manager) OfferNonceUsed(signer ethcommon.Address, nonce uint64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.db.Has([]byte(fmt.Sprintf("%s%s/%d", prefixOfferNonce, signer.Hex(), nonce)))
}

func (m *Manager) MarkOfferNonce(signer ethcommon.Address, nonce uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.db.Put([]byte(fmt.Sprintf("%s%s/%d", prefixOfferNonce, signer.Hex(), nonce)), []byte{1})
}

func (m *Manager) CollectionOutstanding(poolID string, collection ethcommon.Address) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	amount := big.NewInt(0)
	if _, err := m.getJSON(prefixOutstanding+poolID+"/"+collection.Hex(), amount); err != nil {
		return nil, err
	}
	return amount, nil
}

func (m *Manager) SetCollectionOutstanding(poolID string, collection ethcommon.Address, amount *big.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.putJSON(prefixOutstanding+poolID+"/"+collection.Hex(), amount)
}

// --- liquidation ---

func (m *Manager) LiquidationGet(lid string) (*liquidation.Liquidation, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var l liquidation.Liquidation
	ok, err := m.getJSON(prefixLiquidation+lid, &l)
	if err != nil || !ok {
		return nil, false, err
	}
	return &l, true, nil
}

func (m *Manager) LiquidationPut(l *liquidation.Liquidation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.putJSON(prefixLiquidation+l.LID, l)
}

func loanLiquidationsKey(borrower ethcommon.Address, loanID uint64) string {
	return fmt.Sprintf("%s%s/%d", prefixLiquidationLoan, borrower.Hex(), loanID)
}

func (m *Manager) LoanLiquidations(borrower ethcommon.Address, loanID uint64) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var lids []string
	if _, err := m.getJSON(loanLiquidationsKey(borrower, loanID), &lids); err != nil {
		return nil, err
	}
	return lids, nil
}

func (m *Manager) AppendLoanLiquidation(borrower ethcommon.Address, loanID uint64, lid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := loanLiquidationsKey(borrower, loanID)
	var lids []string
	if _, err := m.getJSON(key, &lids); err != nil {
		return err
	}
	return m.putJSON(key, append(lids, lid))
}

func (m *Manager) TokenLiquidation(collection ethcommon.Address, tokenID *big.Int) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var lid string
	ok, err := m.getJSON(tokenKey(prefixLiquidationTok, collection, tokenID), &lid)
	if err != nil {
		return "", false, err
	}
	return lid, ok, nil
}

func (m *Manager) SetTokenLiquidation(collection ethcommon.Address, tokenID *big.Int, lid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.putJSON(tokenKey(prefixLiquidationTok, collection, tokenID), lid)
}

func (m *Manager) ClearTokenLiquidation(collection ethcommon.Address, tokenID *big.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.db.Delete([]byte(tokenKey(prefixLiquidationTok, collection, tokenID)))
}

// --- otc ---

func (m *Manager) OTCInstanceGet(id string) (*otc.Instance, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var instance otc.Instance
	ok, err := m.getJSON(prefixOTCInstance+id, &instance)
	if err != nil || !ok {
		return nil, false, err
	}
	return &instance, true, nil
}

func (m *Manager) OTCInstancePut(instance *otc.Instance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	if _, err := m.getJSON(keyOTCInstanceIDs, &ids); err != nil {
		return err
	}
	known := false
	for _, id := range ids {
		if id == instance.ID {
			known = true
			break
		}
	}
	if !known {
		if err := m.putJSON(keyOTCInstanceIDs, append(ids, instance.ID)); err != nil {
			return err
		}
	}
	return m.putJSON(prefixOTCInstance+instance.ID, instance)
}

func (m *Manager) OTCInstanceIDs() ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	if _, err := m.getJSON(keyOTCInstanceIDs, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}
