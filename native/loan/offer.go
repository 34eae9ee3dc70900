package loan

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"

	ethcommon "github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

var (
	// ErrOfferSignatureInvalid indicates the signature does not recover to
	// the configured underwriting key.
	ErrOfferSignatureInvalid = errors.New("loan offer: signature invalid")
	// ErrOfferExpired indicates the offer validity deadline has passed.
	ErrOfferExpired = errors.New("loan offer: validation deadline passed")
	// ErrOfferNonceUsed indicates the offer nonce was already consumed.
	ErrOfferNonceUsed = errors.New("loan offer: nonce already used")
	// ErrOfferMalformed indicates a structurally invalid offer.
	ErrOfferMalformed = errors.New("loan offer: malformed")
)

// Domain scopes offer digests to one deployment so a signature can never be
// replayed against another instance or chain.
type Domain struct {
	Name              string
	Version           string
	ChainID           uint64
	VerifyingContract ethcommon.Address
}

// Offer is the underwritten loan proposal a borrower presents when reserving.
// It is valid only with a signature from the capital provider's key.
type Offer struct {
	Borrower    ethcommon.Address `json:"borrower"`
	Amount      *big.Int          `json:"amount"`
	InterestBps uint64            `json:"interestBps"`
	Maturity    int64             `json:"maturity"`
	Deadline    int64             `json:"deadline"`
	Nonce       uint64            `json:"nonce"`
	Collaterals []Collateral      `json:"collaterals"`
}

// CanonicalMessage renders the offer into the deterministic payload that is
// hashed and signed. Field order is part of the wire contract.
func (o *Offer) CanonicalMessage(domain Domain) (string, error) {
	if o == nil {
		return "", ErrOfferMalformed
	}
	if o.Amount == nil || o.Amount.Sign() <= 0 {
		return "", ErrOfferMalformed
	}
	if len(o.Collaterals) == 0 {
		return "", ErrOfferMalformed
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s|%s|%d|%s",
		strings.TrimSpace(domain.Name),
		strings.TrimSpace(domain.Version),
		domain.ChainID,
		strings.ToLower(domain.VerifyingContract.Hex()),
	)
	fmt.Fprintf(&b, "|%s|%s|%d|%d|%d|%d",
		strings.ToLower(o.Borrower.Hex()),
		o.Amount.String(),
		o.InterestBps,
		o.Maturity,
		o.Deadline,
		o.Nonce,
	)
	for _, c := range o.Collaterals {
		if c.TokenID == nil || c.Amount == nil || c.Amount.Sign() < 0 {
			return "", ErrOfferMalformed
		}
		fmt.Fprintf(&b, "|%s:%s:%s",
			strings.ToLower(c.Collection.Hex()),
			c.TokenID.String(),
			c.Amount.String(),
		)
	}
	return b.String(), nil
}

// Digest returns the keccak-256 hash of the canonical message.
func (o *Offer) Digest(domain Domain) ([]byte, error) {
	message, err := o.CanonicalMessage(domain)
	if err != nil {
		return nil, err
	}
	return ethcrypto.Keccak256([]byte(message)), nil
}

// SignOffer produces the 65-byte recoverable signature the reserve path
// expects. Used by underwriting tooling and tests.
func SignOffer(o *Offer, domain Domain, key *ecdsa.PrivateKey) ([]byte, error) {
	digest, err := o.Digest(domain)
	if err != nil {
		return nil, err
	}
	return ethcrypto.Sign(digest, key)
}

// Verify recovers the signer from the 65-byte signature and compares it to
// the expected underwriting address.
func (o *Offer) Verify(domain Domain, signer ethcommon.Address, signature []byte) error {
	if len(signature) != 65 {
		return ErrOfferSignatureInvalid
	}
	digest, err := o.Digest(domain)
	if err != nil {
		return err
	}
	pubKey, err := ethcrypto.SigToPub(digest, signature)
	if err != nil {
		return ErrOfferSignatureInvalid
	}
	recovered := ethcrypto.PubkeyToAddress(*pubKey)
	if recovered != signer {
		return ErrOfferSignatureInvalid
	}
	return nil
}

// PrincipalTotal sums the per-collateral principal allocations.
func (o *Offer) PrincipalTotal() *big.Int {
	total := big.NewInt(0)
	if o == nil {
		return total
	}
	for _, c := range o.Collaterals {
		if c.Amount != nil {
			total.Add(total, c.Amount)
		}
	}
	return total
}
