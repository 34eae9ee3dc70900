package config

import (
	"encoding/json"
	"fmt"
	"os"

	ethcommon "github.com/ethereum/go-ethereum/common"
)

// Logical contract keys used in deployment manifests.
const (
	ContractPool         = "pool"
	ContractLoans        = "loans"
	ContractVault        = "vault"
	ContractLiquidations = "liquidations"
	ContractOTCFactory   = "otcFactory"
)

// Deployment is one environment's address book: the protocol identities and
// the collections the vault accepts.
type Deployment struct {
	Owner          ethcommon.Address            `json:"owner"`
	ProtocolWallet ethcommon.Address            `json:"protocolWallet"`
	OfferSigner    ethcommon.Address            `json:"offerSigner"`
	Asset          ethcommon.Address            `json:"asset"`
	Contracts      map[string]ethcommon.Address `json:"contracts"`
	// Collections maps collection address to custody backend kind,
	// "standard" or "punk".
	Collections map[ethcommon.Address]string `json:"collections"`
}

type manifest struct {
	Environments map[string]*Deployment `json:"environments"`
}

// LoadDeployment reads the manifest at path and returns the address book for
// the named environment.
func LoadDeployment(path, environment string) (*Deployment, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("deployment manifest %s: %w", path, err)
	}
	var m manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("deployment manifest %s: %w", path, err)
	}
	d, ok := m.Environments[environment]
	if !ok {
		return nil, fmt.Errorf("deployment manifest %s: environment %q not found", path, environment)
	}
	if err := d.validate(); err != nil {
		return nil, fmt.Errorf("deployment manifest %s: environment %q: %w", path, environment, err)
	}
	return d, nil
}

func (d *Deployment) validate() error {
	if d.Owner == (ethcommon.Address{}) {
		return fmt.Errorf("owner address missing")
	}
	if d.ProtocolWallet == (ethcommon.Address{}) {
		return fmt.Errorf("protocolWallet address missing")
	}
	if d.OfferSigner == (ethcommon.Address{}) {
		return fmt.Errorf("offerSigner address missing")
	}
	if d.Asset == (ethcommon.Address{}) {
		return fmt.Errorf("asset address missing")
	}
	for _, key := range []string{ContractPool, ContractLoans, ContractVault, ContractLiquidations, ContractOTCFactory} {
		addr, ok := d.Contracts[key]
		if !ok || addr == (ethcommon.Address{}) {
			return fmt.Errorf("contract %q missing", key)
		}
	}
	for collection, kind := range d.Collections {
		if kind != "standard" && kind != "punk" {
			return fmt.Errorf("collection %s has unknown backend %q", collection.Hex(), kind)
		}
	}
	return nil
}

// Contract returns the address registered under the logical key.
func (d *Deployment) Contract(key string) ethcommon.Address {
	return d.Contracts[key]
}
