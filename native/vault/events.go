package vault

import (
	"strconv"

	ethcommon "github.com/ethereum/go-ethereum/common"

	"nftlend/core/types"
)

const (
	EventTypeCollateralStored   = "vault.collateral_stored"
	EventTypeCollateralReleased = "vault.collateral_released"
	EventTypeAdminWithdrawal    = "vault.admin_withdrawal"
)

type vaultEvent struct {
	evt *types.Event
}

func (e *vaultEvent) EventType() string {
	if e == nil || e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e *vaultEvent) Event() *types.Event { return e.evt }

// NewStoredEvent returns the canonical payload emitted when a token enters
// custody.
func NewStoredEvent(c *Custody) *vaultEvent {
	return newCustodyEvent(EventTypeCollateralStored, c, nil)
}

// NewReleasedEvent returns the canonical payload emitted when a token leaves
// custody through a loan or liquidation flow.
func NewReleasedEvent(c *Custody, to ethcommon.Address) *vaultEvent {
	return newCustodyEvent(EventTypeCollateralReleased, c, &to)
}

// NewAdminWithdrawnEvent returns the canonical payload emitted when the owner
// withdraws a token for manual resolution.
func NewAdminWithdrawnEvent(c *Custody, to ethcommon.Address) *vaultEvent {
	return newCustodyEvent(EventTypeAdminWithdrawal, c, &to)
}

func newCustodyEvent(eventType string, c *Custody, to *ethcommon.Address) *vaultEvent {
	attrs := make(map[string]string)
	if c != nil {
		attrs["collection"] = c.Collection.Hex()
		if c.TokenID != nil {
			attrs["tokenId"] = c.TokenID.String()
		}
		attrs["owner"] = c.Owner.Hex()
		attrs["asset"] = c.Asset.Hex()
		attrs["storedAt"] = strconv.FormatInt(c.StoredAt, 10)
		if c.Delegated {
			attrs["delegated"] = "true"
		}
	}
	if to != nil {
		attrs["to"] = to.Hex()
	}
	return &vaultEvent{evt: &types.Event{Type: eventType, Attributes: attrs}}
}
