package pool

import (
	"math/big"
	"strconv"

	ethcommon "github.com/ethereum/go-ethereum/common"

	"nftlend/core/types"
)

const (
	EventTypeDeposit        = "pool.deposit"
	EventTypeWithdraw       = "pool.withdraw"
	EventTypeFundsSent      = "pool.funds_sent"
	EventTypeFundsReceived  = "pool.funds_received"
	EventTypePoolDeprecated = "pool.deprecated"
)

type poolEvent struct {
	evt *types.Event
}

func (e *poolEvent) EventType() string {
	if e == nil || e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e *poolEvent) Event() *types.Event { return e.evt }

// NewDepositEvent returns the canonical payload for a deposit.
func NewDepositEvent(p *Pool, lender *Lender, amount *big.Int) *poolEvent {
	attrs := basePoolAttrs(p)
	attrs["lender"] = lender.Address.Hex()
	attrs["amount"] = amount.String()
	attrs["sharesBps"] = lender.SharesBps.String()
	return &poolEvent{evt: &types.Event{Type: EventTypeDeposit, Attributes: attrs}}
}

// NewWithdrawEvent returns the canonical payload for a withdrawal.
func NewWithdrawEvent(p *Pool, lender *Lender, amount *big.Int) *poolEvent {
	attrs := basePoolAttrs(p)
	attrs["lender"] = lender.Address.Hex()
	attrs["amount"] = amount.String()
	attrs["active"] = strconv.FormatBool(lender.ActiveForRewards)
	return &poolEvent{evt: &types.Event{Type: EventTypeWithdraw, Attributes: attrs}}
}

// NewFundsSentEvent returns the canonical payload for a loan draw-down.
func NewFundsSentEvent(p *Pool, to ethcommon.Address, amount *big.Int) *poolEvent {
	attrs := basePoolAttrs(p)
	attrs["to"] = to.Hex()
	attrs["amount"] = amount.String()
	return &poolEvent{evt: &types.Event{Type: EventTypeFundsSent, Attributes: attrs}}
}

// NewFundsReceivedEvent returns the canonical payload for settled funds,
// tagged with their origin.
func NewFundsReceivedEvent(p *Pool, from ethcommon.Address, amount, poolRewards, protocolRewards, investedAmount *big.Int, origin string) *poolEvent {
	attrs := basePoolAttrs(p)
	attrs["from"] = from.Hex()
	attrs["amount"] = amount.String()
	attrs["rewardsPool"] = poolRewards.String()
	attrs["rewardsProtocol"] = protocolRewards.String()
	attrs["investedAmount"] = investedAmount.String()
	attrs["fundsOrigin"] = origin
	return &poolEvent{evt: &types.Event{Type: EventTypeFundsReceived, Attributes: attrs}}
}

// NewDeprecatedEvent returns the canonical payload for pool deprecation.
func NewDeprecatedEvent(p *Pool) *poolEvent {
	return &poolEvent{evt: &types.Event{Type: EventTypePoolDeprecated, Attributes: basePoolAttrs(p)}}
}

func basePoolAttrs(p *Pool) map[string]string {
	attrs := make(map[string]string)
	if p == nil {
		return attrs
	}
	attrs["poolId"] = p.ID
	attrs["asset"] = p.Asset.Hex()
	attrs["fundsAvailable"] = p.FundsAvailable.String()
	attrs["fundsInvested"] = p.FundsInvested.String()
	return attrs
}
