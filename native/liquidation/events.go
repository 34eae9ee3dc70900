package liquidation

import (
	"strconv"

	"nftlend/core/types"
)

const (
	EventTypeLiquidationOpened  = "liquidation.opened"
	EventTypeLiquidationSettled = "liquidation.settled"
)

type liquidationEvent struct {
	evt *types.Event
}

func (e *liquidationEvent) EventType() string {
	if e == nil || e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e *liquidationEvent) Event() *types.Event { return e.evt }

func NewOpenedEvent(l *Liquidation) *liquidationEvent {
	attrs := baseLiquidationAttrs(l)
	attrs["gracePeriodPrice"] = l.GracePeriodPrice.String()
	attrs["lenderPeriodPrice"] = l.LenderPeriodPrice.String()
	attrs["gracePeriodMaturity"] = strconv.FormatInt(l.GracePeriodMaturity, 10)
	attrs["lenderPeriodMaturity"] = strconv.FormatInt(l.LenderPeriodMaturity, 10)
	return &liquidationEvent{evt: &types.Event{Type: EventTypeLiquidationOpened, Attributes: attrs}}
}

func NewSettledEvent(l *Liquidation) *liquidationEvent {
	attrs := baseLiquidationAttrs(l)
	attrs["method"] = l.Method
	attrs["buyer"] = l.Buyer.Hex()
	attrs["proceeds"] = l.Proceeds.String()
	return &liquidationEvent{evt: &types.Event{Type: EventTypeLiquidationSettled, Attributes: attrs}}
}

func baseLiquidationAttrs(l *Liquidation) map[string]string {
	return map[string]string{
		"lid":        l.LID,
		"borrower":   l.Borrower.Hex(),
		"loanId":     strconv.FormatUint(l.LoanID, 10),
		"collection": l.Collection.Hex(),
		"tokenId":    l.TokenID.String(),
		"principal":  l.Principal.String(),
	}
}
