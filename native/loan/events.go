package loan

import (
	"math/big"
	"strconv"

	"nftlend/core/types"
)

const (
	EventTypeLoanReserved    = "loan.reserved"
	EventTypeLoanStarted     = "loan.started"
	EventTypeLoanPaid        = "loan.paid"
	EventTypeLoanCanceled    = "loan.canceled"
	EventTypeLoanInvalidated = "loan.invalidated"
	EventTypeLoanDefaulted   = "loan.defaulted"
)

type loanEvent struct {
	evt *types.Event
}

func (e *loanEvent) EventType() string {
	if e == nil || e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e *loanEvent) Event() *types.Event { return e.evt }

func NewReservedEvent(l *Loan) *loanEvent {
	return newLoanEvent(EventTypeLoanReserved, l, nil)
}

func NewStartedEvent(l *Loan) *loanEvent {
	attrs := map[string]string{"startTime": strconv.FormatInt(l.StartTime, 10)}
	return newLoanEvent(EventTypeLoanStarted, l, attrs)
}

func NewPaidEvent(l *Loan, payable *big.Int) *loanEvent {
	attrs := map[string]string{
		"payable":  payable.String(),
		"interest": l.PaidInterest.String(),
	}
	return newLoanEvent(EventTypeLoanPaid, l, attrs)
}

func NewCanceledEvent(l *Loan) *loanEvent {
	return newLoanEvent(EventTypeLoanCanceled, l, nil)
}

func NewInvalidatedEvent(l *Loan) *loanEvent {
	return newLoanEvent(EventTypeLoanInvalidated, l, nil)
}

func NewDefaultedEvent(l *Loan) *loanEvent {
	attrs := map[string]string{"collaterals": strconv.Itoa(len(l.Collaterals))}
	return newLoanEvent(EventTypeLoanDefaulted, l, attrs)
}

func newLoanEvent(eventType string, l *Loan, extra map[string]string) *loanEvent {
	attrs := map[string]string{
		"borrower": l.Borrower.Hex(),
		"loanId":   strconv.FormatUint(l.LoanID, 10),
		"amount":   l.Amount.String(),
		"maturity": strconv.FormatInt(l.Maturity, 10),
	}
	for k, v := range extra {
		attrs[k] = v
	}
	return &loanEvent{evt: &types.Event{Type: eventType, Attributes: attrs}}
}
