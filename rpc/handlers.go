package rpc

import (
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"strconv"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"

	"nftlend/core/types"
	"nftlend/native/liquidation"
	"nftlend/native/loan"
	"nftlend/native/otc"
	"nftlend/native/pool"
)

type eventPayload interface {
	Event() *types.Event
}

func (s *Server) writeEngineError(w http.ResponseWriter, err error) {
	status := http.StatusBadRequest
	switch {
	case errors.Is(err, pool.ErrPoolNotFound),
		errors.Is(err, pool.ErrUnknownLender),
		errors.Is(err, loan.ErrLoanNotFound),
		errors.Is(err, liquidation.ErrNotFound),
		errors.Is(err, otc.ErrInstanceNotFound):
		status = http.StatusNotFound
	}
	writeError(w, status, err.Error())
}

func parseAddressParam(r *http.Request, name string) (ethcommon.Address, error) {
	raw := chi.URLParam(r, name)
	if !ethcommon.IsHexAddress(raw) {
		return ethcommon.Address{}, errors.New("invalid address: " + raw)
	}
	return ethcommon.HexToAddress(raw), nil
}

func parseLoanIDParam(r *http.Request) (uint64, error) {
	return strconv.ParseUint(chi.URLParam(r, "loanID"), 10, 64)
}

func parseBig(raw string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(raw, 10)
	if !ok || amount.Sign() < 0 {
		return nil, errors.New("invalid amount: " + raw)
	}
	return amount, nil
}

func decodeBody(r *http.Request, out interface{}) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(out)
}

// --- pool ---

func (s *Server) handleGetPool(w http.ResponseWriter, _ *http.Request) {
	p, err := s.pool.GetPool()
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleGetLender(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddressParam(r, "address")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	lender, err := s.pool.GetLender(addr)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	withdrawable, err := s.pool.ComputeWithdrawableAmount(addr)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"lender":       lender,
		"withdrawable": withdrawable.String(),
	})
}

type fundsRequest struct {
	Lender ethcommon.Address `json:"lender"`
	Amount string            `json:"amount"`
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var req fundsRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	amount, err := parseBig(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.pool.Deposit(req.Lender, amount); err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deposited"})
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	var req fundsRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	amount, err := parseBig(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.pool.Withdraw(req.Lender, amount); err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "withdrawn"})
}

func (s *Server) handleDeprecate(w http.ResponseWriter, _ *http.Request) {
	if err := s.pool.Deprecate(s.pool.Ownable().Owner()); err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deprecated"})
}

// --- loans ---

type reserveRequest struct {
	Borrower  ethcommon.Address `json:"borrower"`
	Offer     *loan.Offer       `json:"offer"`
	Signature string            `json:"signature"`
}

func (s *Server) handleReserve(w http.ResponseWriter, r *http.Request) {
	var req reserveRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	signature := ethcommon.FromHex(req.Signature)
	reserved, err := s.loans.Reserve(req.Borrower, req.Offer, signature)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reserved)
}

type startRequest struct {
	CreateDelegation bool `json:"createDelegation"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	borrower, err := parseAddressParam(r, "borrower")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	loanID, err := parseLoanIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req startRequest
	if r.ContentLength > 0 {
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	if err := s.loans.Start(borrower, loanID, req.CreateDelegation); err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "started"})
}

func (s *Server) handleGetLoan(w http.ResponseWriter, r *http.Request) {
	borrower, err := parseAddressParam(r, "borrower")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	loanID, err := parseLoanIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	record, err := s.loans.GetLoan(borrower, loanID)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) handlePay(w http.ResponseWriter, r *http.Request) {
	borrower, err := parseAddressParam(r, "borrower")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	loanID, err := parseLoanIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.loans.Pay(borrower, loanID); err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "paid"})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	borrower, err := parseAddressParam(r, "borrower")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	loanID, err := parseLoanIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.loans.Cancel(borrower, loanID); err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "canceled"})
}

func (s *Server) handleSettleDefault(w http.ResponseWriter, r *http.Request) {
	borrower, err := parseAddressParam(r, "borrower")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	loanID, err := parseLoanIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.loans.SettleDefault(s.loans.Ownable().Owner(), borrower, loanID); err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "defaulted"})
}

// --- liquidations ---

func (s *Server) handleGetLiquidation(w http.ResponseWriter, r *http.Request) {
	record, err := s.liquidations.GetLiquidation(chi.URLParam(r, "lid"))
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleLoanLiquidations(w http.ResponseWriter, r *http.Request) {
	borrower, err := parseAddressParam(r, "borrower")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	loanID, err := parseLoanIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	lids, err := s.liquidations.LoanLiquidations(borrower, loanID)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"liquidations": lids})
}

func (s *Server) handleBuyBack(w http.ResponseWriter, r *http.Request) {
	borrower, err := parseAddressParam(r, "borrower")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	loanID, err := parseLoanIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.liquidations.BuyBack(borrower, borrower, loanID); err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "redeemed"})
}

type lenderPurchaseRequest struct {
	Caller ethcommon.Address `json:"caller"`
}

func (s *Server) handleLenderPurchase(w http.ResponseWriter, r *http.Request) {
	var req lenderPurchaseRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.liquidations.LenderPurchase(req.Caller, chi.URLParam(r, "lid")); err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "purchased"})
}

func (s *Server) handleMarketplaceSell(w http.ResponseWriter, r *http.Request) {
	owner := s.liquidations.Ownable().Owner()
	if err := s.liquidations.MarketplaceSell(owner, chi.URLParam(r, "lid")); err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "consigned"})
}

type adminResolveRequest struct {
	Proceeds string `json:"proceeds"`
}

func (s *Server) handleAdminResolve(w http.ResponseWriter, r *http.Request) {
	var req adminResolveRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	proceeds, err := parseBig(req.Proceeds)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	owner := s.liquidations.Ownable().Owner()
	if err := s.liquidations.AdminResolve(owner, chi.URLParam(r, "lid"), proceeds); err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "resolved"})
}

// --- otc ---

func (s *Server) handleListInstances(w http.ResponseWriter, _ *http.Request) {
	ids, err := s.otc.Instances()
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"instances": ids})
}

func (s *Server) handleGetInstance(w http.ResponseWriter, r *http.Request) {
	instance, err := s.otc.GetInstance(chi.URLParam(r, "id"))
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, instance)
}

func (s *Server) handleCreateInstance(w http.ResponseWriter, _ *http.Request) {
	instance, err := s.otc.CreateInstance(s.otc.Ownable().Owner())
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, instance)
}

type initializeRequest struct {
	Lender ethcommon.Address `json:"lender"`
}

func (s *Server) handleInitializeInstance(w http.ResponseWriter, r *http.Request) {
	var req initializeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	id := chi.URLParam(r, "id")
	owner := s.otc.Ownable().Owner()
	if err := s.otc.Initialize(owner, id, req.Lender); err != nil {
		s.writeEngineError(w, err)
		return
	}
	// A bound instance settles through the liquidation module, so its
	// derived address needs claim rights.
	instance, err := s.otc.GetInstance(id)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	if err := s.liquidations.AuthorizeClaimController(s.liquidations.Ownable().Owner(), instance.Address); err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, instance)
}

type claimRequest struct {
	Caller ethcommon.Address `json:"caller"`
	LID    string            `json:"lid"`
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	var req claimRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.otc.Claim(req.Caller, chi.URLParam(r, "id"), req.LID); err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "claimed"})
}

// --- vault ---

type adminWithdrawRequest struct {
	To         ethcommon.Address `json:"to"`
	Collection ethcommon.Address `json:"collection"`
	TokenID    string            `json:"tokenId"`
}

func (s *Server) handleAdminWithdraw(w http.ResponseWriter, r *http.Request) {
	var req adminWithdrawRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	tokenID, err := parseBig(req.TokenID)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	owner := s.vault.Ownable().Owner()
	if err := s.vault.AdminWithdraw(owner, req.To, req.Collection, tokenID); err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "withdrawn"})
}

// --- events ---

func (s *Server) handleEvents(w http.ResponseWriter, _ *http.Request) {
	if s.collector == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"events": []interface{}{}})
		return
	}
	buffered := s.collector.Events()
	out := make([]*types.Event, 0, len(buffered))
	for _, evt := range buffered {
		if payload, ok := evt.(eventPayload); ok {
			out = append(out, payload.Event())
			continue
		}
		out = append(out, &types.Event{Type: evt.EventType()})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": out})
}
