package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"accounts-ledger/pkg/account"
	"accounts-ledger/pkg/ledger"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type createAccountRequest struct {
	AccountNumber int64           `json:"accountNumber"`
	Balance       decimal.Decimal `json:"balance"`
	OwnerIDs      []string        `json:"ownersIds"`
	AccountType   string          `json:"accountType"`
}

type amountRequest struct {
	Amount *decimal.Decimal `json:"amount"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

var errBadRequest = errors.New("bad request")

func (s *Server) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, badRequest("invalid request body"))
		return
	}

	accountType, err := account.ParseType(req.AccountType)
	if err != nil {
		s.writeError(w, badRequest(err.Error()))
		return
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()

	acc, err := s.ledger.CreateAccount(ctx, ledger.CreateAccountRequest{
		AccountNumber: req.AccountNumber,
		OwnerIDs:      req.OwnerIDs,
		Type:          accountType,
		Balance:       req.Balance,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, acc)
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	number, err := accountNumber(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()

	acc, err := s.ledger.GetAccount(ctx, number)
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, acc)
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	number, amount, err := parseAmountRequest(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()

	if err := s.ledger.Deposit(ctx, number, amount); err != nil {
		s.writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleWithdrawal(w http.ResponseWriter, r *http.Request) {
	number, amount, err := parseAmountRequest(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()

	res, err := s.ledger.Withdrawal(ctx, number, amount)
	if res.TransferID != uuid.Nil {
		w.Header().Set("X-Transfer-ID", res.TransferID.String())
	}
	if err != nil {
		s.writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetTransfer(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, badRequest("invalid transfer id"))
		return
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()

	intent, err := s.ledger.GetTransfer(ctx, id)
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, intent)
}

func (s *Server) requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	if s.config.RequestTimeout <= 0 {
		return context.WithCancel(r.Context())
	}
	return context.WithTimeout(r.Context(), s.config.RequestTimeout)
}

func accountNumber(r *http.Request) (int64, error) {
	n, err := strconv.ParseInt(mux.Vars(r)["accountNumber"], 10, 64)
	if err != nil {
		return 0, badRequest("invalid account number")
	}
	return n, nil
}

func parseAmountRequest(r *http.Request) (int64, decimal.Decimal, error) {
	number, err := accountNumber(r)
	if err != nil {
		return 0, decimal.Zero, err
	}

	var req amountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return 0, decimal.Zero, badRequest("invalid request body")
	}
	if req.Amount == nil {
		return 0, decimal.Zero, badRequest("amount is required")
	}
	return number, *req.Amount, nil
}

func badRequest(message string) error {
	return &ledger.Error{Kind: ledger.KindInvalidRequest, Op: "decode", Message: message, Err: errBadRequest}
}

// statusFor maps an error category to its HTTP status.
func statusFor(kind ledger.Kind) int {
	switch kind {
	case ledger.KindInvalidRequest:
		return http.StatusBadRequest
	case ledger.KindForbidden:
		return http.StatusForbidden
	case ledger.KindNotFound:
		return http.StatusNotFound
	case ledger.KindDependency:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	kind := ledger.KindOf(err)
	status := statusFor(kind)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", zap.String("kind", string(kind)), zap.Error(err))
	}
	writeJSON(w, status, errorResponse{Error: string(kind), Message: ledger.MessageOf(err)})
}
