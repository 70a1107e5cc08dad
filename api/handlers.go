/*
handlers.go - HTTP API handlers for the virtual account ledger

PURPOSE:
  Exposes the ledger engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to ledger.Engine.

ENDPOINTS:
  Accounts:
    POST   /api/accounts                     Open account
    GET    /api/accounts/{id}                Get account
    GET    /api/accounts/{id}/balance        Current balance
    GET    /api/accounts/{id}/transactions   History (limit, offset)
    POST   /api/accounts/{id}/deposits       Deposit
    POST   /api/accounts/{id}/withdrawals    Withdraw

  Transfers:
    POST   /api/transfers                    Transfer between accounts
    GET    /api/transactions/{id}            Get transaction request
    POST   /api/transactions/{id}/refund     Refund a transfer

REQUEST FLOW:
  1. Parse HTTP request
  2. Validate input (validator/v10 tags on the request DTO)
  3. Call the engine
  4. Serialize response
  5. Map errors to a status

ERROR HANDLING:
  - 400: Validation errors, invalid input, same-account transfers
  - 404: Account or transaction not found
  - 422: Insufficient balance
  - 500: Store failures (logged)

SECURITY NOTE:
  No authentication or authorization. All endpoints are public.
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/Lawal-create/Virtual-Bank-Accounts-Manager/ledger"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine *ledger.Engine
	Logger *zap.Logger

	// Health is optional; nil means the health check only reports liveness.
	Health Pinger

	validate *validator.Validate
}

// NewHandler creates a handler around the given engine.
func NewHandler(engine *ledger.Engine, logger *zap.Logger, health Pinger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		Engine:   engine,
		Logger:   logger.Named("api"),
		Health:   health,
		validate: newValidator(),
	}
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return v
}

// =============================================================================
// ACCOUNT HANDLERS
// =============================================================================

// CreateAccount opens a new virtual account.
// POST /api/accounts
func (h *Handler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req CreateAccountRequest
	if !h.decode(w, r, &req) {
		return
	}

	account, err := h.Engine.OpenAccount(r.Context(), req.toAccount())
	if err != nil {
		h.writeDomainError(w, r, "Failed to open account", err)
		return
	}

	writeJSON(w, http.StatusCreated, toAccountDTO(account))
}

// GetAccount returns a single account.
// GET /api/accounts/{id}
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	account, err := h.Engine.GetAccount(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, r, "Failed to get account", err)
		return
	}

	writeJSON(w, http.StatusOK, toAccountDTO(account))
}

// GetBalance returns the current balance of an account.
// GET /api/accounts/{id}/balance
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	balance, err := h.Engine.GetBalance(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, r, "Failed to get balance", err)
		return
	}

	writeJSON(w, http.StatusOK, toBalanceDTO(balance))
}

// GetTransactions returns a page of an account's transaction history.
// GET /api/accounts/{id}/transactions?limit=10&offset=0
func (h *Handler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	page, err := parsePage(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid pagination", err)
		return
	}

	txs, err := h.Engine.GetTransactions(r.Context(), chi.URLParam(r, "id"), page)
	if err != nil {
		h.writeDomainError(w, r, "Failed to get transactions", err)
		return
	}

	page = page.Normalize()
	writeJSON(w, http.StatusOK, TransactionsPageDTO{
		Transactions: toTransactionDTOs(txs),
		Limit:        page.Limit,
		Offset:       page.Offset,
	})
}

// Deposit credits an account.
// POST /api/accounts/{id}/deposits
func (h *Handler) Deposit(w http.ResponseWriter, r *http.Request) {
	var req AmountRequest
	if !h.decode(w, r, &req) {
		return
	}

	account, err := h.Engine.Deposit(r.Context(), chi.URLParam(r, "id"), req.Amount)
	if err != nil {
		h.writeDomainError(w, r, "Failed to deposit", err)
		return
	}

	writeJSON(w, http.StatusOK, toAccountDTO(account))
}

// Withdraw debits an account.
// POST /api/accounts/{id}/withdrawals
func (h *Handler) Withdraw(w http.ResponseWriter, r *http.Request) {
	var req AmountRequest
	if !h.decode(w, r, &req) {
		return
	}

	account, err := h.Engine.Withdraw(r.Context(), chi.URLParam(r, "id"), req.Amount)
	if err != nil {
		h.writeDomainError(w, r, "Failed to withdraw", err)
		return
	}

	writeJSON(w, http.StatusOK, toAccountDTO(account))
}

// =============================================================================
// TRANSFER HANDLERS
// =============================================================================

// CreateTransfer moves money between two accounts.
// POST /api/transfers
func (h *Handler) CreateTransfer(w http.ResponseWriter, r *http.Request) {
	var req TransferRequest
	if !h.decode(w, r, &req) {
		return
	}

	result, err := h.Engine.Transfer(r.Context(), req.DepositAccountID, req.WithdrawalAccountID, req.Amount, "")
	if err != nil {
		h.writeDomainError(w, r, "Failed to transfer", err)
		return
	}

	writeJSON(w, http.StatusCreated, toTransferDTO(result))
}

// GetTransaction returns one transaction request.
// GET /api/transactions/{id}
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	tx, err := h.Engine.GetTransaction(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, r, "Failed to get transaction", err)
		return
	}

	writeJSON(w, http.StatusOK, toTransactionDTO(tx))
}

// RefundTransaction reverses a transfer identified by its withdrawal leg.
// POST /api/transactions/{id}/refund
func (h *Handler) RefundTransaction(w http.ResponseWriter, r *http.Request) {
	result, err := h.Engine.Refund(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, r, "Failed to refund", err)
		return
	}

	writeJSON(w, http.StatusCreated, toTransferDTO(result))
}

// Healthz reports liveness and, when configured, store reachability.
// GET /healthz
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	if h.Health != nil {
		if err := h.Health.Ping(r.Context()); err != nil {
			h.Logger.Error("health check failed", zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, "Store unavailable", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, HealthDTO{Status: "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

// maxBodyBytes caps every JSON request body.
const maxBodyBytes = 1 << 20

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "Request body too large", err)
			return false
		}
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Validation failed", validationDetails(err))
		return false
	}
	return true
}

func validationDetails(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s must satisfy %s=%s", fe.Field(), fe.Tag(), fe.Param()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s is %s", fe.Field(), fe.Tag()))
		}
	}
	return errors.New(strings.Join(msgs, "; "))
}

func parsePage(r *http.Request) (ledger.Page, error) {
	var page ledger.Page
	q := r.URL.Query()
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return ledger.Page{}, fmt.Errorf("limit must be a non-negative integer")
		}
		page.Limit = n
	}
	if raw := q.Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return ledger.Page{}, fmt.Errorf("offset must be a non-negative integer")
		}
		page.Offset = n
	}
	return page, nil
}

// statusFor maps ledger errors onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case ledger.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrInsufficientBalance):
		return http.StatusUnprocessableEntity
	case ledger.IsClientError(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeDomainError(w http.ResponseWriter, r *http.Request, message string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.Logger.Error(message,
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		writeError(w, status, message, nil)
		return
	}
	writeError(w, status, message, err)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
