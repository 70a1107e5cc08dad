/*
handlers_test.go - HTTP tests for the ledger API

Each test runs the full router against an in-memory SQLite store.
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Lawal-create/Virtual-Bank-Accounts-Manager/ledger"
	"github.com/Lawal-create/Virtual-Bank-Accounts-Manager/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestServer(t *testing.T) (http.Handler, *sqlite.Store) {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	logger := zaptest.NewLogger(t)
	h := NewHandler(ledger.NewEngine(store, logger), logger, store)
	return NewRouter(h, RouterOptions{DisableRequestLog: true}), store
}

func do(t *testing.T, srv http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func openAccount(t *testing.T, srv http.Handler, name string, balance int64) AccountDTO {
	t.Helper()
	rec := do(t, srv, http.MethodPost, "/api/accounts", CreateAccountRequest{
		OwnerID:       "owner-" + name,
		Balance:       balance,
		AccountName:   name,
		AccountNumber: "00" + name,
		BankName:      "Test Bank",
		AccountType:   "savings",
		Currency:      "usd",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeBody[AccountDTO](t, rec)
}

// =============================================================================
// ACCOUNTS
// =============================================================================

func TestCreateAccount(t *testing.T) {
	srv, _ := newTestServer(t)

	account := openAccount(t, srv, "alice", 1050)
	assert.NotEmpty(t, account.ID)
	assert.Equal(t, int64(1050), account.Balance)
	assert.Equal(t, "10.50 USD", account.BalanceDisplay)
	assert.Equal(t, "alice", account.Metadata.AccountName)

	rec := do(t, srv, http.MethodGet, "/api/accounts/"+account.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, account.ID, decodeBody[AccountDTO](t, rec).ID)
}

func TestCreateAccount_Validation(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := do(t, srv, http.MethodPost, "/api/accounts", CreateAccountRequest{
		OwnerID:       "o",
		Balance:       -1,
		AccountName:   "x",
		AccountNumber: "1",
		Currency:      "yen",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeBody[ErrorResponse](t, rec)
	assert.Contains(t, resp.Details, "balance")
	assert.Contains(t, resp.Details, "currency")

	rec = do(t, srv, http.MethodPost, "/api/accounts", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetAccount_NotFound(t *testing.T) {
	srv, _ := newTestServer(t)

	for _, path := range []string{"/api/accounts/missing", "/api/accounts/missing/balance"} {
		rec := do(t, srv, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
	}
}

func TestDepositAndWithdraw(t *testing.T) {
	srv, _ := newTestServer(t)
	account := openAccount(t, srv, "bob", 0)

	rec := do(t, srv, http.MethodPost, "/api/accounts/"+account.ID+"/deposits", AmountRequest{Amount: 500})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, int64(500), decodeBody[AccountDTO](t, rec).Balance)

	rec = do(t, srv, http.MethodPost, "/api/accounts/"+account.ID+"/withdrawals", AmountRequest{Amount: 200})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, int64(300), decodeBody[AccountDTO](t, rec).Balance)

	rec = do(t, srv, http.MethodPost, "/api/accounts/"+account.ID+"/withdrawals", AmountRequest{Amount: 301})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = do(t, srv, http.MethodPost, "/api/accounts/"+account.ID+"/deposits", AmountRequest{Amount: 0})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, srv, http.MethodGet, "/api/accounts/"+account.ID+"/balance", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	balance := decodeBody[BalanceDTO](t, rec)
	assert.Equal(t, account.ID, balance.AccountID)
	assert.Equal(t, int64(300), balance.Balance)
	assert.Equal(t, "3.00 USD", balance.BalanceDisplay)
	assert.Equal(t, "usd", balance.Currency)
}

func TestDeposit_Overflow(t *testing.T) {
	srv, _ := newTestServer(t)
	account := openAccount(t, srv, "dora", 1)

	rec := do(t, srv, http.MethodPost, "/api/accounts/"+account.ID+"/deposits", AmountRequest{Amount: math.MaxInt64})
	require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
	assert.Contains(t, decodeBody[ErrorResponse](t, rec).Details, ledger.ErrBalanceOverflow.Error())

	rec = do(t, srv, http.MethodGet, "/api/accounts/"+account.ID+"/balance", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(1), decodeBody[BalanceDTO](t, rec).Balance)
}

func TestDecode_BodyTooLarge(t *testing.T) {
	srv, _ := newTestServer(t)

	body := `{"owner_id":"` + strings.Repeat("a", maxBodyBytes) + `"}`
	req := httptest.NewRequest(http.MethodPost, "/api/accounts", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestGetTransactions_Pagination(t *testing.T) {
	srv, _ := newTestServer(t)
	account := openAccount(t, srv, "carol", 0)

	for i := 1; i <= 5; i++ {
		rec := do(t, srv, http.MethodPost, "/api/accounts/"+account.ID+"/deposits", AmountRequest{Amount: int64(i)})
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := do(t, srv, http.MethodGet, "/api/accounts/"+account.ID+"/transactions?limit=2&offset=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	page := decodeBody[TransactionsPageDTO](t, rec)
	require.Len(t, page.Transactions, 2)
	assert.Equal(t, int64(2), page.Transactions[0].Amount)
	assert.Equal(t, int64(3), page.Transactions[1].Amount)
	assert.Equal(t, 2, page.Limit)
	assert.Equal(t, 1, page.Offset)

	rec = do(t, srv, http.MethodGet, "/api/accounts/"+account.ID+"/transactions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	page = decodeBody[TransactionsPageDTO](t, rec)
	assert.Len(t, page.Transactions, 5)
	assert.Equal(t, ledger.DefaultPageLimit, page.Limit)

	rec = do(t, srv, http.MethodGet, "/api/accounts/"+account.ID+"/transactions?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, srv, http.MethodGet, "/api/accounts/unknown/transactions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeBody[TransactionsPageDTO](t, rec).Transactions)
}

// =============================================================================
// TRANSFERS & REFUNDS
// =============================================================================

func TestTransferAndRefund(t *testing.T) {
	srv, _ := newTestServer(t)
	alice := openAccount(t, srv, "alice", 1000)
	bob := openAccount(t, srv, "bob", 0)

	rec := do(t, srv, http.MethodPost, "/api/transfers", TransferRequest{
		DepositAccountID:    bob.ID,
		WithdrawalAccountID: alice.ID,
		Amount:              400,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	transfer := decodeBody[TransferDTO](t, rec)

	assert.NotEmpty(t, transfer.SharedID)
	assert.Equal(t, int64(600), transfer.WithdrawalAccount.Balance)
	assert.Equal(t, int64(400), transfer.DepositAccount.Balance)
	assert.Equal(t, transfer.SharedID, transfer.DepositLeg.Metadata.SharedID)
	assert.Equal(t, "Transfer to bob - 00bob", transfer.WithdrawalLeg.Metadata.Description)
	assert.Equal(t, "Transfer from alice - 00alice", transfer.DepositLeg.Metadata.Description)

	rec = do(t, srv, http.MethodGet, "/api/transactions/"+transfer.WithdrawalLeg.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "withdrawal", decodeBody[TransactionDTO](t, rec).RequestType)

	rec = do(t, srv, http.MethodPost, "/api/transactions/"+transfer.WithdrawalLeg.ID+"/refund", nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	refund := decodeBody[TransferDTO](t, rec)

	assert.Equal(t, alice.ID, refund.DepositAccount.ID)
	assert.Equal(t, int64(1000), refund.DepositAccount.Balance)
	assert.Equal(t, int64(0), refund.WithdrawalAccount.Balance)
	assert.Equal(t, transfer.WithdrawalLeg.ID, refund.WithdrawalLeg.Metadata.ParentID)
	assert.NotEqual(t, transfer.SharedID, refund.SharedID)
}

func TestTransfer_ErrorStatuses(t *testing.T) {
	srv, _ := newTestServer(t)
	alice := openAccount(t, srv, "alice", 100)
	bob := openAccount(t, srv, "bob", 0)

	cases := []struct {
		name string
		req  TransferRequest
		want int
	}{
		{"insufficient balance", TransferRequest{DepositAccountID: bob.ID, WithdrawalAccountID: alice.ID, Amount: 101}, http.StatusUnprocessableEntity},
		{"missing withdrawal account", TransferRequest{DepositAccountID: bob.ID, WithdrawalAccountID: "nope", Amount: 1}, http.StatusNotFound},
		{"missing deposit account", TransferRequest{DepositAccountID: "nope", WithdrawalAccountID: alice.ID, Amount: 1}, http.StatusNotFound},
		{"same account", TransferRequest{DepositAccountID: alice.ID, WithdrawalAccountID: alice.ID, Amount: 1}, http.StatusBadRequest},
		{"zero amount", TransferRequest{DepositAccountID: bob.ID, WithdrawalAccountID: alice.ID}, http.StatusBadRequest},
		{"missing ids", TransferRequest{Amount: 1}, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(t, srv, http.MethodPost, "/api/transfers", tc.req)
			assert.Equal(t, tc.want, rec.Code, rec.Body.String())
		})
	}

	rec := do(t, srv, http.MethodGet, "/api/accounts/"+alice.ID+"/balance", nil)
	assert.Equal(t, int64(100), decodeBody[BalanceDTO](t, rec).Balance)
}

func TestRefund_Errors(t *testing.T) {
	srv, _ := newTestServer(t)
	alice := openAccount(t, srv, "alice", 0)

	rec := do(t, srv, http.MethodPost, "/api/transactions/missing/refund", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, srv, http.MethodPost, "/api/accounts/"+alice.ID+"/deposits", AmountRequest{Amount: 10})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, srv, http.MethodGet, "/api/accounts/"+alice.ID+"/transactions", nil)
	deposit := decodeBody[TransactionsPageDTO](t, rec).Transactions[0]

	rec = do(t, srv, http.MethodPost, "/api/transactions/"+deposit.ID+"/refund", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// =============================================================================
// HEALTH & ERROR MAPPING
// =============================================================================

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("connection refused") }

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := do(t, srv, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decodeBody[HealthDTO](t, rec).Status)

	h := NewHandler(nil, zaptest.NewLogger(t), failingPinger{})
	rec = do(t, NewRouter(h, RouterOptions{DisableRequestLog: true}), http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{ledger.ErrAccountNotFound, http.StatusNotFound},
		{&ledger.TransactionNotFoundError{ID: "x", Reason: "gone"}, http.StatusNotFound},
		{&ledger.InsufficientBalanceError{AccountID: "a", Requested: 1}, http.StatusUnprocessableEntity},
		{fmt.Errorf("wrapped: %w", ledger.ErrInvalidAmount), http.StatusBadRequest},
		{ledger.ErrSameAccount, http.StatusBadRequest},
		{ledger.ErrBalanceOverflow, http.StatusBadRequest},
		{errors.New("disk I/O error"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, statusFor(tc.err), tc.err.Error())
	}
}
