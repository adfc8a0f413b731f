package httpserver

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/sketchsage/server/internal/auth"
	apierrors "github.com/sketchsage/server/internal/errors"
	"github.com/sketchsage/server/internal/logger"
	"github.com/sketchsage/server/internal/storage"
	"github.com/sketchsage/server/pkg/responders"
)

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"fullName"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type accountResponse struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	FullName  string    `json:"fullName"`
	Credits   int       `json:"credits"`
	IsAdmin   bool      `json:"isAdmin"`
	CreatedAt time.Time `json:"createdAt"`
}

type authResponse struct {
	Token   string          `json:"token"`
	Account accountResponse `json:"account"`
}

func toAccountResponse(a storage.Account) accountResponse {
	return accountResponse{
		ID:        a.ID,
		Email:     a.Email,
		FullName:  a.FullName,
		Credits:   a.Credits,
		IsAdmin:   a.IsAdmin,
		CreatedAt: a.CreatedAt,
	}
}

// register creates a new account and returns a session token.
func (h *handlers) register(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	var req registerRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidField, err.Error())
		return
	}

	email := strings.TrimSpace(req.Email)
	if email == "" || !strings.Contains(email, "@") {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeMissingField, "a valid email is required")
		return
	}
	if len(req.Password) < 8 {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidField, "password must be at least 8 characters")
		return
	}

	account, token, err := h.auth.Register(r.Context(), email, req.Password, req.FullName)
	if err != nil {
		if errors.Is(err, auth.ErrEmailTaken) {
			apierrors.WriteSimpleError(w, apierrors.ErrCodeEmailTaken, "email already registered")
			return
		}
		log.Error().Err(err).Msg("auth.register_failed")
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInternalError, "registration failed")
		return
	}

	responders.JSON(w, http.StatusCreated, authResponse{
		Token:   token,
		Account: toAccountResponse(account),
	})
}

// login exchanges credentials for a session token.
func (h *handlers) login(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	var req loginRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidField, err.Error())
		return
	}
	if req.Email == "" || req.Password == "" {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeMissingField, "email and password are required")
		return
	}

	account, token, err := h.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidCredentials, "invalid email or password")
			return
		}
		log.Error().Err(err).Msg("auth.login_failed")
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInternalError, "login failed")
		return
	}

	responders.JSON(w, http.StatusOK, authResponse{
		Token:   token,
		Account: toAccountResponse(account),
	})
}

// me returns the authenticated account with its current credit balance.
func (h *handlers) me(w http.ResponseWriter, r *http.Request) {
	account, ok := auth.AccountFromContext(r.Context())
	if !ok {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeUnauthorized, "Authentication required")
		return
	}
	responders.JSON(w, http.StatusOK, toAccountResponse(account))
}

type transactionResponse struct {
	ID           string    `json:"id"`
	PaymentRef   string    `json:"paymentRef"`
	PackageID    string    `json:"packageId"`
	Amount       int64     `json:"amount"`
	Currency     string    `json:"currency"`
	CreditsAdded int       `json:"creditsAdded"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"createdAt"`
}

// listMyTransactions returns the caller's payment history, newest first.
func (h *handlers) listMyTransactions(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	account, ok := auth.AccountFromContext(r.Context())
	if !ok {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeUnauthorized, "Authentication required")
		return
	}

	txs, err := h.store.ListTransactionsByUser(r.Context(), account.ID)
	if err != nil {
		log.Error().Err(err).Msg("transactions.list_failed")
		apierrors.WriteSimpleError(w, apierrors.ErrCodeDatabaseError, "failed to load transactions")
		return
	}

	out := make([]transactionResponse, 0, len(txs))
	for _, tx := range txs {
		out = append(out, transactionResponse{
			ID:           tx.ID,
			PaymentRef:   tx.PaymentRef,
			PackageID:    tx.PackageID,
			Amount:       tx.Amount,
			Currency:     tx.Currency,
			CreditsAdded: tx.CreditsAdded,
			Status:       tx.Status,
			CreatedAt:    tx.CreatedAt,
		})
	}

	responders.JSON(w, http.StatusOK, map[string]any{"transactions": out})
}
