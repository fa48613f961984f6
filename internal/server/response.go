package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lamim/classforge/internal/credits"
	"github.com/lamim/classforge/internal/orchestrator"
)

// APIError is the error body of every failed request
type APIError struct {
	Message  string `json:"message"`
	Code     string `json:"code,omitempty"`
	Required int    `json:"required,omitempty"`
	Balance  *int   `json:"balance,omitempty"`
}

// ErrorEnvelope wraps APIError
type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

// RespondError writes the error envelope
func RespondError(c *gin.Context, status int, code string, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	body := APIError{Message: msg, Code: code}

	var insufficient *credits.InsufficientCreditError
	if errors.As(err, &insufficient) {
		balance := insufficient.Balance
		body.Required = insufficient.Required
		body.Balance = &balance
	}
	c.JSON(status, ErrorEnvelope{Error: body})
}

// RespondOK writes a 200 JSON payload
func RespondOK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}

// respondDomainError maps orchestrator and credit errors to HTTP statuses
func respondDomainError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, credits.ErrInsufficientCredit):
		RespondError(c, http.StatusPaymentRequired, "insufficient_credit", err)
	case errors.Is(err, orchestrator.ErrEmptyBasis),
		errors.Is(err, orchestrator.ErrInvalidBasis),
		errors.Is(err, orchestrator.ErrEmptyDraft),
		errors.Is(err, orchestrator.ErrEmptyInstruction):
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
	case errors.Is(err, orchestrator.ErrIllegalTransition),
		errors.Is(err, orchestrator.ErrNoSpecification),
		errors.Is(err, orchestrator.ErrEditInProgress),
		errors.Is(err, orchestrator.ErrNoEditSession):
		RespondError(c, http.StatusConflict, "conflict", err)
	case errors.Is(err, orchestrator.ErrClosed):
		RespondError(c, http.StatusServiceUnavailable, "shutting_down", err)
	default:
		RespondError(c, http.StatusInternalServerError, "internal", err)
	}
}
