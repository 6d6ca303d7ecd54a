package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/scizoninc/scizonai/internal/service/payment"
	"github.com/scizoninc/scizonai/pkg/logger"
)

const maxWebhookBody = 64 << 10

type PaymentHandler struct {
	payments Payments
	logger   logger.Logger
}

func NewPaymentHandler(payments Payments, log logger.Logger) *PaymentHandler {
	return &PaymentHandler{payments: payments, logger: log}
}

// StripeWebhook 处理 Stripe 回调
func (h *PaymentHandler) StripeWebhook(c *gin.Context) {
	if h.payments == nil {
		handleAppError(c, h.logger, errJobsNotConfigured)
		return
	}

	payload, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			handleError(c, h.logger, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("Webhook Error: payload exceeds %d bytes", tooLarge.Limit), err)
			return
		}
		handleError(c, h.logger, http.StatusBadRequest, "failed to read webhook body", err)
		return
	}

	out, err := h.payments.HandleWebhook(c.Request.Context(), payload, c.GetHeader("Stripe-Signature"))
	switch {
	case errors.Is(err, payment.ErrInvalidSignature), errors.Is(err, payment.ErrInvalidPayload):
		handleError(c, h.logger, http.StatusBadRequest, "Webhook Error: "+err.Error(), err)
	case errors.Is(err, payment.ErrNotForwarded):
		logger.FromContext(c.Request.Context(), h.logger).Error("Checkout event not delivered", logger.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"ok": false, "message": "Webhook received, but could not forward to HF Space. Check HF endpoints."})
	case err != nil:
		handleError(c, h.logger, http.StatusInternalServerError, err.Error(), err)
	case !out.Handled():
		c.JSON(http.StatusOK, gin.H{"received": true})
	case out.ForwardedTo != "":
		c.JSON(http.StatusOK, gin.H{"ok": true, "forwardedTo": out.ForwardedTo})
	default:
		c.JSON(http.StatusOK, gin.H{"ok": true, "markedVia": out.MarkedVia})
	}
}
