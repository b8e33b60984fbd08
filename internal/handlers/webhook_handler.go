package handlers

import (
	"io"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"

	"bookline_app_echo/internal/services"
)

type WebhookHandler struct {
	stripe     *services.StripeService
	reconciler *services.ReconcileService
}

func NewWebhookHandler(stripe *services.StripeService, reconciler *services.ReconcileService) *WebhookHandler {
	return &WebhookHandler{stripe: stripe, reconciler: reconciler}
}

// HandleStripeWebhook ingests one provider webhook delivery.
//
// The body is consumed as raw bytes and never bound: the signature covers
// the exact payload on the wire, and any re-serialization would break it.
// Response contract: 400 for anything unverifiable, 200 once the event is
// routed (including no-op routing of unhandled types and unresolvable
// sessions), 500 only for transient downstream failures so the provider's
// redelivery kicks in.
func (h *WebhookHandler) HandleStripeWebhook(c echo.Context) error {
	payload, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "unable to read request body"})
	}

	signature := c.Request().Header.Get("Stripe-Signature")
	if err := h.stripe.VerifyWebhookSignature(payload, signature); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid signature"})
	}

	event, err := h.stripe.ParseWebhookEvent(payload)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid payload"})
	}

	if err := h.reconciler.HandleEvent(c.Request().Context(), event); err != nil {
		log.Printf("Webhook event %s handling failed: %v", event.ID, err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "event handling failed"})
	}

	return c.JSON(http.StatusOK, map[string]bool{"received": true})
}
