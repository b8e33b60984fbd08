package handlers

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"bookline_app_echo/internal/models"
	"bookline_app_echo/internal/services"
)

const testWebhookSecret = "whsec_test"

func newHandlerTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.Appointment{},
		&models.RentalListing{},
		&models.CheckoutSessionRecord{},
		&models.PaymentEventLog{},
	))
	return db
}

type noopNotifier struct{}

func (noopNotifier) AppointmentPaid(context.Context, *models.Appointment)    {}
func (noopNotifier) AppointmentExpired(context.Context, *models.Appointment) {}
func (noopNotifier) ListingPaid(context.Context, *models.RentalListing)      {}
func (noopNotifier) ListingExpired(context.Context, *models.RentalListing)   {}

// newWebhookHandler wires a handler against an in-memory database and a
// provider stub that knows no sessions.
func newWebhookHandler(t *testing.T) (*WebhookHandler, *gorm.DB) {
	t.Helper()

	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error":{"type":"invalid_request_error","message":"No such checkout session"}}`)
	}))
	t.Cleanup(provider.Close)

	t.Setenv("STRIPE_SECRET_KEY", "sk_test")
	t.Setenv("STRIPE_WEBHOOK_SECRET", testWebhookSecret)
	t.Setenv("STRIPE_API_BASE_URL", provider.URL)

	db := newHandlerTestDB(t)
	stripe := services.NewStripeService()
	reconciler := services.NewReconcileService(db, stripe, nil, noopNotifier{})
	return NewWebhookHandler(stripe, reconciler), db
}

func signPayload(payload string) string {
	timestamp := time.Now().Unix()
	signedPayload := fmt.Sprintf("%d.%s", timestamp, payload)
	mac := hmac.New(sha256.New, []byte(testWebhookSecret))
	mac.Write([]byte(signedPayload))
	return fmt.Sprintf("t=%d,v1=%s", timestamp, hex.EncodeToString(mac.Sum(nil)))
}

func deliverWebhook(handler *WebhookHandler, payload, signature string) (*httptest.ResponseRecorder, error) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", strings.NewReader(payload))
	if signature != "" {
		req.Header.Set("Stripe-Signature", signature)
	}
	rec := httptest.NewRecorder()
	return rec, handler.HandleStripeWebhook(e.NewContext(req, rec))
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	handler, db := newWebhookHandler(t)

	payload := `{"id":"evt_1","type":"checkout.session.completed","data":{"object":{"id":"cs_1"}}}`

	t.Run("missing header", func(t *testing.T) {
		rec, err := deliverWebhook(handler, payload, "")
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("tampered body", func(t *testing.T) {
		signature := signPayload(payload)
		rec, err := deliverWebhook(handler, payload+" ", signature)
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.JSONEq(t, `{"error":"invalid signature"}`, rec.Body.String())
	})

	// Nothing unverifiable reaches the audit log.
	var logCount int64
	require.NoError(t, db.Model(&models.PaymentEventLog{}).Count(&logCount).Error)
	assert.Equal(t, int64(0), logCount)
}

func TestWebhookRejectsMalformedPayload(t *testing.T) {
	handler, _ := newWebhookHandler(t)

	payload := `{"type":"checkout.session.completed"}`
	rec, err := deliverWebhook(handler, payload, signPayload(payload))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"invalid payload"}`, rec.Body.String())
}

func TestWebhookAcksUnhandledEventType(t *testing.T) {
	handler, db := newWebhookHandler(t)

	payload := `{"id":"evt_2","type":"invoice.finalized","data":{"object":{"id":"in_1"}}}`
	rec, err := deliverWebhook(handler, payload, signPayload(payload))
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"received":true}`, rec.Body.String())

	var logCount int64
	require.NoError(t, db.Model(&models.PaymentEventLog{}).Count(&logCount).Error)
	assert.Equal(t, int64(1), logCount)
}

func TestWebhookConfirmsAppointmentEndToEnd(t *testing.T) {
	handler, db := newWebhookHandler(t)

	appt := models.Appointment{
		UUID:          "appt-e2e",
		CustomerName:  "Jo",
		CustomerEmail: "jo@example.com",
		ServiceName:   "Haircut",
		ScheduledAt:   time.Now().Add(48 * time.Hour),
		Status:        models.AppointmentStatusPending,
		PaymentStatus: models.PaymentStatusUnpaid,
	}
	require.NoError(t, db.Create(&appt).Error)

	payload := fmt.Sprintf(`{
		"id": "evt_3",
		"type": "checkout.session.completed",
		"data": {"object": {
			"id": "cs_e2e",
			"status": "complete",
			"payment_status": "paid",
			"metadata": {"correlation_id": "apt_%d"}
		}}
	}`, appt.ID)

	rec, err := deliverWebhook(handler, payload, signPayload(payload))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"received":true}`, rec.Body.String())

	var got models.Appointment
	require.NoError(t, db.First(&got, appt.ID).Error)
	assert.Equal(t, models.PaymentStatusPaid, got.PaymentStatus)
	assert.Equal(t, models.AppointmentStatusConfirmed, got.Status)
	assert.Equal(t, "cs_e2e", got.CheckoutSessionID)
}

// A session nothing can resolve while the provider re-fetch is failing is a
// transient fault: 500 so the provider redelivers.
func TestWebhookReturns500OnTransientFailure(t *testing.T) {
	handler, _ := newWebhookHandler(t)

	payload := `{"id":"evt_4","type":"checkout.session.completed","data":{"object":{"id":"cs_unknown"}}}`
	rec, err := deliverWebhook(handler, payload, signPayload(payload))
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
