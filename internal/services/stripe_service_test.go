package services

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

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bookline_app_echo/internal/models"
)

func buildSignatureHeader(secret string, payload []byte, timestamp int64) string {
	signedPayload := fmt.Sprintf("%d.%s", timestamp, string(payload))
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(signedPayload))
	return fmt.Sprintf("t=%d,v1=%s", timestamp, hex.EncodeToString(mac.Sum(nil)))
}

func TestVerifyWebhookSignature(t *testing.T) {
	secret := "whsec_test"
	payload := []byte(`{"id":"evt_123","type":"checkout.session.completed","data":{"object":{"id":"cs_1"}}}`)
	timestamp := time.Now().Unix()

	svc := &StripeService{webhookSecret: secret}

	t.Run("valid signature", func(t *testing.T) {
		header := buildSignatureHeader(secret, payload, timestamp)
		assert.NoError(t, svc.VerifyWebhookSignature(payload, header))
	})

	t.Run("wrong secret", func(t *testing.T) {
		header := buildSignatureHeader("whsec_other", payload, timestamp)
		assert.ErrorIs(t, svc.VerifyWebhookSignature(payload, header), ErrInvalidSignature)
	})

	t.Run("tampered body", func(t *testing.T) {
		header := buildSignatureHeader(secret, payload, timestamp)
		tampered := []byte(`{"id":"evt_123","type":"checkout.session.completed","data":{"object":{"id":"cs_2"}}}`)
		assert.ErrorIs(t, svc.VerifyWebhookSignature(tampered, header), ErrInvalidSignature)
	})

	t.Run("missing header", func(t *testing.T) {
		assert.ErrorIs(t, svc.VerifyWebhookSignature(payload, ""), ErrInvalidSignature)
	})

	t.Run("unparsable header", func(t *testing.T) {
		assert.ErrorIs(t, svc.VerifyWebhookSignature(payload, "not-a-signature"), ErrInvalidSignature)
		assert.ErrorIs(t, svc.VerifyWebhookSignature(payload, "t=123"), ErrInvalidSignature)
	})

	t.Run("no configured secret fails closed", func(t *testing.T) {
		empty := &StripeService{}
		header := buildSignatureHeader(secret, payload, timestamp)
		assert.ErrorIs(t, empty.VerifyWebhookSignature(payload, header), ErrInvalidSignature)
	})
}

func TestParseWebhookEvent(t *testing.T) {
	svc := &StripeService{}

	t.Run("completed session", func(t *testing.T) {
		payload := []byte(`{
			"id": "evt_1",
			"type": "checkout.session.completed",
			"data": {"object": {
				"id": "cs_123",
				"status": "complete",
				"payment_status": "paid",
				"client_reference_id": "apt_7",
				"metadata": {"correlation_id": "apt_7"}
			}}
		}`)
		event, err := svc.ParseWebhookEvent(payload)
		require.NoError(t, err)
		assert.Equal(t, EventCheckoutCompleted, event.Kind)
		assert.Equal(t, "evt_1", event.ID)
		require.NotNil(t, event.Session)
		assert.Equal(t, "cs_123", event.Session.ID)
		assert.Equal(t, "apt_7", event.Session.Metadata["correlation_id"])
	})

	t.Run("expired session", func(t *testing.T) {
		payload := []byte(`{"id":"evt_2","type":"checkout.session.expired","data":{"object":{"id":"cs_9"}}}`)
		event, err := svc.ParseWebhookEvent(payload)
		require.NoError(t, err)
		assert.Equal(t, EventCheckoutExpired, event.Kind)
		assert.Equal(t, "cs_9", event.Session.ID)
	})

	t.Run("unhandled type is not an error", func(t *testing.T) {
		payload := []byte(`{"id":"evt_3","type":"invoice.finalized","data":{"object":{"id":"in_1"}}}`)
		event, err := svc.ParseWebhookEvent(payload)
		require.NoError(t, err)
		assert.Equal(t, EventUnhandled, event.Kind)
		assert.Equal(t, "invoice.finalized", event.Type)
		assert.Nil(t, event.Session)
	})

	t.Run("invalid json", func(t *testing.T) {
		_, err := svc.ParseWebhookEvent([]byte(`{not json`))
		assert.ErrorIs(t, err, ErrInvalidPayload)
	})

	t.Run("missing event id", func(t *testing.T) {
		_, err := svc.ParseWebhookEvent([]byte(`{"type":"checkout.session.completed","data":{"object":{"id":"cs_1"}}}`))
		assert.ErrorIs(t, err, ErrInvalidPayload)
	})

	t.Run("handled type without session id", func(t *testing.T) {
		_, err := svc.ParseWebhookEvent([]byte(`{"id":"evt_4","type":"checkout.session.completed","data":{"object":{}}}`))
		assert.ErrorIs(t, err, ErrInvalidPayload)
	})
}

func TestMetadataChunks(t *testing.T) {
	t.Run("short value stays plain", func(t *testing.T) {
		meta := map[string]string{}
		EncodeMetadataChunks(meta, "snapshot", "small")
		assert.Equal(t, map[string]string{"snapshot": "small"}, meta)
		assert.Equal(t, "small", DecodeMetadataChunks(meta, "snapshot"))
	})

	t.Run("long value roundtrip", func(t *testing.T) {
		long := strings.Repeat("abcdefghij", 130) // 1300 chars, 3 chunks
		meta := map[string]string{}
		EncodeMetadataChunks(meta, "snapshot", long)

		assert.Equal(t, "3", meta["snapshot_chunks"])
		_, plain := meta["snapshot"]
		assert.False(t, plain)
		for i := 0; i < 3; i++ {
			assert.LessOrEqual(t, len(meta[fmt.Sprintf("snapshot_%d", i)]), metadataValueLimit)
		}
		assert.Equal(t, long, DecodeMetadataChunks(meta, "snapshot"))
	})

	t.Run("missing chunk cannot be reassembled", func(t *testing.T) {
		long := strings.Repeat("x", metadataValueLimit+1)
		meta := map[string]string{}
		EncodeMetadataChunks(meta, "snapshot", long)
		delete(meta, "snapshot_1")
		assert.Equal(t, "", DecodeMetadataChunks(meta, "snapshot"))
	})

	t.Run("absent key", func(t *testing.T) {
		assert.Equal(t, "", DecodeMetadataChunks(map[string]string{}, "snapshot"))
		assert.Equal(t, "", DecodeMetadataChunks(nil, "snapshot"))
	})
}

func TestParseCorrelationID(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantOK  bool
		wantRef RecordRef
	}{
		{"appointment", "apt_12", true, RecordRef{Kind: models.RecordKindAppointment, ID: 12}},
		{"listing", "lst_3", true, RecordRef{Kind: models.RecordKindListing, ID: 3}},
		{"surrounding whitespace", "  apt_12 \n", true, RecordRef{Kind: models.RecordKindAppointment, ID: 12}},
		{"unknown prefix", "ord_5", false, RecordRef{}},
		{"non-numeric id", "apt_abc", false, RecordRef{}},
		{"zero id", "apt_0", false, RecordRef{}},
		{"empty", "", false, RecordRef{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ref, ok := ParseCorrelationID(tt.input)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.wantRef, ref)
			}
		})
	}
}

func TestCorrelationIDRoundtrip(t *testing.T) {
	for _, ref := range []RecordRef{
		{Kind: models.RecordKindAppointment, ID: 1},
		{Kind: models.RecordKindListing, ID: 42},
	} {
		parsed, ok := ParseCorrelationID(CorrelationID(ref))
		require.True(t, ok)
		assert.Equal(t, ref, parsed)
	}
}

func TestGetCheckoutSession(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/v1/checkout/sessions/cs_123", r.URL.Path)
		assert.Equal(t, "Bearer sk_test", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"cs_123","status":"open","payment_status":"unpaid","metadata":{"correlation_id":"apt_1"}}`)
	}))
	defer server.Close()

	svc := &StripeService{secretKey: "sk_test", baseURL: server.URL, client: server.Client()}
	session, err := svc.GetCheckoutSession(context.Background(), "cs_123")
	require.NoError(t, err)
	assert.Equal(t, "cs_123", session.ID)
	assert.Equal(t, "open", session.Status)
	assert.Equal(t, "apt_1", session.Metadata["correlation_id"])
}

func TestProviderErrorSurfaced(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error":{"type":"invalid_request_error","message":"No such checkout session"}}`)
	}))
	defer server.Close()

	svc := &StripeService{secretKey: "sk_test", baseURL: server.URL, client: server.Client()}
	_, err := svc.GetCheckoutSession(context.Background(), "cs_missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "No such checkout session")
}

func TestCreateCheckoutSessionForm(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/checkout/sessions", r.URL.Path)
		require.NoError(t, r.ParseForm())

		assert.Equal(t, "payment", r.PostForm.Get("mode"))
		assert.Equal(t, "apt_5", r.PostForm.Get("client_reference_id"))
		assert.Equal(t, "apt_5", r.PostForm.Get("metadata[correlation_id]"))
		assert.Equal(t, "2500", r.PostForm.Get("line_items[0][price_data][unit_amount]"))
		assert.Equal(t, "Appointment: Haircut", r.PostForm.Get("line_items[0][price_data][product_data][name]"))
		assert.Equal(t, "extra", r.PostForm.Get("metadata[note]"))

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"cs_new","status":"open","url":"https://pay.example/cs_new"}`)
	}))
	defer server.Close()

	svc := &StripeService{secretKey: "sk_test", baseURL: server.URL, client: server.Client()}
	session, err := svc.CreateCheckoutSession(context.Background(), CheckoutSessionParams{
		CorrelationID: "apt_5",
		ProductName:   "Appointment: Haircut",
		AmountCents:   2500,
		CustomerEmail: "jo@example.com",
		SuccessURL:    "https://example.com/a/x",
		CancelURL:     "https://example.com/a/x",
		Metadata:      map[string]string{"note": "extra"},
	})
	require.NoError(t, err)
	assert.Equal(t, "cs_new", session.ID)
	assert.Equal(t, "https://pay.example/cs_new", session.URL)
}
