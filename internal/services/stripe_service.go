package services

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrInvalidSignature is returned for a missing, unparsable or
	// mismatched webhook signature. Callers get no detail beyond this;
	// an unauthenticated payload earns no partial trust.
	ErrInvalidSignature = errors.New("invalid webhook signature")

	// ErrInvalidPayload is returned when the webhook body is not a valid
	// provider event envelope.
	ErrInvalidPayload = errors.New("invalid webhook payload")
)

// metadataValueLimit is the provider's cap on a single metadata value.
// Anything longer is split across numbered keys, see EncodeMetadataChunks.
const metadataValueLimit = 500

// CheckoutSession is the slice of the provider's checkout session object
// this system cares about. Sessions are provider-owned and never mutated
// locally; they may be re-fetched by ID when a webhook payload is slimmed
// down.
type CheckoutSession struct {
	ID                string            `json:"id"`
	Status            string            `json:"status"`         // open | complete | expired
	PaymentStatus     string            `json:"payment_status"` // paid | unpaid | no_payment_required
	ClientReferenceID string            `json:"client_reference_id"`
	CustomerEmail     string            `json:"customer_email"`
	AmountTotal       int64             `json:"amount_total"`
	Currency          string            `json:"currency"`
	URL               string            `json:"url"`
	ExpiresAt         int64             `json:"expires_at"`
	Metadata          map[string]string `json:"metadata"`
}

// WebhookEventKind is the routing tag for a verified webhook event
type WebhookEventKind string

const (
	EventCheckoutCompleted WebhookEventKind = "checkout_completed"
	EventCheckoutExpired   WebhookEventKind = "checkout_expired"
	// EventUnhandled covers every event type this system does not act on.
	// New provider event types must never fail ingestion, only no-op.
	EventUnhandled WebhookEventKind = "unhandled"
)

// WebhookEvent is a verified, parsed provider event. Type preserves the raw
// provider type string even for unhandled kinds; Session is nil for them.
type WebhookEvent struct {
	ID      string
	Type    string
	Kind    WebhookEventKind
	Session *CheckoutSession
	Raw     json.RawMessage
}

type stripeEnvelope struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

type stripeAPIError struct {
	Error struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// StripeService talks to the payment provider: webhook verification plus the
// checkout-session REST calls the booking flow and the webhook resolver need.
type StripeService struct {
	secretKey     string
	webhookSecret string
	baseURL       string
	client        *http.Client
}

func NewStripeService() *StripeService {
	baseURL := os.Getenv("STRIPE_API_BASE_URL")
	if baseURL == "" {
		baseURL = "https://api.stripe.com"
	}
	return &StripeService{
		secretKey:     os.Getenv("STRIPE_SECRET_KEY"),
		webhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
		// The webhook handler must answer before the provider's delivery
		// deadline; a hung session fetch would block that, so every call
		// is bounded.
		client:  &http.Client{Timeout: 15 * time.Second},
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// VerifyWebhookSignature checks the provider signature header against the
// exact raw request body. The signed payload is "<timestamp>.<body>" and the
// header carries "t=<timestamp>,v1=<hex hmac>[,v1=...]"; any v1 entry may
// match. Fails closed: every malformed-header shape collapses into
// ErrInvalidSignature.
func (s *StripeService) VerifyWebhookSignature(payload []byte, sigHeader string) error {
	sigHeader = strings.TrimSpace(sigHeader)
	if sigHeader == "" || s.webhookSecret == "" {
		return ErrInvalidSignature
	}

	timestamp, signatures, err := parseSignatureHeader(sigHeader)
	if err != nil {
		return ErrInvalidSignature
	}

	signedPayload := fmt.Sprintf("%s.%s", timestamp, string(payload))
	mac := hmac.New(sha256.New, []byte(s.webhookSecret))
	_, _ = mac.Write([]byte(signedPayload))
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, signature := range signatures {
		if hmac.Equal([]byte(signature), []byte(expected)) {
			return nil
		}
	}

	return ErrInvalidSignature
}

func parseSignatureHeader(header string) (string, []string, error) {
	parts := strings.Split(header, ",")
	var timestamp string
	signatures := []string{}
	for _, part := range parts {
		piece := strings.TrimSpace(part)
		if piece == "" {
			continue
		}
		keyValue := strings.SplitN(piece, "=", 2)
		if len(keyValue) != 2 {
			continue
		}
		key := strings.TrimSpace(keyValue[0])
		value := strings.TrimSpace(keyValue[1])
		if key == "t" {
			timestamp = value
		}
		if key == "v1" {
			signatures = append(signatures, value)
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return "", nil, errors.New("malformed signature header")
	}
	return timestamp, signatures, nil
}

// ParseWebhookEvent decodes a verified payload into the tagged event union.
// Event types outside the checkout-session pair come back as EventUnhandled
// with the raw type string preserved, never as an error.
func (s *StripeService) ParseWebhookEvent(payload []byte) (*WebhookEvent, error) {
	var envelope stripeEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, ErrInvalidPayload
	}
	if strings.TrimSpace(envelope.ID) == "" || strings.TrimSpace(envelope.Type) == "" {
		return nil, ErrInvalidPayload
	}

	event := &WebhookEvent{
		ID:   envelope.ID,
		Type: strings.TrimSpace(envelope.Type),
		Raw:  payload,
	}

	switch event.Type {
	case "checkout.session.completed":
		event.Kind = EventCheckoutCompleted
	case "checkout.session.expired":
		event.Kind = EventCheckoutExpired
	default:
		event.Kind = EventUnhandled
		return event, nil
	}

	var session CheckoutSession
	if err := json.Unmarshal(envelope.Data.Object, &session); err != nil {
		return nil, ErrInvalidPayload
	}
	if strings.TrimSpace(session.ID) == "" {
		return nil, ErrInvalidPayload
	}
	event.Session = &session
	return event, nil
}

// CheckoutSessionParams describes a session to create for a domain record
type CheckoutSessionParams struct {
	CorrelationID string
	ProductName   string
	AmountCents   int64
	Currency      string
	CustomerEmail string
	SuccessURL    string
	CancelURL     string
	// Extra metadata; values longer than the provider limit are chunked.
	Metadata map[string]string
}

// CreateCheckoutSession creates a hosted checkout session. The correlation
// identifier is carried on both metadata and client_reference_id so either
// channel alone is enough for the webhook to find its way back.
func (s *StripeService) CreateCheckoutSession(ctx context.Context, params CheckoutSessionParams) (*CheckoutSession, error) {
	form := url.Values{}
	form.Set("mode", "payment")
	form.Set("success_url", params.SuccessURL)
	form.Set("cancel_url", params.CancelURL)
	form.Set("client_reference_id", params.CorrelationID)
	form.Set("metadata[correlation_id]", params.CorrelationID)
	if params.CustomerEmail != "" {
		form.Set("customer_email", params.CustomerEmail)
	}

	currency := params.Currency
	if currency == "" {
		currency = "usd"
	}
	form.Set("line_items[0][price_data][currency]", currency)
	form.Set("line_items[0][price_data][unit_amount]", strconv.FormatInt(params.AmountCents, 10))
	form.Set("line_items[0][price_data][product_data][name]", params.ProductName)
	form.Set("line_items[0][quantity]", "1")

	extra := map[string]string{}
	for key, value := range params.Metadata {
		EncodeMetadataChunks(extra, key, value)
	}
	for key, value := range extra {
		form.Set(fmt.Sprintf("metadata[%s]", key), value)
	}

	var session CheckoutSession
	if err := s.call(ctx, http.MethodPost, "/v1/checkout/sessions", form, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// GetCheckoutSession re-fetches the full session from the provider by ID
func (s *StripeService) GetCheckoutSession(ctx context.Context, sessionID string) (*CheckoutSession, error) {
	var session CheckoutSession
	endpoint := "/v1/checkout/sessions/" + url.PathEscape(sessionID)
	if err := s.call(ctx, http.MethodGet, endpoint, nil, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// ExpireCheckoutSession cancels an open session at the provider
func (s *StripeService) ExpireCheckoutSession(ctx context.Context, sessionID string) error {
	endpoint := "/v1/checkout/sessions/" + url.PathEscape(sessionID) + "/expire"
	return s.call(ctx, http.MethodPost, endpoint, nil, nil)
}

func (s *StripeService) call(ctx context.Context, method, endpoint string, form url.Values, out interface{}) error {
	var bodyReader io.Reader
	if form != nil {
		bodyReader = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+endpoint, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.secretKey)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("provider request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read provider response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr stripeAPIError
		if err := json.Unmarshal(data, &apiErr); err == nil && apiErr.Error.Message != "" {
			return fmt.Errorf("provider error (%d): %s", resp.StatusCode, apiErr.Error.Message)
		}
		return fmt.Errorf("provider error (%d): %s", resp.StatusCode, string(data))
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("failed to decode provider response: %w", err)
		}
	}
	return nil
}

// EncodeMetadataChunks stores value under key in dst, splitting it across
// "<key>_0".."<key>_N" plus a "<key>_chunks" count when it exceeds the
// provider's per-value limit. Values within the limit are stored as-is.
func EncodeMetadataChunks(dst map[string]string, key, value string) {
	if len(value) <= metadataValueLimit {
		dst[key] = value
		return
	}

	count := 0
	for start := 0; start < len(value); start += metadataValueLimit {
		end := start + metadataValueLimit
		if end > len(value) {
			end = len(value)
		}
		dst[fmt.Sprintf("%s_%d", key, count)] = value[start:end]
		count++
	}
	dst[key+"_chunks"] = strconv.Itoa(count)
}

// DecodeMetadataChunks reads a value written by EncodeMetadataChunks back
// out of metadata, reassembling chunked values. Returns "" when absent.
func DecodeMetadataChunks(metadata map[string]string, key string) string {
	if metadata == nil {
		return ""
	}
	if value, ok := metadata[key]; ok {
		return value
	}

	countRaw, ok := metadata[key+"_chunks"]
	if !ok {
		return ""
	}
	count, err := strconv.Atoi(countRaw)
	if err != nil || count <= 0 {
		return ""
	}

	var builder strings.Builder
	for i := 0; i < count; i++ {
		chunk, ok := metadata[fmt.Sprintf("%s_%d", key, i)]
		if !ok {
			// A missing chunk means the value cannot be reassembled.
			return ""
		}
		builder.WriteString(chunk)
	}
	return builder.String()
}
