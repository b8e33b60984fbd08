package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"gorm.io/gorm"

	"bookline_app_echo/internal/models"
)

// ErrAlreadyPaid is returned when a checkout is initiated for a record whose
// session already completed.
var ErrAlreadyPaid = errors.New("payment already made")

// CheckoutService is the producer side of reconciliation: it creates
// provider checkout sessions for domain records and binds the correlation
// identifier into them. That binding is the only upstream obligation the
// webhook pipeline relies on.
type CheckoutService struct {
	db     *gorm.DB
	stripe *StripeService
}

func NewCheckoutService(db *gorm.DB, stripe *StripeService) *CheckoutService {
	return &CheckoutService{db: db, stripe: stripe}
}

// CheckoutInput describes the record a session is being created for
type CheckoutInput struct {
	Ref           RecordRef
	ProductName   string
	AmountCents   int64
	Currency      string
	CustomerEmail string
	// Snapshot is extra booking context stored in session metadata; long
	// values are chunk-encoded to fit the provider's per-value limit.
	Snapshot map[string]string
}

// InitiateCheckoutResult holds the result of an initiation attempt
type InitiateCheckoutResult struct {
	SessionID   string
	RedirectURL string
	IsExisting  bool
}

// CheckActiveSession returns the newest active local session row for a
// record, or nil when there is none.
func (s *CheckoutService) CheckActiveSession(ctx context.Context, kind models.RecordKind, recordID uint) (*models.CheckoutSessionRecord, error) {
	var existing models.CheckoutSessionRecord
	err := s.db.WithContext(ctx).
		Where("record_kind = ? AND record_id = ? AND is_active = ?", kind, recordID, true).
		Order("created_at desc").
		First(&existing).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &existing, nil
}

// InitiateCheckout starts or resumes a checkout for a record.
//
// An existing active session is checked against the provider first: a
// completed one refuses the checkout, an expired one is retired and
// replaced, an open one is reused unless forceNew asks for it to be expired
// at the provider and replaced.
func (s *CheckoutService) InitiateCheckout(ctx context.Context, input CheckoutInput, forceNew bool, successURL, cancelURL string) (*InitiateCheckoutResult, error) {
	existing, err := s.CheckActiveSession(ctx, input.Ref.Kind, input.Ref.ID)
	if err != nil {
		return nil, err
	}

	if existing != nil {
		session, err := s.stripe.GetCheckoutSession(ctx, existing.SessionID)
		if err == nil {
			switch session.Status {
			case "complete":
				return nil, ErrAlreadyPaid
			case "expired":
				s.deactivate(ctx, existing)
				// proceed to create a new session
			default: // open
				if forceNew {
					if err := s.stripe.ExpireCheckoutSession(ctx, existing.SessionID); err != nil {
						log.Printf("Failed to expire session %s at provider: %v", existing.SessionID, err)
					}
					s.deactivate(ctx, existing)
				} else {
					return &InitiateCheckoutResult{
						SessionID:   session.ID,
						RedirectURL: session.URL,
						IsExisting:  true,
					}, nil
				}
			}
		} else {
			// Status check failed, assume the local row is stale
			log.Printf("Status check for session %s failed, retiring local row: %v", existing.SessionID, err)
			s.deactivate(ctx, existing)
		}
	}

	correlationID := CorrelationID(input.Ref)
	params := CheckoutSessionParams{
		CorrelationID: correlationID,
		ProductName:   input.ProductName,
		AmountCents:   input.AmountCents,
		Currency:      input.Currency,
		CustomerEmail: input.CustomerEmail,
		SuccessURL:    successURL,
		CancelURL:     cancelURL,
		Metadata:      input.Snapshot,
	}

	session, err := s.stripe.CreateCheckoutSession(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("failed to create checkout session: %w", err)
	}

	reqBytes, _ := json.Marshal(params)
	respBytes, _ := json.Marshal(session)

	record := models.CheckoutSessionRecord{
		RecordKind:       input.Ref.Kind,
		RecordID:         input.Ref.ID,
		PaymentGateway:   models.PaymentGatewayStripe,
		SessionID:        session.ID,
		IsActive:         true,
		RequestMetadata:  reqBytes,
		ResponseMetadata: respBytes,
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		return nil, fmt.Errorf("failed to persist checkout session: %w", err)
	}

	// Stamp the session onto the domain row so the webhook resolver's
	// database fallback works even for events without usable metadata.
	if err := s.stampSessionID(ctx, input.Ref, session.ID); err != nil {
		log.Printf("Failed to stamp session %s on %s %d: %v", session.ID, input.Ref.Kind, input.Ref.ID, err)
	}

	return &InitiateCheckoutResult{
		SessionID:   session.ID,
		RedirectURL: session.URL,
		IsExisting:  false,
	}, nil
}

func (s *CheckoutService) stampSessionID(ctx context.Context, ref RecordRef, sessionID string) error {
	if ref.Kind == models.RecordKindListing {
		return s.db.WithContext(ctx).Model(&models.RentalListing{}).
			Where("id = ?", ref.ID).
			Update("checkout_session_id", sessionID).Error
	}
	return s.db.WithContext(ctx).Model(&models.Appointment{}).
		Where("id = ?", ref.ID).
		Update("checkout_session_id", sessionID).Error
}

func (s *CheckoutService) deactivate(ctx context.Context, record *models.CheckoutSessionRecord) {
	record.IsActive = false
	if err := s.db.WithContext(ctx).Save(record).Error; err != nil {
		log.Printf("Failed to deactivate session record %d: %v", record.ID, err)
	}
}
