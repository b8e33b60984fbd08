package services

import (
	"context"
	"errors"
	"log"
	"time"

	"gorm.io/gorm"

	"bookline_app_echo/internal/models"
)

// processedEventTTL bounds how long a handled webhook event ID is remembered
// for the redelivery fast path. The conditional updates stay correct without
// it; this only saves work.
const processedEventTTL = 24 * time.Hour

// Notifier receives post-transition side effects. Implementations must be
// fire-and-forget: nothing they do may leak back into the webhook response.
type Notifier interface {
	AppointmentPaid(ctx context.Context, appt *models.Appointment)
	AppointmentExpired(ctx context.Context, appt *models.Appointment)
	ListingPaid(ctx context.Context, listing *models.RentalListing)
	ListingExpired(ctx context.Context, listing *models.RentalListing)
}

// ReconcileService turns verified provider webhook events into idempotent
// domain-record state transitions. Events can arrive multiple times, out of
// order, or concurrently; the single conditional UPDATE per outcome is what
// keeps that safe, not any ordering assumption about delivery.
type ReconcileService struct {
	db       *gorm.DB
	stripe   *StripeService
	cache    *RedisCache
	notifier Notifier
}

func NewReconcileService(db *gorm.DB, stripe *StripeService, cache *RedisCache, notifier Notifier) *ReconcileService {
	return &ReconcileService{db: db, stripe: stripe, cache: cache, notifier: notifier}
}

// HandleEvent routes a verified event to its handler. It returns an error
// only for plausibly transient faults (database, provider re-fetch): those
// surface as HTTP 500 so the provider redelivers. Everything permanent,
// like unknown event types, unresolvable sessions or already-applied
// transitions, is acknowledged so redelivery stops.
func (s *ReconcileService) HandleEvent(ctx context.Context, event *WebhookEvent) error {
	s.logEvent(ctx, event)

	switch event.Kind {
	case EventCheckoutCompleted, EventCheckoutExpired:
	default:
		log.Printf("Ignoring webhook event %s of unhandled type %q", event.ID, event.Type)
		return nil
	}

	if s.alreadyProcessed(ctx, event.ID) {
		log.Printf("Skipping already processed webhook event %s", event.ID)
		return nil
	}

	var err error
	if event.Kind == EventCheckoutCompleted {
		err = s.handleSessionCompleted(ctx, event.Session)
	} else {
		err = s.handleSessionExpired(ctx, event.Session)
	}
	if err != nil {
		return err
	}

	s.markProcessed(ctx, event.ID)
	return nil
}

// logEvent appends the event to the audit log. Failures here are logged and
// swallowed; an audit miss must not trigger provider redelivery.
func (s *ReconcileService) logEvent(ctx context.Context, event *WebhookEvent) {
	entry := models.PaymentEventLog{
		PaymentGateway: models.PaymentGatewayStripe,
		EventID:        event.ID,
		EventType:      event.Type,
		Payload:        event.Raw,
	}
	if event.Session != nil {
		entry.SessionID = event.Session.ID
	}
	if err := s.db.WithContext(ctx).Create(&entry).Error; err != nil {
		log.Printf("Failed to record webhook event %s: %v", event.ID, err)
	}
}

func (s *ReconcileService) alreadyProcessed(ctx context.Context, eventID string) bool {
	if s.cache == nil {
		return false
	}
	exists, err := s.cache.Exists(ctx, "webhook:processed:"+eventID)
	if err != nil {
		return false
	}
	return exists
}

// markProcessed runs only after the transition is applied, so a crash
// mid-handling still leaves redelivery effective.
func (s *ReconcileService) markProcessed(ctx context.Context, eventID string) {
	if s.cache == nil {
		return
	}
	if _, err := s.cache.SetNX(ctx, "webhook:processed:"+eventID, true, processedEventTTL); err != nil {
		log.Printf("Failed to mark webhook event %s processed: %v", eventID, err)
	}
}

func (s *ReconcileService) handleSessionCompleted(ctx context.Context, session *CheckoutSession) error {
	ref, ok, err := s.resolveSession(ctx, session)
	if err != nil {
		return err
	}
	if !ok {
		// Deterministic lookups don't fix themselves on retry; ack and drop.
		log.Printf("No record found for completed checkout session %s, dropping event", session.ID)
		return nil
	}

	if ref.Kind == models.RecordKindListing {
		return s.applyListingPaid(ctx, ref.ID, session.ID)
	}
	return s.applyAppointmentPaid(ctx, ref.ID, session.ID)
}

func (s *ReconcileService) handleSessionExpired(ctx context.Context, session *CheckoutSession) error {
	ref, ok, err := s.resolveSession(ctx, session)
	if err != nil {
		return err
	}
	if !ok {
		log.Printf("No record found for expired checkout session %s, dropping event", session.ID)
		return nil
	}

	if ref.Kind == models.RecordKindListing {
		return s.applyListingExpired(ctx, ref.ID, session.ID)
	}
	return s.applyAppointmentExpired(ctx, ref.ID, session.ID)
}

// resolveSession finds the domain record a session refers to. Four tiers,
// first hit wins:
//  1. session metadata correlation_id
//  2. client_reference_id
//  3. re-fetch the session from the provider (webhook payloads can be
//     slimmed-down copies) and retry tiers 1-2 on the refreshed object
//  4. database lookup by the checkout_session_id stamped at creation time
//
// A re-fetch failure is remembered but tier 4 still runs; it only surfaces
// as an error when nothing else resolved, so a transient provider outage
// leads to redelivery rather than a silently dropped event.
func (s *ReconcileService) resolveSession(ctx context.Context, session *CheckoutSession) (RecordRef, bool, error) {
	if ref, ok := resolveFromSession(session); ok {
		return ref, true, nil
	}

	refreshed, fetchErr := s.stripe.GetCheckoutSession(ctx, session.ID)
	if fetchErr == nil {
		if ref, ok := resolveFromSession(refreshed); ok {
			return ref, true, nil
		}
	} else {
		log.Printf("Re-fetch of checkout session %s failed: %v", session.ID, fetchErr)
	}

	ref, ok, err := s.lookupBySessionID(ctx, session.ID)
	if err != nil {
		return RecordRef{}, false, err
	}
	if ok {
		return ref, true, nil
	}
	if fetchErr != nil {
		return RecordRef{}, false, fetchErr
	}
	return RecordRef{}, false, nil
}

func resolveFromSession(session *CheckoutSession) (RecordRef, bool) {
	if ref, ok := ParseCorrelationID(DecodeMetadataChunks(session.Metadata, correlationKey)); ok {
		return ref, true
	}
	return ParseCorrelationID(session.ClientReferenceID)
}

func (s *ReconcileService) lookupBySessionID(ctx context.Context, sessionID string) (RecordRef, bool, error) {
	var appt models.Appointment
	err := s.db.WithContext(ctx).Select("id").Where("checkout_session_id = ?", sessionID).First(&appt).Error
	if err == nil {
		return RecordRef{Kind: models.RecordKindAppointment, ID: appt.ID}, true, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return RecordRef{}, false, err
	}

	var listing models.RentalListing
	err = s.db.WithContext(ctx).Select("id").Where("checkout_session_id = ?", sessionID).First(&listing).Error
	if err == nil {
		return RecordRef{Kind: models.RecordKindListing, ID: listing.ID}, true, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return RecordRef{}, false, err
	}
	return RecordRef{}, false, nil
}

// applyAppointmentPaid marks an appointment paid and confirmed. The guard
// lives in the WHERE clause: a row already paid matches nothing, so
// redeliveries and racing duplicates collapse into zero-row no-ops instead
// of double transitions or duplicate notifications.
func (s *ReconcileService) applyAppointmentPaid(ctx context.Context, id uint, sessionID string) error {
	res := s.db.WithContext(ctx).Model(&models.Appointment{}).
		Where("id = ? AND payment_status <> ?", id, models.PaymentStatusPaid).
		Updates(map[string]interface{}{
			"payment_status":      models.PaymentStatusPaid,
			"status":              models.AppointmentStatusConfirmed,
			"checkout_session_id": sessionID,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		s.explainZeroRows(ctx, models.RecordKindAppointment, id, sessionID)
		return nil
	}

	s.deactivateSessionRecords(ctx, sessionID)

	var appt models.Appointment
	if err := s.db.WithContext(ctx).First(&appt, id).Error; err != nil {
		// Transition already applied; a notification miss is not worth a retry.
		log.Printf("Appointment %d paid but reload for notification failed: %v", id, err)
		return nil
	}
	s.notifier.AppointmentPaid(ctx, &appt)
	return nil
}

// applyAppointmentExpired cancels an unpaid appointment. Expiry only ever
// applies to unpaid rows, which doubles as the ordering guard: an expired
// event delivered after the completed one can never downgrade a paid row.
// It is also scoped to the session that expired, so a superseded session
// expiring late cannot cancel a record that moved on to a fresh checkout.
func (s *ReconcileService) applyAppointmentExpired(ctx context.Context, id uint, sessionID string) error {
	res := s.db.WithContext(ctx).Model(&models.Appointment{}).
		Where("id = ? AND payment_status = ? AND (checkout_session_id = ? OR checkout_session_id = '')",
			id, models.PaymentStatusUnpaid, sessionID).
		Updates(map[string]interface{}{
			"payment_status": models.PaymentStatusExpired,
			"status":         models.AppointmentStatusCancelled,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		s.explainZeroRows(ctx, models.RecordKindAppointment, id, sessionID)
		return nil
	}

	s.deactivateSessionRecords(ctx, sessionID)

	var appt models.Appointment
	if err := s.db.WithContext(ctx).First(&appt, id).Error; err != nil {
		log.Printf("Appointment %d expired but reload for notification failed: %v", id, err)
		return nil
	}
	s.notifier.AppointmentExpired(ctx, &appt)
	return nil
}

// applyListingPaid publishes a listing once its fee is paid
func (s *ReconcileService) applyListingPaid(ctx context.Context, id uint, sessionID string) error {
	res := s.db.WithContext(ctx).Model(&models.RentalListing{}).
		Where("id = ? AND payment_status <> ?", id, models.PaymentStatusPaid).
		Updates(map[string]interface{}{
			"payment_status":      models.PaymentStatusPaid,
			"status":              models.ListingStatusApproved,
			"checkout_session_id": sessionID,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		s.explainZeroRows(ctx, models.RecordKindListing, id, sessionID)
		return nil
	}

	s.deactivateSessionRecords(ctx, sessionID)

	var listing models.RentalListing
	if err := s.db.WithContext(ctx).First(&listing, id).Error; err != nil {
		log.Printf("Listing %d paid but reload for notification failed: %v", id, err)
		return nil
	}
	s.notifier.ListingPaid(ctx, &listing)
	return nil
}

// applyListingExpired marks the fee session expired. The listing keeps its
// domain status so the owner can start a fresh checkout later.
func (s *ReconcileService) applyListingExpired(ctx context.Context, id uint, sessionID string) error {
	res := s.db.WithContext(ctx).Model(&models.RentalListing{}).
		Where("id = ? AND payment_status = ? AND (checkout_session_id = ? OR checkout_session_id = '')",
			id, models.PaymentStatusUnpaid, sessionID).
		Update("payment_status", models.PaymentStatusExpired)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		s.explainZeroRows(ctx, models.RecordKindListing, id, sessionID)
		return nil
	}

	s.deactivateSessionRecords(ctx, sessionID)

	var listing models.RentalListing
	if err := s.db.WithContext(ctx).First(&listing, id).Error; err != nil {
		log.Printf("Listing %d expired but reload for notification failed: %v", id, err)
		return nil
	}
	s.notifier.ListingExpired(ctx, &listing)
	return nil
}

// explainZeroRows distinguishes the benign zero-row outcomes for the logs:
// a redelivered event hitting an already-terminal row, or a row that no
// longer exists. Neither is worth failing the webhook over; the provider
// would just redeliver an event that can never succeed.
func (s *ReconcileService) explainZeroRows(ctx context.Context, kind models.RecordKind, id uint, sessionID string) {
	var err error
	if kind == models.RecordKindListing {
		err = s.db.WithContext(ctx).Select("id").First(&models.RentalListing{}, id).Error
	} else {
		err = s.db.WithContext(ctx).Select("id").First(&models.Appointment{}, id).Error
	}

	if errors.Is(err, gorm.ErrRecordNotFound) {
		log.Printf("Warning: webhook for session %s resolved to %s %d but no row exists", sessionID, kind, id)
		return
	}
	if err != nil {
		log.Printf("Warning: could not inspect %s %d after zero-row update: %v", kind, id, err)
		return
	}
	log.Printf("%s %d already in a terminal payment state, session %s event is a no-op", kind, id, sessionID)
}

// deactivateSessionRecords retires local session rows once their session
// reached a terminal state. Best effort; the provider's session state is
// authoritative.
func (s *ReconcileService) deactivateSessionRecords(ctx context.Context, sessionID string) {
	err := s.db.WithContext(ctx).Model(&models.CheckoutSessionRecord{}).
		Where("session_id = ? AND is_active = ?", sessionID, true).
		Update("is_active", false).Error
	if err != nil {
		log.Printf("Failed to deactivate session records for %s: %v", sessionID, err)
	}
}
