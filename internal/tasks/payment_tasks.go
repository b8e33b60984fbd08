package tasks

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/gorm"

	"bookline_app_echo/internal/models"
	"bookline_app_echo/internal/services"
)

// reminderMinAge is how long a record must sit unpaid before it earns a
// reminder, so the task never races a checkout that just started.
const reminderMinAge = 6 * time.Hour

// SendPaymentReminderTaskDef nudges customers and owners whose records are
// still unpaid. Typically scheduled recurring (e.g. an RRULE of
// FREQ=DAILY).
type SendPaymentReminderTaskDef struct{}

// TaskID returns the unique identifier for this task
func (t *SendPaymentReminderTaskDef) TaskID() string {
	return "send_payment_reminder"
}

// CreateTask builds a recurring ScheduledTask record for this task
func (t *SendPaymentReminderTaskDef) CreateTask(due time.Time, recurringInterval *string) (*models.ScheduledTask, error) {
	taskType := models.ScheduledTaskTypeOneTime
	if recurringInterval != nil {
		taskType = models.ScheduledTaskTypeRecurring
	}
	return BuildScheduledTask(t.TaskID(), map[string]interface{}{}, due, recurringInterval, taskType, 3)
}

// HandleExecution sends one reminder email per stale unpaid record
func (t *SendPaymentReminderTaskDef) HandleExecution(ctx context.Context, db *gorm.DB, task models.ScheduledTask) (map[string]interface{}, error) {
	emailService := services.NewEmailService()
	appURL := os.Getenv("APP_URL")
	if appURL == "" {
		appURL = "http://localhost:8080"
	}
	cutoff := time.Now().Add(-reminderMinAge)

	successCount := 0
	failureCount := 0

	var appointments []models.Appointment
	err := db.WithContext(ctx).
		Where("payment_status = ? AND status = ? AND created_at < ? AND scheduled_at > ?",
			models.PaymentStatusUnpaid, models.AppointmentStatusPending, cutoff, time.Now()).
		Find(&appointments).Error
	if err != nil {
		return nil, fmt.Errorf("failed to fetch unpaid appointments: %w", err)
	}

	for _, appt := range appointments {
		body := fmt.Sprintf(
			"Hi %s,\n\nYour %s appointment on %s is still awaiting payment. Complete it here: %s\n\nThe slot is released if payment is not received.",
			appt.CustomerName, appt.ServiceName,
			appt.ScheduledAt.Format("Mon, 02 Jan 2006 15:04"),
			appURL+"/a/"+appt.UUID,
		)
		if err := emailService.SendEmail([]string{appt.CustomerEmail}, "Payment reminder for your appointment", body); err != nil {
			log.Printf("Reminder for appointment %d failed: %v", appt.ID, err)
			failureCount++
			continue
		}
		successCount++
	}

	var listings []models.RentalListing
	err = db.WithContext(ctx).
		Where("payment_status = ? AND status = ? AND created_at < ?",
			models.PaymentStatusUnpaid, models.ListingStatusPending, cutoff).
		Find(&listings).Error
	if err != nil {
		return nil, fmt.Errorf("failed to fetch unpaid listings: %w", err)
	}

	for _, listing := range listings {
		body := fmt.Sprintf(
			"Hi %s,\n\nYour listing \"%s\" is not live yet because the listing fee is unpaid. Complete it here: %s",
			listing.OwnerName, listing.Title, appURL+"/l/"+listing.UUID,
		)
		if err := emailService.SendEmail([]string{listing.OwnerEmail}, "Payment reminder for your listing", body); err != nil {
			log.Printf("Reminder for listing %d failed: %v", listing.ID, err)
			failureCount++
			continue
		}
		successCount++
	}

	result := map[string]interface{}{
		"appointments": len(appointments),
		"listings":     len(listings),
		"success":      successCount,
		"failure":      failureCount,
	}
	if failureCount > 0 && successCount == 0 && failureCount == len(appointments)+len(listings) {
		return result, fmt.Errorf("all %d reminders failed", failureCount)
	}
	return result, nil
}

// SendPaymentReminderTask is the singleton instance of SendPaymentReminderTaskDef
var SendPaymentReminderTask = &SendPaymentReminderTaskDef{}

// SweepCheckoutSessionsTaskDef retires local session rows whose provider
// session already reached a terminal state. Pure hygiene: reconciliation
// never depends on this, the webhook pipeline is the source of truth.
type SweepCheckoutSessionsTaskDef struct{}

// TaskID returns the unique identifier for this task
func (t *SweepCheckoutSessionsTaskDef) TaskID() string {
	return "sweep_checkout_sessions"
}

// HandleExecution checks stale active session rows against the provider
func (t *SweepCheckoutSessionsTaskDef) HandleExecution(ctx context.Context, db *gorm.DB, task models.ScheduledTask) (map[string]interface{}, error) {
	stripeService := services.NewStripeService()
	cutoff := time.Now().Add(-24 * time.Hour)

	var records []models.CheckoutSessionRecord
	err := db.WithContext(ctx).
		Where("is_active = ? AND created_at < ?", true, cutoff).
		Limit(200).
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to fetch stale session records: %w", err)
	}

	retired := 0
	for _, record := range records {
		session, err := stripeService.GetCheckoutSession(ctx, record.SessionID)
		if err != nil {
			log.Printf("Sweep: status check for session %s failed: %v", record.SessionID, err)
			continue
		}
		if session.Status == "expired" || session.Status == "complete" {
			if err := db.WithContext(ctx).Model(&models.CheckoutSessionRecord{}).
				Where("id = ?", record.ID).
				Update("is_active", false).Error; err != nil {
				log.Printf("Sweep: failed to deactivate session record %d: %v", record.ID, err)
				continue
			}
			retired++
		}
	}

	return map[string]interface{}{
		"checked": len(records),
		"retired": retired,
	}, nil
}

// SweepCheckoutSessionsTask is the singleton instance of SweepCheckoutSessionsTaskDef
var SweepCheckoutSessionsTask = &SweepCheckoutSessionsTaskDef{}
