package tasks

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"bookline_app_echo/internal/models"
)

func newTaskTestDB(t *testing.T) *gorm.DB {
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
		&models.ScheduledTask{},
		&models.ScheduledTaskHistory{},
	))
	return db
}

func TestSendPaymentReminderSelection(t *testing.T) {
	db := newTaskTestDB(t)
	stale := time.Now().Add(-8 * time.Hour)

	// Eligible: stale, unpaid, still in the future.
	require.NoError(t, db.Create(&models.Appointment{
		UUID: "a-stale", CustomerName: "Jo", CustomerEmail: "jo@example.com",
		ServiceName: "Haircut", ScheduledAt: time.Now().Add(48 * time.Hour),
		Status: models.AppointmentStatusPending, PaymentStatus: models.PaymentStatusUnpaid,
	}).Error)
	// Too fresh to nag.
	require.NoError(t, db.Create(&models.Appointment{
		UUID: "a-fresh", CustomerEmail: "fresh@example.com",
		ScheduledAt: time.Now().Add(48 * time.Hour),
		Status:      models.AppointmentStatusPending, PaymentStatus: models.PaymentStatusUnpaid,
	}).Error)
	// Already paid.
	require.NoError(t, db.Create(&models.Appointment{
		UUID: "a-paid", CustomerEmail: "paid@example.com",
		ScheduledAt: time.Now().Add(48 * time.Hour),
		Status:      models.AppointmentStatusConfirmed, PaymentStatus: models.PaymentStatusPaid,
	}).Error)
	require.NoError(t, db.Model(&models.Appointment{}).
		Where("uuid = ?", "a-stale").Update("created_at", stale).Error)

	require.NoError(t, db.Create(&models.RentalListing{
		UUID: "l-stale", OwnerName: "Sam", OwnerEmail: "sam@example.com", Title: "Studio",
		Status: models.ListingStatusPending, PaymentStatus: models.PaymentStatusUnpaid,
	}).Error)
	require.NoError(t, db.Model(&models.RentalListing{}).
		Where("uuid = ?", "l-stale").Update("created_at", stale).Error)

	// No SMTP config, so every selected reminder fails to send. The result
	// still shows which records were picked, and a fully-failed run errors
	// so the worker retries it.
	task := models.ScheduledTask{TaskName: SendPaymentReminderTask.TaskID()}
	result, err := SendPaymentReminderTask.HandleExecution(context.Background(), db, task)
	require.Error(t, err)
	assert.Equal(t, 1, result["appointments"])
	assert.Equal(t, 1, result["listings"])
	assert.Equal(t, 0, result["success"])
	assert.Equal(t, 2, result["failure"])
}

func TestSweepCheckoutSessions(t *testing.T) {
	db := newTaskTestDB(t)

	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimPrefix(r.URL.Path, "/v1/checkout/sessions/")
		status := "open"
		if strings.HasPrefix(id, "cs_dead") {
			status = "expired"
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"id":%q,"status":%q}`, id, status)
	}))
	defer provider.Close()
	t.Setenv("STRIPE_SECRET_KEY", "sk_test")
	t.Setenv("STRIPE_API_BASE_URL", provider.URL)

	stale := time.Now().Add(-48 * time.Hour)
	for _, sessionID := range []string{"cs_dead_1", "cs_open_1"} {
		record := models.CheckoutSessionRecord{
			RecordKind:     models.RecordKindAppointment,
			RecordID:       1,
			PaymentGateway: models.PaymentGatewayStripe,
			SessionID:      sessionID,
			IsActive:       true,
		}
		require.NoError(t, db.Create(&record).Error)
		require.NoError(t, db.Model(&models.CheckoutSessionRecord{}).
			Where("id = ?", record.ID).Update("created_at", stale).Error)
	}
	// A fresh row must not be touched even if its session is dead.
	require.NoError(t, db.Create(&models.CheckoutSessionRecord{
		RecordKind:     models.RecordKindAppointment,
		RecordID:       2,
		PaymentGateway: models.PaymentGatewayStripe,
		SessionID:      "cs_dead_fresh",
		IsActive:       true,
	}).Error)

	task := models.ScheduledTask{TaskName: SweepCheckoutSessionsTask.TaskID()}
	result, err := SweepCheckoutSessionsTask.HandleExecution(context.Background(), db, task)
	require.NoError(t, err)
	assert.Equal(t, 2, result["checked"])
	assert.Equal(t, 1, result["retired"])

	var active int64
	require.NoError(t, db.Model(&models.CheckoutSessionRecord{}).
		Where("is_active = ?", true).Count(&active).Error)
	assert.Equal(t, int64(2), active)
}

func TestBuildScheduledTask(t *testing.T) {
	interval := "FREQ=DAILY"
	task, err := BuildScheduledTask("send_payment_reminder", map[string]interface{}{"dry_run": true},
		time.Now().Add(time.Hour), &interval, models.ScheduledTaskTypeRecurring, 3)
	require.NoError(t, err)

	assert.Equal(t, "send_payment_reminder", task.TaskName)
	assert.Equal(t, true, task.Arguments["dry_run"])
	assert.Equal(t, models.ScheduledTaskStatusActive, task.Status)
	assert.Equal(t, models.ScheduledTaskTypeRecurring, task.TaskType)
	require.NotNil(t, task.RecurringInterval)
	assert.Equal(t, interval, *task.RecurringInterval)
}
