package services

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"

	"bookline_app_echo/internal/models"
)

// NotificationService fans out post-payment notifications: a confirmation
// email to the customer, an email to the internal team inbox, and a WhatsApp
// alert to the team chat. Channels are best-effort and independent: each
// failure is logged and swallowed, and none of them can affect the payment
// state that triggered the fan-out.
type NotificationService struct {
	email *EmailService
	waha  *WahaService

	teamEmail  string
	teamChatID string
}

func NewNotificationService(email *EmailService, waha *WahaService) *NotificationService {
	return &NotificationService{
		email:      email,
		waha:       waha,
		teamEmail:  os.Getenv("TEAM_EMAIL"),
		teamChatID: os.Getenv("TEAM_WHATSAPP_CHAT_ID"),
	}
}

type notificationJob struct {
	channel string
	send    func() error
}

// dispatch runs every job concurrently and waits for all of them.
// Individual failures are logged, never propagated.
func (s *NotificationService) dispatch(jobs []notificationJob) {
	var wg sync.WaitGroup
	for _, job := range jobs {
		wg.Add(1)
		go func(job notificationJob) {
			defer wg.Done()
			if err := job.send(); err != nil {
				log.Printf("Notification via %s failed: %v", job.channel, err)
			}
		}(job)
	}
	wg.Wait()
}

// AppointmentPaid notifies all channels that an appointment is confirmed
func (s *NotificationService) AppointmentPaid(ctx context.Context, appt *models.Appointment) {
	customerBody := fmt.Sprintf(
		"Hi %s,\n\nYour payment was received and your %s appointment on %s is confirmed.\n\nSee you then!",
		appt.CustomerName, appt.ServiceName, appt.ScheduledAt.Format("Mon, 02 Jan 2006 15:04"),
	)
	teamBody := fmt.Sprintf(
		"Appointment #%d (%s) for %s <%s> is paid and confirmed. Scheduled at %s.",
		appt.ID, appt.ServiceName, appt.CustomerName, appt.CustomerEmail,
		appt.ScheduledAt.Format("2006-01-02 15:04"),
	)

	jobs := []notificationJob{
		{channel: "customer-email", send: func() error {
			return s.email.SendEmail([]string{appt.CustomerEmail}, "Your appointment is confirmed", customerBody)
		}},
	}
	if s.teamEmail != "" {
		jobs = append(jobs, notificationJob{channel: "team-email", send: func() error {
			return s.email.SendEmail([]string{s.teamEmail}, fmt.Sprintf("Appointment #%d paid", appt.ID), teamBody)
		}})
	}
	if s.teamChatID != "" {
		jobs = append(jobs, notificationJob{channel: "team-whatsapp", send: func() error {
			return s.waha.SendMessage(ctx, s.teamChatID, teamBody)
		}})
	}
	s.dispatch(jobs)
}

// AppointmentExpired notifies the customer that their checkout lapsed
func (s *NotificationService) AppointmentExpired(ctx context.Context, appt *models.Appointment) {
	customerBody := fmt.Sprintf(
		"Hi %s,\n\nThe payment session for your %s appointment expired before it was completed, so the booking was cancelled. You can book again anytime.",
		appt.CustomerName, appt.ServiceName,
	)

	jobs := []notificationJob{
		{channel: "customer-email", send: func() error {
			return s.email.SendEmail([]string{appt.CustomerEmail}, "Your appointment booking expired", customerBody)
		}},
	}
	if s.teamChatID != "" {
		teamBody := fmt.Sprintf("Appointment #%d for %s expired unpaid and was cancelled.", appt.ID, appt.CustomerName)
		jobs = append(jobs, notificationJob{channel: "team-whatsapp", send: func() error {
			return s.waha.SendMessage(ctx, s.teamChatID, teamBody)
		}})
	}
	s.dispatch(jobs)
}

// ListingPaid notifies all channels that a listing fee was paid and the
// listing is live
func (s *NotificationService) ListingPaid(ctx context.Context, listing *models.RentalListing) {
	ownerBody := fmt.Sprintf(
		"Hi %s,\n\nYour listing fee was received. \"%s\" is now live on the marketplace.",
		listing.OwnerName, listing.Title,
	)
	teamBody := fmt.Sprintf(
		"Listing #%d (\"%s\") by %s <%s> is paid and published.",
		listing.ID, listing.Title, listing.OwnerName, listing.OwnerEmail,
	)

	jobs := []notificationJob{
		{channel: "owner-email", send: func() error {
			return s.email.SendEmail([]string{listing.OwnerEmail}, "Your listing is live", ownerBody)
		}},
	}
	if s.teamEmail != "" {
		jobs = append(jobs, notificationJob{channel: "team-email", send: func() error {
			return s.email.SendEmail([]string{s.teamEmail}, fmt.Sprintf("Listing #%d paid", listing.ID), teamBody)
		}})
	}
	if s.teamChatID != "" {
		jobs = append(jobs, notificationJob{channel: "team-whatsapp", send: func() error {
			return s.waha.SendMessage(ctx, s.teamChatID, teamBody)
		}})
	}
	s.dispatch(jobs)
}

// ListingExpired notifies the owner their listing-fee checkout lapsed
func (s *NotificationService) ListingExpired(ctx context.Context, listing *models.RentalListing) {
	ownerBody := fmt.Sprintf(
		"Hi %s,\n\nThe payment session for your listing \"%s\" expired before it was completed. Start a new checkout to publish it.",
		listing.OwnerName, listing.Title,
	)

	s.dispatch([]notificationJob{
		{channel: "owner-email", send: func() error {
			return s.email.SendEmail([]string{listing.OwnerEmail}, "Your listing payment expired", ownerBody)
		}},
	})
}
