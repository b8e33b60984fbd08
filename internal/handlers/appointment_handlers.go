package handlers

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"gorm.io/gorm"

	"bookline_app_echo/internal/models"
	"bookline_app_echo/internal/services"
)

type AppointmentHandler struct {
	db       *gorm.DB
	cache    *services.RedisCache
	checkout *services.CheckoutService
}

func NewAppointmentHandler(db *gorm.DB, cache *services.RedisCache, checkout *services.CheckoutService) *AppointmentHandler {
	return &AppointmentHandler{db: db, cache: cache, checkout: checkout}
}

type CreateAppointmentRequest struct {
	CustomerName    string    `json:"customer_name"`
	CustomerEmail   string    `json:"customer_email"`
	CustomerPhone   string    `json:"customer_phone"`
	ServiceName     string    `json:"service_name"`
	ScheduledAt     time.Time `json:"scheduled_at"`
	DurationMinutes int       `json:"duration_minutes"`
	Notes           string    `json:"notes"`
	Price           float64   `json:"price"`
}

// CreateAppointment creates an unpaid appointment via the public booking flow
func (h *AppointmentHandler) CreateAppointment(c echo.Context) error {
	var req CreateAppointmentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	if req.CustomerName == "" || req.CustomerEmail == "" || req.ServiceName == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "customer_name, customer_email and service_name are required")
	}
	if req.ScheduledAt.IsZero() || req.ScheduledAt.Before(time.Now()) {
		return echo.NewHTTPError(http.StatusBadRequest, "scheduled_at must be in the future")
	}
	if req.Price <= 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "price must be positive")
	}

	appt := models.Appointment{
		UUID:            uuid.New().String(),
		CustomerName:    req.CustomerName,
		CustomerEmail:   req.CustomerEmail,
		CustomerPhone:   req.CustomerPhone,
		ServiceName:     req.ServiceName,
		ScheduledAt:     req.ScheduledAt,
		DurationMinutes: req.DurationMinutes,
		Notes:           req.Notes,
		Price:           req.Price,
		Status:          models.AppointmentStatusPending,
		PaymentStatus:   models.PaymentStatusUnpaid,
	}
	if appt.DurationMinutes <= 0 {
		appt.DurationMinutes = 60
	}

	if err := h.db.Create(&appt).Error; err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to create appointment")
	}

	return c.JSON(http.StatusCreated, appt)
}

// InitiateCheckout creates (or resumes) the payment session for an appointment
func (h *AppointmentHandler) InitiateCheckout(c echo.Context) error {
	id := c.Param("uuid")
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid appointment UUID")
	}

	var appt models.Appointment
	if err := h.db.Where("uuid = ?", id).First(&appt).Error; err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "appointment not found")
	}

	if appt.PaymentStatus == models.PaymentStatusPaid {
		return echo.NewHTTPError(http.StatusBadRequest, "appointment is already paid")
	}

	// A booking snapshot rides along in session metadata; values over the
	// provider limit are chunked by the checkout service.
	snapshot, _ := json.Marshal(map[string]interface{}{
		"customer_name": appt.CustomerName,
		"service_name":  appt.ServiceName,
		"scheduled_at":  appt.ScheduledAt,
		"notes":         appt.Notes,
	})

	forceNew := c.QueryParam("force_new") == "true"
	appURL := getEnv("APP_URL", "http://localhost:8080")
	returnURL := appURL + "/a/" + appt.UUID

	input := services.CheckoutInput{
		Ref:           services.RecordRef{Kind: models.RecordKindAppointment, ID: appt.ID},
		ProductName:   "Appointment: " + appt.ServiceName,
		AmountCents:   int64(math.Round(appt.Price * 100)),
		CustomerEmail: appt.CustomerEmail,
		Snapshot:      map[string]string{"booking_snapshot": string(snapshot)},
	}

	result, err := h.checkout.InitiateCheckout(c.Request().Context(), input, forceNew, returnURL, returnURL)
	if err != nil {
		if errors.Is(err, services.ErrAlreadyPaid) {
			return c.JSON(http.StatusBadRequest, map[string]string{"message": "Payment is already made. Please check the status."})
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to initiate payment: "+err.Error())
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"session_id":   result.SessionID,
		"redirect_url": result.RedirectURL,
		"is_existing":  result.IsExisting,
	})
}

// CheckStatus returns the appointment's booking and payment status.
// Polled by the return page after checkout, so reads go through a short
// cache window.
func (h *AppointmentHandler) CheckStatus(c echo.Context) error {
	id := c.Param("uuid")
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid appointment UUID")
	}

	cacheKey := "appointment:status:" + id
	if h.cache != nil {
		var cached statusResponse
		if err := h.cache.Get(c.Request().Context(), cacheKey, &cached); err == nil {
			return c.JSON(http.StatusOK, cached)
		}
	}

	var appt models.Appointment
	if err := h.db.Where("uuid = ?", id).First(&appt).Error; err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "appointment not found")
	}

	resp := statusResponse{
		Status:        string(appt.Status),
		PaymentStatus: string(appt.PaymentStatus),
	}
	if h.cache != nil {
		_ = h.cache.Set(c.Request().Context(), cacheKey, resp, 5*time.Second)
	}
	return c.JSON(http.StatusOK, resp)
}

// ListAppointments returns appointments for staff, newest first
func (h *AppointmentHandler) ListAppointments(c echo.Context) error {
	page := 1
	if p, err := strconv.Atoi(c.QueryParam("page")); err == nil && p > 0 {
		page = p
	}
	pageSize := 20

	query := h.db.Model(&models.Appointment{})
	if status := c.QueryParam("status"); status != "" {
		query = query.Where("status = ?", status)
	}
	if paymentStatus := c.QueryParam("payment_status"); paymentStatus != "" {
		query = query.Where("payment_status = ?", paymentStatus)
	}

	var totalCount int64
	if err := query.Count(&totalCount).Error; err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to count appointments")
	}

	var appointments []models.Appointment
	if err := query.Order("created_at desc").Limit(pageSize).Offset((page - 1) * pageSize).Find(&appointments).Error; err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to fetch appointments")
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"appointments": appointments,
		"page":         page,
		"total":        totalCount,
	})
}
