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

type ListingHandler struct {
	db       *gorm.DB
	cache    *services.RedisCache
	checkout *services.CheckoutService
}

func NewListingHandler(db *gorm.DB, cache *services.RedisCache, checkout *services.CheckoutService) *ListingHandler {
	return &ListingHandler{db: db, cache: cache, checkout: checkout}
}

type CreateListingRequest struct {
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Address     string  `json:"address"`
	OwnerName   string  `json:"owner_name"`
	OwnerEmail  string  `json:"owner_email"`
	OwnerPhone  string  `json:"owner_phone"`
	MonthlyRent float64 `json:"monthly_rent"`
	ListingFee  float64 `json:"listing_fee"`
}

// CreateListing submits a rental listing. It stays pending and unpaid until
// the listing fee checkout completes.
func (h *ListingHandler) CreateListing(c echo.Context) error {
	var req CreateListingRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	if req.Title == "" || req.OwnerName == "" || req.OwnerEmail == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "title, owner_name and owner_email are required")
	}
	if req.ListingFee <= 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "listing_fee must be positive")
	}

	listing := models.RentalListing{
		UUID:          uuid.New().String(),
		Title:         req.Title,
		Description:   req.Description,
		Address:       req.Address,
		OwnerName:     req.OwnerName,
		OwnerEmail:    req.OwnerEmail,
		OwnerPhone:    req.OwnerPhone,
		MonthlyRent:   req.MonthlyRent,
		ListingFee:    req.ListingFee,
		Status:        models.ListingStatusPending,
		PaymentStatus: models.PaymentStatusUnpaid,
	}

	if err := h.db.Create(&listing).Error; err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to create listing")
	}

	return c.JSON(http.StatusCreated, listing)
}

// InitiateCheckout creates (or resumes) the listing-fee payment session
func (h *ListingHandler) InitiateCheckout(c echo.Context) error {
	id := c.Param("uuid")
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid listing UUID")
	}

	var listing models.RentalListing
	if err := h.db.Where("uuid = ?", id).First(&listing).Error; err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "listing not found")
	}

	if listing.PaymentStatus == models.PaymentStatusPaid {
		return echo.NewHTTPError(http.StatusBadRequest, "listing fee is already paid")
	}

	snapshot, _ := json.Marshal(map[string]interface{}{
		"title":      listing.Title,
		"owner_name": listing.OwnerName,
		"address":    listing.Address,
	})

	forceNew := c.QueryParam("force_new") == "true"
	appURL := getEnv("APP_URL", "http://localhost:8080")
	returnURL := appURL + "/l/" + listing.UUID

	input := services.CheckoutInput{
		Ref:           services.RecordRef{Kind: models.RecordKindListing, ID: listing.ID},
		ProductName:   "Listing fee: " + listing.Title,
		AmountCents:   int64(math.Round(listing.ListingFee * 100)),
		CustomerEmail: listing.OwnerEmail,
		Snapshot:      map[string]string{"listing_snapshot": string(snapshot)},
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

// CheckStatus returns the listing's publication and payment status
func (h *ListingHandler) CheckStatus(c echo.Context) error {
	id := c.Param("uuid")
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid listing UUID")
	}

	cacheKey := "listing:status:" + id
	if h.cache != nil {
		var cached statusResponse
		if err := h.cache.Get(c.Request().Context(), cacheKey, &cached); err == nil {
			return c.JSON(http.StatusOK, cached)
		}
	}

	var listing models.RentalListing
	if err := h.db.Where("uuid = ?", id).First(&listing).Error; err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "listing not found")
	}

	resp := statusResponse{
		Status:        string(listing.Status),
		PaymentStatus: string(listing.PaymentStatus),
	}
	if h.cache != nil {
		_ = h.cache.Set(c.Request().Context(), cacheKey, resp, 5*time.Second)
	}
	return c.JSON(http.StatusOK, resp)
}

// ListListings returns listings for staff, newest first
func (h *ListingHandler) ListListings(c echo.Context) error {
	page := 1
	if p, err := strconv.Atoi(c.QueryParam("page")); err == nil && p > 0 {
		page = p
	}
	pageSize := 20

	query := h.db.Model(&models.RentalListing{})
	if status := c.QueryParam("status"); status != "" {
		query = query.Where("status = ?", status)
	}
	if paymentStatus := c.QueryParam("payment_status"); paymentStatus != "" {
		query = query.Where("payment_status = ?", paymentStatus)
	}

	var totalCount int64
	if err := query.Count(&totalCount).Error; err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to count listings")
	}

	var listings []models.RentalListing
	if err := query.Order("created_at desc").Limit(pageSize).Offset((page - 1) * pageSize).Find(&listings).Error; err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to fetch listings")
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"listings": listings,
		"page":     page,
		"total":    totalCount,
	})
}
