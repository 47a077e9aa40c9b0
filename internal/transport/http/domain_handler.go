package http

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	apperrors "authia/internal/errors"
	"authia/internal/license"
	"authia/internal/security"
)

// DomainHandler serves the authenticated admin endpoints for managing
// license records. Session and CSRF enforcement happen in middleware, so
// every method here runs after those checks.
type DomainHandler struct {
	service *license.Service
	logger  *slog.Logger
}

// NewDomainHandler creates the admin domain handler
func NewDomainHandler(service *license.Service, logger *slog.Logger) *DomainHandler {
	return &DomainHandler{
		service: service,
		logger:  logger.With(slog.String("handler", "domain")),
	}
}

// Routes returns the chi router for domain management
func (h *DomainHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/", h.List)
	r.Post("/", h.Create)
	r.Get("/expired", h.ListExpired)
	r.Get("/deletion-queue", h.ListDeletionQueue)
	r.Get("/stats", h.Stats)
	r.Get("/{id}", h.Get)
	r.Put("/{id}", h.Update)
	r.Post("/{id}/flag-delete", h.FlagDelete)
	r.Post("/{id}/restore", h.Restore)
	r.Delete("/{id}", h.PermanentDelete)
	r.Post("/{id}/renew", h.Renew)
	r.Post("/{id}/regenerate-key", h.RegenerateKey)
	r.Post("/{id}/send-reminder", h.SendReminder)

	return r
}

// DomainRequest is the create/update payload
type DomainRequest struct {
	Domain          string `json:"domain" validate:"required"`
	ClientName      string `json:"client_name"`
	Email           string `json:"email"`
	Message         string `json:"message"`
	LicenseType     string `json:"license_type" validate:"required,oneof=monthly yearly lifetime"`
	ExpiryDate      string `json:"expiry_date,omitempty"`
	Active          bool   `json:"active"`
	PendingDeletion bool   `json:"pending_deletion"`
}

// Bind implements render.Binder. Input is sanitized and validated here so
// the service layer only ever sees canonical values.
func (d *DomainRequest) Bind(r *http.Request) error {
	if err := validateStruct(d); err != nil {
		return err
	}

	domain, ok := security.ValidateDomain(d.Domain)
	if !ok {
		return errors.New("invalid domain name")
	}
	d.Domain = domain

	if d.Email != "" {
		email, ok := security.SanitizeEmail(d.Email)
		if !ok {
			return errors.New("invalid email address")
		}
		d.Email = email
	}

	d.ClientName = security.SanitizeString(d.ClientName)
	d.Message = security.SanitizeString(d.Message)

	if !license.Type(d.LicenseType).Valid() {
		return errors.New("license_type must be monthly, yearly or lifetime")
	}
	return nil
}

// DomainResponse is the JSON shape of one license record
type DomainResponse struct {
	ID              int64   `json:"id"`
	Domain          string  `json:"domain"`
	ClientName      string  `json:"client_name"`
	Email           string  `json:"email"`
	Message         string  `json:"message"`
	LicenseType     string  `json:"license_type"`
	ExpiryDate      *string `json:"expiry_date"`
	Active          bool    `json:"active"`
	PendingDeletion bool    `json:"pending_deletion"`
	Status          string  `json:"status"`
}

func recordResponse(rec *license.Record, now time.Time) DomainResponse {
	resp := DomainResponse{
		ID:              rec.ID,
		Domain:          rec.Domain,
		ClientName:      rec.ClientName,
		Email:           rec.Email,
		Message:         rec.Message,
		LicenseType:     string(rec.Type),
		Active:          rec.Active,
		PendingDeletion: rec.PendingDeletion,
		Status:          string(license.DeriveStatus(rec, now)),
	}
	if rec.ExpiryDate != nil {
		formatted := license.FormatDate(rec.ExpiryDate)
		resp.ExpiryDate = &formatted
	}
	return resp
}

func recordListResponse(records []license.Record, now time.Time) []DomainResponse {
	out := make([]DomainResponse, 0, len(records))
	for i := range records {
		out = append(out, recordResponse(&records[i], now))
	}
	return out
}

// List handles GET /admin/domains?search=
func (h *DomainHandler) List(w http.ResponseWriter, r *http.Request) {
	search := security.SanitizeString(r.URL.Query().Get("search"))
	records, err := h.service.List(r.Context(), search)
	if err != nil {
		h.storageError(w, r, "list domains", err)
		return
	}
	render.JSON(w, r, map[string]interface{}{
		"success": true,
		"data":    recordListResponse(records, time.Now()),
	})
}

// ListExpired handles GET /admin/domains/expired?search=
func (h *DomainHandler) ListExpired(w http.ResponseWriter, r *http.Request) {
	search := security.SanitizeString(r.URL.Query().Get("search"))
	records, err := h.service.ListExpired(r.Context(), search)
	if err != nil {
		h.storageError(w, r, "list expired domains", err)
		return
	}
	render.JSON(w, r, map[string]interface{}{
		"success": true,
		"data":    recordListResponse(records, time.Now()),
	})
}

// ListDeletionQueue handles GET /admin/domains/deletion-queue?search=
func (h *DomainHandler) ListDeletionQueue(w http.ResponseWriter, r *http.Request) {
	search := security.SanitizeString(r.URL.Query().Get("search"))
	records, err := h.service.ListDeletionQueue(r.Context(), search)
	if err != nil {
		h.storageError(w, r, "list deletion queue", err)
		return
	}
	render.JSON(w, r, map[string]interface{}{
		"success": true,
		"data":    recordListResponse(records, time.Now()),
	})
}

// Stats handles GET /admin/domains/stats
func (h *DomainHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.DashboardStats(r.Context())
	if err != nil {
		h.storageError(w, r, "dashboard stats", err)
		return
	}
	render.JSON(w, r, map[string]interface{}{
		"success": true,
		"data": map[string]int{
			"total":            stats.Total,
			"active":           stats.Active,
			"inactive":         stats.Inactive,
			"expired":          stats.Expired,
			"pending_deletion": stats.PendingDeletion,
		},
	})
}

// Get handles GET /admin/domains/{id}
func (h *DomainHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.recordID(w, r)
	if !ok {
		return
	}
	rec, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.serviceError(w, r, "get domain", err)
		return
	}
	render.JSON(w, r, map[string]interface{}{
		"success": true,
		"data":    recordResponse(rec, time.Now()),
	})
}

// Create handles POST /admin/domains. The expiry date is always computed
// from the license type; a submitted one is ignored on create.
func (h *DomainHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req DomainRequest
	if err := render.Bind(r, &req); err != nil {
		apperrors.WriteError(w, apperrors.NewValidationError(err.Error()))
		return
	}

	rec, apiKey, err := h.service.Create(r.Context(), license.CreateInput{
		Domain:          req.Domain,
		ClientName:      req.ClientName,
		Email:           req.Email,
		Message:         req.Message,
		Type:            license.Type(req.LicenseType),
		Active:          req.Active,
		PendingDeletion: req.PendingDeletion,
	})
	if err != nil {
		h.serviceError(w, r, "create domain", err)
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, map[string]interface{}{
		"success": true,
		"data":    recordResponse(rec, time.Now()),
		"api_key": apiKey,
	})
}

// Update handles PUT /admin/domains/{id}
func (h *DomainHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := h.recordID(w, r)
	if !ok {
		return
	}

	var req DomainRequest
	if err := render.Bind(r, &req); err != nil {
		apperrors.WriteError(w, apperrors.NewValidationError(err.Error()))
		return
	}

	var expiry *time.Time
	if req.ExpiryDate != "" {
		parsed, err := license.ParseDate(req.ExpiryDate)
		if err != nil {
			apperrors.WriteError(w, apperrors.ErrValidation("expiry_date", "expected YYYY-MM-DD"))
			return
		}
		expiry = parsed
	}

	err := h.service.Update(r.Context(), license.UpdateInput{
		ID:              id,
		Domain:          req.Domain,
		ClientName:      req.ClientName,
		Email:           req.Email,
		Message:         req.Message,
		Type:            license.Type(req.LicenseType),
		ExpiryDate:      expiry,
		Active:          req.Active,
		PendingDeletion: req.PendingDeletion,
	})
	if err != nil {
		h.serviceError(w, r, "update domain", err)
		return
	}

	render.JSON(w, r, map[string]interface{}{"success": true})
}

// FlagDelete handles POST /admin/domains/{id}/flag-delete. This is the
// expired-listing path: it flags without re-checking the state guard.
func (h *DomainHandler) FlagDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := h.recordID(w, r)
	if !ok {
		return
	}
	if err := h.service.FlagForDeletion(r.Context(), id); err != nil {
		h.serviceError(w, r, "flag domain for deletion", err)
		return
	}
	render.JSON(w, r, map[string]interface{}{"success": true})
}

// Restore handles POST /admin/domains/{id}/restore
func (h *DomainHandler) Restore(w http.ResponseWriter, r *http.Request) {
	id, ok := h.recordID(w, r)
	if !ok {
		return
	}
	if err := h.service.Restore(r.Context(), id); err != nil {
		h.serviceError(w, r, "restore domain", err)
		return
	}
	render.JSON(w, r, map[string]interface{}{"success": true})
}

// PermanentDelete handles DELETE /admin/domains/{id}
func (h *DomainHandler) PermanentDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := h.recordID(w, r)
	if !ok {
		return
	}
	if err := h.service.PermanentDelete(r.Context(), id); err != nil {
		h.serviceError(w, r, "permanently delete domain", err)
		return
	}
	render.JSON(w, r, map[string]interface{}{"success": true})
}

// Renew handles POST /admin/domains/{id}/renew
func (h *DomainHandler) Renew(w http.ResponseWriter, r *http.Request) {
	id, ok := h.recordID(w, r)
	if !ok {
		return
	}
	rec, err := h.service.Renew(r.Context(), id)
	if err != nil {
		h.serviceError(w, r, "renew license", err)
		return
	}
	render.JSON(w, r, map[string]interface{}{
		"success": true,
		"data":    recordResponse(rec, time.Now()),
	})
}

// RegenerateKey handles POST /admin/domains/{id}/regenerate-key. The old
// key stops validating the moment this returns.
func (h *DomainHandler) RegenerateKey(w http.ResponseWriter, r *http.Request) {
	id, ok := h.recordID(w, r)
	if !ok {
		return
	}
	key, err := h.service.RegenerateKey(r.Context(), id)
	if err != nil {
		h.serviceError(w, r, "regenerate api key", err)
		return
	}
	render.JSON(w, r, map[string]interface{}{
		"success": true,
		"api_key": key,
	})
}

// SendReminder handles POST /admin/domains/{id}/send-reminder
func (h *DomainHandler) SendReminder(w http.ResponseWriter, r *http.Request) {
	id, ok := h.recordID(w, r)
	if !ok {
		return
	}
	if err := h.service.SendReminder(r.Context(), id); err != nil {
		h.serviceError(w, r, "send expiry reminder", err)
		return
	}
	render.JSON(w, r, map[string]interface{}{"success": true})
}

// recordID parses the {id} route parameter
func (h *DomainHandler) recordID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		apperrors.WriteError(w, apperrors.ErrValidation("id", "must be a positive integer"))
		return 0, false
	}
	return id, true
}

// serviceError maps service failures onto API errors
func (h *DomainHandler) serviceError(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, license.ErrRecordNotFound), errors.Is(err, license.ErrDomainNotFound):
		apperrors.WriteError(w, apperrors.NotFoundError("domain"))
	case errors.Is(err, license.ErrIllegalTransition):
		apperrors.WriteError(w, apperrors.New(http.StatusUnprocessableEntity, "ILLEGAL_TRANSITION", err.Error()))
	case errors.Is(err, license.ErrLifetimeNoRenewal):
		apperrors.WriteError(w, apperrors.New(http.StatusUnprocessableEntity, "ILLEGAL_TRANSITION", "Lifetime licenses do not renew"))
	case errors.Is(err, license.ErrNoContactEmail):
		apperrors.WriteError(w, apperrors.ErrValidation("email", "domain has no contact email on file"))
	case errors.Is(err, license.ErrNotificationFailed):
		apperrors.WriteError(w, apperrors.New(http.StatusBadGateway, "NOTIFICATION_FAILED", "Reminder email could not be delivered"))
	default:
		h.storageError(w, r, op, err)
	}
}

// storageError logs the failure detail and answers with a generic 500
func (h *DomainHandler) storageError(w http.ResponseWriter, r *http.Request, op string, err error) {
	h.logger.ErrorContext(r.Context(), op+" failed",
		slog.String("error", err.Error()))
	apperrors.WriteError(w, apperrors.ErrStorageFailure)
}
