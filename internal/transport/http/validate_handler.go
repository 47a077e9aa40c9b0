// Package http provides the HTTP transport layer: the public license
// validation API and the JSON admin endpoints, assembled on chi.
package http

import (
	"errors"
	"log/slog"
	"net"
	"net/http"

	"github.com/go-chi/render"

	"authia/internal/config"
	"authia/internal/license"
	"authia/internal/security"
)

// ValidateHandler serves the public license validation endpoint. No
// session, no CSRF; only a per-client rate limit guards it.
type ValidateHandler struct {
	service *license.Service
	limiter *security.RateLimiter
	policy  config.RateLimitPolicy
	logger  *slog.Logger
}

// NewValidateHandler creates the validation endpoint handler
func NewValidateHandler(service *license.Service, limiter *security.RateLimiter, policy config.RateLimitPolicy, logger *slog.Logger) *ValidateHandler {
	return &ValidateHandler{
		service: service,
		limiter: limiter,
		policy:  policy,
		logger:  logger.With(slog.String("handler", "validate")),
	}
}

// validationError is the public API's error envelope. Deliberately
// identical in shape for every failure so the endpoint cannot be used to
// enumerate registered domains.
type validationError struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// validationSuccess is the public API's success envelope
type validationSuccess struct {
	Status string         `json:"status"`
	Data   validationData `json:"data"`
}

type validationData struct {
	Domain      string  `json:"domain"`
	Active      int     `json:"active"`
	Message     string  `json:"message"`
	Delete      string  `json:"delete"`
	LicenseType string  `json:"license_type"`
	ExpiryDate  *string `json:"expiry_date"`
}

// Validate handles GET /api?domain=&key=
func (h *ValidateHandler) Validate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	clientIP := clientIdentifier(r)
	if !h.limiter.Check(clientIP, "api_validation", h.policy.MaxAttempts, h.policy.Window) {
		h.logger.WarnContext(ctx, "validation rate limit exceeded",
			slog.String("remote_addr", clientIP))
		rateLimitHits.WithLabelValues("api_validation").Inc()
		render.Status(r, http.StatusTooManyRequests)
		render.JSON(w, r, validationError{Status: "error", Message: "Rate limit exceeded. Try again later."})
		return
	}

	rawDomain := r.URL.Query().Get("domain")
	apiKey := r.URL.Query().Get("key")

	domain, ok := security.ValidateDomain(rawDomain)
	if !ok {
		validationRequests.WithLabelValues("invalid_domain").Inc()
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, validationError{Status: "error", Message: "Invalid domain"})
		return
	}

	result, err := h.service.Validate(ctx, domain, apiKey)
	if err != nil {
		switch {
		case errors.Is(err, license.ErrDomainNotFound):
			validationRequests.WithLabelValues("domain_not_found").Inc()
			render.Status(r, http.StatusNotFound)
			render.JSON(w, r, validationError{Status: "error", Message: "Domain not found"})
		case errors.Is(err, license.ErrInvalidAPIKey):
			validationRequests.WithLabelValues("invalid_key").Inc()
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, validationError{Status: "error", Message: "Invalid API key"})
		default:
			h.logger.ErrorContext(ctx, "validation lookup failed",
				slog.String("domain", domain),
				slog.String("error", err.Error()))
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, validationError{Status: "error", Message: "Internal error"})
		}
		return
	}

	data := validationData{
		Domain:      result.Domain,
		Message:     result.Message,
		Delete:      "no",
		LicenseType: string(result.Type),
	}
	if result.Active {
		data.Active = 1
	}
	if result.Deletion {
		data.Delete = "yes"
	}
	if result.ExpiryDate != nil {
		formatted := license.FormatDate(result.ExpiryDate)
		data.ExpiryDate = &formatted
	}

	validationRequests.WithLabelValues("success").Inc()
	render.JSON(w, r, validationSuccess{Status: "success", Data: data})
}

// clientIdentifier returns the client IP used as the rate-limit key.
// Relies on chi's RealIP middleware having rewritten RemoteAddr.
func clientIdentifier(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
