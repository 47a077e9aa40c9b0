package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"authia/internal/config"
	apperrors "authia/internal/errors"
	"authia/internal/middleware"
	"authia/internal/security"
	"authia/internal/store"
)

const (
	actionLogin          = "admin_login"
	actionChangePassword = "change_password"
	actionPasswordReset  = "password_reset"

	resetCodeTTL = 10 * time.Minute
)

// UserStore is the persistence surface the auth handler needs
type UserStore interface {
	GetUserByUsername(ctx context.Context, username string) (*store.AdminUser, error)
	GetUserByEmail(ctx context.Context, email string) (*store.AdminUser, error)
	GetUserByID(ctx context.Context, id int64) (*store.AdminUser, error)
	GetUserByRememberToken(ctx context.Context, token string) (*store.AdminUser, error)
	UpdatePassword(ctx context.Context, userID int64, hash string) error
	SetRememberToken(ctx context.Context, userID int64, token string) error
	SetResetToken(ctx context.Context, userID int64, token string, expires time.Time) error
	GetResetToken(ctx context.Context, userID int64) (string, time.Time, error)
	ClearResetToken(ctx context.Context, userID int64) error
}

// ResetMailer delivers password-reset codes
type ResetMailer interface {
	SendResetCode(ctx context.Context, to, code string, validFor time.Duration) error
}

// AuthHandler serves operator authentication: login with optional
// remember-me, logout, password change, and the three-step reset flow.
type AuthHandler struct {
	users    UserStore
	guard    *security.SessionGuard
	csrf     *security.CSRFGuard
	limiter  *security.RateLimiter
	mailer   ResetMailer
	security config.SecurityConfig
	logger   *slog.Logger
	now      func() time.Time
}

// NewAuthHandler creates the auth handler
func NewAuthHandler(users UserStore, guard *security.SessionGuard, csrf *security.CSRFGuard, limiter *security.RateLimiter, mailer ResetMailer, secCfg config.SecurityConfig, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		users:    users,
		guard:    guard,
		csrf:     csrf,
		limiter:  limiter,
		mailer:   mailer,
		security: secCfg,
		logger:   logger.With(slog.String("handler", "auth")),
		now:      time.Now,
	}
}

// Routes returns the chi router for the auth endpoints. CSRF middleware is
// applied by the caller; these routes assume it already ran.
func (h *AuthHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/session", h.Session)
	r.Post("/login", h.Login)
	r.Post("/logout", h.Logout)
	r.Post("/password", h.ChangePassword)
	r.Post("/reset/request", h.ResetRequest)
	r.Post("/reset/verify", h.ResetVerify)
	r.Post("/reset/confirm", h.ResetConfirm)

	return r
}

// Session handles GET /admin/session. It reports the session's auth state
// and hands out the CSRF token clients must echo on mutating requests.
func (h *AuthHandler) Session(w http.ResponseWriter, r *http.Request) {
	sess := middleware.SessionFromContext(r.Context())
	render.JSON(w, r, map[string]interface{}{
		"success":       true,
		"authenticated": sess.Authenticated(),
		"csrf_token":    h.csrf.IssueToken(sess),
	})
}

// LoginRequest is the login payload
type LoginRequest struct {
	Username   string `json:"username" validate:"required"`
	Password   string `json:"password" validate:"required"`
	RememberMe bool   `json:"remember_me"`
}

// Bind implements render.Binder
func (l *LoginRequest) Bind(r *http.Request) error {
	l.Username = strings.TrimSpace(l.Username)
	return validateStruct(l)
}

// Login handles POST /admin/login. Failures are rate limited per client
// IP; a success forgives earlier failures and regenerates the session ID.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	clientIP := clientIdentifier(r)

	policy := h.security.AdminLimit
	if !h.limiter.Check(clientIP, actionLogin, policy.MaxAttempts, policy.Window) {
		h.logger.WarnContext(ctx, "login rate limit exceeded",
			slog.String("remote_addr", clientIP))
		rateLimitHits.WithLabelValues(actionLogin).Inc()
		h.rateLimited(w, clientIP, actionLogin, policy)
		return
	}

	var req LoginRequest
	if err := render.Bind(r, &req); err != nil {
		apperrors.WriteError(w, apperrors.NewValidationError(err.Error()))
		return
	}

	user, err := h.users.GetUserByUsername(ctx, req.Username)
	if err != nil {
		// Burn a verification anyway so unknown and known usernames take
		// comparable time.
		security.VerifyPassword(req.Password, security.HashPassword("invalid"))
		h.invalidCredentials(w, ctx, clientIP)
		return
	}

	if !security.VerifyPassword(req.Password, user.PasswordHash) {
		h.invalidCredentials(w, ctx, clientIP)
		return
	}

	h.limiter.Reset(clientIP, actionLogin)
	loginAttempts.WithLabelValues("success").Inc()

	sess := middleware.SessionFromContext(ctx)
	sess.SetAuthenticated(user.ID)
	sess = h.guard.Regenerate(w, r, sess)

	if req.RememberMe {
		h.issueRememberToken(w, r, user.ID)
	}

	h.logger.InfoContext(ctx, "operator logged in",
		slog.Int64("user_id", user.ID))

	render.JSON(w, r, map[string]interface{}{
		"success":    true,
		"csrf_token": h.csrf.IssueToken(sess),
	})
}

// Logout handles POST /admin/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess := middleware.SessionFromContext(ctx)

	if userID, ok := sess.UserID(); ok {
		if err := h.users.SetRememberToken(ctx, userID, ""); err != nil {
			h.logger.ErrorContext(ctx, "failed to clear remember token",
				slog.String("error", err.Error()))
		}
	}

	h.guard.Destroy(w, r, sess)
	h.clearRememberCookie(w, r)

	render.JSON(w, r, map[string]interface{}{"success": true})
}

// ChangePasswordRequest is the password change payload
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required"`
}

// Bind implements render.Binder
func (c *ChangePasswordRequest) Bind(r *http.Request) error {
	return validateStruct(c)
}

// ChangePassword handles POST /admin/password for a logged-in operator.
// Attempts are rate limited per client IP; a success forgives them.
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	clientIP := clientIdentifier(r)

	policy := h.security.AdminLimit
	if !h.limiter.Check(clientIP, actionChangePassword, policy.MaxAttempts, policy.Window) {
		h.logger.WarnContext(ctx, "password change rate limit exceeded",
			slog.String("remote_addr", clientIP))
		rateLimitHits.WithLabelValues(actionChangePassword).Inc()
		h.rateLimited(w, clientIP, actionChangePassword, policy)
		return
	}

	sess := middleware.SessionFromContext(ctx)
	userID, ok := sess.UserID()
	if !ok {
		apperrors.WriteError(w, apperrors.ErrUnauthorized)
		return
	}

	var req ChangePasswordRequest
	if err := render.Bind(r, &req); err != nil {
		apperrors.WriteError(w, apperrors.NewValidationError(err.Error()))
		return
	}

	user, err := h.users.GetUserByID(ctx, userID)
	if err != nil {
		apperrors.WriteError(w, apperrors.ErrUnauthorized)
		return
	}

	if !security.VerifyPassword(req.CurrentPassword, user.PasswordHash) {
		apperrors.WriteError(w, apperrors.New(http.StatusForbidden, "INVALID_CREDENTIALS", "Current password is incorrect"))
		return
	}

	if result := security.ValidatePassword(req.NewPassword); !result.Valid {
		apperrors.WriteError(w, apperrors.ErrValidation("new_password", result.Reason))
		return
	}

	if err := h.users.UpdatePassword(ctx, userID, security.HashPassword(req.NewPassword)); err != nil {
		h.logger.ErrorContext(ctx, "password update failed", slog.String("error", err.Error()))
		apperrors.WriteError(w, apperrors.ErrStorageFailure)
		return
	}

	h.limiter.Reset(clientIP, actionChangePassword)
	h.logger.InfoContext(ctx, "operator password changed", slog.Int64("user_id", userID))
	render.JSON(w, r, map[string]interface{}{"success": true})
}

// ResetRequestPayload is the first reset step's payload
type ResetRequestPayload struct {
	Email string `json:"email" validate:"required,email"`
}

// Bind implements render.Binder
func (p *ResetRequestPayload) Bind(r *http.Request) error {
	if err := validateStruct(p); err != nil {
		return err
	}
	email, ok := security.SanitizeEmail(p.Email)
	if !ok {
		return errors.New("invalid email address")
	}
	p.Email = email
	return nil
}

// ResetRequest handles POST /admin/reset/request. An unknown address gets
// the same response and session state as a known one, so the endpoint
// cannot confirm which address the operator account uses.
func (h *AuthHandler) ResetRequest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	clientIP := clientIdentifier(r)

	policy := h.security.AdminLimit
	if !h.limiter.Check(clientIP, actionPasswordReset, policy.MaxAttempts, policy.Window) {
		rateLimitHits.WithLabelValues(actionPasswordReset).Inc()
		h.rateLimited(w, clientIP, actionPasswordReset, policy)
		return
	}

	var req ResetRequestPayload
	if err := render.Bind(r, &req); err != nil {
		apperrors.WriteError(w, apperrors.NewValidationError(err.Error()))
		return
	}

	sess := middleware.SessionFromContext(ctx)
	sess.Put(security.SessionKeyResetStep, 2)
	sess.Put(security.SessionKeyResetUserID, int64(0))

	if user, err := h.users.GetUserByEmail(ctx, req.Email); err == nil {
		code := security.GenerateOTP()
		expires := h.now().Add(resetCodeTTL)
		if err := h.users.SetResetToken(ctx, user.ID, code, expires); err != nil {
			h.logger.ErrorContext(ctx, "failed to store reset code", slog.String("error", err.Error()))
			apperrors.WriteError(w, apperrors.ErrStorageFailure)
			return
		}
		sess.Put(security.SessionKeyResetUserID, user.ID)
		if err := h.mailer.SendResetCode(ctx, user.Email, code, resetCodeTTL); err != nil {
			// Logged by the mailer; the response stays identical to the
			// unknown-address case.
			h.logger.WarnContext(ctx, "reset code delivery failed")
		}
	}

	render.JSON(w, r, map[string]interface{}{
		"success": true,
		"message": "If the address is on file, a verification code has been sent.",
	})
}

// ResetVerifyPayload is the second reset step's payload
type ResetVerifyPayload struct {
	Code string `json:"code" validate:"required,len=6"`
}

// Bind implements render.Binder
func (p *ResetVerifyPayload) Bind(r *http.Request) error {
	p.Code = strings.TrimSpace(p.Code)
	return validateStruct(p)
}

// ResetVerify handles POST /admin/reset/verify
func (h *AuthHandler) ResetVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	clientIP := clientIdentifier(r)

	policy := h.security.AdminLimit
	if !h.limiter.Check(clientIP, actionPasswordReset, policy.MaxAttempts, policy.Window) {
		rateLimitHits.WithLabelValues(actionPasswordReset).Inc()
		h.rateLimited(w, clientIP, actionPasswordReset, policy)
		return
	}

	var req ResetVerifyPayload
	if err := render.Bind(r, &req); err != nil {
		apperrors.WriteError(w, apperrors.NewValidationError(err.Error()))
		return
	}

	sess := middleware.SessionFromContext(ctx)
	userID, ok := h.resetUser(sess, 2)
	if !ok || !h.codeMatches(ctx, userID, req.Code) {
		apperrors.WriteError(w, apperrors.New(http.StatusForbidden, "INVALID_RESET_CODE", "Invalid or expired code"))
		return
	}

	sess.Put(security.SessionKeyResetStep, 3)
	render.JSON(w, r, map[string]interface{}{"success": true})
}

// ResetConfirmPayload is the final reset step's payload
type ResetConfirmPayload struct {
	Password string `json:"password" validate:"required"`
}

// Bind implements render.Binder
func (p *ResetConfirmPayload) Bind(r *http.Request) error {
	return validateStruct(p)
}

// ResetConfirm handles POST /admin/reset/confirm. A success clears the
// stored code, resets the session's flow state and forgives the limiter.
func (h *AuthHandler) ResetConfirm(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	clientIP := clientIdentifier(r)

	policy := h.security.AdminLimit
	if !h.limiter.Check(clientIP, actionPasswordReset, policy.MaxAttempts, policy.Window) {
		rateLimitHits.WithLabelValues(actionPasswordReset).Inc()
		h.rateLimited(w, clientIP, actionPasswordReset, policy)
		return
	}

	var req ResetConfirmPayload
	if err := render.Bind(r, &req); err != nil {
		apperrors.WriteError(w, apperrors.NewValidationError(err.Error()))
		return
	}

	sess := middleware.SessionFromContext(ctx)
	userID, ok := h.resetUser(sess, 3)
	if !ok {
		apperrors.WriteError(w, apperrors.New(http.StatusForbidden, "RESET_FLOW_INVALID", "Verification step not completed"))
		return
	}

	if result := security.ValidatePassword(req.Password); !result.Valid {
		apperrors.WriteError(w, apperrors.ErrValidation("password", result.Reason))
		return
	}

	if err := h.users.UpdatePassword(ctx, userID, security.HashPassword(req.Password)); err != nil {
		h.logger.ErrorContext(ctx, "reset password update failed", slog.String("error", err.Error()))
		apperrors.WriteError(w, apperrors.ErrStorageFailure)
		return
	}
	if err := h.users.ClearResetToken(ctx, userID); err != nil {
		h.logger.ErrorContext(ctx, "failed to clear reset code", slog.String("error", err.Error()))
	}

	sess.Delete(security.SessionKeyResetStep)
	sess.Delete(security.SessionKeyResetUserID)
	h.limiter.Reset(clientIP, actionPasswordReset)

	h.logger.InfoContext(ctx, "operator password reset", slog.Int64("user_id", userID))
	render.JSON(w, r, map[string]interface{}{"success": true})
}

// RememberMe is middleware that logs in a session from a valid remember
// cookie. The token rotates on every use, so a stolen cookie works at
// most once. Comes after the Session middleware.
func (h *AuthHandler) RememberMe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		sess := middleware.SessionFromContext(ctx)

		if sess != nil && !sess.Authenticated() {
			if cookie, err := r.Cookie(h.security.RememberCookie); err == nil && cookie.Value != "" {
				if user, err := h.users.GetUserByRememberToken(ctx, security.HashRememberToken(cookie.Value)); err == nil {
					sess.SetAuthenticated(user.ID)
					sess = h.guard.Regenerate(w, r, sess)
					h.issueRememberToken(w, r, user.ID)
					ctx = middleware.ReplaceSession(ctx, sess)
					r = r.WithContext(ctx)
					h.logger.InfoContext(ctx, "operator logged in via remember token",
						slog.Int64("user_id", user.ID))
				} else {
					h.clearRememberCookie(w, r)
				}
			}
		}

		next.ServeHTTP(w, r)
	})
}

// resetUser returns the reset flow's user when the session is at the
// expected step with a known account.
func (h *AuthHandler) resetUser(sess *security.Session, step int) (int64, bool) {
	v, ok := sess.Get(security.SessionKeyResetStep)
	if !ok {
		return 0, false
	}
	current, ok := v.(int)
	if !ok || current != step {
		return 0, false
	}
	v, ok = sess.Get(security.SessionKeyResetUserID)
	if !ok {
		return 0, false
	}
	userID, ok := v.(int64)
	if !ok || userID == 0 {
		return 0, false
	}
	return userID, true
}

// codeMatches compares the submitted code against the stored one in
// constant time, honoring the expiry.
func (h *AuthHandler) codeMatches(ctx context.Context, userID int64, code string) bool {
	stored, expires, err := h.users.GetResetToken(ctx, userID)
	if err != nil {
		return false
	}
	if h.now().After(expires) {
		return false
	}
	return security.ConstantTimeEquals(stored, code)
}

// issueRememberToken hands the raw token to the client; only its hash is
// stored, so the cookie cannot be reconstructed from the user table.
func (h *AuthHandler) issueRememberToken(w http.ResponseWriter, r *http.Request, userID int64) {
	token := security.GenerateRememberToken()
	if err := h.users.SetRememberToken(r.Context(), userID, security.HashRememberToken(token)); err != nil {
		h.logger.ErrorContext(r.Context(), "failed to store remember token",
			slog.String("error", err.Error()))
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     h.security.RememberCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   int(h.security.RememberTTL.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
		Secure:   r.TLS != nil,
	})
}

func (h *AuthHandler) clearRememberCookie(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.security.RememberCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
		Secure:   r.TLS != nil,
	})
}

// invalidCredentials answers a failed login without telling the caller
// whether the username or the password was wrong.
func (h *AuthHandler) invalidCredentials(w http.ResponseWriter, ctx context.Context, clientIP string) {
	loginAttempts.WithLabelValues("failure").Inc()
	h.logger.WarnContext(ctx, "login failed",
		slog.String("remote_addr", clientIP))
	apperrors.WriteError(w, apperrors.New(http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid username or password"))
}

// rateLimited answers 429 with the remaining-attempt count; the admin
// surface may reveal it, unlike the public API.
func (h *AuthHandler) rateLimited(w http.ResponseWriter, clientIP, action string, policy config.RateLimitPolicy) {
	remaining := h.limiter.Remaining(clientIP, action, policy.MaxAttempts, policy.Window)
	apperrors.WriteError(w, apperrors.NewWithDetails(http.StatusTooManyRequests, "RATE_LIMIT_EXCEEDED",
		"Too many attempts. Try again later.",
		map[string]int{"remaining_attempts": remaining}))
}
