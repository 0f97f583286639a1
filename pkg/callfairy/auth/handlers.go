package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/callfairy/callfairy/pkg/callfairy/access"
	"github.com/callfairy/callfairy/pkg/callfairy/httperr"
	"github.com/callfairy/callfairy/pkg/callfairy/logging"
	"github.com/callfairy/callfairy/pkg/callfairy/mailer"
	"github.com/callfairy/callfairy/pkg/callfairy/models"
	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Options tune the authentication flows.
type Options struct {
	// Debug echoes verification and reset tokens in responses.
	Debug            bool
	BaseURL          string
	EmailTokenTTL    time.Duration
	PasswordResetTTL time.Duration
	TOTPIssuer       string
}

func (o Options) withDefaults() Options {
	if o.EmailTokenTTL <= 0 {
		o.EmailTokenTTL = 24 * time.Hour
	}
	if o.PasswordResetTTL <= 0 {
		o.PasswordResetTTL = time.Hour
	}
	if o.TOTPIssuer == "" {
		o.TOTPIssuer = "CallFairy"
	}
	return o
}

// Handler handles authentication requests
type Handler struct {
	db     *gorm.DB
	access *access.Service
	mailer mailer.Mailer
	google GoogleVerifier
	log    *zap.Logger
	opts   Options
	resets *cache.Cache
}

// NewHandler creates a new auth handler. google may be nil, which disables
// Google sign-in.
func NewHandler(svc *access.Service, m mailer.Mailer, google GoogleVerifier, log *zap.Logger, opts Options) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	opts = opts.withDefaults()
	return &Handler{
		db:     svc.DB(),
		access: svc,
		mailer: m,
		google: google,
		log:    log.Named("auth"),
		opts:   opts,
		resets: cache.New(opts.PasswordResetTTL, 10*time.Minute),
	}
}

// RegisterRequest represents the registration request body
type RegisterRequest struct {
	Email     string `json:"email" binding:"required,email"`
	Password  string `json:"password" binding:"required"`
	Password2 string `json:"password2" binding:"required"`
	Name      string `json:"name" binding:"required"`
	Company   string `json:"company"`
	JobTitle  string `json:"job_title"`
	Phone     string `json:"phone"`
}

// LoginRequest represents the login request body
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
	OTPCode  string `json:"otp_code"`
}

// AuthResponse represents the authentication response
type AuthResponse struct {
	Token string       `json:"token"`
	User  UserResponse `json:"user"`
}

// UserResponse represents user data in responses
type UserResponse struct {
	ID          uint      `json:"id"`
	Email       string    `json:"email"`
	Name        string    `json:"name"`
	Company     string    `json:"company,omitempty"`
	JobTitle    string    `json:"job_title,omitempty"`
	Phone       string    `json:"phone,omitempty"`
	Role        string    `json:"role"`
	RoleDisplay string    `json:"role_display"`
	IsActive    bool      `json:"is_active"`
	DateJoined  time.Time `json:"date_joined"`
}

// NewUserResponse projects a user for API responses.
func NewUserResponse(u *models.User) UserResponse {
	return UserResponse{
		ID:          u.ID,
		Email:       u.Email,
		Name:        u.Name,
		Company:     u.Company,
		JobTitle:    u.JobTitle,
		Phone:       u.Phone,
		Role:        string(u.Role),
		RoleDisplay: u.Role.DisplayName(),
		IsActive:    u.IsActive,
		DateJoined:  u.CreatedAt,
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Register handles user registration
// @Summary Register a new user
// @Description Create an inactive account and send an email verification token
// @Tags auth
// @Accept json
// @Produce json
// @Param request body RegisterRequest true "Registration details"
// @Success 201 {object} map[string]interface{}
// @Failure 400 {object} map[string]string "Validation error"
// @Failure 409 {object} map[string]string "Email already registered"
// @Router /auth/register [post]
func (h *Handler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	req.Email = normalizeEmail(req.Email)

	if req.Password != req.Password2 {
		c.JSON(http.StatusBadRequest, gin.H{"error": ErrPasswordsDontMatch.Error()})
		return
	}
	if err := ValidatePassword(req.Password, req.Email); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var count int64
	h.db.Model(&models.User{}).Where("email = ?", req.Email).Count(&count)
	if count > 0 {
		c.JSON(http.StatusConflict, gin.H{"error": "Email already registered"})
		return
	}

	hashedPassword, err := HashPassword(req.Password)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to process password"})
		return
	}
	token, err := randomToken(32)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create verification token"})
		return
	}

	user := models.User{
		Email:        req.Email,
		PasswordHash: hashedPassword,
		Name:         strings.TrimSpace(req.Name),
		Company:      req.Company,
		JobTitle:     req.JobTitle,
		Phone:        req.Phone,
		IsActive:     false,
		Role:         models.RoleUser,
	}
	err = h.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&user).Error; err != nil {
			return err
		}
		return tx.Create(&models.EmailVerificationToken{
			UserID:    user.ID,
			Token:     token,
			ExpiresAt: time.Now().Add(h.opts.EmailTokenTTL),
		}).Error
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create user"})
		return
	}

	h.send(c.Request.Context(), mailer.Message{
		To:      user.Email,
		Subject: "Verify your email address",
		Body:    "Confirm your account: " + h.opts.BaseURL + "/verify-email?token=" + token,
	})

	resp := gin.H{
		"message": "Registration successful. Please check your email to verify your account.",
		"user":    NewUserResponse(&user),
	}
	if h.opts.Debug {
		resp["verification_token"] = token
	}
	c.JSON(http.StatusCreated, resp)
}

// VerifyEmailRequest carries the token from the verification email.
type VerifyEmailRequest struct {
	Token string `json:"token" binding:"required"`
}

// VerifyEmail activates the account owning a valid token.
func (h *Handler) VerifyEmail(c *gin.Context) {
	var req VerifyEmailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var tok models.EmailVerificationToken
	if err := h.db.Where("token = ?", req.Token).First(&tok).Error; err != nil || !tok.Usable(time.Now()) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid or expired verification token"})
		return
	}

	err := h.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&tok).Update("is_used", true).Error; err != nil {
			return err
		}
		return tx.Model(&models.User{}).Where("id = ?", tok.UserID).Update("is_active", true).Error
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to verify email"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Email verified successfully. You can now log in."})
}

// Login handles user login
// @Summary Login
// @Description Authenticate with email, password and, when enabled, a TOTP code
// @Tags auth
// @Accept json
// @Produce json
// @Param request body LoginRequest true "Login credentials"
// @Success 200 {object} AuthResponse
// @Failure 401 {object} map[string]string "Invalid credentials"
// @Failure 403 {object} map[string]string "Account inactive"
// @Router /auth/login [post]
func (h *Handler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var user models.User
	if err := h.db.Where("email = ?", normalizeEmail(req.Email)).First(&user).Error; err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid email or password"})
		return
	}
	if !CheckPassword(req.Password, user.PasswordHash) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid email or password"})
		return
	}
	if !user.IsActive {
		c.JSON(http.StatusForbidden, gin.H{"error": "Account is inactive. Please verify your email."})
		return
	}

	device, err := h.confirmedDevice(user.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to check two-factor status"})
		return
	}
	if device != nil {
		if req.OTPCode == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Two-factor code required", "two_factor_required": true})
			return
		}
		if !validateCode(req.OTPCode, device.Secret) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid two-factor code", "two_factor_required": true})
			return
		}
	}

	h.respondWithToken(c, http.StatusOK, &user)
}

func (h *Handler) respondWithToken(c *gin.Context, status int, user *models.User) {
	token, err := GenerateToken(user.ID, user.Email, string(user.Role))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate token"})
		return
	}
	c.JSON(status, AuthResponse{Token: token, User: NewUserResponse(user)})
}

// Me returns the current user with everything that decides their access.
func (h *Handler) Me(c *gin.Context) {
	user := GetUser(c)
	summary, err := h.access.Summary(c.Request.Context(), user)
	if err != nil {
		httperr.Respond(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": NewUserResponse(user), "permissions": summary})
}

// UpdateProfileRequest lists the self-editable profile fields.
type UpdateProfileRequest struct {
	Name     *string `json:"name"`
	Company  *string `json:"company"`
	JobTitle *string `json:"job_title"`
	Phone    *string `json:"phone"`
}

// UpdateMe edits the current user's profile.
func (h *Handler) UpdateMe(c *gin.Context) {
	var req UpdateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	user := *GetUser(c)
	if req.Name != nil {
		if strings.TrimSpace(*req.Name) == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Name cannot be empty"})
			return
		}
		user.Name = strings.TrimSpace(*req.Name)
	}
	if req.Company != nil {
		user.Company = *req.Company
	}
	if req.JobTitle != nil {
		user.JobTitle = *req.JobTitle
	}
	if req.Phone != nil {
		user.Phone = *req.Phone
	}
	if err := h.access.SaveUser(c.Request.Context(), &user); err != nil {
		httperr.Respond(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, NewUserResponse(&user))
}

// ChangePasswordRequest changes the password of a signed-in user.
type ChangePasswordRequest struct {
	OldPassword  string `json:"old_password" binding:"required"`
	NewPassword  string `json:"new_password" binding:"required"`
	NewPassword2 string `json:"new_password2" binding:"required"`
}

// ChangePassword replaces the current user's password after checking the old one.
func (h *Handler) ChangePassword(c *gin.Context) {
	var req ChangePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	user := GetUser(c)
	if !CheckPassword(req.OldPassword, user.PasswordHash) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Old password is incorrect"})
		return
	}
	if err := h.setPassword(user, req.NewPassword, req.NewPassword2); err != nil {
		h.respondPasswordError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Password changed successfully"})
}

func (h *Handler) setPassword(user *models.User, password, confirm string) error {
	if password != confirm {
		return ErrPasswordsDontMatch
	}
	if err := ValidatePassword(password, user.Email); err != nil {
		return err
	}
	hash, err := HashPassword(password)
	if err != nil {
		return err
	}
	return h.db.Model(&models.User{}).Where("id = ?", user.ID).Update("password_hash", hash).Error
}

func (h *Handler) respondPasswordError(c *gin.Context, err error) {
	for _, known := range []error{ErrPasswordsDontMatch, ErrPasswordTooShort, ErrPasswordNumeric, ErrPasswordTooCommon, ErrPasswordLikeEmail} {
		if errors.Is(err, known) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update password"})
}

func (h *Handler) send(ctx context.Context, msg mailer.Message) {
	if h.mailer == nil {
		return
	}
	if err := h.mailer.Send(ctx, msg); err != nil {
		logging.FromContext(ctx, h.log).Warn("email delivery failed",
			zap.String("to", logging.MaskEmail(msg.To)), zap.Error(err))
	}
}

// RegisterPublicRoutes registers the unauthenticated endpoints.
func (h *Handler) RegisterPublicRoutes(rg *gin.RouterGroup) {
	rg.POST("/register", h.Register)
	rg.POST("/verify-email", h.VerifyEmail)
	rg.POST("/login", h.Login)
	rg.POST("/google", h.GoogleLogin)
	rg.POST("/password/reset", h.RequestPasswordReset)
	rg.POST("/password/reset/confirm", h.ConfirmPasswordReset)
}

// RegisterRoutes registers endpoints that need an authenticated user.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/me", h.Me)
	rg.PUT("/me", h.UpdateMe)
	rg.POST("/password/change", h.ChangePassword)
	rg.POST("/2fa/totp/enable", h.EnableTOTP)
	rg.POST("/2fa/totp/verify", h.VerifyTOTP)
	rg.POST("/2fa/totp/disable", h.DisableTOTP)
}
