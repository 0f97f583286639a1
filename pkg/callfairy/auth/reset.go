package auth

import (
	"net/http"

	"github.com/callfairy/callfairy/pkg/callfairy/mailer"
	"github.com/callfairy/callfairy/pkg/callfairy/models"
	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
)

const passwordResetMessage = "If an account exists with this email, a password reset link has been sent."

// PasswordResetRequest starts a reset.
type PasswordResetRequest struct {
	Email string `json:"email" binding:"required,email"`
}

// PasswordResetConfirmRequest completes a reset.
type PasswordResetConfirmRequest struct {
	Token        string `json:"token" binding:"required"`
	NewPassword  string `json:"new_password" binding:"required"`
	NewPassword2 string `json:"new_password2" binding:"required"`
}

// RequestPasswordReset answers identically whether or not the email is
// registered. Tokens live in memory for PasswordResetTTL.
func (h *Handler) RequestPasswordReset(c *gin.Context) {
	var req PasswordResetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp := gin.H{"message": passwordResetMessage}

	var user models.User
	if err := h.db.Where("email = ? AND is_active = ?", normalizeEmail(req.Email), true).First(&user).Error; err == nil {
		token, err := randomToken(32)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create reset token"})
			return
		}
		h.resets.Set(token, user.ID, cache.DefaultExpiration)
		h.send(c.Request.Context(), mailer.Message{
			To:      user.Email,
			Subject: "Reset your password",
			Body:    "Choose a new password: " + h.opts.BaseURL + "/reset-password?token=" + token,
		})
		if h.opts.Debug {
			resp["reset_token"] = token
		}
	}

	c.JSON(http.StatusOK, resp)
}

// ConfirmPasswordReset sets a new password using a token from RequestPasswordReset.
func (h *Handler) ConfirmPasswordReset(c *gin.Context) {
	var req PasswordResetConfirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	v, ok := h.resets.Get(req.Token)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid or expired reset token"})
		return
	}
	var user models.User
	if err := h.db.First(&user, v.(uint)).Error; err != nil {
		h.resets.Delete(req.Token)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid or expired reset token"})
		return
	}

	if err := h.setPassword(&user, req.NewPassword, req.NewPassword2); err != nil {
		h.respondPasswordError(c, err)
		return
	}
	h.resets.Delete(req.Token)
	c.JSON(http.StatusOK, gin.H{"message": "Password has been reset successfully"})
}
