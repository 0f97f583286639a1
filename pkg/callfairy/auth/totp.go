package auth

import (
	"net/http"
	"strings"

	"github.com/callfairy/callfairy/pkg/callfairy/models"
	"github.com/gin-gonic/gin"
	"github.com/pquerna/otp/totp"
)

// TOTPCodeRequest carries a six-digit authenticator code.
type TOTPCodeRequest struct {
	Code string `json:"code" binding:"required"`
}

func validateCode(code, secret string) bool {
	return totp.Validate(strings.TrimSpace(code), secret)
}

// confirmedDevice returns the user's confirmed device or nil.
func (h *Handler) confirmedDevice(userID uint) (*models.TOTPDevice, error) {
	var devices []models.TOTPDevice
	if err := h.db.Where("user_id = ? AND confirmed = ?", userID, true).Limit(1).Find(&devices).Error; err != nil {
		return nil, err
	}
	if len(devices) == 0 {
		return nil, nil
	}
	return &devices[0], nil
}

// EnableTOTP creates (or replaces) an unconfirmed device and returns its
// provisioning URI.
func (h *Handler) EnableTOTP(c *gin.Context) {
	user := GetUser(c)

	existing, err := h.confirmedDevice(user.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to check two-factor status"})
		return
	}
	if existing != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Two-factor authentication is already enabled"})
		return
	}

	key, err := totp.Generate(totp.GenerateOpts{Issuer: h.opts.TOTPIssuer, AccountName: user.Email})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate secret"})
		return
	}

	device := models.TOTPDevice{UserID: user.ID}
	if err := h.db.Where(models.TOTPDevice{UserID: user.ID}).
		Assign(map[string]interface{}{"secret": key.Secret(), "confirmed": false}).
		FirstOrCreate(&device).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save device"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"secret":      key.Secret(),
		"otpauth_url": key.URL(),
		"message":     "Scan the QR code and confirm with a code to finish enabling two-factor authentication.",
	})
}

// VerifyTOTP confirms the pending device with a valid code.
func (h *Handler) VerifyTOTP(c *gin.Context) {
	var req TOTPCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	user := GetUser(c)

	var device models.TOTPDevice
	if err := h.db.Where("user_id = ?", user.ID).First(&device).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "No two-factor device to verify"})
		return
	}
	if !validateCode(req.Code, device.Secret) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid two-factor code"})
		return
	}
	if err := h.db.Model(&device).Update("confirmed", true).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to confirm device"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Two-factor authentication enabled"})
}

// DisableTOTP removes the device. A confirmed device needs a valid code.
func (h *Handler) DisableTOTP(c *gin.Context) {
	var req TOTPCodeRequest
	_ = c.ShouldBindJSON(&req)
	user := GetUser(c)

	var device models.TOTPDevice
	if err := h.db.Where("user_id = ?", user.ID).First(&device).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Two-factor authentication is not enabled"})
		return
	}
	if device.Confirmed && !validateCode(req.Code, device.Secret) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid two-factor code"})
		return
	}
	if err := h.db.Delete(&device).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to disable two-factor authentication"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Two-factor authentication disabled"})
}
