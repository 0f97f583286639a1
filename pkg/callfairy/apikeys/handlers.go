// Package apikeys issues long-lived bearer keys for scripted access. A key
// acts exactly as its owner: the same gates and grants apply.
package apikeys

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/callfairy/callfairy/pkg/callfairy/access"
	"github.com/callfairy/callfairy/pkg/callfairy/auth"
	"github.com/callfairy/callfairy/pkg/callfairy/httperr"
	"github.com/callfairy/callfairy/pkg/callfairy/logging"
	"github.com/callfairy/callfairy/pkg/callfairy/models"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	// KeyLength is the number of random bytes in a key (64 hex characters).
	KeyLength = 32
	// KeyPrefixLength is how much of the key is stored in clear for identification.
	KeyPrefixLength = 8
)

// ErrInvalidKey is returned for unknown or revoked keys.
var ErrInvalidKey = errors.New("invalid API key")

// Handler handles API key requests
type Handler struct {
	db  *gorm.DB
	log *zap.Logger
}

// NewHandler creates a new API keys handler
func NewHandler(svc *access.Service, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{db: svc.DB(), log: log.Named("apikeys")}
}

type APIKeyResponse struct {
	ID          uint       `json:"id"`
	KeyPrefix   string     `json:"key_prefix"`
	Description string     `json:"description"`
	LastUsedAt  *time.Time `json:"last_used_at"`
	CreatedAt   time.Time  `json:"created_at"`
}

type CreateAPIKeyRequest struct {
	Description string `json:"description"`
}

// CreateAPIKeyResponse is the only response that carries the full key.
type CreateAPIKeyResponse struct {
	APIKeyResponse
	Key string `json:"key"`
}

func newResponse(k *models.APIKey) APIKeyResponse {
	return APIKeyResponse{
		ID:          k.ID,
		KeyPrefix:   k.KeyPrefix,
		Description: k.Description,
		LastUsedAt:  k.LastUsedAt,
		CreatedAt:   k.CreatedAt,
	}
}

func generateKey() (string, error) {
	b := make([]byte, KeyLength)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func hashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// Create issues a key for the current user.
func (h *Handler) Create(c *gin.Context) {
	user := auth.GetUser(c)

	var req CreateAPIKeyRequest
	// An empty body is fine; the description is optional.
	_ = c.ShouldBindJSON(&req)

	key, err := generateKey()
	if err != nil {
		httperr.Respond(c, h.log, err)
		return
	}
	apiKey := models.APIKey{
		UserID:      user.ID,
		KeyHash:     hashKey(key),
		KeyPrefix:   key[:KeyPrefixLength],
		Description: strings.TrimSpace(req.Description),
	}
	if err := h.db.WithContext(c.Request.Context()).Create(&apiKey).Error; err != nil {
		httperr.Respond(c, h.log, err)
		return
	}
	logging.FromContext(c.Request.Context(), h.log).Info("api key created",
		zap.Uint("user_id", user.ID), zap.String("prefix", apiKey.KeyPrefix))

	c.JSON(http.StatusCreated, CreateAPIKeyResponse{APIKeyResponse: newResponse(&apiKey), Key: key})
}

// List returns the current user's keys, newest first.
func (h *Handler) List(c *gin.Context) {
	user := auth.GetUser(c)

	var keys []models.APIKey
	if err := h.db.WithContext(c.Request.Context()).
		Where("user_id = ?", user.ID).Order("created_at DESC, id DESC").Find(&keys).Error; err != nil {
		httperr.Respond(c, h.log, err)
		return
	}
	out := make([]APIKeyResponse, len(keys))
	for i := range keys {
		out[i] = newResponse(&keys[i])
	}
	c.JSON(http.StatusOK, out)
}

// Delete revokes one of the current user's keys. Other users' keys look missing.
func (h *Handler) Delete(c *gin.Context) {
	user := auth.GetUser(c)
	id, ok := auth.ParamID(c, "id")
	if !ok {
		return
	}

	res := h.db.WithContext(c.Request.Context()).
		Where("id = ? AND user_id = ?", id, user.ID).Delete(&models.APIKey{})
	if res.Error != nil {
		httperr.Respond(c, h.log, res.Error)
		return
	}
	if res.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "API key not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "API key deleted"})
}

// Lookup resolves a raw key and stamps its last use.
func Lookup(db *gorm.DB, key string) (*models.APIKey, error) {
	var apiKey models.APIKey
	if err := db.Where("key_hash = ?", hashKey(key)).First(&apiKey).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidKey
		}
		return nil, err
	}
	now := time.Now()
	if err := db.Model(&apiKey).UpdateColumn("last_used_at", now).Error; err != nil {
		return nil, err
	}
	apiKey.LastUsedAt = &now
	return &apiKey, nil
}

// CombinedAuthMiddleware accepts either a JWT or an API key as the bearer
// token. JWTs always contain dots; keys are plain hex. Follow it with
// auth.LoadUser.
func CombinedAuthMiddleware(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := auth.BearerToken(c)
		if !ok {
			return
		}

		if strings.Contains(token, ".") {
			claims, err := auth.ValidateToken(token)
			if err != nil {
				msg := "Invalid token"
				if errors.Is(err, auth.ErrExpiredToken) {
					msg = "Token has expired"
				}
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": msg})
				return
			}
			c.Set(auth.ContextKeyUserID, claims.UserID)
			c.Set(auth.ContextKeyEmail, claims.Email)
			c.Next()
			return
		}

		apiKey, err := Lookup(db.WithContext(c.Request.Context()), token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid API key"})
			return
		}
		c.Set(auth.ContextKeyUserID, apiKey.UserID)
		c.Next()
	}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/api-keys", h.Create)
	rg.GET("/api-keys", h.List)
	rg.DELETE("/api-keys/:id", h.Delete)
}
