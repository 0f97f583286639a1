package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"

	"github.com/callfairy/callfairy/pkg/callfairy/logging"
	"github.com/callfairy/callfairy/pkg/callfairy/models"
	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const domainNotAllowedMessage = "Email domain not allowed."

// GoogleIdentity is what a verified Google ID token says about its holder.
type GoogleIdentity struct {
	Subject       string
	Email         string
	EmailVerified bool
	Name          string
}

// GoogleVerifier checks a raw Google ID token.
type GoogleVerifier interface {
	Verify(ctx context.Context, rawIDToken string) (*GoogleIdentity, error)
}

// OIDCGoogleVerifier verifies ID tokens against Google's published keys.
// Discovery runs on first use.
type OIDCGoogleVerifier struct {
	issuer   string
	clientID string

	mu       sync.Mutex
	verifier *oidc.IDTokenVerifier
}

func NewGoogleVerifier(issuer, clientID string) *OIDCGoogleVerifier {
	if issuer == "" {
		issuer = "https://accounts.google.com"
	}
	return &OIDCGoogleVerifier{issuer: issuer, clientID: clientID}
}

func (v *OIDCGoogleVerifier) idTokenVerifier(ctx context.Context) (*oidc.IDTokenVerifier, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.verifier != nil {
		return v.verifier, nil
	}
	provider, err := oidc.NewProvider(ctx, v.issuer)
	if err != nil {
		return nil, err
	}
	v.verifier = provider.Verifier(&oidc.Config{ClientID: v.clientID})
	return v.verifier, nil
}

func (v *OIDCGoogleVerifier) Verify(ctx context.Context, rawIDToken string) (*GoogleIdentity, error) {
	verifier, err := v.idTokenVerifier(ctx)
	if err != nil {
		return nil, err
	}
	token, err := verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, err
	}
	var claims struct {
		Email         string `json:"email"`
		EmailVerified bool   `json:"email_verified"`
		Name          string `json:"name"`
	}
	if err := token.Claims(&claims); err != nil {
		return nil, err
	}
	if claims.Email == "" {
		return nil, errors.New("id token has no email claim")
	}
	return &GoogleIdentity{
		Subject:       token.Subject,
		Email:         claims.Email,
		EmailVerified: claims.EmailVerified,
		Name:          claims.Name,
	}, nil
}

// GoogleLoginRequest carries the ID token obtained by the browser.
type GoogleLoginRequest struct {
	IDToken string `json:"id_token" binding:"required"`
}

// GoogleLogin signs a user in with a Google ID token, creating the account on
// first use. When allowed domains are configured, other domains get the same
// answer whether or not an account exists.
func (h *Handler) GoogleLogin(c *gin.Context) {
	if h.google == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Google sign-in is not configured"})
		return
	}
	var req GoogleLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	ident, err := h.google.Verify(ctx, req.IDToken)
	if err != nil {
		logging.FromContext(ctx, h.log).Info("google token rejected", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid Google token"})
		return
	}

	email := normalizeEmail(ident.Email)
	_, domain, _ := strings.Cut(email, "@")
	audit := models.GoogleSignInAudit{
		Email:     email,
		Domain:    domain,
		Subject:   ident.Subject,
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	}

	if !ident.EmailVerified {
		audit.Reason = "email not verified"
		h.audit(ctx, &audit)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Google email is not verified"})
		return
	}

	allowed, err := h.domainAllowed(domain)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to check email domain"})
		return
	}
	if !allowed {
		audit.Reason = "domain not allowed"
		h.audit(ctx, &audit)
		c.JSON(http.StatusForbidden, gin.H{"error": domainNotAllowedMessage})
		return
	}

	var user models.User
	if err := h.db.Where("email = ?", email).First(&user).Error; err != nil {
		name := strings.TrimSpace(ident.Name)
		if name == "" {
			name = strings.Split(email, "@")[0]
		}
		user = models.User{Email: email, Name: name, IsActive: true, Role: models.RoleUser}
		if err := h.db.Create(&user).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create user"})
			return
		}
	} else if !user.IsActive {
		// Google has verified the address, which is what email verification proves.
		if err := h.db.Model(&user).Update("is_active", true).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to activate user"})
			return
		}
	}

	audit.UserID = &user.ID
	audit.Success = true
	h.audit(ctx, &audit)
	h.respondWithToken(c, http.StatusOK, &user)
}

// domainAllowed reports whether domain may sign in. No active rows means no restriction.
func (h *Handler) domainAllowed(domain string) (bool, error) {
	var domains []models.AllowedEmailDomain
	if err := h.db.Where("is_active = ?", true).Find(&domains).Error; err != nil {
		return false, err
	}
	if len(domains) == 0 {
		return true, nil
	}
	for _, d := range domains {
		if models.NormalizeDomain(d.Domain) == domain {
			return true, nil
		}
	}
	return false, nil
}

func (h *Handler) audit(ctx context.Context, entry *models.GoogleSignInAudit) {
	if err := h.db.Create(entry).Error; err != nil {
		logging.FromContext(ctx, h.log).Warn("google sign-in audit failed", zap.Error(err))
	}
}
