package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/callfairy/callfairy/pkg/callfairy/access"
	"github.com/callfairy/callfairy/pkg/callfairy/httperr"
	"github.com/callfairy/callfairy/pkg/callfairy/metrics"
	"github.com/callfairy/callfairy/pkg/callfairy/models"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	// ContextKeyUserID is the key for user ID in gin context
	ContextKeyUserID = "user_id"
	// ContextKeyEmail is the key for email in gin context
	ContextKeyEmail = "email"
	// ContextKeyUser holds the *models.User loaded for the request
	ContextKeyUser = "user"
	// ContextKeyOrganisation holds the *models.Organisation resolved by an organisation gate
	ContextKeyOrganisation = "organisation"
)

// AuthMiddleware validates JWT tokens and sets user info in context
func AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := BearerToken(c)
		if !ok {
			return
		}

		claims, err := ValidateToken(token)
		if err != nil {
			if errors.Is(err, ErrExpiredToken) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Token has expired"})
			} else {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			}
			return
		}

		c.Set(ContextKeyUserID, claims.UserID)
		c.Set(ContextKeyEmail, claims.Email)
		c.Next()
	}
}

// BearerToken extracts the token from "Authorization: Bearer <token>". On
// failure it aborts with 401 and returns false.
func BearerToken(c *gin.Context) (string, bool) {
	header := c.GetHeader("Authorization")
	if header == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header required"})
		return "", false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || parts[1] == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid authorization header format"})
		return "", false
	}
	return parts[1], true
}

// LoadUser fetches the authenticated user from the store so that role and
// activation changes apply immediately, whatever the token says.
func LoadUser(svc *access.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := GetUserID(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
			return
		}
		user, err := svc.LoadUser(c.Request.Context(), userID)
		if err != nil {
			if errors.Is(err, access.ErrNotFound) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "User not found"})
				return
			}
			httperr.Respond(c, nil, err)
			return
		}
		if !user.IsActive {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Account is inactive"})
			return
		}
		c.Set(ContextKeyUser, user)
		c.Next()
	}
}

// GetUserID returns the user ID from the gin context
func GetUserID(c *gin.Context) (uint, bool) {
	userID, exists := c.Get(ContextKeyUserID)
	if !exists {
		return 0, false
	}
	id, ok := userID.(uint)
	return id, ok
}

// GetUser returns the user loaded by LoadUser.
func GetUser(c *gin.Context) *models.User {
	v, ok := c.Get(ContextKeyUser)
	if !ok {
		return nil
	}
	user, _ := v.(*models.User)
	return user
}

// GetOrganisation returns the organisation resolved by an organisation gate.
func GetOrganisation(c *gin.Context) *models.Organisation {
	v, ok := c.Get(ContextKeyOrganisation)
	if !ok {
		return nil
	}
	org, _ := v.(*models.Organisation)
	return org
}

// ParamID parses a numeric path parameter, answering 400 when it is malformed.
func ParamID(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 32)
	if err != nil || id == 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Invalid " + name})
		return 0, false
	}
	return uint(id), true
}

// Gate runs check against the request's user and records the decision.
func Gate(name string, log *zap.Logger, check func(c *gin.Context, user *models.User) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := GetUser(c)
		if user == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
			return
		}
		if err := check(c, user); err != nil {
			if errors.Is(err, access.ErrUnauthorized) {
				metrics.ObserveGate(name, false)
			}
			httperr.Respond(c, log, err)
			return
		}
		metrics.ObserveGate(name, true)
		c.Next()
	}
}

// RequireSuperAdmin allows only superadmins.
func RequireSuperAdmin(svc *access.Service) gin.HandlerFunc {
	return Gate("superadmin", nil, func(c *gin.Context, user *models.User) error {
		return svc.RequireSuperAdmin(user)
	})
}

// RequirePermission checks key against the user's direct grants.
func RequirePermission(svc *access.Service, key string) gin.HandlerFunc {
	return Gate("permission", nil, func(c *gin.Context, user *models.User) error {
		return svc.AuthorizePermission(c.Request.Context(), user, nil, key)
	})
}

// RequireOrganisationAccess resolves the organisation named by param and
// requires it to be accessible.
func RequireOrganisationAccess(svc *access.Service, param string) gin.HandlerFunc {
	return organisationGate("organisation_access", svc, param, svc.AuthorizeAccess)
}

// RequireOrganisationManage resolves the organisation named by param and
// requires manage rights on it.
func RequireOrganisationManage(svc *access.Service, param string) gin.HandlerFunc {
	return organisationGate("organisation_manage", svc, param, svc.AuthorizeManage)
}

// RequireOrganisationPermission requires key inside the organisation named by
// param. An empty key only requires access.
func RequireOrganisationPermission(svc *access.Service, param, key string) gin.HandlerFunc {
	return organisationGate("organisation_permission", svc, param,
		func(ctx context.Context, user *models.User, target models.OrganisationScoped) error {
			return svc.AuthorizePermission(ctx, user, target, key)
		})
}

func organisationGate(name string, svc *access.Service, param string, authorize authorizeFunc) gin.HandlerFunc {
	return Gate(name, nil, func(c *gin.Context, user *models.User) error {
		id, err := strconv.ParseUint(c.Param(param), 10, 32)
		if err != nil {
			return fmt.Errorf("invalid organisation id: %w", access.ErrInvalidState)
		}
		org, err := svc.GetOrganisation(c.Request.Context(), uint(id))
		if err != nil {
			return err
		}
		if err := authorize(c.Request.Context(), user, *org); err != nil {
			return err
		}
		c.Set(ContextKeyOrganisation, org)
		return nil
	})
}

type authorizeFunc func(ctx context.Context, user *models.User, target models.OrganisationScoped) error
