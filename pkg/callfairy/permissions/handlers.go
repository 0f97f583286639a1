// Package permissions serves the permission catalog and the caller's own
// view of what they may do.
package permissions

import (
	"net/http"
	"strings"

	"github.com/callfairy/callfairy/pkg/callfairy/access"
	"github.com/callfairy/callfairy/pkg/callfairy/auth"
	"github.com/callfairy/callfairy/pkg/callfairy/httperr"
	"github.com/callfairy/callfairy/pkg/callfairy/models"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Handler handles permission catalog and self-service requests
type Handler struct {
	access *access.Service
	log    *zap.Logger
}

// NewHandler creates a new permissions handler
func NewHandler(svc *access.Service, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{access: svc, log: log.Named("permissions")}
}

// CreatePermissionRequest adds a catalog entry. A blank key is derived from the name.
type CreatePermissionRequest struct {
	Name        string `json:"name" binding:"required,max=100"`
	Key         string `json:"key" binding:"omitempty,max=100"`
	Description string `json:"description"`
}

type DirectoryEntry struct {
	ID       uint   `json:"id"`
	Email    string `json:"email"`
	Name     string `json:"name"`
	Company  string `json:"company,omitempty"`
	Role     string `json:"role"`
	IsActive bool   `json:"is_active"`
}

// List returns the whole catalog.
func (h *Handler) List(c *gin.Context) {
	perms, err := h.access.ListPermissions(c.Request.Context())
	if err != nil {
		httperr.Respond(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, perms)
}

func (h *Handler) Create(c *gin.Context) {
	var req CreatePermissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	perm, err := h.access.CreatePermission(c.Request.Context(), req.Name, req.Key, req.Description)
	if err != nil {
		httperr.Respond(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, perm)
}

// Delete removes a catalog entry together with every grant of it.
func (h *Handler) Delete(c *gin.Context) {
	if err := h.access.DeletePermission(c.Request.Context(), c.Param("key")); err != nil {
		httperr.Respond(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Permission deleted"})
}

func (h *Handler) MySummary(c *gin.Context) {
	summary, err := h.access.Summary(c.Request.Context(), auth.GetUser(c))
	if err != nil {
		httperr.Respond(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h *Handler) MyOrganisations(c *gin.Context) {
	orgs, err := h.access.AccessibleOrganisations(c.Request.Context(), auth.GetUser(c))
	if err != nil {
		httperr.Respond(c, h.log, err)
		return
	}
	out := make([]access.OrganisationRef, len(orgs))
	for i, o := range orgs {
		out[i] = access.OrganisationRef{ID: o.ID, Name: o.Name, IsActive: o.IsActive}
	}
	c.JSON(http.StatusOK, out)
}

// Users lists the user directory. ?search= matches name or email.
func (h *Handler) Users(c *gin.Context) {
	q := h.access.DB().WithContext(c.Request.Context()).Model(&models.User{}).Order("name")
	if search := strings.TrimSpace(c.Query("search")); search != "" {
		like := "%" + strings.ToLower(search) + "%"
		q = q.Where("LOWER(name) LIKE ? OR LOWER(email) LIKE ?", like, like)
	}
	var users []models.User
	if err := q.Find(&users).Error; err != nil {
		httperr.Respond(c, h.log, err)
		return
	}
	out := make([]DirectoryEntry, len(users))
	for i, u := range users {
		out[i] = DirectoryEntry{ID: u.ID, Email: u.Email, Name: u.Name, Company: u.Company, Role: string(u.Role), IsActive: u.IsActive}
	}
	c.JSON(http.StatusOK, out)
}

// RegisterRoutes registers catalog and self-service routes. rg must already
// authenticate and load the user.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	superadmin := auth.RequireSuperAdmin(h.access)

	rg.GET("/permissions", h.List)
	rg.POST("/permissions", superadmin, h.Create)
	rg.DELETE("/permissions/:key", superadmin, h.Delete)

	rg.GET("/me/permissions", h.MySummary)
	rg.GET("/me/organisations", h.MyOrganisations)

	rg.GET("/users", auth.RequirePermission(h.access, "view_users"), h.Users)
}
