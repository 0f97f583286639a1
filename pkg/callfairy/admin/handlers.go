package admin

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/callfairy/callfairy/pkg/callfairy/access"
	"github.com/callfairy/callfairy/pkg/callfairy/auth"
	"github.com/callfairy/callfairy/pkg/callfairy/httperr"
	"github.com/callfairy/callfairy/pkg/callfairy/models"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const defaultAuditLimit = 100

// Handler handles admin requests
type Handler struct {
	db     *gorm.DB
	access *access.Service
	log    *zap.Logger
}

// NewHandler creates a new admin handler
func NewHandler(svc *access.Service, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{db: svc.DB(), access: svc, log: log.Named("admin")}
}

// UpdateUserRequest represents the request to update a user
type UpdateUserRequest struct {
	Name     *string      `json:"name"`
	Role     *models.Role `json:"role"`
	IsActive *bool        `json:"is_active"`
}

// GrantRequest names a catalog permission.
type GrantRequest struct {
	PermissionKey string `json:"permission_key" binding:"required"`
}

// DomainRequest creates or updates an allowed email domain.
type DomainRequest struct {
	Domain   string `json:"domain"`
	IsActive *bool  `json:"is_active"`
}

// StatsResponse represents system statistics
type StatsResponse struct {
	TotalUsers          int64 `json:"total_users"`
	ActiveUsers         int64 `json:"active_users"`
	SuperAdmins         int64 `json:"superadmins"`
	TotalOrganisations  int64 `json:"total_organisations"`
	ActiveOrganisations int64 `json:"active_organisations"`
	ActiveAgents        int64 `json:"active_agents"`
	Permissions         int64 `json:"permissions"`
	AgentGrants         int64 `json:"agent_grants"`
	DirectGrants        int64 `json:"direct_grants"`
	ActiveAPIKeys       int64 `json:"active_api_keys"`
}

// ListUsers returns all users. ?q= searches name and email, ?role= filters.
func (h *Handler) ListUsers(c *gin.Context) {
	query := h.db.WithContext(c.Request.Context()).Order("created_at DESC")
	if search := strings.TrimSpace(c.Query("q")); search != "" {
		like := "%" + strings.ToLower(search) + "%"
		query = query.Where("LOWER(email) LIKE ? OR LOWER(name) LIKE ?", like, like)
	}
	if role := c.Query("role"); role != "" {
		if !models.Role(role).Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown role"})
			return
		}
		query = query.Where("role = ?", role)
	}

	var users []models.User
	if err := query.Find(&users).Error; err != nil {
		httperr.Respond(c, h.log, err)
		return
	}
	out := make([]auth.UserResponse, len(users))
	for i := range users {
		out[i] = auth.NewUserResponse(&users[i])
	}
	c.JSON(http.StatusOK, out)
}

// GetUser returns a user together with their permission summary.
func (h *Handler) GetUser(c *gin.Context) {
	id, ok := auth.ParamID(c, "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	user, err := h.access.LoadUser(ctx, id)
	if err != nil {
		httperr.Respond(c, h.log, err)
		return
	}
	summary, err := h.access.Summary(ctx, user)
	if err != nil {
		httperr.Respond(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": auth.NewUserResponse(user), "permissions": summary})
}

// UpdateUser edits a user's name, role and active flag. Admins cannot demote
// or deactivate themselves.
func (h *Handler) UpdateUser(c *gin.Context) {
	id, ok := auth.ParamID(c, "id")
	if !ok {
		return
	}
	var req UpdateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Role != nil && *req.Role != models.RoleUser && *req.Role != models.RoleSuperAdmin {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Role must be user or superadmin"})
		return
	}
	self := auth.GetUser(c).ID == id
	if self && req.Role != nil && *req.Role != models.RoleSuperAdmin {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Cannot remove your own superadmin role"})
		return
	}
	if self && req.IsActive != nil && !*req.IsActive {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Cannot deactivate your own account"})
		return
	}

	ctx := c.Request.Context()
	user, err := h.access.LoadUser(ctx, id)
	if err != nil {
		httperr.Respond(c, h.log, err)
		return
	}
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Name cannot be empty"})
			return
		}
		user.Name = name
	}
	if req.IsActive != nil {
		user.IsActive = *req.IsActive
	}
	if err := h.access.SaveUser(ctx, user); err != nil {
		httperr.Respond(c, h.log, err)
		return
	}
	if req.Role != nil {
		if user, err = h.access.SetRole(ctx, id, *req.Role); err != nil {
			httperr.Respond(c, h.log, err)
			return
		}
	}
	c.JSON(http.StatusOK, auth.NewUserResponse(user))
}

// DeactivateUser disables an account. Users are never hard deleted.
func (h *Handler) DeactivateUser(c *gin.Context) {
	id, ok := auth.ParamID(c, "id")
	if !ok {
		return
	}
	if auth.GetUser(c).ID == id {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Cannot deactivate your own account"})
		return
	}
	if err := h.access.SetActive(c.Request.Context(), id, false); err != nil {
		httperr.Respond(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "User deactivated"})
}

// GrantUserPermission grants a direct permission.
func (h *Handler) GrantUserPermission(c *gin.Context) {
	id, ok := auth.ParamID(c, "id")
	if !ok {
		return
	}
	var req GrantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	grant, err := h.access.GrantUserPermission(c.Request.Context(), id, access.ByKey(req.PermissionKey), auth.GetUser(c).ID)
	if err != nil {
		httperr.Respond(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, grant)
}

func (h *Handler) RevokeUserPermission(c *gin.Context) {
	id, ok := auth.ParamID(c, "id")
	if !ok {
		return
	}
	if err := h.access.RevokeUserPermission(c.Request.Context(), id, access.ByKey(c.Param("key"))); err != nil {
		httperr.Respond(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Permission revoked"})
}

func (h *Handler) ListDomains(c *gin.Context) {
	var domains []models.AllowedEmailDomain
	if err := h.db.WithContext(c.Request.Context()).Order("domain").Find(&domains).Error; err != nil {
		httperr.Respond(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, domains)
}

// CreateDomain adds an allowed domain, active unless is_active says otherwise.
func (h *Handler) CreateDomain(c *gin.Context) {
	var req DomainRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	domain := models.NormalizeDomain(req.Domain)
	if domain == "" || !strings.Contains(domain, ".") || strings.Contains(domain, "@") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid domain"})
		return
	}

	ctx := c.Request.Context()
	var count int64
	if err := h.db.WithContext(ctx).Model(&models.AllowedEmailDomain{}).Where("domain = ?", domain).Count(&count).Error; err != nil {
		httperr.Respond(c, h.log, err)
		return
	}
	if count > 0 {
		c.JSON(http.StatusConflict, gin.H{"error": "Domain already exists"})
		return
	}
	row := models.AllowedEmailDomain{Domain: domain, IsActive: req.IsActive == nil || *req.IsActive}
	if err := h.db.WithContext(ctx).Create(&row).Error; err != nil {
		httperr.Respond(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, row)
}

// UpdateDomain toggles a domain's active flag.
func (h *Handler) UpdateDomain(c *gin.Context) {
	row, ok := h.domain(c)
	if !ok {
		return
	}
	var req DomainRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.IsActive != nil {
		row.IsActive = *req.IsActive
		if err := h.db.WithContext(c.Request.Context()).Model(row).Update("is_active", row.IsActive).Error; err != nil {
			httperr.Respond(c, h.log, err)
			return
		}
	}
	c.JSON(http.StatusOK, row)
}

func (h *Handler) DeleteDomain(c *gin.Context) {
	row, ok := h.domain(c)
	if !ok {
		return
	}
	if err := h.db.WithContext(c.Request.Context()).Delete(row).Error; err != nil {
		httperr.Respond(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Domain deleted"})
}

func (h *Handler) domain(c *gin.Context) (*models.AllowedEmailDomain, bool) {
	id, ok := auth.ParamID(c, "id")
	if !ok {
		return nil, false
	}
	var row models.AllowedEmailDomain
	if err := h.db.WithContext(c.Request.Context()).First(&row, id).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Domain not found"})
		return nil, false
	}
	return &row, true
}

// ListGoogleAudits returns recent Google sign-in attempts, newest first.
// ?success=true|false filters, ?limit= caps the result.
func (h *Handler) ListGoogleAudits(c *gin.Context) {
	limit := defaultAuditLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 1000 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 1000"})
			return
		}
		limit = n
	}
	query := h.db.WithContext(c.Request.Context()).Order("created_at DESC, id DESC").Limit(limit)
	if raw := c.Query("success"); raw != "" {
		success, err := strconv.ParseBool(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "success must be true or false"})
			return
		}
		query = query.Where("success = ?", success)
	}
	var audits []models.GoogleSignInAudit
	if err := query.Find(&audits).Error; err != nil {
		httperr.Respond(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, audits)
}

// GetStats returns system statistics
func (h *Handler) GetStats(c *gin.Context) {
	db := h.db.WithContext(c.Request.Context())
	var stats StatsResponse
	counts := []struct {
		dst   *int64
		model interface{}
		where map[string]interface{}
	}{
		{&stats.TotalUsers, &models.User{}, nil},
		{&stats.ActiveUsers, &models.User{}, map[string]interface{}{"is_active": true}},
		{&stats.SuperAdmins, &models.User{}, map[string]interface{}{"role": models.RoleSuperAdmin}},
		{&stats.TotalOrganisations, &models.Organisation{}, nil},
		{&stats.ActiveOrganisations, &models.Organisation{}, map[string]interface{}{"is_active": true}},
		{&stats.ActiveAgents, &models.Agent{}, map[string]interface{}{"is_active": true}},
		{&stats.Permissions, &models.Permission{}, nil},
		{&stats.AgentGrants, &models.AgentPermission{}, nil},
		{&stats.DirectGrants, &models.UserPermissionAccess{}, nil},
		{&stats.ActiveAPIKeys, &models.APIKey{}, nil},
	}
	for _, q := range counts {
		tx := db.Model(q.model)
		if q.where != nil {
			tx = tx.Where(q.where)
		}
		if err := tx.Count(q.dst).Error; err != nil {
			httperr.Respond(c, h.log, err)
			return
		}
	}
	c.JSON(http.StatusOK, stats)
}

// RegisterRoutes registers admin routes behind the superadmin gate. rg must
// already authenticate and load the user.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	admin := rg.Group("/admin", auth.RequireSuperAdmin(h.access))

	admin.GET("/users", h.ListUsers)
	admin.GET("/users/:id", h.GetUser)
	admin.PUT("/users/:id", h.UpdateUser)
	admin.POST("/users/:id/deactivate", h.DeactivateUser)
	admin.POST("/users/:id/permissions", h.GrantUserPermission)
	admin.DELETE("/users/:id/permissions/:key", h.RevokeUserPermission)

	admin.GET("/allowed-domains", h.ListDomains)
	admin.POST("/allowed-domains", h.CreateDomain)
	admin.PUT("/allowed-domains/:id", h.UpdateDomain)
	admin.DELETE("/allowed-domains/:id", h.DeleteDomain)

	admin.GET("/google-audits", h.ListGoogleAudits)
	admin.GET("/stats", h.GetStats)
}
