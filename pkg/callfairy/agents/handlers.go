// Package agents exposes agent assignment and per-agent grants over HTTP.
package agents

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/callfairy/callfairy/pkg/callfairy/access"
	"github.com/callfairy/callfairy/pkg/callfairy/auth"
	"github.com/callfairy/callfairy/pkg/callfairy/httperr"
	"github.com/callfairy/callfairy/pkg/callfairy/logging"
	"github.com/callfairy/callfairy/pkg/callfairy/metrics"
	"github.com/callfairy/callfairy/pkg/callfairy/models"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const contextKeyAgent = "agent"

// Handler handles agent assignment and agent permission requests
type Handler struct {
	access *access.Service
	log    *zap.Logger
}

// NewHandler creates a new agents handler
func NewHandler(svc *access.Service, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{access: svc, log: log.Named("agents")}
}

// AssignRequest makes a user the agent of an organisation. An empty package
// applies the default one.
type AssignRequest struct {
	UserID            uint   `json:"user_id" binding:"required"`
	OrganisationID    uint   `json:"organisation_id" binding:"required"`
	PermissionPackage string `json:"permission_package"`
}

type GrantRequest struct {
	PermissionKey string `json:"permission_key" binding:"required"`
}

type PermissionResponse struct {
	Key         string `json:"key"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type AgentResponse struct {
	ID               uint                 `json:"id"`
	UserID           uint                 `json:"user_id"`
	UserEmail        string               `json:"user_email"`
	UserName         string               `json:"user_name"`
	OrganisationID   uint                 `json:"organisation_id"`
	OrganisationName string               `json:"organisation_name"`
	IsActive         bool                 `json:"is_active"`
	AssignedAt       time.Time            `json:"assigned_at"`
	AssignedByID     *uint                `json:"assigned_by_id"`
	RevokedAt        *time.Time           `json:"revoked_at"`
	RevokedByID      *uint                `json:"revoked_by_id"`
	Permissions      []PermissionResponse `json:"permissions"`
}

func permissionResponses(perms []models.Permission) []PermissionResponse {
	out := make([]PermissionResponse, len(perms))
	for i, p := range perms {
		out[i] = PermissionResponse{Key: p.Key, Name: p.Name, Description: p.Description}
	}
	return out
}

func (h *Handler) response(c *gin.Context, agent *models.Agent) (AgentResponse, error) {
	perms, err := h.access.AgentPermissions(c.Request.Context(), agent.ID)
	if err != nil {
		return AgentResponse{}, err
	}
	return AgentResponse{
		ID:               agent.ID,
		UserID:           agent.UserID,
		UserEmail:        agent.User.Email,
		UserName:         agent.User.Name,
		OrganisationID:   agent.OrganisationID,
		OrganisationName: agent.Organisation.Name,
		IsActive:         agent.IsActive,
		AssignedAt:       agent.AssignedAt,
		AssignedByID:     agent.AssignedByID,
		RevokedAt:        agent.RevokedAt,
		RevokedByID:      agent.RevokedByID,
		Permissions:      permissionResponses(perms),
	}, nil
}

func (h *Handler) write(c *gin.Context, status int, agent *models.Agent) {
	resp, err := h.response(c, agent)
	if err != nil {
		httperr.Respond(c, h.log, err)
		return
	}
	c.JSON(status, resp)
}

// List returns agent assignments. ?active=true limits to current ones,
// ?active=false to history.
func (h *Handler) List(c *gin.Context) {
	filter := c.Query("active")
	var want *bool
	if filter != "" {
		v, err := strconv.ParseBool(filter)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "active must be true or false"})
			return
		}
		want = &v
	}

	all, err := h.access.ListAgents(c.Request.Context(), want != nil && *want)
	if err != nil {
		httperr.Respond(c, h.log, err)
		return
	}
	out := make([]AgentResponse, 0, len(all))
	for i := range all {
		if want != nil && all[i].IsActive != *want {
			continue
		}
		resp, err := h.response(c, &all[i])
		if err != nil {
			httperr.Respond(c, h.log, err)
			return
		}
		out = append(out, resp)
	}
	c.JSON(http.StatusOK, out)
}

// validateAssignment rejects users who already manage a different organisation.
// The engine itself would move them; the API makes moves explicit.
func (h *Handler) validateAssignment(c *gin.Context, req AssignRequest) error {
	current, err := h.access.GetAgentForUser(c.Request.Context(), req.UserID)
	if err != nil {
		if errors.Is(err, access.ErrNotFound) {
			return nil
		}
		return err
	}
	if current.OrganisationID != req.OrganisationID {
		return fmt.Errorf("user %d already manages organisation %d: %w",
			req.UserID, current.OrganisationID, access.ErrAlreadyAssigned)
	}
	return nil
}

// Assign makes a user the single active agent of an organisation
// @Summary Assign agent
// @Description Replaces any current agent of the organisation and applies a permission package
// @Tags agents
// @Accept json
// @Produce json
// @Param request body AssignRequest true "Assignment"
// @Success 201 {object} AgentResponse
// @Failure 409 {object} map[string]string "User already manages another organisation"
// @Security BearerAuth
// @Router /agents/assign [post]
func (h *Handler) Assign(c *gin.Context) {
	var req AssignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	pkg := req.PermissionPackage
	if pkg == "" {
		pkg = access.DefaultPermissionPackage
	}
	if _, ok := access.PermissionPackages[pkg]; !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unknown permission package %q", pkg)})
		return
	}
	if err := h.validateAssignment(c, req); err != nil {
		httperr.Respond(c, h.log, err)
		return
	}

	ctx := c.Request.Context()
	admin := auth.GetUser(c)
	agent, granted, err := h.access.AssignAgentWithPackage(ctx, req.UserID, req.OrganisationID, admin.ID, pkg)
	if err != nil {
		httperr.Respond(c, h.log, err)
		return
	}
	metrics.AgentEvents.WithLabelValues("assigned").Inc()
	logging.FromContext(ctx, h.log).Info("agent assigned",
		zap.Uint("agent_id", agent.ID), zap.String("package", pkg), zap.Int("granted", len(granted)))

	loaded, err := h.access.GetAgent(ctx, agent.ID)
	if err != nil {
		httperr.Respond(c, h.log, err)
		return
	}
	h.write(c, http.StatusCreated, loaded)
}

// Get returns the agent resolved by the manage gate.
func (h *Handler) Get(c *gin.Context) {
	h.write(c, http.StatusOK, c.MustGet(contextKeyAgent).(*models.Agent))
}

// Revoke deactivates an active agent.
func (h *Handler) Revoke(c *gin.Context) {
	agent := c.MustGet(contextKeyAgent).(*models.Agent)
	ctx := c.Request.Context()
	if _, err := h.access.RevokeAgent(ctx, agent.ID, auth.GetUser(c).ID); err != nil {
		httperr.Respond(c, h.log, err)
		return
	}
	metrics.AgentEvents.WithLabelValues("revoked").Inc()

	revoked, err := h.access.GetAgent(ctx, agent.ID)
	if err != nil {
		httperr.Respond(c, h.log, err)
		return
	}
	h.write(c, http.StatusOK, revoked)
}

// Delete removes an agent row and its grants.
func (h *Handler) Delete(c *gin.Context) {
	id, ok := auth.ParamID(c, "id")
	if !ok {
		return
	}
	if err := h.access.DeleteAgent(c.Request.Context(), id); err != nil {
		httperr.Respond(c, h.log, err)
		return
	}
	metrics.AgentEvents.WithLabelValues("deleted").Inc()
	c.JSON(http.StatusOK, gin.H{"message": "Agent deleted"})
}

// Permissions lists the agent's grants.
func (h *Handler) Permissions(c *gin.Context) {
	agent := c.MustGet(contextKeyAgent).(*models.Agent)
	perms, err := h.access.AgentPermissions(c.Request.Context(), agent.ID)
	if err != nil {
		httperr.Respond(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, permissionResponses(perms))
}

// Grant adds a catalog permission to an active agent. Granting twice is a no-op.
func (h *Handler) Grant(c *gin.Context) {
	var req GrantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	agent := c.MustGet(contextKeyAgent).(*models.Agent)
	grant, err := h.access.GrantPermission(c.Request.Context(), agent.ID, access.ByKey(req.PermissionKey), auth.GetUser(c).ID)
	if err != nil {
		httperr.Respond(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, PermissionResponse{
		Key:         grant.Permission.Key,
		Name:        grant.Permission.Name,
		Description: grant.Permission.Description,
	})
}

// RevokePermission removes a grant from an active agent.
func (h *Handler) RevokePermission(c *gin.Context) {
	agent := c.MustGet(contextKeyAgent).(*models.Agent)
	if err := h.access.RevokePermission(c.Request.Context(), agent.ID, access.ByKey(c.Param("key"))); err != nil {
		httperr.Respond(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Permission revoked"})
}

// loadAgent resolves :id and, when authorize is set, runs it against the
// agent. With activeOnly, inactive agents are reported missing.
func (h *Handler) loadAgent(gate string, activeOnly bool, authorize func(*gin.Context, *models.User, *models.Agent) error) gin.HandlerFunc {
	return auth.Gate(gate, h.log, func(c *gin.Context, user *models.User) error {
		id, err := strconv.ParseUint(c.Param("id"), 10, 32)
		if err != nil {
			return fmt.Errorf("invalid agent id: %w", access.ErrInvalidState)
		}
		var agent *models.Agent
		if activeOnly {
			agent, err = h.access.GetActiveAgent(c.Request.Context(), uint(id))
		} else {
			agent, err = h.access.GetAgent(c.Request.Context(), uint(id))
		}
		if err != nil {
			return err
		}
		if authorize != nil {
			if err := authorize(c, user, agent); err != nil {
				return err
			}
		}
		c.Set(contextKeyAgent, agent)
		return nil
	})
}

func (h *Handler) manage(c *gin.Context, user *models.User, agent *models.Agent) error {
	return h.access.AuthorizeManage(c.Request.Context(), user, *agent)
}

// RegisterRoutes registers agent routes. rg must already authenticate and
// load the user.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	superadmin := auth.RequireSuperAdmin(h.access)

	agents := rg.Group("/agents")
	agents.GET("", superadmin, h.List)
	agents.POST("/assign", superadmin, h.Assign)
	agents.GET("/:id", h.loadAgent("agent_manage", false, h.manage), h.Get)
	agents.DELETE("/:id", superadmin, h.Delete)
	agents.POST("/:id/revoke", superadmin, h.loadAgent("agent_active", true, nil), h.Revoke)
	agents.GET("/:id/permissions", superadmin, h.loadAgent("agent", false, nil), h.Permissions)
	agents.POST("/:id/permissions", superadmin, h.loadAgent("agent_active", true, nil), h.Grant)
	agents.DELETE("/:id/permissions/:key", superadmin, h.loadAgent("agent_active", true, nil), h.RevokePermission)
}
