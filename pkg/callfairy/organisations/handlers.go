package organisations

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/callfairy/callfairy/pkg/callfairy/access"
	"github.com/callfairy/callfairy/pkg/callfairy/auth"
	"github.com/callfairy/callfairy/pkg/callfairy/httperr"
	"github.com/callfairy/callfairy/pkg/callfairy/models"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const contextKeyMembership = "membership"

// Handler handles organisation-related requests
type Handler struct {
	access *access.Service
	log    *zap.Logger
}

// NewHandler creates a new organisations handler
func NewHandler(svc *access.Service, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{access: svc, log: log.Named("organisations")}
}

// OrganisationRequest carries organisation fields. On update, omitted fields stay unchanged.
type OrganisationRequest struct {
	Name        *string `json:"name" binding:"omitempty,min=1,max=255"`
	Description *string `json:"description"`
	Address     *string `json:"address"`
	City        *string `json:"city" binding:"omitempty,max=100"`
	State       *string `json:"state" binding:"omitempty,max=100"`
	Country     *string `json:"country" binding:"omitempty,max=100"`
	Pincode     *string `json:"pincode" binding:"omitempty,max=10"`
	IsActive    *bool   `json:"is_active"`
}

func (r OrganisationRequest) input() access.OrganisationInput {
	return access.OrganisationInput{
		Name:        r.Name,
		Description: r.Description,
		Address:     r.Address,
		City:        r.City,
		State:       r.State,
		Country:     r.Country,
		Pincode:     r.Pincode,
		IsActive:    r.IsActive,
	}
}

// AgentInfo identifies the user managing an organisation.
type AgentInfo struct {
	UserID uint   `json:"user_id"`
	Email  string `json:"email"`
	Name   string `json:"name"`
}

// OrganisationResponse represents an organisation in API responses
type OrganisationResponse struct {
	ID            uint       `json:"id"`
	Name          string     `json:"name"`
	Description   string     `json:"description"`
	Address       string     `json:"address"`
	City          string     `json:"city"`
	State         string     `json:"state"`
	Country       string     `json:"country"`
	Pincode       string     `json:"pincode"`
	IsActive      bool       `json:"is_active"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	Agent         *AgentInfo `json:"agent"`
	UserCanManage bool       `json:"user_can_manage"`
}

// MemberResponse represents a member in API responses
type MemberResponse struct {
	UserID uint   `json:"user_id"`
	Email  string `json:"email"`
	Name   string `json:"name"`
	Role   string `json:"role"`
}

// AddMemberRequest names the user to add.
type AddMemberRequest struct {
	UserID uint `json:"user_id" binding:"required"`
}

func (h *Handler) respond(c *gin.Context, org *models.Organisation) (OrganisationResponse, error) {
	ctx := c.Request.Context()
	resp := OrganisationResponse{
		ID:          org.ID,
		Name:        org.Name,
		Description: org.Description,
		Address:     org.Address,
		City:        org.City,
		State:       org.State,
		Country:     org.Country,
		Pincode:     org.Pincode,
		IsActive:    org.IsActive,
		CreatedAt:   org.CreatedAt,
		UpdatedAt:   org.UpdatedAt,
	}
	agent, err := h.access.OrganisationAgent(ctx, org)
	if err != nil {
		return resp, err
	}
	if agent != nil {
		resp.Agent = &AgentInfo{UserID: agent.ID, Email: agent.Email, Name: agent.Name}
	}
	resp.UserCanManage, err = h.access.CanManageOrganisation(ctx, auth.GetUser(c), org)
	return resp, err
}

// List returns the organisations the current user can access
// @Summary List organisations
// @Description Superadmins see every active organisation, agents their managed one, users their memberships
// @Tags organisations
// @Produce json
// @Success 200 {array} OrganisationResponse
// @Security BearerAuth
// @Router /organisations [get]
func (h *Handler) List(c *gin.Context) {
	orgs, err := h.access.AccessibleOrganisations(c.Request.Context(), auth.GetUser(c))
	if err != nil {
		httperr.Respond(c, h.log, err)
		return
	}
	out := make([]OrganisationResponse, 0, len(orgs))
	for i := range orgs {
		resp, err := h.respond(c, &orgs[i])
		if err != nil {
			httperr.Respond(c, h.log, err)
			return
		}
		out = append(out, resp)
	}
	c.JSON(http.StatusOK, out)
}

// Create creates an organisation
// @Summary Create organisation
// @Tags organisations
// @Accept json
// @Produce json
// @Param request body OrganisationRequest true "Organisation details"
// @Success 201 {object} OrganisationResponse
// @Failure 403 {object} map[string]string "Superadmin only"
// @Security BearerAuth
// @Router /organisations [post]
func (h *Handler) Create(c *gin.Context) {
	var req OrganisationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	org, err := h.access.CreateOrganisation(c.Request.Context(), req.input())
	if err != nil {
		httperr.Respond(c, h.log, err)
		return
	}
	h.write(c, http.StatusCreated, org)
}

// Get returns the organisation resolved by the access gate.
func (h *Handler) Get(c *gin.Context) {
	h.write(c, http.StatusOK, auth.GetOrganisation(c))
}

// Update applies a partial update.
func (h *Handler) Update(c *gin.Context) {
	var req OrganisationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	in := req.input()
	// Agents edit details; only superadmins change the active flag.
	if !auth.GetUser(c).IsSuperAdmin() {
		in.IsActive = nil
	}
	org, err := h.access.UpdateOrganisation(c.Request.Context(), auth.GetOrganisation(c).ID, in)
	if err != nil {
		httperr.Respond(c, h.log, err)
		return
	}
	h.write(c, http.StatusOK, org)
}

func (h *Handler) setActive(active bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := auth.ParamID(c, "id")
		if !ok {
			return
		}
		org, err := h.access.SetOrganisationActive(c.Request.Context(), id, active)
		if err != nil {
			httperr.Respond(c, h.log, err)
			return
		}
		h.write(c, http.StatusOK, org)
	}
}

// Delete removes an organisation with its agents and memberships.
func (h *Handler) Delete(c *gin.Context) {
	id, ok := auth.ParamID(c, "id")
	if !ok {
		return
	}
	if err := h.access.DeleteOrganisation(c.Request.Context(), id); err != nil {
		httperr.Respond(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Organisation deleted"})
}

// ListMembers returns the organisation's members.
func (h *Handler) ListMembers(c *gin.Context) {
	users, err := h.access.ListMembers(c.Request.Context(), auth.GetOrganisation(c).ID)
	if err != nil {
		httperr.Respond(c, h.log, err)
		return
	}
	out := make([]MemberResponse, len(users))
	for i, u := range users {
		out[i] = MemberResponse{UserID: u.ID, Email: u.Email, Name: u.Name, Role: string(u.Role)}
	}
	c.JSON(http.StatusOK, out)
}

// AddMember adds a user to the organisation.
func (h *Handler) AddMember(c *gin.Context) {
	var req AddMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	membership, err := h.access.AddMember(c.Request.Context(), auth.GetOrganisation(c).ID, req.UserID)
	if err != nil {
		httperr.Respond(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, membership)
}

// RemoveMember deletes the membership resolved by requireMembershipManage.
func (h *Handler) RemoveMember(c *gin.Context) {
	membership := c.MustGet(contextKeyMembership).(*models.UserOrganisation)
	if err := h.access.RemoveMember(c.Request.Context(), membership); err != nil {
		httperr.Respond(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Member removed"})
}

// Reports returns headline numbers for the organisation.
func (h *Handler) Reports(c *gin.Context) {
	org := auth.GetOrganisation(c)
	members, err := h.access.ListMembers(c.Request.Context(), org.ID)
	if err != nil {
		httperr.Respond(c, h.log, err)
		return
	}
	agent, err := h.access.OrganisationAgent(c.Request.Context(), org)
	if err != nil {
		httperr.Respond(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"organisation_id": org.ID,
		"members":         len(members),
		"has_agent":       agent != nil,
		"is_active":       org.IsActive,
	})
}

// requireMembershipManage resolves the membership named by :id and :userId and
// authorizes manage rights through it.
func (h *Handler) requireMembershipManage() gin.HandlerFunc {
	return auth.Gate("membership_manage", h.log, func(c *gin.Context, user *models.User) error {
		orgID, err := strconv.ParseUint(c.Param("id"), 10, 32)
		if err != nil {
			return fmt.Errorf("invalid organisation id: %w", access.ErrInvalidState)
		}
		userID, err := strconv.ParseUint(c.Param("userId"), 10, 32)
		if err != nil {
			return fmt.Errorf("invalid user id: %w", access.ErrInvalidState)
		}
		membership, err := h.access.GetMembership(c.Request.Context(), uint(orgID), uint(userID))
		if err != nil {
			return err
		}
		if err := h.access.AuthorizeManage(c.Request.Context(), user, *membership); err != nil {
			return err
		}
		c.Set(contextKeyMembership, membership)
		return nil
	})
}

func (h *Handler) write(c *gin.Context, status int, org *models.Organisation) {
	resp, err := h.respond(c, org)
	if err != nil {
		httperr.Respond(c, h.log, err)
		return
	}
	c.JSON(status, resp)
}

// RegisterRoutes registers organisation routes. rg must already authenticate
// and load the user.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	superadmin := auth.RequireSuperAdmin(h.access)

	orgs := rg.Group("/organisations")
	orgs.GET("", h.List)
	orgs.POST("", superadmin, h.Create)
	orgs.GET("/:id", auth.RequireOrganisationAccess(h.access, "id"), h.Get)
	orgs.PUT("/:id", auth.RequireOrganisationManage(h.access, "id"), h.Update)
	orgs.DELETE("/:id", superadmin, h.Delete)
	orgs.POST("/:id/activate", superadmin, h.setActive(true))
	orgs.POST("/:id/deactivate", superadmin, h.setActive(false))

	orgs.GET("/:id/members", auth.RequireOrganisationAccess(h.access, "id"), h.ListMembers)
	orgs.POST("/:id/members", auth.RequireOrganisationManage(h.access, "id"), h.AddMember)
	orgs.DELETE("/:id/members/:userId", h.requireMembershipManage(), h.RemoveMember)

	orgs.GET("/:id/reports", auth.RequireOrganisationPermission(h.access, "id", "view_reports"), h.Reports)
}
