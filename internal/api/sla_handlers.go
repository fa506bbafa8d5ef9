// Package api exposes the engine's operational HTTP surface: health,
// metrics and the ticket-facing SLA endpoints. Everything else the
// platform serves lives outside this module.
package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/opendesk-io/opendesk-ce/internal/models"
	"github.com/opendesk-io/opendesk-ce/internal/repository"
	"github.com/opendesk-io/opendesk-ce/internal/services/escalation"
	"github.com/opendesk-io/opendesk-ce/internal/services/sla"
)

// Server bundles the services the HTTP handlers call into.
type Server struct {
	Tracker     *sla.Tracker
	Monitor     *sla.Monitor
	Escalation  *escalation.Manager
	Escalations repository.EscalationRepository
	Policies    repository.SLAPolicyRepository
	Registry    *prometheus.Registry
}

// Router builds the gin engine with all routes attached.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if s.Registry != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.Registry, promhttp.HandlerOpts{})))
	}

	v1 := r.Group("/api/v1")
	{
		v1.GET("/tickets/:id/sla", s.getTicketSLA)
		v1.GET("/tickets/:id/escalations", s.listEscalations)
		v1.POST("/tickets/:id/escalate", s.escalateTicket)
		v1.POST("/sla/sweep", s.runSweep)
		v1.GET("/sla/policies", s.listPolicies)
		v1.POST("/sla/policies", s.createPolicy)
	}
	return r
}

func (s *Server) getTicketSLA(c *gin.Context) {
	id, ok := ticketID(c)
	if !ok {
		return
	}

	tracking, status, err := s.Tracker.Status(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if tracking == nil {
		c.JSON(http.StatusOK, gin.H{"tracked": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"tracked":  true,
		"status":   status,
		"tracking": tracking,
	})
}

func (s *Server) listEscalations(c *gin.Context) {
	id, ok := ticketID(c)
	if !ok {
		return
	}

	entries, err := s.Escalations.ListByTicket(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"escalations": entries})
}

type escalateRequest struct {
	Reason string `json:"reason" binding:"required"`
	Type   string `json:"type"`
}

func (s *Server) escalateTicket(c *gin.Context) {
	id, ok := ticketID(c)
	if !ok {
		return
	}

	var req escalateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	escType := models.EscalationType(req.Type)
	if req.Type == "" {
		escType = models.EscalationTypeManual
	}

	done, err := s.Escalation.Escalate(c.Request.Context(), id, req.Reason, escType)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "ticket not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !done {
		c.JSON(http.StatusConflict, gin.H{"error": "no escalation target configured"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"escalated": true})
}

func (s *Server) listPolicies(c *gin.Context) {
	activeOnly := c.Query("active") == "true"
	policies, err := s.Policies.List(c.Request.Context(), activeOnly)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"policies": policies})
}

// policyRequest accepts targets in minutes or, for admin convenience,
// whole hours. Exactly one form per target must be set.
type policyRequest struct {
	Name              string `json:"name" binding:"required"`
	PriorityID        int    `json:"priority_id" binding:"required"`
	CategoryID        *int   `json:"category_id"`
	ResponseMinutes   *int   `json:"response_minutes"`
	ResponseHours     *int   `json:"response_hours"`
	ResolutionMinutes *int   `json:"resolution_minutes"`
	ResolutionHours   *int   `json:"resolution_hours"`
	EscalationMinutes *int   `json:"escalation_minutes"`
	BusinessHoursOnly bool   `json:"business_hours_only"`
	IsActive          *bool  `json:"is_active"`
}

func targetMinutes(minutes, hours *int) (int, bool) {
	switch {
	case minutes != nil && hours == nil:
		return *minutes, *minutes > 0
	case hours != nil && minutes == nil:
		return sla.MinutesFromHours(*hours), *hours > 0
	default:
		return 0, false
	}
}

func (s *Server) createPolicy(c *gin.Context) {
	var req policyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	response, ok := targetMinutes(req.ResponseMinutes, req.ResponseHours)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "set exactly one of response_minutes or response_hours, greater than zero"})
		return
	}
	resolution, ok := targetMinutes(req.ResolutionMinutes, req.ResolutionHours)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "set exactly one of resolution_minutes or resolution_hours, greater than zero"})
		return
	}

	policy := &models.SLAPolicy{
		Name:              req.Name,
		PriorityID:        req.PriorityID,
		CategoryID:        req.CategoryID,
		ResponseMinutes:   response,
		ResolutionMinutes: resolution,
		EscalationMinutes: req.EscalationMinutes,
		BusinessHoursOnly: req.BusinessHoursOnly,
		IsActive:          true,
	}
	if req.IsActive != nil {
		policy.IsActive = *req.IsActive
	}

	if err := s.Policies.Create(c.Request.Context(), policy); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, policy)
}

func (s *Server) runSweep(c *gin.Context) {
	result, err := s.Monitor.Sweep(c.Request.Context())
	if err != nil {
		if errors.Is(err, sla.ErrSweepInProgress) {
			c.JSON(http.StatusConflict, gin.H{"error": "sweep already in progress"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

func ticketID(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid ticket id"})
		return 0, false
	}
	return id, true
}
