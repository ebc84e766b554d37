package api

import (
	"net/http"
	"strconv"

	"github.com/flowgrid/flowplane/internal/alertingest"
	"github.com/flowgrid/flowplane/internal/apperr"
	"github.com/gin-gonic/gin"
)

func (s *Server) alertsWebhook(c *gin.Context) {
	var env alertingest.Envelope
	if err := c.ShouldBindJSON(&env); err != nil {
		respondErr(c, apperr.Validation("", err.Error()))
		return
	}
	if _, err := s.alerts.Ingest(c.Request.Context(), env); err != nil {
		respondErr(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) listAlerts(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	events, err := s.alerts.ListEvents(c.Request.Context(), limit)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, events)
}

func (s *Server) listAlertGroups(c *gin.Context) {
	groups, err := s.alerts.Groups(c.Request.Context())
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, groups)
}

func (s *Server) listGroupStates(c *gin.Context) {
	states, err := s.alerts.ListGroupStates(c.Request.Context())
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, states)
}

type groupStateRequest struct {
	Identifier string `json:"identifier" binding:"required"`
	Resolved   bool   `json:"resolved"`
}

func (s *Server) setGroupState(c *gin.Context) {
	var req groupStateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErr(c, apperr.Validation("", err.Error()))
		return
	}
	st, err := s.alerts.SetGroupResolution(c.Request.Context(), req.Identifier, req.Resolved)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}
