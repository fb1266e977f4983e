package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Malowking/MCP-Monitor/internal/apierror"
	"github.com/Malowking/MCP-Monitor/internal/orchestrator"
)

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleQuery(c *gin.Context) {
	var req orchestrator.QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, apierror.Validation("invalid request body: %v", err))
		return
	}

	resp, err := s.orch.ProcessQuery(c.Request.Context(), &req)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

type confirmRequest struct {
	RequestID string `json:"request_id" binding:"required"`
	Confirmed *bool  `json:"confirmed" binding:"required"`
	Feedback  string `json:"feedback,omitempty"`
}

func (s *Server) handleConfirm(c *gin.Context) {
	var req confirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, apierror.Validation("invalid request body: %v", err))
		return
	}

	rec, err := s.orch.Confirm(c.Request.Context(), req.RequestID, *req.Confirmed, req.Feedback)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

type executionRequest struct {
	RequestID  string `json:"request_id" binding:"required"`
	Success    *bool  `json:"success" binding:"required"`
	DurationMs int64  `json:"duration_ms,omitempty"`
}

func (s *Server) handleExecution(c *gin.Context) {
	var req executionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, apierror.Validation("invalid request body: %v", err))
		return
	}

	rec, err := s.orch.RecordExecution(c.Request.Context(), req.RequestID, *req.Success,
		time.Duration(req.DurationMs)*time.Millisecond)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (s *Server) handleRegisterService(c *gin.Context) {
	var req orchestrator.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, apierror.Validation("invalid request body: %v", err))
		return
	}

	reg, err := s.orch.RegisterService(c.Request.Context(), &req)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"name":       reg.Name,
		"layer":      reg.Layer,
		"tool_count": len(reg.Tools),
	})
}

func (s *Server) handleDeregisterService(c *gin.Context) {
	if err := s.orch.DeregisterService(c.Request.Context(), c.Param("name")); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleListServices(c *gin.Context) {
	services, err := s.orch.ListServices(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"services": services, "count": len(services)})
}

func (s *Server) handleServiceStatus(c *gin.Context) {
	status, err := s.orch.ServiceStatus(c.Request.Context(), c.Param("name"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (s *Server) handleServiceTools(c *gin.Context) {
	tools, err := s.orch.ServiceTools(c.Request.Context(), c.Param("name"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tools": tools, "count": len(tools)})
}

func (s *Server) handleHistory(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			s.writeError(c, apierror.Validation("limit must be a non-negative integer"))
			return
		}
		limit = n
	}

	cases, err := s.orch.History(c.Request.Context(), c.Param("user_id"), c.Query("tool_name"), limit)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"history": cases, "count": len(cases)})
}

func (s *Server) handleRulesReload(c *gin.Context) {
	if err := s.orch.ReloadRules(); err != nil {
		s.writeError(c, apierror.Internal(err, "rule reload failed"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "reloaded"})
}
