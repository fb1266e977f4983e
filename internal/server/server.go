// Package server exposes the gating engine over HTTP.
package server

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Malowking/MCP-Monitor/internal/apierror"
	"github.com/Malowking/MCP-Monitor/internal/auth"
	"github.com/Malowking/MCP-Monitor/internal/metrics"
	"github.com/Malowking/MCP-Monitor/internal/orchestrator"
)

// Server holds the HTTP handlers and their collaborators.
type Server struct {
	orch   *orchestrator.Orchestrator
	authn  auth.Authenticator
	logger *zap.Logger
}

func New(orch *orchestrator.Orchestrator, authn auth.Authenticator, logger *zap.Logger) *Server {
	return &Server{orch: orch, authn: authn, logger: logger}
}

// Engine builds the gin engine with all routes registered.
func (s *Server) Engine() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLog())

	r.GET("/health", s.handleHealth)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	api := r.Group("/api/v1")
	api.Use(s.authenticate())
	{
		api.POST("/query", s.handleQuery)
		api.POST("/confirm", s.handleConfirm)
		api.POST("/execution", s.handleExecution)

		api.GET("/services", s.handleListServices)
		api.GET("/services/:name/status", s.handleServiceStatus)
		api.GET("/services/:name/tools", s.handleServiceTools)

		api.GET("/history/:user_id", s.handleHistory)

		admin := api.Group("")
		admin.Use(s.requireAdmin())
		{
			admin.POST("/services/register", s.handleRegisterService)
			admin.DELETE("/services/:name", s.handleDeregisterService)
			admin.POST("/rules/reload", s.handleRulesReload)
		}
	}
	return r
}

// requestLog assigns a request id and logs one line per request.
func (s *Server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set("request_id", requestID)
		c.Header("X-Request-ID", requestID)

		start := time.Now()
		c.Next()

		s.logger.Info("http request",
			zap.String("request_id", requestID),
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("elapsed", time.Since(start)),
		)
	}
}

func (s *Server) authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		client, err := s.authn.Authenticate(c.Request.Context(), c.GetHeader("Authorization"))
		if err != nil {
			c.AbortWithStatusJSON(401, apierror.Response{
				Code:    "UNAUTHENTICATED",
				Message: "missing or invalid API key",
			})
			return
		}
		c.Set("client", client)
		c.Next()
	}
}

func (s *Server) requireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		client, ok := c.MustGet("client").(*auth.ClientContext)
		if !ok || !client.Admin {
			c.AbortWithStatusJSON(403, apierror.Response{
				Code:    "FORBIDDEN",
				Message: "admin credentials required",
			})
			return
		}
		c.Next()
	}
}

// writeError renders err through the shared envelope.
func (s *Server) writeError(c *gin.Context, err error) {
	requestID := c.GetString("request_id")
	status := apierror.HTTPStatus(err)
	if status >= 500 {
		s.logger.Error("request failed",
			zap.String("request_id", requestID),
			zap.Error(err),
		)
	}
	c.JSON(status, apierror.ToResponse(err, requestID))
}
