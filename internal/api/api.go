// SPDX-License-Identifier: Apache-2.0

// Package api serves the workflow operations as a JSON HTTP API.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/gemaraproj/registry-review/internal/catalog"
	"github.com/gemaraproj/registry-review/internal/metrics"
	"github.com/gemaraproj/registry-review/internal/oracle"
	"github.com/gemaraproj/registry-review/internal/review"
	"github.com/gemaraproj/registry-review/internal/workflow"
)

// Server holds the HTTP handlers.
type Server struct {
	controller *workflow.Controller
	catalogs   *catalog.Registry
	logger     *slog.Logger
}

// NewServer creates a Server.
func NewServer(controller *workflow.Controller, catalogs *catalog.Registry, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{controller: controller, catalogs: catalogs, logger: logger}
}

// Router returns a gin engine with every route registered.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())
	s.Register(r)
	return r
}

// Register adds the routes to r.
func (s *Server) Register(r gin.IRouter) {
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	v1 := r.Group("/v1")
	v1.GET("/catalogs", s.listCatalogs)
	v1.GET("/catalogs/:methodology", s.getCatalog)

	v1.GET("/sessions", s.listSessions)
	v1.POST("/sessions", s.createSession)

	sess := v1.Group("/sessions/:id")
	sess.GET("", s.getState)
	sess.DELETE("", s.deleteSession)
	sess.GET("/graph", s.getGraph)
	sess.POST("/documents", s.discoverDocuments)
	sess.PATCH("/documents/:document", s.reclassifyDocument)
	sess.POST("/mappings", s.mapRequirements)
	sess.PUT("/mappings/:requirement", s.correctMapping)
	sess.POST("/evidence", s.extractEvidence)
	sess.POST("/validation", s.validate)
	sess.POST("/report", s.generateReport)
	sess.POST("/review", s.submitReview)
	sess.POST("/complete", s.complete)
	sess.POST("/reset", s.reset)
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Info("http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}

// writeError maps workflow and oracle errors to HTTP statuses.
func (s *Server) writeError(c *gin.Context, err error) {
	var sde *workflow.StageDependencyError
	if errors.As(err, &sde) {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "stage": sde.Stage, "missing": sde.Missing})
		return
	}
	if fatal, ok := oracle.AsFatal(err); ok {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "kind": fatal.Kind, "transport": fatal.Transport})
		return
	}

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, workflow.ErrSessionNotFound):
		status = http.StatusNotFound
	case errors.Is(err, workflow.ErrInvalidArgument):
		status = http.StatusBadRequest
	case errors.Is(err, workflow.ErrCancelled):
		status = http.StatusConflict
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "path", c.FullPath(), "error", err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
}

// ---------------------------------------------------------------------------
// Catalogs
// ---------------------------------------------------------------------------

func (s *Server) listCatalogs(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"methodologies": s.catalogs.Methodologies()})
}

func (s *Server) getCatalog(c *gin.Context) {
	scope, ok := review.ParseScope(c.Query("scope"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown scope " + c.Query("scope")})
		return
	}
	reqs, err := s.catalogs.Requirements(c.Param("methodology"), scope)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"methodology": c.Param("methodology"), "scope": scope, "requirements": reqs})
}

// ---------------------------------------------------------------------------
// Sessions
// ---------------------------------------------------------------------------

type createSessionRequest struct {
	ProjectName string `json:"project_name" binding:"required"`
	Methodology string `json:"methodology" binding:"required"`
	Scope       string `json:"scope"`
}

func (s *Server) createSession(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	sess, err := s.controller.CreateSession(c.Request.Context(), req.ProjectName, req.Methodology, req.Scope)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, sess)
}

func (s *Server) listSessions(c *gin.Context) {
	sessions, err := s.controller.ListSessions(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	if sessions == nil {
		sessions = []review.Session{}
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

func (s *Server) getState(c *gin.Context) {
	state, err := s.controller.GetSessionState(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

func (s *Server) deleteSession(c *gin.Context) {
	if err := s.controller.DeleteSession(c.Request.Context(), c.Param("id")); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) getGraph(c *gin.Context) {
	graph, err := s.controller.GetGraph(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, graph)
}

// ---------------------------------------------------------------------------
// Stages
// ---------------------------------------------------------------------------

type discoverRequest struct {
	Source string `json:"source" binding:"required"`
}

func (s *Server) discoverDocuments(c *gin.Context) {
	var req discoverRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	docs, err := s.controller.DiscoverDocuments(c.Request.Context(), c.Param("id"), req.Source)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"documents": docs})
}

type reclassifyRequest struct {
	Type review.DocumentType `json:"type" binding:"required"`
}

func (s *Server) reclassifyDocument(c *gin.Context) {
	var req reclassifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	doc, err := s.controller.ReclassifyDocument(c.Request.Context(), c.Param("id"), c.Param("document"), req.Type)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, doc)
}

func (s *Server) mapRequirements(c *gin.Context) {
	mappings, err := s.controller.MapRequirements(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"mappings": mappings})
}

type correctMappingRequest struct {
	DocumentIDs []string `json:"document_ids"`
}

func (s *Server) correctMapping(c *gin.Context) {
	var req correctMappingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	m, err := s.controller.CorrectMapping(c.Request.Context(), c.Param("id"), c.Param("requirement"), req.DocumentIDs)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

func (s *Server) extractEvidence(c *gin.Context) {
	items, err := s.controller.ExtractEvidence(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"items":            items,
		"counts":           review.Counts(items),
		"overall_coverage": review.Coverage(items),
	})
}

func (s *Server) validate(c *gin.Context) {
	report, err := s.controller.Validate(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *Server) generateReport(c *gin.Context) {
	report, err := s.controller.GenerateReport(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

type reviewRequest struct {
	Reviewer  string            `json:"reviewer"`
	Decisions []review.Decision `json:"decisions"`
}

func (s *Server) submitReview(c *gin.Context) {
	var req reviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	rv, err := s.controller.SubmitReview(c.Request.Context(), c.Param("id"), req.Reviewer, req.Decisions)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rv)
}

func (s *Server) complete(c *gin.Context) {
	sess, err := s.controller.Complete(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

type resetRequest struct {
	Stage string `json:"stage" binding:"required"`
}

func (s *Server) reset(c *gin.Context) {
	var req resetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	stage, err := review.ParseStage(req.Stage)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	sess, err := s.controller.Reset(c.Request.Context(), c.Param("id"), stage)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}
