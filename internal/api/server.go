// Package api exposes the REST surface consumed by the admin UI: definition
// CRUD, run history, manual triggers and delivery logs.
package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/reportmill/internal/models"
	"github.com/reportmill/internal/store"
	"go.uber.org/zap"
)

// Enqueuer hands manually triggered runs to the executor's work queue.
type Enqueuer interface {
	Enqueue(runID uint) bool
}

type Server struct {
	defs       *store.Definitions
	runs       *store.Runs
	deliveries *store.Deliveries
	exec       Enqueuer
	logger     *zap.Logger
	router     *gin.Engine
}

func NewServer(defs *store.Definitions, runs *store.Runs, deliveries *store.Deliveries, exec Enqueuer, logger *zap.Logger) *Server {
	server := &Server{
		defs:       defs,
		runs:       runs,
		deliveries: deliveries,
		exec:       exec,
		logger:     logger,
		router:     gin.Default(),
	}
	server.setupRoutes()
	return server
}

func (s *Server) setupRoutes() {
	api := s.router.Group("/api/v1")

	definitions := api.Group("/reports/definitions")
	{
		definitions.GET("", s.listDefinitions)
		definitions.POST("", s.createDefinition)
		definitions.PUT("/:id", s.updateDefinition)
		definitions.DELETE("/:id", s.deleteDefinition)
		definitions.PUT("/:id/enable", s.enableSchedule)
		definitions.PUT("/:id/disable", s.disableSchedule)
	}

	runs := api.Group("/reports/runs")
	{
		runs.GET("", s.listRuns)
		runs.GET("/:id", s.getRun)
		runs.POST("", s.triggerRun)
		runs.POST("/:id/cancel", s.cancelRun)
		runs.DELETE("/:id", s.deleteRun)
		runs.GET("/:id/deliveries", s.listDeliveries)
	}
}

func (s *Server) Start(port int) error {
	return s.router.Run(fmt.Sprintf(":%d", port))
}

// Router exposes the gin engine for tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}

func respondError(c *gin.Context, err error) {
	var validation *models.ValidationError
	switch {
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, models.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, models.ErrTerminalRun):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func pathID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return uint(id), true
}

func (s *Server) listDefinitions(c *gin.Context) {
	query := store.DefinitionsQuery{
		Tenant: c.Query("tenant"),
		Q:      c.Query("q"),
		Kind:   models.ReportKind(c.Query("kind")),
		Tag:    c.Query("tag"),
	}
	if isActive := c.Query("isActive"); isActive != "" {
		active := isActive == "true"
		query.IsActive = &active
	}

	defs, err := s.defs.List(query)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, defs)
}

func (s *Server) createDefinition(c *gin.Context) {
	var def models.ReportDefinition
	if err := c.ShouldBindJSON(&def); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.defs.Create(&def); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, def)
}

// updateDefinition binds the request body onto the stored record, so fields
// absent from a partial update keep their current values.
func (s *Server) updateDefinition(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	def, err := s.defs.Get(id)
	if err != nil {
		respondError(c, err)
		return
	}
	if err := c.ShouldBindJSON(def); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	def.ID = id
	if err := s.defs.Update(def); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, def)
}

func (s *Server) deleteDefinition(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := s.defs.Delete(id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id})
}

func (s *Server) enableSchedule(c *gin.Context) {
	s.setScheduleEnabled(c, true)
}

func (s *Server) disableSchedule(c *gin.Context) {
	s.setScheduleEnabled(c, false)
}

func (s *Server) setScheduleEnabled(c *gin.Context, enabled bool) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	def, err := s.defs.SetScheduleEnabled(id, enabled)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, def)
}

func (s *Server) listRuns(c *gin.Context) {
	query := store.RunsQuery{
		Tenant: c.Query("tenant"),
		Kind:   models.ReportKind(c.Query("kind")),
		Status: models.RunStatus(c.Query("status")),
	}
	if ref := c.Query("definitionRef"); ref != "" {
		id, err := strconv.ParseUint(ref, 10, 32)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid definitionRef"})
			return
		}
		defID := uint(id)
		query.DefinitionID = &defID
	}
	if from := c.Query("from"); from != "" {
		if t, err := time.Parse(time.RFC3339, from); err == nil {
			query.From = &t
		}
	}
	if to := c.Query("to"); to != "" {
		if t, err := time.Parse(time.RFC3339, to); err == nil {
			query.To = &t
		}
	}

	runs, err := s.runs.List(query)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, runs)
}

func (s *Server) getRun(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	run, err := s.runs.Get(id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, run)
}

type triggerRequest struct {
	DefinitionRef *uint                `json:"definition_ref"`
	Tenant        string               `json:"tenant"`
	Kind          models.ReportKind    `json:"kind"`
	FiltersUsed   models.Filters       `json:"filters_used"`
	TriggeredBy   models.TriggerSource `json:"triggered_by"`
}

// triggerRun inserts a queued run directly, bypassing the dispatcher's slot
// claim but flowing through the same executor queue.
func (s *Server) triggerRun(c *gin.Context) {
	var req triggerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if req.TriggeredBy == "" {
		req.TriggeredBy = models.TriggerManual
	}
	if req.TriggeredBy != models.TriggerManual && req.TriggeredBy != models.TriggerAPI {
		c.JSON(http.StatusBadRequest, gin.H{"error": "triggered_by must be manual or api"})
		return
	}

	run := &models.ReportRun{
		TriggeredBy: req.TriggeredBy,
		FiltersUsed: req.FiltersUsed,
	}

	if req.DefinitionRef != nil {
		def, err := s.defs.Get(*req.DefinitionRef)
		if err != nil {
			respondError(c, err)
			return
		}
		run.DefinitionID = &def.ID
		run.Tenant = def.Tenant
		run.Kind = def.Kind
	} else {
		if req.Kind == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "kind is required without definition_ref"})
			return
		}
		if req.Tenant == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "tenant is required without definition_ref"})
			return
		}
		run.Kind = req.Kind
		run.Tenant = req.Tenant
	}

	if !models.IsValidKind(run.Kind) {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unknown kind %q", run.Kind)})
		return
	}

	if err := s.runs.Create(run); err != nil {
		respondError(c, err)
		return
	}
	s.exec.Enqueue(run.ID)

	c.JSON(http.StatusCreated, run)
}

func (s *Server) cancelRun(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	run, err := s.runs.RequestCancel(id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, run)
}

func (s *Server) deleteRun(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := s.runs.Delete(id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id})
}

func (s *Server) listDeliveries(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if _, err := s.runs.Get(id); err != nil {
		respondError(c, err)
		return
	}
	entries, err := s.deliveries.ForRun(id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}
