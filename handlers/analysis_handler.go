package handlers

import (
	"context"
	"log"
	"net/http"

	"billscope-backend/models"
	"billscope-backend/repository"
	"billscope-backend/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// AnalysisHandler handles HTTP requests for analysis pipeline runs
type AnalysisHandler struct {
	analysisService *service.AnalysisService
	runs            *repository.PipelineRunRepository
	steps           *repository.PipelineStepRepository
}

// NewAnalysisHandler creates a new analysis handler
func NewAnalysisHandler(analysisService *service.AnalysisService, runs *repository.PipelineRunRepository, steps *repository.PipelineStepRepository) *AnalysisHandler {
	return &AnalysisHandler{
		analysisService: analysisService,
		runs:            runs,
		steps:           steps,
	}
}

// StartAnalysisRequest represents the request body for starting an analysis
type StartAnalysisRequest struct {
	BillID       string                 `json:"bill_id" binding:"required"`
	BillNumber   string                 `json:"bill_number" binding:"required"`
	BillText     string                 `json:"bill_text" binding:"required"`
	Jurisdiction string                 `json:"jurisdiction" binding:"required"`
	Models       *models.ModelSelection `json:"models"`
}

// defaultModelSelection is used when a request does not pin its own chains.
func defaultModelSelection() models.ModelSelection {
	return models.ModelSelection{
		Research: []models.ModelRef{
			{Model: "gemini-2.5-flash", Provider: "gemini"},
			{Model: "gpt-4o-mini", Provider: "openai"},
		},
		Generate: []models.ModelRef{
			{Model: "gemini-2.5-pro", Provider: "gemini"},
			{Model: "gpt-4o", Provider: "openai"},
			{Model: "claude-sonnet-4-5", Provider: "anthropic"},
		},
		Review: []models.ModelRef{
			{Model: "claude-sonnet-4-5", Provider: "anthropic"},
			{Model: "gpt-4o", Provider: "openai"},
		},
	}
}

// StartAnalysis handles POST /api/analyses. The run record is created
// synchronously so the caller gets an id to poll; the pipeline itself
// executes in the background.
func (h *AnalysisHandler) StartAnalysis(c *gin.Context) {
	var req StartAnalysisRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INVALID_REQUEST",
				"message": err.Error(),
			},
		})
		return
	}

	billID, err := uuid.Parse(req.BillID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INVALID_BILL_ID",
				"message": "Invalid bill_id format",
			},
		})
		return
	}

	selection := defaultModelSelection()
	if req.Models != nil {
		selection = *req.Models
	}

	analyzeReq := service.AnalyzeRequest{
		BillID:       billID,
		BillNumber:   req.BillNumber,
		BillText:     req.BillText,
		Jurisdiction: req.Jurisdiction,
		Models:       selection,
	}

	run, err := h.analysisService.StartAnalysis(c.Request.Context(), analyzeReq)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "START_FAILED",
				"message": err.Error(),
			},
		})
		return
	}

	// Detached from the request context: the pipeline outlives the HTTP
	// round trip.
	go func() {
		if _, err := h.analysisService.Execute(context.Background(), run.ID, analyzeReq); err != nil {
			log.Printf("Warning: pipeline run %s failed: %v", run.ID, err)
		}
	}()

	c.JSON(http.StatusAccepted, gin.H{
		"success": true,
		"data": gin.H{
			"run_id": run.ID,
			"status": run.Status,
		},
	})
}

// GetAnalysis handles GET /api/analyses/:id
func (h *AnalysisHandler) GetAnalysis(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INVALID_ID",
				"message": "Invalid run ID format",
			},
		})
		return
	}

	run, err := h.runs.GetByID(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "NOT_FOUND",
				"message": "Pipeline run not found",
			},
		})
		return
	}

	steps, err := h.steps.GetByRunID(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "STEPS_FAILED",
				"message": err.Error(),
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": gin.H{
			"run":   run,
			"steps": steps,
		},
	})
}
