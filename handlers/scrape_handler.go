package handlers

import (
	"net/http"

	"billscope-backend/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// ScrapeHandler handles HTTP requests for raw scrape ingestion
type ScrapeHandler struct {
	ingestionService *service.IngestionService
}

// NewScrapeHandler creates a new scrape handler
func NewScrapeHandler(ingestionService *service.IngestionService) *ScrapeHandler {
	return &ScrapeHandler{ingestionService: ingestionService}
}

// IngestScrape handles POST /api/scrapes/:id/ingest
func (h *ScrapeHandler) IngestScrape(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INVALID_ID",
				"message": "Invalid scrape ID format",
			},
		})
		return
	}

	count, err := h.ingestionService.ProcessRawScrape(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INGEST_FAILED",
				"message": err.Error(),
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": gin.H{
			"scrape_id":   id,
			"chunk_count": count,
		},
	})
}
