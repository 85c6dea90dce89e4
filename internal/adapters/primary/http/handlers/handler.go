package handlers

import (
	"gradcam-service/internal/core/services"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	analysisSvc    *services.AnalysisService
	maxUploadBytes int64
	maxImagePixels int64
}

func New(analysisSvc *services.AnalysisService, maxUploadBytes, maxImagePixels int64) *Handler {
	return &Handler{
		analysisSvc:    analysisSvc,
		maxUploadBytes: maxUploadBytes,
		maxImagePixels: maxImagePixels,
	}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	// Grad-CAM
	r.POST("/analyze", h.Analyze)
	r.POST("/analyze/upload", h.AnalyzeUpload)

	// History
	r.GET("/analyses", h.ListAnalyses)
	r.GET("/analyses/:id", h.GetAnalysis)

	// Model
	r.GET("/model", h.GetModel)
}

// RegisterUI serves the upload page at the root.
func (h *Handler) RegisterUI(r gin.IRoutes) {
	r.GET("/", h.Index)
}
