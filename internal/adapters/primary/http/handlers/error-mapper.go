package handlers

import (
	"errors"
	"net/http"

	"gradcam-service/internal/core/domain"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

func mapDomainError(c *gin.Context, err error) {
	switch {
	// Not found errors
	case errors.Is(err, domain.ErrAnalysisNotFound),
		errors.Is(err, domain.ErrHistoryDisabled):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})

	// Conflict errors
	case errors.Is(err, domain.ErrAnalysisConflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})

	// Bad request / validation errors
	case errors.Is(err, domain.ErrEmptyImage),
		errors.Is(err, domain.ErrUnsupportedImage),
		errors.Is(err, domain.ErrInvalidEncoding),
		errors.Is(err, domain.ErrClassIndexOutOfRange),
		errors.Is(err, domain.ErrInvalidTopK),
		errors.Is(err, domain.ErrInvalidAnalysisID):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})

	case errors.Is(err, domain.ErrImageTooLarge):
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": err.Error()})

	// Service unavailable errors
	case errors.Is(err, domain.ErrModelNotLoaded):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})

	default:
		log.WithError(err).WithField("path", c.Request.URL.Path).Error("request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
