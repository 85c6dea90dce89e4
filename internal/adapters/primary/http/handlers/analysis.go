package handlers

import (
	"errors"
	"image"
	"io"
	"net/http"
	"strconv"
	"strings"

	"gradcam-service/internal/adapters/primary/http/dto"
	"gradcam-service/internal/adapters/primary/http/middleware"
	"gradcam-service/internal/core/domain"
	"gradcam-service/internal/core/gradcam"
	ports "gradcam-service/internal/core/ports/output"
	"gradcam-service/internal/core/services"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

const formatPNG = "png"

func (h *Handler) Analyze(c *gin.Context) {
	h.limitBody(c)

	var req dto.AnalyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		if tooLarge(err) {
			mapDomainError(c, domain.ErrImageTooLarge)
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "image is required: send {\"image\": \"<base64 or data uri>\"}"})
		return
	}

	data, err := dto.DecodeImageData(req.Image)
	if err != nil {
		mapDomainError(c, err)
		return
	}

	img, format, err := gradcam.DecodeBytes(data, h.maxImagePixels)
	if err != nil {
		mapDomainError(c, err)
		return
	}

	h.analyze(c, img, req.ClassIndex, req.TopK, domain.Source{
		RequestID: middleware.GetRequestID(c),
		Filename:  req.Filename,
		Format:    format,
	})
}

func (h *Handler) AnalyzeUpload(c *gin.Context) {
	h.limitBody(c)

	fh, err := c.FormFile("image")
	if err != nil {
		if tooLarge(err) {
			mapDomainError(c, domain.ErrImageTooLarge)
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "no image file provided, use 'image' as the form field name"})
		return
	}

	var target *int
	if raw := strings.TrimSpace(c.PostForm("class_index")); raw != "" {
		idx, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid class_index"})
			return
		}
		target = &idx
	}

	topK := 0
	if raw := c.PostForm("top_k"); raw != "" {
		if topK, err = strconv.Atoi(raw); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid top_k"})
			return
		}
	}

	f, err := fh.Open()
	if err != nil {
		log.WithError(err).Error("open uploaded file failed")
		mapDomainError(c, err)
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		mapDomainError(c, err)
		return
	}

	img, format, err := gradcam.DecodeBytes(data, h.maxImagePixels)
	if err != nil {
		mapDomainError(c, err)
		return
	}

	log.WithFields(log.Fields{
		"filename": fh.Filename,
		"size":     fh.Size,
		"format":   format,
		"width":    img.Bounds().Dx(),
		"height":   img.Bounds().Dy(),
	}).Debug("received upload")

	h.analyze(c, img, target, topK, domain.Source{
		RequestID: middleware.GetRequestID(c),
		Filename:  fh.Filename,
		Format:    format,
	})
}

func (h *Handler) analyze(c *gin.Context, img image.Image, target *int, topK int, src domain.Source) {
	res, analysis, err := h.analysisSvc.Analyze(c.Request.Context(), img, target, topK, src)
	if err != nil {
		mapDomainError(c, err)
		return
	}

	overlay, err := gradcam.EncodePNG(res.Overlay)
	if err != nil {
		mapDomainError(c, err)
		return
	}

	if c.Query("format") == formatPNG {
		c.Header("X-Analysis-ID", analysis.ID.String())
		c.Header("X-Class-Index", strconv.Itoa(res.Target.Index))
		c.Data(http.StatusOK, "image/png", overlay)
		return
	}

	c.JSON(http.StatusOK, dto.ToAnalysisResponse(analysis, res, overlay))
}

func (h *Handler) ListAnalyses(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	// Report the page the service actually serves.
	filter := services.PageFilter(ports.ListFilter{
		Label:  c.Query("label"),
		Limit:  limit,
		Offset: offset,
	})

	analyses, total, err := h.analysisSvc.List(c.Request.Context(), filter)
	if err != nil {
		mapDomainError(c, err)
		return
	}

	items := make([]dto.AnalysisRecordResponse, 0, len(analyses))
	for _, a := range analyses {
		items = append(items, dto.ToAnalysisRecordResponse(a))
	}

	c.JSON(http.StatusOK, dto.ListAnalysesResponse{
		Items:      items,
		Total:      total,
		PageSize:   filter.Limit,
		NextOffset: filter.Offset + len(items),
	})
}

func (h *Handler) GetAnalysis(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		mapDomainError(c, domain.ErrInvalidAnalysisID)
		return
	}

	analysis, err := h.analysisSvc.Get(c.Request.Context(), id)
	if err != nil {
		mapDomainError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.ToAnalysisRecordResponse(analysis))
}

func (h *Handler) GetModel(c *gin.Context) {
	info, err := h.analysisSvc.Model()
	if err != nil {
		mapDomainError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.ToModelResponse(info, h.analysisSvc.Classes(), h.analysisSvc.HistoryEnabled()))
}

func (h *Handler) limitBody(c *gin.Context) {
	if h.maxUploadBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes)
	}
}

func tooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return true
	}
	// multipart parsing flattens the reader error
	return strings.Contains(err.Error(), "request body too large")
}
