package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gradcam-service/internal/adapters/primary/http/handlers"
	"gradcam-service/internal/adapters/primary/http/middleware"
	"gradcam-service/internal/adapters/secondary/history"
	"gradcam-service/internal/adapters/secondary/onnx"
	"gradcam-service/internal/config"
	"gradcam-service/internal/core/domain"
	"gradcam-service/internal/core/gradcam"
	"gradcam-service/internal/core/services"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	initLogger(cfg)

	// ============================================================================
	// Hexagonal Architecture Wiring
	// ============================================================================

	// Model (backbone session + head weights), loaded once and shared
	model, err := onnx.LoadModel(cfg.Model.Dir, cfg.Model.ORTLibrary)
	if err != nil {
		log.Fatalf("load model: %v", err)
	}
	defer onnx.Shutdown()
	defer func() {
		if err := model.Close(); err != nil {
			log.WithError(err).Warn("close model")
		}
	}()
	log.WithFields(log.Fields{
		"name":       model.Info.Name,
		"layer":      model.Info.Layer,
		"image_size": model.Info.ImageSize,
		"classes":    len(model.Info.Classes),
	}).Info("model loaded")

	// Secondary Adapters (Output Ports - Repositories)
	store, err := history.Open(context.Background(), cfg)
	if err != nil {
		log.Fatalf("open history: %v", err)
	}
	defer store.Close()

	// Core Services (Application Layer)
	engine := gradcam.NewEngine(model, gradcam.Options{
		Alpha: cfg.GradCAM.Alpha,
		Score: domain.ScoreMode(cfg.GradCAM.Score),
		TopK:  cfg.GradCAM.TopK,
	})
	analysisSvc := services.NewAnalysisService(engine, store.Repo)

	// Primary Adapter (HTTP Handlers)
	h := handlers.New(analysisSvc, cfg.Server.MaxUploadBytes, cfg.Server.MaxImagePixels)

	// Setup router
	router := gin.New()
	router.MaxMultipartMemory = cfg.Server.MaxUploadBytes
	router.Use(middleware.RequestID(), middleware.Logging(), middleware.CORS(cfg.Server.CORSOrigin), gin.Recovery())

	h.RegisterUI(router)
	api := router.Group("/api/v1/gradcam")
	h.RegisterRoutes(api)

	// Health check with history ping
	router.GET("/healthz", func(c *gin.Context) {
		if err := store.Ping(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "model": model.Info.Name, "history": store.Driver})
	})

	// Start server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Infof("starting server on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.WithError(err).Error("server forced shutdown")
	}

	log.Info("server stopped")
}

func initLogger(cfg *config.Config) {
	level, err := log.ParseLevel(cfg.Logger.Level)
	if err != nil {
		level = log.InfoLevel
	}
	log.SetLevel(level)

	if cfg.Logger.Format == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
}
