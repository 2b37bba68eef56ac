// Package main is the entry point for the spatialscope server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spatialscope/server/internal/api"
	"github.com/spatialscope/server/internal/cache"
	"github.com/spatialscope/server/internal/config"
	"github.com/spatialscope/server/internal/dataset"
	"github.com/spatialscope/server/internal/render"
	"github.com/spatialscope/server/internal/session"
	"github.com/spatialscope/server/internal/view"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "config/server.yaml", "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	log.Printf("Starting spatialscope server on port %d", cfg.Server.Port)

	// Initialize cache manager (shared across all sessions)
	cacheManager, err := cache.NewManager(cache.Config{
		FrameCacheSizeMB: cfg.Cache.FrameSizeMB,
		FrameTTL:         time.Duration(cfg.Cache.FrameTTLMinutes) * time.Minute,
		RangeCacheSize:   cfg.Cache.RangeCacheSize,
	})
	if err != nil {
		log.Fatalf("Failed to initialize cache: %v", err)
	}
	defer cacheManager.Close()

	// Initialize frame renderer (shared across all sessions)
	renderer := render.NewRenderer(render.Config{
		PointRadiusMin: cfg.Render.PointRadiusMin,
		PointRadiusMax: cfg.Render.PointRadiusMax,
		LODThreshold:   cfg.Render.LODThreshold,
		LODMaxStride:   cfg.Render.LODMaxStride,
		Colormap:       cfg.Render.Colormap,
	})

	sessionCfg := session.Config{
		View: view.Config{
			MinScale:    cfg.Viewer.MinScale,
			MaxScale:    cfg.Viewer.MaxScale,
			FitFraction: cfg.Viewer.FitFraction,
		},
		IndexKind:        cfg.Viewer.IndexKind,
		GridCellSize:     cfg.Viewer.GridCellSize,
		QuadtreeLeafSize: cfg.Viewer.QuadtreeLeafSize,
		QuadtreeMaxDepth: cfg.Viewer.QuadtreeMaxDepth,
		PickMargin:       cfg.Viewer.PickMargin,
	}

	registry := api.NewRegistry(api.RegistryConfig{
		DefaultDataset: cfg.Data.DefaultDataset,
		Title:          cfg.Server.Title,
		SessionConfig:  sessionCfg,
		Renderer:       renderer,
		Caches:         cacheManager,
	})

	datasetIDs := cfg.Data.DatasetIDs()
	log.Printf("Loading %d dataset(s), default: %s", len(datasetIDs), cfg.Data.DefaultDataset)

	for _, datasetID := range datasetIDs {
		path := cfg.Data.Datasets[datasetID]
		ds, err := dataset.Load(path)
		if err != nil {
			log.Fatalf("Failed to load dataset %q: %v", datasetID, err)
		}
		registry.RegisterDataset(datasetID, ds)
		log.Printf("  [%s] Loaded from: %s", datasetID, path)
		log.Printf("    Cells: %d, Channels: %d, Categories: %d",
			len(ds.Entities), ds.Channels.Len(), ds.Categories.Len())
	}

	// Drive the frame schedulers so dirty sessions repaint into the
	// frame cache between requests.
	tickerDone := make(chan struct{})
	ticker := time.NewTicker(50 * time.Millisecond)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				registry.TickAll()
			case <-tickerDone:
				return
			}
		}
	}()

	// Set up HTTP router
	router := api.NewRouter(api.RouterConfig{
		Registry:    registry,
		CORSOrigins: cfg.Server.CORSOrigins,
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Server listening on http://localhost:%d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")
	close(tickerDone)

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}
