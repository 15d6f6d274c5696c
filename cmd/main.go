package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"glata-widget/internal/config"
	"glata-widget/internal/handler"
	"glata-widget/pkg/logger"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "./configs/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Printf("config %s not loaded (%v), using defaults", configPath, err)
		cfg = config.Default()
	}

	if err := logger.Init(cfg.Log.Level, cfg.Log.Format); err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}

	stub := handler.NewAssistantStub(cfg.DevServer)
	router := setupRouter(cfg, stub)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.DevServer.Port),
		Handler: router,
	}

	go func() {
		logger.Infof("dev assistant stub listening on port %d", cfg.DevServer.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down...")
	if err := server.Close(); err != nil {
		logger.Errorf("server close: %v", err)
	}
	logger.Info("stopped")
}

func setupRouter(cfg *config.Config, stub *handler.AssistantStub) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())

	router.Use(cors.New(cors.Config{
		AllowOrigins: cfg.DevServer.AllowedOrigins,
		AllowMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept", "Authorization"},
		MaxAge:       12 * time.Hour,
	}))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"timestamp": time.Now().Unix(),
		})
	})

	stub.Register(router.Group("/api"))

	return router
}
