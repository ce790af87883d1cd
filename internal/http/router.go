package httpapi

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/reqstat/backend/internal/config"
	"github.com/reqstat/backend/internal/http/handlers"
	"github.com/reqstat/backend/internal/http/middleware"
	"github.com/reqstat/backend/internal/service"

	_ "github.com/reqstat/backend/docs"
)

// Router wires the HTTP API. runs may be nil when no database is configured.
func Router(cfg config.Config, processor *service.ProcessingService, runs handlers.RunStore, logger zerolog.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(logger))
	r.MaxMultipartMemory = cfg.MaxUploadSizeMB << 20

	corsCfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.AdminKeyHeader, middleware.RequestIDHeader},
		ExposeHeaders:    []string{"X-Skipped-Rows", "X-Content-Hash", "X-Cache", middleware.RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if cfg.CORSAllowed == "*" {
		corsCfg.AllowAllOrigins = true
		corsCfg.AllowCredentials = false
	} else {
		corsCfg.AllowOrigins = []string{cfg.CORSAllowed}
	}
	r.Use(cors.New(corsCfg))

	h := &handlers.Handler{
		Processor:         processor,
		Runs:              runs,
		Validator:         validator.New(),
		Logger:            logger,
		SpectrumMaxPoints: cfg.SpectrumMaxPoints,
	}

	r.GET("/healthz", h.Healthz)

	api := r.Group("/api")
	{
		api.POST("/aggregate", middleware.MaxBody(cfg.MaxUploadSizeMB<<20), h.Aggregate)
		api.GET("/spectrum", h.Spectrum)
	}

	admin := api.Group("")
	admin.Use(middleware.AdminKey(cfg.AdminKey))
	{
		admin.GET("/runs", h.RunsList)
		admin.GET("/runs/latest", h.RunsLatest)
	}

	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	return r
}
