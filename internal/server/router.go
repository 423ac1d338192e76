package server

import (
	"slices"

	"github.com/abduss/bucketsvc/internal/auth"
	"github.com/abduss/bucketsvc/internal/blob"
	"github.com/abduss/bucketsvc/internal/bucket"
	"github.com/abduss/bucketsvc/internal/config"
	"github.com/abduss/bucketsvc/internal/file"
	"github.com/abduss/bucketsvc/internal/logger"
	"github.com/abduss/bucketsvc/internal/metrics"
	"github.com/abduss/bucketsvc/internal/quota"
	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
)

// File bodies are streamed with their stored length and are not compressed.
const downloadPathPattern = `^/v1/buckets/[^/]+/files/.+`

// Dependencies groups the services required by the HTTP router.
type Dependencies struct {
	Config        config.Config
	DB            Pinger
	Blobs         blob.Store
	AuthService   *auth.Service
	BucketService *bucket.Service
	FileService   *file.Service
	Ledger        *quota.Ledger
}

// NewRouter builds a Gin engine with foundational middleware and routes.
func NewRouter(deps Dependencies) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(logger.Middleware())
	router.Use(metrics.Middleware())
	router.Use(corsMiddleware(deps.Config.Server))
	router.Use(gzip.Gzip(gzip.DefaultCompression,
		gzip.WithExcludedPaths([]string{deps.Config.Metrics.PrometheusPath}),
		gzip.WithExcludedPathsRegexs([]string{downloadPathPattern}),
	))

	if deps.FileService != nil {
		router.MaxMultipartMemory = deps.FileService.MaxUploadSize()
	}

	registerHealthRoutes(router, deps)
	metrics.Register(router, deps.Config.Metrics.PrometheusPath)

	api := router.Group("/v1")
	if deps.AuthService != nil {
		auth.RegisterRoutes(api, deps.AuthService)

		protected := api.Group("/")
		protected.Use(auth.AuthMiddleware(deps.AuthService))
		auth.RegisterSessionRoutes(protected, deps.AuthService)

		if deps.BucketService != nil {
			bucket.RegisterRoutes(protected, deps.BucketService)
		}
		if deps.FileService != nil {
			file.RegisterRoutes(protected, deps.FileService)
		}
		if deps.Ledger != nil {
			quota.RegisterRoutes(protected, deps.Ledger)
		}
	}

	return router
}

func corsMiddleware(cfg config.ServerConfig) gin.HandlerFunc {
	corsCfg := cors.DefaultConfig()
	corsCfg.AllowHeaders = append(corsCfg.AllowHeaders, "Authorization", logger.CorrelationIDHeader)
	corsCfg.ExposeHeaders = []string{logger.CorrelationIDHeader, "Content-Disposition"}
	if len(cfg.CORSOrigins) == 0 || slices.Contains(cfg.CORSOrigins, "*") {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = cfg.CORSOrigins
	}
	return cors.New(corsCfg)
}
