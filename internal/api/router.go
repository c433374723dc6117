// Package api gin 路由注册
package api

import (
	"net/http"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	sentrygin "github.com/getsentry/sentry-go/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/d60-Lab/postcard-capsule/config"
	"github.com/d60-Lab/postcard-capsule/internal/api/handler"
	"github.com/d60-Lab/postcard-capsule/internal/api/middleware"
)

func NewRouter(cfg *config.Config, h *handler.Handler) (*gin.Engine, error) {
	auth, err := middleware.JWTAuth(cfg.JWT.Secret, cfg.JWT.Issuer)
	if err != nil {
		return nil, err
	}
	gin.SetMode(cfg.Server.Mode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(sentrygin.New(sentrygin.Options{Repanic: true}))
	if cfg.Tracing.Enabled {
		r.Use(otelgin.Middleware(cfg.Tracing.ServiceName))
	}
	r.Use(middleware.RequestLogger())
	r.Use(gzip.Gzip(gzip.DefaultCompression))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	v1 := r.Group("/api/v1", auth)
	{
		postcards := v1.Group("/postcards")
		postcards.POST("", h.CreatePostcard)
		postcards.POST("/drafts", h.SaveDraft)
		postcards.GET("/drafts", h.ListDrafts)
		postcards.POST("/drafts/:id/publish", h.PublishDraft)
		postcards.GET("/received", h.ListReceived)
		postcards.GET("/sent", h.ListSent)
		postcards.POST("/geo-check",
			middleware.PerUserRateLimit(cfg.RateLimit.GeoCheckPerMinute, cfg.RateLimit.GeoCheckBurst),
			h.GeoCheck)
		postcards.GET("/:id", h.GetPostcard)

		relations := v1.Group("/relations")
		relations.POST("/follow", h.Follow)
		relations.POST("/unfollow", h.Unfollow)
		relations.GET("/following", h.ListFollowing)
	}

	return r, nil
}
