// Package router assembles the gin engine from the registered modules.
package router

import (
	"time"

	apphttp "leadengine/internal/http"
	"leadengine/platform/httpkit"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const (
	apiRate  = rate.Limit(10)
	apiBurst = 30
)

func New(app *apphttp.App) *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(httpkit.RequestLogger(app.Logger))
	engine.Use(httpkit.SecurityHeaders())
	engine.Use(cors.New(corsConfig(app.Config)))

	if app.Metrics != nil {
		engine.GET("/metrics", gin.WrapH(app.Metrics))
	}

	v1 := engine.Group("/api/v1")
	v1.Use(httpkit.NewIPRateLimiter(apiRate, apiBurst, app.Logger).RateLimit())

	operator := v1.Group("")
	operator.Use(httpkit.OperatorRequired(app.Config))

	app.Mount(&apphttp.RouterContext{
		Engine:   engine,
		V1:       v1,
		Operator: operator,
		Config:   app.Config,
	})

	return engine
}

func corsConfig(cfg apphttp.RouterConfig) cors.Config {
	c := cors.Config{
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "X-Webhook-Secret"},
		ExposeHeaders:    []string{"Content-Length", "Content-Disposition"},
		AllowCredentials: !cfg.GetCORSAllowAll(),
		MaxAge:           12 * time.Hour,
	}
	if cfg.GetCORSAllowAll() {
		c.AllowAllOrigins = true
	} else {
		c.AllowOrigins = cfg.GetCORSOrigins()
	}
	return c
}
