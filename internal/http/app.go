// Package http defines what the router needs from the composition root: the
// App bundle and the Module contract each HTTP surface implements.
package http

import (
	"net/http"

	"leadengine/platform/config"
	"leadengine/platform/logger"

	"github.com/gin-gonic/gin"
)

type RouterConfig interface {
	config.HTTPConfig
	config.JWTConfig
}

// App is assembled in cmd/agent and handed to router.New.
type App struct {
	Config  RouterConfig
	Logger  *logger.Logger
	Metrics http.Handler // nil leaves /metrics unmounted
	Modules []Module
}

// Module is one HTTP surface: the inbound webhook, operator commands or
// health.
type Module interface {
	Name() string
	RegisterRoutes(ctx *RouterContext)
}

// RouterContext is what a module may mount on. V1 is rate limited and
// Operator additionally requires an operator token.
type RouterContext struct {
	Engine   *gin.Engine
	V1       *gin.RouterGroup
	Operator *gin.RouterGroup
	Config   config.JWTConfig
}

// Mount registers every module on ctx in order.
func (a *App) Mount(ctx *RouterContext) {
	for _, m := range a.Modules {
		m.RegisterRoutes(ctx)
		a.Logger.Debug("http: module registered", "module", m.Name())
	}
}
