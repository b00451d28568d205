// Package webhook accepts inbound chat messages over HTTP. It is the
// synchronous twin of the AMQP consumer in multichat.
package webhook

import (
	apphttp "leadengine/internal/http"
	"leadengine/internal/multichat"
	"leadengine/platform/logger"
	"leadengine/platform/validator"
)

// Module is the inbound webhook module implementing http.Module.
type Module struct {
	handler *Handler
	secret  string
}

// NewModule creates the webhook module. An empty secret leaves the endpoint
// unauthenticated, which is only sensible behind a private network.
func NewModule(sink multichat.Submitter, secret string, val *validator.Validator, log *logger.Logger) *Module {
	return &Module{
		handler: NewHandler(sink, val, log.WithComponent("webhook")),
		secret:  secret,
	}
}

func (m *Module) Name() string {
	return "webhook"
}

// RegisterRoutes mounts the inbound endpoint on the public API group.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	group := ctx.V1.Group("/webhook")
	if m.secret != "" {
		group.Use(SharedSecretAuth(m.secret))
	}
	group.POST("/inbound", m.handler.HandleInbound)
}

var _ apphttp.Module = (*Module)(nil)
