package commands

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	apphttp "leadengine/internal/http"
	"leadengine/platform/httpkit"
	"leadengine/platform/logger"
	"leadengine/platform/validator"

	"github.com/gin-gonic/gin"
)

// Handler exposes the command table over HTTP.
type Handler struct {
	table *Table
	val   *validator.Validator
	debug bool
	log   *logger.Logger
}

func NewHandler(table *Table, val *validator.Validator, debug bool, log *logger.Logger) *Handler {
	return &Handler{table: table, val: val, debug: debug, log: log}
}

// CommandInfo describes one available command.
type CommandInfo struct {
	Tag         string `json:"tag"`
	Scope       Scope  `json:"scope"`
	NeedsLead   bool   `json:"needsLead"`
	Description string `json:"description"`
}

// HandleList returns the commands the caller may run.
// GET /api/v1/commands
func (h *Handler) HandleList(c *gin.Context) {
	var out []CommandInfo
	for _, cmd := range h.table.Commands() {
		if !h.allowed(c, cmd) {
			continue
		}
		out = append(out, CommandInfo{Tag: cmd.Tag, Scope: cmd.Scope, NeedsLead: cmd.NeedsLead, Description: cmd.Description})
	}
	httpkit.OK(c, out)
}

// HandleCommand runs one command. The body is optional.
// POST /api/v1/commands/:tag
func (h *Handler) HandleCommand(c *gin.Context) {
	tag := c.Param("tag")
	cmd, ok := h.table.Lookup(tag)
	if !ok {
		httpkit.Error(c, http.StatusNotFound, fmt.Sprintf("unknown command %q", tag), nil)
		return
	}
	if !h.allowed(c, cmd) {
		httpkit.Error(c, http.StatusForbidden, fmt.Sprintf("command %q requires scope %s", tag, cmd.Scope), nil)
		return
	}

	var args Args
	if err := c.ShouldBindJSON(&args); err != nil && !errors.Is(err, io.EOF) {
		httpkit.Error(c, http.StatusBadRequest, "invalid request body", nil)
		return
	}
	if httpkit.HandleError(c, h.val.Struct(args)) {
		return
	}

	res, err := h.table.Execute(c.Request.Context(), tag, args)
	h.log.Info("commands: executed",
		"command", tag,
		"operator", httpkit.Operator(c),
		"lead_id", args.LeadID,
		"ok", err == nil,
	)
	if httpkit.HandleError(c, err) {
		return
	}

	if res.File != nil {
		c.Header("Content-Type", res.File.ContentType)
		c.Header("Content-Disposition", "attachment; filename="+res.File.Name)
		c.Status(http.StatusOK)
		if err := res.File.Write(c.Writer); err != nil {
			h.log.Error("commands: file write failed", "command", tag, "error", err)
		}
		return
	}
	httpkit.OK(c, res.Payload)
}

// allowed enforces the command scope. Debug commands also need the debug
// switch turned on.
func (h *Handler) allowed(c *gin.Context, cmd Command) bool {
	if cmd.Scope == ScopeDebug && !h.debug {
		return false
	}
	return httpkit.HasScope(c, string(cmd.Scope))
}

// Module mounts the command routes on the operator group.
type Module struct {
	handler *Handler
}

func NewModule(table *Table, val *validator.Validator, debug bool, log *logger.Logger) *Module {
	return &Module{handler: NewHandler(table, val, debug, log.WithComponent("commands"))}
}

func (m *Module) Name() string { return "commands" }

func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	group := ctx.Operator.Group("/commands")
	group.GET("", m.handler.HandleList)
	group.POST("/:tag", m.handler.HandleCommand)
}

var _ apphttp.Module = (*Module)(nil)
