package webhook

import (
	"net/http"
	"time"

	"leadengine/internal/multichat"
	"leadengine/platform/httpkit"
	"leadengine/platform/logger"
	"leadengine/platform/validator"

	"github.com/gin-gonic/gin"
)

const errInvalidRequest = "invalid request body"

// Handler accepts inbound chat messages posted by the gateway.
type Handler struct {
	sink multichat.Submitter
	val  *validator.Validator
	log  *logger.Logger
	now  func() time.Time
}

func NewHandler(sink multichat.Submitter, val *validator.Validator, log *logger.Logger) *Handler {
	return &Handler{sink: sink, val: val, log: log, now: time.Now}
}

// AcceptedResponse acknowledges a queued inbound message.
type AcceptedResponse struct {
	EventID string `json:"eventId"`
	Status  string `json:"status"`
}

// HandleInbound queues one inbound message for the engine.
// POST /api/v1/webhook/inbound
func (h *Handler) HandleInbound(c *gin.Context) {
	var msg multichat.Message
	if err := c.ShouldBindJSON(&msg); err != nil {
		httpkit.Error(c, http.StatusBadRequest, errInvalidRequest, nil)
		return
	}
	if httpkit.HandleError(c, h.val.Struct(msg)) {
		return
	}

	ev, err := msg.Event(h.now())
	if httpkit.HandleError(c, err) {
		return
	}
	if err := h.sink.Submit(ev); err != nil {
		ctx := logger.ContextWithLead(c.Request.Context(), ev.LeadID, ev.ID)
		h.log.WithContext(ctx).Warn("webhook: inbound message rejected", "error", err)
		httpkit.HandleError(c, err)
		return
	}

	httpkit.JSON(c, http.StatusAccepted, AcceptedResponse{EventID: ev.ID, Status: "accepted"})
}
