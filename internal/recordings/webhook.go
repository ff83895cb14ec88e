package recordings

import (
	"encoding/json"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/aura-webinar/recordings/internal/egress"
	"github.com/aura-webinar/recordings/pkg/clock"
	"github.com/aura-webinar/recordings/pkg/response"
)

const maxWebhookBody = 1 << 20

// WebhookEvent is the body the media engine posts on session changes.
type WebhookEvent struct {
	Event      string       `json:"event" validate:"required"`
	EgressInfo *egress.Info `json:"egressInfo" validate:"required"`
}

// WebhookHandler receives engine webhooks.
type WebhookHandler struct {
	svc      *Service
	secret   string
	maxAge   time.Duration
	clock    clock.Clock
	validate *validator.Validate
	logger   *zap.Logger
}

// NewWebhookHandler creates a webhook handler verifying signatures with secret.
func NewWebhookHandler(svc *Service, secret string, maxAge time.Duration, clk clock.Clock, logger *zap.Logger) *WebhookHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &WebhookHandler{svc: svc, secret: secret, maxAge: maxAge, clock: clk, validate: validator.New(), logger: logger}
}

// Egress handles POST /webhooks/egress.
func (h *WebhookHandler) Egress(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		response.BadRequest(c, "unreadable body")
		return
	}
	err = egress.VerifySignature(h.secret, c.GetHeader(egress.HeaderTimestamp), c.GetHeader(egress.HeaderSignature),
		body, h.clock.Now(), h.maxAge)
	if err != nil {
		h.logger.Warn("rejected engine webhook", zap.String("client_ip", c.ClientIP()), zap.Error(err))
		if errors.Is(err, egress.ErrStaleWebhook) {
			response.Unauthorized(c, "stale webhook")
			return
		}
		response.Unauthorized(c, "invalid signature")
		return
	}

	var event WebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	if err := h.validate.Struct(event); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	if !strings.HasPrefix(event.Event, "egress_") {
		response.OK(c, gin.H{"ignored": event.Event})
		return
	}
	if err := h.svc.HandleEgressUpdate(c.Request.Context(), *event.EgressInfo); err != nil {
		h.logger.Error("engine webhook not applied", zap.String("egress_id", event.EgressInfo.EgressID), zap.Error(err))
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"received": true})
}
